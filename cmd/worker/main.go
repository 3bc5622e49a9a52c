package main

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/forgeops/engine/internal/credentials"
	"github.com/forgeops/engine/internal/gitprovider"
	"github.com/forgeops/engine/internal/queue/tasks"
	"github.com/forgeops/engine/internal/repository"
	"github.com/forgeops/engine/pkg/config"
	"github.com/forgeops/engine/pkg/database"
	"github.com/forgeops/engine/pkg/logger"
)

func main() {
	cfg := config.MustLoad()

	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("starting ForgeOps provisioning worker",
		zap.String("env", cfg.AppEnv),
		zap.Int("concurrency", cfg.AsynqConcurrency),
	)

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	log.Info("database connected")

	// fail fast on a bad redis config rather than inside asynq
	redisClient, err := database.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("redis connected")

	resolver := credentials.NewResolver(repository.NewOAuthAccountRepository(db))
	gateway := gitprovider.New(gitprovider.Options{
		GitHubBaseURL: cfg.GitHubBaseURL,
		GitLabBaseURL: cfg.GitLabBaseURL,
	})

	handler := tasks.NewProvisionTaskHandler(
		resolver,
		gateway,
		repository.NewProjectRepository(db),
		repository.NewRepoRepository(db),
		repository.NewEnvironmentRepository(db),
		repository.NewGitOpsRepository(db),
		tasks.NewInflightRegistry(),
		rate.NewLimiter(rate.Limit(cfg.ProvisionRate), cfg.ProvisionBurst),
	)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
			Logger:      asynqZapLogger{log},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeProjectProvision, handler.HandleProvision)

	if err := srv.Run(mux); err != nil {
		log.Fatal("worker stopped", zap.Error(err))
	}
}

// asynqZapLogger adapts zap to asynq's logger interface.
type asynqZapLogger struct {
	log *zap.Logger
}

func (l asynqZapLogger) Debug(args ...interface{}) { l.log.Sugar().Debug(args...) }
func (l asynqZapLogger) Info(args ...interface{})  { l.log.Sugar().Info(args...) }
func (l asynqZapLogger) Warn(args ...interface{})  { l.log.Sugar().Warn(args...) }
func (l asynqZapLogger) Error(args ...interface{}) { l.log.Sugar().Error(args...) }
func (l asynqZapLogger) Fatal(args ...interface{}) { l.log.Sugar().Fatal(args...) }
