package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/forgeops/engine/internal/api"
	"github.com/forgeops/engine/internal/api/handlers"
	"github.com/forgeops/engine/internal/cluster"
	"github.com/forgeops/engine/internal/gitprovider"
	"github.com/forgeops/engine/internal/repository"
	"github.com/forgeops/engine/internal/services"
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

	log.Info("starting ForgeOps engine API",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
	)

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	log.Info("database connected")

	redisClient, err := database.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("redis connected")

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer asynqClient.Close()

	jwtSecret := []byte(cfg.JWTSecret)
	if len(jwtSecret) == 0 {
		log.Warn("JWT_SECRET not set, using default (INSECURE for production)")
		jwtSecret = []byte("change-me-in-production-please")
	}

	userRepo := repository.NewUserRepository(db)
	oauthRepo := repository.NewOAuthAccountRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	envRepo := repository.NewEnvironmentRepository(db)
	deployRepo := repository.NewDeploymentRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	memberRepo := repository.NewMemberRepository(db)
	repoRepo := repository.NewRepoRepository(db)
	gitopsRepo := repository.NewGitOpsRepository(db)

	applier, err := cluster.New(cfg.Kubeconfig)
	if err != nil {
		log.Warn("cluster access unavailable, deployments will not touch the cluster", zap.Error(err))
		applier = cluster.NewNoop()
	}

	gateway := gitprovider.New(gitprovider.Options{
		GitHubBaseURL: cfg.GitHubBaseURL,
		GitLabBaseURL: cfg.GitLabBaseURL,
	})

	authSvc := services.NewAuthService(userRepo, oauthRepo, gateway, jwtSecret)
	provisioningSvc := services.NewProvisioningService(asynqClient)
	projectSvc := services.NewProjectService(db, projectRepo, envRepo, memberRepo, provisioningSvc)
	deploymentSvc := services.NewDeploymentService(db, projectRepo, envRepo, deployRepo,
		approvalRepo, memberRepo, repoRepo, gitopsRepo, applier)

	router := api.NewRouter(api.Dependencies{
		DB:                 db,
		HMACSecret:         jwtSecret,
		AuthHandler:        handlers.NewAuthHandler(authSvc),
		ProjectsHandler:    handlers.NewProjectsHandler(projectSvc),
		DeploymentsHandler: handlers.NewDeploymentsHandler(deploymentSvc),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}
