package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/forgeops/engine/internal/models"
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

	db, err := database.OpenPostgres(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.OAuthAccount{},
		&models.Organization{},
		&models.OrganizationMember{},
		&models.Project{},
		&models.Environment{},
		&models.Repository{},
		&models.Deployment{},
		&models.DeploymentApproval{},
		&models.GitOpsResource{},
	)
	if err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	log.Info("migrations applied")
}
