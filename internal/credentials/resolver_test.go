package credentials

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/forgeops/engine/internal/models"
	"github.com/forgeops/engine/internal/repository"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/forgeops/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init("error", "console")
	os.Exit(m.Run())
}

func setupResolver(t *testing.T) (Resolver, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OAuthAccount{}))
	t.Cleanup(func() {
		db.Exec("DELETE FROM oauth_accounts")
	})
	return NewResolver(repository.NewOAuthAccountRepository(db)), db
}

func TestResolvePassThrough(t *testing.T) {
	r, _ := setupResolver(t)
	token, err := r.Resolve(context.Background(), uuid.New(), "github", "ghp_inline")
	require.NoError(t, err)
	require.Equal(t, "ghp_inline", token)
}

func TestResolveSentinelUsesStoredToken(t *testing.T) {
	r, db := setupResolver(t)
	userID := uuid.New()
	require.NoError(t, db.Create(&models.OAuthAccount{
		UserID:      userID,
		Provider:    "github",
		AccessToken: "gho_stored",
		Status:      models.OAuthStatusActive,
	}).Error)

	token, err := r.Resolve(context.Background(), userID, "github", OAuthSentinel)
	require.NoError(t, err)
	require.Equal(t, "gho_stored", token)
}

func TestResolveSentinelMissingConnection(t *testing.T) {
	r, _ := setupResolver(t)
	_, err := r.Resolve(context.Background(), uuid.New(), "gitlab", OAuthSentinel)
	require.Error(t, err)
	require.Equal(t, appErr.CodeCredentialMissing, appErr.CodeOf(err))
}

func TestResolveSentinelRevokedConnection(t *testing.T) {
	r, db := setupResolver(t)
	userID := uuid.New()
	require.NoError(t, db.Create(&models.OAuthAccount{
		UserID:      userID,
		Provider:    "github",
		AccessToken: "gho_stored",
		Status:      models.OAuthStatusRevoked,
	}).Error)

	_, err := r.Resolve(context.Background(), userID, "github", OAuthSentinel)
	require.Error(t, err)
	require.Equal(t, appErr.CodeCredentialInvalid, appErr.CodeOf(err))
}

func TestResolveSentinelEmptyToken(t *testing.T) {
	r, db := setupResolver(t)
	userID := uuid.New()
	require.NoError(t, db.Create(&models.OAuthAccount{
		UserID:   userID,
		Provider: "github",
		Status:   models.OAuthStatusActive,
	}).Error)

	_, err := r.Resolve(context.Background(), userID, "github", OAuthSentinel)
	require.Error(t, err)
	require.Equal(t, appErr.CodeCredentialInvalid, appErr.CodeOf(err))
}
