package services

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/forgeops/engine/internal/gitprovider"
	"github.com/forgeops/engine/internal/models"
	"github.com/forgeops/engine/internal/repository"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/forgeops/engine/pkg/logger"
)

type AuthService interface {
	Register(ctx context.Context, email, password, name string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, *models.User, error)

	// ConnectProvider stores or refreshes the user's Git provider token.
	ConnectProvider(ctx context.Context, userID uuid.UUID, provider, accessToken string) error
	RevokeProvider(ctx context.Context, userID uuid.UUID, provider string) error
}

type authService struct {
	userRepo   repository.UserRepository
	oauthRepo  repository.OAuthAccountRepository
	gateway    gitprovider.Gateway
	hmacSecret []byte
}

var _ AuthService = (*authService)(nil)

func NewAuthService(userRepo repository.UserRepository, oauthRepo repository.OAuthAccountRepository, gateway gitprovider.Gateway, secret []byte) AuthService {
	return &authService{userRepo: userRepo, oauthRepo: oauthRepo, gateway: gateway, hmacSecret: secret}
}

func (s *authService) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	ph, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "hash password failed")
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(ph),
		Name:         name,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	logger.L().Info("user registered", zap.String("user_id", user.ID.String()))
	return user, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	var user models.User
	if err := s.userRepo.GetByEmail(ctx, email, &user); err != nil {
		return "", nil, appErr.New(appErr.CodeForbidden, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, appErr.New(appErr.CodeForbidden, "invalid credentials")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user.ID.String(),
		"exp": time.Now().Add(24 * time.Hour).Unix(),
	})
	tokenString, err := token.SignedString(s.hmacSecret)
	if err != nil {
		return "", nil, appErr.Wrap(err, appErr.CodeInternal, "sign token failed")
	}
	return tokenString, &user, nil
}

func (s *authService) ConnectProvider(ctx context.Context, userID uuid.UUID, provider, accessToken string) error {
	// reject dead tokens at connect time instead of mid-provisioning
	login, err := s.gateway.GetUser(ctx, provider, accessToken)
	if err != nil {
		return err
	}
	logger.L().Info("provider token verified",
		zap.String("provider", provider),
		zap.String("login", login))

	var existing models.OAuthAccount
	err = s.oauthRepo.GetByUserProvider(ctx, userID, provider, &existing)
	switch {
	case err == nil:
		existing.AccessToken = accessToken
		existing.Status = models.OAuthStatusActive
		if err := s.oauthRepo.Update(ctx, &existing); err != nil {
			return err
		}
	case appErr.IsCode(err, appErr.CodeNotFound):
		acct := &models.OAuthAccount{
			UserID:      userID,
			Provider:    provider,
			AccessToken: accessToken,
			Status:      models.OAuthStatusActive,
		}
		if err := s.oauthRepo.Create(ctx, acct); err != nil {
			return err
		}
	default:
		return err
	}

	logger.L().Info("provider connected",
		zap.String("user_id", userID.String()),
		zap.String("provider", provider))
	return nil
}

func (s *authService) RevokeProvider(ctx context.Context, userID uuid.UUID, provider string) error {
	var acct models.OAuthAccount
	if err := s.oauthRepo.GetByUserProvider(ctx, userID, provider, &acct); err != nil {
		return err
	}
	acct.AccessToken = ""
	acct.Status = models.OAuthStatusRevoked
	if err := s.oauthRepo.Update(ctx, &acct); err != nil {
		return err
	}
	logger.L().Info("provider revoked",
		zap.String("user_id", userID.String()),
		zap.String("provider", provider))
	return nil
}
