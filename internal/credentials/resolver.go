// Package credentials resolves the Git provider token to use for a request.
// Callers either supply an explicit token or the OAuthSentinel value, which
// delegates to the user's stored OAuth connection.
package credentials

import (
	"context"

	"github.com/google/uuid"

	"github.com/forgeops/engine/internal/models"
	"github.com/forgeops/engine/internal/repository"
	appErr "github.com/forgeops/engine/pkg/errors"
)

// OAuthSentinel is the literal token value that requests the user's stored
// OAuth credential instead of an inline token.
const OAuthSentinel = "__USE_OAUTH__"

type Resolver interface {
	// Resolve returns the token to authenticate against the provider with.
	// A non-sentinel input passes through untouched.
	Resolve(ctx context.Context, userID uuid.UUID, provider, token string) (string, error)
}

type resolver struct {
	accounts repository.OAuthAccountRepository
}

var _ Resolver = (*resolver)(nil)

func NewResolver(accounts repository.OAuthAccountRepository) Resolver {
	return &resolver{accounts: accounts}
}

func (r *resolver) Resolve(ctx context.Context, userID uuid.UUID, provider, token string) (string, error) {
	if token != OAuthSentinel {
		return token, nil
	}

	var account models.OAuthAccount
	if err := r.accounts.GetByUserProvider(ctx, userID, provider, &account); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return "", appErr.Newf(appErr.CodeCredentialMissing,
				"no %s connection for user, connect the account first", provider)
		}
		return "", err
	}

	if account.Status != models.OAuthStatusActive {
		return "", appErr.Newf(appErr.CodeCredentialInvalid,
			"%s connection is %s, reconnect the account", provider, account.Status)
	}
	if account.AccessToken == "" {
		return "", appErr.Newf(appErr.CodeCredentialInvalid,
			"%s connection has no usable token, reconnect the account", provider)
	}
	return account.AccessToken, nil
}
