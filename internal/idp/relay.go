package idp

import (
	"context"
	"errors"
	"time"

	"github.com/dgellow/prima-front/internal/log"
)

// Relay exchanges credentials for tokens through a single Provider.
// Every call is one outbound request; nothing is retried.
type Relay struct {
	provider Provider
	timeout  time.Duration
}

// NewRelay creates a relay bounding each provider call by timeout
func NewRelay(provider Provider, timeout time.Duration) *Relay {
	return &Relay{provider: provider, timeout: timeout}
}

// ProviderType returns the type of the underlying provider
func (r *Relay) ProviderType() string {
	return r.provider.Type()
}

// Login validates the input, checks the provider configuration and then
// relays the credentials. Failures are always *Error.
func (r *Relay) Login(ctx context.Context, creds Credentials) (*Grant, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := r.provider.CheckConfig(); err != nil {
		log.LogErrorWithFields("relay", "Identity provider misconfigured", map[string]any{
			"provider": r.provider.Type(),
			"error":    err.Error(),
		})
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	grant, err := r.provider.PasswordGrant(ctx, creds)
	if err != nil {
		rerr := AsError(err)
		log.LogInfoWithFields("relay", "Login rejected", map[string]any{
			"provider": r.provider.Type(),
			"username": creds.Username,
			"kind":     string(rerr.Kind),
			"reason":   rerr.Reason,
		})
		return nil, rerr
	}
	if grant.AccessToken == "" {
		return nil, malformedResponse(errors.New("provider returned no access token"))
	}

	log.LogInfoWithFields("relay", "Login succeeded", map[string]any{
		"provider": r.provider.Type(),
		"username": grant.Username,
		"subject":  grant.SubjectID,
	})
	return grant, nil
}

// Refresh renews a grant with its refresh token
func (r *Relay) Refresh(ctx context.Context, grant Grant) (*Grant, error) {
	if grant.RefreshToken == "" {
		return nil, invalidCredentials("", "Session cannot be renewed", errors.New("no refresh token"))
	}
	if err := r.provider.CheckConfig(); err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	refreshed, err := r.provider.RefreshGrant(ctx, grant)
	if err != nil {
		rerr := AsError(err)
		log.LogWarnWithFields("relay", "Token refresh failed", map[string]any{
			"provider": r.provider.Type(),
			"username": grant.Username,
			"kind":     string(rerr.Kind),
			"reason":   rerr.Reason,
		})
		if rerr.Cause != nil {
			log.LogDebugWithFields("relay", "Token refresh failure cause", map[string]any{
				"provider": r.provider.Type(),
				"error":    rerr.Cause.Error(),
			})
		}
		return nil, rerr
	}
	if refreshed.AccessToken == "" {
		return nil, malformedResponse(errors.New("provider returned no access token"))
	}

	log.LogDebugWithFields("relay", "Token refreshed", map[string]any{
		"provider": r.provider.Type(),
		"username": refreshed.Username,
		"expiry":   refreshed.Expiry,
	})
	return refreshed, nil
}

func (r *Relay) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}
