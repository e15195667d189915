package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dgellow/prima-front/internal/cookie"
	"github.com/dgellow/prima-front/internal/crypto"
	"github.com/dgellow/prima-front/internal/idp"
	"github.com/dgellow/prima-front/internal/log"
	"github.com/dgellow/prima-front/internal/storage"
)

// ErrNoSession means the request carries no usable session
var ErrNoSession = errors.New("no active session")

// touchInterval limits how often LastSeen is written back to storage
const touchInterval = time.Minute

// Refresher renews provider tokens. *idp.Relay satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, grant idp.Grant) (*idp.Grant, error)
}

// Config controls session lifetime and token renewal
type Config struct {
	SigningKey       []byte
	TTL              time.Duration
	RefreshThreshold time.Duration
}

// Manager issues, loads and renews browser sessions. The cookie holds a
// signed handle; the record with the tokens stays in storage.
type Manager struct {
	store            storage.Storage
	refresher        Refresher
	signer           crypto.TokenSigner
	ttl              time.Duration
	refreshThreshold time.Duration
	group            singleflight.Group
	now              func() time.Time
}

type handle struct {
	SID string `json:"sid"`
}

// NewManager creates a session manager
func NewManager(store storage.Storage, refresher Refresher, cfg Config) *Manager {
	return &Manager{
		store:            store,
		refresher:        refresher,
		signer:           crypto.NewTokenSigner(cfg.SigningKey, cfg.TTL),
		ttl:              cfg.TTL,
		refreshThreshold: cfg.RefreshThreshold,
		now:              time.Now,
	}
}

// TTL is the lifetime of a newly issued session
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue stores a fresh session for grant and sets the session cookie.
// Every call creates a new session ID.
func (m *Manager) Issue(ctx context.Context, w http.ResponseWriter, grant *idp.Grant) (*storage.Session, error) {
	if grant == nil || grant.AccessToken == "" {
		return nil, fmt.Errorf("grant has no access token")
	}

	id, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	now := m.now()
	sess := &storage.Session{
		ID:           id,
		Provider:     grant.Provider,
		SubjectID:    grant.SubjectID,
		Username:     grant.Username,
		Name:         grant.Name,
		Email:        grant.Email,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		IDToken:      grant.IDToken,
		TokenExpiry:  grant.Expiry,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
		LastSeen:     now,
	}

	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	value, err := m.signer.Sign(handle{SID: id})
	if err != nil {
		_ = m.store.DeleteSession(ctx, id)
		return nil, fmt.Errorf("signing session cookie: %w", err)
	}
	cookie.SetSession(w, value, m.ttl)

	log.LogInfoWithFields("session", "Session issued", map[string]any{
		"username": sess.Username,
		"provider": sess.Provider,
		"expires":  sess.ExpiresAt,
	})
	return sess, nil
}

// Load returns the session referenced by the request cookie.
// Missing, forged, unknown and expired sessions all yield ErrNoSession.
func (m *Manager) Load(r *http.Request) (*storage.Session, error) {
	value, err := cookie.GetSession(r)
	if err != nil || value == "" {
		return nil, ErrNoSession
	}

	var h handle
	if err := m.signer.Verify(value, &h); err != nil {
		log.LogDebugWithFields("session", "Rejected session cookie", map[string]any{
			"error": err.Error(),
		})
		return nil, ErrNoSession
	}

	ctx := r.Context()
	sess, err := m.store.GetSession(ctx, h.SID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	now := m.now()
	if sess.Expired(now) {
		if err := m.store.DeleteSession(ctx, sess.ID); err != nil {
			log.LogWarnWithFields("session", "Failed to delete expired session", map[string]any{
				"error": err.Error(),
			})
		}
		return nil, ErrNoSession
	}

	if now.Sub(sess.LastSeen) >= touchInterval {
		if err := m.store.TouchSession(ctx, sess.ID, now); err != nil {
			log.LogDebugWithFields("session", "Failed to touch session", map[string]any{
				"error": err.Error(),
			})
		} else {
			sess.LastSeen = now
		}
	}

	return sess, nil
}

// NeedsRefresh reports whether the access token expires within the refresh threshold
func (m *Manager) NeedsRefresh(sess *storage.Session) bool {
	if sess.TokenExpiry.IsZero() {
		return false
	}
	return sess.TokenExpiry.Sub(m.now()) <= m.refreshThreshold
}

// EnsureFresh applies the renewal policy before the session's token is used.
// A failed refresh keeps the session while its token is still valid; once the
// token has expired the session is dropped and ErrNoSession returned.
func (m *Manager) EnsureFresh(ctx context.Context, sess *storage.Session) (*storage.Session, error) {
	if !m.NeedsRefresh(sess) {
		return sess, nil
	}

	if sess.RefreshToken == "" {
		if sess.TokenExpired(m.now()) {
			m.drop(ctx, sess, "token expired without refresh token")
			return nil, ErrNoSession
		}
		return sess, nil
	}

	refreshed, err := m.refresh(ctx, sess)
	if err == nil {
		return refreshed, nil
	}

	if sess.TokenExpired(m.now()) {
		m.drop(ctx, sess, "token expired and refresh failed")
		return nil, ErrNoSession
	}
	fields := refreshFailureFields(err)
	fields["username"] = sess.Username
	fields["expiry"] = sess.TokenExpiry
	log.LogWarnWithFields("session", "Token refresh failed, keeping current token", fields)
	log.LogDebugWithFields("session", "Token refresh failure cause", map[string]any{
		"username": sess.Username,
		"error":    err.Error(),
	})
	return sess, nil
}

// refreshFailureFields describes a refresh failure for logs above debug
// level. Provider errors contribute only their kind and reason: the wrapped
// cause can embed the raw token endpoint response.
func refreshFailureFields(err error) map[string]any {
	var rerr *idp.Error
	if errors.As(err, &rerr) {
		return map[string]any{
			"kind":   string(rerr.Kind),
			"reason": rerr.Reason,
		}
	}
	return map[string]any{"error": err.Error()}
}

// Renew refreshes the session's tokens unconditionally. A rejected refresh
// token ends the session.
func (m *Manager) Renew(ctx context.Context, sess *storage.Session) (*storage.Session, error) {
	if sess.RefreshToken == "" {
		return nil, &idp.Error{
			Kind:    idp.KindInvalidCredentials,
			Message: "Session cannot be renewed",
		}
	}

	refreshed, err := m.refresh(ctx, sess)
	if err != nil {
		if idp.IsKind(err, idp.KindInvalidCredentials) {
			m.drop(ctx, sess, "refresh token rejected")
		}
		return nil, err
	}
	return refreshed, nil
}

// refresh runs at most one provider refresh per session at a time.
// Concurrent callers share the result.
func (m *Manager) refresh(ctx context.Context, sess *storage.Session) (*storage.Session, error) {
	// The shared call must not die with whichever request started it.
	ctx = context.WithoutCancel(ctx)

	v, err, shared := m.group.Do(sess.ID, func() (any, error) {
		grant, err := m.refresher.Refresh(ctx, idp.Grant{
			Provider:     sess.Provider,
			SubjectID:    sess.SubjectID,
			Username:     sess.Username,
			Name:         sess.Name,
			Email:        sess.Email,
			AccessToken:  sess.AccessToken,
			RefreshToken: sess.RefreshToken,
			IDToken:      sess.IDToken,
			Expiry:       sess.TokenExpiry,
		})
		if err != nil {
			return nil, err
		}

		updated := *sess
		updated.AccessToken = grant.AccessToken
		updated.RefreshToken = grant.RefreshToken
		updated.IDToken = grant.IDToken
		updated.TokenExpiry = grant.Expiry
		if grant.SubjectID != "" {
			updated.SubjectID = grant.SubjectID
		}
		if grant.Name != "" {
			updated.Name = grant.Name
		}
		if grant.Email != "" {
			updated.Email = grant.Email
		}
		updated.LastSeen = m.now()

		if err := m.store.UpdateSession(ctx, &updated); err != nil {
			return nil, fmt.Errorf("saving refreshed session: %w", err)
		}

		log.LogDebugWithFields("session", "Session tokens refreshed", map[string]any{
			"username": updated.Username,
			"expiry":   updated.TokenExpiry,
		})
		return &updated, nil
	})
	if err != nil {
		return nil, err
	}

	out := *v.(*storage.Session)
	if shared {
		log.LogTraceWithFields("session", "Shared in-flight refresh", map[string]any{
			"username": out.Username,
		})
	}
	return &out, nil
}

// Destroy deletes the request's session, if any, and clears the cookie
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	defer cookie.ClearSession(w)

	value, err := cookie.GetSession(r)
	if err != nil || value == "" {
		return nil
	}

	var h handle
	if err := m.signer.Verify(value, &h); err != nil {
		// Expired records are left to the cleanup manager
		return nil
	}

	if err := m.store.DeleteSession(ctx, h.SID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	log.LogInfoWithFields("session", "Session destroyed", nil)
	return nil
}

func (m *Manager) drop(ctx context.Context, sess *storage.Session, why string) {
	if err := m.store.DeleteSession(ctx, sess.ID); err != nil {
		log.LogWarnWithFields("session", "Failed to delete session", map[string]any{
			"error": err.Error(),
		})
	}
	log.LogInfoWithFields("session", "Session ended", map[string]any{
		"username": sess.Username,
		"cause":    why,
	})
}
