package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/prima-front/internal/crypto"
	"github.com/dgellow/prima-front/internal/idp"
	"github.com/dgellow/prima-front/internal/session"
	"github.com/dgellow/prima-front/internal/storage"
	"github.com/dgellow/prima-front/internal/testutil"
)

var testSecret = []byte(strings.Repeat("s", 32))

type testEnv struct {
	provider *testutil.MockProvider
	store    *storage.MemoryStorage
	sessions *session.Manager
	handlers *AuthHandlers
}

func newTestEnv(t *testing.T, loginRateLimit int) *testEnv {
	t.Helper()

	provider := testutil.NewMockProvider()
	relay := idp.NewRelay(provider, time.Second)
	store := storage.NewMemoryStorage()

	sessionKey, err := crypto.DeriveKey(testSecret, crypto.PurposeCookieSigning)
	require.NoError(t, err)
	csrfKey, err := crypto.DeriveKey(testSecret, crypto.PurposeCSRF)
	require.NoError(t, err)

	sessions := session.NewManager(store, relay, session.Config{
		SigningKey:       sessionKey,
		TTL:              time.Hour,
		RefreshThreshold: 5 * time.Minute,
	})

	handlers := NewAuthHandlers(
		relay,
		sessions,
		crypto.NewCSRFProtection(csrfKey, 15*time.Minute),
		NewLoginLimiter(loginRateLimit, false),
		"https://prima.example.com",
		"Prima",
		[]string{"agents", "carriers", "clients"},
	)

	return &testEnv{provider: provider, store: store, sessions: sessions, handlers: handlers}
}

func testGrant() *idp.Grant {
	return &idp.Grant{
		Provider:     "keycloak",
		SubjectID:    "sub-1",
		Username:     "mike",
		Name:         "Mike Rossi",
		Email:        "mike@example.com",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	}
}

func (e *testEnv) expectLogin(username, password string, grant *idp.Grant, err error) {
	e.provider.On("PasswordGrant", mock.Anything, idp.Credentials{Username: username, Password: password}).Return(grant, err).Once()
}

// signIn opens a session directly and returns its cookies
func (e *testEnv) signIn(t *testing.T) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	_, err := e.sessions.Issue(context.Background(), rec, testGrant())
	require.NoError(t, err)
	return rec.Result().Cookies()
}

func withCookies(r *http.Request, cookies []*http.Cookie) *http.Request {
	for _, c := range cookies {
		r.AddCookie(c)
	}
	return r
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func formRequest(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}
