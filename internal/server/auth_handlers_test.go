package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/prima-front/internal/cookie"
	"github.com/dgellow/prima-front/internal/idp"
	jsonwriter "github.com/dgellow/prima-front/internal/json"
)

func jsonLogin(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestLoginJSONSuccess(t *testing.T) {
	env := newTestEnv(t, 0)
	env.expectLogin("mike", "secret", testGrant(), nil)

	rec := httptest.NewRecorder()
	env.handlers.LoginHandler(rec, jsonLogin(`{"username":" mike ","password":"secret"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "mike", resp.User.Username)
	assert.Equal(t, "sub-1", resp.User.ID)
	assert.NotContains(t, rec.Body.String(), "access-1")

	c := findCookie(rec, cookie.SessionCookie)
	require.NotNil(t, c)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, 1, env.store.Len())

	sess, err := env.sessions.Load(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), rec.Result().Cookies()))
	require.NoError(t, err)
	assert.Equal(t, "access-1", sess.AccessToken)
	env.provider.AssertExpectations(t)
}

func TestLoginEmptyInputMakesNoProviderCall(t *testing.T) {
	for _, body := range []string{
		`{"username":"","password":""}`,
		`{"username":"mike","password":""}`,
		`{"username":"   ","password":"secret"}`,
		`{}`,
	} {
		t.Run(body, func(t *testing.T) {
			env := newTestEnv(t, 0)

			rec := httptest.NewRecorder()
			env.handlers.LoginHandler(rec, jsonLogin(body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp jsonwriter.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, string(idp.KindInvalidInput), resp.Error)
			assert.NotEmpty(t, resp.Message)
			env.provider.AssertNotCalled(t, "PasswordGrant", mock.Anything, mock.Anything)
			assert.Nil(t, findCookie(rec, cookie.SessionCookie))
		})
	}
}

func TestLoginFailuresNeverOpenSession(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
		wantReason string
	}{
		{
			name:       "rejected credentials",
			err:        &idp.Error{Kind: idp.KindInvalidCredentials, Reason: idp.ReasonBadCredentials, Message: "Invalid user credentials"},
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid_credentials",
			wantReason: "bad_credentials",
		},
		{
			name:       "provider down",
			err:        &idp.Error{Kind: idp.KindUpstreamUnavailable, Message: "Failed to connect to authentication server"},
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "upstream_unavailable",
		},
		{
			name:       "garbled provider response",
			err:        &idp.Error{Kind: idp.KindMalformedUpstreamResponse, Message: "Failed to parse server response"},
			wantStatus: http.StatusBadGateway,
			wantError:  "malformed_upstream_response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0)
			env.expectLogin("mike", "wrong", nil, tt.err)

			rec := httptest.NewRecorder()
			env.handlers.LoginHandler(rec, jsonLogin(`{"username":"mike","password":"wrong"}`))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp jsonwriter.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Equal(t, tt.wantReason, resp.Reason)
			assert.Nil(t, findCookie(rec, cookie.SessionCookie))
			assert.Equal(t, 0, env.store.Len())
		})
	}
}

func TestLoginGrantWithoutTokenIsRejected(t *testing.T) {
	env := newTestEnv(t, 0)
	grant := testGrant()
	grant.AccessToken = ""
	env.expectLogin("mike", "secret", grant, nil)

	rec := httptest.NewRecorder()
	env.handlers.LoginHandler(rec, jsonLogin(`{"username":"mike","password":"secret"}`))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 0, env.store.Len())
}

func TestLoginMalformedBody(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := httptest.NewRecorder()
	env.handlers.LoginHandler(rec, jsonLogin(`username=mike`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env.provider.AssertNotCalled(t, "PasswordGrant", mock.Anything, mock.Anything)
}

func TestLoginRejectsTextPlain(t *testing.T) {
	body := `{"username":"attacker","password":"x"}`
	tests := []struct {
		name        string
		contentType string
	}{
		{"text plain form", "text/plain"},
		{"text plain with charset", "text/plain; charset=utf-8"},
		{"multipart form", "multipart/form-data; boundary=xyz"},
		{"no content type", ""},
		{"unparseable", "application/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			env.handlers.LoginHandler(rec, req)

			assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
			assert.Nil(t, findCookie(rec, cookie.SessionCookie))
			assert.Equal(t, 0, env.store.Len())
			env.provider.AssertNotCalled(t, "PasswordGrant", mock.Anything, mock.Anything)
		})
	}
}

func TestLoginAcceptsJSONWithCharset(t *testing.T) {
	env := newTestEnv(t, 0)
	env.expectLogin("mike", "secret", testGrant(), nil)

	req := jsonLogin(`{"username":"mike","password":"secret"}`)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()
	env.handlers.LoginHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, findCookie(rec, cookie.SessionCookie))
}

func TestLoginMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := httptest.NewRecorder()
	env.handlers.LoginHandler(rec, httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestLoginFormFlow(t *testing.T) {
	env := newTestEnv(t, 0)

	// Render the form to obtain the CSRF cookie and token
	page := httptest.NewRecorder()
	env.handlers.LoginPageHandler(page, httptest.NewRequest(http.MethodGet, "/login?callbackUrl=%2Fgeneral-settings%2Fagents", nil))
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), `value="/general-settings/agents"`)
	csrfCookie := findCookie(page, cookie.CSRFCookie)
	require.NotNil(t, csrfCookie)

	t.Run("missing token", func(t *testing.T) {
		req := formRequest("/api/auth/login", url.Values{"username": {"mike"}, "password": {"secret"}})
		req.AddCookie(csrfCookie)
		rec := httptest.NewRecorder()
		env.handlers.LoginHandler(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		env.provider.AssertNotCalled(t, "PasswordGrant", mock.Anything, mock.Anything)
	})

	t.Run("forged token", func(t *testing.T) {
		forged := "nonce.sbbqe8.bogus"
		req := formRequest("/api/auth/login", url.Values{"username": {"mike"}, "password": {"secret"}, "csrf_token": {forged}})
		req.AddCookie(&http.Cookie{Name: cookie.CSRFCookie, Value: forged})
		rec := httptest.NewRecorder()
		env.handlers.LoginHandler(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("wrong password re-renders the form", func(t *testing.T) {
		env.expectLogin("mike", "wrong", nil, &idp.Error{Kind: idp.KindInvalidCredentials, Message: "Invalid user credentials"})

		req := formRequest("/api/auth/login", url.Values{
			"username":    {"mike"},
			"password":    {"wrong"},
			"csrf_token":  {csrfCookie.Value},
			"callbackUrl": {"/general-settings/agents"},
		})
		req.AddCookie(csrfCookie)
		rec := httptest.NewRecorder()
		env.handlers.LoginHandler(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "Invalid user credentials")
		assert.Contains(t, rec.Body.String(), `value="mike"`)
		assert.NotContains(t, rec.Body.String(), "wrong")
	})

	t.Run("success redirects to callback", func(t *testing.T) {
		env.expectLogin("mike", "secret", testGrant(), nil)

		req := formRequest("/api/auth/login", url.Values{
			"username":    {"mike"},
			"password":    {"secret"},
			"csrf_token":  {csrfCookie.Value},
			"callbackUrl": {"/general-settings/agents"},
		})
		req.AddCookie(csrfCookie)
		rec := httptest.NewRecorder()
		env.handlers.LoginHandler(rec, req)

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/general-settings/agents", rec.Header().Get("Location"))
		assert.NotNil(t, findCookie(rec, cookie.SessionCookie))
	})

	t.Run("foreign callback falls back to root", func(t *testing.T) {
		env.expectLogin("mike", "secret", testGrant(), nil)

		req := formRequest("/api/auth/login", url.Values{
			"username":    {"mike"},
			"password":    {"secret"},
			"csrf_token":  {csrfCookie.Value},
			"callbackUrl": {"https://evil.example.com/phish"},
		})
		req.AddCookie(csrfCookie)
		rec := httptest.NewRecorder()
		env.handlers.LoginHandler(rec, req)

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
	})
}

func TestLoginPageRedirectsSignedInUsers(t *testing.T) {
	env := newTestEnv(t, 0)
	cookies := env.signIn(t)

	req := withCookies(httptest.NewRequest(http.MethodGet, "/login?callbackUrl=%2Fcarriers", nil), cookies)
	rec := httptest.NewRecorder()
	env.handlers.LoginPageHandler(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/carriers", rec.Header().Get("Location"))
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t, 2)
	env.provider.On("PasswordGrant", mock.Anything, mock.Anything).
		Return(nil, &idp.Error{Kind: idp.KindInvalidCredentials, Message: "Invalid user credentials"})

	for range 2 {
		rec := httptest.NewRecorder()
		env.handlers.LoginHandler(rec, jsonLogin(`{"username":"mike","password":"guess"}`))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := httptest.NewRecorder()
	env.handlers.LoginHandler(rec, jsonLogin(`{"username":"mike","password":"guess"}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	env.provider.AssertNumberOfCalls(t, "PasswordGrant", 2)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, 0)
	cookies := env.signIn(t)
	require.Equal(t, 1, env.store.Len())

	rec := httptest.NewRecorder()
	env.handlers.LogoutHandler(rec, withCookies(httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil), cookies))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, 0, env.store.Len())
	c := findCookie(rec, cookie.SessionCookie)
	require.NotNil(t, c)
	assert.Equal(t, -1, c.MaxAge)

	// No session is still a successful logout
	rec = httptest.NewRecorder()
	env.handlers.LogoutHandler(rec, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutFormRedirectsToLogin(t *testing.T) {
	env := newTestEnv(t, 0)
	cookies := env.signIn(t)

	rec := httptest.NewRecorder()
	env.handlers.LogoutHandler(rec, withCookies(formRequest("/api/auth/logout", url.Values{}), cookies))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestRefresh(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		env := newTestEnv(t, 0)
		rec := httptest.NewRecorder()
		env.handlers.RefreshHandler(rec, httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("renews tokens", func(t *testing.T) {
		env := newTestEnv(t, 0)
		cookies := env.signIn(t)
		renewed := testGrant()
		renewed.AccessToken = "access-2"
		env.provider.On("RefreshGrant", mock.Anything, mock.MatchedBy(func(g idp.Grant) bool {
			return g.RefreshToken == "refresh-1"
		})).Return(renewed, nil).Once()

		rec := httptest.NewRecorder()
		env.handlers.RefreshHandler(rec, withCookies(httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil), cookies))

		assert.Equal(t, http.StatusOK, rec.Code)
		sess, err := env.sessions.Load(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cookies))
		require.NoError(t, err)
		assert.Equal(t, "access-2", sess.AccessToken)
	})

	t.Run("rejected refresh token ends session", func(t *testing.T) {
		env := newTestEnv(t, 0)
		cookies := env.signIn(t)
		env.provider.On("RefreshGrant", mock.Anything, mock.Anything).
			Return(nil, &idp.Error{Kind: idp.KindInvalidCredentials, Message: "Token is not active"}).Once()

		rec := httptest.NewRecorder()
		env.handlers.RefreshHandler(rec, withCookies(httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil), cookies))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, 0, env.store.Len())
	})
}

func TestSessionInfo(t *testing.T) {
	env := newTestEnv(t, 0)
	handler := ChainMiddleware(http.HandlerFunc(env.handlers.SessionInfoHandler), NewAPISessionMiddleware(env.sessions))

	t.Run("unauthenticated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session-info", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("authenticated", func(t *testing.T) {
		cookies := env.signIn(t)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/api/session-info", nil), cookies))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

		var resp SessionInfoResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "mike", resp.User.Username)
		assert.Equal(t, "mike@example.com", resp.User.Email)
		assert.Equal(t, "keycloak", resp.Provider)
		assert.Equal(t, "access-1", resp.AccessToken)
		assert.Equal(t, "refresh-1", resp.RefreshToken)
		assert.False(t, resp.Expires.IsZero())
	})
}

func TestHomePage(t *testing.T) {
	env := newTestEnv(t, 0)
	handler := ChainMiddleware(http.HandlerFunc(env.handlers.HomeHandler), NewBrowserSessionMiddleware(env.sessions))

	t.Run("redirects to login", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/login?callbackUrl=%2F", rec.Header().Get("Location"))
	})

	t.Run("renders for signed-in user", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/", nil), env.signIn(t)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Mike Rossi")
		assert.Contains(t, rec.Body.String(), "/api/carriers")
	})
}
