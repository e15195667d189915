package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/dgellow/prima-front/internal/cookie"
	"github.com/dgellow/prima-front/internal/crypto"
	"github.com/dgellow/prima-front/internal/idp"
	jsonwriter "github.com/dgellow/prima-front/internal/json"
	"github.com/dgellow/prima-front/internal/log"
	"github.com/dgellow/prima-front/internal/session"
	"github.com/dgellow/prima-front/internal/storage"
	"github.com/dgellow/prima-front/internal/urlutil"
)

// maxLoginBody caps the size of a login request
const maxLoginBody = 64 << 10

// Authenticator exchanges credentials for provider tokens. *idp.Relay satisfies it.
type Authenticator interface {
	Login(ctx context.Context, creds idp.Credentials) (*idp.Grant, error)
}

// AuthHandlers serves the login, logout and session endpoints
type AuthHandlers struct {
	auth      Authenticator
	sessions  *session.Manager
	csrf      *crypto.CSRFProtection
	limiter   *LoginLimiter
	baseURL   string
	appName   string
	resources []string
}

// NewAuthHandlers creates new auth handlers with dependency injection
func NewAuthHandlers(
	auth Authenticator,
	sessions *session.Manager,
	csrf *crypto.CSRFProtection,
	limiter *LoginLimiter,
	baseURL string,
	appName string,
	resources []string,
) *AuthHandlers {
	return &AuthHandlers{
		auth:      auth,
		sessions:  sessions,
		csrf:      csrf,
		limiter:   limiter,
		baseURL:   baseURL,
		appName:   appName,
		resources: resources,
	}
}

// UserInfo is the display identity returned to the browser
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// LoginResponse is returned by a successful JSON login
type LoginResponse struct {
	Success bool     `json:"success"`
	User    UserInfo `json:"user"`
}

// SessionInfoResponse describes the caller's session, tokens included
type SessionInfoResponse struct {
	User         UserInfo  `json:"user"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	Expires      time.Time `json:"expires"`
	TokenExpiry  time.Time `json:"tokenExpiry,omitzero"`
}

func userInfo(sess *storage.Session) UserInfo {
	return UserInfo{
		ID:       sess.SubjectID,
		Username: sess.Username,
		Name:     sess.Name,
		Email:    sess.Email,
	}
}

// LoginHandler relays credentials to the identity provider and opens a
// session. JSON callers get a JSON answer; HTML form posts are redirected.
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		jsonwriter.WriteMethodNotAllowed(w, "Method not allowed")
		return
	}

	form, ok := loginBodyKind(r)
	if !ok {
		// text/plain and multipart bodies are what a cross-site form can send
		// without a preflight, so they never reach the relay
		log.LogWarnWithFields("auth", "Login rejected: unsupported content type", map[string]any{
			"content_type": r.Header.Get("Content-Type"),
			"remote_addr":  r.RemoteAddr,
		})
		jsonwriter.WriteUnsupportedMediaType(w, "Login body must be application/json or an HTML form")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)

	if ok, wait := h.limiter.Allow(r); !ok {
		log.LogWarnWithFields("auth", "Login rate limited", map[string]any{
			"remote_addr": r.RemoteAddr,
		})
		if form {
			h.renderLogin(w, http.StatusTooManyRequests, "", "/", "Too many login attempts. Try again shortly.")
			return
		}
		jsonwriter.WriteTooManyRequests(w, "Too many login attempts", retryAfterSeconds(wait))
		return
	}

	var creds idp.Credentials
	callback := "/"

	if form {
		if err := r.ParseForm(); err != nil {
			jsonwriter.WriteBadRequest(w, "Invalid form submission")
			return
		}
		callback = urlutil.SafeCallbackPath(r.PostFormValue("callbackUrl"), h.baseURL)
		if !h.validCSRF(r) {
			log.LogWarnWithFields("auth", "Login form CSRF check failed", map[string]any{
				"remote_addr": r.RemoteAddr,
			})
			h.renderLogin(w, http.StatusForbidden, "", callback, "Your login form expired. Please try again.")
			return
		}
		creds = idp.Credentials{
			Username: r.PostFormValue("username"),
			Password: r.PostFormValue("password"),
		}
	} else if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		jsonwriter.WriteBadRequest(w, "Request body must be a JSON object with username and password")
		return
	}

	grant, err := h.auth.Login(r.Context(), creds)
	if err != nil {
		rerr := idp.AsError(err)
		if form {
			h.renderLogin(w, rerr.HTTPStatus(), creds.Username, callback, rerr.Message)
			return
		}
		writeRelayError(w, rerr)
		return
	}

	sess, err := h.sessions.Issue(r.Context(), w, grant)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to issue session", map[string]any{
			"username": grant.Username,
			"error":    err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to create session")
		return
	}

	if form {
		cookie.ClearCSRF(w)
		http.Redirect(w, r, callback, http.StatusSeeOther)
		return
	}

	_ = jsonwriter.Write(w, LoginResponse{Success: true, User: userInfo(sess)})
}

// LoginPageHandler renders the sign-in form. Signed-in users are sent
// straight on to their callback URL.
func (h *AuthHandlers) LoginPageHandler(w http.ResponseWriter, r *http.Request) {
	callback := urlutil.SafeCallbackPath(r.URL.Query().Get("callbackUrl"), h.baseURL)

	if _, err := h.sessions.Load(r); err == nil {
		http.Redirect(w, r, callback, http.StatusFound)
		return
	}

	h.renderLogin(w, http.StatusOK, "", callback, "")
}

func (h *AuthHandlers) renderLogin(w http.ResponseWriter, status int, username, callback, message string) {
	token, err := h.csrf.Generate()
	if err != nil {
		log.LogError("Failed to generate CSRF token: %v", err)
		jsonwriter.WriteInternalServerError(w, "Failed to render login page")
		return
	}
	cookie.SetCSRF(w, token, h.csrf.TTL())

	renderHTML(w, status, loginPageTemplate, LoginPageData{
		AppName:     h.appName,
		CSRFToken:   token,
		CallbackURL: callback,
		Username:    username,
		Error:       message,
	})
}

// validCSRF checks the double-submitted form token against the cookie
func (h *AuthHandlers) validCSRF(r *http.Request) bool {
	formToken := r.PostFormValue("csrf_token")
	cookieToken, err := cookie.GetCSRF(r)
	if err != nil || formToken == "" || formToken != cookieToken {
		return false
	}
	return h.csrf.Validate(formToken)
}

// LogoutHandler ends the session. It always succeeds from the caller's view.
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		jsonwriter.WriteMethodNotAllowed(w, "Method not allowed")
		return
	}

	if err := h.sessions.Destroy(r.Context(), w, r); err != nil {
		log.LogErrorWithFields("auth", "Failed to delete session on logout", map[string]any{
			"error": err.Error(),
		})
	}

	if isFormPost(r) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	_ = jsonwriter.Write(w, map[string]bool{"success": true})
}

// RefreshHandler renews the session's tokens on demand
func (h *AuthHandlers) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		jsonwriter.WriteMethodNotAllowed(w, "Method not allowed")
		return
	}

	sess, err := h.sessions.Load(r)
	if errors.Is(err, session.ErrNoSession) {
		jsonwriter.WriteUnauthorized(w, "No active session")
		return
	}
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "Failed to load session")
		return
	}

	renewed, err := h.sessions.Renew(r.Context(), sess)
	if err != nil {
		rerr := idp.AsError(err)
		if rerr.Kind == idp.KindInvalidCredentials {
			cookie.ClearSession(w)
		}
		writeRelayError(w, rerr)
		return
	}

	_ = jsonwriter.Write(w, map[string]any{
		"success":     true,
		"tokenExpiry": renewed.TokenExpiry,
	})
}

// SessionInfoHandler returns the caller's identity and tokens. It runs
// behind the API session middleware.
func (h *AuthHandlers) SessionInfoHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, "No active session")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	_ = jsonwriter.Write(w, SessionInfoResponse{
		User:         userInfo(sess),
		Provider:     sess.Provider,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		Expires:      sess.ExpiresAt,
		TokenExpiry:  sess.TokenExpiry,
	})
}

// HomeHandler renders the landing page for signed-in users
func (h *AuthHandlers) HomeHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Redirect(w, r, loginRedirectURL(r), http.StatusFound)
		return
	}

	renderHTML(w, http.StatusOK, homePageTemplate, HomePageData{
		AppName:   h.appName,
		Username:  sess.Username,
		Name:      sess.Name,
		Email:     sess.Email,
		Provider:  sess.Provider,
		Resources: h.resources,
	})
}

func writeRelayError(w http.ResponseWriter, rerr *idp.Error) {
	jsonwriter.WriteErrorResponse(w, rerr.HTTPStatus(), jsonwriter.ErrorResponse{
		Error:   string(rerr.Kind),
		Message: rerr.Message,
		Reason:  rerr.Reason,
	})
}

// loginBodyKind reports whether the login body is an HTML form post, and
// whether its media type is accepted at all. Only urlencoded forms, which
// carry the CSRF token, and application/json, which browsers cannot send
// cross-site without a preflight, are accepted.
func loginBodyKind(r *http.Request) (form bool, ok bool) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false, false
	}
	switch mediaType {
	case "application/x-www-form-urlencoded":
		return true, true
	case "application/json":
		return false, true
	}
	return false, false
}

func isFormPost(r *http.Request) bool {
	form, _ := loginBodyKind(r)
	return form
}
