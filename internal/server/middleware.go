package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgellow/prima-front/internal/cookie"
	jsonwriter "github.com/dgellow/prima-front/internal/json"
	"github.com/dgellow/prima-front/internal/log"
	"github.com/dgellow/prima-front/internal/proxy"
	"github.com/dgellow/prima-front/internal/session"
)

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions.
// The last middleware in the list is the outermost.
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

// NewCORSMiddleware adds CORS headers to responses and answers preflight
// requests with 204 before any authentication runs
func NewCORSMiddleware(allowedOrigins []string) MiddlewareFunc {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if len(allowedOrigins) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && allowedMap[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", proxy.AllowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewMethodMiddleware answers 405 for methods outside the list before any
// session lookup, so callers learn the method is wrong even when signed out
func NewMethodMiddleware(methods ...string) MiddlewareFunc {
	allowed := make(map[string]bool, len(methods))
	for _, m := range methods {
		allowed[m] = true
	}
	allowHeader := strings.Join(methods, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed[r.Method] {
				w.Header().Set("Allow", allowHeader)
				jsonwriter.WriteMethodNotAllowed(w, "Method not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriterDelegator wraps http.ResponseWriter to capture status and bytes written
// while properly delegating all optional interfaces through Unwrap
type responseWriterDelegator struct {
	http.ResponseWriter
	status      int
	written     int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriterDelegator {
	return &responseWriterDelegator{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (r *responseWriterDelegator) Status() int {
	return r.status
}

func (r *responseWriterDelegator) BytesWritten() int {
	return r.written
}

func (r *responseWriterDelegator) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseWriterDelegator) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter for interface detection
func (r *responseWriterDelegator) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

var _ http.ResponseWriter = (*responseWriterDelegator)(nil)

// NewLoggerMiddleware logs every request with its response status.
// Query strings are left out since they may carry record identifiers.
func NewLoggerMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			log.LogInfoWithFields(prefix, "request", map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       wrapped.BytesWritten(),
				"remote_addr": r.RemoteAddr,
			})
		})
	}
}

// NewRecoverMiddleware recovers from panics
func NewRecoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Logf("<%s> Recovered from panic: %v", prefix, err)
					jsonwriter.WriteInternalServerError(w, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// NewAPISessionMiddleware requires a valid session, renewing its token when
// it is close to expiry. Requests without one get a JSON 401.
func NewAPISessionMiddleware(sessions *session.Manager) MiddlewareFunc {
	return newSessionMiddleware(sessions, func(w http.ResponseWriter, r *http.Request) {
		jsonwriter.WriteUnauthorized(w, "Unauthorized")
	})
}

// NewBrowserSessionMiddleware is like NewAPISessionMiddleware but sends
// browsers to the login page, remembering where they were going
func NewBrowserSessionMiddleware(sessions *session.Manager) MiddlewareFunc {
	return newSessionMiddleware(sessions, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, loginRedirectURL(r), http.StatusFound)
	})
}

func newSessionMiddleware(sessions *session.Manager, onMissing http.HandlerFunc) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			sess, err := sessions.Load(r)
			if err == nil {
				sess, err = sessions.EnsureFresh(ctx, sess)
			}
			if errors.Is(err, session.ErrNoSession) {
				if _, cerr := cookie.GetSession(r); cerr == nil {
					cookie.ClearSession(w)
				}
				onMissing(w, r)
				return
			}
			if err != nil {
				log.LogErrorWithFields("session", "Failed to load session", map[string]any{
					"error": err.Error(),
					"path":  r.URL.Path,
				})
				jsonwriter.WriteInternalServerError(w, "Failed to load session")
				return
			}

			next.ServeHTTP(w, r.WithContext(session.WithSession(ctx, sess)))
		})
	}
}

func loginRedirectURL(r *http.Request) string {
	return "/login?callbackUrl=" + url.QueryEscape(r.URL.RequestURI())
}
