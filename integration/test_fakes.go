package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const (
	keycloakPort = "9090"
	backendPort  = "9091"

	testUsername = "dispatcher"
	testPassword = "correct-horse"
)

// backend is shared by the tests; it is started in TestMain
var backend *FakePrimaBackend

// FakeKeycloak answers the realm token endpoint with password and refresh grants
type FakeKeycloak struct {
	server *http.Server
}

// NewFakeKeycloak creates a fake Keycloak realm "prima"
func NewFakeKeycloak(port string) *FakeKeycloak {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/prima/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "password":
			if r.PostForm.Get("username") != testUsername || r.PostForm.Get("password") != testPassword {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":             "invalid_grant",
					"error_description": "Invalid user credentials",
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "kc-access-1",
				"refresh_token": "kc-refresh-1",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		case "refresh_token":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "kc-access-2",
				"refresh_token": "kc-refresh-2",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "unsupported_grant_type"})
		}
	})

	return &FakeKeycloak{server: &http.Server{Addr: ":" + port, Handler: mux}}
}

// Start starts the fake Keycloak server
func (k *FakeKeycloak) Start() error {
	return startFake(k.server)
}

// Stop stops the fake Keycloak server
func (k *FakeKeycloak) Stop() error {
	return stopFake(k.server)
}

// BackendRequest is what the fake backend saw of a proxied call
type BackendRequest struct {
	Method string
	Path   string
	Query  string
	Token  string
	Body   map[string]any
}

// FakePrimaBackend records proxied calls and answers with a fixed carrier list
type FakePrimaBackend struct {
	server *http.Server

	mu       sync.Mutex
	requests []BackendRequest
}

// NewFakePrimaBackend creates a fake REST backend under /api
func NewFakePrimaBackend(port string) *FakePrimaBackend {
	b := &FakePrimaBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		rec := BackendRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Token:  r.Header.Get("token"),
		}
		if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut) {
			_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		b.mu.Lock()
		b.requests = append(b.requests, rec)
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data":  []map[string]any{{"CARID": "C001", "CARDSC": "North Freight"}},
				"total": 1,
			})
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
		}
	})

	b.server = &http.Server{Addr: ":" + port, Handler: mux}
	return b
}

// Start starts the fake backend
func (b *FakePrimaBackend) Start() error {
	return startFake(b.server)
}

// Stop stops the fake backend
func (b *FakePrimaBackend) Stop() error {
	return stopFake(b.server)
}

// Reset forgets recorded requests
func (b *FakePrimaBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = nil
}

// Requests returns a copy of the recorded requests
func (b *FakePrimaBackend) Requests() []BackendRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BackendRequest(nil), b.requests...)
}

func startFake(server *http.Server) error {
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()

	// Wait for the listener
	for range 50 {
		resp, err := http.Get("http://localhost" + server.Addr + "/")
		if err == nil {
			resp.Body.Close()
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

func stopFake(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
