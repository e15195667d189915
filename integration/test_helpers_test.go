package integration

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"
)

const frontURL = "http://localhost:8080"

// testConfig returns a config document pointing at the fakes
func testConfig() map[string]any {
	return map[string]any{
		"version": "prima-front/v1",
		"server": map[string]any{
			"baseURL":        frontURL,
			"addr":           ":8080",
			"loginRateLimit": 5,
		},
		"auth": map[string]any{
			"provider":     "keycloak",
			"issuer":       "http://localhost:" + keycloakPort + "/realms/prima",
			"clientId":     "prima-dashboard",
			"clientSecret": map[string]string{"$env": "KEYCLOAK_CLIENT_SECRET"},
			"timeout":      "5s",
		},
		"session": map[string]any{
			"secret":          map[string]string{"$env": "SESSION_SECRET"},
			"ttl":             "1h",
			"cleanupInterval": "1m",
			"storage":         "memory",
		},
		"upstream": map[string]any{
			"baseURL":     "http://localhost:" + backendPort + "/api",
			"tokenHeader": "token",
			"timeout":     "5s",
		},
	}
}

// writeTestConfig writes a config map to a temporary JSON file and returns its path
func writeTestConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal test config: %v", err)
	}
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	if err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close temp config: %v", err)
	}
	return f.Name()
}

// startPrimaFront starts the server with the given config and waits for it
func startPrimaFront(t *testing.T, configPath string, extraEnv ...string) {
	t.Helper()
	cmd := exec.Command(binaryPath, "-config", configPath)

	cmd.Env = append(os.Environ(),
		"PRIMA_FRONT_ENV=development",
		"KEYCLOAK_CLIENT_SECRET=kc-client-secret",
		"SESSION_SECRET="+strings.Repeat("k", 48),
	)
	cmd.Env = append(cmd.Env, extraEnv...)

	if logFile := os.Getenv("PRIMA_FRONT_LOG_FILE"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			cmd.Stderr = f
			cmd.Stdout = f
			t.Cleanup(func() { f.Close() })
		}
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start prima-front: %v", err)
	}
	t.Cleanup(func() { stopPrimaFront(cmd) })

	waitForPrimaFront(t)
}

// stopPrimaFront stops the server gracefully, killing it after 5 seconds
func stopPrimaFront(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

func waitForPrimaFront(t *testing.T) {
	t.Helper()
	for range 50 {
		resp, err := http.Get(frontURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatal("prima-front failed to become ready after 10 seconds")
}

// newBrowser returns a client that keeps cookies and does not follow redirects
func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	return &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
