package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSessionSecret = "0123456789abcdef0123456789abcdef"

func setTestEnv(t *testing.T) {
	t.Setenv("KEYCLOAK_ISSUER", "https://sso.example.com/realms/prima")
	t.Setenv("KEYCLOAK_CLIENT_ID", "prima-dashboard")
	t.Setenv("KEYCLOAK_CLIENT_SECRET", "kc-secret")
	t.Setenv("SESSION_SECRET", testSessionSecret)
	t.Setenv("PRIMA_API_URL", "https://api.prima.example.com/api")
	t.Setenv("PRIMA_FRONT_BASE_URL", "https://dashboard.example.com")
}

func TestParseInitTemplate(t *testing.T) {
	setTestEnv(t)

	cfg, err := Parse([]byte(InitTemplate))
	require.NoError(t, err)

	assert.Equal(t, AuthProviderKeycloak, cfg.Auth.Provider)
	assert.Equal(t, "https://sso.example.com/realms/prima", cfg.Auth.Issuer)
	assert.Equal(t, Secret("kc-secret"), cfg.Auth.ClientSecret)
	assert.Equal(t, []string{"openid"}, cfg.Auth.Scopes)
	assert.Equal(t, 10*time.Second, cfg.Auth.Timeout)

	assert.Equal(t, Secret(testSessionSecret), cfg.Session.Secret)
	assert.Equal(t, 8*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Session.RefreshThreshold)
	assert.Equal(t, StorageMemory, cfg.Session.Storage)

	assert.Equal(t, "https://api.prima.example.com/api", cfg.Upstream.BaseURL)
	assert.Equal(t, "token", cfg.Upstream.TokenHeader)
	assert.Equal(t, "COMPID", cfg.Upstream.TenantParam)
	assert.Equal(t, "PLL", cfg.Upstream.DefaultTenant)
	assert.Equal(t, 300, cfg.Upstream.DefaultPageSize)
	assert.Equal(t, "CRTUSR", cfg.Upstream.CreatedByField)
	assert.Equal(t, "CHGUSR", cfg.Upstream.ChangedByField)

	require.Contains(t, cfg.Resources, "carriers")
	assert.Equal(t, "carrier", cfg.Resources["carriers"].Path)
	assert.Equal(t, "CARID", cfg.Resources["carriers"].IDParam)
	assert.Equal(t, "AGNTID", cfg.Resources["agents"].IDParam)
	assert.Equal(t, "CLNTID", cfg.Resources["clients"].IDParam)

	assert.Equal(t, 10, cfg.Server.LoginRateLimit)
}

func TestParseLoginRateLimitZeroDisables(t *testing.T) {
	setTestEnv(t)

	doc := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(InitTemplate), &doc))
	doc["server"].(map[string]any)["loginRateLimit"] = 0
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Server.LoginRateLimit)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(doc map[string]any)
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing version",
			mutate:  func(doc map[string]any) { delete(doc, "version") },
			wantErr: "config version is required",
		},
		{
			name:    "wrong version",
			mutate:  func(doc map[string]any) { doc["version"] = "v0.0.1" },
			wantErr: "unsupported config version",
		},
		{
			name: "inline session secret",
			mutate: func(doc map[string]any) {
				doc["session"].(map[string]any)["secret"] = testSessionSecret
			},
			wantErr: "session.secret must use environment variable reference",
		},
		{
			name: "inline client secret",
			mutate: func(doc map[string]any) {
				doc["auth"].(map[string]any)["clientSecret"] = "kc-secret"
			},
			wantErr: "auth.clientSecret must use environment variable reference",
		},
		{
			name:    "unset env var",
			mutate:  func(doc map[string]any) {},
			env:     map[string]string{"SESSION_SECRET": ""},
			wantErr: "environment variable SESSION_SECRET not set",
		},
		{
			name:    "short session secret",
			mutate:  func(doc map[string]any) {},
			env:     map[string]string{"SESSION_SECRET": "short"},
			wantErr: "secret must be at least 32 characters",
		},
		{
			name: "unknown provider",
			mutate: func(doc map[string]any) {
				doc["auth"].(map[string]any)["provider"] = "ldap"
			},
			wantErr: "unknown provider",
		},
		{
			name: "cognito without region",
			mutate: func(doc map[string]any) {
				doc["auth"].(map[string]any)["provider"] = "cognito"
			},
			wantErr: "region is required for cognito",
		},
		{
			name: "firestore without project",
			mutate: func(doc map[string]any) {
				doc["session"].(map[string]any)["storage"] = "firestore"
			},
			wantErr: "gcpProject is required",
		},
		{
			name: "relative upstream",
			mutate: func(doc map[string]any) {
				doc["upstream"].(map[string]any)["baseURL"] = "/api"
			},
			wantErr: "baseURL must be an absolute URL",
		},
		{
			name: "bad duration",
			mutate: func(doc map[string]any) {
				doc["session"].(map[string]any)["ttl"] = "forever"
			},
			wantErr: "parsing ttl",
		},
		{
			name: "resource without id param",
			mutate: func(doc map[string]any) {
				doc["resources"] = map[string]any{"carriers": map[string]any{"path": "carrier"}}
			},
			wantErr: "resource carriers must have idParam",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setTestEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			doc := map[string]any{}
			require.NoError(t, json.Unmarshal([]byte(InitTemplate), &doc))
			tt.mutate(doc)
			data, err := json.Marshal(doc)
			require.NoError(t, err)

			_, err = Parse(data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	setTestEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(InitTemplate), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParseConfigValue(t *testing.T) {
	t.Setenv("QUOTED", `"quoted-value"`)
	t.Setenv("PLAIN", "plain-value")

	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{`"literal"`, "literal", false},
		{`{"$env": "PLAIN"}`, "plain-value", false},
		{`{"$env": "QUOTED"}`, "quoted-value", false},
		{`{"$env": "PRIMA_FRONT_SURELY_UNSET"}`, "", true},
		{`{"$userToken": "x"}`, "", true},
		{`42`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseConfigValue(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("super-secret")
	assert.Equal(t, "***", s.String())
	assert.Equal(t, "***", fmt.Sprintf("%v", s))

	data, err := json.Marshal(struct {
		S Secret `json:"s"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"***"}`, string(data))

	assert.Equal(t, "", Secret("").String())
}

func TestValidateBytes(t *testing.T) {
	tests := []struct {
		name          string
		config        string
		wantErrPaths  []string
		wantWarnPaths []string
	}{
		{
			name:   "init template",
			config: InitTemplate,
		},
		{
			name: "cognito",
			config: `{
				"version": "prima-front/v1",
				"auth": {
					"provider": "cognito",
					"region": "eu-west-1",
					"clientId": {"$env": "COGNITO_CLIENT_ID"},
					"clientSecret": {"$env": "COGNITO_CLIENT_SECRET"}
				},
				"session": {"secret": {"$env": "SESSION_SECRET"}},
				"upstream": {"baseURL": "https://api.example.com"}
			}`,
		},
		{
			name:         "invalid json",
			config:       `{`,
			wantErrPaths: []string{""},
		},
		{
			name: "missing sections",
			config: `{
				"version": "prima-front/v1"
			}`,
			wantErrPaths: []string{"auth", "session", "upstream"},
		},
		{
			name: "plain secrets and bash syntax",
			config: `{
				"version": "prima-front/v1",
				"auth": {
					"provider": "keycloak",
					"issuer": "https://sso.example.com/realms/prima",
					"clientId": "prima",
					"clientSecret": "$KC_SECRET"
				},
				"session": {"secret": "hardcoded", "ttl": "1h", "refreshThreshold": "2h"},
				"upstream": {"baseURL": "https://api.example.com"}
			}`,
			wantErrPaths:  []string{"auth.clientSecret", "session.secret"},
			wantWarnPaths: []string{"auth.clientSecret", "session.refreshThreshold"},
		},
		{
			name: "bad resource and duration",
			config: `{
				"version": "prima-front/v1",
				"auth": {
					"provider": "keycloak",
					"tokenUrl": "https://sso.example.com/token",
					"clientId": "prima",
					"clientSecret": {"$env": "KC_SECRET"},
					"timeout": "soon"
				},
				"session": {"secret": {"$env": "SESSION_SECRET"}, "storage": "redis"},
				"upstream": {"baseURL": "https://api.example.com"},
				"resources": {"carriers": {"path": "carrier"}}
			}`,
			wantErrPaths: []string{"auth.timeout", "session.storage", "resources.carriers.idParam"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateBytes([]byte(tt.config))

			var errPaths, warnPaths []string
			for _, e := range result.Errors {
				errPaths = append(errPaths, e.Path)
			}
			for _, w := range result.Warnings {
				warnPaths = append(warnPaths, w.Path)
			}

			assert.ElementsMatch(t, tt.wantErrPaths, errPaths, "errors: %+v", result.Errors)
			assert.ElementsMatch(t, tt.wantWarnPaths, warnPaths, "warnings: %+v", result.Warnings)
			assert.Equal(t, len(tt.wantErrPaths) == 0, result.IsValid())
		})
	}
}

func TestValidateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(InitTemplate), 0o600))

	result, err := ValidateFile(path)
	require.NoError(t, err)
	assert.True(t, result.IsValid())

	_, err = ValidateFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
