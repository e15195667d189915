package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Version is the config file format understood by this build
const Version = "prima-front/v1"

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// AuthProvider names the identity provider credentials are relayed to
type AuthProvider string

const (
	AuthProviderKeycloak AuthProvider = "keycloak"
	AuthProviderCognito  AuthProvider = "cognito"
)

// StorageKind selects the session storage backend
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageFirestore StorageKind = "firestore"
)

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	BaseURL        string   `json:"baseURL"`
	Addr           string   `json:"addr"`
	Name           string   `json:"name"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
	// LoginRateLimit is the number of login attempts allowed per client IP
	// per minute. Zero disables the limiter.
	LoginRateLimit int `json:"loginRateLimit"`
	// TrustProxy takes the client IP from the last X-Forwarded-For entry.
	// Only enable it behind exactly one load balancer that appends to the header.
	TrustProxy bool `json:"trustProxy"`
}

// AuthConfig configures the credential relay
type AuthConfig struct {
	Provider AuthProvider `json:"provider"`

	// Keycloak
	Issuer   string `json:"issuer,omitempty"`
	TokenURL string `json:"tokenUrl,omitempty"`

	// Cognito
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`

	ClientID     string        `json:"clientId"`
	ClientSecret Secret        `json:"clientSecret"`
	Scopes       []string      `json:"scopes,omitempty"`
	Timeout      time.Duration `json:"timeout"`
}

// SessionConfig configures the server-side session store
type SessionConfig struct {
	Secret           Secret        `json:"secret"`
	TTL              time.Duration `json:"ttl"`
	RefreshThreshold time.Duration `json:"refreshThreshold"`
	CleanupInterval  time.Duration `json:"cleanupInterval"`

	Storage             StorageKind `json:"storage"`
	GCPProject          string      `json:"gcpProject,omitempty"`
	FirestoreDatabase   string      `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string      `json:"firestoreCollection,omitempty"`
}

// UpstreamConfig describes the REST backend resources are proxied to
type UpstreamConfig struct {
	BaseURL     string        `json:"baseURL"`
	TokenHeader string        `json:"tokenHeader"`
	Timeout     time.Duration `json:"timeout"`

	TenantParam     string `json:"tenantParam"`
	DefaultTenant   string `json:"defaultTenant"`
	PageNumberParam string `json:"pageNumberParam"`
	PageSizeParam   string `json:"pageSizeParam"`
	DefaultPageSize int    `json:"defaultPageSize"`

	CreatedByField string `json:"createdByField"`
	ChangedByField string `json:"changedByField"`
}

// ResourceConfig maps a dashboard resource onto an upstream path
type ResourceConfig struct {
	Path           string   `json:"path"`
	IDParam        string   `json:"idParam"`
	Filters        []string `json:"filters,omitempty"`
	RequiredFields []string `json:"requiredFields,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Version   string                     `json:"version"`
	Server    ServerConfig               `json:"server"`
	Auth      AuthConfig                 `json:"auth"`
	Session   SessionConfig              `json:"session"`
	Upstream  UpstreamConfig             `json:"upstream"`
	Resources map[string]*ResourceConfig `json:"resources"`
}

// ParseConfigValue resolves a JSON value that is either a plain string or
// an {"$env": "VAR"} reference.
//
// The explicit JSON reference form is used instead of $VAR so that shells
// and CI templating never expand config values before we parse them.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}
