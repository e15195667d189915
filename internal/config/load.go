package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dgellow/prima-front/internal/log"
)

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse resolves, defaults and validates a config document
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != Version {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	config := Config{Server: ServerConfig{LoginRateLimit: DefaultLoginRateLimit}}
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// secretFields must be given as {"$env": ...} references, never inline
var secretFields = []struct {
	section string
	name    string
}{
	{"auth", "clientSecret"},
	{"session", "secret"},
}

// validateRawConfig validates the config structure before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	for _, f := range secretFields {
		section, ok := rawConfig[f.section].(map[string]any)
		if !ok {
			continue
		}
		value, exists := section[f.name]
		if !exists {
			continue
		}
		if _, isString := value.(string); isString {
			return fmt.Errorf("%s.%s must use environment variable reference for security", f.section, f.name)
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("%s.%s must use {\"$env\": \"VAR_NAME\"} format", f.section, f.name)
			}
		}
	}
	return nil
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if config.Server.LoginRateLimit < 0 {
		return fmt.Errorf("server.loginRateLimit cannot be negative")
	}

	if err := validateAuthConfig(&config.Auth); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if err := validateSessionConfig(&config.Session); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := validateUpstreamConfig(&config.Upstream); err != nil {
		return fmt.Errorf("upstream config: %w", err)
	}

	if len(config.Resources) == 0 {
		return fmt.Errorf("at least one resource is required")
	}
	for name, res := range config.Resources {
		if err := validateResource(name, res); err != nil {
			return err
		}
	}

	return nil
}

func validateAuthConfig(auth *AuthConfig) error {
	switch auth.Provider {
	case AuthProviderKeycloak:
		if auth.Issuer == "" && auth.TokenURL == "" {
			return fmt.Errorf("issuer or tokenUrl is required for keycloak")
		}
		if auth.ClientSecret == "" {
			return fmt.Errorf("clientSecret is required for keycloak")
		}
	case AuthProviderCognito:
		if auth.Region == "" {
			return fmt.Errorf("region is required for cognito")
		}
	case "":
		return fmt.Errorf("provider is required")
	default:
		return fmt.Errorf("unknown provider %q (supported: keycloak, cognito)", auth.Provider)
	}
	if auth.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if auth.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return nil
}

func validateSessionConfig(s *SessionConfig) error {
	if len(s.Secret) < 32 {
		return fmt.Errorf("secret must be at least 32 characters (got %d). Generate with: openssl rand -base64 32", len(s.Secret))
	}
	if s.TTL < 0 || s.RefreshThreshold < 0 || s.CleanupInterval < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	if s.RefreshThreshold >= s.TTL {
		log.LogWarn("Session refreshThreshold %s is not shorter than ttl %s", s.RefreshThreshold, s.TTL)
	}
	switch s.Storage {
	case StorageMemory:
	case StorageFirestore:
		if s.GCPProject == "" {
			return fmt.Errorf("gcpProject is required when using firestore storage")
		}
	default:
		return fmt.Errorf("unknown storage %q (supported: memory, firestore)", s.Storage)
	}
	return nil
}

func validateUpstreamConfig(u *UpstreamConfig) error {
	if u.BaseURL == "" {
		return fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(u.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("baseURL must be an absolute URL, got %q", u.BaseURL)
	}
	if strings.TrimSpace(u.TokenHeader) == "" {
		return fmt.Errorf("tokenHeader is required")
	}
	if u.DefaultPageSize < 0 {
		return fmt.Errorf("defaultPageSize cannot be negative")
	}
	return nil
}

func validateResource(name string, res *ResourceConfig) error {
	if res == nil {
		return fmt.Errorf("resource %s must be an object", name)
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("resource name %s cannot contain '/'", name)
	}
	if res.Path == "" {
		return fmt.Errorf("resource %s must have path", name)
	}
	if res.IDParam == "" {
		return fmt.Errorf("resource %s must have idParam", name)
	}
	return nil
}
