package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateBytes(data), nil
}

// ValidateBytes validates a config document structure without resolving env vars
func ValidateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": %q", Version)
	} else if version != Version {
		result.addError("version", "unsupported version '%s' - use '%s'", version, Version)
	}

	validateServerStructure(rawConfig, result)
	validateAuthStructure(rawConfig, result)
	validateSessionStructure(rawConfig, result)
	validateUpstreamStructure(rawConfig, result)
	validateResourcesStructure(rawConfig, result)

	return result
}

func validateServerStructure(rawConfig map[string]any, result *ValidationResult) {
	server, ok := rawConfig["server"].(map[string]any)
	if !ok {
		if _, present := rawConfig["server"]; present {
			result.addError("server", "server must be an object")
		}
		return
	}
	if limit, ok := server["loginRateLimit"].(float64); ok {
		if limit < 0 {
			result.addError("server.loginRateLimit", "loginRateLimit cannot be negative")
		} else if limit == 0 {
			result.addWarning("server.loginRateLimit", "loginRateLimit is 0 - login attempts are not rate limited")
		}
	}
	if origins, ok := server["allowedOrigins"].([]any); ok {
		for i, o := range origins {
			if s, ok := o.(string); ok && s == "*" {
				result.addWarning(fmt.Sprintf("server.allowedOrigins[%d]", i), "'*' allows any origin - omit allowedOrigins for the default permissive policy")
			}
		}
	}
}

func validateAuthStructure(rawConfig map[string]any, result *ValidationResult) {
	auth, ok := rawConfig["auth"].(map[string]any)
	if !ok {
		result.addError("auth", "auth field is required and must be an object")
		return
	}

	provider, ok := auth["provider"].(string)
	if !ok {
		result.addError("auth.provider", "provider is required. Options: keycloak, cognito")
		return
	}

	if _, ok := auth["clientId"]; !ok {
		result.addError("auth.clientId", "clientId is required")
	}

	switch provider {
	case string(AuthProviderKeycloak):
		_, hasIssuer := auth["issuer"]
		_, hasTokenURL := auth["tokenUrl"]
		if !hasIssuer && !hasTokenURL {
			result.addError("auth.issuer", "issuer is required for keycloak. Example: \"https://sso.example.com/realms/prima\"")
		}
		if secret, ok := auth["clientSecret"]; ok {
			validateSecretReference(secret, "auth.clientSecret", result)
		} else {
			result.addError("auth.clientSecret", "clientSecret is required for keycloak")
		}
	case string(AuthProviderCognito):
		if _, ok := auth["region"]; !ok {
			result.addError("auth.region", "region is required for cognito. Example: \"eu-west-1\"")
		}
		if secret, ok := auth["clientSecret"]; ok {
			validateSecretReference(secret, "auth.clientSecret", result)
		}
	default:
		result.addError("auth.provider", "unknown provider '%s' - supported providers: keycloak, cognito", provider)
	}

	validateDurationField(auth, "timeout", "auth.timeout", result)
}

func validateSessionStructure(rawConfig map[string]any, result *ValidationResult) {
	session, ok := rawConfig["session"].(map[string]any)
	if !ok {
		result.addError("session", "session field is required and must be an object")
		return
	}

	if secret, ok := session["secret"]; ok {
		validateSecretReference(secret, "session.secret", result)
	} else {
		result.addError("session.secret", "secret is required. Hint: Must be at least 32 bytes, used to sign session cookies")
	}

	ttl := validateDurationField(session, "ttl", "session.ttl", result)
	threshold := validateDurationField(session, "refreshThreshold", "session.refreshThreshold", result)
	cleanup := validateDurationField(session, "cleanupInterval", "session.cleanupInterval", result)
	if ttl > 0 && threshold >= ttl {
		result.addWarning("session.refreshThreshold", "refreshThreshold (%s) should be shorter than ttl (%s)", threshold, ttl)
	}
	if ttl > 0 && cleanup > ttl {
		result.addWarning("session.cleanupInterval", "cleanupInterval (%s) is greater than ttl (%s) - expired sessions will linger", cleanup, ttl)
	}

	if storage, ok := session["storage"].(string); ok {
		switch StorageKind(storage) {
		case StorageMemory:
		case StorageFirestore:
			if _, ok := session["gcpProject"]; !ok {
				result.addError("session.gcpProject", "gcpProject is required when using firestore storage")
			}
		default:
			result.addError("session.storage", "unknown storage '%s' - supported: memory, firestore", storage)
		}
	}
}

func validateUpstreamStructure(rawConfig map[string]any, result *ValidationResult) {
	upstream, ok := rawConfig["upstream"].(map[string]any)
	if !ok {
		result.addError("upstream", "upstream field is required and must be an object")
		return
	}
	if _, ok := upstream["baseURL"]; !ok {
		result.addError("upstream.baseURL", "baseURL is required. Example: \"https://api.prima.example.com/api\"")
	}
	validateDurationField(upstream, "timeout", "upstream.timeout", result)
}

func validateResourcesStructure(rawConfig map[string]any, result *ValidationResult) {
	value, present := rawConfig["resources"]
	if !present {
		return
	}
	resources, ok := value.(map[string]any)
	if !ok {
		result.addError("resources", "resources must be an object")
		return
	}
	for name, r := range resources {
		path := "resources." + name
		res, ok := r.(map[string]any)
		if !ok {
			result.addError(path, "resource must be an object")
			continue
		}
		if strings.Contains(name, "/") {
			result.addError(path, "resource name cannot contain '/'")
		}
		if _, ok := res["path"].(string); !ok {
			result.addError(path+".path", "path is required. Example: \"carrier\"")
		}
		if _, ok := res["idParam"].(string); !ok {
			result.addError(path+".idParam", "idParam is required. Example: \"CARID\"")
		}
	}
}

// validateDurationField checks an optional duration string and returns its value
func validateDurationField(section map[string]any, key, path string, result *ValidationResult) time.Duration {
	raw, ok := section[key]
	if !ok {
		return 0
	}
	s, ok := raw.(string)
	if !ok {
		result.addError(path, "%s must be a duration string like \"30s\"", key)
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		result.addError(path, "invalid duration '%s': %v", s, err)
		return 0
	}
	if d < 0 {
		result.addError(path, "%s cannot be negative", key)
	}
	return d
}

var bashStyleRegex = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// validateSecretReference requires a secret to be an {"$env": ...} reference
func validateSecretReference(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			result.addError(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1])
			return
		}
		result.addError(path, "secret must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This keeps secrets out of config files")
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			result.addError(path, "secret must use {\"$env\": \"YOUR_ENV_VAR\"} format")
		}
	default:
		result.addError(path, "secret must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", value)
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: JSON syntax prevents accidental shell expansion in scripts/CI", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
