package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// resolveField parses an optional string-or-reference field
func resolveField(raw json.RawMessage, name string) (string, error) {
	if raw == nil {
		return "", nil
	}
	v, err := ParseConfigValue(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", name, err)
	}
	return v, nil
}

func parseDuration(s, name string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return d, nil
}

// UnmarshalJSON implements custom unmarshaling for ServerConfig
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	type rawServer struct {
		BaseURL        json.RawMessage `json:"baseURL"`
		Addr           json.RawMessage `json:"addr"`
		Name           string          `json:"name"`
		AllowedOrigins []string        `json:"allowedOrigins"`
		LoginRateLimit *int            `json:"loginRateLimit"`
		TrustProxy     bool            `json:"trustProxy"`
	}

	var raw rawServer
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if s.BaseURL, err = resolveField(raw.BaseURL, "baseURL"); err != nil {
		return err
	}
	if s.Addr, err = resolveField(raw.Addr, "addr"); err != nil {
		return err
	}
	s.Name = raw.Name
	s.AllowedOrigins = raw.AllowedOrigins
	s.TrustProxy = raw.TrustProxy
	if raw.LoginRateLimit != nil {
		s.LoginRateLimit = *raw.LoginRateLimit
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for AuthConfig
func (a *AuthConfig) UnmarshalJSON(data []byte) error {
	type rawAuth struct {
		Provider     AuthProvider    `json:"provider"`
		Issuer       json.RawMessage `json:"issuer"`
		TokenURL     json.RawMessage `json:"tokenUrl"`
		Region       json.RawMessage `json:"region"`
		Endpoint     json.RawMessage `json:"endpoint"`
		ClientID     json.RawMessage `json:"clientId"`
		ClientSecret json.RawMessage `json:"clientSecret"`
		Scopes       []string        `json:"scopes"`
		Timeout      string          `json:"timeout"`
	}

	var raw rawAuth
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.Provider = raw.Provider
	a.Scopes = raw.Scopes

	var err error
	if a.Issuer, err = resolveField(raw.Issuer, "issuer"); err != nil {
		return err
	}
	if a.TokenURL, err = resolveField(raw.TokenURL, "tokenUrl"); err != nil {
		return err
	}
	if a.Region, err = resolveField(raw.Region, "region"); err != nil {
		return err
	}
	if a.Endpoint, err = resolveField(raw.Endpoint, "endpoint"); err != nil {
		return err
	}
	if a.ClientID, err = resolveField(raw.ClientID, "clientId"); err != nil {
		return err
	}
	secret, err := resolveField(raw.ClientSecret, "clientSecret")
	if err != nil {
		return err
	}
	a.ClientSecret = Secret(secret)

	if a.Timeout, err = parseDuration(raw.Timeout, "timeout"); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for SessionConfig
func (s *SessionConfig) UnmarshalJSON(data []byte) error {
	type rawSession struct {
		Secret              json.RawMessage `json:"secret"`
		TTL                 string          `json:"ttl"`
		RefreshThreshold    string          `json:"refreshThreshold"`
		CleanupInterval     string          `json:"cleanupInterval"`
		Storage             StorageKind     `json:"storage"`
		GCPProject          json.RawMessage `json:"gcpProject"`
		FirestoreDatabase   string          `json:"firestoreDatabase"`
		FirestoreCollection string          `json:"firestoreCollection"`
	}

	var raw rawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Storage = raw.Storage
	s.FirestoreDatabase = raw.FirestoreDatabase
	s.FirestoreCollection = raw.FirestoreCollection

	secret, err := resolveField(raw.Secret, "secret")
	if err != nil {
		return err
	}
	s.Secret = Secret(secret)

	if s.GCPProject, err = resolveField(raw.GCPProject, "gcpProject"); err != nil {
		return err
	}
	if s.TTL, err = parseDuration(raw.TTL, "ttl"); err != nil {
		return err
	}
	if s.RefreshThreshold, err = parseDuration(raw.RefreshThreshold, "refreshThreshold"); err != nil {
		return err
	}
	if s.CleanupInterval, err = parseDuration(raw.CleanupInterval, "cleanupInterval"); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for UpstreamConfig
func (u *UpstreamConfig) UnmarshalJSON(data []byte) error {
	type rawUpstream struct {
		BaseURL         json.RawMessage `json:"baseURL"`
		TokenHeader     string          `json:"tokenHeader"`
		Timeout         string          `json:"timeout"`
		TenantParam     string          `json:"tenantParam"`
		DefaultTenant   json.RawMessage `json:"defaultTenant"`
		PageNumberParam string          `json:"pageNumberParam"`
		PageSizeParam   string          `json:"pageSizeParam"`
		DefaultPageSize int             `json:"defaultPageSize"`
		CreatedByField  string          `json:"createdByField"`
		ChangedByField  string          `json:"changedByField"`
	}

	var raw rawUpstream
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	u.TokenHeader = raw.TokenHeader
	u.TenantParam = raw.TenantParam
	u.PageNumberParam = raw.PageNumberParam
	u.PageSizeParam = raw.PageSizeParam
	u.DefaultPageSize = raw.DefaultPageSize
	u.CreatedByField = raw.CreatedByField
	u.ChangedByField = raw.ChangedByField

	var err error
	if u.BaseURL, err = resolveField(raw.BaseURL, "baseURL"); err != nil {
		return err
	}
	if u.DefaultTenant, err = resolveField(raw.DefaultTenant, "defaultTenant"); err != nil {
		return err
	}
	if u.Timeout, err = parseDuration(raw.Timeout, "timeout"); err != nil {
		return err
	}
	return nil
}
