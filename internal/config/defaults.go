package config

import "time"

// Defaults applied when the config file leaves a field empty
const (
	DefaultAddr             = ":8080"
	DefaultName             = "prima-front"
	DefaultAuthTimeout      = 10 * time.Second
	DefaultUpstreamTimeout  = 30 * time.Second
	DefaultSessionTTL       = 8 * time.Hour
	DefaultRefreshThreshold = 5 * time.Minute
	DefaultCleanupInterval  = 10 * time.Minute
	DefaultLoginRateLimit   = 10
	DefaultTokenHeader      = "token"
	DefaultTenantParam      = "COMPID"
	DefaultTenant           = "PLL"
	DefaultPageNumberParam  = "pageNumber"
	DefaultPageSizeParam    = "pageSize"
	DefaultPageSize         = 300
	DefaultCreatedByField   = "CRTUSR"
	DefaultChangedByField   = "CHGUSR"
	DefaultFirestoreDB      = "(default)"
	DefaultFirestoreColl    = "prima_front_sessions"
)

// DefaultResources are the master-data resources of the Prima dashboard
func DefaultResources() map[string]*ResourceConfig {
	return map[string]*ResourceConfig{
		"carriers": {
			Path:    "carrier",
			IDParam: "CARID",
			Filters: []string{"FilterId", "FilterName"},
		},
		"agents": {
			Path:    "agent",
			IDParam: "AGNTID",
			Filters: []string{"FilterAGNTID", "FilterAGNTDSC"},
		},
		"clients": {
			Path:    "client",
			IDParam: "CLNTID",
			Filters: []string{"FilterCLNTID", "FilterCLNTDSC"},
		},
	}
}

// ApplyDefaults fills every unset field with its default
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = DefaultName
	}

	if cfg.Auth.Timeout == 0 {
		cfg.Auth.Timeout = DefaultAuthTimeout
	}
	if cfg.Auth.Provider == AuthProviderKeycloak && len(cfg.Auth.Scopes) == 0 {
		cfg.Auth.Scopes = []string{"openid"}
	}

	s := &cfg.Session
	if s.TTL == 0 {
		s.TTL = DefaultSessionTTL
	}
	if s.RefreshThreshold == 0 {
		s.RefreshThreshold = DefaultRefreshThreshold
	}
	if s.CleanupInterval == 0 {
		s.CleanupInterval = DefaultCleanupInterval
	}
	if s.Storage == "" {
		s.Storage = StorageMemory
	}
	if s.Storage == StorageFirestore {
		if s.FirestoreDatabase == "" {
			s.FirestoreDatabase = DefaultFirestoreDB
		}
		if s.FirestoreCollection == "" {
			s.FirestoreCollection = DefaultFirestoreColl
		}
	}

	u := &cfg.Upstream
	if u.TokenHeader == "" {
		u.TokenHeader = DefaultTokenHeader
	}
	if u.Timeout == 0 {
		u.Timeout = DefaultUpstreamTimeout
	}
	if u.TenantParam == "" {
		u.TenantParam = DefaultTenantParam
	}
	if u.DefaultTenant == "" {
		u.DefaultTenant = DefaultTenant
	}
	if u.PageNumberParam == "" {
		u.PageNumberParam = DefaultPageNumberParam
	}
	if u.PageSizeParam == "" {
		u.PageSizeParam = DefaultPageSizeParam
	}
	if u.DefaultPageSize == 0 {
		u.DefaultPageSize = DefaultPageSize
	}
	if u.CreatedByField == "" {
		u.CreatedByField = DefaultCreatedByField
	}
	if u.ChangedByField == "" {
		u.ChangedByField = DefaultChangedByField
	}

	if len(cfg.Resources) == 0 {
		cfg.Resources = DefaultResources()
	}
}

// InitTemplate is the config written by -config-init
const InitTemplate = `{
  "version": "prima-front/v1",
  "server": {
    "baseURL": {"$env": "PRIMA_FRONT_BASE_URL"},
    "addr": ":8080",
    "allowedOrigins": [],
    "loginRateLimit": 10,
    "trustProxy": false
  },
  "auth": {
    "provider": "keycloak",
    "issuer": {"$env": "KEYCLOAK_ISSUER"},
    "clientId": {"$env": "KEYCLOAK_CLIENT_ID"},
    "clientSecret": {"$env": "KEYCLOAK_CLIENT_SECRET"},
    "timeout": "10s"
  },
  "session": {
    "secret": {"$env": "SESSION_SECRET"},
    "ttl": "8h",
    "refreshThreshold": "5m",
    "storage": "memory"
  },
  "upstream": {
    "baseURL": {"$env": "PRIMA_API_URL"},
    "tokenHeader": "token",
    "defaultTenant": "PLL"
  }
}
`
