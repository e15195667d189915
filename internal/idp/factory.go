package idp

import (
	"fmt"
	"net/http"

	"github.com/dgellow/prima-front/internal/config"
)

// NewProvider creates a Provider based on the AuthConfig
func NewProvider(cfg config.AuthConfig, httpClient *http.Client) (Provider, error) {
	switch cfg.Provider {
	case config.AuthProviderKeycloak:
		return NewKeycloakProvider(KeycloakConfig{
			Issuer:       cfg.Issuer,
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: string(cfg.ClientSecret),
			Scopes:       cfg.Scopes,
			HTTPClient:   httpClient,
		}), nil

	case config.AuthProviderCognito:
		return NewCognitoProvider(CognitoConfig{
			Region:       cfg.Region,
			ClientID:     cfg.ClientID,
			ClientSecret: string(cfg.ClientSecret),
			Endpoint:     cfg.Endpoint,
			HTTPClient:   httpClient,
		}), nil

	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}
