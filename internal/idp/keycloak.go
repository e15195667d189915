package idp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/dgellow/prima-front/internal/log"
	"golang.org/x/oauth2"
)

// KeycloakConfig configures the Keycloak password-grant provider
type KeycloakConfig struct {
	// Issuer is the realm URL; the token endpoint is derived from it.
	Issuer string
	// TokenURL overrides the derived token endpoint.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	HTTPClient   *http.Client
}

// KeycloakProvider relays credentials with the OAuth2 resource owner password grant
type KeycloakProvider struct {
	config     oauth2.Config
	httpClient *http.Client
}

// NewKeycloakProvider creates a Keycloak provider
func NewKeycloakProvider(cfg KeycloakConfig) *KeycloakProvider {
	tokenURL := cfg.TokenURL
	if tokenURL == "" && cfg.Issuer != "" {
		tokenURL = strings.TrimRight(cfg.Issuer, "/") + "/protocol/openid-connect/token"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &KeycloakProvider{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL: tokenURL,
				// Credentials travel in the form body; one request, no auth-style probing.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// Type returns the provider type
func (p *KeycloakProvider) Type() string {
	return "keycloak"
}

// CheckConfig validates the provider has everything it needs
func (p *KeycloakProvider) CheckConfig() error {
	switch {
	case p.config.Endpoint.TokenURL == "":
		return providerConfigError("Authentication server is not configured", errors.New("keycloak issuer/token URL missing"))
	case p.config.ClientID == "":
		return providerConfigError("Authentication server is not configured", errors.New("keycloak client id missing"))
	case p.config.ClientSecret == "":
		return providerConfigError("Authentication server is not configured", errors.New("keycloak client secret missing"))
	}
	return nil
}

// PasswordGrant exchanges the credential pair for tokens
func (p *KeycloakProvider) PasswordGrant(ctx context.Context, creds Credentials) (*Grant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.PasswordCredentialsToken(ctx, creds.Username, creds.Password)
	if err != nil {
		return nil, classifyOAuth2Error(err)
	}
	return p.grantFromToken(token, creds.Username), nil
}

// RefreshGrant uses the refresh_token grant
func (p *KeycloakProvider) RefreshGrant(ctx context.Context, grant Grant) (*Grant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: grant.RefreshToken}).Token()
	if err != nil {
		return nil, classifyOAuth2Error(err)
	}

	refreshed := p.grantFromToken(token, grant.Username)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = grant.RefreshToken
	}
	if refreshed.IDToken == "" {
		refreshed.IDToken = grant.IDToken
		refreshed.SubjectID = grant.SubjectID
		refreshed.Name = grant.Name
		refreshed.Email = grant.Email
	}
	return refreshed, nil
}

func (p *KeycloakProvider) grantFromToken(token *oauth2.Token, username string) *Grant {
	idToken, _ := token.Extra("id_token").(string)
	g := &Grant{
		Provider:     p.Type(),
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      idToken,
		Expiry:       token.Expiry,
	}
	applyIdentity(g, username, idToken, token.AccessToken)
	return g
}

// classifyOAuth2Error maps x/oauth2 token errors onto the relay taxonomy.
// The user-facing message follows error_description, then error, then a
// status default.
func classifyOAuth2Error(err error) *Error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		log.LogDebugWithFields("idp", "Token endpoint rejected request", map[string]any{
			"status":            status,
			"error":             rerr.ErrorCode,
			"error_description": rerr.ErrorDescription,
		})

		message := rerr.ErrorDescription
		if message == "" {
			message = rerr.ErrorCode
		}

		switch {
		case status >= 500:
			return &Error{Kind: KindUpstreamUnavailable, Message: "Authentication server is unavailable", Cause: err}
		case rerr.ErrorCode == "invalid_client", rerr.ErrorCode == "unauthorized_client", rerr.ErrorCode == "unsupported_grant_type":
			return providerConfigError("Authentication server rejected the client configuration", err)
		case rerr.ErrorCode == "invalid_grant":
			return invalidCredentials(keycloakReason(rerr.ErrorDescription), message, err)
		case rerr.ErrorCode == "invalid_request":
			if message == "" {
				message = "Invalid request"
			}
			return &Error{Kind: KindInvalidInput, Message: message, Cause: err}
		case rerr.ErrorCode == "" && status != http.StatusUnauthorized && status != http.StatusForbidden:
			// Non-2xx without an OAuth error body
			return malformedResponse(err)
		default:
			if message == "" {
				message = "Invalid credentials"
			}
			return invalidCredentials(ReasonBadCredentials, message, err)
		}
	}

	if isTransportError(err) {
		return upstreamUnavailable(err)
	}
	return malformedResponse(err)
}

func keycloakReason(description string) string {
	switch strings.ToLower(description) {
	case "account disabled":
		return ReasonAccountDisabled
	case "account temporarily disabled":
		return ReasonAccountLocked
	case "account is not fully set up":
		return ReasonUserNotConfirmed
	default:
		return ReasonBadCredentials
	}
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
