package idp

import (
	"context"
	"strings"
	"time"
)

// Credentials is the username/password pair submitted by the login form.
// It is never persisted.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate rejects empty input before any network call is made
func (c *Credentials) Validate() error {
	c.Username = strings.TrimSpace(c.Username)
	if c.Username == "" && c.Password == "" {
		return invalidInput("Username and password are required")
	}
	if c.Username == "" {
		return invalidInput("Username is required")
	}
	if c.Password == "" {
		return invalidInput("Password is required")
	}
	return nil
}

// Grant is what a provider issues for a successful login or refresh
type Grant struct {
	Provider     string
	SubjectID    string
	Username     string
	Name         string
	Email        string
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// Provider abstracts the identity provider a credential pair is relayed to.
type Provider interface {
	// Type returns the provider identifier ("keycloak", "cognito").
	Type() string

	// CheckConfig reports missing provider configuration without any network call.
	CheckConfig() error

	// PasswordGrant exchanges credentials for tokens in a single request.
	PasswordGrant(ctx context.Context, creds Credentials) (*Grant, error)

	// RefreshGrant renews the tokens of an existing grant.
	RefreshGrant(ctx context.Context, grant Grant) (*Grant, error)
}
