package idp

import (
	"github.com/golang-jwt/jwt/v5"
)

// identityClaims are the profile fields read from an ID or access token
type identityClaims struct {
	Subject           string
	PreferredUsername string
	CognitoUsername   string
	Name              string
	Email             string
}

// readIdentity extracts profile claims from the first token that parses.
// Tokens arrive directly from the provider's token endpoint over TLS, so
// the signature is not verified here.
func readIdentity(tokens ...string) (identityClaims, bool) {
	parser := jwt.NewParser()
	for _, raw := range tokens {
		if raw == "" {
			continue
		}
		claims := jwt.MapClaims{}
		if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
			continue
		}
		sub, _ := claims.GetSubject()
		return identityClaims{
			Subject:           sub,
			PreferredUsername: stringClaim(claims, "preferred_username"),
			CognitoUsername:   stringClaim(claims, "cognito:username"),
			Name:              stringClaim(claims, "name"),
			Email:             stringClaim(claims, "email"),
		}, true
	}
	return identityClaims{}, false
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// applyIdentity fills the grant's identity from token claims, falling back
// to the submitted username.
func applyIdentity(g *Grant, username string, tokens ...string) {
	g.Username = username
	g.SubjectID = username
	g.Name = username

	id, ok := readIdentity(tokens...)
	if !ok {
		return
	}
	if id.Subject != "" {
		g.SubjectID = id.Subject
	}
	switch {
	case id.CognitoUsername != "":
		g.Username = id.CognitoUsername
	case id.PreferredUsername != "":
		g.Username = id.PreferredUsername
	}
	switch {
	case id.Name != "":
		g.Name = id.Name
	case g.Username != "":
		g.Name = g.Username
	}
	g.Email = id.Email
}
