package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/dgellow/prima-front/internal/crypto"
	"github.com/dgellow/prima-front/internal/log"
)

// CognitoConfig configures the Cognito USER_PASSWORD_AUTH provider
type CognitoConfig struct {
	Region       string
	ClientID     string
	ClientSecret string
	// Endpoint overrides the regional Cognito endpoint.
	Endpoint    string
	HTTPClient  *http.Client
	Credentials aws.CredentialsProvider
}

type cognitoAPI interface {
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
}

// CognitoProvider relays credentials to an AWS Cognito user pool app client
type CognitoProvider struct {
	client       cognitoAPI
	region       string
	clientID     string
	clientSecret string
}

// NewCognitoProvider creates a Cognito provider. InitiateAuth needs no AWS
// credentials, so anonymous credentials are used unless some are given.
func NewCognitoProvider(cfg CognitoConfig) *CognitoProvider {
	creds := cfg.Credentials
	if creds == nil {
		creds = aws.AnonymousCredentials{}
	}

	opts := cip.Options{
		Region:      cfg.Region,
		Credentials: creds,
		Retryer:     aws.NopRetryer{},
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.HTTPClient != nil {
		opts.HTTPClient = cfg.HTTPClient
	}

	return &CognitoProvider{
		client:       cip.New(opts),
		region:       cfg.Region,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}
}

// Type returns the provider type
func (p *CognitoProvider) Type() string {
	return "cognito"
}

// CheckConfig validates the provider has everything it needs
func (p *CognitoProvider) CheckConfig() error {
	switch {
	case p.region == "":
		return providerConfigError("Authentication server is not configured", errors.New("cognito region missing"))
	case p.clientID == "":
		return providerConfigError("Authentication server is not configured", errors.New("cognito app client id missing"))
	}
	return nil
}

// PasswordGrant runs InitiateAuth with USER_PASSWORD_AUTH
func (p *CognitoProvider) PasswordGrant(ctx context.Context, creds Credentials) (*Grant, error) {
	params := map[string]string{
		"USERNAME": creds.Username,
		"PASSWORD": creds.Password,
	}
	if p.clientSecret != "" {
		params["SECRET_HASH"] = crypto.SecretHash(creds.Username, p.clientID, p.clientSecret)
	}

	out, err := p.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(p.clientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, classifyCognitoError(err)
	}
	return p.grantFromOutput(out, creds.Username, "")
}

// RefreshGrant runs InitiateAuth with REFRESH_TOKEN_AUTH. Cognito does not
// rotate the refresh token, so the existing one is kept.
func (p *CognitoProvider) RefreshGrant(ctx context.Context, grant Grant) (*Grant, error) {
	params := map[string]string{
		"REFRESH_TOKEN": grant.RefreshToken,
	}
	if p.clientSecret != "" {
		params["SECRET_HASH"] = crypto.SecretHash(grant.Username, p.clientID, p.clientSecret)
	}

	out, err := p.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(p.clientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, classifyCognitoError(err)
	}
	return p.grantFromOutput(out, grant.Username, grant.RefreshToken)
}

func (p *CognitoProvider) grantFromOutput(out *cip.InitiateAuthOutput, username, refreshToken string) (*Grant, error) {
	if out.ChallengeName != "" {
		return nil, invalidCredentials(ReasonChallengeRequired,
			"Additional sign-in step required",
			fmt.Errorf("cognito challenge %s", out.ChallengeName))
	}

	res := out.AuthenticationResult
	if res == nil || aws.ToString(res.AccessToken) == "" {
		return nil, malformedResponse(errors.New("cognito response missing authentication result"))
	}

	g := &Grant{
		Provider:     p.Type(),
		AccessToken:  aws.ToString(res.AccessToken),
		RefreshToken: aws.ToString(res.RefreshToken),
		IDToken:      aws.ToString(res.IdToken),
	}
	if g.RefreshToken == "" {
		g.RefreshToken = refreshToken
	}
	if res.ExpiresIn > 0 {
		g.Expiry = time.Now().Add(time.Duration(res.ExpiresIn) * time.Second)
	}
	applyIdentity(g, username, g.IDToken, g.AccessToken)
	return g, nil
}

// classifyCognitoError maps Cognito API exceptions onto the relay taxonomy
func classifyCognitoError(err error) *Error {
	var (
		notAuthorized *types.NotAuthorizedException
		notConfirmed  *types.UserNotConfirmedException
		notFound      *types.UserNotFoundException
		resetRequired *types.PasswordResetRequiredException
		invalidParam  *types.InvalidParameterException
		tooMany       *types.TooManyRequestsException
		internal      *types.InternalErrorException
		resource      *types.ResourceNotFoundException
		invalidConfig *types.InvalidUserPoolConfigurationException
	)

	switch {
	case errors.As(err, &notAuthorized):
		if strings.Contains(notAuthorized.ErrorMessage(), "Password attempts exceeded") {
			return invalidCredentials(ReasonAccountLocked, "Too many failed attempts. Account temporarily locked", err)
		}
		if strings.Contains(notAuthorized.ErrorMessage(), "User is disabled") {
			return invalidCredentials(ReasonAccountDisabled, "Account disabled", err)
		}
		return invalidCredentials(ReasonBadCredentials, "Invalid username or password", err)
	case errors.As(err, &notConfirmed):
		return invalidCredentials(ReasonUserNotConfirmed, "User is not confirmed", err)
	case errors.As(err, &notFound):
		return invalidCredentials(ReasonUserNotFound, "User does not exist", err)
	case errors.As(err, &resetRequired):
		return invalidCredentials(ReasonPasswordResetRequired, "Password reset required", err)
	case errors.As(err, &invalidParam):
		return &Error{Kind: KindInvalidInput, Message: "Invalid request", Cause: err}
	case errors.As(err, &tooMany), errors.As(err, &internal):
		return &Error{Kind: KindUpstreamUnavailable, Message: "Authentication server is unavailable", Cause: err}
	case errors.As(err, &resource), errors.As(err, &invalidConfig):
		return providerConfigError("Authentication server rejected the client configuration", err)
	}

	var sendErr *smithyhttp.RequestSendError
	if errors.As(err, &sendErr) || isTransportError(err) {
		return upstreamUnavailable(err)
	}

	var deserErr *smithy.DeserializationError
	if errors.As(err, &deserErr) {
		return malformedResponse(err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		log.LogDebugWithFields("idp", "Unmapped Cognito error", map[string]any{
			"code":    apiErr.ErrorCode(),
			"message": apiErr.ErrorMessage(),
		})
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() >= 500 {
			return &Error{Kind: KindUpstreamUnavailable, Message: "Authentication server is unavailable", Cause: err}
		}
		return invalidCredentials(ReasonBadCredentials, "Invalid credentials", err)
	}

	return malformedResponse(err)
}
