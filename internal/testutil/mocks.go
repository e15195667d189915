package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dgellow/prima-front/internal/idp"
)

// MockProvider is a testify mock of idp.Provider
type MockProvider struct {
	mock.Mock
}

var _ idp.Provider = (*MockProvider)(nil)

func (m *MockProvider) Type() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockProvider) CheckConfig() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockProvider) PasswordGrant(ctx context.Context, creds idp.Credentials) (*idp.Grant, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.Grant), args.Error(1)
}

func (m *MockProvider) RefreshGrant(ctx context.Context, grant idp.Grant) (*idp.Grant, error) {
	args := m.Called(ctx, grant)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.Grant), args.Error(1)
}

// NewMockProvider returns a keycloak-typed mock with a valid configuration.
// Grant expectations are left to the caller.
func NewMockProvider() *MockProvider {
	m := &MockProvider{}
	m.On("Type").Return("keycloak").Maybe()
	m.On("CheckConfig").Return(nil).Maybe()
	return m
}
