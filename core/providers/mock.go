package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"accountd/core"
)

const (
	ProviderMock core.Provider = "mock"
)

// Predefined test authorization codes
const (
	ValidCode1 = "mock_auth_code_1"
	ValidCode2 = "mock_auth_code_2"
	ValidCode3 = "mock_auth_code_3"
)

// Predefined test credentials
var (
	Credentials1 = &core.Credentials{AccessToken: "mock_access_token_1", Secret: "mock_secret_1"}
	Credentials2 = &core.Credentials{AccessToken: "mock_access_token_2", Secret: "mock_secret_2"}
	Credentials3 = &core.Credentials{AccessToken: "mock_access_token_3"}
)

// Predefined test profiles
var (
	Profile1 = &core.ProviderProfile{
		ID:          "mock_user_1",
		Username:    "mockone",
		DisplayName: "Mock User One",
		Email:       "user1@mock.test",
		Picture:     "https://mock.test/avatar1.jpg",
	}

	Profile2 = &core.ProviderProfile{
		ID:          "mock_user_2",
		Username:    "mocktwo",
		DisplayName: "Mock User Two",
		Email:       "user2@mock.test",
		Location:    "Lisbon",
	}

	Profile3 = &core.ProviderProfile{
		ID:          "mock_user_3",
		Username:    "mockthree",
		DisplayName: "Mock User Three",
	}
)

// MockProvider is a test implementation of AuthProvider
type MockProvider struct {
	name             core.Provider
	supportsEmail    bool
	codeToCredential map[string]*core.Credentials
	accessToProfile  map[string]*core.ProviderProfile

	// track method calls for verification
	ExchangeCalls     int
	FetchProfileCalls int
}

func NewMockProvider() *MockProvider {
	return NewNamedMockProvider(ProviderMock, true)
}

// NewNamedMockProvider returns a mock standing in for the given provider.
func NewNamedMockProvider(name core.Provider, supportsEmail bool) *MockProvider {
	m := &MockProvider{
		name:             name,
		supportsEmail:    supportsEmail,
		codeToCredential: make(map[string]*core.Credentials),
		accessToProfile:  make(map[string]*core.ProviderProfile),
	}
	m.Register(ValidCode1, Credentials1, Profile1)
	m.Register(ValidCode2, Credentials2, Profile2)
	m.Register(ValidCode3, Credentials3, Profile3)
	return m
}

// Register makes code exchange to credentials whose access token yields profile.
func (m *MockProvider) Register(code string, credentials *core.Credentials, profile *core.ProviderProfile) {
	m.codeToCredential[code] = credentials
	m.accessToProfile[credentials.AccessToken] = profile
}

func (m *MockProvider) Provider() core.Provider {
	return m.name
}

func (m *MockProvider) SupportsEmail() bool {
	return m.supportsEmail
}

func (m *MockProvider) AuthCodeURL(state, verifier string) string {
	query := url.Values{}
	query.Set("state", state)
	query.Set("code_challenge", verifier)
	return fmt.Sprintf("https://mock.test/authorize?%s", query.Encode())
}

func (m *MockProvider) Exchange(ctx context.Context, code, verifier string) (*core.Credentials, error) {
	m.ExchangeCalls++

	credentials, ok := m.codeToCredential[code]
	if !ok {
		return nil, core.ErrProviderTokenExchange
	}

	return credentials, nil
}

func (m *MockProvider) FetchProfile(ctx context.Context, credentials *core.Credentials) (*core.ProviderProfile, error) {
	m.FetchProfileCalls++

	profile, ok := m.accessToProfile[credentials.AccessToken]
	if !ok {
		return nil, core.ErrProviderUserInfo
	}

	raw, err := json.Marshal(profile)
	if err != nil {
		return nil, err
	}
	return m.ExtractProfile(raw)
}

func (m *MockProvider) ExtractProfile(raw []byte) (*core.ProviderProfile, error) {
	var profile core.ProviderProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderUserInfo, err)
	}
	if !m.supportsEmail {
		profile.Email = ""
	}
	return &profile, nil
}
