package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"accountd/core"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const GoogleUserInfoBaseURL = "https://www.googleapis.com"

type GoogleConfig struct {
	ClientID        string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret    string `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURI     string `yaml:"redirect_uri" env:"REDIRECT_URI"`
	AuthURL         string `yaml:"auth_url" env:"AUTH_URL"`   // Defaults to google.Endpoint
	TokenURL        string `yaml:"token_url" env:"TOKEN_URL"` // Defaults to google.Endpoint
	UserInfoBaseURL string `yaml:"userinfo_base_url" env:"USERINFO_BASE_URL"`
}

type GoogleProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

func NewGoogleProvider(config *GoogleConfig) *GoogleProvider {
	endpoint := google.Endpoint
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}

	userInfoBaseURL := config.UserInfoBaseURL
	if userInfoBaseURL == "" {
		userInfoBaseURL = GoogleUserInfoBaseURL
	}

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURI,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoBaseURL + "/oauth2/v2/userinfo",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Gender        string `json:"gender"`
	Picture       string `json:"picture"`
}

func (g *GoogleProvider) Provider() core.Provider {
	return core.ProviderGoogle
}

func (g *GoogleProvider) SupportsEmail() bool {
	return true
}

func (g *GoogleProvider) AuthCodeURL(state, verifier string) string {
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	return g.oauth.AuthCodeURL(state, opts...)
}

func (g *GoogleProvider) Exchange(ctx context.Context, code, verifier string) (*core.Credentials, error) {
	return exchange(ctx, g.oauth, g.httpClient, code, verifier)
}

func (g *GoogleProvider) FetchProfile(ctx context.Context, credentials *core.Credentials) (*core.ProviderProfile, error) {
	raw, err := fetchProfileDocument(ctx, g.httpClient, g.userInfoURL, credentials.AccessToken)
	if err != nil {
		return nil, err
	}
	return g.ExtractProfile(raw)
}

func (g *GoogleProvider) ExtractProfile(raw []byte) (*core.ProviderProfile, error) {
	var userInfo googleUserInfo
	if err := json.Unmarshal(raw, &userInfo); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderUserInfo, err)
	}
	if userInfo.ID == "" {
		return nil, fmt.Errorf("%w: missing id", core.ErrProviderUserInfo)
	}

	// An unverified address could belong to someone else.
	email := userInfo.Email
	if !userInfo.VerifiedEmail {
		email = ""
	}

	return &core.ProviderProfile{
		ID:          userInfo.ID,
		DisplayName: userInfo.Name,
		Email:       email,
		Gender:      userInfo.Gender,
		Picture:     userInfo.Picture,
	}, nil
}
