package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"accountd/core"

	"golang.org/x/oauth2"
)

const (
	TwitterAuthURL    = "https://twitter.com/i/oauth2/authorize"
	TwitterTokenURL   = "https://api.twitter.com/2/oauth2/token"
	TwitterAPIBaseURL = "https://api.twitter.com"
)

type TwitterConfig struct {
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURI  string `yaml:"redirect_uri" env:"REDIRECT_URI"`
	AuthURL      string `yaml:"auth_url" env:"AUTH_URL"`
	TokenURL     string `yaml:"token_url" env:"TOKEN_URL"`
	APIBaseURL   string `yaml:"api_base_url" env:"API_BASE_URL"`
}

// TwitterProvider signs in through Twitter's OAuth 2.0 flow. Twitter never
// discloses an email address, so accounts created through it get a sentinel one.
type TwitterProvider struct {
	oauth      *oauth2.Config
	meURL      string
	httpClient *http.Client
}

func NewTwitterProvider(config *TwitterConfig) *TwitterProvider {
	authURL := config.AuthURL
	if authURL == "" {
		authURL = TwitterAuthURL
	}
	tokenURL := config.TokenURL
	if tokenURL == "" {
		tokenURL = TwitterTokenURL
	}
	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = TwitterAPIBaseURL
	}

	return &TwitterProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURI,
			Scopes:       []string{"tweet.read", "users.read", "offline.access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		meURL:      apiBaseURL + "/2/users/me?user.fields=location,profile_image_url",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type twitterUserResponse struct {
	Data struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Username        string `json:"username"`
		Location        string `json:"location"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}

func (t *TwitterProvider) Provider() core.Provider {
	return core.ProviderTwitter
}

func (t *TwitterProvider) SupportsEmail() bool {
	return false
}

func (t *TwitterProvider) AuthCodeURL(state, verifier string) string {
	if verifier == "" {
		return t.oauth.AuthCodeURL(state)
	}
	return t.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (t *TwitterProvider) Exchange(ctx context.Context, code, verifier string) (*core.Credentials, error) {
	return exchange(ctx, t.oauth, t.httpClient, code, verifier)
}

func (t *TwitterProvider) FetchProfile(ctx context.Context, credentials *core.Credentials) (*core.ProviderProfile, error) {
	raw, err := fetchProfileDocument(ctx, t.httpClient, t.meURL, credentials.AccessToken)
	if err != nil {
		return nil, err
	}
	return t.ExtractProfile(raw)
}

func (t *TwitterProvider) ExtractProfile(raw []byte) (*core.ProviderProfile, error) {
	var resp twitterUserResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderUserInfo, err)
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("%w: missing id", core.ErrProviderUserInfo)
	}

	return &core.ProviderProfile{
		ID:          resp.Data.ID,
		Username:    resp.Data.Username,
		DisplayName: resp.Data.Name,
		Location:    resp.Data.Location,
		Picture:     resp.Data.ProfileImageURL,
	}, nil
}
