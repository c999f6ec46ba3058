package core

import (
	"context"
	"errors"
)

var (
	ErrProviderTokenExchange = errors.New("provider token exchange failed")
	ErrProviderUserInfo      = errors.New("provider user info request failed")
)

// Credentials are the tokens returned by a provider after a successful callback.
// Secret is the OAuth 1.0a token secret or the OAuth 2.0 refresh token, when issued.
type Credentials struct {
	AccessToken string
	Secret      string
}

// ProviderProfile is a provider's user profile normalized to the fields the
// resolver understands. Fields a provider does not supply stay empty.
type ProviderProfile struct {
	ID          string
	Username    string
	DisplayName string
	Email       string
	Location    string
	Gender      string
	Picture     string
}

func (p *ProviderProfile) toProfile() Profile {
	return Profile{
		Name:     p.DisplayName,
		Location: p.Location,
		Gender:   p.Gender,
		Picture:  p.Picture,
	}
}

type AuthProvider interface {
	Provider() Provider

	// SupportsEmail reports whether profiles from this provider carry a real email.
	// Accounts created through providers that do not get a sentinel email.
	SupportsEmail() bool

	AuthCodeURL(state, verifier string) string

	Exchange(ctx context.Context, code, verifier string) (*Credentials, error)

	FetchProfile(ctx context.Context, credentials *Credentials) (*ProviderProfile, error)

	// ExtractProfile parses the provider's raw profile document.
	ExtractProfile(raw []byte) (*ProviderProfile, error)
}
