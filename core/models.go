package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Provider represents an OAuth identity issuer
type Provider string

const (
	ProviderGoogle  Provider = "google"
	ProviderTwitter Provider = "twitter"
	// Future providers can be added here
)

// User represents an account with optional local credentials and linked OAuth accounts
type User struct {
	ID           uuid.UUID           `json:"id"`
	Email        string              `json:"email,omitempty"` // Empty when the account has no email
	PasswordHash string              `json:"-"`               // bcrypt hash, empty for provider-only accounts
	Providers    map[Provider]string `json:"providers,omitempty"`
	Tokens       []Token             `json:"-"`
	Profile      Profile             `json:"profile"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Token is a provider credential issued to a user. AccessToken and TokenSecret
// hold ciphertext produced by CryptoService.EncryptToken.
type Token struct {
	Kind        Provider
	AccessToken string
	TokenSecret string
}

type Profile struct {
	Name     string `json:"name,omitempty"`
	Location string `json:"location,omitempty"`
	Gender   string `json:"gender,omitempty"`
	Picture  string `json:"picture,omitempty"`
}

// Fill copies fields from other into p, leaving fields that are already set untouched.
func (p *Profile) Fill(other Profile) {
	p.Name = firstNonEmpty(p.Name, other.Name)
	p.Location = firstNonEmpty(p.Location, other.Location)
	p.Gender = firstNonEmpty(p.Gender, other.Gender)
	p.Picture = firstNonEmpty(p.Picture, other.Picture)
}

func firstNonEmpty(current, candidate string) string {
	if current != "" {
		return current
	}
	return candidate
}

// ProviderID returns the id assigned to the user by provider.
func (u *User) ProviderID(provider Provider) (string, bool) {
	id, ok := u.Providers[provider]
	return id, ok && id != ""
}

// HasToken reports whether the user holds at least one token issued by provider.
func (u *User) HasToken(provider Provider) bool {
	for _, token := range u.Tokens {
		if token.Kind == provider {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so stores can hand out users without sharing maps or slices.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	clone := *u
	if u.Providers != nil {
		clone.Providers = make(map[Provider]string, len(u.Providers))
		for provider, id := range u.Providers {
			clone.Providers[provider] = id
		}
	}
	if u.Tokens != nil {
		clone.Tokens = append([]Token(nil), u.Tokens...)
	}
	return &clone
}

var emailCaser = cases.Lower(language.Und)

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return emailCaser.String(strings.TrimSpace(email))
}
