package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConflict = errors.New("conflict")

	// ErrProviderLinked means the provider account belongs to a different user.
	ErrProviderLinked = fmt.Errorf("%w: provider account already linked to a different account", ErrConflict)

	// ErrEmailRegistered means another account already uses the email.
	ErrEmailRegistered = fmt.Errorf("%w: email already registered", ErrConflict)
)

// PersistenceError reports a failed store write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type Outcome int

const (
	OutcomeSignedIn Outcome = iota + 1
	OutcomeLinked
	OutcomeCreated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSignedIn:
		return "signed_in"
	case OutcomeLinked:
		return "linked"
	case OutcomeCreated:
		return "created"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome Outcome
	User    *User
}

// CallbackInput is everything the resolver needs from an OAuth callback.
// SessionUser is nil for anonymous requests.
type CallbackInput struct {
	SessionUser *User
	Credentials Credentials
	Profile     ProviderProfile
}

// Resolver decides whether an OAuth callback signs in, links or creates an account.
type Resolver struct {
	repo   Repository
	crypto *CryptoService
	now    func() time.Time
}

func NewResolver(repo Repository, crypto *CryptoService) *Resolver {
	return &Resolver{
		repo:   repo,
		crypto: crypto,
		now:    time.Now,
	}
}

func (r *Resolver) Resolve(ctx context.Context, strategy AuthProvider, in CallbackInput) (*Result, error) {
	if in.Profile.ID == "" {
		return nil, fmt.Errorf("%w: profile has no id", ErrProviderUserInfo)
	}
	if in.SessionUser != nil {
		return r.link(ctx, strategy.Provider(), in)
	}
	return r.signInOrCreate(ctx, strategy, in)
}

func (r *Resolver) link(ctx context.Context, provider Provider, in CallbackInput) (*Result, error) {
	owner, err := r.findByProvider(ctx, provider, in.Profile.ID)
	if err != nil {
		return nil, err
	}
	if owner != nil && owner.ID != in.SessionUser.ID {
		return nil, ErrProviderLinked
	}

	user, err := r.repo.FindByID(ctx, in.SessionUser.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session user: %w", err)
	}

	token, err := r.sealToken(provider, in.Credentials)
	if err != nil {
		return nil, err
	}

	linkProvider(user, provider, token, in.Profile, r.now().UTC())

	if err := r.repo.Save(ctx, user); err != nil {
		// Another account claimed the provider id after the lookup above.
		if errors.Is(err, ErrAlreadyExists) {
			return nil, ErrProviderLinked
		}
		return nil, &PersistenceError{Op: "link " + string(provider) + " account", Err: err}
	}

	return &Result{Outcome: OutcomeLinked, User: user}, nil
}

func (r *Resolver) signInOrCreate(ctx context.Context, strategy AuthProvider, in CallbackInput) (*Result, error) {
	provider := strategy.Provider()

	owner, err := r.findByProvider(ctx, provider, in.Profile.ID)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		return &Result{Outcome: OutcomeSignedIn, User: owner}, nil
	}

	email := NormalizeEmail(in.Profile.Email)
	if !strategy.SupportsEmail() {
		email = sentinelEmail(provider, in.Profile)
	}

	if email != "" {
		existing, err := r.repo.FindByEmail(ctx, email)
		switch {
		case err == nil:
			// A concurrent callback for the same identity may have created it.
			if id, ok := existing.ProviderID(provider); ok && id == in.Profile.ID {
				return &Result{Outcome: OutcomeSignedIn, User: existing}, nil
			}
			return nil, ErrEmailRegistered
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
	}

	token, err := r.sealToken(provider, in.Credentials)
	if err != nil {
		return nil, err
	}

	user := newProviderUser(uuid.New(), email, provider, token, in.Profile, r.now().UTC())

	if err := r.repo.Save(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return r.afterLostCreate(ctx, provider, in.Profile.ID)
		}
		return nil, &PersistenceError{Op: "create user", Err: err}
	}

	return &Result{Outcome: OutcomeCreated, User: user}, nil
}

// afterLostCreate settles a create rejected by the store's unique indexes: the
// identity now has an owner to sign in to, or the email went to someone else.
func (r *Resolver) afterLostCreate(ctx context.Context, provider Provider, providerID string) (*Result, error) {
	owner, err := r.findByProvider(ctx, provider, providerID)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		return &Result{Outcome: OutcomeSignedIn, User: owner}, nil
	}
	return nil, ErrEmailRegistered
}

// findByProvider returns nil, nil when no user owns the provider id.
func (r *Resolver) findByProvider(ctx context.Context, provider Provider, providerID string) (*User, error) {
	user, err := r.repo.FindByProvider(ctx, provider, providerID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by %s id: %w", provider, err)
	}
	return user, nil
}

func (r *Resolver) sealToken(provider Provider, credentials Credentials) (Token, error) {
	accessToken, err := r.crypto.EncryptToken(credentials.AccessToken)
	if err != nil {
		return Token{}, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	secret, err := r.crypto.EncryptToken(credentials.Secret)
	if err != nil {
		return Token{}, fmt.Errorf("failed to encrypt token secret: %w", err)
	}
	return Token{Kind: provider, AccessToken: accessToken, TokenSecret: secret}, nil
}

// linkProvider attaches a provider identity to an existing user. Profile fields
// already set on the user are kept.
func linkProvider(user *User, provider Provider, token Token, profile ProviderProfile, now time.Time) {
	if user.Providers == nil {
		user.Providers = make(map[Provider]string)
	}
	user.Providers[provider] = profile.ID
	user.Tokens = append(user.Tokens, token)
	user.Profile.Fill(profile.toProfile())
	user.UpdatedAt = now
}

func newProviderUser(id uuid.UUID, email string, provider Provider, token Token, profile ProviderProfile, now time.Time) *User {
	return &User{
		ID:        id,
		Email:     email,
		Providers: map[Provider]string{provider: profile.ID},
		Tokens:    []Token{token},
		Profile:   profile.toProfile(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// sentinelEmail stands in for providers that never disclose an email address.
// Provider usernames are unique, so the result is too.
func sentinelEmail(provider Provider, profile ProviderProfile) string {
	username := profile.Username
	if username == "" {
		username = profile.ID
	}
	return NormalizeEmail(fmt.Sprintf("%s@%s.com", username, provider))
}
