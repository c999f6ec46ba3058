package storage

import (
	"context"
	"sync"
	"time"

	"accountd/core"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MockEncryptionKey is the key the fixture tokens are sealed with.
const MockEncryptionKey = "12345678901234567890123456789012"

const (
	User1Email    = "user1@example.com"
	User1Password = "correct-horse-battery"
	User2Email    = "user2@example.com"
)

var mockCrypto, _ = core.NewCryptoService(MockEncryptionKey)

func mustEncrypt(plaintext string) string {
	ciphertext, err := mockCrypto.EncryptToken(plaintext)
	if err != nil {
		panic(err)
	}
	return ciphertext
}

var user1PasswordHash, _ = bcrypt.GenerateFromPassword([]byte(User1Password), bcrypt.MinCost)

var (
	// User1 has a local password and no linked providers.
	User1 = &core.User{
		ID:           uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Email:        User1Email,
		PasswordHash: string(user1PasswordHash),
		Profile:      core.Profile{Name: "User One"},
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	// User2 signed up with Google and later linked Twitter.
	User2 = &core.User{
		ID:    uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Email: User2Email,
		Providers: map[core.Provider]string{
			core.ProviderGoogle:  "google_user_2",
			core.ProviderTwitter: "twitter_user_2",
		},
		Tokens: []core.Token{
			{Kind: core.ProviderGoogle, AccessToken: mustEncrypt("google_access_token_2")},
			{Kind: core.ProviderTwitter, AccessToken: mustEncrypt("twitter_access_token_2"), TokenSecret: mustEncrypt("twitter_secret_2")},
		},
		Profile:   core.Profile{Name: "User Two", Location: "Berlin"},
		CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}

	AllUsers = []*core.User{User1, User2}
)

type providerKey struct {
	provider core.Provider
	id       string
}

// MockRepository is an in-memory Repository seeded with AllUsers. It enforces
// the same uniqueness rules as the SQL stores.
type MockRepository struct {
	mu            sync.Mutex
	usersByID     map[uuid.UUID]*core.User
	usersByEmail  map[string]uuid.UUID
	providerUsers map[providerKey]uuid.UUID

	// Track method calls for verification
	FindByIDCalls       int
	FindByEmailCalls    int
	FindByProviderCalls int
	SaveCalls           int
}

func NewMockRepository() *MockRepository {
	repo := NewEmptyMockRepository()
	for _, user := range AllUsers {
		if err := repo.Save(context.Background(), user); err != nil {
			panic(err)
		}
	}
	repo.SaveCalls = 0
	return repo
}

// NewEmptyMockRepository returns a MockRepository without fixtures.
func NewEmptyMockRepository() *MockRepository {
	return &MockRepository{
		usersByID:     make(map[uuid.UUID]*core.User),
		usersByEmail:  make(map[string]uuid.UUID),
		providerUsers: make(map[providerKey]uuid.UUID),
	}
}

func (m *MockRepository) FindByID(ctx context.Context, id uuid.UUID) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FindByIDCalls++

	user, ok := m.usersByID[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return user.Clone(), nil
}

func (m *MockRepository) FindByEmail(ctx context.Context, email string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FindByEmailCalls++

	id, ok := m.usersByEmail[email]
	if !ok || email == "" {
		return nil, core.ErrNotFound
	}
	return m.usersByID[id].Clone(), nil
}

func (m *MockRepository) FindByProvider(ctx context.Context, provider core.Provider, providerID string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FindByProviderCalls++

	id, ok := m.providerUsers[providerKey{provider, providerID}]
	if !ok {
		return nil, core.ErrNotFound
	}
	return m.usersByID[id].Clone(), nil
}

func (m *MockRepository) Save(ctx context.Context, user *core.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++

	if user.Email != "" {
		if owner, ok := m.usersByEmail[user.Email]; ok && owner != user.ID {
			return core.ErrAlreadyExists
		}
	}
	for provider, providerID := range user.Providers {
		if owner, ok := m.providerUsers[providerKey{provider, providerID}]; ok && owner != user.ID {
			return core.ErrAlreadyExists
		}
	}

	if previous, ok := m.usersByID[user.ID]; ok {
		delete(m.usersByEmail, previous.Email)
		for provider, providerID := range previous.Providers {
			delete(m.providerUsers, providerKey{provider, providerID})
		}
	}

	stored := user.Clone()
	m.usersByID[stored.ID] = stored
	if stored.Email != "" {
		m.usersByEmail[stored.Email] = stored.ID
	}
	for provider, providerID := range stored.Providers {
		m.providerUsers[providerKey{provider, providerID}] = stored.ID
	}

	return nil
}

// Len returns the number of stored users.
func (m *MockRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.usersByID)
}
