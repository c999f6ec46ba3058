package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"accountd/core"
	"accountd/core/providers"
	"accountd/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupResolver(t *testing.T) (*core.Resolver, *storage.MockRepository, *core.CryptoService) {
	repo := storage.NewMockRepository()
	crypto := newTestCrypto(t)
	return core.NewResolver(repo, crypto), repo, crypto
}

func googleStrategy() *providers.MockProvider {
	return providers.NewNamedMockProvider(core.ProviderGoogle, true)
}

func twitterStrategy() *providers.MockProvider {
	return providers.NewNamedMockProvider(core.ProviderTwitter, false)
}

func TestResolve_AnonymousGoogleCreatesUser(t *testing.T) {
	resolver, repo, crypto := setupResolver(t)

	result, err := resolver.Resolve(context.Background(), googleStrategy(), core.CallbackInput{
		Credentials: core.Credentials{AccessToken: "google-access"},
		Profile:     core.ProviderProfile{ID: "g1", Email: "a@x.com", DisplayName: "Ann"},
	})
	require.NoError(t, err)

	assert.Equal(t, core.OutcomeCreated, result.Outcome)
	assert.Equal(t, "a@x.com", result.User.Email)
	assert.Equal(t, "Ann", result.User.Profile.Name)
	assert.Empty(t, result.User.PasswordHash)

	stored, err := repo.FindByProvider(context.Background(), core.ProviderGoogle, "g1")
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, stored.ID)
	assert.Equal(t, "a@x.com", stored.Email)

	require.Len(t, stored.Tokens, 1)
	assert.Equal(t, core.ProviderGoogle, stored.Tokens[0].Kind)
	assert.NotEqual(t, "google-access", stored.Tokens[0].AccessToken)
	plaintext, err := crypto.DecryptToken(stored.Tokens[0].AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "google-access", plaintext)
}

func TestResolve_AnonymousGoogleNormalizesEmail(t *testing.T) {
	resolver, _, _ := setupResolver(t)

	result, err := resolver.Resolve(context.Background(), googleStrategy(), core.CallbackInput{
		Credentials: core.Credentials{AccessToken: "token"},
		Profile:     core.ProviderProfile{ID: "g2", Email: "  Ann@Example.COM "},
	})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", result.User.Email)
}

func TestResolve_AnonymousTwitterUsesSentinelEmail(t *testing.T) {
	resolver, _, _ := setupResolver(t)

	result, err := resolver.Resolve(context.Background(), twitterStrategy(), core.CallbackInput{
		Credentials: core.Credentials{AccessToken: "twitter-access", Secret: "twitter-secret"},
		Profile:     core.ProviderProfile{ID: "t1", Username: "jack", Email: "jack@real.com", Location: "SF"},
	})
	require.NoError(t, err)

	assert.Equal(t, core.OutcomeCreated, result.Outcome)
	assert.Equal(t, "jack@twitter.com", result.User.Email)
	assert.Equal(t, "SF", result.User.Profile.Location)
	id, ok := result.User.ProviderID(core.ProviderTwitter)
	assert.True(t, ok)
	assert.Equal(t, "t1", id)
}

func TestResolve_AnonymousTwitterWithoutUsernameFallsBackToID(t *testing.T) {
	resolver, _, _ := setupResolver(t)

	result, err := resolver.Resolve(context.Background(), twitterStrategy(), core.CallbackInput{
		Credentials: core.Credentials{AccessToken: "token"},
		Profile:     core.ProviderProfile{ID: "12345"},
	})
	require.NoError(t, err)
	assert.Equal(t, "12345@twitter.com", result.User.Email)
}

func TestResolve_AnonymousGoogleWithoutEmail(t *testing.T) {
	resolver, repo, _ := setupResolver(t)
	before := repo.Len()

	for _, id := range []string{"g-no-email-1", "g-no-email-2"} {
		result, err := resolver.Resolve(context.Background(), googleStrategy(), core.CallbackInput{
			Credentials: core.Credentials{AccessToken: "token"},
			Profile:     core.ProviderProfile{ID: id},
		})
		require.NoError(t, err)
		assert.Equal(t, core.OutcomeCreated, result.Outcome)
		assert.Empty(t, result.User.Email)
	}

	assert.Equal(t, before+2, repo.Len())
}

func TestResolve_AnonymousExistingLinkSignsIn(t *testing.T) {
	resolver, repo, _ := setupResolver(t)

	result, err := resolver.Resolve(context.Background(), googleStrategy(), core.CallbackInput{
		Credentials: core.Credentials{AccessToken: "fresh-token"},
		Profile:     core.ProviderProfile{ID: "google_user_2", Email: "someone-else@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, core.OutcomeSignedIn, result.Outcome)
	assert.Equal(t, storage.User2.ID, result.User.ID)
	assert.Equal(t, 0, repo.SaveCalls)
}

func TestResolve_AnonymousEmailCollision(t *testing.T) {
	resolver, repo, _ := setupResolver(t)
	before := repo.Len()

	_, err := resolver.Resolve(context.Background(), googleStrategy(), core.CallbackInput{
		Credentials: core.Credentials{AccessToken: "token"},
		Profile:     core.ProviderProfile{ID: "g-new", Email: "USER1@example.com"},
	})

	assert.ErrorIs(t, err, core.ErrEmailRegistered)
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.Equal(t, before, repo.Len())
	assert.Equal(t, 0, repo.SaveCalls)

	user1 := mustFindUser(t, repo, storage.User1)
	_, linked := user1.ProviderID(core.ProviderGoogle)
	assert.False(t, linked)
}

func TestResolve_LinkNewProvider(t *testing.T) {
	resolver, repo, crypto := setupResolver(t)
	sessionUser := mustFindUser(t, repo, storage.User1)

	result, err := resolver.Resolve(context.Background(), googleStrategy(), core.CallbackInput{
		SessionUser: sessionUser,
		Credentials: core.Credentials{AccessToken: "linked-access", Secret: "linked-refresh"},
		Profile: core.ProviderProfile{
			ID:          "g-link",
			Email:       "other@example.com",
			DisplayName: "Someone Else",
			Location:    "Porto",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeLinked, result.Outcome)
	assert.Equal(t, storage.User1.ID, result.User.ID)

	stored := mustFindUser(t, repo, storage.User1)
	id, ok := stored.ProviderID(core.ProviderGoogle)
	require.True(t, ok)
	assert.Equal(t, "g-link", id)
	assert.True(t, stored.HasToken(core.ProviderGoogle))

	// Linking never changes the account email or a name that is already set.
	assert.Equal(t, storage.User1Email, stored.Email)
	assert.Equal(t, "User One", stored.Profile.Name)
	assert.Equal(t, "Porto", stored.Profile.Location)

	secret, err := crypto.DecryptToken(stored.Tokens[0].TokenSecret)
	require.NoError(t, err)
	assert.Equal(t, "linked-refresh", secret)
}

func TestResolve_LinkFillsEmptyProfileName(t *testing.T) {
	resolver, repo, _ := setupResolver(t)

	nameless := &core.User{ID: storage.User1.ID, Email: "nameless@example.com"}
	nameless.CreatedAt = storage.User1.CreatedAt
	require.NoError(t, repo.Save(context.Background(), nameless))

	_, err := resolver.Resolve(context.Background(), twitterStrategy(), core.CallbackInput{
		SessionUser: nameless,
		Credentials: core.Credentials{AccessToken: "token"},
		Profile:     core.ProviderProfile{ID: "t-fill", Username: "filler", DisplayName: "Filled Name"},
	})
	require.NoError(t, err)

	stored := mustFindUser(t, repo, nameless)
	assert.Equal(t, "Filled Name", stored.Profile.Name)
}

func TestResolve_LinkOwnedByAnotherUser(t *testing.T) {
	resolver, repo, _ := setupResolver(t)
	user1Before := mustFindUser(t, repo, storage.User1)
	user2Before := mustFindUser(t, repo, storage.User2)

	_, err := resolver.Resolve(context.Background(), twitterStrategy(), core.CallbackInput{
		SessionUser: user1Before.Clone(),
		Credentials: core.Credentials{AccessToken: "token"},
		Profile:     core.ProviderProfile{ID: "twitter_user_2", Username: "usertwo"},
	})

	assert.ErrorIs(t, err, core.ErrProviderLinked)
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.Equal(t, 0, repo.SaveCalls)
	assert.Equal(t, user1Before, mustFindUser(t, repo, storage.User1))
	assert.Equal(t, user2Before, mustFindUser(t, repo, storage.User2))
}

func TestResolve_RelinkOwnProvider(t *testing.T) {
	resolver, repo, _ := setupResolver(t)
	sessionUser := mustFindUser(t, repo, storage.User2)

	result, err := resolver.Resolve(context.Background(), googleStrategy(), core.CallbackInput{
		SessionUser: sessionUser,
		Credentials: core.Credentials{AccessToken: "newer-token"},
		Profile:     core.ProviderProfile{ID: "google_user_2"},
	})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeLinked, result.Outcome)

	stored := mustFindUser(t, repo, storage.User2)
	assert.Len(t, stored.Tokens, len(storage.User2.Tokens)+1)
}

func TestResolve_PersistenceFailure(t *testing.T) {
	repo := &failingRepository{Repository: storage.NewMockRepository(), saveErr: errStoreDown}
	resolver := core.NewResolver(repo, newTestCrypto(t))

	_, err := resolver.Resolve(context.Background(), googleStrategy(), core.CallbackInput{
		Credentials: core.Credentials{AccessToken: "token"},
		Profile:     core.ProviderProfile{ID: "g-fail", Email: "fail@example.com"},
	})

	var persistErr *core.PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "create user", persistErr.Op)
	assert.ErrorIs(t, err, errStoreDown)
	assert.NotErrorIs(t, err, core.ErrConflict)
}

func TestResolve_LinkPersistenceFailure(t *testing.T) {
	mock := storage.NewMockRepository()
	repo := &failingRepository{Repository: mock, saveErr: errStoreDown}
	resolver := core.NewResolver(repo, newTestCrypto(t))

	_, err := resolver.Resolve(context.Background(), twitterStrategy(), core.CallbackInput{
		SessionUser: mustFindUser(t, mock, storage.User1),
		Credentials: core.Credentials{AccessToken: "token"},
		Profile:     core.ProviderProfile{ID: "t-fail"},
	})

	var persistErr *core.PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "link twitter account", persistErr.Op)
}

func TestResolve_RequiresProfileID(t *testing.T) {
	resolver, repo, _ := setupResolver(t)

	_, err := resolver.Resolve(context.Background(), googleStrategy(), core.CallbackInput{
		Credentials: core.Credentials{AccessToken: "token"},
		Profile:     core.ProviderProfile{Email: "noid@example.com"},
	})

	assert.ErrorIs(t, err, core.ErrProviderUserInfo)
	assert.Equal(t, 0, repo.SaveCalls)
}

func TestResolve_ConcurrentCallbacksCreateOneUser(t *testing.T) {
	repo := storage.NewEmptyMockRepository()
	resolver := core.NewResolver(repo, newTestCrypto(t))
	strategy := googleStrategy()

	const attempts = 20
	var wg sync.WaitGroup
	outcomes := make(chan core.Outcome, attempts)
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := resolver.Resolve(context.Background(), strategy, core.CallbackInput{
				Credentials: core.Credentials{AccessToken: "token"},
				Profile:     core.ProviderProfile{ID: "race", Email: "race@example.com"},
			})
			if err != nil {
				errs <- err
				return
			}
			outcomes <- result.Outcome
		}()
	}
	wg.Wait()
	close(errs)
	close(outcomes)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	created := 0
	for outcome := range outcomes {
		if outcome == core.OutcomeCreated {
			created++
		} else {
			assert.Equal(t, core.OutcomeSignedIn, outcome)
		}
	}
	assert.Equal(t, 1, created)

	assert.Equal(t, 1, repo.Len())
	owner, err := repo.FindByProvider(context.Background(), core.ProviderGoogle, "race")
	require.NoError(t, err)
	assert.Equal(t, "race@example.com", owner.Email)
}

func TestResolve_LinkLosesRaceForProvider(t *testing.T) {
	mock := storage.NewMockRepository()
	repo := &racingRepository{Repository: mock, hiddenProviderLookups: 1}
	resolver := core.NewResolver(repo, newTestCrypto(t))

	_, err := resolver.Resolve(context.Background(), twitterStrategy(), core.CallbackInput{
		SessionUser: mustFindUser(t, mock, storage.User1),
		Credentials: core.Credentials{AccessToken: "token"},
		Profile:     core.ProviderProfile{ID: "twitter_user_2", Username: "usertwo"},
	})

	assert.ErrorIs(t, err, core.ErrProviderLinked)
	var persistErr *core.PersistenceError
	assert.False(t, errors.As(err, &persistErr))

	user1 := mustFindUser(t, mock, storage.User1)
	assert.Empty(t, user1.Providers)
	assert.Empty(t, user1.Tokens)
	user2 := mustFindUser(t, mock, storage.User2)
	assert.Equal(t, storage.User2.Tokens, user2.Tokens)
}

func TestResolve_CreateLosesRaceSignsIn(t *testing.T) {
	mock := storage.NewMockRepository()
	repo := &racingRepository{Repository: mock, hiddenProviderLookups: 1}
	resolver := core.NewResolver(repo, newTestCrypto(t))

	result, err := resolver.Resolve(context.Background(), googleStrategy(), core.CallbackInput{
		Credentials: core.Credentials{AccessToken: "token"},
		Profile:     core.ProviderProfile{ID: "google_user_2", Email: "fresh@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, core.OutcomeSignedIn, result.Outcome)
	assert.Equal(t, storage.User2.ID, result.User.ID)
	assert.Equal(t, 2, mock.Len())
}

func TestResolve_CreateLosesRaceForEmail(t *testing.T) {
	mock := storage.NewMockRepository()
	repo := &racingRepository{Repository: mock, hiddenEmailLookups: 1}
	resolver := core.NewResolver(repo, newTestCrypto(t))

	_, err := resolver.Resolve(context.Background(), googleStrategy(), core.CallbackInput{
		Credentials: core.Credentials{AccessToken: "token"},
		Profile:     core.ProviderProfile{ID: "g-late", Email: storage.User1Email},
	})

	assert.ErrorIs(t, err, core.ErrEmailRegistered)
	var persistErr *core.PersistenceError
	assert.False(t, errors.As(err, &persistErr))
	assert.Equal(t, 2, mock.Len())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "signed_in", core.OutcomeSignedIn.String())
	assert.Equal(t, "linked", core.OutcomeLinked.String())
	assert.Equal(t, "created", core.OutcomeCreated.String())
	assert.Equal(t, "unknown", core.Outcome(0).String())
}
