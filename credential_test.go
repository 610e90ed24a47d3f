package outbound

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialManagerReturnsFreshCredentialWithoutRefresh(t *testing.T) {
	repo := newMemCredentialRepo()
	exchanger := &fakeExchanger{token: "new-token"}

	clock := newFakeClock()
	manager := NewCredentialManager(repo, newNullLogger())
	manager.clock = clock.Now
	manager.RegisterExchanger(ProviderSES, exchanger)

	repo.put(ProviderCredential{
		AccountID:   "acct-1",
		Provider:    ProviderSES,
		AccessToken: "current-token",
		ExpiresAt:   clock.Now().Add(time.Hour),
	})

	cred, err := manager.GetValidCredential(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, "current-token", cred.AccessToken)
	assert.Equal(t, 0, exchanger.exchangeCount())
}

func TestCredentialManagerRefreshesExpiredCredentialAndPersists(t *testing.T) {
	repo := newMemCredentialRepo()

	clock := newFakeClock()
	exchanger := &fakeExchanger{token: "new-token", expiresAt: clock.Now().Add(time.Hour)}

	manager := NewCredentialManager(repo, newNullLogger())
	manager.clock = clock.Now
	manager.RegisterExchanger(ProviderSES, exchanger)

	repo.put(ProviderCredential{
		AccountID:    "acct-1",
		Provider:     ProviderSES,
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    clock.Now().Add(-time.Minute),
	})

	cred, err := manager.GetValidCredential(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, "new-token", cred.AccessToken)
	assert.Equal(t, 1, exchanger.exchangeCount())

	stored, err := repo.Get("acct-1")
	require.NoError(t, err)
	assert.Equal(t, "new-token", stored.AccessToken, "refreshed token must be persisted")
	assert.Equal(t, clock.Now().Add(time.Hour), stored.ExpiresAt)
}

func TestCredentialManagerRefreshesInsideSkewWindow(t *testing.T) {
	repo := newMemCredentialRepo()

	clock := newFakeClock()
	exchanger := &fakeExchanger{token: "new-token", expiresAt: clock.Now().Add(time.Hour)}

	manager := NewCredentialManager(repo, newNullLogger())
	manager.clock = clock.Now
	manager.RegisterExchanger(ProviderSES, exchanger)

	// still nominally valid, but inside the refresh skew
	repo.put(ProviderCredential{
		AccountID:    "acct-1",
		Provider:     ProviderSES,
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    clock.Now().Add(10 * time.Second),
	})

	cred, err := manager.GetValidCredential(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, "new-token", cred.AccessToken)
	assert.Equal(t, 1, exchanger.exchangeCount())
}

func TestCredentialManagerSerializesConcurrentRefreshes(t *testing.T) {
	repo := newMemCredentialRepo()

	clock := newFakeClock()
	exchanger := &fakeExchanger{token: "new-token", expiresAt: clock.Now().Add(time.Hour)}

	manager := NewCredentialManager(repo, newNullLogger())
	manager.clock = clock.Now
	manager.RegisterExchanger(ProviderSES, exchanger)

	repo.put(ProviderCredential{
		AccountID:    "acct-1",
		Provider:     ProviderSES,
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    clock.Now().Add(-time.Minute),
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			cred, err := manager.GetValidCredential(context.Background(), "acct-1")
			assert.NoError(t, err)
			assert.Equal(t, "new-token", cred.AccessToken)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, exchanger.exchangeCount(), "only one caller may hit the token endpoint")
}

func TestCredentialManagerRefreshFailureIsCredentialFatal(t *testing.T) {
	repo := newMemCredentialRepo()
	exchanger := &fakeExchanger{err: errors.New("refresh token revoked")}

	clock := newFakeClock()
	manager := NewCredentialManager(repo, newNullLogger())
	manager.clock = clock.Now
	manager.RegisterExchanger(ProviderSES, exchanger)

	repo.put(ProviderCredential{
		AccountID:    "acct-1",
		Provider:     ProviderSES,
		RefreshToken: "refresh-1",
		ExpiresAt:    clock.Now().Add(-time.Minute),
	})

	_, err := manager.GetValidCredential(context.Background(), "acct-1")
	require.Error(t, err)

	assert.Equal(t, ClassCredential, ClassOf(err))
	assert.False(t, Retryable(err))
	assert.Contains(t, err.Error(), "unusable")

	stored, err := repo.Get("acct-1")
	require.NoError(t, err)
	assert.Equal(t, "", stored.AccessToken, "a failed refresh must not overwrite the stored credential")
}

func TestCredentialManagerMissingAccountIsSetupFatal(t *testing.T) {
	manager := NewCredentialManager(newMemCredentialRepo(), newNullLogger())

	_, err := manager.GetValidCredential(context.Background(), "acct-missing")
	require.Error(t, err)

	assert.Equal(t, ClassSetup, ClassOf(err))
}

func TestCredentialManagerMissingExchangerIsCredentialFatal(t *testing.T) {
	repo := newMemCredentialRepo()

	clock := newFakeClock()
	manager := NewCredentialManager(repo, newNullLogger())
	manager.clock = clock.Now

	repo.put(ProviderCredential{
		AccountID: "acct-1",
		Provider:  ProviderWhatsApp,
		ExpiresAt: clock.Now().Add(-time.Minute),
	})

	_, err := manager.GetValidCredential(context.Background(), "acct-1")
	require.Error(t, err)

	assert.Equal(t, ClassCredential, ClassOf(err))
}
