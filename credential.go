package outbound

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Provider string

const (
	ProviderSES      Provider = "ses"
	ProviderMailgun  Provider = "mailgun"
	ProviderWhatsApp Provider = "whatsapp"
)

// ProviderCredential is one connected sender account. Tokens are opaque here;
// encryption at rest is the storage layer's concern.
type ProviderCredential struct {
	AccountID string   `sql:",pk" json:"accountId"`
	Provider  Provider `json:"provider"`

	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`

	ExpiresAt time.Time `json:"expiresAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Expired reports whether the access token may no longer be used.
func (c *ProviderCredential) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

type CredentialRepository interface {
	Get(accountID string) (ProviderCredential, error)
	Update(cred *ProviderCredential) error
}

// TokenExchanger trades a refresh token for a fresh access token at the
// provider's token endpoint.
type TokenExchanger interface {
	Exchange(ctx context.Context, refreshToken string) (accessToken string, expiresAt time.Time, err error)
}

// CredentialManager hands out credentials guaranteed valid for at least one
// immediate use, refreshing and persisting expired ones first. Refreshes are
// serialized per account so concurrent callers cannot race stale tokens into
// the store.
type CredentialManager struct {
	repo       CredentialRepository
	exchangers map[Provider]TokenExchanger

	// refresh this far before the hard expiry so a token cannot lapse
	// between validation and use
	skew time.Duration

	clock  func() time.Time
	logger logrus.FieldLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCredentialManager(repo CredentialRepository, logger logrus.FieldLogger) *CredentialManager {
	return &CredentialManager{
		repo:       repo,
		exchangers: make(map[Provider]TokenExchanger),
		skew:       30 * time.Second,
		clock:      time.Now,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}
}

// RegisterExchanger wires the token endpoint for one provider.
func (m *CredentialManager) RegisterExchanger(provider Provider, exchanger TokenExchanger) {
	m.exchangers[provider] = exchanger
}

func (m *CredentialManager) accountLock(accountID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[accountID] = lock
	}

	return lock
}

// GetValidCredential returns the credential for accountID, refreshing it
// first when expired. A failed refresh surfaces as a credential-fatal error.
func (m *CredentialManager) GetValidCredential(ctx context.Context, accountID string) (ProviderCredential, error) {
	cred, err := m.repo.Get(accountID)
	if err != nil {
		if errors.Cause(err) == CredentialNotFoundErr {
			return cred, SetupErr(errors.Wrapf(err, "no credential for account %s", accountID))
		}

		return cred, errors.Wrapf(err, "failed to load credential for account %s", accountID)
	}

	if !cred.Expired(m.clock().Add(m.skew)) {
		return cred, nil
	}

	lock := m.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	// another caller may have refreshed while we waited for the lock
	cred, err = m.repo.Get(accountID)
	if err != nil {
		return cred, errors.Wrapf(err, "failed to reload credential for account %s", accountID)
	}

	if !cred.Expired(m.clock().Add(m.skew)) {
		return cred, nil
	}

	return m.refresh(ctx, cred)
}

func (m *CredentialManager) refresh(ctx context.Context, cred ProviderCredential) (ProviderCredential, error) {
	exchanger, ok := m.exchangers[cred.Provider]
	if !ok {
		return cred, CredentialErr(errors.Errorf("no token exchanger registered for provider %s", cred.Provider))
	}

	accessToken, expiresAt, err := exchanger.Exchange(ctx, cred.RefreshToken)
	if err != nil {
		m.logger.
			WithField("accountId", cred.AccountID).
			WithField("provider", cred.Provider).
			WithError(err).
			Error("credential refresh failed")

		return cred, CredentialErr(errors.Wrapf(err, "credential for account %s is unusable", cred.AccountID))
	}

	cred.AccessToken = accessToken
	cred.ExpiresAt = expiresAt
	cred.UpdatedAt = m.clock()

	if err := m.repo.Update(&cred); err != nil {
		return cred, errors.Wrapf(err, "failed to persist refreshed credential for account %s", cred.AccountID)
	}

	m.logger.
		WithField("accountId", cred.AccountID).
		WithField("expiresAt", cred.ExpiresAt).
		Info("credential refreshed")

	return cred, nil
}
