package outbound

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func newNullLogger() logrus.FieldLogger {
	logger, _ := logtest.NewNullLogger()

	return logger
}

type memCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*CampaignRecord
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{
		campaigns: make(map[uuid.UUID]*CampaignRecord),
	}
}

func (repo *memCampaignRepo) Get(id uuid.UUID) (CampaignRecord, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	campaign, ok := repo.campaigns[id]
	if !ok {
		return CampaignRecord{}, CampaignNotFoundErr
	}

	copied := *campaign
	copied.Recipients = make([]RecipientTarget, len(campaign.Recipients))
	copy(copied.Recipients, campaign.Recipients)

	return copied, nil
}

func (repo *memCampaignRepo) Create(campaign *CampaignRecord) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	copied := *campaign
	copied.Recipients = make([]RecipientTarget, len(campaign.Recipients))
	copy(copied.Recipients, campaign.Recipients)

	repo.campaigns[campaign.ID] = &copied

	return nil
}

func (repo *memCampaignRepo) Update(campaign *CampaignRecord) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	stored, ok := repo.campaigns[campaign.ID]
	if !ok {
		return CampaignNotFoundErr
	}

	stored.Status = campaign.Status
	stored.LastError = campaign.LastError
	stored.SentAt = campaign.SentAt
	stored.UpdatedAt = campaign.UpdatedAt

	return nil
}

func (repo *memCampaignRepo) UpdateRecipient(target *RecipientTarget) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	stored, ok := repo.campaigns[target.CampaignID]
	if !ok {
		return CampaignNotFoundErr
	}

	for i := range stored.Recipients {
		if stored.Recipients[i].ID == target.ID {
			stored.Recipients[i] = *target
			return nil
		}
	}

	return CampaignNotFoundErr
}

func (repo *memCampaignRepo) Matching(criteria CampaignCriteria) ([]CampaignRecord, int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var campaigns []CampaignRecord

	for _, campaign := range repo.campaigns {
		if criteria.UserID != "" && campaign.UserID != criteria.UserID {
			continue
		}
		if criteria.Status != "" && campaign.Status != criteria.Status {
			continue
		}

		campaigns = append(campaigns, *campaign)
	}

	return campaigns, len(campaigns), nil
}

type memCredentialRepo struct {
	mu    sync.Mutex
	creds map[string]ProviderCredential
}

func newMemCredentialRepo() *memCredentialRepo {
	return &memCredentialRepo{
		creds: make(map[string]ProviderCredential),
	}
}

func (repo *memCredentialRepo) put(cred ProviderCredential) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.creds[cred.AccountID] = cred
}

func (repo *memCredentialRepo) Get(accountID string) (ProviderCredential, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	cred, ok := repo.creds[accountID]
	if !ok {
		return ProviderCredential{}, CredentialNotFoundErr
	}

	return cred, nil
}

func (repo *memCredentialRepo) Update(cred *ProviderCredential) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.creds[cred.AccountID] = *cred

	return nil
}

type fakeExchanger struct {
	mu sync.Mutex

	token     string
	expiresAt time.Time
	err       error

	calls int
}

func (e *fakeExchanger) Exchange(ctx context.Context, refreshToken string) (string, time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++

	if e.err != nil {
		return "", time.Time{}, e.err
	}

	expiresAt := e.expiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(time.Hour)
	}

	return e.token, expiresAt, nil
}

func (e *fakeExchanger) exchangeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.calls
}

type sendCall struct {
	address string
	token   string
}

type fakeTransport struct {
	mu sync.Mutex

	channel        Channel
	outcomes       map[string]Outcome
	defaultOutcome *Outcome
	sends          []sendCall
}

func newFakeTransport(channel Channel) *fakeTransport {
	return &fakeTransport{
		channel:  channel,
		outcomes: make(map[string]Outcome),
	}
}

func (t *fakeTransport) reject(address string, outcome Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.outcomes[address] = outcome
}

func (t *fakeTransport) setDefault(outcome Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.defaultOutcome = &outcome
}

func (t *fakeTransport) clearDefault() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.defaultOutcome = nil
}

func (t *fakeTransport) Channel() Channel {
	return t.channel
}

func (t *fakeTransport) Send(ctx context.Context, cred *ProviderCredential, target *RecipientTarget, payload Payload) (Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sends = append(t.sends, sendCall{
		address: target.Address,
		token:   cred.AccessToken,
	})

	if outcome, ok := t.outcomes[target.Address]; ok {
		return outcome, nil
	}

	if t.defaultOutcome != nil {
		return *t.defaultOutcome, nil
	}

	return Delivered(uuid.New().String()), nil
}

func (t *fakeTransport) calls() []sendCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	calls := make([]sendCall, len(t.sends))
	copy(calls, t.sends)

	return calls
}

func (t *fakeTransport) callsTo(address string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var count int
	for _, call := range t.sends {
		if call.address == address {
			count++
		}
	}

	return count
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.notifications = append(n.notifications, notification)

	return nil
}

func (n *recordingNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	notifications := make([]Notification, len(n.notifications))
	copy(notifications, n.notifications)

	return notifications
}

// progressRecordingQueue observes progress writes on top of a MemoryQueue.
type progressRecordingQueue struct {
	*MemoryQueue

	mu       sync.Mutex
	observed []int
}

func (q *progressRecordingQueue) SetProgress(jobID uuid.UUID, progress int) error {
	q.mu.Lock()
	q.observed = append(q.observed, progress)
	q.mu.Unlock()

	return q.MemoryQueue.SetProgress(jobID, progress)
}
