package outbound

import (
	"time"

	"github.com/google/uuid"
)

type CampaignCriteria struct {
	UserID  string
	Channel Channel
	Status  CampaignStatus

	CreatedAfter  time.Time
	CreatedBefore time.Time

	Offset int
	Limit  int

	Sorting map[string]string
}

type CampaignRepository interface {
	// Get loads a campaign with its recipients in position order.
	Get(id uuid.UUID) (CampaignRecord, error)

	// Create persists a campaign together with its recipients.
	Create(campaign *CampaignRecord) error

	// Update persists campaign-level fields (status, sentAt, lastError).
	Update(campaign *CampaignRecord) error

	// UpdateRecipient persists one recipient's delivery outcome.
	UpdateRecipient(target *RecipientTarget) error

	Matching(criteria CampaignCriteria) ([]CampaignRecord, int, error)
}
