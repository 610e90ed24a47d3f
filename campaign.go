package outbound

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelWhatsApp Channel = "WHATSAPP"
)

type CampaignStatus string

const (
	CampaignPending       CampaignStatus = "PENDING"
	CampaignSending       CampaignStatus = "SENDING"
	CampaignSent          CampaignStatus = "SENT"
	CampaignPartiallySent CampaignStatus = "PARTIALLY_SENT"
	CampaignFailed        CampaignStatus = "FAILED"
	CampaignCancelled     CampaignStatus = "CANCELLED"
)

// Terminal reports whether the status can no longer change.
func (s CampaignStatus) Terminal() bool {
	switch s {
	case CampaignSent, CampaignPartiallySent, CampaignFailed, CampaignCancelled:
		return true
	}

	return false
}

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

// Payload carries what gets sent. Email campaigns use Subject/TextBody/HtmlBody
// rendered per recipient; WhatsApp campaigns reference a pre-approved template
// by id with positional parameters.
type Payload struct {
	Subject  string `json:"subject,omitempty"`
	TextBody string `json:"textBody,omitempty"`
	HtmlBody string `json:"htmlBody,omitempty"`

	TemplateID     string   `json:"templateId,omitempty"`
	TemplateParams []string `json:"templateParams,omitempty"`

	Params map[string]interface{} `json:"params,omitempty"`
}

type RecipientTarget struct {
	ID         uuid.UUID `sql:",pk" json:"id"`
	CampaignID uuid.UUID `json:"campaignId"`
	Position   int       `json:"position"`

	Address string `json:"address"`
	Name    string `json:"name,omitempty"`

	DeliveryStatus    DeliveryStatus `json:"deliveryStatus"`
	FailureReason     string         `json:"failureReason,omitempty"`
	ProviderMessageID string         `json:"providerMessageId,omitempty"`
}

type CampaignRecord struct {
	ID       uuid.UUID `sql:",pk" json:"id"`
	UserID   string    `json:"userId"`
	Channel  Channel   `json:"channel"`
	Payload  Payload   `json:"payload"`

	SenderAccountID string `json:"senderAccountId"`

	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`

	Status    CampaignStatus `json:"status"`
	LastError string         `json:"lastError,omitempty"`

	Recipients []RecipientTarget `json:"recipients" sql:"-"`

	SentAt    *time.Time `json:"sentAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// TransitionTo enforces the forward-only lifecycle. CANCELLED is only
// reachable from PENDING; terminal states are never re-opened.
func (c *CampaignRecord) TransitionTo(status CampaignStatus) error {
	if c.Status == status {
		return nil
	}

	if c.Status.Terminal() {
		return errors.Errorf("campaign %s is already %s", c.ID, c.Status)
	}

	switch status {
	case CampaignSending:
		if c.Status != CampaignPending {
			return errors.Errorf("campaign %s cannot start sending from %s", c.ID, c.Status)
		}

	case CampaignCancelled:
		if c.Status != CampaignPending {
			return CampaignNotCancellableErr
		}

	case CampaignSent, CampaignPartiallySent, CampaignFailed:
		if c.Status != CampaignSending && c.Status != CampaignPending {
			return errors.Errorf("campaign %s cannot finish from %s", c.ID, c.Status)
		}

	default:
		return errors.Errorf("campaign %s cannot transition to %s", c.ID, status)
	}

	c.Status = status

	return nil
}

// Rollup derives the terminal status from the per-recipient outcomes. It must
// only be called once every recipient has left PENDING.
func (c *CampaignRecord) Rollup() CampaignStatus {
	var sent, failed int

	for _, target := range c.Recipients {
		switch target.DeliveryStatus {
		case DeliverySent:
			sent++
		case DeliveryFailed:
			failed++
		}
	}

	switch {
	case sent > 0 && failed == 0:
		return CampaignSent
	case sent > 0:
		return CampaignPartiallySent
	default:
		return CampaignFailed
	}
}

type CampaignInput struct {
	UserID          string
	Channel         Channel
	SenderAccountID string
	Payload         Payload
	ScheduledFor    *time.Time
	Recipients      []RecipientInput
}

type RecipientInput struct {
	Address string
	Name    string
}

func (in CampaignInput) Validate() error {
	switch in.Channel {
	case ChannelEmail:
		if in.Payload.Subject == "" {
			return errors.New("email campaigns require a subject")
		}
		if in.Payload.TextBody == "" && in.Payload.HtmlBody == "" {
			return errors.New("email campaigns require a text or html body")
		}

	case ChannelWhatsApp:
		if in.Payload.TemplateID == "" {
			return errors.New("whatsapp campaigns require a template id")
		}

	default:
		return errors.Errorf("unsupported channel %q", in.Channel)
	}

	if in.SenderAccountID == "" {
		return errors.New("a sender account is required")
	}

	if len(in.Recipients) == 0 {
		return errors.New("at least one recipient is required")
	}

	for _, r := range in.Recipients {
		if r.Address == "" {
			return errors.New("recipients require an address")
		}
	}

	return nil
}

// FailedRecipient is the user-facing view of one failed target.
type FailedRecipient struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// StatusSnapshot is the answer to a status poll. Progress and status never
// regress between successive snapshots of the same campaign.
type StatusSnapshot struct {
	Status           CampaignStatus    `json:"status"`
	Progress         int               `json:"progress"`
	SuccessCount     int               `json:"successCount"`
	FailedRecipients []FailedRecipient `json:"failedRecipients"`
}
