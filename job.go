package outbound

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type JobType string

const (
	JobSendSingle JobType = "send-single"
	JobSendBulk   JobType = "send-bulk"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobDead      JobStatus = "dead"
)

// BackoffPolicy computes the delay before a retry attempt. Delays grow
// exponentially from Base and are capped at Max.
type BackoffPolicy struct {
	Base time.Duration `json:"base"`
	Max  time.Duration `json:"max"`
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Base: 30 * time.Second, Max: 15 * time.Minute}
}

func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.Base << uint(attempt-1)
	if p.Max > 0 && (delay > p.Max || delay < p.Base) {
		delay = p.Max
	}

	return delay
}

// SendSinglePayload and SendBulkPayload are the typed job payloads, decoded
// once when a worker claims the job.
type SendSinglePayload struct {
	CampaignID uuid.UUID `json:"campaignId"`
}

type SendBulkPayload struct {
	CampaignID uuid.UUID `json:"campaignId"`

	// BatchSize overrides the worker default when > 0.
	BatchSize int `json:"batchSize,omitempty"`
}

type Job struct {
	ID   uuid.UUID `sql:",pk" json:"id"`
	Type JobType   `json:"type"`

	// CampaignID is denormalized out of the payload for cancel and status
	// lookups.
	CampaignID uuid.UUID       `json:"campaignId"`
	Payload    json.RawMessage `json:"payload"`

	Status      JobStatus     `json:"status"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"maxAttempts"`
	Backoff     BackoffPolicy `json:"backoff"`

	NotBefore   time.Time  `json:"notBefore"`
	LeasedUntil *time.Time `json:"leasedUntil,omitempty"`

	Progress  int    `json:"progress"`
	LastError string `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DecodeSinglePayload decodes a send-single payload.
func (j *Job) DecodeSinglePayload() (SendSinglePayload, error) {
	var payload SendSinglePayload

	if j.Type != JobSendSingle {
		return payload, SetupErr(errors.Errorf("job %s is %s, not %s", j.ID, j.Type, JobSendSingle))
	}

	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return payload, SetupErr(errors.Wrapf(err, "malformed payload on job %s", j.ID))
	}

	return payload, nil
}

// DecodeBulkPayload decodes a send-bulk payload.
func (j *Job) DecodeBulkPayload() (SendBulkPayload, error) {
	var payload SendBulkPayload

	if j.Type != JobSendBulk {
		return payload, SetupErr(errors.Errorf("job %s is %s, not %s", j.ID, j.Type, JobSendBulk))
	}

	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return payload, SetupErr(errors.Wrapf(err, "malformed payload on job %s", j.ID))
	}

	return payload, nil
}

// NewSendJob builds the job enqueued alongside a campaign. Single-recipient
// campaigns take the lighter send-single path.
func NewSendJob(campaign *CampaignRecord) (*Job, error) {
	job := &Job{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
	}

	var (
		raw []byte
		err error
	)

	if len(campaign.Recipients) <= 1 {
		job.Type = JobSendSingle
		raw, err = json.Marshal(SendSinglePayload{CampaignID: campaign.ID})
	} else {
		job.Type = JobSendBulk
		raw, err = json.Marshal(SendBulkPayload{CampaignID: campaign.ID})
	}

	if err != nil {
		return nil, errors.Wrap(err, "failed to encode job payload")
	}

	job.Payload = raw

	return job, nil
}
