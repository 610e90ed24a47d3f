package gopg

import (
	"time"

	"github.com/go-pg/pg"
	"github.com/go-pg/pg/types"
	"github.com/google/uuid"

	"github.com/parkside-crm/outbound"
)

func NewCampaignRepository(db *pg.DB) outbound.CampaignRepository {
	return &campaignRepository{
		db: db,
	}
}

type campaignRepository struct {
	db *pg.DB
}

type campaignWrapper struct {
	TableName struct{} `sql:"outbound_campaigns,alias:oc" json:"-"`

	*outbound.CampaignRecord
}

type recipientWrapper struct {
	TableName struct{} `sql:"outbound_recipients,alias:ort" json:"-"`

	*outbound.RecipientTarget
}

func (repo *campaignRepository) Get(id uuid.UUID) (outbound.CampaignRecord, error) {
	wrapped := &campaignWrapper{
		CampaignRecord: &outbound.CampaignRecord{},
	}

	if err := repo.db.Model(wrapped).Where("id = ?", id).Select(); err != nil {
		if err == pg.ErrNoRows {
			return *wrapped.CampaignRecord, outbound.CampaignNotFoundErr
		}

		return *wrapped.CampaignRecord, err
	}

	var recipients []recipientWrapper

	err := repo.db.Model(&recipients).
		Where("campaign_id = ?", id).
		Order("position ASC").
		Select()
	if err != nil && err != pg.ErrNoRows {
		return *wrapped.CampaignRecord, err
	}

	for _, r := range recipients {
		wrapped.Recipients = append(wrapped.Recipients, *r.RecipientTarget)
	}

	return *wrapped.CampaignRecord, nil
}

func (repo *campaignRepository) Create(campaign *outbound.CampaignRecord) error {
	return repo.db.RunInTransaction(func(tx *pg.Tx) error {
		if err := tx.Insert(&campaignWrapper{CampaignRecord: campaign}); err != nil {
			return err
		}

		for i := range campaign.Recipients {
			if err := tx.Insert(&recipientWrapper{RecipientTarget: &campaign.Recipients[i]}); err != nil {
				return err
			}
		}

		return nil
	})
}

func (repo *campaignRepository) Update(campaign *outbound.CampaignRecord) error {
	campaign.UpdatedAt = time.Now()

	return repo.db.Update(&campaignWrapper{CampaignRecord: campaign})
}

func (repo *campaignRepository) UpdateRecipient(target *outbound.RecipientTarget) error {
	return repo.db.Update(&recipientWrapper{RecipientTarget: target})
}

func (repo *campaignRepository) Matching(criteria outbound.CampaignCriteria) ([]outbound.CampaignRecord, int, error) {
	var wrapped []campaignWrapper
	campaigns := make([]outbound.CampaignRecord, 0)

	builder := repo.db.Model(&wrapped).
		Offset(criteria.Offset).
		Limit(criteria.Limit)

	if criteria.UserID != "" {
		builder.Where("user_id = ?", criteria.UserID)
	}

	if criteria.Channel != "" {
		builder.Where("channel = ?", criteria.Channel)
	}

	if criteria.Status != "" {
		builder.Where("status = ?", criteria.Status)
	}

	if !criteria.CreatedAfter.IsZero() {
		builder.Where("created_at >= ?", criteria.CreatedAfter)
	}

	if !criteria.CreatedBefore.IsZero() {
		builder.Where("created_at <= ?", criteria.CreatedBefore)
	}

	for col, dir := range criteria.Sorting {
		builder.OrderExpr("%s %s", types.F(col), types.Q(dir))
	}

	count, err := builder.SelectAndCount()
	if err != nil && err != pg.ErrNoRows {
		return campaigns, 0, err
	}

	for _, c := range wrapped {
		campaigns = append(campaigns, *c.CampaignRecord)
	}

	return campaigns, count, nil
}
