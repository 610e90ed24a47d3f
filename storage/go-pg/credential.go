package gopg

import (
	"time"

	"github.com/go-pg/pg"

	"github.com/parkside-crm/outbound"
)

func NewCredentialRepository(db *pg.DB) outbound.CredentialRepository {
	return &credentialRepository{
		db: db,
	}
}

type credentialRepository struct {
	db *pg.DB
}

type credentialWrapper struct {
	TableName struct{} `sql:"outbound_credentials,alias:ocr" json:"-"`

	*outbound.ProviderCredential
}

func (repo *credentialRepository) Get(accountID string) (outbound.ProviderCredential, error) {
	wrapped := &credentialWrapper{
		ProviderCredential: &outbound.ProviderCredential{},
	}

	if err := repo.db.Model(wrapped).Where("account_id = ?", accountID).Select(); err != nil {
		if err == pg.ErrNoRows {
			return *wrapped.ProviderCredential, outbound.CredentialNotFoundErr
		}

		return *wrapped.ProviderCredential, err
	}

	return *wrapped.ProviderCredential, nil
}

func (repo *credentialRepository) Update(cred *outbound.ProviderCredential) error {
	cred.UpdatedAt = time.Now()

	return repo.db.Update(&credentialWrapper{ProviderCredential: cred})
}
