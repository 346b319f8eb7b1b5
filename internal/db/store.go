package db

import (
	"time"

	"github.com/kreepthom/aiproxy/internal/db/models"
	"gorm.io/gorm"
)

// AccountStore is the durable account storage consumed by the pool. The
// gorm-backed implementation is the single source of truth; any in-memory
// view kept by the pool is derived from it.
type AccountStore interface {
	Load(id string) (*models.Account, error)
	LoadAll() ([]models.Account, error)
	LoadAllActive() ([]models.Account, error)
	Save(account *models.Account) error
	Delete(id string) error
}

// GormAccountStore implements AccountStore on the SQLite database.
type GormAccountStore struct {
	db *gorm.DB
}

// NewAccountStore wraps the database in an AccountStore.
func NewAccountStore(database *gorm.DB) *GormAccountStore {
	return &GormAccountStore{db: database}
}

func (s *GormAccountStore) Load(id string) (*models.Account, error) {
	var account models.Account
	if err := s.db.First(&account, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *GormAccountStore) LoadAll() ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.Order("created_at").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *GormAccountStore) LoadAllActive() ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.Where("enabled = ? AND status = ?", true, models.StatusActive).
		Order("created_at").Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *GormAccountStore) Save(account *models.Account) error {
	account.UpdatedAt = time.Now()
	return s.db.Save(account).Error
}

func (s *GormAccountStore) Delete(id string) error {
	return s.db.Delete(&models.Account{}, "id = ?", id).Error
}
