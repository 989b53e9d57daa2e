package storage

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// StateDocument is the single-row table backing the database persister.
// The whole document lives in one row so the store keeps the same
// one-document contract on both backends.
type StateDocument struct {
	ID        uint   `gorm:"primaryKey"`
	Payload   []byte `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

// DatabasePersister stores the document in PostgreSQL via GORM
type DatabasePersister struct {
	db *gorm.DB
}

// NewDatabasePersister creates a database persister and runs its migration
func NewDatabasePersister(db *gorm.DB) (*DatabasePersister, error) {
	if err := db.AutoMigrate(&StateDocument{}); err != nil {
		return nil, err
	}
	return &DatabasePersister{db: db}, nil
}

func (d *DatabasePersister) Load() ([]byte, error) {
	var row StateDocument
	err := d.db.First(&row, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Payload, nil
}

func (d *DatabasePersister) Save(data []byte) error {
	row := StateDocument{ID: 1, Payload: data, UpdatedAt: time.Now()}
	return d.db.Save(&row).Error
}
