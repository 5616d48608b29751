package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CollectionRecord is one row of the collections table.
type CollectionRecord struct {
	Key       string         `gorm:"primaryKey;size:64"`
	Data      datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName pins the table name.
func (CollectionRecord) TableName() string {
	return "collections"
}

// SQLStore keeps each collection in its own row.
type SQLStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewSQLStore migrates the collections table and seeds missing keys with [].
func NewSQLStore(ctx context.Context, db *gorm.DB, logger zerolog.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sql store requires a database handle")
	}

	if err := db.WithContext(ctx).AutoMigrate(&CollectionRecord{}); err != nil {
		return nil, fmt.Errorf("%w: migrate collections: %v", ErrUnavailable, err)
	}

	seed := make([]CollectionRecord, 0, len(EmptySnapshot()))
	for key := range EmptySnapshot() {
		seed = append(seed, CollectionRecord{Key: key, Data: datatypes.JSON(emptyArray), UpdatedAt: time.Now().UTC()})
	}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("%w: seed collections: %v", ErrUnavailable, err)
	}

	return &SQLStore{
		db:     db,
		logger: logger.With().Str("component", "sql_store").Logger(),
	}, nil
}

// ReadAll loads every collection row.
func (s *SQLStore) ReadAll(ctx context.Context) (Snapshot, error) {
	var records []CollectionRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%w: read collections: %v", ErrUnavailable, err)
	}

	loaded := make(Snapshot, len(records))
	for _, record := range records {
		loaded[record.Key] = json.RawMessage(record.Data)
	}

	return normalise(loaded), nil
}

// ReplaceCollection upserts the row for key inside a transaction.
func (s *SQLStore) ReplaceCollection(ctx context.Context, key string, records json.RawMessage) error {
	if err := ValidateReplace(key, records); err != nil {
		return err
	}

	record := CollectionRecord{
		Key:       key,
		Data:      datatypes.JSON(cloneRaw(records)),
		UpdatedAt: time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).Create(&record).Error
	})
	if err != nil {
		return fmt.Errorf("%w: replace %s: %v", ErrUnavailable, key, err)
	}

	s.logger.Debug().Str("collection", key).Msg("collection replaced")
	return nil
}
