package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/common"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CredentialStorage implements interfaces.CredentialStorage for Badger
type CredentialStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCredentialStorage creates a new CredentialStorage instance
func NewCredentialStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CredentialStorage {
	return &CredentialStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CredentialStorage) FindByID(ctx context.Context, id string) (*models.CredentialRecord, error) {
	if id == "" {
		return nil, nil
	}
	var record models.CredentialRecord
	if err := s.db.Store().Get(id, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential %s: %w", id, err)
	}
	return &record, nil
}

func (s *CredentialStorage) FindByUsername(ctx context.Context, username string) (*models.CredentialRecord, error) {
	if username == "" {
		return nil, nil
	}
	var records []models.CredentialRecord
	query := badgerhold.Where("Username").Eq(username).Index("Username")
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to find credential by username: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	if len(records) > 1 {
		s.logger.Warn().Str("username", username).Int("count", len(records)).Msg("Multiple credential records share a username, using the first")
	}
	return &records[0], nil
}

// Save upserts the record. A record without an ID adopts the ID of any
// existing record for the same username so that each account keeps one row.
func (s *CredentialStorage) Save(ctx context.Context, record *models.CredentialRecord) error {
	if record == nil {
		return errors.New("credential record is nil")
	}

	now := time.Now()
	if record.ID == "" {
		existing, err := s.FindByUsername(ctx, record.Username)
		if err != nil {
			return err
		}
		if existing != nil {
			record.ID = existing.ID
			record.CreatedAt = existing.CreatedAt
		} else {
			record.ID = common.NewCredentialID()
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save credential %s: %w", record.ID, err)
	}

	s.logger.Debug().Str("credential_id", record.ID).
		Bool("has_password", record.HasPassword()).
		Bool("has_cookie", record.HasSessionCookie()).
		Msg("Credential record saved")
	return nil
}

func (s *CredentialStorage) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.db.Store().Delete(id, &models.CredentialRecord{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete credential %s: %w", id, err)
	}
	s.logger.Debug().Str("credential_id", id).Msg("Credential record deleted")
	return nil
}

// ListWithPassword returns records with a remembered password, oldest first.
func (s *CredentialStorage) ListWithPassword(ctx context.Context) ([]*models.CredentialRecord, error) {
	var records []models.CredentialRecord
	query := badgerhold.Where("EncryptedPassword").Ne("").SortBy("CreatedAt")
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	result := make([]*models.CredentialRecord, 0, len(records))
	for i := range records {
		result = append(result, &records[i])
	}
	return result, nil
}
