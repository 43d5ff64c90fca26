package interfaces

import (
	"context"

	"github.com/ternarybob/campussync/internal/models"
)

// CredentialStorage persists CredentialRecords. Find methods return (nil, nil) when absent.
type CredentialStorage interface {
	FindByID(ctx context.Context, id string) (*models.CredentialRecord, error)
	FindByUsername(ctx context.Context, username string) (*models.CredentialRecord, error)
	// Save upserts by ID, assigning a new ID when empty
	Save(ctx context.Context, record *models.CredentialRecord) error
	Delete(ctx context.Context, id string) error
	ListWithPassword(ctx context.Context) ([]*models.CredentialRecord, error)
}
