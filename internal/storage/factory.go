package storage

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/common"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/storage/badger"
)

// NewCredentialStore opens the Badger store and returns it with the credential
// storage built on top. The caller owns the store and must Close it.
func NewCredentialStore(logger arbor.ILogger, config *common.Config) (*badger.BadgerDB, interfaces.CredentialStorage, error) {
	db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, nil, err
	}
	return db, badger.NewCredentialStorage(db, logger), nil
}
