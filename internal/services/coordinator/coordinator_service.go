package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/campussync/internal/interfaces"
	"github.com/ternarybob/campussync/internal/models"
)

// Service reconciles a sync or refresh with the stored credential record.
// It is the only component that reads or writes CredentialRecords.
type Service struct {
	storage       interfaces.CredentialStorage
	vault         interfaces.Vault
	authenticator interfaces.Authenticator
	logger        arbor.ILogger
}

var _ interfaces.SyncCoordinator = (*Service)(nil)

// NewService creates a new sync coordinator
func NewService(storage interfaces.CredentialStorage, vault interfaces.Vault, authenticator interfaces.Authenticator, logger arbor.ILogger) *Service {
	return &Service{
		storage:       storage,
		vault:         vault,
		authenticator: authenticator,
		logger:        logger,
	}
}

// ExecuteSync runs a full sync for the identified user and applies the
// remember-me policy to the stored record. The returned result carries the
// current record id, or nil when the record was removed.
func (s *Service) ExecuteSync(ctx context.Context, userIDHint, username, password string, rememberMe bool, sink interfaces.ProgressSink) (*models.SyncResult, error) {
	record, err := s.resolveRecord(ctx, userIDHint, username)
	if err != nil {
		return nil, err
	}
	if record == nil && username == "" {
		return nil, models.NewSyncError(models.ErrInvalidState, "cannot identify user", nil)
	}

	cookies := s.storedCookies(record)

	suppliedPassword := password
	if password == "" && record.HasPassword() {
		stored, err := s.vault.Decrypt(record.EncryptedPassword)
		if err != nil {
			s.logger.Warn().Err(err).Str("credential_id", record.ID).Msg("Stored password could not be decrypted")
		} else {
			password = stored
		}
	}
	if password == "" && len(cookies) == 0 {
		return nil, models.NewSyncError(models.ErrInvalidState, "no usable password or session on file, please enter your password again", nil)
	}

	effectiveUsername := username
	if effectiveUsername == "" && record != nil {
		effectiveUsername = record.Username
	}
	if effectiveUsername == "" {
		return nil, models.NewSyncError(models.ErrInvalidState, "cannot determine username", nil)
	}

	s.logger.Info().
		Str("username", effectiveUsername).
		Bool("known_record", record != nil).
		Bool("has_cookies", len(cookies) > 0).
		Bool("remember_me", rememberMe).
		Msg("Starting sync")

	outcome, err := s.authenticator.Sync(ctx, effectiveUsername, password, cookies, sink)
	if err != nil {
		s.logger.Error().Err(err).Str("username", effectiveUsername).Str("kind", string(models.KindOf(err))).Msg("Sync failed")
		sink.OnStatusUpdate(interfaces.StageError, err.Error())
		return nil, err
	}
	if outcome == nil || outcome.Result == nil {
		err := models.NewSyncError(models.ErrExtractionFailure, "sync produced no result", nil)
		sink.OnStatusUpdate(interfaces.StageError, err.Error())
		return nil, err
	}

	userID, err := s.reconcile(ctx, record, effectiveUsername, suppliedPassword, password, outcome.Cookies, rememberMe)
	if err != nil {
		return nil, err
	}

	result := *outcome.Result
	result.UserID = userID
	return &result, nil
}

// RefreshSessionOnly re-authenticates a stored record and persists the new
// cookie bundle. A refresh that yields no cookies leaves the record untouched.
func (s *Service) RefreshSessionOnly(ctx context.Context, recordID string, sink interfaces.ProgressSink) error {
	record, err := s.storage.FindByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("failed to load credential %s: %w", recordID, err)
	}
	if record == nil {
		return models.NewSyncError(models.ErrInvalidState, fmt.Sprintf("credential record %s not found", recordID), nil)
	}

	var password string
	if record.HasPassword() {
		password, err = s.vault.Decrypt(record.EncryptedPassword)
		if err != nil {
			return models.NewSyncError(models.ErrInvalidState, "stored password could not be decrypted", err)
		}
	}
	cookies := s.storedCookies(record)

	refreshed, err := s.authenticator.Refresh(ctx, record.Username, password, cookies, sink)
	if err != nil {
		return err
	}
	if len(refreshed) == 0 {
		s.logger.Info().Str("credential_id", record.ID).Msg("Refresh produced no session, record left unchanged")
		return nil
	}

	token, err := s.encryptCookies(refreshed)
	if err != nil {
		return err
	}
	record.EncryptedSessionCookie = token
	if err := s.storage.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save refreshed session: %w", err)
	}

	s.logger.Info().Str("credential_id", record.ID).Str("username", record.Username).Msg("Session refreshed")
	return nil
}

// resolveRecord prefers the id hint and falls back to the username. A hint that
// names another user's record is ignored so one user never signs in with
// another's stored secrets.
func (s *Service) resolveRecord(ctx context.Context, userIDHint, username string) (*models.CredentialRecord, error) {
	if userIDHint != "" {
		record, err := s.storage.FindByID(ctx, userIDHint)
		if err != nil {
			return nil, fmt.Errorf("failed to load credential %s: %w", userIDHint, err)
		}
		switch {
		case record == nil:
			s.logger.Debug().Str("credential_id", userIDHint).Msg("User id hint did not resolve, falling back to username")
		case username == "" || record.Username == username:
			return record, nil
		default:
			s.logger.Warn().
				Str("credential_id", userIDHint).
				Str("username", username).
				Msg("User id hint belongs to a different username, falling back to username")
		}
	}
	if username == "" {
		return nil, nil
	}
	record, err := s.storage.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up credential for %s: %w", username, err)
	}
	return record, nil
}

// reconcile applies the remember-me policy after a successful sync
func (s *Service) reconcile(ctx context.Context, record *models.CredentialRecord, username, suppliedPassword, usablePassword string, cookies models.CookieMap, rememberMe bool) (*string, error) {
	if !rememberMe {
		if record != nil {
			if err := s.storage.Delete(ctx, record.ID); err != nil {
				return nil, fmt.Errorf("failed to remove credential %s: %w", record.ID, err)
			}
			s.logger.Info().Str("credential_id", record.ID).Msg("Credential record removed (remember me off)")
		}
		return nil, nil
	}

	if usablePassword == "" {
		return nil, models.NewSyncError(models.ErrInvalidState, "remember me requires a password", nil)
	}

	if record == nil {
		record = &models.CredentialRecord{}
	}
	record.Username = username

	if suppliedPassword != "" {
		token, err := s.vault.Encrypt(suppliedPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt password: %w", err)
		}
		record.EncryptedPassword = token
	}

	if len(cookies) > 0 {
		token, err := s.encryptCookies(cookies)
		if err != nil {
			return nil, err
		}
		record.EncryptedSessionCookie = token
	} else {
		record.EncryptedSessionCookie = ""
	}

	if err := s.storage.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save credential: %w", err)
	}

	id := record.ID
	return &id, nil
}

// storedCookies decrypts the cached bundle; a corrupt bundle counts as none
func (s *Service) storedCookies(record *models.CredentialRecord) models.CookieMap {
	if !record.HasSessionCookie() {
		return models.CookieMap{}
	}
	plaintext, err := s.vault.Decrypt(record.EncryptedSessionCookie)
	if err != nil {
		s.logger.Warn().Err(err).Str("credential_id", record.ID).Msg("Cached session could not be decrypted, ignoring it")
		return models.CookieMap{}
	}
	var cookies models.CookieMap
	if err := json.Unmarshal([]byte(plaintext), &cookies); err != nil {
		s.logger.Warn().Err(err).Str("credential_id", record.ID).Msg("Cached session is malformed, ignoring it")
		return models.CookieMap{}
	}
	if cookies == nil {
		cookies = models.CookieMap{}
	}
	return cookies
}

func (s *Service) encryptCookies(cookies models.CookieMap) (string, error) {
	data, err := json.Marshal(cookies)
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}
	token, err := s.vault.Encrypt(string(data))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt session: %w", err)
	}
	return token, nil
}
