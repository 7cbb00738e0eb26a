// Package db: settings key-value persistence. Settings are mutated only by
// the sync orchestrator and the credential endpoints.
package db

import (
	"database/sql"
	"time"

	"ledgersync/internal/crypto"
	"ledgersync/internal/errors"
	"ledgersync/internal/models"
)

// Setting reads a settings value. The second return is false when the key
// has never been written.
func (s *Store) Setting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(errors.ErrStorage, "failed to read setting", err)
	}
	return value, true, nil
}

// SetSetting upserts a settings value.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
						 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().Unix())
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to write setting", err)
	}
	return nil
}

// DeleteSetting removes a settings key. Idempotent.
func (s *Store) DeleteSetting(key string) error {
	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to delete setting", err)
	}
	return nil
}

// TimeSetting reads a timestamp setting stored as RFC3339.
func (s *Store) TimeSetting(key string) (time.Time, bool, error) {
	value, ok, err := s.Setting(key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, errors.Wrap(errors.ErrStorage, "corrupt timestamp setting "+key, err)
	}
	return t, true, nil
}

// SetTimeSetting writes a timestamp setting as RFC3339.
func (s *Store) SetTimeSetting(key string, t time.Time) error {
	return s.SetSetting(key, t.UTC().Format(time.RFC3339))
}

// OfflineMode reports whether the user forced offline mode. Missing or
// malformed values read as false.
func (s *Store) OfflineMode() (bool, error) {
	value, ok, err := s.Setting(models.SettingOfflineMode)
	if err != nil {
		return false, err
	}
	return ok && value == "true", nil
}

// SetOfflineMode persists the offline-mode flag as "true"/"false".
func (s *Store) SetOfflineMode(enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	return s.SetSetting(models.SettingOfflineMode, value)
}

// SetCredential seals the bearer token with the machine key and stores it.
func (s *Store) SetCredential(token, keyMaterial string) error {
	sealed, err := crypto.Seal([]byte(token), keyMaterial)
	if err != nil {
		return errors.Wrap(errors.ErrCryptoFailed, "failed to seal credential", err)
	}
	return s.SetSetting(models.SettingAPIToken, sealed)
}

// Credential returns the stored bearer token, or ok=false when none is
// configured.
func (s *Store) Credential(keyMaterial string) (string, bool, error) {
	sealed, ok, err := s.Setting(models.SettingAPIToken)
	if err != nil || !ok {
		return "", false, err
	}
	token, err := crypto.Open(sealed, keyMaterial)
	if err != nil {
		return "", false, errors.Wrap(errors.ErrCredentialInvalid, "failed to open stored credential", err)
	}
	return string(token), true, nil
}

// ClearCredential removes the stored bearer token.
func (s *Store) ClearCredential() error {
	return s.DeleteSetting(models.SettingAPIToken)
}
