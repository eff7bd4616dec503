package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradedesk/src/apperror"
	"tradedesk/src/database"
	"tradedesk/src/model"
	"tradedesk/src/security"
)

// ConnectionRepository handles persistence of exchange connections and
// resolves their stored credentials. API keys are encrypted at rest and
// only decrypted on the way out of Credentials.
type ConnectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository creates a new repository instance.
func NewConnectionRepository() *ConnectionRepository {
	return &ConnectionRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ConnectionRepository) WithDB(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Create encrypts the credential fields of the connection and inserts it.
// The plaintext key material is taken from creds, never from the model.
func (r *ConnectionRepository) Create(
	ctx context.Context,
	conn *model.ExchangeConnection,
	creds security.Credentials,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":     "ConnectionRepository",
		"op":       "Create",
		"exchange": conn.Exchange,
		"label":    conn.Label,
	}).Debug("Creating exchange connection")

	var err error
	if conn.APIKeyEnc, err = security.EncryptString(creds.APIKey); err != nil {
		return apperror.Wrap(apperror.KindInvalidRequest, "failed to encrypt api key", err)
	}
	if conn.APISecretEnc, err = security.EncryptString(creds.APISecret); err != nil {
		return apperror.Wrap(apperror.KindInvalidRequest, "failed to encrypt api secret", err)
	}
	if creds.Passphrase != "" {
		if conn.PassphraseEnc, err = security.EncryptString(creds.Passphrase); err != nil {
			return apperror.Wrap(apperror.KindInvalidRequest, "failed to encrypt passphrase", err)
		}
	}
	conn.Sandbox = creds.Sandbox

	if err := r.db.WithContext(ctx).Create(conn).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ConnectionRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create exchange connection")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":          "ConnectionRepository",
		"op":            "Create",
		"connection_id": conn.ID,
	}).Info("Exchange connection created")

	return nil
}

// FindByID fetches a single connection by its primary ID.
// Returns (nil, nil) if the connection is not found.
func (r *ConnectionRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.ExchangeConnection, error) {

	var conn model.ExchangeConnection

	err := r.db.WithContext(ctx).First(&conn, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "ConnectionRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch exchange connection by ID")

		return nil, err
	}

	return &conn, nil
}

// FindEnabledByUser returns a user's enabled connections.
func (r *ConnectionRepository) FindEnabledByUser(
	ctx context.Context,
	userID uint,
	tenantID uint,
) ([]model.ExchangeConnection, error) {

	var conns []model.ExchangeConnection

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ? AND enabled = ?", userID, tenantID, true).
		Order("id ASC").
		Find(&conns).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "ConnectionRepository",
			"op":        "FindEnabledByUser",
			"user_id":   userID,
			"tenant_id": tenantID,
		}).WithError(err).Error("Failed to fetch enabled connections")

		return nil, err
	}

	return conns, nil
}

// Credentials loads a connection and returns its decrypted key material.
func (r *ConnectionRepository) Credentials(
	ctx context.Context,
	connectionID uint,
) (security.Credentials, error) {

	conn, err := r.FindByID(ctx, connectionID)
	if err != nil {
		return security.Credentials{}, err
	}
	if conn == nil {
		return security.Credentials{}, apperror.Ef(apperror.KindNotFound,
			"exchange connection %d not found", connectionID)
	}
	if !conn.Enabled {
		return security.Credentials{}, apperror.Ef(apperror.KindInvalidState,
			"exchange connection %d is disabled", connectionID)
	}

	creds := security.Credentials{
		Exchange: conn.Exchange,
		Sandbox:  conn.Sandbox,
	}
	if creds.APIKey, err = security.DecryptString(conn.APIKeyEnc); err != nil {
		return security.Credentials{}, apperror.Wrap(apperror.KindInvalidState,
			"failed to decrypt api key", err)
	}
	if creds.APISecret, err = security.DecryptString(conn.APISecretEnc); err != nil {
		return security.Credentials{}, apperror.Wrap(apperror.KindInvalidState,
			"failed to decrypt api secret", err)
	}
	if conn.PassphraseEnc != "" {
		if creds.Passphrase, err = security.DecryptString(conn.PassphraseEnc); err != nil {
			return security.Credentials{}, apperror.Wrap(apperror.KindInvalidState,
				"failed to decrypt passphrase", err)
		}
	}

	return creds, nil
}

// SetEnabled toggles a connection without touching its credentials.
func (r *ConnectionRepository) SetEnabled(
	ctx context.Context,
	id uint,
	enabled bool,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":    "ConnectionRepository",
		"op":      "SetEnabled",
		"id":      id,
		"enabled": enabled,
	}).Info("Toggling exchange connection")

	return r.db.WithContext(ctx).
		Model(&model.ExchangeConnection{}).
		Where("id = ?", id).
		Update("enabled", enabled).Error
}
