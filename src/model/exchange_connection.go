package model

import "time"

// ExchangeConnection binds a (user, tenant) to an exchange account. Key
// material is stored encrypted; the pool never sees the ciphertext, only
// the decrypted credentials handed out by the connection repository.
type ExchangeConnection struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	TenantID uint   `gorm:"index" json:"tenant_id"`
	UserID   uint   `gorm:"index" json:"user_id"`
	Exchange string `gorm:"size:50;not null" json:"exchange"`
	Label    string `gorm:"size:100" json:"label,omitempty"`

	APIKeyEnc     string `gorm:"size:512" json:"-"`
	APISecretEnc  string `gorm:"size:512" json:"-"`
	PassphraseEnc string `gorm:"size:512" json:"-"`

	Sandbox bool `json:"sandbox"`
	Enabled bool `gorm:"default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName allows you to control the exact table name for connections.
func (ExchangeConnection) TableName() string {
	return "exchange_connections"
}
