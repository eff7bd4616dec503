package model

import "time"

// Exception is a persisted system-level error, used to audit failures that
// are deliberately swallowed (async submission, best-effort remote cancels).
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Service string `gorm:"size:100;index" json:"service"` // e.g. "order_service"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "submit"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "CreateLimitOrder"

	// Error information
	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	// debug | info | warn | error | fatal
	Level string `gorm:"size:20;index" json:"level"`

	// Extra context stored as JSON (optional)
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName allows you to control the exact table name for exceptions.
func (Exception) TableName() string {
	return "exceptions"
}
