package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletBalance model, one row per (address, chain)
type WalletBalance struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Address     string          `gorm:"not null;uniqueIndex:idx_wallet_balance_address_chain" json:"address"`
	Chain       string          `gorm:"not null;uniqueIndex:idx_wallet_balance_address_chain" json:"chain"`
	Balance     decimal.Decimal `gorm:"type:text;not null" json:"balance"`
	LastChecked time.Time       `gorm:"not null" json:"last_checked"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}

// SweepRecord model, the journal of sweep attempts. Never holds key material.
type SweepRecord struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	AttemptID     string          `gorm:"not null;uniqueIndex" json:"attempt_id"`
	BatchID       string          `gorm:"not null;index" json:"batch_id"`
	WalletRef     string          `gorm:"not null;index" json:"wallet_ref"`
	Chain         string          `gorm:"not null" json:"chain"`
	Address       string          `gorm:"not null" json:"address"`
	Destination   string          `json:"destination"`
	PreBalance    decimal.Decimal `gorm:"type:text" json:"pre_balance"`
	Status        string          `gorm:"not null" json:"status"` // Pending, Submitted, Confirmed, Failed
	FailureReason string          `json:"failure_reason"`
	SubmissionID  string          `json:"submission_id"`
	Amount        decimal.Decimal `gorm:"type:text" json:"amount"`
	Fee           decimal.Decimal `gorm:"type:text" json:"fee"`
	AttemptCount  int             `gorm:"not null" json:"attempt_count"`
	LastError     string          `json:"last_error"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`
}
