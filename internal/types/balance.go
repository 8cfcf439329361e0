package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceRecord is the last balance observed for an address
type BalanceRecord struct {
	Address     string          `json:"address"`
	Chain       ChainKind       `json:"chain"`
	Balance     decimal.Decimal `json:"balance"`
	LastChecked time.Time       `json:"last_checked"`
}
