package http

import (
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/shopspring/decimal"
)

// SweepRequest carries recovered wallets. Destinations are keyed by chain
// name ("account", "utxo" or an alias such as "evm", "btc").
type SweepRequest struct {
	BatchID      string            `json:"batch_id"`
	Destinations map[string]string `json:"destinations" binding:"required"`
	Wallets      []WalletRequest   `json:"wallets" binding:"required"`
}

// WalletRequest is one recovered wallet, PrivateKey is hex encoded
type WalletRequest struct {
	Address    string          `json:"address"`
	PrivateKey string          `json:"private_key"`
	Balance    decimal.Decimal `json:"balance"`
	Chain      string          `json:"chain"`
}

type SweepResponse struct {
	BatchID  string                `json:"batch_id"`
	Attempts []*types.SweepAttempt `json:"attempts"`
}

type BalanceResponse struct {
	Address string          `json:"address"`
	Chain   types.ChainKind `json:"chain"`
	Balance decimal.Decimal `json:"balance"`
}
