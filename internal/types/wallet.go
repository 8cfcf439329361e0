package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// WalletRecord is a recovered credential handed to the sweeper. Fields are
// read-only after construction.
type WalletRecord struct {
	address string
	key     *SecretKey
	balance decimal.Decimal
	chain   ChainKind
}

// NewWalletRecord validates the structural shape of a record. Chain support is
// not checked here, an unknown chain fails only its own sweep.
func NewWalletRecord(address string, key *SecretKey, balance decimal.Decimal, chain ChainKind) (*WalletRecord, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrStructuralInput)
	}
	if key == nil || key.Released() {
		return nil, fmt.Errorf("%w: missing private key for %s", ErrStructuralInput, address)
	}
	if balance.IsNegative() {
		return nil, fmt.Errorf("%w: negative balance for %s", ErrStructuralInput, address)
	}
	return &WalletRecord{
		address: address,
		key:     key,
		balance: balance,
		chain:   chain,
	}, nil
}

func (w *WalletRecord) Address() string          { return w.address }
func (w *WalletRecord) Key() *SecretKey          { return w.key }
func (w *WalletRecord) Balance() decimal.Decimal { return w.balance }
func (w *WalletRecord) Chain() ChainKind         { return w.chain }

// ID identifies the wallet in batch results
func (w *WalletRecord) ID() string {
	return w.chain.String() + ":" + w.address
}

func (w *WalletRecord) String() string {
	return fmt.Sprintf("WalletRecord{%s balance=%s key=%s}", w.ID(), w.balance.String(), redacted)
}
