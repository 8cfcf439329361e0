package chain

import (
	"fmt"
	"math/big"

	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/shopspring/decimal"
)

const (
	EtherDecimals   = 18
	BitcoinDecimals = 8
)

// ToBaseUnits converts a whole-coin amount to the chain's smallest unit.
// Precision beyond the chain's decimals is rejected instead of truncated.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", types.ErrInsufficientFunds, amount)
	}
	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: amount %s exceeds %d decimals", types.ErrStructuralInput, amount, decimals)
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits converts the smallest chain unit to a whole-coin amount
func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// TransferableAmount is balance minus fee; it fails when nothing would be left
func TransferableAmount(balance decimal.Decimal, fee types.FeeEstimate) (decimal.Decimal, error) {
	amount := balance.Sub(fee.Amount)
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: balance %s does not cover fee %s %s", types.ErrInsufficientFunds, balance, fee.Amount, fee.Unit)
	}
	return amount, nil
}
