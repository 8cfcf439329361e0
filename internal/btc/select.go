package btc

import (
	"fmt"
	"sort"

	"github.com/goatnetwork/wallet-sweeper/internal/chain"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/shopspring/decimal"
)

// MaxSweepInputs keeps a sweep transaction well under the standard size limit
const MaxSweepInputs = 500

// SelectUTXOs picks outputs largest first until they cover target. The input
// slice is not modified. Ties are ordered by outpoint so the result is stable.
func SelectUTXOs(utxos []types.Utxo, target decimal.Decimal) ([]types.Utxo, decimal.Decimal, error) {
	sorted := make([]types.Utxo, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].Amount.Cmp(sorted[j].Amount); c != 0 {
			return c > 0
		}
		if sorted[i].Txid != sorted[j].Txid {
			return sorted[i].Txid < sorted[j].Txid
		}
		return sorted[i].OutIndex < sorted[j].OutIndex
	})

	var selected []types.Utxo
	total := decimal.Zero
	for _, utxo := range sorted {
		if total.GreaterThanOrEqual(target) && len(selected) > 0 {
			break
		}
		if len(selected) >= MaxSweepInputs {
			break
		}
		selected = append(selected, utxo)
		total = total.Add(utxo.Amount)
	}
	if total.LessThan(target) {
		return selected, total, fmt.Errorf("%w: unspent outputs total %s, need %s", types.ErrInsufficientFunds, total, target)
	}
	return selected, total, nil
}

func sumSats(utxos []types.Utxo) (int64, error) {
	var total int64
	for _, u := range utxos {
		sats, err := chain.ToBaseUnits(u.Amount, chain.BitcoinDecimals)
		if err != nil {
			return 0, err
		}
		total += sats.Int64()
	}
	return total, nil
}
