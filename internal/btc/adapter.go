package btc

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/goatnetwork/wallet-sweeper/internal/chain"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultBackendID = "btc"
	feeUnit          = "BTC"
)

type Options struct {
	BackendID string
	Net       *chaincfg.Params
	FeeAPI    string
	Timeout   time.Duration
	// FeeFetcher overrides the mempool.space fetcher
	FeeFetcher NetworkFeeFetcher
}

// Adapter implements chain.Adapter for bitcoin style UTXO chains. Sweeps spend
// P2WPKH or P2PKH outputs of one address into a single destination output,
// with change back to the source only when it is above dust.
type Adapter struct {
	rpc       *BTCRPCService
	fees      NetworkFeeFetcher
	net       *chaincfg.Params
	backendID string
}

var _ chain.Adapter = (*Adapter)(nil)

// sweepTx is the UnsignedTx payload
type sweepTx struct {
	msgTx    *wire.MsgTx
	prevOuts []prevOut
	fromType string
}

func NewAdapter(client RPCClient, opts Options) *Adapter {
	if opts.BackendID == "" {
		opts.BackendID = DefaultBackendID
	}
	if opts.Net == nil {
		opts.Net = &chaincfg.MainNetParams
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	rpc := NewBTCRPCService(client, opts.BackendID, opts.Timeout)
	fees := opts.FeeFetcher
	if fees == nil {
		fees = NewMemPoolFeeFetcher(rpc, opts.Net, opts.FeeAPI, opts.Timeout)
	}
	return &Adapter{rpc: rpc, fees: fees, net: opts.Net, backendID: opts.BackendID}
}

func (a *Adapter) Kind() types.ChainKind { return types.ChainUTXOModel }

func (a *Adapter) BackendID() string { return a.backendID }

func (a *Adapter) ValidateAddress(address string) error {
	addr, err := DecodeAddress(address, a.net)
	if err != nil {
		return err
	}
	_, err = GetAddressType(addr)
	return err
}

// decodeSource decodes an address the sweeper can spend from
func (a *Adapter) decodeSource(address string) (btcutil.Address, string, error) {
	addr, err := DecodeAddress(address, a.net)
	if err != nil {
		return nil, "", err
	}
	addrType, err := GetAddressType(addr)
	if err != nil {
		return nil, "", err
	}
	if !isSweepable(addrType) {
		return nil, "", fmt.Errorf("%w: cannot sweep from %s address %s", types.ErrInvalidAddress, addrType, address)
	}
	return addr, addrType, nil
}

func (a *Adapter) listUtxos(ctx context.Context, addr btcutil.Address) ([]types.Utxo, error) {
	results, err := a.rpc.ListUnspent(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("list unspent of %s: %w", addr.EncodeAddress(), err)
	}
	utxos := make([]types.Utxo, 0, len(results))
	for _, r := range results {
		if _, err := parseOutPoint(r.TxID, r.Vout); err != nil {
			return nil, types.Malformed(a.backendID, r.TxID, fmt.Errorf("invalid txid: %v", err))
		}
		pkScript, err := hex.DecodeString(r.ScriptPubKey)
		if err != nil {
			return nil, types.Malformed(a.backendID, r.ScriptPubKey, fmt.Errorf("invalid script: %v", err))
		}
		amount := decimal.NewFromFloat(r.Amount).Round(chain.BitcoinDecimals)
		if amount.IsNegative() {
			return nil, types.Malformed(a.backendID, amount.String(), errors.New("negative output amount"))
		}
		utxos = append(utxos, types.Utxo{Txid: r.TxID, OutIndex: r.Vout, Amount: amount, PkScript: pkScript})
	}
	return utxos, nil
}

// SpendableState selects unspent outputs of address covering amount
func (a *Adapter) SpendableState(ctx context.Context, address string, amount decimal.Decimal) (*types.SpendableState, error) {
	addr, _, err := a.decodeSource(address)
	if err != nil {
		return nil, err
	}
	utxos, err := a.listUtxos(ctx, addr)
	if err != nil {
		return nil, err
	}
	selected, total, err := SelectUTXOs(utxos, amount)
	if err != nil {
		return nil, err
	}
	return &types.SpendableState{Address: address, Utxos: selected, Available: total}, nil
}

// EstimateFee is estimated vsize * the half hour fee rate
func (a *Adapter) EstimateFee(ctx context.Context, shape types.TxShape) (types.FeeEstimate, error) {
	_, fromType, err := a.decodeSource(shape.From)
	if err != nil {
		return types.FeeEstimate{}, err
	}
	toAddr, err := DecodeAddress(shape.To, a.net)
	if err != nil {
		return types.FeeEstimate{}, err
	}
	toType, err := GetAddressType(toAddr)
	if err != nil {
		return types.FeeEstimate{}, err
	}

	networkFee, err := a.fees.GetNetworkFee(ctx)
	if err != nil {
		return types.FeeEstimate{}, fmt.Errorf("get network fee: %w", err)
	}
	rate := networkFee.HalfHourFee
	if rate == 0 {
		return types.FeeEstimate{}, types.Malformed(a.backendID, fmt.Sprintf("%+v", networkFee), errors.New("zero fee rate"))
	}

	outputTypes := []string{toType}
	for i := 1; i < shape.Outputs; i++ {
		outputTypes = append(outputTypes, fromType)
	}
	size := TransactionSizeEstimate(shape.Inputs, fromType, outputTypes)
	feeSats := size * int64(rate)
	log.Debugf("BTC fee estimate for %d inputs %v: %d vB * %d sat/vB", shape.Inputs, outputTypes, size, rate)

	return types.FeeEstimate{
		Amount: chain.FromBaseUnits(big.NewInt(feeSats), chain.BitcoinDecimals),
		Unit:   feeUnit,
		Rate:   decimal.NewFromInt(int64(rate)),
		Size:   uint64(size),
	}, nil
}

func (a *Adapter) BuildTransaction(from, to string, amount decimal.Decimal, state *types.SpendableState, fee types.FeeEstimate) (*types.UnsignedTx, error) {
	fromAddr, fromType, err := a.decodeSource(from)
	if err != nil {
		return nil, err
	}
	toAddr, err := DecodeAddress(to, a.net)
	if err != nil {
		return nil, err
	}
	if state == nil || len(state.Utxos) == 0 {
		return nil, fmt.Errorf("%w: no unspent outputs for %s", types.ErrInsufficientFunds, from)
	}

	amountSats, err := chain.ToBaseUnits(amount, chain.BitcoinDecimals)
	if err != nil {
		return nil, err
	}
	feeSats, err := chain.ToBaseUnits(fee.Amount, chain.BitcoinDecimals)
	if err != nil {
		return nil, err
	}
	totalSats, err := sumSats(state.Utxos)
	if err != nil {
		return nil, err
	}
	if amountSats.Int64() < DustLimitSats {
		return nil, fmt.Errorf("%w: amount %s below dust", types.ErrInsufficientFunds, amount)
	}
	change := totalSats - amountSats.Int64() - feeSats.Int64()
	if change < 0 {
		return nil, fmt.Errorf("%w: %s + fee %s > available %s", types.ErrInsufficientFunds, amount, fee.Amount, state.Available)
	}

	fromScript, err := txscript.PayToAddrScript(fromAddr)
	if err != nil {
		return nil, err
	}
	toScript, err := txscript.PayToAddrScript(toAddr)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := make([]prevOut, 0, len(state.Utxos))
	for _, utxo := range state.Utxos {
		outPoint, err := parseOutPoint(utxo.Txid, utxo.OutIndex)
		if err != nil {
			return nil, fmt.Errorf("%w: outpoint %s:%d: %v", types.ErrStructuralInput, utxo.Txid, utxo.OutIndex, err)
		}
		sats, err := chain.ToBaseUnits(utxo.Amount, chain.BitcoinDecimals)
		if err != nil {
			return nil, err
		}
		pkScript := utxo.PkScript
		if len(pkScript) == 0 {
			pkScript = fromScript
		}
		tx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))
		prevOuts = append(prevOuts, prevOut{outPoint: *outPoint, amount: sats.Int64(), pkScript: pkScript})
	}
	tx.AddTxOut(wire.NewTxOut(amountSats.Int64(), toScript))

	// a change output costs its own bytes, below dust it is left to the miner
	if change > 0 {
		toType, err := GetAddressType(toAddr)
		if err != nil {
			return nil, err
		}
		withChange := TransactionSizeEstimate(len(prevOuts), fromType, []string{toType, fromType}) * fee.Rate.IntPart()
		changeOut := totalSats - amountSats.Int64() - withChange
		if changeOut > DustLimitSats {
			tx.AddTxOut(wire.NewTxOut(changeOut, fromScript))
			change = changeOut
		} else {
			change = 0
		}
	}
	actualFee := totalSats - amountSats.Int64() - change
	fee.Amount = chain.FromBaseUnits(big.NewInt(actualFee), chain.BitcoinDecimals)

	return &types.UnsignedTx{
		Chain:   types.ChainUTXOModel,
		From:    from,
		To:      to,
		Amount:  amount,
		Fee:     fee,
		Payload: &sweepTx{msgTx: tx, prevOuts: prevOuts, fromType: fromType},
	}, nil
}

// SignTransaction signs a copy of the built transaction, so signing the same
// UnsignedTx twice gives the same bytes
func (a *Adapter) SignTransaction(utx *types.UnsignedTx, key *types.SecretKey) (*types.SignedTx, error) {
	payload, ok := utx.Payload.(*sweepTx)
	if !ok {
		return nil, fmt.Errorf("%w: payload %T is not a bitcoin transaction", types.ErrStructuralInput, utx.Payload)
	}
	fromAddr, err := DecodeAddress(utx.From, a.net)
	if err != nil {
		return nil, err
	}

	tx := payload.msgTx.Copy()
	err = key.Use(func(raw []byte) error {
		if len(raw) != btcec.PrivKeyBytesLen {
			return fmt.Errorf("%w: private key must be %d bytes", types.ErrStructuralInput, btcec.PrivKeyBytesLen)
		}
		privKey, _ := btcec.PrivKeyFromBytes(raw)
		defer privKey.Zero()

		compressed, err := keyAddress(privKey, payload.fromType, fromAddr, a.net)
		if err != nil {
			return err
		}
		return SignTransactionByPrivKey(privKey, tx, payload.prevOuts, payload.fromType, compressed)
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize signed tx: %w", err)
	}
	return &types.SignedTx{
		Chain: types.ChainUTXOModel,
		Hash:  tx.TxHash().String(),
		Raw:   buf.Bytes(),
	}, nil
}

func (a *Adapter) BroadcastTransaction(ctx context.Context, stx *types.SignedTx) (string, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(stx.Raw)); err != nil {
		return "", fmt.Errorf("%w: decode signed tx: %v", types.ErrStructuralInput, err)
	}
	return a.rpc.SendRawTransaction(ctx, tx)
}

// DecodeTransaction reads sender, the first output and the txid back out of a
// signed transaction
func (a *Adapter) DecodeTransaction(stx *types.SignedTx) (*types.TxSummary, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(stx.Raw)); err != nil {
		return nil, fmt.Errorf("%w: decode signed tx: %v", types.ErrMalformedResponse, err)
	}
	if len(tx.TxOut) == 0 {
		return nil, fmt.Errorf("%w: transaction has no outputs", types.ErrMalformedResponse)
	}
	from, err := senderAddress(tx, a.net)
	if err != nil {
		return nil, err
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(tx.TxOut[0].PkScript, a.net)
	if err != nil || len(addrs) != 1 {
		return nil, fmt.Errorf("%w: unrecognized output script", types.ErrMalformedResponse)
	}
	return &types.TxSummary{
		Hash:   tx.TxHash().String(),
		From:   from,
		To:     addrs[0].EncodeAddress(),
		Amount: chain.FromBaseUnits(big.NewInt(tx.TxOut[0].Value), chain.BitcoinDecimals),
	}, nil
}

// Balance is the sum of confirmed unspent outputs
func (a *Adapter) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	addr, err := DecodeAddress(address, a.net)
	if err != nil {
		return decimal.Zero, err
	}
	utxos, err := a.listUtxos(ctx, addr)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, u := range utxos {
		total = total.Add(u.Amount)
	}
	return total, nil
}

func (a *Adapter) IsReachable(ctx context.Context) error {
	_, err := a.rpc.GetBlockCount(ctx)
	return err
}
