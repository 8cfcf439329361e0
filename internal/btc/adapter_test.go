package btc

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNet = &chaincfg.RegressionNetParams

type fakeRPC struct {
	mu      sync.Mutex
	unspent []btcjson.ListUnspentResult
	feeRate float64
	height  int64
	readErr error
	sendErr error
	block   chan struct{}
	sent    []*wire.MsgTx
}

func (f *fakeRPC) ListUnspentMinMaxAddresses(minConf, maxConf int, addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.unspent, nil
}

func (f *fakeRPC) EstimateSmartFee(confTarget int64, mode *btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	rate := f.feeRate
	return &btcjson.EstimateSmartFeeResult{FeeRate: &rate, Blocks: confTarget}, nil
}

func (f *fakeRPC) SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	hash := tx.TxHash()
	return &hash, nil
}

func (f *fakeRPC) GetBlockCount() (int64, error) {
	return f.height, f.readErr
}

type fixedFee uint64

func (f fixedFee) GetNetworkFee(ctx context.Context) (*NetworkFee, error) {
	return &NetworkFee{FastestFee: uint64(f), HalfHourFee: uint64(f), HourFee: uint64(f)}, nil
}

type testWallet struct {
	key     *types.SecretKey
	address btcutil.Address
	script  []byte
}

func newTestWallet(t *testing.T, addrType string) *testWallet {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pubHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())

	var addr btcutil.Address
	switch addrType {
	case WALLET_TYPE_P2WPKH:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(pubHash, testNet)
	default:
		addr, err = btcutil.NewAddressPubKeyHash(pubHash, testNet)
	}
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return &testWallet{key: types.NewSecretKey(priv.Serialize()), address: addr, script: script}
}

func (w *testWallet) unspent(txidChar string, vout uint32, amount float64) btcjson.ListUnspentResult {
	return btcjson.ListUnspentResult{
		TxID:          strings.Repeat(txidChar, 64),
		Vout:          vout,
		Address:       w.address.EncodeAddress(),
		ScriptPubKey:  hex.EncodeToString(w.script),
		Amount:        amount,
		Confirmations: 6,
	}
}

func newTestAdapter(client *fakeRPC, rate uint64) *Adapter {
	return NewAdapter(client, Options{Net: testNet, Timeout: 100 * time.Millisecond, FeeFetcher: fixedFee(rate)})
}

// verifyInputs runs the script engine over every input of a signed tx
func verifyInputs(t *testing.T, raw []byte, prevScript []byte, amounts []int64) {
	tx := wire.NewMsgTx(wire.TxVersion)
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range tx.TxIn {
		fetcher.AddPrevOut(in.PreviousOutPoint, wire.NewTxOut(amounts[i], prevScript))
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i := range tx.TxIn {
		vm, err := txscript.NewEngine(prevScript, tx, i, txscript.StandardVerifyFlags, nil, sigHashes, amounts[i], fetcher)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}
}

func TestSelectUTXOsLargestFirst(t *testing.T) {
	utxos := []types.Utxo{
		{Txid: "a", Amount: decimal.RequireFromString("0.1")},
		{Txid: "b", Amount: decimal.RequireFromString("0.5")},
		{Txid: "c", Amount: decimal.RequireFromString("0.2")},
	}

	selected, total, err := SelectUTXOs(utxos, decimal.RequireFromString("0.55"))
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "b", selected[0].Txid)
	assert.Equal(t, "c", selected[1].Txid)
	assert.Equal(t, "0.7", total.String())
	assert.Equal(t, "a", utxos[0].Txid, "input slice untouched")

	_, _, err = SelectUTXOs(utxos, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)
}

func TestTransactionSizeEstimate(t *testing.T) {
	assert.Equal(t, int64(10+1+2*68+31), TransactionSizeEstimate(2, WALLET_TYPE_P2WPKH, []string{WALLET_TYPE_P2WPKH}))
	assert.Equal(t, int64(10+148+34+34), TransactionSizeEstimate(1, WALLET_TYPE_P2PKH, []string{WALLET_TYPE_P2PKH, WALLET_TYPE_P2PKH}))
}

func TestP2WPKHSweepRoundTrip(t *testing.T) {
	src := newTestWallet(t, WALLET_TYPE_P2WPKH)
	defer src.key.Release()
	dst := newTestWallet(t, WALLET_TYPE_P2WPKH)
	from, to := src.address.EncodeAddress(), dst.address.EncodeAddress()

	client := &fakeRPC{unspent: []btcjson.ListUnspentResult{
		src.unspent("a", 0, 0.3),
		src.unspent("b", 1, 0.2),
	}}
	adapter := newTestAdapter(client, 10)
	ctx := context.Background()

	balance, err := adapter.Balance(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, "0.5", balance.String())

	state, err := adapter.SpendableState(ctx, from, balance)
	require.NoError(t, err)
	require.Len(t, state.Utxos, 2)

	fee, err := adapter.EstimateFee(ctx, types.TxShape{From: from, To: to, Inputs: len(state.Utxos), Outputs: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(178), fee.Size)
	assert.Equal(t, "0.0000178", fee.Amount.String())

	amount := balance.Sub(fee.Amount)
	utx, err := adapter.BuildTransaction(from, to, amount, state, fee)
	require.NoError(t, err)
	signed, err := adapter.SignTransaction(utx, src.key)
	require.NoError(t, err)

	verifyInputs(t, signed.Raw, src.script, []int64{30_000_000, 20_000_000})

	summary, err := adapter.DecodeTransaction(signed)
	require.NoError(t, err)
	assert.Equal(t, from, summary.From)
	assert.Equal(t, to, summary.To)
	assert.True(t, amount.Equal(summary.Amount))
	assert.Equal(t, signed.Hash, summary.Hash)

	again, err := adapter.SignTransaction(utx, src.key)
	require.NoError(t, err)
	assert.Equal(t, signed.Raw, again.Raw, "signing is deterministic and leaves the unsigned tx untouched")
}

func TestP2PKHSweepRoundTrip(t *testing.T) {
	src := newTestWallet(t, WALLET_TYPE_P2PKH)
	defer src.key.Release()
	dst := newTestWallet(t, WALLET_TYPE_P2WPKH)
	from, to := src.address.EncodeAddress(), dst.address.EncodeAddress()

	client := &fakeRPC{unspent: []btcjson.ListUnspentResult{src.unspent("c", 2, 0.01)}}
	adapter := newTestAdapter(client, 5)
	ctx := context.Background()

	state, err := adapter.SpendableState(ctx, from, decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	fee, err := adapter.EstimateFee(ctx, types.TxShape{From: from, To: to, Inputs: 1, Outputs: 1})
	require.NoError(t, err)
	utx, err := adapter.BuildTransaction(from, to, decimal.RequireFromString("0.01").Sub(fee.Amount), state, fee)
	require.NoError(t, err)
	signed, err := adapter.SignTransaction(utx, src.key)
	require.NoError(t, err)

	verifyInputs(t, signed.Raw, src.script, []int64{1_000_000})
	summary, err := adapter.DecodeTransaction(signed)
	require.NoError(t, err)
	assert.Equal(t, from, summary.From)
	assert.Equal(t, to, summary.To)
}

func TestBuildAddsChangeAboveDust(t *testing.T) {
	src := newTestWallet(t, WALLET_TYPE_P2WPKH)
	dst := newTestWallet(t, WALLET_TYPE_P2WPKH)
	from, to := src.address.EncodeAddress(), dst.address.EncodeAddress()
	adapter := newTestAdapter(&fakeRPC{unspent: []btcjson.ListUnspentResult{src.unspent("d", 0, 1)}}, 10)
	ctx := context.Background()

	state, err := adapter.SpendableState(ctx, from, decimal.RequireFromString("0.4"))
	require.NoError(t, err)
	fee, err := adapter.EstimateFee(ctx, types.TxShape{From: from, To: to, Inputs: 1, Outputs: 1})
	require.NoError(t, err)
	utx, err := adapter.BuildTransaction(from, to, decimal.RequireFromString("0.4"), state, fee)
	require.NoError(t, err)

	msgTx := utx.Payload.(*sweepTx).msgTx
	require.Len(t, msgTx.TxOut, 2)
	assert.Equal(t, int64(40_000_000), msgTx.TxOut[0].Value)
	assert.Equal(t, int64(59_998_590), msgTx.TxOut[1].Value)
	assert.Equal(t, src.script, msgTx.TxOut[1].PkScript)
	assert.Equal(t, "0.0000141", utx.Fee.Amount.String())
}

func TestBuildInsufficientFunds(t *testing.T) {
	src := newTestWallet(t, WALLET_TYPE_P2WPKH)
	from := src.address.EncodeAddress()
	adapter := newTestAdapter(&fakeRPC{}, 10)
	state := &types.SpendableState{
		Address:   from,
		Utxos:     []types.Utxo{{Txid: strings.Repeat("e", 64), Amount: decimal.RequireFromString("0.0001")}},
		Available: decimal.RequireFromString("0.0001"),
	}
	fee := types.FeeEstimate{Amount: decimal.RequireFromString("0.00002"), Rate: decimal.NewFromInt(10)}

	_, err := adapter.BuildTransaction(from, from, decimal.RequireFromString("0.0001"), state, fee)
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)

	_, err = adapter.BuildTransaction(from, from, decimal.RequireFromString("0.000001"), state, fee)
	assert.ErrorIs(t, err, types.ErrInsufficientFunds, "dust output")
}

func TestSignRejectsForeignKey(t *testing.T) {
	src := newTestWallet(t, WALLET_TYPE_P2WPKH)
	other := newTestWallet(t, WALLET_TYPE_P2WPKH)
	from := src.address.EncodeAddress()
	adapter := newTestAdapter(&fakeRPC{unspent: []btcjson.ListUnspentResult{src.unspent("f", 0, 0.1)}}, 1)
	ctx := context.Background()

	state, err := adapter.SpendableState(ctx, from, decimal.RequireFromString("0.1"))
	require.NoError(t, err)
	fee, err := adapter.EstimateFee(ctx, types.TxShape{From: from, To: from, Inputs: 1, Outputs: 1})
	require.NoError(t, err)
	utx, err := adapter.BuildTransaction(from, from, decimal.RequireFromString("0.05"), state, fee)
	require.NoError(t, err)

	_, err = adapter.SignTransaction(utx, other.key)
	assert.ErrorIs(t, err, types.ErrInvalidAddress)
}

func TestBroadcastErrorMapping(t *testing.T) {
	src := newTestWallet(t, WALLET_TYPE_P2WPKH)
	defer src.key.Release()
	from := src.address.EncodeAddress()
	client := &fakeRPC{unspent: []btcjson.ListUnspentResult{src.unspent("1", 0, 0.1)}}
	adapter := newTestAdapter(client, 2)
	ctx := context.Background()

	state, err := adapter.SpendableState(ctx, from, decimal.RequireFromString("0.1"))
	require.NoError(t, err)
	fee, err := adapter.EstimateFee(ctx, types.TxShape{From: from, To: from, Inputs: 1, Outputs: 1})
	require.NoError(t, err)
	utx, err := adapter.BuildTransaction(from, from, decimal.RequireFromString("0.1").Sub(fee.Amount), state, fee)
	require.NoError(t, err)
	signed, err := adapter.SignTransaction(utx, src.key)
	require.NoError(t, err)

	txid, err := adapter.BroadcastTransaction(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, signed.Hash, txid)

	client.sendErr = &btcjson.RPCError{Code: btcjson.ErrRPCTxAlreadyInChain, Message: "transaction already in block chain"}
	txid, err = adapter.BroadcastTransaction(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, signed.Hash, txid)

	client.sendErr = &btcjson.RPCError{Code: btcjson.ErrRPCVerifyRejected, Message: "min relay fee not met"}
	_, err = adapter.BroadcastTransaction(ctx, signed)
	assert.ErrorIs(t, err, types.ErrBroadcastRejected)

	client.sendErr = errors.New("Post \"http://localhost:18443\": dial tcp: connection refused")
	_, err = adapter.BroadcastTransaction(ctx, signed)
	assert.ErrorIs(t, err, types.ErrBackendUnreachable)

	for _, tx := range client.sent {
		assert.Equal(t, signed.Hash, tx.TxHash().String())
	}
}

func TestBroadcastTimeout(t *testing.T) {
	src := newTestWallet(t, WALLET_TYPE_P2WPKH)
	from := src.address.EncodeAddress()
	client := &fakeRPC{unspent: []btcjson.ListUnspentResult{src.unspent("2", 0, 0.1)}, block: make(chan struct{})}
	defer close(client.block)
	adapter := newTestAdapter(client, 2)
	ctx := context.Background()

	state, err := adapter.SpendableState(ctx, from, decimal.RequireFromString("0.1"))
	require.NoError(t, err)
	fee, err := adapter.EstimateFee(ctx, types.TxShape{From: from, To: from, Inputs: 1, Outputs: 1})
	require.NoError(t, err)
	utx, err := adapter.BuildTransaction(from, from, decimal.RequireFromString("0.09"), state, fee)
	require.NoError(t, err)
	signed, err := adapter.SignTransaction(utx, src.key)
	require.NoError(t, err)

	_, err = adapter.BroadcastTransaction(ctx, signed)
	assert.ErrorIs(t, err, types.ErrBackendUnreachable)
}

func TestReadErrorMapping(t *testing.T) {
	src := newTestWallet(t, WALLET_TYPE_P2WPKH)
	from := src.address.EncodeAddress()

	_, err := newTestAdapter(&fakeRPC{readErr: errors.New("connection refused")}, 1).Balance(context.Background(), from)
	assert.ErrorIs(t, err, types.ErrBackendUnreachable)

	_, err = newTestAdapter(&fakeRPC{readErr: &btcjson.RPCError{Code: btcjson.ErrRPCWallet, Message: "wallet not loaded"}}, 1).Balance(context.Background(), from)
	assert.ErrorIs(t, err, types.ErrMalformedResponse)

	bad := src.unspent("3", 0, 0.1)
	bad.ScriptPubKey = "zz"
	_, err = newTestAdapter(&fakeRPC{unspent: []btcjson.ListUnspentResult{bad}}, 1).Balance(context.Background(), from)
	assert.ErrorIs(t, err, types.ErrMalformedResponse)

	assert.ErrorIs(t, newTestAdapter(&fakeRPC{}, 1).ValidateAddress("bc1qnotregtest"), types.ErrInvalidAddress)
	assert.NoError(t, newTestAdapter(&fakeRPC{height: 101}, 1).IsReachable(context.Background()))
	assert.ErrorIs(t, newTestAdapter(&fakeRPC{readErr: errors.New("eof")}, 1).IsReachable(context.Background()), types.ErrBackendUnreachable)
}
