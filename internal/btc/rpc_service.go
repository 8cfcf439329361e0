package btc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/shopspring/decimal"
)

// RPCClient is the part of the bitcoind json-rpc surface the sweeper uses
type RPCClient interface {
	ListUnspentMinMaxAddresses(minConf, maxConf int, addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error)
	EstimateSmartFee(confTarget int64, mode *btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult, error)
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error)
	GetBlockCount() (int64, error)
}

var _ RPCClient = (*rpcclient.Client)(nil)

// NewRPCClient connects to bitcoind over http post mode
func NewRPCClient(host, user, pass string) (*rpcclient.Client, error) {
	connConfig := &rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	return rpcclient.New(connConfig, nil)
}

// BTCRPCService bounds every node call by a timeout and maps errors onto the
// sweep taxonomy. rpcclient calls are not cancelable, an abandoned call finishes
// in the background.
type BTCRPCService struct {
	client    RPCClient
	backendID string
	timeout   time.Duration
}

func NewBTCRPCService(client RPCClient, backendID string, timeout time.Duration) *BTCRPCService {
	return &BTCRPCService{client: client, backendID: backendID, timeout: timeout}
}

type callResult[T any] struct {
	val T
	err error
}

func callWithTimeout[T any](ctx context.Context, s *BTCRPCService, method string, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan callResult[T], 1)
	go func() {
		v, err := fn()
		done <- callResult[T]{val: v, err: err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		return zero, types.Unreachable(s.backendID, fmt.Errorf("%s: %w", method, ctx.Err()))
	case res := <-done:
		return res.val, res.err
	}
}

// ListUnspent returns confirmed unspent outputs of addr
func (s *BTCRPCService) ListUnspent(ctx context.Context, addr btcutil.Address) ([]btcjson.ListUnspentResult, error) {
	res, err := callWithTimeout(ctx, s, "listunspent", func() ([]btcjson.ListUnspentResult, error) {
		return s.client.ListUnspentMinMaxAddresses(1, 9999999, []btcutil.Address{addr})
	})
	if err != nil {
		return nil, s.wrapRead(err)
	}
	return res, nil
}

// EstimateSmartFee returns the conservative fee rate in sat/vB for target blocks
func (s *BTCRPCService) EstimateSmartFee(ctx context.Context, target int64) (uint64, error) {
	res, err := callWithTimeout(ctx, s, "estimatesmartfee", func() (*btcjson.EstimateSmartFeeResult, error) {
		return s.client.EstimateSmartFee(target, &btcjson.EstimateModeConservative)
	})
	if err != nil {
		return 0, s.wrapRead(err)
	}
	if res == nil || res.FeeRate == nil || *res.FeeRate <= 0 {
		var reason string
		if res != nil {
			reason = strings.Join(res.Errors, "; ")
		}
		return 0, types.Malformed(s.backendID, reason, fmt.Errorf("no fee estimate for target %d", target))
	}
	// BTC/kvB to sat/vB, rounded up so a sub 1 sat/vB estimate stays usable
	satPerVByte := decimal.NewFromFloat(*res.FeeRate).Shift(5).Ceil().IntPart()
	return uint64(max(1, satPerVByte)), nil
}

// SendRawTransaction submits tx. A transaction the node already has counts as
// submitted.
func (s *BTCRPCService) SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (string, error) {
	txid := tx.TxHash().String()
	_, err := callWithTimeout(ctx, s, "sendrawtransaction", func() (*chainhash.Hash, error) {
		return s.client.SendRawTransaction(tx, false)
	})
	if err == nil {
		return txid, nil
	}
	if errors.Is(err, types.ErrBackendUnreachable) {
		return "", err
	}
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == btcjson.ErrRPCTxAlreadyInChain || strings.Contains(rpcErr.Message, "already in") {
			return txid, nil
		}
		return "", types.Rejected(rpcErr.Message)
	}
	return "", s.wrapRead(err)
}

func (s *BTCRPCService) GetBlockCount(ctx context.Context) (int64, error) {
	height, err := callWithTimeout(ctx, s, "getblockcount", s.client.GetBlockCount)
	if err != nil {
		if errors.Is(err, types.ErrBackendUnreachable) {
			return 0, err
		}
		return 0, types.Unreachable(s.backendID, err)
	}
	if height < 0 {
		return 0, types.Malformed(s.backendID, fmt.Sprint(height), errors.New("negative block count"))
	}
	return height, nil
}

// wrapRead classifies a failed query: the node answering with an error object
// or undecodable json is malformed, anything else is transport
func (s *BTCRPCService) wrapRead(err error) error {
	if errors.Is(err, types.ErrBackendUnreachable) || errors.Is(err, types.ErrMalformedResponse) {
		return err
	}
	var rpcErr *btcjson.RPCError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &rpcErr):
		return types.Malformed(s.backendID, rpcErr.Message, err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return types.Malformed(s.backendID, err.Error(), err)
	}
	return types.Unreachable(s.backendID, err)
}
