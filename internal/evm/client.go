package evm

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// EthClient is the subset of ethclient.Client the adapter needs
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type errorKind int

const (
	errTransport errorKind = iota
	errDecode
	errRejected
)

// classifyRPCError separates node-side rejections (JSON-RPC error objects) from
// transport failures and undecodable responses
func classifyRPCError(err error) errorKind {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return errTransport
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return errRejected
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return errDecode
	}
	return errTransport
}

// isAlreadyKnown matches the txpool answers for a resubmitted identical transaction
func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}
