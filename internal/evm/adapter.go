package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/goatnetwork/wallet-sweeper/internal/chain"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultGasLimit  = 21000
	DefaultBackendID = "evm"
	feeUnit          = "ETH"
)

type Options struct {
	BackendID string
	ChainID   *big.Int
	GasLimit  uint64
	Timeout   time.Duration
}

// Adapter implements chain.Adapter for account/nonce chains. Every transfer is
// a legacy EIP-155 value transfer with a live gas price.
type Adapter struct {
	client    EthClient
	backendID string
	chainID   *big.Int
	signer    gethtypes.Signer
	gasLimit  uint64
	timeout   time.Duration
}

var _ chain.Adapter = (*Adapter)(nil)

// Dial connects to an EVM JSON-RPC endpoint
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

func NewAdapter(client EthClient, opts Options) *Adapter {
	if opts.BackendID == "" {
		opts.BackendID = DefaultBackendID
	}
	if opts.ChainID == nil {
		opts.ChainID = big.NewInt(1)
	}
	if opts.GasLimit == 0 {
		opts.GasLimit = DefaultGasLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Adapter{
		client:    client,
		backendID: opts.BackendID,
		chainID:   new(big.Int).Set(opts.ChainID),
		signer:    gethtypes.LatestSignerForChainID(opts.ChainID),
		gasLimit:  opts.GasLimit,
		timeout:   opts.Timeout,
	}
}

func (a *Adapter) Kind() types.ChainKind { return types.ChainAccountModel }

func (a *Adapter) BackendID() string { return a.backendID }

func (a *Adapter) ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: %q is not an EVM address", types.ErrInvalidAddress, address)
	}
	return nil
}

// wrap turns a client error into the sweep taxonomy
func (a *Adapter) wrap(err error) error {
	switch classifyRPCError(err) {
	case errDecode:
		return types.Malformed(a.backendID, err.Error(), err)
	case errRejected:
		return types.Rejected(err.Error())
	default:
		return types.Unreachable(a.backendID, err)
	}
}

// SpendableState returns the pending nonce and current balance; amount is not
// needed for account chains
func (a *Adapter) SpendableState(ctx context.Context, address string, _ decimal.Decimal) (*types.SpendableState, error) {
	if err := a.ValidateAddress(address); err != nil {
		return nil, err
	}
	account := common.HexToAddress(address)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	nonce, err := a.client.PendingNonceAt(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("get nonce of %s: %w", address, a.wrapRead(err))
	}
	wei, err := a.client.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("get balance of %s: %w", address, a.wrapRead(err))
	}
	if wei == nil || wei.Sign() < 0 {
		return nil, types.Malformed(a.backendID, fmt.Sprint(wei), errors.New("invalid balance"))
	}
	return &types.SpendableState{
		Address:   address,
		Nonce:     nonce,
		Available: chain.FromBaseUnits(wei, chain.EtherDecimals),
	}, nil
}

// wrapRead is wrap for queries: a JSON-RPC error object on a read means the
// node answered with something we cannot use
func (a *Adapter) wrapRead(err error) error {
	if classifyRPCError(err) == errRejected {
		return types.Malformed(a.backendID, err.Error(), err)
	}
	return a.wrap(err)
}

// EstimateFee is gas_limit * live gas price
func (a *Adapter) EstimateFee(ctx context.Context, _ types.TxShape) (types.FeeEstimate, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return types.FeeEstimate{}, fmt.Errorf("suggest gas price: %w", a.wrapRead(err))
	}
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		return types.FeeEstimate{}, types.Malformed(a.backendID, fmt.Sprint(gasPrice), errors.New("invalid gas price"))
	}
	feeWei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(a.gasLimit))
	return types.FeeEstimate{
		Amount: chain.FromBaseUnits(feeWei, chain.EtherDecimals),
		Unit:   feeUnit,
		Rate:   decimal.NewFromBigInt(gasPrice, 0),
		Size:   a.gasLimit,
	}, nil
}

func (a *Adapter) BuildTransaction(from, to string, amount decimal.Decimal, state *types.SpendableState, fee types.FeeEstimate) (*types.UnsignedTx, error) {
	if err := a.ValidateAddress(from); err != nil {
		return nil, err
	}
	if err := a.ValidateAddress(to); err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: missing spendable state for %s", types.ErrStructuralInput, from)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive amount %s", types.ErrInsufficientFunds, amount)
	}
	if amount.Add(fee.Amount).GreaterThan(state.Available) {
		return nil, fmt.Errorf("%w: %s + fee %s > available %s", types.ErrInsufficientFunds, amount, fee.Amount, state.Available)
	}
	value, err := chain.ToBaseUnits(amount, chain.EtherDecimals)
	if err != nil {
		return nil, err
	}
	gasPrice := fee.Rate.BigInt()
	if gasPrice.Sign() <= 0 || fee.Size == 0 {
		return nil, fmt.Errorf("%w: fee estimate without gas price", types.ErrStructuralInput)
	}
	toAddr := common.HexToAddress(to)
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    state.Nonce,
		To:       &toAddr,
		Value:    value,
		Gas:      fee.Size,
		GasPrice: gasPrice,
	})
	return &types.UnsignedTx{
		Chain:   types.ChainAccountModel,
		From:    from,
		To:      to,
		Amount:  amount,
		Fee:     fee,
		Payload: tx,
	}, nil
}

// SignTransaction signs inside the key's scope; the parsed ecdsa key is wiped
// before returning
func (a *Adapter) SignTransaction(utx *types.UnsignedTx, key *types.SecretKey) (*types.SignedTx, error) {
	tx, ok := utx.Payload.(*gethtypes.Transaction)
	if !ok {
		return nil, fmt.Errorf("%w: payload %T is not an EVM transaction", types.ErrStructuralInput, utx.Payload)
	}
	var signed *gethtypes.Transaction
	err := key.Use(func(raw []byte) error {
		priv, err := crypto.ToECDSA(raw)
		if err != nil {
			return fmt.Errorf("%w: parse private key: %v", types.ErrStructuralInput, err)
		}
		defer wipe(priv)

		if owner := crypto.PubkeyToAddress(priv.PublicKey); owner != common.HexToAddress(utx.From) {
			return fmt.Errorf("%w: private key does not control %s", types.ErrInvalidAddress, utx.From)
		}
		signed, err = gethtypes.SignTx(tx, a.signer, priv)
		return err
	})
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode signed tx: %w", err)
	}
	return &types.SignedTx{
		Chain: types.ChainAccountModel,
		Hash:  signed.Hash().Hex(),
		Raw:   raw,
	}, nil
}

func wipe(priv *ecdsa.PrivateKey) {
	if priv == nil || priv.D == nil {
		return
	}
	words := priv.D.Bits()
	clear(words)
	priv.D.SetInt64(0)
}

func (a *Adapter) BroadcastTransaction(ctx context.Context, stx *types.SignedTx) (string, error) {
	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(stx.Raw); err != nil {
		return "", fmt.Errorf("%w: decode signed tx: %v", types.ErrStructuralInput, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.client.SendTransaction(ctx, tx); err != nil {
		if isAlreadyKnown(err) {
			log.Infof("EVM broadcast tx %s already known by node", tx.Hash().Hex())
			return tx.Hash().Hex(), nil
		}
		return "", a.wrap(err)
	}
	return tx.Hash().Hex(), nil
}

func (a *Adapter) DecodeTransaction(stx *types.SignedTx) (*types.TxSummary, error) {
	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(stx.Raw); err != nil {
		return nil, fmt.Errorf("%w: decode signed tx: %v", types.ErrMalformedResponse, err)
	}
	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, fmt.Errorf("%w: recover sender: %v", types.ErrMalformedResponse, err)
	}
	summary := &types.TxSummary{
		Hash:   tx.Hash().Hex(),
		From:   from.Hex(),
		Amount: chain.FromBaseUnits(tx.Value(), chain.EtherDecimals),
	}
	if tx.To() != nil {
		summary.To = tx.To().Hex()
	}
	return summary, nil
}

func (a *Adapter) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if err := a.ValidateAddress(address); err != nil {
		return decimal.Zero, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	wei, err := a.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, a.wrapRead(err)
	}
	if wei == nil || wei.Sign() < 0 {
		return decimal.Zero, types.Malformed(a.backendID, fmt.Sprint(wei), errors.New("invalid balance"))
	}
	return chain.FromBaseUnits(wei, chain.EtherDecimals), nil
}

// IsReachable asks the node for its chain id and checks it matches
func (a *Adapter) IsReachable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	id, err := a.client.ChainID(ctx)
	if err != nil {
		return types.Unreachable(a.backendID, err)
	}
	if id == nil || id.Cmp(a.chainID) != 0 {
		return types.Malformed(a.backendID, fmt.Sprint(id), fmt.Errorf("chain id mismatch, want %s", a.chainID))
	}
	return nil
}
