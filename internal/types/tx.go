package types

import (
	"github.com/shopspring/decimal"
)

// FeeEstimate is the network fee for a transaction shape in whole coin units.
// Rate and Size are the inputs it was derived from (gas price in wei and gas
// limit, or sat/vB and virtual size).
type FeeEstimate struct {
	Amount decimal.Decimal `json:"amount"`
	Unit   string          `json:"unit"`
	Rate   decimal.Decimal `json:"rate"`
	Size   uint64          `json:"size"`
}

// Utxo is an unspent output owned by the sweeping address
type Utxo struct {
	Txid     string          `json:"txid"`
	OutIndex uint32          `json:"out_index"`
	Amount   decimal.Decimal `json:"amount"`
	PkScript []byte          `json:"pk_script"`
}

// SpendableState is what an address can spend right now: the account nonce
// for account chains, the selected outputs for UTXO chains
type SpendableState struct {
	Address   string          `json:"address"`
	Nonce     uint64          `json:"nonce"`
	Utxos     []Utxo          `json:"utxos,omitempty"`
	Available decimal.Decimal `json:"available"`
}

// TxShape describes a transaction before it is built, enough to size its fee
type TxShape struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Inputs  int    `json:"inputs"`
	Outputs int    `json:"outputs"`
}

// UnsignedTx is built once per sweep and reused across broadcast retries.
// Payload holds the chain specific transaction object.
type UnsignedTx struct {
	Chain   ChainKind       `json:"chain"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Amount  decimal.Decimal `json:"amount"`
	Fee     FeeEstimate     `json:"fee"`
	Payload any             `json:"-"`
}

// SignedTx is the serialized, broadcastable transaction
type SignedTx struct {
	Chain ChainKind `json:"chain"`
	Hash  string    `json:"hash"`
	Raw   []byte    `json:"raw"`
}

// TxSummary is what an adapter reads back out of a signed transaction
type TxSummary struct {
	Hash   string          `json:"hash"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}
