package types

import (
	"fmt"
	"strings"
)

// ChainKind is the transaction model family a wallet lives on
type ChainKind int

const (
	ChainUnknown ChainKind = iota
	ChainAccountModel
	ChainUTXOModel
)

func (c ChainKind) String() string {
	switch c {
	case ChainAccountModel:
		return "account"
	case ChainUTXOModel:
		return "utxo"
	default:
		return "unknown"
	}
}

// ParseChainKind accepts the canonical names plus the common network aliases
// used by recovery sources ("evm", "ethereum", "bitcoin", "btc")
func ParseChainKind(s string) (ChainKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "account", "evm", "eth", "ethereum":
		return ChainAccountModel, nil
	case "utxo", "btc", "bitcoin":
		return ChainUTXOModel, nil
	}
	return ChainUnknown, fmt.Errorf("%w: %q", ErrUnsupportedChain, s)
}

func (c ChainKind) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ChainKind) UnmarshalText(text []byte) error {
	kind, err := ParseChainKind(string(text))
	if err != nil {
		// keep the record decodable, dispatch rejects it later
		*c = ChainUnknown
		return nil
	}
	*c = kind
	return nil
}
