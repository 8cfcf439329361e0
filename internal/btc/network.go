package btc

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
)

const (
	WALLET_TYPE_P2PKH  = "P2PKH"
	WALLET_TYPE_P2SH   = "P2SH"
	WALLET_TYPE_P2WPKH = "P2WPKH"
	WALLET_TYPE_P2WSH  = "P2WSH"
	WALLET_TYPE_P2TR   = "P2TR"
)

// GetBTCNetwork maps BTC_NETWORK_TYPE onto chain params, empty means mainnet
func GetBTCNetwork(networkType string) *chaincfg.Params {
	switch strings.ToLower(networkType) {
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// DecodeAddress decodes an address and checks it belongs to net
func DecodeAddress(address string, net *chaincfg.Params) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, net)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", types.ErrInvalidAddress, address, err)
	}
	if !addr.IsForNet(net) {
		return nil, fmt.Errorf("%w: %q is not a %s address", types.ErrInvalidAddress, address, net.Name)
	}
	return addr, nil
}

// GetAddressType names the output script type of addr
func GetAddressType(addr btcutil.Address) (string, error) {
	switch addr.(type) {
	case *btcutil.AddressPubKeyHash:
		return WALLET_TYPE_P2PKH, nil
	case *btcutil.AddressScriptHash:
		return WALLET_TYPE_P2SH, nil
	case *btcutil.AddressWitnessPubKeyHash:
		return WALLET_TYPE_P2WPKH, nil
	case *btcutil.AddressWitnessScriptHash:
		return WALLET_TYPE_P2WSH, nil
	case *btcutil.AddressTaproot:
		return WALLET_TYPE_P2TR, nil
	}
	return "", fmt.Errorf("%w: unsupported address type %T", types.ErrInvalidAddress, addr)
}

// isSweepable reports whether we can sign spends from this address type with a single key
func isSweepable(addrType string) bool {
	return addrType == WALLET_TYPE_P2PKH || addrType == WALLET_TYPE_P2WPKH
}
