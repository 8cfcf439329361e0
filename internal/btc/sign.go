package btc

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	log "github.com/sirupsen/logrus"
)

// prevOut is a spent output as the signer needs it
type prevOut struct {
	outPoint wire.OutPoint
	amount   int64
	pkScript []byte
}

// keyAddress derives the address privKey controls for addrType. P2PKH
// wallets may use either pubkey encoding, compressed reports which matched.
func keyAddress(privKey *btcec.PrivateKey, addrType string, want btcutil.Address, net *chaincfg.Params) (compressed bool, err error) {
	pub := privKey.PubKey()
	switch addrType {
	case WALLET_TYPE_P2WPKH:
		addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), net)
		if err != nil {
			return false, err
		}
		return true, matchAddress(addr, want)
	case WALLET_TYPE_P2PKH:
		for _, compressed := range []bool{true, false} {
			serialized := pub.SerializeUncompressed()
			if compressed {
				serialized = pub.SerializeCompressed()
			}
			addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(serialized), net)
			if err != nil {
				return false, err
			}
			if matchAddress(addr, want) == nil {
				return compressed, nil
			}
		}
		return false, fmt.Errorf("%w: private key does not control %s", types.ErrInvalidAddress, want.EncodeAddress())
	}
	return false, fmt.Errorf("%w: cannot sign for %s address %s", types.ErrInvalidAddress, addrType, want.EncodeAddress())
}

func matchAddress(got, want btcutil.Address) error {
	if got.EncodeAddress() != want.EncodeAddress() {
		return fmt.Errorf("%w: private key does not control %s", types.ErrInvalidAddress, want.EncodeAddress())
	}
	return nil
}

// SignTransactionByPrivKey fills the unlocking data of every input of tx,
// all inputs belong to the same single-key address of addrType
func SignTransactionByPrivKey(privKey *btcec.PrivateKey, tx *wire.MsgTx, prevOuts []prevOut, addrType string, compressed bool) error {
	if len(prevOuts) != len(tx.TxIn) {
		return fmt.Errorf("%w: %d inputs but %d previous outputs", types.ErrStructuralInput, len(tx.TxIn), len(prevOuts))
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, prev := range prevOuts {
		fetcher.AddPrevOut(prev.outPoint, wire.NewTxOut(prev.amount, prev.pkScript))
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, prev := range prevOuts {
		log.Debugf("SignTransactionByPrivKey input %d: %s", i, prev.outPoint.String())
		switch addrType {
		// P2PKH
		case WALLET_TYPE_P2PKH:
			sigScript, err := txscript.SignatureScript(tx, i, prev.pkScript, txscript.SigHashAll, privKey, compressed)
			if err != nil {
				return err
			}
			tx.TxIn[i].SignatureScript = sigScript

		// P2WPKH
		case WALLET_TYPE_P2WPKH:
			witnessSig, err := txscript.RawTxInWitnessSignature(tx, sigHashes, i, prev.amount, prev.pkScript, txscript.SigHashAll, privKey)
			if err != nil {
				return err
			}
			tx.TxIn[i].Witness = wire.TxWitness{
				witnessSig,                             // signature
				privKey.PubKey().SerializeCompressed(), // public key
			}

		default:
			return fmt.Errorf("%w: unsupported input type %s", types.ErrInvalidAddress, addrType)
		}
	}
	return nil
}

// senderAddress recovers the spending address from the first input's
// unlocking data
func senderAddress(tx *wire.MsgTx, net *chaincfg.Params) (string, error) {
	if len(tx.TxIn) == 0 {
		return "", fmt.Errorf("%w: transaction has no inputs", types.ErrMalformedResponse)
	}
	in := tx.TxIn[0]
	if len(in.Witness) == 2 {
		addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(in.Witness[1]), net)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	}
	pushes, err := txscript.PushedData(in.SignatureScript)
	if err != nil || len(pushes) < 2 {
		return "", fmt.Errorf("%w: unrecognized signature script", types.ErrMalformedResponse)
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pushes[len(pushes)-1]), net)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func parseOutPoint(txid string, vout uint32) (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, err
	}
	return wire.NewOutPoint(hash, vout), nil
}
