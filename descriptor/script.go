package descriptor

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/vulpemventures/go-elements/network"
	"github.com/vulpemventures/go-elements/payment"

	"github.com/vulpemventures/go-descriptors/miniscript"
)

func p2pkhScript(keyHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(keyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

func p2shScript(scriptHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(scriptHash).
		AddOp(txscript.OP_EQUAL).
		Script()
}

func p2wpkhScript(keyHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(keyHash).
		Script()
}

func p2wshScript(witnessScript []byte) ([]byte, error) {
	scriptHash := sha256.Sum256(witnessScript)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(scriptHash[:]).
		Script()
}

func p2trScript(outputKey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(outputKey).
		Script()
}

// pushScript builds a script sig that pushes the witness elements in stack
// order. Empty elements become OP_0.
func pushScript(elements wire.TxWitness) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	for _, el := range elements {
		b.AddData(el)
	}
	return b.Script()
}

// compressedKeyBytes returns the serialized key and enforces the 33 byte
// compressed form needed for the key hash descriptors. Wildcard keys pass,
// they are checked once derived.
func compressedKeyBytes[Pk miniscript.Key](key Pk) ([]byte, error) {
	raw, err := key.RawPubKey()
	if err != nil {
		return nil, err
	}
	if len(raw) != 33 {
		return nil, fmt.Errorf(
			"%w: key %s must be a 33 byte compressed key",
			ErrBadKey, key,
		)
	}
	return raw, nil
}

// addressFromScript encodes the output script as an address of the given
// network via the payment layer. A non-nil blinding key yields the
// confidential encoding.
func addressFromScript(script []byte, net *network.Network,
	blindingKey *btcec.PublicKey, typ DescriptorType) (string, error) {

	if net == nil {
		net = &network.Liquid
	}
	pay, err := payment.FromScript(script, net, blindingKey)
	if err != nil {
		return "", err
	}
	blinded := blindingKey != nil
	switch typ {
	case TypePkh:
		if blinded {
			return pay.ConfidentialPubKeyHash()
		}
		return pay.PubKeyHash()
	case TypeSh, TypeShWsh, TypeShWpkh, TypeShSortedMulti,
		TypeShWshSortedMulti:
		if blinded {
			return pay.ConfidentialScriptHash()
		}
		return pay.ScriptHash()
	case TypeWpkh:
		if blinded {
			return pay.ConfidentialWitnessPubKeyHash()
		}
		return pay.WitnessPubKeyHash()
	case TypeWsh, TypeWshSortedMulti, TypeCov:
		if blinded {
			return pay.ConfidentialWitnessScriptHash()
		}
		return pay.WitnessScriptHash()
	case TypeTr:
		if blinded {
			return pay.ConfidentialTaprootAddress()
		}
		return pay.TaprootAddress()
	default:
		return "", ErrNoAddress
	}
}

// Upper bounds for signature witness elements, including the length prefix
// and the sighash byte.
const (
	maxECDSASigElement   = 1 + 73
	maxSchnorrSigElement = 1 + 65
	keyElement           = 1 + 33
)
