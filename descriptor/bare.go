package descriptor

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/vulpemventures/go-elements/network"

	"github.com/vulpemventures/go-descriptors/miniscript"
)

// Bare is a raw output script described by a miniscript expression, e.g.
// elpk(KEY). Bare outputs are satisfied through the script sig alone and
// have no address form.
type Bare[Pk miniscript.Key] struct {
	Ms *miniscript.AST[Pk]
}

func parseBare[Pk miniscript.Key](expr string,
	parseKey miniscript.KeyParser[Pk]) (*Bare[Pk], error) {

	ms, err := miniscript.Parse(
		miniscript.ContextLegacy, expr, parseKey, nil,
	)
	if err != nil {
		return nil, err
	}
	if err := ms.IsValidTopLevel(); err != nil {
		return nil, err
	}
	return &Bare[Pk]{Ms: ms}, nil
}

func (d *Bare[Pk]) isDescriptor() {}

func (d *Bare[Pk]) String() string {
	return appendChecksum("el" + d.Ms.String())
}

func (d *Bare[Pk]) Type() DescriptorType {
	return TypeBare
}

func (d *Bare[Pk]) ScriptPubKey() ([]byte, error) {
	return d.Ms.Encode()
}

func (d *Bare[Pk]) Address(net *network.Network,
	blindingKey *btcec.PublicKey) (string, error) {

	return "", ErrNoAddress
}

func (d *Bare[Pk]) ExplicitScript() ([]byte, error) {
	return d.Ms.Encode()
}

func (d *Bare[Pk]) ScriptCode() ([]byte, error) {
	return d.Ms.Encode()
}

func (d *Bare[Pk]) UnsignedScriptSig() ([]byte, error) {
	return nil, nil
}

func (d *Bare[Pk]) MaxWeightToSatisfy() (int, error) {
	size, err := d.Ms.MaxWitnessSize()
	if err != nil {
		return 0, err
	}
	// All satisfaction data lives in the script sig.
	return 4 * size, nil
}

func (d *Bare[Pk]) SanityCheck() error {
	return d.Ms.IsSane()
}

func (d *Bare[Pk]) GetSatisfaction(satisfier *miniscript.Satisfier[Pk]) (
	wire.TxWitness, []byte, error) {

	stack, err := d.Ms.Satisfy(satisfier)
	if err != nil {
		return nil, nil, err
	}
	scriptSig, err := pushScript(stack)
	if err != nil {
		return nil, nil, err
	}
	return nil, scriptSig, nil
}

func (d *Bare[Pk]) GetSatisfactionMalleable(
	satisfier *miniscript.Satisfier[Pk]) (wire.TxWitness, []byte, error) {

	stack, err := d.Ms.SatisfyMalleable(satisfier)
	if err != nil {
		return nil, nil, err
	}
	scriptSig, err := pushScript(stack)
	if err != nil {
		return nil, nil, err
	}
	return nil, scriptSig, nil
}

func (d *Bare[Pk]) ForEachKey(fn func(Pk) bool) bool {
	return d.Ms.ForEachKey(fn)
}

// Pkh is pay-to-pubkey-hash: elpkh(KEY).
type Pkh[Pk miniscript.Key] struct {
	Key Pk
}

func parsePkh[Pk miniscript.Key](expr string,
	parseKey miniscript.KeyParser[Pk]) (*Pkh[Pk], error) {

	inner, err := fragmentArgs(expr, "pkh")
	if err != nil {
		return nil, err
	}
	key, err := parseSingleKey(inner, parseKey)
	if err != nil {
		return nil, err
	}
	return &Pkh[Pk]{Key: key}, nil
}

// parseSingleKey parses a fragment argument that must be exactly one key
// expression.
func parseSingleKey[Pk miniscript.Key](arg string,
	parseKey miniscript.KeyParser[Pk]) (Pk, error) {

	var zero Pk
	if strings.Contains(arg, ",") {
		return zero, fmt.Errorf(
			"%w: expected a single key expression", ErrBadDescriptor,
		)
	}
	return parseKey(arg)
}

// legacyKeyBytes returns the serialized key for the pre-segwit contexts,
// where both compressed and uncompressed keys are accepted.
func legacyKeyBytes[Pk miniscript.Key](key Pk) ([]byte, error) {
	raw, err := key.RawPubKey()
	if err != nil {
		return nil, err
	}
	if len(raw) != 33 && len(raw) != 65 {
		return nil, fmt.Errorf(
			"%w: key %s cannot be used in a legacy script",
			ErrBadKey, key,
		)
	}
	return raw, nil
}

func (d *Pkh[Pk]) isDescriptor() {}

func (d *Pkh[Pk]) String() string {
	return appendChecksum("elpkh(" + d.Key.String() + ")")
}

func (d *Pkh[Pk]) Type() DescriptorType {
	return TypePkh
}

func (d *Pkh[Pk]) ScriptPubKey() ([]byte, error) {
	raw, err := legacyKeyBytes(d.Key)
	if err != nil {
		return nil, err
	}
	return p2pkhScript(btcutil.Hash160(raw))
}

func (d *Pkh[Pk]) Address(net *network.Network,
	blindingKey *btcec.PublicKey) (string, error) {

	script, err := d.ScriptPubKey()
	if err != nil {
		return "", err
	}
	return addressFromScript(script, net, blindingKey, TypePkh)
}

func (d *Pkh[Pk]) ExplicitScript() ([]byte, error) {
	return d.ScriptPubKey()
}

func (d *Pkh[Pk]) ScriptCode() ([]byte, error) {
	return d.ScriptPubKey()
}

func (d *Pkh[Pk]) UnsignedScriptSig() ([]byte, error) {
	return nil, nil
}

func (d *Pkh[Pk]) MaxWeightToSatisfy() (int, error) {
	keySize := keyElement
	if raw, err := d.Key.RawPubKey(); err == nil {
		keySize = 1 + len(raw)
	}
	return 4 * (maxECDSASigElement + keySize), nil
}

func (d *Pkh[Pk]) SanityCheck() error {
	return nil
}

func (d *Pkh[Pk]) GetSatisfaction(satisfier *miniscript.Satisfier[Pk]) (
	wire.TxWitness, []byte, error) {

	raw, err := legacyKeyBytes(d.Key)
	if err != nil {
		return nil, nil, err
	}
	sig, ok := satisfier.Sign(miniscript.ContextLegacy, d.Key)
	if !ok {
		return nil, nil, miniscript.ErrNoSatisfaction
	}
	scriptSig, err := pushScript(wire.TxWitness{sig, raw})
	if err != nil {
		return nil, nil, err
	}
	return nil, scriptSig, nil
}

func (d *Pkh[Pk]) GetSatisfactionMalleable(
	satisfier *miniscript.Satisfier[Pk]) (wire.TxWitness, []byte, error) {

	return d.GetSatisfaction(satisfier)
}

func (d *Pkh[Pk]) ForEachKey(fn func(Pk) bool) bool {
	return fn(d.Key)
}
