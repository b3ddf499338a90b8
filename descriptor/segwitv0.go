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

// Wpkh is native segwit v0 pay-to-witness-pubkey-hash: elwpkh(KEY).
type Wpkh[Pk miniscript.Key] struct {
	Key Pk
}

func parseWpkh[Pk miniscript.Key](expr string,
	parseKey miniscript.KeyParser[Pk]) (*Wpkh[Pk], error) {

	inner, err := fragmentArgs(expr, "wpkh")
	if err != nil {
		return nil, err
	}
	key, err := parseSingleKey(inner, parseKey)
	if err != nil {
		return nil, err
	}
	return &Wpkh[Pk]{Key: key}, nil
}

func (d *Wpkh[Pk]) isDescriptor() {}

func (d *Wpkh[Pk]) String() string {
	return appendChecksum("elwpkh(" + d.Key.String() + ")")
}

func (d *Wpkh[Pk]) Type() DescriptorType {
	return TypeWpkh
}

func (d *Wpkh[Pk]) ScriptPubKey() ([]byte, error) {
	raw, err := compressedKeyBytes(d.Key)
	if err != nil {
		return nil, err
	}
	return p2wpkhScript(btcutil.Hash160(raw))
}

func (d *Wpkh[Pk]) Address(net *network.Network,
	blindingKey *btcec.PublicKey) (string, error) {

	script, err := d.ScriptPubKey()
	if err != nil {
		return "", err
	}
	return addressFromScript(script, net, blindingKey, TypeWpkh)
}

func (d *Wpkh[Pk]) ExplicitScript() ([]byte, error) {
	return d.ScriptPubKey()
}

// ScriptCode returns the p2pkh style script code of BIP143.
func (d *Wpkh[Pk]) ScriptCode() ([]byte, error) {
	raw, err := compressedKeyBytes(d.Key)
	if err != nil {
		return nil, err
	}
	return p2pkhScript(btcutil.Hash160(raw))
}

func (d *Wpkh[Pk]) UnsignedScriptSig() ([]byte, error) {
	return nil, nil
}

func (d *Wpkh[Pk]) MaxWeightToSatisfy() (int, error) {
	// Witness stack count plus signature and key elements.
	return 1 + maxECDSASigElement + keyElement, nil
}

func (d *Wpkh[Pk]) SanityCheck() error {
	return checkCompressed(d.Key)
}

// checkCompressed rejects keys that can never serialize to the 33 byte form
// segwit v0 requires. Wildcard keys pass, xpub derivation always yields
// compressed keys.
func checkCompressed[Pk miniscript.Key](key Pk) error {
	raw, err := key.RawPubKey()
	if err != nil {
		return nil
	}
	if len(raw) != 33 {
		return fmt.Errorf(
			"%w: key %s must be a 33 byte compressed key",
			ErrBadKey, key,
		)
	}
	return nil
}

func (d *Wpkh[Pk]) GetSatisfaction(satisfier *miniscript.Satisfier[Pk]) (
	wire.TxWitness, []byte, error) {

	raw, err := compressedKeyBytes(d.Key)
	if err != nil {
		return nil, nil, err
	}
	sig, ok := satisfier.Sign(miniscript.ContextSegwitv0, d.Key)
	if !ok {
		return nil, nil, miniscript.ErrNoSatisfaction
	}
	return wire.TxWitness{sig, raw}, nil, nil
}

func (d *Wpkh[Pk]) GetSatisfactionMalleable(
	satisfier *miniscript.Satisfier[Pk]) (wire.TxWitness, []byte, error) {

	return d.GetSatisfaction(satisfier)
}

func (d *Wpkh[Pk]) ForEachKey(fn func(Pk) bool) bool {
	return fn(d.Key)
}

// Wsh is native segwit v0 pay-to-witness-script-hash over a miniscript
// witness script or a sortedmulti: elwsh(SCRIPT).
type Wsh[Pk miniscript.Key] struct {
	// Exactly one of Ms and Sorted is set.
	Ms     *miniscript.AST[Pk]
	Sorted *SortedMulti[Pk]
}

func parseWsh[Pk miniscript.Key](inner string,
	parseKey miniscript.KeyParser[Pk]) (*Wsh[Pk], error) {

	if strings.HasPrefix(inner, "sortedmulti(") {
		sorted, err := parseSortedMulti(
			inner, miniscript.ContextSegwitv0, parseKey,
		)
		if err != nil {
			return nil, err
		}
		return &Wsh[Pk]{Sorted: sorted}, nil
	}
	ms, err := miniscript.Parse(
		miniscript.ContextSegwitv0, inner, parseKey, nil,
	)
	if err != nil {
		return nil, err
	}
	if err := ms.IsValidTopLevel(); err != nil {
		return nil, err
	}
	return &Wsh[Pk]{Ms: ms}, nil
}

func (d *Wsh[Pk]) isDescriptor() {}

func (d *Wsh[Pk]) body() string {
	if d.Sorted != nil {
		return "wsh(" + d.Sorted.body() + ")"
	}
	return "wsh(" + d.Ms.String() + ")"
}

func (d *Wsh[Pk]) String() string {
	return appendChecksum("el" + d.body())
}

func (d *Wsh[Pk]) Type() DescriptorType {
	if d.Sorted != nil {
		return TypeWshSortedMulti
	}
	return TypeWsh
}

// witnessScript builds the underlying witness script.
func (d *Wsh[Pk]) witnessScript() ([]byte, error) {
	if d.Sorted != nil {
		return d.Sorted.script()
	}
	return d.Ms.Encode()
}

func (d *Wsh[Pk]) ScriptPubKey() ([]byte, error) {
	script, err := d.witnessScript()
	if err != nil {
		return nil, err
	}
	return p2wshScript(script)
}

func (d *Wsh[Pk]) Address(net *network.Network,
	blindingKey *btcec.PublicKey) (string, error) {

	script, err := d.ScriptPubKey()
	if err != nil {
		return "", err
	}
	return addressFromScript(script, net, blindingKey, d.Type())
}

func (d *Wsh[Pk]) ExplicitScript() ([]byte, error) {
	return d.witnessScript()
}

func (d *Wsh[Pk]) ScriptCode() ([]byte, error) {
	return d.witnessScript()
}

func (d *Wsh[Pk]) UnsignedScriptSig() ([]byte, error) {
	return nil, nil
}

func (d *Wsh[Pk]) MaxWeightToSatisfy() (int, error) {
	witSize, err := d.maxStackSize()
	if err != nil {
		return 0, err
	}
	script, err := d.witnessScript()
	if err != nil {
		return 0, err
	}
	// Stack count byte, satisfaction stack and the pushed witness script.
	return 1 + witSize + witnessElementSize(len(script)), nil
}

func (d *Wsh[Pk]) maxStackSize() (int, error) {
	if d.Sorted != nil {
		return d.Sorted.maxWitnessSize(), nil
	}
	return d.Ms.MaxWitnessSize()
}

func (d *Wsh[Pk]) SanityCheck() error {
	if d.Sorted != nil {
		return d.Sorted.sanityCheck()
	}
	return d.Ms.IsSane()
}

func (d *Wsh[Pk]) GetSatisfaction(satisfier *miniscript.Satisfier[Pk]) (
	wire.TxWitness, []byte, error) {

	return d.satisfy(satisfier, false)
}

func (d *Wsh[Pk]) GetSatisfactionMalleable(
	satisfier *miniscript.Satisfier[Pk]) (wire.TxWitness, []byte, error) {

	return d.satisfy(satisfier, true)
}

func (d *Wsh[Pk]) satisfy(satisfier *miniscript.Satisfier[Pk],
	malleable bool) (wire.TxWitness, []byte, error) {

	script, err := d.witnessScript()
	if err != nil {
		return nil, nil, err
	}
	stack, err := satisfyScript(d.Ms, d.Sorted, satisfier, malleable)
	if err != nil {
		return nil, nil, err
	}
	return append(stack, script), nil, nil
}

// satisfyScript dispatches between a miniscript and a sortedmulti witness
// script satisfaction.
func satisfyScript[Pk miniscript.Key](ms *miniscript.AST[Pk],
	sorted *SortedMulti[Pk], satisfier *miniscript.Satisfier[Pk],
	malleable bool) (wire.TxWitness, error) {

	if sorted != nil {
		return sorted.satisfy(satisfier)
	}
	if malleable {
		return ms.SatisfyMalleable(satisfier)
	}
	return ms.Satisfy(satisfier)
}

// witnessElementSize is the serialized size of one witness element of the
// given length, including the compact size prefix.
func witnessElementSize(n int) int {
	switch {
	case n < 0xfd:
		return 1 + n
	case n <= 0xffff:
		return 3 + n
	default:
		return 5 + n
	}
}

func (d *Wsh[Pk]) ForEachKey(fn func(Pk) bool) bool {
	if d.Sorted != nil {
		return d.Sorted.forEachKey(fn)
	}
	return d.Ms.ForEachKey(fn)
}
