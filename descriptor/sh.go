package descriptor

import (
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/vulpemventures/go-elements/network"

	"github.com/vulpemventures/go-descriptors/miniscript"
)

// Sh is pay-to-script-hash: elsh(SCRIPT). The redeem script is either a
// nested segwit descriptor (wsh or wpkh), a sortedmulti or a plain
// miniscript.
type Sh[Pk miniscript.Key] struct {
	// Exactly one of the inner fields is set.
	Wsh    *Wsh[Pk]
	Wpkh   *Wpkh[Pk]
	Sorted *SortedMulti[Pk]
	Ms     *miniscript.AST[Pk]
}

func parseSh[Pk miniscript.Key](expr string,
	parseKey miniscript.KeyParser[Pk]) (*Sh[Pk], error) {

	inner, err := fragmentArgs(expr, "sh")
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasPrefix(inner, "wsh("):
		wshInner, err := fragmentArgs(inner, "wsh")
		if err != nil {
			return nil, err
		}
		wsh, err := parseWsh(wshInner, parseKey)
		if err != nil {
			return nil, err
		}
		return &Sh[Pk]{Wsh: wsh}, nil
	case strings.HasPrefix(inner, "wpkh("):
		wpkh, err := parseWpkh(inner, parseKey)
		if err != nil {
			return nil, err
		}
		return &Sh[Pk]{Wpkh: wpkh}, nil
	case strings.HasPrefix(inner, "sortedmulti("):
		sorted, err := parseSortedMulti(
			inner, miniscript.ContextLegacy, parseKey,
		)
		if err != nil {
			return nil, err
		}
		return &Sh[Pk]{Sorted: sorted}, nil
	}
	ms, err := miniscript.Parse(
		miniscript.ContextLegacy, inner, parseKey, nil,
	)
	if err != nil {
		return nil, err
	}
	if err := ms.IsValidTopLevel(); err != nil {
		return nil, err
	}
	return &Sh[Pk]{Ms: ms}, nil
}

func (d *Sh[Pk]) isDescriptor() {}

func (d *Sh[Pk]) String() string {
	var inner string
	switch {
	case d.Wsh != nil:
		inner = d.Wsh.body()
	case d.Wpkh != nil:
		inner = "wpkh(" + d.Wpkh.Key.String() + ")"
	case d.Sorted != nil:
		inner = d.Sorted.body()
	default:
		inner = d.Ms.String()
	}
	return appendChecksum("elsh(" + inner + ")")
}

func (d *Sh[Pk]) Type() DescriptorType {
	switch {
	case d.Wsh != nil:
		if d.Wsh.Sorted != nil {
			return TypeShWshSortedMulti
		}
		return TypeShWsh
	case d.Wpkh != nil:
		return TypeShWpkh
	case d.Sorted != nil:
		return TypeShSortedMulti
	default:
		return TypeSh
	}
}

// redeemScript is the script whose hash160 the output commits to: the
// nested segwit output script, or the plain redeem script.
func (d *Sh[Pk]) redeemScript() ([]byte, error) {
	switch {
	case d.Wsh != nil:
		return d.Wsh.ScriptPubKey()
	case d.Wpkh != nil:
		return d.Wpkh.ScriptPubKey()
	case d.Sorted != nil:
		return d.Sorted.script()
	default:
		return d.Ms.Encode()
	}
}

func (d *Sh[Pk]) ScriptPubKey() ([]byte, error) {
	redeem, err := d.redeemScript()
	if err != nil {
		return nil, err
	}
	return p2shScript(btcutil.Hash160(redeem))
}

func (d *Sh[Pk]) Address(net *network.Network,
	blindingKey *btcec.PublicKey) (string, error) {

	script, err := d.ScriptPubKey()
	if err != nil {
		return "", err
	}
	return addressFromScript(script, net, blindingKey, TypeSh)
}

// ExplicitScript returns the script a satisfaction ultimately runs: the
// witness script for nested wsh, the p2pkh style script code for nested
// wpkh, the redeem script otherwise.
func (d *Sh[Pk]) ExplicitScript() ([]byte, error) {
	switch {
	case d.Wsh != nil:
		return d.Wsh.witnessScript()
	case d.Wpkh != nil:
		return d.Wpkh.ScriptCode()
	default:
		return d.redeemScript()
	}
}

func (d *Sh[Pk]) ScriptCode() ([]byte, error) {
	return d.ExplicitScript()
}

// UnsignedScriptSig is the redeem script push for the nested segwit
// variants, whose script sig does not depend on the satisfaction.
func (d *Sh[Pk]) UnsignedScriptSig() ([]byte, error) {
	if d.Wsh == nil && d.Wpkh == nil {
		return nil, nil
	}
	redeem, err := d.redeemScript()
	if err != nil {
		return nil, err
	}
	return pushScript(wire.TxWitness{redeem})
}

func (d *Sh[Pk]) MaxWeightToSatisfy() (int, error) {
	switch {
	case d.Wsh != nil:
		witWeight, err := d.Wsh.MaxWeightToSatisfy()
		if err != nil {
			return 0, err
		}
		// The 0020 redeem script push in the script sig.
		return 4*(1+1+32) + witWeight, nil
	case d.Wpkh != nil:
		witWeight, err := d.Wpkh.MaxWeightToSatisfy()
		if err != nil {
			return 0, err
		}
		return 4*(1+1+20) + witWeight, nil
	case d.Sorted != nil:
		script, err := d.Sorted.script()
		if err != nil {
			return 0, err
		}
		size := d.Sorted.maxWitnessSize() +
			witnessElementSize(len(script))
		return 4 * size, nil
	default:
		witSize, err := d.Ms.MaxWitnessSize()
		if err != nil {
			return 0, err
		}
		return 4 * (witSize + witnessElementSize(d.Ms.ScriptLen())), nil
	}
}

func (d *Sh[Pk]) SanityCheck() error {
	switch {
	case d.Wsh != nil:
		return d.Wsh.SanityCheck()
	case d.Wpkh != nil:
		return d.Wpkh.SanityCheck()
	case d.Sorted != nil:
		return d.Sorted.sanityCheck()
	default:
		return d.Ms.IsSane()
	}
}

func (d *Sh[Pk]) GetSatisfaction(satisfier *miniscript.Satisfier[Pk]) (
	wire.TxWitness, []byte, error) {

	return d.satisfy(satisfier, false)
}

func (d *Sh[Pk]) GetSatisfactionMalleable(
	satisfier *miniscript.Satisfier[Pk]) (wire.TxWitness, []byte, error) {

	return d.satisfy(satisfier, true)
}

func (d *Sh[Pk]) satisfy(satisfier *miniscript.Satisfier[Pk],
	malleable bool) (wire.TxWitness, []byte, error) {

	// Nested segwit: the witness comes from the inner descriptor, the
	// script sig is the fixed redeem script push.
	if d.Wsh != nil || d.Wpkh != nil {
		var (
			witness wire.TxWitness
			err     error
		)
		if d.Wsh != nil {
			if malleable {
				witness, _, err = d.Wsh.GetSatisfactionMalleable(
					satisfier,
				)
			} else {
				witness, _, err = d.Wsh.GetSatisfaction(satisfier)
			}
		} else {
			witness, _, err = d.Wpkh.GetSatisfaction(satisfier)
		}
		if err != nil {
			return nil, nil, err
		}
		scriptSig, err := d.UnsignedScriptSig()
		if err != nil {
			return nil, nil, err
		}
		return witness, scriptSig, nil
	}

	// Plain p2sh: the satisfaction and the redeem script are pushed in
	// the script sig.
	redeem, err := d.redeemScript()
	if err != nil {
		return nil, nil, err
	}
	stack, err := satisfyScript(d.Ms, d.Sorted, satisfier, malleable)
	if err != nil {
		return nil, nil, err
	}
	scriptSig, err := pushScript(append(stack, redeem))
	if err != nil {
		return nil, nil, err
	}
	return nil, scriptSig, nil
}

func (d *Sh[Pk]) ForEachKey(fn func(Pk) bool) bool {
	switch {
	case d.Wsh != nil:
		return d.Wsh.ForEachKey(fn)
	case d.Wpkh != nil:
		return fn(d.Wpkh.Key)
	case d.Sorted != nil:
		return d.Sorted.forEachKey(fn)
	default:
		return d.Ms.ForEachKey(fn)
	}
}
