// Package descriptor implements Elements output descriptors: a textual
// format describing output scripts, from bare scripts over p2sh and segwit
// v0 up to taproot trees and CSFS style covenants. Descriptors carry BIP32
// key expressions, an optional BIP380 checksum and a mandatory `el` prefix
// marking them as Elements descriptors.
package descriptor

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/vulpemventures/go-elements/network"
	"github.com/vulpemventures/go-elements/transaction"

	"github.com/vulpemventures/go-descriptors/miniscript"
)

// Descriptor is one parsed output descriptor. The set of realizations is
// closed: Bare, Pkh, Wpkh, Sh, Wsh, Tr and Covenant.
type Descriptor[Pk miniscript.Key] interface {
	// String returns the canonical descriptor with its checksum suffix.
	String() string

	// Type classifies the descriptor structurally.
	Type() DescriptorType

	// ScriptPubKey computes the output script. It fails when the
	// descriptor still contains wildcard or multipath keys.
	ScriptPubKey() ([]byte, error)

	// Address encodes the output script as an address on the given
	// network. A non-nil blinding key yields a confidential address.
	// Bare descriptors have no address form.
	Address(net *network.Network, blindingKey *btcec.PublicKey) (string,
		error)

	// ExplicitScript returns the underlying script: the witness script
	// for segwit descriptors, the redeem script for plain p2sh, the
	// output script itself for bare descriptors. Taproot descriptors have
	// no single underlying script.
	ExplicitScript() ([]byte, error)

	// ScriptCode returns the BIP143 script code used for sighash
	// computation. Taproot descriptors have no script code.
	ScriptCode() ([]byte, error)

	// UnsignedScriptSig returns the part of the script sig that is
	// independent of the satisfaction: the pushed redeem script for
	// segwit-in-p2sh descriptors, empty otherwise.
	UnsignedScriptSig() ([]byte, error)

	// MaxWeightToSatisfy returns an upper bound on the weight added to a
	// transaction by satisfying this descriptor: script sig bytes count
	// four weight units, witness bytes one.
	MaxWeightToSatisfy() (int, error)

	// SanityCheck reports whether the descriptor is safe to hand out:
	// keys fit the script context and every spending path is sound.
	SanityCheck() error

	// GetSatisfaction assembles the witness stack and script sig
	// satisfying the descriptor, preferring non-malleable assignments.
	GetSatisfaction(satisfier *miniscript.Satisfier[Pk]) (wire.TxWitness,
		[]byte, error)

	// GetSatisfactionMalleable is GetSatisfaction without the
	// non-malleability requirement.
	GetSatisfactionMalleable(satisfier *miniscript.Satisfier[Pk]) (
		wire.TxWitness, []byte, error)

	// ForEachKey visits every key of the descriptor in script order. It
	// returns true if fn returned true for all of them.
	ForEachKey(fn func(Pk) bool) bool

	isDescriptor()
}

// Parse parses a descriptor over BIP32 descriptor keys. The string must
// carry the `el` prefix and, when a checksum suffix is present, a valid
// checksum.
func Parse(s string) (Descriptor[*DescriptorPublicKey], error) {
	return ParseWith[*DescriptorPublicKey](s, ParsePublicKey)
}

// ParseWith parses a descriptor with a caller supplied key parser. This
// allows parsing with placeholder keys or project specific key types.
func ParseWith[Pk miniscript.Key](s string, parseKey miniscript.KeyParser[Pk],
) (Descriptor[Pk], error) {

	body, err := splitChecksum(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if body == "" {
		return nil, fmt.Errorf("%w: no arguments given", ErrBadDescriptor)
	}
	if !strings.HasPrefix(body, "el") {
		return nil, fmt.Errorf("%w: %q", ErrNotElements, s)
	}
	rest := body[2:]

	var d Descriptor[Pk]
	switch {
	case strings.HasPrefix(rest, "tr("):
		d, err = parseTr(rest, parseKey)
	case strings.HasPrefix(rest, "covwsh("):
		d, err = parseCovenant(rest, parseKey)
	case strings.HasPrefix(rest, "pkh("):
		d, err = parsePkh(rest, parseKey)
	case strings.HasPrefix(rest, "wpkh("):
		d, err = parseWpkh(rest, parseKey)
	case strings.HasPrefix(rest, "sh("):
		d, err = parseSh(rest, parseKey)
	case strings.HasPrefix(rest, "wsh("):
		inner, err2 := fragmentArgs(rest, "wsh")
		if err2 != nil {
			return nil, err2
		}
		d, err = parseWsh(inner, parseKey)
	default:
		d, err = parseBare(rest, parseKey)
	}
	if err != nil {
		return nil, err
	}
	if err := checkMultipathLens(d); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseWithSecrets parses a descriptor whose key expressions may contain
// private key material (WIF or xprv). Secret keys are replaced by their
// public counterparts in the returned descriptor and collected in the key
// map under their public string form.
func ParseWithSecrets(s string) (Descriptor[*DescriptorPublicKey], KeyMap,
	error) {

	keyMap := make(KeyMap)
	parseKey := func(token string) (*DescriptorPublicKey, error) {
		secret, err := ParseSecretKey(token)
		if err != nil {
			return ParsePublicKey(token)
		}
		pub, err := secret.ToPublic()
		if err != nil {
			return nil, err
		}
		keyMap[pub.String()] = secret
		return pub, nil
	}
	d, err := ParseWith[*DescriptorPublicKey](s, parseKey)
	if err != nil {
		return nil, nil, err
	}
	return d, keyMap, nil
}

// StringWithSecrets serializes the descriptor substituting the secret form
// of every key found in the key map.
func StringWithSecrets(d Descriptor[*DescriptorPublicKey], keys KeyMap,
) (string, error) {

	substituted, err := TranslateKeys[*DescriptorPublicKey, displayKey](
		d, secretDisplay{keys: keys},
	)
	if err != nil {
		return "", err
	}
	return substituted.String(), nil
}

// HasWildcard reports whether any key of the descriptor has a wildcard
// derivation step.
func HasWildcard[Pk miniscript.Key](d Descriptor[Pk]) bool {
	wildcard := false
	d.ForEachKey(func(key Pk) bool {
		if key.HasWildcard() {
			wildcard = true
		}
		return true
	})
	return wildcard
}

// IsMultipath reports whether any key of the descriptor carries a BIP389
// multipath derivation step.
func IsMultipath[Pk miniscript.Key](d Descriptor[Pk]) bool {
	multipath := false
	d.ForEachKey(func(key Pk) bool {
		if key.NumDerivationPaths() > 1 {
			multipath = true
		}
		return true
	})
	return multipath
}

// checkMultipathLens rejects descriptors whose multipath keys disagree on
// the number of derivation paths. Keys without a multipath step combine
// freely with multipath keys.
func checkMultipathLens[Pk miniscript.Key](d Descriptor[Pk]) error {
	numPaths := 0
	mismatch := false
	d.ForEachKey(func(key Pk) bool {
		n := key.NumDerivationPaths()
		if n == 1 {
			return true
		}
		if numPaths == 0 {
			numPaths = n
		} else if numPaths != n {
			mismatch = true
		}
		return true
	})
	if mismatch {
		return ErrMultipathLenMismatch
	}
	return nil
}

// Satisfy computes the satisfaction of the descriptor and writes the
// witness stack and script sig into the passed transaction input.
func Satisfy[Pk miniscript.Key](d Descriptor[Pk],
	satisfier *miniscript.Satisfier[Pk], txIn *transaction.TxInput) error {

	witness, scriptSig, err := d.GetSatisfaction(satisfier)
	if err != nil {
		return err
	}
	txIn.Script = scriptSig
	txIn.Witness = transaction.TxWitness(witness)
	return nil
}

// SatisfyMalleable is Satisfy without the non-malleability requirement.
func SatisfyMalleable[Pk miniscript.Key](d Descriptor[Pk],
	satisfier *miniscript.Satisfier[Pk], txIn *transaction.TxInput) error {

	witness, scriptSig, err := d.GetSatisfactionMalleable(satisfier)
	if err != nil {
		return err
	}
	txIn.Script = scriptSig
	txIn.Witness = transaction.TxWitness(witness)
	return nil
}

// fragmentArgs strips a `name(...)` wrapper off the expression and returns
// the raw argument text.
func fragmentArgs(s, name string) (string, error) {
	if !strings.HasPrefix(s, name+"(") || !strings.HasSuffix(s, ")") {
		return "", fmt.Errorf(
			"%w: malformed %s fragment", ErrBadDescriptor, name,
		)
	}
	inner := s[len(name)+1 : len(s)-1]
	if !balanced(inner) {
		return "", fmt.Errorf(
			"%w: unbalanced %s fragment", ErrBadDescriptor, name,
		)
	}
	return inner, nil
}

// balanced reports whether every parenthesis and brace of the expression is
// closed.
func balanced(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '{':
			depth++
		case ')', '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// splitTopLevel splits the expression on commas that are not nested inside
// parentheses or braces.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	last := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '{':
			depth++
		case ')', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}
