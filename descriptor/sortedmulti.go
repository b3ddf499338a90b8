package descriptor

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/vulpemventures/go-descriptors/miniscript"
)

// maxMultisigKeys is the CHECKMULTISIG key limit.
const maxMultisigKeys = 20

// SortedMulti is a k-of-n CHECKMULTISIG script whose keys are sorted by
// their serialized form at script build time (BIP67), making the script
// independent of the key order in the descriptor.
type SortedMulti[Pk miniscript.Key] struct {
	K    int
	Keys []Pk

	ctx miniscript.Context
}

func parseSortedMulti[Pk miniscript.Key](expr string,
	ctx miniscript.Context, parseKey miniscript.KeyParser[Pk],
) (*SortedMulti[Pk], error) {

	inner, err := fragmentArgs(expr, "sortedmulti")
	if err != nil {
		return nil, err
	}
	args := splitTopLevel(inner)
	if len(args) < 2 {
		return nil, fmt.Errorf(
			"%w: sortedmulti needs a threshold and at least one key",
			ErrBadDescriptor,
		)
	}
	k, err := strconv.Atoi(args[0])
	if err != nil || k < 1 {
		return nil, fmt.Errorf(
			"%w: invalid sortedmulti threshold %q",
			ErrBadDescriptor, args[0],
		)
	}
	keyArgs := args[1:]
	if k > len(keyArgs) {
		return nil, fmt.Errorf(
			"%w: higher threshold than there were keys in sortedmulti",
			ErrBadDescriptor,
		)
	}
	if len(keyArgs) > maxMultisigKeys {
		return nil, fmt.Errorf(
			"%w: sortedmulti supports at most %d keys",
			ErrBadDescriptor, maxMultisigKeys,
		)
	}

	keys := make([]Pk, 0, len(keyArgs))
	seen := make(map[string]struct{}, len(keyArgs))
	for _, arg := range keyArgs {
		key, err := parseKey(arg)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[key.String()]; ok {
			return nil, fmt.Errorf(
				"%w: duplicate key %s in sortedmulti",
				ErrBadDescriptor, key,
			)
		}
		seen[key.String()] = struct{}{}
		keys = append(keys, key)
	}
	return &SortedMulti[Pk]{K: k, Keys: keys, ctx: ctx}, nil
}

func (m *SortedMulti[Pk]) body() string {
	parts := make([]string, 0, len(m.Keys)+1)
	parts = append(parts, strconv.Itoa(m.K))
	for _, key := range m.Keys {
		parts = append(parts, key.String())
	}
	return "sortedmulti(" + strings.Join(parts, ",") + ")"
}

// sortedKeyBytes serializes the keys and returns them in BIP67 order.
func (m *SortedMulti[Pk]) sortedKeyBytes() ([][]byte, error) {
	raws := make([][]byte, len(m.Keys))
	for i, key := range m.Keys {
		raw, err := m.keyBytes(key)
		if err != nil {
			return nil, err
		}
		raws[i] = raw
	}
	sort.Slice(raws, func(i, j int) bool {
		return bytes.Compare(raws[i], raws[j]) < 0
	})
	return raws, nil
}

func (m *SortedMulti[Pk]) keyBytes(key Pk) ([]byte, error) {
	if m.ctx == miniscript.ContextLegacy {
		return legacyKeyBytes(key)
	}
	return compressedKeyBytes(key)
}

func (m *SortedMulti[Pk]) script() ([]byte, error) {
	raws, err := m.sortedKeyBytes()
	if err != nil {
		return nil, err
	}
	b := txscript.NewScriptBuilder()
	b.AddInt64(int64(m.K))
	for _, raw := range raws {
		b.AddData(raw)
	}
	b.AddInt64(int64(len(raws)))
	b.AddOp(txscript.OP_CHECKMULTISIG)
	return b.Script()
}

func (m *SortedMulti[Pk]) maxWitnessSize() int {
	// CHECKMULTISIG dummy plus one signature per threshold slot.
	return 1 + m.K*maxECDSASigElement
}

func (m *SortedMulti[Pk]) sanityCheck() error {
	for _, key := range m.Keys {
		if m.ctx != miniscript.ContextLegacy {
			if err := checkCompressed(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// satisfy collects signatures for the first K signable keys in BIP67
// order, preceded by the CHECKMULTISIG dummy element.
func (m *SortedMulti[Pk]) satisfy(satisfier *miniscript.Satisfier[Pk]) (
	wire.TxWitness, error) {

	type keyedSig struct {
		raw []byte
		sig []byte
	}
	var sigs []keyedSig
	for _, key := range m.Keys {
		raw, err := m.keyBytes(key)
		if err != nil {
			return nil, err
		}
		if sig, ok := satisfier.Sign(m.ctx, key); ok {
			sigs = append(sigs, keyedSig{raw: raw, sig: sig})
		}
	}
	if len(sigs) < m.K {
		return nil, miniscript.ErrNoSatisfaction
	}
	sort.Slice(sigs, func(i, j int) bool {
		return bytes.Compare(sigs[i].raw, sigs[j].raw) < 0
	})
	witness := wire.TxWitness{{}}
	for _, s := range sigs[:m.K] {
		witness = append(witness, s.sig)
	}
	return witness, nil
}

func (m *SortedMulti[Pk]) forEachKey(fn func(Pk) bool) bool {
	all := true
	for _, key := range m.Keys {
		if !fn(key) {
			all = false
		}
	}
	return all
}
