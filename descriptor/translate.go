package descriptor

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/vulpemventures/go-descriptors/miniscript"
)

// TranslateKeys returns a structurally identical descriptor with every key
// rewritten through the translator. This is the workhorse behind
// derivation, multipath splitting and secret substitution.
func TranslateKeys[P, Q miniscript.Key](d Descriptor[P],
	t miniscript.Translator[P, Q]) (Descriptor[Q], error) {

	switch v := d.(type) {
	case *Bare[P]:
		ms, err := miniscript.TranslateNode(v.Ms, t)
		if err != nil {
			return nil, err
		}
		return &Bare[Q]{Ms: ms}, nil
	case *Pkh[P]:
		key, err := t.Pk(v.Key)
		if err != nil {
			return nil, err
		}
		return &Pkh[Q]{Key: key}, nil
	case *Wpkh[P]:
		key, err := t.Pk(v.Key)
		if err != nil {
			return nil, err
		}
		return &Wpkh[Q]{Key: key}, nil
	case *Sh[P]:
		return translateSh(v, t)
	case *Wsh[P]:
		return translateWsh(v, t)
	case *Tr[P]:
		key, err := t.Pk(v.InternalKey)
		if err != nil {
			return nil, err
		}
		out := &Tr[Q]{InternalKey: key, hasExt: v.hasExt}
		if v.Tree != nil {
			out.Tree, err = translateTapTree(v.Tree, t)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	case *Covenant[P]:
		key, err := t.Pk(v.Key)
		if err != nil {
			return nil, err
		}
		ms, err := miniscript.TranslateNode(v.Ms, t)
		if err != nil {
			return nil, err
		}
		return &Covenant[Q]{Key: key, Ms: ms}, nil
	default:
		return nil, fmt.Errorf("unknown descriptor variant %T", d)
	}
}

func translateSh[P, Q miniscript.Key](d *Sh[P], t miniscript.Translator[P, Q],
) (*Sh[Q], error) {

	switch {
	case d.Wsh != nil:
		wsh, err := translateWsh(d.Wsh, t)
		if err != nil {
			return nil, err
		}
		return &Sh[Q]{Wsh: wsh}, nil
	case d.Wpkh != nil:
		key, err := t.Pk(d.Wpkh.Key)
		if err != nil {
			return nil, err
		}
		return &Sh[Q]{Wpkh: &Wpkh[Q]{Key: key}}, nil
	case d.Sorted != nil:
		sorted, err := translateSortedMulti(d.Sorted, t)
		if err != nil {
			return nil, err
		}
		return &Sh[Q]{Sorted: sorted}, nil
	default:
		ms, err := miniscript.TranslateNode(d.Ms, t)
		if err != nil {
			return nil, err
		}
		return &Sh[Q]{Ms: ms}, nil
	}
}

func translateWsh[P, Q miniscript.Key](d *Wsh[P],
	t miniscript.Translator[P, Q]) (*Wsh[Q], error) {

	if d.Sorted != nil {
		sorted, err := translateSortedMulti(d.Sorted, t)
		if err != nil {
			return nil, err
		}
		return &Wsh[Q]{Sorted: sorted}, nil
	}
	ms, err := miniscript.TranslateNode(d.Ms, t)
	if err != nil {
		return nil, err
	}
	return &Wsh[Q]{Ms: ms}, nil
}

func translateSortedMulti[P, Q miniscript.Key](m *SortedMulti[P],
	t miniscript.Translator[P, Q]) (*SortedMulti[Q], error) {

	out := &SortedMulti[Q]{K: m.K, ctx: m.ctx}
	for _, key := range m.Keys {
		translated, err := t.Pk(key)
		if err != nil {
			return nil, err
		}
		out.Keys = append(out.Keys, translated)
	}
	return out, nil
}

func translateTapTree[P, Q miniscript.Key](tree *TapTree[P],
	t miniscript.Translator[P, Q]) (*TapTree[Q], error) {

	if tree.Leaf != nil {
		leaf, err := miniscript.TranslateNode(tree.Leaf, t)
		if err != nil {
			return nil, err
		}
		return &TapTree[Q]{Leaf: leaf}, nil
	}
	left, err := translateTapTree(tree.Left, t)
	if err != nil {
		return nil, err
	}
	right, err := translateTapTree(tree.Right, t)
	if err != nil {
		return nil, err
	}
	return &TapTree[Q]{Left: left, Right: right}, nil
}

// TranslateExt rewrites the extension leaves of the covenant capable
// variants and leaves every other descriptor untouched.
func TranslateExt[Pk miniscript.Key](d Descriptor[Pk],
	t miniscript.ExtTranslator) (Descriptor[Pk], error) {

	switch v := d.(type) {
	case *Covenant[Pk]:
		ms, err := v.Ms.TranslateExt(t)
		if err != nil {
			return nil, err
		}
		return &Covenant[Pk]{Key: v.Key, Ms: ms}, nil
	case *Tr[Pk]:
		if v.Tree == nil {
			return d, nil
		}
		tree, err := translateTapTreeExt(v.Tree, t)
		if err != nil {
			return nil, err
		}
		return &Tr[Pk]{
			InternalKey: v.InternalKey,
			Tree:        tree,
			hasExt:      v.hasExt,
		}, nil
	default:
		return d, nil
	}
}

func translateTapTreeExt[Pk miniscript.Key](tree *TapTree[Pk],
	t miniscript.ExtTranslator) (*TapTree[Pk], error) {

	if tree.Leaf != nil {
		leaf, err := tree.Leaf.TranslateExt(t)
		if err != nil {
			return nil, err
		}
		return &TapTree[Pk]{Leaf: leaf}, nil
	}
	left, err := translateTapTreeExt(tree.Left, t)
	if err != nil {
		return nil, err
	}
	right, err := translateTapTreeExt(tree.Right, t)
	if err != nil {
		return nil, err
	}
	return &TapTree[Pk]{Left: left, Right: right}, nil
}

// derivedKeyTranslator replaces wildcard steps with a concrete index.
type derivedKeyTranslator struct {
	miniscript.CloneHashes
	index uint32
}

func (t derivedKeyTranslator) Pk(key *DescriptorPublicKey) (
	*DefiniteDescriptorKey, error) {

	return key.AtDerivationIndex(t.index)
}

// AtDerivationIndex replaces every wildcard derivation step of the
// descriptor with the concrete unhardened index.
func AtDerivationIndex(d Descriptor[*DescriptorPublicKey], index uint32) (
	Descriptor[*DefiniteDescriptorKey], error) {

	return TranslateKeys[*DescriptorPublicKey, *DefiniteDescriptorKey](
		d, derivedKeyTranslator{index: index},
	)
}

// concreteKeyTranslator derives every definite key into its hex encoded
// compressed public key.
type concreteKeyTranslator struct {
	miniscript.CloneHashes
}

func (concreteKeyTranslator) Pk(key *DefiniteDescriptorKey) (
	miniscript.StringKey, error) {

	pub, err := key.DerivePublicKey()
	if err != nil {
		return "", err
	}
	return miniscript.StringKey(
		hex.EncodeToString(pub.SerializeCompressed()),
	), nil
}

// DerivedDescriptor derives the descriptor at the given index down to
// concrete public keys. It fails when a derivation path contains a
// hardened step, which cannot be derived from public key material.
func DerivedDescriptor(d Descriptor[*DescriptorPublicKey], index uint32) (
	Descriptor[miniscript.StringKey], error) {

	at, err := AtDerivationIndex(d, index)
	if err != nil {
		return nil, err
	}
	return TranslateKeys[*DefiniteDescriptorKey, miniscript.StringKey](
		at, concreteKeyTranslator{},
	)
}

// pathProjector collapses multipath steps to their n-th alternative.
type pathProjector struct {
	miniscript.CloneHashes
	n int
}

func (p pathProjector) Pk(key *DescriptorPublicKey) (*DescriptorPublicKey,
	error) {

	if key.NumDerivationPaths() == 1 {
		return key, nil
	}
	return key.atPathIndex(p.n), nil
}

// IntoSingleDescriptors splits a BIP389 multipath descriptor into one
// single path descriptor per derivation path. Descriptors without
// multipath keys are returned as-is.
func IntoSingleDescriptors(d Descriptor[*DescriptorPublicKey]) (
	[]Descriptor[*DescriptorPublicKey], error) {

	// First pass: count the derivation paths and reject mismatches.
	if err := checkMultipathLens(d); err != nil {
		return nil, err
	}
	numPaths := 1
	d.ForEachKey(func(key *DescriptorPublicKey) bool {
		if n := key.NumDerivationPaths(); n > numPaths {
			numPaths = n
		}
		return true
	})
	if numPaths == 1 {
		return []Descriptor[*DescriptorPublicKey]{d}, nil
	}

	// Second pass: one translator rewrite per path.
	out := make([]Descriptor[*DescriptorPublicKey], 0, numPaths)
	for n := 0; n < numPaths; n++ {
		single, err := TranslateKeys[*DescriptorPublicKey,
			*DescriptorPublicKey](d, pathProjector{n: n})
		if err != nil {
			return nil, err
		}
		out = append(out, single)
	}
	return out, nil
}

// FindDerivationIndex searches the derivation index in [start, end) whose
// derived descriptor pays to the given output script. Descriptors without
// a wildcard are checked once.
func FindDerivationIndex(d Descriptor[*DescriptorPublicKey],
	scriptPubKey []byte, start, end uint32) (uint32,
	Descriptor[miniscript.StringKey], error) {

	if !HasWildcard(d) {
		derived, err := DerivedDescriptor(d, 0)
		if err != nil {
			return 0, nil, err
		}
		spk, err := derived.ScriptPubKey()
		if err != nil {
			return 0, nil, err
		}
		if bytes.Equal(spk, scriptPubKey) {
			return 0, derived, nil
		}
		return 0, nil, ErrIndexNotFound
	}

	for index := start; index < end; index++ {
		derived, err := DerivedDescriptor(d, index)
		if err != nil {
			return 0, nil, err
		}
		spk, err := derived.ScriptPubKey()
		if err != nil {
			return 0, nil, err
		}
		if bytes.Equal(spk, scriptPubKey) {
			return index, derived, nil
		}
	}
	return 0, nil, ErrIndexNotFound
}

// displayKey is a string-only key used to serialize descriptors with
// substituted key text, e.g. the secret form of a key.
type displayKey struct {
	text     string
	wildcard bool
	numPaths int
}

func (k displayKey) String() string          { return k.text }
func (k displayKey) HasWildcard() bool       { return k.wildcard }
func (k displayKey) NumDerivationPaths() int { return k.numPaths }

func (k displayKey) RawPubKey() ([]byte, error) {
	return nil, fmt.Errorf("key %s is display-only", k.text)
}

// secretDisplay substitutes the secret form of every key present in the
// key map.
type secretDisplay struct {
	miniscript.CloneHashes
	keys KeyMap
}

func (s secretDisplay) Pk(key *DescriptorPublicKey) (displayKey, error) {
	text := key.String()
	if secret, ok := s.keys[text]; ok {
		text = secret.String()
	}
	return displayKey{
		text:     text,
		wildcard: key.HasWildcard(),
		numPaths: key.NumDerivationPaths(),
	}, nil
}
