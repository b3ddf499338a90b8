package descriptor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/vulpemventures/go-elements/network"
	"github.com/vulpemventures/go-elements/taproot"

	"github.com/vulpemventures/go-descriptors/miniscript"
)

// elementsLeafVersion is the tapscript leaf version used on Elements
// chains.
const elementsLeafVersion = 0xc4

// tapBranchElementsTag is the tagged hash prefix for Elements taproot
// branches.
var tapBranchElementsTag = []byte("TapBranch/elements")

// TapTree is the binary script tree of a taproot descriptor. A node is
// either a leaf holding a tapscript miniscript or an inner node with two
// children.
type TapTree[Pk miniscript.Key] struct {
	Left, Right *TapTree[Pk]
	Leaf        *miniscript.AST[Pk]
}

func parseTapTree[Pk miniscript.Key](expr string,
	parseKey miniscript.KeyParser[Pk], ext miniscript.ExtParser,
) (*TapTree[Pk], error) {

	if strings.HasPrefix(expr, "{") {
		if !strings.HasSuffix(expr, "}") {
			return nil, fmt.Errorf(
				"%w: unclosed taproot tree node", ErrBadDescriptor,
			)
		}
		parts := splitTopLevel(expr[1 : len(expr)-1])
		if len(parts) != 2 {
			return nil, fmt.Errorf(
				"%w: taproot tree nodes have exactly two children",
				ErrBadDescriptor,
			)
		}
		left, err := parseTapTree(parts[0], parseKey, ext)
		if err != nil {
			return nil, err
		}
		right, err := parseTapTree(parts[1], parseKey, ext)
		if err != nil {
			return nil, err
		}
		return &TapTree[Pk]{Left: left, Right: right}, nil
	}

	leaf, err := miniscript.Parse(miniscript.ContextTap, expr, parseKey, ext)
	if err != nil {
		return nil, err
	}
	if err := leaf.IsValidTopLevel(); err != nil {
		return nil, err
	}
	return &TapTree[Pk]{Leaf: leaf}, nil
}

func (t *TapTree[Pk]) body() string {
	if t.Leaf != nil {
		return t.Leaf.String()
	}
	return "{" + t.Left.body() + "," + t.Right.body() + "}"
}

func (t *TapTree[Pk]) forEachLeaf(fn func(*miniscript.AST[Pk]) bool) bool {
	if t.Leaf != nil {
		return fn(t.Leaf)
	}
	left := t.Left.forEachLeaf(fn)
	right := t.Right.forEachLeaf(fn)
	return left && right
}

// tapLeafProof is one leaf of the tree with its script and the sibling
// hashes up to the root, as needed for the control block.
type tapLeafProof[Pk miniscript.Key] struct {
	ms     *miniscript.AST[Pk]
	script []byte
	path   [][]byte
}

// merkle hashes the tree with the Elements tagged hashes, preserving the
// exact shape written in the descriptor, and collects the per-leaf merkle
// paths.
func (t *TapTree[Pk]) merkle() (chainhash.Hash, []tapLeafProof[Pk], error) {
	if t.Leaf != nil {
		script, err := t.Leaf.Encode()
		if err != nil {
			return chainhash.Hash{}, nil, err
		}
		hash := taproot.NewBaseTapElementsLeaf(script).TapHash()
		proof := tapLeafProof[Pk]{ms: t.Leaf, script: script}
		return hash, []tapLeafProof[Pk]{proof}, nil
	}

	leftHash, leftLeaves, err := t.Left.merkle()
	if err != nil {
		return chainhash.Hash{}, nil, err
	}
	rightHash, rightLeaves, err := t.Right.merkle()
	if err != nil {
		return chainhash.Hash{}, nil, err
	}
	for i := range leftLeaves {
		leftLeaves[i].path = append(leftLeaves[i].path, rightHash[:])
	}
	for i := range rightLeaves {
		rightLeaves[i].path = append(rightLeaves[i].path, leftHash[:])
	}
	return tapBranchElementsHash(leftHash, rightHash),
		append(leftLeaves, rightLeaves...), nil
}

func tapBranchElementsHash(l, r chainhash.Hash) chainhash.Hash {
	if bytes.Compare(l[:], r[:]) > 0 {
		l, r = r, l
	}
	return *chainhash.TaggedHash(tapBranchElementsTag, l[:], r[:])
}

// Tr is a taproot output: eltr(KEY) or eltr(KEY,TREE). Leaves may use the
// covenant extension fragments; parsing tries the core language first and
// retries extension aware.
type Tr[Pk miniscript.Key] struct {
	InternalKey Pk
	Tree        *TapTree[Pk]

	// hasExt records that the tree only parsed with the covenant
	// extension fragments enabled.
	hasExt bool
}

func parseTr[Pk miniscript.Key](expr string,
	parseKey miniscript.KeyParser[Pk]) (*Tr[Pk], error) {

	inner, err := fragmentArgs(expr, "tr")
	if err != nil {
		return nil, err
	}
	if inner == "" {
		return nil, fmt.Errorf("%w: no arguments given", ErrBadDescriptor)
	}
	parts := splitTopLevel(inner)
	if len(parts) > 2 {
		return nil, fmt.Errorf(
			"%w: tr takes a key and at most one script tree",
			ErrBadDescriptor,
		)
	}
	key, err := parseKey(parts[0])
	if err != nil {
		return nil, err
	}
	d := &Tr[Pk]{InternalKey: key}
	if len(parts) == 1 {
		return d, nil
	}

	d.Tree, err = parseTapTree[Pk](parts[1], parseKey, nil)
	if err != nil {
		tree, extErr := parseTapTree[Pk](parts[1], parseKey, CovenantExt{})
		if extErr != nil {
			return nil, err
		}
		d.Tree = tree
		d.hasExt = true
	}
	return d, nil
}

func (d *Tr[Pk]) isDescriptor() {}

func (d *Tr[Pk]) String() string {
	body := "eltr(" + d.InternalKey.String()
	if d.Tree != nil {
		body += "," + d.Tree.body()
	}
	return appendChecksum(body + ")")
}

func (d *Tr[Pk]) Type() DescriptorType {
	return TypeTr
}

// HasExtension reports whether the script tree uses the covenant extension
// fragments.
func (d *Tr[Pk]) HasExtension() bool {
	return d.hasExt
}

// internalPubKey lifts the internal key to its x-only form.
func (d *Tr[Pk]) internalPubKey() (*btcec.PublicKey, error) {
	raw, err := d.InternalKey.RawPubKey()
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case 32:
	case 33:
		raw = raw[1:]
	default:
		return nil, fmt.Errorf(
			"%w: key %s cannot be used as a taproot internal key",
			ErrBadKey, d.InternalKey,
		)
	}
	return schnorr.ParsePubKey(raw)
}

// outputKey computes the tweaked taproot output key.
func (d *Tr[Pk]) outputKey() (*btcec.PublicKey, error) {
	internal, err := d.internalPubKey()
	if err != nil {
		return nil, err
	}
	var root []byte
	if d.Tree != nil {
		rootHash, _, err := d.Tree.merkle()
		if err != nil {
			return nil, err
		}
		root = rootHash[:]
	}
	return taproot.ComputeTaprootOutputKey(internal, root), nil
}

func (d *Tr[Pk]) ScriptPubKey() ([]byte, error) {
	output, err := d.outputKey()
	if err != nil {
		return nil, err
	}
	return p2trScript(schnorr.SerializePubKey(output))
}

func (d *Tr[Pk]) Address(net *network.Network,
	blindingKey *btcec.PublicKey) (string, error) {

	script, err := d.ScriptPubKey()
	if err != nil {
		return "", err
	}
	return addressFromScript(script, net, blindingKey, TypeTr)
}

func (d *Tr[Pk]) ExplicitScript() ([]byte, error) {
	return nil, ErrTrNoScript
}

func (d *Tr[Pk]) ScriptCode() ([]byte, error) {
	return nil, ErrTrNoScript
}

func (d *Tr[Pk]) UnsignedScriptSig() ([]byte, error) {
	return nil, nil
}

func (d *Tr[Pk]) MaxWeightToSatisfy() (int, error) {
	// Key path spend: stack count plus one Schnorr signature.
	weight := 1 + maxSchnorrSigElement

	if d.Tree != nil {
		_, leaves, err := d.Tree.merkle()
		if err != nil {
			return 0, err
		}
		for _, leaf := range leaves {
			stackSize, err := leaf.ms.MaxWitnessSize()
			if err != nil {
				// Leaves without a non-malleable satisfaction
				// cannot be the worst case path.
				continue
			}
			size := 1 + stackSize +
				witnessElementSize(len(leaf.script)) +
				witnessElementSize(33+32*len(leaf.path))
			if size > weight {
				weight = size
			}
		}
	}
	return weight, nil
}

func (d *Tr[Pk]) SanityCheck() error {
	if _, err := d.internalPubKey(); err != nil {
		if _, rawErr := d.InternalKey.RawPubKey(); rawErr != nil {
			// Underived wildcard keys are checked once derived.
			return nil
		}
		return err
	}
	if d.Tree == nil {
		return nil
	}
	var sanityErr error
	d.Tree.forEachLeaf(func(leaf *miniscript.AST[Pk]) bool {
		if err := leaf.IsSane(); err != nil && sanityErr == nil {
			sanityErr = err
			return false
		}
		return true
	})
	return sanityErr
}

// controlBlock assembles the script path control block for a leaf.
func (d *Tr[Pk]) controlBlock(output *btcec.PublicKey,
	proof tapLeafProof[Pk]) ([]byte, error) {

	internal, err := d.internalPubKey()
	if err != nil {
		return nil, err
	}
	parity := output.SerializeCompressed()[0] & 1
	block := make([]byte, 0, 33+32*len(proof.path))
	block = append(block, elementsLeafVersion|parity)
	block = append(block, schnorr.SerializePubKey(internal)...)
	for _, sibling := range proof.path {
		block = append(block, sibling...)
	}
	return block, nil
}

func (d *Tr[Pk]) GetSatisfaction(satisfier *miniscript.Satisfier[Pk]) (
	wire.TxWitness, []byte, error) {

	return d.satisfy(satisfier, false)
}

func (d *Tr[Pk]) GetSatisfactionMalleable(
	satisfier *miniscript.Satisfier[Pk]) (wire.TxWitness, []byte, error) {

	return d.satisfy(satisfier, true)
}

func (d *Tr[Pk]) satisfy(satisfier *miniscript.Satisfier[Pk],
	malleable bool) (wire.TxWitness, []byte, error) {

	// The key path spend is always the cheapest satisfaction.
	if sig, ok := satisfier.Sign(miniscript.ContextTap, d.InternalKey); ok {
		return wire.TxWitness{sig}, nil, nil
	}
	if d.Tree == nil {
		return nil, nil, miniscript.ErrNoSatisfaction
	}

	output, err := d.outputKey()
	if err != nil {
		return nil, nil, err
	}
	_, leaves, err := d.Tree.merkle()
	if err != nil {
		return nil, nil, err
	}

	// Pick the cheapest satisfiable leaf.
	var (
		best     wire.TxWitness
		bestSize = -1
	)
	for _, leaf := range leaves {
		var stack wire.TxWitness
		if malleable {
			stack, err = leaf.ms.SatisfyMalleable(satisfier)
		} else {
			stack, err = leaf.ms.Satisfy(satisfier)
		}
		if err != nil {
			continue
		}
		block, err := d.controlBlock(output, leaf)
		if err != nil {
			return nil, nil, err
		}
		witness := append(stack, leaf.script, block)
		size := 0
		for _, el := range witness {
			size += witnessElementSize(len(el))
		}
		if bestSize < 0 || size < bestSize {
			best = witness
			bestSize = size
		}
	}
	if best == nil {
		return nil, nil, miniscript.ErrNoSatisfaction
	}
	return best, nil, nil
}

func (d *Tr[Pk]) ForEachKey(fn func(Pk) bool) bool {
	all := fn(d.InternalKey)
	if d.Tree != nil {
		if !d.Tree.forEachLeaf(func(leaf *miniscript.AST[Pk]) bool {
			return leaf.ForEachKey(fn)
		}) {
			all = false
		}
	}
	return all
}
