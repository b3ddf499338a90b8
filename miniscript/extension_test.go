package miniscript

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// verEq is a stub extension fragment checking the transaction version,
// standing in for the introspection covenants of the descriptor layer.
type verEq struct {
	version int64
}

func (v verEq) String() string {
	return fmt.Sprintf("ver_eq(%d)", v.version)
}

func (v verEq) ScriptLen() int {
	return numPushLen(v.version) + 2
}

func (v verEq) OpCount() int { return 2 }

func (v verEq) BuildScript(b *txscript.ScriptBuilder) {
	b.AddOp(txscript.OP_NOP)
	b.AddInt64(v.version)
	b.AddOp(txscript.OP_EQUAL)
}

func (v verEq) ScriptStr() string {
	return fmt.Sprintf("NOP %d EQUAL", v.version)
}

// verEqParser recognizes the ver_eq fragment.
type verEqParser struct{}

func (verEqParser) ParseExt(name string, args []string) (Extension, error) {
	if name != "ver_eq" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFragment, name)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("ver_eq expects one argument, got %d",
			len(args))
	}
	version, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return nil, err
	}
	return verEq{version: version}, nil
}

func TestExtensionParse(t *testing.T) {
	k1 := testPubKey(t, 0)
	expr := fmt.Sprintf("and_v(v:ver_eq(2),pk(%s))", k1)

	// Without an extension parser the fragment is unknown.
	_, err := ParseString(ContextSegwitv0, expr, nil)
	require.ErrorIs(t, err, ErrUnknownFragment)

	node, err := ParseString(ContextSegwitv0, expr, verEqParser{})
	require.NoError(t, err)
	require.NoError(t, node.IsValidTopLevel())
	require.Equal(t, expr, node.String())

	// Extension leaves type as transaction-level checks, like timelocks.
	extNode, err := ParseString(ContextSegwitv0, "ver_eq(2)", verEqParser{})
	require.NoError(t, err)
	require.Equal(t, "Bzmf", extNode.formattedType())

	// The encoded script matches the declared length.
	script, err := node.Encode()
	require.NoError(t, err)
	require.Equal(t, len(script), node.ScriptLen())
}

func TestExtensionSatisfy(t *testing.T) {
	k1 := testPubKey(t, 0)
	expr := fmt.Sprintf("and_v(v:ver_eq(2),pk(%s))", k1)
	node, err := ParseString(ContextSegwitv0, expr, verEqParser{})
	require.NoError(t, err)

	satisfier := testSatisfier([]string{k1}, nil)

	// No CheckExt configured means the leaf cannot be satisfied.
	_, err = node.Satisfy(satisfier)
	require.ErrorIs(t, err, ErrNoSatisfaction)

	// Extension leaves take no witness data.
	satisfier.CheckExt = func(ext Extension) (bool, error) {
		return true, nil
	}
	witness, err := node.Satisfy(satisfier)
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness{fakeSig(0, 71)}, witness)

	satisfier.CheckExt = func(ext Extension) (bool, error) {
		return false, nil
	}
	_, err = node.Satisfy(satisfier)
	require.ErrorIs(t, err, ErrNoSatisfaction)
}

// bumpVersion rewrites ver_eq leaves to a different version.
type bumpVersion struct{}

func (bumpVersion) Ext(ext Extension) (Extension, error) {
	v, ok := ext.(verEq)
	if !ok {
		return ext, nil
	}
	return verEq{version: v.version + 1}, nil
}

func TestTranslateExt(t *testing.T) {
	k1 := testPubKey(t, 0)
	expr := fmt.Sprintf("and_v(v:ver_eq(2),pk(%s))", k1)
	node, err := ParseString(ContextSegwitv0, expr, verEqParser{})
	require.NoError(t, err)

	translated, err := node.TranslateExt(bumpVersion{})
	require.NoError(t, err)
	require.Equal(t,
		fmt.Sprintf("and_v(v:ver_eq(3),pk(%s))", k1),
		translated.String(),
	)
	require.Equal(t, expr, node.String())
}
