package miniscript

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// testSatisfier returns a satisfier that can sign for the passed keys with
// recognizable fake signatures and knows the preimages passed in. Timelocks
// are reported as not yet valid.
func testSatisfier(keys []string, preimages map[string][]byte,
) *Satisfier[StringKey] {

	sign := func(sigLen int) SignFunc[StringKey] {
		return func(key StringKey) ([]byte, bool) {
			for i, k := range keys {
				if k == key.String() {
					sig := bytes.Repeat(
						[]byte{byte(i + 1)}, sigLen,
					)
					return sig, true
				}
			}
			return nil, false
		}
	}
	return &Satisfier[StringKey]{
		CheckOlder: func(lockTime uint32) (bool, error) {
			return false, nil
		},
		CheckAfter: func(lockTime uint32) (bool, error) {
			return false, nil
		},
		SignECDSA:   sign(71),
		SignSchnorr: sign(65),
		Preimage: func(hashFunc string, hash []byte) ([]byte, bool) {
			preimage, ok := preimages[hex.EncodeToString(hash)]
			return preimage, ok
		},
	}
}

func fakeSig(keyIndex, sigLen int) []byte {
	return bytes.Repeat([]byte{byte(keyIndex + 1)}, sigLen)
}

func TestSatisfy(t *testing.T) {
	k1 := testPubKey(t, 0)
	k2 := testPubKey(t, 1)
	k3 := testPubKey(t, 2)
	rawK2, err := hex.DecodeString(k2)
	require.NoError(t, err)

	preimage := bytes.Repeat([]byte{0xab}, 32)
	hash := sha256.Sum256(preimage)
	h32 := hex.EncodeToString(hash[:])

	sig1 := fakeSig(0, 71)
	sig2 := fakeSig(1, 71)

	testCases := []struct {
		name     string
		ctx      Context
		expr     string
		keys     []string
		expected wire.TxWitness
	}{
		{
			name:     "pk",
			ctx:      ContextSegwitv0,
			expr:     fmt.Sprintf("pk(%s)", k1),
			keys:     []string{k1},
			expected: wire.TxWitness{sig1},
		},
		{
			name:     "pkh",
			ctx:      ContextSegwitv0,
			expr:     fmt.Sprintf("pkh(%s)", k2),
			keys:     []string{k1, k2},
			expected: wire.TxWitness{sig2, rawK2},
		},
		{
			name: "or_d second branch",
			ctx:  ContextSegwitv0,
			expr: fmt.Sprintf("or_d(pk(%s),pkh(%s))", k1, k2),
			keys: []string{k2},
			// The first branch is dissatisfied with an empty push
			// on top, then the second branch runs.
			expected: wire.TxWitness{fakeSig(0, 71), rawK2, {}},
		},
		{
			name:     "thresh all satisfied",
			ctx:      ContextSegwitv0,
			expr:     fmt.Sprintf("thresh(2,pk(%s),s:pk(%s))", k1, k2),
			keys:     []string{k1, k2},
			expected: wire.TxWitness{sig2, sig1},
		},
		{
			name:     "multi second key",
			ctx:      ContextSegwitv0,
			expr:     fmt.Sprintf("multi(1,%s,%s)", k1, k2),
			keys:     []string{k2},
			expected: wire.TxWitness{{}, fakeSig(0, 71)},
		},
		{
			name: "multi_a all keys",
			ctx:  ContextTap,
			expr: fmt.Sprintf("multi_a(2,%s,%s)", k1, k2),
			keys: []string{k1, k2},
			// One element per key in reverse key order.
			expected: wire.TxWitness{fakeSig(1, 65), fakeSig(0, 65)},
		},
		{
			name: "multi_a partial",
			ctx:  ContextTap,
			expr: fmt.Sprintf("multi_a(1,%s,%s)", k1, k2),
			keys: []string{k1},
			expected: wire.TxWitness{{}, fakeSig(0, 65)},
		},
		{
			name: "andor fallback branch",
			ctx:  ContextSegwitv0,
			expr: fmt.Sprintf("andor(pk(%s),older(10),pk(%s))",
				k1, k2),
			keys:     []string{k2},
			expected: wire.TxWitness{fakeSig(0, 71), {}},
		},
		{
			name: "preimage",
			ctx:  ContextSegwitv0,
			expr: fmt.Sprintf("and_v(v:sha256(%s),pk(%s))", h32, k1),
			keys: []string{k1},
			expected: wire.TxWitness{sig1, preimage},
		},
		{
			name: "or_i selector",
			ctx:  ContextSegwitv0,
			expr: fmt.Sprintf("or_i(pk(%s),pk(%s))", k1, k3),
			keys: []string{k3},
			expected: wire.TxWitness{fakeSig(0, 71), {}},
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			node, err := ParseString(tc.ctx, tc.expr, nil)
			require.NoError(t, err)
			satisfier := testSatisfier(
				tc.keys,
				map[string][]byte{h32: preimage},
			)
			witness, err := node.Satisfy(satisfier)
			require.NoError(t, err)
			require.Equal(t, tc.expected, witness)

			// The witness must be within the computed upper bound.
			bound, err := node.MaxWitnessSize()
			require.NoError(t, err)
			size := 0
			for _, el := range witness {
				size += 1 + len(el)
			}
			require.LessOrEqual(t, size, bound)
		})
	}
}

func TestAndorCanonicalBranch(t *testing.T) {
	k1 := testPubKey(t, 0)
	k2 := testPubKey(t, 1)

	node, err := ParseString(
		ContextSegwitv0,
		fmt.Sprintf("andor(pk(%s),older(10),pk(%s))", k1, k2), nil,
	)
	require.NoError(t, err)

	// With the timelock valid and both keys signable the first branch is
	// canonical: the witness carries only the first key's signature.
	satisfier := testSatisfier([]string{k1, k2}, nil)
	satisfier.CheckOlder = func(lockTime uint32) (bool, error) {
		return true, nil
	}
	witness, err := node.Satisfy(satisfier)
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness{fakeSig(0, 71)}, witness)
}

func TestSatisfyUnavailable(t *testing.T) {
	k1 := testPubKey(t, 0)
	k2 := testPubKey(t, 1)

	node, err := ParseString(
		ContextSegwitv0, fmt.Sprintf("pk(%s)", k1), nil,
	)
	require.NoError(t, err)

	// No signer for the key.
	_, err = node.Satisfy(testSatisfier([]string{k2}, nil))
	require.ErrorIs(t, err, ErrNoSatisfaction)

	// Timelock not yet valid.
	node, err = ParseString(
		ContextSegwitv0,
		fmt.Sprintf("and_v(v:pk(%s),older(10))", k1), nil,
	)
	require.NoError(t, err)
	_, err = node.Satisfy(testSatisfier([]string{k1}, nil))
	require.ErrorIs(t, err, ErrNoSatisfaction)
}

func TestSatisfyMalleable(t *testing.T) {
	preimage := bytes.Repeat([]byte{0xcd}, 32)
	hash := sha256.Sum256(preimage)
	h32 := hex.EncodeToString(hash[:])

	node, err := ParseString(
		ContextSegwitv0,
		fmt.Sprintf("or_i(sha256(%s),older(144))", h32), nil,
	)
	require.NoError(t, err)

	satisfier := testSatisfier(nil, map[string][]byte{h32: preimage})
	satisfier.CheckOlder = func(lockTime uint32) (bool, error) {
		return true, nil
	}

	// Both branches are satisfiable without a signature, so any witness is
	// malleable by a third party.
	_, err = node.Satisfy(satisfier)
	require.ErrorIs(t, err, ErrMalleable)

	// The malleable satisfaction picks the smaller branch: dissatisfy the
	// IF with an empty push and rely on the timelock.
	witness, err := node.SatisfyMalleable(satisfier)
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness{{}}, witness)
}

func TestCheckOlderAfter(t *testing.T) {
	// CSV needs tx version 2 and the disable bit unset.
	require.True(t, CheckOlder(144, 2, 144))
	require.True(t, CheckOlder(144, 2, 1000))
	require.False(t, CheckOlder(144, 1, 1000))
	require.False(t, CheckOlder(144, 2, 100))
	require.False(t, CheckOlder(
		144, 2, wire.SequenceLockTimeDisabled|144,
	))

	// Mixing block heights and timestamps fails.
	require.False(t, CheckOlder(
		wire.SequenceLockTimeIsSeconds|512, 2, 1000,
	))
	require.True(t, CheckOlder(
		wire.SequenceLockTimeIsSeconds|512,
		2,
		wire.SequenceLockTimeIsSeconds|1024,
	))

	// CLTV aborts on a final sequence.
	require.True(t, CheckAfter(1000, 1000, 0))
	require.False(t, CheckAfter(1000, 999, 0))
	require.False(t, CheckAfter(1000, 1000, wire.MaxTxInSequenceNum))

	// Mixing block heights and unix timestamps fails.
	require.False(t, CheckAfter(1000, 1600000000, 0))
}

func TestForEachKey(t *testing.T) {
	k1 := testPubKey(t, 0)
	k2 := testPubKey(t, 1)
	k3 := testPubKey(t, 2)

	node, err := ParseString(
		ContextSegwitv0,
		fmt.Sprintf("or_d(pk(%s),multi(2,%s,%s))", k1, k2, k3), nil,
	)
	require.NoError(t, err)

	var keys []string
	node.ForEachKey(func(key StringKey) bool {
		keys = append(keys, key.String())
		return true
	})
	require.Equal(t, []string{k1, k2, k3}, keys)
}

// swapKeyTranslator replaces one key with another.
type swapKeyTranslator struct {
	CloneHashes
	from, to string
}

func (s swapKeyTranslator) Pk(key StringKey) (StringKey, error) {
	if key.String() == s.from {
		return ParseStringKey(s.to)
	}
	return key, nil
}

func TestTranslateNode(t *testing.T) {
	k1 := testPubKey(t, 0)
	k2 := testPubKey(t, 1)
	k3 := testPubKey(t, 2)

	expr := fmt.Sprintf("and_v(v:pk(%s),pkh(%s))", k1, k2)
	node, err := ParseString(ContextSegwitv0, expr, nil)
	require.NoError(t, err)

	translated, err := TranslateNode[StringKey, StringKey](
		node, swapKeyTranslator{from: k2, to: k3},
	)
	require.NoError(t, err)
	require.Equal(t,
		fmt.Sprintf("and_v(v:pk(%s),pkh(%s))", k1, k3),
		translated.String(),
	)

	// The original is untouched.
	require.Equal(t, expr, node.String())

	// The analysis is refreshed on the translated copy.
	require.Equal(t, node.ScriptLen(), translated.ScriptLen())
	script1, err := node.Encode()
	require.NoError(t, err)
	script2, err := translated.Encode()
	require.NoError(t, err)
	require.NotEqual(t, script1, script2)
}
