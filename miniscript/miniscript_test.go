package miniscript

import (
	"encoding/hex"
	"fmt"
	"sort"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// testPubKey returns the hex of a deterministic compressed public key.
func testPubKey(t *testing.T, seed byte) string {
	t.Helper()
	var buf [32]byte
	for i := range buf {
		buf[i] = seed + 1
	}
	priv, pub := btcec.PrivKeyFromBytes(buf[:])
	require.NotNil(t, priv)
	return hex.EncodeToString(pub.SerializeCompressed())
}

func sortString(s string) string {
	runes := []rune(s)
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })
	return string(runes)
}

// checkExpr makes sure the passed expression is top level, has the expected
// type and round-trips through String().
func checkExpr(t *testing.T, ctx Context, expr, expectedType string) {
	t.Helper()
	node, err := ParseString(ctx, expr, nil)
	require.NoError(t, err, expr)
	if expectedType[0] == 'B' {
		require.NoError(t, node.IsValidTopLevel(), expr)
	}
	require.Equal(t,
		sortString(expectedType), sortString(node.formattedType()),
		"%s: expected type %s, got %s", expr, expectedType,
		node.formattedType(),
	)
	require.Equal(t, expr, node.String(), expr)
}

func TestParseTypes(t *testing.T) {
	k1 := testPubKey(t, 0)
	k2 := testPubKey(t, 1)
	k3 := testPubKey(t, 2)
	h32 := "926a54995ca48600920a19bf7bc502ca5f2f7d07e6f804c4f00ebf65a1a1a4f0"

	testCases := []struct {
		expr         string
		expectedType string
	}{
		{"older(144)", "Bzmf"},
		{"after(1024)", "Bzmf"},
		{fmt.Sprintf("pk(%s)", k1), "Bondumse"},
		{fmt.Sprintf("pkh(%s)", k1), "Bndumse"},
		{fmt.Sprintf("pk_k(%s)", k1), "Kondumse"},
		{fmt.Sprintf("sha256(%s)", h32), "Bondum"},
		{fmt.Sprintf("multi(2,%s,%s)", k1, k2), "Bndumse"},
		{fmt.Sprintf("and_v(v:pk(%s),pk(%s))", k1, k2), "Bnumsf"},
		{fmt.Sprintf("or_b(pk(%s),s:pk(%s))", k1, k2), "Bdumse"},
		{
			fmt.Sprintf("andor(pk(%s),older(10),pk(%s))", k1, k2),
			"Bdmse",
		},
		{
			fmt.Sprintf("thresh(2,pk(%s),s:pk(%s),s:pk(%s))",
				k1, k2, k3),
			"Bdumse",
		},
		{fmt.Sprintf("tv:pk(%s)", k1), "Bonumsf"},
	}
	for _, tc := range testCases {
		checkExpr(t, ContextSegwitv0, tc.expr, tc.expectedType)
	}
}

func TestParseTap(t *testing.T) {
	k1 := testPubKey(t, 0)
	k2 := testPubKey(t, 1)

	// multi_a is tapscript only, multi is not available there.
	node, err := ParseString(
		ContextTap, fmt.Sprintf("multi_a(1,%s,%s)", k1, k2), nil,
	)
	require.NoError(t, err)
	require.NoError(t, node.IsValidTopLevel())
	require.NoError(t, node.IsSane())

	_, err = ParseString(
		ContextTap, fmt.Sprintf("multi(1,%s,%s)", k1, k2), nil,
	)
	require.ErrorIs(t, err, ErrWrongContext)

	_, err = ParseString(
		ContextSegwitv0, fmt.Sprintf("multi_a(1,%s,%s)", k1, k2), nil,
	)
	require.ErrorIs(t, err, ErrWrongContext)
}

func TestParseErrors(t *testing.T) {
	k1 := testPubKey(t, 0)
	k2 := testPubKey(t, 1)

	testCases := []struct {
		name string
		expr string
	}{
		{"unknown fragment", "frob(1)"},
		{"unbalanced", fmt.Sprintf("and_v(v:pk(%s),pk(%s)", k1, k2)},
		{"trailing garbage", fmt.Sprintf("pk(%s))", k1)},
		{"bad arg count", fmt.Sprintf("and_v(v:pk(%s))", k1)},
		{"duplicate key", fmt.Sprintf("and_v(v:pk(%s),pk(%s))", k1, k1)},
		{"thresh k too large", fmt.Sprintf("thresh(3,pk(%s),s:pk(%s))",
			k1, k2)},
		{"thresh k zero", fmt.Sprintf("thresh(0,pk(%s),s:pk(%s))",
			k1, k2)},
		{"older zero", "older(0)"},
		{"older too large", "older(2147483648)"},
		{"type error", fmt.Sprintf("and_v(pk(%s),pk(%s))", k1, k2)},
		{"top level W", fmt.Sprintf("s:pk(%s)", k1)},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			node, err := ParseString(ContextSegwitv0, tc.expr, nil)
			if err != nil {
				return
			}
			require.Error(t, node.IsValidTopLevel(), tc.expr)
		})
	}
}

func TestEncode(t *testing.T) {
	k1 := testPubKey(t, 0)
	k2 := testPubKey(t, 1)
	rawK1, err := hex.DecodeString(k1)
	require.NoError(t, err)

	testCases := []struct {
		name      string
		ctx       Context
		expr      string
		scriptHex string
	}{
		{
			name:      "pk",
			ctx:       ContextSegwitv0,
			expr:      fmt.Sprintf("pk(%s)", k1),
			scriptHex: "21" + k1 + "ac",
		},
		{
			name: "pkh",
			ctx:  ContextSegwitv0,
			expr: fmt.Sprintf("pkh(%s)", k1),
			scriptHex: "76a914" +
				hex.EncodeToString(btcutil.Hash160(rawK1)) +
				"88ac",
		},
		{
			name:      "multi",
			ctx:       ContextSegwitv0,
			expr:      fmt.Sprintf("multi(2,%s,%s)", k1, k2),
			scriptHex: "52" + "21" + k1 + "21" + k2 + "52ae",
		},
		{
			name:      "tap pk is x-only",
			ctx:       ContextTap,
			expr:      fmt.Sprintf("pk(%s)", k1),
			scriptHex: "20" + k1[2:] + "ac",
		},
		{
			name: "verify collapse",
			ctx:  ContextSegwitv0,
			expr: fmt.Sprintf("and_v(v:pk(%s),older(16))", k1),
			// <key> CHECKSIGVERIFY 16 CSV
			scriptHex: "21" + k1 + "ad" + "60b2",
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			node, err := ParseString(tc.ctx, tc.expr, nil)
			require.NoError(t, err)
			script, err := node.Encode()
			require.NoError(t, err)
			require.Equal(t,
				tc.scriptHex, hex.EncodeToString(script),
			)
			require.Equal(t, len(script), node.ScriptLen())
		})
	}
}

func TestScriptLenMatchesEncoding(t *testing.T) {
	k1 := testPubKey(t, 0)
	k2 := testPubKey(t, 1)
	k3 := testPubKey(t, 2)
	h32 := "926a54995ca48600920a19bf7bc502ca5f2f7d07e6f804c4f00ebf65a1a1a4f0"

	exprs := []string{
		fmt.Sprintf("pk(%s)", k1),
		fmt.Sprintf("pkh(%s)", k1),
		fmt.Sprintf("and_v(v:pk(%s),pk(%s))", k1, k2),
		fmt.Sprintf("or_d(pk(%s),pkh(%s))", k1, k2),
		fmt.Sprintf("andor(pk(%s),older(1000),pk(%s))", k1, k2),
		fmt.Sprintf("thresh(2,pk(%s),s:pk(%s),s:pk(%s))", k1, k2, k3),
		fmt.Sprintf("or_i(sha256(%s),older(144))", h32),
		fmt.Sprintf("j:and_v(v:pkh(%s),older(65535))", k1),
		fmt.Sprintf("and_b(pk(%s),a:older(16))", k1),
	}
	for _, expr := range exprs {
		node, err := ParseString(ContextSegwitv0, expr, nil)
		require.NoError(t, err, expr)
		script, err := node.Encode()
		require.NoError(t, err, expr)
		require.Equal(t, len(script), node.ScriptLen(), expr)
	}
}

func TestStringRoundTrip(t *testing.T) {
	k1 := testPubKey(t, 0)
	k2 := testPubKey(t, 1)
	k3 := testPubKey(t, 2)
	h32 := "926a54995ca48600920a19bf7bc502ca5f2f7d07e6f804c4f00ebf65a1a1a4f0"

	exprs := []string{
		fmt.Sprintf("pk(%s)", k1),
		fmt.Sprintf("pkh(%s)", k1),
		fmt.Sprintf("pk_k(%s)", k1),
		fmt.Sprintf("and_v(v:pk(%s),pk(%s))", k1, k2),
		fmt.Sprintf("and_n(pk(%s),pk(%s))", k1, k2),
		fmt.Sprintf("tv:pk(%s)", k1),
		"l:older(144)",
		"u:after(100)",
		fmt.Sprintf("or_d(pk(%s),pkh(%s))", k1, k2),
		fmt.Sprintf("thresh(2,pk(%s),s:pk(%s),s:pk(%s))", k1, k2, k3),
		fmt.Sprintf("multi(2,%s,%s)", k1, k2),
		fmt.Sprintf("or_i(sha256(%s),older(144))", h32),
		"jdv:older(1)",
	}
	for _, expr := range exprs {
		node, err := ParseString(ContextSegwitv0, expr, nil)
		require.NoError(t, err, expr)
		require.Equal(t, expr, node.String())
	}
}
