package descriptor

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/go-elements/transaction"

	"github.com/vulpemventures/go-descriptors/miniscript"
)

// testSatisfier signs for the passed keys with recognizable fake signatures.
// Timelocks are reported as not yet valid and extension leaves as satisfied.
func testSatisfier(keys []string) *miniscript.Satisfier[*DescriptorPublicKey] {
	sign := func(sigLen int) miniscript.SignFunc[*DescriptorPublicKey] {
		return func(key *DescriptorPublicKey) ([]byte, bool) {
			for i, k := range keys {
				if k == key.String() {
					return bytes.Repeat(
						[]byte{byte(i + 1)}, sigLen,
					), true
				}
			}
			return nil, false
		}
	}
	return &miniscript.Satisfier[*DescriptorPublicKey]{
		CheckOlder: func(lockTime uint32) (bool, error) {
			return false, nil
		},
		CheckAfter: func(lockTime uint32) (bool, error) {
			return false, nil
		},
		SignECDSA:   sign(71),
		SignSchnorr: sign(65),
		Preimage: func(hashFunc string, hash []byte) ([]byte, bool) {
			return nil, false
		},
		CheckExt: func(ext miniscript.Extension) (bool, error) {
			return true, nil
		},
	}
}

func fakeSig(keyIndex, sigLen int) []byte {
	return bytes.Repeat([]byte{byte(keyIndex + 1)}, sigLen)
}

func rawKey(t *testing.T, key string) []byte {
	t.Helper()
	raw, err := hex.DecodeString(key)
	require.NoError(t, err)
	return raw
}

func TestGetSatisfaction(t *testing.T) {
	k1 := testKey(t, 0)
	k2 := testKey(t, 1)
	sig1 := fakeSig(0, 71)
	sig2 := fakeSig(1, 71)

	t.Run("bare", func(t *testing.T) {
		d := parseDesc(t, "elpk("+k1+")")
		witness, scriptSig, err := d.GetSatisfaction(testSatisfier(
			[]string{k1},
		))
		require.NoError(t, err)
		require.Nil(t, witness)
		expected, err := pushScript(wire.TxWitness{sig1})
		require.NoError(t, err)
		require.Equal(t, expected, scriptSig)
	})

	t.Run("pkh", func(t *testing.T) {
		d := parseDesc(t, "elpkh("+k1+")")
		witness, scriptSig, err := d.GetSatisfaction(testSatisfier(
			[]string{k1},
		))
		require.NoError(t, err)
		require.Nil(t, witness)
		expected, err := pushScript(
			wire.TxWitness{sig1, rawKey(t, k1)},
		)
		require.NoError(t, err)
		require.Equal(t, expected, scriptSig)
	})

	t.Run("wpkh", func(t *testing.T) {
		d := parseDesc(t, "elwpkh("+k1+")")
		witness, scriptSig, err := d.GetSatisfaction(testSatisfier(
			[]string{k1},
		))
		require.NoError(t, err)
		require.Nil(t, scriptSig)
		require.Equal(t, wire.TxWitness{sig1, rawKey(t, k1)}, witness)
	})

	t.Run("sh wpkh", func(t *testing.T) {
		d := parseDesc(t, "elsh(wpkh("+k1+"))")
		witness, scriptSig, err := d.GetSatisfaction(testSatisfier(
			[]string{k1},
		))
		require.NoError(t, err)
		require.Equal(t, wire.TxWitness{sig1, rawKey(t, k1)}, witness)
		expected, err := d.UnsignedScriptSig()
		require.NoError(t, err)
		require.Equal(t, expected, scriptSig)
	})

	t.Run("wsh", func(t *testing.T) {
		expr := fmt.Sprintf("elwsh(and_v(v:pk(%s),pk(%s)))", k1, k2)
		d := parseDesc(t, expr)
		witness, scriptSig, err := d.GetSatisfaction(testSatisfier(
			[]string{k1, k2},
		))
		require.NoError(t, err)
		require.Nil(t, scriptSig)
		script, err := d.ExplicitScript()
		require.NoError(t, err)
		require.Equal(t, wire.TxWitness{sig2, sig1, script}, witness)
	})

	t.Run("sh plain", func(t *testing.T) {
		d := parseDesc(t, "elsh(c:pk_k("+k1+"))")
		witness, scriptSig, err := d.GetSatisfaction(testSatisfier(
			[]string{k1},
		))
		require.NoError(t, err)
		require.Nil(t, witness)
		redeem, err := d.ExplicitScript()
		require.NoError(t, err)
		expected, err := pushScript(wire.TxWitness{sig1, redeem})
		require.NoError(t, err)
		require.Equal(t, expected, scriptSig)
	})

	t.Run("wsh sortedmulti", func(t *testing.T) {
		expr := fmt.Sprintf("elwsh(sortedmulti(1,%s,%s))", k1, k2)
		d := parseDesc(t, expr)
		// Only the second key can sign.
		witness, scriptSig, err := d.GetSatisfaction(testSatisfier(
			[]string{k2},
		))
		require.NoError(t, err)
		require.Nil(t, scriptSig)
		script, err := d.ExplicitScript()
		require.NoError(t, err)
		// CHECKMULTISIG dummy, then the signature.
		require.Equal(t,
			wire.TxWitness{{}, fakeSig(0, 71), script}, witness)
	})

	t.Run("unavailable", func(t *testing.T) {
		d := parseDesc(t, "elwpkh("+k1+")")
		_, _, err := d.GetSatisfaction(testSatisfier([]string{k2}))
		require.ErrorIs(t, err, miniscript.ErrNoSatisfaction)
	})
}

func TestSortedMultiSignatureOrder(t *testing.T) {
	k1 := testKey(t, 0)
	k2 := testKey(t, 1)

	// Signatures come out in BIP67 key order, not descriptor order.
	lo, hi := k1, k2
	if bytes.Compare(rawKey(t, k1), rawKey(t, k2)) > 0 {
		lo, hi = k2, k1
	}
	expr := fmt.Sprintf("elwsh(sortedmulti(2,%s,%s))", hi, lo)
	d := parseDesc(t, expr)

	witness, _, err := d.GetSatisfaction(testSatisfier([]string{hi, lo}))
	require.NoError(t, err)
	require.Len(t, witness, 4)
	require.Empty(t, witness[0])
	// The satisfier indexed hi as 0 and lo as 1; the witness must order
	// lo's signature first.
	require.Equal(t, fakeSig(1, 71), witness[1])
	require.Equal(t, fakeSig(0, 71), witness[2])
}

func TestTaprootSatisfaction(t *testing.T) {
	k1 := testKey(t, 0)
	k2 := testKey(t, 1)
	k3 := testKey(t, 2)

	expr := fmt.Sprintf("eltr(%s,{pk(%s),pk(%s)})", k1, k2, k3)
	d := parseDesc(t, expr)

	// The key path wins whenever the internal key can sign.
	witness, scriptSig, err := d.GetSatisfaction(testSatisfier(
		[]string{k1},
	))
	require.NoError(t, err)
	require.Nil(t, scriptSig)
	require.Equal(t, wire.TxWitness{fakeSig(0, 65)}, witness)

	// Otherwise the cheapest satisfiable leaf is used: satisfaction,
	// leaf script, control block.
	witness, scriptSig, err = d.GetSatisfaction(testSatisfier(
		[]string{k2},
	))
	require.NoError(t, err)
	require.Nil(t, scriptSig)
	require.Len(t, witness, 3, spew.Sdump(witness))
	require.Equal(t, fakeSig(0, 65), witness[0])

	leafScript := witness[1]
	require.Len(t, leafScript, 34)
	require.Equal(t, byte(0x20), leafScript[0])
	require.Equal(t, rawKey(t, k2)[1:], leafScript[1:33])
	require.Equal(t, byte(0xac), leafScript[33])

	// Control block: leaf version with the output parity bit, the x-only
	// internal key and one sibling hash.
	block := witness[2]
	require.Len(t, block, 33+32)
	require.Equal(t, byte(elementsLeafVersion), block[0]&0xfe)
	require.Equal(t, rawKey(t, k1)[1:], block[1:33])

	// No signer at all.
	_, _, err = d.GetSatisfaction(testSatisfier(nil))
	require.ErrorIs(t, err, miniscript.ErrNoSatisfaction)

	// Key-only taproot has no script path fallback.
	d = parseDesc(t, "eltr("+k1+")")
	_, _, err = d.GetSatisfaction(testSatisfier([]string{k2}))
	require.ErrorIs(t, err, miniscript.ErrNoSatisfaction)
}

func TestPartialSatisfier(t *testing.T) {
	k1 := testKey(t, 0)
	k2 := testKey(t, 1)

	// A satisfier carrying only one kind of signer reports the other
	// variants as unsatisfiable.
	schnorrOnly := testSatisfier([]string{k1, k2})
	schnorrOnly.SignECDSA = nil

	for _, body := range []string{
		"elpkh(" + k1 + ")",
		"elwpkh(" + k1 + ")",
		"elsh(wpkh(" + k1 + "))",
		"elwsh(sortedmulti(1," + k1 + "," + k2 + "))",
		"elcovwsh(" + k1 + ",ver_eq(2))",
	} {
		d := parseDesc(t, body)
		_, _, err := d.GetSatisfaction(schnorrOnly)
		require.ErrorIs(t, err, miniscript.ErrNoSatisfaction, body)
	}

	// The schnorr signer still serves the taproot key path.
	witness, scriptSig, err := parseDesc(t,
		"eltr("+k1+")").GetSatisfaction(schnorrOnly)
	require.NoError(t, err)
	require.Nil(t, scriptSig)
	require.Equal(t, wire.TxWitness{fakeSig(0, 65)}, witness)

	ecdsaOnly := testSatisfier([]string{k1, k2})
	ecdsaOnly.SignSchnorr = nil
	_, _, err = parseDesc(t,
		"eltr("+k1+",pk("+k2+"))").GetSatisfaction(ecdsaOnly)
	require.ErrorIs(t, err, miniscript.ErrNoSatisfaction)
}

func TestSatisfyTxInput(t *testing.T) {
	k1 := testKey(t, 0)

	d := parseDesc(t, "elsh(wpkh("+k1+"))")
	txIn := &transaction.TxInput{}
	require.NoError(t, Satisfy(d, testSatisfier([]string{k1}), txIn))

	require.Equal(t,
		transaction.TxWitness{fakeSig(0, 71), rawKey(t, k1)},
		txIn.Witness,
	)
	expected, err := d.UnsignedScriptSig()
	require.NoError(t, err)
	require.Equal(t, expected, txIn.Script)

	err = Satisfy(d, testSatisfier(nil), txIn)
	require.ErrorIs(t, err, miniscript.ErrNoSatisfaction)
}

func TestSatisfyMalleable(t *testing.T) {
	preimage1 := bytes.Repeat([]byte{0x01}, 32)
	preimage2 := bytes.Repeat([]byte{0x02}, 32)
	hash1 := sha256.Sum256(preimage1)
	hash2 := sha256.Sum256(preimage2)

	// Both branches are signature-free: a third party holding the
	// preimages could swap the branch selector.
	expr := fmt.Sprintf("elwsh(or_i(sha256(%x),sha256(%x)))", hash1, hash2)
	d := parseDesc(t, expr)

	satisfier := testSatisfier(nil)
	satisfier.Preimage = func(hashFunc string, hash []byte) ([]byte, bool) {
		switch hex.EncodeToString(hash) {
		case hex.EncodeToString(hash1[:]):
			return preimage1, true
		case hex.EncodeToString(hash2[:]):
			return preimage2, true
		}
		return nil, false
	}

	_, _, err := d.GetSatisfaction(satisfier)
	require.ErrorIs(t, err, miniscript.ErrMalleable)

	// Branch selector, preimage and witness script.
	witness, scriptSig, err := d.GetSatisfactionMalleable(satisfier)
	require.NoError(t, err)
	require.Nil(t, scriptSig)
	require.Len(t, witness, 3)
}
