package descriptor

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

const (
	// The BIP86 test vector account xpub, master fingerprint 73c5da0a.
	bip86Xpub = "xpub6BgBgsespWvERF3LHQu6CnqdvfEvtMcQjYrcRzx53QJjSxarj2afY" +
		"WcLteoGVky7D3UKDP9QyrLprQ3VCECoY49yfdDEHGCtMMj92pReUsQ"

	compressedG = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f281" +
		"5b16f81798"
	xOnlyG = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f8" +
		"1798"
	uncompressedG = "0479be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2" +
		"815b16f81798483ada7726a3c4655da4fbfc0e1108a8fd17b448a68554199c47d" +
		"08ffb10d4b8"

	// WIF of the private key 1, compressed.
	wifOne = "KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn"
)

func TestParsePublicKeyRoundTrip(t *testing.T) {
	roundTrips := []string{
		compressedG,
		xOnlyG,
		uncompressedG,
		"[deadbeef]" + compressedG,
		"[deadbeef/44'/0'/1]" + compressedG,
		bip86Xpub,
		bip86Xpub + "/0/1",
		bip86Xpub + "/0/*",
		bip86Xpub + "/0'/*'",
		bip86Xpub + "/<0;1>/*",
		bip86Xpub + "/44'/<7';8';20>/*",
		"[73c5da0a/86'/0'/0']" + bip86Xpub + "/0/*",
	}
	for _, s := range roundTrips {
		s := s
		t.Run(s, func(t *testing.T) {
			key, err := ParsePublicKey(s)
			require.NoError(t, err)
			require.Equal(t, s, key.String())
		})
	}

	// The hardened markers h and H normalize to the apostrophe.
	key, err := ParsePublicKey(bip86Xpub + "/44h/8H/<7h;9>/*h")
	require.NoError(t, err)
	require.Equal(t, bip86Xpub+"/44'/8'/<7';9>/*'", key.String())
}

func TestParsePublicKeyProperties(t *testing.T) {
	key, err := ParsePublicKey(compressedG)
	require.NoError(t, err)
	require.False(t, key.HasWildcard())
	require.False(t, key.IsXOnly())
	require.False(t, key.IsUncompressed())
	require.Equal(t, 1, key.NumDerivationPaths())
	raw, err := key.RawPubKey()
	require.NoError(t, err)
	require.Equal(t, compressedG, hex.EncodeToString(raw))

	xOnly, err := ParsePublicKey(xOnlyG)
	require.NoError(t, err)
	require.True(t, xOnly.IsXOnly())

	uncompressed, err := ParsePublicKey(uncompressedG)
	require.NoError(t, err)
	require.True(t, uncompressed.IsUncompressed())

	wild, err := ParsePublicKey(bip86Xpub + "/0/*")
	require.NoError(t, err)
	require.True(t, wild.HasWildcard())
	_, err = wild.RawPubKey()
	require.Error(t, err)

	multi, err := ParsePublicKey(bip86Xpub + "/<0;1;2>/*")
	require.NoError(t, err)
	require.Equal(t, 3, multi.NumDerivationPaths())
	_, err = multi.RawPubKey()
	require.Error(t, err)
}

func TestParsePublicKeyErrors(t *testing.T) {
	testCases := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not hex", "zz"},
		{"bad length", "0279be66"},
		{"unclosed origin", "[deadbeef" + compressedG},
		{"short fingerprint", "[dead]" + compressedG},
		{"wildcard in origin", "[deadbeef/*]" + compressedG},
		{"multipath in origin", "[deadbeef/<0;1>]" + compressedG},
		{"wildcard not last", bip86Xpub + "/*/0"},
		{"two multipath steps", bip86Xpub + "/<0;1>/<2;3>/*"},
		{"single alternative", bip86Xpub + "/<0>/*"},
		{"duplicate alternative", bip86Xpub + "/<1;1>/*"},
		{"index too large", bip86Xpub + "/2147483648"},
		{"private key material", "xprv9s21ZrQH143K4CTb63EaMxja1YiTnSEWKMb" +
			"n23uoEnAzxjdUJRQkazCAtzxGm4LSoTSVTptoV9RbchnKPW9HxKtZumdyxyi" +
			"kZFDLhogJ5Uj"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePublicKey(tc.key)
			require.Error(t, err)
		})
	}
}

func TestMasterFingerprint(t *testing.T) {
	key, err := ParsePublicKey("[a12b02f4/44'/0'/0']" + bip86Xpub)
	require.NoError(t, err)
	require.Equal(t, [4]byte{0xa1, 0x2b, 0x02, 0xf4},
		key.MasterFingerprint())

	// Without an origin the key is its own master.
	plain, err := ParsePublicKey(compressedG)
	require.NoError(t, err)
	raw, err := hex.DecodeString(compressedG)
	require.NoError(t, err)
	var expected [4]byte
	copy(expected[:], btcutil.Hash160(raw))
	require.Equal(t, expected, plain.MasterFingerprint())
}

func TestAtDerivationIndex(t *testing.T) {
	key, err := ParsePublicKey(bip86Xpub + "/0/*")
	require.NoError(t, err)

	definite, err := key.AtDerivationIndex(5)
	require.NoError(t, err)
	require.Equal(t, bip86Xpub+"/0/5", definite.String())
	require.False(t, definite.HasWildcard())
	// The original key is unchanged.
	require.Equal(t, bip86Xpub+"/0/*", key.String())

	// A hardened wildcard derives a hardened step, which public key
	// material cannot follow.
	hardened, err := ParsePublicKey(bip86Xpub + "/0/*'")
	require.NoError(t, err)
	definite, err = hardened.AtDerivationIndex(5)
	require.NoError(t, err)
	require.Equal(t, bip86Xpub+"/0/5'", definite.String())
	_, err = definite.DerivePublicKey()
	require.ErrorIs(t, err, ErrHardenedDerivation)

	_, err = key.AtDerivationIndex(1 << 31)
	require.ErrorIs(t, err, ErrHardenedIndex)

	multi, err := ParsePublicKey(bip86Xpub + "/<0;1>/*")
	require.NoError(t, err)
	_, err = multi.AtDerivationIndex(0)
	require.Error(t, err)

	// Keys without a wildcard are already definite.
	plain, err := ParsePublicKey(compressedG)
	require.NoError(t, err)
	definite, err = plain.AtDerivationIndex(7)
	require.NoError(t, err)
	require.Equal(t, compressedG, definite.String())
}

func TestDerivePublicKey(t *testing.T) {
	// BIP86 external key 0: m/86'/0'/0'/0/0.
	key, err := ParsePublicKey(bip86Xpub + "/0/0")
	require.NoError(t, err)
	definite, err := key.AtDerivationIndex(0)
	require.NoError(t, err)
	pub, err := definite.DerivePublicKey()
	require.NoError(t, err)
	require.Equal(t,
		"03cc8a4bc64d897bddc5fbc2f670f7a8ba0b386779106cf1223c6fc5d7cd6f"+
			"c115",
		hex.EncodeToString(pub.SerializeCompressed()),
	)

	// X-only keys lift with the even-y convention.
	xOnly, err := ParsePublicKey(xOnlyG)
	require.NoError(t, err)
	definite, err = xOnly.AtDerivationIndex(0)
	require.NoError(t, err)
	pub, err = definite.DerivePublicKey()
	require.NoError(t, err)
	require.Equal(t, compressedG,
		hex.EncodeToString(pub.SerializeCompressed()))
}

func TestSecretKey(t *testing.T) {
	// A WIF key goes public as its compressed hex form.
	secret, err := ParseSecretKey(wifOne)
	require.NoError(t, err)
	require.Equal(t, wifOne, secret.String())
	pub, err := secret.ToPublic()
	require.NoError(t, err)
	require.Equal(t, compressedG, pub.String())

	// Public key material is not a secret key.
	_, err = ParseSecretKey(bip86Xpub)
	require.Error(t, err)
	_, err = ParseSecretKey(compressedG)
	require.Error(t, err)
}

func TestSecretKeyToPublic(t *testing.T) {
	xprv := "xprv9s21ZrQH143K4CTb63EaMxja1YiTnSEWKMbn23uoEnAzxjdUJRQkazCA" +
		"tzxGm4LSoTSVTptoV9RbchnKPW9HxKtZumdyxyikZFDLhogJ5Uj"

	// The hardened prefix is derived away and recorded in the origin,
	// the unhardened suffix and the wildcard stay.
	secret, err := ParseSecretKey(xprv + "/44'/0'/0'/0/*")
	require.NoError(t, err)
	pub, err := secret.ToPublic()
	require.NoError(t, err)
	require.Equal(t,
		"[a12b02f4/44'/0'/0']xpub6BzhLAQUDcBUfHRQHZxDF2AbcJqp4Kaeq6bzJ"+
			"pXrjrWuK26ymTFwkEFbxPra2bJ7yeZKbDjfDeFwxe93JMqpo5SsPJH6dZd"+
			"vV9kMzJkAZ69/0/*",
		pub.String(),
	)

	// A multipath step inside the hardened prefix cannot be derived.
	secret, err = ParseSecretKey(xprv + "/<44';45'>/0'/*")
	require.NoError(t, err)
	_, err = secret.ToPublic()
	require.Error(t, err)
}
