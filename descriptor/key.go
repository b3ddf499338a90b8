package descriptor

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// hardenedBit marks a hardened child index inside a derivation path step.
const hardenedBit = hdkeychain.HardenedKeyStart

// pathStep is one step of a derivation path. A step usually carries a single
// child index; a BIP389 multipath step carries one alternative per derivation
// path of the key.
type pathStep struct {
	indices []uint32
}

func (s pathStep) String() string {
	if len(s.indices) == 1 {
		return childIndexString(s.indices[0])
	}
	alts := make([]string, len(s.indices))
	for i, idx := range s.indices {
		alts[i] = childIndexString(idx)
	}
	return "<" + strings.Join(alts, ";") + ">"
}

func childIndexString(idx uint32) string {
	if idx >= hardenedBit {
		return strconv.FormatUint(uint64(idx-hardenedBit), 10) + "'"
	}
	return strconv.FormatUint(uint64(idx), 10)
}

func pathString(path []pathStep) string {
	var b strings.Builder
	for _, step := range path {
		b.WriteByte('/')
		b.WriteString(step.String())
	}
	return b.String()
}

// parseChildIndex parses a single child index with an optional hardened
// marker (', h or H).
func parseChildIndex(s string) (uint32, error) {
	hardened := false
	switch {
	case strings.HasSuffix(s, "'"), strings.HasSuffix(s, "h"),
		strings.HasSuffix(s, "H"):
		hardened = true
		s = s[:len(s)-1]
	}
	idx, err := strconv.ParseUint(s, 10, 32)
	if err != nil || idx >= uint64(hardenedBit) {
		return 0, fmt.Errorf("%w: invalid child index %q", ErrBadKey, s)
	}
	if hardened {
		idx += uint64(hardenedBit)
	}
	return uint32(idx), nil
}

// parsePath parses the slash separated steps after an extended key, without
// the leading slash. At most one multipath step is accepted and a trailing
// wildcard step is split off.
func parsePath(s string) ([]pathStep, Wildcard, error) {
	if s == "" {
		return nil, WildcardNone, nil
	}
	wildcard := WildcardNone
	var path []pathStep
	sawMultipath := false
	segments := strings.Split(s, "/")
	for i, seg := range segments {
		switch seg {
		case "*":
			if i != len(segments)-1 {
				return nil, 0, fmt.Errorf(
					"%w: wildcard must be the last step", ErrBadKey,
				)
			}
			wildcard = WildcardUnhardened
			continue
		case "*'", "*h", "*H":
			if i != len(segments)-1 {
				return nil, 0, fmt.Errorf(
					"%w: wildcard must be the last step", ErrBadKey,
				)
			}
			wildcard = WildcardHardened
			continue
		}
		if strings.HasPrefix(seg, "<") {
			if !strings.HasSuffix(seg, ">") {
				return nil, 0, fmt.Errorf(
					"%w: unclosed multipath step %q", ErrBadKey, seg,
				)
			}
			if sawMultipath {
				return nil, 0, fmt.Errorf(
					"%w: only one multipath step is allowed", ErrBadKey,
				)
			}
			sawMultipath = true
			alts := strings.Split(seg[1:len(seg)-1], ";")
			if len(alts) < 2 {
				return nil, 0, fmt.Errorf(
					"%w: multipath step needs at least two "+
						"alternatives", ErrBadKey,
				)
			}
			step := pathStep{indices: make([]uint32, 0, len(alts))}
			seen := make(map[uint32]struct{}, len(alts))
			for _, alt := range alts {
				idx, err := parseChildIndex(alt)
				if err != nil {
					return nil, 0, err
				}
				if _, ok := seen[idx]; ok {
					return nil, 0, fmt.Errorf(
						"%w: duplicate multipath index %q",
						ErrBadKey, alt,
					)
				}
				seen[idx] = struct{}{}
				step.indices = append(step.indices, idx)
			}
			path = append(path, step)
			continue
		}
		idx, err := parseChildIndex(seg)
		if err != nil {
			return nil, 0, err
		}
		path = append(path, pathStep{indices: []uint32{idx}})
	}
	return path, wildcard, nil
}

// Wildcard is the kind of wildcard step a descriptor key ends in.
type Wildcard int

const (
	WildcardNone Wildcard = iota
	WildcardUnhardened
	WildcardHardened
)

// KeyOrigin is the BIP32 provenance of a key: the fingerprint of the master
// key and the derivation path from it to the key.
type KeyOrigin struct {
	Fingerprint [4]byte
	Path        []pathStep
}

func (o *KeyOrigin) String() string {
	return "[" + hex.EncodeToString(o.Fingerprint[:]) +
		pathString(o.Path) + "]"
}

// splitOrigin splits an optional leading [fingerprint/path] block off a key
// expression.
func splitOrigin(s string) (*KeyOrigin, string, error) {
	if !strings.HasPrefix(s, "[") {
		return nil, s, nil
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return nil, "", fmt.Errorf("%w: unclosed key origin", ErrBadKey)
	}
	inner, rest := s[1:end], s[end+1:]

	fpHex := inner
	pathStr := ""
	if slash := strings.IndexByte(inner, '/'); slash >= 0 {
		fpHex, pathStr = inner[:slash], inner[slash+1:]
	}
	raw, err := hex.DecodeString(fpHex)
	if err != nil || len(raw) != 4 {
		return nil, "", fmt.Errorf(
			"%w: origin fingerprint must be 4 bytes", ErrBadKey,
		)
	}
	origin := &KeyOrigin{}
	copy(origin.Fingerprint[:], raw)
	path, wildcard, err := parsePath(pathStr)
	if err != nil {
		return nil, "", err
	}
	if wildcard != WildcardNone {
		return nil, "", fmt.Errorf(
			"%w: key origin cannot contain a wildcard", ErrBadKey,
		)
	}
	for _, step := range path {
		if len(step.indices) > 1 {
			return nil, "", fmt.Errorf(
				"%w: key origin cannot contain a multipath step",
				ErrBadKey,
			)
		}
	}
	origin.Path = path
	return origin, rest, nil
}

// DescriptorPublicKey is a key expression as it appears in a descriptor:
// either a single concrete public key (compressed, uncompressed or x-only
// hex) or an extended public key with a derivation path, an optional
// wildcard and optionally several BIP389 derivation paths. Both forms can
// carry a key origin.
type DescriptorPublicKey struct {
	Origin *KeyOrigin

	key      []byte
	xkey     *hdkeychain.ExtendedKey
	path     []pathStep
	wildcard Wildcard
}

// ParsePublicKey parses a descriptor key expression. Private keys are
// rejected here, use ParseSecretKey for expressions carrying secrets.
func ParsePublicKey(token string) (*DescriptorPublicKey, error) {
	origin, rest, err := splitOrigin(token)
	if err != nil {
		return nil, err
	}
	if rest == "" {
		return nil, fmt.Errorf("%w: empty key expression", ErrBadKey)
	}

	// A single concrete key has no derivation steps.
	if !strings.Contains(rest, "/") {
		if raw, err := hex.DecodeString(rest); err == nil {
			key, err := parseRawKey(raw)
			if err != nil {
				return nil, err
			}
			return &DescriptorPublicKey{Origin: origin, key: key}, nil
		}
	}

	xkeyStr := rest
	pathStr := ""
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		xkeyStr, pathStr = rest[:slash], rest[slash+1:]
	}
	xkey, err := hdkeychain.NewKeyFromString(xkeyStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if xkey.IsPrivate() {
		return nil, fmt.Errorf(
			"%w: private key in public key expression", ErrBadKey,
		)
	}
	path, wildcard, err := parsePath(pathStr)
	if err != nil {
		return nil, err
	}
	return &DescriptorPublicKey{
		Origin:   origin,
		xkey:     xkey,
		path:     path,
		wildcard: wildcard,
	}, nil
}

func parseRawKey(raw []byte) ([]byte, error) {
	switch len(raw) {
	case 32:
		if _, err := schnorr.ParsePubKey(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
		}
	case 33, 65:
		if _, err := btcec.ParsePubKey(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
		}
	default:
		return nil, fmt.Errorf(
			"%w: invalid public key length %d", ErrBadKey, len(raw),
		)
	}
	return raw, nil
}

// String returns the canonical descriptor form of the key.
func (k *DescriptorPublicKey) String() string {
	var b strings.Builder
	if k.Origin != nil {
		b.WriteString(k.Origin.String())
	}
	if k.xkey == nil {
		b.WriteString(hex.EncodeToString(k.key))
		return b.String()
	}
	b.WriteString(k.xkey.String())
	b.WriteString(pathString(k.path))
	switch k.wildcard {
	case WildcardUnhardened:
		b.WriteString("/*")
	case WildcardHardened:
		b.WriteString("/*'")
	}
	return b.String()
}

// HasWildcard reports whether the key ends in a wildcard derivation step.
func (k *DescriptorPublicKey) HasWildcard() bool {
	return k.wildcard != WildcardNone
}

// NumDerivationPaths returns the number of BIP389 derivation paths, 1 for
// keys without a multipath step.
func (k *DescriptorPublicKey) NumDerivationPaths() int {
	for _, step := range k.path {
		if len(step.indices) > 1 {
			return len(step.indices)
		}
	}
	return 1
}

// IsXOnly reports whether the key is a single 32 byte x-only key.
func (k *DescriptorPublicKey) IsXOnly() bool {
	return k.xkey == nil && len(k.key) == 32
}

// IsUncompressed reports whether the key is a single 65 byte uncompressed
// key.
func (k *DescriptorPublicKey) IsUncompressed() bool {
	return k.xkey == nil && len(k.key) == 65
}

// MasterFingerprint returns the fingerprint of the key's master: the origin
// fingerprint when an origin is present, otherwise the key's own.
func (k *DescriptorPublicKey) MasterFingerprint() [4]byte {
	if k.Origin != nil {
		return k.Origin.Fingerprint
	}
	var fp [4]byte
	if k.xkey != nil {
		if pub, err := k.xkey.ECPubKey(); err == nil {
			copy(fp[:], btcutil.Hash160(pub.SerializeCompressed()))
		}
		return fp
	}
	raw := k.key
	if len(raw) == 32 {
		raw = append([]byte{0x02}, raw...)
	}
	copy(fp[:], btcutil.Hash160(raw))
	return fp
}

func (k *DescriptorPublicKey) clone() *DescriptorPublicKey {
	out := &DescriptorPublicKey{
		Origin:   k.Origin,
		key:      k.key,
		xkey:     k.xkey,
		wildcard: k.wildcard,
	}
	out.path = make([]pathStep, len(k.path))
	copy(out.path, k.path)
	return out
}

// atPathIndex collapses a multipath step to its n-th alternative.
func (k *DescriptorPublicKey) atPathIndex(n int) *DescriptorPublicKey {
	out := k.clone()
	for i, step := range out.path {
		if len(step.indices) > 1 {
			out.path[i] = pathStep{indices: []uint32{step.indices[n]}}
			break
		}
	}
	return out
}

// AtDerivationIndex replaces a wildcard step with the concrete unhardened
// index, yielding a key that can be derived. Multipath keys must be split
// into their single path keys first.
func (k *DescriptorPublicKey) AtDerivationIndex(index uint32,
) (*DefiniteDescriptorKey, error) {

	if index >= hardenedBit {
		return nil, fmt.Errorf("%w: %d", ErrHardenedIndex, index)
	}
	if k.NumDerivationPaths() > 1 {
		return nil, fmt.Errorf(
			"%w: cannot derive a multipath key", ErrBadKey,
		)
	}
	out := k.clone()
	if out.xkey != nil && out.wildcard != WildcardNone {
		idx := index
		if out.wildcard == WildcardHardened {
			idx += hardenedBit
		}
		out.path = append(out.path, pathStep{indices: []uint32{idx}})
		out.wildcard = WildcardNone
	}
	return &DefiniteDescriptorKey{DescriptorPublicKey: *out}, nil
}

// RawPubKey returns the serialized public key. It fails for wildcard and
// multipath keys, which do not name a concrete key yet, and for extended
// keys whose path contains a hardened step.
func (k *DescriptorPublicKey) RawPubKey() ([]byte, error) {
	if k.HasWildcard() {
		return nil, fmt.Errorf(
			"%w: wildcard key has no concrete public key", ErrBadKey,
		)
	}
	if k.NumDerivationPaths() > 1 {
		return nil, fmt.Errorf(
			"%w: multipath key has no concrete public key", ErrBadKey,
		)
	}
	if k.xkey == nil {
		return k.key, nil
	}
	pub, err := k.derive()
	if err != nil {
		return nil, err
	}
	return pub.SerializeCompressed(), nil
}

func (k *DescriptorPublicKey) derive() (*btcec.PublicKey, error) {
	xk := k.xkey
	for _, step := range k.path {
		idx := step.indices[0]
		if idx >= hardenedBit && !xk.IsPrivate() {
			return nil, fmt.Errorf(
				"%w: step %s", ErrHardenedDerivation, step,
			)
		}
		child, err := xk.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
		}
		xk = child
	}
	return xk.ECPubKey()
}

// DefiniteDescriptorKey is a descriptor key with no wildcard left: it names
// exactly one public key.
type DefiniteDescriptorKey struct {
	DescriptorPublicKey
}

// DerivePublicKey derives the concrete public key. X-only keys are lifted
// with the even-y convention.
func (k *DefiniteDescriptorKey) DerivePublicKey() (*btcec.PublicKey, error) {
	if k.xkey == nil {
		if len(k.key) == 32 {
			return schnorr.ParsePubKey(k.key)
		}
		return btcec.ParsePubKey(k.key)
	}
	return k.derive()
}

// DescriptorSecretKey is the secret counterpart of DescriptorPublicKey: a
// single WIF encoded key or an extended private key with a derivation path
// and optional wildcard.
type DescriptorSecretKey struct {
	Origin *KeyOrigin

	wif      *btcutil.WIF
	xkey     *hdkeychain.ExtendedKey
	path     []pathStep
	wildcard Wildcard
}

// ParseSecretKey parses a key expression carrying private key material.
func ParseSecretKey(token string) (*DescriptorSecretKey, error) {
	origin, rest, err := splitOrigin(token)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(rest, "/") {
		if wif, err := btcutil.DecodeWIF(rest); err == nil {
			return &DescriptorSecretKey{Origin: origin, wif: wif}, nil
		}
	}
	xkeyStr := rest
	pathStr := ""
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		xkeyStr, pathStr = rest[:slash], rest[slash+1:]
	}
	xkey, err := hdkeychain.NewKeyFromString(xkeyStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if !xkey.IsPrivate() {
		return nil, fmt.Errorf(
			"%w: expected private key material", ErrBadKey,
		)
	}
	path, wildcard, err := parsePath(pathStr)
	if err != nil {
		return nil, err
	}
	return &DescriptorSecretKey{
		Origin:   origin,
		xkey:     xkey,
		path:     path,
		wildcard: wildcard,
	}, nil
}

// String returns the descriptor form of the secret key.
func (k *DescriptorSecretKey) String() string {
	var b strings.Builder
	if k.Origin != nil {
		b.WriteString(k.Origin.String())
	}
	if k.wif != nil {
		b.WriteString(k.wif.String())
		return b.String()
	}
	b.WriteString(k.xkey.String())
	b.WriteString(pathString(k.path))
	switch k.wildcard {
	case WildcardUnhardened:
		b.WriteString("/*")
	case WildcardHardened:
		b.WriteString("/*'")
	}
	return b.String()
}

// ToPublic derives the public key expression that corresponds to this
// secret key. For extended keys the hardened prefix of the path is derived
// away and recorded in the key origin, keeping only the unhardened suffix.
func (k *DescriptorSecretKey) ToPublic() (*DescriptorPublicKey, error) {
	if k.wif != nil {
		pub := k.wif.PrivKey.PubKey()
		return &DescriptorPublicKey{
			Origin: k.Origin,
			key:    pub.SerializeCompressed(),
		}, nil
	}

	// Find the last hardened step. Everything up to and including it is
	// derived with the private key; the rest stays in the path.
	lastHardened := -1
	for i, step := range k.path {
		if len(step.indices) > 1 {
			continue
		}
		if step.indices[0] >= hardenedBit {
			lastHardened = i
		}
	}
	prefix, suffix := k.path[:lastHardened+1], k.path[lastHardened+1:]
	for _, step := range prefix {
		if len(step.indices) > 1 {
			return nil, fmt.Errorf(
				"%w: multipath step in hardened prefix", ErrBadKey,
			)
		}
	}

	var fingerprint [4]byte
	if k.Origin != nil {
		fingerprint = k.Origin.Fingerprint
	} else {
		pub, err := k.xkey.ECPubKey()
		if err != nil {
			return nil, err
		}
		copy(fingerprint[:], btcutil.Hash160(pub.SerializeCompressed()))
	}

	xk := k.xkey
	for _, step := range prefix {
		child, err := xk.Derive(step.indices[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
		}
		xk = child
	}
	xpub, err := xk.Neuter()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}

	var origin *KeyOrigin
	if len(prefix) > 0 || k.Origin != nil {
		origin = &KeyOrigin{Fingerprint: fingerprint}
		if k.Origin != nil {
			origin.Path = append(origin.Path, k.Origin.Path...)
		}
		origin.Path = append(origin.Path, prefix...)
	}

	outPath := make([]pathStep, len(suffix))
	copy(outPath, suffix)
	return &DescriptorPublicKey{
		Origin:   origin,
		xkey:     xpub,
		path:     outPath,
		wildcard: k.wildcard,
	}, nil
}

// KeyMap maps the canonical public form of a key to its secret key. It is
// filled by ParseWithSecrets and consumed by StringWithSecrets.
type KeyMap map[string]*DescriptorSecretKey
