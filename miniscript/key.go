package miniscript

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Key is the abstract public key an expression is built over. Concrete
// realizations range from plain hex keys to full BIP32 descriptor keys with
// origin info and multipath derivation steps.
//
// Keys are compared by their canonical String() form. RawPubKey returns the
// serialized public key (33 byte compressed or 32 byte x-only) and errors for
// keys that are not concrete yet, e.g. placeholders or underived wildcard
// keys.
type Key interface {
	String() string
	HasWildcard() bool
	NumDerivationPaths() int
	RawPubKey() ([]byte, error)
}

// StringKey is the placeholder realization of Key. It keeps whatever token
// appeared in the expression. RawPubKey only succeeds if the token happens to
// be a hex encoded public key.
type StringKey string

// String returns the raw token.
func (s StringKey) String() string {
	return string(s)
}

// HasWildcard reports whether the token contains a BIP32 wildcard step.
func (s StringKey) HasWildcard() bool {
	return strings.Contains(string(s), "/*")
}

// NumDerivationPaths counts the alternatives of a multipath step like
// `<0;1>`, or 1 if the token has no multipath step.
func (s StringKey) NumDerivationPaths() int {
	start := strings.IndexByte(string(s), '<')
	end := strings.IndexByte(string(s), '>')
	if start == -1 || end == -1 || end < start {
		return 1
	}
	return strings.Count(string(s)[start:end], ";") + 1
}

// RawPubKey decodes the token as a hex public key.
func (s StringKey) RawPubKey() ([]byte, error) {
	raw, err := hex.DecodeString(string(s))
	if err != nil {
		return nil, fmt.Errorf("key %q is not a concrete public key: %w",
			string(s), err)
	}
	switch len(raw) {
	case 32, 33, 65:
		return raw, nil
	default:
		return nil, fmt.Errorf("invalid public key length %d", len(raw))
	}
}

// ParseStringKey is the key parser used when expressions are parsed with
// placeholder keys.
func ParseStringKey(token string) (StringKey, error) {
	if token == "" {
		return "", fmt.Errorf("empty key token")
	}
	return StringKey(token), nil
}

// Context determines the script context an expression is compiled for. The
// context decides the key serialization (compressed vs x-only), the available
// fragments and the resource limits.
type Context int

const (
	// ContextLegacy is for pre-segwit scripts (bare and p2sh). Signatures
	// and keys are pushed in the script sig.
	ContextLegacy Context = iota

	// ContextSegwitv0 is for p2wsh witness scripts.
	ContextSegwitv0

	// ContextTap is for tapscript leaves. Keys are x-only and multi is
	// replaced by multi_a.
	ContextTap
)

func (c Context) String() string {
	switch c {
	case ContextLegacy:
		return "legacy"
	case ContextSegwitv0:
		return "segwitv0"
	case ContextTap:
		return "tap"
	default:
		return fmt.Sprintf("context(%d)", int(c))
	}
}

// keyLen is the serialized length of a public key in this context.
func (c Context) keyLen() int {
	if c == ContextTap {
		return 32
	}
	return 33
}

// keyPushLen is the length of a public key data push in this context,
// including the length prefix.
func (c Context) keyPushLen() int {
	return c.keyLen() + 1
}

// maxSigLen is the maximum size of a signature witness element in this
// context, including the sighash flag byte and the element length prefix.
// ECDSA signatures are at most 72 bytes, Schnorr signatures are 64 bytes
// plus an optional sighash byte.
func (c Context) maxSigLen() int {
	if c == ContextTap {
		return 1 + 64 + 1
	}
	return 1 + 72
}

// maxScriptSize is the maximum script size enforced for expressions in this
// context. Legacy redeem scripts are limited to the maximum push size, P2WSH
// witness scripts to the standardness limit. Tapscript has no script size
// limit of its own.
func (c Context) maxScriptSize() int {
	switch c {
	case ContextLegacy:
		return maxLegacyScriptSize
	case ContextSegwitv0:
		return maxStandardP2WSHScriptSize
	default:
		return maxTapscriptSize
	}
}

// encodeKey serializes a key for this context, converting a compressed key to
// x-only under tapscript.
func (c Context) encodeKey(key Key) ([]byte, error) {
	raw, err := key.RawPubKey()
	if err != nil {
		return nil, err
	}
	if c == ContextTap {
		switch len(raw) {
		case 32:
			return raw, nil
		case 33:
			return raw[1:], nil
		default:
			return nil, fmt.Errorf("key %s cannot be used as "+
				"x-only key", key)
		}
	}
	switch len(raw) {
	case 33:
		return raw, nil
	case 65:
		if c == ContextSegwitv0 {
			return nil, fmt.Errorf("uncompressed key %s not "+
				"allowed under segwit", key)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("key %s is not a valid %s key",
			key, c)
	}
}
