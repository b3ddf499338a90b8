package descriptor

import (
	"fmt"
	"strings"
)

// DescriptorType is the structural classification of a descriptor.
type DescriptorType int

const (
	// TypeBare is a raw script, e.g. elpk(KEY).
	TypeBare DescriptorType = iota

	// TypePkh is pay-to-pubkey-hash.
	TypePkh

	// TypeWpkh is native segwit v0 pay-to-witness-pubkey-hash.
	TypeWpkh

	// TypeSh is pay-to-script-hash over a plain script.
	TypeSh

	// TypeWsh is native segwit v0 pay-to-witness-script-hash.
	TypeWsh

	// TypeShWsh is p2wsh nested in p2sh.
	TypeShWsh

	// TypeShWpkh is p2wpkh nested in p2sh.
	TypeShWpkh

	// TypeShSortedMulti is a sortedmulti redeem script in p2sh.
	TypeShSortedMulti

	// TypeShWshSortedMulti is a sortedmulti witness script in p2wsh
	// nested in p2sh.
	TypeShWshSortedMulti

	// TypeWshSortedMulti is a sortedmulti witness script in native p2wsh.
	TypeWshSortedMulti

	// TypeTr is a taproot output, with or without a script tree.
	TypeTr

	// TypeCov is a CSFS style covenant in p2wsh.
	TypeCov

	// TypeLegacyPegin is a pre-dynafed pegin descriptor. Pegins are only
	// classified here, resolving them to a claim descriptor is out of
	// scope.
	TypeLegacyPegin

	// TypePegin is a dynafed pegin descriptor, classified only.
	TypePegin
)

func (t DescriptorType) String() string {
	switch t {
	case TypeBare:
		return "bare"
	case TypePkh:
		return "pkh"
	case TypeWpkh:
		return "wpkh"
	case TypeSh:
		return "sh"
	case TypeWsh:
		return "wsh"
	case TypeShWsh:
		return "sh(wsh)"
	case TypeShWpkh:
		return "sh(wpkh)"
	case TypeShSortedMulti:
		return "sh(sortedmulti)"
	case TypeShWshSortedMulti:
		return "sh(wsh(sortedmulti))"
	case TypeWshSortedMulti:
		return "wsh(sortedmulti)"
	case TypeTr:
		return "tr"
	case TypeCov:
		return "covwsh"
	case TypeLegacyPegin:
		return "legacy_pegin"
	case TypePegin:
		return "pegin"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// descTypeRules classifies a descriptor body (without the `el` prefix) by
// template prefix. The table is ordered most specific first, so that e.g.
// sh(wsh(sortedmulti( matches before sh(wsh(.
var descTypeRules = []struct {
	prefix string
	typ    DescriptorType
}{
	{"sh(wsh(sortedmulti(", TypeShWshSortedMulti},
	{"sh(wsh(", TypeShWsh},
	{"sh(wpkh(", TypeShWpkh},
	{"sh(sortedmulti(", TypeShSortedMulti},
	{"sh(", TypeSh},
	{"wsh(sortedmulti(", TypeWshSortedMulti},
	{"wsh(", TypeWsh},
	{"wpkh(", TypeWpkh},
	{"pkh(", TypePkh},
	{"tr(", TypeTr},
	{"covwsh(", TypeCov},
}

func typeFromBody(body string) DescriptorType {
	for _, rule := range descTypeRules {
		if strings.HasPrefix(body, rule.prefix) {
			return rule.typ
		}
	}
	return TypeBare
}

// DescriptorInfo is a cheap classification of a descriptor string.
type DescriptorInfo struct {
	// Type is the template the descriptor matches.
	Type DescriptorType

	// HasSecret reports whether any key expression carries private key
	// material.
	HasSecret bool

	// IsPegin and IsLegacyPegin flag pegin descriptors. These are
	// recognized but not resolved.
	IsPegin       bool
	IsLegacyPegin bool
}

// Info classifies a descriptor string without fully validating the keys of
// pegin templates.
func Info(s string) (*DescriptorInfo, error) {
	body, err := splitChecksum(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}

	info := &DescriptorInfo{}
	switch {
	case strings.HasPrefix(body, "legacy_pegin("):
		info.IsLegacyPegin = true
		info.Type = TypeLegacyPegin
		return info, nil
	case strings.HasPrefix(body, "pegin("):
		info.IsPegin = true
		info.Type = TypePegin
		return info, nil
	}

	if !strings.HasPrefix(body, "el") {
		return nil, fmt.Errorf("%w: %q", ErrNotElements, s)
	}
	info.Type = typeFromBody(body[2:])

	if _, keyMap, err := ParseWithSecrets(s); err == nil {
		info.HasSecret = len(keyMap) > 0
	} else {
		return nil, err
	}
	return info, nil
}
