package descriptor

import "errors"

var (
	// ErrBadDescriptor indicates a string that is not a well formed
	// descriptor, e.g. one missing the element chain prefix or carrying a
	// corrupted checksum.
	ErrBadDescriptor = errors.New("bad descriptor")

	// ErrNotElements indicates a descriptor missing the mandatory `el`
	// prefix that marks Elements descriptors.
	ErrNotElements = errors.New("not an Elements descriptor")

	// ErrBadChecksum indicates a descriptor whose checksum suffix does not
	// match its body.
	ErrBadChecksum = errors.New("invalid descriptor checksum")

	// ErrBadKey indicates a key expression that could not be parsed.
	ErrBadKey = errors.New("invalid descriptor key")

	// ErrMultipathLenMismatch indicates a descriptor containing multipath
	// keys with differing numbers of derivation paths, which BIP389
	// forbids.
	ErrMultipathLenMismatch = errors.New(
		"multipath keys with different number of derivation paths")

	// ErrHardenedIndex indicates a derivation index at or beyond the
	// hardened boundary where an unhardened index is required.
	ErrHardenedIndex = errors.New(
		"derivation index must be below the hardened boundary")

	// ErrHardenedDerivation indicates an attempt to derive a hardened step
	// from an extended public key.
	ErrHardenedDerivation = errors.New(
		"hardened derivation requires the extended private key")

	// ErrNoAddress indicates a descriptor variant that has no standard
	// address form.
	ErrNoAddress = errors.New("Bare descriptors don't have address")

	// ErrIndexNotFound indicates that no derivation index in the searched
	// range produces the wanted output script.
	ErrIndexNotFound = errors.New("no derivation index matches the script")

	// ErrTrNoScript indicates an operation that needs a single underlying
	// script, which taproot descriptors do not have.
	ErrTrNoScript = errors.New(
		"taproot descriptors have no single underlying script")
)
