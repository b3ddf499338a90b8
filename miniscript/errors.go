package miniscript

import "errors"

var (
	// ErrUnknownFragment is returned when an identifier is not a known
	// miniscript fragment and the configured extension parser does not
	// recognize it either.
	ErrUnknownFragment = errors.New("unknown fragment identifier")

	// ErrUnbalanced is returned when the parentheses or commas of an
	// expression do not form a well-nested tree.
	ErrUnbalanced = errors.New("unbalanced expression")

	// ErrDuplicateKey is returned when the same public key appears more
	// than once in an expression.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrMalleable is returned by sanity checks for expressions that only
	// have malleable satisfactions.
	ErrMalleable = errors.New("malleable")

	// ErrNoSignature is returned by sanity checks for expressions that can
	// be satisfied without any signature.
	ErrNoSignature = errors.New("does not need signature")

	// ErrNoSatisfaction is returned when no satisfaction could be produced
	// for an expression with the given satisfier.
	ErrNoSatisfaction = errors.New("no satisfaction could be found")

	// ErrWrongContext is returned when a fragment is used in a script
	// context that does not support it, e.g. multi under taproot.
	ErrWrongContext = errors.New("fragment not available in this context")
)
