package miniscript

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// Extension is a leaf fragment beyond the core miniscript language, e.g. the
// Elements introspection covenants. Extension leaves take no witness data:
// they are transaction-level checks that either pass or abort, like the
// timelock fragments.
type Extension interface {
	// String returns the canonical text form of the fragment, including
	// its arguments, e.g. `ver_eq(2)`.
	String() string

	// ScriptLen is the encoded script length of the fragment.
	ScriptLen() int

	// OpCount is the number of non-push opcodes the fragment emits.
	OpCount() int

	// BuildScript appends the fragment's opcodes to the script.
	BuildScript(b *txscript.ScriptBuilder)

	// ScriptStr returns a human-readable script rendering for debugging.
	ScriptStr() string
}

// ExtParser recognizes extension fragments while an expression is parsed. An
// implementation gets the identifier and the raw argument tokens of every
// fragment the core language does not know.
type ExtParser interface {
	// ParseExt parses an extension fragment. It must return an error
	// wrapping ErrUnknownFragment if the identifier is not one of its
	// fragments.
	ParseExt(name string, args []string) (Extension, error)
}

// NoExt is the ExtParser that recognizes no extension fragments.
type NoExt struct{}

// ParseExt rejects every fragment.
func (NoExt) ParseExt(name string, args []string) (Extension, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnknownFragment, name)
}

// ExtTranslator rewrites extension leaves, analogous to Translator for keys.
type ExtTranslator interface {
	Ext(ext Extension) (Extension, error)
}

// TranslateExt returns a copy of the expression with every extension leaf
// rewritten through the translator. Expressions without extension leaves are
// copied unchanged.
func (a *AST[Pk]) TranslateExt(t ExtTranslator) (*AST[Pk], error) {
	node, err := translateNode[Pk, Pk](a, identityTranslator[Pk]{})
	if err != nil {
		return nil, err
	}
	_, err = node.apply(func(n *AST[Pk]) (*AST[Pk], error) {
		if n.ext == nil {
			return n, nil
		}
		ext, err := t.Ext(n.ext)
		if err != nil {
			return nil, err
		}
		n.ext = ext
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	if err := node.analyze(); err != nil {
		return nil, err
	}
	return node, nil
}

// identityTranslator copies keys and hashes unchanged.
type identityTranslator[Pk Key] struct {
	CloneHashes
}

func (identityTranslator[Pk]) Pk(key Pk) (Pk, error) {
	return key, nil
}
