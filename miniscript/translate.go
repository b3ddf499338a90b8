package miniscript

// Translator converts the keys of an expression from one representation to
// another, e.g. from descriptor keys to derived concrete keys. The hash
// methods allow rewriting the hash-leaf payloads alongside; embed CloneHashes
// when the hashes should pass through unchanged.
type Translator[P, Q Key] interface {
	// Pk translates a single key.
	Pk(key P) (Q, error)

	// Sha256, Hash256, Ripemd160 and Hash160 translate the payloads of
	// the corresponding hash fragments.
	Sha256(hash []byte) ([]byte, error)
	Hash256(hash []byte) ([]byte, error)
	Ripemd160(hash []byte) ([]byte, error)
	Hash160(hash []byte) ([]byte, error)
}

// CloneHashes provides identity implementations of the hash methods of
// Translator, for translators that only rewrite keys.
type CloneHashes struct{}

func (CloneHashes) Sha256(hash []byte) ([]byte, error)    { return hash, nil }
func (CloneHashes) Hash256(hash []byte) ([]byte, error)   { return hash, nil }
func (CloneHashes) Ripemd160(hash []byte) ([]byte, error) { return hash, nil }
func (CloneHashes) Hash160(hash []byte) ([]byte, error)   { return hash, nil }

// TranslateNode returns a structurally identical expression with every key
// and hash leaf rewritten through the translator. The semantic analysis is
// recomputed on the result, so type errors introduced by a translation (e.g.
// a key that no longer fits the context) surface here.
func TranslateNode[P, Q Key](node *AST[P], t Translator[P, Q]) (*AST[Q],
	error) {

	out, err := translateNode(node, t)
	if err != nil {
		return nil, err
	}
	if err := out.analyze(); err != nil {
		return nil, err
	}
	return out, nil
}

func translateNode[P, Q Key](node *AST[P], t Translator[P, Q]) (*AST[Q],
	error) {

	out := &AST[Q]{
		ctx:        node.ctx,
		wrappers:   node.wrappers,
		identifier: node.identifier,
		sugar:      node.sugar,
		num:        node.num,
		ext:        node.ext,
	}
	if node.value != nil {
		out.value = append([]byte{}, node.value...)
	}
	if node.keySet {
		key, err := t.Pk(node.key)
		if err != nil {
			return nil, err
		}
		out.key = key
		out.keySet = true
	}
	for _, arg := range node.args {
		newArg, err := translateNode(arg, t)
		if err != nil {
			return nil, err
		}
		out.args = append(out.args, newArg)
	}

	// Hash leaves are rewritten from the parent, which knows the hash
	// function.
	var hashFn func([]byte) ([]byte, error)
	switch node.identifier {
	case f_sha256:
		hashFn = t.Sha256
	case f_hash256:
		hashFn = t.Hash256
	case f_ripemd160:
		hashFn = t.Ripemd160
	case f_hash160:
		hashFn = t.Hash160
	}
	if hashFn != nil && len(out.args) == 1 && out.args[0].value != nil {
		value, err := hashFn(out.args[0].value)
		if err != nil {
			return nil, err
		}
		out.args[0].value = value
	}

	return out, nil
}
