// Package miniscript implements parsing, analysis, script generation and
// satisfaction of miniscript expressions, generic over the key representation
// and over the script context (legacy, segwit v0, tapscript). Expressions may
// carry extension fragments supplied by a pluggable parser.
package miniscript

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// maxLegacyScriptSize is the maximum size of a legacy redeem script,
	// bounded by the maximum script element size.
	maxLegacyScriptSize = 520

	// maxStandardP2WSHScriptSize is the maximum size in bytes of a
	// standard witnessScript.
	maxStandardP2WSHScriptSize = 3600

	// maxTapscriptSize is the maximum size of a script leaf we accept in
	// tapscript, which has no dedicated leaf script limit beyond the
	// overall script size limit.
	maxTapscriptSize = 10000

	// maxOpsPerScript is the maximum number of non-push operations per
	// script.
	maxOpsPerScript = 201

	// multisigMaxKeys is the maximum number of keys in a CHECKMULTISIG.
	multisigMaxKeys = 20

	// multiAMaxKeys is the maximum number of keys in a CHECKSIGADD chain.
	multiAMaxKeys = 999
)

const (
	// All fragment identifiers.

	f_0         = "0"         // 0
	f_1         = "1"         // 1
	f_pk_k      = "pk_k"      // pk_k(key)
	f_pk_h      = "pk_h"      // pk_h(key)
	f_pk        = "pk"        // pk(key) = c:pk_k(key)
	f_pkh       = "pkh"       // pkh(key) = c:pk_h(key)
	f_sha256    = "sha256"    // sha256(h)
	f_ripemd160 = "ripemd160" // ripemd160(h)
	f_hash256   = "hash256"   // hash256(h)
	f_hash160   = "hash160"   // hash160(h)
	f_older     = "older"     // older(n)
	f_after     = "after"     // after(n)
	f_andor     = "andor"     // andor(X,Y,Z)
	f_and_v     = "and_v"     // and_v(X,Y)
	f_and_b     = "and_b"     // and_b(X,Y)
	f_and_n     = "and_n"     // and_n(X,Y) = andor(X,Y,0)
	f_or_b      = "or_b"      // or_b(X,Z)
	f_or_c      = "or_c"      // or_c(X,Z)
	f_or_d      = "or_d"      // or_d(X,Z)
	f_or_i      = "or_i"      // or_i(X,Z)
	f_thresh    = "thresh"    // thresh(k,X1,...,Xn)
	f_multi     = "multi"     // multi(k,key1,...,keyn)
	f_multi_a   = "multi_a"   // multi_a(k,key1,...,keyn), tapscript only
	f_wrap_a    = "a"         // a:X
	f_wrap_s    = "s"         // s:X
	f_wrap_c    = "c"         // c:X
	f_wrap_d    = "d"         // d:X
	f_wrap_v    = "v"         // v:X
	f_wrap_j    = "j"         // j:X
	f_wrap_n    = "n"         // n:X
	f_wrap_t    = "t"         // t:X = and_v(X,1)
	f_wrap_l    = "l"         // l:X = or_i(0,X)
	f_wrap_u    = "u"         // u:X = or_i(X,0)
)

type basicType string

const (
	typeB basicType = "B"
	typeV basicType = "V"
	typeK basicType = "K"
	typeW basicType = "W"
)

type properties struct {
	// Basic type properties.
	z, o, n, d, u bool

	// Malleability properties.
	// If `m`, a non-malleable satisfaction is guaranteed to exist.
	// The purpose of s/f/e is only to compute `m` and can be disregarded
	// afterward.
	m, s, f, e bool

	// canCollapseVerify enables checking if the rightmost script byte
	// produced by this node is OP_EQUAL, OP_CHECKSIG or OP_CHECKMULTISIG.
	//
	// If so, it can be converted into the VERIFY version if an ancestor is
	// the verify wrapper `v`, i.e. OP_EQUALVERIFY, OP_CHECKSIGVERIFY and
	// OP_CHECKMULTISIGVERIFY instead of using two opcodes, e.g.
	// `OP_EQUAL OP_VERIFY`.
	canCollapseVerify bool
}

func (p properties) String() string {
	s := strings.Builder{}
	if p.z {
		s.WriteRune('z')
	}
	if p.o {
		s.WriteRune('o')
	}
	if p.n {
		s.WriteRune('n')
	}
	if p.d {
		s.WriteRune('d')
	}
	if p.u {
		s.WriteRune('u')
	}
	if p.m {
		s.WriteRune('m')
	}
	if p.s {
		s.WriteRune('s')
	}
	if p.f {
		s.WriteRune('f')
	}
	if p.e {
		s.WriteRune('e')
	}
	return s.String()
}

// KeyParser converts a key token of an expression into a concrete key.
type KeyParser[Pk Key] func(token string) (Pk, error)

// AST is the abstract syntax tree representing a miniscript expression.
type AST[Pk Key] struct {
	ctx        Context
	basicType  basicType
	props      properties
	wrappers   string
	identifier string

	// sugar remembers the surface form an expression was written in when
	// the node is the expansion of syntactic sugar (pk, pkh, and_n, t, l,
	// u), so String() can print it back.
	sugar string

	// num is the parsed integer for when identifier is expected to be a
	// number, i.e. the first argument of older/after/multi/thresh. This is
	// not used otherwise.
	num uint64

	// key is set on key argument leaves (the arguments of pk_k, pk_h,
	// multi and multi_a).
	key    Pk
	keySet bool

	// value is set on hash argument leaves: 32 bytes (sha256, hash256) or
	// 20 bytes (ripemd160, hash160).
	value []byte

	// ext is set when the node is an extension leaf recognized by the
	// extension parser the expression was parsed with.
	ext Extension

	args      []*AST[Pk]
	scriptLen int
	opCount   ops
	witSize   witnessSizes
}

// parser carries the configuration of a single Parse call through the AST
// transformations.
type parser[Pk Key] struct {
	ctx      Context
	parseKey KeyParser[Pk]
	ext      ExtParser

	// seenKeys tracks canonical key strings to detect duplicates.
	seenKeys map[string]struct{}
}

// Parse a miniscript expression for the given script context. parseKey
// converts key tokens into concrete keys. ext recognizes extension fragments;
// pass NoExt to reject them.
//
// The resulting node is analyzed but not checked to be a valid script on its
// own. Use IsValidTopLevel or IsSane on the result for that.
//
// The following transformations are applied to the AST in order:
//  1. argCheck: Checks that the nodes have the correct number of arguments
//     and parses number, key and hash arguments.
//  2. expandWrappers: Unwraps the letters before the colon, for example:
//     dv:older(144) is d(v(older(144))).
//  3. deSugar: Miniscript defines several instances of syntactic sugar. We
//     replace these with fixed equations.
//  4. typeCheck: Not all fragments compose with each other to produce a valid
//     script and valid witness. This function checks that and sets the types
//     of the fragments.
//  5. canCollapseVerify: If the rightmost script byte of a node is OP_EQUAL,
//     OP_CHECKSIG or OP_CHECKMULTISIG, it can be converted to the VERIFY
//     variant of the opcode under a `v` wrapper.
//  6. malleabilityCheck: Checks each node if it is malleable (checking that
//     the transaction hash can not be changed without altering the content).
//  7. computeScriptLen: Computes the script length.
//  8. computeOpCount: Counts the opcodes the script contains.
//  9. computeWitnessSizes: Computes upper bounds on the witness size of
//     satisfactions and dissatisfactions.
func Parse[Pk Key](ctx Context, expr string, parseKey KeyParser[Pk],
	ext ExtParser) (*AST[Pk], error) {

	if ext == nil {
		ext = NoExt{}
	}
	p := &parser[Pk]{
		ctx:      ctx,
		parseKey: parseKey,
		ext:      ext,
		seenKeys: make(map[string]struct{}),
	}

	node, err := createAST[Pk](expr)
	if err != nil {
		return nil, err
	}

	transformers := []func(*AST[Pk]) (*AST[Pk], error){
		p.argCheck,
		expandWrappers[Pk],
		deSugar[Pk],
		p.bindContext,
	}
	for _, transform := range transformers {
		node, err = node.apply(transform)
		if err != nil {
			return nil, err
		}
	}
	if err := node.analyze(); err != nil {
		return nil, err
	}
	return node, nil
}

// ParseString parses an expression with placeholder string keys. This is used
// when the structure of an expression matters but the keys need not be
// concrete.
func ParseString(ctx Context, expr string, ext ExtParser) (*AST[StringKey],
	error) {

	return Parse(ctx, expr, ParseStringKey, ext)
}

// analyze runs the semantic passes over a structurally complete tree. It is
// also used to refresh the analysis after key translation.
func (a *AST[Pk]) analyze() error {
	passes := []func(*AST[Pk]) (*AST[Pk], error){
		typeCheck[Pk],
		canCollapseVerify[Pk],
		malleabilityCheck[Pk],
		computeScriptLen[Pk],
		computeOpCount[Pk],
		computeWitnessSizes[Pk],
	}
	for _, pass := range passes {
		if _, err := a.apply(pass); err != nil {
			return err
		}
	}
	return nil
}

// formattedType returns the basic type (B, V, K or W) followed by all type
// properties.
func (a *AST[Pk]) formattedType() string {
	return fmt.Sprintf("%s%s", a.basicType, a.props)
}

// Type returns the basic type of the expression (B, V, K or W) with its type
// properties, e.g. "Bzud".
func (a *AST[Pk]) Type() string {
	return a.formattedType()
}

func (a *AST[Pk]) isValid() error {
	if max := a.ctx.maxScriptSize(); a.scriptLen > max {
		return fmt.Errorf("the script size is %v, which is larger "+
			"than the maximum script size of %v in the %s context",
			a.scriptLen, max, a.ctx)
	}
	return nil
}

// IsValidTopLevel checks whether this node is valid as a script on its own.
func (a *AST[Pk]) IsValidTopLevel() error {
	if err := a.isValid(); err != nil {
		return err
	}

	// Top-level expression must be of type "B".
	return a.expectBasicType(typeB)
}

// validSatisfactions checks whether successful non-malleable satisfactions
// are guaranteed to be valid, in particular that satisfying the script cannot
// exceed the op limit.
func (a *AST[Pk]) validSatisfactions() error {
	if err := a.isValid(); err != nil {
		return err
	}
	if a.ctx != ContextTap && a.MaxOpCount() > maxOpsPerScript {
		return fmt.Errorf("the script requires a maximum number of %d "+
			"ops, which is larger than the consensus limit of %d",
			a.MaxOpCount(), maxOpsPerScript)
	}
	return nil
}

// isSaneSubexpression checks whether the apparent policy of this node matches
// its script semantics. Doesn't guarantee it is a safe script on its own.
func (a *AST[Pk]) isSaneSubexpression() error {
	if err := a.validSatisfactions(); err != nil {
		return err
	}
	if !a.props.m {
		return ErrMalleable
	}
	return nil
}

// IsSane checks whether this node is safe as a script on its own.
func (a *AST[Pk]) IsSane() error {
	if err := a.IsValidTopLevel(); err != nil {
		return err
	}
	if err := a.isSaneSubexpression(); err != nil {
		return err
	}
	if !a.props.s {
		return ErrNoSignature
	}
	return nil
}

// ScriptLen returns the encoded script length of the expression.
func (a *AST[Pk]) ScriptLen() int {
	return a.scriptLen
}

// MaxOpCount returns the maximum number of ops needed to satisfy this script
// in a non-malleable way.
func (a *AST[Pk]) MaxOpCount() int {
	return a.opCount.count + a.opCount.sat.value
}

// ForEachKey visits every key of the expression in script order. It returns
// true if fn returned true for all keys.
func (a *AST[Pk]) ForEachKey(fn func(Pk) bool) bool {
	all := true
	_, _ = a.apply(func(node *AST[Pk]) (*AST[Pk], error) {
		keyArgs := node.keyArgs()
		for _, arg := range keyArgs {
			if arg.keySet && !fn(arg.key) {
				all = false
			}
		}
		return node, nil
	})
	return all
}

// keyArgs returns the argument leaves of this node that hold keys.
func (a *AST[Pk]) keyArgs() []*AST[Pk] {
	switch a.identifier {
	case f_pk_k, f_pk_h:
		return a.args[:1]
	case f_multi, f_multi_a:
		return a.args[1:]
	default:
		return nil
	}
}

// expectBasicType is a helper function to check that this node has a specific
// type.
func (a *AST[Pk]) expectBasicType(typ basicType) error {
	if a.basicType != typ {
		return fmt.Errorf("expression `%s` expected to have type %s, "+
			"but is type %s", a.identifier, typ, a.basicType)
	}
	return nil
}

func (a *AST[Pk]) apply(f func(*AST[Pk]) (*AST[Pk], error)) (*AST[Pk], error) {
	for i, arg := range a.args {
		// We don't recurse into arguments which are not miniscript
		// subexpressions themselves:
		// key/hash variables and the numeric arguments of
		// older/after/multi/thresh.
		switch a.identifier {
		case f_pk_k, f_pk_h, f_pk, f_pkh,
			f_sha256, f_hash256, f_ripemd160, f_hash160,
			f_older, f_after, f_multi, f_multi_a:

			// None of the arguments of these functions are
			// miniscript subexpressions - they are keys, hash
			// values or numbers.
			continue

		case f_thresh:
			// First argument is a number. The other arguments are
			// subexpressions, which we want to visit, so only skip
			// the first argument.
			if i == 0 {
				continue
			}
		}

		newArg, err := arg.apply(f)
		if err != nil {
			return nil, err
		}
		a.args[i] = newArg
	}
	return f(a)
}

type stack[Pk Key] struct {
	elements []*AST[Pk]
}

func (s *stack[Pk]) push(element *AST[Pk]) {
	s.elements = append(s.elements, element)
}

func (s *stack[Pk]) pop() *AST[Pk] {
	if len(s.elements) == 0 {
		return nil
	}
	top := s.elements[len(s.elements)-1]
	s.elements = s.elements[:len(s.elements)-1]
	return top
}

func (s *stack[Pk]) top() *AST[Pk] {
	if len(s.elements) == 0 {
		return nil
	}
	return s.elements[len(s.elements)-1]
}

func (s *stack[Pk]) size() int {
	return len(s.elements)
}

// splitString splits a string into a slice of substrings based on a set of
// separators, keeping each separator as an individual element and dropping
// empty elements.
func splitString(s string, isSeparator func(c rune) bool) []string {
	substrings := make([]string, 0)

	i := 0
	for i < len(s) {
		j := strings.IndexFunc(s[i:], isSeparator)
		if j == -1 {
			// No further separator, append the remaining substring.
			substrings = append(substrings, s[i:])
			return substrings
		}
		j += i

		// If a separator was found, append the substring before it.
		if j > i {
			substrings = append(substrings, s[i:j])
		}

		// Append the separator as a separate element.
		substrings = append(substrings, s[j:j+1])
		i = j + 1
	}
	return substrings
}

func createAST[Pk Key](expr string) (*AST[Pk], error) {
	tokens := splitString(expr, func(c rune) bool {
		return c == '(' || c == ')' || c == ','
	})

	if len(tokens) > 0 {
		first, last := tokens[0], tokens[len(tokens)-1]
		if first == "(" || first == ")" || first == "," ||
			last == "(" || last == "," {

			return nil, fmt.Errorf("%w: invalid first or last "+
				"character", ErrUnbalanced)
		}
	}

	// Build abstract syntax tree.
	var stack stack[Pk]
	for i, token := range tokens {
		switch token {
		case "(":
			// Exclude invalid sequences, which cannot appear in
			// valid miniscripts: "((", ")(", ",(".
			if i > 0 && (tokens[i-1] == "(" || tokens[i-1] == ")" ||
				tokens[i-1] == ",") {

				return nil, fmt.Errorf("the sequence %s%s is "+
					"invalid", tokens[i-1], token)
			}

		case ",", ")":
			// End of a function argument - take the argument and
			// add it to the parent's argument list. If there is no
			// parent, the expression is unbalanced, e.g. `f(X))`.
			//
			// Exclude invalid sequences, which cannot appear in
			// valid miniscripts: "(,", "()", ",,", ",)".
			if i > 0 && (tokens[i-1] == "(" || tokens[i-1] == ",") {
				return nil, fmt.Errorf("the sequence %s%s is "+
					"invalid", tokens[i-1], token)
			}

			arg := stack.pop()
			parent := stack.top()
			if arg == nil || parent == nil {
				return nil, ErrUnbalanced
			}
			parent.args = append(parent.args, arg)

		default:
			if i > 0 && tokens[i-1] == ")" {
				return nil, fmt.Errorf("the sequence %s%s is "+
					"invalid", tokens[i-1], token)
			}

			// Split wrappers from identifier if they exist, e.g.
			// in "dv:older", "dv" are wrappers and "older" is the
			// identifier. Key tokens may legitimately contain
			// colons only if they are not in wrapper position,
			// which cannot happen since key tokens are always
			// arguments.
			var (
				parts                = strings.Split(token, ":")
				wrappers, identifier string
			)
			if len(parts) == 1 {
				// No colon => Only an identifier.
				identifier = parts[0]
			} else if len(parts) == 2 {
				wrappers, identifier = parts[0], parts[1]

				if wrappers == "" {
					return nil, fmt.Errorf("no wrappers "+
						"found before colon before "+
						"identifier: %s", identifier)
				} else if identifier == "" {
					return nil, fmt.Errorf("no identifier "+
						"found after colon after "+
						"wrappers: %s", wrappers)
				}
			} else {
				return nil, fmt.Errorf("invalid number of "+
					"colons in token: %s", token)
			}

			stack.push(&AST[Pk]{
				wrappers:   wrappers,
				identifier: identifier,
			})
		}
	}

	if stack.size() != 1 {
		return nil, ErrUnbalanced
	}

	return stack.top(), nil
}

// argCheck checks that each identifier is a known miniscript identifier and
// that it has the correct number of arguments, e.g. `andor(X,Y,Z)` must have
// three arguments, etc. It also parses number, key and hash arguments and
// recognizes extension leaves.
func (p *parser[Pk]) argCheck(node *AST[Pk]) (*AST[Pk], error) {
	// Helper function to check that this node has a specific number of
	// arguments.
	expectArgs := func(num int) error {
		if len(node.args) != num {
			return fmt.Errorf("%s expects %d arguments, got %d",
				node.identifier, num, len(node.args))
		}
		return nil
	}
	switch node.identifier {
	case f_0, f_1:
		if err := expectArgs(0); err != nil {
			return nil, err
		}

	case f_pk_k, f_pk_h, f_pk, f_pkh:
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		if len(node.args[0].args) > 0 {
			return nil, fmt.Errorf("argument of %s must not "+
				"contain subexpressions", node.identifier)
		}
		if err := p.bindKey(node.args[0]); err != nil {
			return nil, err
		}

	case f_sha256, f_ripemd160, f_hash256, f_hash160:
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		arg := node.args[0]
		if len(arg.args) > 0 {
			return nil, fmt.Errorf("argument of %s must not "+
				"contain subexpressions", node.identifier)
		}
		hashLen := map[string]int{
			f_sha256:    32,
			f_hash256:   32,
			f_ripemd160: 20,
			f_hash160:   20,
		}[node.identifier]
		hashValue, err := hex.DecodeString(arg.identifier)
		if err != nil {
			return nil, fmt.Errorf("%s argument is not a valid "+
				"hex hash value: %w", node.identifier, err)
		}
		if len(hashValue) != hashLen {
			return nil, fmt.Errorf("%s len must be %d, got %d",
				node.identifier, hashLen, len(hashValue))
		}
		arg.value = hashValue

	case f_older, f_after:
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		_n := node.args[0]
		if len(_n.args) > 0 {
			return nil, fmt.Errorf("argument of %s must not "+
				"contain subexpressions", node.identifier)
		}
		n, err := strconv.ParseUint(_n.identifier, 10, 64)
		if err != nil {
			return nil, fmt.Errorf(
				"%s(k) => k must be an unsigned integer, but "+
					"got: %s", node.identifier,
				_n.identifier)
		}
		_n.num = n
		if n < 1 || n >= (1<<31) {
			return nil, fmt.Errorf("%s(n) -> n must 1 ≤ n < 2^31, "+
				"but got: %s", node.identifier, _n.identifier)
		}

	case f_andor:
		if err := expectArgs(3); err != nil {
			return nil, err
		}

	case f_and_v, f_and_b, f_and_n, f_or_b, f_or_c, f_or_d, f_or_i:
		if err := expectArgs(2); err != nil {
			return nil, err
		}

	case f_thresh, f_multi, f_multi_a:
		if len(node.args) < 2 {
			return nil, fmt.Errorf("%s must have at least two "+
				"arguments", node.identifier)
		}
		_k := node.args[0]
		if len(_k.args) > 0 {
			return nil, fmt.Errorf("argument of %s must not "+
				"contain subexpressions", node.identifier)
		}
		k, err := strconv.ParseUint(_k.identifier, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s(k, ...) => k must be an "+
				"integer, but got: %s", node.identifier,
				_k.identifier)
		}
		_k.num = k
		numSubs := len(node.args) - 1
		if k < 1 || k > uint64(numSubs) {
			return nil, fmt.Errorf("%s(k) -> k must 1 ≤ k ≤ n, "+
				"but got: %s", node.identifier, _k.identifier)
		}
		switch node.identifier {
		case f_multi, f_multi_a:
			maxKeys := multisigMaxKeys
			if node.identifier == f_multi_a {
				maxKeys = multiAMaxKeys
			}
			if numSubs > maxKeys {
				return nil, fmt.Errorf("number of %s keys "+
					"cannot exceed %d", node.identifier,
					maxKeys)
			}
			// Keys are plain tokens, they can't have
			// subexpressions.
			for _, arg := range node.args[1:] {
				if len(arg.args) > 0 {
					return nil, fmt.Errorf("arguments of "+
						"%s must not contain "+
						"subexpressions",
						node.identifier)
				}
				if err := p.bindKey(arg); err != nil {
					return nil, err
				}
			}
		}
		if node.identifier == f_multi && p.ctx == ContextTap {
			return nil, fmt.Errorf("%w: multi is not available "+
				"in tapscript, use multi_a", ErrWrongContext)
		}
		if node.identifier == f_multi_a && p.ctx != ContextTap {
			return nil, fmt.Errorf("%w: multi_a is only available "+
				"in tapscript", ErrWrongContext)
		}

	default:
		// Not a core fragment. Give the extension parser a chance to
		// claim it.
		argTokens := make([]string, len(node.args))
		for i, arg := range node.args {
			if len(arg.args) > 0 {
				return nil, fmt.Errorf("%w: %s",
					ErrUnknownFragment, node.identifier)
			}
			argTokens[i] = arg.identifier
		}
		ext, err := p.ext.ParseExt(node.identifier, argTokens)
		if err != nil {
			return nil, err
		}
		node.ext = ext
		node.args = nil
	}
	return node, nil
}

// bindKey parses the token of a key argument leaf into a concrete key and
// checks for duplicates.
func (p *parser[Pk]) bindKey(arg *AST[Pk]) error {
	key, err := p.parseKey(arg.identifier)
	if err != nil {
		return err
	}
	keyStr := key.String()
	if _, ok := p.seenKeys[keyStr]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, keyStr)
	}
	p.seenKeys[keyStr] = struct{}{}
	arg.key = key
	arg.keySet = true
	return nil
}

// bindContext stamps the script context on every node.
func (p *parser[Pk]) bindContext(node *AST[Pk]) (*AST[Pk], error) {
	node.ctx = p.ctx
	for _, arg := range node.args {
		arg.ctx = p.ctx
	}
	return node, nil
}

// expandWrappers applies wrappers (the characters before a colon), e.g.
// `ascd:X` => `a(s(c(d(X))))`.
func expandWrappers[Pk Key](node *AST[Pk]) (*AST[Pk], error) {
	const allWrappers = "asctdvjnlu"

	wrappers := []rune(node.wrappers)
	node.wrappers = ""
	for i := len(wrappers) - 1; i >= 0; i-- {
		wrapper := wrappers[i]
		if !strings.ContainsRune(allWrappers, wrapper) {
			return nil, fmt.Errorf("unknown wrapper: %s",
				string(wrapper))
		}
		node = &AST[Pk]{
			identifier: string(wrapper),
			args:       []*AST[Pk]{node},
		}
	}
	return node, nil
}

// deSugar replaces syntactic sugar with the final form, remembering the sugar
// identifier so the expression can be printed back the way it was written.
func deSugar[Pk Key](node *AST[Pk]) (*AST[Pk], error) {
	switch node.identifier {
	case f_pk: // pk(key) = c:pk_k(key)
		return &AST[Pk]{
			identifier: f_wrap_c,
			sugar:      f_pk,
			args: []*AST[Pk]{
				{
					identifier: f_pk_k,
					args:       node.args,
				},
			},
		}, nil

	case f_pkh: // pkh(key) = c:pk_h(key)
		return &AST[Pk]{
			identifier: f_wrap_c,
			sugar:      f_pkh,
			args: []*AST[Pk]{
				{
					identifier: f_pk_h,
					args:       node.args,
				},
			},
		}, nil

	case f_and_n: // and_n(X,Y) = andor(X,Y,0)
		return &AST[Pk]{
			identifier: f_andor,
			sugar:      f_and_n,
			args: []*AST[Pk]{
				node.args[0],
				node.args[1],
				{identifier: f_0},
			},
		}, nil

	case f_wrap_t: // t:X = and_v(X,1)
		return &AST[Pk]{
			identifier: f_and_v,
			sugar:      f_wrap_t,
			args: []*AST[Pk]{
				node.args[0],
				{identifier: f_1},
			},
		}, nil

	case f_wrap_l: // l:X = or_i(0,X)
		return &AST[Pk]{
			identifier: f_or_i,
			sugar:      f_wrap_l,
			args: []*AST[Pk]{
				{identifier: f_0},
				node.args[0],
			},
		}, nil

	case f_wrap_u: // u:X = or_i(X,0)
		return &AST[Pk]{
			identifier: f_or_i,
			sugar:      f_wrap_u,
			args: []*AST[Pk]{
				node.args[0],
				{identifier: f_0},
			},
		}, nil
	}

	return node, nil
}

// isWrapperID reports whether the identifier is a wrapper node created by
// expandWrappers (t, l and u desugar into other fragments instead).
func isWrapperID(id string) bool {
	switch id {
	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_d, f_wrap_v, f_wrap_j,
		f_wrap_n:

		return true
	default:
		return false
	}
}

// String returns the canonical text form of the expression. Wrapper chains
// are collapsed back into the prefix notation and sugared fragments are
// printed in their surface form.
func (a *AST[Pk]) String() string {
	var b strings.Builder
	a.writeString(&b)
	return b.String()
}

func (a *AST[Pk]) writeString(b *strings.Builder) {
	// Collect the wrapper prefix.
	prefix := ""
	node := a
	for {
		switch {
		case node.sugar == f_wrap_t:
			prefix += f_wrap_t
			node = node.args[0]

		case node.sugar == f_wrap_l:
			prefix += f_wrap_l
			node = node.args[1]

		case node.sugar == f_wrap_u:
			prefix += f_wrap_u
			node = node.args[0]

		case node.sugar == "" && isWrapperID(node.identifier):
			prefix += node.identifier
			node = node.args[0]

		default:
			if prefix != "" {
				b.WriteString(prefix)
				b.WriteByte(':')
			}
			node.writeBody(b)
			return
		}
	}
}

func (a *AST[Pk]) writeBody(b *strings.Builder) {
	writeArgs := func(name string, args []*AST[Pk]) {
		b.WriteString(name)
		b.WriteByte('(')
		for i, arg := range args {
			if i > 0 {
				b.WriteByte(',')
			}
			arg.writeString(b)
		}
		b.WriteByte(')')
	}

	keyString := func(arg *AST[Pk]) string {
		if arg.keySet {
			return arg.key.String()
		}
		return arg.identifier
	}

	switch {
	case a.ext != nil:
		b.WriteString(a.ext.String())

	case a.sugar == f_pk:
		fmt.Fprintf(b, "pk(%s)", keyString(a.args[0].args[0]))

	case a.sugar == f_pkh:
		fmt.Fprintf(b, "pkh(%s)", keyString(a.args[0].args[0]))

	case a.sugar == f_and_n:
		b.WriteString("and_n(")
		a.args[0].writeString(b)
		b.WriteByte(',')
		a.args[1].writeString(b)
		b.WriteByte(')')

	default:
		switch a.identifier {
		case f_0, f_1:
			b.WriteString(a.identifier)

		case f_pk_k, f_pk_h:
			fmt.Fprintf(b, "%s(%s)", a.identifier,
				keyString(a.args[0]))

		case f_sha256, f_hash256, f_ripemd160, f_hash160:
			fmt.Fprintf(b, "%s(%x)", a.identifier, a.args[0].value)

		case f_older, f_after:
			fmt.Fprintf(b, "%s(%d)", a.identifier, a.args[0].num)

		case f_thresh:
			fmt.Fprintf(b, "%s(%d", a.identifier, a.args[0].num)
			for _, arg := range a.args[1:] {
				b.WriteByte(',')
				arg.writeString(b)
			}
			b.WriteByte(')')

		case f_multi, f_multi_a:
			fmt.Fprintf(b, "%s(%d", a.identifier, a.args[0].num)
			for _, arg := range a.args[1:] {
				b.WriteByte(',')
				b.WriteString(keyString(arg))
			}
			b.WriteByte(')')

		default:
			writeArgs(a.identifier, a.args)
		}
	}
}

func (a *AST[Pk]) drawTree(w io.Writer, indent string) {
	if a.wrappers != "" {
		_, _ = fmt.Fprintf(w, "%s:", a.wrappers)
	}
	_, _ = fmt.Fprint(w, a.identifier)
	typ := a.formattedType()
	if a.props.canCollapseVerify {
		typ += "v"
	}
	if typ != "" {
		_, _ = fmt.Fprintf(w, " [%s]", typ)
	}
	if a.value != nil {
		h := hex.EncodeToString(a.value)
		if h != a.identifier {
			_, _ = fmt.Fprintf(w, " [%x]", a.value)
		}
	}
	_, _ = fmt.Fprintln(w)
	for i, arg := range a.args {
		mark := ""
		delim := ""
		if i == len(a.args)-1 {
			mark = "└──"
		} else {
			mark = "├──"
			delim = "|"
		}
		_, _ = fmt.Fprintf(w, "%s%s", indent, mark)
		padLen := len([]rune(arg.identifier)) + len([]rune(mark)) -
			1 - len(delim)
		padding := strings.Repeat(" ", padLen)
		arg.drawTree(w, indent+delim+padding)
	}
}

// DrawTree renders the AST for debugging purposes.
func (a *AST[Pk]) DrawTree() string {
	var b strings.Builder
	a.drawTree(&b, "")
	return b.String()
}
