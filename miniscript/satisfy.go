package miniscript

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SignFunc is a function type that returns a signature for a key or false if
// no signer is available. The signature must include the sighash flag byte.
type SignFunc[Pk Key] func(key Pk) (signature []byte, available bool)

// PreimageFunc is a function type that returns the preimage of a hash value.
// hashFunc is one of "sha256", "ripemd160", "hash256", "hash160".
type PreimageFunc func(hashFunc string, hash []byte) (preimage []byte,
	available bool)

// Satisfier provides the secrets and transaction context needed to produce a
// witness for an expression: signatures for keys, preimages for hash values
// and the lock-time state of the transaction being signed.
type Satisfier[Pk Key] struct {
	// CheckOlder checks if the OP_CHECKSEQUENCEVERIFY call is satisfied in
	// the context of a transaction. Use the `CheckOlder` utility function.
	CheckOlder func(lockTime uint32) (bool, error)

	// CheckAfter checks if the OP_CHECKLOCKTIMEVERIFY call is satisfied in
	// the context of a transaction. Use the `CheckAfter` utility function.
	CheckAfter func(lockTime uint32) (bool, error)

	// SignECDSA returns an ECDSA signature for the key, used in the legacy
	// and segwit v0 contexts.
	SignECDSA SignFunc[Pk]

	// SignSchnorr returns a Schnorr signature for the key, used in the
	// tapscript context.
	SignSchnorr SignFunc[Pk]

	// Preimage returns the preimage of the hash value.
	Preimage PreimageFunc

	// CheckExt checks if an extension leaf is satisfied in the context of
	// a transaction. May be nil if the expression has no extension leaves.
	CheckExt func(ext Extension) (bool, error)
}

// Sign picks the signature algorithm matching the script context. A nil
// signer means no signatures of that kind are available.
func (s *Satisfier[Pk]) Sign(ctx Context, key Pk) ([]byte, bool) {
	if ctx == ContextTap {
		if s.SignSchnorr == nil {
			return nil, false
		}
		return s.SignSchnorr(key)
	}
	if s.SignECDSA == nil {
		return nil, false
	}
	return s.SignECDSA(key)
}

// satisfaction is one assignment of witness data for an expression.
type satisfaction struct {
	// witness is a list of data elements that will be pushed onto the
	// witness stack.
	witness wire.TxWitness

	// available, if false, indicates there is no valid satisfaction (i.e.
	// private key or hash preimage not available, time lock not yet valid,
	// generally not satisfiable, etc.).
	available bool

	// malleable, if true, indicates the satisfaction is malleable by a
	// third party.
	malleable bool

	// hasSig indicates this satisfaction requires a signature, which means
	// a third party cannot malleate this satisfaction even if `malleable`
	// is true. If `malleable` and `hasSig` is true, only we (the
	// key-holders) can malleate this satisfaction.
	hasSig bool
}

func (s *satisfaction) setAvailable(available bool) *satisfaction {
	s.available = available
	return s
}

func (s *satisfaction) withSig() *satisfaction {
	s.hasSig = true
	return s
}

func (s *satisfaction) setMalleable(malleable bool) *satisfaction {
	s.malleable = malleable
	return s
}

func (s *satisfaction) and(b *satisfaction) *satisfaction {
	witness := append(wire.TxWitness{}, s.witness...)
	return &satisfaction{
		witness:   append(witness, b.witness...),
		available: s.available && b.available,
		malleable: s.malleable || b.malleable,
		hasSig:    s.hasSig || b.hasSig,
	}
}

func (s *satisfaction) or(b *satisfaction) *satisfaction {
	// If only one (or neither) is valid, pick the other one.
	if !s.available {
		return b
	}
	if !b.available {
		return s
	}
	// If only one of the solutions has a signature, we must pick the other
	// one.
	if !s.hasSig && b.hasSig {
		return s
	}
	if s.hasSig && !b.hasSig {
		return b
	}
	if !s.hasSig && !b.hasSig {
		// If neither solution requires a signature, the result is
		// inevitably malleable.
		s.malleable = true
		b.malleable = true
	} else {
		// If both options require a signature, prefer the
		// non-malleable one.
		if b.malleable && !s.malleable {
			return s
		}
		if s.malleable && !b.malleable {
			return b
		}
	}

	// Both available, pick smaller one.
	if s.witness.SerializeSize() <= b.witness.SerializeSize() {
		return s
	}
	return b
}

type satisfactions struct {
	dsat, sat *satisfaction
}

// subsets returns all subsets of the set {0, ..., n-1} of length k.
func subsets(n int, k int) [][]int {
	type stackItem struct {
		subset []int
		start  int
	}

	var subsets [][]int
	stack := []stackItem{{
		subset: []int{},
		start:  0,
	}}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(current.subset) == k {
			subsets = append(subsets, current.subset)
			continue
		}

		for i := current.start; i < n; i++ {
			newSubset := append([]int{}, current.subset...)
			newSubset = append(newSubset, i)
			stack = append(stack, stackItem{
				subset: newSubset,
				start:  i + 1,
			})
		}
	}

	return subsets
}

func containsInt(ints []int, i int) bool {
	for _, el := range ints {
		if el == i {
			return true
		}
	}
	return false
}

func verifyLockTime(txLockTime uint32, threshold uint32, lockTime uint32) bool {
	if !((txLockTime < threshold && lockTime < threshold) ||
		(txLockTime >= threshold && lockTime >= threshold)) {

		// Can't mix time lock types (blocks vs time).
		return false
	}
	return lockTime <= txLockTime
}

// CheckOlder checks if the OP_CHECKSEQUENCEVERIFY (BIP112, BIP68) call is
// satisfied given the lock time value.
//
// txVersion is the version of the transaction being signed.
// OP_CHECKSEQUENCEVERIFY requires this to be at least 2, otherwise the script
// fails.
//
// txInputSequence should be set to the sequence field of the input that is
// being signed. It is compared to the lock time value.
func CheckOlder(lockTime uint32, txVersion uint32,
	txInputSequence uint32) bool {

	// See BIP68. Mask off non-consensus bits before doing comparisons.
	lockTimeMask := uint32(
		wire.SequenceLockTimeIsSeconds | wire.SequenceLockTimeMask,
	)
	return txInputSequence&wire.SequenceLockTimeDisabled == 0 &&
		txVersion >= 2 && verifyLockTime(
		txInputSequence&lockTimeMask,
		wire.SequenceLockTimeIsSeconds,
		lockTime&lockTimeMask,
	)
}

// CheckAfter checks if the OP_CHECKLOCKTIMEVERIFY (BIP65) call is satisfied
// given the lock time value.
//
// txLockTime is the nLockTime of the transaction that is being signed. It is
// compared to the lock time value.
//
// txInputSequence should be set to the sequence field of the input that is
// being signed. According to BIP65, it must be smaller than 0xFFFFFFFF
// (maximum value) for this OP-code to not abort.
func CheckAfter(value uint32, txLockTime uint32, txInputSequence uint32) bool {
	return txInputSequence != wire.MaxTxInSequenceNum &&
		verifyLockTime(txLockTime, txscript.LockTimeThreshold, value)
}

// Satisfy returns a valid non-malleable witness for this expression, given
// the available secrets (private keys and hash preimages). If no witness
// could be found, ErrNoSatisfaction is returned; if only a malleable witness
// could be found, ErrMalleable is returned.
//
// The witness returned is a list of witness elements, each of which should be
// pushed onto the witness stack as a data push.
func (a *AST[Pk]) Satisfy(satisfier *Satisfier[Pk]) (wire.TxWitness, error) {
	satisfactions, err := satisfy(a, satisfier)
	if err != nil {
		return nil, err
	}
	if !satisfactions.sat.available {
		return nil, ErrNoSatisfaction
	}
	if satisfactions.sat.malleable {
		return nil, fmt.Errorf("%w: only malleable satisfactions "+
			"were found", ErrMalleable)
	}
	return satisfactions.sat.witness, nil
}

// SatisfyMalleable is like Satisfy but also accepts witnesses that a third
// party could malleate.
func (a *AST[Pk]) SatisfyMalleable(satisfier *Satisfier[Pk]) (wire.TxWitness,
	error) {

	satisfactions, err := satisfy(a, satisfier)
	if err != nil {
		return nil, err
	}
	if !satisfactions.sat.available {
		return nil, ErrNoSatisfaction
	}
	return satisfactions.sat.witness, nil
}

// satisfy computes the satisfaction and dissatisfaction assignments of a node
// bottom-up, keeping at each step the canonical choice: available beats
// unavailable, signature-free dissatisfactions beat signed ones, non-malleable
// beats malleable, and smaller beats bigger.
func satisfy[Pk Key](node *AST[Pk], satisfier *Satisfier[Pk]) (*satisfactions,
	error) {

	zero := func() *satisfaction {
		// Empty data translates to OP_0/OP_FALSE (push zero bytes).
		return &satisfaction{
			witness:   wire.TxWitness{{}},
			available: true,
		}
	}
	one := func() *satisfaction {
		return &satisfaction{
			witness:   wire.TxWitness{{1}},
			available: true,
		}
	}
	empty := func() *satisfaction {
		return &satisfaction{
			witness:   wire.TxWitness{},
			available: true,
		}
	}
	unavailable := func() *satisfaction {
		return &satisfaction{available: false}
	}
	witness := func(w []byte) *satisfaction {
		return &satisfaction{
			witness:   wire.TxWitness{w},
			available: true,
		}
	}

	if node.ext != nil {
		// Extension leaves take no witness data. They are satisfied
		// iff the transaction-level check passes.
		if satisfier.CheckExt == nil {
			return &satisfactions{
				dsat: unavailable(),
				sat:  unavailable(),
			}, nil
		}
		satisfied, err := satisfier.CheckExt(node.ext)
		if err != nil {
			return nil, err
		}
		sat := empty().setAvailable(satisfied)
		return &satisfactions{
			dsat: unavailable(),
			sat:  sat,
		}, nil
	}

	switch node.identifier {
	case f_0:
		return &satisfactions{
			dsat: empty(),
			sat:  unavailable(),
		}, nil

	case f_1:
		return &satisfactions{
			dsat: unavailable(),
			sat:  empty(),
		}, nil

	case f_pk_k:
		arg := node.args[0]
		if !arg.keySet {
			return nil, fmt.Errorf("empty key for %s (%s)",
				node.identifier, arg.identifier)
		}
		sig, available := satisfier.Sign(node.ctx, arg.key)
		return &satisfactions{
			dsat: zero(),
			sat:  witness(sig).withSig().setAvailable(available),
		}, nil

	case f_pk_h:
		arg := node.args[0]
		if !arg.keySet {
			return nil, fmt.Errorf("empty key for %s (%s)",
				node.identifier, arg.identifier)
		}
		key, err := node.ctx.encodeKey(arg.key)
		if err != nil {
			return nil, err
		}
		sig, available := satisfier.Sign(node.ctx, arg.key)
		return &satisfactions{
			dsat: zero().and(witness(key)),
			sat: witness(sig).withSig().setAvailable(available).and(
				witness(key),
			),
		}, nil

	case f_older:
		// BIP112 - OP_CHECKSEQUENCEVERIFY
		value := node.args[0].num
		satisfied, err := satisfier.CheckOlder(uint32(value))
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: unavailable(),
			sat:  empty().setAvailable(satisfied),
		}, nil

	case f_after:
		// BIP65 - OP_CHECKLOCKTIMEVERIFY
		value := node.args[0].num
		satisfied, err := satisfier.CheckAfter(uint32(value))
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: unavailable(),
			sat:  empty().setAvailable(satisfied),
		}, nil

	case f_sha256, f_ripemd160, f_hash256, f_hash160:
		hashValue := node.args[0].value
		if hashValue == nil {
			return nil, fmt.Errorf("hash value empty for %s (%s)",
				node.identifier, node.args[0].identifier)
		}
		preimage, available := satisfier.Preimage(
			node.identifier, hashValue,
		)
		if available && len(preimage) != 32 {
			return nil, fmt.Errorf("length of %s preimage of %x "+
				"expected to be 32, got %d",
				node.identifier, hashValue, len(preimage))
		}
		sat := witness(preimage).setAvailable(available)
		return &satisfactions{
			// Preimage 0x0000... is assumed invalid.
			dsat: witness(make([]byte, 32)).setMalleable(true),
			sat:  sat,
		}, nil

	case f_andor:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		y, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[2], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: z.dsat.and(x.dsat).or(y.dsat.and(x.sat)),
			sat:  y.sat.and(x.sat).or(z.sat.and(x.dsat)),
		}, nil

	case f_and_v:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		y, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: y.dsat.and(x.sat),
			sat:  y.sat.and(x.sat),
		}, nil

	case f_and_b:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		y, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: y.dsat.and(x.dsat).or(
				y.sat.and(x.dsat).setMalleable(true),
			).or(
				y.dsat.and(x.sat).setMalleable(true),
			),
			sat: y.sat.and(x.sat),
		}, nil

	case f_or_b:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: z.dsat.and(x.dsat),
			sat: z.dsat.and(x.sat).or(
				z.sat.and(x.dsat),
			).or(
				z.sat.and(x.sat).setMalleable(true),
			),
		}, nil

	case f_or_c:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: unavailable(),
			sat:  x.sat.or(z.sat.and(x.dsat)),
		}, nil

	case f_or_d:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: z.dsat.and(x.dsat),
			sat:  x.sat.or(z.sat.and(x.dsat)),
		}, nil

	case f_or_i:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: x.dsat.and(one()).or(z.dsat.and(zero())),
			sat:  x.sat.and(one()).or(z.sat.and(zero())),
		}, nil

	case f_thresh:
		k := node.args[0].num
		n := len(node.args) - 1
		subSats := make([]*satisfactions, n)
		for i, arg := range node.args[1:] {
			sat, err := satisfy(arg, satisfier)
			if err != nil {
				return nil, err
			}
			subSats[i] = sat
		}

		dsat := empty().setAvailable(false)
		sat := empty().setAvailable(false)

		for ks := 0; ks <= n; ks++ {
			// Iterate over all subsets of length ks.
			for _, subset := range subsets(n, ks) {
				// The witness is the concatenation of all
				// subexpressions, ks of which are satisfied
				// and n-ks which are dissatisfied.
				candidateSat := empty()
				for i := 0; i < n; i++ {
					subSat := subSats[i]
					if containsInt(subset, i) {
						candidateSat = subSat.sat.and(
							candidateSat,
						)
					} else {
						candidateSat = subSat.dsat.and(
							candidateSat,
						)
					}
				}
				if ks == int(k) {
					// If exactly k subs are satisfied,
					// it's a valid satisfaction.
					sat = sat.or(candidateSat)
				} else {
					// Any other number of satisfied subs
					// results in an overall
					// dissatisfaction.
					dsat = dsat.or(candidateSat)
				}
			}
		}
		return &satisfactions{
			dsat: dsat,
			sat:  sat,
		}, nil

	case f_multi:
		k := node.args[0].num
		n := len(node.args) - 1
		dsat := zero()
		for i := uint64(0); i < k; i++ {
			dsat = dsat.and(zero())
		}

		// All actual signatures. If a sig is unavailable, it is left
		// empty.
		sigs := make([][]byte, n)
		for i, arg := range node.args[1:] {
			if !arg.keySet {
				return nil, fmt.Errorf("empty key for %s (%s)",
					node.identifier, arg.identifier)
			}
			sig, available := satisfier.Sign(node.ctx, arg.key)
			if available {
				sigs[i] = sig
			}
		}

		sigsSat := empty().setAvailable(false)

		// Iterate over all k-subsets.
		for _, subset := range subsets(n, int(k)) {
			// Candidate satisfaction for one subset of keys:
			// `sig sig sig ...`.
			candidateSat := empty()
			for _, i := range subset {
				sigAvailable := len(sigs[i]) > 0
				candidateSat = candidateSat.and(
					witness(sigs[i]).withSig().setAvailable(
						sigAvailable,
					),
				)
			}
			sigsSat = sigsSat.or(candidateSat)
		}
		return &satisfactions{
			dsat: dsat,
			sat:  zero().and(sigsSat), // 0 sig sig sig ...
		}, nil

	case f_multi_a:
		k := node.args[0].num
		n := len(node.args) - 1

		// The script checks the first key against the top stack
		// element, so the witness carries one element per key, in
		// reverse key order: a signature or an empty push.
		sigs := make([][]byte, n)
		for i, arg := range node.args[1:] {
			if !arg.keySet {
				return nil, fmt.Errorf("empty key for %s (%s)",
					node.identifier, arg.identifier)
			}
			sig, available := satisfier.Sign(node.ctx, arg.key)
			if available {
				sigs[i] = sig
			}
		}

		dsat := empty()
		for i := 0; i < n; i++ {
			dsat = dsat.and(zero())
		}

		sat := empty().setAvailable(false)
		for _, subset := range subsets(n, int(k)) {
			candidateSat := empty()
			for i := n - 1; i >= 0; i-- {
				if containsInt(subset, i) {
					sigAvailable := len(sigs[i]) > 0
					candidateSat = candidateSat.and(
						witness(sigs[i]).withSig().
							setAvailable(
								sigAvailable,
							),
					)
				} else {
					candidateSat = candidateSat.and(zero())
				}
			}
			sat = sat.or(candidateSat)
		}
		return &satisfactions{
			dsat: dsat,
			sat:  sat,
		}, nil

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_n:
		return satisfy(node.args[0], satisfier)

	case f_wrap_d:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: zero(),
			sat:  x.sat.and(one()),
		}, nil

	case f_wrap_v:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: unavailable(),
			sat:  x.sat,
		}, nil

	case f_wrap_j:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: zero().setMalleable(
				x.dsat.available && !x.dsat.hasSig,
			),
			sat: x.sat,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFragment,
			node.identifier)
	}
}
