package miniscript

import "fmt"

// witnessSizes carries upper bounds on the serialized size of witness data,
// in bytes including the per-element length prefixes, for satisfying and
// dissatisfying a node. The bounds assume timelocks and extension checks can
// be made to pass, signatures of maximum encoding length and 32 byte
// preimages.
type witnessSizes struct {
	dsat maxInt
	sat  maxInt
}

// computeWitnessSizes mirrors the satisfaction algebra over sizes instead of
// witness data.
func computeWitnessSizes[Pk Key](node *AST[Pk]) (*AST[Pk], error) {
	valid := func(v int) maxInt {
		return maxInt{valid: true, value: v}
	}
	zero := valid(0)
	invalid := maxInt{valid: false}

	// Witness element sizes, including the length prefix.
	const (
		emptyPush    = 1
		onePush      = 2
		preimagePush = 33
	)
	sigPush := node.ctx.maxSigLen()
	keyPush := node.ctx.keyLen() + 1

	if node.ext != nil {
		node.witSize = witnessSizes{dsat: invalid, sat: zero}
		return node, nil
	}

	switch node.identifier {
	case f_0:
		node.witSize = witnessSizes{dsat: zero, sat: invalid}

	case f_1:
		node.witSize = witnessSizes{dsat: invalid, sat: zero}

	case f_pk_k:
		node.witSize = witnessSizes{
			dsat: valid(emptyPush),
			sat:  valid(sigPush),
		}

	case f_pk_h:
		node.witSize = witnessSizes{
			dsat: valid(emptyPush + keyPush),
			sat:  valid(sigPush + keyPush),
		}

	case f_older, f_after:
		node.witSize = witnessSizes{dsat: invalid, sat: zero}

	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		node.witSize = witnessSizes{
			dsat: valid(preimagePush),
			sat:  valid(preimagePush),
		}

	case f_andor:
		x, y, z := node.args[0].witSize, node.args[1].witSize,
			node.args[2].witSize
		node.witSize = witnessSizes{
			dsat: z.dsat.and(x.dsat).or(y.dsat.and(x.sat)),
			sat: y.sat.and(x.sat).or(
				z.sat.and(x.dsat),
			),
		}

	case f_and_v:
		x, y := node.args[0].witSize, node.args[1].witSize
		node.witSize = witnessSizes{
			dsat: y.dsat.and(x.sat),
			sat:  y.sat.and(x.sat),
		}

	case f_and_b:
		x, y := node.args[0].witSize, node.args[1].witSize
		node.witSize = witnessSizes{
			dsat: y.dsat.and(x.dsat),
			sat:  y.sat.and(x.sat),
		}

	case f_or_b:
		x, z := node.args[0].witSize, node.args[1].witSize
		node.witSize = witnessSizes{
			dsat: z.dsat.and(x.dsat),
			sat: z.dsat.and(x.sat).or(
				z.sat.and(x.dsat),
			),
		}

	case f_or_c:
		x, z := node.args[0].witSize, node.args[1].witSize
		node.witSize = witnessSizes{
			dsat: invalid,
			sat:  x.sat.or(z.sat.and(x.dsat)),
		}

	case f_or_d:
		x, z := node.args[0].witSize, node.args[1].witSize
		node.witSize = witnessSizes{
			dsat: z.dsat.and(x.dsat),
			sat:  x.sat.or(z.sat.and(x.dsat)),
		}

	case f_or_i:
		x, z := node.args[0].witSize, node.args[1].witSize
		node.witSize = witnessSizes{
			dsat: x.dsat.and(valid(onePush)).or(
				z.dsat.and(valid(emptyPush)),
			),
			sat: x.sat.and(valid(onePush)).or(
				z.sat.and(valid(emptyPush)),
			),
		}

	case f_thresh:
		k := node.args[0].num
		n := len(node.args) - 1

		dsat := zero
		for _, arg := range node.args[1:] {
			dsat = dsat.and(arg.witSize.dsat)
		}
		sat := invalid
		for _, subset := range subsets(n, int(k)) {
			candidate := zero
			for i, arg := range node.args[1:] {
				if containsInt(subset, i) {
					candidate = arg.witSize.sat.and(
						candidate,
					)
				} else {
					candidate = arg.witSize.dsat.and(
						candidate,
					)
				}
			}
			sat = sat.or(candidate)
		}
		node.witSize = witnessSizes{dsat: dsat, sat: sat}

	case f_multi:
		k := int(node.args[0].num)
		node.witSize = witnessSizes{
			dsat: valid((k + 1) * emptyPush),
			sat:  valid(emptyPush + k*sigPush),
		}

	case f_multi_a:
		k := int(node.args[0].num)
		n := len(node.args) - 1
		node.witSize = witnessSizes{
			dsat: valid(n * emptyPush),
			sat:  valid((n-k)*emptyPush + k*sigPush),
		}

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_n:
		node.witSize = node.args[0].witSize

	case f_wrap_d:
		x := node.args[0].witSize
		node.witSize = witnessSizes{
			dsat: valid(emptyPush),
			sat:  x.sat.and(valid(onePush)),
		}

	case f_wrap_v:
		x := node.args[0].witSize
		node.witSize = witnessSizes{dsat: invalid, sat: x.sat}

	case f_wrap_j:
		x := node.args[0].witSize
		node.witSize = witnessSizes{
			dsat: valid(emptyPush),
			sat:  x.sat,
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFragment,
			node.identifier)
	}

	return node, nil
}

// MaxWitnessSize returns an upper bound on the serialized size of the witness
// data needed to satisfy this expression, including the per-element length
// prefixes but not the witness stack element count or the script itself.
func (a *AST[Pk]) MaxWitnessSize() (int, error) {
	if !a.witSize.sat.valid {
		return 0, fmt.Errorf("%w: expression cannot be satisfied",
			ErrNoSatisfaction)
	}
	return a.witSize.sat.value, nil
}
