package descriptor

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/vulpemventures/go-elements/network"

	"github.com/vulpemventures/go-descriptors/miniscript"
)

// Elements tapscript introspection opcodes used by the covenant fragments.
const (
	opInspectOutputScriptPubKey = 0xd1
	opInspectVersion            = 0xd2
)

// VerEq is the ver_eq(n) covenant fragment: the script aborts unless the
// spending transaction has version n.
type VerEq struct {
	Version uint32
}

func (v VerEq) String() string {
	return fmt.Sprintf("ver_eq(%d)", v.Version)
}

func (v VerEq) le32() []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v.Version)
	return buf[:]
}

func (v VerEq) ScriptLen() int {
	// INSPECTVERSION, the 4 byte version push, EQUALVERIFY, OP_1.
	return 1 + 5 + 1 + 1
}

func (v VerEq) OpCount() int { return 2 }

func (v VerEq) BuildScript(b *txscript.ScriptBuilder) {
	b.AddOp(opInspectVersion)
	b.AddData(v.le32())
	b.AddOp(txscript.OP_EQUALVERIFY)
	b.AddOp(txscript.OP_1)
}

func (v VerEq) ScriptStr() string {
	return fmt.Sprintf("INSPECTVERSION %x EQUALVERIFY 1", v.le32())
}

// OutputsPref is the outputs_pref(HEX) covenant fragment: the script
// aborts unless the first output of the spending transaction pays the
// given segwit v0 witness program.
type OutputsPref struct {
	Program []byte
}

func (o OutputsPref) String() string {
	return fmt.Sprintf("outputs_pref(%x)", o.Program)
}

func (o OutputsPref) ScriptLen() int {
	// OP_0, INSPECTOUTPUTSCRIPTPUBKEY, the program push, EQUALVERIFY,
	// OP_0, EQUALVERIFY, OP_1.
	return 1 + 1 + 1 + len(o.Program) + 1 + 1 + 1 + 1
}

func (o OutputsPref) OpCount() int { return 3 }

func (o OutputsPref) BuildScript(b *txscript.ScriptBuilder) {
	b.AddOp(txscript.OP_0)
	b.AddOp(opInspectOutputScriptPubKey)
	b.AddData(o.Program)
	b.AddOp(txscript.OP_EQUALVERIFY)
	b.AddOp(txscript.OP_0)
	b.AddOp(txscript.OP_EQUALVERIFY)
	b.AddOp(txscript.OP_1)
}

func (o OutputsPref) ScriptStr() string {
	return fmt.Sprintf(
		"0 INSPECTOUTPUTSCRIPTPUBKEY %x EQUALVERIFY 0 EQUALVERIFY 1",
		o.Program,
	)
}

// CovenantExt recognizes the covenant extension fragments ver_eq and
// outputs_pref.
type CovenantExt struct{}

// ParseExt implements miniscript.ExtParser.
func (CovenantExt) ParseExt(name string, args []string) (
	miniscript.Extension, error) {

	switch name {
	case "ver_eq":
		if len(args) != 1 {
			return nil, fmt.Errorf(
				"ver_eq expects one argument, got %d", len(args),
			)
		}
		version, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid ver_eq version: %v", err)
		}
		return VerEq{Version: uint32(version)}, nil
	case "outputs_pref":
		if len(args) != 1 {
			return nil, fmt.Errorf(
				"outputs_pref expects one argument, got %d", len(args),
			)
		}
		program, err := hex.DecodeString(args[0])
		if err != nil {
			return nil, fmt.Errorf(
				"invalid outputs_pref program: %v", err,
			)
		}
		if len(program) != 20 && len(program) != 32 {
			return nil, fmt.Errorf(
				"outputs_pref program must be a 20 or 32 byte "+
					"witness program, got %d bytes", len(program),
			)
		}
		return OutputsPref{Program: program}, nil
	default:
		return nil, fmt.Errorf("%w: %s",
			miniscript.ErrUnknownFragment, name)
	}
}

// Covenant is a CSFS style covenant in p2wsh: elcovwsh(KEY,SCRIPT). The
// witness script demands a signature of the key and then runs the
// miniscript, whose leaves may use the covenant extension fragments to
// constrain the spending transaction.
type Covenant[Pk miniscript.Key] struct {
	Key Pk
	Ms  *miniscript.AST[Pk]
}

func parseCovenant[Pk miniscript.Key](expr string,
	parseKey miniscript.KeyParser[Pk]) (*Covenant[Pk], error) {

	inner, err := fragmentArgs(expr, "covwsh")
	if err != nil {
		return nil, err
	}
	parts := splitTopLevel(inner)
	if len(parts) < 2 {
		return nil, fmt.Errorf(
			"%w: covwsh takes a key and a script", ErrBadDescriptor,
		)
	}
	key, err := parseKey(parts[0])
	if err != nil {
		return nil, err
	}
	msExpr := inner[len(parts[0])+1:]
	ms, err := miniscript.Parse(
		miniscript.ContextSegwitv0, msExpr, parseKey, CovenantExt{},
	)
	if err != nil {
		return nil, err
	}
	if err := ms.IsValidTopLevel(); err != nil {
		return nil, err
	}
	return &Covenant[Pk]{Key: key, Ms: ms}, nil
}

func (d *Covenant[Pk]) isDescriptor() {}

func (d *Covenant[Pk]) String() string {
	return appendChecksum(
		"elcovwsh(" + d.Key.String() + "," + d.Ms.String() + ")",
	)
}

func (d *Covenant[Pk]) Type() DescriptorType {
	return TypeCov
}

// witnessScript is the key check followed by the covenant script.
func (d *Covenant[Pk]) witnessScript() ([]byte, error) {
	raw, err := compressedKeyBytes(d.Key)
	if err != nil {
		return nil, err
	}
	prefix, err := txscript.NewScriptBuilder().
		AddData(raw).
		AddOp(txscript.OP_CHECKSIGVERIFY).
		Script()
	if err != nil {
		return nil, err
	}
	script, err := d.Ms.Encode()
	if err != nil {
		return nil, err
	}
	return append(prefix, script...), nil
}

func (d *Covenant[Pk]) ScriptPubKey() ([]byte, error) {
	script, err := d.witnessScript()
	if err != nil {
		return nil, err
	}
	return p2wshScript(script)
}

func (d *Covenant[Pk]) Address(net *network.Network,
	blindingKey *btcec.PublicKey) (string, error) {

	script, err := d.ScriptPubKey()
	if err != nil {
		return "", err
	}
	return addressFromScript(script, net, blindingKey, TypeCov)
}

func (d *Covenant[Pk]) ExplicitScript() ([]byte, error) {
	return d.witnessScript()
}

func (d *Covenant[Pk]) ScriptCode() ([]byte, error) {
	return d.witnessScript()
}

func (d *Covenant[Pk]) UnsignedScriptSig() ([]byte, error) {
	return nil, nil
}

func (d *Covenant[Pk]) MaxWeightToSatisfy() (int, error) {
	witSize, err := d.Ms.MaxWitnessSize()
	if err != nil {
		return 0, err
	}
	script, err := d.witnessScript()
	if err != nil {
		return 0, err
	}
	return 1 + witSize + maxECDSASigElement +
		witnessElementSize(len(script)), nil
}

func (d *Covenant[Pk]) SanityCheck() error {
	if err := checkCompressed(d.Key); err != nil {
		return err
	}
	// The key check contributes the signature, the covenant script alone
	// need not be signed.
	return d.Ms.IsValidTopLevel()
}

func (d *Covenant[Pk]) GetSatisfaction(satisfier *miniscript.Satisfier[Pk]) (
	wire.TxWitness, []byte, error) {

	return d.satisfy(satisfier, false)
}

func (d *Covenant[Pk]) GetSatisfactionMalleable(
	satisfier *miniscript.Satisfier[Pk]) (wire.TxWitness, []byte, error) {

	return d.satisfy(satisfier, true)
}

func (d *Covenant[Pk]) satisfy(satisfier *miniscript.Satisfier[Pk],
	malleable bool) (wire.TxWitness, []byte, error) {

	script, err := d.witnessScript()
	if err != nil {
		return nil, nil, err
	}
	sig, ok := satisfier.Sign(miniscript.ContextSegwitv0, d.Key)
	if !ok {
		return nil, nil, miniscript.ErrNoSatisfaction
	}
	var stack wire.TxWitness
	if malleable {
		stack, err = d.Ms.SatisfyMalleable(satisfier)
	} else {
		stack, err = d.Ms.Satisfy(satisfier)
	}
	if err != nil {
		return nil, nil, err
	}
	// The signature sits on top of the covenant stack, right under the
	// witness script: the key check runs first.
	return append(stack, sig, script), nil, nil
}

func (d *Covenant[Pk]) ForEachKey(fn func(Pk) bool) bool {
	all := fn(d.Key)
	if !d.Ms.ForEachKey(fn) {
		all = false
	}
	return all
}
