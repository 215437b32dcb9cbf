package greed

import (
	"fmt"
	"strings"
)

// Opcode is a TAC statement kind. The set is closed: each kind has exactly
// one execution semantics and unknown kinds are rejected at load time.
type Opcode int

const (
	OpConst Opcode = iota
	OpPhi
	OpNop
	OpThrow
	OpStop
	OpCallPrivate
	OpReturnPrivate
	OpCallPrivateArg
	OpSimProcedure
)

var opcodeNames = [...]string{
	OpConst:          "CONST",
	OpPhi:            "PHI",
	OpNop:            "NOP",
	OpThrow:          "THROW",
	OpStop:           "STOP",
	OpCallPrivate:    "CALLPRIVATE",
	OpReturnPrivate:  "RETURNPRIVATE",
	OpCallPrivateArg: "CALLPRIVATEARG",
	OpSimProcedure:   "SIMPROCEDURE",
}

// String returns the Gigahorse name of the opcode.
func (op Opcode) String() string {
	if op >= 0 && int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode<%d>", op)
}

// ParseOpcode returns the opcode for a Gigahorse operation name.
// Unknown names are an error; callers must treat this as a load failure.
func ParseOpcode(name string) (Opcode, error) {
	for op, opName := range opcodeNames {
		if opName == name {
			return Opcode(op), nil
		}
	}
	return 0, fmt.Errorf("greed: unknown opcode %q", name)
}

// HasSideEffects returns true if executing the statement mutates anything
// beyond the program counter. Side-effecting statements must not be
// reordered or elided.
func (op Opcode) HasSideEffects() bool {
	switch op {
	case OpThrow, OpStop, OpCallPrivate, OpReturnPrivate, OpSimProcedure:
		return true
	case OpConst, OpPhi, OpNop, OpCallPrivateArg:
		return false
	default:
		panic("unreachable")
	}
}

// Statement is one immutable TAC instruction.
type Statement struct {
	Opcode  Opcode
	ID      string
	BlockID string

	// ArgVars are the operand variable names, in positional order.
	ArgVars []string

	// ResVars are the result variable names, in positional order.
	ResVars []string

	// ArgVals and ResVals carry the statically known constant values of
	// operand/result variables, when the decompiler resolved one.
	ArgVals map[string]*ConstantExpr
	ResVals map[string]*ConstantExpr
}

// String returns a short printable form of the statement.
func (stmt *Statement) String() string {
	var b strings.Builder
	if len(stmt.ResVars) > 0 {
		b.WriteString(strings.Join(stmt.ResVars, ", "))
		b.WriteString(" = ")
	}
	b.WriteString(stmt.Opcode.String())
	if len(stmt.ArgVars) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(stmt.ArgVars, ", "))
	}
	return fmt.Sprintf("%s: %s", stmt.ID, b.String())
}

// Execute runs the statement's semantics against state and returns its
// successor states. An empty result means the path is infeasible and must
// be dropped; one state is sequential continuation; multiple states are a
// fork. A non-nil error aborts the owning state only.
func (stmt *Statement) Execute(state *State) ([]*State, error) {
	switch stmt.Opcode {
	case OpConst:
		return execConst(stmt, state)
	case OpPhi:
		return execPhi(stmt, state)
	case OpNop:
		return execNop(stmt, state)
	case OpThrow:
		return execThrow(stmt, state)
	case OpStop:
		return execStop(stmt, state)
	case OpCallPrivate:
		return execCallPrivate(stmt, state)
	case OpReturnPrivate:
		return execReturnPrivate(stmt, state)
	case OpCallPrivateArg:
		return execCallPrivateArg(stmt, state)
	case OpSimProcedure:
		return execSimProcedure(stmt, state)
	default:
		// Unknown kinds are rejected by ParseOpcode at load time.
		panic(fmt.Sprintf("greed: opcode %d has no semantics", stmt.Opcode))
	}
}

// ArgValue returns the value of the i-th operand: the statically known
// constant if the decompiler resolved one, otherwise the register binding.
func (stmt *Statement) ArgValue(state *State, i int) (Expr, error) {
	assert(i >= 0 && i < len(stmt.ArgVars), "operand index %d out of range for %s", i, stmt.ID)
	name := stmt.ArgVars[i]
	if val, ok := stmt.ArgVals[name]; ok {
		return val, nil
	}
	return state.Registers().Get(name)
}
