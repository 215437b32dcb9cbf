package greed

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/benbjohnson/immutable"
)

// Solver is the satisfiability capability behind a state's feasibility
// check. Solving is potentially expensive and blocking; callers defer
// invoking it until feasibility must actually be known.
type Solver interface {
	// Solve returns the satisfiability of the conjunction of constraints.
	// If satisfiable, a concrete value is returned for every named symbol
	// appearing in the constraints.
	Solve(constraints []Constraint, symbols []*SymbolExpr) (satisfiable bool, values map[string]*big.Int, err error)
}

// Provenance tags a path constraint with its origin.
type Provenance string

const (
	// ProvenancePath marks constraints derived from the analyzed program.
	ProvenancePath = Provenance("path")

	// ProvenanceSafeMath marks soundness constraints injected by the
	// checked-arithmetic procedures.
	ProvenanceSafeMath = Provenance("safemath")
)

// Constraint is a boolean formula accumulated on a state, together with its
// provenance. The provenance is stored alongside the formula rather than
// attached to it so solver-owned expression nodes stay immutable.
type Constraint struct {
	Expr       Expr
	Provenance Provenance
}

// CallFrame records one unreturned private call.
type CallFrame struct {
	// CallSitePC is the id of the CALLPRIVATE statement that pushed the frame.
	CallSitePC string

	// ReturnPC is the id of the statement execution resumes at after the
	// matching private return.
	ReturnPC string

	// ResultVars are the caller-scope variables that receive the callee's
	// return values, in positional order.
	ResultVars []string
}

// Callstack is a LIFO stack of call frames. Calls and returns are matched
// purely by stack discipline.
type Callstack []CallFrame

// Depth returns the number of currently-unreturned private calls.
func (cs Callstack) Depth() int { return len(cs) }

// State represents one path under symbolic exploration. A state exclusively
// owns its registers, callstack and constraints; Copy produces a state that
// can be mutated independently.
type State struct {
	xid     string
	project *Project

	registers *Registers
	callstack Callstack

	pc   string
	halt bool

	constraints []Constraint

	// Set when execution of this state aborted with a fatal error.
	err error
}

// NewState returns a blank state bound to a project.
func NewState(project *Project, xid string) *State {
	return &State{
		xid:       xid,
		project:   project,
		registers: NewRegisters(),
	}
}

// XID returns the execution identifier this state belongs to.
func (s *State) XID() string { return s.xid }

// Project returns the read-only program index.
func (s *State) Project() *Project { return s.project }

// Registers returns the state's register file.
func (s *State) Registers() *Registers { return s.registers }

// Callstack returns the state's private call stack.
func (s *State) Callstack() Callstack { return s.callstack }

// PC returns the id of the statement to execute next.
func (s *State) PC() string { return s.pc }

// SetPC sets the id of the statement to execute next.
func (s *State) SetPC(pc string) { s.pc = pc }

// Halted returns true once a terminal statement has executed.
func (s *State) Halted() bool { return s.halt }

// Halt marks the state as no longer advanceable.
func (s *State) Halt() { s.halt = true }

// Err returns the fatal error that aborted this state, if any.
func (s *State) Err() error { return s.err }

func (s *State) fail(err error) { s.err = err }

// CurrStmt returns the statement the pc points at.
func (s *State) CurrStmt() *Statement {
	return s.project.Statement(s.pc)
}

// FallthroughPC returns the id of the statement that would execute
// immediately after the current one in the current block's control flow.
// Returns ErrNoSuccessors if the block ends without a fallthrough edge.
func (s *State) FallthroughPC() (string, error) {
	stmt := s.CurrStmt()
	if stmt == nil {
		return "", fmt.Errorf("greed: no statement at pc %q", s.pc)
	}

	block := s.project.Block(stmt.BlockID)
	assert(block != nil, "statement %s belongs to unknown block %s", stmt.ID, stmt.BlockID)

	for i, other := range block.Statements {
		if other.ID == stmt.ID {
			if i+1 < len(block.Statements) {
				return block.Statements[i+1].ID, nil
			}
			break
		}
	}
	if block.FallthroughEdge != nil {
		return block.FallthroughEdge.Statements[0].ID, nil
	}
	return "", ErrNoSuccessors
}

// SetNextPC advances the pc to the fallthrough statement.
func (s *State) SetNextPC() error {
	pc, err := s.FallthroughPC()
	if err != nil {
		return err
	}
	s.pc = pc
	return nil
}

// PushFrame records an unreturned private call.
func (s *State) PushFrame(frame CallFrame) {
	s.callstack = append(s.callstack, frame)
}

// PopFrame removes and returns the most recently pushed frame.
// Returns ErrStackUnderflow if no unreturned call exists.
func (s *State) PopFrame() (CallFrame, error) {
	if len(s.callstack) == 0 {
		return CallFrame{}, ErrStackUnderflow
	}
	frame := s.callstack[len(s.callstack)-1]
	s.callstack = s.callstack[:len(s.callstack)-1]
	return frame, nil
}

// AddConstraint appends a program-derived path constraint.
func (s *State) AddConstraint(expr Expr) {
	s.addConstraint(expr, ProvenancePath)
}

// AddConstraintWithProvenance appends a path constraint tagged with the
// given provenance.
func (s *State) AddConstraintWithProvenance(expr Expr, provenance Provenance) {
	s.addConstraint(expr, provenance)
}

func (s *State) addConstraint(expr Expr, provenance Provenance) {
	assert(ExprWidth(expr) == WidthBool, "constraint must be boolean, got width %d", ExprWidth(expr))
	s.constraints = append(s.constraints, Constraint{Expr: expr, Provenance: provenance})
}

// Constraints returns the accumulated path constraints.
func (s *State) Constraints() []Constraint { return s.constraints }

// Satisfiable reports whether the accumulated constraints have a model.
// Constant constraints are decided without consulting the solver.
func (s *State) Satisfiable() (bool, error) {
	residual := make([]Constraint, 0, len(s.constraints))
	for _, c := range s.constraints {
		if IsConstantFalse(c.Expr) {
			return false, nil
		} else if IsConstantTrue(c.Expr) {
			continue
		}
		residual = append(residual, c)
	}
	if len(residual) == 0 {
		return true, nil
	}

	if s.project == nil || s.project.Solver == nil {
		return false, errors.New("greed: no solver configured")
	}
	exprs := make([]Expr, len(residual))
	for i := range residual {
		exprs[i] = residual[i].Expr
	}
	sat, _, err := s.project.Solver.Solve(residual, FindSymbols(exprs...))
	return sat, err
}

// Copy returns a state that can diverge from s without shared mutation.
// The register file is an immutable map so the copy is cheap.
func (s *State) Copy() *State {
	callstack := make(Callstack, len(s.callstack))
	copy(callstack, s.callstack)

	constraints := make([]Constraint, len(s.constraints))
	copy(constraints, s.constraints)

	return &State{
		xid:         s.xid,
		project:     s.project,
		registers:   s.registers.Copy(),
		callstack:   callstack,
		pc:          s.pc,
		halt:        s.halt,
		constraints: constraints,
	}
}

// Dump returns the contents of the state as a string.
func (s *State) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "EXECUTION STATE")
	fmt.Fprintf(&buf, "pc=%s halt=%v\n", s.pc, s.halt)

	fmt.Fprintln(&buf, "== CALLSTACK")
	for i := len(s.callstack) - 1; i >= 0; i-- {
		frame := s.callstack[i]
		fmt.Fprintf(&buf, "%d. call=%s return=%s res=%v\n", i, frame.CallSitePC, frame.ReturnPC, frame.ResultVars)
	}

	fmt.Fprintln(&buf, "== REGISTERS")
	fmt.Fprint(&buf, s.registers.Dump())

	fmt.Fprintln(&buf, "== CONSTRAINTS")
	for i, c := range s.constraints {
		fmt.Fprintf(&buf, "%d. [%s] %s\n", i, c.Provenance, c.Expr)
	}
	return buf.String()
}

// Registers maps variable names to symbolic values. The backing map is
// immutable so copies share structure while mutating independently.
type Registers struct {
	m *immutable.SortedMap
}

// NewRegisters returns an empty register file.
func NewRegisters() *Registers {
	return &Registers{m: immutable.NewSortedMap(&stringComparer{})}
}

// Get returns the value bound to name. Reading a register that was never
// written is an UninitializedRegisterError.
func (r *Registers) Get(name string) (Expr, error) {
	value, ok := r.m.Get(name)
	if !ok {
		return nil, &UninitializedRegisterError{Var: name}
	}
	return value.(Expr), nil
}

// Set binds a value to name, overwriting any previous binding.
func (r *Registers) Set(name string, value Expr) {
	r.m = r.m.Set(name, value)
}

// Has returns true if name has ever been written.
func (r *Registers) Has(name string) bool {
	_, ok := r.m.Get(name)
	return ok
}

// Len returns the number of bound registers.
func (r *Registers) Len() int { return r.m.Len() }

// Copy returns an independently mutable view of the register file.
func (r *Registers) Copy() *Registers {
	return &Registers{m: r.m}
}

// Dump returns the register contents as a string, sorted by name.
func (r *Registers) Dump() string {
	var buf bytes.Buffer
	itr := r.m.Iterator()
	for {
		k, v := itr.Next()
		if k == nil {
			return buf.String()
		}
		fmt.Fprintf(&buf, "%s = %s\n", k.(string), v.(Expr))
	}
}

// stringComparer compares two strings. Implements immutable.Comparer.
type stringComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b,
// and returns 0 if a is equal to b. Panic if a or b is not a string.
func (c *stringComparer) Compare(a, b interface{}) int {
	return compareString(a.(string), b.(string))
}
