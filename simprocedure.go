package greed

import (
	"fmt"

	"github.com/pkg/errors"
)

// Behavior is a hand-written symbolic implementation substituted for a
// function's real body. It receives the function's formal argument names
// and their values as bound by the caller, and returns successor states
// under the same contract as Statement.Execute: an empty result prunes the
// path, and is how a behavior models "this call would have reverted".
// Behaviors typically finish through ReturnValues rather than mutating the
// pc by hand.
type Behavior func(state *State, argNames []string, argVals []Expr) ([]*State, error)

// SimProcedure associates a replacement behavior with an original function.
// Installed over the function's entry statement, it is indistinguishable
// from a normal private call from the caller's perspective: the caller
// still observes a call, a jump, and eventually bound result registers and
// a restored pc.
type SimProcedure struct {
	// InternalName identifies the procedure in diagnostics.
	InternalName string

	// Function is the original function being replaced. Its formal
	// argument list locates the caller-bound argument registers.
	Function *Function

	Behavior Behavior
}

// NewSimProcedure returns a model stub with the given diagnostic name and
// behavior. The original function is filled in at install time.
func NewSimProcedure(internalName string, behavior Behavior) *SimProcedure {
	return &SimProcedure{InternalName: internalName, Behavior: behavior}
}

// execSimProcedure runs the model stub installed at the statement. The
// private-call protocol has already bound the actual arguments to the
// original function's formal names, so they are read straight out of the
// registers.
func execSimProcedure(stmt *Statement, state *State) ([]*State, error) {
	proc := state.Project().simProcedure(stmt.ID)
	if proc == nil {
		return nil, fmt.Errorf("greed: no simprocedure installed at %s", stmt.ID)
	}

	argNames := proc.Function.Arguments
	argVals := make([]Expr, 0, len(argNames))
	for _, name := range argNames {
		value, err := state.Registers().Get(name)
		if err != nil {
			return nil, errors.Wrapf(err, "greed: %s", proc.InternalName)
		}
		argVals = append(argVals, value)
	}
	return proc.Behavior(state, argNames, argVals)
}
