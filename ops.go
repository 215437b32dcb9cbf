package greed

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// execThrow halts the state. The surrounding exploration treats a halted
// state as a revert of the whole path.
func execThrow(stmt *Statement, state *State) ([]*State, error) {
	state.Halt()
	return []*State{state}, nil
}

// execStop halts the state cleanly. Also the body of the fake exit block.
func execStop(stmt *Statement, state *State) ([]*State, error) {
	state.Halt()
	return []*State{state}, nil
}

// execPhi advances past a PHI. Operand selection is resolved upstream by
// the decompiler, so at execution time a PHI moves no data.
func execPhi(stmt *Statement, state *State) ([]*State, error) {
	if err := state.SetNextPC(); err != nil {
		return nil, err
	}
	return []*State{state}, nil
}

// execConst binds the statement's statically known value to its result
// variable.
func execConst(stmt *Statement, state *State) ([]*State, error) {
	if len(stmt.ResVars) == 0 {
		return nil, fmt.Errorf("greed: CONST %s has no result variable", stmt.ID)
	}
	res := stmt.ResVars[0]
	value, ok := stmt.ResVals[res]
	if !ok {
		return nil, fmt.Errorf("greed: CONST %s has no value for %s", stmt.ID, res)
	}
	state.Registers().Set(res, value)

	if err := state.SetNextPC(); err != nil {
		return nil, err
	}
	return []*State{state}, nil
}

func execNop(stmt *Statement, state *State) ([]*State, error) {
	if err := state.SetNextPC(); err != nil {
		return nil, err
	}
	return []*State{state}, nil
}

// execCallPrivateArg advances past an argument marker. The statement exists
// only as a structural anchor for the decompiler's argument-list convention.
func execCallPrivateArg(stmt *Statement, state *State) ([]*State, error) {
	if err := state.SetNextPC(); err != nil {
		return nil, err
	}
	return []*State{state}, nil
}

// execCallPrivate implements the private-call convention: resolve the
// target block from a concrete operand, bind actuals to the callee's formal
// argument names, push a call frame holding the fallthrough location and
// the caller's result variables, and jump to the callee entry.
func execCallPrivate(stmt *Statement, state *State) ([]*State, error) {
	if len(stmt.ArgVars) == 0 {
		return nil, fmt.Errorf("greed: CALLPRIVATE %s has no target operand", stmt.ID)
	}

	target, err := stmt.ArgValue(state, 0)
	if err != nil {
		return nil, err
	}
	targetConst, ok := target.(*ConstantExpr)
	if !ok {
		return nil, fmt.Errorf("greed: CALLPRIVATE %s target is symbolic", stmt.ID)
	}
	targetBlock := state.Project().Block(fmt.Sprintf("%#x", targetConst.Value))
	if targetBlock == nil {
		return nil, fmt.Errorf("greed: CALLPRIVATE %s target block %#x not found", stmt.ID, targetConst.Value)
	}
	if targetBlock.Function == nil {
		return nil, fmt.Errorf("greed: CALLPRIVATE %s target block %s has no function", stmt.ID, targetBlock.ID)
	}

	// Save the location execution resumes at after the matching return.
	// A call site without a statically known successor returns into the
	// fake exit block instead.
	savedReturnPC, err := state.FallthroughPC()
	if err == ErrNoSuccessors {
		savedReturnPC = state.Project().FakeExit().FirstStatement().ID
	} else if err != nil {
		return nil, err
	}

	// Bind actual arguments to the callee's formal names. The first
	// operand slot is the target block, not a value. Mismatched counts
	// are tolerated: unset formals only fail if they are later read.
	args := stmt.ArgVars[1:]
	formals := targetBlock.Function.Arguments
	if len(args) != len(formals) {
		log.Warnf("invalid CALLPRIVATE arguments at %s: %d actuals for %d formals", stmt.ID, len(args), len(formals))
	}
	for i := 0; i < len(args) && i < len(formals); i++ {
		value, err := state.Registers().Get(args[i])
		if err != nil {
			return nil, errors.Wrapf(err, "greed: CALLPRIVATE %s argument %d", stmt.ID, i)
		}
		state.Registers().Set(formals[i], value)
	}

	state.PushFrame(CallFrame{
		CallSitePC: state.PC(),
		ReturnPC:   savedReturnPC,
		ResultVars: stmt.ResVars,
	})
	state.SetPC(targetBlock.FirstStatement().ID)
	return []*State{state}, nil
}

// execReturnPrivate reads the callee-scope return values and performs a
// private return. The first operand names the saved return address, not a
// value, and is skipped.
func execReturnPrivate(stmt *Statement, state *State) ([]*State, error) {
	argNames := stmt.ArgVars
	if len(argNames) > 0 {
		argNames = argNames[1:]
	}

	values := make([]Expr, 0, len(argNames))
	for _, name := range argNames {
		value, err := state.Registers().Get(name)
		if err != nil {
			return nil, errors.Wrapf(err, "greed: RETURNPRIVATE %s", stmt.ID)
		}
		values = append(values, value)
	}
	return ReturnValues(state, values)
}

// ReturnValues performs a private return carrying the given values: pops
// the most recent unreturned call frame, binds the values to the caller's
// result variables positionally, and resumes at the frame's return
// location. Exposed so model-stub procedures can return synthesized values
// without executing a literal RETURNPRIVATE statement.
func ReturnValues(state *State, values []Expr) ([]*State, error) {
	frame, err := state.PopFrame()
	if err != nil {
		return nil, err
	}

	if len(frame.ResultVars) != len(values) {
		log.Warnf("invalid RETURNPRIVATE arguments at %s: %d values for %d result variables", state.PC(), len(values), len(frame.ResultVars))
	}
	for i := 0; i < len(frame.ResultVars) && i < len(values); i++ {
		state.Registers().Set(frame.ResultVars[i], values[i])
	}

	state.SetPC(frame.ReturnPC)
	return []*State{state}, nil
}
