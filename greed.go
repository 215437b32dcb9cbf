package greed

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Standard widths for the TAC word machine.
const (
	WidthBool = 1
	Width8    = 8
	Width256  = 256
)

var (
	ErrSolverTimeout       = errors.New("solver timeout")
	ErrSolverCanceled      = errors.New("solver canceled")
	ErrSolverResourceLimit = errors.New("solver resource limit")
	ErrSolverUnknown       = errors.New("solver unknown error")

	// ErrStackUnderflow is returned when a private return executes with no
	// matching private call on the stack. This indicates a malformed program
	// or a broken calling convention and is fatal for the owning state.
	ErrStackUnderflow = errors.New("greed: call stack underflow")

	// ErrNoSuccessors is returned when the fallthrough location of a
	// statement cannot be determined from the control flow graph.
	ErrNoSuccessors = errors.New("greed: statement has no successors")
)

// UninitializedRegisterError is returned when a register is read before it
// has ever been written. Fatal for the owning state only.
type UninitializedRegisterError struct {
	Var string
}

// Error returns the error as a string.
func (e *UninitializedRegisterError) Error() string {
	return fmt.Sprintf("greed: uninitialized variable: %s", e.Var)
}

// NewExecutionID returns a random identifier for one symbolic execution run.
func NewExecutionID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
