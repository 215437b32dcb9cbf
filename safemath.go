package greed

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Model stubs for the SafeMath functions: checked add, subtract, multiply
// and divide. They produce constraints that are friendlier to the solver
// than the original function bodies, using the cheapest encoding each
// operand shape allows: concrete operands are computed outright (pruning
// the path when the checked operation would have reverted), a single
// symbolic operand is bounded by one inequality against a concretely
// computed limit, and fully symbolic operands are widened just enough to
// make overflow representable.

// NewSafeAddProcedure returns a model stub for checked addition.
func NewSafeAddProcedure() *SimProcedure {
	return NewSimProcedure("SIMPROCEDURE_SAFEADD", SafeAdd)
}

// NewSafeSubProcedure returns a model stub for checked subtraction.
func NewSafeSubProcedure() *SimProcedure {
	return NewSimProcedure("SIMPROCEDURE_SAFESUB", SafeSub)
}

// NewSafeMulProcedure returns a model stub for checked multiplication.
func NewSafeMulProcedure() *SimProcedure {
	return NewSimProcedure("SIMPROCEDURE_SAFEMUL", SafeMul)
}

// NewSafeDivProcedure returns a model stub for checked division.
func NewSafeDivProcedure() *SimProcedure {
	return NewSimProcedure("SIMPROCEDURE_SAFEDIV", SafeDiv)
}

// SafeAdd models overflow-checked 256-bit addition.
func SafeAdd(state *State, _ []string, argVals []Expr) ([]*State, error) {
	a, b, err := twoOperands("SAFEADD", argVals)
	if err != nil {
		return nil, err
	}

	var result Expr
	aConst, aConcrete := a.(*ConstantExpr)
	bConst, bConcrete := b.(*ConstantExpr)
	switch {
	case aConcrete && bConcrete:
		sum, overflow := new(uint256.Int).AddOverflow(word(aConst), word(bConst))
		if overflow {
			return nil, nil // no non-revert states
		}
		result = NewConstantExprFromWord(sum)

	case aConcrete || bConcrete:
		conc, sym := aConst, b
		if bConcrete {
			conc, sym = bConst, a
		}

		if conc.IsZero() {
			// Additive identity, no constraint needed.
			result = sym
			break
		}

		// Bound the symbolic operand so the sum stays representable.
		limit := new(big.Int).Sub(wordModulus(), conc.Value)
		state.AddConstraintWithProvenance(
			NewBinaryExpr(ULT, sym, NewConstantExpr(limit, Width256)),
			ProvenanceSafeMath,
		)
		result = NewBinaryExpr(ADD, a, b)

	default:
		// Widen by the carry bit so overflow is representable, assert the
		// widened sum fits in a word, and return the un-widened sum.
		sumExt := NewBinaryExpr(ADD, NewZExtExpr(a, Width256+1), NewZExtExpr(b, Width256+1))
		state.AddConstraintWithProvenance(
			NewBinaryExpr(ULT, sumExt, NewConstantExpr(wordModulus(), Width256+1)),
			ProvenanceSafeMath,
		)
		result = NewBinaryExpr(ADD, a, b)
	}

	return ReturnValues(state, []Expr{result})
}

// SafeSub models underflow-checked 256-bit subtraction.
func SafeSub(state *State, _ []string, argVals []Expr) ([]*State, error) {
	a, b, err := twoOperands("SAFESUB", argVals)
	if err != nil {
		return nil, err
	}

	var result Expr
	aConst, aConcrete := a.(*ConstantExpr)
	bConst, bConcrete := b.(*ConstantExpr)
	if aConcrete && bConcrete {
		diff, underflow := new(uint256.Int).SubOverflow(word(aConst), word(bConst))
		if underflow {
			return nil, nil // no non-revert states
		}
		result = NewConstantExprFromWord(diff)
	} else {
		// One constraint suffices: no width extension is needed because
		// a >= b already rules the wraparound out.
		state.AddConstraintWithProvenance(NewBinaryExpr(UGE, a, b), ProvenanceSafeMath)
		result = NewBinaryExpr(SUB, a, b)
	}

	return ReturnValues(state, []Expr{result})
}

// SafeMul models overflow-checked 256-bit multiplication.
func SafeMul(state *State, _ []string, argVals []Expr) ([]*State, error) {
	a, b, err := twoOperands("SAFEMUL", argVals)
	if err != nil {
		return nil, err
	}

	var result Expr
	aConst, aConcrete := a.(*ConstantExpr)
	bConst, bConcrete := b.(*ConstantExpr)
	switch {
	case aConcrete && bConcrete:
		product, overflow := new(uint256.Int).MulOverflow(word(aConst), word(bConst))
		if overflow {
			return nil, nil // no non-revert states
		}
		result = NewConstantExprFromWord(product)

	case aConcrete || bConcrete:
		conc, sym := aConst, b
		if bConcrete {
			conc, sym = bConst, a
		}

		if conc.IsZero() {
			// Zero annihilates, no constraint needed.
			result = NewConstantExprFromUint64(0, Width256)
			break
		} else if conc.IsOne() {
			// Multiplicative identity, no constraint needed.
			result = sym
			break
		}

		// Bound the symbolic factor so the product stays representable.
		limit := new(big.Int).Div(wordModulus(), conc.Value)
		state.AddConstraintWithProvenance(
			NewBinaryExpr(ULT, sym, NewConstantExpr(limit, Width256)),
			ProvenanceSafeMath,
		)
		result = NewBinaryExpr(MUL, a, b)

	default:
		// Double the width so overflow is representable, assert the widened
		// product fits in a word, and return the un-widened product.
		prodExt := NewBinaryExpr(MUL, NewZExtExpr(a, Width256*2), NewZExtExpr(b, Width256*2))
		state.AddConstraintWithProvenance(
			NewBinaryExpr(ULT, prodExt, NewConstantExpr(wordModulus(), Width256*2)),
			ProvenanceSafeMath,
		)
		result = NewBinaryExpr(MUL, a, b)
	}

	return ReturnValues(state, []Expr{result})
}

// SafeDiv models 256-bit unsigned division. Division cannot silently
// overflow, so the only injected constraint is that the divisor is nonzero.
func SafeDiv(state *State, _ []string, argVals []Expr) ([]*State, error) {
	a, b, err := twoOperands("SAFEDIV", argVals)
	if err != nil {
		return nil, err
	}

	state.AddConstraintWithProvenance(
		NewBinaryExpr(NE, b, NewConstantExprFromUint64(0, Width256)),
		ProvenanceSafeMath,
	)
	result := NewBinaryExpr(UDIV, a, b)

	return ReturnValues(state, []Expr{result})
}

func twoOperands(name string, argVals []Expr) (Expr, Expr, error) {
	if len(argVals) != 2 {
		return nil, nil, fmt.Errorf("greed: %s expects 2 arguments, got %d", name, len(argVals))
	}
	return argVals[0], argVals[1], nil
}

// word converts a word-width constant to its machine-word value.
func word(c *ConstantExpr) *uint256.Int {
	w, ok := c.Word()
	assert(ok, "constant wider than a word: %s", c)
	return w
}

// wordModulus returns 2^256.
func wordModulus() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), Width256)
}
