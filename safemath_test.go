package greed_test

import (
	"math/big"
	"testing"

	"github.com/haliliceylan/greed"
)

// mustSafeMathState returns a state carrying an unreturned call frame whose
// return location is a NOP at 0x0_0x10, as if a checked-arithmetic stub had
// just been entered.
func mustSafeMathState(tb testing.TB) *greed.State {
	tb.Helper()

	stmt := &greed.Statement{Opcode: greed.OpNop, ID: "0x0_0x10", BlockID: "0x0"}
	block := &greed.Block{ID: "0x0", Statements: []*greed.Statement{stmt}}
	project := greed.NewProject(
		map[string]*greed.Block{"0x0": block},
		map[string]*greed.Function{},
		map[string]*greed.Statement{stmt.ID: stmt},
	)

	state := greed.NewState(project, greed.NewExecutionID())
	state.PushFrame(greed.CallFrame{
		CallSitePC: "0x0_0x1",
		ReturnPC:   "0x0_0x10",
		ResultVars: []string{"res"},
	})
	return state
}

// resultOf returns the value bound to the frame's result variable after a
// checked-arithmetic stub returned.
func resultOf(tb testing.TB, state *greed.State) greed.Expr {
	tb.Helper()
	value, err := state.Registers().Get("res")
	if err != nil {
		tb.Fatal(err)
	}
	return value
}

func TestSafeAdd(t *testing.T) {
	t.Run("ConcreteFold", func(t *testing.T) {
		state := mustSafeMathState(t)
		successors, err := greed.SafeAdd(state, nil, []greed.Expr{
			greed.NewConstantExprFromUint64(5, 256),
			greed.NewConstantExprFromUint64(7, 256),
		})
		if err != nil {
			t.Fatal(err)
		} else if len(successors) != 1 {
			t.Fatalf("unexpected successor count: %d", len(successors))
		}

		if got, exp := resultOf(t, state).(*greed.ConstantExpr).Value.Uint64(), uint64(12); got != exp {
			t.Fatalf("result=%d, expected %d", got, exp)
		}
		if n := len(state.Constraints()); n != 0 {
			t.Fatalf("unexpected constraint count: %d", n)
		}
		if state.PC() != "0x0_0x10" {
			t.Fatalf("unexpected pc: %s", state.PC())
		}
	})

	t.Run("ConcreteOverflowPrunes", func(t *testing.T) {
		state := mustSafeMathState(t)
		max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

		successors, err := greed.SafeAdd(state, nil, []greed.Expr{
			greed.NewConstantExpr(max, 256),
			greed.NewConstantExprFromUint64(1, 256),
		})
		if err != nil {
			t.Fatal(err)
		} else if len(successors) != 0 {
			t.Fatalf("unexpected successor count: %d", len(successors))
		}
	})

	t.Run("AddZeroNoConstraint", func(t *testing.T) {
		state := mustSafeMathState(t)
		sym := greed.NewSymbolExpr("x", 256)

		if _, err := greed.SafeAdd(state, nil, []greed.Expr{sym, greed.NewConstantExprFromUint64(0, 256)}); err != nil {
			t.Fatal(err)
		}
		if resultOf(t, state) != greed.Expr(sym) {
			t.Fatalf("unexpected result: %s", resultOf(t, state))
		}
		if n := len(state.Constraints()); n != 0 {
			t.Fatalf("unexpected constraint count: %d", n)
		}
	})

	t.Run("HalfConcreteBound", func(t *testing.T) {
		state := mustSafeMathState(t)
		sym := greed.NewSymbolExpr("x", 256)

		if _, err := greed.SafeAdd(state, nil, []greed.Expr{sym, greed.NewConstantExprFromUint64(100, 256)}); err != nil {
			t.Fatal(err)
		}

		constraints := state.Constraints()
		if len(constraints) != 1 {
			t.Fatalf("unexpected constraint count: %d", len(constraints))
		}
		if got, exp := constraints[0].Provenance, greed.ProvenanceSafeMath; got != exp {
			t.Fatalf("provenance=%s, expected %s", got, exp)
		}

		// x < 2^256 - 100
		bound := constraints[0].Expr.(*greed.BinaryExpr)
		if bound.Op != greed.ULT || bound.LHS != greed.Expr(sym) {
			t.Fatalf("unexpected constraint: %s", bound)
		}
		limit := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(100))
		if got := bound.RHS.(*greed.ConstantExpr).Value; got.Cmp(limit) != 0 {
			t.Fatalf("unexpected limit: %s", got)
		}

		result := resultOf(t, state).(*greed.BinaryExpr)
		if result.Op != greed.ADD {
			t.Fatalf("unexpected result: %s", result)
		}
	})

	t.Run("SymbolicWidened", func(t *testing.T) {
		state := mustSafeMathState(t)
		a, b := greed.NewSymbolExpr("a", 256), greed.NewSymbolExpr("b", 256)

		if _, err := greed.SafeAdd(state, nil, []greed.Expr{a, b}); err != nil {
			t.Fatal(err)
		}

		constraints := state.Constraints()
		if len(constraints) != 1 {
			t.Fatalf("unexpected constraint count: %d", len(constraints))
		}

		// zext(a, 257) + zext(b, 257) < 2^256
		bound := constraints[0].Expr.(*greed.BinaryExpr)
		if bound.Op != greed.ULT {
			t.Fatalf("unexpected constraint: %s", bound)
		}
		sum := bound.LHS.(*greed.BinaryExpr)
		if sum.Op != greed.ADD || greed.ExprWidth(sum) != 257 {
			t.Fatalf("unexpected widened sum: %s", sum)
		}

		// The returned expression stays at word width.
		result := resultOf(t, state).(*greed.BinaryExpr)
		if result.Op != greed.ADD || greed.ExprWidth(result) != 256 {
			t.Fatalf("unexpected result: %s", result)
		}
	})
}

func TestSafeSub(t *testing.T) {
	t.Run("ConcreteFold", func(t *testing.T) {
		state := mustSafeMathState(t)
		if _, err := greed.SafeSub(state, nil, []greed.Expr{
			greed.NewConstantExprFromUint64(7, 256),
			greed.NewConstantExprFromUint64(5, 256),
		}); err != nil {
			t.Fatal(err)
		}
		if got, exp := resultOf(t, state).(*greed.ConstantExpr).Value.Uint64(), uint64(2); got != exp {
			t.Fatalf("result=%d, expected %d", got, exp)
		}
	})

	t.Run("ConcreteUnderflowPrunes", func(t *testing.T) {
		state := mustSafeMathState(t)
		successors, err := greed.SafeSub(state, nil, []greed.Expr{
			greed.NewConstantExprFromUint64(5, 256),
			greed.NewConstantExprFromUint64(7, 256),
		})
		if err != nil {
			t.Fatal(err)
		} else if len(successors) != 0 {
			t.Fatalf("unexpected successor count: %d", len(successors))
		}
	})

	t.Run("SymbolicBound", func(t *testing.T) {
		state := mustSafeMathState(t)
		a, b := greed.NewSymbolExpr("a", 256), greed.NewSymbolExpr("b", 256)

		if _, err := greed.SafeSub(state, nil, []greed.Expr{a, b}); err != nil {
			t.Fatal(err)
		}

		constraints := state.Constraints()
		if len(constraints) != 1 {
			t.Fatalf("unexpected constraint count: %d", len(constraints))
		}

		// a >= b, normalized to b <= a.
		bound := constraints[0].Expr.(*greed.BinaryExpr)
		if bound.Op != greed.ULE || bound.LHS != greed.Expr(b) || bound.RHS != greed.Expr(a) {
			t.Fatalf("unexpected constraint: %s", bound)
		}

		result := resultOf(t, state).(*greed.BinaryExpr)
		if result.Op != greed.SUB {
			t.Fatalf("unexpected result: %s", result)
		}
	})
}

func TestSafeMul(t *testing.T) {
	t.Run("ConcreteFold", func(t *testing.T) {
		state := mustSafeMathState(t)
		if _, err := greed.SafeMul(state, nil, []greed.Expr{
			greed.NewConstantExprFromUint64(3, 256),
			greed.NewConstantExprFromUint64(4, 256),
		}); err != nil {
			t.Fatal(err)
		}
		if got, exp := resultOf(t, state).(*greed.ConstantExpr).Value.Uint64(), uint64(12); got != exp {
			t.Fatalf("result=%d, expected %d", got, exp)
		}
	})

	t.Run("ConcreteOverflowPrunes", func(t *testing.T) {
		state := mustSafeMathState(t)
		max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

		successors, err := greed.SafeMul(state, nil, []greed.Expr{
			greed.NewConstantExpr(max, 256),
			greed.NewConstantExprFromUint64(2, 256),
		})
		if err != nil {
			t.Fatal(err)
		} else if len(successors) != 0 {
			t.Fatalf("unexpected successor count: %d", len(successors))
		}
	})

	t.Run("MulZeroNoConstraint", func(t *testing.T) {
		state := mustSafeMathState(t)
		sym := greed.NewSymbolExpr("x", 256)

		if _, err := greed.SafeMul(state, nil, []greed.Expr{greed.NewConstantExprFromUint64(0, 256), sym}); err != nil {
			t.Fatal(err)
		}
		if c, ok := resultOf(t, state).(*greed.ConstantExpr); !ok || !c.IsZero() {
			t.Fatalf("unexpected result: %s", resultOf(t, state))
		}
		if n := len(state.Constraints()); n != 0 {
			t.Fatalf("unexpected constraint count: %d", n)
		}
	})

	t.Run("MulOneNoConstraint", func(t *testing.T) {
		state := mustSafeMathState(t)
		sym := greed.NewSymbolExpr("x", 256)

		if _, err := greed.SafeMul(state, nil, []greed.Expr{greed.NewConstantExprFromUint64(1, 256), sym}); err != nil {
			t.Fatal(err)
		}
		if resultOf(t, state) != greed.Expr(sym) {
			t.Fatalf("unexpected result: %s", resultOf(t, state))
		}
		if n := len(state.Constraints()); n != 0 {
			t.Fatalf("unexpected constraint count: %d", n)
		}
	})

	t.Run("HalfConcreteBound", func(t *testing.T) {
		state := mustSafeMathState(t)
		sym := greed.NewSymbolExpr("x", 256)

		if _, err := greed.SafeMul(state, nil, []greed.Expr{greed.NewConstantExprFromUint64(5, 256), sym}); err != nil {
			t.Fatal(err)
		}

		constraints := state.Constraints()
		if len(constraints) != 1 {
			t.Fatalf("unexpected constraint count: %d", len(constraints))
		}

		// x < 2^256 / 5
		bound := constraints[0].Expr.(*greed.BinaryExpr)
		if bound.Op != greed.ULT || bound.LHS != greed.Expr(sym) {
			t.Fatalf("unexpected constraint: %s", bound)
		}
		limit := new(big.Int).Div(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(5))
		if got := bound.RHS.(*greed.ConstantExpr).Value; got.Cmp(limit) != 0 {
			t.Fatalf("unexpected limit: %s", got)
		}
	})

	t.Run("SymbolicWidened", func(t *testing.T) {
		state := mustSafeMathState(t)
		a, b := greed.NewSymbolExpr("a", 256), greed.NewSymbolExpr("b", 256)

		if _, err := greed.SafeMul(state, nil, []greed.Expr{a, b}); err != nil {
			t.Fatal(err)
		}

		constraints := state.Constraints()
		if len(constraints) != 1 {
			t.Fatalf("unexpected constraint count: %d", len(constraints))
		}

		// zext(a, 512) * zext(b, 512) < 2^256
		bound := constraints[0].Expr.(*greed.BinaryExpr)
		if bound.Op != greed.ULT {
			t.Fatalf("unexpected constraint: %s", bound)
		}
		product := bound.LHS.(*greed.BinaryExpr)
		if product.Op != greed.MUL || greed.ExprWidth(product) != 512 {
			t.Fatalf("unexpected widened product: %s", product)
		}

		result := resultOf(t, state).(*greed.BinaryExpr)
		if result.Op != greed.MUL || greed.ExprWidth(result) != 256 {
			t.Fatalf("unexpected result: %s", result)
		}
	})
}

func TestSafeDiv(t *testing.T) {
	state := mustSafeMathState(t)
	a, b := greed.NewSymbolExpr("a", 256), greed.NewSymbolExpr("b", 256)

	if _, err := greed.SafeDiv(state, nil, []greed.Expr{a, b}); err != nil {
		t.Fatal(err)
	}

	constraints := state.Constraints()
	if len(constraints) != 1 {
		t.Fatalf("unexpected constraint count: %d", len(constraints))
	}
	if got, exp := constraints[0].Provenance, greed.ProvenanceSafeMath; got != exp {
		t.Fatalf("provenance=%s, expected %s", got, exp)
	}

	// b != 0, normalized to !(0 == b).
	not, ok := constraints[0].Expr.(*greed.NotExpr)
	if !ok {
		t.Fatalf("unexpected constraint: %s", constraints[0].Expr)
	}
	eq := not.Expr.(*greed.BinaryExpr)
	if eq.Op != greed.EQ || eq.RHS != greed.Expr(b) {
		t.Fatalf("unexpected constraint: %s", eq)
	}
	if c := eq.LHS.(*greed.ConstantExpr); !c.IsZero() {
		t.Fatalf("unexpected constraint: %s", eq)
	}

	result := resultOf(t, state).(*greed.BinaryExpr)
	if result.Op != greed.UDIV {
		t.Fatalf("unexpected result: %s", result)
	}
}
