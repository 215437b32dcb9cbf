package z3_test

import (
	"math/big"
	"testing"

	"github.com/haliliceylan/greed"
	"github.com/haliliceylan/greed/z3"
)

func TestSolver_Solve(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		t.Run("True", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)
			if satisfiable, _, err := s.Solve(pathConstraints(greed.NewBoolConstantExpr(true)), nil); err != nil {
				t.Fatal(err)
			} else if !satisfiable {
				t.Fatal("expected satisfiable")
			}
		})
		t.Run("False", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)
			if satisfiable, _, err := s.Solve(pathConstraints(greed.NewBoolConstantExpr(false)), nil); err != nil {
				t.Fatal(err)
			} else if satisfiable {
				t.Fatal("expected unsatisfiable")
			}
		})
	})

	t.Run("Equality", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		sym := greed.NewSymbolExpr("x", 256)
		satisfiable, values, err := s.Solve(pathConstraints(
			greed.NewBinaryExpr(greed.EQ, greed.NewConstantExprFromUint64(42, 256), sym),
		), []*greed.SymbolExpr{sym})
		if err != nil {
			t.Fatal(err)
		} else if !satisfiable {
			t.Fatal("expected satisfiable")
		}
		if got, exp := values["x"].Uint64(), uint64(42); got != exp {
			t.Fatalf("x=%d, expected %d", got, exp)
		}
	})

	t.Run("Contradiction", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		sym := greed.NewSymbolExpr("x", 256)
		satisfiable, _, err := s.Solve(pathConstraints(
			greed.NewBinaryExpr(greed.EQ, greed.NewConstantExprFromUint64(1, 256), sym),
			greed.NewBinaryExpr(greed.EQ, greed.NewConstantExprFromUint64(2, 256), sym),
		), []*greed.SymbolExpr{sym})
		if err != nil {
			t.Fatal(err)
		} else if satisfiable {
			t.Fatal("expected unsatisfiable")
		}
	})

	t.Run("WideConstant", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		// 2^200 exceeds the fixed-size numeral constructors.
		value := new(big.Int).Lsh(big.NewInt(1), 200)
		sym := greed.NewSymbolExpr("x", 256)
		satisfiable, values, err := s.Solve(pathConstraints(
			greed.NewBinaryExpr(greed.EQ, greed.NewConstantExpr(value, 256), sym),
		), []*greed.SymbolExpr{sym})
		if err != nil {
			t.Fatal(err)
		} else if !satisfiable {
			t.Fatal("expected satisfiable")
		}
		if got := values["x"]; got.Cmp(value) != 0 {
			t.Fatalf("x=%s, expected %s", got, value)
		}
	})

	t.Run("OverflowBound", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		// The checked-addition encoding: zext(x, 257) + zext(y, 257) < 2^256
		// forces the concrete operand's complement as an upper bound.
		x := greed.NewSymbolExpr("x", 256)
		max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
		sum := greed.NewBinaryExpr(greed.ADD,
			greed.NewZExtExpr(x, 257),
			greed.NewZExtExpr(greed.NewConstantExpr(max, 256), 257),
		)
		satisfiable, values, err := s.Solve(pathConstraints(
			greed.NewBinaryExpr(greed.ULT, sum, greed.NewConstantExpr(new(big.Int).Lsh(big.NewInt(1), 256), 257)),
		), []*greed.SymbolExpr{x})
		if err != nil {
			t.Fatal(err)
		} else if !satisfiable {
			t.Fatal("expected satisfiable")
		}
		if got := values["x"]; got.Sign() != 0 {
			t.Fatalf("x=%s, expected 0", got)
		}
	})

	t.Run("Not", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		// !(0 == x) with x constrained below 1 is a contradiction.
		sym := greed.NewSymbolExpr("x", 256)
		satisfiable, _, err := s.Solve(pathConstraints(
			greed.NewBinaryExpr(greed.NE, sym, greed.NewConstantExprFromUint64(0, 256)),
			greed.NewBinaryExpr(greed.ULT, sym, greed.NewConstantExprFromUint64(1, 256)),
		), nil)
		if err != nil {
			t.Fatal(err)
		} else if satisfiable {
			t.Fatal("expected unsatisfiable")
		}
	})

	t.Run("Extract", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		// A single extracted bit usable directly as a boolean constraint.
		satisfiable, _, err := s.Solve(pathConstraints(
			&greed.ExtractExpr{
				Expr:   greed.NewSymbolExpr("x", 256),
				Offset: 2,
				Width:  1,
			},
		), nil)
		if err != nil {
			t.Fatal(err)
		} else if !satisfiable {
			t.Fatal("expected satisfiable")
		}
	})
}

func TestSolver_Stats(t *testing.T) {
	s := z3.NewSolver()
	defer MustCloseSolver(s)

	if _, _, err := s.Solve(pathConstraints(greed.NewBoolConstantExpr(true)), nil); err != nil {
		t.Fatal(err)
	}
	if got := s.Stats().SolveN; got != 1 {
		t.Fatalf("SolveN=%d, expected 1", got)
	}
}

func pathConstraints(exprs ...greed.Expr) []greed.Constraint {
	constraints := make([]greed.Constraint, len(exprs))
	for i, expr := range exprs {
		constraints[i] = greed.Constraint{Expr: expr, Provenance: greed.ProvenancePath}
	}
	return constraints
}

func MustCloseSolver(s *z3.Solver) {
	if err := s.Close(); err != nil {
		panic(err)
	}
}
