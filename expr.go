package greed

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/holiman/uint256"
)

// Expr represents a symbolic bitvector expression.
type Expr interface {
	expr()
	String() string
}

func (*BinaryExpr) expr()   {}
func (*CastExpr) expr()     {}
func (*ConstantExpr) expr() {}
func (*ExtractExpr) expr()  {}
func (*NotExpr) expr()      {}
func (*SymbolExpr) expr()   {}

// ExprWidth returns the bit width of the expression.
func ExprWidth(expr Expr) uint {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Width
	case *SymbolExpr:
		return expr.Width
	case *ExtractExpr:
		return expr.Width
	case *NotExpr:
		return ExprWidth(expr.Expr)
	case *CastExpr:
		return expr.Width
	case *BinaryExpr:
		if expr.Op.IsCompare() {
			return WidthBool
		}
		return ExprWidth(expr.LHS)
	default:
		panic("unreachable")
	}
}

// IsConstantExpr returns true if expr is a constant.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// IsConstantTrue returns true if expr is a constant boolean true.
func IsConstantTrue(expr Expr) bool {
	c, ok := expr.(*ConstantExpr)
	return ok && c.IsTrue()
}

// IsConstantFalse returns true if expr is a constant boolean false.
func IsConstantFalse(expr Expr) bool {
	c, ok := expr.(*ConstantExpr)
	return ok && c.IsFalse()
}

// BinaryOp represents a binary expression operation.
type BinaryOp int

// BinaryExpr operations.
const (
	arithmetic_op_begin = BinaryOp(iota)
	ADD
	SUB
	MUL
	UDIV
	AND
	OR
	XOR
	arithmetic_op_end

	compare_op_begin
	EQ
	NE
	ULT
	ULE
	UGT
	UGE
	compare_op_end
)

var binaryOps = [...]string{
	ADD:  "add",
	SUB:  "sub",
	MUL:  "mul",
	UDIV: "udiv",
	AND:  "and",
	OR:   "or",
	XOR:  "xor",
	EQ:   "eq",
	NE:   "ne",
	ULT:  "ult",
	ULE:  "ule",
	UGT:  "ugt",
	UGE:  "uge",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsArithmetic returns true if op is an arithmetic operator.
func (op BinaryOp) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsCompare returns true if op is a comparison operator.
func (op BinaryOp) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// BinaryExpr represents an operation on two expressions.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// NewBinaryExpr returns a possibly-folded expression combining lhs & rhs.
// NE, UGT & UGE are normalized away so the solver back end only ever sees
// the canonical operator set.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) Expr {
	assert(ExprWidth(lhs) == ExprWidth(rhs), "binary expr width mismatch: op=%s %d != %d", op, ExprWidth(lhs), ExprWidth(rhs))

	switch op {
	case ADD:
		return newAddExpr(lhs, rhs)
	case SUB:
		return newSubExpr(lhs, rhs)
	case MUL:
		return newMulExpr(lhs, rhs)
	case UDIV:
		return newUDivExpr(lhs, rhs)
	case AND:
		return newAndExpr(lhs, rhs)
	case OR:
		return newOrExpr(lhs, rhs)
	case XOR:
		return newXorExpr(lhs, rhs)
	case EQ:
		return newEqExpr(lhs, rhs)
	case NE:
		return NewNotExpr(newEqExpr(lhs, rhs))
	case ULT:
		return newUltExpr(lhs, rhs)
	case UGT:
		return newUltExpr(rhs, lhs) // reverse
	case ULE:
		return newUleExpr(lhs, rhs)
	case UGE:
		return newUleExpr(rhs, lhs) // reverse
	default:
		panic("unreachable")
	}
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// newAddExpr returns the expression representing the sum of lhs & rhs.
func newAddExpr(lhs, rhs Expr) Expr {
	// Move constant expression to left hand side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.IsZero() {
			return rhs
		} else if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Add(rhs)
		}
	}
	return &BinaryExpr{Op: ADD, LHS: lhs, RHS: rhs}
}

// newSubExpr returns an expression representing the difference of lhs & rhs.
func newSubExpr(lhs, rhs Expr) Expr {
	// Subtracting a value from itself is zero.
	if CompareExpr(lhs, rhs) == 0 {
		return NewConstantExprFromUint64(0, ExprWidth(lhs))
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Sub(rhs)
		}
	}
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.IsZero() {
		return lhs
	}
	return &BinaryExpr{Op: SUB, LHS: lhs, RHS: rhs}
}

// newMulExpr returns an expression that represents the product of lhs & rhs.
func newMulExpr(lhs, rhs Expr) Expr {
	// Move constant expression to left hand side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Mul(rhs)
		}
		if lhs.IsZero() {
			return lhs
		} else if lhs.IsOne() {
			return rhs
		}
	}
	return &BinaryExpr{Op: MUL, LHS: lhs, RHS: rhs}
}

// newUDivExpr returns an expression that represents the unsigned division of
// lhs by rhs. Division by a constant zero is left unfolded so the solver
// sees the SMT-LIB total-function semantics.
func newUDivExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok && !rhs.IsZero() {
			return lhs.UDiv(rhs)
		}
	}
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.IsOne() {
		return lhs
	}
	return &BinaryExpr{Op: UDIV, LHS: lhs, RHS: rhs}
}

// newAndExpr returns an expression that represents the bitwise AND of lhs & rhs.
func newAndExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.And(rhs)
		}
	}

	// Move constant expression to right hand side.
	if IsConstantExpr(lhs) && !IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}
	if rhs, ok := rhs.(*ConstantExpr); ok {
		if rhs.IsAllOnes() {
			return lhs
		} else if rhs.IsZero() {
			return rhs
		}
	}
	return &BinaryExpr{Op: AND, LHS: lhs, RHS: rhs}
}

// newOrExpr returns an expression that represents the bitwise OR of lhs & rhs.
func newOrExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Or(rhs)
		}
	}

	// Move constant expression to right hand side.
	if IsConstantExpr(lhs) && !IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}
	if rhs, ok := rhs.(*ConstantExpr); ok {
		if rhs.IsAllOnes() {
			return rhs
		} else if rhs.IsZero() {
			return lhs
		}
	}
	return &BinaryExpr{Op: OR, LHS: lhs, RHS: rhs}
}

// newXorExpr returns an expression that represents the bitwise XOR of lhs & rhs.
func newXorExpr(lhs, rhs Expr) Expr {
	// Move constant expression to left hand side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.IsZero() {
			return rhs
		} else if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Xor(rhs)
		}
	}
	return &BinaryExpr{Op: XOR, LHS: lhs, RHS: rhs}
}

// newEqExpr returns an expression that represents the equality of lhs and rhs.
func newEqExpr(lhs, rhs Expr) Expr {
	// Move constant expression to left hand side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Eq(rhs)
		}
	}
	if CompareExpr(lhs, rhs) == 0 {
		return NewBoolConstantExpr(true)
	}
	return &BinaryExpr{Op: EQ, LHS: lhs, RHS: rhs}
}

// newUltExpr returns an expression that represents lhs < rhs (unsigned).
func newUltExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Ult(rhs)
		}
	}
	return &BinaryExpr{Op: ULT, LHS: lhs, RHS: rhs}
}

// newUleExpr returns an expression that represents lhs <= rhs (unsigned).
func newUleExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Ule(rhs)
		}
	}
	return &BinaryExpr{Op: ULE, LHS: lhs, RHS: rhs}
}

// ExtractExpr represents the extraction of a set of bits at a given offset/width.
type ExtractExpr struct {
	Expr   Expr
	Offset uint
	Width  uint
}

// NewExtractExpr returns a new instance of ExtractExpr.
func NewExtractExpr(expr Expr, offset, width uint) Expr {
	kw := ExprWidth(expr)
	assert(width > 0, "extract width cannot be zero")
	assert(offset+width <= kw, "extract out of bounds: %d+%d > %d", width, offset, kw)

	if width == kw {
		return expr
	} else if expr, ok := expr.(*ConstantExpr); ok {
		return expr.Extract(offset, width)
	}
	return &ExtractExpr{Expr: expr, Offset: offset, Width: width}
}

// String returns the string representation of the expression.
func (e *ExtractExpr) String() string {
	return fmt.Sprintf("(extract %s %d %d)", e.Expr, e.Offset, e.Width)
}

// NotExpr represents a bitwise or logical NOT of an expression.
type NotExpr struct {
	Expr Expr
}

// NewNotExpr returns a new instance of NotExpr.
func NewNotExpr(expr Expr) Expr {
	if expr, ok := expr.(*ConstantExpr); ok {
		return expr.Not()
	}
	return &NotExpr{Expr: expr}
}

// String returns the string representation of the expression.
func (e *NotExpr) String() string {
	return fmt.Sprintf("(not %s)", e.Expr)
}

// CastExpr represents an expression extended to a new width.
type CastExpr struct {
	Src    Expr
	Width  uint
	Signed bool
}

// NewCastExpr returns a new instance of CastExpr.
func NewCastExpr(src Expr, width uint, signed bool) Expr {
	if signed {
		return newSExtExpr(src, width)
	}
	return newZExtExpr(src, width)
}

// NewZExtExpr returns a zero-extension of src to width bits.
func NewZExtExpr(src Expr, width uint) Expr {
	return newZExtExpr(src, width)
}

func newZExtExpr(src Expr, w uint) Expr {
	sw := ExprWidth(src)
	if w == sw { // nop
		return src
	} else if w < sw { // truncate
		return NewExtractExpr(src, 0, w)
	} else if src, ok := src.(*ConstantExpr); ok {
		return src.ZExt(w)
	}
	return &CastExpr{Src: src, Width: w, Signed: false}
}

func newSExtExpr(src Expr, w uint) Expr {
	sw := ExprWidth(src)
	if w == sw { // nop
		return src
	} else if w < sw { // truncate
		return NewExtractExpr(src, 0, w)
	} else if src, ok := src.(*ConstantExpr); ok {
		return src.SExt(w)
	}
	return &CastExpr{Src: src, Width: w, Signed: true}
}

// String returns the string representation of the expression.
func (e *CastExpr) String() string {
	if e.Signed {
		return fmt.Sprintf("(sext %s %d)", e.Src, e.Width)
	}
	return fmt.Sprintf("(zext %s %d)", e.Src, e.Width)
}

// SymbolExpr represents a free bitvector variable.
type SymbolExpr struct {
	Name  string
	Width uint
}

// NewSymbolExpr returns a new instance of SymbolExpr.
func NewSymbolExpr(name string, width uint) *SymbolExpr {
	assert(width > 0, "symbol width cannot be zero")
	return &SymbolExpr{Name: name, Width: width}
}

// String returns the string representation of the expression.
func (e *SymbolExpr) String() string {
	return fmt.Sprintf("(sym %s %d)", e.Name, e.Width)
}

// ConstantExpr represents a fixed-width unsigned integer constant.
// The value is always reduced modulo 2^Width and never negative.
type ConstantExpr struct {
	Value *big.Int
	Width uint
}

// NewConstantExpr returns a new instance of ConstantExpr with value reduced
// to the given width.
func NewConstantExpr(value *big.Int, width uint) *ConstantExpr {
	assert(width > 0, "constant width cannot be zero")
	return &ConstantExpr{Value: new(big.Int).And(value, bitmask(width)), Width: width}
}

// NewConstantExprFromUint64 returns a constant expression for a small value.
func NewConstantExprFromUint64(value uint64, width uint) *ConstantExpr {
	return NewConstantExpr(new(big.Int).SetUint64(value), width)
}

// NewConstantExprFromWord returns a 256-bit constant from a machine word.
func NewConstantExprFromWord(word *uint256.Int) *ConstantExpr {
	return &ConstantExpr{Value: word.ToBig(), Width: Width256}
}

// NewBoolConstantExpr returns a constant boolean expression.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	if value {
		return &ConstantExpr{Value: big.NewInt(1), Width: WidthBool}
	}
	return &ConstantExpr{Value: big.NewInt(0), Width: WidthBool}
}

// String returns the string representation of the expression.
func (e *ConstantExpr) String() string {
	return fmt.Sprintf("(const %s %d)", e.Value, e.Width)
}

// IsTrue returns true if this is a boolean true expression.
func (e *ConstantExpr) IsTrue() bool {
	return e.Width == WidthBool && e.Value.Sign() != 0
}

// IsFalse returns true if this is a boolean false expression.
func (e *ConstantExpr) IsFalse() bool {
	return e.Width == WidthBool && e.Value.Sign() == 0
}

// IsZero returns true if the value is zero.
func (e *ConstantExpr) IsZero() bool { return e.Value.Sign() == 0 }

// IsOne returns true if the value is one.
func (e *ConstantExpr) IsOne() bool { return e.Value.Cmp(big.NewInt(1)) == 0 }

// IsAllOnes returns true if all bits in the value are one.
func (e *ConstantExpr) IsAllOnes() bool {
	return e.Value.Cmp(bitmask(e.Width)) == 0
}

// Word returns the value as a 256-bit machine word.
// Returns false if the value does not fit in 256 bits.
func (e *ConstantExpr) Word() (*uint256.Int, bool) {
	word, overflow := uint256.FromBig(e.Value)
	return word, !overflow
}

// Add returns the sum of e and other, wrapped to the width.
func (e *ConstantExpr) Add(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "add: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExpr(new(big.Int).Add(e.Value, other.Value), e.Width)
}

// Sub returns the difference of e and other, wrapped to the width.
func (e *ConstantExpr) Sub(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "sub: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExpr(new(big.Int).Sub(e.Value, other.Value), e.Width)
}

// Mul returns the product of e and other, wrapped to the width.
func (e *ConstantExpr) Mul(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "mul: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExpr(new(big.Int).Mul(e.Value, other.Value), e.Width)
}

// UDiv returns the quotient of the unsigned division of e by other.
// Panic if other is zero.
func (e *ConstantExpr) UDiv(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "udiv: width mismatch: %d != %d", e.Width, other.Width)
	assert(!other.IsZero(), "udiv: division by zero")
	return NewConstantExpr(new(big.Int).Div(e.Value, other.Value), e.Width)
}

// And returns the bitwise AND of e and other.
func (e *ConstantExpr) And(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "and: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExpr(new(big.Int).And(e.Value, other.Value), e.Width)
}

// Or returns the bitwise OR of e and other.
func (e *ConstantExpr) Or(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "or: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExpr(new(big.Int).Or(e.Value, other.Value), e.Width)
}

// Xor returns the bitwise XOR of e and other.
func (e *ConstantExpr) Xor(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "xor: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExpr(new(big.Int).Xor(e.Value, other.Value), e.Width)
}

// Not returns the complement of e. Boolean constants are logically negated.
func (e *ConstantExpr) Not() *ConstantExpr {
	if e.Width == WidthBool {
		return NewBoolConstantExpr(e.IsFalse())
	}
	return NewConstantExpr(new(big.Int).Xor(e.Value, bitmask(e.Width)), e.Width)
}

// Eq returns a boolean constant for e == other.
func (e *ConstantExpr) Eq(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "eq: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.Value.Cmp(other.Value) == 0)
}

// Ult returns a boolean constant for e < other (unsigned).
func (e *ConstantExpr) Ult(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "ult: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.Value.Cmp(other.Value) < 0)
}

// Ule returns a boolean constant for e <= other (unsigned).
func (e *ConstantExpr) Ule(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "ule: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.Value.Cmp(other.Value) <= 0)
}

// ZExt returns e zero-extended to width w.
func (e *ConstantExpr) ZExt(w uint) *ConstantExpr {
	return NewConstantExpr(e.Value, w)
}

// SExt returns e sign-extended to width w.
func (e *ConstantExpr) SExt(w uint) *ConstantExpr {
	if e.Value.Bit(int(e.Width)-1) == 0 {
		return NewConstantExpr(e.Value, w)
	}
	pad := new(big.Int).Xor(bitmask(w), bitmask(e.Width))
	return NewConstantExpr(new(big.Int).Or(e.Value, pad), w)
}

// Extract returns the bits of e at [offset, offset+width).
func (e *ConstantExpr) Extract(offset, width uint) *ConstantExpr {
	return NewConstantExpr(new(big.Int).Rsh(e.Value, offset), width)
}

// CompareExpr returns an integer comparing two expressions structurally.
// The ordering is arbitrary but total and stable.
func CompareExpr(a, b Expr) int {
	if ret := compareInt(exprTypeRank(a), exprTypeRank(b)); ret != 0 {
		return ret
	}

	switch a := a.(type) {
	case *ConstantExpr:
		b := b.(*ConstantExpr)
		if ret := compareInt(int(a.Width), int(b.Width)); ret != 0 {
			return ret
		}
		return a.Value.Cmp(b.Value)
	case *SymbolExpr:
		b := b.(*SymbolExpr)
		if ret := compareInt(int(a.Width), int(b.Width)); ret != 0 {
			return ret
		}
		return compareString(a.Name, b.Name)
	case *BinaryExpr:
		b := b.(*BinaryExpr)
		if ret := compareInt(int(a.Op), int(b.Op)); ret != 0 {
			return ret
		} else if ret := CompareExpr(a.LHS, b.LHS); ret != 0 {
			return ret
		}
		return CompareExpr(a.RHS, b.RHS)
	case *NotExpr:
		return CompareExpr(a.Expr, b.(*NotExpr).Expr)
	case *CastExpr:
		b := b.(*CastExpr)
		if ret := compareInt(int(a.Width), int(b.Width)); ret != 0 {
			return ret
		} else if ret := compareBool(a.Signed, b.Signed); ret != 0 {
			return ret
		}
		return CompareExpr(a.Src, b.Src)
	case *ExtractExpr:
		b := b.(*ExtractExpr)
		if ret := compareInt(int(a.Offset), int(b.Offset)); ret != 0 {
			return ret
		} else if ret := compareInt(int(a.Width), int(b.Width)); ret != 0 {
			return ret
		}
		return CompareExpr(a.Expr, b.Expr)
	default:
		panic("unreachable")
	}
}

func exprTypeRank(e Expr) int {
	switch e.(type) {
	case *ConstantExpr:
		return 1
	case *SymbolExpr:
		return 2
	case *BinaryExpr:
		return 3
	case *NotExpr:
		return 4
	case *CastExpr:
		return 5
	case *ExtractExpr:
		return 6
	default:
		panic("unreachable")
	}
}

// FindSymbols returns all unique symbols within exprs, sorted by name.
func FindSymbols(exprs ...Expr) []*SymbolExpr {
	m := make(map[string]*SymbolExpr)
	for _, expr := range exprs {
		findSymbols(expr, m)
	}

	a := make([]*SymbolExpr, 0, len(m))
	for _, sym := range m {
		a = append(a, sym)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Name < a[j].Name })
	return a
}

func findSymbols(expr Expr, m map[string]*SymbolExpr) {
	switch expr := expr.(type) {
	case *ConstantExpr:
	case *SymbolExpr:
		m[expr.Name] = expr
	case *BinaryExpr:
		findSymbols(expr.LHS, m)
		findSymbols(expr.RHS, m)
	case *NotExpr:
		findSymbols(expr.Expr, m)
	case *CastExpr:
		findSymbols(expr.Src, m)
	case *ExtractExpr:
		findSymbols(expr.Expr, m)
	default:
		panic("unreachable")
	}
}

// bitmask returns a big integer with the low w bits set.
func bitmask(w uint) *big.Int {
	mask := new(big.Int).Lsh(big.NewInt(1), w)
	return mask.Sub(mask, big.NewInt(1))
}

func compareInt(a, b int) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareString(a, b string) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareBool(a, b bool) int {
	if a == b {
		return 0
	} else if !a {
		return -1
	}
	return 1
}
