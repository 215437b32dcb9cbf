package greed

import (
	"fmt"
	"sort"
)

// FakeExitBlockID is the id of the synthetic exit block injected into every
// program. A private call whose call site has no statically known successor
// saves this block's statement as its return location, so a private return
// never needs to special-case "no caller".
const FakeExitBlockID = "fake_exit"

// Project is the read-only index over a decompiled program: every
// statement, basic block and function, addressable by identifier.
type Project struct {
	// Solver backs feasibility checks on states created for this project.
	Solver Solver

	blockAt     map[string]*Block
	functionAt  map[string]*Function
	statementAt map[string]*Statement

	// Model-stub behaviors installed over function entry statements,
	// keyed by entry statement id.
	simProcedures map[string]*SimProcedure

	factory *Factory
}

// NewProject returns a project indexing the given blocks, functions and
// statements. A fake exit block is injected if the program does not already
// carry one.
func NewProject(blocks map[string]*Block, functions map[string]*Function, statements map[string]*Statement) *Project {
	p := &Project{
		blockAt:       blocks,
		functionAt:    functions,
		statementAt:   statements,
		simProcedures: make(map[string]*SimProcedure),
	}
	p.factory = &Factory{project: p}

	if _, ok := p.blockAt[FakeExitBlockID]; !ok {
		stmt := &Statement{Opcode: OpStop, ID: FakeExitBlockID, BlockID: FakeExitBlockID}
		p.statementAt[stmt.ID] = stmt
		p.blockAt[FakeExitBlockID] = &Block{ID: FakeExitBlockID, Statements: []*Statement{stmt}}
	}
	return p
}

// Factory returns the project's object factory.
func (p *Project) Factory() *Factory { return p.factory }

// Block returns the block with the given id, or nil.
func (p *Project) Block(id string) *Block { return p.blockAt[id] }

// Function returns the function with the given id, or nil.
func (p *Project) Function(id string) *Function { return p.functionAt[id] }

// Functions returns every function in the program, sorted by id.
func (p *Project) Functions() []*Function {
	fns := make([]*Function, 0, len(p.functionAt))
	for _, fn := range p.functionAt {
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].ID < fns[j].ID })
	return fns
}

// Statement returns the statement with the given id, or nil.
func (p *Project) Statement(id string) *Statement { return p.statementAt[id] }

// FakeExit returns the synthetic exit block.
func (p *Project) FakeExit() *Block { return p.blockAt[FakeExitBlockID] }

// InstallSimProcedure replaces the entry statement of the function with the
// given id so that every call into it executes proc instead of the
// function's real body. Must be called before execution begins.
func (p *Project) InstallSimProcedure(functionID string, proc *SimProcedure) error {
	fn := p.Function(functionID)
	if fn == nil {
		return fmt.Errorf("greed: cannot install %s: unknown function %q", proc.InternalName, functionID)
	}
	entry := fn.Entry
	if entry == nil || len(entry.Statements) == 0 {
		return fmt.Errorf("greed: cannot install %s: function %q has no entry block", proc.InternalName, functionID)
	}

	proc.Function = fn

	old := entry.Statements[0]
	stmt := &Statement{Opcode: OpSimProcedure, ID: old.ID, BlockID: old.BlockID}
	entry.Statements[0] = stmt
	p.statementAt[stmt.ID] = stmt
	p.simProcedures[stmt.ID] = proc
	return nil
}

// simProcedure returns the model stub installed at the given statement id.
func (p *Project) simProcedure(stmtID string) *SimProcedure {
	return p.simProcedures[stmtID]
}

// Block is a basic block of TAC statements.
type Block struct {
	ID         string
	Statements []*Statement

	// Function owning this block.
	Function *Function

	// FallthroughEdge is the block control falls into after the last
	// statement, when one statically exists.
	FallthroughEdge *Block

	// Succ are the intraprocedural successor blocks.
	Succ []*Block
}

// FirstStatement returns the entry statement of the block.
func (b *Block) FirstStatement() *Statement {
	assert(len(b.Statements) > 0, "block %s has no statements", b.ID)
	return b.Statements[0]
}

// Function is a private or public function recovered by the decompiler.
type Function struct {
	ID        string
	Name      string
	Signature string
	IsPublic  bool

	// Arguments are the formal-parameter variable names, in positional
	// order. Private calls bind actuals to these names.
	Arguments []string

	Blocks []*Block
	Entry  *Block
}
