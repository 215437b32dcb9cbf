package greed

import "fmt"

// EntryBlockID is the block every execution starts at.
const EntryBlockID = "0x0"

// Factory constructs the moving parts of an analysis: entry states and
// simulation managers bound to a project.
type Factory struct {
	project *Project
}

// EntryState returns a fresh state positioned at the program entry point.
func (f *Factory) EntryState(xid string) (*State, error) {
	entry := f.project.Block(EntryBlockID)
	if entry == nil {
		return nil, fmt.Errorf("greed: project has no entry block %q", EntryBlockID)
	}
	state := NewState(f.project, xid)
	state.SetPC(entry.FirstStatement().ID)
	return state, nil
}

// SimulationManager returns a manager exploring from the given entry state.
func (f *Factory) SimulationManager(entryState *State) *SimulationManager {
	return NewSimulationManager(entryState)
}

// Block returns the block with the given id, or nil.
func (f *Factory) Block(id string) *Block { return f.project.Block(id) }

// Function returns the function with the given id, or nil.
func (f *Factory) Function(id string) *Function { return f.project.Function(id) }

// Statement returns the statement with the given id, or nil.
func (f *Factory) Statement(id string) *Statement { return f.project.Statement(id) }
