package greed

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Stash names used by the simulation manager.
const (
	StashActive    = "active"    // states waiting to be stepped
	StashFound     = "found"     // states matched by the find predicate
	StashPruned    = "pruned"    // states dropped as infeasible
	StashDeadended = "deadended" // states that halted or ran off the program
	StashErrored   = "errored"   // states aborted by a fatal error
)

// FindFunc classifies a state as interesting before it is stepped.
type FindFunc func(s *State) bool

// SimulationManager drives exploration by repeatedly stepping states from
// the active stash through their current statement and sorting the
// successors into stashes. It terminates the individual paths it manages
// but never decides the overall run; that is the caller's loop.
//
// Exploration order is FIFO: successors go to the back of the active stash.
type SimulationManager struct {
	stashes map[string][]*State
}

// NewSimulationManager returns a manager with entryState as the only
// active state.
func NewSimulationManager(entryState *State) *SimulationManager {
	return &SimulationManager{
		stashes: map[string][]*State{
			StashActive: {entryState},
		},
	}
}

// Stash returns the states currently in the named stash.
func (sm *SimulationManager) Stash(name string) []*State { return sm.stashes[name] }

// Active returns the states waiting to be stepped.
func (sm *SimulationManager) Active() []*State { return sm.stashes[StashActive] }

// Found returns the states matched by the find predicate.
func (sm *SimulationManager) Found() []*State { return sm.stashes[StashFound] }

// Pruned returns the states dropped as infeasible.
func (sm *SimulationManager) Pruned() []*State { return sm.stashes[StashPruned] }

// Deadended returns the states that halted or ran off the program.
func (sm *SimulationManager) Deadended() []*State { return sm.stashes[StashDeadended] }

// Errored returns the states aborted by a fatal error.
func (sm *SimulationManager) Errored() []*State { return sm.stashes[StashErrored] }

// OneFound returns the first found state, or nil if none was found yet.
func (sm *SimulationManager) OneFound() *State {
	if found := sm.stashes[StashFound]; len(found) > 0 {
		return found[0]
	}
	return nil
}

// Move transfers the states matching filter from one stash to another.
// A nil filter matches every state.
func (sm *SimulationManager) Move(from, to string, filter func(s *State) bool) {
	var keep []*State
	for _, state := range sm.stashes[from] {
		if filter == nil || filter(state) {
			sm.stashes[to] = append(sm.stashes[to], state)
		} else {
			keep = append(keep, state)
		}
	}
	sm.stashes[from] = keep
}

// Step takes one state off the active stash and advances it. States
// matching find are stashed as found without being stepped; halted states
// are stashed as deadended. Otherwise the state's current statement
// executes and its successors rejoin the active stash, with an empty
// successor set recorded as pruned. Returns false once no active state
// remains.
func (sm *SimulationManager) Step(find FindFunc) bool {
	active := sm.stashes[StashActive]
	if len(active) == 0 {
		return false
	}
	state := active[0]
	sm.stashes[StashActive] = active[1:]

	if find != nil && find(state) {
		sm.stashes[StashFound] = append(sm.stashes[StashFound], state)
		return true
	}
	if state.Halted() {
		sm.stashes[StashDeadended] = append(sm.stashes[StashDeadended], state)
		return true
	}

	stmt := state.CurrStmt()
	if stmt == nil {
		state.fail(fmt.Errorf("greed: no statement at pc %q", state.PC()))
		sm.stashes[StashErrored] = append(sm.stashes[StashErrored], state)
		return true
	}
	log.Debugf("stepping state %s at %s", state.XID(), stmt)

	successors, err := stmt.Execute(state)
	if err != nil {
		state.fail(err)
		sm.stashes[StashErrored] = append(sm.stashes[StashErrored], state)
		return true
	}
	if len(successors) == 0 {
		log.Debugf("pruned state %s at %s", state.XID(), stmt.ID)
		sm.stashes[StashPruned] = append(sm.stashes[StashPruned], state)
		return true
	}
	sm.stashes[StashActive] = append(sm.stashes[StashActive], successors...)
	return true
}

// Run steps the active stash until it drains or, when find is non-nil,
// until a state lands in the found stash.
func (sm *SimulationManager) Run(find FindFunc) {
	for sm.Step(find) {
		if find != nil && len(sm.stashes[StashFound]) > 0 {
			return
		}
	}
}

// Dump returns the stash sizes as a string.
func (sm *SimulationManager) Dump() string {
	return fmt.Sprintf("<active: %d, found: %d, pruned: %d, deadended: %d, errored: %d>",
		len(sm.stashes[StashActive]), len(sm.stashes[StashFound]), len(sm.stashes[StashPruned]),
		len(sm.stashes[StashDeadended]), len(sm.stashes[StashErrored]))
}
