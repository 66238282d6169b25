package agent

import (
	"fmt"
	"strings"
)

// State is a step of the reasoning cycle.
type State string

const (
	StateReceived State = "RECEIVED"
	StateFastPath State = "FAST_PATH"
	StateAnalyze  State = "ANALYZE"
	StatePlan     State = "PLAN"
	StateAct      State = "ACT"
	StateRespond  State = "RESPOND"
	StateDone     State = "DONE"
	StateError    State = "ERROR"
)

// TransitionTable lists the states reachable from each state.
type TransitionTable map[State][]State

// CycleTransitions is the reasoning cycle. PLAN and ACT are skipped when no
// actions are registered. Any non-terminal state may move to ERROR.
var CycleTransitions = TransitionTable{
	StateReceived: {StateFastPath, StateAnalyze},
	StateFastPath: {StateRespond},
	StateAnalyze:  {StatePlan, StateRespond},
	StatePlan:     {StateAct},
	StateAct:      {StateRespond},
	StateRespond:  {StateDone},
	StateDone:     {},
	StateError:    {},
}

// IsTerminal reports whether no transition leaves s.
func (t TransitionTable) IsTerminal(s State) bool {
	return len(t[s]) == 0
}

// Allows reports whether from → to is a legal move.
func (t TransitionTable) Allows(from, to State) bool {
	if to == StateError {
		return !t.IsTerminal(from)
	}
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// cycle tracks one turn's position in the table.
type cycle struct {
	table TransitionTable
	state State
	path  []State
}

func newCycle(table TransitionTable) *cycle {
	return &cycle{table: table, state: StateReceived, path: []State{StateReceived}}
}

func (c *cycle) to(next State) error {
	if !c.table.Allows(c.state, next) {
		return fmt.Errorf("invalid transition %s -> %s", c.state, next)
	}
	c.state = next
	c.path = append(c.path, next)
	return nil
}

func (c *cycle) String() string {
	parts := make([]string, len(c.path))
	for i, s := range c.path {
		parts[i] = string(s)
	}
	return strings.Join(parts, " -> ")
}
