package lifecycle

// State is a node in the per-agent lifecycle state machine.
type State string

const (
	StateUnloaded State = "Unloaded"
	StateLoaded   State = "Loaded"
	StateRunning  State = "Running"
	StateDraining State = "Draining"
	StateStopped  State = "Stopped"
	StateFailed   State = "Failed"
)

// action names the transition being requested; used only for the legal
// transition table and in logs/events, never by callers directly.
type action string

const (
	actionLoad      action = "load"
	actionStart     action = "start"
	actionSuspend   action = "suspend"
	actionDrain     action = "drain"
	actionFinish    action = "finish"
	actionTrap      action = "trap"
	actionRecover   action = "recover"
	actionTerminate action = "terminate"
)

// transitions enumerates every legal (from, action) -> to edge in the
// state machine described by the operations contract. terminate is
// handled separately since it is legal from any non-Stopped state.
var transitions = map[State]map[action]State{
	StateUnloaded: {
		actionLoad: StateLoaded,
	},
	StateLoaded: {
		actionStart: StateRunning,
	},
	StateRunning: {
		actionSuspend: StateLoaded,
		actionDrain:   StateDraining,
		actionTrap:    StateFailed,
	},
	StateDraining: {
		actionFinish: StateStopped,
	},
	StateFailed: {
		actionRecover: StateLoaded,
	},
}

// nextState resolves the (from, action) edge, reporting ok=false if the
// transition is illegal. terminate is always legal except from Stopped
// and is handled by the caller before consulting this table.
func nextState(from State, a action) (State, bool) {
	edges, ok := transitions[from]
	if !ok {
		return "", false
	}
	to, ok := edges[a]
	return to, ok
}

// terminal reports whether a state accepts no further transitions
// (Stopped is the only one; Unloaded can still be loaded).
func terminal(s State) bool {
	return s == StateStopped
}
