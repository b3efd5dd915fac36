package build

import "fmt"

// State is a step of one build
type State int

const (
	Configured State = iota
	Resolved
	FingerprintComputed
	CacheHit
	CacheMiss
	Invoking
	Compiled
	Stored
	Completed
	Failed
)

var stateNames = map[State]string{
	Configured:          "configured",
	Resolved:            "resolved",
	FingerprintComputed: "fingerprint-computed",
	CacheHit:            "cache-hit",
	CacheMiss:           "cache-miss",
	Invoking:            "invoking",
	Compiled:            "compiled",
	Stored:              "stored",
	Completed:           "completed",
	Failed:              "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// transitions lists the legal successors of each state. Failed is reachable
// from every non-terminal state.
var transitions = map[State][]State{
	Configured:          {Resolved},
	Resolved:            {FingerprintComputed},
	FingerprintComputed: {CacheHit, CacheMiss},
	CacheHit:            {Completed},
	CacheMiss:           {Invoking},
	Invoking:            {Compiled},
	Compiled:            {Stored},
	Stored:              {Completed},
}

// CanTransition reports whether from -> to is a legal step
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}

	if to == Failed {
		return true
	}

	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}
