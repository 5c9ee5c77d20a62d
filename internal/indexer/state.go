package indexer

import "fmt"

// State is a step of one indexing run
type State int32

const (
	StateInit State = iota
	StateLedgerLoaded
	StateWalking
	StateChunking
	StateEmbedding
	StateUpserting
	StateLedgerSaved
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:         "INIT",
	StateLedgerLoaded: "LEDGER_LOADED",
	StateWalking:      "WALKING",
	StateChunking:     "CHUNKING",
	StateEmbedding:    "EMBEDDING",
	StateUpserting:    "UPSERTING",
	StateLedgerSaved:  "LEDGER_SAVED",
	StateDone:         "DONE",
	StateFailed:       "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}

// transitions lists the legal successors of each state. FAILED is reachable
// from every non-terminal state and is checked separately.
var transitions = map[State][]State{
	StateInit:         {StateLedgerLoaded},
	StateLedgerLoaded: {StateWalking},
	StateWalking:      {StateChunking},
	StateChunking:     {StateEmbedding, StateLedgerSaved},
	StateEmbedding:    {StateUpserting, StateEmbedding, StateLedgerSaved},
	StateUpserting:    {StateEmbedding, StateLedgerSaved},
	StateLedgerSaved:  {StateDone},
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether to may follow s
func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
