package thermal

import "github.com/google/uuid"

type GateState int

const (
	Idle GateState = iota
	Alerted
)

func (s GateState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Alerted:
		return "alerted"
	default:
		return "unknown"
	}
}

// Action tells the monitor loop what the gate decided for this tick.
type Action int

const (
	ActionNone Action = iota
	// ActionAlert asks the caller to dispatch an alert and call Confirm once
	// it has been delivered.
	ActionAlert
	// ActionRearm means the episode ended; the gate is Idle again and the
	// tracker's back-to-normal flag has already been cleared.
	ActionRearm
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionAlert:
		return "alert"
	case ActionRearm:
		return "rearm"
	default:
		return "unknown"
	}
}

// Gate latches after a delivered alert so each crossing episode alerts once.
type Gate struct {
	state   GateState
	episode string
}

func NewGate() *Gate {
	return &Gate{state: Idle}
}

// Next consults the tracker and advances the gate. The only tracker mutation
// it performs is clearing backToNormal, and it always does so in the same
// step as the gate transition that consumes it.
func (g *Gate) Next(t *Tracker) Action {
	switch g.state {
	case Alerted:
		if t.BackToNormal() {
			g.state = Idle
			t.ResetBackToNormal()
			return ActionRearm
		}
	case Idle:
		if t.BackToNormal() {
			// The reading came back down before an alert was ever delivered.
			t.ResetBackToNormal()
			return ActionNone
		}
		if t.Changed() {
			return ActionAlert
		}
	}
	return ActionNone
}

// Confirm records a delivered alert and opens a new episode.
func (g *Gate) Confirm() string {
	g.state = Alerted
	g.episode = uuid.NewString()
	return g.episode
}

func (g *Gate) State() GateState { return g.state }

// Episode is the id of the current or most recently closed episode, empty
// before the first alert.
func (g *Gate) Episode() string { return g.episode }
