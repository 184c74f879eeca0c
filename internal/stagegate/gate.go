package stagegate

import (
	"fmt"
	"strings"
)

// State is a wizard stage's navigability.
type State string

const (
	StateLocked    State = "locked"
	StateLive      State = "live"
	StateCompleted State = "completed"
)

// DefaultStages is the audit setup wizard in order.
var DefaultStages = []string{
	"Participants",
	"Target Contests",
	"Opportunistic Contests",
	"Audit Settings",
	"Review & Launch",
}

// Outcome reports what an activation request did.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeActivated Outcome = "activated"
	OutcomeDeferred  Outcome = "deferred"
)

// Transition describes a requested move between stages.
type Transition struct {
	From      int
	To        int
	FromTitle string
	ToTitle   string
	// Reason is shown to the user when the move needs confirmation.
	Reason string
}

// ConfirmPolicy decides whether a move must be confirmed before it happens.
// Implementations see the state vector at request time.
type ConfirmPolicy interface {
	RequiresConfirmation(t Transition, states []State) (bool, string)
}

// ConfirmFunc adapts a function to ConfirmPolicy.
type ConfirmFunc func(t Transition, states []State) (bool, string)

// RequiresConfirmation calls f.
func (f ConfirmFunc) RequiresConfirmation(t Transition, states []State) (bool, string) {
	return f(t, states)
}

// ConfirmBackward asks for confirmation when moving back to a completed
// stage, since saving it again resets every later stage.
var ConfirmBackward = ConfirmFunc(func(t Transition, states []State) (bool, string) {
	if t.To >= t.From || t.To < 0 || t.To >= len(states) {
		return false, ""
	}
	if states[t.To] != StateCompleted {
		return false, ""
	}
	return true, fmt.Sprintf("Editing %s will require re-reviewing every later stage.", t.ToTitle)
})

// Item is one sidebar entry.
type Item struct {
	Title  string
	State  State
	Active bool
}

// Gate governs navigation through an ordered list of stages. Stage states
// are derived from the highest completed index and the active index; nothing
// else is stored per stage.
type Gate struct {
	stages  []string
	active  int
	highest int
	policy  ConfirmPolicy
	pending *Transition
}

// Option customizes a Gate.
type Option func(*Gate)

// WithConfirmPolicy installs a confirmation policy for unforced moves.
func WithConfirmPolicy(p ConfirmPolicy) Option {
	return func(g *Gate) { g.policy = p }
}

// WithCompleted restores a gate whose first n stages are already complete.
// The active stage becomes the first incomplete one.
func WithCompleted(n int) Option {
	return func(g *Gate) {
		if n <= 0 {
			return
		}
		if n > len(g.stages) {
			n = len(g.stages)
		}
		g.highest = n - 1
		g.active = n
		if g.active >= len(g.stages) {
			g.active = len(g.stages) - 1
		}
	}
}

// New builds a gate for the given stage titles. Order is fixed for the
// gate's lifetime.
func New(stages []string, opts ...Option) (*Gate, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("stagegate: at least one stage is required")
	}
	seen := make(map[string]struct{}, len(stages))
	titles := make([]string, len(stages))
	for i, s := range stages {
		title := strings.TrimSpace(s)
		if title == "" {
			return nil, fmt.Errorf("stagegate: stage %d has no title", i)
		}
		key := strings.ToLower(title)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("stagegate: duplicate stage %q", title)
		}
		seen[key] = struct{}{}
		titles[i] = title
	}
	g := &Gate{stages: titles, highest: -1}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Len returns the number of stages.
func (g *Gate) Len() int { return len(g.stages) }

// Titles returns the stage titles in order.
func (g *Gate) Titles() []string { return append([]string(nil), g.stages...) }

// Active returns the index of the active stage.
func (g *Gate) Active() int { return g.active }

// ActiveTitle returns the title of the active stage.
func (g *Gate) ActiveTitle() string { return g.stages[g.active] }

// HighestCompleted returns the index of the last completed stage, or -1.
func (g *Gate) HighestCompleted() int { return g.highest }

// Done reports whether every stage is complete.
func (g *Gate) Done() bool { return g.highest == len(g.stages)-1 }

// States returns the derived state vector.
func (g *Gate) States() []State {
	return Derive(len(g.stages), g.highest, g.active)
}

// State returns the derived state of one stage. Out-of-range indices are
// locked.
func (g *Gate) State(index int) State {
	if index < 0 || index >= len(g.stages) {
		return StateLocked
	}
	return g.States()[index]
}

// Items returns sidebar entries for rendering.
func (g *Gate) Items() []Item {
	states := g.States()
	items := make([]Item, len(g.stages))
	for i, title := range g.stages {
		items[i] = Item{Title: title, State: states[i], Active: i == g.active}
	}
	return items
}

// Derive computes the state vector for n stages. Stages up to highest are
// completed, the stages from there to the active stage are live, the rest
// are locked. The active stage always shows live.
func Derive(n, highest, active int) []State {
	if n <= 0 {
		return nil
	}
	reach := highest + 1
	if active > reach {
		reach = active
	}
	states := make([]State, n)
	for i := range states {
		switch {
		case i == active:
			states[i] = StateLive
		case i <= highest:
			states[i] = StateCompleted
		case i <= reach:
			states[i] = StateLive
		default:
			states[i] = StateLocked
		}
	}
	return states
}

// Activate moves to stage index. Locked or unknown stages are ignored. An
// unforced move that the policy wants confirmed is parked until Confirm or
// Cancel; a forced move skips the policy.
func (g *Gate) Activate(index int, force bool) Outcome {
	if g.State(index) == StateLocked {
		return OutcomeIgnored
	}
	if index == g.active {
		g.pending = nil
		return OutcomeActivated
	}
	t := Transition{
		From:      g.active,
		To:        index,
		FromTitle: g.stages[g.active],
		ToTitle:   g.stages[index],
	}
	if !force && g.policy != nil {
		if need, reason := g.policy.RequiresConfirmation(t, g.States()); need {
			t.Reason = reason
			g.pending = &t
			return OutcomeDeferred
		}
	}
	g.active = index
	g.pending = nil
	return OutcomeActivated
}

// ActivateByTitle is Activate keyed by stage title (case-insensitive).
func (g *Gate) ActivateByTitle(title string, force bool) Outcome {
	for i, s := range g.stages {
		if strings.EqualFold(s, strings.TrimSpace(title)) {
			return g.Activate(i, force)
		}
	}
	return OutcomeIgnored
}

// Next activates the stage after the active one.
func (g *Gate) Next() Outcome {
	return g.Activate(g.active+1, false)
}

// Pending returns the move awaiting confirmation, if any.
func (g *Gate) Pending() (Transition, bool) {
	if g.pending == nil {
		return Transition{}, false
	}
	return *g.pending, true
}

// Confirm applies the parked move.
func (g *Gate) Confirm() Outcome {
	if g.pending == nil {
		return OutcomeIgnored
	}
	to := g.pending.To
	g.pending = nil
	return g.Activate(to, true)
}

// Cancel drops the parked move.
func (g *Gate) Cancel() bool {
	if g.pending == nil {
		return false
	}
	g.pending = nil
	return true
}

// Complete records that stage index was saved. Only the stage at the
// completion frontier can complete; earlier stages are already complete and
// later ones must wait for their predecessors.
func (g *Gate) Complete(index int) bool {
	if index != g.highest+1 || index >= len(g.stages) {
		return false
	}
	if g.State(index) == StateLocked {
		return false
	}
	g.highest = index
	return true
}

// Refresh forgets every completion. Editing an earlier stage may change the
// inputs of any later stage, so nothing downstream keeps its completed mark.
func (g *Gate) Refresh() {
	g.highest = -1
	g.pending = nil
}
