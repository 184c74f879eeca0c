package ballot

import (
	"context"
	"fmt"
)

// Submitter persists a finalized ballot.
type Submitter interface {
	SubmitBallot(ctx context.Context, sub Submission) error
}

// Navigator moves the board between assigned ballots.
type Navigator interface {
	PreviousBallot()
	NextBallot()
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, sub Submission) error

// SubmitBallot calls f.
func (f SubmitterFunc) SubmitBallot(ctx context.Context, sub Submission) error {
	return f(ctx, sub)
}

// Guard wraps the "Submit & Next Ballot" action so repeated triggers persist
// and advance at most once. The PendingReview -> Submitted transition is the
// only lock.
type Guard struct {
	machine   *Machine
	submitter Submitter
	nav       Navigator
}

// NewGuard wires a machine to its persistence and navigation collaborators.
func NewGuard(m *Machine, s Submitter, nav Navigator) (*Guard, error) {
	if m == nil {
		return nil, fmt.Errorf("ballot: guard requires a machine")
	}
	if s == nil {
		return nil, fmt.Errorf("ballot: guard requires a submitter")
	}
	return &Guard{machine: m, submitter: s, nav: nav}, nil
}

// Machine returns the guarded machine.
func (g *Guard) Machine() *Machine { return g.machine }

// Pending is a submission that passed the state check and now needs its
// persistence call. Persist does only I/O and may run off the event loop;
// Finish must run on the goroutine that owns the machine.
type Pending struct {
	guard      *Guard
	submission Submission
	finished   bool
}

// Submission returns the frozen payload.
func (p *Pending) Submission() Submission { return cloneSubmission(p.submission) }

// Persist calls the submitter once.
func (p *Pending) Persist(ctx context.Context) error {
	return p.guard.submitter.SubmitBallot(ctx, cloneSubmission(p.submission))
}

// Finish records the persistence outcome. On success the navigator advances
// to the next ballot; on failure the error is returned as a *SubmitError and
// the ballot stays submitted until EditAgain re-opens it.
func (p *Pending) Finish(err error) error {
	if p.finished {
		return nil
	}
	p.finished = true
	m := p.guard.machine
	if err != nil {
		m.markFailed(err)
		return &SubmitError{Key: p.submission.Key, Err: err}
	}
	m.markAccepted()
	if p.guard.nav != nil {
		p.guard.nav.NextBallot()
	}
	return nil
}

// Begin performs the synchronous half of a submit: it checks the machine is
// awaiting confirmation and freezes it. A second trigger sees Submitted and
// gets false.
func (g *Guard) Begin() (*Pending, bool) {
	if g.machine.State() != StatePendingReview {
		return nil, false
	}
	sub, ok := g.machine.ConfirmSubmit()
	if !ok {
		return nil, false
	}
	return &Pending{guard: g, submission: sub}, true
}

// Submit runs the whole submit-and-advance sequence inline. The bool reports
// whether this call performed it.
func (g *Guard) Submit(ctx context.Context) (bool, error) {
	pending, ok := g.Begin()
	if !ok {
		return false, nil
	}
	return true, pending.Finish(pending.Persist(ctx))
}

// Back asks the navigator for the previous ballot. Nothing is persisted.
func (g *Guard) Back() {
	if g.nav != nil {
		g.nav.PreviousBallot()
	}
}
