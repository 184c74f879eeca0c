package ballot

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kingrea/arlo-client/internal/audit"
)

type recordingSubmitter struct {
	calls []Submission
	err   error
}

func (r *recordingSubmitter) SubmitBallot(_ context.Context, sub Submission) error {
	r.calls = append(r.calls, sub)
	return r.err
}

type countingNavigator struct {
	previous int
	next     int
}

func (n *countingNavigator) PreviousBallot() { n.previous++ }
func (n *countingNavigator) NextBallot()     { n.next++ }

func reviewedGuard(t *testing.T, submitter Submitter) (*Guard, *countingNavigator) {
	t.Helper()
	m := newTestMachine(t, 2112)
	mustRecord(t)(m.ToggleChoice("contest-1", "choice-1"))
	if ok, err := m.RequestReview(); !ok || err != nil {
		t.Fatalf("review: ok=%v err=%v", ok, err)
	}
	nav := &countingNavigator{}
	g, err := NewGuard(m, submitter, nav)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	return g, nav
}

func TestGuardSubmitsOnceUnderDoubleTrigger(t *testing.T) {
	sub := &recordingSubmitter{}
	g, nav := reviewedGuard(t, sub)
	ctx := context.Background()

	ran, err := g.Submit(ctx)
	if err != nil || !ran {
		t.Fatalf("first submit: ran=%v err=%v", ran, err)
	}
	ran, err = g.Submit(ctx)
	if err != nil || ran {
		t.Fatalf("second submit must be a no-op: ran=%v err=%v", ran, err)
	}
	if len(sub.calls) != 1 {
		t.Fatalf("persist calls = %d, want 1", len(sub.calls))
	}
	if nav.next != 1 {
		t.Fatalf("next ballot calls = %d, want 1", nav.next)
	}
	want := []audit.ContestInterpretation{{ContestID: "contest-1", Interpretation: audit.Vote("choice-1")}}
	if !reflect.DeepEqual(sub.calls[0].Interpretations, want) {
		t.Fatalf("persisted %+v, want %+v", sub.calls[0].Interpretations, want)
	}
	if sub.calls[0].Comment != nil {
		t.Fatalf("no comment was typed, got %q", *sub.calls[0].Comment)
	}
}

func TestGuardBeginBlocksSecondTriggerBeforePersistCompletes(t *testing.T) {
	sub := &recordingSubmitter{}
	g, nav := reviewedGuard(t, sub)

	first, ok := g.Begin()
	if !ok {
		t.Fatalf("first trigger should begin")
	}
	if _, ok := g.Begin(); ok {
		t.Fatalf("second trigger must observe submitted state")
	}
	if err := first.Finish(first.Persist(context.Background())); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := first.Finish(nil); err != nil {
		t.Fatalf("finish twice: %v", err)
	}
	if len(sub.calls) != 1 || nav.next != 1 {
		t.Fatalf("calls=%d next=%d, want 1/1", len(sub.calls), nav.next)
	}
}

func TestGuardIgnoresTriggerBeforeReview(t *testing.T) {
	sub := &recordingSubmitter{}
	m := newTestMachine(t, 2112)
	g, err := NewGuard(m, sub, nil)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	if ran, err := g.Submit(context.Background()); ran || err != nil {
		t.Fatalf("submit while unreviewed: ran=%v err=%v", ran, err)
	}
	if len(sub.calls) != 0 {
		t.Fatalf("persist must not run, got %d calls", len(sub.calls))
	}
}

func TestGuardSurfacesPersistFailureWithoutAdvancing(t *testing.T) {
	boom := errors.New("503 from server")
	sub := &recordingSubmitter{err: boom}
	g, nav := reviewedGuard(t, sub)

	ran, err := g.Submit(context.Background())
	if !ran {
		t.Fatalf("submit should have run")
	}
	var serr *SubmitError
	if !errors.As(err, &serr) || !errors.Is(err, boom) {
		t.Fatalf("expected SubmitError wrapping boom, got %v", err)
	}
	if !serr.Temporary() {
		t.Fatalf("persist failures are retryable")
	}
	if nav.next != 0 {
		t.Fatalf("failed submit must not advance, got %d", nav.next)
	}
	m := g.Machine()
	if m.State() != StateSubmitted || !errors.Is(m.Failure(), boom) {
		t.Fatalf("state=%s failure=%v", m.State(), m.Failure())
	}

	if ran, _ := g.Submit(context.Background()); ran {
		t.Fatalf("guard must not retry on its own")
	}

	if !m.EditAgain() {
		t.Fatalf("edit again should reopen a failed submission")
	}
	if !m.Interpretation("contest-1").Selected("choice-1") {
		t.Fatalf("draft should survive the failed submit")
	}
	sub.err = nil
	if ok, err := m.RequestReview(); !ok || err != nil {
		t.Fatalf("review: ok=%v err=%v", ok, err)
	}
	if ran, err := g.Submit(context.Background()); !ran || err != nil {
		t.Fatalf("retry: ran=%v err=%v", ran, err)
	}
	if len(sub.calls) != 2 || nav.next != 1 {
		t.Fatalf("calls=%d next=%d, want 2/1", len(sub.calls), nav.next)
	}
}

func TestGuardBackNavigatesWithoutPersisting(t *testing.T) {
	sub := &recordingSubmitter{}
	g, nav := reviewedGuard(t, sub)
	g.Back()
	if nav.previous != 1 || len(sub.calls) != 0 {
		t.Fatalf("previous=%d calls=%d", nav.previous, len(sub.calls))
	}
	if g.Machine().State() != StatePendingReview {
		t.Fatalf("back must not change state, got %s", g.Machine().State())
	}
}

func TestNewGuardRequiresCollaborators(t *testing.T) {
	if _, err := NewGuard(nil, &recordingSubmitter{}, nil); err == nil {
		t.Fatalf("expected error for nil machine")
	}
	m := newTestMachine(t, 2112)
	if _, err := NewGuard(m, nil, nil); err == nil {
		t.Fatalf("expected error for nil submitter")
	}
}
