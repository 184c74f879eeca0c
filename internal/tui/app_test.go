package tui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/arlo-client/internal/audit"
	"github.com/kingrea/arlo-client/internal/ballot"
	"github.com/kingrea/arlo-client/internal/logbook"
	"github.com/kingrea/arlo-client/internal/round"
	"github.com/kingrea/arlo-client/internal/stagegate"
)

func TestRoundScreenCreatesBoardsThenOffersDataEntry(t *testing.T) {
	backend := newFakeBackend()
	backend.boards = nil
	app := newTestApp(t, backend, nil)
	app = runCommands(t, app, app.Init())
	if got := app.round.decision.View; got != round.ViewBoardSetup {
		t.Fatalf("view = %s, want board setup", got)
	}
	if got := app.round.decision.Heading; got != "Round 1 Audit Board Setup" {
		t.Fatalf("heading = %q", got)
	}
	app.Update(runes("2"))
	model, cmd := app.Update(key(tea.KeyEnter))
	app = runCommands(t, model, cmd)
	if len(backend.created) != 2 || backend.created[1].Name != "Audit Board #2" {
		t.Fatalf("created = %+v", backend.created)
	}
	if got := app.round.decision.View; got != round.ViewStandardBallotDataEntry {
		t.Fatalf("view after setup = %s", got)
	}
}

func TestRoundScreenNoBallotsAssigned(t *testing.T) {
	backend := newFakeBackend()
	backend.count = round.SampleCount{Ballots: 0}
	app := newTestApp(t, backend, nil)
	app = runCommands(t, app, app.Init())
	if got := app.round.decision.View; got != round.ViewNoBallotsAssigned {
		t.Fatalf("view = %s", got)
	}
}

func TestSampleCountFailureStaysLoadingUntilRetry(t *testing.T) {
	backend := newFakeBackend()
	backend.countErr = errors.New("server down")
	app := newTestApp(t, backend, nil)
	app = runCommands(t, app, app.Init())
	if got := app.round.decision.View; got != round.ViewLoading {
		t.Fatalf("view = %s, want loading", got)
	}
	if app.round.loader.Err() == nil {
		t.Fatalf("expected loader error")
	}
	backend.setCountErr(nil)
	model, cmd := app.Update(runes("r"))
	app = runCommands(t, model, cmd)
	if got := app.round.decision.View; got != round.ViewStandardBallotDataEntry {
		t.Fatalf("view after retry = %s", got)
	}
}

func TestBallotEntrySubmitsOnceAndAdvances(t *testing.T) {
	backend := newFakeBackend()
	sub := &recordingSubmitter{}
	app := newTestApp(t, backend, sub)
	app = openDataEntry(t, app)
	view := app.ballot
	if view.index != 0 {
		t.Fatalf("expected first unaudited ballot, got index %d", view.index)
	}

	app.Update(runes("x"))
	app.Update(key(tea.KeyEnter))
	if got := view.machine().State(); got != ballot.StatePendingReview {
		t.Fatalf("state = %s, want pending review", got)
	}
	_, cmd := app.Update(key(tea.KeyEnter))
	if cmd == nil {
		t.Fatalf("expected persist command")
	}
	// A second trigger while persisting must not start another submission.
	if _, again := app.Update(key(tea.KeyEnter)); again != nil {
		t.Fatalf("second submit produced a command")
	}
	app = runCommands(t, app, cmd)
	if sub.count() != 1 {
		t.Fatalf("persist calls = %d, want 1", sub.count())
	}
	if view.index != 1 {
		t.Fatalf("index = %d, want 1 after advance", view.index)
	}
	if view.ballots[0].Status != audit.BallotStatusAudited {
		t.Fatalf("submitted ballot not marked audited")
	}
	got := sub.last()
	if len(got.Interpretations) != 1 || !got.Interpretations[0].Selected("choice-1") {
		t.Fatalf("submission = %+v", got)
	}
}

func TestBallotSubmitFailureCanBeRetried(t *testing.T) {
	backend := newFakeBackend()
	sub := &recordingSubmitter{failures: 1}
	app := newTestApp(t, backend, sub)
	app = openDataEntry(t, app)
	view := app.ballot

	app.Update(runes("x"))
	app.Update(key(tea.KeyEnter))
	model, cmd := app.Update(key(tea.KeyEnter))
	app = runCommands(t, model, cmd)
	m := view.machine()
	if m.State() != ballot.StateSubmitted || m.Failure() == nil {
		t.Fatalf("state = %s failure = %v", m.State(), m.Failure())
	}
	if view.index != 0 || view.problem == "" {
		t.Fatalf("failed submit must stay on the ballot with an error")
	}

	app.Update(runes("e"))
	if m.State() != ballot.StateAuditing {
		t.Fatalf("state after edit = %s", m.State())
	}
	app.Update(key(tea.KeyEnter))
	model, cmd = app.Update(key(tea.KeyEnter))
	app = runCommands(t, model, cmd)
	if sub.count() != 2 || view.index != 1 {
		t.Fatalf("calls = %d index = %d", sub.count(), view.index)
	}
}

func TestBallotBackAndValidation(t *testing.T) {
	backend := newFakeBackend()
	backend.contests = append(backend.contests, audit.Contest{ID: "contest-2", Name: "Measure A", Choices: []audit.Choice{{ID: "yes", Name: "Yes"}}})
	app := newTestApp(t, backend, nil)
	app = openDataEntry(t, app)
	view := app.ballot

	app.Update(runes("x"))
	app.Update(key(tea.KeyEnter))
	if view.machine().State() != ballot.StateAuditing {
		t.Fatalf("incomplete ballot must stay in auditing")
	}
	if view.problem != "Interpretation required for Measure A" {
		t.Fatalf("problem = %q", view.problem)
	}

	app.Update(runes("b"))
	if view.index != 0 {
		t.Fatalf("back from first ballot moved to %d", view.index)
	}
}

func TestJumpToUnassignedBallotRedirects(t *testing.T) {
	backend := newFakeBackend()
	app := newTestApp(t, backend, nil)
	app = openDataEntry(t, app)

	app.Update(runes("/"))
	app.Update(runes("9999"))
	model, cmd := app.Update(key(tea.KeyEnter))
	app = runCommands(t, model, cmd)
	if app.state != stateRound || app.ballot != nil {
		t.Fatalf("expected redirect to round screen, state %d", app.state)
	}

	app = openDataEntry(t, app)
	app.Update(runes("/"))
	app.Update(runes("313"))
	app.Update(key(tea.KeyEnter))
	if app.state != stateBallot || app.ballot.machine().Key().Position != 313 {
		t.Fatalf("jump to assigned ballot failed")
	}
	// 313 was audited in an earlier session, so the draft is seeded.
	if !app.ballot.machine().Interpretation("contest-1").Selected("choice-2") {
		t.Fatalf("expected seeded interpretation")
	}
}

func TestSeededBallotReopensForReview(t *testing.T) {
	backend := newFakeBackend()
	sub := &recordingSubmitter{}
	app := newTestApp(t, backend, sub)
	app = openDataEntry(t, app)

	app.Update(runes("/"))
	app.Update(runes("313"))
	app.Update(key(tea.KeyEnter))
	m := app.ballot.machine()
	if m.State() != ballot.StateUnreviewed {
		t.Fatalf("state = %s, want unreviewed", m.State())
	}
	app.Update(key(tea.KeyEnter))
	if m.State() != ballot.StatePendingReview {
		t.Fatalf("state = %s, want pending review (status %q)", m.State(), app.statusMsg)
	}
	model, cmd := app.Update(key(tea.KeyEnter))
	runCommands(t, model, cmd)
	if sub.count() != 1 || !sub.last().Interpretations[0].Selected("choice-2") {
		t.Fatalf("resubmission = %+v", sub.last())
	}
}

func TestUnseededBallotNeedsInterpretation(t *testing.T) {
	app := newTestApp(t, newFakeBackend(), nil)
	app = openDataEntry(t, app)
	app.Update(key(tea.KeyEnter))
	if got := app.ballot.machine().State(); got != ballot.StateUnreviewed {
		t.Fatalf("state = %s, want unreviewed", got)
	}
	if app.statusMsg != "Record an interpretation for each contest before reviewing." {
		t.Fatalf("status = %q", app.statusMsg)
	}
}

func TestFullyAuditedBoardOpensFinished(t *testing.T) {
	backend := newFakeBackend()
	backend.ballots[0].Status = audit.BallotStatusAudited
	backend.ballots[0].Interpretations = []audit.ContestInterpretation{{ContestID: "contest-1", Interpretation: audit.Vote("choice-1")}}
	app := newTestApp(t, backend, nil)
	app = openDataEntry(t, app)
	if !app.ballot.done {
		t.Fatalf("expected finished view, on ballot %d", app.ballot.index)
	}
	if !strings.Contains(app.ballot.View(), "All 2 ballot(s)") {
		t.Fatalf("view = %q", app.ballot.View())
	}
	app.Update(runes("b"))
	if app.ballot.done || app.ballot.index != 0 {
		t.Fatalf("back should reopen a ballot for correction")
	}
}

func TestSetupWizardFollowsStageGate(t *testing.T) {
	backend := newFakeBackend()
	var saved []int
	app := newTestApp(t, backend, nil, func(o *Options) {
		o.SaveSetup = func(n int) error {
			saved = append(saved, n)
			return nil
		}
	})
	app.Update(key(tea.KeyCtrlS))
	if app.state != stateSetup {
		t.Fatalf("ctrl+s did not open setup")
	}
	gate := app.setup.gate

	app.setup.menu.Select(2)
	app.Update(key(tea.KeyEnter))
	if gate.Active() != 0 {
		t.Fatalf("locked stage opened, active = %d", gate.Active())
	}

	app.Update(key(tea.KeySpace))
	if gate.HighestCompleted() != 0 || gate.Active() != 1 {
		t.Fatalf("highest = %d active = %d", gate.HighestCompleted(), gate.Active())
	}
	if len(saved) != 1 || saved[0] != 1 {
		t.Fatalf("saved = %v", saved)
	}

	app.setup.menu.Select(0)
	app.Update(key(tea.KeyEnter))
	if _, waiting := gate.Pending(); !waiting {
		t.Fatalf("moving back to a completed stage must ask first")
	}
	app.Update(runes("n"))
	if gate.Active() != 1 {
		t.Fatalf("cancel moved the gate to %d", gate.Active())
	}
	app.setup.menu.Select(0)
	app.Update(key(tea.KeyEnter))
	app.Update(runes("y"))
	if gate.Active() != 0 || gate.State(0) != stagegate.StateLive {
		t.Fatalf("confirm failed: active = %d", gate.Active())
	}

	app.Update(key(tea.KeyEsc))
	if app.state != stateRound {
		t.Fatalf("esc did not return to the previous screen")
	}
}

func TestSetupRestoresSavedProgress(t *testing.T) {
	app := newTestApp(t, newFakeBackend(), nil, func(o *Options) { o.SetupCompleted = 2 })
	gate := app.setup.gate
	if gate.HighestCompleted() != 1 || gate.Active() != 2 {
		t.Fatalf("highest = %d active = %d", gate.HighestCompleted(), gate.Active())
	}
}

func TestNewAppRequiresCollaborators(t *testing.T) {
	if _, err := NewApp(Options{}); err == nil {
		t.Fatalf("expected error without backend")
	}
	if _, err := NewApp(Options{Backend: newFakeBackend()}); err == nil {
		t.Fatalf("expected error without submitters")
	}
}

func TestLogPanelShowsSessionEvents(t *testing.T) {
	lb, err := logbook.New(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatalf("logbook: %v", err)
	}
	app, err := NewApp(Options{
		Backend:        newFakeBackend(),
		Submitters:     func(string, string) ballot.Submitter { return &recordingSubmitter{} },
		JurisdictionID: "j1",
	}, WithLogbook(lb))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if panel := app.renderLogPanel(); panel == "" {
		t.Fatalf("expected log panel")
	}
	_, total := lb.Tail(1)
	if total == 0 {
		t.Fatalf("session open was not logged")
	}

	app.logProgress("Sampled 100% of ballots")
	lines, _ := lb.Tail(1)
	if len(lines) != 1 || !strings.Contains(lines[0], "Sampled 100% of ballots") {
		t.Fatalf("progress line = %q", lines)
	}
}

func openDataEntry(t *testing.T, app *App) *App {
	t.Helper()
	app = runCommands(t, app, app.Init())
	if got := app.round.decision.View; got != round.ViewStandardBallotDataEntry {
		t.Fatalf("view = %s, want ballot data entry", got)
	}
	app.Update(key(tea.KeyEnter))
	if app.state != stateBallot || app.ballot == nil {
		t.Fatalf("enter did not open data entry: %s", app.statusMsg)
	}
	return app
}

func newTestApp(t *testing.T, backend *fakeBackend, sub *recordingSubmitter, mutate ...func(*Options)) *App {
	t.Helper()
	if sub == nil {
		sub = &recordingSubmitter{}
	}
	opts := Options{
		Backend:        backend,
		Submitters:     func(string, string) ballot.Submitter { return sub },
		ElectionID:     "e1",
		JurisdictionID: "j1",
		AuditBoardID:   "ab1",
		Stages:         stagegate.DefaultStages,
	}
	for _, m := range mutate {
		m(&opts)
	}
	app, err := NewApp(opts)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return app
}

func runCommands(t *testing.T, model tea.Model, cmd tea.Cmd) *App {
	t.Helper()
	app, ok := model.(*App)
	if !ok {
		t.Fatalf("unexpected model type: %T", model)
	}
	queue := []tea.Cmd{cmd}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next == nil {
			continue
		}
		msg := next()
		if batch, ok := msg.(tea.BatchMsg); ok {
			queue = append(queue, batch...)
			continue
		}
		if msg == nil {
			continue
		}
		nextModel, nextCmd := app.Update(msg)
		app, ok = nextModel.(*App)
		if !ok {
			t.Fatalf("unexpected model type: %T", nextModel)
		}
		queue = append(queue, nextCmd)
	}
	return app
}

func key(k tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: k} }

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

type fakeBackend struct {
	mu       sync.Mutex
	boards   []audit.AuditBoard
	created  []audit.NewAuditBoard
	contests []audit.Contest
	ballots  []audit.Ballot
	count    round.SampleCount
	countErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		boards: []audit.AuditBoard{{ID: "ab1", Name: "Audit Board #1", CurrentRoundStatus: audit.BoardCount{NumSampledBallots: 2}}},
		contests: []audit.Contest{{
			ID:      "contest-1",
			Name:    "Mayor",
			Choices: []audit.Choice{{ID: "choice-1", Name: "Choice One"}, {ID: "choice-2", Name: "Choice Two"}},
		}},
		ballots: []audit.Ballot{
			{ID: "ballot-2112", Batch: audit.Batch{ID: "batch-id-1", Name: "Batch One"}, Position: 2112, Status: audit.BallotStatusNotAudited},
			{ID: "ballot-313", Batch: audit.Batch{ID: "batch-id-1", Name: "Batch One"}, Position: 313, Status: audit.BallotStatusAudited,
				Interpretations: []audit.ContestInterpretation{{ContestID: "contest-1", Interpretation: audit.Vote("choice-2")}}},
		},
		count: round.SampleCount{Ballots: 2},
	}
}

func (f *fakeBackend) setCountErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countErr = err
}

func (f *fakeBackend) Jurisdiction(context.Context) (audit.Jurisdiction, error) {
	return audit.Jurisdiction{ID: "j1", Name: "Lake County", NumBallots: 4000}, nil
}

func (f *fakeBackend) Settings(context.Context) (audit.Settings, error) {
	return audit.Settings{AuditName: "County Audit", AuditType: audit.AuditTypeBallotPolling, Online: true}, nil
}

func (f *fakeBackend) CurrentRound(context.Context) (audit.Round, bool, error) {
	return audit.Round{ID: "r1", RoundNum: 1}, true, nil
}

func (f *fakeBackend) AuditBoards(context.Context, string) ([]audit.AuditBoard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audit.AuditBoard(nil), f.boards...), nil
}

func (f *fakeBackend) Contests(context.Context) ([]audit.Contest, error) {
	return f.contests, nil
}

func (f *fakeBackend) BoardBallots(context.Context, string, string) ([]audit.Ballot, error) {
	return f.ballots, nil
}

func (f *fakeBackend) SampleCount(context.Context, round.SampleCountKey) (round.SampleCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return round.SampleCount{}, f.countErr
	}
	return f.count, nil
}

func (f *fakeBackend) CreateAuditBoards(_ context.Context, _ string, boards []audit.NewAuditBoard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, boards...)
	for i, b := range boards {
		id := "ab1"
		if i > 0 {
			id = b.Name
		}
		f.boards = append(f.boards, audit.AuditBoard{ID: id, Name: b.Name})
	}
	return nil
}

type recordingSubmitter struct {
	mu       sync.Mutex
	calls    []ballot.Submission
	failures int
}

func (r *recordingSubmitter) SubmitBallot(_ context.Context, sub ballot.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sub)
	if r.failures > 0 {
		r.failures--
		return errors.New("server unavailable")
	}
	return nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingSubmitter) last() ballot.Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}
