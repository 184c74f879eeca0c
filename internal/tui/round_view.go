package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/arlo-client/internal/audit"
	"github.com/kingrea/arlo-client/internal/round"
)

const maxAuditBoards = 15

type roundLoadedMsg struct {
	seq          int
	round        *audit.Round
	settings     audit.Settings
	jurisdiction audit.Jurisdiction
	boards       []audit.AuditBoard
	contests     []audit.Contest
	ballots      []audit.Ballot
	err          error
}

type sampleCountMsg struct {
	key   round.SampleCountKey
	count round.SampleCount
	err   error
}

type boardsCreatedMsg struct {
	count int
	err   error
}

// roundView shows whatever the dispatcher selects for the current round.
type roundView struct {
	app *App

	seq      int
	loading  bool
	loadErr  error
	noRound  bool
	inputs   round.Inputs
	loader   *round.SampleCountLoader
	decision round.Decision
	contests []audit.Contest
	ballots  []audit.Ballot

	boardCount textinput.Model
	creating   bool
}

func newRoundView(app *App) *roundView {
	input := textinput.New()
	input.Placeholder = "1"
	input.CharLimit = 2
	input.Width = 4
	input.Prompt = "Number of audit boards: "
	return &roundView{
		app:        app,
		boardCount: input,
		decision:   round.Decision{View: round.ViewLoading},
	}
}

func (v *roundView) Init() tea.Cmd {
	return v.Reload()
}

// Reload fetches the round and its inputs. Results from an older reload are
// dropped.
func (v *roundView) Reload() tea.Cmd {
	v.seq++
	v.loading = true
	seq := v.seq
	backend := v.app.opts.Backend
	boardID := v.app.opts.AuditBoardID
	return func() tea.Msg {
		ctx, cancel := v.app.context()
		defer cancel()
		msg := roundLoadedMsg{seq: seq}
		if msg.settings, msg.err = backend.Settings(ctx); msg.err != nil {
			return msg
		}
		if msg.jurisdiction, msg.err = backend.Jurisdiction(ctx); msg.err != nil {
			return msg
		}
		r, ok, err := backend.CurrentRound(ctx)
		if err != nil || !ok {
			msg.err = err
			return msg
		}
		msg.round = &r
		if msg.boards, msg.err = backend.AuditBoards(ctx, r.ID); msg.err != nil {
			return msg
		}
		if boardID == "" || !hasBoard(msg.boards, boardID) {
			return msg
		}
		if msg.contests, msg.err = backend.Contests(ctx); msg.err != nil {
			return msg
		}
		msg.ballots, msg.err = backend.BoardBallots(ctx, r.ID, boardID)
		return msg
	}
}

func hasBoard(boards []audit.AuditBoard, id string) bool {
	for _, b := range boards {
		if b.ID == id {
			return true
		}
	}
	return false
}

func (v *roundView) fetchSampleCount() tea.Cmd {
	loader := v.loader
	backend := v.app.opts.Backend
	return func() tea.Msg {
		ctx, cancel := v.app.context()
		defer cancel()
		count, err := loader.Fetch(ctx, backend)
		return sampleCountMsg{key: loader.Key(), count: count, err: err}
	}
}

func (v *roundView) editing() bool {
	return v.decision.View == round.ViewBoardSetup && v.boardCount.Focused()
}

func (v *roundView) auditName() string {
	if v.inputs.Settings == nil {
		return ""
	}
	return v.inputs.Settings.AuditName
}

func (v *roundView) Update(msg tea.Msg) tea.Cmd {
	switch m := msg.(type) {
	case roundLoadedMsg:
		return v.handleLoaded(m)
	case sampleCountMsg:
		if v.loader == nil || m.key != v.loader.Key() {
			return nil
		}
		v.loader.Deliver(m.count, m.err)
		if m.err != nil {
			v.app.logError("Sample count unavailable: %v", m.err)
			v.app.setStatus("Could not load the sample size. Press r to retry.")
		}
		v.decide()
		return nil
	case boardsCreatedMsg:
		v.creating = false
		if m.err != nil {
			v.app.logError("Creating audit boards failed: %v", m.err)
			v.app.setStatus(fmt.Sprintf("Creating audit boards failed: %v", m.err))
			return nil
		}
		v.app.logInfo("Round %d · %d audit board(s) created", v.inputs.Round.RoundNum, m.count)
		v.boardCount.Blur()
		v.boardCount.Reset()
		return v.Reload()
	case tea.KeyMsg:
		return v.handleKey(m)
	}
	return nil
}

func (v *roundView) handleLoaded(m roundLoadedMsg) tea.Cmd {
	if m.seq != v.seq {
		return nil
	}
	v.loading = false
	v.loadErr = m.err
	if m.err != nil {
		v.app.logError("Loading round failed: %v", m.err)
		v.app.setStatus("Could not load the round. Press r to retry.")
		return nil
	}
	settings := m.settings
	jurisdiction := m.jurisdiction
	v.inputs.Settings = &settings
	v.inputs.Jurisdiction = &jurisdiction
	v.noRound = m.round == nil
	if v.noRound {
		v.decision = round.Decision{View: round.ViewLoading}
		v.app.setStatus("The audit has not started yet.")
		return nil
	}
	v.inputs.Round = *m.round
	v.inputs.AuditBoards = m.boards
	v.contests = m.contests
	v.ballots = m.ballots
	key := round.SampleCountKey{
		ElectionID:     v.app.opts.ElectionID,
		JurisdictionID: jurisdiction.ID,
		RoundID:        m.round.ID,
		AuditType:      settings.AuditType,
	}
	var cmd tea.Cmd
	if v.loader == nil || v.loader.Key() != key || v.loader.Count() == nil {
		v.loader = round.NewSampleCountLoader(key)
		cmd = v.fetchSampleCount()
	}
	v.decide()
	return cmd
}

func (v *roundView) decide() {
	v.inputs.SampleCount = v.loader.Count()
	v.decision = round.Select(v.inputs)
	if v.decision.View == round.ViewBoardSetup && !v.boardCount.Focused() {
		v.boardCount.Focus()
	}
	if v.decision.View != round.ViewLoading {
		v.app.logProgress(fmt.Sprintf("Round %d · %s", v.inputs.Round.RoundNum, viewTitle(v.decision.View)))
	}
}

func (v *roundView) handleKey(key tea.KeyMsg) tea.Cmd {
	if v.decision.View == round.ViewBoardSetup && v.boardCount.Focused() {
		switch key.String() {
		case "enter":
			return v.createBoards()
		case "esc":
			v.boardCount.Blur()
			return nil
		}
		var cmd tea.Cmd
		v.boardCount, cmd = v.boardCount.Update(key)
		return cmd
	}
	switch key.String() {
	case "r":
		v.app.setStatus("Reloading round...")
		return v.Reload()
	case "b":
		if v.decision.View == round.ViewBoardSetup {
			v.boardCount.Focus()
		}
	case "enter":
		if v.decision.View == round.ViewStandardBallotDataEntry || v.decision.View == round.ViewFullHandTallyDataEntry {
			if v.app.opts.AuditBoardID == "" {
				v.app.setStatus("Set audit.audit_board_id to enter ballots from this terminal.")
				return nil
			}
			if !hasBoard(v.inputs.AuditBoards, v.app.opts.AuditBoardID) {
				v.app.setStatus(fmt.Sprintf("Audit board %s is not part of this round.", v.app.opts.AuditBoardID))
				return nil
			}
			v.app.openBallots(v.inputs.Round.ID, v.ballots, v.contests)
		}
	}
	return nil
}

func (v *roundView) createBoards() tea.Cmd {
	if v.creating {
		return nil
	}
	raw := strings.TrimSpace(v.boardCount.Value())
	if raw == "" {
		raw = "1"
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxAuditBoards {
		v.app.setStatus(fmt.Sprintf("Enter a number of audit boards between 1 and %d.", maxAuditBoards))
		return nil
	}
	v.creating = true
	roundID := v.inputs.Round.ID
	backend := v.app.opts.Backend
	boards := audit.DefaultBoardNames(n)
	v.app.setStatus(fmt.Sprintf("Creating %d audit board(s)...", n))
	return func() tea.Msg {
		ctx, cancel := v.app.context()
		defer cancel()
		return boardsCreatedMsg{count: n, err: backend.CreateAuditBoards(ctx, roundID, boards)}
	}
}

func viewTitle(view round.View) string {
	switch view {
	case round.ViewComplete:
		return "audit complete"
	case round.ViewNoBallotsAssigned:
		return "no ballots assigned"
	case round.ViewBoardSetup:
		return "audit board setup"
	case round.ViewBatchDataEntry:
		return "batch data entry"
	case round.ViewOfflineRoundProgress:
		return "offline round progress"
	case round.ViewFullHandTallyDataEntry:
		return "full hand tally data entry"
	case round.ViewStandardBallotDataEntry:
		return "ballot data entry"
	default:
		return "loading"
	}
}

func (v *roundView) View() string {
	if v.loadErr != nil {
		return errorStyle.Render("Could not load the round: "+v.loadErr.Error()) + "\n" + hintStyle.Render("r → retry    q → quit    ctrl+s → setup")
	}
	if v.noRound {
		return mutedStyle.Render("The audit has not started yet.") + "\n" + hintStyle.Render("r → reload    q → quit    ctrl+s → setup")
	}
	d := v.decision
	switch d.View {
	case round.ViewLoading:
		if err := v.loader.Err(); err != nil {
			return errorStyle.Render("Could not load the sample size: "+err.Error()) + "\n" + hintStyle.Render("r → retry")
		}
		if v.loading {
			return mutedStyle.Render("Loading round...")
		}
		return mutedStyle.Render("Loading sample size...")
	case round.ViewComplete:
		return okStyle.Render(d.Message)
	case round.ViewNoBallotsAssigned:
		return mutedStyle.Render(d.Message)
	}

	var lines []string
	lines = append(lines, headingStyle.Render(d.Heading))
	if d.SamplesToAudit != "" {
		lines = append(lines, d.SamplesToAudit)
	}
	if d.View == round.ViewBoardSetup {
		lines = append(lines, "", v.boardCount.View())
		hint := "Enter → create boards    Esc → stop editing"
		if v.creating {
			hint = "Creating boards..."
		}
		lines = append(lines, hintStyle.Render(hint))
		return strings.Join(lines, "\n")
	}
	lines = append(lines, mutedStyle.Render(viewTitle(d.View)))
	if len(d.Downloads) > 0 {
		lines = append(lines, "", "Downloads:")
		for _, dl := range d.Downloads {
			lines = append(lines, "  • "+string(dl))
		}
	}
	if len(d.Boards) > 0 {
		lines = append(lines, "", v.renderBoards(d.Boards))
	}
	hint := "r → reload    ctrl+s → setup    q → quit"
	if d.View == round.ViewStandardBallotDataEntry || d.View == round.ViewFullHandTallyDataEntry {
		hint = "Enter → start data entry    " + hint
	}
	lines = append(lines, hintStyle.Render(hint))
	return strings.Join(lines, "\n")
}

func (v *roundView) renderBoards(boards []round.BoardProgress) string {
	rows := []string{headingStyle.Render("Audit Boards")}
	for _, b := range boards {
		status := fmt.Sprintf("%d of %d audited", b.Audited, b.Sampled)
		style := mutedStyle
		if b.SignedOff {
			status += " · signed off"
			style = okStyle
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width(24).Render(b.Name),
			style.Render(status),
		))
	}
	return strings.Join(rows, "\n")
}

