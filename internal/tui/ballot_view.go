package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/arlo-client/internal/audit"
	"github.com/kingrea/arlo-client/internal/ballot"
)

// submitResultMsg carries the outcome of Pending.Persist back to the loop
// that owns the machine.
type submitResultMsg struct {
	guard   *ballot.Guard
	pending *ballot.Pending
	err     error
}

// ballotOption is one selectable row on the interpretation form.
type ballotOption struct {
	contestID string
	choiceID  string
	kind      audit.InterpretationKind
	label     string
}

type inputMode int

const (
	inputNone inputMode = iota
	inputComment
	inputJump
)

// ballotView is data entry for one audit board. It is also the guard's
// Navigator: accepted submissions advance through the board's ballots.
type ballotView struct {
	app       *App
	roundID   string
	boardID   string
	ballots   []audit.Ballot
	contests  []audit.Contest
	submitter ballot.Submitter

	index   int
	guard   *ballot.Guard
	options []ballotOption
	cursor  int

	input    textinput.Model
	mode     inputMode
	inFlight bool
	done     bool
	problem  string
}

func newBallotView(app *App, roundID, boardID string, ballots []audit.Ballot, contests []audit.Contest) (*ballotView, error) {
	if len(ballots) == 0 {
		return nil, fmt.Errorf("no ballots are assigned to audit board %s", boardID)
	}
	input := textinput.New()
	input.CharLimit = 250
	input.Width = 50
	v := &ballotView{
		app:       app,
		roundID:   roundID,
		boardID:   boardID,
		ballots:   append([]audit.Ballot(nil), ballots...),
		contests:  contests,
		submitter: app.opts.Submitters(roundID, boardID),
		input:     input,
	}
	v.options = buildOptions(contests)
	start := -1
	for i, b := range v.ballots {
		if b.Status != audit.BallotStatusAudited {
			start = i
			break
		}
	}
	if err := v.open(max(start, 0)); err != nil {
		return nil, err
	}
	// Every ballot was audited in an earlier session.
	v.done = start < 0
	return v, nil
}

func buildOptions(contests []audit.Contest) []ballotOption {
	var opts []ballotOption
	for _, c := range contests {
		for _, choice := range c.Choices {
			opts = append(opts, ballotOption{contestID: c.ID, choiceID: choice.ID, kind: audit.InterpretationVote, label: choice.Name})
		}
		opts = append(opts,
			ballotOption{contestID: c.ID, kind: audit.InterpretationBlank, label: "Blank vote"},
			ballotOption{contestID: c.ID, kind: audit.InterpretationNotOnBallot, label: "Not on Ballot"},
		)
	}
	return opts
}

func (v *ballotView) open(idx int) error {
	return v.openKey(v.ballots[idx].Key())
}

// openKey builds a fresh machine and guard for the ballot at key.
func (v *ballotView) openKey(key audit.BallotKey) error {
	m, err := ballot.New(v.ballots, key, v.contests)
	if err != nil {
		return err
	}
	guard, err := ballot.NewGuard(m, v.submitter, v)
	if err != nil {
		return err
	}
	v.index = audit.FindBallot(v.ballots, key)
	v.guard = guard
	v.cursor = 0
	v.problem = ""
	v.done = false
	return nil
}

func (v *ballotView) machine() *ballot.Machine { return v.guard.Machine() }

// PreviousBallot implements ballot.Navigator.
func (v *ballotView) PreviousBallot() {
	if v.index == 0 {
		v.app.setStatus("This is the first ballot for the board.")
		return
	}
	if err := v.open(v.index - 1); err != nil {
		v.problem = err.Error()
	}
}

// NextBallot implements ballot.Navigator.
func (v *ballotView) NextBallot() {
	if v.index+1 >= len(v.ballots) {
		v.done = true
		v.app.setStatus("All assigned ballots have been submitted.")
		v.app.logInfo("Board %s · all %d ballot(s) submitted", v.boardID, len(v.ballots))
		return
	}
	if err := v.open(v.index + 1); err != nil {
		v.problem = err.Error()
	}
}

func (v *ballotView) Update(msg tea.Msg) tea.Cmd {
	switch m := msg.(type) {
	case submitResultMsg:
		return v.handleSubmitResult(m)
	case tea.KeyMsg:
		return v.handleKey(m)
	}
	return nil
}

func (v *ballotView) handleKey(key tea.KeyMsg) tea.Cmd {
	if v.mode != inputNone {
		return v.handleInput(key)
	}
	s := key.String()
	if v.inFlight {
		// A second submit while the first is still persisting is refused by
		// the guard; navigation waits for the result.
		if s == "enter" || s == "s" {
			if _, ok := v.guard.Begin(); !ok {
				v.app.setStatus("Already submitting this ballot...")
			}
		}
		return nil
	}
	if v.done {
		switch s {
		case "esc", "enter":
			return v.app.returnToRound("Data entry finished for this board.")
		case "b", "left":
			if err := v.open(v.index); err != nil {
				v.problem = err.Error()
			}
			v.app.setStatus("")
		}
		return nil
	}
	m := v.machine()
	switch s {
	case "esc":
		return v.app.returnToRound("")
	case "b", "left":
		v.guard.Back()
		return nil
	case "/":
		v.mode = inputJump
		v.input.Reset()
		v.input.Prompt = fmt.Sprintf("Go to position in %s: ", v.ballots[v.index].Batch.Name)
		v.input.Focus()
		return nil
	}

	switch m.State() {
	case ballot.StateUnreviewed, ballot.StateAuditing:
		return v.handleEditingKey(s)
	case ballot.StatePendingReview:
		switch s {
		case "enter", "s":
			return v.submit()
		case "e":
			m.EditAgain()
			v.app.setStatus("Editing " + m.Key().String())
		}
	case ballot.StateSubmitted:
		if s == "e" && m.EditAgain() {
			v.problem = ""
			v.app.setStatus("Editing again. Review and submit to retry.")
		}
	}
	return nil
}

func (v *ballotView) handleEditingKey(s string) tea.Cmd {
	m := v.machine()
	switch s {
	case "up", "k":
		if v.cursor > 0 {
			v.cursor--
		}
	case "down", "j":
		if v.cursor < len(v.options)-1 {
			v.cursor++
		}
	case " ", "space", "x":
		v.toggle(v.cursor)
	case "c":
		v.mode = inputComment
		v.input.Reset()
		v.input.SetValue(m.Comment())
		v.input.Prompt = "Comment: "
		v.input.Focus()
	case "enter", "r":
		if m.State() == ballot.StateUnreviewed && !reopenSeeded(m) {
			v.app.setStatus("Record an interpretation for each contest before reviewing.")
			return nil
		}
		ok, err := m.RequestReview()
		var verr *ballot.ValidationError
		if errors.As(err, &verr) {
			v.problem = "Interpretation required for " + strings.Join(v.contestNames(verr.Missing), ", ")
			return nil
		}
		if ok {
			v.problem = ""
			v.app.setStatus("Review the interpretation, then Enter → Submit & Next Ballot")
		}
	}
	return nil
}

// reopenSeeded moves a ballot seeded from an earlier submission into
// auditing so it can be reviewed without re-entering its interpretation.
func reopenSeeded(m *ballot.Machine) bool {
	for _, c := range m.Contests() {
		if interp := m.Interpretation(c.ID); interp.IsSet() {
			ok, err := m.Record(c.ID, interp)
			return ok && err == nil
		}
	}
	return false
}

func (v *ballotView) toggle(idx int) {
	if idx < 0 || idx >= len(v.options) {
		return
	}
	opt := v.options[idx]
	m := v.machine()
	var err error
	switch opt.kind {
	case audit.InterpretationVote:
		_, err = m.ToggleChoice(opt.contestID, opt.choiceID)
	case audit.InterpretationBlank:
		_, err = m.MarkBlank(opt.contestID)
	case audit.InterpretationNotOnBallot:
		_, err = m.MarkNotOnBallot(opt.contestID)
	}
	if err != nil {
		v.problem = err.Error()
		return
	}
	v.problem = ""
}

func (v *ballotView) handleInput(key tea.KeyMsg) tea.Cmd {
	switch key.String() {
	case "esc":
		v.mode = inputNone
		v.input.Blur()
		return nil
	case "enter":
		mode := v.mode
		value := v.input.Value()
		v.mode = inputNone
		v.input.Blur()
		if mode == inputComment {
			v.machine().SetComment(value)
			return nil
		}
		return v.jump(value)
	}
	var cmd tea.Cmd
	v.input, cmd = v.input.Update(key)
	return cmd
}

// jump opens the ballot at a position in the current batch. A position the
// board was not assigned sends the board back to the round screen.
func (v *ballotView) jump(value string) tea.Cmd {
	pos, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		v.app.setStatus("Enter a ballot position number.")
		return nil
	}
	key := audit.BallotKey{BatchID: v.ballots[v.index].Batch.ID, Position: pos}
	if err := v.openKey(key); err != nil {
		if errors.Is(err, ballot.ErrBallotNotFound) {
			v.app.logWarn("Ballot %s not found for board %s", key, v.boardID)
			return v.app.returnToRound(fmt.Sprintf("Ballot %s is not assigned to this board.", key))
		}
		v.problem = err.Error()
	}
	return nil
}

func (v *ballotView) submit() tea.Cmd {
	pending, ok := v.guard.Begin()
	if !ok {
		return nil
	}
	v.inFlight = true
	guard := v.guard
	v.app.setStatus("Submitting " + v.machine().Key().String() + "...")
	return func() tea.Msg {
		ctx, cancel := v.app.context()
		defer cancel()
		return submitResultMsg{guard: guard, pending: pending, err: pending.Persist(ctx)}
	}
}

func (v *ballotView) handleSubmitResult(msg submitResultMsg) tea.Cmd {
	if msg.guard != v.guard {
		return nil
	}
	v.inFlight = false
	sub := msg.pending.Submission()
	if msg.err == nil {
		b := &v.ballots[v.index]
		b.Status = audit.BallotStatusAudited
		b.Interpretations = sub.Interpretations
		b.Comment = ""
		if sub.Comment != nil {
			b.Comment = *sub.Comment
		}
	}
	if err := msg.pending.Finish(msg.err); err != nil {
		v.problem = err.Error()
		v.app.logError("Submitting %s failed: %v", sub.Key, msg.err)
		v.app.setStatus("Submission failed. Press e to edit and submit again.")
		return nil
	}
	v.app.logInfo("Ballot %s submitted", sub.Key)
	return nil
}

func (v *ballotView) contestNames(ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name := id
		for _, c := range v.contests {
			if c.ID == id {
				name = c.Name
				break
			}
		}
		names = append(names, name)
	}
	return names
}

func (v *ballotView) View() string {
	if v.done {
		return lipgloss.JoinVertical(lipgloss.Left,
			okStyle.Render(fmt.Sprintf("All %d ballot(s) for this board have been submitted.", len(v.ballots))),
			hintStyle.Render("Enter → return to round    b → back to last ballot"),
		)
	}
	m := v.machine()
	b := v.ballots[v.index]
	var lines []string
	lines = append(lines,
		headingStyle.Render(fmt.Sprintf("Batch %s · Ballot %d", b.Batch.Name, b.Position)),
		mutedStyle.Render(fmt.Sprintf("Ballot %d of %d · %s", v.index+1, len(v.ballots), stateLabel(m.State()))),
		"",
	)
	switch m.State() {
	case ballot.StatePendingReview, ballot.StateSubmitted:
		lines = append(lines, v.renderReview(m)...)
	default:
		lines = append(lines, v.renderForm(m)...)
	}
	if v.mode != inputNone {
		lines = append(lines, "", v.input.View())
	}
	if v.problem != "" {
		lines = append(lines, "", errorStyle.Render(v.problem))
	}
	lines = append(lines, hintStyle.Render(v.hint(m.State())))
	return strings.Join(lines, "\n")
}

func (v *ballotView) renderForm(m *ballot.Machine) []string {
	var lines []string
	current := ""
	for i, opt := range v.options {
		if opt.contestID != current {
			current = opt.contestID
			if len(lines) > 0 {
				lines = append(lines, "")
			}
			lines = append(lines, headingStyle.Render(v.contestNames([]string{opt.contestID})[0]))
		}
		interp := m.Interpretation(opt.contestID)
		var checked bool
		switch opt.kind {
		case audit.InterpretationVote:
			checked = interp.Selected(opt.choiceID)
		default:
			checked = interp.Kind == opt.kind
		}
		box := "[ ]"
		if checked {
			box = "[x]"
		}
		row := fmt.Sprintf("%s %s", box, opt.label)
		if i == v.cursor {
			row = okStyle.Render("▸ " + row)
		} else {
			row = "  " + row
		}
		lines = append(lines, row)
	}
	if c := m.Comment(); c != "" {
		lines = append(lines, "", mutedStyle.Render("Comment: "+c))
	}
	return lines
}

func (v *ballotView) renderReview(m *ballot.Machine) []string {
	sub, _ := m.Review()
	var lines []string
	for _, ci := range sub.Interpretations {
		for _, c := range v.contests {
			if c.ID == ci.ContestID {
				lines = append(lines, fmt.Sprintf("%s: %s", c.Name, ci.Interpretation.Describe(c)))
				break
			}
		}
	}
	if sub.Comment != nil {
		lines = append(lines, "Comment: "+*sub.Comment)
	}
	return lines
}

func (v *ballotView) hint(state ballot.State) string {
	switch state {
	case ballot.StatePendingReview:
		return "Enter → Submit & Next Ballot    e → edit    b → back"
	case ballot.StateSubmitted:
		if v.machine().Failure() != nil {
			return "e → edit and retry    b → back"
		}
		return "Submitting..."
	default:
		return "↑/↓ → move    Space → select    c → comment    Enter → review    b → back    / → go to    Esc → round"
	}
}

func stateLabel(s ballot.State) string {
	switch s {
	case ballot.StateAuditing:
		return "auditing"
	case ballot.StatePendingReview:
		return "review"
	case ballot.StateSubmitted:
		return "submitted"
	default:
		return "not reviewed"
	}
}
