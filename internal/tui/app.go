// internal/tui/app.go
//
// This is the terminal UI for the audit client. It uses bubbletea, which
// follows The Elm Architecture:
//
// 1. Model: the application state (App and its screens)
// 2. Update: a function that updates state based on messages
// 3. View: a function that renders state to a string
//
// Every state machine (stage gate, ballot machine, sample count loader) is
// only touched from Update. Network and disk work runs inside tea.Cmd
// functions and reports back with a message.

package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/arlo-client/internal/audit"
	"github.com/kingrea/arlo-client/internal/ballot"
	"github.com/kingrea/arlo-client/internal/logbook"
	"github.com/kingrea/arlo-client/internal/logging"
	"github.com/kingrea/arlo-client/internal/round"
)

// appState represents which screen we're on
type appState int

const (
	stateRound  appState = iota // Round dispatcher: loading, board setup, progress
	stateBallot                 // Ballot data entry for one audit board
	stateSetup                  // Setup wizard sidebar
)

const (
	defaultRequestTimeout = 20 * time.Second
	logPanelLines         = 8
)

// Backend is where the screens read round data from and create boards.
// The HTTP client and the offline snapshot store both satisfy it.
type Backend interface {
	Jurisdiction(ctx context.Context) (audit.Jurisdiction, error)
	Settings(ctx context.Context) (audit.Settings, error)
	CurrentRound(ctx context.Context) (audit.Round, bool, error)
	AuditBoards(ctx context.Context, roundID string) ([]audit.AuditBoard, error)
	Contests(ctx context.Context) ([]audit.Contest, error)
	BoardBallots(ctx context.Context, roundID, boardID string) ([]audit.Ballot, error)
	round.Resolver
	round.BoardCreator
}

// SubmitterFactory returns the persistence collaborator for one board.
type SubmitterFactory func(roundID, boardID string) ballot.Submitter

// Options are the collaborators and identifiers the App needs.
type Options struct {
	Backend        Backend
	Submitters     SubmitterFactory
	ElectionID     string
	JurisdictionID string
	// AuditBoardID enables ballot data entry for that board.
	AuditBoardID string
	Offline      bool

	// Stages are the setup wizard titles; SetupCompleted restores progress
	// and SaveSetup persists it after each change.
	Stages         []string
	SetupCompleted int
	SaveSetup      func(completed int) error
}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithLogbook attaches the progress log shown under the screens.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		if lb != nil {
			a.logbook = lb
		}
	}
}

// WithLogger attaches the diagnostic logger.
func WithLogger(l *logging.Logger) AppOption {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRequestTimeout bounds every backend call made from a command.
func WithRequestTimeout(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	state     appState
	prevState appState

	opts    Options
	logbook *logbook.Logbook
	logger  *logging.Logger
	timeout time.Duration

	round  *roundView
	ballot *ballotView
	setup  *setupView

	statusMsg     string
	lastLogStatus string

	width  int
	height int
}

// NewApp creates a new App instance
func NewApp(opts Options, appOpts ...AppOption) (*App, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("tui: backend is required")
	}
	if opts.Submitters == nil {
		return nil, fmt.Errorf("tui: submitter factory is required")
	}
	app := &App{
		state:   stateRound,
		opts:    opts,
		logger:  logging.Discard(),
		timeout: defaultRequestTimeout,
	}
	for _, opt := range appOpts {
		if opt != nil {
			opt(app)
		}
	}
	setup, err := newSetupView(app)
	if err != nil {
		return nil, err
	}
	app.setup = setup
	app.round = newRoundView(app)
	mode := "online"
	if opts.Offline {
		mode = "offline"
	}
	app.logInfo("Session opened · %s · jurisdiction %s", mode, opts.JurisdictionID)
	return app, nil
}

func (a *App) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout)
}

func (a *App) logInfo(format string, args ...any) {
	a.logger.Printf(format, args...)
	if a.logbook == nil {
		return
	}
	a.logbook.Info(format, args...)
}

func (a *App) logWarn(format string, args ...any) {
	a.logger.Printf(format, args...)
	if a.logbook == nil {
		return
	}
	a.logbook.Warn(format, args...)
}

func (a *App) logError(format string, args ...any) {
	a.logger.Errorf(format, args...)
	if a.logbook == nil {
		return
	}
	a.logbook.Error(format, args...)
}

func (a *App) logProgress(status string) {
	status = strings.TrimSpace(status)
	if status == "" || status == a.lastLogStatus {
		return
	}
	a.lastLogStatus = status
	a.logInfo("%s", status)
}

func (a *App) setStatus(msg string) {
	a.statusMsg = msg
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.round.Init()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.setup.resize(msg.Width, msg.Height)
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit
		case "q":
			if a.state == stateRound && !a.round.editing() {
				return a, tea.Quit
			}
		case "ctrl+s":
			if a.state != stateSetup {
				a.prevState = a.state
				a.state = stateSetup
				a.setStatus("Setup wizard · Enter → open stage    Space → complete stage")
				return a, nil
			}
		}
		switch a.state {
		case stateSetup:
			return a, a.setup.Update(msg)
		case stateBallot:
			if a.ballot != nil {
				return a, a.ballot.Update(msg)
			}
		}
		return a, a.round.Update(msg)
	}

	// Command results go to the screen that issued them, whichever screen is
	// showing.
	var cmds []tea.Cmd
	if cmd := a.round.Update(msg); cmd != nil {
		cmds = append(cmds, cmd)
	}
	if a.ballot != nil {
		if cmd := a.ballot.Update(msg); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return a, tea.Batch(cmds...)
}

// openBallots switches to data entry for the configured board.
func (a *App) openBallots(roundID string, ballots []audit.Ballot, contests []audit.Contest) {
	view, err := newBallotView(a, roundID, a.opts.AuditBoardID, ballots, contests)
	if err != nil {
		a.setStatus(err.Error())
		a.logError("Ballot entry unavailable: %v", err)
		return
	}
	a.ballot = view
	a.state = stateBallot
	a.logInfo("Data entry opened · board %s · %d ballot(s)", a.opts.AuditBoardID, len(ballots))
}

// returnToRound leaves the current screen and reloads the round.
func (a *App) returnToRound(status string) tea.Cmd {
	a.state = stateRound
	a.ballot = nil
	if status != "" {
		a.setStatus(status)
	}
	return a.round.Reload()
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	var content string
	switch a.state {
	case stateSetup:
		content = a.setup.View()
	case stateBallot:
		if a.ballot != nil {
			content = a.ballot.View()
		}
	default:
		content = a.round.View()
	}
	return a.renderFrame(content, width)
}

func (a *App) renderFrame(content string, width int) string {
	title := "⬡ ARLO"
	if name := a.round.auditName(); name != "" {
		title = fmt.Sprintf("⬡ ARLO · %s", name)
	}
	if a.opts.Offline {
		title += " · offline"
	}
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render(title)
	if strings.TrimSpace(content) == "" {
		content = "Loading..."
	}
	body := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(20, width-4)).
		Render(content)
	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg)
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(logPanelLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s · %d line(s)", fileName, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).MarginTop(1)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
)
