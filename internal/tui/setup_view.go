package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/arlo-client/internal/stagegate"
)

var (
	stageStyleCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	stageStyleLive      = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	stageStyleLocked    = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	stageStyleActive    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
)

// stageItem implements list.Item for a wizard stage.
type stageItem struct {
	item stagegate.Item
}

func (i stageItem) Title() string {
	marker := "  "
	switch {
	case i.item.Active:
		marker = "▸ "
	case i.item.State == stagegate.StateCompleted:
		marker = "✓ "
	case i.item.State == stagegate.StateLocked:
		marker = "· "
	}
	return marker + i.item.Title
}

func (i stageItem) Description() string {
	if i.item.Active {
		return "in progress"
	}
	return string(i.item.State)
}

func (i stageItem) FilterValue() string { return i.item.Title }

// setupView is the wizard sidebar. The gate decides which stages can be
// opened; the list only moves the highlight.
type setupView struct {
	app  *App
	gate *stagegate.Gate
	menu list.Model
}

func newSetupView(app *App) (*setupView, error) {
	stages := app.opts.Stages
	if len(stages) == 0 {
		stages = stagegate.DefaultStages
	}
	gate, err := stagegate.New(stages,
		stagegate.WithConfirmPolicy(stagegate.ConfirmBackward),
		stagegate.WithCompleted(app.opts.SetupCompleted),
	)
	if err != nil {
		return nil, fmt.Errorf("tui: setup stages: %w", err)
	}
	menu := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	menu.Title = "Audit Setup"
	menu.SetShowStatusBar(false)
	menu.SetFilteringEnabled(false)
	menu.SetShowHelp(false)
	menu.KeyMap.Quit.SetEnabled(false)
	v := &setupView{app: app, gate: gate, menu: menu}
	v.refresh()
	v.menu.Select(gate.Active())
	return v, nil
}

func (v *setupView) resize(width, height int) {
	v.menu.SetSize(max(20, width/3), max(10, height-14))
}

func (v *setupView) refresh() {
	items := v.gate.Items()
	listItems := make([]list.Item, len(items))
	for i, item := range items {
		listItems[i] = stageItem{item: item}
	}
	v.menu.SetItems(listItems)
}

func (v *setupView) Update(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}
	if _, waiting := v.gate.Pending(); waiting {
		switch key.String() {
		case "y", "enter":
			v.report(v.gate.Confirm())
		case "n", "esc":
			v.gate.Cancel()
			v.app.setStatus("Stayed on " + v.gate.ActiveTitle())
		}
		return nil
	}
	switch key.String() {
	case "esc":
		v.app.state = v.app.prevState
		v.app.setStatus("")
		return nil
	case "enter":
		v.report(v.gate.Activate(v.menu.Index(), false))
		return nil
	case " ", "space":
		v.completeActive()
		return nil
	case "R":
		v.gate.Refresh()
		v.app.logWarn("Setup · progress reset; every stage must be saved again")
		v.persist()
		v.refresh()
		return nil
	}
	var cmd tea.Cmd
	v.menu, cmd = v.menu.Update(msg)
	return cmd
}

// completeActive saves the active stage and moves on to the next one.
// Saving a stage that was already completed resets every later stage.
func (v *setupView) completeActive() {
	title := v.gate.ActiveTitle()
	active := v.gate.Active()
	if active <= v.gate.HighestCompleted() {
		v.gate.Refresh()
		for i := 0; i < active; i++ {
			v.gate.Complete(i)
		}
		v.app.logWarn("Setup · %s saved again; later stages need review", title)
	}
	if !v.gate.Complete(active) {
		v.app.setStatus(fmt.Sprintf("%s cannot be completed until the stages before it are saved", title))
		return
	}
	v.app.logInfo("Setup · %s completed", title)
	v.persist()
	if v.gate.Done() {
		v.refresh()
		v.app.setStatus("Setup complete")
		return
	}
	v.report(v.gate.Next())
}

func (v *setupView) persist() {
	if v.app.opts.SaveSetup == nil {
		return
	}
	if err := v.app.opts.SaveSetup(v.gate.HighestCompleted() + 1); err != nil {
		v.app.logError("Setup · saving progress failed: %v", err)
	}
}

func (v *setupView) report(outcome stagegate.Outcome) {
	switch outcome {
	case stagegate.OutcomeIgnored:
		v.app.setStatus("That stage is locked until the stages before it are completed")
	case stagegate.OutcomeDeferred:
		t, _ := v.gate.Pending()
		v.app.setStatus(fmt.Sprintf("%s  y → go back    n → stay", t.Reason))
	case stagegate.OutcomeActivated:
		v.app.setStatus("Editing " + v.gate.ActiveTitle())
	}
	v.refresh()
	v.menu.Select(v.gate.Active())
}

func (v *setupView) View() string {
	sidebar := v.menu.View()
	var detail string
	if t, waiting := v.gate.Pending(); waiting {
		detail = warnStyle.Render(t.Reason)
	} else {
		detail = lipgloss.JoinVertical(lipgloss.Left,
			headingStyle.Render(v.gate.ActiveTitle()),
			mutedStyle.Render(fmt.Sprintf("%d of %d stages completed", v.gate.HighestCompleted()+1, v.gate.Len())),
			v.renderStages(),
		)
	}
	hint := hintStyle.Render("Enter → open stage    Space → complete stage    R → reset    Esc → back")
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, sidebar, "  ", detail),
		hint,
	)
}

func (v *setupView) renderStages() string {
	var out string
	for _, item := range v.gate.Items() {
		style := stageStyleLive
		switch {
		case item.Active:
			style = stageStyleActive
		case item.State == stagegate.StateCompleted:
			style = stageStyleCompleted
		case item.State == stagegate.StateLocked:
			style = stageStyleLocked
		}
		out += style.Render(stageItem{item: item}.Title()) + "\n"
	}
	return out
}
