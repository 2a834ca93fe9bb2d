package gui

import (
	"errors"
	"fmt"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/linyvhuo/webot/internal/bot"
	"github.com/linyvhuo/webot/internal/config"
	"github.com/linyvhuo/webot/internal/events"
)

// DashboardTab starts and stops sessions and shows their progress
type DashboardTab struct {
	controller *Controller

	roundsEntry   *widget.Entry
	modeSelect    *widget.Select
	methodSelect  *widget.Select
	startBtn      *widget.Button
	stopBtn       *widget.Button
	stateLabel    *widget.Label
	progressBar   *widget.ProgressBar
	progressLabel *widget.Label
	lastLabel     *widget.Label
}

// NewDashboardTab creates the session panel
func NewDashboardTab(ctrl *Controller) *DashboardTab {
	return &DashboardTab{controller: ctrl}
}

// Build constructs the dashboard UI
func (d *DashboardTab) Build() fyne.CanvasObject {
	cfg := d.controller.Config()
	header := widget.NewLabelWithStyle("Session", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	target := widget.NewLabel(fmt.Sprintf("Target window: %s", cfg.TargetTitle))

	d.roundsEntry = widget.NewEntry()
	d.roundsEntry.SetText(strconv.Itoa(cfg.Rounds))

	d.modeSelect = widget.NewSelect([]string{
		config.QuestionModeCycle.String(),
		config.QuestionModeRandom.String(),
	}, nil)
	d.modeSelect.SetSelected(cfg.QuestionMode.String())

	d.methodSelect = widget.NewSelect([]string{
		config.InputMethodKeyboard.String(),
		config.InputMethodPaste.String(),
	}, nil)
	d.methodSelect.SetSelected(cfg.InputMethod.String())

	form := widget.NewForm(
		widget.NewFormItem("Rounds", d.roundsEntry),
		widget.NewFormItem("Questions", d.modeSelect),
		widget.NewFormItem("Input", d.methodSelect),
	)

	d.startBtn = widget.NewButton("Start", d.start)
	d.startBtn.Importance = widget.HighImportance
	d.stopBtn = widget.NewButton("Stop", d.controller.engine.Stop)
	d.stopBtn.Importance = widget.DangerImportance

	d.stateLabel = widget.NewLabelWithStyle("", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	d.progressBar = widget.NewProgressBar()
	d.progressLabel = widget.NewLabel("")
	d.lastLabel = widget.NewLabel("No session yet")
	d.lastLabel.Wrapping = fyne.TextWrapWord

	d.setState(d.controller.engine.State().String())
	d.setProgress(d.controller.engine.Progress())

	return container.NewVBox(
		header,
		target,
		form,
		container.NewHBox(d.startBtn, d.stopBtn),
		widget.NewSeparator(),
		container.NewHBox(widget.NewLabel("State:"), d.stateLabel),
		d.progressBar,
		d.progressLabel,
		widget.NewSeparator(),
		d.lastLabel,
	)
}

// request builds a start request from the panel's fields
func (d *DashboardTab) request() (bot.StartRequest, error) {
	rounds, err := strconv.Atoi(d.roundsEntry.Text)
	if err != nil || rounds < 1 {
		return bot.StartRequest{}, fmt.Errorf("rounds must be a positive number, got %q", d.roundsEntry.Text)
	}

	cfg := d.controller.Config()
	cfg.Rounds = rounds
	cfg.QuestionMode = config.QuestionModeCycle
	if d.modeSelect.Selected == config.QuestionModeRandom.String() {
		cfg.QuestionMode = config.QuestionModeRandom
	}
	cfg.InputMethod = config.InputMethodKeyboard
	if d.methodSelect.Selected == config.InputMethodPaste.String() {
		cfg.InputMethod = config.InputMethodPaste
	}
	return bot.StartRequest{Config: cfg}, nil
}

func (d *DashboardTab) start() {
	req, err := d.request()
	if err != nil {
		dialog.ShowError(err, d.controller.window)
		return
	}

	if err := d.controller.engine.Start(req); err != nil {
		switch {
		case errors.Is(err, bot.ErrBusy):
			dialog.ShowInformation("Busy", "A session is already running.", d.controller.window)
		default:
			dialog.ShowError(err, d.controller.window)
		}
	}
}

// HandleState follows state events
func (d *DashboardTab) HandleState(e events.Event) {
	d.setState(e.String("to"))
}

// HandleProgress follows progress events
func (d *DashboardTab) HandleProgress(e events.Event) {
	d.setProgress(e.Int("current"), e.Int("total"))
}

// HandleSessionFinished summarises the session that just ended
func (d *DashboardTab) HandleSessionFinished(e events.Event) {
	text := fmt.Sprintf("Last session %s: %s, %d/%d rounds", e.Timestamp.Format("15:04:05"), e.String("status"), e.Int("completed"), e.Int("total"))
	if msg := e.String("error"); msg != "" {
		text += "\n" + msg
	}
	d.lastLabel.SetText(text)
}

func (d *DashboardTab) setState(state string) {
	if d.stateLabel == nil {
		return
	}
	d.stateLabel.SetText(state)
	d.stateLabel.Importance = stateImportance(state)
	d.stateLabel.Refresh()

	busy := state == bot.StateStarting.String() || state == bot.StateRunning.String()
	if busy {
		d.startBtn.Disable()
		d.stopBtn.Enable()
	} else {
		d.startBtn.Enable()
		d.stopBtn.Disable()
	}
}

func (d *DashboardTab) setProgress(current, total int) {
	if d.progressBar == nil {
		return
	}
	if total <= 0 {
		d.progressBar.SetValue(0)
		d.progressLabel.SetText("")
		return
	}
	d.progressBar.SetValue(float64(current) / float64(total))
	d.progressLabel.SetText(fmt.Sprintf("Round %d of %d", current, total))
}
