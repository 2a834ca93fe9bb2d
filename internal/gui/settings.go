package gui

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/linyvhuo/webot/internal/config"
)

// SettingsTab edits the most used settings and writes them back to the INI file
type SettingsTab struct {
	controller *Controller

	targetTitleEntry   *widget.Entry
	targetPathEntry    *widget.Entry
	questionFileEntry  *widget.Entry
	thresholdEntry     *widget.Entry
	answerTimeoutEntry *widget.Entry
	roundDelayEntry    *widget.Entry
	continueErrCheck   *widget.Check
	continueTOCheck    *widget.Check
	saveCapturesCheck  *widget.Check
}

// NewSettingsTab creates the settings form
func NewSettingsTab(ctrl *Controller) *SettingsTab {
	return &SettingsTab{controller: ctrl}
}

// Build constructs the settings UI
func (s *SettingsTab) Build() fyne.CanvasObject {
	header := widget.NewLabelWithStyle("Settings", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})

	s.targetTitleEntry = widget.NewEntry()
	s.targetPathEntry = widget.NewEntry()
	s.questionFileEntry = widget.NewEntry()
	s.questionFileEntry.SetPlaceHolder("empty uses the [Questions] section")
	s.thresholdEntry = widget.NewEntry()
	s.answerTimeoutEntry = widget.NewEntry()
	s.roundDelayEntry = widget.NewEntry()
	s.continueErrCheck = widget.NewCheck("", nil)
	s.continueTOCheck = widget.NewCheck("", nil)
	s.saveCapturesCheck = widget.NewCheck("", nil)
	s.load()

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Target Window", Widget: s.targetTitleEntry},
			{Text: "Target Executable", Widget: s.targetPathEntry},
			{Text: "Question File", Widget: s.questionFileEntry},
			{Text: "Match Threshold", Widget: s.thresholdEntry},
			{Text: "Answer Timeout (s)", Widget: s.answerTimeoutEntry},
			{Text: "Round Delay (s)", Widget: s.roundDelayEntry},
			{Text: "Continue On Error", Widget: s.continueErrCheck},
			{Text: "Continue On Timeout", Widget: s.continueTOCheck},
			{Text: "Save Failed Captures", Widget: s.saveCapturesCheck},
		},
		OnSubmit:   s.save,
		OnCancel:   s.load,
		SubmitText: "Save",
		CancelText: "Reset",
	}

	path := widget.NewLabel(fmt.Sprintf("Settings file: %s", s.controller.configPath))

	return container.NewVScroll(container.NewVBox(header, path, form))
}

// load fills the form from the controller's configuration
func (s *SettingsTab) load() {
	cfg := s.controller.Config()
	s.targetTitleEntry.SetText(cfg.TargetTitle)
	s.targetPathEntry.SetText(cfg.TargetPath)
	s.questionFileEntry.SetText(cfg.QuestionFile)
	s.thresholdEntry.SetText(strconv.FormatFloat(cfg.Threshold, 'f', 2, 64))
	s.answerTimeoutEntry.SetText(strconv.FormatFloat(cfg.AnswerTimeout.Seconds(), 'f', -1, 64))
	s.roundDelayEntry.SetText(strconv.FormatFloat(cfg.RoundDelay.Seconds(), 'f', -1, 64))
	s.continueErrCheck.SetChecked(cfg.ContinueOnError)
	s.continueTOCheck.SetChecked(cfg.ContinueOnTimeout)
	s.saveCapturesCheck.SetChecked(cfg.SaveFailedCaptures)
}

func (s *SettingsTab) apply(cfg *config.Config) error {
	threshold, err := strconv.ParseFloat(s.thresholdEntry.Text, 64)
	if err != nil {
		return fmt.Errorf("invalid threshold: %w", err)
	}
	timeout, err := strconv.ParseFloat(s.answerTimeoutEntry.Text, 64)
	if err != nil {
		return fmt.Errorf("invalid answer timeout: %w", err)
	}
	delay, err := strconv.ParseFloat(s.roundDelayEntry.Text, 64)
	if err != nil {
		return fmt.Errorf("invalid round delay: %w", err)
	}

	cfg.TargetTitle = s.targetTitleEntry.Text
	cfg.TargetPath = s.targetPathEntry.Text
	cfg.QuestionFile = s.questionFileEntry.Text
	cfg.Threshold = threshold
	cfg.AnswerTimeout = time.Duration(timeout * float64(time.Second))
	cfg.RoundDelay = time.Duration(delay * float64(time.Second))
	cfg.ContinueOnError = s.continueErrCheck.Checked
	cfg.ContinueOnTimeout = s.continueTOCheck.Checked
	cfg.SaveFailedCaptures = s.saveCapturesCheck.Checked
	return cfg.Validate()
}

func (s *SettingsTab) save() {
	cfg := s.controller.Config()
	if err := s.apply(&cfg); err != nil {
		dialog.ShowError(err, s.controller.window)
		return
	}
	if err := s.controller.UpdateConfig(cfg); err != nil {
		dialog.ShowError(err, s.controller.window)
		return
	}
	dialog.ShowInformation("Settings", "Saved. New sessions use the new settings.", s.controller.window)
}
