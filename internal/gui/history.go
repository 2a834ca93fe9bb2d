package gui

import (
	"fmt"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/linyvhuo/webot/internal/database"
	"github.com/linyvhuo/webot/internal/events"
)

const (
	historyLimit = 50
	refreshDelay = 500 * time.Millisecond
)

// HistorySource is the part of the run history the panel reads
type HistorySource interface {
	RecentSessions(limit int) ([]*database.Session, error)
	GetSessionStats(sessionID string) (*database.SessionStats, error)
}

// HistoryTab lists past sessions from the run history database
type HistoryTab struct {
	controller *Controller
	source     HistorySource

	sessions []*database.Session
	mu       sync.RWMutex

	list       *widget.List
	statsLabel *widget.Label
}

// NewHistoryTab creates the history view. source may be nil when history is disabled.
func NewHistoryTab(ctrl *Controller, source HistorySource) *HistoryTab {
	return &HistoryTab{controller: ctrl, source: source}
}

// Build constructs the history UI
func (h *HistoryTab) Build() fyne.CanvasObject {
	header := widget.NewLabelWithStyle("Run History", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	if h.source == nil {
		return container.NewVBox(header, widget.NewLabel("Run history is disabled (HistoryPath is empty)"))
	}

	h.statsLabel = widget.NewLabel("Select a session")
	refreshBtn := widget.NewButton("Refresh", h.Refresh)

	h.list = widget.NewList(
		func() int {
			h.mu.RLock()
			defer h.mu.RUnlock()
			return len(h.sessions)
		},
		func() fyne.CanvasObject {
			return container.NewVBox(
				widget.NewLabel("started - status"),
				widget.NewLabel("rounds"),
			)
		},
		func(id widget.ListItemID, item fyne.CanvasObject) {
			h.mu.RLock()
			defer h.mu.RUnlock()
			if id >= len(h.sessions) {
				return
			}
			s := h.sessions[id]
			box := item.(*fyne.Container)

			box.Objects[0].(*widget.Label).SetText(fmt.Sprintf("%s - %s",
				s.StartedAt.Format("2006-01-02 15:04:05"), s.Status))

			detail := fmt.Sprintf("%d/%d rounds, %s questions, %s input", s.CompletedRounds, s.TotalRounds, s.QuestionMode, s.InputMethod)
			if s.DurationMs != nil {
				detail += fmt.Sprintf(", %.1fs", float64(*s.DurationMs)/1000)
			}
			if s.ErrorMessage != nil {
				detail += " - " + *s.ErrorMessage
			}
			box.Objects[1].(*widget.Label).SetText(detail)
		},
	)
	h.list.OnSelected = h.showStats

	h.Refresh()

	return container.NewBorder(
		container.NewVBox(header, container.NewHBox(refreshBtn), h.statsLabel),
		nil,
		nil,
		nil,
		h.list,
	)
}

// Refresh reloads the session list
func (h *HistoryTab) Refresh() {
	if h.source == nil {
		return
	}
	sessions, err := h.source.RecentSessions(historyLimit)
	if err != nil {
		h.controller.logTab.Add(LogEntry{Level: events.LevelWarn, Source: "gui", Message: "Failed to load history", Err: err.Error()})
		return
	}

	h.mu.Lock()
	h.sessions = sessions
	h.mu.Unlock()

	if h.list != nil {
		h.list.UnselectAll()
		h.list.Refresh()
	}
}

// HandleSessionFinished refreshes shortly after a session ends. The recorder writes the
// session from its own subscription, so the row may not exist yet when this runs.
func (h *HistoryTab) HandleSessionFinished(events.Event) {
	time.AfterFunc(refreshDelay, func() { fyne.Do(h.Refresh) })
}

func (h *HistoryTab) showStats(id widget.ListItemID) {
	h.mu.RLock()
	if id >= len(h.sessions) {
		h.mu.RUnlock()
		return
	}
	s := h.sessions[id]
	h.mu.RUnlock()

	stats, err := h.source.GetSessionStats(s.ID)
	if err != nil {
		h.statsLabel.SetText(fmt.Sprintf("Failed to load stats: %v", err))
		return
	}
	h.statsLabel.SetText(fmt.Sprintf("Session %s: %d rounds | ok %d | submit failed %d | timeouts %d | avg %.0f ms",
		s.ID, stats.Rounds, stats.OK, stats.SubmitFailed, stats.Timeouts, stats.AvgDurationMs))
}
