package gui

import (
	"fmt"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/linyvhuo/webot/internal/events"
)

const maxLogEntries = 2000

var levelFilters = []string{"All", "DEBUG", "INFO", "WARN", "ERROR"}

// LogEntry is one line of the log view
type LogEntry struct {
	Timestamp time.Time
	Level     events.Level
	Source    string
	Message   string
	Err       string
}

// LogTab shows the engine's log events
type LogTab struct {
	entries []LogEntry
	mu      sync.RWMutex

	logList         *widget.List
	filterSelect    *widget.Select
	autoScrollCheck *widget.Check
}

// NewLogTab creates an empty log view
func NewLogTab() *LogTab {
	return &LogTab{entries: make([]LogEntry, 0, 256)}
}

// Build constructs the log viewer UI
func (l *LogTab) Build() fyne.CanvasObject {
	header := widget.NewLabelWithStyle("Event Log", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})

	l.filterSelect = widget.NewSelect(levelFilters, func(string) {
		if l.logList != nil {
			l.logList.Refresh()
		}
	})
	l.filterSelect.SetSelected("INFO")

	l.autoScrollCheck = widget.NewCheck("Auto-scroll", nil)
	l.autoScrollCheck.SetChecked(true)

	clearBtn := widget.NewButton("Clear", l.Clear)

	controls := container.NewHBox(
		widget.NewLabel("Level:"),
		l.filterSelect,
		l.autoScrollCheck,
		clearBtn,
	)

	l.logList = widget.NewList(
		func() int {
			return len(l.filtered())
		},
		func() fyne.CanvasObject {
			return container.NewHBox(
				widget.NewLabel("00:00:00"),
				widget.NewLabel("[LEVEL]"),
				widget.NewLabel("source"),
				widget.NewLabel("message"),
			)
		},
		func(id widget.ListItemID, item fyne.CanvasObject) {
			entries := l.filtered()
			if id >= len(entries) {
				return
			}
			entry := entries[id]
			box := item.(*fyne.Container)

			box.Objects[0].(*widget.Label).SetText(entry.Timestamp.Format("15:04:05"))

			levelLabel := box.Objects[1].(*widget.Label)
			levelLabel.SetText(fmt.Sprintf("[%s]", entry.Level))
			switch entry.Level {
			case events.LevelDebug:
				levelLabel.Importance = widget.LowImportance
			case events.LevelWarn:
				levelLabel.Importance = widget.WarningImportance
			case events.LevelError:
				levelLabel.Importance = widget.DangerImportance
			default:
				levelLabel.Importance = widget.MediumImportance
			}
			levelLabel.Refresh()

			box.Objects[2].(*widget.Label).SetText(entry.Source)

			msg := entry.Message
			if entry.Err != "" {
				msg += ": " + entry.Err
			}
			box.Objects[3].(*widget.Label).SetText(msg)
		},
	)

	return container.NewBorder(
		container.NewVBox(header, controls),
		nil,
		nil,
		nil,
		l.logList,
	)
}

// HandleEvent appends a log event. Runs on the UI thread.
func (l *LogTab) HandleEvent(e events.Event) {
	l.Add(LogEntry{
		Timestamp: e.Timestamp,
		Level:     events.Level(e.String("level")),
		Source:    e.Source,
		Message:   e.String("message"),
		Err:       e.String("error"),
	})
}

// Add appends an entry, dropping the oldest beyond maxLogEntries
func (l *LogTab) Add(entry LogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > maxLogEntries {
		l.entries = l.entries[len(l.entries)-maxLogEntries:]
	}
	l.mu.Unlock()

	if l.logList != nil {
		l.logList.Refresh()
		if l.autoScrollCheck != nil && l.autoScrollCheck.Checked {
			l.logList.ScrollToBottom()
		}
	}
}

// Clear removes every entry
func (l *LogTab) Clear() {
	l.mu.Lock()
	l.entries = l.entries[:0]
	l.mu.Unlock()

	if l.logList != nil {
		l.logList.Refresh()
	}
}

// filtered returns the entries at or above the selected level
func (l *LogTab) filtered() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	selected := "All"
	if l.filterSelect != nil && l.filterSelect.Selected != "" {
		selected = l.filterSelect.Selected
	}
	if selected == "All" {
		return l.entries
	}

	minRank := levelRank(events.Level(selected))
	out := make([]LogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if levelRank(e.Level) >= minRank {
			out = append(out, e)
		}
	}
	return out
}

func levelRank(level events.Level) int {
	switch level {
	case events.LevelDebug:
		return 0
	case events.LevelWarn:
		return 2
	case events.LevelError:
		return 3
	default:
		return 1
	}
}
