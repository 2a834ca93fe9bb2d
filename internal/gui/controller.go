package gui

import (
	"fmt"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/linyvhuo/webot/internal/bot"
	"github.com/linyvhuo/webot/internal/config"
	"github.com/linyvhuo/webot/internal/events"
)

// Engine is the part of the orchestrator the panel drives
type Engine interface {
	Start(req bot.StartRequest) error
	Stop()
	State() bot.State
	Progress() (int, int)
}

// Options wires the panel to the rest of the application
type Options struct {
	Engine     Engine
	Config     *config.Config
	ConfigPath string        // settings are saved here
	History    HistorySource // nil when history is disabled
}

// Controller owns the control panel window and routes engine events to its tabs
type Controller struct {
	app    fyne.App
	window fyne.Window
	engine Engine
	bridge *EventBridge

	configPath string
	config     config.Config
	mu         sync.RWMutex

	dashboard   *DashboardTab
	logTab      *LogTab
	historyTab  *HistoryTab
	settingsTab *SettingsTab
}

// NewController creates the panel. Publish engine events to Bridge().
func NewController(app fyne.App, window fyne.Window, opts Options) *Controller {
	ctrl := &Controller{
		app:        app,
		window:     window,
		engine:     opts.Engine,
		bridge:     NewEventBridge(0),
		configPath: opts.ConfigPath,
		config:     *opts.Config,
	}

	ctrl.dashboard = NewDashboardTab(ctrl)
	ctrl.logTab = NewLogTab()
	ctrl.historyTab = NewHistoryTab(ctrl, opts.History)
	ctrl.settingsTab = NewSettingsTab(ctrl)

	ctrl.setupEventHandlers()
	return ctrl
}

// Bridge returns the sink the engine publishes to
func (c *Controller) Bridge() events.Sink {
	return c.bridge
}

// BuildUI constructs the tabbed layout and starts event delivery
func (c *Controller) BuildUI() fyne.CanvasObject {
	tabs := container.NewAppTabs(
		container.NewTabItem("Session", c.dashboard.Build()),
		container.NewTabItem("Event Log", c.logTab.Build()),
		container.NewTabItem("History", c.historyTab.Build()),
		container.NewTabItem("Settings", c.settingsTab.Build()),
	)
	tabs.SetTabLocation(container.TabLocationTop)

	c.bridge.Start()
	return tabs
}

// Config returns a copy of the current configuration
func (c *Controller) Config() config.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// UpdateConfig replaces the configuration and saves it when a settings file is known
func (c *Controller) UpdateConfig(cfg config.Config) error {
	if c.configPath != "" {
		if err := config.SaveToINI(&cfg, c.configPath); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
	}
	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()
	return nil
}

// Shutdown stops a running session and event delivery
func (c *Controller) Shutdown() {
	if c.engine.State().Busy() {
		c.engine.Stop()
	}
	c.bridge.Stop()
}

func (c *Controller) setupEventHandlers() {
	c.bridge.Subscribe(events.EventTypeLog, c.logTab.HandleEvent)
	c.bridge.Subscribe(events.EventTypeState, c.dashboard.HandleState)
	c.bridge.Subscribe(events.EventTypeProgress, c.dashboard.HandleProgress)
	c.bridge.Subscribe(events.EventTypeSessionFinished, c.dashboard.HandleSessionFinished)
	c.bridge.Subscribe(events.EventTypeSessionFinished, c.historyTab.HandleSessionFinished)
	c.bridge.Subscribe(events.EventTypeUserError, c.handleUserError)
}

// handleUserError shows the operator a modal dialog. The engine publishes at most one
// per session.
func (c *Controller) handleUserError(e events.Event) {
	msg := e.String("message")
	detail := e.String("error")

	content := widget.NewLabel(msg)
	content.Wrapping = fyne.TextWrapWord
	body := container.NewVBox(content)
	if detail != "" {
		d := widget.NewLabel(detail)
		d.Wrapping = fyne.TextWrapWord
		d.Importance = widget.LowImportance
		body.Add(d)
	}

	dlg := dialog.NewCustom("Automation stopped", "OK", body, c.window)
	dlg.Resize(fyne.NewSize(420, 180))
	dlg.Show()
}
