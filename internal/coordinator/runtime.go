// Package coordinator assembles the engine and its ambient services for a process: the event
// bus, component logging, run history and the optional MQTT mirror.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/linyvhuo/webot/internal/bot"
	"github.com/linyvhuo/webot/internal/config"
	"github.com/linyvhuo/webot/internal/cv"
	"github.com/linyvhuo/webot/internal/database"
	"github.com/linyvhuo/webot/internal/events"
	"github.com/linyvhuo/webot/internal/input"
	"github.com/linyvhuo/webot/internal/logging"
	"github.com/linyvhuo/webot/internal/mqtt"
	"github.com/linyvhuo/webot/internal/window"
	"github.com/linyvhuo/webot/pkg/templates"
)

const busBufferSize = 1024

// Options configures a Runtime. Nil platform collaborators use the native implementations.
type Options struct {
	Config     *config.Config
	ConfigPath string    // resolved template sizes are written back here; empty keeps them in memory
	Console    io.Writer // log console, nil means stdout

	Windows bot.WindowProvider
	Capture cv.WindowCapturer
	Input   input.Backend
	NewID   func() string
	Timing  *input.Timing
}

// Runtime owns one orchestrator and the services subscribed to its events
type Runtime struct {
	Config       *config.Config
	Logger       *logging.Logger
	Bus          *events.DefaultEventBus
	Orchestrator *bot.Orchestrator
	History      *database.DB // nil when HistoryPath is empty
	Sizes        templates.SizeStore

	eventLogger *logging.EventLogger
	recorder    *database.HistoryRecorder
	publisher   *mqtt.Publisher

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New wires a runtime. Failing to open the history database is fatal, an unreachable MQTT
// broker is only logged.
func New(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	logger := logging.New("webot", logging.Options{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		Console: opts.Console,
		File: &logging.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		},
	})

	rt := &Runtime{
		Config: cfg,
		Logger: logger,
		Bus:    events.NewEventBus(busBufferSize),
		Sizes:  config.NewSizeStore(opts.ConfigPath, cfg.TemplateSizes),
	}
	rt.Bus.OnPanic(func(t events.EventType, r interface{}) {
		logger.Component("events").Error(fmt.Sprintf("Subscriber panicked on %s", t), fmt.Errorf("%v", r))
	})
	rt.eventLogger = logging.NewEventLogger(rt.Bus, logger)

	if cfg.HistoryPath != "" {
		db, err := database.Open(cfg.HistoryPath)
		if err != nil {
			rt.Bus.Stop()
			logger.Close()
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		rt.History = db
		historyLog := logger.Component("history")
		rt.recorder = database.NewHistoryRecorder(db, rt.Bus, func(err error) {
			historyLog.Warn(fmt.Sprintf("Failed to record history: %v", err))
		})
	}

	if cfg.MQTT.Enabled {
		mqttLog := logger.Component("mqtt")
		pub, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			mqttLog.Error("Event mirror disabled", err)
		} else {
			pub.OnError(func(err error) { mqttLog.Warn(err.Error()) })
			pub.Attach(rt.Bus)
			rt.publisher = pub
			mqttLog.Info(fmt.Sprintf("Mirroring events to %s", cfg.MQTT.Broker))
		}
	}

	deps := bot.Deps{
		Windows: opts.Windows,
		Capture: opts.Capture,
		Input:   opts.Input,
		Sizes:   rt.Sizes,
		Events:  rt.Bus,
		Timing:  opts.Timing,
		NewID:   opts.NewID,
	}
	if deps.Windows == nil {
		deps.Windows = window.NewProvider()
	}
	if deps.Capture == nil {
		deps.Capture = cv.NewCapturer()
	}
	if deps.Input == nil {
		deps.Input = input.NewBackend()
	}
	rt.Orchestrator = bot.New(deps)

	return rt, nil
}

// Start runs the orchestrator worker until ctx is done or Close is called
func (rt *Runtime) Start(ctx context.Context) {
	ctx, rt.cancel = context.WithCancel(ctx)
	rt.done = make(chan struct{})
	go func() {
		defer close(rt.done)
		rt.Orchestrator.Run(ctx)
	}()
}

// Subscribe forwards every engine event to sink, used by front ends that attach late
func (rt *Runtime) Subscribe(sink events.Sink) {
	rt.Bus.SubscribeAll(sink.Publish)
}

// Close stops the worker, drains the bus and releases every service
func (rt *Runtime) Close() error {
	var errs []error
	rt.closeOnce.Do(func() {
		if rt.cancel != nil {
			rt.cancel()
			<-rt.done
		}

		// drained before the subscribers go away so the last session is recorded
		rt.Bus.Stop()
		if dropped := rt.Bus.Dropped(); dropped > 0 {
			rt.Logger.Warn(fmt.Sprintf("%d events were dropped", dropped))
		}

		if rt.publisher != nil {
			if err := rt.publisher.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if rt.recorder != nil {
			rt.recorder.Close()
		}
		if rt.History != nil {
			if err := rt.History.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		rt.eventLogger.Close()
		if err := rt.Logger.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
