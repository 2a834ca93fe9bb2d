package bot

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/linyvhuo/webot/internal/cancel"
	"github.com/linyvhuo/webot/internal/config"
	"github.com/linyvhuo/webot/internal/cv"
	"github.com/linyvhuo/webot/internal/events"
	"github.com/linyvhuo/webot/internal/input"
	"github.com/linyvhuo/webot/pkg/templates"
)

// queueCapacity bounds the commands waiting for the worker
const queueCapacity = 4

// launchPoll is how often the window list is checked while the target starts up
const launchPoll = 500 * time.Millisecond

// WindowProvider finds, launches and arranges the target application's window
type WindowProvider interface {
	Find(title string) (cv.WindowHandle, error)
	Launch(path, args string) error
	Foreground(h cv.WindowHandle) error
	IsForeground(h cv.WindowHandle) bool
	Maximize(h cv.WindowHandle) error
	ClientToScreen(h cv.WindowHandle, p image.Point) (image.Point, error)
	ClientSize(h cv.WindowHandle) (image.Point, error)
}

// Deps are the collaborators of the orchestrator
type Deps struct {
	Windows WindowProvider
	Capture cv.WindowCapturer
	Input   input.Backend
	Sizes   templates.SizeStore // resolved template sizes; in memory when nil
	Events  events.Sink
	Timing  *input.Timing // nil uses input.DefaultTiming
	NewID   func() string // session ids, random UUIDs when nil
}

// StartRequest asks for one session
type StartRequest struct {
	Config    config.Config
	Rounds    int      // overrides Config.Rounds when > 0
	Questions []string // overrides the configured questions when not empty
}

// sessionPlan is a validated start request waiting for the worker
type sessionPlan struct {
	id        string
	cfg       config.Config
	questions []string
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
)

type command struct {
	kind commandKind
	plan *sessionPlan
}

// Orchestrator runs automation sessions on a single worker goroutine. Start, Stop, State and
// Progress are safe from any goroutine; everything else belongs to the worker started by Run.
type Orchestrator struct {
	deps     Deps
	events   events.Sink
	input    *input.Dispatcher
	box      stateBox
	token    *cancel.Token
	commands chan command
	pending  atomic.Pointer[sessionPlan] // accepted start not yet claimed by the worker

	controlMu  sync.Mutex
	launchPoll time.Duration
}

// New creates an orchestrator. Call Run on a dedicated goroutine before starting sessions.
func New(deps Deps) *Orchestrator {
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	timing := input.DefaultTiming()
	if deps.Timing != nil {
		timing = *deps.Timing
	}

	return &Orchestrator{
		deps:       deps,
		events:     deps.Events,
		input:      input.NewDispatcher(deps.Input, timing, deps.Events),
		token:      cancel.NewToken(),
		commands:   make(chan command, queueCapacity),
		launchPoll: launchPoll,
	}
}

// State returns the current lifecycle state
func (o *Orchestrator) State() State {
	return o.box.load()
}

// Progress returns (completed rounds, total rounds) of the current or last session
func (o *Orchestrator) Progress() (int, int) {
	return o.box.progress()
}

// Start validates req and queues a session. It fails with ErrBusy while a session is starting
// or running and with ErrQueueFull when the worker is backed up.
func (o *Orchestrator) Start(req StartRequest) error {
	cfg := req.Config
	if req.Rounds > 0 {
		cfg.Rounds = req.Rounds
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	questions := req.Questions
	if len(questions) == 0 {
		q, err := cfg.ResolveQuestions()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoQuestions, err)
		}
		questions = q
	}

	o.controlMu.Lock()
	defer o.controlMu.Unlock()

	from := o.box.load()
	if from.Busy() || !o.box.swap(from, StateStarting) {
		return ErrBusy
	}

	plan := &sessionPlan{id: o.deps.NewID(), cfg: cfg, questions: questions}
	o.token.Reset()
	o.pending.Store(plan)
	o.publishState(from, StateStarting)

	select {
	case o.commands <- command{kind: cmdStart, plan: plan}:
		return nil
	default:
		o.pending.CompareAndSwap(plan, nil)
		o.box.store(from)
		o.publishState(StateStarting, from)
		return ErrQueueFull
	}
}

// Stop requests the running session to end. Waits and gestures observe the request within
// one cancellation slice; the worker then cleans up and returns to Idle. A session that was
// accepted but not yet picked up by the worker never starts.
func (o *Orchestrator) Stop() {
	o.controlMu.Lock()
	defer o.controlMu.Unlock()

	state := o.box.load()
	if state == StateIdle {
		return
	}
	o.token.Request()

	if plan := o.pending.Load(); plan != nil && o.pending.CompareAndSwap(plan, nil) {
		// the worker never saw it, nothing to clean up
		o.token.Reset()
		if o.box.swap(StateStarting, StateIdle) {
			o.publishState(StateStarting, StateIdle)
		}
	}

	select {
	case o.commands <- command{kind: cmdStop}:
	default:
		// the token already carries the request
	}
}

// Run is the worker loop. It owns every session and returns when ctx is done; cancelling
// ctx also stops a session in progress.
func (o *Orchestrator) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, o.token.Request)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-o.commands:
			o.handle(cmd)
		}
	}
}

func (o *Orchestrator) handle(cmd command) {
	switch cmd.kind {
	case cmdStart:
		if !o.pending.CompareAndSwap(cmd.plan, nil) {
			o.logf(events.LevelInfo, "Session %s was stopped before it started", cmd.plan.id)
			return
		}
		o.runSession(cmd.plan)
	case cmdStop:
		if o.box.load() == StateIdle {
			o.logf(events.LevelDebug, "Stop requested while idle")
		}
	}
}

func (o *Orchestrator) logf(level events.Level, format string, args ...interface{}) {
	o.events.Publish(events.NewLogEvent("orchestrator", level, fmt.Sprintf(format, args...), nil))
}

func (o *Orchestrator) publishState(from, to State) {
	o.events.Publish(events.NewStateEvent("orchestrator", from.String(), to.String()))
}

// transition moves the worker's session between states, refusing illegal moves
func (o *Orchestrator) transition(to State) {
	from := o.box.load()
	if !canTransition(from, to) {
		o.logf(events.LevelWarn, "Ignoring illegal transition %s -> %s", from, to)
		return
	}
	if o.box.swap(from, to) {
		o.publishState(from, to)
	}
}

func (o *Orchestrator) publishProgress(current, total int) {
	o.box.setProgress(current, total)
	o.events.Publish(events.NewProgressEvent("orchestrator", current, total))
}
