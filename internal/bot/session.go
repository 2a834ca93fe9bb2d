package bot

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/linyvhuo/webot/internal/cancel"
	"github.com/linyvhuo/webot/internal/config"
	"github.com/linyvhuo/webot/internal/cv"
	"github.com/linyvhuo/webot/internal/events"
	"github.com/linyvhuo/webot/internal/input"
	"github.com/linyvhuo/webot/pkg/templates"
)

// scrollNotches is how far the content is scrolled up as a navigation corrective
const scrollNotches = 3

// NewLocator builds the template store and element locator a session works with.
// sizes may be nil, the configured [TemplateSizes] are then kept in memory only.
func NewLocator(cfg *config.Config, capture cv.WindowCapturer, sizes templates.SizeStore, sink events.Sink) (*cv.Locator, *templates.Store) {
	if sizes == nil {
		sizes = config.NewSizeStore("", cfg.TemplateSizes)
	}
	store := templates.NewStore(cfg.TemplateDir,
		templates.WithSizeStore(sizes),
		templates.WithScale(cfg.TemplateScale),
	)

	matcher := cv.NewMatcher(cv.MatchConfig{
		Thresholds:    cfg.Thresholds,
		PyramidLevels: cfg.PyramidLevels,
	})

	lc := cv.DefaultLocatorConfig()
	lc.Threshold = cfg.Threshold
	if cfg.SaveFailedCaptures {
		lc.DebugDir = cfg.DebugDir
	}
	return cv.NewLocator(capture, matcher, store, lc, sink), store
}

// session is the worker-side state of one start request
type session struct {
	o        *Orchestrator
	id       string
	cfg      *config.Config
	tok      *cancel.Token
	windows  WindowProvider
	input    *input.Dispatcher
	locator  *cv.Locator
	store    *templates.Store
	selector *QuestionSelector

	hwnd      cv.WindowHandle
	completed int
}

func (o *Orchestrator) runSession(plan *sessionPlan) {
	cfg := plan.cfg
	locator, store := NewLocator(&cfg, o.deps.Capture, o.deps.Sizes, o.events)
	s := &session{
		o:        o,
		id:       plan.id,
		cfg:      &cfg,
		tok:      o.token,
		windows:  o.deps.Windows,
		input:    o.input,
		locator:  locator,
		store:    store,
		selector: NewQuestionSelector(plan.questions, cfg.QuestionMode, cfg.RandomSeed),
	}

	o.events.Publish(events.NewSessionStartedEvent(plan.id, cfg.TargetTitle, cfg.Rounds, cfg.QuestionMode.String(), cfg.InputMethod.String()))
	o.publishProgress(0, cfg.Rounds)
	o.logf(events.LevelInfo, "Session %s started: %d rounds, %s questions, %s input", plan.id, cfg.Rounds, cfg.QuestionMode, cfg.InputMethod)

	err := s.run()
	s.finish(err)
}

func (s *session) logf(level events.Level, format string, args ...interface{}) {
	s.o.logf(level, format, args...)
}

func (s *session) debugf(format string, args ...interface{}) {
	s.o.logf(events.LevelDebug, format, args...)
}

// run executes the pipeline. A nil result means every round ran.
func (s *session) run() error {
	if err := s.loadTemplates(); err != nil {
		return err
	}
	if err := s.ensureTarget(); err != nil {
		return err
	}
	if err := s.navigate(); err != nil {
		return err
	}

	if err := s.tok.Err(); err != nil {
		return err
	}
	s.o.transition(StateRunning)
	return s.loop()
}

// finish publishes the outcome, resets per-session caches and the token, and returns to Idle
func (s *session) finish(err error) {
	total := s.cfg.Rounds
	status := events.StatusCompleted
	final := StateCompleted

	var sessErr *SessionError
	switch {
	case err == nil:
		s.logf(events.LevelInfo, "Session %s completed %d/%d rounds", s.id, s.completed, total)
	case cancel.IsCancelled(err):
		status = events.StatusStopped
		final = StateIdle
		s.logf(events.LevelInfo, "Session %s stopped after %d/%d rounds", s.id, s.completed, total)
	default:
		if !errors.As(err, &sessErr) {
			sessErr = fatal("unexpected", err)
		}
		status = events.StatusError
		final = StateError
		s.o.events.Publish(events.NewLogEvent("orchestrator", events.LevelError, "Session failed", sessErr))
		if sessErr.UserFacing {
			s.o.events.Publish(events.NewUserErrorEvent("orchestrator", sessErr.Message, sessErr.Err))
		}
	}

	var finishErr error
	if sessErr != nil {
		finishErr = sessErr
	}
	s.o.events.Publish(events.NewSessionFinishedEvent(s.id, status, s.completed, total, finishErr))

	s.locator.Reset()
	s.tok.Reset()

	cur := s.o.box.load()
	if final != StateIdle && canTransition(cur, final) && s.o.box.swap(cur, final) {
		s.o.publishState(cur, final)
		cur = final
	}
	s.o.publishProgress(s.completed, total)

	// a Start accepted from Completed or Error makes this swap fail, which is fine
	if cur != StateIdle && s.o.box.swap(cur, StateIdle) {
		s.o.publishState(cur, StateIdle)
	}
}

func (s *session) loadTemplates() error {
	defs, err := templates.LoadDefinitions(s.cfg.TemplateFile)
	if err != nil {
		return userFacing(StageTemplates, "Template definitions could not be read", err)
	}

	report := s.store.LoadAll(defs)
	for name, err := range report.OptionalFailed {
		s.logf(events.LevelWarn, "Optional template %s not loaded: %v", name, err)
	}
	if err := report.Err(); err != nil {
		return userFacing(StageTemplates, "Mandatory templates are missing", err)
	}

	s.logf(events.LevelInfo, "Loaded %d templates", len(report.Loaded))
	return nil
}

// ensureTarget finds or launches the target window, then raises and maximizes it
func (s *session) ensureTarget() error {
	title := s.cfg.TargetTitle
	h, err := s.windows.Find(title)
	if err != nil {
		if s.cfg.TargetPath == "" {
			return userFacing(StageTarget, fmt.Sprintf("Target window %q not found", title), err)
		}

		s.logf(events.LevelInfo, "Target window %q not found, launching %s", title, s.cfg.TargetPath)
		if err := s.windows.Launch(s.cfg.TargetPath, s.cfg.TargetArgs); err != nil {
			return userFacing(StageTarget, "Target application could not be launched", err)
		}
		if h, err = s.waitForWindow(); err != nil {
			if cancel.IsCancelled(err) {
				return err
			}
			return userFacing(StageTarget, fmt.Sprintf("Target window %q did not appear", title), err)
		}
	}
	s.hwnd = h

	if err := s.windows.Foreground(h); err != nil {
		return userFacing(StageTarget, "Target window could not be brought to the foreground", err)
	}
	if err := s.windows.Maximize(h); err != nil {
		return userFacing(StageTarget, "Target window could not be maximized", err)
	}
	s.logf(events.LevelInfo, "Target window 0x%x ready", uintptr(h))
	return nil
}

func (s *session) waitForWindow() (cv.WindowHandle, error) {
	deadline := time.Now().Add(s.cfg.LaunchTimeout)
	for {
		if err := cancel.Wait(s.o.launchPoll, s.tok); err != nil {
			return 0, err
		}
		h, err := s.windows.Find(s.cfg.TargetTitle)
		if err == nil {
			return h, nil
		}
		if !time.Now().Before(deadline) {
			return 0, fmt.Errorf("%w after %v", err, s.cfg.LaunchTimeout)
		}
	}
}

// navigate clicks the configured anchors in order
func (s *session) navigate() error {
	for _, step := range s.cfg.Navigation {
		p, err := s.locate(step.Template, s.cfg.NavigationAttempts, s.corrective)
		if err == nil {
			err = s.click(p)
		}
		if cancel.IsCancelled(err) {
			return err
		}

		if err != nil {
			if step.Essential {
				return userFacing(StageNavigation, fmt.Sprintf("Navigation anchor %q not found", step.Template), err)
			}
			if s.cfg.AbortOnOptionalNavFailure {
				return fatal(StageNavigation, err)
			}
			s.logf(events.LevelWarn, "Optional navigation step %s skipped: %v", step.Template, err)
			continue
		}

		s.logf(events.LevelInfo, "Navigated via %s", step.Template)
		if err := cancel.Wait(s.cfg.PageLoadWait, s.tok); err != nil {
			return err
		}
	}
	return nil
}

// corrective runs between navigation attempts: odd failures scroll the content up,
// even failures re-maximize the window
func (s *session) corrective(failed int) error {
	if failed%2 == 0 {
		s.debugf("Re-maximizing window before retry")
		return s.windows.Maximize(s.hwnd)
	}

	size, err := s.windows.ClientSize(s.hwnd)
	if err != nil {
		return err
	}
	center, err := s.windows.ClientToScreen(s.hwnd, image.Pt(size.X/2, size.Y/2))
	if err != nil {
		return err
	}
	s.debugf("Scrolling content before retry")
	return s.input.Scroll(center, scrollNotches, s.tok)
}

// locate finds a template with up to attempts tries. Exhaustion is a LocateFailure.
func (s *session) locate(name string, attempts int, between func(int) error) (image.Point, error) {
	var p image.Point
	step := retryStep{
		name:        "locate " + name,
		maxAttempts: attempts,
		retryDelay:  s.cfg.RetryDelay,
		between:     between,
	}

	n, err := step.run(s.tok, s.debugf, func(int) error {
		var err error
		p, err = s.locator.Locate(s.hwnd, name)
		return err
	})
	if err != nil && !cancel.IsCancelled(err) {
		return image.Point{}, &LocateFailure{Template: name, Attempts: n, Err: err}
	}
	return p, err
}

// click clicks a point given in client coordinates
func (s *session) click(p image.Point) error {
	screen, err := s.windows.ClientToScreen(s.hwnd, p)
	if err != nil {
		return err
	}
	return s.input.ClickAt(screen, s.tok)
}

func (s *session) loop() error {
	total := s.cfg.Rounds
	for round := 1; round <= total; round++ {
		if err := s.tok.Err(); err != nil {
			return err
		}
		if round > 1 {
			if err := cancel.Wait(s.cfg.RoundDelay, s.tok); err != nil {
				return err
			}
		}
		if err := s.round(round, total); err != nil {
			return err
		}
	}
	return nil
}

// round runs one question/answer exchange and applies the continue policies
func (s *session) round(n, total int) error {
	started := time.Now()
	question := s.selector.Next()
	s.logf(events.LevelInfo, "Round %d/%d: %s", n, total, question)

	status, err := s.exchange(question)
	if cancel.IsCancelled(err) {
		return err
	}
	s.o.events.Publish(events.NewRoundFinishedEvent(s.id, n, question, status, time.Since(started), err))

	if err != nil {
		cont := s.cfg.ContinueOnError
		if status == events.RoundTimeout {
			cont = s.cfg.ContinueOnTimeout
		}
		if !cont {
			return fatal(StageRound, fmt.Errorf("round %d: %w", n, err))
		}
		s.logf(events.LevelWarn, "Round %d failed (%s), continuing: %v", n, status, err)
	}

	s.completed = n
	s.o.publishProgress(n, total)
	return nil
}

// exchange enters one question, submits it and waits for the answer to settle
func (s *session) exchange(question string) (string, error) {
	anchor, err := s.locateInput()
	if err == nil {
		err = s.focus(anchor)
	}
	if err == nil {
		err = s.enterText(question)
	}
	if err == nil {
		err = s.submit()
	}
	if err != nil {
		if cancel.IsCancelled(err) {
			return "", err
		}
		return events.RoundSubmitFailed, fmt.Errorf("%w: %w", errSubmit, err)
	}

	if err := cancel.Wait(s.cfg.AnswerMinWait, s.tok); err != nil {
		return "", err
	}
	if err := s.locator.WaitStable(s.hwnd, anchor, s.cfg.AnswerTimeout, s.cfg.ProbeInterval, s.tok); err != nil {
		if cancel.IsCancelled(err) {
			return "", err
		}
		return events.RoundTimeout, err
	}
	return events.RoundOK, nil
}

// locateInput finds the input box, falling back to a fixed offset above the bottom center
func (s *session) locateInput() (image.Point, error) {
	p, err := s.locate(s.cfg.InputTemplate, s.cfg.MaxLocateAttempts, nil)
	if err == nil || cancel.IsCancelled(err) {
		return p, err
	}

	size, serr := s.windows.ClientSize(s.hwnd)
	if serr != nil {
		return image.Point{}, serr
	}
	p = image.Pt(size.X/2, max(size.Y-s.cfg.InputFallbackOffsetY, 0))
	s.logf(events.LevelWarn, "Input box not located, using fallback (%d,%d): %v", p.X, p.Y, err)
	return p, nil
}

// focus clicks the input twice and once more if the window lost the foreground
func (s *session) focus(p image.Point) error {
	for i := 0; i < 2; i++ {
		if err := s.click(p); err != nil {
			return err
		}
	}
	if !s.windows.IsForeground(s.hwnd) {
		s.logf(events.LevelWarn, "Target window is not in the foreground, clicking again")
		return s.click(p)
	}
	return nil
}

func (s *session) enterText(text string) error {
	if s.cfg.InputMethod == config.InputMethodPaste {
		return s.input.PasteText(text, s.tok)
	}
	return s.input.TypeText(text, s.tok)
}

// submit clicks the submit button. When it cannot be located the last known position is
// clicked twice, and without one Enter is pressed.
func (s *session) submit() error {
	name := s.cfg.SubmitTemplate
	p, err := s.locate(name, s.cfg.MaxLocateAttempts, nil)
	if err == nil || cancel.IsCancelled(err) {
		if err != nil {
			return err
		}
		return s.click(p)
	}

	if last, ok := s.locator.LastPosition(s.hwnd, name); ok {
		s.logf(events.LevelWarn, "Submit button not located, clicking last known position (%d,%d) twice", last.X, last.Y)
		for i := 0; i < 2; i++ {
			if err := s.click(last); err != nil {
				return err
			}
		}
		return nil
	}

	s.logf(events.LevelWarn, "Submit button not located and no known position, pressing Enter")
	return s.input.PressKey(input.KeyEnter, s.tok)
}
