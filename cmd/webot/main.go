package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/linyvhuo/webot/internal/bot"
	"github.com/linyvhuo/webot/internal/config"
	"github.com/linyvhuo/webot/internal/coordinator"
	"github.com/linyvhuo/webot/internal/cv"
	"github.com/linyvhuo/webot/internal/database"
	"github.com/linyvhuo/webot/internal/events"
	"github.com/linyvhuo/webot/internal/window"
	"github.com/linyvhuo/webot/pkg/templates"
)

const usage = `Usage: webot <command> [flags]

Commands:
  run       run one automation session
  history   list recent sessions from the run history
  locate    capture the target window once and locate a template

Run "webot <command> -h" for the flags of a command.
`

// stopGrace bounds the wait for a stopped session to report its result
const stopGrace = 10 * time.Second

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.FgHiBlack)
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "history":
		err = historyCommand(os.Args[2:])
	case "locate":
		err = locateCommand(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		failColor.Fprintf(os.Stderr, "Error: ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the settings file, then .env and WEBOT_* variables on top of it
func loadConfig(path, envPath string) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if config.Exists(path) {
		loaded, err := config.LoadFromINI(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		warnColor.Fprintf(os.Stderr, "Settings file %s not found, using defaults\n", path)
	}

	if err := config.ApplyEnvFile(cfg, envPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "Settings.ini", "Path to the settings file")
	envPath := fs.String("env", ".env", "Path to a .env file with WEBOT_* overrides")
	rounds := fs.Int("rounds", 0, "Number of rounds (overrides the settings file)")
	mode := fs.String("mode", "", "Question order: cycle or random")
	paste := fs.Bool("paste", false, "Enter questions through the clipboard")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, *envPath)
	if err != nil {
		return err
	}
	switch strings.ToLower(*mode) {
	case "":
	case "cycle":
		cfg.QuestionMode = config.QuestionModeCycle
	case "random":
		cfg.QuestionMode = config.QuestionModeRandom
	default:
		return fmt.Errorf("unknown question mode %q", *mode)
	}
	if *paste {
		cfg.InputMethod = config.InputMethodPaste
	}

	rt, err := coordinator.New(coordinator.Options{Config: cfg, ConfigPath: *configPath})
	if err != nil {
		return err
	}
	defer rt.Close()

	finished := make(chan events.Event, 1)
	rt.Subscribe(events.SinkFunc(func(e events.Event) {
		switch e.Type {
		case events.EventTypeProgress:
			dimColor.Printf("Round %d/%d\n", e.Int("current"), e.Int("total"))
		case events.EventTypeSessionFinished:
			finished <- e
		}
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	rt.Start(context.Background())

	if err := rt.Orchestrator.Start(bot.StartRequest{Config: *cfg, Rounds: *rounds}); err != nil {
		return err
	}

	var result events.Event
	select {
	case result = <-finished:
	case <-ctx.Done():
		warnColor.Println("Interrupted, stopping the session")
		rt.Orchestrator.Stop()
		select {
		case result = <-finished:
		case <-time.After(stopGrace):
			// a session stopped before the worker claimed it never reports a result
			return nil
		}
	}

	status := result.String("status")
	summary := fmt.Sprintf("Session %s: %d/%d rounds", status, result.Int("completed"), result.Int("total"))
	switch status {
	case events.StatusCompleted:
		okColor.Println(summary)
		return nil
	case events.StatusStopped:
		warnColor.Println(summary)
		return nil
	default:
		failColor.Println(summary)
		return errors.New(result.String("error"))
	}
}

func historyCommand(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "Settings.ini", "Path to the settings file")
	dbPath := fs.String("db", "", "History database (default: HistoryPath from the settings file)")
	limit := fs.Int("n", 20, "Number of sessions to list")
	fs.Parse(args)

	path := *dbPath
	if path == "" {
		cfg, err := loadConfig(*configPath, ".env")
		if err != nil {
			return err
		}
		path = cfg.HistoryPath
	}
	if path == "" {
		return errors.New("run history is disabled, no database configured")
	}

	db, err := database.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.RecentSessions(*limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded")
		return nil
	}

	for _, s := range sessions {
		c := okColor
		switch s.Status {
		case database.SessionFailed:
			c = failColor
		case database.SessionStopped, database.SessionRunning:
			c = warnColor
		}
		c.Printf("%-9s ", s.Status)
		fmt.Printf("%s  %3d/%-3d  %s", s.StartedAt.Format("2006-01-02 15:04:05"), s.CompletedRounds, s.TotalRounds, s.ID)
		if s.DurationMs != nil {
			dimColor.Printf("  %s", (time.Duration(*s.DurationMs) * time.Millisecond).Round(time.Second))
		}
		if s.ErrorMessage != nil {
			dimColor.Printf("  %s", *s.ErrorMessage)
		}
		fmt.Println()
	}
	return nil
}

func locateCommand(args []string) error {
	fs := flag.NewFlagSet("locate", flag.ExitOnError)
	configPath := fs.String("config", "Settings.ini", "Path to the settings file")
	name := fs.String("template", "", "Template to locate")
	fs.Parse(args)

	if *name == "" {
		return errors.New("-template is required")
	}
	cfg, err := loadConfig(*configPath, ".env")
	if err != nil {
		return err
	}

	windows := window.NewProvider()
	h, err := windows.Find(cfg.TargetTitle)
	if err != nil {
		return fmt.Errorf("target window %q: %w", cfg.TargetTitle, err)
	}

	sink := events.SinkFunc(func(e events.Event) {
		if e.Type == events.EventTypeLog {
			dimColor.Printf("[%s] %s\n", e.String("level"), e.String("message"))
		}
	})
	locator, store := bot.NewLocator(cfg, cv.NewCapturer(), config.NewSizeStore(*configPath, cfg.TemplateSizes), sink)

	defs, err := templates.LoadDefinitions(cfg.TemplateFile)
	if err != nil {
		return err
	}
	if report := store.LoadAll(defs); !store.Has(*name) {
		if err, ok := report.MandatoryFailed[*name]; ok {
			return err
		}
		if err, ok := report.OptionalFailed[*name]; ok {
			return err
		}
		return fmt.Errorf("template %q is not defined in %s", *name, cfg.TemplateFile)
	}

	p, err := locator.Locate(h, *name)
	if err != nil {
		failColor.Printf("%s not found\n", *name)
		return err
	}
	okColor.Printf("%s found at %d,%d (client coordinates)\n", *name, p.X, p.Y)
	return nil
}
