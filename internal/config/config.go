package config

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/linyvhuo/webot/internal/cv"
)

// InputMethod selects how question text reaches the input box
type InputMethod int

const (
	InputMethodKeyboard InputMethod = iota // type one character at a time
	InputMethodPaste                       // stage on the clipboard and send Ctrl+V
)

func (m InputMethod) String() string {
	switch m {
	case InputMethodPaste:
		return "paste"
	default:
		return "keyboard"
	}
}

// QuestionMode selects how the next question is picked each round
type QuestionMode int

const (
	QuestionModeCycle QuestionMode = iota
	QuestionModeRandom
)

func (m QuestionMode) String() string {
	switch m {
	case QuestionModeRandom:
		return "random"
	default:
		return "cycle"
	}
}

// NavStep is one navigation anchor clicked before the question loop
type NavStep struct {
	Template  string
	Essential bool
}

// LoggingConfig configures the component logger
type LoggingConfig struct {
	Level      string
	File       string // empty disables the rotating file
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// MQTTConfig configures the optional event mirror
type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	QoS         byte
}

// Config holds every setting of one automation session. It is passed by value to the
// orchestrator at session start, there is no global configuration.
type Config struct {
	// Target application
	TargetTitle   string
	TargetPath    string
	TargetArgs    string
	LaunchTimeout time.Duration

	// Session
	Rounds            int
	QuestionMode      QuestionMode
	QuestionFile      string // YAML list; when empty the [Questions] section is used
	Questions         []string
	RandomSeed        int64 // 0 seeds from the clock
	InputMethod       InputMethod
	RoundDelay        time.Duration
	ContinueOnError   bool
	ContinueOnTimeout bool

	// Templates and matching
	TemplateFile  string
	TemplateDir   string
	TemplateScale float64
	Threshold     float64
	Thresholds    cv.ThresholdTable
	PyramidLevels int
	TemplateSizes map[string]image.Point

	// Navigation and location
	Navigation                []NavStep
	NavigationAttempts        int
	MaxLocateAttempts         int
	AbortOnOptionalNavFailure bool
	PageLoadWait              time.Duration
	RetryDelay                time.Duration
	InputTemplate             string
	SubmitTemplate            string
	InputFallbackOffsetY      int

	// Answer stability
	AnswerTimeout time.Duration
	AnswerMinWait time.Duration
	ProbeInterval time.Duration

	// Ambient
	Logging            LoggingConfig
	MQTT               MQTTConfig
	HistoryPath        string // empty disables run history
	SaveFailedCaptures bool
	DebugDir           string
}

// NewDefaultConfig creates a config with default values
func NewDefaultConfig() *Config {
	return &Config{
		TargetTitle:   "WeChat",
		TargetPath:    `C:\Program Files\Tencent\WeChat\WeChat.exe`,
		LaunchTimeout: 30 * time.Second,

		Rounds:       10,
		QuestionMode: QuestionModeCycle,
		InputMethod:  InputMethodKeyboard,
		RoundDelay:   2 * time.Second,

		TemplateFile:  "templates/templates.yaml",
		TemplateDir:   "templates",
		TemplateScale: 1.0,
		Threshold:     0.8,
		Thresholds:    cv.DefaultThresholds(),
		PyramidLevels: 0,
		TemplateSizes: make(map[string]image.Point),

		Navigation: []NavStep{
			{Template: "workbench", Essential: true},
			{Template: "feature_entry", Essential: true},
			{Template: "history", Essential: false},
		},
		NavigationAttempts:   5,
		MaxLocateAttempts:    5,
		PageLoadWait:         1500 * time.Millisecond,
		RetryDelay:           500 * time.Millisecond,
		InputTemplate:        "input_box",
		SubmitTemplate:       "send_button",
		InputFallbackOffsetY: 120,

		AnswerTimeout: 60 * time.Second,
		AnswerMinWait: 1500 * time.Millisecond,
		ProbeInterval: 1 * time.Second,

		Logging: LoggingConfig{
			Level:      "INFO",
			File:       "logs/webot.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		MQTT: MQTTConfig{
			ClientID:    "webot",
			TopicPrefix: "webot",
			QoS:         1,
		},
		HistoryPath: "webot.db",
		DebugDir:    "debug",
	}
}

var errInvalid = errors.New("invalid configuration")

// Validate checks values the orchestrator cannot run without
func (c *Config) Validate() error {
	var errs []error
	if c.TargetTitle == "" {
		errs = append(errs, errors.New("TargetTitle is empty"))
	}
	if c.Rounds < 1 {
		errs = append(errs, fmt.Errorf("Rounds must be at least 1, got %d", c.Rounds))
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("Threshold must be in (0,1], got %v", c.Threshold))
	}
	if c.MaxLocateAttempts < 1 {
		errs = append(errs, fmt.Errorf("MaxLocateAttempts must be at least 1, got %d", c.MaxLocateAttempts))
	}
	if c.NavigationAttempts < 1 {
		errs = append(errs, fmt.Errorf("NavigationAttempts must be at least 1, got %d", c.NavigationAttempts))
	}
	if c.InputTemplate == "" || c.SubmitTemplate == "" {
		errs = append(errs, errors.New("InputTemplate and SubmitTemplate are required"))
	}
	if c.AnswerTimeout <= 0 {
		errs = append(errs, errors.New("AnswerTimeout must be positive"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("MQTT is enabled without a broker"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", errInvalid, errors.Join(errs...))
}

// IsInvalid reports whether err came from Validate
func IsInvalid(err error) bool {
	return errors.Is(err, errInvalid)
}
