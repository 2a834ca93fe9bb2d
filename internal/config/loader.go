package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/linyvhuo/webot/internal/cv"
	"github.com/linyvhuo/webot/pkg/templates"
)

const (
	sectionUser       = "UserSettings"
	sectionNavigation = "Navigation"
	sectionThresholds = "Thresholds"
	sectionSizes      = "TemplateSizes"
	sectionQuestions  = "Questions"
	sectionLogging    = "Logging"
	sectionMQTT       = "MQTT"
	sectionDebug      = "Debug"
)

// LoadFromINI loads configuration from a Settings.ini file. Missing keys keep their defaults.
func LoadFromINI(path string) (*Config, error) {
	file, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	return fromINI(file)
}

// loadOptions keeps '#' and ';' inside question text
var loadOptions = ini.LoadOptions{IgnoreInlineComment: true}

func fromINI(file *ini.File) (*Config, error) {
	config := NewDefaultConfig()
	section := file.Section(sectionUser)

	// Target application
	config.TargetTitle = section.Key("TargetTitle").MustString(config.TargetTitle)
	config.TargetPath = section.Key("TargetPath").MustString(config.TargetPath)
	config.TargetArgs = section.Key("TargetArgs").MustString("")
	config.LaunchTimeout = seconds(section.Key("LaunchTimeout").MustFloat64(config.LaunchTimeout.Seconds()))

	// Session
	config.Rounds = section.Key("Rounds").MustInt(config.Rounds)
	config.QuestionMode = parseQuestionMode(section.Key("QuestionMode").MustString("cycle"))
	config.QuestionFile = section.Key("QuestionFile").MustString("")
	config.RandomSeed = section.Key("RandomSeed").MustInt64(0)
	config.InputMethod = parseInputMethod(section.Key("InputMethod").MustString("keyboard"))
	config.RoundDelay = millis(section.Key("RoundDelay").MustInt(int(config.RoundDelay.Milliseconds())))
	config.ContinueOnError = section.Key("ContinueOnError").MustBool(false)
	config.ContinueOnTimeout = section.Key("ContinueOnTimeout").MustBool(false)
	config.HistoryPath = section.Key("HistoryPath").MustString(config.HistoryPath)

	// Templates and matching
	config.TemplateFile = section.Key("TemplateFile").MustString(config.TemplateFile)
	config.TemplateDir = section.Key("TemplateDir").MustString(config.TemplateDir)
	config.TemplateScale = section.Key("TemplateScale").MustFloat64(config.TemplateScale)
	config.Threshold = section.Key("Threshold").MustFloat64(config.Threshold)
	config.PyramidLevels = section.Key("PyramidLevels").MustInt(config.PyramidLevels)

	// Location
	config.NavigationAttempts = section.Key("NavigationAttempts").MustInt(config.NavigationAttempts)
	config.MaxLocateAttempts = section.Key("MaxLocateAttempts").MustInt(config.MaxLocateAttempts)
	config.AbortOnOptionalNavFailure = section.Key("AbortOnOptionalNavFailure").MustBool(false)
	config.PageLoadWait = millis(section.Key("PageLoadWait").MustInt(int(config.PageLoadWait.Milliseconds())))
	config.RetryDelay = millis(section.Key("RetryDelay").MustInt(int(config.RetryDelay.Milliseconds())))
	config.InputTemplate = section.Key("InputTemplate").MustString(config.InputTemplate)
	config.SubmitTemplate = section.Key("SubmitTemplate").MustString(config.SubmitTemplate)
	config.InputFallbackOffsetY = section.Key("InputFallbackOffsetY").MustInt(config.InputFallbackOffsetY)

	// Answer stability
	config.AnswerTimeout = seconds(section.Key("AnswerTimeout").MustFloat64(config.AnswerTimeout.Seconds()))
	config.AnswerMinWait = millis(section.Key("AnswerMinWait").MustInt(int(config.AnswerMinWait.Milliseconds())))
	config.ProbeInterval = millis(section.Key("ProbeInterval").MustInt(int(config.ProbeInterval.Milliseconds())))

	// Navigation anchors, in file order
	if file.HasSection(sectionNavigation) {
		nav := file.Section(sectionNavigation)
		if len(nav.Keys()) > 0 {
			config.Navigation = config.Navigation[:0]
			for _, key := range nav.Keys() {
				config.Navigation = append(config.Navigation, NavStep{
					Template:  key.Name(),
					Essential: parseEssential(key.String()),
				})
			}
		}
	}

	// Per-family threshold overrides
	overrides := make(cv.ThresholdTable)
	for _, key := range file.Section(sectionThresholds).Keys() {
		rule, err := cv.ParseThresholdRule(key.String())
		if err != nil {
			return nil, fmt.Errorf("[%s] %s: %w", sectionThresholds, key.Name(), err)
		}
		overrides[key.Name()] = rule
	}
	config.Thresholds = config.Thresholds.Merge(overrides)

	// Resolved template sizes
	for _, key := range file.Section(sectionSizes).Keys() {
		if size, ok := templates.ParseSize(key.String()); ok {
			config.TemplateSizes[key.Name()] = size
		}
	}

	// Inline questions
	for _, key := range file.Section(sectionQuestions).Keys() {
		if q := strings.TrimSpace(key.String()); q != "" {
			config.Questions = append(config.Questions, q)
		}
	}

	// Logging
	logging := file.Section(sectionLogging)
	config.Logging.Level = logging.Key("Level").MustString(config.Logging.Level)
	config.Logging.File = logging.Key("File").MustString(config.Logging.File)
	config.Logging.MaxSizeMB = logging.Key("MaxSizeMB").MustInt(config.Logging.MaxSizeMB)
	config.Logging.MaxBackups = logging.Key("MaxBackups").MustInt(config.Logging.MaxBackups)
	config.Logging.MaxAgeDays = logging.Key("MaxAgeDays").MustInt(config.Logging.MaxAgeDays)
	config.Logging.Compress = logging.Key("Compress").MustBool(false)

	// MQTT
	mqtt := file.Section(sectionMQTT)
	config.MQTT.Enabled = mqtt.Key("Enabled").MustBool(false)
	config.MQTT.Broker = mqtt.Key("Broker").MustString("")
	config.MQTT.ClientID = mqtt.Key("ClientID").MustString(config.MQTT.ClientID)
	config.MQTT.TopicPrefix = mqtt.Key("TopicPrefix").MustString(config.MQTT.TopicPrefix)
	config.MQTT.Username = mqtt.Key("Username").MustString("")
	config.MQTT.Password = mqtt.Key("Password").MustString("")
	config.MQTT.QoS = byte(mqtt.Key("QoS").RangeInt(int(config.MQTT.QoS), 0, 2))

	// Debug
	debug := file.Section(sectionDebug)
	config.SaveFailedCaptures = debug.Key("SaveFailedCaptures").MustBool(false)
	config.DebugDir = debug.Key("Dir").MustString(config.DebugDir)

	return config, nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func parseInputMethod(s string) InputMethod {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paste", "clipboard":
		return InputMethodPaste
	default:
		return InputMethodKeyboard
	}
}

func parseQuestionMode(s string) QuestionMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "random":
		return QuestionModeRandom
	default:
		return QuestionModeCycle
	}
}

func parseEssential(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "optional", "false", "0", "no":
		return false
	default:
		return true
	}
}

// SaveToINI saves configuration to an INI file
func SaveToINI(config *Config, path string) error {
	file := ini.Empty(loadOptions)
	section := file.Section(sectionUser)

	// Target application
	section.Key("TargetTitle").SetValue(config.TargetTitle)
	section.Key("TargetPath").SetValue(config.TargetPath)
	section.Key("TargetArgs").SetValue(config.TargetArgs)
	section.Key("LaunchTimeout").SetValue(formatFloat(config.LaunchTimeout.Seconds()))

	// Session
	section.Key("Rounds").SetValue(strconv.Itoa(config.Rounds))
	section.Key("QuestionMode").SetValue(config.QuestionMode.String())
	section.Key("QuestionFile").SetValue(config.QuestionFile)
	section.Key("RandomSeed").SetValue(strconv.FormatInt(config.RandomSeed, 10))
	section.Key("InputMethod").SetValue(config.InputMethod.String())
	section.Key("RoundDelay").SetValue(strconv.FormatInt(config.RoundDelay.Milliseconds(), 10))
	section.Key("ContinueOnError").SetValue(strconv.FormatBool(config.ContinueOnError))
	section.Key("ContinueOnTimeout").SetValue(strconv.FormatBool(config.ContinueOnTimeout))

	// Templates and matching
	section.Key("TemplateFile").SetValue(config.TemplateFile)
	section.Key("TemplateDir").SetValue(config.TemplateDir)
	section.Key("TemplateScale").SetValue(formatFloat(config.TemplateScale))
	section.Key("Threshold").SetValue(formatFloat(config.Threshold))
	section.Key("PyramidLevels").SetValue(strconv.Itoa(config.PyramidLevels))

	// Location
	section.Key("NavigationAttempts").SetValue(strconv.Itoa(config.NavigationAttempts))
	section.Key("MaxLocateAttempts").SetValue(strconv.Itoa(config.MaxLocateAttempts))
	section.Key("AbortOnOptionalNavFailure").SetValue(strconv.FormatBool(config.AbortOnOptionalNavFailure))
	section.Key("PageLoadWait").SetValue(strconv.FormatInt(config.PageLoadWait.Milliseconds(), 10))
	section.Key("RetryDelay").SetValue(strconv.FormatInt(config.RetryDelay.Milliseconds(), 10))
	section.Key("InputTemplate").SetValue(config.InputTemplate)
	section.Key("SubmitTemplate").SetValue(config.SubmitTemplate)
	section.Key("InputFallbackOffsetY").SetValue(strconv.Itoa(config.InputFallbackOffsetY))

	// Answer stability
	section.Key("AnswerTimeout").SetValue(formatFloat(config.AnswerTimeout.Seconds()))
	section.Key("AnswerMinWait").SetValue(strconv.FormatInt(config.AnswerMinWait.Milliseconds(), 10))
	section.Key("ProbeInterval").SetValue(strconv.FormatInt(config.ProbeInterval.Milliseconds(), 10))
	section.Key("HistoryPath").SetValue(config.HistoryPath)

	nav := file.Section(sectionNavigation)
	for _, step := range config.Navigation {
		value := "essential"
		if !step.Essential {
			value = "optional"
		}
		nav.Key(step.Template).SetValue(value)
	}

	defaults := cv.DefaultThresholds()
	thresholds := file.Section(sectionThresholds)
	for _, family := range config.Thresholds.Families() {
		rule := config.Thresholds[family]
		if def, ok := defaults[family]; ok && def == rule {
			continue
		}
		thresholds.Key(family).SetValue(rule.String())
	}

	sizes := file.Section(sectionSizes)
	for _, name := range sortedKeys(config.TemplateSizes) {
		sizes.Key(name).SetValue(templates.FormatSize(config.TemplateSizes[name]))
	}

	questions := file.Section(sectionQuestions)
	for i, q := range config.Questions {
		questions.Key(fmt.Sprintf("q%d", i+1)).SetValue(q)
	}

	logging := file.Section(sectionLogging)
	logging.Key("Level").SetValue(config.Logging.Level)
	logging.Key("File").SetValue(config.Logging.File)
	logging.Key("MaxSizeMB").SetValue(strconv.Itoa(config.Logging.MaxSizeMB))
	logging.Key("MaxBackups").SetValue(strconv.Itoa(config.Logging.MaxBackups))
	logging.Key("MaxAgeDays").SetValue(strconv.Itoa(config.Logging.MaxAgeDays))
	logging.Key("Compress").SetValue(strconv.FormatBool(config.Logging.Compress))

	mqtt := file.Section(sectionMQTT)
	mqtt.Key("Enabled").SetValue(strconv.FormatBool(config.MQTT.Enabled))
	mqtt.Key("Broker").SetValue(config.MQTT.Broker)
	mqtt.Key("ClientID").SetValue(config.MQTT.ClientID)
	mqtt.Key("TopicPrefix").SetValue(config.MQTT.TopicPrefix)
	mqtt.Key("Username").SetValue(config.MQTT.Username)
	mqtt.Key("Password").SetValue(config.MQTT.Password)
	mqtt.Key("QoS").SetValue(strconv.Itoa(int(config.MQTT.QoS)))

	debug := file.Section(sectionDebug)
	debug.Key("SaveFailedCaptures").SetValue(strconv.FormatBool(config.SaveFailedCaptures))
	debug.Key("Dir").SetValue(config.DebugDir)

	return file.SaveTo(path)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
