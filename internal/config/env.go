package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "WEBOT_"

// ApplyEnv overrides settings from WEBOT_* variables. lookup is usually os.LookupEnv.
func ApplyEnv(config *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
		return nil
	}
	boolean := func(key string, dst *bool) error {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
		return nil
	}

	str("TARGET_TITLE", &config.TargetTitle)
	str("TARGET_PATH", &config.TargetPath)
	str("QUESTION_FILE", &config.QuestionFile)
	str("TEMPLATE_DIR", &config.TemplateDir)
	str("TEMPLATE_FILE", &config.TemplateFile)
	str("LOG_LEVEL", &config.Logging.Level)
	str("HISTORY_PATH", &config.HistoryPath)
	str("MQTT_BROKER", &config.MQTT.Broker)
	str("MQTT_USERNAME", &config.MQTT.Username)
	str("MQTT_PASSWORD", &config.MQTT.Password)

	if v, ok := lookup(EnvPrefix + "INPUT_METHOD"); ok && v != "" {
		config.InputMethod = parseInputMethod(v)
	}
	if v, ok := lookup(EnvPrefix + "QUESTION_MODE"); ok && v != "" {
		config.QuestionMode = parseQuestionMode(v)
	}

	if err := integer("ROUNDS", &config.Rounds); err != nil {
		return err
	}
	if err := boolean("MQTT_ENABLED", &config.MQTT.Enabled); err != nil {
		return err
	}
	return boolean("SAVE_FAILED_CAPTURES", &config.SaveFailedCaptures)
}

// ApplyEnvFile reads a .env file and applies its WEBOT_* entries on top of the process
// environment. A missing file is not an error.
func ApplyEnvFile(config *Config, path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ApplyEnv(config, os.LookupEnv)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	return ApplyEnv(config, func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	})
}

// questionFile is the YAML layout of a question list. A bare list is accepted too.
type questionFile struct {
	Questions []string `yaml:"questions"`
}

// LoadQuestions reads questions from a YAML file, either a top-level list or a
// "questions:" key. Blank entries are dropped.
func LoadQuestions(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question file: %w", err)
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err != nil {
		var wrapped questionFile
		if err2 := yaml.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("failed to parse question file %s: %w", path, err2)
		}
		list = wrapped.Questions
	}

	questions := make([]string, 0, len(list))
	for _, q := range list {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("question file %s has no questions", path)
	}
	return questions, nil
}

// ResolveQuestions returns the question list of the session: the question file when one is
// configured, otherwise the [Questions] section
func (c *Config) ResolveQuestions() ([]string, error) {
	if c.QuestionFile != "" {
		return LoadQuestions(c.QuestionFile)
	}
	if len(c.Questions) == 0 {
		return nil, fmt.Errorf("no questions configured: set QuestionFile or fill [%s]", sectionQuestions)
	}
	out := make([]string, len(c.Questions))
	copy(out, c.Questions)
	return out, nil
}
