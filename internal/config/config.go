package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/logging"
	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	configDir  = ".config/meetjot"
	envPrefix  = "MEETJOT"
)

const (
	BackendSQLite = "sqlite"
	BackendTOML   = "toml"
)

type Config struct {
	Dir       string          `mapstructure:"-"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Context   ContextConfig   `mapstructure:"context"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Schemas   SchemasConfig   `mapstructure:"schemas"`
	Speech    SpeechConfig    `mapstructure:"speech"`
	Reasoning ReasoningConfig `mapstructure:"reasoning"`
	Ticket    TicketConfig    `mapstructure:"ticket"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
	Staging   StagingConfig   `mapstructure:"staging"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Events    EventsConfig    `mapstructure:"events"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Session   SessionConfig   `mapstructure:"session"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Log       logging.Config  `mapstructure:"log"`
}

type CaptureConfig struct {
	SegmentSeconds int      `mapstructure:"segment_seconds"`
	Channels       []string `mapstructure:"channels"`
	Mix            bool     `mapstructure:"mix"`
	SampleRate     int      `mapstructure:"sample_rate"`
	BlockFrames    int      `mapstructure:"block_frames"`
	FFmpegPath     string   `mapstructure:"ffmpeg_path"`
	InputFormat    string   `mapstructure:"input_format"`
	MicDevice      string   `mapstructure:"mic_device"`
	SystemDevice   string   `mapstructure:"system_device"`
}

type ContextConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type RetryPolicyConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type RetryConfig struct {
	Transcription RetryPolicyConfig `mapstructure:"transcription"`
	Reasoning     RetryPolicyConfig `mapstructure:"reasoning"`
	Integration   RetryPolicyConfig `mapstructure:"integration"`
}

type SchemasConfig struct {
	Ticket   TicketSchemaConfig   `mapstructure:"ticket"`
	Calendar CalendarSchemaConfig `mapstructure:"calendar"`
}

type TicketSchemaConfig struct {
	Priorities       []string `mapstructure:"priorities"`
	IssueTypes       []string `mapstructure:"issue_types"`
	DefaultPriority  string   `mapstructure:"default_priority"`
	DefaultIssueType string   `mapstructure:"default_issue_type"`
}

type CalendarSchemaConfig struct {
	DefaultDuration time.Duration `mapstructure:"default_duration"`
}

type SpeechConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Language          string        `mapstructure:"language"`
	APIKeyRef         string        `mapstructure:"api_key_ref"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type ReasoningConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	APIKeyRef         string        `mapstructure:"api_key_ref"`
	Temperature       float64       `mapstructure:"temperature"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type TicketConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Project  string `mapstructure:"project"`
	User     string `mapstructure:"user"`
	TokenRef string `mapstructure:"token_ref"`
	Label    string `mapstructure:"label"`
}

type CalendarConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	CalendarID string `mapstructure:"calendar_id"`
	TokenRef   string `mapstructure:"token_ref"`
}

type StagingConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type SecretsConfig struct {
	Dir string `mapstructure:"dir"`
}

type EventsConfig struct {
	NatsURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type SessionConfig struct {
	DrainTimeout       time.Duration `mapstructure:"drain_timeout"`
	ExtractionInterval time.Duration `mapstructure:"extraction_interval"`
	MaxInflight        int           `mapstructure:"max_inflight"`
}

type ExecutionConfig struct {
	AutoDispatch bool          `mapstructure:"auto_dispatch"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
}

// Load reads config.toml from explicitPath or from $HOME/.config/meetjot,
// then applies MEETJOT_* environment overrides. A missing default file is
// not an error.
func Load(v *viper.Viper, explicitPath string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(homeDir, configDir)

	setDefaults(v, dir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", explicitPath, err)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Dir = dir
	cfg.Capture.Channels = splitList(cfg.Capture.Channels)
	cfg.Schemas.Ticket.Priorities = splitList(cfg.Schemas.Ticket.Priorities)
	cfg.Schemas.Ticket.IssueTypes = splitList(cfg.Schemas.Ticket.IssueTypes)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("capture.segment_seconds", 30)
	v.SetDefault("capture.channels", []string{"MIC", "SYSTEM"})
	v.SetDefault("capture.mix", true)
	v.SetDefault("capture.sample_rate", 48000)
	v.SetDefault("capture.block_frames", 1024)
	v.SetDefault("capture.ffmpeg_path", "ffmpeg")
	v.SetDefault("capture.input_format", "pulse")
	v.SetDefault("capture.mic_device", "default")
	v.SetDefault("capture.system_device", "default.monitor")

	v.SetDefault("context.timezone", "Local")

	for _, class := range []string{"transcription", "reasoning", "integration"} {
		v.SetDefault("retry."+class+".max_attempts", 3)
		v.SetDefault("retry."+class+".base_backoff", "500ms")
		v.SetDefault("retry."+class+".max_backoff", "10s")
	}

	defaults := domain.DefaultSchemas()
	v.SetDefault("schemas.ticket.priorities", defaults.TicketPriorities)
	v.SetDefault("schemas.ticket.issue_types", defaults.TicketIssueTypes)
	v.SetDefault("schemas.ticket.default_priority", defaults.DefaultPriority)
	v.SetDefault("schemas.ticket.default_issue_type", defaults.DefaultIssueType)
	v.SetDefault("schemas.calendar.default_duration", defaults.DefaultEventDuration.String())

	v.SetDefault("speech.base_url", "https://api.openai.com/v1")
	v.SetDefault("speech.model", "whisper-1")
	v.SetDefault("speech.language", "")
	v.SetDefault("speech.api_key_ref", "openai/api_key")
	v.SetDefault("speech.requests_per_minute", 50)
	v.SetDefault("speech.timeout", "60s")

	v.SetDefault("reasoning.base_url", "https://api.openai.com/v1")
	v.SetDefault("reasoning.model", "gpt-4o-mini")
	v.SetDefault("reasoning.api_key_ref", "openai/api_key")
	v.SetDefault("reasoning.temperature", 0.0)
	v.SetDefault("reasoning.requests_per_minute", 20)
	v.SetDefault("reasoning.timeout", "120s")

	v.SetDefault("ticket.base_url", "")
	v.SetDefault("ticket.project", "")
	v.SetDefault("ticket.user", "")
	v.SetDefault("ticket.token_ref", "ticket/token")
	v.SetDefault("ticket.label", "meetjot")

	v.SetDefault("calendar.base_url", "https://www.googleapis.com/calendar/v3")
	v.SetDefault("calendar.calendar_id", "primary")
	v.SetDefault("calendar.token_ref", "calendar/token")

	v.SetDefault("staging.backend", BackendSQLite)
	v.SetDefault("staging.path", "")
	v.SetDefault("secrets.dir", filepath.Join(dir, "secrets"))

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "meetjot.drafts")

	v.SetDefault("http.addr", "127.0.0.1:8765")

	v.SetDefault("session.drain_timeout", "30s")
	v.SetDefault("session.extraction_interval", "0s")
	v.SetDefault("session.max_inflight", 4)

	v.SetDefault("execution.auto_dispatch", true)
	v.SetDefault("execution.call_timeout", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func (c *Config) Validate() error {
	var problems []string

	if c.Capture.SegmentSeconds <= 0 {
		problems = append(problems, "capture.segment_seconds must be positive")
	}
	if c.Capture.SampleRate <= 0 {
		problems = append(problems, "capture.sample_rate must be positive")
	}
	if c.Capture.BlockFrames <= 0 {
		problems = append(problems, "capture.block_frames must be positive")
	}
	if _, err := c.CaptureChannels(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, err.Error())
	}
	for name, policy := range map[string]RetryPolicyConfig{
		"transcription": c.Retry.Transcription,
		"reasoning":     c.Retry.Reasoning,
		"integration":   c.Retry.Integration,
	} {
		if policy.MaxAttempts < 1 {
			problems = append(problems, fmt.Sprintf("retry.%s.max_attempts must be at least 1", name))
		}
	}
	switch c.Staging.Backend {
	case BackendSQLite, BackendTOML:
	default:
		problems = append(problems, fmt.Sprintf("staging.backend %q must be %s or %s", c.Staging.Backend, BackendSQLite, BackendTOML))
	}
	if c.Session.MaxInflight < 1 {
		problems = append(problems, "session.max_inflight must be at least 1")
	}
	if err := c.Log.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Context.Timezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("context.timezone %q: %w", name, err)
	}
	return loc, nil
}

func (c *Config) CaptureChannels() ([]domain.Channel, error) {
	if len(c.Capture.Channels) == 0 {
		return nil, errors.New("capture.channels must name at least one channel")
	}
	channels := make([]domain.Channel, 0, len(c.Capture.Channels))
	for _, raw := range c.Capture.Channels {
		channel, err := domain.ParseChannel(raw)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, nil
}

func (c *Config) SegmentDuration() time.Duration {
	return time.Duration(c.Capture.SegmentSeconds) * time.Second
}

func (c *Config) SchemaSet() domain.SchemaSet {
	set := domain.DefaultSchemas()
	if len(c.Schemas.Ticket.Priorities) > 0 {
		set.TicketPriorities = lowerAll(c.Schemas.Ticket.Priorities)
	}
	if len(c.Schemas.Ticket.IssueTypes) > 0 {
		set.TicketIssueTypes = lowerAll(c.Schemas.Ticket.IssueTypes)
	}
	if c.Schemas.Ticket.DefaultPriority != "" {
		set.DefaultPriority = strings.ToLower(c.Schemas.Ticket.DefaultPriority)
	}
	if c.Schemas.Ticket.DefaultIssueType != "" {
		set.DefaultIssueType = strings.ToLower(c.Schemas.Ticket.DefaultIssueType)
	}
	if c.Schemas.Calendar.DefaultDuration > 0 {
		set.DefaultEventDuration = c.Schemas.Calendar.DefaultDuration
	}
	return set
}

// StagingPath defaults to drafts.db or drafts.toml under the config dir.
func (c *Config) StagingPath() string {
	if c.Staging.Path != "" {
		return c.Staging.Path
	}
	if c.Staging.Backend == BackendTOML {
		return filepath.Join(c.Dir, "drafts.toml")
	}
	return filepath.Join(c.Dir, "drafts.db")
}

// splitList accepts both TOML arrays and comma separated env values.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, value := range values {
		out[i] = strings.ToLower(value)
	}
	return out
}
