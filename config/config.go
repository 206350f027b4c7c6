package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timzifer/rampburst/burst"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// ModuleReference captures the configuration file that defined an entry.
type ModuleReference struct {
	File string `json:"file,omitempty"`
	Name string `json:"name,omitempty"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
	// Level is the lowest level shipped to Loki. It defaults to info so
	// per-sample records stay local.
	Level string `yaml:"level,omitempty"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
}

// ControllerConfig configures the sample clock and the command register widths.
type ControllerConfig struct {
	// SamplePeriod is the number of raw cycles between sample pulses.
	SamplePeriod uint32 `yaml:"sample_period,omitempty"`
	RampWidth    uint8  `yaml:"ramp_width,omitempty"`
	SampleWidth  uint8  `yaml:"sample_width,omitempty"`
	CycleWidth   uint8  `yaml:"cycle_width,omitempty"`
	// QueueLimit bounds manually submitted programs waiting for the controller.
	QueueLimit int `yaml:"queue_limit,omitempty"`
}

// FrequencyConfig maps frequency codes to Hz. Values are decimal strings.
type FrequencyConfig struct {
	BaseHz string `yaml:"base_hz,omitempty"`
	StepHz string `yaml:"step_hz,omitempty"`
}

// JobConfig describes a burst program issued by the scheduler.
type JobConfig struct {
	ID          string          `yaml:"id"`
	Cycles      uint32          `yaml:"cycles,omitempty"`
	RampStart   *uint32         `yaml:"ramp_start,omitempty"`
	RampEnd     *uint32         `yaml:"ramp_end,omitempty"`
	RampStartHz string          `yaml:"ramp_start_hz,omitempty"`
	RampEndHz   string          `yaml:"ramp_end_hz,omitempty"`
	Pre         uint32          `yaml:"pre,omitempty"`
	Step        uint32          `yaml:"step,omitempty"`
	Post        uint32          `yaml:"post,omitempty"`
	When        string          `yaml:"when,omitempty"`
	Repeat      bool            `yaml:"repeat,omitempty"`
	Source      ModuleReference `yaml:"-"`
}

// Config is the root configuration structure for the sequencer.
type Config struct {
	Name        string           `yaml:"name,omitempty"`
	Description string           `yaml:"description,omitempty"`
	Cycle       Duration         `yaml:"cycle"`
	Logging     LoggingConfig    `yaml:"logging"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Controller  ControllerConfig `yaml:"controller"`
	Frequency   FrequencyConfig  `yaml:"frequency,omitempty"`
	Modules     []string         `yaml:"modules,omitempty"`
	Jobs        []JobConfig      `yaml:"jobs,omitempty"`
	HotReload   bool             `yaml:"hot_reload,omitempty"`
	Source      ModuleReference  `yaml:"-"`
}

// Load reads and decodes the configuration file from disk. Files ending in
// .cue are evaluated with CUE, everything else is parsed as YAML. Modules
// listed by a file contribute their jobs.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return loadFile(abs, make(map[string]struct{}))
}

// CycleInterval returns the configured raw cycle duration.
func (c *Config) CycleInterval() time.Duration {
	if c == nil || c.Cycle.Duration <= 0 {
		return time.Millisecond
	}
	return c.Cycle.Duration
}

// SamplePeriod returns the configured sample period, at least one cycle.
func (c *Config) SamplePeriod() uint32 {
	if c == nil || c.Controller.SamplePeriod == 0 {
		return 1
	}
	return c.Controller.SamplePeriod
}

// Widths returns the register widths with defaults for unset entries.
func (c *Config) Widths() burst.Widths {
	widths := burst.DefaultWidths
	if c == nil {
		return widths
	}
	if c.Controller.RampWidth != 0 {
		widths.Ramp = c.Controller.RampWidth
	}
	if c.Controller.SampleWidth != 0 {
		widths.Sample = c.Controller.SampleWidth
	}
	if c.Controller.CycleWidth != 0 {
		widths.Cycle = c.Controller.CycleWidth
	}
	return widths
}

func loadFile(path string, visited map[string]struct{}) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg *Config
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		cfg, err = decodeCUE(path, raw)
	} else {
		cfg, err = decodeYAML(path, raw)
	}
	if err != nil {
		return nil, err
	}
	cfg.setSource(ModuleReference{File: path, Name: cfg.Name})

	modules := cfg.Modules
	cfg.Modules = nil
	baseDir := filepath.Dir(path)
	for _, module := range modules {
		module = strings.TrimSpace(module)
		if module == "" {
			continue
		}
		modulePath := module
		if !filepath.IsAbs(modulePath) {
			modulePath = filepath.Join(baseDir, module)
		}
		child, err := loadFile(modulePath, visited)
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module, err)
		}
		mergeConfig(cfg, child)
	}
	return cfg, nil
}

func decodeYAML(path string, raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	return &cfg, nil
}

// mergeConfig appends the jobs of a module and takes over the sections the
// parent left unset.
func mergeConfig(dst, src *Config) {
	if dst == nil || src == nil {
		return
	}
	if dst.Cycle.Duration == 0 {
		dst.Cycle = src.Cycle
	}
	if dst.Logging.Level == "" {
		dst.Logging.Level = src.Logging.Level
	}
	if dst.Controller == (ControllerConfig{}) {
		dst.Controller = src.Controller
	}
	if dst.Frequency == (FrequencyConfig{}) {
		dst.Frequency = src.Frequency
	}
	dst.Jobs = append(dst.Jobs, src.Jobs...)
}

func (c *Config) setSource(meta ModuleReference) {
	c.Source = meta
	for i := range c.Jobs {
		if c.Jobs[i].Source.File == "" {
			c.Jobs[i].Source = meta
		}
	}
}
