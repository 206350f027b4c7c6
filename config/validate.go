package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/timzifer/rampburst/burst"
	"github.com/timzifer/rampburst/frequency"
)

// FrequencyPlan returns the configured code-to-Hz plan. The boolean is false
// when no plan is configured.
func (c *Config) FrequencyPlan() (frequency.Plan, bool, error) {
	if c == nil || c.Frequency.StepHz == "" {
		return frequency.Plan{}, false, nil
	}
	plan, err := frequency.NewPlan(c.Frequency.BaseHz, c.Frequency.StepHz, burst.Mask(c.Widths().Ramp))
	if err != nil {
		return frequency.Plan{}, false, err
	}
	return plan, true, nil
}

// Program resolves a job into a burst program. Hz values are converted with
// the frequency plan.
func (c *Config) Program(job JobConfig) (burst.Program, error) {
	start, err := c.resolveCode(job.ID, "ramp_start", job.RampStart, job.RampStartHz)
	if err != nil {
		return burst.Program{}, err
	}
	end, err := c.resolveCode(job.ID, "ramp_end", job.RampEnd, job.RampEndHz)
	if err != nil {
		return burst.Program{}, err
	}
	prog := burst.Program{
		Cycles:       job.Cycles,
		RampStart:    start,
		RampEnd:      end,
		PreDuration:  job.Pre,
		StepDuration: job.Step,
		PostDuration: job.Post,
	}
	if err := prog.Validate(c.Widths()); err != nil {
		return burst.Program{}, fmt.Errorf("job %s: %w", job.ID, err)
	}
	return prog, nil
}

func (c *Config) resolveCode(jobID, field string, code *uint32, hz string) (uint32, error) {
	hz = strings.TrimSpace(hz)
	switch {
	case code != nil && hz != "":
		return 0, fmt.Errorf("job %s: %s and %s_hz are mutually exclusive", jobID, field, field)
	case code != nil:
		return *code, nil
	case hz == "":
		return 0, fmt.Errorf("job %s: %s or %s_hz is required", jobID, field, field)
	}
	plan, ok, err := c.FrequencyPlan()
	if err != nil {
		return 0, fmt.Errorf("job %s: %w", jobID, err)
	}
	if !ok {
		return 0, fmt.Errorf("job %s: %s_hz requires a frequency plan", jobID, field)
	}
	value, err := plan.CodeString(hz)
	if err != nil {
		return 0, fmt.Errorf("job %s: %s_hz: %w", jobID, field, err)
	}
	return value, nil
}

// Validate reports every configuration problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}
	var errs []error
	if err := cfg.Widths().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := cfg.FrequencyPlan(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Controller.QueueLimit < 0 {
		errs = append(errs, fmt.Errorf("queue_limit %d must not be negative", cfg.Controller.QueueLimit))
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format %q", cfg.Logging.Format))
	}
	if lvl := cfg.Logging.Loki.Level; lvl != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(lvl)); err != nil {
			errs = append(errs, fmt.Errorf("loki level: %w", err))
		}
	}
	seen := make(map[string]struct{}, len(cfg.Jobs))
	for i, job := range cfg.Jobs {
		if strings.TrimSpace(job.ID) == "" {
			errs = append(errs, fmt.Errorf("job %d: id is required", i))
			continue
		}
		if _, dup := seen[job.ID]; dup {
			errs = append(errs, fmt.Errorf("job %s: duplicate id", job.ID))
			continue
		}
		seen[job.ID] = struct{}{}
		if _, err := cfg.Program(job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
