package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/timzifer/rampburst/config"
)

const defaultApp = "rampburst"

// Setup creates the sequencer logger writing to stdout. Sample records logged
// below the Loki level only reach stdout.
func Setup(cfg config.LoggingConfig) (zerolog.Logger, func(), error) {
	return SetupWriter(cfg, os.Stdout)
}

// SetupWriter creates a logger writing to out and, when enabled, to Loki.
// The returned cleanup flushes and stops the Loki client.
func SetupWriter(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, func(), error) {
	level, err := parseLevel(cfg.Level, zerolog.InfoLevel)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("parse log level: %w", err)
	}

	if strings.EqualFold(cfg.Format, "text") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{out}
	cleanup := func() {}

	if cfg.Loki.Enabled {
		lokiWriter, closer, err := newLokiWriter(cfg.Loki)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		writers = append(writers, lokiWriter)
		cleanup = closer
	}

	multi := zerolog.MultiLevelWriter(writers...)
	logger := zerolog.New(multi).With().Timestamp().Logger().Level(level)
	return logger, cleanup, nil
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

func parseLevel(raw string, fallback zerolog.Level) (zerolog.Level, error) {
	if raw == "" {
		return fallback, nil
	}
	return zerolog.ParseLevel(strings.ToLower(raw))
}

func newLokiWriter(cfg config.LokiConfig) (zerolog.LevelWriter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("loki url is required")
	}
	level, err := parseLevel(cfg.Level, zerolog.InfoLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("parse loki level: %w", err)
	}
	lokiCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare loki config: %w", err)
	}
	client, err := loki.New(lokiCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create loki client: %w", err)
	}
	writer := &lokiWriter{client: client, labels: lokiLabels(cfg.Labels), level: level}
	return writer, client.Stop, nil
}

func lokiLabels(raw map[string]string) model.LabelSet {
	labels := model.LabelSet{}
	for k, v := range raw {
		name := model.LabelName(k)
		value := model.LabelValue(v)
		if !name.IsValid() || !value.IsValid() {
			continue
		}
		labels[name] = value
	}
	if _, ok := labels["app"]; !ok {
		labels["app"] = defaultApp
	}
	return labels
}

type lokiHandler interface {
	Handle(ls model.LabelSet, t time.Time, s string) error
}

// lokiWriter ships entries at or above level. MultiLevelWriter calls
// WriteLevel; plain Write forwards everything.
type lokiWriter struct {
	client lokiHandler
	labels model.LabelSet
	level  zerolog.Level
}

func (l *lokiWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < l.level {
		return len(p), nil
	}
	return l.Write(p)
}

func (l *lokiWriter) Write(p []byte) (int, error) {
	entry := strings.TrimSpace(string(p))
	if entry == "" {
		return len(p), nil
	}
	err := l.client.Handle(l.labels, time.Now(), entry)
	return len(p), err
}
