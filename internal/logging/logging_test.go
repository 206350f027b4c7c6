package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/rampburst/config"
)

func TestSetupWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := SetupWriter(config.LoggingConfig{Level: "WARN"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	controllerLogger := Component(logger, "controller")
	controllerLogger.Info().Msg("dropped")
	controllerLogger.Warn().Uint32("ramp", 5).Msg("kept")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "kept", entry["message"])
	require.Equal(t, "controller", entry["component"])
	require.Equal(t, float64(5), entry["ramp"])
}

func TestSetupWriterText(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := SetupWriter(config.LoggingConfig{Format: "text"}, &buf)
	require.NoError(t, err)
	logger.Info().Msg("hello")
	require.Contains(t, buf.String(), "hello")
	require.NotContains(t, buf.String(), `"message"`)
}

func TestSetupRejectsBadLevel(t *testing.T) {
	_, _, err := SetupWriter(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestSetupRequiresLokiURL(t *testing.T) {
	_, _, err := SetupWriter(config.LoggingConfig{Loki: config.LokiConfig{Enabled: true}}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestLokiLabels(t *testing.T) {
	labels := lokiLabels(map[string]string{"site": "lab", "bad label": "x"})
	require.Equal(t, model.LabelSet{"site": "lab", "app": defaultApp}, labels)

	labels = lokiLabels(map[string]string{"app": "bench"})
	require.Equal(t, model.LabelValue("bench"), labels["app"])
}

type recordingHandler struct {
	labels  []model.LabelSet
	entries []string
}

func (h *recordingHandler) Handle(ls model.LabelSet, _ time.Time, s string) error {
	h.labels = append(h.labels, ls)
	h.entries = append(h.entries, s)
	return nil
}

func TestLokiWriterKeepsSampleRecordsLocal(t *testing.T) {
	handler := &recordingHandler{}
	var local bytes.Buffer
	remote := &lokiWriter{client: handler, labels: lokiLabels(nil), level: zerolog.InfoLevel}
	logger := zerolog.New(zerolog.MultiLevelWriter(&local, remote)).Level(zerolog.TraceLevel)

	logger.Trace().Uint32("ramp_code", 3).Msg("sample")
	logger.Debug().Uint32("ramp_code", 4).Bool("valid", true).Msg("sample")
	logger.Info().Str("job", "sweep").Msg("burst accepted")
	logger.Warn().Msg("controller reset, run abandoned")

	require.Len(t, handler.entries, 2)
	require.Contains(t, handler.entries[0], "burst accepted")
	require.Contains(t, handler.entries[1], "controller reset")
	require.Equal(t, model.LabelValue(defaultApp), handler.labels[0]["app"])
	require.Equal(t, 4, bytes.Count(local.Bytes(), []byte("\n")))

	handler = &recordingHandler{}
	remote = &lokiWriter{client: handler, labels: lokiLabels(nil), level: zerolog.DebugLevel}
	logger = zerolog.New(zerolog.MultiLevelWriter(remote)).Level(zerolog.TraceLevel)
	logger.Trace().Msg("sample")
	logger.Debug().Msg("sample")
	require.Len(t, handler.entries, 1)
}

func TestSetupRejectsBadLokiLevel(t *testing.T) {
	_, _, err := SetupWriter(config.LoggingConfig{Loki: config.LokiConfig{
		Enabled: true,
		URL:     "http://localhost:3100/loki/api/v1/push",
		Level:   "chatty",
	}}, &bytes.Buffer{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "loki level")
}
