package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"tickfeed/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })

	log := NewLogger(&models.MConfig{LogLevel: "debug"}, "Walker").With("dataset", "trades")
	log.Debug("fetched %d pages", 3)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Walker", line["component"])
	assert.Equal(t, "trades", line["dataset"])
	assert.Equal(t, "fetched 3 pages", line["message"])
	assert.Equal(t, "debug", line["level"])
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })

	log := NewLogger(&models.MConfig{LogLevel: "warn"}, "Quiet")
	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Warning("kept")
	assert.Contains(t, buf.String(), "kept")
}
