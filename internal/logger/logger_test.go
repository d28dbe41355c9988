package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONAtLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel); zerolog.DefaultContextLogger = nil })
	var buf bytes.Buffer
	l, err := newWithWriter(&buf, "WARN", "json")
	require.NoError(t, err)

	l.Info().Msg("dropped")
	l.Warn().Str("component", "test").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "kept", entry["message"])
	require.Equal(t, "warn", entry["level"])
	require.Equal(t, "test", entry["component"])
}

func TestNew_RejectsUnknownSettings(t *testing.T) {
	var buf bytes.Buffer
	_, err := newWithWriter(&buf, "loud", "json")
	require.Error(t, err)
	_, err = newWithWriter(&buf, "info", "xml")
	require.Error(t, err)
}
