package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	t.Parallel()

	cases := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		"warn":     zerolog.WarnLevel,
		"nonsense": zerolog.InfoLevel,
		"":         zerolog.InfoLevel,
	}

	for level, want := range cases {
		log, closeLog := New(level, "json", "stderr")
		assert.Equal(t, want, log.GetLevel(), "level %q", level)
		assert.NoError(t, closeLog(), "closing a standard stream is a no-op")
	}
}

func TestNew_FileOutputJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "smartmailer.log")
	base, closeLog := New("info", "json", path)
	log := WithComponent(base, "scheduler")

	log.Debug().Msg("hidden")
	log.Info().Str("recipient", "ada@example.com").Msg("email sent")

	require.NoError(t, closeLog())
	assert.Error(t, closeLog(), "the file is released by the first close")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(data, &line), "exactly one JSON line is written")
	assert.Equal(t, "email sent", line["message"])
	assert.Equal(t, "scheduler", line["component"])
	assert.Equal(t, "ada@example.com", line["recipient"])
	assert.Equal(t, "info", line["level"])
}
