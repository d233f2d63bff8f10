package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"tovis/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testApp = config.AppConfig{Name: "tovis", Environment: "test", Version: "0.1.0"}

func TestLevels(t *testing.T) {
	tests := []struct {
		cfg  config.LoggingConfig
		want zerolog.Level
	}{
		{config.LoggingConfig{}, zerolog.InfoLevel},
		{config.LoggingConfig{Level: "DEBUG", Output: "stderr"}, zerolog.DebugLevel},
		{config.LoggingConfig{Level: "warn", Format: "console"}, zerolog.WarnLevel},
		{config.LoggingConfig{Level: "loud"}, zerolog.InfoLevel},
	}
	for _, tt := range tests {
		logger, closer, err := New(tt.cfg, testApp)
		require.NoError(t, err)
		assert.Nil(t, closer)
		assert.Equal(t, tt.want, logger.GetLevel(), tt.cfg.Level)
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tovis.log")
	logger, closer, err := New(config.LoggingConfig{Output: "file", FilePath: path}, testApp)
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Info().Int64("booking_id", 7).Msg("Booking requested")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"app":"tovis"`)
	assert.Contains(t, string(data), `"env":"test"`)
	assert.Contains(t, string(data), `"booking_id":7`)

	_, _, err = New(config.LoggingConfig{Output: "file"}, testApp)
	assert.Error(t, err)
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	Component(&base, "outbox").Info().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"outbox"`)
}
