package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: *NewDefaultConfig()},
		{name: "empty", cfg: Config{}},
		{name: "json debug", cfg: Config{Level: "debug", Format: "json"}},
		{name: "bad level", cfg: Config{Level: "loud"}, wantErr: true},
		{name: "bad format", cfg: Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLoggerAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLoggerTo(&Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	ctx := WithDraftID(WithSessionID(context.Background(), "sess-1"), "draft-1")
	logger.Info(ctx, "draft staged", zap.String("tool_type", "TICKET"))
	logger.Debug(ctx, "hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "draft staged", entry["msg"])
	assert.Equal(t, "sess-1", entry["session_id"])
	assert.Equal(t, "draft-1", entry["draft_id"])
	assert.Equal(t, "TICKET", entry["tool_type"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestTestLoggerAssertions(t *testing.T) {
	logger := NewTestLogger()
	ctx := WithRequestID(context.Background(), "req-9")

	logger.Warn(ctx, "candidate discarded", zap.String("reason", "title is required"))

	logger.AssertLogged(t, zapcore.WarnLevel, "discarded")
	logger.AssertNotLogged(t, zapcore.ErrorLevel, "discarded")
	logger.AssertField(t, "candidate discarded", "request_id", "req-9")
	assert.Equal(t, 1, logger.FilterMessage("candidate discarded").Len())
}

func TestRedactedKeepsOnlyLength(t *testing.T) {
	field := Redacted("api_key", "sk-123456")
	assert.Equal(t, "[REDACTED:9]", field.String)
}
