package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quizforge/quizforge/internal/config"
)

func TestServiceLogPath(t *testing.T) {
	day := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "logs/service-2026-08-31.log", serviceLogPath("logs", day))
}

func TestServiceLineEncoder_Format(t *testing.T) {
	enc := newServiceLineEncoder("quizforge")
	entry := zapcore.Entry{
		Time:    time.Date(2026, 8, 31, 12, 30, 0, 0, time.UTC),
		Level:   zapcore.WarnLevel,
		Message: "provider degraded",
	}

	buf, err := enc.EncodeEntry(entry, []zapcore.Field{zap.String("provider", "gemini")})
	require.NoError(t, err)
	line := buf.String()

	assert.True(t, strings.HasPrefix(line, "[2026-08-31T12:30:00Z] [WARN] [quizforge] provider degraded | "))
	assert.Contains(t, line, `"provider":"gemini"`)
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestServiceLineEncoder_NoFields(t *testing.T) {
	enc := newServiceLineEncoder("quizforge")
	entry := zapcore.Entry{
		Time:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   zapcore.InfoLevel,
		Message: "started",
	}

	buf, err := enc.EncodeEntry(entry, nil)
	require.NoError(t, err)
	assert.Equal(t, "[2026-01-02T03:04:05Z] [INFO] [quizforge] started\n", buf.String())
}

func TestInitialize_OnlyOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	cfg := config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "quizforge"}
	Initialize(cfg, zapcore.AddSync(&strings.Builder{}))
	first := GetLogger()

	Initialize(config.LoggerConfig{Level: "error", ServiceName: "other"}, zapcore.AddSync(&strings.Builder{}))
	assert.Same(t, first, GetLogger(), "second Initialize must be a no-op")
}

func TestGetLogger_FallbackBeforeInit(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	assert.NotNil(t, GetLogger())
}
