package logger

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

// newBufferLogger 把全局 Log 劫持到内存 buffer
func newBufferLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	buffer := &bytes.Buffer{}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(buffer),
		level,
	)
	old := Log
	Log = zap.New(core)
	t.Cleanup(func() {
		Log = old
		SetLevel("info")
	})
	return buffer
}

func TestLogger_Info_WithTraceAndRequestID(t *testing.T) {
	buffer := newBufferLogger(t)

	ctx := context.WithValue(context.Background(), TraceIdKey, "test-trace-12345")
	ctx = context.WithValue(ctx, RequestIdKey, "rid-1")

	Info(ctx, "deposit credited", zap.String("account", "0xabc"), zap.Float64("amount", 2))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry), "日志输出必须是合法的 JSON")

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "deposit credited", entry["msg"])
	assert.Equal(t, "0xabc", entry["account"])
	assert.Equal(t, "test-trace-12345", entry["trace_id"])
	assert.Equal(t, "rid-1", entry["request_id"])
}

func TestLogger_Error_NoTraceID(t *testing.T) {
	buffer := newBufferLogger(t)

	Error(context.Background(), "db unavailable", zap.String("db", "mysql"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))

	_, exists := entry["trace_id"]
	assert.False(t, exists, "没有 TraceID 的 Context 不应该输出 trace_id 字段")
	assert.Equal(t, "error", entry["level"])
}

func TestLogger_SetLevel(t *testing.T) {
	buffer := newBufferLogger(t)

	SetLevel("warn")
	assert.Equal(t, "warn", Level())
	Info(context.Background(), "dropped")
	assert.Zero(t, buffer.Len())

	// 非法级别保持不变
	SetLevel("verbose")
	assert.Equal(t, "warn", Level())

	SetLevel("debug")
	Debug(context.Background(), "kept")
	assert.Contains(t, buffer.String(), "kept")
}
