package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContext_AddsKeys(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	SetDefault(New(&buf, false))
	t.Cleanup(func() { SetDefault(prev) })

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, UserNameKey, "Kim Minji")
	ctx = context.WithValue(ctx, ServiceKey, "attendance")
	InfoContext(ctx, "scan accepted", "site_id", "HQ")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scan accepted", line["msg"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "Kim Minji", line["user_name"])
	assert.Equal(t, "attendance", line["service"])
	assert.Equal(t, "HQ", line["site_id"])
}

func TestNew_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).Debug("hidden")
	assert.Empty(t, buf.String())

	New(&buf, true).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}
