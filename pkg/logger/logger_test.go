package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, slog.LevelInfo, FormatJSON)).Info("hello", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	slog.New(NewHandler(&buf, slog.LevelInfo, FormatText)).Info("hello", "k", 1)
	assert.Contains(t, buf.String(), "msg=hello")

	buf.Reset()
	slog.New(NewHandler(&buf, slog.LevelWarn, FormatText)).Info("dropped")
	assert.Empty(t, buf.String())
}

func TestContextRoundTrip(t *testing.T) {
	// GIVEN: a context without a logger
	ctx := context.Background()
	assert.Same(t, slog.Default(), FromContext(ctx))

	// WHEN: a logger is attached with extra attributes
	var buf bytes.Buffer
	base := slog.New(NewHandler(&buf, slog.LevelInfo, FormatText))
	ctx = ToContext(ctx, base)
	log, ctx := With(ctx, "user_id", "u1")

	// THEN: the enriched logger comes back out of the context
	assert.Same(t, log, FromContext(ctx))
	FromContext(ctx).Info("hi")
	assert.Contains(t, buf.String(), "user_id=u1")
}
