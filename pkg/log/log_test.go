package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"trace":   zerolog.TraceLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		require.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewWithWriter_AddsServiceField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "info", ServiceName: "roomrelay"}, &buf)
	logger.Info().Msg("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "roomrelay", entry[FieldService])
	require.Equal(t, "hello", entry["message"])
}

func TestCtx_FallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{}, &buf)

	ctx := WithLogger(context.Background(), logger)
	l := Ctx(ctx)
	l.Info().Msg("from context")
	require.Contains(t, buf.String(), "from context")

	// No logger in context: global logger is returned without panicking.
	_ = Ctx(context.Background())
}

func TestFromContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(Config{}, &buf))
	l, ok := FromContext(ctx)
	require.True(t, ok)
	l.Info().Msg("stored")
	require.Contains(t, buf.String(), "stored")
}

func TestHTTPMiddleware_StampsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{}, &buf)

	handler := HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.7, 10.0.0.8")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.NotEmpty(t, rec.Header().Get(headerRequestID))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, float64(http.StatusTeapot), entry[FieldStatus])
	require.Equal(t, "10.0.0.7", entry[FieldClientIP])
	require.Equal(t, "/api/rooms", entry[FieldPath])
	require.Equal(t, "warn", entry["level"], "4xx responses log at warn")
}

func TestInit_ReplacesProcessLogger(t *testing.T) {
	before := L()
	t.Cleanup(func() {
		mu.Lock()
		global = before
		mu.Unlock()
	})

	Init(Config{Level: "error"})
	require.Equal(t, zerolog.ErrorLevel, L().GetLevel())
	Init(Config{Level: "debug"})
	require.Equal(t, zerolog.DebugLevel, L().GetLevel())
}
