package errors

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, 0},
		{"validation", ValidationError("bad").Build(), 2},
		{"already active", AlreadyActiveError("busy").Build(), 3},
		{"not active", NotActiveError("idle").Build(), 0},
		{"launch", LaunchError("missing binary").Build(), 4},
		{"no frames", NoFramesError("timeout").Build(), 4},
		{"canceled", CanceledError("interrupted").Build(), 130},
		{"auth", AuthError("denied").Build(), 5},
		{"config", ConfigError("bad config").Build(), 7},
		{"network", NetworkError("daemon unreachable").Build(), 8},
		{"internal", InternalError("boom").Build(), 10},
		{"state write", StateWriteError("disk full").Build(), 11},
		{"daemon", DaemonError("stopped").Build(), 12},
		{"unclassified", stderrors.New("plain"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, adapter.ExitCodeFor(tt.err))
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	quiet := NewCLIErrorAdapter(false, nil)
	verbose := NewCLIErrorAdapter(true, nil)

	err := LaunchError("capture process failed to start").Build()
	assert.Equal(t, "Error: capture process failed to start", quiet.FormatError(err))
	assert.Equal(t, err.Error(), verbose.FormatError(err))
	assert.Contains(t, quiet.FormatError(InternalError("x").Build()), "use -v")
	assert.Equal(t, "Error: plain", quiet.FormatError(stderrors.New("plain")))
}

func TestHTTPErrorAdapter_StatusCodeFor(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, http.StatusOK},
		{"validation", ValidationError("bad").Build(), http.StatusBadRequest},
		{"auth", AuthError("denied").Build(), http.StatusUnauthorized},
		{"not found", NotFoundError("missing").Build(), http.StatusNotFound},
		{"already active", AlreadyActiveError("busy").Build(), http.StatusConflict},
		{"launch", LaunchError("failed").Build(), http.StatusBadGateway},
		{"no frames", NoFramesError("timeout").Build(), http.StatusGatewayTimeout},
		{"canceled", CanceledError("client left").Build(), http.StatusRequestTimeout},
		{"state write", StateWriteError("disk").Build(), http.StatusInternalServerError},
		{"daemon", DaemonError("stopping").Build(), http.StatusServiceUnavailable},
		{"unclassified", stderrors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, adapter.StatusCodeFor(tt.err))
		})
	}
}

func TestHTTPErrorAdapter_WriteErrorResponse(t *testing.T) {
	adapter := NewHTTPErrorAdapter(nil)
	err := NetworkError("stream unreachable").WithContext("url", "rtmp://cam/live").Build()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recording/start", nil)
	rec := httptest.NewRecorder()
	adapter.WriteErrorResponse(rec, req, err)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "stream unreachable", body.Error)
	assert.Equal(t, "network", body.Code)
	assert.True(t, body.Retryable)
	assert.Equal(t, "rtmp://cam/live", body.Details["url"])
}
