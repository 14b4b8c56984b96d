package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sadudu/homebridge-divergence-meter/internal/meter"
)

// fakeMeter records calls and returns a configurable error.
type fakeMeter struct {
	connected bool
	err       error
	calls     []string
}

func (f *fakeMeter) IsConnected() bool { return f.connected }

func (f *fakeMeter) call(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeMeter) SendRawCommand(text string) error {
	return f.call("raw:" + text)
}

func (f *fakeMeter) TurnOff() error { return f.call("off") }

func (f *fakeMeter) SetWorldlineMode(index int, text string) error {
	if index < 0 || index > 7 || len(text) != 8 {
		return meter.ErrInvalidCommand
	}
	return f.call("worldline")
}

func (f *fakeMeter) SetTimeDisplayMode(int) error { return f.call("time-display") }
func (f *fakeMeter) SetGyroMode() error           { return f.call("gyro") }
func (f *fakeMeter) SetRandomMode(bool) error     { return f.call("random") }
func (f *fakeMeter) SetClockFormat(bool) error    { return f.call("clock-format") }
func (f *fakeMeter) SyncTime() error              { return f.call("sync-time") }

func newTestServer(t *testing.T, m Meter) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewServer(m, logger))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatus(t *testing.T) {
	fake := &fakeMeter{connected: true}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Connected)
}

func TestCommandsDispatch(t *testing.T) {
	tests := []struct {
		path string
		body string
		want string
	}{
		{"/v1/off", "", "off"},
		{"/v1/gyro", "", "gyro"},
		{"/v1/sync-time", "", "sync-time"},
		{"/v1/worldline", `{"index":3,"text":"1.048596"}`, "worldline"},
		{"/v1/time-display", `{"mode":1}`, "time-display"},
		{"/v1/random", `{"flashing":true}`, "random"},
		{"/v1/clock-format", `{"use_24_hour":true}`, "clock-format"},
		{"/v1/raw", `{"command":"#2"}`, "raw:#2"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			fake := &fakeMeter{connected: true}
			srv := newTestServer(t, fake)

			resp := post(t, srv, tt.path, tt.body)
			assert.Equal(t, http.StatusNoContent, resp.StatusCode)
			require.Len(t, fake.calls, 1)
			assert.Equal(t, tt.want, fake.calls[0])
		})
	}
}

func TestValidationErrorsAreBadRequests(t *testing.T) {
	fake := &fakeMeter{connected: true}
	srv := newTestServer(t, fake)

	resp := post(t, srv, "/v1/worldline", `{"index":9,"text":"1.048596"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, fake.calls)
}

func TestMalformedJSONIsBadRequest(t *testing.T) {
	fake := &fakeMeter{connected: true}
	srv := newTestServer(t, fake)

	resp := post(t, srv, "/v1/worldline", `{"index":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, fake.calls)
}

func TestNotConnectedIsServiceUnavailable(t *testing.T) {
	fake := &fakeMeter{err: meter.ErrNotConnected}
	srv := newTestServer(t, fake)

	resp := post(t, srv, "/v1/off", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "not connected")
}
