// Package api exposes the meter's command set over a local HTTP control
// surface, one endpoint per command.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Sadudu/homebridge-divergence-meter/internal/meter"
)

// Meter is the subset of the coordinator the API drives.
type Meter interface {
	IsConnected() bool
	SendRawCommand(text string) error
	TurnOff() error
	SetWorldlineMode(index int, text string) error
	SetTimeDisplayMode(mode int) error
	SetGyroMode() error
	SetRandomMode(flashing bool) error
	SetClockFormat(use24Hour bool) error
	SyncTime() error
}

type routes struct {
	meter  Meter
	logger *slog.Logger
}

// NewServer creates and configures the HTTP router.
func NewServer(m Meter, logger *slog.Logger) *chi.Mux {
	rt := &routes{meter: m, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", rt.getStatus)
		r.Post("/off", command(rt, func(m Meter, _ *http.Request) error { return m.TurnOff() }))
		r.Post("/gyro", command(rt, func(m Meter, _ *http.Request) error { return m.SetGyroMode() }))
		r.Post("/sync-time", command(rt, func(m Meter, _ *http.Request) error { return m.SyncTime() }))
		r.Post("/worldline", command(rt, postWorldline))
		r.Post("/time-display", command(rt, postTimeDisplay))
		r.Post("/random", command(rt, postRandom))
		r.Post("/clock-format", command(rt, postClockFormat))
		r.Post("/raw", command(rt, postRaw))
	})

	return r
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

// statusResponse reports whether the meter link is up.
type statusResponse struct {
	Connected bool `json:"connected"`
}

// errorResponse is the standardized error body.
type errorResponse struct {
	Error string `json:"error"`
}

func (rt *routes) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Connected: rt.meter.IsConnected()})
}

// command adapts a meter call into a handler with uniform error mapping:
// local validation failures are the client's fault, a missing connection is
// a temporarily unavailable device, anything else is a bad gateway to the
// peripheral.
func command(rt *routes, fn func(Meter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(rt.meter, r)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, meter.ErrInvalidCommand):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.Is(err, meter.ErrNotConnected):
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		default:
			rt.logger.Error("command failed", "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		}
	}
}

func postWorldline(m Meter, r *http.Request) error {
	var req struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	return m.SetWorldlineMode(req.Index, req.Text)
}

func postTimeDisplay(m Meter, r *http.Request) error {
	var req struct {
		Mode int `json:"mode"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	return m.SetTimeDisplayMode(req.Mode)
}

func postRandom(m Meter, r *http.Request) error {
	var req struct {
		Flashing bool `json:"flashing"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	return m.SetRandomMode(req.Flashing)
}

func postClockFormat(m Meter, r *http.Request) error {
	var req struct {
		Use24Hour bool `json:"use_24_hour"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	return m.SetClockFormat(req.Use24Hour)
}

func postRaw(m Meter, r *http.Request) error {
	var req struct {
		Command string `json:"command"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	return m.SendRawCommand(req.Command)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(meter.ErrInvalidCommand, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
