package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hivemind/core-go/internal/metrics"
	"hivemind/core-go/internal/plugin"
	"hivemind/core-go/internal/registration"
)

const maxBodyBytes = 1 << 20

// Registrar is the registration surface served over HTTP.
type Registrar interface {
	Register(ctx context.Context, attrs plugin.Attributes) (registration.Result, error)
	Get(ctx context.Context, id string) (registration.DeviceView, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Metrics *metrics.Metrics
	// Per-client limit on the register endpoint; RPS of zero disables it.
	RateLimitRPS   float64
	RateLimitBurst int
}

type Handler struct {
	log       zerolog.Logger
	registrar Registrar
	db        Pinger
	metrics   *metrics.Metrics
	limiter   *clientLimiter
}

// NewHandler wires the HTTP surface. registrar and db may be nil when no database is configured.
func NewHandler(log zerolog.Logger, registrar Registrar, db Pinger, opts Options) *Handler {
	h := &Handler{log: log, registrar: registrar, db: db, metrics: opts.Metrics}
	if opts.RateLimitRPS > 0 {
		h.limiter = newClientLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestIDHeader)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/devices", func(r chi.Router) {
				r.With(h.rateLimit).Post("/register", h.handleRegister)
				r.Get("/{id}", h.handleGetDevice)
			})
		})
	})

	return r
}

func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, status, time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.allow(r.RemoteAddr) {
			h.writeError(w, http.StatusTooManyRequests, "rate_limited", "too many registration requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

// decodeAttributes reads a single JSON object. Numbers are kept as json.Number so integer
// attributes keep their exact text.
func decodeAttributes(r io.Reader) (plugin.Attributes, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var attrs plugin.Attributes
	if err := dec.Decode(&attrs); err != nil {
		return nil, err
	}
	if attrs == nil {
		return nil, errors.New("body must be a JSON object")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("unexpected extra data after JSON body")
		}
		return nil, err
	}
	return attrs, nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return
	}

	if err := h.db.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) ensureRegistrar(w http.ResponseWriter) bool {
	if h.registrar == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return false
	}
	return true
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", nil)
		return
	}
	attrs, err := decodeAttributes(bytes.NewReader(body))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}

	if !h.ensureRegistrar(w) {
		return
	}

	res, err := h.registrar.Register(r.Context(), attrs)
	if err != nil {
		var ve *registration.ValidationError
		switch {
		case errors.As(err, &ve):
			details := map[string]any{}
			if ve.Field != "" {
				details["field"] = ve.Field
			}
			h.writeError(w, http.StatusBadRequest, ve.Code, ve.Message, details)
		case errors.Is(err, registration.ErrValidation):
			h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		default:
			h.log.Error().Err(err).Msg("register device failed")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to register device", nil)
		}
		return
	}

	status := http.StatusOK
	if res.Outcome == registration.OutcomeCreated {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, res)
}

func (h *Handler) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "device id is not a valid uuid", map[string]any{"id": id})
		return
	}
	if !h.ensureRegistrar(w) {
		return
	}

	v, err := h.registrar.Get(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, registration.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "device not found", map[string]any{"id": id})
		default:
			h.log.Error().Err(err).Str("id", id).Msg("get device failed")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch device", nil)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, v)
}
