// Package control exposes the scheduler core's HTTP control surface:
// liveness, Prometheus metrics, and the Trigger API (spec §4.H), behind the
// same chi + httprate middleware shape the teacher's control/middleware
// stack uses.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sbeimel/streamflow-sub002/internal/log"
)

type requestIDKey struct{}

// requestID stamps each request with a uuid-based correlation ID, carried
// in the request context and echoed back on the response header, in place
// of chi's own sequential middleware.RequestID (which is process-local and
// not safe to correlate across schedulerd replicas).
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Trigger is the subset of *scheduler.Scheduler the HTTP surface drives,
// narrowed to an interface so handlers are testable without a real
// scheduler.
type Trigger interface {
	CheckSingleChannel(channelID int) bool
	CheckAllChannels(ctx context.Context)
	GetStatus() Status
}

// Status mirrors scheduler.Status; duplicated here (rather than imported)
// so this package never depends on internal/scheduler's concrete types,
// keeping the HTTP surface a thin adapter.
type Status struct {
	Queued             int       `json:"queued"`
	InProgress         int       `json:"in_progress"`
	LastGlobalCheckAt  time.Time `json:"last_global_check_at"`
	GlobalActionActive bool      `json:"global_action_in_progress"`
	StreamCheckingMode bool      `json:"stream_checking_mode"`
}

// Config configures the control router's middleware behavior.
type Config struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

func defaultConfig() Config {
	return Config{RateLimitRequests: 60, RateLimitWindow: time.Minute}
}

// NewRouter builds the chi router exposing /healthz, /metrics,
// /api/v1/status and the Trigger API's POST endpoints under /api/v1.
func NewRouter(trigger Trigger, cfg Config) *chi.Mux {
	if cfg.RateLimitRequests == 0 {
		cfg = defaultConfig()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))

	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", handleStatus(trigger))
		r.Post("/channels/{id}/check", handleCheckSingleChannel(trigger))
		r.Post("/check-all", handleCheckAll(trigger))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	logger := log.WithComponent("control.http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		id, _ := r.Context().Value(requestIDKey{}).(string)
		logger.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(trigger Trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, trigger.GetStatus())
	}
}

func handleCheckSingleChannel(trigger Trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := chiURLParamInt(r, "id")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid channel id"})
			return
		}
		accepted := trigger.CheckSingleChannel(id)
		status := http.StatusAccepted
		if !accepted {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]bool{"accepted": accepted})
	}
}

func handleCheckAll(trigger Trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go trigger.CheckAllChannels(context.Background())
		writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func chiURLParamInt(r *http.Request, key string) (int, error) {
	return parsePositiveInt(chi.URLParam(r, key))
}
