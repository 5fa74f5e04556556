package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/evcharge/estimator-service/internal/circuitbreaker"
	"github.com/evcharge/estimator-service/internal/client"
	"github.com/evcharge/estimator-service/internal/estimator"
	"github.com/evcharge/estimator-service/internal/history"
	"github.com/evcharge/estimator-service/internal/lifecycle"
	"github.com/evcharge/estimator-service/internal/models"
	"github.com/evcharge/estimator-service/internal/observability"
	"github.com/evcharge/estimator-service/internal/tariff"
	"github.com/evcharge/estimator-service/internal/traffic"
	"github.com/evcharge/estimator-service/internal/validation"
)

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	RateLimitBurst         int // 0 when rate limiter disabled
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	StartTime              time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	estimator        *estimator.Estimator
	location         client.LocationAPI
	history          *history.Store // nil when history disabled
	healthConfig     *HealthConfig
	logger           *zap.Logger
	rateLimiter      *rate.Limiter
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. history may be nil.
func NewHandler(
	est *estimator.Estimator,
	location client.LocationAPI,
	hist *history.Store,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	rateLimiter *rate.Limiter,
) *Handler {
	return &Handler{
		estimator:    est,
		location:     location,
		history:      hist,
		healthConfig: healthConfig,
		logger:       logger,
		rateLimiter:  rateLimiter,
	}
}

// PostEstimate handles POST /api/v1/estimate.
func (h *Handler) PostEstimate(w http.ResponseWriter, r *http.Request) {
	var req models.ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}
	if fieldErrs := validation.ValidateChargeRequest(req); len(fieldErrs) > 0 {
		writeValidationError(w, r, fieldErrs)
		return
	}

	result, err := h.estimator.Estimate(r.Context(), req)
	if err != nil {
		h.writeEstimateError(w, r, err)
		return
	}
	traffic.RecordSuccess()

	if h.history != nil {
		if insertErr := h.history.Insert(r.Context(), req, result); insertErr != nil {
			if logger := requestLogger(r); logger != nil {
				logger.Warn("history insert failed", zap.Error(insertErr))
			}
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// PostDuration handles POST /api/v1/duration. Pure calculation, no upstream
// calls, so it is not counted in traffic windows.
func (h *Handler) PostDuration(w http.ResponseWriter, r *http.Request) {
	var req models.ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}
	var fieldErrs []validation.FieldError
	for _, fe := range validation.ValidateChargeRequest(req) {
		switch fe.Field {
		case "batteryCapacityKWh", "initialChargePct", "finalChargePct", "chargerConfiguration":
			fieldErrs = append(fieldErrs, fe)
		}
	}
	if len(fieldErrs) > 0 {
		writeValidationError(w, r, fieldErrs)
		return
	}

	result, err := h.estimator.EstimateDuration(req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CHARGER", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetLocations handles GET /api/v1/locations/{postcode}.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	postcode := strings.TrimSpace(mux.Vars(r)["postcode"])
	if err := validation.ValidatePostcode(postcode); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_POSTCODE", err.Error())
		return
	}

	suburbs, err := h.location.Suburbs(r.Context(), postcode)
	if err != nil {
		if errors.Is(err, client.ErrPostcodeNotFound) {
			writeError(w, r, http.StatusNotFound, "POSTCODE_NOT_FOUND", "no suburbs found for postcode "+postcode)
			return
		}
		traffic.RecordError()
		writeUpstreamError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"postcode": postcode,
		"suburbs":  suburbs,
	})
}

// GetHistory handles GET /api/v1/history?limit=N.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, r, http.StatusNotFound, "HISTORY_DISABLED", "estimate history is not enabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, r, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}
	records, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		if logger := requestLogger(r); logger != nil {
			logger.Error("history query failed", zap.Error(err))
		}
		writeError(w, r, http.StatusInternalServerError, "HISTORY_UNAVAILABLE", "unable to read estimate history")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"estimates": records,
		"count":     len(records),
	})
}

// writeEstimateError maps estimate failures onto HTTP statuses. Lookup
// failures are client errors; upstream and breaker failures are 503 and
// count toward the degraded error rate.
func (h *Handler) writeEstimateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, client.ErrPostcodeNotFound):
		writeError(w, r, http.StatusNotFound, "POSTCODE_NOT_FOUND", "postcode not recognised by the location service")
	case errors.Is(err, client.ErrSuburbNotFound):
		writeError(w, r, http.StatusNotFound, "SUBURB_NOT_FOUND", "suburb not found within the postcode")
	case errors.Is(err, tariff.ErrUnknownConfiguration):
		writeError(w, r, http.StatusBadRequest, "INVALID_CHARGER", err.Error())
	case errors.Is(err, tariff.ErrUnknownPostcode):
		writeError(w, r, http.StatusBadRequest, "INVALID_POSTCODE", err.Error())
	case errors.Is(err, circuitbreaker.ErrOpen):
		traffic.RecordError()
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "weather service temporarily unavailable")
		if logger := requestLogger(r); logger != nil {
			logger.Debug("circuit breaker open", zap.Error(err))
		}
	default:
		traffic.RecordError()
		writeUpstreamError(w, r, err)
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "location_api_unreachable" {
		checks["locationApi"] = "unhealthy"
	} else {
		checks["locationApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "ev-charge-estimator",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus determines the current health status by evaluating multiple conditions
// in priority order. Returns healthResult with status, HTTP status code, and reason.
// Decision order: shutting-down > upstream unreachable > overloaded > idle > degraded > healthy.
// Each condition is evaluated only if previous conditions are not met.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	// Priority 1: Check if service is shutting down
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	// Priority 2: The location API is a hard dependency of every estimate
	if err := h.location.Ping(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "location_api_unreachable"}
	}
	// Priority 3: Without lifecycle thresholds there is nothing more to evaluate
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	// Priority 4: Check overload threshold (rate limit denials exceed configured percentage)
	threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
	if float64(traffic.RequestCount(h.healthConfig.OverloadWindow)) > threshold {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	// Priority 5: Check idle conditions (only if uptime exceeds minimum lifespan)
	if h.healthConfig.IdleWindow > 0 && h.healthConfig.MinimumLifespan > 0 && time.Since(h.healthConfig.StartTime) >= h.healthConfig.MinimumLifespan {
		if traffic.ServedCount(h.healthConfig.IdleWindow) < h.healthConfig.IdleThresholdReqPerMin {
			return healthResult{"idle", http.StatusOK, "low_traffic"}
		}
	}
	// Priority 6: Check degraded state (error rate exceeds configured threshold)
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errCount, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errCount) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	// Default: All checks passed, service is healthy
	return healthResult{"healthy", http.StatusOK, ""}
}

// requestLogger extracts the per-request logger from context, or nil.
func requestLogger(r *http.Request) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok {
		return logger
	}
	return nil
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeValidationError writes a 400 response listing every invalid field.
func writeValidationError(w http.ResponseWriter, r *http.Request, fieldErrs []validation.FieldError) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error": map[string]interface{}{
			"code":      "VALIDATION_FAILED",
			"message":   "one or more request fields are invalid",
			"requestId": corrID,
			"fields":    fieldErrs,
		},
	})
}

// writeUpstreamError writes a 503 Service Unavailable error response for upstream failures.
// Logs the underlying error at DEBUG level if logger is available in request context.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch upstream data")
	if logger := requestLogger(r); logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}

// GetTestStatus handles GET /test. Returns current simulated state.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window = h.healthConfig.DegradedWindow
	}
	errCount, _ := traffic.ErrorRate(window)

	cfg := make(map[string]interface{})
	if h.healthConfig != nil {
		overloadThreshold := 0
		if h.healthConfig.RateLimitRPS > 0 {
			overloadThreshold = int(float64(h.healthConfig.RateLimitRPS) *
				h.healthConfig.OverloadWindow.Seconds() *
				float64(h.healthConfig.OverloadThresholdPct) / 100)
		}
		cfg["rate_limit_rps"] = h.healthConfig.RateLimitRPS
		cfg["rate_limit_burst"] = h.healthConfig.RateLimitBurst
		cfg["overload_threshold"] = overloadThreshold
		cfg["overload_window_seconds"] = h.healthConfig.OverloadWindow.Seconds()
		cfg["degraded_error_pct"] = h.healthConfig.DegradedErrorPct
	}

	resp := map[string]interface{}{
		"total_requests_in_window":  traffic.RequestCount(window),
		"denied_requests_in_window": traffic.DenialCount(window),
		"errors_in_window":          errCount,
		"window_length":             window.String(),
		"config":                    cfg,
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostTestAction handles POST /test/{action} for load, error, reset, shutdown.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	switch action {
	case "load":
		h.postTestLoad(w, r)
	case "error":
		h.postTestError(w, r)
	case "reset":
		h.postTestReset(w, r)
	case "shutdown":
		h.postTestShutdown(w, r)
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
	}
}

// postTestLoad simulates load by recording the specified number of requests,
// respecting rate limits if configured. Returns accepted/denied counts and current health state.
func (h *Handler) postTestLoad(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		body.Count = 10
	}
	var accepted, denied int
	if h.rateLimiter != nil {
		for i := 0; i < body.Count; i++ {
			if h.rateLimiter.Allow() {
				traffic.RecordSuccess()
				accepted++
			} else {
				traffic.RecordDenied()
				observability.RateLimitDeniedTotal.Inc()
				denied++
			}
		}
	} else {
		traffic.RecordSuccessN(body.Count)
		accepted = body.Count
	}
	result := h.computeHealthStatus(r.Context())
	msg := "Recorded " + strconv.Itoa(accepted) + " accepted"
	if denied > 0 {
		msg += ", " + strconv.Itoa(denied) + " denied"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"action":   "load",
		"message":  msg,
		"state":    result.status,
		"accepted": accepted,
		"denied":   denied,
	})
}

// postTestError simulates errors by recording the specified number of error events.
// Returns current error rate percentage and health state after recording errors.
func (h *Handler) postTestError(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		body.Count = 1
	}
	traffic.RecordErrorN(body.Count)
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window = h.healthConfig.DegradedWindow
	}
	errCount, total := traffic.ErrorRate(window)
	pct := 0
	if total > 0 {
		pct = errCount * 100 / total
	}
	result := h.computeHealthStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"action":         "error",
		"message":        "Recorded " + strconv.Itoa(body.Count) + " errors",
		"state":          result.status,
		"error_rate_pct": pct,
	})
}

// postTestReset clears all simulated traffic state and the shutdown flag.
// Used for test cleanup.
func (h *Handler) postTestReset(w http.ResponseWriter, r *http.Request) {
	traffic.Reset()
	lifecycle.SetShuttingDown(false)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "reset",
		"message": "All simulated state cleared",
	})
}

// postTestShutdown sets the service shutdown flag, triggering graceful shutdown behavior.
// Health checks will return shutting-down status after this is called.
func (h *Handler) postTestShutdown(w http.ResponseWriter, r *http.Request) {
	lifecycle.SetShuttingDown(true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "shutdown",
		"message": "Shutting-down flag set",
	})
}
