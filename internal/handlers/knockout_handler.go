package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/common"
	"github.com/ternarybob/koscout/internal/interfaces"
	"github.com/ternarybob/koscout/internal/models"
)

// KnockoutHandler serves the knock-out search API.
type KnockoutHandler struct {
	service  interfaces.KnockoutService
	warmer   CacheWarmer
	defaults models.FilterConfig
	logger   arbor.ILogger
}

// NewKnockoutHandler creates a handler. defaults fill any criteria a request
// omits. warmer may be nil.
func NewKnockoutHandler(service interfaces.KnockoutService, warmer CacheWarmer, defaults models.FilterConfig, logger arbor.ILogger) *KnockoutHandler {
	return &KnockoutHandler{
		service:  service,
		warmer:   warmer,
		defaults: defaults,
		logger:   logger,
	}
}

// SearchHandler handles GET /api/knockouts/search?underlying=DAX
//
// Optional parameters: price, refresh, min_leverage, max_spread_pct,
// min_distance_pct, top_n, issuers, broker, features.
func (h *KnockoutHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	underlying := strings.TrimSpace(query.Get("underlying"))
	if underlying == "" {
		WriteError(w, http.StatusBadRequest, "underlying is required")
		return
	}

	criteria, err := ParseCriteria(query, h.defaults)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var price *float64
	if p, ok, err := floatParam(query, "price"); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	} else if ok {
		if p <= 0 {
			WriteError(w, http.StatusBadRequest, "price must be positive")
			return
		}
		price = &p
	}

	refresh, err := boolParam(query, "refresh")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := h.service.Search(r.Context(), underlying, criteria, price, refresh)

	if h.logger != nil {
		h.logger.Debug().
			Str("underlying", underlying).
			Bool("cache_hit", resp.Meta.CacheHit).
			Int("long", len(resp.Long)).
			Int("short", len(resp.Short)).
			Msg("Knockout search served")
	}

	WriteJSON(w, http.StatusOK, resp)
}

// BreakerHandler handles GET /api/knockouts/breaker
func (h *KnockoutHandler) BreakerHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"state": h.service.BreakerState(),
	})
}

// ResetBreakerHandler handles POST /api/knockouts/breaker/reset
func (h *KnockoutHandler) ResetBreakerHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	h.service.ResetCircuitBreaker()
	WriteSuccess(w, "circuit breaker reset")
}

// ClearCacheHandler handles DELETE /api/knockouts/cache
func (h *KnockoutHandler) ClearCacheHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	evicted := h.service.ClearCache()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"evicted": evicted,
	})
}

// WarmHandler handles POST /api/knockouts/warm
func (h *KnockoutHandler) WarmHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if h.warmer == nil {
		WriteError(w, http.StatusServiceUnavailable, "cache warmer is not enabled")
		return
	}
	h.warmer.RunNow()
	WriteStarted(w, "cache warm started")
}

// HealthHandler handles GET /health
func (h *KnockoutHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"version":       common.GetVersionInfo(),
		"breaker_state": h.service.BreakerState(),
	})
}

// ParseCriteria overlays the criteria present in query on defaults and
// validates the result.
func ParseCriteria(query url.Values, defaults models.FilterConfig) (models.FilterConfig, error) {
	criteria := defaults

	if v, ok, err := floatParam(query, "min_leverage"); err != nil {
		return models.FilterConfig{}, err
	} else if ok {
		criteria.MinLeverage = v
	}
	if v, ok, err := floatParam(query, "max_spread_pct"); err != nil {
		return models.FilterConfig{}, err
	} else if ok {
		criteria.MaxSpreadPct = v
	}
	if v, ok, err := floatParam(query, "min_distance_pct"); err != nil {
		return models.FilterConfig{}, err
	} else if ok {
		criteria.MinDistancePct = v
	}
	if v, ok, err := intParam(query, "top_n"); err != nil {
		return models.FilterConfig{}, err
	} else if ok {
		criteria.TopN = v
	}

	issuers := defaults.Issuers
	if list := listParam(query, "issuers"); len(list) > 0 {
		issuers = list
	}

	opts := []models.FilterOption{models.WithBroker(defaults.Broker), models.WithFeatures(defaults.Features...)}
	if broker := strings.TrimSpace(query.Get("broker")); broker != "" {
		opts = append(opts, models.WithBroker(broker))
	}
	if features := listParam(query, "features"); len(features) > 0 {
		opts = append(opts, models.WithFeatures(features...))
	}

	return models.NewFilterConfig(criteria.MinLeverage, criteria.MaxSpreadPct, criteria.MinDistancePct, criteria.TopN, issuers, opts...)
}
