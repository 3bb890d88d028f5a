package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/xps/palmalytics/internal/config"
	dbpkg "github.com/xps/palmalytics/internal/db"
	"github.com/xps/palmalytics/internal/tracker"
)

var (
	apiRequestsTotal *prometheus.CounterVec
)

func InitPrometheusMetrics() {
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "palmalytics",
			Name:      "api_requests_total",
			Help:      "Total number of API requests served.",
		},
		[]string{"path", "method", "status"},
	)
	prometheus.MustRegister(apiRequestsTotal)
}

// TrackEvent accepts one parsed page view event and hands it to the
// tracker. With async writes enabled the response is 202 before the
// event is persisted.
func TrackEvent(store *dbpkg.Store, t *tracker.Tracker, cfg *config.Config, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var event dbpkg.ParsedEvent
		if err := json.Unmarshal(ctx.PostBody(), &event); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if event.Path == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "path is required")
			return
		}
		if event.DateUtc.IsZero() {
			event.DateUtc = time.Now().UTC()
		}

		// Bot traffic is acknowledged but never stored.
		if event.IsBot {
			ctx.SetStatusCode(fasthttp.StatusAccepted)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"status":"ignored"}`)
			return
		}
		if event.IPAddress == "" {
			event.IPAddress = clientIP(ctx)
		}

		// Geocode before handing off, so the session row gets a country
		// even when the write happens on a background goroutine.
		if cfg.AutoGeocoding && event.Country == "" && event.IPAddress != "" {
			if ip := net.ParseIP(event.IPAddress); ip != nil {
				country, err := store.CountryCodeForIP(ip)
				if err != nil {
					logger.Warn("geocoding failed", zap.Error(err))
				} else {
					event.Country = country
				}
			}
		}

		if err := t.Track(ctx, &event); err != nil {
			switch {
			case errors.Is(err, tracker.ErrTrackingDisabled):
				errResponse(ctx, fasthttp.StatusServiceUnavailable, err.Error())
			default:
				var verr *dbpkg.ValidationError
				if errors.As(err, &verr) {
					errResponse(ctx, fasthttp.StatusBadRequest, verr.Error())
					return
				}
				errResponse(ctx, fasthttp.StatusInternalServerError, "failed to save event")
			}
			return
		}

		ctx.SetStatusCode(fasthttp.StatusAccepted)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"status":"accepted"}`)
	}
}

// EnableTracking resets the failure breaker after the operator fixed
// the underlying store problem.
func EnableTracking(t *tracker.Tracker) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		t.Enable()
		jsonResponse(ctx, map[string]any{"enabled": true})
	}
}

// PerformanceStats reports recent ingestion write timings.
func PerformanceStats(t *tracker.Tracker) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		jsonResponse(ctx, t.PerformanceStats())
	}
}

func clientIP(ctx *fasthttp.RequestCtx) string {
	if v := ctx.Request.Header.Peek("X-Forwarded-For"); len(v) > 0 {
		parts := string(v)
		for i := 0; i < len(parts); i++ {
			if parts[i] == ',' {
				return parts[:i]
			}
		}
		return parts
	}
	addr := ctx.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func observeAPIRequest(ctx *fasthttp.RequestCtx) {
	if apiRequestsTotal == nil {
		return
	}
	apiRequestsTotal.WithLabelValues(
		string(ctx.Path()),
		string(ctx.Method()),
		strconv.Itoa(ctx.Response.StatusCode()),
	).Inc()
}
