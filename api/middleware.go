package api

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/metrics"
)

// normalizeEndpoint removes all unique identifiers from the URL in order to
// make it possible to group the Prometheus metrics nicely.
func normalizeEndpoint(url string) string {
	var nels []string

	els := strings.Split(url, "/")
	for _, e := range els {
		// Addresses are 42 characters long and labels carry a colon; cut
		// everything that looks like either, or like an int.
		isTooLong := len(e) >= 32
		isLabel := strings.Contains(e, ":")
		isInt := len(e) > 0 && strings.IndexFunc(e, func(c rune) bool { return c < '0' || c > '9' }) == -1
		if isTooLong || isLabel || isInt {
			nels = append(nels, "*")
		} else {
			nels = append(nels, e)
		}
	}

	return strings.Join(nels, "/")
}

// MetricsMiddleware is a middleware that measures the start and end of each request,
// as well as other useful request information.
// It should be used as the outermost middleware, so it can
// - set a requestID and make it available to all handlers and
// - observe the final HTTP status code at the end of the request.
func MetricsMiddleware(m metrics.RequestMetrics, logger *log.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.New()
			logger.Debug("starting request",
				"endpoint", r.URL.Path,
				"method", r.Method,
				"request_id", requestID,
			)
			t := time.Now()
			metricName := normalizeEndpoint(r.URL.Path)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(
				context.WithValue(r.Context(), common.RequestIDContextKey, requestID),
			))

			httpStatus := ww.Status()
			if httpStatus == 0 {
				// Nothing was written; net/http replies 200.
				httpStatus = http.StatusOK
			}
			latency := time.Since(t)
			logger.Info("ending request",
				"query_path", r.URL.Path,
				"query_params", r.URL.RawQuery,
				"method", r.Method,
				"request_id", requestID,
				"latency", latency,
				"latency_bin", binQueryLatency(latency),
				"status_code", httpStatus,
			)

			statusTxt, cause := "success", ""
			switch {
			case httpStatus >= 400 && httpStatus < 500:
				// Client errors are grouped so that random paths do not
				// create new series.
				statusTxt, cause = "failure", "client_error"
				metricName = "ignored"
			case httpStatus >= 500:
				statusTxt, cause = "failure", "server_error"
			}
			if !utf8.ValidString(metricName) {
				logger.Debug("invalid metric name", "metric_name", metricName)
				metricName = "ignored"
				statusTxt = "non_utf8_path"
			}
			m.RequestCounter(metricName, statusTxt, cause).Inc()
			m.RequestLatencies.WithLabelValues(metricName).Observe(latency.Seconds())
		})
	}
}

// Bin request durations to make it easier to search
// for slow requests in the logs.
func binQueryLatency(t time.Duration) string {
	switch {
	case t < 100*time.Millisecond:
		return "<100ms"
	case t < 300*time.Millisecond:
		return "100-300ms"
	case t < 500*time.Millisecond:
		return "300-500ms"
	case t < 1000*time.Millisecond:
		return "500-1000ms"
	default:
		return ">1000ms"
	}
}

// NewCorsMiddleware returns a restrictive CORS middleware that allows GET
// and POST requests from the given origins. An empty list allows any origin.
//
// It must run before routing so preflight OPTIONS requests are answered.
func NewCorsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
		},
		AllowedHeaders:   []string{"Content-Type", "X-Vault-Caller"},
		AllowCredentials: false,
	}).Handler
}
