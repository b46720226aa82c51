package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finboard/market-metrics/pkg/logging"
	"github.com/finboard/market-metrics/pkg/metrics"
)

// newRouter wires the HTTP surface: one endpoint per metric, the admin
// cache reset, the health check, and the prometheus exposition endpoint.
func newRouter(service *metrics.Service) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/api/v1/metrics/{metric}", metricHandler(service)).Methods("GET")
	router.HandleFunc("/api/v1/admin/cache/clear", clearCacheHandler(service)).Methods("POST")
	router.HandleFunc("/healthz", healthHandler(service)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.Use(accessLog)
	return router
}

func metricHandler(service *metrics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["metric"]

		envelope, err := service.Resolve(r.Context(), name)
		if err != nil {
			// Unknown metric is the only resolution error the
			// boundary can see.
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, envelope)
	}
}

func clearCacheHandler(service *metrics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := service.ClearAll(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
	}
}

func healthHandler(service *metrics.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, service.HealthCheck(r.Context()))
	}
}

// accessLog logs every request with a generated request ID.
func accessLog(next http.Handler) http.Handler {
	logger := logging.NewLogger("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r)

		logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
