package main

import (
	"encoding/json"
	"net/http"

	"waconsole/internal/metrics"
	"waconsole/internal/tracing"
	"waconsole/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

type breakerView struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures uint32 `json:"failures"`
	Requests uint32 `json:"requests"`
}

type metricsResponse struct {
	metrics.Snapshot
	CircuitBreaker *breakerView `json:"circuit_breaker,omitempty"`
}

// SetBreakerStats adds the bot API circuit breaker to the metrics output.
func (s *Server) SetBreakerStats(fn func() circuitbreaker.Stats) {
	s.breakerStats = fn
}

// handleMetrics returns current application metrics
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestInfo := tracing.GetRequestInfo(r.Context())

		resp := metricsResponse{Snapshot: metrics.GetSnapshot()}
		if s.breakerStats != nil {
			stats := s.breakerStats()
			resp.CircuitBreaker = &breakerView{
				Name:     stats.Name,
				State:    stats.State.String(),
				Failures: stats.Failures,
				Requests: stats.Requests,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(resp); err != nil {
			s.logger.WithFields(logrus.Fields{
				"request_id": requestInfo.RequestID,
				"error":      err,
			}).Error("Failed to encode metrics response")
			return
		}

		s.logger.WithField("request_id", requestInfo.RequestID).Debug("Metrics endpoint served")
	}
}
