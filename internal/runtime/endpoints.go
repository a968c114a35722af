package runtime

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/meshflow/internal/runtime/jsoncodec"
)

func newBridgeMux(s *Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// handleHealth reports the bridge counters. It answers 503 once the worker
// has stopped.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.Stats()
	status := http.StatusOK
	if s.worker.State() != WorkerRunning {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	if err := jsoncodec.Encode(w, stats); err != nil {
		s.Logger.Error("Failed to encode health response", err, nil)
	}
}
