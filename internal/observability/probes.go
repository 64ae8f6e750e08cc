package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// componentReport is one checker's entry in the readiness body.
type componentReport struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// readinessReport is the readiness body. Only the status code matters to the
// orchestrator; the body is for operators.
type readinessReport struct {
	Ready      bool                       `json:"ready"`
	Components map[string]componentReport `json:"components"`
}

func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker concurrently under cfg.Timeout and answers 503
// if any of them fails.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	reports := make([]componentReport, len(s.checkers))
	var wg sync.WaitGroup
	for idx, c := range s.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[idx] = runCheck(ctx, c)
		}()
	}
	wg.Wait()

	body := readinessReport{Ready: true, Components: make(map[string]componentReport, len(reports))}
	for idx, rep := range reports {
		name := s.checkers[idx].Name()
		body.Components[name] = rep
		if rep.Error != "" {
			body.Ready = false
			// Warn, not Error: the orchestrator keeps probing.
			s.logger.Warn("readiness check failed",
				slog.String("component", name),
				slog.String("error", rep.Error),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if body.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}

func runCheck(ctx context.Context, c Checker) componentReport {
	start := time.Now()
	err := c.Check(ctx)
	rep := componentReport{Status: "up", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		rep.Status, rep.Error = "down", err.Error()
	}
	return rep
}
