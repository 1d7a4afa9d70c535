package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Health-degradation thresholds, grounded on aristath-sentinel's
// system_handlers.go getSystemStats() CPU/RAM sampling, repurposed here as
// a pass/fail gate rather than a dashboard metric.
const (
	cpuDegradedPct = 90.0
	memDegradedPct = 90.0
)

// handleHealth reports 200 when the process has headroom and 503 when
// CPU or memory usage crosses the degradation threshold (spec.md §6
// "GET /health → 200 healthy, 503 degraded").
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	cpuAvg := 0.0
	if err == nil && len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memAvg := 0.0
	if stat, err := mem.VirtualMemory(); err == nil {
		memAvg = stat.UsedPercent
	}

	status := http.StatusOK
	body := "healthy"
	if cpuAvg >= cpuDegradedPct || memAvg >= memDegradedPct {
		status = http.StatusServiceUnavailable
		body = "degraded"
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":  body,
		"cpuPct":  cpuAvg,
		"memPct":  memAvg,
		"service": "propyield-gateway",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
