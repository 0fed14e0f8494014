package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tutu-network/vpcsim/internal/domain"
	"github.com/tutu-network/vpcsim/internal/health"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

const errNoCycle = "no cycle has completed yet"

// statusResponse is the body of GET /api/status.
type statusResponse struct {
	Policy           string                   `json:"policy"`
	RAMMB            float64                  `json:"ram_mb"`
	CPUUnits         float64                  `json:"cpu_units"`
	Cycles           int                      `json:"cycles"`
	LastCycleID      string                   `json:"last_cycle_id,omitempty"`
	LastCycleAt      *time.Time               `json:"last_cycle_at,omitempty"`
	Status           domain.CapacityStatus    `json:"status,omitempty"`
	TotalRAM         float64                  `json:"total_ram"`
	TotalCPU         float64                  `json:"total_cpu"`
	CompressionRatio float64                  `json:"compression_ratio"`
	Survivors        int                      `json:"survivors"`
	Halted           bool                     `json:"halted"`
	HaltReason       string                   `json:"halt_reason,omitempty"`
	ActiveWindow     *domain.ActiveWindowInfo `json:"active_window,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	code, status := http.StatusOK, "ok"
	if !s.health.IsHealthy() {
		code, status = http.StatusServiceUnavailable, "degraded"
	}
	writeJSON(w, code, struct {
		Status string          `json:"status"`
		Checks []health.Status `json:"checks"`
	}{status, s.health.Statuses()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p := s.engine.Policy()
	resp := statusResponse{
		Policy:           p.Name,
		RAMMB:            p.RAMMB,
		CPUUnits:         p.CPUUnits,
		Cycles:           s.engine.Cycles(),
		CompressionRatio: 1,
	}
	if rep := s.engine.Latest(); rep != nil {
		t := rep.Time
		active := rep.ActiveWindow
		resp.LastCycleID = rep.ID
		resp.LastCycleAt = &t
		resp.Status = rep.Status
		resp.TotalRAM = rep.TotalRAM
		resp.TotalCPU = rep.TotalCPU
		resp.CompressionRatio = rep.CompressionRatio
		resp.Survivors = len(rep.Survivors)
		resp.Halted = rep.Halted
		resp.HaltReason = rep.HaltReason
		resp.ActiveWindow = &active
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	rep := s.engine.Latest()
	if rep == nil {
		writeError(w, http.StatusNotFound, errNoCycle)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cycle_id":     rep.ID,
		"time":         rep.Time,
		"decisions":    rep.Decisions,
		"mean_score":   rep.MeanScore,
		"score_stddev": rep.ScoreStdDev,
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	rep := s.engine.Latest()
	if rep == nil {
		writeError(w, http.StatusNotFound, errNoCycle)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cycle_id":          rep.ID,
		"survivors":         rep.Survivors,
		"evicted":           rep.Evicted,
		"compression_ratio": rep.CompressionRatio,
		"total_ram":         rep.TotalRAM,
		"total_cpu":         rep.TotalCPU,
		"status":            rep.Status,
	})
}

// handleHistory serves persisted resolved records, or the latest cycle's
// when no database is configured.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, "limit", defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.history == nil {
		resolved := []domain.ResolvedRecord{}
		if rep := s.engine.Latest(); rep != nil {
			resolved = rep.Resolved
		}
		if len(resolved) > limit {
			resolved = resolved[:limit]
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"resolved": resolved})
		return
	}
	recs, err := s.history.RecentResolved(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []domain.ResolvedRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resolved": recs})
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history database not configured")
		return
	}
	limit, err := parseLimit(r, "limit", defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.history.RecentCycles(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []domain.CycleLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cycles": entries})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	n, err := parseLimit(r, "n", defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lines": s.engine.Log(n)})
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Policy())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.Step(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidSnapshot) {
			code = http.StatusUnprocessableEntity
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// parseLimit reads a positive integer query parameter, capped at maxLimit.
func parseLimit(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid " + key + ": must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}
