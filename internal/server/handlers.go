package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/domain"
	"github.com/quantfolio/quantfolio/internal/engine"
)

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// computeParams parses the query parameters every portfolio endpoint shares.
func computeParams(r *http.Request) (engine.ComputeParams, error) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		return engine.ComputeParams{}, errors.New("userId is required")
	}

	mode, err := engine.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		return engine.ComputeParams{}, err
	}

	return engine.ComputeParams{
		UserID: userID,
		Mode:   mode,
		Filters: domain.Filters{
			AccountIDs:   splitParam(r.URL.Query().Get("accounts")),
			Tags:         splitParam(r.URL.Query().Get("tags")),
			AssetClasses: splitParam(r.URL.Query().Get("assetClasses")),
		},
	}, nil
}

func splitParam(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// handleSnapshot handles GET /api/portfolio/snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	params, err := computeParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshot, err := s.scheduler.Snapshot(r.Context(), params)
	if err != nil {
		if errors.Is(err, domain.ErrComputationTimeout) {
			s.writeError(w, http.StatusGatewayTimeout, "computation timed out")
			return
		}
		s.log.Error().Err(err).Str("user", params.UserID).Msg("Snapshot computation failed")
		s.writeError(w, http.StatusInternalServerError, "failed to compute snapshot")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": snapshot,
		"metadata": map[string]interface{}{
			"mode":      string(params.Mode),
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// handleInvestments handles GET /api/portfolio/investments.
func (s *Server) handleInvestments(w http.ResponseWriter, r *http.Request) {
	params, err := computeParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshot, err := s.scheduler.Snapshot(r.Context(), params)
	if err != nil {
		s.log.Error().Err(err).Str("user", params.UserID).Msg("Investment series failed")
		s.writeError(w, http.StatusInternalServerError, "failed to compute investments")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": snapshot.InvestmentItems,
		"metadata": map[string]interface{}{
			"count":     len(snapshot.InvestmentItems),
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// handleGroupedInvestments handles GET /api/portfolio/investments/grouped.
func (s *Server) handleGroupedInvestments(w http.ResponseWriter, r *http.Request) {
	params, err := computeParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	period, err := engine.ParseGroupPeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshot, err := s.scheduler.Snapshot(r.Context(), params)
	if err != nil {
		s.log.Error().Err(err).Str("user", params.UserID).Msg("Grouped investments failed")
		s.writeError(w, http.StatusInternalServerError, "failed to compute investments")
		return
	}

	grouped := engine.InvestmentsByGroup(snapshot.InvestmentItems, period)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": grouped,
		"metadata": map[string]interface{}{
			"period":    string(period),
			"count":     len(grouped),
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// activityRequest is the JSON body of POST /api/activities.
type activityRequest struct {
	UserID     string          `json:"userId"`
	Type       string          `json:"type"`
	Date       string          `json:"date"` // "2006-01-02"
	Symbol     string          `json:"symbol"`
	DataSource string          `json:"dataSource"`
	Currency   string          `json:"currency"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Fee        decimal.Decimal `json:"fee"`
	AccountID  string          `json:"accountId"`
	Tags       []string        `json:"tags"`
	AssetClass string          `json:"assetClass"`
}

// handleCreateActivity handles POST /api/activities.
func (s *Server) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	date, err := time.ParseInLocation("2006-01-02", req.Date, time.UTC)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	actType := domain.ActivityType(req.Type)
	if !actType.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown activity type")
		return
	}

	a := domain.Activity{
		Type: actType,
		Date: date,
		Instrument: domain.Instrument{
			Symbol:     req.Symbol,
			DataSource: req.DataSource,
			Currency:   req.Currency,
		},
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
		Fee:        req.Fee,
		AccountID:  req.AccountID,
		Tags:       req.Tags,
		AssetClass: req.AssetClass,
	}

	id, err := s.activity.Save(r.Context(), req.UserID, a)
	if err != nil {
		s.log.Error().Err(err).Str("user", req.UserID).Msg("Failed to save activity")
		s.writeError(w, http.StatusInternalServerError, "failed to save activity")
		return
	}

	// New activities change the input of every computation for this user.
	s.scheduler.InvalidateUser(r.Context(), req.UserID)

	s.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleDeleteActivity handles DELETE /api/activities/{id}.
func (s *Server) handleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	id := chi.URLParam(r, "id")

	if err := s.activity.Delete(r.Context(), userID, id); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.scheduler.InvalidateUser(r.Context(), userID)

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// balanceRequest is the JSON body of POST /api/balances.
type balanceRequest struct {
	UserID    string          `json:"userId"`
	AccountID string          `json:"accountId"`
	Date      string          `json:"date"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// handleSaveBalance handles POST /api/balances.
func (s *Server) handleSaveBalance(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.AccountID == "" {
		s.writeError(w, http.StatusBadRequest, "userId and accountId are required")
		return
	}
	date, err := time.ParseInLocation("2006-01-02", req.Date, time.UTC)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}

	b := domain.AccountBalance{
		AccountID: req.AccountID,
		Date:      date,
		Amount:    req.Amount,
		Currency:  req.Currency,
	}
	if err := s.activity.SaveBalance(r.Context(), req.UserID, b); err != nil {
		s.log.Error().Err(err).Str("user", req.UserID).Msg("Failed to save balance")
		s.writeError(w, http.StatusInternalServerError, "failed to save balance")
		return
	}
	s.scheduler.InvalidateUser(r.Context(), req.UserID)

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// handleCacheFlush handles POST /api/cache/flush.
func (s *Server) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Flush(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("Failed to flush snapshot cache")
		s.writeError(w, http.StatusInternalServerError, "failed to flush cache")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// handleSystemHealth handles GET /api/system/health with resource usage.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	cpuAvg := 0.0
	// 100ms sampling keeps the endpoint responsive for pollers.
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	}

	ramPercent := 0.0
	if memStat, err := mem.VirtualMemory(); err == nil {
		ramPercent = memStat.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"cpu_percent": cpuAvg,
		"ram_percent": ramPercent,
		"uptime":      time.Since(s.started).Round(time.Second).String(),
	})
}
