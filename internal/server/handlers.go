package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/cache"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/privacy"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/rules"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/store"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/websocket"
)

const maxRunsLimit = 200

// RedactRequest carries either one value or a batch of values. Values may
// be any JSON type; anything that is not a string redacts to "".
type RedactRequest struct {
	Text  json.RawMessage `json:"text,omitempty"`
	Texts json.RawMessage `json:"texts,omitempty"`
}

// RedactResponse mirrors the request shape
type RedactResponse struct {
	RequestID string            `json:"request_id"`
	Result    *privacy.Result   `json:"result,omitempty"`
	Results   []*privacy.Result `json:"results,omitempty"`
}

// InfoResponse describes the running engine
type InfoResponse struct {
	Name         string             `json:"name"`
	Version      string             `json:"version"`
	RulesVersion string             `json:"rules_version"`
	Fingerprint  string             `json:"fingerprint"`
	Recognizer   string             `json:"recognizer"`
	EntityMode   privacy.EntityMode `json:"entity_mode"`
	MaxPasses    int                `json:"max_passes"`
	RuleCount    int                `json:"rule_count"`
	CacheEnabled bool               `json:"cache_enabled"`
	Cache        *cache.CacheStats  `json:"cache,omitempty"`
	RunLedger    bool               `json:"run_ledger"`
	WebSocket    websocket.HubStats `json:"websocket"`
	Uptime       string             `json:"uptime"`
}

// RulesResponse lists the rule table per tier
type RulesResponse struct {
	Version     string                  `json:"version"`
	Fingerprint string                  `json:"fingerprint"`
	Tiers       map[string][]rules.Rule `json:"tiers"`
}

// RunResponse is one run with its file reports
type RunResponse struct {
	Run   *store.RunRecord    `json:"run"`
	Files []*store.FileRecord `json:"files"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	rs := s.engine.Rules()
	info := InfoResponse{
		Name:         "deidentify",
		Version:      Version,
		RulesVersion: rs.Version(),
		Fingerprint:  s.engine.Fingerprint(),
		Recognizer:   s.engine.RecognizerName(),
		EntityMode:   s.engine.Options().Mode,
		MaxPasses:    s.engine.Options().MaxPasses,
		RuleCount:    rs.Len(),
		CacheEnabled: s.cache != nil,
		RunLedger:    s.runs != nil,
		WebSocket:    s.wsHub.GetStats(),
		Uptime:       time.Since(s.startedAt).Round(time.Second).String(),
	}

	if s.cache != nil {
		stats, err := s.cache.GetStats(r.Context())
		if err != nil {
			s.logger.Warn("Failed to read cache stats", zap.Error(err))
		}
		info.Cache = stats
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	rs := s.engine.Rules()
	resp := RulesResponse{
		Version:     rs.Version(),
		Fingerprint: rs.Fingerprint(),
		Tiers:       make(map[string][]rules.Rule),
	}
	for _, tier := range rs.Tiers() {
		resp.Tiers[tier.String()] = rs.Rules(tier)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRedact redacts one value or a batch. Results are returned in
// request order; the original text is never logged or broadcast.
func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	var req RedactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	single := len(req.Text) > 0
	batch := len(req.Texts) > 0
	if single == batch {
		writeError(w, http.StatusBadRequest, `exactly one of "text" or "texts" is required`)
		return
	}

	var values []any
	if single {
		var v any
		if err := json.Unmarshal(req.Text, &v); err != nil {
			writeError(w, http.StatusBadRequest, `invalid "text"`)
			return
		}
		values = []any{v}
	} else {
		if err := json.Unmarshal(req.Texts, &values); err != nil {
			writeError(w, http.StatusBadRequest, `"texts" must be an array`)
			return
		}
		if limit := s.config.Server.MaxBatch; limit > 0 && len(values) > limit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("batch of %d exceeds the limit of %d", len(values), limit))
			return
		}
	}

	start := time.Now()
	results := make([]*privacy.Result, 0, len(values))
	for i, v := range values {
		res, err := privacy.RedactValue(r.Context(), s.redactor, v)
		if err != nil {
			log.Error("Redaction failed", zap.Int("index", i), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "redaction failed")
			return
		}
		results = append(results, res)
	}
	elapsed := time.Since(start)

	event := s.observeRedaction(results, elapsed)
	event.RequestID = requestID
	event.ClientIP = getClientIP(r)
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeRedaction,
		RequestID: requestID,
		Data:      event,
	})

	log.Debug("Values redacted",
		zap.Int("values", event.Values),
		zap.Int("redacted", event.Redacted),
		zap.Duration("duration", elapsed))

	resp := RedactResponse{RequestID: requestID}
	if single {
		resp.Result = results[0]
	} else {
		resp.Results = results
	}
	writeJSON(w, http.StatusOK, resp)
}

// observeRedaction records metrics for one request and summarizes it
func (s *Server) observeRedaction(results []*privacy.Result, elapsed time.Duration) websocket.RedactionEvent {
	s.metrics.redactionTime.Observe(elapsed.Seconds())

	event := websocket.RedactionEvent{
		Values:       len(results),
		Placeholders: make(map[string]int),
		ProcessingMS: float64(elapsed.Microseconds()) / 1000,
	}
	for _, res := range results {
		switch {
		case res.Normalized:
			s.metrics.values.WithLabelValues("normalized").Inc()
		case res.Changed():
			event.Redacted++
			s.metrics.values.WithLabelValues("redacted").Inc()
		default:
			s.metrics.values.WithLabelValues("unchanged").Inc()
		}
		for p, n := range res.Counts() {
			event.Placeholders[string(p)] += n
			s.metrics.placeholders.WithLabelValues(string(p)).Add(float64(n))
		}
	}
	return event
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger is disabled")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger is disabled")
		return
	}

	runID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.runs.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to load run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	files, err := s.runs.FileReports(r.Context(), runID)
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to load file reports", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if files == nil {
		files = []*store.FileRecord{}
	}
	writeJSON(w, http.StatusOK, RunResponse{Run: run, Files: files})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
