package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/flagwise/flagwise/pkg/alerting"
	"github.com/flagwise/flagwise/pkg/detect"
	"github.com/flagwise/flagwise/pkg/pipeline"
	"github.com/flagwise/flagwise/pkg/session"
	"github.com/flagwise/flagwise/pkg/storage"
	"github.com/flagwise/flagwise/pkg/storage/export"
	"github.com/flagwise/flagwise/pkg/telemetry/logging"
)

// errorResponse is the JSON body returned for all error statuses.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: logging.GetRequestID(r.Context()),
	})
}

// monitorResponse is returned by POST /chatbots/monitor.
type monitorResponse struct {
	RequestID      string            `json:"request_id"`
	RiskScore      int               `json:"risk_score"`
	IsFlagged      bool              `json:"is_flagged"`
	FlagReason     string            `json:"flag_reason,omitempty"`
	MatchedRuleIDs []string          `json:"matched_rule_ids,omitempty"`
	Severity       string            `json:"severity,omitempty"`
	Session        *session.Session  `json:"session,omitempty"`
	NewPatterns    []string          `json:"new_patterns,omitempty"`
	Alerts         []*alerting.Alert `json:"alerts,omitempty"`
}

// MonitorHandler accepts a prompt/response pair, drives it through the
// monitoring pipeline, and returns the scoring outcome.
type MonitorHandler struct {
	monitor      *pipeline.Monitor
	maxBodyBytes int64
}

// NewMonitorHandler creates the monitoring ingest handler.
func NewMonitorHandler(monitor *pipeline.Monitor, maxBodyBytes int64) *MonitorHandler {
	return &MonitorHandler{monitor: monitor, maxBodyBytes: maxBodyBytes}
}

func (h *MonitorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}

	var pair detect.Pair
	if err := json.NewDecoder(r.Body).Decode(&pair); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	outcome, err := h.monitor.Process(r.Context(), &pair)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	resp := monitorResponse{
		RequestID:      outcome.RequestID,
		RiskScore:      outcome.Result.RiskScore,
		IsFlagged:      outcome.Result.IsFlagged,
		FlagReason:     outcome.Result.FlagReason(),
		MatchedRuleIDs: outcome.Result.MatchedRuleIDs,
		Severity:       string(outcome.Result.Severity),
		Session:        outcome.Session,
		NewPatterns:    outcome.NewPatterns,
		Alerts:         outcome.Alerts,
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthHandler reports service liveness and store connectivity.
type HealthHandler struct {
	store storage.Store
}

// NewHealthHandler creates a health check handler.
func NewHealthHandler(store storage.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	storeStatus := "ok"
	status := "ok"
	statusCode := http.StatusOK

	if h.store != nil {
		if _, err := h.store.CountRequests(r.Context(), &storage.RequestQuery{Limit: 1}); err != nil {
			storeStatus = "unavailable"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"status":    status,
		"store":     storeStatus,
		"timestamp": time.Now().Unix(),
	})
}

// RequestsHandler serves the stored request stream: listing, aggregate
// stats, and file export.
type RequestsHandler struct {
	store storage.Store
}

// NewRequestsHandler creates the request read-API handler.
func NewRequestsHandler(store storage.Store) *RequestsHandler {
	return &RequestsHandler{store: store}
}

// List responds to GET /requests.
func (h *RequestsHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseRequestQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.ListRequests(r.Context(), q)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list requests")
		return
	}
	total, err := h.store.CountRequests(r.Context(), q)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to count requests")
		return
	}

	if records == nil {
		records = []*storage.RequestRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": records,
		"total":    total,
		"limit":    q.Limit,
		"offset":   q.Offset,
	})
}

// Stats responds to GET /requests/stats.
func (h *RequestsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Export responds to GET /requests/export. The format query parameter
// selects csv (default) or json output.
func (h *RequestsHandler) Export(w http.ResponseWriter, r *http.Request) {
	q, err := parseRequestQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	records, err := h.store.ListRequests(r.Context(), q)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list requests")
		return
	}

	filename := fmt.Sprintf("flagwise-requests-%s.%s",
		time.Now().UTC().Format("20060102-150405"), format)

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		err = export.NewCSVExporter(true).Export(r.Context(), records, w)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		err = export.NewJSONExporter(false).Export(r.Context(), records, w)
	default:
		writeError(w, r, http.StatusBadRequest, "unsupported export format: "+format)
		return
	}
	if err != nil {
		// Headers are already out; all we can do is log.
		slog.ErrorContext(r.Context(), "export failed",
			"format", format,
			"error", err,
		)
	}
}

// SessionsHandler serves stored sessions.
type SessionsHandler struct {
	store storage.Store
}

// NewSessionsHandler creates the session read-API handler.
func NewSessionsHandler(store storage.Store) *SessionsHandler {
	return &SessionsHandler{store: store}
}

func (h *SessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q, err := parseSessionQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.store.ListSessions(r.Context(), q)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"limit":    q.Limit,
		"offset":   q.Offset,
	})
}

// AlertsHandler serves stored alerts and their status transitions.
type AlertsHandler struct {
	store   storage.Store
	monitor *pipeline.Monitor
}

// NewAlertsHandler creates the alert read/update handler.
func NewAlertsHandler(store storage.Store, monitor *pipeline.Monitor) *AlertsHandler {
	return &AlertsHandler{store: store, monitor: monitor}
}

// List responds to GET /alerts.
func (h *AlertsHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseAlertQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	alerts, err := h.store.ListAlerts(r.Context(), q)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []*alerting.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"limit":  q.Limit,
		"offset": q.Offset,
	})
}

// statusRequest is the optional body for alert status transitions.
type statusRequest struct {
	By string `json:"by"`
}

// Acknowledge responds to POST /alerts/{id}/acknowledge.
func (h *AlertsHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.monitor.Acknowledge, string(alerting.StatusAcknowledged))
}

// Resolve responds to POST /alerts/{id}/resolve.
func (h *AlertsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.monitor.Resolve, string(alerting.StatusResolved))
}

func (h *AlertsHandler) transition(w http.ResponseWriter, r *http.Request,
	apply func(ctx context.Context, alertID, by string) error, status string) {

	alertID := r.PathValue("id")
	if alertID == "" {
		writeError(w, r, http.StatusBadRequest, "missing alert id")
		return
	}

	var body statusRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	if err := apply(r.Context(), alertID, body.By); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "alert not found: "+alertID)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "failed to update alert")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     alertID,
		"status": status,
	})
}

// parseRequestQuery builds a storage.RequestQuery from URL parameters.
func parseRequestQuery(r *http.Request) (*storage.RequestQuery, error) {
	params := r.URL.Query()
	q := &storage.RequestQuery{
		Provider:  params.Get("provider"),
		Model:     params.Get("model"),
		SrcIP:     params.Get("src_ip"),
		ChatbotID: params.Get("chatbot_id"),
	}

	if v := params.Get("flagged"); v != "" {
		flagged, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid flagged value %q", v)
		}
		q.Flagged = &flagged
	}
	var err error
	if q.MinRiskScore, err = parseOptionalInt(params.Get("min_risk_score"), "min_risk_score"); err != nil {
		return nil, err
	}
	if q.MaxRiskScore, err = parseOptionalInt(params.Get("max_risk_score"), "max_risk_score"); err != nil {
		return nil, err
	}
	if q.StartTime, err = parseOptionalTime(params.Get("start_time"), "start_time"); err != nil {
		return nil, err
	}
	if q.EndTime, err = parseOptionalTime(params.Get("end_time"), "end_time"); err != nil {
		return nil, err
	}
	if q.Limit, q.Offset, err = parsePagination(params.Get("limit"), params.Get("offset")); err != nil {
		return nil, err
	}
	return q, nil
}

// parseSessionQuery builds a storage.SessionQuery from URL parameters.
func parseSessionQuery(r *http.Request) (*storage.SessionQuery, error) {
	params := r.URL.Query()
	q := &storage.SessionQuery{
		ActorKey:  params.Get("actor_key"),
		RiskLevel: params.Get("risk_level"),
	}

	if v := params.Get("min_requests"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid min_requests value %q", v)
		}
		q.MinRequests = n
	}
	var err error
	if q.StartTime, err = parseOptionalTime(params.Get("start_time"), "start_time"); err != nil {
		return nil, err
	}
	if q.EndTime, err = parseOptionalTime(params.Get("end_time"), "end_time"); err != nil {
		return nil, err
	}
	if q.Limit, q.Offset, err = parsePagination(params.Get("limit"), params.Get("offset")); err != nil {
		return nil, err
	}
	return q, nil
}

// parseAlertQuery builds a storage.AlertQuery from URL parameters.
func parseAlertQuery(r *http.Request) (*storage.AlertQuery, error) {
	params := r.URL.Query()
	q := &storage.AlertQuery{
		Severity:   params.Get("severity"),
		Status:     params.Get("status"),
		SourceType: params.Get("source_type"),
		ActorKey:   params.Get("actor_key"),
	}

	var err error
	if q.StartTime, err = parseOptionalTime(params.Get("start_time"), "start_time"); err != nil {
		return nil, err
	}
	if q.EndTime, err = parseOptionalTime(params.Get("end_time"), "end_time"); err != nil {
		return nil, err
	}
	if q.Limit, q.Offset, err = parsePagination(params.Get("limit"), params.Get("offset")); err != nil {
		return nil, err
	}
	return q, nil
}

func parseOptionalInt(v, name string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q", name, v)
	}
	return &n, nil
}

func parseOptionalTime(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q, expected RFC3339", name, v)
	}
	return &t, nil
}

func parsePagination(limitStr, offsetStr string) (limit, offset int, err error) {
	if limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("invalid limit value %q", limitStr)
		}
	}
	if offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset value %q", offsetStr)
		}
	}
	return limit, offset, nil
}
