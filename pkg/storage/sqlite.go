package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flagwise/flagwise/pkg/alerting"
	"github.com/flagwise/flagwise/pkg/rules"
	"github.com/flagwise/flagwise/pkg/session"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/flagwise.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite storage backend.
// It initializes the database schema and enables WAL mode if configured.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "storage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStore{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)

	return s, nil
}

// initialize sets up the database schema and enables WAL mode.
func (s *SQLiteStore) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return NewStorageError("sqlite", "enable_wal", err)
		}
		s.logger.Debug("WAL mode enabled")
	}

	busyTimeoutMs := s.config.BusyTimeout.Milliseconds()
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return NewStorageError("sqlite", "create_schema", err)
	}
	s.logger.Debug("database schema created")

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return NewStorageError("sqlite", "get_schema_version", err)
	}

	if version != SchemaVersion {
		return NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.logger.Debug("schema version verified", "version", version)

	return nil
}

// SaveRequest persists one scored request record.
func (s *SQLiteStore) SaveRequest(ctx context.Context, rec *RequestRecord) error {
	matchedRuleIDs, _ := json.Marshal(rec.MatchedRuleIDs)
	var metadata string
	if len(rec.Metadata) > 0 {
		b, _ := json.Marshal(rec.Metadata)
		metadata = string(b)
	}

	query := `
		INSERT INTO requests (
			id, timestamp,
			src_ip, user_id,
			chatbot_id, conversation_id,
			provider, model,
			prompt, response, prompt_preview,
			risk_score, is_flagged, flag_reason, matched_rule_ids,
			metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Timestamp,
		nullable(rec.SrcIP), nullable(rec.UserID),
		nullable(rec.ChatbotID), nullable(rec.ConversationID),
		nullable(rec.Provider), nullable(rec.Model),
		rec.Prompt, nullable(rec.Response), rec.PromptPreview,
		rec.RiskScore, rec.IsFlagged, nullable(rec.FlagReason), string(matchedRuleIDs),
		nullable(metadata), rec.CreatedAt,
	)
	if err != nil {
		return NewStorageError("sqlite", "save_request", err)
	}

	return nil
}

// ListRequests returns request records matching the query, newest first.
func (s *SQLiteStore) ListRequests(ctx context.Context, q *RequestQuery) ([]*RequestRecord, error) {
	if q == nil {
		q = &RequestQuery{}
	}
	whereClause, args := buildRequestWhere(q)

	sqlQuery := `SELECT id, timestamp, src_ip, user_id, chatbot_id, conversation_id,
		provider, model, prompt, response, prompt_preview,
		risk_score, is_flagged, flag_reason, matched_rule_ids, metadata, created_at
		FROM requests`
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}
	sqlQuery += " ORDER BY timestamp DESC"
	sqlQuery += paginationClause(q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "list_requests", err)
	}
	defer rows.Close()

	records := []*RequestRecord{}
	for rows.Next() {
		rec, err := scanRequestRow(rows)
		if err != nil {
			return nil, NewStorageError("sqlite", "scan_request", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "list_requests", err)
	}

	return records, nil
}

// CountRequests returns the number of records matching the query.
func (s *SQLiteStore) CountRequests(ctx context.Context, q *RequestQuery) (int64, error) {
	whereClause, args := buildRequestWhere(q)

	sqlQuery := "SELECT COUNT(*) FROM requests"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&n); err != nil {
		return 0, NewStorageError("sqlite", "count_requests", err)
	}
	return n, nil
}

// SaveSession persists a finalized session.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *session.Session) error {
	breakdown, _ := json.Marshal(sess.RiskBreakdown)
	patterns, _ := json.Marshal(sess.UnusualPatterns)
	providers, _ := json.Marshal(sess.Providers)
	models, _ := json.Marshal(sess.Models)

	query := `
		INSERT INTO sessions (
			id, actor_key, start_time, end_time,
			request_count, avg_risk_score, flagged_count,
			risk_breakdown, risk_level, unusual_patterns,
			providers, models, finalized
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			end_time = excluded.end_time,
			request_count = excluded.request_count,
			avg_risk_score = excluded.avg_risk_score,
			flagged_count = excluded.flagged_count,
			risk_breakdown = excluded.risk_breakdown,
			risk_level = excluded.risk_level,
			unusual_patterns = excluded.unusual_patterns,
			providers = excluded.providers,
			models = excluded.models,
			finalized = excluded.finalized
	`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.ActorKey, sess.StartTime, sess.EndTime,
		sess.RequestCount, sess.AvgRiskScore, sess.FlaggedCount,
		string(breakdown), string(sess.RiskLevel), string(patterns),
		string(providers), string(models), sess.Finalized,
	)
	if err != nil {
		return NewStorageError("sqlite", "save_session", err)
	}

	return nil
}

// ListSessions returns sessions matching the query, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, q *SessionQuery) ([]*session.Session, error) {
	var conditions []string
	var args []interface{}

	if q != nil {
		if q.ActorKey != "" {
			conditions = append(conditions, "actor_key = ?")
			args = append(args, q.ActorKey)
		}
		if q.RiskLevel != "" {
			conditions = append(conditions, "risk_level = ?")
			args = append(args, q.RiskLevel)
		}
		if q.MinRequests > 0 {
			conditions = append(conditions, "request_count >= ?")
			args = append(args, q.MinRequests)
		}
		if q.StartTime != nil {
			conditions = append(conditions, "end_time >= ?")
			args = append(args, *q.StartTime)
		}
		if q.EndTime != nil {
			conditions = append(conditions, "start_time <= ?")
			args = append(args, *q.EndTime)
		}
	}

	sqlQuery := `SELECT id, actor_key, start_time, end_time,
		request_count, avg_risk_score, flagged_count,
		risk_breakdown, risk_level, unusual_patterns,
		providers, models, finalized
		FROM sessions`
	if len(conditions) > 0 {
		sqlQuery += " WHERE " + strings.Join(conditions, " AND ")
	}
	sqlQuery += " ORDER BY end_time DESC"
	if q != nil {
		sqlQuery += paginationClause(q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "list_sessions", err)
	}
	defer rows.Close()

	sessions := []*session.Session{}
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, NewStorageError("sqlite", "scan_session", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "list_sessions", err)
	}

	return sessions, nil
}

// SaveAlert persists one alert.
func (s *SQLiteStore) SaveAlert(ctx context.Context, a *alerting.Alert) error {
	query := `
		INSERT INTO alerts (
			id, title, description, severity, alert_type,
			status, source_type, source_id, related_request_id, actor_key,
			created_at, updated_at, acknowledged_at, resolved_at,
			acknowledged_by, resolved_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Title, nullable(a.Description), string(a.Severity), a.AlertType,
		string(a.Status), string(a.SourceType), nullable(a.SourceID),
		nullable(a.RelatedRequestID), nullable(a.ActorKey),
		a.CreatedAt, a.UpdatedAt, nullableTime(a.AcknowledgedAt), nullableTime(a.ResolvedAt),
		nullable(a.AcknowledgedBy), nullable(a.ResolvedBy),
	)
	if err != nil {
		return NewStorageError("sqlite", "save_alert", err)
	}

	return nil
}

// ListAlerts returns alerts matching the query, newest first.
func (s *SQLiteStore) ListAlerts(ctx context.Context, q *AlertQuery) ([]*alerting.Alert, error) {
	var conditions []string
	var args []interface{}

	if q != nil {
		if q.Severity != "" {
			conditions = append(conditions, "severity = ?")
			args = append(args, q.Severity)
		}
		if q.Status != "" {
			conditions = append(conditions, "status = ?")
			args = append(args, q.Status)
		}
		if q.SourceType != "" {
			conditions = append(conditions, "source_type = ?")
			args = append(args, q.SourceType)
		}
		if q.ActorKey != "" {
			conditions = append(conditions, "actor_key = ?")
			args = append(args, q.ActorKey)
		}
		if q.StartTime != nil {
			conditions = append(conditions, "created_at >= ?")
			args = append(args, *q.StartTime)
		}
		if q.EndTime != nil {
			conditions = append(conditions, "created_at <= ?")
			args = append(args, *q.EndTime)
		}
	}

	sqlQuery := `SELECT id, title, description, severity, alert_type,
		status, source_type, source_id, related_request_id, actor_key,
		created_at, updated_at, acknowledged_at, resolved_at,
		acknowledged_by, resolved_by
		FROM alerts`
	if len(conditions) > 0 {
		sqlQuery += " WHERE " + strings.Join(conditions, " AND ")
	}
	sqlQuery += " ORDER BY created_at DESC"
	if q != nil {
		sqlQuery += paginationClause(q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "list_alerts", err)
	}
	defer rows.Close()

	alerts := []*alerting.Alert{}
	for rows.Next() {
		a, err := scanAlertRow(rows)
		if err != nil {
			return nil, NewStorageError("sqlite", "scan_alert", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "list_alerts", err)
	}

	return alerts, nil
}

// UpdateAlertStatus applies an acknowledgment or resolution.
func (s *SQLiteStore) UpdateAlertStatus(ctx context.Context, alertID string, status alerting.Status, by string, at time.Time) error {
	var query string
	var args []interface{}
	switch status {
	case alerting.StatusAcknowledged:
		query = "UPDATE alerts SET status = ?, updated_at = ?, acknowledged_at = ?, acknowledged_by = ? WHERE id = ?"
		args = []interface{}{string(status), at, at, by, alertID}
	case alerting.StatusResolved:
		query = "UPDATE alerts SET status = ?, updated_at = ?, resolved_at = ?, resolved_by = ? WHERE id = ?"
		args = []interface{}{string(status), at, at, by, alertID}
	default:
		query = "UPDATE alerts SET status = ?, updated_at = ? WHERE id = ?"
		args = []interface{}{string(status), at, alertID}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return NewStorageError("sqlite", "update_alert_status", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return NewStorageError("sqlite", "update_alert_status", err)
	}
	if n == 0 {
		return NewStorageError("sqlite", "update_alert_status", ErrNotFound)
	}

	return nil
}

// Stats aggregates the stored request stream.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN is_flagged THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(risk_score), 0)
		FROM requests
	`)
	if err := row.Scan(&stats.TotalRequests, &stats.FlaggedRequests, &stats.AvgRiskScore); err != nil {
		return nil, NewStorageError("sqlite", "stats", err)
	}
	if stats.TotalRequests > 0 {
		stats.FlaggedRate = float64(stats.FlaggedRequests) / float64(stats.TotalRequests)
	}

	var err error
	stats.TopProviders, err = s.topDimension(ctx, "provider", "")
	if err != nil {
		return nil, err
	}
	stats.TopModels, err = s.topDimension(ctx, "model", "")
	if err != nil {
		return nil, err
	}
	stats.TopRiskIPs, err = s.topDimension(ctx, "src_ip", "is_flagged")
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// topDimension returns the 10 most frequent values of a column, optionally
// restricted by an extra boolean condition.
func (s *SQLiteStore) topDimension(ctx context.Context, column, condition string) ([]NameCount, error) {
	query := fmt.Sprintf("SELECT %s, COUNT(*) AS n FROM requests WHERE %s IS NOT NULL", column, column)
	if condition != "" {
		query += " AND " + condition
	}
	query += fmt.Sprintf(" GROUP BY %s ORDER BY n DESC, %s ASC LIMIT 10", column, column)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, NewStorageError("sqlite", "stats_top", err)
	}
	defer rows.Close()

	out := []NameCount{}
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, NewStorageError("sqlite", "stats_top", err)
		}
		out = append(out, nc)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "stats_top", err)
	}
	return out, nil
}

// DeleteRequestsBefore removes request records older than the cutoff.
func (s *SQLiteStore) DeleteRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM requests WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, NewStorageError("sqlite", "delete_requests", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", "delete_requests", err)
	}
	return n, nil
}

// DeleteAlertsBefore removes resolved alerts older than the cutoff.
func (s *SQLiteStore) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM alerts WHERE status = ? AND created_at < ?",
		string(alerting.StatusResolved), cutoff)
	if err != nil {
		return 0, NewStorageError("sqlite", "delete_alerts", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", "delete_alerts", err)
	}
	return n, nil
}

// DeleteSessionsBefore removes sessions that ended before the cutoff.
func (s *SQLiteStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE end_time < ?", cutoff)
	if err != nil {
		return 0, NewStorageError("sqlite", "delete_sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", "delete_sessions", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return NewStorageError("sqlite", "close", err)
	}
	return nil
}

func buildRequestWhere(q *RequestQuery) (string, []interface{}) {
	if q == nil {
		return "", nil
	}

	var conditions []string
	var args []interface{}

	if q.Flagged != nil {
		conditions = append(conditions, "is_flagged = ?")
		args = append(args, *q.Flagged)
	}
	if q.Provider != "" {
		conditions = append(conditions, "provider = ?")
		args = append(args, q.Provider)
	}
	if q.Model != "" {
		conditions = append(conditions, "model = ?")
		args = append(args, q.Model)
	}
	if q.SrcIP != "" {
		conditions = append(conditions, "src_ip = ?")
		args = append(args, q.SrcIP)
	}
	if q.ChatbotID != "" {
		conditions = append(conditions, "chatbot_id = ?")
		args = append(args, q.ChatbotID)
	}
	if q.MinRiskScore != nil {
		conditions = append(conditions, "risk_score >= ?")
		args = append(args, *q.MinRiskScore)
	}
	if q.MaxRiskScore != nil {
		conditions = append(conditions, "risk_score <= ?")
		args = append(args, *q.MaxRiskScore)
	}
	if q.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *q.StartTime)
	}
	if q.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *q.EndTime)
	}

	return strings.Join(conditions, " AND "), args
}

func paginationClause(limit, offset int) string {
	clause := ""
	if limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", limit)
	} else {
		clause += " LIMIT 100"
	}
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

func scanRequestRow(rows *sql.Rows) (*RequestRecord, error) {
	var rec RequestRecord
	var srcIP, userID, chatbotID, conversationID sql.NullString
	var provider, model, response, flagReason, metadata sql.NullString
	var matchedRuleIDs string

	err := rows.Scan(
		&rec.ID, &rec.Timestamp,
		&srcIP, &userID,
		&chatbotID, &conversationID,
		&provider, &model,
		&rec.Prompt, &response, &rec.PromptPreview,
		&rec.RiskScore, &rec.IsFlagged, &flagReason, &matchedRuleIDs,
		&metadata, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.SrcIP = srcIP.String
	rec.UserID = userID.String
	rec.ChatbotID = chatbotID.String
	rec.ConversationID = conversationID.String
	rec.Provider = provider.String
	rec.Model = model.String
	rec.Response = response.String
	rec.FlagReason = flagReason.String
	if matchedRuleIDs != "" {
		json.Unmarshal([]byte(matchedRuleIDs), &rec.MatchedRuleIDs)
	}
	if metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &rec.Metadata)
	}

	return &rec, nil
}

func scanSessionRow(rows *sql.Rows) (*session.Session, error) {
	var sess session.Session
	var breakdown, riskLevel, patterns, providers, models string

	err := rows.Scan(
		&sess.ID, &sess.ActorKey, &sess.StartTime, &sess.EndTime,
		&sess.RequestCount, &sess.AvgRiskScore, &sess.FlaggedCount,
		&breakdown, &riskLevel, &patterns,
		&providers, &models, &sess.Finalized,
	)
	if err != nil {
		return nil, err
	}

	sess.RiskLevel = rules.Severity(riskLevel)
	if breakdown != "" {
		json.Unmarshal([]byte(breakdown), &sess.RiskBreakdown)
	}
	if patterns != "" {
		json.Unmarshal([]byte(patterns), &sess.UnusualPatterns)
	}
	if providers != "" {
		json.Unmarshal([]byte(providers), &sess.Providers)
	}
	if models != "" {
		json.Unmarshal([]byte(models), &sess.Models)
	}

	return &sess, nil
}

func scanAlertRow(rows *sql.Rows) (*alerting.Alert, error) {
	var a alerting.Alert
	var severity, status, sourceType string
	var description, sourceID, relatedRequestID, actorKey sql.NullString
	var acknowledgedBy, resolvedBy sql.NullString
	var acknowledgedAt, resolvedAt sql.NullTime

	err := rows.Scan(
		&a.ID, &a.Title, &description, &severity, &a.AlertType,
		&status, &sourceType, &sourceID, &relatedRequestID, &actorKey,
		&a.CreatedAt, &a.UpdatedAt, &acknowledgedAt, &resolvedAt,
		&acknowledgedBy, &resolvedBy,
	)
	if err != nil {
		return nil, err
	}

	a.Description = description.String
	a.Severity = rules.Severity(severity)
	a.Status = alerting.Status(status)
	a.SourceType = alerting.SourceType(sourceType)
	a.SourceID = sourceID.String
	a.RelatedRequestID = relatedRequestID.String
	a.ActorKey = actorKey.String
	a.AcknowledgedAt = acknowledgedAt.Time
	a.ResolvedAt = resolvedAt.Time
	a.AcknowledgedBy = acknowledgedBy.String
	a.ResolvedBy = resolvedBy.String

	return &a, nil
}

// nullable converts an empty string to NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullableTime converts a zero time to NULL.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
