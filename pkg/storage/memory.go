package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flagwise/flagwise/pkg/alerting"
	"github.com/flagwise/flagwise/pkg/session"
)

// MemoryStore implements Store with in-memory maps. Intended for tests and
// ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*RequestRecord
	sessions map[string]*session.Session
	alerts   map[string]*alerting.Alert
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*RequestRecord),
		sessions: make(map[string]*session.Session),
		alerts:   make(map[string]*alerting.Alert),
	}
}

// SaveRequest persists one scored request record.
func (s *MemoryStore) SaveRequest(ctx context.Context, rec *RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.requests[rec.ID] = &cp
	return nil
}

// ListRequests returns request records matching the query, newest first.
func (s *MemoryStore) ListRequests(ctx context.Context, q *RequestQuery) ([]*RequestRecord, error) {
	if q == nil {
		q = &RequestQuery{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*RequestRecord
	for _, rec := range s.requests {
		if matchesRequestQuery(rec, q) {
			cp := *rec
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	return paginate(out, q.Offset, q.Limit), nil
}

// CountRequests returns the number of records matching the query.
func (s *MemoryStore) CountRequests(ctx context.Context, q *RequestQuery) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, rec := range s.requests {
		if matchesRequestQuery(rec, q) {
			n++
		}
	}
	return n, nil
}

// SaveSession persists a finalized session.
func (s *MemoryStore) SaveSession(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// ListSessions returns sessions matching the query, newest first.
func (s *MemoryStore) ListSessions(ctx context.Context, q *SessionQuery) ([]*session.Session, error) {
	if q == nil {
		q = &SessionQuery{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*session.Session
	for _, sess := range s.sessions {
		if matchesSessionQuery(sess, q) {
			cp := *sess
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].EndTime.After(out[j].EndTime)
	})

	return paginate(out, q.Offset, q.Limit), nil
}

// SaveAlert persists one alert.
func (s *MemoryStore) SaveAlert(ctx context.Context, a *alerting.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

// ListAlerts returns alerts matching the query, newest first.
func (s *MemoryStore) ListAlerts(ctx context.Context, q *AlertQuery) ([]*alerting.Alert, error) {
	if q == nil {
		q = &AlertQuery{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*alerting.Alert
	for _, a := range s.alerts {
		if matchesAlertQuery(a, q) {
			cp := *a
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return paginate(out, q.Offset, q.Limit), nil
}

// UpdateAlertStatus applies an acknowledgment or resolution.
func (s *MemoryStore) UpdateAlertStatus(ctx context.Context, alertID string, status alerting.Status, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return NewStorageError("memory", "update_alert_status", ErrNotFound)
	}

	a.Status = status
	a.UpdatedAt = at
	switch status {
	case alerting.StatusAcknowledged:
		a.AcknowledgedAt = at
		a.AcknowledgedBy = by
	case alerting.StatusResolved:
		a.ResolvedAt = at
		a.ResolvedBy = by
	}
	return nil
}

// Stats aggregates the stored request stream.
func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{}
	providers := make(map[string]int64)
	models := make(map[string]int64)
	riskIPs := make(map[string]int64)
	var scoreSum int64

	for _, rec := range s.requests {
		stats.TotalRequests++
		scoreSum += int64(rec.RiskScore)
		if rec.IsFlagged {
			stats.FlaggedRequests++
			if rec.SrcIP != "" {
				riskIPs[rec.SrcIP]++
			}
		}
		if rec.Provider != "" {
			providers[rec.Provider]++
		}
		if rec.Model != "" {
			models[rec.Model]++
		}
	}

	if stats.TotalRequests > 0 {
		stats.FlaggedRate = float64(stats.FlaggedRequests) / float64(stats.TotalRequests)
		stats.AvgRiskScore = float64(scoreSum) / float64(stats.TotalRequests)
	}
	stats.TopProviders = topCounts(providers, 10)
	stats.TopModels = topCounts(models, 10)
	stats.TopRiskIPs = topCounts(riskIPs, 10)

	return stats, nil
}

// DeleteRequestsBefore removes request records older than the cutoff.
func (s *MemoryStore) DeleteRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.requests {
		if rec.Timestamp.Before(cutoff) {
			delete(s.requests, id)
			n++
		}
	}
	return n, nil
}

// DeleteAlertsBefore removes resolved alerts older than the cutoff.
func (s *MemoryStore) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, a := range s.alerts {
		if a.Status == alerting.StatusResolved && a.CreatedAt.Before(cutoff) {
			delete(s.alerts, id)
			n++
		}
	}
	return n, nil
}

// DeleteSessionsBefore removes sessions that ended before the cutoff.
func (s *MemoryStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, sess := range s.sessions {
		if sess.EndTime.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Close releases resources. A no-op for the memory backend.
func (s *MemoryStore) Close() error {
	return nil
}

func matchesRequestQuery(rec *RequestRecord, q *RequestQuery) bool {
	if q == nil {
		return true
	}
	if q.Flagged != nil && rec.IsFlagged != *q.Flagged {
		return false
	}
	if q.Provider != "" && rec.Provider != q.Provider {
		return false
	}
	if q.Model != "" && rec.Model != q.Model {
		return false
	}
	if q.SrcIP != "" && rec.SrcIP != q.SrcIP {
		return false
	}
	if q.ChatbotID != "" && rec.ChatbotID != q.ChatbotID {
		return false
	}
	if q.MinRiskScore != nil && rec.RiskScore < *q.MinRiskScore {
		return false
	}
	if q.MaxRiskScore != nil && rec.RiskScore > *q.MaxRiskScore {
		return false
	}
	if q.StartTime != nil && rec.Timestamp.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && rec.Timestamp.After(*q.EndTime) {
		return false
	}
	return true
}

func matchesSessionQuery(sess *session.Session, q *SessionQuery) bool {
	if q == nil {
		return true
	}
	if q.ActorKey != "" && sess.ActorKey != q.ActorKey {
		return false
	}
	if q.RiskLevel != "" && string(sess.RiskLevel) != q.RiskLevel {
		return false
	}
	if q.MinRequests > 0 && sess.RequestCount < q.MinRequests {
		return false
	}
	if q.StartTime != nil && sess.EndTime.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && sess.StartTime.After(*q.EndTime) {
		return false
	}
	return true
}

func matchesAlertQuery(a *alerting.Alert, q *AlertQuery) bool {
	if q == nil {
		return true
	}
	if q.Severity != "" && string(a.Severity) != q.Severity {
		return false
	}
	if q.Status != "" && string(a.Status) != q.Status {
		return false
	}
	if q.SourceType != "" && string(a.SourceType) != q.SourceType {
		return false
	}
	if q.ActorKey != "" && a.ActorKey != q.ActorKey {
		return false
	}
	if q.StartTime != nil && a.CreatedAt.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && a.CreatedAt.After(*q.EndTime) {
		return false
	}
	return true
}

// paginate applies offset/limit to a sorted slice.
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// topCounts returns the n highest counts in descending order.
func topCounts(counts map[string]int64, n int) []NameCount {
	out := make([]NameCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, NameCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
