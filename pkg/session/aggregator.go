package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flagwise/flagwise/pkg/rules"
	"github.com/flagwise/flagwise/pkg/telemetry/metrics"
)

// ErrClosed is returned by Ingest after the aggregator shut down.
var ErrClosed = errors.New("session aggregator closed")

// Sink receives finalized sessions. Implementations persist them.
type Sink interface {
	SaveSession(ctx context.Context, s *Session) error
}

// laneMsg is the unit of work delivered to a lane goroutine. Exactly one of
// ev or sweepAt is set.
type laneMsg struct {
	ev    *ScoredEvent
	reply chan ingestReply

	sweepAt   time.Time
	sweepDone chan []*Session
}

// ingestReply carries the outcome of one ingest back to the caller.
type ingestReply struct {
	update *Update
	err    error
}

// sessionState is a lane-confined open session plus its derived trackers.
type sessionState struct {
	session *Session

	burst     *slidingWindow
	providers map[string]struct{}
	models    map[string]struct{}
	patterns  map[string]struct{}

	// recent holds the severities of the most recent N events when risk
	// level derivation is windowed.
	recent []rules.Severity
}

// Aggregator maintains rolling per-actor sessions.
type Aggregator struct {
	config  *Config
	logger  *slog.Logger
	sink    Sink
	metrics *metrics.SessionMetrics

	lanes []chan laneMsg

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAggregator creates a session aggregator and starts its lanes.
// The sink receives finalized sessions; it may be nil, in which case sealed
// sessions are dropped after logging.
func NewAggregator(config *Config, sink Sink, logger *slog.Logger) (*Aggregator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Aggregator{
		config: config,
		logger: logger.With("component", "session.aggregator"),
		sink:   sink,
		lanes:  make([]chan laneMsg, config.Lanes),
	}

	for i := range a.lanes {
		a.lanes[i] = make(chan laneMsg, config.LaneBuffer)
		a.wg.Add(1)
		go a.runLane(i, a.lanes[i])
	}

	return a, nil
}

// SetMetrics attaches session metrics. Sealed-session counters update as
// sweeps flush. Call before the first Ingest; the field is not guarded
// against concurrent use.
func (a *Aggregator) SetMetrics(sm *metrics.SessionMetrics) {
	a.metrics = sm
}

// Ingest applies one scored event to the owning actor's session and returns
// the updated session state. Events for the same actor are applied in the
// order Ingest is called; events for different actors proceed in parallel on
// separate lanes.
func (a *Aggregator) Ingest(ctx context.Context, ev *ScoredEvent) (*Update, error) {
	if ev == nil {
		return nil, fmt.Errorf("event cannot be nil")
	}
	if ev.ActorKey == "" {
		return nil, fmt.Errorf("event missing actor key")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrClosed
	}

	msg := laneMsg{ev: ev, reply: make(chan ingestReply, 1)}
	lane := a.lanes[a.laneFor(ev.ActorKey)]

	select {
	case lane <- msg:
	case <-ctx.Done():
		// Not enqueued: no effects landed.
		return nil, ctx.Err()
	}

	// Once enqueued the mutation will be applied; wait for the lane so the
	// caller observes a committed update (happens-before for the alert
	// engine).
	reply := <-msg.reply
	return reply.update, reply.err
}

// Sweep finalizes every session idle past the inactivity window, as of now.
// Sealed sessions are handed to the sink. Returns the number sealed.
// The sweeper calls this on schedule; it is also safe to call directly.
func (a *Aggregator) Sweep(ctx context.Context, now time.Time) int {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return 0
	}

	sealed := make([]*Session, 0)
	pending := make([]chan []*Session, 0, len(a.lanes))
	for _, lane := range a.lanes {
		msg := laneMsg{sweepAt: now, sweepDone: make(chan []*Session, 1)}
		lane <- msg
		pending = append(pending, msg.sweepDone)
	}
	a.mu.RUnlock()

	for _, done := range pending {
		sealed = append(sealed, <-done...)
	}

	a.flush(ctx, sealed)
	return len(sealed)
}

// Close seals all open sessions, flushes them to the sink, and stops the
// lanes. After Close, Ingest returns ErrClosed.
func (a *Aggregator) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true

	// Sealing everything is a sweep at the end of time.
	sealAll := time.Now().Add(a.config.IdleTimeout * 2)
	pending := make([]chan []*Session, 0, len(a.lanes))
	for _, lane := range a.lanes {
		msg := laneMsg{sweepAt: sealAll, sweepDone: make(chan []*Session, 1)}
		lane <- msg
		pending = append(pending, msg.sweepDone)
	}
	for _, lane := range a.lanes {
		close(lane)
	}
	a.mu.Unlock()

	var sealed []*Session
	for _, done := range pending {
		sealed = append(sealed, <-done...)
	}

	a.wg.Wait()
	a.flush(ctx, sealed)
	a.logger.Info("session aggregator closed", "sealed_sessions", len(sealed))
	return nil
}

// flush delivers sealed sessions to the sink.
func (a *Aggregator) flush(ctx context.Context, sealed []*Session) {
	for _, s := range sealed {
		if a.metrics != nil {
			a.metrics.RecordSealed(s.RequestCount)
		}
		if a.sink == nil {
			a.logger.Debug("finalized session dropped, no sink configured",
				"actor", s.ActorKey,
				"request_count", s.RequestCount,
			)
			continue
		}
		if err := a.sink.SaveSession(ctx, s); err != nil {
			a.logger.Error("failed to persist finalized session",
				"session_id", s.ID,
				"actor", s.ActorKey,
				"error", err,
			)
		}
	}
}

// burstBucketSize picks a bucket granularity of 1/60th of the window,
// floored at one second.
func burstBucketSize(window time.Duration) time.Duration {
	bucket := window / 60
	if bucket < time.Second {
		bucket = time.Second
	}
	return bucket
}

// laneFor shards an actor key onto a lane.
func (a *Aggregator) laneFor(actorKey string) int {
	h := fnv.New32a()
	h.Write([]byte(actorKey))
	return int(h.Sum32() % uint32(len(a.lanes)))
}

// runLane is a lane goroutine. It exclusively owns the sessions of the
// actors hashed onto it; all mutation happens here.
func (a *Aggregator) runLane(idx int, ch chan laneMsg) {
	defer a.wg.Done()

	open := make(map[string]*sessionState)

	for msg := range ch {
		switch {
		case msg.ev != nil:
			update := a.applyEvent(open, msg.ev)
			msg.reply <- ingestReply{update: update}

		case msg.sweepDone != nil:
			msg.sweepDone <- a.sealIdle(open, msg.sweepAt)
		}
	}
}

// applyEvent mutates (or creates) the actor's session for one event.
func (a *Aggregator) applyEvent(open map[string]*sessionState, ev *ScoredEvent) *Update {
	state, ok := open[ev.ActorKey]
	created := !ok
	if created {
		state = &sessionState{
			session: &Session{
				ID:            uuid.NewString(),
				ActorKey:      ev.ActorKey,
				StartTime:     ev.Timestamp,
				RiskBreakdown: make(map[rules.Severity]int),
			},
			burst:     newSlidingWindow(a.config.BurstWindow, burstBucketSize(a.config.BurstWindow)),
			providers: make(map[string]struct{}),
			models:    make(map[string]struct{}),
			patterns:  make(map[string]struct{}),
		}
		open[ev.ActorKey] = state
	}

	s := state.session
	s.EndTime = ev.Timestamp
	s.RequestCount++
	s.AvgRiskScore += (float64(ev.RiskScore) - s.AvgRiskScore) / float64(s.RequestCount)
	if ev.IsFlagged {
		s.FlaggedCount++
	}

	bucket := rules.SeverityForScore(ev.RiskScore)
	s.RiskBreakdown[bucket]++
	state.trackRecent(bucket, a.config.RiskLevelWindow)
	s.RiskLevel = state.deriveRiskLevel(a.config.RiskLevelWindow)

	if ev.Provider != "" {
		if _, seen := state.providers[ev.Provider]; !seen {
			state.providers[ev.Provider] = struct{}{}
			s.Providers = append(s.Providers, ev.Provider)
		}
	}
	if ev.Model != "" {
		if _, seen := state.models[ev.Model]; !seen {
			state.models[ev.Model] = struct{}{}
			s.Models = append(s.Models, ev.Model)
		}
	}

	newPatterns := a.detectAnomalies(state, ev)

	return &Update{
		Session:     s.clone(),
		Created:     created,
		NewPatterns: newPatterns,
	}
}

// detectAnomalies updates the burst window and distinct-model tracking and
// appends any newly observed anomaly tags.
func (a *Aggregator) detectAnomalies(state *sessionState, ev *ScoredEvent) []string {
	var added []string

	state.burst.Add(ev.Timestamp)
	if state.burst.Sum(ev.Timestamp) > a.config.BurstThreshold {
		if state.addPattern(PatternBurst) {
			added = append(added, PatternBurst)
		}
	}

	if len(state.providers)+len(state.models) > a.config.MaxDistinctModels {
		if state.addPattern(PatternModelHopping) {
			added = append(added, PatternModelHopping)
		}
	}

	return added
}

// sealIdle finalizes sessions whose inactivity window elapsed as of now and
// removes them from the lane's arena.
func (a *Aggregator) sealIdle(open map[string]*sessionState, now time.Time) []*Session {
	var sealed []*Session
	for key, state := range open {
		if now.Sub(state.session.EndTime) >= a.config.IdleTimeout {
			state.session.Finalized = true
			sealed = append(sealed, state.session)
			delete(open, key)
		}
	}
	return sealed
}

// addPattern records the tag once; reports whether it was new.
func (st *sessionState) addPattern(tag string) bool {
	if _, ok := st.patterns[tag]; ok {
		return false
	}
	st.patterns[tag] = struct{}{}
	st.session.UnusualPatterns = append(st.session.UnusualPatterns, tag)
	return true
}

// trackRecent appends the bucket to the recent ring when risk level
// derivation is windowed.
func (st *sessionState) trackRecent(bucket rules.Severity, window int) {
	if window <= 0 {
		return
	}
	st.recent = append(st.recent, bucket)
	if len(st.recent) > window {
		st.recent = st.recent[len(st.recent)-window:]
	}
}

// deriveRiskLevel returns the worst severity bucket with a nonzero count:
// over the most recent N events when windowed, otherwise over the whole
// breakdown. Never an average.
func (st *sessionState) deriveRiskLevel(window int) rules.Severity {
	if window > 0 {
		level := rules.SeverityLow
		for _, b := range st.recent {
			level = rules.MaxSeverity(level, b)
		}
		return level
	}

	level := rules.SeverityLow
	for bucket, count := range st.session.RiskBreakdown {
		if count > 0 {
			level = rules.MaxSeverity(level, bucket)
		}
	}
	return level
}
