package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flagwise/flagwise/pkg/telemetry/metrics"
)

// LoaderConfig contains configuration for the rule loader.
type LoaderConfig struct {
	// RefreshInterval is how often the loader re-reads the source even
	// without a change notification. Zero disables periodic refresh.
	// Default: 10s.
	RefreshInterval time.Duration

	// WatchFile enables fsnotify-based reloads when the source is a
	// FileSource. Default: true.
	WatchFile bool

	// DebounceInterval is the quiet period after a file event before a
	// reload is triggered, preventing reload storms from editors that
	// write in multiple steps. Default: 100ms.
	DebounceInterval time.Duration
}

// DefaultLoaderConfig returns the default loader configuration.
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		RefreshInterval:  10 * time.Second,
		WatchFile:        true,
		DebounceInterval: 100 * time.Millisecond,
	}
}

// Loader owns the live rule snapshot. It rebuilds the snapshot from its
// Source on a fixed interval, on file change, or on explicit Refresh, and
// publishes each rebuild with an atomic pointer swap so concurrent readers
// always see a complete rule set.
type Loader struct {
	source  Source
	config  *LoaderConfig
	logger  *slog.Logger
	metrics *metrics.DetectionMetrics
	current atomic.Pointer[Snapshot]
	version atomic.Uint64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLoader creates a rule loader and performs the initial load.
func NewLoader(source Source, config *LoaderConfig, logger *slog.Logger) (*Loader, error) {
	if source == nil {
		return nil, fmt.Errorf("rule source cannot be nil")
	}
	if config == nil {
		config = DefaultLoaderConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Loader{
		source: source,
		config: config,
		logger: logger.With("component", "rules.loader"),
		stopCh: make(chan struct{}),
	}

	if err := l.Refresh(context.Background()); err != nil {
		return nil, fmt.Errorf("initial rule load failed: %w", err)
	}

	return l, nil
}

// SetMetrics attaches detection metrics, syncing the active-rule gauge to
// the current snapshot. Reload counters update on each subsequent refresh.
// Call before Start; the field is not guarded against concurrent refresh.
func (l *Loader) SetMetrics(dm *metrics.DetectionMetrics) {
	l.metrics = dm
	if dm != nil {
		if snap := l.current.Load(); snap != nil {
			dm.SetActiveRules(usableDetectionRules(snap))
		}
	}
}

// usableDetectionRules counts detection rules the engine will evaluate,
// excluding those kept in the snapshot only to report compile errors.
func usableDetectionRules(snap *Snapshot) int {
	n := 0
	for _, r := range snap.Detection {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Snapshot returns the current rule snapshot. The returned snapshot is
// immutable and safe to use for the duration of one evaluation.
func (l *Loader) Snapshot() *Snapshot {
	return l.current.Load()
}

// Refresh rebuilds the snapshot from the source and publishes it.
func (l *Loader) Refresh(ctx context.Context) error {
	detection, alerts, err := l.source.Load(ctx)
	if err != nil {
		if l.metrics != nil {
			l.metrics.RecordReload("error")
		}
		return &ReloadError{Cause: err}
	}

	snap := NewSnapshot(l.version.Add(1), detection, alerts)
	l.current.Store(snap)

	invalid := 0
	for _, r := range snap.Detection {
		if r.Err != nil {
			invalid++
			l.logger.Warn("detection rule failed to compile, will be skipped",
				"rule_id", r.ID,
				"error", r.Err,
			)
		}
	}
	for _, a := range snap.Alerts {
		if a.Err != nil {
			invalid++
			l.logger.Warn("alert rule has invalid configuration, will be skipped",
				"rule_id", a.ID,
				"error", a.Err,
			)
		}
	}

	l.logger.Info("rule snapshot published",
		"version", snap.Version,
		"detection_rules", len(snap.Detection),
		"alert_rules", len(snap.Alerts),
		"invalid_rules", invalid,
	)

	if l.metrics != nil {
		l.metrics.RecordReload("ok")
		l.metrics.SetActiveRules(usableDetectionRules(snap))
	}

	return nil
}

// Start begins periodic refresh and, for file sources, change watching.
// It returns immediately; background work stops when ctx is cancelled or
// Stop is called.
func (l *Loader) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("loader already running")
	}
	l.running = true
	l.mu.Unlock()

	if l.config.RefreshInterval > 0 {
		l.wg.Add(1)
		go l.refreshLoop(ctx)
	}

	if fs, ok := l.source.(*FileSource); ok && l.config.WatchFile {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create fsnotify watcher: %w", err)
		}
		if err := watcher.Add(fs.Path()); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch rules file %q: %w", fs.Path(), err)
		}
		l.wg.Add(1)
		go l.watchLoop(ctx, watcher)
	}

	return nil
}

// refreshLoop re-reads the source on a fixed interval.
func (l *Loader) refreshLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				// Keep serving the previous snapshot.
				l.logger.Error("periodic rule refresh failed", "error", err)
			}
		}
	}
}

// watchLoop reloads on debounced file change events.
func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer l.wg.Done()
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			l.logger.Debug("rules file changed", "path", event.Name, "op", event.Op.String())

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(l.config.DebounceInterval, func() {
				if err := l.Refresh(ctx); err != nil {
					l.logger.Error("rule reload after file change failed", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			// Keep watching despite errors.
			l.logger.Error("rules file watcher error", "error", err)
		}
	}
}

// Stop terminates background refresh and watching.
func (l *Loader) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	close(l.stopCh)
	l.wg.Wait()
	l.running = false
	l.logger.Info("rule loader stopped")
}

// ReloadError indicates a snapshot rebuild failure. The previous snapshot
// stays in effect.
type ReloadError struct {
	Cause error
}

// Error returns the error message.
func (e *ReloadError) Error() string {
	return fmt.Sprintf("rule reload failed: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ReloadError) Unwrap() error {
	return e.Cause
}
