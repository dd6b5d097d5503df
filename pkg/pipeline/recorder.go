package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flagwise/flagwise/pkg/storage"
	"github.com/flagwise/flagwise/pkg/telemetry/metrics"
)

// RecorderConfig contains configuration for the async request recorder.
type RecorderConfig struct {
	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout is the timeout for a single storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder persists scored request records asynchronously so the scoring
// path never blocks on storage.
type Recorder struct {
	store      storage.Store
	config     *RecorderConfig
	recordChan chan *storage.RequestRecord
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger
	metrics    *metrics.StorageMetrics
}

// NewRecorder creates a recorder writing to the provided store. The metrics
// bundle may be nil.
func NewRecorder(store storage.Store, config *RecorderConfig, sm *metrics.StorageMetrics) *Recorder {
	if config == nil {
		config = DefaultRecorderConfig()
	}

	r := &Recorder{
		store:      store,
		config:     config,
		recordChan: make(chan *storage.RequestRecord, config.AsyncBuffer),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "pipeline.recorder"),
		metrics:    sm,
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("request recorder initialized",
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
	)

	return r
}

// Enqueue hands a record to the background writer. It returns immediately;
// when the buffer is full the record is dropped with an error log.
func (r *Recorder) Enqueue(rec *storage.RequestRecord) {
	select {
	case r.recordChan <- rec:
	case <-r.done:
		r.logger.Warn("recorder shutting down, dropping record",
			"record_id", rec.ID,
		)
	default:
		r.logger.Error("record channel full, dropping record",
			"record_id", rec.ID,
			"channel_capacity", r.config.AsyncBuffer,
		)
	}
}

// Close gracefully shuts down the recorder by draining the async channel and
// waiting for all pending writes to complete.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	r.logger.Info("request recorder shut down")
	return nil
}

// worker drains the record channel and writes records to storage.
func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case rec := <-r.recordChan:
			r.writeRecord(rec)

		case <-r.done:
			// Drain remaining records before exiting
			for {
				select {
				case rec := <-r.recordChan:
					r.writeRecord(rec)
				default:
					return
				}
			}
		}
	}
}

// writeRecord writes a single record with a bounded timeout.
func (r *Recorder) writeRecord(rec *storage.RequestRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := r.store.SaveRequest(ctx, rec)
	if r.metrics != nil {
		r.metrics.RecordOperation("save_request", time.Since(start), err)
	}
	if err != nil {
		r.logger.Error("failed to persist request record",
			"record_id", rec.ID,
			"error", err,
		)
	}
}
