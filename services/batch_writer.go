package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"icecold/metrics"
	"icecold/models"

	"go.uber.org/zap"
)

// ErrBufferFull is returned by Record when the batch writer cannot keep up
var ErrBufferFull = errors.New("telemetry buffer is full")

// BatchStore persists a batch of measurements in one call
type BatchStore interface {
	WriteBatch(ctx context.Context, batch []models.Measurement) error
}

// BatchWriter buffers measurements and writes them to a BatchStore when the
// batch is full or the batch timeout expires
type BatchWriter struct {
	name         string
	store        BatchStore
	logger       *zap.Logger
	input        chan models.Measurement
	buffer       []models.Measurement
	bufferMutex  sync.Mutex
	flushTimer   *time.Timer
	maxBatchSize int
	batchTimeout time.Duration
	retryBackoff time.Duration
	shutdownChan chan bool
}

// NewBatchWriter creates a batch writer; Start must run before measurements are flushed
func NewBatchWriter(name string, store BatchStore, maxBatchSize int, batchTimeout time.Duration, logger *zap.Logger) *BatchWriter {
	return &BatchWriter{
		name:         name,
		store:        store,
		logger:       logger,
		input:        make(chan models.Measurement, maxBatchSize*4),
		buffer:       make([]models.Measurement, 0, maxBatchSize),
		maxBatchSize: maxBatchSize,
		batchTimeout: batchTimeout,
		retryBackoff: time.Second,
		shutdownChan: make(chan bool, 1),
	}
}

func (bw *BatchWriter) Name() string { return bw.name }

// Record queues a measurement without blocking the poll loop
func (bw *BatchWriter) Record(_ context.Context, m models.Measurement) error {
	select {
	case bw.input <- m:
		return nil
	default:
		return ErrBufferFull
	}
}

// Start runs the batching loop until ctx is cancelled, then flushes what is left
func (bw *BatchWriter) Start(ctx context.Context) {
	bw.logger.Info("Starting batch writer",
		zap.String("store", bw.name),
		zap.Int("max_batch_size", bw.maxBatchSize),
		zap.Duration("batch_timeout", bw.batchTimeout))

	bw.flushTimer = time.NewTimer(bw.batchTimeout)
	defer bw.flushTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.logger.Info("Batch writer received shutdown signal")
			bw.drainInput()
			// The parent context is gone; give the final flush its own deadline
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			bw.flushBuffer(flushCtx)
			cancel()
			bw.shutdownChan <- true
			return

		case m := <-bw.input:
			bw.bufferMutex.Lock()
			bw.buffer = append(bw.buffer, m)
			currentSize := len(bw.buffer)
			bw.bufferMutex.Unlock()
			metrics.BatchBufferSize.Set(float64(currentSize))

			if currentSize >= bw.maxBatchSize {
				bw.logger.Debug("Buffer full, flushing",
					zap.Int("buffer_size", currentSize))

				if !bw.flushTimer.Stop() {
					// Drain the timer channel if it hasn't been drained
					select {
					case <-bw.flushTimer.C:
					default:
					}
				}

				bw.flushBuffer(ctx)
				bw.flushTimer.Reset(bw.batchTimeout)
			}

		case <-bw.flushTimer.C:
			if bw.GetBufferSize() > 0 {
				bw.flushBuffer(ctx)
			}
			bw.flushTimer.Reset(bw.batchTimeout)
		}
	}
}

func (bw *BatchWriter) drainInput() {
	for {
		select {
		case m := <-bw.input:
			bw.bufferMutex.Lock()
			bw.buffer = append(bw.buffer, m)
			bw.bufferMutex.Unlock()
		default:
			return
		}
	}
}

// flushBuffer writes the current buffer and clears it
func (bw *BatchWriter) flushBuffer(ctx context.Context) {
	bw.bufferMutex.Lock()

	if len(bw.buffer) == 0 {
		bw.bufferMutex.Unlock()
		return
	}

	// Copy buffer for writing (to avoid holding lock during write)
	batch := make([]models.Measurement, len(bw.buffer))
	copy(batch, bw.buffer)
	bw.buffer = bw.buffer[:0]

	bw.bufferMutex.Unlock()
	metrics.BatchBufferSize.Set(0)

	start := time.Now()
	defer func() { metrics.BatchFlushDuration.Observe(time.Since(start).Seconds()) }()

	maxRetries := 3
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = bw.store.WriteBatch(ctx, batch)
		if err == nil {
			bw.logger.Debug("Flushed telemetry batch",
				zap.String("store", bw.name),
				zap.Int("batch_size", len(batch)))
			return
		}

		bw.logger.Warn("Failed to flush telemetry batch",
			zap.String("store", bw.name),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				attempt = maxRetries
			case <-time.After(time.Duration(attempt) * bw.retryBackoff):
			}
		}
	}

	// If all retries failed, log error (data will be lost)
	metrics.SinkFailuresTotal.WithLabelValues(bw.name).Inc()
	bw.logger.Error("Failed to flush telemetry batch after all retries, data lost",
		zap.String("store", bw.name),
		zap.Int("batch_size", len(batch)),
		zap.Error(err))
}

// WaitForShutdown waits for the batch writer to complete shutdown
func (bw *BatchWriter) WaitForShutdown(timeout time.Duration) bool {
	select {
	case <-bw.shutdownChan:
		return true
	case <-time.After(timeout):
		return false
	}
}

// GetBufferSize returns the current buffer size (for monitoring)
func (bw *BatchWriter) GetBufferSize() int {
	bw.bufferMutex.Lock()
	defer bw.bufferMutex.Unlock()
	return len(bw.buffer)
}
