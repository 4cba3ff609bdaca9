package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"icecold/models"

	"go.uber.org/zap"
)

type fakeBatchStore struct {
	mu       sync.Mutex
	batches  [][]models.Measurement
	failures int
}

func (s *fakeBatchStore) WriteBatch(_ context.Context, batch []models.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("temporary failure")
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeBatchStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func measurement(i int) models.Measurement {
	return models.Measurement{SensorName: "Freezer", Metric: models.MetricTemperatureF, Value: float64(i)}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBatchWriterFlushesFullBatch(t *testing.T) {
	store := &fakeBatchStore{}
	bw := NewBatchWriter("test", store, 3, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bw.Start(ctx)

	for i := 0; i < 3; i++ {
		if err := bw.Record(ctx, measurement(i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	waitFor(t, func() bool { return store.total() == 3 })

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.batches) != 1 {
		t.Errorf("expected one batch, got %d", len(store.batches))
	}
}

func TestBatchWriterFlushesOnTimeout(t *testing.T) {
	store := &fakeBatchStore{}
	bw := NewBatchWriter("test", store, 100, 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bw.Start(ctx)

	if err := bw.Record(ctx, measurement(1)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	waitFor(t, func() bool { return store.total() == 1 })
}

func TestBatchWriterFlushesOnShutdown(t *testing.T) {
	store := &fakeBatchStore{}
	bw := NewBatchWriter("test", store, 100, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go bw.Start(ctx)

	for i := 0; i < 5; i++ {
		if err := bw.Record(ctx, measurement(i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	cancel()

	if !bw.WaitForShutdown(2 * time.Second) {
		t.Fatal("batch writer did not shut down")
	}
	if got := store.total(); got != 5 {
		t.Fatalf("expected 5 measurements flushed, got %d", got)
	}
}

func TestBatchWriterRetries(t *testing.T) {
	store := &fakeBatchStore{failures: 2}
	bw := NewBatchWriter("test", store, 1, time.Hour, zap.NewNop())
	bw.retryBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bw.Start(ctx)

	if err := bw.Record(ctx, measurement(1)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	waitFor(t, func() bool { return store.total() == 1 })
}

func TestBatchWriterBufferFull(t *testing.T) {
	bw := NewBatchWriter("test", &fakeBatchStore{}, 1, time.Hour, zap.NewNop())

	// Not started, so nothing drains the input channel
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = bw.Record(context.Background(), measurement(i))
	}
	if !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
}
