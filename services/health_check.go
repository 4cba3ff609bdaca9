package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"icecold/models"

	"go.uber.org/zap"
)

// SourceHealthMonitor tracks consecutive acquisition failures per sensor and
// produces offline/recovery notices. It keeps its own bookkeeping and never
// touches hysteresis state.
type SourceHealthMonitor struct {
	offlineAfter int
	logger       *zap.Logger
	sensors      map[string]*models.SourceHealth
	mu           sync.RWMutex
}

// NewSourceHealthMonitor creates a monitor that reports a sensor offline after
// offlineAfter consecutive failures. Zero disables notices; failures are still counted.
func NewSourceHealthMonitor(offlineAfter int, logger *zap.Logger) *SourceHealthMonitor {
	return &SourceHealthMonitor{
		offlineAfter: offlineAfter,
		logger:       logger,
		sensors:      make(map[string]*models.SourceHealth),
	}
}

func (h *SourceHealthMonitor) get(name string) *models.SourceHealth {
	sensor, exists := h.sensors[name]
	if !exists {
		sensor = &models.SourceHealth{
			SensorName: name,
			Status:     models.SourceHealthy,
		}
		h.sensors[name] = sensor
	}
	return sensor
}

// RecordFailure counts a failed sample. It returns a notice the first time the
// sensor crosses the offline threshold.
func (h *SourceHealthMonitor) RecordFailure(name string, err error, at time.Time) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sensor := h.get(name)
	sensor.ConsecutiveFailures = increment(sensor.ConsecutiveFailures)
	if err != nil {
		sensor.LastError = err.Error()
	}

	if h.offlineAfter <= 0 || sensor.Status == models.SourceOffline {
		return "", false
	}
	if sensor.ConsecutiveFailures < h.offlineAfter {
		return "", false
	}

	sensor.Status = models.SourceOffline
	sensor.OfflineAt = at

	h.logger.Warn("Sensor went offline",
		zap.String("sensor", name),
		zap.Int("consecutive_failures", sensor.ConsecutiveFailures),
		zap.Time("last_seen", sensor.LastSeen))

	return fmt.Sprintf("OFFLINE: %s sensor has not produced a reading for %d cycles\n", name, sensor.ConsecutiveFailures), true
}

// RecordSuccess resets the failure count. It returns a notice when the sensor
// was previously reported offline.
func (h *SourceHealthMonitor) RecordSuccess(name string, at time.Time) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sensor := h.get(name)
	wasOffline := sensor.Status == models.SourceOffline

	sensor.ConsecutiveFailures = 0
	sensor.LastSeen = at
	sensor.LastError = ""

	if !wasOffline {
		sensor.Status = models.SourceHealthy
		return "", false
	}

	sensor.Status = models.SourceRecovered
	downDuration := at.Sub(sensor.OfflineAt)
	h.logger.Info("Sensor recovered",
		zap.String("sensor", name),
		zap.Duration("down_duration", downDuration))

	return fmt.Sprintf("NOTICE: %s sensor is reporting again\n", name), true
}

// Snapshot returns a copy of every tracked sensor, sorted by name
func (h *SourceHealthMonitor) Snapshot() []models.SourceHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.SourceHealth, 0, len(h.sensors))
	for _, sensor := range h.sensors {
		out = append(out, *sensor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorName < out[j].SensorName })
	return out
}
