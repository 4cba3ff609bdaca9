package models

import (
	"time"
)

// SourceHealthStatus represents whether a sensor is producing readings
type SourceHealthStatus string

const (
	SourceHealthy   SourceHealthStatus = "healthy"
	SourceOffline   SourceHealthStatus = "offline"
	SourceRecovered SourceHealthStatus = "recovered"
)

// SourceHealth tracks acquisition health for one sensor.
// It is independent from SensorState so failures never touch hysteresis counters.
type SourceHealth struct {
	SensorName          string             `json:"sensor_name"`
	Status              SourceHealthStatus `json:"status"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	LastSeen            time.Time          `json:"last_seen"`
	LastError           string             `json:"last_error,omitempty"`
	OfflineAt           time.Time          `json:"offline_at"` // When the sensor went offline (if applicable)
}
