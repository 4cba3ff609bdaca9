package models

import (
	"time"
)

// Phase is the alerting state of a sensor
type Phase string

const (
	PhaseNormal        Phase = "normal"
	PhaseAboveAlerting Phase = "above_alerting"
	PhaseBelowAlerting Phase = "below_alerting"
)

// SensorState is the hysteresis history kept for one sensor.
// It lives only in memory; a restart starts every sensor at PhaseNormal.
type SensorState struct {
	Phase            Phase `json:"phase"`
	ConsecutiveAbove int   `json:"consecutive_above"`
	ConsecutiveBelow int   `json:"consecutive_below"`
}

// NewSensorState returns the initial state for a sensor
func NewSensorState() SensorState {
	return SensorState{Phase: PhaseNormal}
}

// AlertKind represents the kind of alert event
type AlertKind string

const (
	AlertRaiseHigh AlertKind = "raise_high"
	AlertRaiseLow  AlertKind = "raise_low"
	AlertClear     AlertKind = "clear"
)

// AlertEvent is produced when a sensor enters or leaves an alerting phase
type AlertEvent struct {
	ID         string    `json:"id"`
	Kind       AlertKind `json:"kind"`
	SensorName string    `json:"sensor_name"`
	Reading    Reading   `json:"reading"`
	Threshold  float64   `json:"threshold"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsRaise returns true for RaiseHigh and RaiseLow events
func (e *AlertEvent) IsRaise() bool {
	return e.Kind == AlertRaiseHigh || e.Kind == AlertRaiseLow
}

// Severity returns a coarse severity label for webhook payloads
func (e *AlertEvent) Severity() string {
	switch e.Kind {
	case AlertRaiseHigh:
		return "high"
	case AlertRaiseLow:
		return "medium"
	default:
		return "resolved"
	}
}
