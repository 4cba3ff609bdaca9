package models

import (
	"time"
)

// Metric names written to telemetry sinks for every reading
const (
	MetricTemperatureF = "Temperature(F)"
	MetricHumidityPct  = "Humidity(%)"
)

// SensorSpec is the static configuration of one monitored sensor
type SensorSpec struct {
	Name           string   `json:"name"`
	UpperThreshold float64  `json:"upper_threshold"`
	LowerThreshold *float64 `json:"lower_threshold,omitempty"` // nil means single-sided monitoring
	DebounceCount  int      `json:"debounce_count"`

	// BME280 addressing, ignored by other sources
	I2CBus     string `json:"i2c_bus,omitempty"`
	I2CAddress uint16 `json:"i2c_address,omitempty"`
}

// HasLower reports whether a lower threshold is configured
func (s SensorSpec) HasLower() bool {
	return s.LowerThreshold != nil
}

// Debounce returns the effective debounce count, never less than one
func (s SensorSpec) Debounce() int {
	if s.DebounceCount < 1 {
		return 1
	}
	return s.DebounceCount
}

// Reading is one sample taken from a sensor
type Reading struct {
	SensorName   string    `json:"sensor_name"`
	TemperatureF float64   `json:"temperature_f"`
	HumidityPct  float64   `json:"humidity_pct"`
	ObservedAt   time.Time `json:"observed_at"`
}

// Measurements splits a reading into the named metric writes sent to telemetry
func (r Reading) Measurements() []Measurement {
	return []Measurement{
		{SensorName: r.SensorName, Metric: MetricTemperatureF, Value: r.TemperatureF, ObservedAt: r.ObservedAt},
		{SensorName: r.SensorName, Metric: MetricHumidityPct, Value: r.HumidityPct, ObservedAt: r.ObservedAt},
	}
}

// Measurement is a single named metric value for a sensor
type Measurement struct {
	SensorName string    `json:"sensor_name"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// CelsiusToFahrenheit converts a Celsius temperature
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}
