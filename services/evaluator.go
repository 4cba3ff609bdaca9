package services

import (
	"math"

	"icecold/models"
)

// Evaluate advances the hysteresis state of one sensor with a new reading and
// returns the new state plus at most one alert event.
//
// A reading equal to a threshold is within range. Raising an alert needs
// DebounceCount consecutive out-of-range readings; clearing happens on the
// first in-range reading. Any in-range reading resets both counters.
// Evaluate does no I/O; the caller must not pass readings from failed samples.
func Evaluate(state models.SensorState, reading models.Reading, spec models.SensorSpec) (models.SensorState, *models.AlertEvent) {
	upper := spec.UpperThreshold
	lower := math.Inf(-1)
	if spec.HasLower() {
		lower = *spec.LowerThreshold
	}

	temp := reading.TemperatureF
	above := temp > upper
	below := temp < lower

	switch state.Phase {
	case models.PhaseAboveAlerting:
		if above {
			state.ConsecutiveAbove = increment(state.ConsecutiveAbove)
			state.ConsecutiveBelow = 0
			return state, nil
		}
		return models.NewSensorState(), newAlertEvent(models.AlertClear, reading, upper)

	case models.PhaseBelowAlerting:
		if below {
			state.ConsecutiveBelow = increment(state.ConsecutiveBelow)
			state.ConsecutiveAbove = 0
			return state, nil
		}
		return models.NewSensorState(), newAlertEvent(models.AlertClear, reading, lower)
	}

	// Normal (or zero-value) phase
	switch {
	case above:
		state.Phase = models.PhaseNormal
		state.ConsecutiveAbove = increment(state.ConsecutiveAbove)
		state.ConsecutiveBelow = 0
		if state.ConsecutiveAbove >= spec.Debounce() {
			state.Phase = models.PhaseAboveAlerting
			return state, newAlertEvent(models.AlertRaiseHigh, reading, upper)
		}
		return state, nil

	case below:
		state.Phase = models.PhaseNormal
		state.ConsecutiveBelow = increment(state.ConsecutiveBelow)
		state.ConsecutiveAbove = 0
		if state.ConsecutiveBelow >= spec.Debounce() {
			state.Phase = models.PhaseBelowAlerting
			return state, newAlertEvent(models.AlertRaiseLow, reading, lower)
		}
		return state, nil
	}

	return models.NewSensorState(), nil
}

func newAlertEvent(kind models.AlertKind, reading models.Reading, threshold float64) *models.AlertEvent {
	return &models.AlertEvent{
		Kind:       kind,
		SensorName: reading.SensorName,
		Reading:    reading,
		Threshold:  threshold,
	}
}

// increment saturates instead of wrapping around
func increment(n int) int {
	if n == math.MaxInt {
		return n
	}
	return n + 1
}
