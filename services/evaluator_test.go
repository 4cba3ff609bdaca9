package services

import (
	"math"
	"testing"
	"time"

	"icecold/models"
)

func singleSpec(upper float64, debounce int) models.SensorSpec {
	return models.SensorSpec{Name: "Freezer", UpperThreshold: upper, DebounceCount: debounce}
}

func dualSpec(lower, upper float64, debounce int) models.SensorSpec {
	return models.SensorSpec{Name: "Fridge", UpperThreshold: upper, LowerThreshold: &lower, DebounceCount: debounce}
}

func reading(name string, temp float64) models.Reading {
	return models.Reading{SensorName: name, TemperatureF: temp, HumidityPct: 40.0, ObservedAt: time.Unix(0, 0)}
}

// run feeds temps through Evaluate and returns the final state and the event kind per step ("" for none)
func run(t *testing.T, spec models.SensorSpec, state models.SensorState, temps ...float64) (models.SensorState, []models.AlertKind) {
	t.Helper()
	kinds := make([]models.AlertKind, 0, len(temps))
	for _, temp := range temps {
		var event *models.AlertEvent
		state, event = Evaluate(state, reading(spec.Name, temp), spec)
		if event == nil {
			kinds = append(kinds, "")
			continue
		}
		if event.SensorName != spec.Name || event.Reading.TemperatureF != temp {
			t.Fatalf("event does not carry the triggering reading: %+v", event)
		}
		kinds = append(kinds, event.Kind)
	}
	return state, kinds
}

func assertKinds(t *testing.T, got, want []models.AlertKind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d: expected %q, got %q (all: %v)", i+1, want[i], got[i], got)
		}
	}
}

func TestEvaluateInRangeNeverAlerts(t *testing.T) {
	spec := dualSpec(10, 40, 1)
	state, kinds := run(t, spec, models.NewSensorState(), 10, 40, 25, 10.0001, 39.9999, 33)

	assertKinds(t, kinds, []models.AlertKind{"", "", "", "", "", ""})
	if state != models.NewSensorState() {
		t.Fatalf("expected initial state, got %+v", state)
	}
}

func TestEvaluateRaiseHighOnNthReading(t *testing.T) {
	spec := singleSpec(40, 4)
	state, kinds := run(t, spec, models.NewSensorState(), 41, 41, 41, 41)

	assertKinds(t, kinds, []models.AlertKind{"", "", "", models.AlertRaiseHigh})
	if state.Phase != models.PhaseAboveAlerting || state.ConsecutiveAbove != 4 {
		t.Fatalf("unexpected state %+v", state)
	}

	state, kinds = run(t, spec, state, 39)
	assertKinds(t, kinds, []models.AlertKind{models.AlertClear})
	if state.Phase != models.PhaseNormal || state.ConsecutiveAbove != 0 || state.ConsecutiveBelow != 0 {
		t.Fatalf("expected reset state after clear, got %+v", state)
	}
}

func TestEvaluateDualThresholdRaiseLow(t *testing.T) {
	spec := dualSpec(10, 40, 2)
	state, kinds := run(t, spec, models.NewSensorState(), 5, 5, 20)

	assertKinds(t, kinds, []models.AlertKind{"", models.AlertRaiseLow, models.AlertClear})
	if state != models.NewSensorState() {
		t.Fatalf("expected reset state, got %+v", state)
	}
}

func TestEvaluateEventThresholds(t *testing.T) {
	spec := dualSpec(10, 40, 1)

	state, high := Evaluate(models.NewSensorState(), reading(spec.Name, 45), spec)
	if high == nil || high.Kind != models.AlertRaiseHigh || high.Threshold != 40 {
		t.Fatalf("expected RaiseHigh at 40, got %+v", high)
	}
	_, clear := Evaluate(state, reading(spec.Name, 30), spec)
	if clear == nil || clear.Kind != models.AlertClear || clear.Threshold != 40 {
		t.Fatalf("expected Clear carrying 40, got %+v", clear)
	}

	state, low := Evaluate(models.NewSensorState(), reading(spec.Name, 2), spec)
	if low == nil || low.Kind != models.AlertRaiseLow || low.Threshold != 10 {
		t.Fatalf("expected RaiseLow at 10, got %+v", low)
	}
	_, clear = Evaluate(state, reading(spec.Name, 30), spec)
	if clear == nil || clear.Threshold != 10 {
		t.Fatalf("expected Clear carrying 10, got %+v", clear)
	}
}

func TestEvaluateIsolatedSpikeIsIgnored(t *testing.T) {
	spec := singleSpec(40, 3)
	state, kinds := run(t, spec, models.NewSensorState(), 50, 35)

	assertKinds(t, kinds, []models.AlertKind{"", ""})
	if state.Phase != models.PhaseNormal || state.ConsecutiveAbove != 0 {
		t.Fatalf("expected normal with reset counters, got %+v", state)
	}
}

func TestEvaluateInterruptedRunRestartsCount(t *testing.T) {
	spec := singleSpec(40, 3)
	_, kinds := run(t, spec, models.NewSensorState(), 41, 41, 40, 41, 41, 41)

	assertKinds(t, kinds, []models.AlertKind{"", "", "", "", "", models.AlertRaiseHigh})
}

func TestEvaluateNoRepeatWhileAlerting(t *testing.T) {
	spec := singleSpec(40, 2)
	state, kinds := run(t, spec, models.NewSensorState(), 41, 41, 41, 41, 55)

	assertKinds(t, kinds, []models.AlertKind{"", models.AlertRaiseHigh, "", "", ""})
	if state.ConsecutiveAbove != 5 {
		t.Fatalf("expected counter to keep growing, got %d", state.ConsecutiveAbove)
	}

	// Replaying the same reading is idempotent with respect to events
	same := reading(spec.Name, 41)
	next, event := Evaluate(state, same, spec)
	if event != nil {
		t.Fatalf("unexpected event %+v", event)
	}
	_, event = Evaluate(next, same, spec)
	if event != nil {
		t.Fatalf("unexpected event on replay %+v", event)
	}
}

func TestEvaluateClearIgnoresCounterMagnitude(t *testing.T) {
	spec := singleSpec(40, 1)
	state := models.SensorState{Phase: models.PhaseAboveAlerting, ConsecutiveAbove: 1000}

	state, event := Evaluate(state, reading(spec.Name, 40), spec)
	if event == nil || event.Kind != models.AlertClear {
		t.Fatalf("expected Clear, got %+v", event)
	}
	if state != models.NewSensorState() {
		t.Fatalf("expected reset state, got %+v", state)
	}
}

func TestEvaluateCrossingFromAboveToBelow(t *testing.T) {
	spec := dualSpec(10, 40, 1)
	state := models.SensorState{Phase: models.PhaseAboveAlerting, ConsecutiveAbove: 3}

	state, event := Evaluate(state, reading(spec.Name, 5), spec)
	if event == nil || event.Kind != models.AlertClear {
		t.Fatalf("expected Clear when leaving the above band, got %+v", event)
	}
	if state != models.NewSensorState() {
		t.Fatalf("expected reset state, got %+v", state)
	}

	_, event = Evaluate(state, reading(spec.Name, 5), spec)
	if event == nil || event.Kind != models.AlertRaiseLow {
		t.Fatalf("expected RaiseLow on the next reading, got %+v", event)
	}
}

func TestEvaluateSingleThresholdNeverRaisesLow(t *testing.T) {
	spec := singleSpec(40, 1)
	state, kinds := run(t, spec, models.NewSensorState(), -100, -40, math.Inf(-1))

	assertKinds(t, kinds, []models.AlertKind{"", "", ""})
	if state.ConsecutiveBelow != 0 {
		t.Fatalf("below counter should stay 0, got %d", state.ConsecutiveBelow)
	}
}

func TestEvaluateOppositeCounterResets(t *testing.T) {
	spec := dualSpec(10, 40, 3)
	state, _ := run(t, spec, models.NewSensorState(), 41, 41, 5)

	if state.ConsecutiveAbove != 0 || state.ConsecutiveBelow != 1 {
		t.Fatalf("expected (0,1), got (%d,%d)", state.ConsecutiveAbove, state.ConsecutiveBelow)
	}
}

func TestEvaluateDebounceBelowOneActsAsOne(t *testing.T) {
	spec := singleSpec(40, 0)
	_, kinds := run(t, spec, models.NewSensorState(), 41)

	assertKinds(t, kinds, []models.AlertKind{models.AlertRaiseHigh})
}

func TestEvaluateCounterSaturates(t *testing.T) {
	spec := singleSpec(40, 1)
	state := models.SensorState{Phase: models.PhaseAboveAlerting, ConsecutiveAbove: math.MaxInt}

	state, event := Evaluate(state, reading(spec.Name, 41), spec)
	if event != nil {
		t.Fatalf("unexpected event %+v", event)
	}
	if state.ConsecutiveAbove != math.MaxInt {
		t.Fatalf("expected saturation, got %d", state.ConsecutiveAbove)
	}
}

func TestEvaluateLeavesIDAndTimestampEmpty(t *testing.T) {
	_, event := Evaluate(models.NewSensorState(), reading("Freezer", 41), singleSpec(40, 1))
	if event == nil {
		t.Fatal("expected an event")
	}
	if event.ID != "" || !event.CreatedAt.IsZero() {
		t.Fatalf("evaluator must stay deterministic, got id=%q created=%v", event.ID, event.CreatedAt)
	}
}
