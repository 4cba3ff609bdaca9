package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"icecold/models"

	"go.uber.org/zap"
)

func newTestMQTTSource(maxAge time.Duration, now time.Time) *MQTTSource {
	s := newMQTTSource("icecold/readings/+", maxAge, zap.NewNop())
	s.now = func() time.Time { return now }
	return s
}

func TestMQTTSourceSampleConsumesReading(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s := newTestMQTTSource(0, now)
	spec := models.SensorSpec{Name: "Walk-in Freezer", UpperThreshold: 10}

	payload := `{"sensor_name":"walk-in freezer","temperature_f":4.5,"humidity_pct":61.27,"observed_at":"2024-05-01T07:59:30Z"}`
	if err := s.handleMessage("icecold/readings/walk_in_freezer", []byte(payload)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	r, err := s.Sample(context.Background(), spec)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if r.SensorName != "Walk-in Freezer" || r.TemperatureF != 4.5 || r.HumidityPct != 61.3 {
		t.Errorf("unexpected reading %+v", r)
	}

	if _, err := s.Sample(context.Background(), spec); !errors.Is(err, ErrNoReading) {
		t.Errorf("expected ErrNoReading on second sample, got %v", err)
	}
}

func TestMQTTSourceCelsiusAndTopicName(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s := newTestMQTTSource(0, now)

	if err := s.handleMessage("icecold/readings/fridge", []byte(`{"temperature_c":2.5,"humidity_pct":50}`)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	r, err := s.Sample(context.Background(), models.SensorSpec{Name: "Fridge"})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if math.Abs(r.TemperatureF-36.5) > 1e-9 {
		t.Errorf("expected 36.5°F, got %v", r.TemperatureF)
	}
	if !r.ObservedAt.Equal(now) {
		t.Errorf("missing timestamp should default to receive time, got %v", r.ObservedAt)
	}
}

func TestMQTTSourceStaleReading(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s := newTestMQTTSource(time.Minute, now)

	payload := `{"sensor_name":"Fridge","temperature_f":36,"humidity_pct":50,"observed_at":"2024-05-01T07:55:00Z"}`
	if err := s.handleMessage("icecold/readings/fridge", []byte(payload)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	if _, err := s.Sample(context.Background(), models.SensorSpec{Name: "Fridge"}); !errors.Is(err, ErrStaleReading) {
		t.Fatalf("expected ErrStaleReading, got %v", err)
	}
}

func TestMQTTSourceIgnoresOutOfOrder(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s := newTestMQTTSource(0, now)

	newer := `{"sensor_name":"Fridge","temperature_f":36,"humidity_pct":50,"observed_at":"2024-05-01T07:59:00Z"}`
	older := `{"sensor_name":"Fridge","temperature_f":50,"humidity_pct":50,"observed_at":"2024-05-01T07:58:00Z"}`
	for _, p := range []string{newer, older} {
		if err := s.handleMessage("icecold/readings/fridge", []byte(p)); err != nil {
			t.Fatalf("handleMessage: %v", err)
		}
	}

	r, err := s.Sample(context.Background(), models.SensorSpec{Name: "Fridge"})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if r.TemperatureF != 36 {
		t.Errorf("expected the newer reading, got %v", r.TemperatureF)
	}
}

func TestMQTTSourceRejectsBadPayloads(t *testing.T) {
	s := newTestMQTTSource(0, time.Now())

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{{`},
		{"no temperature", `{"sensor_name":"Fridge","humidity_pct":50}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.handleMessage("icecold/readings/fridge", []byte(tt.payload)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}

	if err := s.handleMessage("icecold/readings/", []byte(`{"temperature_f":1}`)); !errors.Is(err, ErrInvalidReading) {
		t.Errorf("expected ErrInvalidReading for a missing sensor name, got %v", err)
	}
}

func TestBrokerURL(t *testing.T) {
	if got := brokerURL("localhost:1883"); got != "tcp://localhost:1883" {
		t.Errorf("got %s", got)
	}
	if got := brokerURL("ssl://broker:8883"); got != "ssl://broker:8883" {
		t.Errorf("got %s", got)
	}
}
