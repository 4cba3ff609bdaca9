package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"icecold/models"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type stubStatus struct{}

func (stubStatus) Specs() []models.SensorSpec {
	return []models.SensorSpec{{Name: "Freezer", UpperThreshold: 10, DebounceCount: 3}}
}

func (stubStatus) States() map[string]models.SensorState {
	return map[string]models.SensorState{
		"Freezer": {Phase: models.PhaseAboveAlerting, ConsecutiveAbove: 4},
	}
}

func (stubStatus) SourceHealth() []models.SourceHealth {
	return nil
}

type stubReadings struct {
	days []string
	data map[string][]models.Measurement
}

func (s *stubReadings) ListDays() ([]string, error) { return s.days, nil }

func (s *stubReadings) LoadDay(day string) ([]models.Measurement, error) {
	if day == "bad" {
		return nil, errors.New("invalid day")
	}
	m, ok := s.data[day]
	if !ok {
		return nil, fmt.Errorf("open %s.csv: %w", day, fs.ErrNotExist)
	}
	return m, nil
}

func writeConfig(t *testing.T, values map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := godotenv.Write(values, path); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func validConfig() map[string]string {
	return map[string]string{
		"SENSORS":                        "Freezer",
		"SENSOR_FREEZER_UPPER_THRESHOLD": "10",
		"SENSOR_SOURCE":                  "simulated",
	}
}

func newTestServer(t *testing.T, configFile string, readings ReadingStore) http.Handler {
	t.Helper()
	return New(":0", configFile, stubStatus{}, readings, zap.NewNop()).Handler()
}

func TestShowConfig(t *testing.T) {
	h := newTestServer(t, writeConfig(t, validConfig()), nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `name="SENSOR_FREEZER_UPPER_THRESHOLD" value="10"`) {
		t.Errorf("form does not show the threshold:\n%s", body)
	}
}

func TestUpdateConfig(t *testing.T) {
	path := writeConfig(t, validConfig())
	h := newTestServer(t, path, nil)

	form := url.Values{
		"SENSOR_FREEZER_UPPER_THRESHOLD": {"12.5"},
		"new_key":                        {"SENSOR_FREEZER_DEBOUNCE_COUNT"},
		"new_value":                      {"2"},
	}
	req := httptest.NewRequest(http.MethodPost, "/update", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect to /, got %d %q", rr.Code, rr.Header().Get("Location"))
	}

	values, err := godotenv.Read(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if values["SENSOR_FREEZER_UPPER_THRESHOLD"] != "12.5" || values["SENSOR_FREEZER_DEBOUNCE_COUNT"] != "2" {
		t.Errorf("unexpected values %v", values)
	}
	if values["SENSORS"] != "Freezer" {
		t.Errorf("keys not in the form must be kept, got %v", values)
	}
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	path := writeConfig(t, validConfig())
	h := newTestServer(t, path, nil)

	form := url.Values{"SENSOR_FREEZER_UPPER_THRESHOLD": {"cold"}}
	req := httptest.NewRequest(http.MethodPost, "/update", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	values, err := godotenv.Read(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if values["SENSOR_FREEZER_UPPER_THRESHOLD"] != "10" {
		t.Errorf("invalid edit must not be written, got %v", values)
	}
}

func TestShowConfigMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.env")
	h := newTestServer(t, path, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for a missing file, got %d", rr.Code)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("GET must not create the file")
	}
}

func TestStatus(t *testing.T) {
	h := newTestServer(t, writeConfig(t, validConfig()), nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sensors) != 1 || resp.Sensors[0].State.Phase != models.PhaseAboveAlerting {
		t.Errorf("unexpected status %+v", resp)
	}
	if resp.Sources == nil {
		t.Error("sources should be an empty list, not null")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, writeConfig(t, validConfig()), nil)

	for _, path := range []string{"/health", "/metrics"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestReadings(t *testing.T) {
	readings := &stubReadings{
		days: []string{"2024-03-02", "2024-03-01"},
		data: map[string][]models.Measurement{
			"2024-03-01": {{SensorName: "Freezer", Metric: models.MetricTemperatureF, Value: 4}},
		},
	}
	h := newTestServer(t, writeConfig(t, validConfig()), readings)

	tests := []struct {
		path string
		want int
	}{
		{"/readings", http.StatusOK},
		{"/readings/2024-03-01", http.StatusOK},
		{"/readings/2024-01-01", http.StatusNotFound},
		{"/readings/bad", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rr.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, rr.Code)
		}
	}
}

func TestReadingsDisabled(t *testing.T) {
	h := newTestServer(t, writeConfig(t, validConfig()), nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readings", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
