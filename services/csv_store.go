package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"icecold/models"
)

const (
	csvTimeLayout = "2006-01-02T15:04:05"
	csvFileLayout = "2006-01-02"
)

// CSVStore appends measurements to one CSV file per day:
//
//	time,sensor,metric,value
type CSVStore struct {
	dir string

	mu      sync.Mutex
	current *os.File
	writer  *csv.Writer
	curDate string
}

// NewCSVStore creates the data directory if needed
func NewCSVStore(dir string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create data dir: %w", err)
	}
	return &CSVStore{dir: dir}, nil
}

func (s *CSVStore) Name() string { return "csv" }

// Dir returns the directory holding the daily files
func (s *CSVStore) Dir() string { return s.dir }

// Record appends one measurement to the file for its local date
func (s *CSVStore) Record(_ context.Context, m models.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := m.ObservedAt.In(time.Local)
	dateStr := t.Format(csvFileLayout)

	if s.curDate != dateStr || s.current == nil {
		s.closeLocked()
		path := filepath.Join(s.dir, dateStr+".csv")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		s.current = f
		s.writer = csv.NewWriter(f)
		s.curDate = dateStr

		info, err := f.Stat()
		if err == nil && info.Size() == 0 {
			if err := s.writer.Write([]string{"time", "sensor", "metric", "value"}); err != nil {
				return err
			}
		}
	}

	if err := s.writer.Write([]string{
		t.Format(csvTimeLayout),
		m.SensorName,
		m.Metric,
		strconv.FormatFloat(m.Value, 'f', -1, 64),
	}); err != nil {
		return err
	}
	s.writer.Flush()
	return s.writer.Error()
}

// Close flushes and closes the current file
func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *CSVStore) closeLocked() error {
	if s.writer != nil {
		s.writer.Flush()
		s.writer = nil
	}
	if s.current != nil {
		err := s.current.Close()
		s.current = nil
		return err
	}
	return nil
}

// ListDays returns available log dates, newest first
func (s *CSVStore) ListDays() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var days []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".csv") {
			days = append(days, strings.TrimSuffix(name, ".csv"))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	return days, nil
}

// LoadDay reads all measurements recorded on a day (YYYY-MM-DD)
func (s *CSVStore) LoadDay(day string) ([]models.Measurement, error) {
	if _, err := time.Parse(csvFileLayout, day); err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return LoadCSVFile(filepath.Join(s.dir, day+".csv"))
}

// LoadCSVFile reads all measurements from a CSV file, skipping malformed rows
func LoadCSVFile(path string) ([]models.Measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	var measurements []models.Measurement
	for i, row := range records {
		if i == 0 && len(row) > 0 && row[0] == "time" {
			continue
		}
		if len(row) < 4 {
			continue
		}

		t, err := time.ParseInLocation(csvTimeLayout, row[0], time.Local)
		if err != nil {
			continue
		}
		value, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			continue
		}

		measurements = append(measurements, models.Measurement{
			SensorName: row[1],
			Metric:     row[2],
			Value:      value,
			ObservedAt: t,
		})
	}

	return measurements, nil
}
