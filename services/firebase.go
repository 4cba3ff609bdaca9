package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"icecold/config"
	"icecold/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const firebaseTelemetryPath = "telemetry"

// firebaseRecord is the stored shape of one measurement
type firebaseRecord struct {
	Metric     string  `json:"metric"`
	Value      float64 `json:"value"`
	ObservedAt string  `json:"observed_at"`
	SensorName string  `json:"sensor_name"`
}

// FirebaseStore writes measurement batches to the Firebase Realtime Database under
// telemetry/<SENSOR_KEY>/<time-ordered key>
type FirebaseStore struct {
	client *db.Client
	logger *zap.Logger
}

func NewFirebaseStore(cfg *config.Config, logger *zap.Logger) (*FirebaseStore, error) {
	ctx := context.Background()

	// Parse the service account JSON from environment variable
	serviceAccountJSON := []byte(cfg.FirebaseServiceAccountJSON)

	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	opt := option.WithCredentialsJSON(serviceAccountJSON)
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fs := &FirebaseStore{
		client: client,
		logger: logger,
	}

	if err := fs.testConnection(ctx); err != nil {
		logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fs, nil
}

// testConnection tests Firebase connection with retry logic
func (fs *FirebaseStore) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		var data interface{}
		err := fs.client.NewRef(firebaseTelemetryPath).OrderByKey().LimitToFirst(1).Get(ctx, &data)
		if err == nil {
			fs.logger.Info("Firebase connection successful")
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

// WriteBatch stores a batch with a single multi-path update
func (fs *FirebaseStore) WriteBatch(ctx context.Context, batch []models.Measurement) error {
	if len(batch) == 0 {
		return nil
	}

	updates := make(map[string]interface{}, len(batch))
	for _, m := range batch {
		updates[firebaseKey(m)] = firebaseRecord{
			Metric:     m.Metric,
			Value:      m.Value,
			ObservedAt: m.ObservedAt.UTC().Format(time.RFC3339),
			SensorName: m.SensorName,
		}
	}

	if err := fs.client.NewRef(firebaseTelemetryPath).Update(ctx, updates); err != nil {
		return fmt.Errorf("error writing telemetry batch: %w", err)
	}
	return nil
}

// firebaseKey orders children by observation time; the uuid suffix keeps keys unique
func firebaseKey(m models.Measurement) string {
	return fmt.Sprintf("%s/%013d-%s", config.SensorKey(m.SensorName), m.ObservedAt.UnixMilli(), uuid.NewString()[:8])
}

// LatestMeasurements returns up to limit measurements for a sensor, oldest first
func (fs *FirebaseStore) LatestMeasurements(ctx context.Context, sensorName string, limit int) ([]models.Measurement, error) {
	ref := fs.client.NewRef(firebaseTelemetryPath).Child(config.SensorKey(sensorName))

	var data map[string]firebaseRecord
	if err := ref.OrderByKey().LimitToLast(limit).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error getting telemetry for %s: %w", sensorName, err)
	}

	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	measurements := make([]models.Measurement, 0, len(keys))
	for _, key := range keys {
		record := data[key]
		observedAt, err := time.Parse(time.RFC3339, record.ObservedAt)
		if err != nil {
			fs.logger.Warn("Invalid timestamp format",
				zap.String("record_id", key),
				zap.Error(err))
			continue
		}
		measurements = append(measurements, models.Measurement{
			SensorName: record.SensorName,
			Metric:     record.Metric,
			Value:      record.Value,
			ObservedAt: observedAt,
		})
	}

	return measurements, nil
}

// Close closes the Firebase connection
func (fs *FirebaseStore) Close() error {
	fs.logger.Info("Closing Firebase store")
	// Firebase client doesn't require explicit closing but we log it
	return nil
}
