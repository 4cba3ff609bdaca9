package services

import (
	"context"

	"icecold/models"
)

// SensorSource produces one reading for a sensor or fails.
// The poller treats every failure the same way regardless of cause.
type SensorSource interface {
	Sample(ctx context.Context, spec models.SensorSpec) (models.Reading, error)
	Close() error
}
