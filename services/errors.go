package services

import (
	"errors"
	"fmt"
)

var (
	ErrNoReading      = errors.New("no reading available")
	ErrStaleReading   = errors.New("reading is stale")
	ErrInvalidReading = errors.New("invalid reading")
)

// AcquisitionFailure means a sensor could not be read this cycle
type AcquisitionFailure struct {
	Sensor string
	Err    error
}

func (e *AcquisitionFailure) Error() string {
	return fmt.Sprintf("acquisition failed for sensor %s: %v", e.Sensor, e.Err)
}

func (e *AcquisitionFailure) Unwrap() error { return e.Err }

// SinkFailure means a telemetry write was not accepted
type SinkFailure struct {
	Sink   string
	Sensor string
	Err    error
}

func (e *SinkFailure) Error() string {
	return fmt.Sprintf("telemetry sink %s failed for sensor %s: %v", e.Sink, e.Sensor, e.Err)
}

func (e *SinkFailure) Unwrap() error { return e.Err }

// NotificationFailure means a message could not be delivered; it is not retried
type NotificationFailure struct {
	Channel     string
	Destination string
	Err         error
}

func (e *NotificationFailure) Error() string {
	return fmt.Sprintf("notification via %s to %s failed: %v", e.Channel, e.Destination, e.Err)
}

func (e *NotificationFailure) Unwrap() error { return e.Err }
