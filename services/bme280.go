package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"icecold/models"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// ErrSensorBusy is returned when a previous sample on the same device has not returned yet
var ErrSensorBusy = errors.New("sensor is still busy with a previous sample")

// BME280Source reads temperature and humidity from BME280 sensors over I2C
type BME280Source struct {
	logger  *zap.Logger
	mu      sync.Mutex
	devices map[string]*bme280Device
}

type bme280Device struct {
	bus  i2c.BusCloser
	dev  *bmxx80.Dev
	busy sync.Mutex
}

var hostInit struct {
	once sync.Once
	err  error
}

// NewBME280Source initializes the periph host drivers
func NewBME280Source(logger *zap.Logger) (*BME280Source, error) {
	hostInit.once.Do(func() {
		_, hostInit.err = host.Init()
	})
	if hostInit.err != nil {
		return nil, fmt.Errorf("error initializing periph host: %w", hostInit.err)
	}

	return &BME280Source{
		logger:  logger,
		devices: make(map[string]*bme280Device),
	}, nil
}

// Sample takes one forced-mode measurement
func (s *BME280Source) Sample(ctx context.Context, spec models.SensorSpec) (models.Reading, error) {
	d, err := s.device(spec)
	if err != nil {
		return models.Reading{}, err
	}

	if !d.busy.TryLock() {
		return models.Reading{}, ErrSensorBusy
	}

	type result struct {
		env physic.Env
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer d.busy.Unlock()
		var env physic.Env
		err := d.dev.Sense(&env)
		done <- result{env: env, err: err}
	}()

	select {
	case <-ctx.Done():
		return models.Reading{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			s.drop(spec.Name)
			return models.Reading{}, fmt.Errorf("error sensing %s: %w", spec.Name, r.err)
		}
		return envToReading(spec.Name, r.env, time.Now()), nil
	}
}

func envToReading(name string, env physic.Env, at time.Time) models.Reading {
	celsius := float64(env.Temperature-physic.ZeroCelsius) / float64(physic.Celsius)
	humidity := float64(env.Humidity) / float64(physic.PercentRH)

	return models.Reading{
		SensorName:   name,
		TemperatureF: models.CelsiusToFahrenheit(celsius),
		HumidityPct:  math.Round(humidity*10) / 10,
		ObservedAt:   at,
	}
}

// device opens the bus lazily and keeps the calibrated device for later samples
func (s *BME280Source) device(spec models.SensorSpec) (*bme280Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.devices[spec.Name]; ok {
		return d, nil
	}

	bus, err := i2creg.Open(spec.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("error opening I2C bus %s: %w", spec.I2CBus, err)
	}

	dev, err := bmxx80.NewI2C(bus, spec.I2CAddress, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("error initializing BME280 at %#x on bus %s: %w", spec.I2CAddress, spec.I2CBus, err)
	}

	s.logger.Info("BME280 sensor initialized",
		zap.String("sensor", spec.Name),
		zap.String("bus", spec.I2CBus),
		zap.Uint16("address", spec.I2CAddress))

	d := &bme280Device{bus: bus, dev: dev}
	s.devices[spec.Name] = d
	return d, nil
}

// drop closes a device after a failed read so the next cycle reopens it
func (s *BME280Source) drop(name string) {
	s.mu.Lock()
	d, ok := s.devices[name]
	delete(s.devices, name)
	s.mu.Unlock()

	if ok {
		d.close(s.logger)
	}
}

func (d *bme280Device) close(logger *zap.Logger) {
	if err := d.dev.Halt(); err != nil {
		logger.Warn("Error halting BME280", zap.Error(err))
	}
	if err := d.bus.Close(); err != nil {
		logger.Warn("Error closing I2C bus", zap.Error(err))
	}
}

// Close releases every open bus
func (s *BME280Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, d := range s.devices {
		d.close(s.logger)
		delete(s.devices, name)
	}
	return nil
}
