package services

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"icecold/models"
)

var errSimulatedFailure = errors.New("simulated acquisition failure")

// ReadingGenerator produces plausible readings around each sensor's thresholds.
// It backs the simulated source and the MQTT generator tool.
type ReadingGenerator struct {
	excursionProbability float64
	failureProbability   float64
	baseHumidity         float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewReadingGenerator creates a generator; the same seed yields the same sequence
func NewReadingGenerator(seed int64, excursionProbability, failureProbability float64) *ReadingGenerator {
	return &ReadingGenerator{
		excursionProbability: excursionProbability,
		failureProbability:   failureProbability,
		baseHumidity:         45.0,
		rng:                  rand.New(rand.NewSource(seed)),
	}
}

// Generate returns a reading for spec, or an error with failureProbability
func (g *ReadingGenerator) Generate(spec models.SensorSpec, at time.Time) (models.Reading, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rng.Float64() < g.failureProbability {
		return models.Reading{}, errSimulatedFailure
	}

	// Sit a few degrees inside the safe band
	upper := spec.UpperThreshold
	base := upper - 5
	if spec.HasLower() {
		base = (upper + *spec.LowerThreshold) / 2
	}
	temperature := base + g.rng.Float64()*2.0 - 1.0 // ±1°F variation

	if g.rng.Float64() < g.excursionProbability {
		if spec.HasLower() && g.rng.Float64() < 0.5 {
			temperature = *spec.LowerThreshold - 1 - g.rng.Float64()*4.0
		} else {
			temperature = upper + 1 + g.rng.Float64()*4.0
		}
	}

	humidity := g.baseHumidity + g.rng.Float64()*10.0 - 5.0 // ±5% variation

	return models.Reading{
		SensorName:   spec.Name,
		TemperatureF: math.Round(temperature*10) / 10,
		HumidityPct:  math.Round(humidity*10) / 10,
		ObservedAt:   at,
	}, nil
}

// SimulatedSource serves generated readings, for development without hardware
type SimulatedSource struct {
	generator *ReadingGenerator
}

func NewSimulatedSource(generator *ReadingGenerator) *SimulatedSource {
	return &SimulatedSource{generator: generator}
}

func (s *SimulatedSource) Sample(ctx context.Context, spec models.SensorSpec) (models.Reading, error) {
	if err := ctx.Err(); err != nil {
		return models.Reading{}, err
	}
	return s.generator.Generate(spec, time.Now())
}

func (s *SimulatedSource) Close() error { return nil }
