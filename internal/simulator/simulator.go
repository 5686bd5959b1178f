// Package simulator produces synthetic readings for a fixed set of edge
// devices, for demos and for running the gateway without real hardware.
package simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"iot-telemetry-gateway/internal/config"
	"iot-telemetry-gateway/internal/data"
)

const (
	minTemperature = 18
	maxTemperature = 36
	minHumidity    = 25
	maxHumidity    = 85
	minBattery     = 35
	maxBattery     = 100
)

type device struct {
	id          string
	temperature float64
	humidity    float64
	battery     float64
	vibration   float64
}

// Simulator is safe for concurrent use.
type Simulator struct {
	mu      sync.Mutex
	devices []*device
	rng     *rand.Rand
	now     func() time.Time
}

type Option func(*Simulator)

func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

func New(cfg config.SimulatorConfig, options ...Option) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Simulator{
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
	for _, d := range cfg.Devices {
		s.devices = append(s.devices, &device{
			id:          d.DeviceID,
			temperature: d.BaseTemperature,
			humidity:    d.BaseHumidity,
			battery:     d.Battery,
			vibration:   d.Vibration,
		})
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Tick returns one reading per simulated device. Temperature and humidity
// follow a day/night cycle around each device's base value, the battery
// drains slowly and vibration jitters around its base.
func (s *Simulator) Tick() []data.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	hour := float64(now.Hour()) + float64(now.Minute())/60
	phase := hour / 24 * 2 * math.Pi

	out := make([]data.Reading, 0, len(s.devices))
	for _, d := range s.devices {
		temperature := clamp(d.temperature+2*math.Sin(phase)+s.noise(0.75), minTemperature, maxTemperature)
		humidity := clamp(d.humidity+5*math.Cos(phase)+s.noise(3), minHumidity, maxHumidity)
		d.battery = clamp(d.battery-s.rng.Float64()*0.05, minBattery, maxBattery)
		vibration := math.Max(0, d.vibration+s.noise(0.03))

		out = append(out, data.Reading{
			DeviceID:  d.id,
			Timestamp: now,
			Metrics: map[string]float64{
				"temperature": round(temperature, 1),
				"humidity":    round(humidity, 1),
				"battery":     round(d.battery, 1),
				"vibration":   round(vibration, 3),
			},
		})
	}
	return out
}

// noise returns a uniform value in [-spread, spread).
func (s *Simulator) noise(spread float64) float64 {
	return (s.rng.Float64()*2 - 1) * spread
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
