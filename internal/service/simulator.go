package service

import (
	"math/rand/v2"
	"time"

	"github.com/dom/genstudio/internal/config"
)

// Simulator decides how long a generation takes and whether the model is
// overloaded for a given attempt.
type Simulator interface {
	Delay() time.Duration
	Overloaded() bool
}

// RandomSimulator draws a uniform delay in [MinDelay, MaxDelay) and reports
// overload with probability OverloadRate.
type RandomSimulator struct {
	MinDelay     time.Duration
	MaxDelay     time.Duration
	OverloadRate float64
}

func NewSimulator(cfg *config.Config) *RandomSimulator {
	rate := cfg.ModelOverloadRate
	if cfg.DisableModelOverload {
		rate = 0
	}
	return &RandomSimulator{
		MinDelay:     cfg.ModelMinDelay,
		MaxDelay:     cfg.ModelMaxDelay,
		OverloadRate: rate,
	}
}

func (s *RandomSimulator) Delay() time.Duration {
	span := s.MaxDelay - s.MinDelay
	if span <= 0 {
		return s.MinDelay
	}
	return s.MinDelay + rand.N(span)
}

func (s *RandomSimulator) Overloaded() bool {
	if s.OverloadRate <= 0 {
		return false
	}
	return rand.Float64() < s.OverloadRate
}

// FixedSimulator always answers the same way. Useful for tests and demos.
type FixedSimulator struct {
	Wait     time.Duration
	Overload bool
}

func (s FixedSimulator) Delay() time.Duration { return s.Wait }

func (s FixedSimulator) Overloaded() bool { return s.Overload }
