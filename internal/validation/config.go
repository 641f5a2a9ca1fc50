package validation

import (
	"errors"
	"fmt"

	"oracle-monitor/internal/domain"
)

// Default thresholds.
const (
	DefaultDecayFactor           = 0.95
	DefaultHitRateAlertThreshold = 0.3
	DefaultDeviationFraction     = 0.15
	DefaultImprobabilityMultiple = 20.0
	DefaultMaxSlotDifference     = 25
)

// Config holds the validator thresholds.
type Config struct {
	// DecayFactor is the per-round weight kept by the hit-rate moving average.
	DecayFactor float64
	// HitRateAlertThreshold triggers low-slot-hit-rate below this average.
	HitRateAlertThreshold float64
	// DeviationFraction is the largest accepted |delta| / aggregate price.
	DeviationFraction float64
	// ImprobabilityMultiple is the largest accepted |delta| / publisher confidence.
	ImprobabilityMultiple float64
	// MaxSlotDifference is how far a contribution may lag the aggregate and
	// still count as active.
	MaxSlotDifference int64
	// Publisher restricts evaluation to one publisher when set.
	Publisher *domain.PublicKey
}

// DefaultConfig returns the default thresholds with no publisher filter.
func DefaultConfig() Config {
	return Config{
		DecayFactor:           DefaultDecayFactor,
		HitRateAlertThreshold: DefaultHitRateAlertThreshold,
		DeviationFraction:     DefaultDeviationFraction,
		ImprobabilityMultiple: DefaultImprobabilityMultiple,
		MaxSlotDifference:     DefaultMaxSlotDifference,
	}
}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid validation config")

// Validate checks every threshold is in range.
func (c Config) Validate() error {
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		return fmt.Errorf("%w: decay factor %v not in (0,1)", ErrInvalidConfig, c.DecayFactor)
	}
	if c.HitRateAlertThreshold < 0 || c.HitRateAlertThreshold > 1 {
		return fmt.Errorf("%w: hit rate alert threshold %v not in [0,1]", ErrInvalidConfig, c.HitRateAlertThreshold)
	}
	if c.DeviationFraction <= 0 {
		return fmt.Errorf("%w: deviation fraction must be positive", ErrInvalidConfig)
	}
	if c.ImprobabilityMultiple <= 0 {
		return fmt.Errorf("%w: improbability multiple must be positive", ErrInvalidConfig)
	}
	if c.MaxSlotDifference <= 0 {
		return fmt.Errorf("%w: max slot difference must be positive", ErrInvalidConfig)
	}
	return nil
}
