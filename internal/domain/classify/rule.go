package classify

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/okian/telewatch/internal/domain/model"
)

// RuleKind names a trigger predicate.
type RuleKind string

// Supported rules.
const (
	// RuleEquals fires when the value equals Match, e.g. "fall".
	RuleEquals RuleKind = "equals"
	// RuleMagnitude fires when |value| > Threshold, for streams that already carry deltas.
	RuleMagnitude RuleKind = "magnitude"
	// RuleDelta fires when |value - previous value| > Threshold.
	RuleDelta RuleKind = "delta"
	// RuleMovement tracks the mean of the last Window deltas and fires when
	// the stream switches between still and moving.
	RuleMovement RuleKind = "movement"
	// RuleLevel maps values into Bands and fires when the level changes.
	RuleLevel RuleKind = "level"
)

// Movement levels reported by RuleMovement.
const (
	LevelStill  = "still"
	LevelMoving = "moving"
)

// Defaults mirrored from the wearable prototype.
const (
	DefaultCooldown       = 30 * time.Second
	DefaultMovementWindow = 10
)

// Config describes one classifier.
type Config struct {
	// Kind is the event kind emitted, e.g. "fall" or "movement_changed".
	Kind      string
	Rule      RuleKind
	Match     string
	Threshold float64
	Cooldown  time.Duration
	// Window is the number of deltas averaged by RuleMovement.
	Window int
	// Bands are ascending inclusive upper bounds for RuleLevel.
	Bands []float64
}

// Validate reports configuration problems as model.ErrConfiguration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Kind) == "" {
		return fmt.Errorf("%w: classifier kind must not be empty", model.ErrConfiguration)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must not be negative", model.ErrConfiguration)
	}
	if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be finite", model.ErrConfiguration)
	}

	switch c.Rule {
	case RuleEquals:
		if c.Match == "" {
			return fmt.Errorf("%w: rule %q needs a match value", model.ErrConfiguration, c.Rule)
		}
	case RuleMagnitude, RuleDelta:
		if c.Threshold < 0 {
			return fmt.Errorf("%w: rule %q needs a non-negative threshold", model.ErrConfiguration, c.Rule)
		}
	case RuleMovement:
		if c.Threshold < 0 {
			return fmt.Errorf("%w: rule %q needs a non-negative threshold", model.ErrConfiguration, c.Rule)
		}
		if c.Window < 1 {
			return fmt.Errorf("%w: rule %q needs a window of at least 1", model.ErrConfiguration, c.Rule)
		}
	case RuleLevel:
		if len(c.Bands) == 0 {
			return fmt.Errorf("%w: rule %q needs at least one band", model.ErrConfiguration, c.Rule)
		}
		for i := 1; i < len(c.Bands); i++ {
			if c.Bands[i] <= c.Bands[i-1] {
				return fmt.Errorf("%w: bands must be strictly ascending", model.ErrConfiguration)
			}
		}
	default:
		return fmt.Errorf("%w: unknown rule %q", model.ErrConfiguration, c.Rule)
	}
	return nil
}

// levelOf returns the index of the first band the value fits under.
func levelOf(bands []float64, v float64) int {
	for i, upper := range bands {
		if v <= upper {
			return i
		}
	}
	return len(bands)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
