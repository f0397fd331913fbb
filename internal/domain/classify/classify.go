// Package classify turns stream samples into semantic events, emitting at
// most one event per cooldown window.
package classify

import (
	"math"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/telewatch/internal/domain/model"
)

// Result is the outcome of classifying one batch of samples.
type Result struct {
	Events []model.Event
	// Suppressed counts triggers swallowed by the cooldown.
	Suppressed int
	// Malformed counts samples skipped because the rule could not read them.
	Malformed int
}

// Classifier evaluates samples against one rule. It is owned by a single
// poller and is not safe for concurrent use.
type Classifier struct {
	cfg Config

	lastEventAt time.Time
	hasEvent    bool

	// delta, movement and level rules keep the previous reading
	prev    float64
	hasPrev bool

	// movement keeps a ring of the most recent deltas
	deltas []float64
	next   int
	filled bool

	// movement and level rules only report changes
	level    string
	hasLevel bool
}

// New validates cfg and builds a classifier with empty state.
func New(cfg Config) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{cfg: cfg}
	if cfg.Rule == RuleMovement {
		c.deltas = make([]float64, cfg.Window)
	}
	return c, nil
}

// Kind returns the event kind this classifier emits.
func (c *Classifier) Kind() string { return c.cfg.Kind }

// Process evaluates samples in order. It never fails: samples the rule
// cannot read are counted and skipped.
func (c *Classifier) Process(streamID string, samples []model.Sample) Result {
	var res Result
	for _, s := range samples {
		if s.Timestamp.IsZero() {
			res.Malformed++
			continue
		}

		trig, ok := c.evaluate(s)
		if !ok {
			res.Malformed++
			continue
		}
		if !trig.fired {
			continue
		}

		if !c.cooledDown(s.Timestamp) {
			res.Suppressed++
			continue
		}

		ev := model.NewEvent(streamID, c.cfg.Kind, s.Timestamp, trig.value)
		ev.Level = trig.level
		if trig.level != "" {
			c.level = trig.level
			c.hasLevel = true
		}
		c.lastEventAt = s.Timestamp
		c.hasEvent = true
		res.Events = append(res.Events, ev)
	}
	return res
}

// State returns a copy of the cooldown bookkeeping.
func (c *Classifier) State() model.ClassifierState {
	st := model.ClassifierState{
		Kind:      c.cfg.Kind,
		Cooldown:  c.cfg.Cooldown,
		Threshold: c.cfg.Threshold,
		Level:     c.level,
	}
	if c.hasEvent {
		at := c.lastEventAt
		st.LastEventAt = &at
	}
	return st
}

// cooledDown applies the strict cooldown: an event at exactly
// lastEventAt+cooldown is still suppressed.
func (c *Classifier) cooledDown(ts time.Time) bool {
	if !c.hasEvent {
		return true
	}
	return ts.Sub(c.lastEventAt) > c.cfg.Cooldown
}

type trigger struct {
	fired bool
	value string
	level string
}

// evaluate returns ok=false for samples the rule cannot interpret.
func (c *Classifier) evaluate(s model.Sample) (trigger, bool) {
	if c.cfg.Rule == RuleEquals {
		v := strings.TrimSpace(s.Value)
		if v == "" {
			return trigger{}, false
		}
		return trigger{fired: v == c.cfg.Match, value: v}, true
	}

	f, err := s.Float()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return trigger{}, false
	}

	switch c.cfg.Rule {
	case RuleMagnitude:
		return trigger{fired: math.Abs(f) > c.cfg.Threshold, value: formatFloat(f)}, true

	case RuleDelta:
		prev, had := c.swapPrev(f)
		if !had {
			return trigger{}, true
		}
		d := math.Abs(f - prev)
		return trigger{fired: d > c.cfg.Threshold, value: formatFloat(d)}, true

	case RuleMovement:
		prev, had := c.swapPrev(f)
		if !had {
			return trigger{}, true
		}
		c.pushDelta(math.Abs(f - prev))
		if !c.filled {
			return trigger{}, true
		}
		mean := stat.Mean(c.deltas, nil)
		level := LevelStill
		if mean > c.cfg.Threshold {
			level = LevelMoving
		}
		return c.levelTrigger(level, formatFloat(mean)), true

	case RuleLevel:
		level := strconv.Itoa(levelOf(c.cfg.Bands, f))
		return c.levelTrigger(level, formatFloat(f)), true
	}
	return trigger{}, true
}

// levelTrigger fires when level differs from the last reported level,
// including the first determination.
func (c *Classifier) levelTrigger(level, value string) trigger {
	if c.hasLevel && level == c.level {
		return trigger{}
	}
	return trigger{fired: true, value: value, level: level}
}

func (c *Classifier) swapPrev(f float64) (float64, bool) {
	prev, had := c.prev, c.hasPrev
	c.prev, c.hasPrev = f, true
	return prev, had
}

func (c *Classifier) pushDelta(d float64) {
	c.deltas[c.next] = d
	c.next = (c.next + 1) % len(c.deltas)
	if c.next == 0 {
		c.filled = true
	}
}
