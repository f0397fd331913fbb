package simulator

import (
	"context"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/okian/telewatch/internal/domain/model"
	"github.com/okian/telewatch/pkg/logger"
	"gonum.org/v1/gonum/stat/distuv"
)

// Default stream names, matching a wearable that reports acceleration
// magnitude, muscle activity and a fall flag.
const (
	DefaultMotionStream   = "patientMove"
	DefaultActivityStream = "patientState"
	DefaultFallStream     = "hasFallen"
	FallValue             = "fall"
)

// Default signal shape.
const (
	defaultMotionMean     = 1.0
	defaultMotionStdDev   = 0.02
	defaultActivityMean   = 30.0
	defaultActivityStdDev = 10.0
	defaultFallChance     = 0.01
	defaultFallMagnitude  = 2.5
)

// Reading is one generated step across all streams.
type Reading struct {
	Timestamp time.Time
	Motion    float64
	Activity  float64
	Fell      bool
}

// Generator writes synthetic readings into a Store.
type Generator struct {
	store  *Store
	device string
	rng    *rand.Rand

	motionStream   string
	activityStream string
	fallStream     string

	motion        distuv.Normal
	activity      distuv.Normal
	fallChance    float64
	fallMagnitude float64

	logger logger.Logger
}

// GeneratorOption applies a configuration option to the Generator.
type GeneratorOption func(*Generator)

// WithSeed makes the generated sequence reproducible.
func WithSeed(seed uint64) GeneratorOption {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithFallChance sets the per-step probability of a fall.
func WithFallChance(p float64) GeneratorOption {
	return func(g *Generator) {
		if p >= 0 && p <= 1 {
			g.fallChance = p
		}
	}
}

// WithFallMagnitude sets how far a fall pushes the motion reading above its mean.
func WithFallMagnitude(m float64) GeneratorOption {
	return func(g *Generator) {
		g.fallMagnitude = m
	}
}

// WithMotionNoise sets the mean and spread of the motion stream.
func WithMotionNoise(mean, stddev float64) GeneratorOption {
	return func(g *Generator) {
		if stddev > 0 {
			g.motion = distuv.Normal{Mu: mean, Sigma: stddev}
		}
	}
}

// WithStreams renames the generated streams. Empty names keep the default.
func WithStreams(motion, activity, fall string) GeneratorOption {
	return func(g *Generator) {
		if motion != "" {
			g.motionStream = motion
		}
		if activity != "" {
			g.activityStream = activity
		}
		if fall != "" {
			g.fallStream = fall
		}
	}
}

// WithGeneratorLogger sets a custom logger for the generator.
func WithGeneratorLogger(l logger.Logger) GeneratorOption {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGenerator creates a generator for device writing into store.
func NewGenerator(store *Store, device string, opts ...GeneratorOption) *Generator {
	g := &Generator{
		store:          store,
		device:         device,
		rng:            rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		motionStream:   DefaultMotionStream,
		activityStream: DefaultActivityStream,
		fallStream:     DefaultFallStream,
		motion:         distuv.Normal{Mu: defaultMotionMean, Sigma: defaultMotionStdDev},
		activity:       distuv.Normal{Mu: defaultActivityMean, Sigma: defaultActivityStdDev},
		fallChance:     defaultFallChance,
		fallMagnitude:  defaultFallMagnitude,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logger.Get().Named("simulator")
	}
	return g
}

// draw samples d by inverse transform so the generator's own source drives it.
func (g *Generator) draw(d distuv.Normal) float64 {
	u := g.rng.Float64()
	for u == 0 {
		u = g.rng.Float64()
	}
	return d.Quantile(u)
}

// Step generates and stores one reading at ts.
func (g *Generator) Step(ts time.Time) Reading {
	r := Reading{
		Timestamp: ts.UTC(),
		Motion:    g.draw(g.motion),
		Activity:  math.Max(0, g.draw(g.activity)),
	}
	if g.rng.Float64() < g.fallChance {
		r.Fell = true
		r.Motion += g.fallMagnitude
	}

	g.store.Append(g.device, g.motionStream, model.Sample{Timestamp: r.Timestamp, Value: format(r.Motion)})
	g.store.Append(g.device, g.activityStream, model.Sample{Timestamp: r.Timestamp, Value: format(r.Activity)})
	if r.Fell {
		g.store.Append(g.device, g.fallStream, model.Sample{Timestamp: r.Timestamp, Value: FallValue})
	}
	return r
}

// Run calls Step every interval until ctx is done.
func (g *Generator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.logger.Info(ctx, "generator started",
		logger.String("device", g.device),
		logger.Duration("interval", interval),
		logger.Float64("fallChance", g.fallChance))

	for {
		select {
		case <-ctx.Done():
			g.logger.Info(ctx, "generator stopped")
			return
		case now := <-ticker.C:
			if r := g.Step(now); r.Fell {
				g.logger.Info(ctx, "fall generated",
					logger.Time("timestamp", r.Timestamp),
					logger.Float64("motion", r.Motion))
			}
		}
	}
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
