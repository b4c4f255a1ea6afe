package dataset

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"playground/internal/model"
	"playground/internal/nn"
)

const (
	DefaultNumPoints = 200
	DefaultNoise     = 0.05
	// DefaultTiles is the checkerboard resolution per axis.
	DefaultTiles = 4
)

type Options struct {
	Seed      int64
	NumPoints int
	// Noise is the jitter scale. Zero selects DefaultNoise; a negative value
	// generates noise-free points.
	Noise float64
	Tiles int
}

func (o Options) withDefaults() Options {
	if o.NumPoints <= 0 {
		o.NumPoints = DefaultNumPoints
	}
	switch {
	case o.Noise == 0:
		o.Noise = DefaultNoise
	case o.Noise < 0 || !nn.Finite(o.Noise):
		o.Noise = 0
	}
	if o.Tiles <= 0 {
		o.Tiles = DefaultTiles
	}
	return o
}

type GeneratorFunc func(shape model.Shape, opts Options) ([]model.LabeledPoint, error)

// Generate maps a shape selector to a labeled point set in the unit square.
// The same shape and options always produce the same points.
func Generate(shape model.Shape, opts Options) ([]model.LabeledPoint, error) {
	opts = opts.withDefaults()
	rng := rand.New(rand.NewSource(opts.Seed))
	switch shape {
	case model.ShapeLinear:
		return linear(rng, opts), nil
	case model.ShapeConcentric:
		return concentric(rng, opts), nil
	case model.ShapeTwoClusters:
		return twoClusters(rng, opts), nil
	case model.ShapeCheckerboard:
		return checkerboard(rng, opts), nil
	case model.ShapeMoons:
		return moons(rng, opts), nil
	case model.ShapeSpiral:
		return spiral(rng, opts), nil
	default:
		return nil, errors.Errorf("unsupported dataset shape: %q", shape)
	}
}

func linear(rng *rand.Rand, opts Options) []model.LabeledPoint {
	points := make([]model.LabeledPoint, 0, opts.NumPoints)
	for i := 0; i < opts.NumPoints; i++ {
		x, y := rng.Float64(), rng.Float64()
		label := 0
		if y+rng.NormFloat64()*opts.Noise > x {
			label = 1
		}
		points = append(points, point(x, y, label))
	}
	return points
}

func concentric(rng *rand.Rand, opts Options) []model.LabeledPoint {
	points := make([]model.LabeledPoint, 0, opts.NumPoints)
	half := opts.NumPoints / 2
	for i := 0; i < opts.NumPoints; i++ {
		var r float64
		label := 1
		if i < half {
			r = rng.Float64() * 0.2
		} else {
			r = 0.3 + rng.Float64()*0.15
			label = 0
		}
		dx, dy := nn.PolarToCartesian(r, rng.Float64()*2*math.Pi)
		points = append(points, point(0.5+dx+rng.NormFloat64()*opts.Noise*0.5, 0.5+dy+rng.NormFloat64()*opts.Noise*0.5, label))
	}
	return points
}

func twoClusters(rng *rand.Rand, opts Options) []model.LabeledPoint {
	points := make([]model.LabeledPoint, 0, opts.NumPoints)
	spread := 0.08 + opts.Noise
	for i := 0; i < opts.NumPoints; i++ {
		cx, cy, label := 0.3, 0.3, 0
		if i%2 == 1 {
			cx, cy, label = 0.7, 0.7, 1
		}
		points = append(points, point(cx+rng.NormFloat64()*spread, cy+rng.NormFloat64()*spread, label))
	}
	return points
}

func checkerboard(rng *rand.Rand, opts Options) []model.LabeledPoint {
	points := make([]model.LabeledPoint, 0, opts.NumPoints)
	tiles := float64(opts.Tiles)
	for i := 0; i < opts.NumPoints; i++ {
		x, y := rng.Float64(), rng.Float64()
		col := int(math.Min(math.Floor(x*tiles), tiles-1))
		row := int(math.Min(math.Floor(y*tiles), tiles-1))
		points = append(points, point(x, y, (col+row)%2))
	}
	return points
}

// moons lays two interleaved half circles on [-1, 2] x [-0.5, 1] and maps
// them into the unit square.
func moons(rng *rand.Rand, opts Options) []model.LabeledPoint {
	points := make([]model.LabeledPoint, 0, opts.NumPoints)
	for i := 0; i < opts.NumPoints; i++ {
		theta := rng.Float64() * math.Pi
		var x, y float64
		label := i % 2
		if label == 0 {
			x, y = math.Cos(theta), math.Sin(theta)
		} else {
			x, y = 1-math.Cos(theta), 0.5-math.Sin(theta)
		}
		x += rng.NormFloat64() * opts.Noise
		y += rng.NormFloat64() * opts.Noise
		points = append(points, point(nn.UnitScale(x, 2.2, -1.2), nn.UnitScale(y, 1.7, -1.2), label))
	}
	return points
}

func spiral(rng *rand.Rand, opts Options) []model.LabeledPoint {
	points := make([]model.LabeledPoint, 0, opts.NumPoints)
	perArm := (opts.NumPoints + 1) / 2
	for i := 0; i < opts.NumPoints; i++ {
		label := i % 2
		step := float64(i/2) / float64(perArm)
		r := step * 0.45
		theta := step*1.75*2*math.Pi + float64(label)*math.Pi
		dx, dy := nn.PolarToCartesian(r, theta)
		points = append(points, point(0.5+dx+rng.NormFloat64()*opts.Noise*0.3, 0.5+dy+rng.NormFloat64()*opts.Noise*0.3, label))
	}
	return points
}

func point(x, y float64, label int) model.LabeledPoint {
	return model.LabeledPoint{X: nn.Sat(x, 1, 0), Y: nn.Sat(y, 1, 0), Label: label}
}

// Validate checks every point is finite, inside the unit square and labeled
// 0 or 1.
func Validate(points []model.LabeledPoint) error {
	for i, p := range points {
		switch {
		case !nn.Finite(p.X) || !nn.Finite(p.Y):
			return model.NewInvalidDatasetError(i, p, "coordinates must be finite")
		case p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1:
			return model.NewInvalidDatasetError(i, p, "coordinates must lie in [0,1]")
		case p.Label != 0 && p.Label != 1:
			return model.NewInvalidDatasetError(i, p, "label must be 0 or 1")
		}
	}
	return nil
}
