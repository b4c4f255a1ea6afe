package dataset

import (
	"math"
	"testing"

	"github.com/pkg/errors"

	"playground/internal/model"
)

func TestGenerateAllShapesProduceValidPoints(t *testing.T) {
	for _, shape := range model.Shapes() {
		t.Run(string(shape), func(t *testing.T) {
			points, err := Generate(shape, Options{Seed: 11, NumPoints: 120, Noise: 0.1})
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if len(points) != 120 {
				t.Fatalf("expected 120 points, got %d", len(points))
			}
			if err := Validate(points); err != nil {
				t.Fatalf("validate: %v", err)
			}
			labels := map[int]int{}
			for _, p := range points {
				labels[p.Label]++
			}
			if labels[0] == 0 || labels[1] == 0 {
				t.Fatalf("expected both classes present, got %v", labels)
			}
		})
	}
}

func TestGenerateIsDeterministicForSeed(t *testing.T) {
	a, err := Generate(model.ShapeSpiral, Options{Seed: 3})
	if err != nil {
		t.Fatalf("generate a: %v", err)
	}
	b, err := Generate(model.ShapeSpiral, Options{Seed: 3})
	if err != nil {
		t.Fatalf("generate b: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("point %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestOptionsNoiseDefaults(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{in: 0, want: DefaultNoise},
		{in: 0.2, want: 0.2},
		{in: -1, want: 0},
		{in: math.NaN(), want: 0},
	}
	for _, tc := range cases {
		if got := (Options{Noise: tc.in}).withDefaults().Noise; got != tc.want {
			t.Fatalf("noise %v: expected %v, got %v", tc.in, tc.want, got)
		}
	}

	noisy, err := Generate(model.ShapeMoons, Options{Seed: 4, NumPoints: 50})
	if err != nil {
		t.Fatalf("generate default noise: %v", err)
	}
	clean, err := Generate(model.ShapeMoons, Options{Seed: 4, NumPoints: 50, Noise: -1})
	if err != nil {
		t.Fatalf("generate noise-free: %v", err)
	}
	differs := false
	for i := range noisy {
		if noisy[i] != clean[i] {
			differs = true
			break
		}
	}
	if !differs {
		t.Fatal("expected zero noise to fall back to the default jitter")
	}
}

func TestGenerateUnknownShape(t *testing.T) {
	if _, err := Generate(model.Shape("torus"), Options{}); err == nil {
		t.Fatal("expected unsupported shape error")
	}
}

func TestCheckerboardLabelsFollowTileParity(t *testing.T) {
	points, err := Generate(model.ShapeCheckerboard, Options{Seed: 1, NumPoints: 400, Tiles: 2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, p := range points {
		want := 0
		if (p.X >= 0.5) != (p.Y >= 0.5) {
			want = 1
		}
		if p.Label != want {
			t.Fatalf("point %+v: expected label %d", p, want)
		}
	}
}

func TestValidateRejectsMalformedPoints(t *testing.T) {
	cases := []struct {
		name  string
		point model.LabeledPoint
	}{
		{name: "nan", point: model.LabeledPoint{X: math.NaN(), Y: 0.5}},
		{name: "inf", point: model.LabeledPoint{X: 0.5, Y: math.Inf(1)}},
		{name: "range", point: model.LabeledPoint{X: 1.5, Y: 0.5}},
		{name: "label", point: model.LabeledPoint{X: 0.5, Y: 0.5, Label: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate([]model.LabeledPoint{{X: 0.1, Y: 0.1}, tc.point})
			var invalid *model.InvalidDatasetError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidDatasetError, got: %v", err)
			}
			if invalid.Index != 1 {
				t.Fatalf("expected failing index 1, got %d", invalid.Index)
			}
		})
	}
}

func TestStoreRegenerateBumpsGeneration(t *testing.T) {
	store := NewStore(100)
	first, err := store.Regenerate(model.ShapeLinear)
	if err != nil {
		t.Fatalf("first regenerate: %v", err)
	}
	second, err := store.Regenerate(model.ShapeLinear)
	if err != nil {
		t.Fatalf("second regenerate: %v", err)
	}
	if second.Generation <= first.Generation {
		t.Fatalf("expected strictly greater generation: first=%d second=%d", first.Generation, second.Generation)
	}
	if store.Current().Generation != second.Generation {
		t.Fatalf("expected current generation %d, got %d", second.Generation, store.Current().Generation)
	}
	if first.Points[0] == second.Points[0] {
		t.Fatal("expected a fresh draw on regeneration")
	}
}

func TestStoreRejectsInvalidOutputAndKeepsCurrent(t *testing.T) {
	bad := false
	store := NewStore(1, WithGenerator(func(shape model.Shape, opts Options) ([]model.LabeledPoint, error) {
		if bad {
			return []model.LabeledPoint{{X: 0.2, Y: 0.2}, {X: math.NaN(), Y: 0.3}}, nil
		}
		return Generate(shape, opts)
	}))

	good, err := store.Regenerate(model.ShapeMoons)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	calls := 0
	store.OnChange(func(model.Dataset) { calls++ })

	bad = true
	if _, err := store.Regenerate(model.ShapeLinear); !errors.As(err, new(*model.InvalidDatasetError)) {
		t.Fatalf("expected InvalidDatasetError, got: %v", err)
	}
	current := store.Current()
	if current.Generation != good.Generation || current.Shape != model.ShapeMoons {
		t.Fatalf("expected dataset unchanged after failure, got generation=%d shape=%s", current.Generation, current.Shape)
	}
	if calls != 0 {
		t.Fatalf("expected no change notification on failure, got %d", calls)
	}
}

func TestStoreRejectsEmptyOutput(t *testing.T) {
	store := NewStore(1, WithGenerator(func(model.Shape, Options) ([]model.LabeledPoint, error) {
		return nil, nil
	}))
	if _, err := store.Regenerate(model.ShapeLinear); !errors.As(err, new(*model.InvalidDatasetError)) {
		t.Fatalf("expected InvalidDatasetError, got: %v", err)
	}
	if store.Generation() != 0 {
		t.Fatalf("expected generation 0, got %d", store.Generation())
	}
}

func TestStoreNotifiesListeners(t *testing.T) {
	store := NewStore(5)
	var seen []uint64
	store.OnChange(func(d model.Dataset) { seen = append(seen, d.Generation) })
	for i := 0; i < 3; i++ {
		if _, err := store.Regenerate(model.ShapeConcentric); err != nil {
			t.Fatalf("regenerate %d: %v", i, err)
		}
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Fatalf("unexpected notifications: %v", seen)
	}
}
