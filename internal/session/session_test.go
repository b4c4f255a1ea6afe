package session

import (
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"playground/internal/model"
)

type fakeModel struct {
	hidden   []int
	disposed bool
	epochs   int
	gate     chan struct{}
}

func (f *fakeModel) TrainEpoch(x, _ *mat.Dense) (float64, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.epochs++
	return 1 / float64(f.epochs), nil
}

func (f *fakeModel) Predict(x *mat.Dense) ([]float64, error) {
	rows, _ := x.Dims()
	out := make([]float64, rows)
	for r := range out {
		out[r] = x.At(r, 0)
	}
	return out, nil
}

func (f *fakeModel) MeanActivations(x *mat.Dense) ([][]float64, error) {
	out := make([][]float64, 0, len(f.hidden)+1)
	for _, units := range append(append([]int{}, f.hidden...), 1) {
		layer := make([]float64, units)
		for i := range layer {
			layer[i] = x.At(0, 0) + float64(i)
		}
		out = append(out, layer)
	}
	return out, nil
}

func (f *fakeModel) LayerWeights(i int) (*mat.Dense, bool) {
	widths := append(append([]int{model.InputWidth}, f.hidden...), 1)
	if i < 0 || i >= len(widths)-1 {
		return nil, false
	}
	return mat.NewDense(widths[i], widths[i+1], nil), true
}

func (f *fakeModel) Dispose() {
	f.disposed = true
}

type fakeBuilder struct {
	built []*fakeModel
	fail  error
}

func (b *fakeBuilder) build(cfg BuildConfig) (Model, error) {
	if b.fail != nil {
		return nil, b.fail
	}
	m := &fakeModel{hidden: cfg.Hidden}
	b.built = append(b.built, m)
	return m, nil
}

func TestRebuildAssignsIncreasingGenerations(t *testing.T) {
	builder := &fakeBuilder{}
	m := NewManager(WithBuilder(builder.build))

	first, err := m.Rebuild(model.NewArchitecture(4, 3), "tanh", 0.03)
	if err != nil {
		t.Fatalf("first rebuild: %v", err)
	}
	second, err := m.Rebuild(model.NewArchitecture(2), "relu", 0.1)
	if err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	if second.Generation() <= first.Generation() {
		t.Fatalf("expected increasing generations: %d then %d", first.Generation(), second.Generation())
	}
	if !builder.built[0].disposed {
		t.Fatal("expected previous model disposed")
	}
	if m.Live() != 1 {
		t.Fatalf("expected exactly one live model, got %d", m.Live())
	}
	if m.Current() != second {
		t.Fatal("expected second handle current")
	}
}

func TestStaleHandleRejectsOperations(t *testing.T) {
	m := NewManager(WithBuilder((&fakeBuilder{}).build))
	stale, err := m.Rebuild(model.NewArchitecture(2), "tanh", 0.03)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if _, err := m.Rebuild(model.NewArchitecture(3), "tanh", 0.03); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	x := mat.NewDense(1, 2, []float64{0.2, 0.4})
	y := mat.NewDense(1, 1, []float64{1})
	checks := map[string]error{}
	_, checks["train"] = stale.TrainEpoch(x, y)
	_, checks["predict"] = stale.Predict(x)
	_, checks["layers"] = stale.Layers()
	checks["refresh"] = stale.RefreshActivations(x)
	_, checks["probe"] = stale.Probe(0.1, 0.1)
	for op, err := range checks {
		var staleErr *model.StaleSessionError
		if !errors.As(err, &staleErr) {
			t.Fatalf("%s: expected StaleSessionError, got: %v", op, err)
		}
		if staleErr.Generation != stale.Generation() {
			t.Fatalf("%s: unexpected stale generation %d", op, staleErr.Generation)
		}
	}
}

func TestRebuildRejectsInvalidArchitectureAndKeepsCurrent(t *testing.T) {
	builder := &fakeBuilder{}
	m := NewManager(WithBuilder(builder.build))
	current, err := m.Rebuild(model.NewArchitecture(2), "tanh", 0.03)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if _, err := m.Rebuild(model.NewArchitecture(2, 0), "tanh", 0.03); !errors.As(err, new(*model.ArchitectureError)) {
		t.Fatalf("expected ArchitectureError, got: %v", err)
	}
	if len(builder.built) != 1 {
		t.Fatalf("expected no construction for invalid spec, built %d", len(builder.built))
	}
	builder.fail = errors.New("boom")
	if _, err := m.Rebuild(model.NewArchitecture(3), "tanh", 0.03); err == nil {
		t.Fatal("expected build failure")
	}
	if err := current.Validate(); err != nil {
		t.Fatalf("expected previous session still current: %v", err)
	}
	if _, err := m.Rebuild(model.NewArchitecture(3), "swish", 0.03); err == nil {
		t.Fatal("expected unknown activation error")
	}
	if _, err := m.Rebuild(model.NewArchitecture(3), "tanh", 0); err == nil {
		t.Fatal("expected learning rate error")
	}
}

func TestVisualsMatchArchitecture(t *testing.T) {
	m := NewManager(WithBuilder((&fakeBuilder{}).build))
	cases := [][]int{{}, {1}, {4, 3}, {5, 2, 7}}
	for _, units := range cases {
		h, err := m.Rebuild(model.NewArchitecture(units...), "relu", 0.1)
		if err != nil {
			t.Fatalf("rebuild %v: %v", units, err)
		}
		visuals := h.Visuals()
		if len(visuals) != len(units)+1 {
			t.Fatalf("%v: expected %d visuals, got %d", units, len(units)+1, len(visuals))
		}
		for i, v := range visuals {
			want := 1
			if i < len(units) {
				want = units[i]
			}
			if v.NodeCount != want || len(v.Activations) != want {
				t.Fatalf("%v: layer %d has %d nodes and %d activations, want %d", units, i, v.NodeCount, len(v.Activations), want)
			}
			for _, a := range v.Activations {
				if a != 0 {
					t.Fatalf("%v: expected zeroed activations", units)
				}
			}
		}
	}
}

func TestProbeUpdatesVisualsInPlace(t *testing.T) {
	m := NewManager(WithBuilder((&fakeBuilder{}).build))
	h, err := m.Rebuild(model.NewArchitecture(3), "tanh", 0.03)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	p, err := h.Probe(0.25, 0.75)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if p != 0.25 {
		t.Fatalf("unexpected probe output %f", p)
	}
	visuals := h.Visuals()
	if visuals[0].Activations[2] != 2.25 || visuals[1].Activations[0] != 0.25 {
		t.Fatalf("unexpected probe activations: %+v", visuals)
	}
	visuals[0].Activations[0] = 99
	if h.Visuals()[0].Activations[0] == 99 {
		t.Fatal("expected Visuals to return a copy")
	}
}

func TestLayersDescribeWeightedLayers(t *testing.T) {
	m := NewManager(WithBuilder((&fakeBuilder{}).build))
	h, err := m.Rebuild(model.NewArchitecture(4, 3), "tanh", 0.03)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	layers, err := h.Layers()
	if err != nil {
		t.Fatalf("layers: %v", err)
	}
	if len(layers) != 3 {
		t.Fatalf("expected 3 weighted layers, got %d", len(layers))
	}
	r, c := layers[1].Weights.Dims()
	if layers[1].Units != 3 || r != 4 || c != 3 {
		t.Fatalf("unexpected middle layer: units=%d weights=%dx%d", layers[1].Units, r, c)
	}
}

func TestDisposeWaitsForInFlightOperation(t *testing.T) {
	gate := make(chan struct{})
	var first *fakeModel
	builds := 0
	m := NewManager(WithBuilder(func(cfg BuildConfig) (Model, error) {
		builds++
		fm := &fakeModel{hidden: cfg.Hidden}
		if builds == 1 {
			fm.gate = gate
			first = fm
		}
		return fm, nil
	}))
	h, err := m.Rebuild(model.NewArchitecture(2), "tanh", 0.03)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	x := mat.NewDense(1, 2, nil)
	y := mat.NewDense(1, 1, nil)
	trained := make(chan error, 1)
	go func() {
		_, err := h.TrainEpoch(x, y)
		trained <- err
	}()

	rebuilt := make(chan struct{})
	go func() {
		_, _ = m.Rebuild(model.NewArchitecture(3), "tanh", 0.03)
		close(rebuilt)
	}()

	close(gate)
	<-rebuilt
	if err := <-trained; err != nil && !model.IsStaleSession(err) {
		t.Fatalf("unexpected train error: %v", err)
	}
	if !first.disposed {
		t.Fatal("expected superseded model disposed")
	}
	if m.Live() != 1 {
		t.Fatalf("expected one live model, got %d", m.Live())
	}
}

func TestNetworkBuilderBuildsCompiledNetwork(t *testing.T) {
	m := NewManager(WithSeed(9))
	h, err := m.Rebuild(model.NewArchitecture(4, 3), "tanh", 0.1)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	x := mat.NewDense(4, 2, []float64{0.1, 0.1, 0.9, 0.9, 0.2, 0.1, 0.8, 0.9})
	y := mat.NewDense(4, 1, []float64{0, 1, 0, 1})
	loss, err := h.TrainEpoch(x, y)
	if err != nil {
		t.Fatalf("train epoch: %v", err)
	}
	if loss <= 0 {
		t.Fatalf("expected positive loss, got %f", loss)
	}
	if err := h.RefreshActivations(x); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	layers, err := h.Layers()
	if err != nil {
		t.Fatalf("layers: %v", err)
	}
	for i, layer := range layers {
		if layer.Weights == nil {
			t.Fatalf("layer %d: missing weights", i)
		}
	}
	m.Close()
	if m.Live() != 0 {
		t.Fatalf("expected no live models after close, got %d", m.Live())
	}
	if err := h.Validate(); !model.IsStaleSession(err) {
		t.Fatalf("expected stale after close, got: %v", err)
	}
}
