package nn

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultInputWidth = 2
	DefaultBatchSize  = 32
	DefaultActivation = "tanh"
	outputActivation  = "sigmoid"
)

var (
	ErrDisposed    = errors.New("network disposed")
	ErrNotCompiled = errors.New("network not compiled")
)

// Spec describes a feed-forward binary classifier: InputWidth inputs, one
// dense layer per Hidden entry using Activation, and a single sigmoid output.
type Spec struct {
	InputWidth int
	Hidden     []int
	Activation string
	Seed       int64
}

type CompileOptions struct {
	Loss         string
	Optimizer    string
	LearningRate float64
	BatchSize    int
}

type dense struct {
	weights *mat.Dense // fan-in x fan-out
	bias    []float64
	act     Activation
}

// Network is not safe for concurrent use.
type Network struct {
	inputWidth int
	layers     []*dense
	rng        *rand.Rand

	loss      Loss
	opt       Optimizer
	batchSize int
	compiled  bool
	disposed  bool
}

func New(spec Spec) (*Network, error) {
	if spec.InputWidth == 0 {
		spec.InputWidth = DefaultInputWidth
	}
	if spec.Activation == "" {
		spec.Activation = DefaultActivation
	}
	if spec.InputWidth < 0 {
		return nil, errors.Errorf("input width must be > 0 (got %d)", spec.InputWidth)
	}
	hiddenAct, err := GetActivation(spec.Activation)
	if err != nil {
		return nil, err
	}
	outAct, err := GetActivation(outputActivation)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(spec.Seed))
	n := &Network{inputWidth: spec.InputWidth, rng: rng}
	fanIn := spec.InputWidth
	for i, units := range spec.Hidden {
		if units < 1 {
			return nil, errors.Errorf("hidden layer %d: units must be >= 1 (got %d)", i, units)
		}
		n.layers = append(n.layers, newDense(rng, fanIn, units, hiddenAct))
		fanIn = units
	}
	n.layers = append(n.layers, newDense(rng, fanIn, 1, outAct))
	return n, nil
}

// newDense uses Glorot-uniform weights and zero biases.
func newDense(rng *rand.Rand, fanIn, fanOut int, act Activation) *dense {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	data := make([]float64, fanIn*fanOut)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return &dense{
		weights: mat.NewDense(fanIn, fanOut, data),
		bias:    make([]float64, fanOut),
		act:     act,
	}
}

func (n *Network) Compile(opts CompileOptions) error {
	if n.disposed {
		return ErrDisposed
	}
	if opts.Loss == "" {
		opts.Loss = LossBinaryCrossEntropy
	}
	loss, err := GetLoss(opts.Loss)
	if err != nil {
		return err
	}
	opt, err := NewOptimizer(opts.Optimizer, opts.LearningRate)
	if err != nil {
		return err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	n.loss = loss
	n.opt = opt
	n.batchSize = opts.BatchSize
	n.compiled = true
	return nil
}

// LayerCount returns the number of weighted layers (hidden plus output).
func (n *Network) LayerCount() int {
	return len(n.layers)
}

// LayerWeights returns a copy of the weight matrix feeding layer i, shaped
// fan-in x fan-out. Layer 0 is the first hidden layer.
func (n *Network) LayerWeights(i int) (*mat.Dense, bool) {
	if n.disposed || i < 0 || i >= len(n.layers) {
		return nil, false
	}
	return mat.DenseCopyOf(n.layers[i].weights), true
}

func (n *Network) Dispose() {
	n.layers = nil
	n.opt = nil
	n.compiled = false
	n.disposed = true
}

func (n *Network) Disposed() bool {
	return n.disposed
}

// Predict returns the output probability for every input row.
func (n *Network) Predict(x *mat.Dense) ([]float64, error) {
	if err := n.checkInput(x); err != nil {
		return nil, err
	}
	_, as := n.forward(x)
	out := as[len(as)-1]
	rows, _ := out.Dims()
	probs := make([]float64, rows)
	for r := 0; r < rows; r++ {
		probs[r] = out.At(r, 0)
	}
	return probs, nil
}

// MeanActivations returns, for every weighted layer, the mean activation of
// each unit across the input rows.
func (n *Network) MeanActivations(x *mat.Dense) ([][]float64, error) {
	if err := n.checkInput(x); err != nil {
		return nil, err
	}
	_, as := n.forward(x)
	rows, _ := x.Dims()
	out := make([][]float64, 0, len(n.layers))
	for _, a := range as[1:] {
		_, cols := a.Dims()
		means := make([]float64, cols)
		for c := 0; c < cols; c++ {
			sum := 0.0
			for r := 0; r < rows; r++ {
				sum += a.At(r, c)
			}
			means[c] = sum / float64(rows)
		}
		out = append(out, means)
	}
	return out, nil
}

// TrainEpoch performs one shuffled mini-batch pass over x and y and returns
// the mean per-sample loss observed during the pass. A non-finite loss is
// returned as a value, not an error.
func (n *Network) TrainEpoch(x, y *mat.Dense) (float64, error) {
	if !n.compiled {
		if n.disposed {
			return 0, ErrDisposed
		}
		return 0, ErrNotCompiled
	}
	if err := n.checkInput(x); err != nil {
		return 0, err
	}
	rows, cols := x.Dims()
	if err := checkLabels(y, rows); err != nil {
		return 0, err
	}

	order := n.rng.Perm(rows)
	total := 0.0
	for start := 0; start < rows; start += n.batchSize {
		end := start + n.batchSize
		if end > rows {
			end = rows
		}
		size := end - start
		bx := mat.NewDense(size, cols, nil)
		by := mat.NewDense(size, 1, nil)
		for i, idx := range order[start:end] {
			bx.SetRow(i, x.RawRowView(idx))
			by.Set(i, 0, y.At(idx, 0))
		}
		batchLoss, err := n.step(bx, by)
		if err != nil {
			return 0, err
		}
		total += batchLoss * float64(size)
	}
	return total / float64(rows), nil
}

func (n *Network) step(x, y *mat.Dense) (float64, error) {
	gradW, gradB, loss := n.gradients(x, y)
	params := make([][]float64, 0, 2*len(n.layers))
	grads := make([][]float64, 0, 2*len(n.layers))
	for i, l := range n.layers {
		params = append(params, l.weights.RawMatrix().Data, l.bias)
		grads = append(grads, gradW[i].RawMatrix().Data, gradB[i])
	}
	if err := n.opt.Step(params, grads); err != nil {
		return 0, err
	}
	return loss, nil
}

// gradients runs forward and backward passes over one batch and returns the
// parameter gradients of the mean batch loss together with that loss.
func (n *Network) gradients(x, y *mat.Dense) ([]*mat.Dense, [][]float64, float64) {
	zs, as := n.forward(x)
	rows, _ := x.Dims()
	last := len(n.layers) - 1
	out := as[last+1]

	loss := 0.0
	delta := mat.NewDense(rows, 1, nil)
	for r := 0; r < rows; r++ {
		p, target := out.At(r, 0), y.At(r, 0)
		loss += n.loss.Value(p, target)
		var d float64
		if n.loss.SigmoidDelta != nil && n.layers[last].act.Name == outputActivation {
			d = n.loss.SigmoidDelta(p, target)
		} else {
			d = n.loss.Gradient(p, target) * n.layers[last].act.Derivative(zs[last].At(r, 0))
		}
		delta.Set(r, 0, d/float64(rows))
	}

	gradW := make([]*mat.Dense, len(n.layers))
	gradB := make([][]float64, len(n.layers))
	for i := last; i >= 0; i-- {
		l := n.layers[i]
		fanIn, fanOut := l.weights.Dims()
		gw := mat.NewDense(fanIn, fanOut, nil)
		gw.Mul(as[i].T(), delta)
		gradW[i] = gw

		gb := make([]float64, fanOut)
		for r := 0; r < rows; r++ {
			for c, v := range delta.RawRowView(r) {
				gb[c] += v
			}
		}
		gradB[i] = gb

		if i == 0 {
			break
		}
		prev := n.layers[i-1]
		next := mat.NewDense(rows, fanIn, nil)
		next.Mul(delta, l.weights.T())
		z := zs[i-1]
		next.Apply(func(r, c int, v float64) float64 {
			return v * prev.act.Derivative(z.At(r, c))
		}, next)
		delta = next
	}
	return gradW, gradB, loss / float64(rows)
}

// forward returns the pre-activations of every weighted layer and the
// activations of every layer, input included.
func (n *Network) forward(x *mat.Dense) ([]*mat.Dense, []*mat.Dense) {
	rows, _ := x.Dims()
	zs := make([]*mat.Dense, 0, len(n.layers))
	as := make([]*mat.Dense, 0, len(n.layers)+1)
	as = append(as, x)
	a := x
	for _, l := range n.layers {
		_, fanOut := l.weights.Dims()
		z := mat.NewDense(rows, fanOut, nil)
		z.Mul(a, l.weights)
		for r := 0; r < rows; r++ {
			row := z.RawRowView(r)
			for c := range row {
				row[c] += l.bias[c]
			}
		}
		act := l.act
		next := mat.NewDense(rows, fanOut, nil)
		next.Apply(func(_, _ int, v float64) float64 { return act.Func(v) }, z)
		zs = append(zs, z)
		as = append(as, next)
		a = next
	}
	return zs, as
}

func (n *Network) checkInput(x *mat.Dense) error {
	if n.disposed {
		return ErrDisposed
	}
	if x == nil {
		return errors.New("input is nil")
	}
	rows, cols := x.Dims()
	if rows == 0 {
		return errors.New("input has no rows")
	}
	if cols != n.inputWidth {
		return errors.Errorf("input width %d does not match network input width %d", cols, n.inputWidth)
	}
	return nil
}

func checkLabels(y *mat.Dense, rows int) error {
	if y == nil {
		return errors.New("labels are nil")
	}
	r, c := y.Dims()
	if r != rows || c != 1 {
		return errors.Errorf("labels shape %dx%d does not match %d rows", r, c, rows)
	}
	return nil
}
