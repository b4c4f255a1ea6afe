package nn

import (
	"math"

	"github.com/pkg/errors"
)

const (
	OptimizerSGD  = "sgd"
	OptimizerAdam = "adam"
)

var ErrOptimizerNotFound = errors.New("optimizer not found")

// Optimizer applies one update to every parameter slot. params[i] and
// grads[i] must have equal length and keep the same slot order across calls.
type Optimizer interface {
	Name() string
	LearningRate() float64
	Step(params, grads [][]float64) error
}

func NewOptimizer(name string, learningRate float64) (Optimizer, error) {
	if !(learningRate > 0) || math.IsInf(learningRate, 0) {
		return nil, errors.Errorf("learning rate must be > 0 (got %v)", learningRate)
	}
	switch name {
	case "", OptimizerSGD:
		return &SGD{lr: learningRate}, nil
	case OptimizerAdam:
		return &Adam{lr: learningRate, beta1: 0.9, beta2: 0.999, epsilon: 1e-8}, nil
	default:
		return nil, errors.Wrap(ErrOptimizerNotFound, name)
	}
}

func ListOptimizers() []string {
	return []string{OptimizerAdam, OptimizerSGD}
}

type SGD struct {
	lr float64
}

func (o *SGD) Name() string          { return OptimizerSGD }
func (o *SGD) LearningRate() float64 { return o.lr }

func (o *SGD) Step(params, grads [][]float64) error {
	if err := checkSlots(params, grads); err != nil {
		return err
	}
	for i := range params {
		p, g := params[i], grads[i]
		for j := range p {
			p[j] -= o.lr * g[j]
		}
	}
	return nil
}

type Adam struct {
	lr      float64
	beta1   float64
	beta2   float64
	epsilon float64

	step int
	m    [][]float64
	v    [][]float64
}

func (o *Adam) Name() string          { return OptimizerAdam }
func (o *Adam) LearningRate() float64 { return o.lr }

func (o *Adam) Step(params, grads [][]float64) error {
	if err := checkSlots(params, grads); err != nil {
		return err
	}
	if o.m == nil {
		o.m = make([][]float64, len(params))
		o.v = make([][]float64, len(params))
		for i, p := range params {
			o.m[i] = make([]float64, len(p))
			o.v[i] = make([]float64, len(p))
		}
	}
	if len(o.m) != len(params) {
		return errors.Errorf("adam: slot count changed from %d to %d", len(o.m), len(params))
	}

	o.step++
	c1 := 1 - math.Pow(o.beta1, float64(o.step))
	c2 := 1 - math.Pow(o.beta2, float64(o.step))
	for i := range params {
		p, g, m, v := params[i], grads[i], o.m[i], o.v[i]
		for j := range p {
			m[j] = o.beta1*m[j] + (1-o.beta1)*g[j]
			v[j] = o.beta2*v[j] + (1-o.beta2)*g[j]*g[j]
			mHat := m[j] / c1
			vHat := v[j] / c2
			p[j] -= o.lr * mHat / (math.Sqrt(vHat) + o.epsilon)
		}
	}
	return nil
}

func checkSlots(params, grads [][]float64) error {
	if len(params) != len(grads) {
		return errors.Errorf("optimizer: %d parameter slots but %d gradient slots", len(params), len(grads))
	}
	for i := range params {
		if len(params[i]) != len(grads[i]) {
			return errors.Errorf("optimizer: slot %d size mismatch %d != %d", i, len(params[i]), len(grads[i]))
		}
	}
	return nil
}
