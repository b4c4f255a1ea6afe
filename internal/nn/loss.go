package nn

import (
	"math"

	"github.com/pkg/errors"
)

const (
	LossBinaryCrossEntropy = "binary_crossentropy"
	LossMeanSquaredError   = "mean_squared_error"

	probabilityEpsilon = 1e-7
)

var ErrLossNotFound = errors.New("loss not found")

// Loss is a per-sample objective; the network averages it over a batch.
// Gradient is the derivative with respect to the prediction. SigmoidDelta,
// when set, is the derivative with respect to the pre-activation of a
// sigmoid output unit and replaces the chained Gradient.
type Loss struct {
	Name         string
	Value        func(predicted, target float64) float64
	Gradient     func(predicted, target float64) float64
	SigmoidDelta func(predicted, target float64) float64
}

func GetLoss(name string) (Loss, error) {
	switch name {
	case LossBinaryCrossEntropy:
		return Loss{
			Name:     name,
			Value:    binaryCrossEntropy,
			Gradient: binaryCrossEntropyGradient,
			SigmoidDelta: func(p, y float64) float64 {
				return p - y
			},
		}, nil
	case LossMeanSquaredError:
		return Loss{
			Name: name,
			Value: func(p, y float64) float64 {
				d := p - y
				return d * d
			},
			Gradient: func(p, y float64) float64 {
				return 2 * (p - y)
			},
		}, nil
	default:
		return Loss{}, errors.Wrap(ErrLossNotFound, name)
	}
}

func clipProbability(p float64) float64 {
	return Sat(p, 1-probabilityEpsilon, probabilityEpsilon)
}

func binaryCrossEntropy(p, y float64) float64 {
	pc := clipProbability(p)
	return -(y*math.Log(pc) + (1-y)*math.Log(1-pc))
}

func binaryCrossEntropyGradient(p, y float64) float64 {
	if math.IsNaN(p) {
		return p
	}
	if p < probabilityEpsilon || p > 1-probabilityEpsilon {
		return 0
	}
	return -(y / p) + (1-y)/(1-p)
}
