package platform

import (
	"github.com/pkg/errors"

	"playground/internal/model"
	"playground/internal/nn"
)

const (
	DefaultLearningRate = 0.03
	DefaultEpochs       = 100
)

// ErrInvalidSettings marks a rejected settings value.
var ErrInvalidSettings = errors.New("invalid settings")

// HiddenActivations are the activations a user may pick for hidden layers.
// The output layer is always sigmoid.
var HiddenActivations = []string{"sigmoid", "tanh", "relu"}

// DefaultHidden is the hidden architecture a fresh playground starts with.
var DefaultHidden = []int{5, 4}

// Settings are the user-adjustable training knobs outside the architecture.
type Settings struct {
	Shape        model.Shape `json:"shape"`
	Activation   string      `json:"activation"`
	LearningRate float64     `json:"learning_rate"`
	Optimizer    string      `json:"optimizer"`
	Epochs       int         `json:"epochs"`
}

// SettingsPatch carries the fields of one settings update. Nil fields are
// left unchanged.
type SettingsPatch struct {
	Activation   *string
	LearningRate *float64
	Epochs       *int
}

func (p SettingsPatch) apply(s *Settings) {
	if p.Activation != nil {
		s.Activation = *p.Activation
	}
	if p.LearningRate != nil {
		s.LearningRate = *p.LearningRate
	}
	if p.Epochs != nil {
		s.Epochs = *p.Epochs
	}
}

func DefaultSettings() Settings {
	return Settings{
		Shape:        model.ShapeConcentric,
		Activation:   nn.DefaultActivation,
		LearningRate: DefaultLearningRate,
		Optimizer:    nn.OptimizerAdam,
		Epochs:       DefaultEpochs,
	}
}

// withDefaults fills zero fields from DefaultSettings.
func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.Shape == "" {
		s.Shape = def.Shape
	}
	if s.Activation == "" {
		s.Activation = def.Activation
	}
	if s.LearningRate == 0 {
		s.LearningRate = def.LearningRate
	}
	if s.Optimizer == "" {
		s.Optimizer = def.Optimizer
	}
	if s.Epochs == 0 {
		s.Epochs = def.Epochs
	}
	return s
}

func (s Settings) Validate() error {
	if _, err := model.ParseShape(string(s.Shape)); err != nil {
		return errors.Wrap(ErrInvalidSettings, err.Error())
	}
	if !isHiddenActivation(s.Activation) {
		return errors.Wrapf(ErrInvalidSettings, "activation %q: want one of %v", s.Activation, HiddenActivations)
	}
	if _, err := nn.GetActivation(s.Activation); err != nil {
		return errors.Wrapf(ErrInvalidSettings, "activation %q: %v", s.Activation, err)
	}
	if !nn.Finite(s.LearningRate) || s.LearningRate <= 0 {
		return errors.Wrapf(ErrInvalidSettings, "learning rate must be > 0 (got %v)", s.LearningRate)
	}
	if _, err := nn.NewOptimizer(s.Optimizer, s.LearningRate); err != nil {
		return errors.Wrapf(ErrInvalidSettings, "optimizer %q: %v", s.Optimizer, err)
	}
	if s.Epochs <= 0 {
		return errors.Wrapf(ErrInvalidSettings, "epochs must be > 0 (got %d)", s.Epochs)
	}
	return nil
}

func isHiddenActivation(name string) bool {
	for _, allowed := range HiddenActivations {
		if name == allowed {
			return true
		}
	}
	return false
}
