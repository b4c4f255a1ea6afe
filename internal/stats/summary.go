package stats

import (
	"math"

	"playground/internal/nn"
)

type LossSummary struct {
	Epochs   int     `json:"epochs"`
	Final    float64 `json:"final"`
	Min      float64 `json:"min"`
	MinEpoch int     `json:"min_epoch"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
	Std      float64 `json:"std"`
	Diverged bool    `json:"diverged"`
}

// SummarizeLoss reports the finite statistics of a loss history. Epochs
// counts every recorded entry, finite or not.
func SummarizeLoss(history []float64) LossSummary {
	out := LossSummary{Epochs: len(history)}
	values := make([]float64, 0, len(history))
	out.Min = math.Inf(1)
	out.Max = math.Inf(-1)
	for i, loss := range history {
		if !nn.Finite(loss) {
			out.Diverged = true
			continue
		}
		values = append(values, loss)
		out.Final = loss
		if loss < out.Min {
			out.Min = loss
			out.MinEpoch = i + 1
		}
		if loss > out.Max {
			out.Max = loss
		}
	}
	if len(values) == 0 {
		out.Min, out.Max = 0, 0
		return out
	}
	out.Mean, _ = nn.Avg(values)
	out.Std, _ = nn.Std(values)
	return out
}
