package stats

import (
	"playground/internal/nn"
)

// PlotPoint is one sample of a loss curve. Epoch is 1-based.
type PlotPoint struct {
	Epoch int     `json:"epoch"`
	Value float64 `json:"value"`
}

// BuildLossPlot downsamples history to at most maxPoints by fixed stride.
// The last finite sample is always kept. Non-finite losses are skipped.
func BuildLossPlot(history []float64, maxPoints int) []PlotPoint {
	finite := make([]PlotPoint, 0, len(history))
	for i, loss := range history {
		if nn.Finite(loss) {
			finite = append(finite, PlotPoint{Epoch: i + 1, Value: loss})
		}
	}
	if maxPoints <= 0 || len(finite) <= maxPoints {
		return finite
	}
	if maxPoints == 1 {
		return finite[len(finite)-1:]
	}
	stride := (len(finite) + maxPoints - 2) / (maxPoints - 1)
	points := make([]PlotPoint, 0, maxPoints)
	for i := 0; i < len(finite)-1; i += stride {
		points = append(points, finite[i])
	}
	return append(points, finite[len(finite)-1])
}

// BuildAverageLossPlot averages several runs epoch by epoch. Runs shorter
// than the longest one stop contributing once exhausted.
func BuildAverageLossPlot(histories [][]float64) []PlotPoint {
	points := make([]PlotPoint, 0, 128)
	for epoch := 0; ; epoch++ {
		values := make([]float64, 0, len(histories))
		remaining := false
		for _, history := range histories {
			if epoch >= len(history) {
				continue
			}
			remaining = true
			if nn.Finite(history[epoch]) {
				values = append(values, history[epoch])
			}
		}
		if !remaining {
			break
		}
		if len(values) == 0 {
			continue
		}
		avg, _ := nn.Avg(values)
		points = append(points, PlotPoint{Epoch: epoch + 1, Value: avg})
	}
	return points
}

// MovingAverage smooths history with a trailing window. Non-finite losses
// are excluded from every window that covers them.
func MovingAverage(history []float64, window int) []PlotPoint {
	if window <= 1 {
		return BuildLossPlot(history, 0)
	}
	points := make([]PlotPoint, 0, len(history))
	for i := range history {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		values := make([]float64, 0, window)
		for _, loss := range history[start : i+1] {
			if nn.Finite(loss) {
				values = append(values, loss)
			}
		}
		if len(values) == 0 {
			continue
		}
		avg, _ := nn.Avg(values)
		points = append(points, PlotPoint{Epoch: i + 1, Value: avg})
	}
	return points
}
