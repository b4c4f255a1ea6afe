package nn

import (
	"math"

	"github.com/pkg/errors"
)

// ScaleValue maps value from [min, max] to [-1, 1].
func ScaleValue(value, max, min float64) float64 {
	if max == min {
		return 0
	}
	return (value*2 - (max + min)) / (max - min)
}

// UnitScale maps value from [min, max] to [0, 1].
func UnitScale(value, max, min float64) float64 {
	if max == min {
		return 0.5
	}
	return (value - min) / (max - min)
}

// Sat clamps value to [min, max].
func Sat(value, max, min float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}

// Avg returns the arithmetic mean of values.
func Avg(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, errors.New("values must not be empty")
	}
	sum := 0.0
	for _, value := range values {
		sum += value
	}
	return sum / float64(len(values)), nil
}

// Std returns population standard deviation.
func Std(values []float64) (float64, error) {
	mean, err := Avg(values)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, value := range values {
		diff := mean - value
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values))), nil
}

func Finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}

// MaxAbs returns the largest magnitude in values, or 0 for an empty slice.
func MaxAbs(values []float64) float64 {
	out := 0.0
	for _, value := range values {
		if a := math.Abs(value); a > out {
			out = a
		}
	}
	return out
}

// PolarToCartesian converts (r, theta) to (x, y).
func PolarToCartesian(r, theta float64) (float64, float64) {
	return r * math.Cos(theta), r * math.Sin(theta)
}
