package render

import (
	"fmt"
	"math"

	"playground/internal/nn"
)

const (
	colorPositive   = "#f59322"
	colorNegative   = "#0877bd"
	colorBackground = "#ffffff"
	colorAxis       = "#999999"
	colorNeutral    = "#e8eaeb"
)

var (
	rgbPositive = [3]float64{245, 147, 34}
	rgbNegative = [3]float64{8, 119, 189}
	rgbNeutral  = [3]float64{232, 234, 235}
)

// ClassColor is the glyph color for a label.
func ClassColor(label int) string {
	if label == 1 {
		return colorPositive
	}
	return colorNegative
}

// WeightStyle colors an edge by the sign of w and scales its width and
// opacity by |w| relative to maxAbs.
func WeightStyle(w, maxAbs float64) Style {
	color := colorNegative
	if w >= 0 {
		color = colorPositive
	}
	strength := 0.0
	if maxAbs > 0 {
		strength = nn.Sat(math.Abs(w)/maxAbs, 1, 0)
	}
	return Style{
		Stroke:      color,
		StrokeWidth: 0.5 + 3.5*strength,
		Opacity:     0.15 + 0.85*strength,
	}
}

// ActivationColor blends from blue at -1 through gray at 0 to orange at 1.
// Non-finite values are drawn neutral.
func ActivationColor(a float64) string {
	if !nn.Finite(a) {
		return colorNeutral
	}
	a = nn.Sat(a, 1, -1)
	target := rgbPositive
	if a < 0 {
		target = rgbNegative
		a = -a
	}
	return blend(rgbNeutral, target, a)
}

// ProbabilityColor shades a grid cell toward the predicted class; p at 0.5
// is neutral.
func ProbabilityColor(p float64) string {
	return ActivationColor(nn.ScaleValue(nn.Sat(p, 1, 0), 1, 0))
}

func blend(from, to [3]float64, t float64) string {
	if !nn.Finite(t) {
		t = 0
	}
	t = nn.Sat(t, 1, 0)
	var c [3]int
	for i := range c {
		c[i] = int(math.Round(from[i] + (to[i]-from[i])*t))
	}
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}
