package render

import (
	"playground/internal/model"
	"playground/internal/nn"
)

type Node struct {
	Column     int     `json:"column"`
	Index      int     `json:"index"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Activation float64 `json:"activation"`
}

// Edge connects node From in column Column to node To in column Column+1.
type Edge struct {
	Column int     `json:"column"`
	From   int     `json:"from"`
	To     int     `json:"to"`
	Weight float64 `json:"weight"`
}

// NetworkLayout is the geometry of the network plane: one column per layer
// from the fixed input through the hidden layers to the single output.
type NetworkLayout struct {
	Columns [][]Node `json:"columns"`
	Edges   []Edge   `json:"edges"`
	// SkippedLayers lists weighted layers whose edges could not be drawn.
	SkippedLayers []int `json:"skipped_layers,omitempty"`
}

// EdgesBetween counts the edges drawn from column to column+1.
func (l NetworkLayout) EdgesBetween(column int) int {
	n := 0
	for _, e := range l.Edges {
		if e.Column == column {
			n++
		}
	}
	return n
}

// Layout positions nodes from the snapshot architecture and attaches edges
// from the session's live weights. A layer whose weights are missing or do
// not match the declared widths contributes no edges.
func (s *Synchronizer) Layout(snap Snapshot) NetworkLayout {
	cfg := s.surface()
	widths := snap.Architecture.Widths()
	out := NetworkLayout{Columns: make([][]Node, len(widths))}

	margin := nodeRadius * 2.0
	span := cfg.width - 2*margin
	for col, width := range widths {
		x := margin
		if len(widths) > 1 {
			x = margin + span*float64(col)/float64(len(widths)-1)
		}
		acts := columnActivations(snap, col, width)
		nodes := make([]Node, width)
		for i := range nodes {
			nodes[i] = Node{
				Column:     col,
				Index:      i,
				X:          x,
				Y:          cfg.height * float64(i+1) / float64(width+1),
				Activation: acts[i],
			}
		}
		out.Columns[col] = nodes
	}

	if snap.Session == nil {
		return out
	}
	layers, err := snap.Session.Layers()
	if err != nil {
		return out
	}
	for col := 0; col+1 < len(widths); col++ {
		if col >= len(layers) || layers[col].Weights == nil {
			out.SkippedLayers = append(out.SkippedLayers, col)
			continue
		}
		w := layers[col].Weights
		rows, cols := w.Dims()
		if rows != widths[col] || cols != widths[col+1] {
			out.SkippedLayers = append(out.SkippedLayers, col)
			continue
		}
		for from := 0; from < rows; from++ {
			for to := 0; to < cols; to++ {
				out.Edges = append(out.Edges, Edge{Column: col, From: from, To: to, Weight: w.At(from, to)})
			}
		}
	}
	return out
}

// columnActivations returns the activations for column col. The input column
// shows the probe coordinates when present; other columns read LayerVisuals
// and fall back to zeros when the visuals do not match the declared width.
func columnActivations(snap Snapshot, col, width int) []float64 {
	out := make([]float64, width)
	if col == 0 {
		if snap.Probe != nil && width == model.InputWidth {
			out[0] = nn.ScaleValue(snap.Probe.X, 1, 0)
			out[1] = nn.ScaleValue(snap.Probe.Y, 1, 0)
		}
		return out
	}
	if col-1 < len(snap.Visuals) {
		visual := snap.Visuals[col-1]
		if visual.NodeCount == width && len(visual.Activations) == width {
			copy(out, visual.Activations)
		}
	}
	return out
}

// NetworkPlane draws edges colored by weight sign and sized by magnitude,
// then nodes colored by activation.
func (s *Synchronizer) NetworkPlane(canvas Canvas, snap Snapshot) error {
	cfg := s.surface()
	layout := s.Layout(snap)
	canvas.Rect(0, 0, cfg.width, cfg.height, Style{Fill: colorBackground})

	weights := make([]float64, len(layout.Edges))
	for i, e := range layout.Edges {
		weights[i] = e.Weight
	}
	maxAbs := nn.MaxAbs(weights)
	for _, e := range layout.Edges {
		from := layout.Columns[e.Column][e.From]
		to := layout.Columns[e.Column+1][e.To]
		canvas.Line(from.X, from.Y, to.X, to.Y, WeightStyle(e.Weight, maxAbs))
	}
	for _, column := range layout.Columns {
		for _, node := range column {
			canvas.Circle(node.X, node.Y, nodeRadius, Style{
				Fill:        ActivationColor(node.Activation),
				Stroke:      colorAxis,
				StrokeWidth: 1,
			})
		}
	}
	return nil
}
