package render

// Style is the paint applied to one primitive. Empty colors mean none.
type Style struct {
	Fill        string  `json:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"stroke_width,omitempty"`
	Opacity     float64 `json:"opacity,omitempty"`
}

// Canvas is the drawing capability both render passes target. Coordinates
// are in surface pixels with the origin at the top left.
type Canvas interface {
	Circle(cx, cy, r float64, style Style)
	Plus(cx, cy, size float64, style Style)
	Line(x1, y1, x2, y2 float64, style Style)
	Rect(x, y, w, h float64, style Style)
}

type PrimitiveKind string

const (
	KindCircle PrimitiveKind = "circle"
	KindPlus   PrimitiveKind = "plus"
	KindLine   PrimitiveKind = "line"
	KindRect   PrimitiveKind = "rect"
)

// Primitive is a recorded drawing call. Circle and plus use X, Y and R;
// lines use X, Y, X2 and Y2; rects use X, Y, W and H.
type Primitive struct {
	Kind  PrimitiveKind `json:"kind"`
	X     float64       `json:"x"`
	Y     float64       `json:"y"`
	X2    float64       `json:"x2,omitempty"`
	Y2    float64       `json:"y2,omitempty"`
	W     float64       `json:"w,omitempty"`
	H     float64       `json:"h,omitempty"`
	R     float64       `json:"r,omitempty"`
	Style Style         `json:"style"`
}

// Recorder is a Canvas that keeps every call as a Primitive. Frames sent to
// clients carry recorded primitives.
type Recorder struct {
	Primitives []Primitive
}

func NewRecorder() *Recorder {
	return &Recorder{Primitives: make([]Primitive, 0, 256)}
}

func (r *Recorder) Circle(cx, cy, radius float64, style Style) {
	r.Primitives = append(r.Primitives, Primitive{Kind: KindCircle, X: cx, Y: cy, R: radius, Style: style})
}

func (r *Recorder) Plus(cx, cy, size float64, style Style) {
	r.Primitives = append(r.Primitives, Primitive{Kind: KindPlus, X: cx, Y: cy, R: size, Style: style})
}

func (r *Recorder) Line(x1, y1, x2, y2 float64, style Style) {
	r.Primitives = append(r.Primitives, Primitive{Kind: KindLine, X: x1, Y: y1, X2: x2, Y2: y2, Style: style})
}

func (r *Recorder) Rect(x, y, w, h float64, style Style) {
	r.Primitives = append(r.Primitives, Primitive{Kind: KindRect, X: x, Y: y, W: w, H: h, Style: style})
}

func (r *Recorder) Count(kind PrimitiveKind) int {
	n := 0
	for _, p := range r.Primitives {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

// Replay draws the recorded primitives onto another canvas in order.
func (r *Recorder) Replay(dst Canvas) {
	Replay(dst, r.Primitives)
}

func Replay(dst Canvas, primitives []Primitive) {
	for _, p := range primitives {
		switch p.Kind {
		case KindCircle:
			dst.Circle(p.X, p.Y, p.R, p.Style)
		case KindPlus:
			dst.Plus(p.X, p.Y, p.R, p.Style)
		case KindLine:
			dst.Line(p.X, p.Y, p.X2, p.Y2, p.Style)
		case KindRect:
			dst.Rect(p.X, p.Y, p.W, p.H, p.Style)
		}
	}
}
