package render

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// SVGCanvas renders primitives into a standalone SVG document.
type SVGCanvas struct {
	width, height float64
	body          bytes.Buffer
}

func NewSVGCanvas(width, height float64) *SVGCanvas {
	return &SVGCanvas{width: width, height: height}
}

func (c *SVGCanvas) Circle(cx, cy, r float64, style Style) {
	fmt.Fprintf(&c.body, `<circle cx="%s" cy="%s" r="%s"%s/>`+"\n", num(cx), num(cy), num(r), attrs(style))
}

// Plus draws a cross of two strokes; a plus has no fill so the fill color
// is used as the stroke when no stroke is given.
func (c *SVGCanvas) Plus(cx, cy, size float64, style Style) {
	if style.Stroke == "" {
		style.Stroke = style.Fill
	}
	style.Fill = ""
	if style.StrokeWidth == 0 {
		style.StrokeWidth = 2
	}
	fmt.Fprintf(&c.body, `<path d="M%s %sH%sM%s %sV%s"%s/>`+"\n",
		num(cx-size), num(cy), num(cx+size), num(cx), num(cy-size), num(cy+size), attrs(style))
}

func (c *SVGCanvas) Line(x1, y1, x2, y2 float64, style Style) {
	fmt.Fprintf(&c.body, `<line x1="%s" y1="%s" x2="%s" y2="%s"%s/>`+"\n", num(x1), num(y1), num(x2), num(y2), attrs(style))
}

func (c *SVGCanvas) Rect(x, y, w, h float64, style Style) {
	fmt.Fprintf(&c.body, `<rect x="%s" y="%s" width="%s" height="%s"%s/>`+"\n", num(x), num(y), num(w), num(h), attrs(style))
}

func (c *SVGCanvas) WriteTo(w io.Writer) (int64, error) {
	var doc bytes.Buffer
	fmt.Fprintf(&doc, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="0 0 %s %s">`+"\n",
		num(c.width), num(c.height), num(c.width), num(c.height))
	doc.Write(c.body.Bytes())
	doc.WriteString("</svg>\n")
	return doc.WriteTo(w)
}

func (c *SVGCanvas) Bytes() []byte {
	var out bytes.Buffer
	_, _ = c.WriteTo(&out)
	return out.Bytes()
}

func attrs(style Style) string {
	var b bytes.Buffer
	fill := style.Fill
	if fill == "" {
		fill = "none"
	}
	fmt.Fprintf(&b, ` fill="%s"`, fill)
	if style.Stroke != "" {
		fmt.Fprintf(&b, ` stroke="%s"`, style.Stroke)
		if style.StrokeWidth > 0 {
			fmt.Fprintf(&b, ` stroke-width="%s"`, num(style.StrokeWidth))
		}
	}
	if style.Opacity > 0 && style.Opacity < 1 {
		fmt.Fprintf(&b, ` opacity="%s"`, num(style.Opacity))
	}
	return b.String()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
