// Package render draws counting overlays onto RGBA frames.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/andresmejia3/tally/internal/counter"
	"github.com/andresmejia3/tally/internal/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	BoxColor  = color.RGBA{0, 255, 0, 255}
	LineColor = color.RGBA{255, 0, 0, 255}
	TextColor = color.RGBA{255, 255, 255, 255}
	backdrop  = color.RGBA{0, 0, 0, 160}
)

// Annotation is one mapped detection to draw.
type Annotation struct {
	Box        types.Box
	Category   counter.Category
	Confidence float64
}

// Renderer draws boxes, labels, the counting line and the status text.
type Renderer struct {
	Face      font.Face
	Thickness int
}

// New returns a renderer using the built-in 7x13 bitmap face.
func New() *Renderer {
	return &Renderer{Face: basicfont.Face7x13, Thickness: 2}
}

// Label formats a detection caption, e.g. "car 87%".
func Label(c counter.Category, confidence float64) string {
	return fmt.Sprintf("%s %d%%", c, int(confidence*100))
}

// StatusLine joins "{category}: {tally}" for each category in order.
func StatusLine(categories []counter.Category, tallies map[counter.Category]int) string {
	parts := make([]string, 0, len(categories))
	for _, c := range categories {
		parts = append(parts, fmt.Sprintf("%s: %d", c, tallies[c]))
	}
	return strings.Join(parts, "  ")
}

// Draw overlays everything for one frame in place.
func (r *Renderer) Draw(img *image.RGBA, anns []Annotation, lineY int, status string) {
	for _, a := range anns {
		rect := toRect(a.Box)
		r.strokeRect(img, rect, BoxColor)
		r.text(img, Label(a.Category, a.Confidence), rect.Min.X, rect.Min.Y-6)
	}

	b := img.Bounds()
	r.fill(img, image.Rect(b.Min.X, lineY, b.Max.X, lineY+r.Thickness), LineColor)

	if status != "" {
		r.text(img, status, b.Min.X+10, b.Min.Y+30)
	}
}

func toRect(b types.Box) image.Rectangle {
	return image.Rect(
		int(math.Round(b.X1)), int(math.Round(b.Y1)),
		int(math.Round(b.X2)), int(math.Round(b.Y2)),
	)
}

func (r *Renderer) fill(img *image.RGBA, rect image.Rectangle, c color.Color) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	draw.Draw(img, rect, image.NewUniform(c), image.Point{}, draw.Src)
}

func (r *Renderer) strokeRect(img *image.RGBA, rect image.Rectangle, c color.Color) {
	t := r.Thickness
	r.fill(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+t), c)
	r.fill(img, image.Rect(rect.Min.X, rect.Max.Y-t, rect.Max.X, rect.Max.Y), c)
	r.fill(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+t, rect.Max.Y), c)
	r.fill(img, image.Rect(rect.Max.X-t, rect.Min.Y, rect.Max.X, rect.Max.Y), c)
}

// text draws s with its baseline at (x, y) on a translucent backdrop.
func (r *Renderer) text(img *image.RGBA, s string, x, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(TextColor),
		Face: r.Face,
		Dot:  fixed.P(x, y),
	}
	bounds, _ := d.BoundString(s)
	bg := image.Rect(bounds.Min.X.Floor()-2, bounds.Min.Y.Floor()-2, bounds.Max.X.Ceil()+2, bounds.Max.Y.Ceil()+2)
	draw.Draw(img, bg.Intersect(img.Bounds()), image.NewUniform(backdrop), image.Point{}, draw.Over)
	d.DrawString(s)
}
