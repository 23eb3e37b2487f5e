package render

import (
	"image"
	"image/color"
	"testing"

	"github.com/andresmejia3/tally/internal/counter"
	"github.com/andresmejia3/tally/internal/types"
)

func TestLabel(t *testing.T) {
	tests := []struct {
		cat  counter.Category
		conf float64
		want string
	}{
		{counter.Car, 0.876, "car 87%"},
		{counter.Motorcycle, 1.0, "motorcycle 100%"},
		{counter.Bus, 0.4, "bus 40%"},
	}
	for _, tt := range tests {
		if got := Label(tt.cat, tt.conf); got != tt.want {
			t.Errorf("Label(%s, %v) = %q, want %q", tt.cat, tt.conf, got, tt.want)
		}
	}
}

func TestStatusLine(t *testing.T) {
	cats := []counter.Category{counter.Car, counter.Truck, counter.Bus, counter.Motorcycle}
	got := StatusLine(cats, map[counter.Category]int{counter.Car: 3, counter.Bus: 1})
	want := "car: 3  truck: 0  bus: 1  motorcycle: 0"
	if got != want {
		t.Errorf("StatusLine = %q, want %q", got, want)
	}
}

func TestDrawLineAndBox(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 120))
	r := New()

	anns := []Annotation{{
		Box:        types.Box{X1: 50, Y1: 60, X2: 100, Y2: 100},
		Category:   counter.Car,
		Confidence: 0.9,
	}}
	r.Draw(img, anns, 80, "car: 1")

	if got := img.RGBAAt(150, 80); got != LineColor {
		t.Errorf("line pixel = %v, want %v", got, LineColor)
	}
	if got := img.RGBAAt(150, 79); got == LineColor {
		t.Error("line drawn above lineY")
	}
	// Box edges (the line crosses the box, so sample away from it)
	if got := img.RGBAAt(50, 70); got != BoxColor {
		t.Errorf("left edge = %v, want %v", got, BoxColor)
	}
	if got := img.RGBAAt(75, 99); got != BoxColor {
		t.Errorf("bottom edge = %v, want %v", got, BoxColor)
	}
	// Interior untouched
	if got := img.RGBAAt(75, 70); got != (color.RGBA{}) {
		t.Errorf("interior = %v, want transparent", got)
	}
}

func TestDrawClipsOutOfBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	r := New()

	// Boxes partly or fully outside the frame must not panic
	anns := []Annotation{
		{Box: types.Box{X1: -10, Y1: -10, X2: 5, Y2: 5}, Category: counter.Bus},
		{Box: types.Box{X1: 100, Y1: 100, X2: 200, Y2: 200}, Category: counter.Truck},
	}
	r.Draw(img, anns, 19, "bus: 0")
}
