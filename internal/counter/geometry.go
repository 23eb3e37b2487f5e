package counter

import (
	"fmt"
	"math"

	"github.com/andresmejia3/tally/internal/types"
)

// Geometry is the processing resolution and counting line for a whole run.
// Every box that reaches the counter and every frame that reaches the renderer
// must be expressed in these dimensions.
type Geometry struct {
	SourceWidth  int
	SourceHeight int
	Width        int
	Height       int
	Scale        float64
	LineY        int
}

// ComputeGeometry down-scales the source to maxWidth (keeping aspect ratio) and places
// the counting line at lineFraction of the output height.
func ComputeGeometry(sourceWidth, sourceHeight, maxWidth int, lineFraction float64) (Geometry, error) {
	if math.IsNaN(lineFraction) || lineFraction < 0 || lineFraction > 1 {
		return Geometry{}, fmt.Errorf("%w: line fraction must be between 0.0 and 1.0, got %v", types.ErrInvalidConfiguration, lineFraction)
	}
	if maxWidth <= 0 {
		return Geometry{}, fmt.Errorf("%w: max width must be positive, got %d", types.ErrInvalidConfiguration, maxWidth)
	}
	if sourceWidth <= 0 || sourceHeight <= 0 {
		return Geometry{}, fmt.Errorf("%w: invalid source dimensions %dx%d", types.ErrInvalidConfiguration, sourceWidth, sourceHeight)
	}

	g := Geometry{
		SourceWidth:  sourceWidth,
		SourceHeight: sourceHeight,
		Width:        sourceWidth,
		Height:       sourceHeight,
		Scale:        1.0,
	}
	if sourceWidth > maxWidth {
		g.Scale = float64(maxWidth) / float64(sourceWidth)
		g.Width = maxWidth
		g.Height = int(math.Round(float64(sourceHeight) * g.Scale))
		if g.Height < 1 {
			g.Height = 1
		}
	}

	g.LineY = int(math.Floor(float64(g.Height) * lineFraction))
	if g.LineY > g.Height-1 {
		g.LineY = g.Height - 1
	}
	if g.LineY < 0 {
		g.LineY = 0
	}
	return g, nil
}

// ScaleBox converts a box from source pixels to processing pixels.
func (g Geometry) ScaleBox(b types.Box) types.Box {
	if g.Scale == 1.0 {
		return b
	}
	return types.Box{
		X1: b.X1 * g.Scale,
		Y1: b.Y1 * g.Scale,
		X2: b.X2 * g.Scale,
		Y2: b.Y2 * g.Scale,
	}
}

// UnscaleBox converts a box from processing pixels back to source pixels.
func (g Geometry) UnscaleBox(b types.Box) types.Box {
	if g.Scale == 1.0 || g.Scale == 0 {
		return b
	}
	return types.Box{
		X1: b.X1 / g.Scale,
		Y1: b.Y1 / g.Scale,
		X2: b.X2 / g.Scale,
		Y2: b.Y2 / g.Scale,
	}
}

// FrameSize is the byte length of one RGBA frame at processing resolution.
func (g Geometry) FrameSize() int {
	return g.Width * g.Height * 4
}
