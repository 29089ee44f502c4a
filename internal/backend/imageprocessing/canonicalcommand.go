package imageprocessing

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// CanonicalPixelCommand converts any decoded pixel layout (paletted, gray,
// YCbCr, 16-bit, with alpha) into opaque 8-bit RGBA. Transparent areas are
// flattened onto the configured background color.
type CanonicalPixelCommand struct {
	name       string
	background color.RGBA
}

// NewCanonicalPixelCommand creates the command; optional param "background" ("#rrggbb", default white)
func NewCanonicalPixelCommand(params map[string]any) (Command, error) {
	bg, err := ParseHexColor(GetStringParam(params, "background", "#ffffff"))
	if err != nil {
		return nil, err
	}
	return &CanonicalPixelCommand{
		name:       "CanonicalPixelCommand",
		background: bg,
	}, nil
}

// Name returns the command name
func (c *CanonicalPixelCommand) Name() string {
	return c.name
}

func (c *CanonicalPixelCommand) Execute(ctx context.Context, frame *Frame) (*Frame, error) {
	b := frame.Image.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: c.background}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), frame.Image, b.Min, draw.Over)

	return &Frame{
		Image:  dst,
		Format: frame.Format,
		Raw:    frame.Raw,
	}, nil
}

func init() {
	// Register the command in the default registry
	if err := DefaultRegistry.Register("CanonicalPixelCommand", NewCanonicalPixelCommand); err != nil {
		panic(fmt.Sprintf("failed to register CanonicalPixelCommand: %v", err))
	}
}
