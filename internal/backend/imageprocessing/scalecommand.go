package imageprocessing

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"golang.org/x/image/draw"
)

// ScaleDownCommand shrinks images that exceed a bounding box, preserving the
// aspect ratio. Smaller images pass through untouched; it never upscales.
type ScaleDownCommand struct {
	name      string
	maxWidth  int
	maxHeight int
}

// NewScaleDownCommand creates the command from params "maxWidth" and "maxHeight".
func NewScaleDownCommand(params map[string]any) (Command, error) {
	maxWidth := GetIntParam(params, "maxWidth", 0)
	maxHeight := GetIntParam(params, "maxHeight", 0)
	if maxWidth <= 0 {
		return nil, fmt.Errorf("maxWidth must be positive, got %d", maxWidth)
	}
	if maxHeight <= 0 {
		return nil, fmt.Errorf("maxHeight must be positive, got %d", maxHeight)
	}
	return &ScaleDownCommand{
		name:      "ScaleDownCommand",
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
	}, nil
}

func (c *ScaleDownCommand) Name() string {
	return c.name
}

func (c *ScaleDownCommand) Execute(ctx context.Context, frame *Frame) (*Frame, error) {
	b := frame.Image.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), c.maxWidth, c.maxHeight)
	if w == b.Dx() && h == b.Dy() {
		return frame, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slog.Debug("ScaleDownCommand: scaling image",
		"original_width", b.Dx(), "original_height", b.Dy(),
		"scaled_width", w, "scaled_height", h)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), frame.Image, b, draw.Src, nil)
	return &Frame{
		Image:  dst,
		Format: frame.Format,
		Raw:    frame.Raw,
	}, nil
}

// fitWithin returns the largest size with the aspect ratio of w x h that fits
// the box, or w x h itself when it already fits.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	aspect := float64(w) / float64(h)
	if aspect > float64(maxW)/float64(maxH) {
		// wider than the box
		return maxW, max(1, int(float64(maxW)/aspect))
	}
	return max(1, int(float64(maxH)*aspect)), maxH
}

func init() {
	// Register the command in the default registry
	if err := DefaultRegistry.Register("ScaleDownCommand", NewScaleDownCommand); err != nil {
		panic(fmt.Sprintf("failed to register ScaleDownCommand: %v", err))
	}
}
