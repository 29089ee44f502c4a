package imageprocessing

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
)

// AutoOrientCommand applies the EXIF orientation tag to the pixels. It has to
// run before re-encoding, which drops the tag together with all other metadata.
type AutoOrientCommand struct {
	name string
}

// NewAutoOrientCommand creates a new orientation command; it takes no parameters
func NewAutoOrientCommand(params map[string]any) (Command, error) {
	return &AutoOrientCommand{name: "AutoOrientCommand"}, nil
}

// Name returns the command name
func (c *AutoOrientCommand) Name() string {
	return c.name
}

// Execute rotates or mirrors the frame so it displays upright without EXIF
func (c *AutoOrientCommand) Execute(ctx context.Context, frame *Frame) (*Frame, error) {
	if frame.Format != FormatJPEG {
		return frame, nil
	}

	orientation := readExifOrientation(frame.Raw)
	if orientation <= 1 || orientation > 8 {
		return frame, nil
	}

	slog.Debug("AutoOrientCommand: applying EXIF orientation",
		"orientation", orientation,
		"width", frame.Image.Bounds().Dx(),
		"height", frame.Image.Bounds().Dy())

	return &Frame{
		Image:  applyOrientation(frame.Image, orientation),
		Format: frame.Format,
		Raw:    frame.Raw,
	}, nil
}

// readExifOrientation returns the EXIF orientation (1..8), or 1 when absent or unreadable.
func readExifOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// toNRGBA copies img into a zero-origin NRGBA image.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return n
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// applyOrientation maps every source pixel to its destination for the given
// EXIF orientation. Orientations 5-8 swap width and height.
func applyOrientation(img image.Image, orientation int) image.Image {
	src := toNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()

	dw, dh := w, h
	if orientation >= 5 {
		dw, dh = h, w
	}
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))

	var mapPoint func(x, y int) (int, int)
	switch orientation {
	case 2: // mirror horizontal
		mapPoint = func(x, y int) (int, int) { return w - 1 - x, y }
	case 3: // rotate 180
		mapPoint = func(x, y int) (int, int) { return w - 1 - x, h - 1 - y }
	case 4: // mirror vertical
		mapPoint = func(x, y int) (int, int) { return x, h - 1 - y }
	case 5: // transpose
		mapPoint = func(x, y int) (int, int) { return y, x }
	case 6: // rotate 90 clockwise
		mapPoint = func(x, y int) (int, int) { return h - 1 - y, x }
	case 7: // transverse
		mapPoint = func(x, y int) (int, int) { return h - 1 - y, w - 1 - x }
	case 8: // rotate 90 counterclockwise
		mapPoint = func(x, y int) (int, int) { return y, w - 1 - x }
	default:
		return src
	}

	parallelRows(h, func(y int) {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for x := 0; x < w; x++ {
			dx, dy := mapPoint(x, y)
			o := dy*dst.Stride + dx*4
			copy(dst.Pix[o:o+4], row[x*4:x*4+4])
		}
	})
	return dst
}

func init() {
	// Register the command in the default registry
	if err := DefaultRegistry.Register("AutoOrientCommand", NewAutoOrientCommand); err != nil {
		panic(fmt.Sprintf("failed to register AutoOrientCommand: %v", err))
	}
}
