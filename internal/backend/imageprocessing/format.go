package imageprocessing

import (
	"bytes"

	// Decoders for formats that are identified but never accepted.
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Format is the true image format as determined from the file contents.
type Format string

const (
	FormatPNG   Format = "PNG"
	FormatJPEG  Format = "JPEG"
	FormatOther Format = "OTHER"
)

// formatFromName maps an image.DecodeConfig format name to a Format.
func formatFromName(name string) Format {
	switch name {
	case "png":
		return FormatPNG
	case "jpeg":
		return FormatJPEG
	default:
		return FormatOther
	}
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// hasCorrectPngSignature checks whether the provided data begins with a valid PNG signature
func hasCorrectPngSignature(data []byte) bool {
	return len(data) >= len(pngSignature) && bytes.Equal(data[:len(pngSignature)], pngSignature)
}

// hasJpegSOI checks for the JPEG start-of-image marker
func hasJpegSOI(data []byte) bool {
	return len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF
}
