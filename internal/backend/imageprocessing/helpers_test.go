package imageprocessing

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: 0x80, A: 0xff})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func encodeGIF(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("gif encode: %v", err)
	}
	return buf.Bytes()
}

func pngChunk(chunkType string, payload []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(payload)))
	buf.WriteString(chunkType)
	buf.Write(payload)
	crc := crc32.ChecksumIEEE(append([]byte(chunkType), payload...))
	_ = binary.Write(&buf, binary.BigEndian, crc)
	return buf.Bytes()
}

// withTextChunk inserts a tEXt chunk right after IHDR.
func withTextChunk(t *testing.T, data []byte, keyword, text string) []byte {
	t.Helper()
	ihdrEnd := 8 + 12 + 13
	var out bytes.Buffer
	out.Write(data[:ihdrEnd])
	out.Write(pngChunk("tEXt", append(append([]byte(keyword), 0), []byte(text)...)))
	out.Write(data[ihdrEnd:])
	return out.Bytes()
}

// declaredOnlyPNG builds a PNG whose IHDR declares w x h but carries no pixel data.
func declaredOnlyPNG(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 2 // truecolor
	var buf bytes.Buffer
	buf.Write(pngSignature)
	buf.Write(pngChunk("IHDR", ihdr))
	buf.Write(pngChunk("IDAT", []byte{0x78, 0x9c, 0x03, 0x00, 0x00, 0x00, 0x00, 0x01}))
	buf.Write(pngChunk("IEND", nil))
	return buf.Bytes()
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func newTestSniffer(t *testing.T) *Sniffer {
	t.Helper()
	commands, err := DefaultRegistry.CreateAll(DefaultCommandConfigs())
	if err != nil {
		t.Fatalf("CreateAll: %v", err)
	}
	return NewSniffer(DefaultLimits(), commands)
}
