package imageprocessing

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
)

// Reason names the check an image failed.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonFileTooLarge  Reason = "file_too_large"
	ReasonUnreadable    Reason = "unreadable"
	ReasonUnidentified  Reason = "unidentified_format"
	ReasonPixelLimit    Reason = "pixel_limit"
	ReasonAspectRatio   Reason = "aspect_ratio"
	ReasonCorrupt       Reason = "corrupt_structure"
	ReasonDecodeFailed  Reason = "decode_failed"
	ReasonNormalizeFail Reason = "normalize_failed"
	ReasonCancelled     Reason = "cancelled"
)

// IsAttackShaped reports whether the reason indicates a resource exhaustion
// attempt rather than a merely broken file.
func (r Reason) IsAttackShaped() bool {
	switch r {
	case ReasonFileTooLarge, ReasonPixelLimit, ReasonAspectRatio:
		return true
	}
	return false
}

// Limits bounds the work the sniffer is willing to do for one file.
type Limits struct {
	MaxFileBytes   int64
	MaxPixels      int64
	MaxAspectRatio float64
	JPEGQuality    int
}

// DefaultLimits returns 10 MiB, 25 megapixels, 100:1 and JPEG quality 90.
func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes:   10 << 20,
		MaxPixels:      25_000_000,
		MaxAspectRatio: 100,
		JPEGQuality:    90,
	}
}

// Result is the outcome of sniffing one file. OK is true only when the file is
// a structurally valid raster image within all limits; Format OTHER with OK
// set means the file is a recognised image the guestbook does not accept.
type Result struct {
	OK     bool
	Format Format
	Width  int
	Height int
	Reason Reason
	Err    error

	normalized []byte
}

// Normalized returns the re-encoded, metadata-free bytes (nil for OTHER or failures).
func (r Result) Normalized() []byte {
	return r.normalized
}

func failed(reason Reason, err error) Result {
	return Result{Reason: reason, Err: err}
}

// Sniffer determines the true format and dimensions of an image file and
// produces a normalized re-encoding of it.
type Sniffer struct {
	limits   Limits
	pipeline *CommandInvoker
}

func NewSniffer(limits Limits, commands []Command) *Sniffer {
	if limits.JPEGQuality <= 0 || limits.JPEGQuality > 100 {
		limits.JPEGQuality = DefaultLimits().JPEGQuality
	}
	return &Sniffer{
		limits:   limits,
		pipeline: NewCommandInvoker(commands),
	}
}

// Inspect runs every check on the file at path without modifying it. The
// normalized bytes are carried in the result for the caller to commit.
func (s *Sniffer) Inspect(ctx context.Context, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		return failed(ReasonUnreadable, err)
	}
	if info.Size() > s.limits.MaxFileBytes {
		return failed(ReasonFileTooLarge, fmt.Errorf("file size %d exceeds %d", info.Size(), s.limits.MaxFileBytes))
	}

	data, err := readBounded(path, s.limits.MaxFileBytes)
	if err != nil {
		return failed(ReasonFileTooLarge, err)
	}

	// Dimensions come from the header only; nothing pixel-sized is allocated yet.
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return failed(ReasonUnidentified, err)
	}
	res := Result{Format: formatFromName(name), Width: cfg.Width, Height: cfg.Height}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		res.Reason, res.Err = ReasonCorrupt, fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
		return res
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > s.limits.MaxPixels {
		res.Reason, res.Err = ReasonPixelLimit, fmt.Errorf("%d pixels exceeds %d", pixels, s.limits.MaxPixels)
		return res
	}
	long, short := cfg.Width, cfg.Height
	if short > long {
		long, short = short, long
	}
	if float64(long)/float64(short) > s.limits.MaxAspectRatio {
		res.Reason, res.Err = ReasonAspectRatio, fmt.Errorf("aspect ratio %dx%d exceeds %.0f", cfg.Width, cfg.Height, s.limits.MaxAspectRatio)
		return res
	}

	if res.Format == FormatOther {
		// identified, harmless to report, never accepted
		res.OK = true
		return res
	}

	if err := ctx.Err(); err != nil {
		res.Reason, res.Err = ReasonCancelled, err
		return res
	}
	if err := verifyStructure(res.Format, data); err != nil {
		res.Reason, res.Err = ReasonCorrupt, err
		return res
	}

	if err := ctx.Err(); err != nil {
		res.Reason, res.Err = ReasonCancelled, err
		return res
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		res.Reason, res.Err = ReasonDecodeFailed, err
		return res
	}
	if b := img.Bounds(); b.Dx() != cfg.Width || b.Dy() != cfg.Height {
		res.Reason, res.Err = ReasonCorrupt, fmt.Errorf("decoded size %dx%d differs from header %dx%d", b.Dx(), b.Dy(), cfg.Width, cfg.Height)
		return res
	}

	frame, err := s.pipeline.Execute(ctx, &Frame{Image: img, Format: res.Format, Raw: data})
	if err != nil {
		res.Reason, res.Err = ReasonNormalizeFail, err
		return res
	}

	if err := ctx.Err(); err != nil {
		res.Reason, res.Err = ReasonCancelled, err
		return res
	}
	encoded, err := s.encode(frame)
	if err != nil {
		res.Reason, res.Err = ReasonNormalizeFail, err
		return res
	}

	b := frame.Image.Bounds()
	res.Width, res.Height = b.Dx(), b.Dy()
	res.OK = true
	res.normalized = encoded
	return res
}

// Commit writes the normalized encoding of a successful result over path.
// Results that carry no normalized bytes leave the file as it is.
func (s *Sniffer) Commit(path string, res Result) error {
	if !res.OK || res.normalized == nil {
		return nil
	}
	if err := ReplaceFile(path, res.normalized); err != nil {
		return fmt.Errorf("failed to write normalized image: %w", err)
	}
	return nil
}

func (s *Sniffer) encode(frame *Frame) ([]byte, error) {
	var buf bytes.Buffer
	switch frame.Format {
	case FormatPNG:
		if err := png.Encode(&buf, frame.Image); err != nil {
			return nil, fmt.Errorf("failed to encode PNG: %w", err)
		}
	case FormatJPEG:
		if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: s.limits.JPEGQuality}); err != nil {
			return nil, fmt.Errorf("failed to encode JPEG: %w", err)
		}
	default:
		return nil, fmt.Errorf("cannot encode format %s", frame.Format)
	}
	return buf.Bytes(), nil
}

func readBounded(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close() // read-only handle
	}()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file grew beyond %d bytes while reading", limit)
	}
	return data, nil
}

// ReplaceFile atomically replaces path with data via a temporary sibling file.
func ReplaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".normalize-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
