package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jo-hoe/guestbook/internal/backend/imageprocessing"
	"github.com/jo-hoe/guestbook/internal/common"
)

const headScanBytes = 1024

// extensionMime maps every accepted extension to the only MIME type it may
// be submitted with.
var extensionMime = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// AllowedExtensions returns the accepted extensions in display order.
func AllowedExtensions() []string {
	return []string{".jpeg", ".jpg", ".png"}
}

// AllowedMimeTypes returns the accepted MIME types in display order.
func AllowedMimeTypes() []string {
	return []string{"image/jpeg", "image/png"}
}

// Upload is one submitted file as claimed by the client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// FromFileHeader adapts a multipart file part.
func FromFileHeader(fh *multipart.FileHeader) Upload {
	return Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// Inspector verifies a written file. Inspect must not modify the file; Commit
// runs on the caller's goroutine once a result is accepted.
type Inspector interface {
	Inspect(ctx context.Context, path string) imageprocessing.Result
	Commit(path string, res imageprocessing.Result) error
}

type Config struct {
	Dir      string
	MinBytes int64
	MaxBytes int64
	// NullRunThreshold is the NUL run length in the first KiB that rejects
	// an upload; zero disables the check.
	NullRunThreshold int
	VerifyTimeout    time.Duration
	MaxConcurrent    int
}

func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		MinBytes:         100,
		MaxBytes:         10 << 20,
		NullRunThreshold: 256,
		VerifyTimeout:    5 * time.Second,
		MaxConcurrent:    4,
	}
}

// Gatekeeper decides whether an uploaded file becomes a stored image.
type Gatekeeper struct {
	cfg       Config
	inspector Inspector
	verifier  *verifier
	metrics   *common.Metrics
}

// NewGatekeeper creates the upload directory if needed.
func NewGatekeeper(cfg Config, inspector Inspector, metrics *common.Metrics) (*Gatekeeper, error) {
	if inspector == nil {
		return nil, errors.New("inspector is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("upload directory is required")
	}
	if cfg.MaxBytes <= 0 || cfg.MinBytes < 0 || cfg.MinBytes > cfg.MaxBytes {
		return nil, fmt.Errorf("invalid size bounds [%d, %d]", cfg.MinBytes, cfg.MaxBytes)
	}
	if cfg.VerifyTimeout <= 0 {
		return nil, fmt.Errorf("invalid verify timeout %s", cfg.VerifyTimeout)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	if metrics == nil {
		metrics = common.NewMetrics(nil)
	}
	return &Gatekeeper{
		cfg:       cfg,
		inspector: inspector,
		verifier:  newVerifier(cfg.MaxConcurrent, cfg.VerifyTimeout, metrics),
		metrics:   metrics,
	}, nil
}

// Dir is the directory accepted images are stored in.
func (g *Gatekeeper) Dir() string {
	return g.cfg.Dir
}

// Admit runs the upload through every check and returns the generated file
// name on acceptance. Rejections are *Rejection errors; no file is left
// behind for a rejected upload.
func (g *Gatekeeper) Admit(ctx context.Context, up Upload) (string, error) {
	name, err := g.admit(ctx, up)
	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			g.metrics.UploadRejections.WithLabelValues(string(rej.Reason)).Inc()
			if rej.AttackShaped() {
				slog.Warn("upload rejected", "reason", rej.Reason, "sniff_reason", rej.Sniff,
					"filename", up.Filename, "declared_size", up.Size, "error", rej.Err)
			} else {
				slog.Info("upload rejected", "reason", rej.Reason, "sniff_reason", rej.Sniff, "filename", up.Filename)
			}
		}
		return "", err
	}
	g.metrics.UploadsAccepted.Inc()
	slog.Info("upload accepted", "stored_name", name, "declared_size", up.Size)
	return name, nil
}

func (g *Gatekeeper) admit(ctx context.Context, up Upload) (string, error) {
	ext := strings.ToLower(filepath.Ext(up.Filename))
	wantMime, ok := extensionMime[ext]
	if !ok {
		return "", &Rejection{Reason: ReasonExtension}
	}

	claimed := normalizeMime(up.ContentType)
	if claimed != "image/png" && claimed != "image/jpeg" {
		return "", &Rejection{Reason: ReasonMime, Mime: claimed}
	}
	if claimed != wantMime {
		return "", &Rejection{Reason: ReasonMimeMismatch}
	}

	if up.Size > g.cfg.MaxBytes {
		return "", &Rejection{Reason: ReasonTooLarge, LimitBytes: g.cfg.MaxBytes,
			Err: fmt.Errorf("declared size %d", up.Size)}
	}
	if up.Size < g.cfg.MinBytes {
		return "", &Rejection{Reason: ReasonTooSmall, Err: fmt.Errorf("declared size %d", up.Size)}
	}

	src, err := up.Open()
	if err != nil {
		return "", &Rejection{Reason: ReasonStorage, Err: fmt.Errorf("failed to open upload: %w", err)}
	}
	defer func() {
		_ = src.Close()
	}()

	head := make([]byte, headScanBytes)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", &Rejection{Reason: ReasonStorage, Err: fmt.Errorf("failed to read upload: %w", err)}
	}
	head = head[:n]
	if g.cfg.NullRunThreshold > 0 && longestNullRun(head) >= g.cfg.NullRunThreshold {
		return "", &Rejection{Reason: ReasonNullBytes}
	}

	path, err := g.write(ext, io.MultiReader(bytes.NewReader(head), src))
	if err != nil {
		return "", err
	}
	name := filepath.Base(path)

	res, err := g.verifier.Run(ctx, func(ctx context.Context) imageprocessing.Result {
		return g.inspector.Inspect(ctx, path)
	})
	if err != nil {
		g.discard(path)
		if errors.Is(err, ErrVerifyTimeout) {
			return "", &Rejection{Reason: ReasonVerifyTimeout, Err: err}
		}
		return "", &Rejection{Reason: ReasonCancelled, Err: err}
	}
	if !res.OK {
		g.discard(path)
		return "", &Rejection{Reason: ReasonVerifyFailed, Sniff: res.Reason, Err: res.Err}
	}

	switch {
	case res.Format == imageprocessing.FormatPNG && ext != ".png":
		g.discard(path)
		return "", &Rejection{Reason: ReasonPNGMismatch}
	case res.Format == imageprocessing.FormatJPEG && ext != ".jpg" && ext != ".jpeg":
		g.discard(path)
		return "", &Rejection{Reason: ReasonJPEGMismatch}
	case res.Format != imageprocessing.FormatPNG && res.Format != imageprocessing.FormatJPEG:
		g.discard(path)
		return "", &Rejection{Reason: ReasonExotic}
	}

	if err := g.inspector.Commit(path, res); err != nil {
		g.discard(path)
		return "", &Rejection{Reason: ReasonStorage, Err: err}
	}
	return name, nil
}

// write copies at most MaxBytes+1 bytes into a freshly named file and
// rejects uploads whose real size is outside the bounds.
func (g *Gatekeeper) write(ext string, r io.Reader) (string, error) {
	name, err := generateStoredName(ext)
	if err != nil {
		return "", &Rejection{Reason: ReasonStorage, Err: fmt.Errorf("failed to generate name: %w", err)}
	}
	path := filepath.Join(g.cfg.Dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", &Rejection{Reason: ReasonStorage, Err: fmt.Errorf("failed to create %s: %w", name, err)}
	}
	written, copyErr := io.Copy(f, io.LimitReader(r, g.cfg.MaxBytes+1))
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		g.discard(path)
		return "", &Rejection{Reason: ReasonStorage, Err: fmt.Errorf("failed to write %s: %w", name, copyErr)}
	case closeErr != nil:
		g.discard(path)
		return "", &Rejection{Reason: ReasonStorage, Err: fmt.Errorf("failed to close %s: %w", name, closeErr)}
	case written > g.cfg.MaxBytes:
		g.discard(path)
		return "", &Rejection{Reason: ReasonTooLarge, LimitBytes: g.cfg.MaxBytes,
			Err: fmt.Errorf("actual size exceeds %d", g.cfg.MaxBytes)}
	case written < g.cfg.MinBytes:
		g.discard(path)
		return "", &Rejection{Reason: ReasonTooSmall, Err: fmt.Errorf("actual size %d", written)}
	}
	return path, nil
}

// Discard removes an accepted image whose entry could not be saved.
func (g *Gatekeeper) Discard(name string) {
	if !IsStoredName(name) {
		return
	}
	g.discard(filepath.Join(g.cfg.Dir, name))
}

func (g *Gatekeeper) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to remove rejected upload", "path", path, "error", err)
	}
}

func normalizeMime(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return strings.ToLower(mediaType)
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

func longestNullRun(b []byte) int {
	longest, run := 0, 0
	for _, c := range b {
		if c == 0 {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return longest
}
