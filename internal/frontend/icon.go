package frontend

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

const (
	iconPath      = "views/icon.svg"
	iconPNGSize   = 180
	iconCacheCtrl = "public, max-age=604800, immutable"
)

// iconRenderer rasterizes the embedded SVG once for clients that want a PNG
// (apple-touch-icon and friends).
type iconRenderer struct {
	once sync.Once
	png  []byte
	err  error
}

func (r *iconRenderer) PNG() ([]byte, error) {
	r.once.Do(func() {
		svg, err := assetsFS.ReadFile(iconPath)
		if err != nil {
			r.err = fmt.Errorf("failed to read %s: %w", iconPath, err)
			return
		}
		r.png, r.err = renderSVGToPNG(svg, iconPNGSize, iconPNGSize)
	})
	return r.png, r.err
}

// renderSVGToPNG renders an SVG byte slice into a PNG of the given size on a
// transparent canvas.
func renderSVGToPNG(svgData []byte, targetW, targetH int) ([]byte, error) {
	if targetW <= 0 || targetH <= 0 {
		return nil, fmt.Errorf("invalid target dimensions for SVG rendering: %dx%d", targetW, targetH)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}
	icon.SetTarget(0, 0, float64(targetW), float64(targetH))

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(targetW, targetH, dst, dst.Bounds())
	dasher := rasterx.NewDasher(targetW, targetH, scanner)
	icon.Draw(dasher, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode rendered SVG as PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func (service *FrontendService) iconHandler(ctx echo.Context) error {
	data, err := assetsFS.ReadFile(iconPath)
	if err != nil {
		slog.Error("iconHandler: failed to read icon.svg", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", iconCacheCtrl)
	return ctx.Blob(http.StatusOK, "image/svg+xml", data)
}

func (service *FrontendService) iconPNGHandler(ctx echo.Context) error {
	data, err := service.icon.PNG()
	if err != nil {
		slog.Error("iconPNGHandler: failed to render icon", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	ctx.Response().Header().Set("Cache-Control", iconCacheCtrl)
	return ctx.Blob(http.StatusOK, "image/png", data)
}
