package backend

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jo-hoe/guestbook/internal/common"
	"github.com/jo-hoe/guestbook/internal/core"
)

const readyTimeout = 2 * time.Second

// Pinger is implemented by dependencies that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// APIService serves the operational endpoints: liveness, readiness and
// Prometheus metrics.
type APIService struct {
	coreService *core.CoreService
	metrics     *common.Metrics
	deps        map[string]Pinger
}

// NewAPIService checks the database on readiness, plus every extra
// dependency that implements Pinger.
func NewAPIService(coreService *core.CoreService, metrics *common.Metrics, deps map[string]any) *APIService {
	pingers := make(map[string]Pinger)
	for name, dep := range deps {
		if p, ok := dep.(Pinger); ok {
			pingers[name] = p
		}
	}
	return &APIService{
		coreService: coreService,
		metrics:     metrics,
		deps:        pingers,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	// Set probe route
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "Guestbook is running")
	})
	e.GET("/ready", s.readyHandler)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
}

func (s *APIService) readyHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readyTimeout)
	defer cancel()

	status := map[string]string{"database": "ok"}
	healthy := true
	if _, err := s.coreService.Count(ctx); err != nil {
		slog.Error("readiness check failed", "dependency", "database", "error", err)
		status["database"] = "unavailable"
		healthy = false
	}
	for name, p := range s.deps {
		status[name] = "ok"
		if err := p.Ping(ctx); err != nil {
			slog.Error("readiness check failed", "dependency", name, "error", err)
			status[name] = "unavailable"
			healthy = false
		}
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
