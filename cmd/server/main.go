package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jo-hoe/guestbook/internal/backend"
	"github.com/jo-hoe/guestbook/internal/common"
	"github.com/jo-hoe/guestbook/internal/core"
	"github.com/jo-hoe/guestbook/internal/defense"
	frontend "github.com/jo-hoe/guestbook/internal/frontend"
)

func getConfigPath() string {
	// First check if config path is provided via environment variable
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}

	// Default to config.yaml in current working directory
	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return filepath.Join(cwd, "config.yaml")
}

func main() {
	// Load configuration
	configPath := getConfigPath()
	config, err := core.LoadConfig(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		panic(err)
	}
	slog.SetDefault(newLogger(config.Logging))

	secret := []byte(config.Security.SecretKey)
	if len(secret) == 0 {
		// tokens and flash cookies will not survive a restart
		slog.Warn("no secret key configured, generating an ephemeral one", "env", core.SecretKeyEnv)
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(err)
		}
	}

	metrics := common.NewMetrics(nil)
	store, err := defense.NewStore(config.RateLimit.Storage)
	if err != nil {
		slog.Error("failed to initialize rate limit storage", "error", err)
		panic(err)
	}

	coreService := core.NewCoreService(config, metrics)
	server := defineServer(config, metrics)

	apiService := backend.NewAPIService(coreService, metrics, map[string]any{"ratelimit": store})
	apiService.SetRoutes(server)
	frontendService, err := frontend.NewFrontendService(config, coreService, store, secret, metrics)
	if err != nil {
		slog.Error("failed to initialize frontend", "error", err)
		panic(err)
	}
	frontendService.SetRoutes(server)

	portString := fmt.Sprintf(":%d", config.Port)

	// Start HTTP server in a goroutine to allow graceful shutdown
	go func() {
		slog.Info("starting server", "address", portString)
		if err := server.Start(portString); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if err := store.Close(); err != nil {
		slog.Error("rate limit store close error", "error", err)
	}
	if err := coreService.Close(); err != nil {
		slog.Error("core service close error", "error", err)
	}
}

func newLogger(cfg core.Logging) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func defineServer(config *core.ServiceConfig, metrics *common.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.IPExtractor = defense.IPExtractor(config.Security.TrustProxy)

	// Configure request logger to skip the probe endpoint
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/probe"
		},
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogError:     true,
		LogRemoteIP:  true,
		LogHost:      true,
		LogUserAgent: true,
		LogRoutePath: true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"route", v.RoutePath,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"host", v.Host,
				"user_agent", v.UserAgent,
			}
			if v.Error != nil {
				slog.Warn("request", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Info("request", attrs...)
			return nil
		},
	}))

	e.Use(middleware.Recover())
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
		Limit: fmt.Sprintf("%dB", config.Upload.MaxRequestBytes),
	}))

	e.Use(defense.SecureHeaders(defense.HeaderConfig{
		ContentSecurityPolicy: config.Security.ContentSecurityPolicy,
		ReferrerPolicy:        config.Security.ReferrerPolicy,
		HSTSMaxAge:            config.Security.HSTSMaxAge,
		Extra:                 config.Security.ExtraHeaders,
	})...)
	if !config.Security.TrustProxy {
		e.Use(defense.SuspiciousHeaders(config.Security.SuspiciousHeaders,
			defense.SuspiciousHeaderPolicy(config.Security.SuspiciousHeaderPolicy), metrics))
	}

	return e
}
