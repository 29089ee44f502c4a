package frontend

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/jo-hoe/guestbook/internal/backend/database"
	"github.com/jo-hoe/guestbook/internal/backend/upload"
	"github.com/jo-hoe/guestbook/internal/common"
	"github.com/jo-hoe/guestbook/internal/core"
	"github.com/jo-hoe/guestbook/internal/defense"
)

const (
	MainPageName = "index.html"

	fileField = "file"

	// form parts above this size spill to temporary files
	multipartMemory = 1 << 20
)

const (
	messageInvalidForm  = "Input validation failed: Invalid comment input"
	messageCSRFExpired  = "That form went stale. Reload the page and try again."
	messageCSRFInvalid  = "That form didn't come from here. Nice try."
	messageBodyTooLarge = "The data value transmitted exceeds the capacity limit. "
)

type entryForm struct {
	Comment string `form:"comment"`
}

type uploadRequest struct {
	Name string `param:"name" validate:"required,storedname"`
}

type pageData struct {
	Entries           []*database.Entry
	Total             int64
	Messages          []string
	CSRFField         string
	CSRFToken         string
	MaxFileBytes      int64
	MaxCommentLength  int
	AllowedExtensions []string
	AllowedMimeTypes  []string
}

type FrontendService struct {
	coreService   *core.CoreService
	config        *core.ServiceConfig
	metrics       *common.Metrics
	issuer        *defense.TokenIssuer
	flashes       *flashStore
	writeLimiter  *defense.Limiter
	readLimiter   *defense.Limiter
	uploadLimiter *defense.Limiter
	validator     *common.GenericEchoValidator
	icon          *iconRenderer
}

// NewFrontendService wires the page handlers to the core service. The store
// holds the rate limit counters, secret signs CSRF tokens and flash cookies.
func NewFrontendService(config *core.ServiceConfig, coreService *core.CoreService, store defense.Store, secret []byte, metrics *common.Metrics) (*FrontendService, error) {
	if metrics == nil {
		metrics = common.NewMetrics(nil)
	}
	issuer, err := defense.NewTokenIssuer(secret, config.Security.CSRFValidity)
	if err != nil {
		return nil, fmt.Errorf("failed to create csrf token issuer: %w", err)
	}
	writeLimits, err := defense.ParseLimits(config.RateLimit.Write)
	if err != nil {
		return nil, fmt.Errorf("invalid write rate limit: %w", err)
	}
	readLimits, err := defense.ParseLimits(config.RateLimit.Read)
	if err != nil {
		return nil, fmt.Errorf("invalid read rate limit: %w", err)
	}
	uploadLimits, err := defense.ParseLimits(config.RateLimit.Uploads)
	if err != nil {
		return nil, fmt.Errorf("invalid uploads rate limit: %w", err)
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}

	return &FrontendService{
		coreService:   coreService,
		config:        config,
		metrics:       metrics,
		issuer:        issuer,
		flashes:       newFlashStore(secret),
		writeLimiter:  defense.NewLimiter("write", writeLimits, store, metrics),
		readLimiter:   defense.NewLimiter("read", readLimits, store, metrics),
		uploadLimiter: defense.NewLimiter("uploads", uploadLimits, store, metrics),
		validator:     v,
		icon:          &iconRenderer{},
	}, nil
}

func newValidator() (*common.GenericEchoValidator, error) {
	v := validator.New()
	err := v.RegisterValidation("storedname", func(fl validator.FieldLevel) bool {
		return upload.IsStoredName(fl.Field().String())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register storedname validation: %w", err)
	}
	// the only validated input is a path lookup
	return &common.GenericEchoValidator{Validator: v, FailureStatus: http.StatusNotFound}, nil
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	e.Renderer = newTemplate()
	e.Validator = service.validator
	e.HTTPErrorHandler = service.errorHandler(e)

	read := service.readLimiter.Middleware(nil)
	write := service.writeLimiter.Middleware(nil)
	uploads := service.uploadLimiter.Middleware(nil)
	csrf := defense.CSRF(service.issuer, service.metrics, service.csrfFailureHandler)

	e.GET("/", service.indexHandler, read)
	e.POST("/", service.submitHandler, write, service.parseForm, csrf)
	e.GET("/uploads/:name", service.uploadHandler, uploads)

	e.GET("/icon.svg", service.iconHandler)
	e.GET("/icon.png", service.iconPNGHandler)
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	data := pageData{
		Messages:          service.flashes.Pop(ctx),
		CSRFField:         defense.CSRFFormField,
		MaxFileBytes:      service.config.Upload.MaxFileBytes,
		MaxCommentLength:  service.config.MaxCommentLength,
		AllowedExtensions: upload.AllowedExtensions(),
		AllowedMimeTypes:  upload.AllowedMimeTypes(),
	}

	entries, err := service.coreService.ListRecent(reqCtx)
	if err != nil {
		slog.Error("indexHandler: failed to list entries", "error", err)
		data.Messages = append(data.Messages, core.MessageLoadFailed)
	}
	data.Entries = entries

	total, err := service.coreService.Count(reqCtx)
	if err != nil {
		slog.Error("indexHandler: failed to count entries", "error", err)
		total = int64(len(entries))
	}
	data.Total = total

	token, err := service.issuer.Issue()
	if err != nil {
		slog.Error("indexHandler: failed to issue csrf token",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to render page")
	}
	data.CSRFToken = token

	// Tokens and flashes are per response
	service.setNoCache(ctx)

	return ctx.Render(http.StatusOK, MainPageName, data)
}

func (service *FrontendService) submitHandler(ctx echo.Context) error {
	var form entryForm
	if err := ctx.Bind(&form); err != nil {
		if isBodyTooLarge(err) {
			return service.bodyTooLarge(ctx)
		}
		slog.Warn("submitHandler: failed to bind form", "client", ctx.RealIP(), "error", err)
		return service.redirectHome(ctx, messageInvalidForm)
	}

	submission := core.Submission{Comment: form.Comment}

	fh, err := ctx.FormFile(fileField)
	switch {
	case err == nil:
		up := upload.FromFileHeader(fh)
		submission.File = &up
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case isBodyTooLarge(err):
		return service.bodyTooLarge(ctx)
	default:
		slog.Warn("submitHandler: failed to read uploaded file", "client", ctx.RealIP(), "error", err)
		return service.redirectHome(ctx, upload.ReasonStorage.Message())
	}

	outcome := service.coreService.Submit(ctx.Request().Context(), submission)
	return service.redirectHome(ctx, outcome.Messages...)
}

func (service *FrontendService) uploadHandler(ctx echo.Context) error {
	var req uploadRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.ErrNotFound
	}
	if err := ctx.Validate(&req); err != nil {
		slog.Debug("uploadHandler: rejected file name", "name", req.Name, "client", ctx.RealIP(), "error", err)
		return err
	}
	return ctx.File(filepath.Join(service.coreService.UploadDir(), req.Name))
}

// parseForm reads the multipart body up front so an oversized body becomes
// the size flash instead of a failed CSRF check.
func (service *FrontendService) parseForm(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		err := ctx.Request().ParseMultipartForm(multipartMemory)
		if err != nil && !errors.Is(err, http.ErrNotMultipart) {
			if isBodyTooLarge(err) {
				return service.bodyTooLarge(ctx)
			}
			slog.Debug("parseForm: malformed form body", "client", ctx.RealIP(), "error", err)
		}
		return next(ctx)
	}
}

func (service *FrontendService) csrfFailureHandler(ctx echo.Context, err error) error {
	if errors.Is(err, defense.ErrExpiredToken) {
		return service.redirectHome(ctx, messageCSRFExpired)
	}
	return service.redirectHome(ctx, messageCSRFInvalid)
}

func (service *FrontendService) bodyTooLarge(ctx echo.Context) error {
	rejection := &upload.Rejection{
		Reason:     upload.ReasonTooLarge,
		LimitBytes: service.config.Upload.MaxFileBytes,
	}
	service.metrics.UploadRejections.WithLabelValues(string(rejection.Reason)).Inc()
	slog.Warn("request body exceeds limit",
		"client", ctx.RealIP(),
		"content_length", ctx.Request().ContentLength,
		"limit", service.config.Upload.MaxRequestBytes)
	return service.redirectHome(ctx, messageBodyTooLarge+rejection.Message())
}

// redirectHome answers every POST: the messages ride along in the flash
// cookie and the browser comes back with a GET.
func (service *FrontendService) redirectHome(ctx echo.Context, messages ...string) error {
	service.flashes.Set(ctx, messages)
	return ctx.Redirect(http.StatusSeeOther, "/")
}

// errorHandler turns body limit failures on form posts into the size flash
// and leaves everything else to echo.
func (service *FrontendService) errorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		if err == nil || ctx.Response().Committed {
			return
		}
		if ctx.Request().Method == http.MethodPost && isBodyTooLarge(err) {
			if herr := service.bodyTooLarge(ctx); herr != nil {
				slog.Error("errorHandler: failed to redirect", "error", herr)
			}
			return
		}
		e.DefaultHTTPErrorHandler(err, ctx)
	}
}

func (service *FrontendService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}

func isBodyTooLarge(err error) bool {
	if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
		return true
	}
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
		return true
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	return errors.Is(err, multipart.ErrMessageTooLarge)
}
