package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/jo-hoe/guestbook/internal/backend/database"
	"github.com/jo-hoe/guestbook/internal/backend/imageprocessing"
	"github.com/jo-hoe/guestbook/internal/backend/scanner"
	"github.com/jo-hoe/guestbook/internal/backend/upload"
	"github.com/jo-hoe/guestbook/internal/common"
)

const (
	MessageCommentTooLong = "Input validation failed: Comment too long"
	MessageCommentSaved   = "Comment saved."
	MessageImageAccepted  = "Fine. Your image checks out."
	MessageEmpty          = "Submitted nothing? That's one way to avoid getting caught. Still a no."
	MessageSaveFailed     = "An error occurred while saving. Please try again."
	MessageLoadFailed     = "Error loading entries. Please try again later."
)

// Submission is one POST reduced to what the service needs.
type Submission struct {
	Comment string
	// File is nil when no file was attached.
	File *upload.Upload
}

// Outcome lists the flash messages for the visitor in display order.
type Outcome struct {
	Messages  []string
	Saved     bool
	EntryID   int64
	Image     string
	Advisory  *scanner.Advisory
	Rejection *upload.Rejection
}

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	gatekeeper      *upload.Gatekeeper
	scanner         *scanner.Scanner
	metrics         *common.Metrics
}

func NewCoreService(config *ServiceConfig, metrics *common.Metrics) *CoreService {
	if metrics == nil {
		metrics = common.NewMetrics(nil)
	}
	databaseService, err := getDatabaseService(config)
	if err != nil {
		slog.Error("failed to initialize database service", "error", err)
		panic(err)
	}
	gatekeeper, err := getGatekeeper(config, metrics)
	if err != nil {
		_ = databaseService.Close()
		slog.Error("failed to initialize upload gatekeeper", "error", err)
		panic(err)
	}
	return &CoreService{
		config:          config,
		databaseService: databaseService,
		gatekeeper:      gatekeeper,
		scanner:         scanner.NewScanner(),
		metrics:         metrics,
	}
}

// Submit validates and stores one submission. It never fails: every problem
// becomes a message for the visitor.
func (service *CoreService) Submit(ctx context.Context, submission Submission) Outcome {
	var out Outcome

	if utf8.RuneCountInString(submission.Comment) > service.config.MaxCommentLength {
		out.Messages = append(out.Messages, MessageCommentTooLong)
		return out
	}

	if submission.File != nil && submission.File.Filename != "" {
		name, err := service.gatekeeper.Admit(ctx, *submission.File)
		var rejection *upload.Rejection
		switch {
		case err == nil:
			out.Image = name
		case errors.As(err, &rejection):
			out.Rejection = rejection
			out.Messages = append(out.Messages, rejection.Message())
		default:
			slog.Error("unexpected upload failure", "error", err)
			out.Messages = append(out.Messages, upload.ReasonStorage.Message())
		}
	}

	if submission.Comment == "" && out.Image == "" {
		out.Messages = append(out.Messages, MessageEmpty)
		return out
	}

	if submission.Comment != "" {
		if advisory, ok := service.scanner.Scan(submission.Comment); ok {
			out.Advisory = &advisory
			service.metrics.Advisories.WithLabelValues(string(advisory.Category)).Inc()
			slog.Info("content advisory", "category", advisory.Category, "rule", advisory.Rule)
		}
	}

	id, err := service.databaseService.InsertEntry(ctx, database.NewEntry{
		Text:          submission.Comment,
		ImageFilename: out.Image,
	})
	if err != nil {
		slog.Error("failed to save entry", "error", err, "has_image", out.Image != "")
		if out.Image != "" {
			service.gatekeeper.Discard(out.Image)
			out.Image = ""
		}
		out.Messages = append(out.Messages, MessageSaveFailed)
		return out
	}

	service.metrics.EntriesSaved.Inc()
	out.Saved = true
	out.EntryID = id
	if out.Image != "" {
		out.Messages = append(out.Messages, MessageImageAccepted)
	} else {
		out.Messages = append(out.Messages, MessageCommentSaved)
	}
	if out.Advisory != nil {
		out.Messages = append(out.Messages, out.Advisory.Message)
	}
	return out
}

// ListRecent returns the newest entries, at most ListLimit of them.
func (service *CoreService) ListRecent(ctx context.Context) ([]*database.Entry, error) {
	entries, err := service.databaseService.ListRecentEntries(ctx, service.config.ListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return entries, nil
}

func (service *CoreService) Count(ctx context.Context) (int64, error) {
	return service.databaseService.CountEntries(ctx)
}

// UploadDir is where accepted images live.
func (service *CoreService) UploadDir() string {
	return service.gatekeeper.Dir()
}

func (service *CoreService) Close() error {
	return service.databaseService.Close()
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(context.Background(), config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

func getGatekeeper(config *ServiceConfig, metrics *common.Metrics) (*upload.Gatekeeper, error) {
	commands, err := imageprocessing.DefaultRegistry.CreateAll(config.Upload.Commands)
	if err != nil {
		return nil, fmt.Errorf("failed to build normalization pipeline: %w", err)
	}
	sniffer := imageprocessing.NewSniffer(config.Upload.SnifferLimits(), commands)

	return upload.NewGatekeeper(upload.Config{
		Dir:              config.Upload.Dir,
		MinBytes:         config.Upload.MinFileBytes,
		MaxBytes:         config.Upload.MaxFileBytes,
		NullRunThreshold: config.Upload.NullRunThreshold,
		VerifyTimeout:    config.Upload.VerifyTimeout,
		MaxConcurrent:    config.Upload.MaxConcurrentVerifications,
	}, sniffer, metrics)
}
