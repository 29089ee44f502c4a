package core

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/guestbook/internal/backend/upload"
	"github.com/jo-hoe/guestbook/internal/common"
)

func newTestCoreService(t *testing.T) (*CoreService, *common.Metrics) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database.ConnectionString = ":memory:"
	cfg.Upload.Dir = filepath.Join(t.TempDir(), "uploads")
	metrics := common.NewMetrics(nil)
	svc := NewCoreService(cfg, metrics)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, metrics
}

func pngUpload(t *testing.T, filename, mime string) *upload.Upload {
	t.Helper()
	// random opaque pixels keep the encoding well above the minimum size
	img := image.NewNRGBA(image.Rect(0, 0, 24, 24))
	rand.New(rand.NewSource(24)).Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	data := buf.Bytes()
	require.GreaterOrEqual(t, int64(len(data)), DefaultConfig().Upload.MinFileBytes)
	return &upload.Upload{
		Filename:    filename,
		ContentType: mime,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func uploadedFiles(t *testing.T, svc *CoreService) []string {
	t.Helper()
	entries, err := os.ReadDir(svc.UploadDir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSubmit_CommentOnly(t *testing.T) {
	svc, metrics := newTestCoreService(t)
	ctx := context.Background()

	out := svc.Submit(ctx, Submission{Comment: "hello there"})
	assert.True(t, out.Saved)
	assert.Equal(t, []string{MessageCommentSaved}, out.Messages)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EntriesSaved))

	entries, err := svc.ListRecent(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello there", entries[0].Text)
	assert.Empty(t, entries[0].ImageFilename)
}

func TestSubmit_InjectionStoredVerbatimWithAdvisory(t *testing.T) {
	svc, metrics := newTestCoreService(t)
	ctx := context.Background()
	text := "'; DROP TABLE entry; --"

	out := svc.Submit(ctx, Submission{Comment: text})
	require.True(t, out.Saved)
	require.NotNil(t, out.Advisory)
	assert.Len(t, out.Messages, 2)
	assert.Equal(t, out.Advisory.Message, out.Messages[1])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Advisories.WithLabelValues(string(out.Advisory.Category))))

	entries, err := svc.ListRecent(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, text, entries[0].Text)

	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSubmit_ImageOnly(t *testing.T) {
	svc, _ := newTestCoreService(t)
	ctx := context.Background()

	out := svc.Submit(ctx, Submission{File: pngUpload(t, "me.png", "image/png")})
	require.True(t, out.Saved)
	assert.Equal(t, []string{MessageImageAccepted}, out.Messages)
	assert.True(t, upload.IsStoredName(out.Image))
	assert.Equal(t, []string{out.Image}, uploadedFiles(t, svc))

	entries, err := svc.ListRecent(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Text)
	assert.Equal(t, out.Image, entries[0].ImageFilename)
}

func TestSubmit_TextSavedWhenImageRejected(t *testing.T) {
	svc, _ := newTestCoreService(t)
	ctx := context.Background()

	out := svc.Submit(ctx, Submission{Comment: "look at my cat", File: pngUpload(t, "cat.jpg", "image/jpeg")})
	require.True(t, out.Saved)
	require.NotNil(t, out.Rejection)
	assert.Equal(t, upload.ReasonPNGMismatch, out.Rejection.Reason)
	assert.Equal(t, []string{out.Rejection.Message(), MessageCommentSaved}, out.Messages)
	assert.Empty(t, uploadedFiles(t, svc))

	entries, err := svc.ListRecent(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "look at my cat", entries[0].Text)
	assert.Empty(t, entries[0].ImageFilename)
}

func TestSubmit_RejectedImageWithoutText(t *testing.T) {
	svc, _ := newTestCoreService(t)

	out := svc.Submit(context.Background(), Submission{File: pngUpload(t, "cat.gif", "image/gif")})
	assert.False(t, out.Saved)
	assert.Equal(t, []string{upload.ReasonExtension.Message(), MessageEmpty}, out.Messages)

	count, err := svc.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSubmit_Empty(t *testing.T) {
	svc, _ := newTestCoreService(t)

	for _, sub := range []Submission{{}, {File: &upload.Upload{}}} {
		out := svc.Submit(context.Background(), sub)
		assert.False(t, out.Saved)
		assert.Equal(t, []string{MessageEmpty}, out.Messages)
	}
}

func TestSubmit_CommentTooLong(t *testing.T) {
	svc, _ := newTestCoreService(t)
	ctx := context.Background()

	// 10,000 multi-byte runes is still within the limit
	out := svc.Submit(ctx, Submission{Comment: strings.Repeat("é", 10000)})
	assert.True(t, out.Saved)

	out = svc.Submit(ctx, Submission{Comment: strings.Repeat("a", 10001), File: pngUpload(t, "a.png", "image/png")})
	assert.False(t, out.Saved)
	assert.Equal(t, []string{MessageCommentTooLong}, out.Messages)
	assert.Empty(t, uploadedFiles(t, svc), "no file may be processed for an invalid comment")
}

func TestSubmit_SaveFailureRemovesImage(t *testing.T) {
	svc, _ := newTestCoreService(t)
	require.NoError(t, svc.databaseService.Close())

	out := svc.Submit(context.Background(), Submission{Comment: "hi", File: pngUpload(t, "a.png", "image/png")})
	assert.False(t, out.Saved)
	assert.Empty(t, out.Image)
	assert.Equal(t, []string{MessageSaveFailed}, out.Messages)
	assert.Empty(t, uploadedFiles(t, svc))
}

func TestListRecent_NewestFirstAndLimited(t *testing.T) {
	svc, _ := newTestCoreService(t)
	svc.config.ListLimit = 3
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		require.True(t, svc.Submit(ctx, Submission{Comment: text}).Saved)
	}

	entries, err := svc.ListRecent(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "five", entries[0].Text)
	assert.Equal(t, "three", entries[2].Text)
	assert.Greater(t, entries[0].ID, entries[1].ID)

	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestNewCoreService_PanicsOnBadDatabase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Type = "oracle"
	cfg.Upload.Dir = t.TempDir()

	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic for unsupported database")
		}
	}()
	NewCoreService(cfg, nil)
}
