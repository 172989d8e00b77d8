// internal/browser/capture_test.go
package browser

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu        sync.Mutex
	downloads map[string]string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{downloads: make(map[string]string)}
}

func (r *recordingSink) OnDownload(filename, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloads[filename] = text
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.downloads)
}

func TestBeginDownloadDeduplicatesByFilename(t *testing.T) {
	sink := newRecordingSink()
	c := newCapture(zap.NewNop(), sink, t.TempDir())

	c.beginDownload("guid-1", "factura.pdf")
	c.delivered["factura.pdf"] = true

	// A second download with the same suggested filename is the same bill.
	c.beginDownload("guid-2", "factura.pdf")

	assert.Contains(t, c.pending, "guid-1")
	assert.NotContains(t, c.pending, "guid-2")
}

func TestDropDownloadForgetsInFlight(t *testing.T) {
	c := newCapture(zap.NewNop(), newRecordingSink(), t.TempDir())

	c.beginDownload("guid-1", "factura.pdf")
	c.dropDownload("guid-1")

	assert.Empty(t, c.pending)
	assert.False(t, c.delivered["factura.pdf"])
}

func TestCompleteDownloadUnknownGUIDIsIgnored(t *testing.T) {
	sink := newRecordingSink()
	c := newCapture(zap.NewNop(), sink, t.TempDir())

	c.completeDownload(context.Background(), "never-began")

	assert.Zero(t, sink.count())
}

func TestCompleteDownloadMissingFileRestoresDedupe(t *testing.T) {
	sink := newRecordingSink()
	c := newCapture(zap.NewNop(), sink, t.TempDir())

	c.beginDownload("guid-1", "factura.pdf")
	c.completeDownload(context.Background(), "guid-1")

	assert.Zero(t, sink.count())
	// The filename must be retryable after a failed read.
	assert.False(t, c.delivered["factura.pdf"])
	c.beginDownload("guid-2", "factura.pdf")
	assert.Contains(t, c.pending, "guid-2")
}

func TestAwaitDownloadsReturnsOnceHandled(t *testing.T) {
	dir := t.TempDir()
	sink := newRecordingSink()
	c := newCapture(zap.NewNop(), sink, dir)

	path := filepath.Join(dir, "guid-1")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o600))

	c.beginDownload("guid-1", "factura.pdf")

	// The completion event arrives asynchronously, as it does from the
	// listener goroutine; a waiter must block until it is fully handled.
	go c.completeDownload(context.Background(), "guid-1")

	assert.True(t, c.awaitDownloads(5*time.Second))
	c.mu.Lock()
	assert.Zero(t, c.inFlight)
	c.mu.Unlock()
}

func TestAwaitDownloadsTimesOutOnStalledDownload(t *testing.T) {
	c := newCapture(zap.NewNop(), newRecordingSink(), t.TempDir())

	c.beginDownload("guid-1", "factura.pdf")

	assert.False(t, c.awaitDownloads(50*time.Millisecond))
}

func TestAwaitDownloadsCountsCancellations(t *testing.T) {
	c := newCapture(zap.NewNop(), newRecordingSink(), t.TempDir())

	c.beginDownload("guid-1", "factura.pdf")
	c.dropDownload("guid-1")

	assert.True(t, c.awaitDownloads(50*time.Millisecond))
}

func TestAwaitDownloadsIdleCapture(t *testing.T) {
	c := newCapture(zap.NewNop(), newRecordingSink(), t.TempDir())
	assert.True(t, c.awaitDownloads(50*time.Millisecond))
}

func TestCompleteDownloadUnreadableDocumentIsSkipped(t *testing.T) {
	dir := t.TempDir()
	sink := newRecordingSink()
	c := newCapture(zap.NewNop(), sink, dir)

	path := filepath.Join(dir, "guid-1")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o600))

	c.beginDownload("guid-1", "factura.pdf")
	c.completeDownload(context.Background(), "guid-1")

	// No text could be extracted, so nothing reaches the sink, and the
	// transient file is gone either way.
	assert.Zero(t, sink.count())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
