// internal/browser/capture.go
package browser

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/factuscan/factuscan/api/schemas"
	"github.com/factuscan/factuscan/internal/doctext"
)

// dialogAcceptDelay models the human reaction time some provider scripts
// expect before a dialog is dismissed.
const dialogAcceptDelay = 500 * time.Millisecond

// downloadReadDelay gives the browser a moment to flush the file to disk
// after it reports the download complete.
const downloadReadDelay = 300 * time.Millisecond

// downloadDrainTimeout bounds how long a triggered download may take from
// first event to sink delivery before the session stops waiting for it.
const downloadDrainTimeout = 30 * time.Second

// capture handles the asynchronous browser events of a session: javascript
// dialogs are auto-accepted, and completed downloads are read, converted to
// text, and delivered to the sink. Events arrive on chromedp's listener
// goroutine, so all state is mutex-guarded.
type capture struct {
	logger      *zap.Logger
	sink        schemas.DownloadSink
	downloadDir string

	mu sync.Mutex
	// guid -> suggested filename for in-flight downloads.
	pending map[string]string
	// suggested filenames already delivered this run.
	delivered map[string]bool
	// inFlight counts downloads between their first event and sink delivery;
	// idle is broadcast whenever it drops.
	inFlight int
	idle     *sync.Cond
}

func newCapture(logger *zap.Logger, sink schemas.DownloadSink, downloadDir string) *capture {
	c := &capture{
		logger:      logger.Named("capture"),
		sink:        sink,
		downloadDir: downloadDir,
		pending:     make(map[string]string),
		delivered:   make(map[string]bool),
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// attach registers the event listeners and configures download routing.
// Must be called before the first navigation so no early event is missed.
func (c *capture) attach(sessionCtx context.Context) error {
	chromedp.ListenTarget(sessionCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventJavascriptDialogOpening:
			go c.acceptDialog(sessionCtx, e.Message)
		case *cdpbrowser.EventDownloadWillBegin:
			c.beginDownload(e.GUID, e.SuggestedFilename)
		case *cdpbrowser.EventDownloadProgress:
			if e.State == cdpbrowser.DownloadProgressStateCompleted {
				go c.completeDownload(sessionCtx, e.GUID)
			} else if e.State == cdpbrowser.DownloadProgressStateCanceled {
				c.dropDownload(e.GUID)
			}
		}
	})

	// Downloads are written into downloadDir under their GUID so concurrent
	// downloads with identical suggested names cannot clobber each other.
	return chromedp.Run(sessionCtx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(c.downloadDir).
			WithEventsEnabled(true),
	)
}

func (c *capture) acceptDialog(sessionCtx context.Context, message string) {
	c.logger.Debug("Auto-accepting javascript dialog", zap.String("message", message))
	time.Sleep(dialogAcceptDelay)

	if sessionCtx.Err() != nil {
		return
	}
	err := chromedp.Run(sessionCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.HandleJavaScriptDialog(true).Do(ctx)
	}))
	if err != nil && sessionCtx.Err() == nil {
		c.logger.Warn("Failed to accept dialog", zap.Error(err))
	}
}

// beginDownload records an in-flight download unless its suggested filename
// was already delivered this run. Two downloads with the same suggested
// filename are the same bill.
func (c *capture) beginDownload(guid, filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.delivered[filename] {
		c.logger.Debug("Ignoring duplicate download", zap.String("filename", filename))
		return
	}
	c.pending[guid] = filename
	c.inFlight++
}

func (c *capture) dropDownload(guid string) {
	c.mu.Lock()
	if _, ok := c.pending[guid]; ok {
		delete(c.pending, guid)
		c.inFlight--
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

// completeDownload reads the finished file, extracts its text, and hands it
// to the sink. Failures are logged and swallowed: a broken download must
// never take the whole run down, and the session may already be closed by
// the time the event arrives.
func (c *capture) completeDownload(sessionCtx context.Context, guid string) {
	time.Sleep(downloadReadDelay)

	c.mu.Lock()
	filename, ok := c.pending[guid]
	if ok {
		delete(c.pending, guid)
		c.delivered[filename] = true
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	defer c.settle()

	path := filepath.Join(c.downloadDir, guid)
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if sessionCtx.Err() != nil {
			return
		}
		c.logger.Warn("Failed to read downloaded file",
			zap.String("filename", filename), zap.Error(err))
		c.undeliver(filename)
		return
	}

	text, err := doctext.ExtractBytes(data)
	if err != nil {
		c.logger.Warn("Failed to extract text from download",
			zap.String("filename", filename), zap.Error(err))
		return
	}

	c.logger.Info("Captured download",
		zap.String("filename", filename), zap.Int("text_length", len(text)))
	c.sink.OnDownload(filename, text)
}

func (c *capture) undeliver(filename string) {
	c.mu.Lock()
	delete(c.delivered, filename)
	c.mu.Unlock()
}

// settle marks one download as fully handled, delivered or not.
func (c *capture) settle() {
	c.mu.Lock()
	c.inFlight--
	c.idle.Broadcast()
	c.mu.Unlock()
}

// awaitDownloads blocks until every in-flight download has been handled or
// the timeout elapses, and reports whether the capture went quiet. Clicks and
// form submissions only trigger downloads; this is how a session waits for
// the triggered files to actually arrive before tearing anything down.
func (c *capture) awaitDownloads(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		c.idle.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inFlight > 0 && time.Now().Before(deadline) {
		c.idle.Wait()
	}
	return c.inFlight == 0
}
