// internal/browser/session.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/factuscan/factuscan/api/schemas"
	"github.com/factuscan/factuscan/internal/config"
	"github.com/factuscan/factuscan/internal/scrapererr"
)

const defaultNavigationTimeout = 60 * time.Second
const defaultActionTimeout = 30 * time.Second

// clickAllPause separates consecutive clicks so a download triggered by one
// click can start before the next.
const clickAllPause = 1 * time.Second

// Session drives one live page over CDP and implements schemas.PageSession.
// The same type backs both variants; remote only changes the allocator it
// was opened against and whether out-of-band captcha waits are available.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	capture *capture
	remote  bool

	// ownsDownloadDir is set when the directory is a per-session temp dir
	// that must be removed on Close.
	downloadDir     string
	ownsDownloadDir bool

	closeOnce sync.Once
	closeErr  error
}

var _ schemas.PageSession = (*Session)(nil)

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// runActions executes chromedp actions bounded by both the session lifetime
// and the caller's context, plus the configured per-action timeout.
func (s *Session) runActions(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, opCancel := CombineContext(s.ctx, ctx)
	defer opCancel()

	if timeout <= 0 {
		timeout = s.actionTimeout()
	}
	actCtx, actCancel := context.WithTimeout(opCtx, timeout)
	defer actCancel()

	return chromedp.Run(actCtx, actions...)
}

func (s *Session) actionTimeout() time.Duration {
	if s.cfg.ActionTimeout > 0 {
		return s.cfg.ActionTimeout
	}
	return defaultActionTimeout
}

// Navigate loads url and waits for the document body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating to URL", zap.String("url", url))

	navTimeout := s.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}

	err := s.runActions(ctx, navTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return scrapererr.Browser(fmt.Sprintf("navigation to %s failed", url), err)
	}
	return nil
}

// Location returns the page's current URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.runActions(ctx, 0, chromedp.Location(&loc)); err != nil {
		return "", scrapererr.Browser("failed to read page location", err)
	}
	return loc, nil
}

// WaitVisible blocks until the selector matches a visible element or the
// timeout elapses.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	err := s.runActions(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err != nil {
		return scrapererr.Scraping(fmt.Sprintf("element %q not visible", selector), err)
	}
	return nil
}

// Fill replaces the value of the input matching selector.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	s.logger.Debug("Filling input", zap.String("selector", selector), zap.Int("value_length", len(value)))

	err := s.runActions(ctx, 0,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return scrapererr.Scraping(fmt.Sprintf("failed to fill %q", selector), err)
	}
	return nil
}

// Click clicks the first element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.logger.Debug("Clicking element", zap.String("selector", selector))

	err := s.runActions(ctx, 0,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return scrapererr.Scraping(fmt.Sprintf("failed to click %q", selector), err)
	}
	return nil
}

// ClickAll clicks every element matching selector in document order,
// pausing between clicks so any triggered download can start.
func (s *Session) ClickAll(ctx context.Context, selector string) error {
	var nodes []*cdp.Node
	if err := s.runActions(ctx, 0, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll)); err != nil {
		return scrapererr.Scraping(fmt.Sprintf("no elements match %q", selector), err)
	}
	s.logger.Debug("Clicking all matches", zap.String("selector", selector), zap.Int("count", len(nodes)))

	for i, node := range nodes {
		err := s.runActions(ctx, 0,
			chromedp.MouseClickNode(node),
			chromedp.Sleep(clickAllPause),
		)
		if err != nil {
			return scrapererr.Scraping(fmt.Sprintf("failed to click match %d of %q", i, selector), err)
		}
	}

	// Clicks only trigger downloads; block until the triggered files have
	// actually arrived so the caller sees their content bills.
	if !s.capture.awaitDownloads(downloadDrainTimeout) {
		s.logger.Warn("Downloads still in flight after drain timeout",
			zap.String("selector", selector))
	}
	return nil
}

// FirstText returns the inner text of the first match. A selector that
// never matches fails with the action timeout.
func (s *Session) FirstText(ctx context.Context, selector string) (string, error) {
	var text string
	if err := s.runActions(ctx, 0, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", scrapererr.Scraping(fmt.Sprintf("failed to read text of %q", selector), err)
	}
	return text, nil
}

// Hrefs returns the raw href attribute of every match, unresolved. Elements
// without the attribute contribute an empty string.
func (s *Session) Hrefs(ctx context.Context, selector string) ([]string, error) {
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%s)).map(el => el.getAttribute('href') || '')`,
		jsString(selector),
	)

	var hrefs []string
	if err := s.runActions(ctx, 0, chromedp.Evaluate(script, &hrefs)); err != nil {
		return nil, scrapererr.Scraping(fmt.Sprintf("failed to collect hrefs of %q", selector), err)
	}
	return hrefs, nil
}

// Attribute reads one attribute from the first match. A present-but-empty
// attribute returns ("", nil); a missing attribute or element is an error.
func (s *Session) Attribute(ctx context.Context, selector, name string) (string, error) {
	var value string
	var ok bool
	err := s.runActions(ctx, 0,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.AttributeValue(selector, name, &value, &ok, chromedp.ByQuery),
	)
	if err != nil {
		return "", scrapererr.Scraping(fmt.Sprintf("failed to read %s of %q", name, selector), err)
	}
	if !ok {
		return "", scrapererr.Scraping(fmt.Sprintf("element %q has no %s attribute", selector, name), nil)
	}
	return value, nil
}

// SubmitForms programmatically submits the form embedded in each matched
// element at the given offsets, pausing after each submission so the
// triggered navigation or download can proceed.
func (s *Session) SubmitForms(ctx context.Context, selector string, offsets []int, pause time.Duration) error {
	for _, offset := range offsets {
		script := fmt.Sprintf(`(function() {
			const els = document.querySelectorAll(%s);
			const el = els[%d];
			if (!el) { return false; }
			const form = el.querySelector('form') || el.closest('form');
			if (!form) { return false; }
			form.submit();
			return true;
		})()`, jsString(selector), offset)

		var submitted bool
		if err := s.runActions(ctx, 0, chromedp.Evaluate(script, &submitted)); err != nil {
			return scrapererr.Scraping(fmt.Sprintf("failed to submit form at offset %d of %q", offset, selector), err)
		}
		if !submitted {
			s.logger.Debug("No form at offset, skipping",
				zap.String("selector", selector), zap.Int("offset", offset))
			continue
		}
		if err := s.runActions(ctx, pause+s.actionTimeout(), chromedp.Sleep(pause)); err != nil {
			return scrapererr.Browser("session closed while waiting after form submit", err)
		}
	}
	return nil
}

// Evaluate runs a JavaScript snippet in the page, optionally unmarshalling
// the result into res.
func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	if err := s.runActions(ctx, 0, chromedp.Evaluate(script, res)); err != nil {
		return scrapererr.Scraping("script evaluation failed", err)
	}
	return nil
}

// AwaitExternalCaptcha blocks until the remote endpoint reports the captcha
// solved, via the endpoint's own CDP extension. Only meaningful on the
// remote variant; the launched variant has nobody on the other side.
func (s *Session) AwaitExternalCaptcha(ctx context.Context, timeout time.Duration) error {
	if !s.remote {
		return scrapererr.ErrUnsupported
	}
	s.logger.Debug("Awaiting external captcha solve", zap.Duration("timeout", timeout))

	params := json.RawMessage(fmt.Sprintf(`{"timeout":%d}`, timeout.Milliseconds()))
	err := s.runActions(ctx, timeout+5*time.Second, chromedp.ActionFunc(func(c context.Context) error {
		return cdp.Execute(c, "Captcha.waitForSolve", params, nil)
	}))
	if err != nil {
		return scrapererr.Captcha("external captcha was not solved in time", err)
	}
	return nil
}

// Close releases the browser process or connection and the session's temp
// download directory. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing browser session")
		// The allocator context must go down with the session either way.
		defer s.cancel()

		// Let in-flight downloads finish while the browser is still alive,
		// bounded by any deadline the caller brought.
		drain := downloadDrainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < drain {
				drain = remaining
			}
		}
		if drain > 0 && !s.capture.awaitDownloads(drain) {
			s.logger.Warn("Closing with downloads still in flight")
		}

		// chromedp.Cancel waits for the browser process to exit gracefully,
		// unlike plain context cancellation.
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()

		select {
		case err := <-done:
			if err != nil && err != context.Canceled {
				s.closeErr = scrapererr.Browser("failed to close browser session", err)
			}
		case <-ctx.Done():
			s.closeErr = ctx.Err()
		case <-time.After(15 * time.Second):
			s.closeErr = scrapererr.Browser("timed out waiting for browser to close", nil)
		}

		if s.ownsDownloadDir {
			if err := os.RemoveAll(s.downloadDir); err != nil {
				s.logger.Warn("Failed to remove download dir",
					zap.String("dir", s.downloadDir), zap.Error(err))
			}
		}
	})
	return s.closeErr
}

// jsString returns s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
