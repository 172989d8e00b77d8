// api/schemas/interfaces.go
package schemas

import (
	"context"
	"time"
)

// PageSession is the uniform contract over the two browser engine variants.
// One session owns one live page; all calls are strictly sequential because
// DOM state after each action depends on the previous one.
type PageSession interface {
	// Navigate loads url in the session's page and waits for it to settle.
	Navigate(ctx context.Context, url string) error

	// Location returns the page's current URL.
	Location(ctx context.Context) (string, error)

	// WaitVisible blocks until the selector matches a visible element or the
	// timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// Fill replaces the value of the input matching selector.
	Fill(ctx context.Context, selector, value string) error

	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error

	// ClickAll clicks every element matching selector in document order,
	// pausing between clicks so triggered downloads can start.
	ClickAll(ctx context.Context, selector string) error

	// FirstText returns the inner text of the first match. A selector with no
	// matches returns ("", ErrNoElement)-style failure from the implementation.
	FirstText(ctx context.Context, selector string) (string, error)

	// Hrefs returns the href attribute of every match, unresolved.
	Hrefs(ctx context.Context, selector string) ([]string, error)

	// Attribute reads one attribute from the first match.
	Attribute(ctx context.Context, selector, name string) (string, error)

	// SubmitForms programmatically submits the form embedded in each matched
	// element at the given offsets, pausing after each submission.
	SubmitForms(ctx context.Context, selector string, offsets []int, pause time.Duration) error

	// Evaluate runs a JavaScript snippet in the page, optionally unmarshalling
	// the result into res.
	Evaluate(ctx context.Context, script string, res interface{}) error

	// AwaitExternalCaptcha blocks until the remote endpoint reports the
	// captcha challenge solved, or the timeout elapses. Only the remote
	// variant supports it; the launched variant fails immediately.
	AwaitExternalCaptcha(ctx context.Context, timeout time.Duration) error

	// Close releases the session's browser process or connection. It must be
	// called exactly once per opened session, on every exit path.
	Close(ctx context.Context) error
}

// SessionFactory opens a browser session appropriate for the run.
type SessionFactory interface {
	// New opens a session. remote selects the pre-provisioned remote endpoint
	// variant, used only when a captcha must be solved out of band.
	New(ctx context.Context, remote bool, sink DownloadSink) (PageSession, error)
}

// DownloadSink receives the extracted text of every document the event
// capture layer intercepts during a run.
type DownloadSink interface {
	// OnDownload is called once per unique suggested filename with the text
	// extracted from the downloaded document. It must be safe for concurrent
	// use: downloads complete on browser event goroutines.
	OnDownload(filename, text string)
}

// CaptchaSolver is the opaque external token service.
type CaptchaSolver interface {
	Solve(ctx context.Context, pageURL, sitekey string) (string, error)
}

// BillStore is the persistence gateway consumed by the interpreter.
type BillStore interface {
	SaveBills(ctx context.Context, userServiceID string, bills []Bill, debt bool) SaveResult
}
