// internal/interpreter/interpreter.go
package interpreter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/factuscan/factuscan/api/schemas"
	"github.com/factuscan/factuscan/internal/scrapererr"
)

const (
	defaultMaxAttempts      = 3
	defaultActionWait       = 5 * time.Second
	defaultFormPause        = 12 * time.Second
	defaultCaptchaInputWait = 3 * time.Second
	consecutiveFailureLimit = 4
	sessionCloseTimeout     = 20 * time.Second
)

// Options tune the interpreter's timing and retry behavior. The zero value
// uses the defaults.
type Options struct {
	// MaxAttempts bounds full-job restarts. The original flow restarted
	// forever on a permanently broken selector; this caps it.
	MaxAttempts int
	// ActionWait bounds the wait for each action's selector.
	ActionWait time.Duration
	// FormPause is the delay after each programmatic form submission, giving
	// the provider's backend time to generate the document.
	FormPause time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.ActionWait <= 0 {
		o.ActionWait = defaultActionWait
	}
	if o.FormPause <= 0 {
		o.FormPause = defaultFormPause
	}
	return o
}

// Interpreter walks a provider's scraping recipe against a live page. It is
// purely data driven: everything provider-specific comes in as
// ScrapingConfig, never as code. One instance serves one job at a time;
// concurrent jobs each construct their own.
type Interpreter struct {
	factory schemas.SessionFactory
	solver  schemas.CaptchaSolver
	store   schemas.BillStore
	opts    Options
	logger  *zap.Logger
}

func New(
	factory schemas.SessionFactory,
	solver schemas.CaptchaSolver,
	store schemas.BillStore,
	opts Options,
	logger *zap.Logger,
) *Interpreter {
	return &Interpreter{
		factory: factory,
		solver:  solver,
		store:   store,
		opts:    opts.withDefaults(),
		logger:  logger.Named("interpreter"),
	}
}

// Search runs the whole scraping recipe for one user service and returns the
// debt status and discovered bills. Browser, captcha, and sequence failures
// restart the run from scratch up to the attempt bound; accumulated bills
// survive restarts.
func (i *Interpreter) Search(ctx context.Context, cfg schemas.ScrapingConfig, userService schemas.UserService) (schemas.SearchResult, error) {
	logger := i.logger.With(
		zap.String("user_service_id", userService.ID),
		zap.String("url", cfg.URL),
	)
	state := newRunState(logger)

	var lastErr error
	for attempt := 1; attempt <= i.opts.MaxAttempts; attempt++ {
		logger.Info("Starting search attempt",
			zap.Int("attempt", attempt), zap.Int("max_attempts", i.opts.MaxAttempts))

		err := i.runOnce(ctx, cfg, userService, state)
		if err == nil {
			return i.finalize(ctx, userService, state), nil
		}
		lastErr = err

		if ctx.Err() != nil {
			logger.Warn("Search canceled", zap.Error(ctx.Err()))
			break
		}
		if !isRestartable(err) {
			logger.Error("Search failed with non-restartable error", zap.Error(err))
			break
		}
		logger.Warn("Search attempt failed, restarting",
			zap.Int("attempt", attempt), zap.Error(err))
	}

	bills, debt := state.snapshot()
	return schemas.SearchResult{
		Debt:  debt,
		Bills: bills,
		SaveResult: schemas.SaveResult{
			Success: false,
			Message: fmt.Sprintf("search failed after %d attempts: %v", i.opts.MaxAttempts, lastErr),
		},
		ShouldExtract: false,
	}, lastErr
}

// runOnce executes one full attempt: open a session, pass the captcha phase,
// walk the sequence. The session is closed on every exit path.
func (i *Interpreter) runOnce(ctx context.Context, cfg schemas.ScrapingConfig, userService schemas.UserService, state *runState) error {
	plan := cfg.Plan()

	// The remote variant is only for captchas solved out of band; every
	// other run launches its own isolated browser.
	remote := plan != nil && plan.External != nil

	session, err := i.factory.New(ctx, remote, state)
	if err != nil {
		return scrapererr.Browser("failed to open browser session", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
		defer cancel()
		if cerr := session.Close(closeCtx); cerr != nil {
			state.logger.Warn("Failed to close browser session", zap.Error(cerr))
		}
	}()

	if err := session.Navigate(ctx, cfg.URL); err != nil {
		return err
	}

	if plan != nil {
		if err := i.passCaptcha(ctx, session, plan, userService); err != nil {
			return err
		}
	}

	return i.executeSequence(ctx, session, cfg, userService, state)
}

// finalize persists whatever the run accumulated and shapes the result. The
// gateway deduplicates, so bills already saved inline are not duplicated.
func (i *Interpreter) finalize(ctx context.Context, userService schemas.UserService, state *runState) schemas.SearchResult {
	bills, debt := state.snapshot()
	saveResult := i.store.SaveBills(ctx, userService.ID, bills, debt)

	hasURLBills := false
	for _, b := range bills {
		if b.URL != "" {
			hasURLBills = true
			break
		}
	}

	return schemas.SearchResult{
		Debt:       debt,
		Bills:      bills,
		SaveResult: saveResult,
		// Extraction runs when there is anything new to parse, when the save
		// failed (so nothing was recorded yet), or when URL bills still need
		// downloading.
		ShouldExtract: saveResult.NewBillsSaved || !saveResult.Success || hasURLBills,
	}
}

// isRestartable reports whether the failure is worth a fresh attempt.
// Browser, captcha, and sequence failures are transient by assumption;
// anything else (cancellation, backend auth) is not.
func isRestartable(err error) bool {
	return scrapererr.IsKind(err, scrapererr.KindBrowser) ||
		scrapererr.IsKind(err, scrapererr.KindCaptcha) ||
		scrapererr.IsKind(err, scrapererr.KindScraping)
}
