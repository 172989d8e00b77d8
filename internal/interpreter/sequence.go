// internal/interpreter/sequence.go
package interpreter

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/factuscan/factuscan/api/schemas"
	"github.com/factuscan/factuscan/internal/scrapererr"
	"github.com/factuscan/factuscan/internal/selector"
)

// executeSequence walks the config's actions in strict order. Individual
// failures are absorbed and counted; enough consecutive ones abandon the
// attempt so the caller can restart from scratch.
func (i *Interpreter) executeSequence(ctx context.Context, session schemas.PageSession, cfg schemas.ScrapingConfig, userService schemas.UserService, state *runState) error {
	consecutiveFailures := 0
	// Running cursor over customer_number; successive input actions consume
	// size-width chunks so multi-field account numbers reassemble from one
	// logical identifier.
	cursor := 0

	for idx, action := range cfg.Sequence {
		logger := state.logger.With(
			zap.Int("action", idx),
			zap.String("element_type", string(action.ElementType)),
		)

		if err := ctx.Err(); err != nil {
			return err
		}

		advanced, err := i.executeAction(ctx, session, action, userService, state, cursor)
		if err != nil {
			consecutiveFailures++
			logger.Warn("Action failed",
				zap.Int("consecutive_failures", consecutiveFailures), zap.Error(err))

			if consecutiveFailures >= consecutiveFailureLimit {
				return scrapererr.Scraping("too many consecutive action failures", err)
			}
			continue
		}

		cursor += advanced
		consecutiveFailures = 0
	}
	return nil
}

// executeAction runs one step and reports how far the customer-number
// cursor advanced.
func (i *Interpreter) executeAction(ctx context.Context, session schemas.PageSession, action schemas.Action, userService schemas.UserService, state *runState, cursor int) (advanced int, err error) {
	sel := selector.Resolve(action.Selector)

	if action.ElementType == schemas.ElementModal {
		// The modal may simply not be there; that is not a failure.
		i.dismissModal(ctx, session, sel, state)
		return 0, nil
	}

	if err := session.WaitVisible(ctx, sel, i.opts.ActionWait); err != nil {
		return 0, err
	}

	switch action.ElementType {
	case schemas.ElementInput:
		return i.fillInput(ctx, session, sel, action, userService, cursor)

	case schemas.ElementButton:
		return 0, session.Click(ctx, sel)

	case schemas.ElementButtons:
		// Each click may trigger a download; event capture routes those into
		// the run state as content bills.
		return 0, session.ClickAll(ctx, sel)

	default:
		if !action.ElementType.IsTextual() {
			state.logger.Warn("Unknown element type, skipping",
				zap.String("element_type", string(action.ElementType)))
			return 0, nil
		}
		return 0, i.handleTextual(ctx, session, sel, action, userService, state)
	}
}

// fillInput types the next size-width slice of the customer number into the
// field. Without an explicit size the whole remainder is used.
func (i *Interpreter) fillInput(ctx context.Context, session schemas.PageSession, sel string, action schemas.Action, userService schemas.UserService, cursor int) (int, error) {
	number := userService.CustomerNumber
	if cursor >= len(number) {
		return 0, scrapererr.Scraping("customer number exhausted by input actions", nil)
	}

	size := action.Size
	if size <= 0 || cursor+size > len(number) {
		size = len(number) - cursor
	}
	value := number[cursor : cursor+size]

	if err := session.Fill(ctx, sel, value); err != nil {
		return 0, err
	}
	return size, nil
}

func (i *Interpreter) dismissModal(ctx context.Context, session schemas.PageSession, sel string, state *runState) {
	if err := session.WaitVisible(ctx, sel, i.opts.ActionWait); err != nil {
		state.logger.Debug("Modal not present", zap.String("selector", sel))
		return
	}
	if err := session.Click(ctx, sel); err != nil {
		state.logger.Warn("Failed to dismiss modal", zap.String("selector", sel), zap.Error(err))
	}
}

// handleTextual covers the text and table element types: debt detection and
// the three query shapes (link extraction, redirect, form submission).
func (i *Interpreter) handleTextual(ctx context.Context, session schemas.PageSession, sel string, action schemas.Action, userService schemas.UserService, state *runState) error {
	if action.Debt {
		i.checkDebt(ctx, session, sel, action.NoDebtText, state)
	}

	if !action.Query {
		return nil
	}

	switch {
	case action.Redirect:
		return i.followRedirect(ctx, session, sel)
	case action.Form:
		// Up to three embedded forms at fixed offsets within the matched
		// set; the pause lets server-side document generation finish.
		return session.SubmitForms(ctx, sel, []int{0, 2, 4}, i.opts.FormPause)
	default:
		return i.collectBillLinks(ctx, session, sel, userService, state)
	}
}

// checkDebt reads the first match's text and compares it against the
// configured no-debt pattern. A missing element or any read failure means
// the debt question stays unanswered, which counts as having debt.
func (i *Interpreter) checkDebt(ctx context.Context, session schemas.PageSession, sel, noDebtText string, state *runState) {
	text, err := session.FirstText(ctx, sel)
	if err != nil {
		state.logger.Warn("Debt element not readable, assuming debt", zap.Error(err))
		state.setDebt(true)
		return
	}

	if noDebtText != "" && matchesNoDebt(noDebtText, text) {
		state.setDebt(false)
		return
	}
	state.setDebt(true)
}

// matchesNoDebt treats the configured text as a pattern, falling back to a
// plain substring check when it does not compile.
func matchesNoDebt(pattern, text string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return strings.Contains(text, pattern)
	}
	return re.MatchString(text)
}

// followRedirect navigates to the first matched anchor's href, resolved
// against the current page URL.
func (i *Interpreter) followRedirect(ctx context.Context, session schemas.PageSession, sel string) error {
	hrefs, err := session.Hrefs(ctx, sel)
	if err != nil {
		return err
	}

	var href string
	for _, h := range hrefs {
		if h != "" {
			href = h
			break
		}
	}
	if href == "" {
		return scrapererr.Scraping("redirect target has no href", nil)
	}

	loc, err := session.Location(ctx)
	if err != nil {
		return err
	}
	target, err := resolveHref(loc, href, false)
	if err != nil {
		return scrapererr.Scraping("redirect href does not resolve", err)
	}
	return session.Navigate(ctx, target)
}

// collectBillLinks turns every matched href into a url bill, resolved
// against the page's origin (path stripped), and persists the batch inline
// the first time any links appear.
func (i *Interpreter) collectBillLinks(ctx context.Context, session schemas.PageSession, sel string, userService schemas.UserService, state *runState) error {
	hrefs, err := session.Hrefs(ctx, sel)
	if err != nil {
		return err
	}
	loc, err := session.Location(ctx)
	if err != nil {
		return err
	}

	var bills []schemas.Bill
	for _, href := range hrefs {
		if href == "" {
			continue
		}
		resolved, rerr := resolveHref(loc, href, true)
		if rerr != nil {
			state.logger.Warn("Skipping unresolvable href", zap.String("href", href), zap.Error(rerr))
			continue
		}
		bills = append(bills, schemas.Bill{URL: resolved})
	}
	if len(bills) == 0 {
		return nil
	}

	state.addBills(bills)
	state.logger.Info("Collected bill links", zap.Int("count", len(bills)))

	// First batch is persisted immediately so a later crash does not lose
	// it; the finalizer saves everything again and the gateway deduplicates.
	if state.markSaved() {
		_, debt := state.snapshot()
		result := i.store.SaveBills(ctx, userService.ID, bills, debt)
		if !result.Success {
			state.logger.Warn("Inline bill save failed", zap.String("message", result.Message))
		}
	}
	return nil
}

// resolveHref makes href absolute against base. stripPath resolves against
// the site origin rather than the current page path, matching providers that
// emit root-relative document links.
func resolveHref(base, href string, stripPath bool) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if stripPath {
		baseURL.Path = ""
		baseURL.RawQuery = ""
		baseURL.Fragment = ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// jsString returns s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
