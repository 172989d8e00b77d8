// internal/interpreter/captcha.go
package interpreter

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/factuscan/factuscan/api/schemas"
	"github.com/factuscan/factuscan/internal/scrapererr"
	"github.com/factuscan/factuscan/internal/selector"
)

// passCaptcha clears the provider's challenge using whichever protocol the
// plan selects. Any failure here restarts the whole job.
func (i *Interpreter) passCaptcha(ctx context.Context, session schemas.PageSession, plan *schemas.CaptchaPlan, userService schemas.UserService) error {
	switch {
	case plan.Inline != nil:
		return i.solveInline(ctx, session, plan.Inline, userService)
	case plan.External != nil:
		return session.AwaitExternalCaptcha(ctx, plan.External.Timeout)
	default:
		return scrapererr.Captcha("captcha plan has no protocol", nil)
	}
}

// solveInline runs the fixed three-step protocol: fill the customer-number
// field, read the sitekey off the probe element, fetch a token from the
// solver, inject it into the hidden response field, and submit.
func (i *Interpreter) solveInline(ctx context.Context, session schemas.PageSession, inline *schemas.InlineCaptcha, userService schemas.UserService) error {
	if len(inline.Sequence) < 3 {
		return scrapererr.Captcha(
			fmt.Sprintf("captcha sequence has %d steps, need 3", len(inline.Sequence)), nil)
	}
	inputSel := selector.ResolveStep(inline.Sequence[0])
	probeSel := inline.Sequence[1].Content
	submitSel := selector.ResolveStep(inline.Sequence[2])

	if err := session.WaitVisible(ctx, inputSel, defaultCaptchaInputWait); err != nil {
		return scrapererr.Captcha("customer number field not found", err)
	}
	if err := session.Fill(ctx, inputSel, userService.CustomerNumber); err != nil {
		return scrapererr.Captcha("failed to fill customer number", err)
	}

	sitekey, err := session.Attribute(ctx, probeSel, "data-sitekey")
	if err != nil {
		return scrapererr.Captcha("failed to read captcha sitekey", err)
	}

	pageURL, err := session.Location(ctx)
	if err != nil {
		return scrapererr.Captcha("failed to read page url for solver", err)
	}

	token, err := i.solver.Solve(ctx, pageURL, sitekey)
	if err != nil {
		return scrapererr.Captcha("solver failed", err)
	}
	i.logger.Info("Captcha solved", zap.String("page_url", pageURL))

	inject := fmt.Sprintf(
		`document.getElementById('g-recaptcha-response').innerHTML = %s`, jsString(token))
	if err := session.Evaluate(ctx, inject, nil); err != nil {
		return scrapererr.Captcha("failed to inject captcha token", err)
	}

	if err := session.Click(ctx, submitSel); err != nil {
		return scrapererr.Captcha("failed to submit captcha form", err)
	}
	return nil
}
