// api/schemas/schemas.go
package schemas

import (
	"fmt"
	"time"
)

// ElementType identifies how the interpreter must treat the element an
// action targets. The set is closed: dispatch switches over it exhaustively
// and logs unknown values instead of failing the run.
type ElementType string

const (
	ElementModal     ElementType = "modal"
	ElementInput     ElementType = "input"
	ElementButton    ElementType = "button"
	ElementButtons   ElementType = "buttons"
	ElementAnchor    ElementType = "a"
	ElementDiv       ElementType = "div"
	ElementSpan      ElementType = "span"
	ElementParagraph ElementType = "p"
	ElementTable     ElementType = "table"
	ElementTBody     ElementType = "tbody"
	ElementTD        ElementType = "td"
	ElementList      ElementType = "ul"
	ElementH1        ElementType = "h1"
	ElementH2        ElementType = "h2"
	ElementH3        ElementType = "h3"
	ElementH4        ElementType = "h4"
	ElementH5        ElementType = "h5"
	ElementH6        ElementType = "h6"
)

// IsTextual reports whether the element type is one of the generic text or
// table nodes that support query/debt handling rather than direct interaction.
func (e ElementType) IsTextual() bool {
	switch e {
	case ElementAnchor, ElementDiv, ElementSpan, ElementParagraph, ElementTable,
		ElementTBody, ElementTD, ElementList,
		ElementH1, ElementH2, ElementH3, ElementH4, ElementH5, ElementH6:
		return true
	}
	return false
}

// SelectorKind distinguishes how SelectorSpec.Content is turned into a page query.
type SelectorKind string

const (
	SelectorID    SelectorKind = "id"
	SelectorClass SelectorKind = "class"
	SelectorRaw   SelectorKind = "raw"
)

// SelectorSpec is the declarative element descriptor carried by every action.
// Raw content passes through untouched, so providers can ship full CSS queries.
type SelectorSpec struct {
	Kind    SelectorKind `json:"kind"`
	Content string       `json:"content"`
}

// Action is one declarative step of a scraping sequence. ElementType decides
// which of the optional fields are meaningful; the interpreter ignores the
// rest rather than rejecting the action.
type Action struct {
	ElementType ElementType  `json:"element_type"`
	Selector    SelectorSpec `json:"selector"`
	Query       bool         `json:"query,omitempty"`
	Extra       string       `json:"extra,omitempty"`
	Redirect    bool         `json:"redirect,omitempty"`
	Form        bool         `json:"form,omitempty"`
	Debt        bool         `json:"debt,omitempty"`
	NoDebtText  string       `json:"no_debt_text,omitempty"`
	Size        int          `json:"size,omitempty"`
}

// CaptchaStep is one phase of the fixed three-step inline captcha protocol:
// the customer-number input, the sitekey probe element, and the submit button.
type CaptchaStep struct {
	Kind    SelectorKind `json:"kind"`
	Content string       `json:"content"`
}

// ScrapingConfig is the per-provider recipe. It is immutable for the
// lifetime of one search run.
type ScrapingConfig struct {
	URL             string        `json:"url"`
	Captcha         bool          `json:"captcha"`
	CaptchaSequence []CaptchaStep `json:"captcha_sequence,omitempty"`
	Sequence        []Action      `json:"sequence"`
}

// CaptchaPlan is the sum of the two genuinely different captcha protocols:
// solving inline with an external token service, or waiting for an
// out-of-band solve signalled by the remote browser endpoint.
type CaptchaPlan struct {
	Inline   *InlineCaptcha
	External *ExternalCaptcha
}

// InlineCaptcha solves the challenge programmatically through the solver
// client using the fixed three-step sequence.
type InlineCaptcha struct {
	Sequence []CaptchaStep
}

// ExternalCaptcha waits for a remote/human solver to complete the challenge.
type ExternalCaptcha struct {
	Timeout time.Duration
}

// Plan derives the captcha protocol from the raw config. Returns nil when the
// provider has no captcha at all.
func (c *ScrapingConfig) Plan() *CaptchaPlan {
	if !c.Captcha {
		return nil
	}
	if len(c.CaptchaSequence) > 0 {
		return &CaptchaPlan{Inline: &InlineCaptcha{Sequence: c.CaptchaSequence}}
	}
	return &CaptchaPlan{External: &ExternalCaptcha{Timeout: 10 * time.Second}}
}

// UserService identifies whose bill is being retrieved. CustomerNumber is
// consumed slice by slice by successive input actions.
type UserService struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	ServiceID      string `json:"service_id"`
	CustomerNumber string `json:"customer_number"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// Bill is either a reference to an invoice document (URL) or its already
// extracted text (Content). Exactly one of the two is set.
type Bill struct {
	URL     string `json:"url,omitempty"`
	Content string `json:"content,omitempty"`
}

// Key returns the structural identity used for deduplication. Two bills are
// the same bill iff their keys are equal; there is no fuzzy matching.
func (b Bill) Key() string {
	if b.URL != "" {
		return "url:" + b.URL
	}
	return "content:" + b.Content
}

// ScrappedData is the backend-held aggregate for one user service.
type ScrappedData struct {
	ID              string                 `json:"id"`
	UserServiceID   string                 `json:"user_service_id"`
	BillsURL        []Bill                 `json:"bills_url"`
	ConsumptionData map[string]interface{} `json:"consumption_data,omitempty"`
	Debt            bool                   `json:"debt"`
}

// Service is a provider entry as stored by the backend. Crontab carries the
// provider's scheduling expression; the orchestrator only passes it through.
type Service struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	ScrapingConfig ScrapingConfig `json:"scraping_config"`
	Crontab        string         `json:"crontab,omitempty"`
}

// JobPayload is what the orchestrator hands to one scraping job.
type JobPayload struct {
	Service     Service     `json:"service"`
	UserService UserService `json:"user_service"`
}

// SaveResult summarises one persistence-gateway call.
type SaveResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	NewBillsSaved bool   `json:"new_bills_saved"`
}

// SearchResult is the structured outcome of one interpreter run.
type SearchResult struct {
	Debt          bool       `json:"debt"`
	Bills         []Bill     `json:"bills"`
	SaveResult    SaveResult `json:"save_result"`
	ShouldExtract bool       `json:"should_extract"`
}

// JobResult is what a finished orchestrator job reports back. Jobs always
// resolve to a result, never to an unhandled panic.
type JobResult struct {
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Debt    bool   `json:"debt"`
}

func (r JobResult) String() string {
	return fmt.Sprintf("job %s success=%t debt=%t: %s", r.JobID, r.Success, r.Debt, r.Message)
}
