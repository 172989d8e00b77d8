// internal/interpreter/interpreter_test.go
package interpreter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/factuscan/factuscan/api/schemas"
	"github.com/factuscan/factuscan/internal/scrapererr"
)

// fakeSession is a scripted PageSession. Selectors listed in missing fail
// their visibility wait; texts, hrefs, and attrs script the read methods.
type fakeSession struct {
	mu       sync.Mutex
	location string
	missing  map[string]bool
	texts    map[string]string
	hrefs    map[string][]string
	attrs    map[string]string

	calls      []string
	fills      map[string][]string
	evaluated  []string
	closed     bool
	awaitedExt bool
}

func newFakeSession(location string) *fakeSession {
	return &fakeSession{
		location: location,
		missing:  make(map[string]bool),
		texts:    make(map[string]string),
		hrefs:    make(map[string][]string),
		attrs:    make(map[string]string),
		fills:    make(map[string][]string),
	}
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	f.record("navigate " + url)
	f.mu.Lock()
	f.location = url
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Location(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.location, nil
}

func (f *fakeSession) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	if f.missing[sel] {
		return scrapererr.Scraping("element not visible", nil)
	}
	return nil
}

func (f *fakeSession) Fill(ctx context.Context, sel, value string) error {
	f.record("fill " + sel)
	f.mu.Lock()
	f.fills[sel] = append(f.fills[sel], value)
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Click(ctx context.Context, sel string) error {
	f.record("click " + sel)
	return nil
}

func (f *fakeSession) ClickAll(ctx context.Context, sel string) error {
	f.record("clickall " + sel)
	return nil
}

func (f *fakeSession) FirstText(ctx context.Context, sel string) (string, error) {
	text, ok := f.texts[sel]
	if !ok {
		return "", scrapererr.Scraping("no element", nil)
	}
	return text, nil
}

func (f *fakeSession) Hrefs(ctx context.Context, sel string) ([]string, error) {
	f.record("hrefs " + sel)
	return f.hrefs[sel], nil
}

func (f *fakeSession) Attribute(ctx context.Context, sel, name string) (string, error) {
	v, ok := f.attrs[sel+" "+name]
	if !ok {
		return "", scrapererr.Scraping("no attribute", nil)
	}
	return v, nil
}

func (f *fakeSession) SubmitForms(ctx context.Context, sel string, offsets []int, pause time.Duration) error {
	f.record("submitforms " + sel)
	return nil
}

func (f *fakeSession) Evaluate(ctx context.Context, script string, res interface{}) error {
	f.mu.Lock()
	f.evaluated = append(f.evaluated, script)
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) AwaitExternalCaptcha(ctx context.Context, timeout time.Duration) error {
	f.mu.Lock()
	f.awaitedExt = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// fakeFactory hands out pre-built sessions in order, tracking how many were
// opened and with which variant.
type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	opened   int
	remotes  []bool
}

func (f *fakeFactory) New(ctx context.Context, remote bool, sink schemas.DownloadSink) (schemas.PageSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened >= len(f.sessions) {
		return nil, errors.New("no more scripted sessions")
	}
	s := f.sessions[f.opened]
	f.opened++
	f.remotes = append(f.remotes, remote)
	return s, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saves [][]schemas.Bill
	debts []bool
}

func (f *fakeStore) SaveBills(ctx context.Context, userServiceID string, bills []schemas.Bill, debt bool) schemas.SaveResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, bills)
	f.debts = append(f.debts, debt)
	return schemas.SaveResult{Success: true, Message: "ok", NewBillsSaved: len(bills) > 0}
}

type fakeSolver struct {
	token   string
	sitekey string
}

func (f *fakeSolver) Solve(ctx context.Context, pageURL, sitekey string) (string, error) {
	f.sitekey = sitekey
	if f.token == "" {
		return "", scrapererr.Captcha("no token", nil)
	}
	return f.token, nil
}

func newTestInterpreter(factory *fakeFactory, solver *fakeSolver, store *fakeStore, opts Options) *Interpreter {
	return New(factory, solver, store, opts, zap.NewNop())
}

func userService() schemas.UserService {
	return schemas.UserService{ID: "us-1", CustomerNumber: "0123456789"}
}

func idAction(elem schemas.ElementType, id string) schemas.Action {
	return schemas.Action{
		ElementType: elem,
		Selector:    schemas.SelectorSpec{Kind: schemas.SelectorID, Content: id},
	}
}

func TestSearchVisitsActionsInOrder(t *testing.T) {
	session := newFakeSession("https://prov.example/portal")
	factory := &fakeFactory{sessions: []*fakeSession{session}}
	store := &fakeStore{}

	cfg := schemas.ScrapingConfig{
		URL: "https://prov.example/portal",
		Sequence: []schemas.Action{
			idAction(schemas.ElementInput, "nic"),
			idAction(schemas.ElementButton, "submit"),
			idAction(schemas.ElementButton, "next"),
		},
	}

	result, err := newTestInterpreter(factory, &fakeSolver{}, store, Options{}).
		Search(context.Background(), cfg, userService())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"navigate https://prov.example/portal",
		"fill #nic",
		"click #submit",
		"click #next",
	}, session.calls)
	assert.True(t, session.closed)
	assert.True(t, result.SaveResult.Success)
	assert.Equal(t, 1, factory.opened)
}

func TestInputSlicesReassembleCustomerNumber(t *testing.T) {
	session := newFakeSession("https://prov.example")
	factory := &fakeFactory{sessions: []*fakeSession{session}}

	sized := func(id string, size int) schemas.Action {
		a := idAction(schemas.ElementInput, id)
		a.Size = size
		return a
	}
	cfg := schemas.ScrapingConfig{
		URL: "https://prov.example",
		Sequence: []schemas.Action{
			sized("branch", 3),
			sized("account", 5),
			sized("check", 2),
		},
	}

	_, err := newTestInterpreter(factory, &fakeSolver{}, &fakeStore{}, Options{}).
		Search(context.Background(), cfg, userService())
	require.NoError(t, err)

	joined := session.fills["#branch"][0] + session.fills["#account"][0] + session.fills["#check"][0]
	assert.Equal(t, "0123456789", joined)
}

func TestDebtDetection(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantDebt bool
	}{
		{"no debt message matches", "no debt for this account", false},
		{"debt message", "you owe $50", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeSession("https://prov.example")
			session.texts["#status"] = tt.text
			factory := &fakeFactory{sessions: []*fakeSession{session}}

			action := idAction(schemas.ElementSpan, "status")
			action.Debt = true
			action.NoDebtText = "no debt"
			cfg := schemas.ScrapingConfig{URL: "https://prov.example", Sequence: []schemas.Action{action}}

			result, err := newTestInterpreter(factory, &fakeSolver{}, &fakeStore{}, Options{}).
				Search(context.Background(), cfg, userService())
			require.NoError(t, err)
			assert.Equal(t, tt.wantDebt, result.Debt)
		})
	}
}

func TestDebtElementMissingMeansDebt(t *testing.T) {
	session := newFakeSession("https://prov.example")
	factory := &fakeFactory{sessions: []*fakeSession{session}}

	action := idAction(schemas.ElementDiv, "status")
	action.Debt = true
	action.NoDebtText = "sin deuda"
	cfg := schemas.ScrapingConfig{URL: "https://prov.example", Sequence: []schemas.Action{action}}

	result, err := newTestInterpreter(factory, &fakeSolver{}, &fakeStore{}, Options{}).
		Search(context.Background(), cfg, userService())
	require.NoError(t, err)
	assert.True(t, result.Debt)
}

func TestLinkExtractionResolvesAgainstOrigin(t *testing.T) {
	session := newFakeSession("https://prov.example/portal/bills.html")
	session.hrefs[".pdf-link"] = []string{"descargas/f1.pdf", "/docs/f2.pdf", ""}
	factory := &fakeFactory{sessions: []*fakeSession{session}}
	store := &fakeStore{}

	action := schemas.Action{
		ElementType: schemas.ElementAnchor,
		Selector:    schemas.SelectorSpec{Kind: schemas.SelectorRaw, Content: ".pdf-link"},
		Query:       true,
	}
	cfg := schemas.ScrapingConfig{
		URL: "https://prov.example/portal/bills.html",
		Sequence: []schemas.Action{
			idAction(schemas.ElementInput, "nic"),
			idAction(schemas.ElementButton, "submit"),
			action,
		},
	}

	result, err := newTestInterpreter(factory, &fakeSolver{}, store, Options{}).
		Search(context.Background(), cfg, userService())
	require.NoError(t, err)

	assert.Equal(t, []schemas.Bill{
		{URL: "https://prov.example/descargas/f1.pdf"},
		{URL: "https://prov.example/docs/f2.pdf"},
	}, result.Bills)
	assert.True(t, result.ShouldExtract)

	// One inline save plus the finalizing save.
	require.Len(t, store.saves, 2)
	assert.Len(t, store.saves[0], 2)
}

func TestConsecutiveFailuresRestartOnce(t *testing.T) {
	mkSession := func() *fakeSession {
		s := newFakeSession("https://prov.example")
		for _, sel := range []string{"#a2", "#a3", "#a4", "#a5"} {
			s.missing[sel] = true
		}
		return s
	}
	first, second := mkSession(), mkSession()
	factory := &fakeFactory{sessions: []*fakeSession{first, second}}

	cfg := schemas.ScrapingConfig{
		URL: "https://prov.example",
		Sequence: []schemas.Action{
			idAction(schemas.ElementButton, "a1"),
			idAction(schemas.ElementButton, "a2"),
			idAction(schemas.ElementButton, "a3"),
			idAction(schemas.ElementButton, "a4"),
			idAction(schemas.ElementButton, "a5"),
		},
	}

	_, err := newTestInterpreter(factory, &fakeSolver{}, &fakeStore{}, Options{MaxAttempts: 2}).
		Search(context.Background(), cfg, userService())

	// Four consecutive selector misses abandon the attempt; the bounded
	// retry opens exactly one more session, which fails the same way.
	require.Error(t, err)
	assert.True(t, scrapererr.IsKind(err, scrapererr.KindScraping))
	assert.Equal(t, 2, factory.opened)
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}

func TestSingleFailureDoesNotRestart(t *testing.T) {
	session := newFakeSession("https://prov.example")
	session.missing["#flaky"] = true
	factory := &fakeFactory{sessions: []*fakeSession{session}}

	cfg := schemas.ScrapingConfig{
		URL: "https://prov.example",
		Sequence: []schemas.Action{
			idAction(schemas.ElementButton, "a1"),
			idAction(schemas.ElementButton, "flaky"),
			idAction(schemas.ElementButton, "a3"),
		},
	}

	_, err := newTestInterpreter(factory, &fakeSolver{}, &fakeStore{}, Options{}).
		Search(context.Background(), cfg, userService())
	require.NoError(t, err)
	assert.Equal(t, 1, factory.opened)
	assert.Contains(t, session.calls, "click #a3")
}

func TestInlineCaptchaProtocol(t *testing.T) {
	session := newFakeSession("https://prov.example/login")
	session.attrs[".g-recaptcha data-sitekey"] = "site-key-123"
	factory := &fakeFactory{sessions: []*fakeSession{session}}
	solver := &fakeSolver{token: "tok-xyz"}

	cfg := schemas.ScrapingConfig{
		URL:     "https://prov.example/login",
		Captcha: true,
		CaptchaSequence: []schemas.CaptchaStep{
			{Kind: schemas.SelectorID, Content: "nic"},
			{Kind: schemas.SelectorRaw, Content: ".g-recaptcha"},
			{Kind: schemas.SelectorID, Content: "consultar"},
		},
	}

	_, err := newTestInterpreter(factory, solver, &fakeStore{}, Options{}).
		Search(context.Background(), cfg, userService())
	require.NoError(t, err)

	assert.Equal(t, "site-key-123", solver.sitekey)
	assert.Equal(t, []string{"0123456789"}, session.fills["#nic"])
	require.Len(t, session.evaluated, 1)
	assert.Contains(t, session.evaluated[0], "tok-xyz")
	assert.Contains(t, session.evaluated[0], "g-recaptcha-response")
	assert.Contains(t, session.calls, "click #consultar")
	// The inline protocol runs in a locally launched browser.
	assert.Equal(t, []bool{false}, factory.remotes)
}

func TestExternalCaptchaUsesRemoteVariant(t *testing.T) {
	session := newFakeSession("https://prov.example")
	factory := &fakeFactory{sessions: []*fakeSession{session}}

	cfg := schemas.ScrapingConfig{URL: "https://prov.example", Captcha: true}

	_, err := newTestInterpreter(factory, &fakeSolver{}, &fakeStore{}, Options{}).
		Search(context.Background(), cfg, userService())
	require.NoError(t, err)

	assert.Equal(t, []bool{true}, factory.remotes)
	assert.True(t, session.awaitedExt)
}

func TestCaptchaFailureRestarts(t *testing.T) {
	first := newFakeSession("https://prov.example/login")
	second := newFakeSession("https://prov.example/login")
	second.attrs[".g-recaptcha data-sitekey"] = "site-key"
	factory := &fakeFactory{sessions: []*fakeSession{first, second}}

	cfg := schemas.ScrapingConfig{
		URL:     "https://prov.example/login",
		Captcha: true,
		CaptchaSequence: []schemas.CaptchaStep{
			{Kind: schemas.SelectorID, Content: "nic"},
			{Kind: schemas.SelectorRaw, Content: ".g-recaptcha"},
			{Kind: schemas.SelectorID, Content: "consultar"},
		},
	}

	// First session has no sitekey attribute, so the captcha phase fails
	// and the run restarts with a fresh session.
	_, err := newTestInterpreter(factory, &fakeSolver{token: "tok"}, &fakeStore{}, Options{}).
		Search(context.Background(), cfg, userService())
	require.NoError(t, err)
	assert.Equal(t, 2, factory.opened)
	assert.True(t, first.closed)
}

func TestDownloadedContentBecomesBill(t *testing.T) {
	// The factory hands the run state to the session as its download sink;
	// identical intercepted documents collapse into one content bill.
	state := newRunState(zap.NewNop())
	state.OnDownload("factura.pdf", "FACTURA TOTAL $ 1.234,56")
	state.OnDownload("factura.pdf", "FACTURA TOTAL $ 1.234,56")

	bills, _ := state.snapshot()
	require.Len(t, bills, 1)
	assert.Equal(t, "FACTURA TOTAL $ 1.234,56", bills[0].Content)
}

func TestFormQuerySubmitsEmbeddedForms(t *testing.T) {
	session := newFakeSession("https://prov.example")
	factory := &fakeFactory{sessions: []*fakeSession{session}}

	action := schemas.Action{
		ElementType: schemas.ElementTD,
		Selector:    schemas.SelectorSpec{Kind: schemas.SelectorRaw, Content: "td.descarga"},
		Query:       true,
		Form:        true,
	}
	cfg := schemas.ScrapingConfig{URL: "https://prov.example", Sequence: []schemas.Action{action}}

	_, err := newTestInterpreter(factory, &fakeSolver{}, &fakeStore{}, Options{FormPause: time.Millisecond}).
		Search(context.Background(), cfg, userService())
	require.NoError(t, err)
	assert.Contains(t, session.calls, "submitforms td.descarga")
}

func TestRedirectQueryNavigates(t *testing.T) {
	session := newFakeSession("https://prov.example/step1")
	session.hrefs["#next-page"] = []string{"/step2"}
	factory := &fakeFactory{sessions: []*fakeSession{session}}

	redirect := idAction(schemas.ElementAnchor, "next-page")
	redirect.Query = true
	redirect.Redirect = true
	cfg := schemas.ScrapingConfig{
		URL:      "https://prov.example/step1",
		Sequence: []schemas.Action{redirect},
	}

	_, err := newTestInterpreter(factory, &fakeSolver{}, &fakeStore{}, Options{}).
		Search(context.Background(), cfg, userService())
	require.NoError(t, err)

	var navs []string
	for _, c := range session.calls {
		if strings.HasPrefix(c, "navigate ") {
			navs = append(navs, c)
		}
	}
	assert.Equal(t, []string{
		"navigate https://prov.example/step1",
		"navigate https://prov.example/step2",
	}, navs)
}

func TestModalAbsenceIsNotAFailure(t *testing.T) {
	session := newFakeSession("https://prov.example")
	session.missing["#promo-modal"] = true
	factory := &fakeFactory{sessions: []*fakeSession{session}}

	cfg := schemas.ScrapingConfig{
		URL: "https://prov.example",
		Sequence: []schemas.Action{
			idAction(schemas.ElementModal, "promo-modal"),
			idAction(schemas.ElementButton, "go"),
		},
	}

	_, err := newTestInterpreter(factory, &fakeSolver{}, &fakeStore{}, Options{}).
		Search(context.Background(), cfg, userService())
	require.NoError(t, err)
	assert.Equal(t, 1, factory.opened)
	assert.Contains(t, session.calls, "click #go")
}
