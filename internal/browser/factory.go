// internal/browser/factory.go
package browser

import (
	"context"
	"os"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/factuscan/factuscan/api/schemas"
	"github.com/factuscan/factuscan/internal/config"
	"github.com/factuscan/factuscan/internal/scrapererr"
)

// Factory opens page sessions against either a locally launched browser or
// the pre-provisioned remote endpoint. It implements schemas.SessionFactory.
type Factory struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

func NewFactory(cfg config.BrowserConfig, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger.Named("browser"),
	}
}

var _ schemas.SessionFactory = (*Factory)(nil)

// New opens a session. remote selects the remote endpoint variant, used
// when captchas are solved out of band; otherwise an isolated browser
// process is launched for the session.
func (f *Factory) New(ctx context.Context, remote bool, sink schemas.DownloadSink) (schemas.PageSession, error) {
	sessionID := uuid.New().String()
	logger := f.logger.With(zap.String("session_id", sessionID), zap.Bool("remote", remote))

	downloadDir := f.cfg.DownloadDir
	ownsDownloadDir := false
	if downloadDir == "" {
		dir, err := os.MkdirTemp("", "factuscan-dl-")
		if err != nil {
			return nil, scrapererr.Browser("failed to create download dir", err)
		}
		downloadDir = dir
		ownsDownloadDir = true
	}

	cleanupDir := func() {
		if ownsDownloadDir {
			os.RemoveAll(downloadDir)
		}
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if remote {
		if f.cfg.RemoteURL == "" {
			cleanupDir()
			return nil, scrapererr.Browser("no remote browser endpoint configured", nil)
		}
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, f.cfg.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, f.execOptions()...)
	}

	sessionCtx, sessionCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		sessionCancel()
		allocCancel()
	}

	s := &Session{
		id:              sessionID,
		ctx:             sessionCtx,
		cancel:          cancel,
		logger:          logger,
		cfg:             f.cfg,
		remote:          remote,
		downloadDir:     downloadDir,
		ownsDownloadDir: ownsDownloadDir,
	}
	s.capture = newCapture(logger, sink, downloadDir)

	// Establish the CDP connection and wire event capture before any
	// navigation happens, so no early dialog or download is missed.
	if err := chromedp.Run(sessionCtx); err != nil {
		cancel()
		cleanupDir()
		return nil, scrapererr.Browser("failed to connect browser session", err)
	}
	if err := s.capture.attach(sessionCtx); err != nil {
		cancel()
		cleanupDir()
		return nil, scrapererr.Browser("failed to configure event capture", err)
	}

	logger.Info("Browser session opened", zap.String("download_dir", downloadDir))
	return s, nil
}

// execOptions builds the allocator options for the launched variant.
func (f *Factory) execOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if f.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	for _, arg := range f.cfg.Args {
		// Config args come as "--key=value" or "--key".
		key, value, found := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

