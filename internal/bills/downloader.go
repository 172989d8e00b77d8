// internal/bills/downloader.go
package bills

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Downloader fetches bill documents referenced by URL into a temp directory.
// The directory is transient: callers must remove it after extraction.
type Downloader struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewDownloader builds a bill document downloader.
func NewDownloader(logger *zap.Logger) *Downloader {
	return &Downloader{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.Named("downloader"),
	}
}

// DownloadAll fetches every URL in parallel into a fresh temp directory and
// returns the directory plus the paths of the files that downloaded
// successfully. Individual failures are logged and skipped; only a context
// cancellation aborts the batch. The caller owns the returned directory.
func (d *Downloader) DownloadAll(ctx context.Context, urls []string) (string, []string, error) {
	if len(urls) == 0 {
		return "", nil, nil
	}

	dir, err := os.MkdirTemp("", "factuscan-bills-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	var (
		mu    sync.Mutex
		paths []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, url := range urls {
		g.Go(func() error {
			path := filepath.Join(dir, fmt.Sprintf("%d.pdf", i+1))
			if err := d.downloadOne(gctx, url, path); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				d.logger.Warn("Bill download failed", zap.String("url", url), zap.Error(err))
				return nil
			}
			mu.Lock()
			paths = append(paths, path)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return dir, paths, err
	}

	d.logger.Info("Downloaded bill documents",
		zap.Int("requested", len(urls)), zap.Int("succeeded", len(paths)))
	return dir, paths, nil
}

func (d *Downloader) downloadOne(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
