// internal/bills/downloader_test.go
package bills_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/factuscan/factuscan/internal/bills"
)

func TestDownloadAllFetchesEveryURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pdf bytes for " + r.URL.Path))
	}))
	defer server.Close()

	d := bills.NewDownloader(zap.NewNop())
	dir, paths, err := d.DownloadAll(context.Background(), []string{
		server.URL + "/f1.pdf",
		server.URL + "/f2.pdf",
		server.URL + "/f3.pdf",
	})
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	require.Len(t, paths, 3)

	for _, path := range paths {
		assert.Equal(t, dir, filepath.Dir(path))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "pdf bytes for ")
	}
}

func TestDownloadAllSkipsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.pdf" {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	d := bills.NewDownloader(zap.NewNop())
	dir, paths, err := d.DownloadAll(context.Background(), []string{
		server.URL + "/good.pdf",
		server.URL + "/broken.pdf",
	})
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	assert.Len(t, paths, 1)
}

func TestDownloadAllEmptyInput(t *testing.T) {
	d := bills.NewDownloader(zap.NewNop())
	dir, paths, err := d.DownloadAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, dir)
	assert.Empty(t, paths)
}

func TestDownloadAllReportsDirEvenWhenAllFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	d := bills.NewDownloader(zap.NewNop())
	dir, paths, err := d.DownloadAll(context.Background(), []string{server.URL + "/a.pdf"})
	require.NoError(t, err)
	require.NotEmpty(t, dir, "the caller must get the directory to clean up")
	defer os.RemoveAll(dir)
	assert.Empty(t, paths)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
