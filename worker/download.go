package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/kaggleboard/backend/assetcache"
)

// NewHTTPDownloadFunc returns a download func that fetches resolved blob URLs
// over HTTP(S). Both the object store and the local media dev server serve
// plain GETs, so one fetcher covers both environments.
func NewHTTPDownloadFunc(client *http.Client) assetcache.DownloadFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, url string, path string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to build request for %s: %w", url, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetching %s returned status %d", url, resp.StatusCode)
		}

		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if _, err := io.Copy(out, resp.Body); err != nil {
			out.Close()
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		return out.Close()
	}
}
