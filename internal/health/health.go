package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/snapetech/iptvguide/internal/httpclient"
)

// CheckFeed fetches the XMLTV feed URL with GET (guide hosts routinely
// reject HEAD) and discards the body. Returns nil when the feed answers 200.
func CheckFeed(ctx context.Context, feedURL string) error {
	if feedURL == "" {
		return fmt.Errorf("no feed URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return err
	}
	client := httpclient.WithTimeout(15 * time.Second)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("feed unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// CheckEndpoints hits the local API's health and status routes at baseURL
// and returns the first error or nil. Used by run mode before declaring
// the service ready.
func CheckEndpoints(ctx context.Context, baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	for _, path := range []string{"/healthz", "/status"} {
		url := baseURL + path
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
		}
	}
	return nil
}
