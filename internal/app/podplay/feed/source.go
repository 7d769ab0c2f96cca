// Package feed loads podcast episodes from an RSS feed, a JSON endpoint or a local folder.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/go-pkgz/lgr"
	"podplay/internal/app/podplay/podcast"
)

// DefaultTitle used when the feed has no title
const DefaultTitle = "Dev Talks"

// ErrUnavailable wraps every fetch failure
var ErrUnavailable = errors.New("podcast data unavailable")

// Source of podcast feed
type Source interface {
	Fetch(ctx context.Context) (*podcast.Feed, error)
}

// HTTPError for non-200 responses
type HTTPError struct {
	URL    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.URL, e.Status)
}

// fetcher does GET with retries, shared by http based sources
type fetcher struct {
	client   *http.Client
	log      lgr.L
	attempts uint
	delay    time.Duration
}

func newFetcher(client *http.Client, l lgr.L) fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if l == nil {
		l = lgr.Default()
	}
	return fetcher{client: client, log: l, attempts: 3, delay: 500 * time.Millisecond}
}

// get calls parse with response body, client errors (4xx) are not retried
func (f fetcher) get(ctx context.Context, url, accept string, parse func(r io.Reader) error) error {
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Accept", accept)
			req.Header.Set("User-Agent", "podplay")

			resp, err := f.client.Do(req)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					f.log.Logf("[WARN] can't close response body, %v", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				herr := &HTTPError{URL: url, Status: resp.StatusCode}
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return retry.Unrecoverable(herr)
				}
				return herr
			}

			if err := parse(resp.Body); err != nil {
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Attempts(f.attempts),
		retry.Delay(f.delay),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(f.delay/2+time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			f.log.Logf("[WARN] fetch %s failed, attempt %d, %v", url, n+1, err)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
