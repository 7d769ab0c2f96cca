package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-pkgz/lgr"
	"podplay/internal/app/podplay/podcast"
)

// API reads the feed from ingestion endpoint GET <base>/api/podcast
type API struct {
	BaseURL string
	fetcher
}

// NewAPI makes API source for base url like http://localhost:8080
func NewAPI(baseURL string, client *http.Client, l lgr.L) *API {
	return &API{BaseURL: strings.TrimSuffix(baseURL, "/"), fetcher: newFetcher(client, l)}
}

// Fetch gets and decodes the feed
func (a *API) Fetch(ctx context.Context) (*podcast.Feed, error) {
	url := a.BaseURL + "/api/podcast"
	res := &podcast.Feed{}
	err := a.get(ctx, url, "application/json", func(body io.Reader) error {
		if err := json.NewDecoder(body).Decode(res); err != nil {
			return fmt.Errorf("decode feed: %w", err)
		}
		return nil
	})
	if err != nil {
		a.log.Logf("[ERROR] can't fetch %s, %v", url, err)
		return nil, err
	}
	if res.Episodes == nil {
		res.Episodes = []podcast.Episode{}
	}
	a.log.Logf("[INFO] loaded %d episodes from %s", len(res.Episodes), url)
	return res, nil
}
