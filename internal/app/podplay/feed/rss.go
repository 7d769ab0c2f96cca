package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-pkgz/lgr"
	"github.com/mmcdole/gofeed"
	"podplay/internal/app/podplay/podcast"
)

// RSS fetches and maps a podcast RSS feed
type RSS struct {
	URL string
	fetcher
}

// NewRSS makes RSS source, nil client means default client with 30s timeout
func NewRSS(url string, client *http.Client, l lgr.L) *RSS {
	return &RSS{URL: url, fetcher: newFetcher(client, l)}
}

// Fetch downloads the feed and converts it
func (r *RSS) Fetch(ctx context.Context) (*podcast.Feed, error) {
	var parsed *gofeed.Feed
	err := r.get(ctx, r.URL, "application/rss+xml, application/xml;q=0.9, */*;q=0.8", func(body io.Reader) error {
		f, err := gofeed.NewParser().Parse(body)
		if err != nil {
			return fmt.Errorf("parse rss: %w", err)
		}
		parsed = f
		return nil
	})
	if err != nil {
		r.log.Logf("[ERROR] can't fetch rss %s, %v", r.URL, err)
		return nil, err
	}

	res := FromRSS(parsed)
	r.log.Logf("[INFO] loaded %d episodes of %q from %s", len(res.Episodes), res.Title, r.URL)
	return res, nil
}

// FromRSS maps parsed feed to podcast.Feed
func FromRSS(f *gofeed.Feed) *podcast.Feed {
	res := &podcast.Feed{
		Title:       strings.TrimSpace(f.Title),
		Description: f.Description,
		ImageURL:    feedImage(f),
		Episodes:    make([]podcast.Episode, 0, len(f.Items)),
	}
	if res.Title == "" {
		res.Title = DefaultTitle
	}

	for i, item := range f.Items {
		ep := podcast.Episode{
			ID:          item.GUID,
			Title:       item.Title,
			Description: item.Content,
			PubDate:     item.Published,
			Link:        item.Link,
		}
		if ep.ID == "" {
			ep.ID = fmt.Sprintf("episode-%d", i)
		}
		if ep.Description == "" {
			ep.Description = item.Description
		}
		if len(item.Enclosures) > 0 && item.Enclosures[0] != nil {
			ep.AudioURL = item.Enclosures[0].URL
		}
		if item.ITunesExt != nil {
			ep.Duration = item.ITunesExt.Duration
			ep.ImageURL = item.ITunesExt.Image
		}
		if ep.ImageURL == "" && item.Image != nil {
			ep.ImageURL = item.Image.URL
		}
		if ep.ImageURL == "" {
			ep.ImageURL = res.ImageURL
		}
		res.Episodes = append(res.Episodes, ep)
	}
	return res
}

func feedImage(f *gofeed.Feed) string {
	if f.ITunesExt != nil && f.ITunesExt.Image != "" {
		return f.ITunesExt.Image
	}
	if f.Image != nil {
		return f.Image.URL
	}
	return ""
}
