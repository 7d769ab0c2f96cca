package podcast

import (
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Episode of podcast as delivered by the ingestion endpoint
type Episode struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PubDate     string `json:"pubDate"`
	Duration    string `json:"duration,omitempty"`
	AudioURL    string `json:"audioUrl"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Link        string `json:"link,omitempty"`
	PodLinkURL  string `json:"podLinkUrl,omitempty"`
}

// Feed is a podcast with its flat list of episodes
type Feed struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Episodes    []Episode `json:"episodes"`
}

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02",
}

// Published parses PubDate, false if it is empty or in unknown format
func (e Episode) Published() (time.Time, bool) {
	value := strings.TrimSpace(e.PubDate)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DurationSeconds parses Duration given as "H:MM:SS", "MM:SS" or plain seconds
func (e Episode) DurationSeconds() (float64, bool) {
	return ParseDuration(e.Duration)
}

// PlainDescription returns description with html markup removed
func (e Episode) PlainDescription() string {
	return StripHTML(e.Description)
}

// Find episode by id, nil if absent
func (f *Feed) Find(id string) *Episode {
	if f == nil {
		return nil
	}
	for i := range f.Episodes {
		if f.Episodes[i].ID == id {
			return &f.Episodes[i]
		}
	}
	return nil
}

// StripHTML converts html fragment to collapsed plain text
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// ParseDuration accepts "H:MM:SS", "MM:SS" or seconds, fractional seconds allowed
func ParseDuration(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	parts := strings.Split(value, ":")
	if len(parts) > 3 {
		return 0, false
	}

	var total float64
	for _, part := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

// FormatDuration renders seconds as "1h 5m" or "5m 3s", empty for invalid input
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		return ""
	}
	total := int64(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return strconv.FormatInt(hours, 10) + "h " + strconv.FormatInt(minutes, 10) + "m"
	}
	return strconv.FormatInt(minutes, 10) + "m " + strconv.FormatInt(secs, 10) + "s"
}

// FormatClock renders seconds as "m:ss" for the player bar
func FormatClock(seconds float64) string {
	if seconds < 0 || seconds != seconds || seconds > 1e9 {
		return "0:00"
	}
	total := int64(seconds)
	minutes := total / 60
	secs := total % 60
	if secs < 10 {
		return strconv.FormatInt(minutes, 10) + ":0" + strconv.FormatInt(secs, 10)
	}
	return strconv.FormatInt(minutes, 10) + ":" + strconv.FormatInt(secs, 10)
}
