// Package view derives what the episode list shows: filtering, sorting, pagination,
// and keeping the selected episode scrolled into view.
package view

import (
	"sort"
	"strings"
	"time"

	"podplay/internal/app/podplay/podcast"
)

// DefaultPageSize of the episode list
const DefaultPageSize = 10

// SortOrder of episode list
type SortOrder string

// supported orders
const (
	SortNewest SortOrder = "date-desc"
	SortOldest SortOrder = "date-asc"
)

// DefaultKeywords offered as filter chips when found in episodes
var DefaultKeywords = []string{
	"AI", "Cloud", "DevOps", "Security", "Python", "C#", ".NET",
	"JavaScript", "Frontend", "Backend", "Data", "Azure", "AWS",
}

// Query is the list filter state
type Query struct {
	Search     string
	Keywords   []string
	ShowPlayed bool
	Sort       SortOrder
}

// Filtered reports whether anything narrows the list
func (q Query) Filtered() bool {
	return q.Search != "" || len(q.Keywords) > 0 || !q.ShowPlayed
}

// HasKeyword reports whether k is selected
func (q Query) HasKeyword(k string) bool {
	for _, s := range q.Keywords {
		if s == k {
			return true
		}
	}
	return false
}

// ToggleKeyword returns a copy with k added or removed
func (q Query) ToggleKeyword(k string) Query {
	res := make([]string, 0, len(q.Keywords)+1)
	found := false
	for _, s := range q.Keywords {
		if s == k {
			found = true
			continue
		}
		res = append(res, s)
	}
	if !found {
		res = append(res, k)
	}
	q.Keywords = res
	return q
}

// Apply filters and sorts episodes. isPlayed may be nil.
func (q Query) Apply(episodes []podcast.Episode, isPlayed func(id string) bool) []podcast.Episode {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	res := make([]podcast.Episode, 0, len(episodes))
	for _, ep := range episodes {
		if !q.ShowPlayed && isPlayed != nil && isPlayed(ep.ID) {
			continue
		}
		text := searchText(ep)
		if search != "" && !strings.Contains(text, search) {
			continue
		}
		if !matchAll(text, q.Keywords) {
			continue
		}
		res = append(res, ep)
	}

	newestFirst := q.Sort != SortOldest
	sort.SliceStable(res, func(i, j int) bool {
		ti, tj := pubTime(res[i]), pubTime(res[j])
		if newestFirst {
			return ti.After(tj)
		}
		return ti.Before(tj)
	})
	return res
}

// Paginate returns 1-based page of list
func Paginate(list []podcast.Episode, page, size int) []podcast.Episode {
	if size <= 0 || page < 1 {
		return []podcast.Episode{}
	}
	from := (page - 1) * size
	if from >= len(list) {
		return []podcast.Episode{}
	}
	to := from + size
	if to > len(list) {
		to = len(list)
	}
	return list[from:to]
}

// TotalPages for n items, zero items make zero pages
func TotalPages(n, size int) int {
	if size <= 0 || n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// PageOf returns 1-based page holding index
func PageOf(index, size int) int {
	if size <= 0 || index < 0 {
		return 1
	}
	return index/size + 1
}

// Keywords returns sorted candidates found in title or description of any episode
func Keywords(episodes []podcast.Episode, candidates []string) []string {
	found := map[string]bool{}
	for _, ep := range episodes {
		text := searchText(ep)
		for _, k := range candidates {
			if !found[k] && strings.Contains(text, strings.ToLower(k)) {
				found[k] = true
			}
		}
	}
	res := make([]string, 0, len(found))
	for k := range found {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

func searchText(ep podcast.Episode) string {
	return strings.ToLower(ep.Title + " " + ep.PlainDescription())
}

func matchAll(text string, keywords []string) bool {
	for _, k := range keywords {
		if !strings.Contains(text, strings.ToLower(k)) {
			return false
		}
	}
	return true
}

// pubTime of episode, unknown dates sort as oldest
func pubTime(ep podcast.Episode) time.Time {
	t, _ := ep.Published()
	return t
}
