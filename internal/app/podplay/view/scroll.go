package view

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/go-pkgz/lgr"
	"podplay/internal/app/podplay/podcast"
)

// Align of the element inside viewport
type Align int

// alignments
const (
	AlignCenter Align = iota
	AlignTop
)

// Pager is the active page of the list, 1-based
type Pager interface {
	Page() int
	SetPage(page int)
}

// Element is a rendered list row
type Element interface {
	ScrollIntoView(align Align, smooth bool)
}

// Locator finds rendered row of an episode, false until the row is on screen
type Locator interface {
	Locate(episodeID string) (Element, bool)
}

// ScrollTarget is where the selected episode lives in the list
type ScrollTarget struct {
	EpisodeID   string
	Index       int
	DesiredPage int
}

// Target finds id in unpaginated ordered list, false if it is filtered out
func Target(ordered []podcast.Episode, id string, pageSize int) (ScrollTarget, bool) {
	for i, ep := range ordered {
		if ep.ID == id {
			return ScrollTarget{EpisodeID: id, Index: i, DesiredPage: PageOf(i, pageSize)}, true
		}
	}
	return ScrollTarget{}, false
}

var errNotRendered = errors.New("row not rendered yet")

// Synchronizer keeps the selected episode on the active page and scrolled into view
type Synchronizer struct {
	PageSize int
	Attempts uint
	Frame    time.Duration

	pager   Pager
	locator Locator
	log     lgr.L

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSynchronizer makes Synchronizer with 20 attempts one frame (16ms) apart
func NewSynchronizer(pager Pager, locator Locator, pageSize int, l lgr.L) *Synchronizer {
	if l == nil {
		l = lgr.Default()
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Synchronizer{
		PageSize: pageSize,
		Attempts: 20,
		Frame:    16 * time.Millisecond,
		pager:    pager,
		locator:  locator,
		log:      l,
	}
}

// Sync switches page if needed and scrolls to the episode row once rendered.
// Returns false if the episode is not in the list or the row never showed up.
func (s *Synchronizer) Sync(ctx context.Context, ordered []podcast.Episode, id string) bool {
	target, ok := Target(ordered, id, s.PageSize)
	if !ok {
		s.log.Logf("[DEBUG] episode %s not in the list, no scroll", id)
		return false
	}

	if s.pager.Page() != target.DesiredPage {
		s.pager.SetPage(target.DesiredPage)
	}

	var el Element
	err := retry.Do(
		func() error {
			e, found := s.locator.Locate(id)
			if !found {
				return errNotRendered
			}
			el = e
			return nil
		},
		retry.Attempts(s.Attempts),
		retry.Delay(s.Frame),
		retry.MaxDelay(s.Frame),
		retry.MaxJitter(time.Millisecond),
		retry.Context(ctx),
	)
	if err != nil {
		// best effort, give up silently
		s.log.Logf("[DEBUG] row of %s not rendered after %d attempts", id, s.Attempts)
		return false
	}

	el.ScrollIntoView(AlignCenter, true)
	return true
}

// Start runs Sync in background, a previous run still retrying is cancelled.
// The returned channel receives the Sync result.
func (s *Synchronizer) Start(ordered []podcast.Episode, id string) <-chan bool {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	res := make(chan bool, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		res <- s.Sync(ctx, ordered, id)
	}()
	return res
}

// Stop cancels a running sync and waits for it
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}
