package podplay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	log "github.com/go-pkgz/lgr"
	"podplay/internal/app/podplay/feed"
	"podplay/internal/app/podplay/keys"
	"podplay/internal/app/podplay/played"
	"podplay/internal/app/podplay/player"
	"podplay/internal/app/podplay/podcast"
	"podplay/internal/app/podplay/storage"
	"podplay/internal/app/podplay/view"
	"podplay/internal/configs"
)

// App wires played store, player, key router and the state of the episode list
type App struct {
	config *configs.Conf
	source feed.Source
	store  *played.Store
	player *player.Controller
	bus    *keys.Bus
	router *keys.Router
	scroll *view.ScrollMemory
	log    log.L

	mu         sync.Mutex
	feed       *podcast.Feed
	feedErr    error
	query      view.Query
	page       int
	status     string
	follower   *view.Synchronizer
	refresh    func()
	unsubStore func()
}

// Deps are external resources of App
type Deps struct {
	Source    feed.Source
	KV        storage.KV
	Transport player.Transport
	Log       log.L
}

// NewApplication makes App, nothing is fetched until Load
func NewApplication(conf *configs.Conf, deps Deps) (*App, error) {
	if deps.Source == nil || deps.KV == nil || deps.Transport == nil {
		return nil, errors.New("source, kv and transport are required")
	}
	l := deps.Log
	if l == nil {
		l = log.Default()
	}

	a := &App{
		config: conf,
		source: deps.Source,
		bus:    &keys.Bus{},
		log:    l,
		query:  view.Query{ShowPlayed: conf.View.ShowPlayed, Sort: view.SortNewest},
		page:   1,
	}
	a.store = played.Open(deps.KV, played.WithLogger(l))
	a.player = player.New(deps.Transport,
		player.WithListener(listener{app: a}),
		player.WithLogger(l),
		player.WithThreshold(conf.Player.Threshold),
		player.WithVolume(conf.Player.Volume),
	)
	a.router = keys.NewRouter(a.player, conf.Player.KeySkip)
	a.scroll = view.NewScrollMemory(deps.KV, conf.View.ScrollDebounce, l)
	a.unsubStore = a.store.Subscribe(a.notify)
	return a, nil
}

// NewSource picks feed source from config: api, then folder, then rss
func NewSource(conf *configs.Conf, l log.L) feed.Source {
	client := &http.Client{Timeout: conf.Feed.Timeout}
	switch {
	case conf.Feed.API != "":
		return feed.NewAPI(conf.Feed.API, client, l)
	case conf.Feed.Folder != "":
		return feed.NewFolder(conf.Feed.Folder, conf.Feed.Title, l)
	default:
		return feed.NewRSS(conf.Feed.RSS, client, l)
	}
}

// AttachView connects the rendered list. Locator finds rendered rows, refresh is called
// on every change that needs redraw, from any goroutine.
func (a *App) AttachView(locator view.Locator, refresh func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.follower = view.NewSynchronizer(a, locator, a.config.View.PageSize, a.log)
	a.refresh = refresh
}

// Load fetches the feed, on failure the previous feed is dropped and Feed reports the error
func (a *App) Load(ctx context.Context) error {
	f, err := a.source.Fetch(ctx)

	a.mu.Lock()
	if err != nil {
		a.feed, a.feedErr = nil, err
	} else {
		a.feed, a.feedErr = f, nil
		a.page = 1
	}
	a.mu.Unlock()

	a.notify()
	if err != nil {
		return err
	}
	a.log.Logf("[INFO] feed %q loaded, %d episodes", f.Title, len(f.Episodes))
	return nil
}

// Feed returns loaded feed or the fetch error
func (a *App) Feed() (*podcast.Feed, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.feedErr != nil {
		return nil, a.feedErr
	}
	if a.feed == nil {
		return nil, feed.ErrUnavailable
	}
	return a.feed, nil
}

// Visible is the filtered and sorted list, not paginated
func (a *App) Visible() []podcast.Episode {
	a.mu.Lock()
	f, q := a.feed, a.query
	a.mu.Unlock()
	if f == nil {
		return []podcast.Episode{}
	}
	return q.Apply(f.Episodes, a.store.IsPlayed)
}

// PageItems is the active page of the visible list
func (a *App) PageItems() []podcast.Episode {
	return view.Paginate(a.Visible(), a.Page(), a.config.View.PageSize)
}

// TotalPages of the visible list
func (a *App) TotalPages() int {
	return view.TotalPages(len(a.Visible()), a.config.View.PageSize)
}

// Page is the active page, 1-based
func (a *App) Page() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.page
}

// SetPage switches active page, clamped to existing pages
func (a *App) SetPage(page int) {
	total := a.TotalPages()
	if page > total {
		page = total
	}
	if page < 1 {
		page = 1
	}

	a.mu.Lock()
	changed := a.page != page
	a.page = page
	a.mu.Unlock()
	if changed {
		a.notify()
	}
}

// CountLine like "7 episodes (of 120 total)"
func (a *App) CountLine() string {
	f, err := a.Feed()
	if err != nil {
		return ""
	}
	visible := len(a.Visible())
	noun := "episodes"
	if visible == 1 {
		noun = "episode"
	}
	if a.Query().Filtered() && visible < len(f.Episodes) {
		return fmt.Sprintf("%d %s (of %d total)", visible, noun, len(f.Episodes))
	}
	return fmt.Sprintf("%d %s", visible, noun)
}

// Keywords found in the feed, offered as filter chips
func (a *App) Keywords() []string {
	f, err := a.Feed()
	if err != nil {
		return []string{}
	}
	candidates := a.config.View.Keywords
	if len(candidates) == 0 {
		candidates = view.DefaultKeywords
	}
	return view.Keywords(f.Episodes, candidates)
}

// Query is the current list filter
func (a *App) Query() view.Query {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.query
}

// SetSearch changes search text
func (a *App) SetSearch(s string) { a.updateQuery(func(q *view.Query) { q.Search = s }) }

// ToggleKeyword adds or removes keyword filter
func (a *App) ToggleKeyword(k string) {
	a.updateQuery(func(q *view.Query) { *q = q.ToggleKeyword(k) })
}

// ClearKeywords removes all keyword filters
func (a *App) ClearKeywords() { a.updateQuery(func(q *view.Query) { q.Keywords = nil }) }

// ToggleShowPlayed shows or hides played episodes
func (a *App) ToggleShowPlayed() { a.updateQuery(func(q *view.Query) { q.ShowPlayed = !q.ShowPlayed }) }

// SetSort changes list order
func (a *App) SetSort(o view.SortOrder) { a.updateQuery(func(q *view.Query) { q.Sort = o }) }

// updateQuery applies fn and goes back to the first page
func (a *App) updateQuery(fn func(q *view.Query)) {
	a.mu.Lock()
	fn(&a.query)
	a.page = 1
	a.mu.Unlock()
	a.notify()
}

// Select starts playback of ep and brings it into view
func (a *App) Select(ep podcast.Episode) {
	if a.config.Player.MarkOnSelect {
		a.store.MarkAsPlaying(ep.ID)
	}

	a.mu.Lock()
	a.status = ""
	a.mu.Unlock()

	a.player.Select(ep)
	a.router.Attach(a.bus)
	a.follow(ep.ID)
}

// SelectByID selects episode of the loaded feed
func (a *App) SelectByID(id string) error {
	ep, err := a.find(id)
	if err != nil {
		return err
	}
	a.Select(ep)
	return nil
}

// PlayRecent plays episode from the recently played strip. The current episode is
// resumed, any other one is selected.
func (a *App) PlayRecent(id string) error {
	ep, err := a.find(id)
	if err != nil {
		return err
	}

	if cur, err := a.player.Current(); err == nil && cur.ID == id {
		a.player.RequestPlay()
		a.router.Attach(a.bus)
		a.follow(id)
		return nil
	}

	a.Select(ep)
	a.player.RequestPlay()
	return nil
}

// TogglePlayed flips played mark of an episode
func (a *App) TogglePlayed(id string) bool {
	return a.store.TogglePlayed(id)
}

// IsPlayed reports played mark of an episode
func (a *App) IsPlayed(id string) bool {
	return a.store.IsPlayed(id)
}

// RecentlyPlayed episodes of the loaded feed, most recent first
func (a *App) RecentlyPlayed() []podcast.Episode {
	res := []podcast.Episode{}
	limit := a.config.View.RecentLimit
	f, err := a.Feed()
	if err != nil || limit <= 0 {
		return res
	}
	for _, id := range a.store.RecentlyPlayed(len(a.store.Played())) {
		if ep := f.Find(id); ep != nil {
			res = append(res, *ep)
		}
		if len(res) == limit {
			break
		}
	}
	return res
}

// ClosePlayer stops playback and detaches key bindings
func (a *App) ClosePlayer() {
	a.router.Release()
	a.player.Close()
}

// Status is the last playback problem, cleared on select
func (a *App) Status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Player controller
func (a *App) Player() *player.Controller { return a.player }

// Bus of key events
func (a *App) Bus() *keys.Bus { return a.bus }

// Scroll remembers list offset
func (a *App) Scroll() *view.ScrollMemory { return a.scroll }

// Close stops everything, storage is owned by the caller
func (a *App) Close() {
	a.mu.Lock()
	follower := a.follower
	a.mu.Unlock()
	if follower != nil {
		follower.Stop()
	}
	a.ClosePlayer()
	a.scroll.Close()
	a.unsubStore()
}

func (a *App) find(id string) (podcast.Episode, error) {
	f, err := a.Feed()
	if err != nil {
		return podcast.Episode{}, err
	}
	ep := f.Find(id)
	if ep == nil {
		return podcast.Episode{}, fmt.Errorf("episode %s not in feed", id)
	}
	return *ep, nil
}

// follow moves the list to the selected episode in background
func (a *App) follow(id string) {
	a.mu.Lock()
	follower := a.follower
	a.mu.Unlock()
	if follower == nil {
		return
	}
	follower.Start(a.Visible(), id)
}

func (a *App) notify() {
	a.mu.Lock()
	fn := a.refresh
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// listener receives player notifications
type listener struct {
	app *App
}

func (l listener) OnChange(player.Session) { l.app.notify() }

// OnFinished marks the episode played, once per session
func (l listener) OnFinished(ep podcast.Episode) {
	l.app.store.MarkAsPlaying(ep.ID)
}

func (l listener) OnError(ep podcast.Episode, err error) {
	l.app.mu.Lock()
	l.app.status = fmt.Sprintf("can't play %q: %v", ep.Title, err)
	l.app.mu.Unlock()
	l.app.notify()
}
