// Package tui is the terminal front of podplay: episode list, filters, player bar and
// recently played strip, rendered with tcell.
package tui

import (
	"context"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/go-pkgz/lgr"
	"podplay/internal/app/podplay"
	"podplay/internal/app/podplay/keys"
	"podplay/internal/app/podplay/podcast"
	"podplay/internal/app/podplay/view"
)

// volumeStep for +/- keys
const volumeStep = 0.1

type quitSignal struct{}

// hit is a clickable region of the last drawn frame
type hit struct {
	x0, x1, y int
	fn        func()
}

// UI runs the screen loop. Rendering and input handling happen on the loop goroutine only,
// row positions are shared with the scroll synchronizer under mu.
type UI struct {
	app    *podplay.App
	screen tcell.Screen
	skip   float64
	log    lgr.L
	ctx    context.Context

	mu      sync.Mutex
	cursor  int
	offset  int
	height  int
	rows    map[string]int
	loading bool

	focus   keys.Focus
	search  string
	recent  int
	hits    []hit
	pressed bool
}

// New makes UI over an initialized or not yet initialized screen. Skip is the player bar
// skip increment in seconds.
func New(app *podplay.App, screen tcell.Screen, skip float64, l lgr.L) *UI {
	if l == nil {
		l = lgr.Default()
	}
	return &UI{
		app:    app,
		screen: screen,
		skip:   skip,
		log:    l,
		ctx:    context.Background(),
		rows:   map[string]int{},
		focus:  keys.FocusList,
		height: 1,
	}
}

// Run initializes the screen, loads the feed in background and serves input until quit
// or ctx cancellation
func (u *UI) Run(ctx context.Context) error {
	if err := u.screen.Init(); err != nil {
		return err
	}
	defer u.screen.Fini()
	u.screen.EnableMouse()
	u.screen.HideCursor()

	u.ctx = ctx
	u.attach()
	stop := make(chan struct{})
	defer close(stop)
	go u.quitOnCancel(ctx, stop)

	u.mu.Lock()
	u.loading = true
	u.mu.Unlock()
	go u.load(ctx)

	u.draw()
	for {
		ev := u.screen.PollEvent()
		if ev == nil {
			return nil
		}
		if !u.handle(ev) {
			u.log.Logf("[INFO] ui closed")
			return nil
		}
		u.draw()
	}
}

// quitOnCancel posts quit event once ctx is done, retried while the event queue is full
func (u *UI) quitOnCancel(ctx context.Context, stop <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-stop:
		return
	}
	for u.screen.PostEvent(tcell.NewEventInterrupt(quitSignal{})) != nil {
		select {
		case <-stop:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// attach connects the ui to the app and restores the list offset of the previous run
func (u *UI) attach() {
	u.app.AttachView(u, u.refresh)
	if offset, ok := u.app.Scroll().Restore(); ok {
		u.mu.Lock()
		u.offset = offset
		u.mu.Unlock()
		u.log.Logf("[DEBUG] restored list offset %d", offset)
	}
}

func (u *UI) load(ctx context.Context) {
	u.mu.Lock()
	u.loading = true
	u.mu.Unlock()

	err := u.app.Load(ctx)

	u.mu.Lock()
	u.loading = false
	u.mu.Unlock()
	if err != nil {
		u.log.Logf("[WARN] can't load podcast, %v", err)
	}
	u.refresh()
}

// refresh asks the loop to redraw, safe from any goroutine
func (u *UI) refresh() {
	_ = u.screen.PostEvent(tcell.NewEventInterrupt(nil))
}

// handle processes one screen event, false means quit
func (u *UI) handle(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		u.screen.Sync()
	case *tcell.EventKey:
		return u.handleKey(ev)
	case *tcell.EventMouse:
		u.handleMouse(ev)
	case *tcell.EventInterrupt:
		if _, ok := ev.Data().(quitSignal); ok {
			return false
		}
	}
	return true
}

// handleKey offers the key to the bus first, the player bindings mark handled keys prevented
func (u *UI) handleKey(ev *tcell.EventKey) bool {
	if ev.Key() == tcell.KeyCtrlC {
		return false
	}

	kev := keyEvent(ev, u.focus)
	u.app.Bus().Dispatch(&kev)
	if kev.Prevented {
		return true
	}

	switch u.focus {
	case keys.FocusTextInput:
		u.searchKey(ev)
		return true
	case keys.FocusButton:
		if u.recentKey(ev) {
			return true
		}
	}
	return u.listKey(ev)
}

func (u *UI) listKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyUp:
		u.moveCursor(-1)
	case tcell.KeyDown:
		u.moveCursor(1)
	case tcell.KeyEnter:
		u.selectCursor()
	case tcell.KeyPgUp:
		u.turnPage(-1)
	case tcell.KeyPgDn:
		u.turnPage(1)
	case tcell.KeyTab:
		if len(u.app.RecentlyPlayed()) > 0 {
			u.focus, u.recent = keys.FocusButton, 0
		}
	case tcell.KeyRune:
		return u.listRune(ev.Rune())
	}
	return true
}

func (u *UI) listRune(r rune) bool {
	player := u.app.Player()
	switch r {
	case 'q':
		return false
	case 'k':
		u.moveCursor(-1)
	case 'j':
		u.moveCursor(1)
	case '[':
		u.turnPage(-1)
	case ']':
		u.turnPage(1)
	case '/':
		u.focus = keys.FocusTextInput
	case 'p':
		if ep, ok := u.cursorEpisode(); ok {
			u.app.TogglePlayed(ep.ID)
		}
	case 'h':
		u.app.ToggleShowPlayed()
		u.resetCursor()
	case 'o':
		u.toggleSort()
	case '0':
		u.app.ClearKeywords()
		u.resetCursor()
	case '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if kw := u.app.Keywords(); int(r-'1') < len(kw) {
			u.app.ToggleKeyword(kw[r-'1'])
			u.resetCursor()
		}
	case 'b':
		player.Skip(-u.skip)
	case 'f':
		player.Skip(u.skip)
	case 'm':
		player.ToggleMute()
	case '+', '=':
		player.SetVolume(player.Snapshot().Volume + volumeStep)
	case '-':
		player.SetVolume(player.Snapshot().Volume - volumeStep)
	case 'c':
		u.app.ClosePlayer()
	case 'r':
		go u.load(u.ctx)
	}
	return true
}

// searchKey edits the search input, the list follows every change
func (u *UI) searchKey(ev *tcell.EventKey) {
	switch ev.Key() {
	case tcell.KeyEnter, tcell.KeyEscape, tcell.KeyTab:
		u.focus = keys.FocusList
		return
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if u.search == "" {
			return
		}
		rs := []rune(u.search)
		u.search = string(rs[:len(rs)-1])
	case tcell.KeyRune:
		u.search += string(ev.Rune())
	default:
		return
	}
	u.app.SetSearch(u.search)
	u.resetCursor()
}

// recentKey navigates the recently played strip, false passes the key to the list
func (u *UI) recentKey(ev *tcell.EventKey) bool {
	recent := u.app.RecentlyPlayed()
	if len(recent) == 0 {
		u.focus = keys.FocusList
		return false
	}
	switch ev.Key() {
	case tcell.KeyTab:
		u.recent = (u.recent + 1) % len(recent)
	case tcell.KeyBacktab:
		u.recent = (u.recent + len(recent) - 1) % len(recent)
	case tcell.KeyEscape:
		u.focus = keys.FocusList
	case tcell.KeyEnter:
		u.playRecent(recent[min(u.recent, len(recent)-1)].ID)
	default:
		return false
	}
	return true
}

func (u *UI) handleMouse(ev *tcell.EventMouse) {
	buttons := ev.Buttons()
	switch {
	case buttons&tcell.WheelUp != 0:
		u.scrollBy(-1)
		return
	case buttons&tcell.WheelDown != 0:
		u.scrollBy(1)
		return
	}

	down := buttons&tcell.Button1 != 0
	if !down || u.pressed {
		u.pressed = down
		return
	}
	u.pressed = true

	x, y := ev.Position()
	for _, h := range u.hits {
		if y == h.y && x >= h.x0 && x < h.x1 {
			h.fn()
			return
		}
	}
}

func (u *UI) selectCursor() {
	ep, ok := u.cursorEpisode()
	if !ok {
		return
	}
	u.app.Select(ep)
}

func (u *UI) playRecent(id string) {
	if err := u.app.PlayRecent(id); err != nil {
		u.log.Logf("[WARN] can't play recent %s, %v", id, err)
	}
}

func (u *UI) toggleSort() {
	order := view.SortOldest
	if u.app.Query().Sort == view.SortOldest {
		order = view.SortNewest
	}
	u.app.SetSort(order)
	u.resetCursor()
}

func (u *UI) turnPage(delta int) {
	u.app.SetPage(u.app.Page() + delta)
	u.resetCursor()
}

func (u *UI) cursorEpisode() (ep podcast.Episode, ok bool) {
	items := u.app.PageItems()
	u.mu.Lock()
	cursor := u.cursor
	u.mu.Unlock()
	if cursor < 0 || cursor >= len(items) {
		return ep, false
	}
	return items[cursor], true
}

func (u *UI) moveCursor(delta int) {
	n := len(u.app.PageItems())
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cursor = clampInt(u.cursor+delta, 0, n-1)
	switch {
	case u.cursor < u.offset:
		u.setOffsetLocked(u.cursor)
	case u.cursor >= u.offset+u.height:
		u.setOffsetLocked(u.cursor - u.height + 1)
	}
}

func (u *UI) scrollBy(delta int) {
	n := len(u.app.PageItems())
	u.mu.Lock()
	defer u.mu.Unlock()
	u.setOffsetLocked(clampInt(u.offset+delta, 0, n-u.height))
}

func (u *UI) resetCursor() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cursor = 0
	u.setOffsetLocked(0)
}

// setOffsetLocked moves the viewport and remembers the offset for the next run
func (u *UI) setOffsetLocked(offset int) {
	if offset < 0 {
		offset = 0
	}
	if offset == u.offset {
		return
	}
	u.offset = offset
	u.app.Scroll().Remember(offset)
}

// keyEvent translates tcell key to the bus event
func keyEvent(ev *tcell.EventKey, focus keys.Focus) keys.Event {
	res := keys.Event{Key: keys.KeyOther, Focus: focus}
	switch ev.Key() {
	case tcell.KeyRune:
		res.Key, res.Rune = keys.KeyRune, ev.Rune()
	case tcell.KeyLeft:
		res.Key = keys.KeyLeft
	case tcell.KeyRight:
		res.Key = keys.KeyRight
	case tcell.KeyUp:
		res.Key = keys.KeyUp
	case tcell.KeyDown:
		res.Key = keys.KeyDown
	case tcell.KeyEnter:
		res.Key = keys.KeyEnter
	case tcell.KeyEscape:
		res.Key = keys.KeyEsc
	case tcell.KeyTab:
		res.Key = keys.KeyTab
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		res.Key = keys.KeyBackspace
	case tcell.KeyPgUp:
		res.Key = keys.KeyPgUp
	case tcell.KeyPgDn:
		res.Key = keys.KeyPgDn
	}
	return res
}

func clampInt(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
