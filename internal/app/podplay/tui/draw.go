package tui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"podplay/internal/app/podplay/keys"
	"podplay/internal/app/podplay/player"
	"podplay/internal/app/podplay/podcast"
	"podplay/internal/app/podplay/view"
)

// rows taken by header, search, chips and options above the list
const topRows = 5

// rows taken by recently played strip and player bar below the list
const bottomRows = 4

var (
	styleDefault  = tcell.StyleDefault
	styleTitle    = tcell.StyleDefault.Bold(true)
	styleDim      = tcell.StyleDefault.Dim(true)
	styleCursor   = tcell.StyleDefault.Reverse(true)
	styleSelected = tcell.StyleDefault.Foreground(tcell.ColorGreen).Bold(true)
	styleButton   = tcell.StyleDefault.Foreground(tcell.ColorAqua)
	styleError    = tcell.StyleDefault.Foreground(tcell.ColorRed)
)

func (u *UI) draw() {
	s := u.screen
	s.Clear()
	u.hits = u.hits[:0]
	w, h := s.Size()

	u.drawHeader(w)
	u.drawSearch(w)
	u.drawChips(w)
	u.drawOptions(w)
	u.drawList(w, topRows, h-topRows-bottomRows)
	u.drawRecent(w, h-bottomRows)
	u.drawPlayer(w, h-bottomRows+1)
	s.Show()
}

func (u *UI) drawHeader(w int) {
	title := "Podcast"
	if f, err := u.app.Feed(); err == nil && f.Title != "" {
		title = f.Title
	}
	drawText(u.screen, 0, 0, w, styleTitle, title)
	if count := u.app.CountLine(); count != "" {
		drawText(u.screen, w-len(count), 0, w, styleDim, count)
	}
}

func (u *UI) drawSearch(w int) {
	label := "/ search: "
	style := styleDim
	if u.focus.Editable() {
		style = styleDefault
	}
	x := drawText(u.screen, 0, 1, w, style, label)
	x = drawText(u.screen, x, 1, w, styleDefault, u.search)
	if u.focus.Editable() {
		u.screen.SetContent(x, 1, ' ', nil, styleCursor)
	}
	u.addHit(0, x+1, 1, func() { u.focus = keys.FocusTextInput })
}

// drawChips renders keyword filters, digits toggle them and 0 clears all
func (u *UI) drawChips(w int) {
	keywords := u.app.Keywords()
	if len(keywords) == 0 {
		return
	}
	q := u.app.Query()
	x := drawText(u.screen, 0, 2, w, styleDim, "keywords: ")
	for i, k := range keywords {
		label := fmt.Sprintf("[%d %s]", i+1, k)
		if i >= 9 {
			label = fmt.Sprintf("[%s]", k)
		}
		style := styleButton
		if q.HasKeyword(k) {
			style = styleSelected.Reverse(true)
		}
		keyword := k
		x = u.button(x, 2, w, style, label, func() {
			u.app.ToggleKeyword(keyword)
			u.resetCursor()
		}) + 1
	}
	if len(q.Keywords) > 0 {
		u.button(x, 2, w, styleButton, "[0 clear all]", func() {
			u.app.ClearKeywords()
			u.resetCursor()
		})
	}
}

func (u *UI) drawOptions(w int) {
	q := u.app.Query()
	played := "[h show played]"
	if q.ShowPlayed {
		played = "[h hide played]"
	}
	x := u.button(0, 3, w, styleButton, played, func() {
		u.app.ToggleShowPlayed()
		u.resetCursor()
	}) + 1

	order := "[o newest first]"
	if q.Sort == view.SortOldest {
		order = "[o oldest first]"
	}
	x = u.button(x, 3, w, styleButton, order, u.toggleSort) + 2

	total := u.app.TotalPages()
	if total <= 1 {
		return
	}
	x = u.button(x, 3, w, styleButton, "[< prev]", func() { u.turnPage(-1) }) + 1
	x = drawText(u.screen, x, 3, w, styleDefault, fmt.Sprintf("page %d of %d", u.app.Page(), total)) + 1
	u.button(x, 3, w, styleButton, "[next >]", func() { u.turnPage(1) })
}

// drawList renders the active page, rows positions are published for the locator
func (u *UI) drawList(w, top, height int) {
	if height < 1 {
		height = 1
	}
	items := u.app.PageItems()

	u.mu.Lock()
	u.height = height
	u.rows = make(map[string]int, len(items))
	for i, ep := range items {
		u.rows[ep.ID] = i
	}
	if len(items) > 0 {
		u.cursor = clampInt(u.cursor, 0, len(items)-1)
		u.offset = clampInt(u.offset, 0, max(len(items)-height, 0))
	}
	cursor, offset, loading := u.cursor, u.offset, u.loading
	u.mu.Unlock()

	if len(items) == 0 {
		drawText(u.screen, 2, top+1, w, u.emptyStyle(loading), u.emptyMessage(loading))
		return
	}

	var current string
	if cur, err := u.app.Player().Current(); err == nil {
		current = cur.ID
	}
	for i := offset; i < len(items) && i-offset < height; i++ {
		ep := items[i]
		y := top + i - offset
		style := styleDefault
		if i == cursor && u.focus == keys.FocusList {
			style = styleCursor
		}
		drawText(u.screen, 0, y, w, style, u.row(ep, ep.ID == current, w))
		episode := ep
		u.addHit(0, w, y, func() { u.app.Select(episode) })
	}
}

func (u *UI) emptyMessage(loading bool) string {
	if loading {
		return "Loading episodes..."
	}
	if _, err := u.app.Feed(); err != nil {
		return "Podcast data is unavailable right now. Press r to retry."
	}
	return "No episodes match the current filters."
}

func (u *UI) emptyStyle(loading bool) tcell.Style {
	if _, err := u.app.Feed(); err != nil && !loading {
		return styleError
	}
	return styleDim
}

// row is one list line: now playing mark, played badge, title, date and duration
func (u *UI) row(ep podcast.Episode, current bool, w int) string {
	mark := "  "
	if current {
		mark = "> "
	}
	badge := "    "
	if u.app.IsPlayed(ep.ID) {
		badge = "[x] "
	}

	var meta []string
	if t, ok := ep.Published(); ok {
		meta = append(meta, t.Format("Jan 2, 2006"))
	}
	if d, ok := ep.DurationSeconds(); ok {
		meta = append(meta, podcast.FormatDuration(d))
	}
	suffix := ""
	if len(meta) > 0 {
		suffix = "  " + strings.Join(meta, " | ")
	}

	title := ep.Title
	room := w - len(mark) - len(badge) - len(suffix)
	if rs := []rune(title); room > 3 && len(rs) > room {
		title = string(rs[:room-3]) + "..."
	}
	return mark + badge + title + suffix
}

func (u *UI) drawRecent(w, y int) {
	recent := u.app.RecentlyPlayed()
	if len(recent) == 0 {
		return
	}
	x := drawText(u.screen, 0, y, w, styleDim, "recent: ")
	for i, ep := range recent {
		style := styleButton
		if u.focus == keys.FocusButton && i == u.recent {
			style = styleCursor
		}
		id := ep.ID
		x = u.button(x, y, w, style, "["+ep.Title+"]", func() { u.playRecent(id) }) + 1
	}
}

// drawPlayer renders now playing line, progress and buttons
func (u *UI) drawPlayer(w, y int) {
	snap := u.app.Player().Snapshot()
	if !snap.Active() {
		drawText(u.screen, 0, y, w, styleDim, "nothing playing, Enter plays the episode under cursor")
		return
	}

	x := drawText(u.screen, 0, y, w, styleTitle, snap.State.String()+" ")
	x = drawText(u.screen, x, y, w, styleDefault, snap.Episode.Title)
	if status := u.app.Status(); status != "" {
		drawText(u.screen, x+2, y, w, styleError, status)
	}

	elapsed := podcast.FormatClock(snap.CurrentTime)
	total := podcast.FormatClock(snap.Duration)
	x = drawText(u.screen, 0, y+1, w, styleDefault, elapsed+" ")
	barWidth := w - x - len(total) - 1
	if barWidth > 0 {
		filled := 0
		if snap.Duration > 0 {
			filled = int(float64(barWidth) * snap.CurrentTime / snap.Duration)
		}
		bar := strings.Repeat("=", filled) + strings.Repeat("-", barWidth-filled)
		x = drawText(u.screen, x, y+1, w, styleButton, bar) + 1
	}
	drawText(u.screen, x, y+1, w, styleDefault, total)

	skip := fmt.Sprintf("%g", u.skip)
	toggle := "[play]"
	if snap.IsPlaying {
		toggle = "[pause]"
	}
	mute := "[mute]"
	if snap.IsMuted {
		mute = "[unmute]"
	}
	ctl := u.app.Player()
	x = u.button(0, y+2, w, styleButton, "[-"+skip+"]", func() { ctl.Skip(-u.skip) }) + 1
	x = u.button(x, y+2, w, styleButton, toggle, ctl.TogglePlayPause) + 1
	x = u.button(x, y+2, w, styleButton, "[+"+skip+"]", func() { ctl.Skip(u.skip) }) + 1
	x = u.button(x, y+2, w, styleButton, mute, ctl.ToggleMute) + 1
	x = u.button(x, y+2, w, styleButton, "[close]", u.app.ClosePlayer) + 2
	drawText(u.screen, x, y+2, w, styleDim, fmt.Sprintf("vol %d%%", volumePercent(snap)))
}

// button draws a clickable label and returns x after it
func (u *UI) button(x, y, w int, style tcell.Style, label string, fn func()) int {
	end := drawText(u.screen, x, y, w, style, label)
	u.addHit(x, end, y, fn)
	return end
}

func (u *UI) addHit(x0, x1, y int, fn func()) {
	u.hits = append(u.hits, hit{x0: x0, x1: x1, y: y, fn: fn})
}

func volumePercent(s player.Session) int {
	if s.IsMuted {
		return 0
	}
	return int(s.Volume*100 + 0.5)
}

// drawText puts text at x,y clipped to width w and returns x after the last cell
func drawText(s tcell.Screen, x, y, w int, style tcell.Style, text string) int {
	if x < 0 {
		x = 0
	}
	for _, r := range text {
		if x >= w {
			break
		}
		s.SetContent(x, y, r, nil, style)
		x++
	}
	return x
}
