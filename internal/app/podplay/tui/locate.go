package tui

import (
	"podplay/internal/app/podplay/view"
)

// rowElement is a rendered list line of the active page
type rowElement struct {
	ui    *UI
	index int
}

// Locate finds the row of an episode on the last drawn page, called from the scroll synchronizer
func (u *UI) Locate(episodeID string) (view.Element, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	index, ok := u.rows[episodeID]
	if !ok {
		return nil, false
	}
	return rowElement{ui: u, index: index}, true
}

// ScrollIntoView moves the cursor to the row and scrolls the viewport, the offset never
// passes the last full page of rows. A terminal has no animation, smooth is ignored.
func (r rowElement) ScrollIntoView(align view.Align, _ bool) {
	u := r.ui
	u.mu.Lock()
	u.cursor = r.index
	offset := r.index
	if align == view.AlignCenter {
		offset = r.index - u.height/2
	}
	u.setOffsetLocked(clampInt(offset, 0, max(len(u.rows)-u.height, 0)))
	u.mu.Unlock()
	u.refresh()
}
