package keys

import (
	"sync"
)

// Player is what the router drives
type Player interface {
	TogglePlayPause()
	Skip(delta float64)
}

// Router binds space to play/pause and arrows to skip while attached to a bus.
// Nothing is routed when focus is in an editable element.
type Router struct {
	player Player
	skip   float64

	mu      sync.Mutex
	release func()
}

// NewRouter makes detached router, skip is seconds per arrow press
func NewRouter(p Player, skip float64) *Router {
	return &Router{player: p, skip: skip}
}

// Attach registers bindings on bus, no-op if already attached
func (r *Router) Attach(b *Bus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.release != nil {
		return
	}
	r.release = b.Listen(r.handle)
}

// Release detaches the router, safe to call when detached
func (r *Router) Release() {
	r.mu.Lock()
	release := r.release
	r.release = nil
	r.mu.Unlock()
	if release != nil {
		release()
	}
}

// Attached reports whether bindings are active
func (r *Router) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.release != nil
}

func (r *Router) handle(ev *Event) {
	if ev.Prevented || ev.Focus.Editable() {
		return
	}
	switch {
	case ev.Key == KeyRune && ev.Rune == ' ':
		ev.Prevent()
		r.player.TogglePlayPause()
	case ev.Key == KeyLeft:
		ev.Prevent()
		r.player.Skip(-r.skip)
	case ev.Key == KeyRight:
		ev.Prevent()
		r.player.Skip(r.skip)
	}
}
