// Package keys dispatches keyboard events and routes global player bindings.
package keys

import (
	"sync"
)

// Key of an event, printable keys are KeyRune with Event.Rune set
type Key int

// keys
const (
	KeyOther Key = iota
	KeyRune
	KeyLeft
	KeyRight
	KeyUp
	KeyDown
	KeyEnter
	KeyEsc
	KeyTab
	KeyBackspace
	KeyPgUp
	KeyPgDn
)

// Focus is the kind of element holding keyboard focus
type Focus int

// focus kinds
const (
	FocusNone Focus = iota
	FocusButton
	FocusList
	FocusTextInput
	FocusTextArea
	FocusContentEditable
)

// Editable reports whether typing goes into the focused element
func (f Focus) Editable() bool {
	return f == FocusTextInput || f == FocusTextArea || f == FocusContentEditable
}

// Event is a key press with the focus at the moment of the press
type Event struct {
	Key       Key
	Rune      rune
	Focus     Focus
	Prevented bool
}

// Prevent marks the event handled, default action must not run
func (e *Event) Prevent() { e.Prevented = true }

// Handler of key events
type Handler func(ev *Event)

type listener struct {
	id int
	fn Handler
}

// Bus delivers events to listeners in registration order
type Bus struct {
	mu        sync.Mutex
	listeners []listener
	nextID    int
}

// Listen registers fn. Release removes it and is safe to call many times.
func (b *Bus) Listen(fn Handler) (release func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, l := range b.listeners {
				if l.id == id {
					b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Dispatch ev to every listener, listeners are called without the bus lock
func (b *Bus) Dispatch(ev *Event) {
	b.mu.Lock()
	fns := make([]Handler, len(b.listeners))
	for i, l := range b.listeners {
		fns[i] = l.fn
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len is the number of registered listeners
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
