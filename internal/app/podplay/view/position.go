package view

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"podplay/internal/app/podplay/storage"
)

// ScrollKey stores last vertical offset of the list
const ScrollKey = "podcastScrollPosition"

// ScrollMemory persists list offset, writes are debounced
type ScrollMemory struct {
	kv    storage.KV
	delay time.Duration
	log   lgr.L

	mu      sync.Mutex
	timer   *time.Timer
	pending int
	dirty   bool
	closed  bool

	closeOnce sync.Once
}

// NewScrollMemory makes ScrollMemory, zero delay means 300ms
func NewScrollMemory(kv storage.KV, delay time.Duration, l lgr.L) *ScrollMemory {
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	if l == nil {
		l = lgr.Default()
	}
	return &ScrollMemory{kv: kv, delay: delay, log: l}
}

// Restore returns stored offset, false if nothing stored or unreadable
func (m *ScrollMemory) Restore() (int, bool) {
	data, err := m.kv.Get(ScrollKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.log.Logf("[WARN] can't read scroll position, %v", err)
		}
		return 0, false
	}
	var offset float64
	if err := json.Unmarshal(data, &offset); err != nil || offset < 0 {
		m.log.Logf("[WARN] ignore bad scroll position %q", string(data))
		return 0, false
	}
	return int(offset), true
}

// Remember schedules write of offset, repeated calls within the delay are coalesced
func (m *ScrollMemory) Remember(offset int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.pending = offset
	m.dirty = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.delay, m.Flush)
}

// Flush writes pending offset now
func (m *ScrollMemory) Flush() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if !m.dirty {
		m.mu.Unlock()
		return
	}
	offset := m.pending
	m.dirty = false
	m.mu.Unlock()

	data, err := json.Marshal(offset)
	if err != nil {
		return
	}
	if err := m.kv.PutAll(map[string][]byte{ScrollKey: data}); err != nil {
		m.log.Logf("[WARN] can't save scroll position, %v", err)
	}
}

// Close flushes pending write, later Remember calls are ignored
func (m *ScrollMemory) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.Flush()
	})
}
