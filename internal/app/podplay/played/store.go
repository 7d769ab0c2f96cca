// Package played tracks which episodes were listened to and when.
//
// The played set and the last-played timestamps are one record: an id is played
// exactly when it has a timestamp. Both are persisted on every mutation, in one
// storage transaction, under the keys used by the web client so stored state stays
// human-inspectable.
package played

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"podplay/internal/app/podplay/storage"
)

const (
	// EpisodesKey holds JSON array of played episode ids
	EpisodesKey = "podcast-played-episodes"
	// TimestampsKey holds JSON object of episode id to unix millis
	TimestampsKey = "podcast-played-timestamps"
)

// Store of played episodes
type Store struct {
	kv    storage.KV
	log   lgr.L
	clock func() time.Time

	mu     sync.RWMutex
	record map[string]int64

	subMu  sync.Mutex
	subs   map[int]func()
	nextID int
}

// Option customizes Store
type Option func(s *Store)

// WithClock sets time source used for timestamps
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger sets logger
func WithLogger(l lgr.L) Option {
	return func(s *Store) { s.log = l }
}

// Open loads persisted state. Missing or corrupt data results in an empty store.
func Open(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		log:    lgr.Default(),
		clock:  time.Now,
		record: map[string]int64{},
		subs:   map[int]func(){},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.record = s.load()
	return s
}

// IsPlayed reports whether id is in played set
func (s *Store) IsPlayed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.record[id]
	return ok
}

// Timestamp of the last time id was marked played
func (s *Store) Timestamp(id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.record[id]
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Played returns all played ids, sorted
func (s *Store) Played() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]string, 0, len(s.record))
	for id := range s.record {
		res = append(res, id)
	}
	sort.Strings(res)
	return res
}

// TogglePlayed flips membership and returns the new state
func (s *Store) TogglePlayed(id string) bool {
	s.mu.Lock()
	_, played := s.record[id]
	if played {
		delete(s.record, id)
	} else {
		s.record[id] = s.clock().UnixMilli()
	}
	s.persistLocked()
	s.mu.Unlock()

	s.notify()
	return !played
}

// MarkAsPlaying adds id to played set if absent and refreshes its timestamp. Never removes.
func (s *Store) MarkAsPlaying(id string) {
	s.mu.Lock()
	s.record[id] = s.clock().UnixMilli()
	s.persistLocked()
	s.mu.Unlock()

	s.notify()
}

// RecentlyPlayed returns up to limit ids, most recent first
func (s *Store) RecentlyPlayed(limit int) []string {
	if limit <= 0 {
		return []string{}
	}

	s.mu.RLock()
	type entry struct {
		id string
		ts int64
	}
	entries := make([]entry, 0, len(s.record))
	for id, ts := range s.record {
		entries = append(entries, entry{id: id, ts: ts})
	}
	s.mu.RUnlock()

	// map iteration is random, pre-sort by id so equal timestamps keep a fixed order
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ts > entries[j].ts })

	if len(entries) > limit {
		entries = entries[:limit]
	}
	res := make([]string, len(entries))
	for i, e := range entries {
		res[i] = e.id
	}
	return res
}

// Subscribe registers fn called after every mutation. Release is safe to call many times.
func (s *Store) Subscribe(fn func()) (release func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// persistLocked writes the whole record, caller holds s.mu.
// Failures are logged only, in-memory state stays authoritative.
func (s *Store) persistLocked() {
	ids := make([]string, 0, len(s.record))
	for id := range s.record {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	idsData, err := json.Marshal(ids)
	if err != nil {
		s.log.Logf("[WARN] can't encode played episodes, %v", err)
		return
	}
	tsData, err := json.Marshal(s.record)
	if err != nil {
		s.log.Logf("[WARN] can't encode played timestamps, %v", err)
		return
	}

	if err = s.kv.PutAll(map[string][]byte{EpisodesKey: idsData, TimestampsKey: tsData}); err != nil {
		s.log.Logf("[WARN] can't persist played episodes, %v", err)
	}
}

func (s *Store) load() map[string]int64 {
	result := map[string]int64{}

	var ids []string
	if !s.readJSON(EpisodesKey, &ids) {
		return result
	}

	stamps := map[string]int64{}
	if !s.readJSON(TimestampsKey, &stamps) {
		stamps = map[string]int64{}
	}

	// set is the source of truth for membership, stray timestamps are dropped
	for _, id := range ids {
		result[id] = stamps[id]
	}
	if known := countKnown(result, stamps); known < len(stamps) {
		s.log.Logf("[DEBUG] dropped %d timestamps without played episode", len(stamps)-known)
	}

	s.log.Logf("[INFO] loaded %d played episodes", len(result))
	return result
}

func (s *Store) readJSON(key string, v interface{}) bool {
	data, err := s.kv.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Logf("[WARN] can't read %s, %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.log.Logf("[WARN] corrupt %s ignored, %v", key, err)
		return false
	}
	return true
}

func countKnown(record, stamps map[string]int64) int {
	n := 0
	for id := range stamps {
		if _, ok := record[id]; ok {
			n++
		}
	}
	return n
}
