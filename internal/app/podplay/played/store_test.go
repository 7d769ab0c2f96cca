package played

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"podplay/internal/app/podplay/storage"
)

// memKV is in-memory storage.KV with failure injection
type memKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	writes  int
	failPut bool
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (m *memKV) PutAll(values map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("disk full")
	}
	for k, v := range values {
		m.data[k] = v
	}
	m.writes++
	return nil
}

func (m *memKV) Close() error { return nil }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newStore(kv storage.KV) (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	return Open(kv, WithClock(clock.Now), WithLogger(lgr.NoOp)), clock
}

func TestToggleTwiceRestoresState(t *testing.T) {
	kv := newMemKV()
	s, _ := newStore(kv)

	assert.True(t, s.TogglePlayed("ep1"))
	assert.True(t, s.IsPlayed("ep1"))
	_, ok := s.Timestamp("ep1")
	assert.True(t, ok)

	assert.False(t, s.TogglePlayed("ep1"))
	assert.False(t, s.IsPlayed("ep1"))
	_, ok = s.Timestamp("ep1")
	assert.False(t, ok, "timestamp removed together with membership")

	assert.JSONEq(t, `[]`, string(kv.data[EpisodesKey]))
	assert.JSONEq(t, `{}`, string(kv.data[TimestampsKey]))
	assert.Equal(t, 2, kv.writes, "every mutation persists synchronously")
}

func TestMarkAsPlayingOnlyRefreshesTimestamp(t *testing.T) {
	s, _ := newStore(newMemKV())

	s.MarkAsPlaying("ep1")
	first, ok := s.Timestamp("ep1")
	require.True(t, ok)

	s.MarkAsPlaying("ep1")
	second, ok := s.Timestamp("ep1")
	require.True(t, ok)

	assert.True(t, s.IsPlayed("ep1"))
	assert.True(t, second.After(first))
	assert.Equal(t, []string{"ep1"}, s.Played())
}

func TestRecentlyPlayed(t *testing.T) {
	s, _ := newStore(newMemKV())
	for _, id := range []string{"a", "b", "c", "d"} {
		s.MarkAsPlaying(id)
	}
	s.MarkAsPlaying("a")

	assert.Equal(t, []string{"a", "d", "c"}, s.RecentlyPlayed(3))
	assert.Equal(t, []string{"a", "d", "c", "b"}, s.RecentlyPlayed(10))
	assert.Empty(t, s.RecentlyPlayed(0))
	assert.NotNil(t, s.RecentlyPlayed(0))
	assert.Empty(t, s.RecentlyPlayed(-1))
}

func TestRecentlyPlayedTiesAreDeterministic(t *testing.T) {
	kv := newMemKV()
	kv.data[EpisodesKey] = []byte(`["z","y","x"]`)
	kv.data[TimestampsKey] = []byte(`{"z":5,"y":5,"x":5}`)
	s, _ := newStore(kv)

	for i := 0; i < 20; i++ {
		assert.Equal(t, []string{"x", "y", "z"}, s.RecentlyPlayed(3))
	}
}

func TestLoadPersisted(t *testing.T) {
	kv := newMemKV()
	s, _ := newStore(kv)
	s.MarkAsPlaying("ep1")
	s.TogglePlayed("ep2")

	reloaded, _ := newStore(kv)
	assert.True(t, reloaded.IsPlayed("ep1"))
	assert.True(t, reloaded.IsPlayed("ep2"))
	assert.Equal(t, []string{"ep2", "ep1"}, reloaded.RecentlyPlayed(5))
}

func TestLoadCorrupt(t *testing.T) {
	tbl := []struct {
		name   string
		ids    string
		stamps string
		played []string
	}{
		{"garbage ids", `not json`, `{"a":1}`, []string{}},
		{"garbage stamps", `["a"]`, `{{{`, []string{"a"}},
		{"wrong type", `{"a":1}`, `{"a":1}`, []string{}},
		{"stray timestamp", `["a"]`, `{"a":1,"b":2}`, []string{"a"}},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			kv := newMemKV()
			kv.data[EpisodesKey] = []byte(tt.ids)
			kv.data[TimestampsKey] = []byte(tt.stamps)
			s, _ := newStore(kv)
			assert.Equal(t, tt.played, s.Played())
			assert.False(t, s.IsPlayed("b"))
		})
	}
}

func TestPersistFailureIsAbsorbed(t *testing.T) {
	kv := newMemKV()
	kv.failPut = true
	s, _ := newStore(kv)

	assert.True(t, s.TogglePlayed("ep1"))
	assert.True(t, s.IsPlayed("ep1"), "in-memory state stays authoritative")
	s.MarkAsPlaying("ep2")
	assert.Equal(t, []string{"ep2", "ep1"}, s.RecentlyPlayed(5))
	assert.Empty(t, kv.data, "nothing persisted")
}

func TestSubscribe(t *testing.T) {
	s, _ := newStore(newMemKV())

	calls := 0
	release := s.Subscribe(func() { calls++ })
	s.MarkAsPlaying("a")
	s.TogglePlayed("a")
	assert.Equal(t, 2, calls)

	release()
	release()
	s.MarkAsPlaying("b")
	assert.Equal(t, 2, calls)
}

func TestStoreWithBolt(t *testing.T) {
	db, err := storage.NewBoltDB(filepath.Join(t.TempDir(), "podplay.bdb"))
	require.NoError(t, err)
	defer db.Close()

	s := Open(db, WithLogger(lgr.NoOp))
	s.MarkAsPlaying("ep1")

	data, err := db.Get(EpisodesKey)
	require.NoError(t, err)
	assert.JSONEq(t, `["ep1"]`, string(data))

	assert.True(t, Open(db, WithLogger(lgr.NoOp)).IsPlayed("ep1"))
}
