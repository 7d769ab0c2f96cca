package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"podplay/internal/app/podplay/podcast"
)

var (
	epA = podcast.Episode{ID: "a", Title: "Episode A", AudioURL: "http://example.com/a.mp3"}
	epB = podcast.Episode{ID: "b", Title: "Episode B", AudioURL: "http://example.com/b.mp3"}
)

type fakeStream struct {
	events chan Event

	mu      sync.Mutex
	closed  bool
	playErr error
	plays   int
	pauses  int
	seeks   []float64
	volumes []float64
}

func (s *fakeStream) Events() <-chan Event { return s.events }

func (s *fakeStream) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	return s.playErr
}

func (s *fakeStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses++
	return nil
}

func (s *fakeStream) Seek(seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeks = append(s.seeks, seconds)
	return nil
}

func (s *fakeStream) SetVolume(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes = append(s.volumes, v)
	return nil
}

// Close keeps the channel open, a misbehaving transport may still emit late events
func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) lastVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.volumes) == 0 {
		return -1
	}
	return s.volumes[len(s.volumes)-1]
}

type fakeTransport struct {
	mu         sync.Mutex
	streams    map[string][]*fakeStream
	gates      map[string]chan struct{}
	openErr    map[string]error
	rejectPlay error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		streams: map[string][]*fakeStream{},
		gates:   map[string]chan struct{}{},
		openErr: map[string]error{},
	}
}

func (f *fakeTransport) Open(_ context.Context, url string) (Stream, error) {
	f.mu.Lock()
	gate := f.gates[url]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[url]; err != nil {
		return nil, err
	}
	st := &fakeStream{events: make(chan Event, 64), playErr: f.rejectPlay}
	f.streams[url] = append(f.streams[url], st)
	return st, nil
}

func (f *fakeTransport) stream(t *testing.T, url string, n int) *fakeStream {
	t.Helper()
	var st *fakeStream
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.streams[url]) < n {
			return false
		}
		st = f.streams[url][n-1]
		return true
	}, time.Second, time.Millisecond, "stream %d of %s", n, url)
	return st
}

type recorder struct {
	mu       sync.Mutex
	finished []string
	errs     []error
	changes  int
}

func (r *recorder) OnChange(Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes++
}

func (r *recorder) OnFinished(ep podcast.Episode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, ep.ID)
}

func (r *recorder) OnError(_ podcast.Episode, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) finishedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.finished...)
}

func (r *recorder) errList() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error{}, r.errs...)
}

func newController(tr Transport) (*Controller, *recorder) {
	rec := &recorder{}
	return New(tr, WithListener(rec), WithLogger(lgr.NoOp)), rec
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Snapshot().State == want },
		time.Second, time.Millisecond, "waiting for state %s, got %s", want, c.Snapshot().State)
}

// startPlaying selects ep and brings it to Playing with given duration
func startPlaying(t *testing.T, c *Controller, tr *fakeTransport, ep podcast.Episode, n int, duration float64) *fakeStream {
	t.Helper()
	c.Select(ep)
	st := tr.stream(t, ep.AudioURL, n)
	st.emit(Event{Kind: EventMetadata, Duration: duration})
	waitState(t, c, Playing)
	return st
}

func TestSelectAutoPlays(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newController(tr)

	assert.Equal(t, Idle, c.Snapshot().State)
	assert.False(t, c.Snapshot().Active())

	tr.gates[epA.AudioURL] = make(chan struct{})
	c.Select(epA)
	snap := c.Snapshot()
	assert.Equal(t, Loading, snap.State)
	require.NotNil(t, snap.Episode)
	assert.Equal(t, "a", snap.Episode.ID)
	assert.Zero(t, snap.CurrentTime)
	assert.False(t, snap.HasCrossedCompletionThreshold)

	close(tr.gates[epA.AudioURL])
	st := tr.stream(t, epA.AudioURL, 1)
	st.emit(Event{Kind: EventMetadata, Duration: 120})
	waitState(t, c, Playing)

	snap = c.Snapshot()
	assert.True(t, snap.IsPlaying)
	assert.InDelta(t, 120, snap.Duration, 0.001)
	assert.Equal(t, 1.0, st.lastVolume(), "initial volume pushed to the new stream")
}

func TestAutoPlayRejected(t *testing.T) {
	tr := newFakeTransport()
	tr.rejectPlay = errors.New("autoplay blocked")
	c, rec := newController(tr)

	c.Select(epA)
	st := tr.stream(t, epA.AudioURL, 1)
	st.emit(Event{Kind: EventMetadata, Duration: 60})
	waitState(t, c, Paused)

	require.Len(t, rec.errList(), 1)
	assert.EqualError(t, rec.errList()[0], "autoplay blocked")

	// explicit user action succeeds
	st.mu.Lock()
	st.playErr = nil
	st.mu.Unlock()
	c.TogglePlayPause()
	assert.Equal(t, Playing, c.Snapshot().State)
}

func TestLoadFailureAndRetry(t *testing.T) {
	tr := newFakeTransport()
	tr.openErr[epA.AudioURL] = errors.New("404")
	c, rec := newController(tr)

	c.Select(epA)
	waitState(t, c, Idle)
	snap := c.Snapshot()
	require.NotNil(t, snap.Episode, "failed session stays visible for retry")
	require.Len(t, rec.errList(), 1)
	assert.ErrorIs(t, rec.errList()[0], ErrLoad)

	c.TogglePlayPause()
	assert.Equal(t, Idle, c.Snapshot().State, "toggle is no-op while idle")

	tr.mu.Lock()
	delete(tr.openErr, epA.AudioURL)
	tr.mu.Unlock()

	c.RequestPlay()
	st := tr.stream(t, epA.AudioURL, 1)
	st.emit(Event{Kind: EventMetadata, Duration: 60})
	waitState(t, c, Playing)
}

func TestCompletionThresholdFiresOnce(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newController(tr)
	st := startPlaying(t, c, tr, epA, 1, 100)

	st.emit(Event{Kind: EventTime, Time: 94})
	st.emit(Event{Kind: EventTime, Time: 96})
	st.emit(Event{Kind: EventTime, Time: 97})
	st.emit(Event{Kind: EventTime, Time: 99})
	st.emit(Event{Kind: EventEnded})
	waitState(t, c, Ended)

	assert.Equal(t, []string{"a"}, rec.finishedIDs())
	snap := c.Snapshot()
	assert.True(t, snap.HasCrossedCompletionThreshold)
	assert.InDelta(t, 100, snap.CurrentTime, 0.001)
}

func TestEndOfMediaTriggersCompletion(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newController(tr)
	st := startPlaying(t, c, tr, epA, 1, 100)

	st.emit(Event{Kind: EventTime, Time: 50})
	st.emit(Event{Kind: EventEnded})
	waitState(t, c, Ended)
	assert.Equal(t, []string{"a"}, rec.finishedIDs())

	// replaying the same session never notifies twice
	c.RequestPlay()
	waitState(t, c, Playing)
	st.emit(Event{Kind: EventTime, Time: 99})
	st.emit(Event{Kind: EventEnded})
	waitState(t, c, Ended)
	assert.Equal(t, []string{"a"}, rec.finishedIDs())
}

func TestThresholdResetsOnNewEpisode(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newController(tr)

	st := startPlaying(t, c, tr, epA, 1, 100)
	st.emit(Event{Kind: EventTime, Time: 96})
	require.Eventually(t, func() bool { return len(rec.finishedIDs()) == 1 }, time.Second, time.Millisecond)

	st = startPlaying(t, c, tr, epB, 1, 100)
	assert.False(t, c.Snapshot().HasCrossedCompletionThreshold)
	st.emit(Event{Kind: EventTime, Time: 96})
	require.Eventually(t, func() bool { return len(rec.finishedIDs()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, rec.finishedIDs())
}

func TestThresholdIgnoredWhilePaused(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newController(tr)
	st := startPlaying(t, c, tr, epA, 1, 100)

	c.TogglePlayPause()
	require.Equal(t, Paused, c.Snapshot().State)
	st.emit(Event{Kind: EventTime, Time: 98})
	require.Eventually(t, func() bool { return c.Snapshot().CurrentTime == 98 }, time.Second, time.Millisecond)
	assert.Empty(t, rec.finishedIDs())
	assert.False(t, c.Snapshot().HasCrossedCompletionThreshold)
}

func TestSelectBeforePreviousLoadCompletes(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newController(tr)

	gate := make(chan struct{})
	tr.gates[epA.AudioURL] = gate
	c.Select(epA)
	startPlaying(t, c, tr, epB, 1, 100)

	close(gate)
	stA := tr.stream(t, epA.AudioURL, 1)
	require.Eventually(t, stA.isClosed, time.Second, time.Millisecond, "late stream of A discarded")

	stA.emit(Event{Kind: EventMetadata, Duration: 10})
	stA.emit(Event{Kind: EventTime, Time: 10})
	stA.emit(Event{Kind: EventEnded})
	time.Sleep(20 * time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, "b", snap.Episode.ID)
	assert.Equal(t, Playing, snap.State)
	assert.InDelta(t, 100, snap.Duration, 0.001)
	assert.Empty(t, rec.finishedIDs())
}

func TestStaleEventsAfterReselect(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newController(tr)

	stA := startPlaying(t, c, tr, epA, 1, 100)
	stA.emit(Event{Kind: EventTime, Time: 40})
	require.Eventually(t, func() bool { return c.Snapshot().CurrentTime == 40 }, time.Second, time.Millisecond)

	c.Select(epB)
	assert.True(t, stA.isClosed(), "previous transport stopped before select returns")

	stA.emit(Event{Kind: EventTime, Time: 99})
	stA.emit(Event{Kind: EventEnded})
	stB := tr.stream(t, epB.AudioURL, 1)
	stB.emit(Event{Kind: EventMetadata, Duration: 300})
	waitState(t, c, Playing)
	time.Sleep(20 * time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, "b", snap.Episode.ID)
	assert.Zero(t, snap.CurrentTime)
	assert.InDelta(t, 300, snap.Duration, 0.001)
	assert.Empty(t, rec.finishedIDs())
}

func TestSeekClamps(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newController(tr)

	c.Seek(30)
	assert.Equal(t, Idle, c.Snapshot().State, "seek without session is no-op")

	st := startPlaying(t, c, tr, epA, 1, 120)

	c.Seek(-5)
	assert.Zero(t, c.Snapshot().CurrentTime)
	c.Seek(500)
	assert.InDelta(t, 120, c.Snapshot().CurrentTime, 0.001)
	c.Seek(42.5)
	assert.InDelta(t, 42.5, c.Snapshot().CurrentTime, 0.001)

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, []float64{0, 120, 42.5}, st.seeks)
}

func TestSkip(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newController(tr)
	st := startPlaying(t, c, tr, epA, 1, 120)

	st.emit(Event{Kind: EventTime, Time: 60})
	require.Eventually(t, func() bool { return c.Snapshot().CurrentTime == 60 }, time.Second, time.Millisecond)

	c.Skip(-KeySkip)
	assert.InDelta(t, 50, c.Snapshot().CurrentTime, 0.001)
	c.Skip(ButtonSkip)
	assert.InDelta(t, 65, c.Snapshot().CurrentTime, 0.001)
	c.Skip(1000)
	assert.InDelta(t, 120, c.Snapshot().CurrentTime, 0.001)
	c.Skip(-1000)
	assert.Zero(t, c.Snapshot().CurrentTime)
}

func TestVolumeAndMute(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newController(tr)

	c.SetVolume(0)
	snap := c.Snapshot()
	assert.True(t, snap.IsMuted)
	assert.Zero(t, snap.Volume)

	c.ToggleMute()
	snap = c.Snapshot()
	assert.False(t, snap.IsMuted)
	assert.InDelta(t, 0.5, snap.Volume, 0.001)

	st := startPlaying(t, c, tr, epA, 1, 120)
	c.SetVolume(0.3)
	c.ToggleMute()
	assert.True(t, c.Snapshot().IsMuted)
	assert.Zero(t, st.lastVolume())
	c.ToggleMute()
	snap = c.Snapshot()
	assert.False(t, snap.IsMuted)
	assert.InDelta(t, 0.3, snap.Volume, 0.0001)
	assert.InDelta(t, 0.3, st.lastVolume(), 0.0001)

	c.SetVolume(1.7)
	assert.Equal(t, 1.0, c.Snapshot().Volume)
	c.SetVolume(-1)
	assert.True(t, c.Snapshot().IsMuted)
}

func TestTogglePlayPause(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newController(tr)
	c.TogglePlayPause()
	assert.Equal(t, Idle, c.Snapshot().State)

	gate := make(chan struct{})
	tr.gates[epA.AudioURL] = gate
	c.Select(epA)
	c.TogglePlayPause()
	assert.Equal(t, Loading, c.Snapshot().State, "no-op while loading")
	close(gate)

	st := tr.stream(t, epA.AudioURL, 1)
	st.emit(Event{Kind: EventMetadata, Duration: 30})
	waitState(t, c, Playing)

	c.TogglePlayPause()
	assert.Equal(t, Paused, c.Snapshot().State)
	c.TogglePlayPause()
	assert.Equal(t, Playing, c.Snapshot().State)

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, 1, st.pauses)
	assert.Equal(t, 2, st.plays)
}

func TestRequestPlayToken(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newController(tr)

	c.RequestPlay()
	assert.Equal(t, uint64(1), c.Snapshot().PlayToken)
	assert.Equal(t, Idle, c.Snapshot().State)

	startPlaying(t, c, tr, epA, 1, 60)
	c.TogglePlayPause()
	require.Equal(t, Paused, c.Snapshot().State)

	c.RequestPlay()
	assert.Equal(t, Playing, c.Snapshot().State)
	c.RequestPlay()
	snap := c.Snapshot()
	assert.Equal(t, Playing, snap.State)
	assert.Equal(t, uint64(3), snap.PlayToken, "repeated requests stay distinct")
}

func TestClose(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newController(tr)
	st := startPlaying(t, c, tr, epA, 1, 60)

	c.Close()
	assert.True(t, st.isClosed())
	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Nil(t, snap.Episode)

	st.emit(Event{Kind: EventEnded})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.finishedIDs())
	assert.Equal(t, Idle, c.Snapshot().State)

	c.Close()
}

func TestTransportErrorWhilePlaying(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newController(tr)
	st := startPlaying(t, c, tr, epA, 1, 60)

	st.emit(Event{Kind: EventError, Err: errors.New("network lost")})
	waitState(t, c, Paused)
	require.Len(t, rec.errList(), 1)
	assert.EqualError(t, rec.errList()[0], "network lost")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "playing", Playing.String())
	assert.Equal(t, "ended", Ended.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.Equal(t, "metadata", EventMetadata.String())
}

func TestCurrent(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newController(tr)

	_, err := c.Current()
	assert.ErrorIs(t, err, ErrNoSession)

	startPlaying(t, c, tr, epA, 1, 60)
	ep, err := c.Current()
	require.NoError(t, err)
	assert.Equal(t, "a", ep.ID)
}

func TestStreamLostWhilePlaying(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newController(tr)
	st := startPlaying(t, c, tr, epA, 1, 100)
	st.emit(Event{Kind: EventTime, Time: 40})
	require.Eventually(t, func() bool { return c.Snapshot().CurrentTime == 40 }, time.Second, time.Millisecond)

	close(st.events)
	waitState(t, c, Paused)
	require.Eventually(t, func() bool { return len(rec.errList()) == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, rec.errList()[0], ErrStreamLost)
	snap := c.Snapshot()
	assert.Equal(t, "a", snap.Episode.ID)
	assert.InDelta(t, 40, snap.CurrentTime, 0.001)

	// dead stream takes no commands
	c.Seek(10)
	c.SetVolume(0.4)
	assert.InDelta(t, 10, c.Snapshot().CurrentTime, 0.001)
	st.mu.Lock()
	assert.Empty(t, st.seeks)
	assert.Equal(t, []float64{1}, st.volumes)
	st.mu.Unlock()

	// play reloads the episode on a new stream
	c.TogglePlayPause()
	st2 := tr.stream(t, epA.AudioURL, 2)
	assert.True(t, st.isClosed())
	st2.emit(Event{Kind: EventMetadata, Duration: 100})
	waitState(t, c, Playing)
	assert.Len(t, rec.errList(), 1)
}

func TestStreamLostAfterTransportError(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newController(tr)
	st := startPlaying(t, c, tr, epA, 1, 100)

	st.emit(Event{Kind: EventError, Err: errors.New("connection reset")})
	close(st.events)
	waitState(t, c, Paused)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, rec.errList(), 1, "loss after an error is not reported twice")
	assert.EqualError(t, rec.errList()[0], "connection reset")

	c.RequestPlay()
	st2 := tr.stream(t, epA.AudioURL, 2)
	st2.emit(Event{Kind: EventMetadata, Duration: 100})
	waitState(t, c, Playing)
}

func TestStreamLostWhileLoading(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newController(tr)

	c.Select(epA)
	st := tr.stream(t, epA.AudioURL, 1)
	close(st.events)
	waitState(t, c, Idle)
	require.Eventually(t, func() bool { return len(rec.errList()) == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, rec.errList()[0], ErrLoad)
	assert.ErrorIs(t, rec.errList()[0], ErrStreamLost)
	require.NotNil(t, c.Snapshot().Episode)

	c.RequestPlay()
	st2 := tr.stream(t, epA.AudioURL, 2)
	st2.emit(Event{Kind: EventMetadata, Duration: 100})
	waitState(t, c, Playing)
}

func TestReplayAfterEndKeepsStream(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newController(tr)
	st := startPlaying(t, c, tr, epA, 1, 100)

	st.emit(Event{Kind: EventEnded})
	waitState(t, c, Ended)
	c.TogglePlayPause()
	assert.Equal(t, Playing, c.Snapshot().State)
	assert.Zero(t, c.Snapshot().CurrentTime)
	assert.Empty(t, rec.errList())

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, []float64{0}, st.seeks)
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Len(t, tr.streams[epA.AudioURL], 1, "replay reuses the open stream")
}
