// Package player owns the single active audio session: load, play/pause, seek,
// volume, skip and completion detection on top of a Transport.
package player

import (
	"context"
	"errors"
	"sync"

	"github.com/go-pkgz/lgr"
	"podplay/internal/app/podplay/podcast"
)

const (
	// DefaultThreshold is the share of duration treated as "episode finished"
	DefaultThreshold = 0.95
	// ButtonSkip seconds for on-screen skip buttons
	ButtonSkip = 15
	// KeySkip seconds for keyboard arrows
	KeySkip = 10

	unmuteVolume = 0.5
)

var (
	// ErrLoad wraps transport failures reported to Listener.OnError
	ErrLoad = errors.New("can't load episode")
	// ErrNoSession returned when there is no active session
	ErrNoSession = errors.New("no active session")
	// ErrStreamLost reported when the transport stops delivering events of a live session
	ErrStreamLost = errors.New("audio stream lost")
)

// State of playback session
type State int

// Session states
const (
	Idle State = iota
	Loading
	Ready
	Playing
	Paused
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Session is a snapshot of the playback session
type Session struct {
	Episode                       *podcast.Episode
	State                         State
	IsPlaying                     bool
	CurrentTime                   float64
	Duration                      float64
	Volume                        float64
	IsMuted                       bool
	PlayToken                     uint64
	HasCrossedCompletionThreshold bool
}

// Active reports whether a session exists
func (s Session) Active() bool {
	return s.Episode != nil
}

// Listener receives controller notifications, never called under controller lock
type Listener interface {
	OnChange(s Session)
	OnFinished(ep podcast.Episode)
	OnError(ep podcast.Episode, err error)
}

// Controller of playback
type Controller struct {
	transport Transport
	listener  Listener
	log       lgr.L
	threshold float64

	mu        sync.Mutex
	live      *session
	volume    float64
	muted     bool
	playToken uint64
}

type session struct {
	episode     podcast.Episode
	state       State
	currentTime float64
	duration    float64
	crossed     bool
	// lost stream can't take commands, next play reloads the episode
	lost bool

	ctx    context.Context
	cancel context.CancelFunc
	stream Stream
}

// Option customizes Controller
type Option func(c *Controller)

// WithListener sets listener of controller notifications
func WithListener(l Listener) Option {
	return func(c *Controller) { c.listener = l }
}

// WithLogger sets logger
func WithLogger(l lgr.L) Option {
	return func(c *Controller) { c.log = l }
}

// WithThreshold sets completion threshold, ignored outside (0,1]
func WithThreshold(t float64) Option {
	return func(c *Controller) {
		if t > 0 && t <= 1 {
			c.threshold = t
		}
	}
}

// WithVolume sets initial volume
func WithVolume(v float64) Option {
	return func(c *Controller) { c.volume = clamp(v, 0, 1) }
}

// New makes controller in Idle state
func New(transport Transport, opts ...Option) *Controller {
	c := &Controller{
		transport: transport,
		listener:  nopListener{},
		log:       lgr.Default(),
		threshold: DefaultThreshold,
		volume:    1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.muted = c.volume == 0
	return c
}

// Snapshot of the current session
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Current episode of the live session
func (c *Controller) Current() (podcast.Episode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil {
		return podcast.Episode{}, ErrNoSession
	}
	return c.live.episode, nil
}

// Select tears down the previous session and starts loading ep, playback starts once ready
func (c *Controller) Select(ep podcast.Episode) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{episode: ep, state: Loading, ctx: ctx, cancel: cancel}

	c.mu.Lock()
	// events of the old session are dropped from here on, see handle
	old := c.live
	c.live = s
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.teardown(old)
	c.log.Logf("[INFO] select episode %s - %s", ep.ID, ep.Title)
	c.listener.OnChange(snap)

	go c.load(s)
}

// Close tears down the session and returns to Idle
func (c *Controller) Close() {
	c.mu.Lock()
	old := c.live
	c.live = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if old == nil {
		return
	}
	c.teardown(old)
	c.log.Logf("[INFO] player closed, episode %s", old.episode.ID)
	c.listener.OnChange(snap)
}

// RequestPlay asks to play the current session independently of Select.
// Every request bumps PlayToken, so repeated requests are distinct intents.
func (c *Controller) RequestPlay() {
	c.mu.Lock()
	c.playToken++
	s := c.live
	if s == nil {
		c.mu.Unlock()
		return
	}
	state := s.state
	ep := s.episode
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.listener.OnChange(snap)
	switch state {
	case Idle:
		// previous load failed, retry
		c.Select(ep)
	case Ended:
		c.Seek(0)
		c.play(s)
	case Ready, Paused:
		c.play(s)
	}
}

// TogglePlayPause switches Playing and Paused, no-op while Idle or Loading
func (c *Controller) TogglePlayPause() {
	c.mu.Lock()
	s := c.live
	if s == nil {
		c.mu.Unlock()
		return
	}
	state := s.state
	c.mu.Unlock()

	switch state {
	case Playing:
		c.pause(s)
	case Ready, Paused:
		c.play(s)
	case Ended:
		c.Seek(0)
		c.play(s)
	}
}

// Seek to position clamped to [0, duration]; valid once the session is ready
func (c *Controller) Seek(seconds float64) {
	c.mu.Lock()
	s := c.live
	if s == nil || s.stream == nil || s.state == Idle || s.state == Loading {
		c.mu.Unlock()
		return
	}
	s.currentTime = clamp(seconds, 0, s.duration)
	if s.state == Ended {
		s.state = Paused
	}
	target := s.currentTime
	stream, lost := s.stream, s.lost
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.listener.OnChange(snap)
	if lost {
		return
	}
	if err := stream.Seek(target); err != nil {
		c.report(s, "seek", err)
	}
}

// Skip relative to the current position, delta may be negative
func (c *Controller) Skip(delta float64) {
	c.mu.Lock()
	s := c.live
	if s == nil {
		c.mu.Unlock()
		return
	}
	target := s.currentTime + delta
	c.mu.Unlock()

	c.Seek(target)
}

// SetVolume clamps v to [0,1], zero volume means muted
func (c *Controller) SetVolume(v float64) {
	c.mu.Lock()
	c.volume = clamp(v, 0, 1)
	c.muted = c.volume == 0
	c.applyVolumeLocked()
}

// ToggleMute mutes keeping the volume level, unmute restores it or 0.5 if it was zero
func (c *Controller) ToggleMute() {
	c.mu.Lock()
	if c.muted {
		if c.volume <= 0 {
			c.volume = unmuteVolume
		}
		c.muted = false
	} else {
		c.muted = true
	}
	c.applyVolumeLocked()
}

// applyVolumeLocked pushes effective volume to the stream and unlocks c.mu
func (c *Controller) applyVolumeLocked() {
	effective := c.volume
	if c.muted {
		effective = 0
	}
	s := c.live
	var stream Stream
	if s != nil && !s.lost {
		stream = s.stream
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.listener.OnChange(snap)
	if stream != nil {
		if err := stream.SetVolume(effective); err != nil {
			c.report(s, "volume", err)
		}
	}
}

func (c *Controller) load(s *session) {
	stream, err := c.transport.Open(s.ctx, s.episode.AudioURL)

	c.mu.Lock()
	if c.live != s {
		c.mu.Unlock()
		// superseded while loading, late resource is discarded
		if stream != nil {
			_ = stream.Close()
		}
		c.log.Logf("[DEBUG] discard late load of %s", s.episode.ID)
		return
	}

	if err != nil {
		s.state = Idle
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.log.Logf("[WARN] can't load %s from %s, %v", s.episode.ID, s.episode.AudioURL, err)
		c.listener.OnChange(snap)
		c.listener.OnError(s.episode, errors.Join(ErrLoad, err))
		return
	}

	s.stream = stream
	volume := c.volume
	if c.muted {
		volume = 0
	}
	c.mu.Unlock()

	if err := stream.SetVolume(volume); err != nil {
		c.log.Logf("[DEBUG] can't set initial volume, %v", err)
	}
	c.pump(s, stream)
}

func (c *Controller) pump(s *session, stream Stream) {
	events := stream.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.lose(s)
				return
			}
			c.handle(s, ev)
		}
	}
}

func (c *Controller) handle(s *session, ev Event) {
	c.mu.Lock()
	if c.live != s {
		c.mu.Unlock()
		return
	}

	var finished, autoplay bool
	var failure error

	switch ev.Kind {
	case EventMetadata:
		if ev.Duration > 0 {
			s.duration = ev.Duration
		}
		if s.state == Loading {
			s.state = Ready
			autoplay = true
		}
	case EventTime:
		s.currentTime = clamp(ev.Time, 0, s.duration)
		finished = c.crossThresholdLocked(s)
	case EventPlaying:
		if s.state == Ready || s.state == Paused || s.state == Ended {
			s.state = Playing
		}
	case EventPaused:
		if s.state == Playing {
			s.state = Paused
		}
	case EventEnded:
		s.state = Ended
		if s.duration > 0 {
			s.currentTime = s.duration
		}
		if !s.crossed {
			s.crossed = true
			finished = true
		}
	case EventError:
		failure = ev.Err
		if failure == nil {
			failure = errors.New("transport error")
		}
		if s.state == Loading {
			s.state = Idle
			failure = errors.Join(ErrLoad, failure)
		} else if s.state == Playing {
			s.state = Paused
		}
	}

	ep := s.episode
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.listener.OnChange(snap)
	if failure != nil {
		c.log.Logf("[WARN] transport error on %s, %v", ep.ID, failure)
		c.listener.OnError(ep, failure)
	}
	if finished {
		c.log.Logf("[INFO] episode %s finished", ep.ID)
		c.listener.OnFinished(ep)
	}
	if autoplay {
		go c.play(s)
	}
}

// lose marks the stream of a live session dead. Playback stops at the current position,
// the loss is reported unless the transport already sent an error.
func (c *Controller) lose(s *session) {
	c.mu.Lock()
	if c.live != s {
		c.mu.Unlock()
		return
	}
	s.lost = true
	var failure error
	switch s.state {
	case Loading:
		s.state = Idle
		failure = errors.Join(ErrLoad, ErrStreamLost)
	case Ready, Playing:
		s.state = Paused
		failure = ErrStreamLost
	}
	ep := s.episode
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Logf("[WARN] stream of %s lost, state %s", ep.ID, snap.State)
	c.listener.OnChange(snap)
	if failure != nil {
		c.listener.OnError(ep, failure)
	}
}

// crossThresholdLocked marks the session finished once, only while playing
func (c *Controller) crossThresholdLocked(s *session) bool {
	if s.crossed || s.state != Playing || s.duration <= 0 {
		return false
	}
	if s.currentTime/s.duration < c.threshold {
		return false
	}
	s.crossed = true
	return true
}

func (c *Controller) play(s *session) {
	c.mu.Lock()
	if c.live != s || s.stream == nil {
		c.mu.Unlock()
		return
	}
	if s.lost {
		ep := s.episode
		c.mu.Unlock()
		c.log.Logf("[INFO] reload %s, stream was lost", ep.ID)
		c.Select(ep)
		return
	}
	stream := s.stream
	c.mu.Unlock()

	err := stream.Play()

	c.mu.Lock()
	if c.live != s {
		// session changed while the attempt was in flight
		c.mu.Unlock()
		return
	}
	if err != nil {
		if s.state == Ready || s.state == Playing {
			s.state = Paused
		}
	} else {
		s.state = Playing
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.listener.OnChange(snap)
	if err != nil {
		c.log.Logf("[WARN] play of %s rejected, %v", s.episode.ID, err)
		c.listener.OnError(s.episode, err)
	}
}

func (c *Controller) pause(s *session) {
	c.mu.Lock()
	if c.live != s || s.stream == nil {
		c.mu.Unlock()
		return
	}
	stream, lost := s.stream, s.lost
	c.mu.Unlock()

	if !lost {
		if err := stream.Pause(); err != nil {
			c.report(s, "pause", err)
			return
		}
	}

	c.mu.Lock()
	if c.live != s {
		c.mu.Unlock()
		return
	}
	if s.state == Playing {
		s.state = Paused
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.listener.OnChange(snap)
}

// report non-fatal transport error of a live session
func (c *Controller) report(s *session, op string, err error) {
	c.mu.Lock()
	stale := c.live != s
	c.mu.Unlock()
	if stale {
		return
	}
	c.log.Logf("[WARN] %s failed on %s, %v", op, s.episode.ID, err)
	c.listener.OnError(s.episode, err)
}

func (c *Controller) teardown(s *session) {
	if s == nil {
		return
	}
	s.cancel()
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			c.log.Logf("[DEBUG] close stream of %s, %v", s.episode.ID, err)
		}
	}
}

func (c *Controller) snapshotLocked() Session {
	snap := Session{
		State:     Idle,
		Volume:    c.volume,
		IsMuted:   c.muted,
		PlayToken: c.playToken,
	}
	s := c.live
	if s == nil {
		return snap
	}
	ep := s.episode
	snap.Episode = &ep
	snap.State = s.state
	snap.IsPlaying = s.state == Playing
	snap.CurrentTime = s.currentTime
	snap.Duration = s.duration
	snap.HasCrossedCompletionThreshold = s.crossed
	return snap
}

func clamp(v, lo, hi float64) float64 {
	if v != v || v < lo {
		return lo
	}
	// hi <= lo means the upper bound is unknown (duration not loaded yet)
	if hi > lo && v > hi {
		return hi
	}
	return v
}

type nopListener struct{}

func (nopListener) OnChange(Session)               {}
func (nopListener) OnFinished(podcast.Episode)     {}
func (nopListener) OnError(podcast.Episode, error) {}
