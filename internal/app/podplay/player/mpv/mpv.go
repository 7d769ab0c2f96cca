// Package mpv implements player.Transport on top of an mpv process driven
// through its JSON IPC socket. One process per stream.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/go-pkgz/lgr"
	"podplay/internal/app/podplay/player"
)

const (
	obsDuration = iota + 1
	obsTimePos
	obsPause
	obsEOF
)

// ErrClosed returned by commands sent after Close
var ErrClosed = errors.New("mpv stream closed")

var sockSeq uint64

// Transport starts mpv processes
type Transport struct {
	Binary         string
	SocketDir      string
	StartTimeout   time.Duration
	CommandTimeout time.Duration
	Log            lgr.L
}

// Open launches mpv paused on url and connects to its IPC socket
func (t *Transport) Open(ctx context.Context, url string) (player.Stream, error) {
	bin, err := exec.LookPath(t.binary())
	if err != nil {
		return nil, fmt.Errorf("can't find mpv binary %q: %w", t.binary(), err)
	}

	sock := filepath.Join(t.socketDir(), fmt.Sprintf("podplay-%d-%d.sock", os.Getpid(), atomic.AddUint64(&sockSeq, 1)))
	cmd := exec.Command(bin, args(sock, url)...)
	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("can't start mpv: %w", err)
	}
	t.logger().Logf("[DEBUG] mpv started, pid %d, socket %s", cmd.Process.Pid, sock)

	conn, err := dial(ctx, sock, t.startTimeout())
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		_ = os.Remove(sock)
		return nil, fmt.Errorf("can't connect to mpv: %w", err)
	}

	st := newStream(conn, t.logger(), t.commandTimeout())
	st.onClose = func() { t.reap(cmd, sock) }
	if err = st.observe(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// args of mpv process. The file stays loaded at the end so a finished episode can be
// replayed on the same stream, eof-reached reports the end.
func args(sock, url string) []string {
	return []string{"--no-video", "--no-terminal", "--pause", "--idle=no", "--keep-open=yes",
		"--input-ipc-server=" + sock, url}
}

// reap waits for mpv to quit after the "quit" command and kills it on timeout
func (t *Transport) reap(cmd *exec.Cmd, sock string) {
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	go func() {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.logger().Logf("[WARN] mpv pid %d did not quit, killing", cmd.Process.Pid)
			_ = cmd.Process.Kill()
			<-done
		}
		_ = os.Remove(sock)
	}()
}

func (t *Transport) binary() string {
	if t.Binary == "" {
		return "mpv"
	}
	return t.Binary
}

func (t *Transport) socketDir() string {
	if t.SocketDir == "" {
		return os.TempDir()
	}
	return t.SocketDir
}

func (t *Transport) startTimeout() time.Duration {
	if t.StartTimeout <= 0 {
		return 5 * time.Second
	}
	return t.StartTimeout
}

func (t *Transport) commandTimeout() time.Duration {
	if t.CommandTimeout <= 0 {
		return 3 * time.Second
	}
	return t.CommandTimeout
}

func (t *Transport) logger() lgr.L {
	if t.Log == nil {
		return lgr.Default()
	}
	return t.Log
}

// dial waits for mpv to create the socket
func dial(ctx context.Context, sock string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var conn net.Conn
	err := retry.Do(
		func() error {
			c, err := (&net.Dialer{}).DialContext(ctx, "unix", sock)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		retry.Attempts(50),
		retry.Delay(20*time.Millisecond),
		retry.MaxDelay(250*time.Millisecond),
		retry.MaxJitter(10*time.Millisecond),
		retry.Context(ctx),
	)
	return conn, err
}

type message struct {
	Event     string          `json:"event"`
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Reason    string          `json:"reason"`
	FileError string          `json:"file_error"`
	RequestID int             `json:"request_id"`
	Error     string          `json:"error"`
}

type request struct {
	Command   []interface{} `json:"command"`
	RequestID int           `json:"request_id"`
}

// stream is a single mpv connection
type stream struct {
	conn     net.Conn
	log      lgr.L
	timeout  time.Duration
	events   chan player.Event
	done     chan struct{}
	readerWg sync.WaitGroup
	onClose  func()

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int
	pending map[int]chan error

	closeOnce sync.Once
	failed    atomic.Bool
}

func newStream(conn net.Conn, l lgr.L, timeout time.Duration) *stream {
	s := &stream{
		conn:    conn,
		log:     l,
		timeout: timeout,
		events:  make(chan player.Event, 32),
		done:    make(chan struct{}),
		pending: map[int]chan error{},
	}
	s.readerWg.Add(1)
	go s.read()
	return s
}

func (s *stream) Events() <-chan player.Event { return s.events }

func (s *stream) Play() error { return s.command("set_property", "pause", false) }

func (s *stream) Pause() error { return s.command("set_property", "pause", true) }

func (s *stream) Seek(seconds float64) error {
	return s.command("seek", seconds, "absolute")
}

func (s *stream) SetVolume(v float64) error {
	return s.command("set_property", "volume", v*100)
}

// Close asks mpv to quit, the events channel is closed once the reader exits
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.send("quit")
		close(s.done)
		_ = s.conn.Close()
		s.readerWg.Wait()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

func (s *stream) observe() error {
	props := map[int]string{obsDuration: "duration", obsTimePos: "time-pos", obsPause: "pause", obsEOF: "eof-reached"}
	for id, prop := range props {
		if err := s.command("observe_property", id, prop); err != nil {
			return fmt.Errorf("can't observe %s: %w", prop, err)
		}
	}
	return nil
}

// command sends args and waits for mpv reply
func (s *stream) command(args ...interface{}) error {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	reply := make(chan error, 1)
	s.pending[id] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.write(request{Command: args, RequestID: id}); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	case <-time.After(s.timeout):
		return fmt.Errorf("mpv command %v timed out", args[0])
	}
}

// send writes a command without waiting for reply
func (s *stream) send(args ...interface{}) error {
	return s.write(request{Command: args})
}

func (s *stream) write(req request) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err = s.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("can't write to mpv: %w", err)
	}
	return nil
}

func (s *stream) read() {
	defer s.readerWg.Done()
	defer close(s.events)

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.log.Logf("[DEBUG] skip mpv message %q, %v", scanner.Text(), err)
			continue
		}
		if msg.Event == "" {
			s.reply(msg)
			continue
		}
		if ev, ok := translate(msg); ok {
			s.emit(ev)
		}
	}

	select {
	case <-s.done:
		return
	default:
	}

	// mpv went away without Close
	err := scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	s.log.Logf("[WARN] mpv connection lost, %v", err)
	if !s.failed.Load() {
		s.emit(player.Event{Kind: player.EventError, Err: fmt.Errorf("mpv connection lost: %w", err)})
	}
}

func (s *stream) reply(msg message) {
	s.mu.Lock()
	ch, ok := s.pending[msg.RequestID]
	s.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != "" && msg.Error != "success" {
		ch <- fmt.Errorf("mpv: %s", msg.Error)
		return
	}
	ch <- nil
}

// emit drops time updates when the consumer lags, other events wait for room
func (s *stream) emit(ev player.Event) {
	if ev.Kind == player.EventError {
		s.failed.Store(true)
	}
	if ev.Kind == player.EventTime {
		select {
		case s.events <- ev:
		default:
		}
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func translate(msg message) (player.Event, bool) {
	switch msg.Event {
	case "property-change":
		// properties turn null while nothing is loaded
		if len(msg.Data) == 0 || string(msg.Data) == "null" {
			return player.Event{}, false
		}
		switch msg.ID {
		case obsDuration:
			var d float64
			if err := json.Unmarshal(msg.Data, &d); err != nil || d <= 0 {
				return player.Event{}, false
			}
			return player.Event{Kind: player.EventMetadata, Duration: d}, true
		case obsTimePos:
			var pos float64
			if err := json.Unmarshal(msg.Data, &pos); err != nil {
				return player.Event{}, false
			}
			return player.Event{Kind: player.EventTime, Time: pos}, true
		case obsPause:
			var paused bool
			if err := json.Unmarshal(msg.Data, &paused); err != nil {
				return player.Event{}, false
			}
			if paused {
				return player.Event{Kind: player.EventPaused}, true
			}
			return player.Event{Kind: player.EventPlaying}, true
		case obsEOF:
			var eof bool
			if err := json.Unmarshal(msg.Data, &eof); err != nil || !eof {
				return player.Event{}, false
			}
			return player.Event{Kind: player.EventEnded}, true
		}
	case "end-file":
		switch msg.Reason {
		case "eof":
			return player.Event{Kind: player.EventEnded}, true
		case "error":
			return player.Event{Kind: player.EventError, Err: fmt.Errorf("mpv: %s", msg.FileError)}, true
		}
	}
	return player.Event{}, false
}
