package player

import "context"

// EventKind of transport event
type EventKind int

const (
	// EventMetadata reports known duration, the stream is ready to play
	EventMetadata EventKind = iota
	// EventTime reports playback position
	EventTime
	// EventPlaying reports the transport started or resumed on its own
	EventPlaying
	// EventPaused reports the transport paused on its own
	EventPaused
	// EventEnded reports natural end of media
	EventEnded
	// EventError reports load or playback failure
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMetadata:
		return "metadata"
	case EventTime:
		return "time"
	case EventPlaying:
		return "playing"
	case EventPaused:
		return "paused"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event emitted by a Stream
type Event struct {
	Kind     EventKind
	Duration float64 // seconds, EventMetadata
	Time     float64 // seconds, EventTime
	Err      error   // EventError
}

// Transport is the audio engine, opens one stream per session
type Transport interface {
	// Open starts loading url. Metadata arrives later as EventMetadata.
	Open(ctx context.Context, url string) (Stream, error)
}

// Stream is a loaded audio resource bound to a single session
type Stream interface {
	// Events delivers transport events, closed after Close
	Events() <-chan Event
	// Play starts playback, an error means the environment rejected it
	Play() error
	Pause() error
	Seek(seconds float64) error
	// SetVolume in [0,1]
	SetVolume(v float64) error
	Close() error
}
