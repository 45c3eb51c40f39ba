// Package output wraps the single audio output resource.
//
// Exactly one Session exists per process and it is owned exclusively by the
// playback coordinator; surfaces never touch it.
package output

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Errors
var (
	// ErrOutputBlocked means the audio device could not be opened or is not
	// permitted. The source is left detached.
	ErrOutputBlocked = errors.New("audio output unavailable")
	// ErrMedia means the track could not be fetched or decoded.
	ErrMedia = errors.New("media load failed")
)

// EventType represents an output event type.
type EventType int

const (
	EventTimeUpdate EventType = iota // Periodic position report while playing
	EventEnded                       // Current source played to its natural end
)

// Event is emitted by a Session while a source is loaded.
type Event struct {
	Type     EventType
	Position time.Duration
	Duration time.Duration
}

// Session is the transport surface of the one audio output.
//
// A failed LoadAndPlay leaves no stale source attached and the session not
// playing. Transport calls with no source loaded are no-ops.
type Session interface {
	// LoadAndPlay fetches the source at url, attaches it, and starts
	// playback. The error is ErrOutputBlocked or ErrMedia (wrapped).
	LoadAndPlay(ctx context.Context, url string) error
	Pause()
	Resume()
	Seek(pos time.Duration) error
	// SetVolume sets the output gain; level is clamped to [0,1].
	SetVolume(level float64)
	Stop()
	Position() time.Duration
	Duration() time.Duration
	// Events delivers time updates and the terminal ended event. Events of
	// a source that has since been replaced are never delivered.
	Events() <-chan Event
	Close()
}
