// Package broadcast provides the typed publish/subscribe hub that carries
// playback and queue notifications to every mounted surface.
package broadcast

import (
	"time"

	"github.com/soundloft/tapedeck/internal/domain/track"
)

// Source identifies where the audible track came from.
type Source int

const (
	SourceNone   Source = iota // Nothing active
	SourceQueue                // Playing from the persistent queue
	SourceDirect               // Playing a direct descriptor
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceQueue:
		return "queue"
	case SourceDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// Kind represents a broadcast message kind. The set is closed: surfaces can
// only ever receive one of these variants.
type Kind int

const (
	KindStateChanged  Kind = iota // Playback state changed
	KindQueueChanged              // Queue membership changed
	KindQueueFinished             // Queue played through to the end
	KindEnded                     // Direct playback finished naturally
	KindPlaybackError             // A play attempt failed
)

// String returns the string representation of the message kind.
func (k Kind) String() string {
	switch k {
	case KindStateChanged:
		return "state_changed"
	case KindQueueChanged:
		return "queue_changed"
	case KindQueueFinished:
		return "queue_finished"
	case KindEnded:
		return "ended"
	case KindPlaybackError:
		return "playback_error"
	default:
		return "unknown"
	}
}

// State is the playback snapshot carried by KindStateChanged.
type State struct {
	Source     Source
	Track      *track.Track // nil when Source is SourceNone
	QueueIndex int          // -1 unless Source is SourceQueue
	Playing    bool
	Position   time.Duration
	Duration   time.Duration
}

// Message is one broadcast notification. Exactly the fields relevant to
// Kind are populated; the rest are zero.
type Message struct {
	Kind       Kind
	SequenceNo uint64
	State      *State            // KindStateChanged
	Queue      []track.QueueItem // KindQueueChanged
	Reason     string            // KindPlaybackError
}
