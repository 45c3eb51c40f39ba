// Package playback provides the coordinator that arbitrates all play
// requests: it exclusively owns the audio output and enforces that at most
// one source is audible at a time.
package playback

import (
	"time"

	"github.com/soundloft/tapedeck/internal/app/broadcast"
	"github.com/soundloft/tapedeck/internal/domain/track"
)

// RepeatMode defines the repeat behavior for direct playback. The queue
// never repeats.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota // Stop at the end of the list
	RepeatOne                   // Replay the current track
	RepeatAll                   // Wrap around the sibling list
)

// String returns the repeat mode name.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of the coordinator.
type Status struct {
	Source     broadcast.Source
	Track      *track.Track // nil when idle
	QueueIndex int          // -1 unless Source is SourceQueue
	Playing    bool
	Position   time.Duration
	Duration   time.Duration
	Repeat     RepeatMode
}
