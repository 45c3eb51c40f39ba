// Package track provides the track domain entities.
package track

import "time"

// Track represents a playable track as resolved from the platform catalog.
// Display fields are captured at request time and not live-refreshed.
type Track struct {
	ID           string        // Platform track ID
	Title        string        // Track title
	ProjectTitle string        // Owning project title
	AudioURL     string        // Resolved playable URL
	CoverURL     string        // Cover art URL (optional)
	Duration     time.Duration // Known duration, zero until probed by the output
}

// QueueItem represents a track in the persistent play queue.
type QueueItem struct {
	Track   Track     // Track info captured at enqueue time
	AddedAt time.Time // Time when added to the queue
}

// Descriptor describes a direct (non-queue) playback request. When issued
// from a project's own track list it carries the sibling tracks so
// next/previous can move within that list without touching the queue.
type Descriptor struct {
	Track        Track   // Track to play
	Siblings     []Track // Surrounding track list, empty for a lone track
	SiblingIndex int     // Index of Track within Siblings
}

// HasSiblings reports whether the descriptor carries a surrounding track list.
func (d Descriptor) HasSiblings() bool {
	return len(d.Siblings) > 0
}

// At returns a copy of the descriptor repositioned on sibling i.
// The caller must ensure i is a valid sibling index.
func (d Descriptor) At(i int) Descriptor {
	return Descriptor{
		Track:        d.Siblings[i],
		Siblings:     d.Siblings,
		SiblingIndex: i,
	}
}

// AtStart reports whether the descriptor points at the first sibling.
func (d Descriptor) AtStart() bool {
	return d.SiblingIndex <= 0
}

// AtEnd reports whether the descriptor points at the last sibling.
// A descriptor without siblings is both at start and at end.
func (d Descriptor) AtEnd() bool {
	return d.SiblingIndex >= len(d.Siblings)-1
}
