// Package playlistpanel provides the inline per-project playlist surface.
//
// The panel shows one project's own track list and plays it directly,
// without going through the persistent queue. It owns the repeat flag for
// that direct playback and hands it to the coordinator with each request.
package playlistpanel

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"

	"github.com/soundloft/tapedeck/internal/app/broadcast"
	"github.com/soundloft/tapedeck/internal/app/playback"
	"github.com/soundloft/tapedeck/internal/domain/track"
)

// ErrTrackOutOfRange is returned for an invalid track position.
var ErrTrackOutOfRange = errors.New("track position out of range")

// Settings holds the panel's options.
type Settings struct {
	Repeat string `mapstructure:"repeat"` // "off", "one" or "all"
}

// SettingsFromMap decodes panel settings from the config's free-form map.
func SettingsFromMap(m map[string]any) (Settings, error) {
	var s Settings
	if err := mapstructure.Decode(m, &s); err != nil {
		return s, errors.Wrap(err, "invalid playlist settings")
	}
	switch s.Repeat {
	case "", "off", "one", "all":
	default:
		return s, errors.Newf("invalid repeat mode %q", s.Repeat)
	}
	return s, nil
}

// RepeatMode converts the configured repeat string.
func (s Settings) RepeatMode() playback.RepeatMode {
	switch s.Repeat {
	case "one":
		return playback.RepeatOne
	case "all":
		return playback.RepeatAll
	default:
		return playback.RepeatOff
	}
}

// Panel is an inline playlist surface for a single project.
type Panel struct {
	mu sync.Mutex

	ctrl         *playback.Controller
	projectTitle string
	tracks       []track.Track
	repeat       playback.RepeatMode

	// activeID tracks which row the latest broadcast marked as audible.
	activeID string
	playing  bool
}

// New creates a panel over a project's track list.
func New(ctrl *playback.Controller, projectTitle string, tracks []track.Track, repeat playback.RepeatMode) *Panel {
	return &Panel{
		ctrl:         ctrl,
		projectTitle: projectTitle,
		tracks:       tracks,
		repeat:       repeat,
	}
}

// Play starts direct playback of track i with the full sibling list, so
// next/previous stay within this project.
func (p *Panel) Play(i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i < 0 || i >= len(p.tracks) {
		return ErrTrackOutOfRange
	}
	p.ctrl.SetRepeat(p.repeat)
	return p.ctrl.PlayDirect(track.Descriptor{
		Track:        p.tracks[i],
		Siblings:     p.tracks,
		SiblingIndex: i,
	})
}

// Enqueue adds track i to the persistent queue. Returns false if it is
// already queued.
func (p *Panel) Enqueue(i int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i < 0 || i >= len(p.tracks) {
		return false, ErrTrackOutOfRange
	}
	return p.ctrl.AddToQueue(p.tracks[i]), nil
}

// SetRepeat updates the panel's repeat flag. If this panel's playback is
// active the coordinator is updated immediately.
func (p *Panel) SetRepeat(mode playback.RepeatMode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.repeat = mode
	if p.activeID != "" {
		p.ctrl.SetRepeat(mode)
	}
}

// Apply consumes one broadcast, updating which row renders as active.
func (p *Panel) Apply(m broadcast.Message) {
	if m.Kind != broadcast.KindStateChanged {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.activeID = ""
	p.playing = false
	if m.State == nil || m.State.Source != broadcast.SourceDirect || m.State.Track == nil {
		return
	}
	for _, t := range p.tracks {
		if t.ID == m.State.Track.ID {
			p.activeID = t.ID
			p.playing = m.State.Playing
			return
		}
	}
}

// Render returns the panel as text, one row per track, with the active row
// marked.
func (p *Panel) Render() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (repeat %s)\n", p.projectTitle, p.repeat)
	for i, t := range p.tracks {
		marker := "  "
		if t.ID == p.activeID {
			if p.playing {
				marker = "> "
			} else {
				marker = "||"
			}
		}
		fmt.Fprintf(&sb, "%s %2d. %s\n", marker, i+1, t.Title)
	}
	return sb.String()
}

// Tracks returns the panel's track list.
func (p *Panel) Tracks() []track.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]track.Track, len(p.tracks))
	copy(out, p.tracks)
	return out
}
