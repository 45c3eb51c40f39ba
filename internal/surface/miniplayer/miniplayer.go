// Package miniplayer renders the persistent now-playing bar.
//
// The bar is a pure surface: it sends intents to the coordinator and
// re-renders from broadcasts, never touching the output or the queue file.
package miniplayer

import (
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/soundloft/tapedeck/internal/app/broadcast"
	"github.com/soundloft/tapedeck/internal/app/playback"
)

// Settings holds the bar's presentational options.
type Settings struct {
	ShowProject bool `mapstructure:"show_project"`
	ShowErrors  bool `mapstructure:"show_errors"`
}

// DefaultSettings returns the bar defaults.
func DefaultSettings() Settings {
	return Settings{ShowProject: true, ShowErrors: true}
}

// SettingsFromMap decodes surface settings from the config's free-form map.
func SettingsFromMap(m map[string]any) (Settings, error) {
	s := DefaultSettings()
	if err := mapstructure.Decode(m, &s); err != nil {
		return s, errors.Wrap(err, "invalid miniplayer settings")
	}
	return s, nil
}

// Bar is the mini-player surface.
type Bar struct {
	w        io.Writer
	ctrl     *playback.Controller
	hub      *broadcast.Hub
	settings Settings

	subID string
	ch    <-chan broadcast.Message
	done  chan struct{}
}

// New creates a bar writing its renders to w and subscribes it to the hub.
func New(w io.Writer, ctrl *playback.Controller, hub *broadcast.Hub, settings Settings) *Bar {
	subID, ch := hub.Subscribe(32)
	return &Bar{
		w:        w,
		ctrl:     ctrl,
		hub:      hub,
		settings: settings,
		subID:    subID,
		ch:       ch,
		done:     make(chan struct{}),
	}
}

// Run renders broadcasts until Close is called. Meant to run in its own
// goroutine.
func (b *Bar) Run() {
	for {
		select {
		case <-b.done:
			return
		case m, ok := <-b.ch:
			if !ok {
				return
			}
			line := b.Render(m)
			if line == "" {
				continue
			}
			if _, err := fmt.Fprintln(b.w, line); err != nil {
				zlog.Debug().Msgf("miniplayer: render write failed: %v", err)
			}
		}
	}
}

// Close unsubscribes the bar.
func (b *Bar) Close() {
	close(b.done)
	b.hub.Unsubscribe(b.subID)
}

// TogglePause forwards the pause intent.
func (b *Bar) TogglePause() error { return b.ctrl.TogglePause() }

// Next forwards the next intent.
func (b *Bar) Next() error { return b.ctrl.Next() }

// Previous forwards the previous intent.
func (b *Bar) Previous() error { return b.ctrl.Previous() }

// Stop forwards the stop intent.
func (b *Bar) Stop() { b.ctrl.Stop() }

// Render formats one broadcast as the bar line. Messages the bar does not
// display render as the empty string.
func (b *Bar) Render(m broadcast.Message) string {
	switch m.Kind {
	case broadcast.KindStateChanged:
		return b.renderState(m.State)
	case broadcast.KindQueueFinished:
		return "queue finished"
	case broadcast.KindPlaybackError:
		if !b.settings.ShowErrors {
			return ""
		}
		return "error: " + m.Reason
	default:
		return ""
	}
}

func (b *Bar) renderState(st *broadcast.State) string {
	if st == nil || st.Source == broadcast.SourceNone {
		return "--"
	}
	marker := "||"
	if st.Playing {
		marker = ">"
	}
	title := st.Track.Title
	if b.settings.ShowProject && st.Track.ProjectTitle != "" {
		title = fmt.Sprintf("%s / %s", st.Track.ProjectTitle, title)
	}
	return fmt.Sprintf("%s %s  %s/%s", marker, title,
		fmtClock(st.Position), fmtClock(st.Duration))
}

// fmtClock formats a duration as m:ss.
func fmtClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
