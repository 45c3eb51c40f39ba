package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/soundloft/tapedeck/internal/app/broadcast"
	"github.com/soundloft/tapedeck/internal/app/output"
	"github.com/soundloft/tapedeck/internal/app/queue"
	"github.com/soundloft/tapedeck/internal/domain/track"
)

// Errors
var (
	ErrNoTrack         = errors.New("no track active")
	ErrIndexOutOfRange = errors.New("queue index out of range")
	ErrBadDescriptor   = errors.New("sibling index out of range")
)

// Config holds coordinator configuration.
type Config struct {
	// RestartThreshold is the position beyond which Previous restarts the
	// current track instead of moving back.
	RestartThreshold time.Duration
}

// Controller is the single playback arbiter. Surfaces send intents and
// receive broadcasts; only the controller touches the output session.
//
// All transitions run under one mutex, so no two can interleave. In-flight
// loads are asynchronous; a load generation counter discards the result of
// any load that was superseded before it finished.
type Controller struct {
	mu sync.Mutex

	store *queue.Store
	out   output.Session
	hub   *broadcast.Hub
	cfg   Config

	// Session state
	source     broadcast.Source
	current    *track.Track
	queueIndex int              // valid while source == SourceQueue
	direct     track.Descriptor // valid while source == SourceDirect
	repeat     RepeatMode
	playing    bool
	position   time.Duration
	duration   time.Duration

	loadGen uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates the coordinator and starts consuming output events.
func NewController(store *queue.Store, out output.Session, hub *broadcast.Hub, cfg Config) *Controller {
	if cfg.RestartThreshold <= 0 {
		cfg.RestartThreshold = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		store:      store,
		out:        out,
		hub:        hub,
		cfg:        cfg,
		source:     broadcast.SourceNone,
		queueIndex: -1,
		ctx:        ctx,
		cancel:     cancel,
	}
	go c.consumeEvents()
	return c
}

// Close stops the controller. The output session is closed by its owner.
func (c *Controller) Close() {
	c.cancel()
}

// PlayQueue starts playing the queue at the given index, silently
// pre-empting any direct session.
func (c *Controller) PlayQueue(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playQueueLocked(index)
}

// PlayDirect starts playing the descriptor, silently pre-empting any queue
// session. A descriptor whose SiblingIndex falls outside its sibling list
// is rejected: sibling navigation indexes into that list unchecked.
func (c *Controller) PlayDirect(desc track.Descriptor) error {
	if desc.HasSiblings() && (desc.SiblingIndex < 0 || desc.SiblingIndex >= len(desc.Siblings)) {
		return ErrBadDescriptor
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.playDirectLocked(desc)
	return nil
}

// TogglePause flips the paused flag of the active session without changing
// source or active track.
func (c *Controller) TogglePause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source == broadcast.SourceNone {
		return ErrNoTrack
	}
	if c.playing {
		c.out.Pause()
	} else {
		c.out.Resume()
	}
	c.playing = !c.playing
	c.broadcastStateLocked()
	return nil
}

// Next advances to the next track of the active session.
func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.source {
	case broadcast.SourceQueue:
		c.advanceQueueLocked()
		return nil
	case broadcast.SourceDirect:
		d := c.direct
		if !d.HasSiblings() {
			return nil
		}
		if !d.AtEnd() {
			c.playDirectLocked(d.At(d.SiblingIndex + 1))
			return nil
		}
		// Manual next never wraps unless repeat-all asks for it.
		if c.repeat == RepeatAll {
			c.playDirectLocked(d.At(0))
		}
		return nil
	default:
		return ErrNoTrack
	}
}

// Previous restarts the current track when the position is beyond the
// restart threshold; otherwise it steps back. The queue never wraps;
// direct playback wraps to the last sibling.
func (c *Controller) Previous() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source == broadcast.SourceNone {
		return ErrNoTrack
	}

	if c.position > c.cfg.RestartThreshold {
		c.restartCurrentLocked()
		return nil
	}

	switch c.source {
	case broadcast.SourceQueue:
		if c.queueIndex > 0 {
			return c.playQueueLocked(c.queueIndex - 1)
		}
		// First queue item: no wraparound, restart in place.
		c.restartCurrentLocked()
	case broadcast.SourceDirect:
		d := c.direct
		if !d.HasSiblings() {
			c.restartCurrentLocked()
			return nil
		}
		if d.AtStart() {
			c.playDirectLocked(d.At(len(d.Siblings) - 1))
			return nil
		}
		c.playDirectLocked(d.At(d.SiblingIndex - 1))
	}
	return nil
}

// Seek moves the playback position of the active track.
func (c *Controller) Seek(pos time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source == broadcast.SourceNone {
		return ErrNoTrack
	}
	if err := c.out.Seek(pos); err != nil {
		return err
	}
	c.position = pos
	c.broadcastStateLocked()
	return nil
}

// SetVolume sets the output gain, clamped to [0,1].
func (c *Controller) SetVolume(level float64) {
	c.out.SetVolume(level)
}

// SetRepeat sets the repeat mode for direct playback.
func (c *Controller) SetRepeat(mode RepeatMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repeat = mode
}

// Stop ends the active session and clears the output source.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source == broadcast.SourceNone {
		return
	}
	c.resetLocked()
	c.broadcastStateLocked()
}

// AddToQueue adds a track to the persistent queue. Queue membership is
// independent of playback state, so no session transition happens here.
func (c *Controller) AddToQueue(t track.Track) bool {
	return c.store.Add(t)
}

// RemoveFromQueue removes a queue item and fixes up the active queue
// session: indices before the active one shift down; removing the active
// item advances playback into the slot it vacated.
func (c *Controller) RemoveFromQueue(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.store.IndexOf(id)
	if idx < 0 {
		return
	}
	c.store.Remove(id)

	if c.source != broadcast.SourceQueue {
		return
	}
	switch {
	case idx < c.queueIndex:
		c.queueIndex--
		c.broadcastStateLocked()
	case idx == c.queueIndex:
		if c.store.Len() == 0 {
			c.resetLocked()
			c.broadcastStateLocked()
		} else if c.queueIndex < c.store.Len() {
			_ = c.playQueueLocked(c.queueIndex)
		} else {
			c.finishQueueLocked()
		}
	}
}

// ClearQueue empties the queue. An active queue session ends with it.
func (c *Controller) ClearQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Clear()
	if c.source == broadcast.SourceQueue {
		c.resetLocked()
		c.broadcastStateLocked()
	}
}

// Queue returns the current queue contents.
func (c *Controller) Queue() []track.QueueItem {
	return c.store.Load()
}

// Status returns a snapshot of the coordinator state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Source:     c.source,
		QueueIndex: c.queueIndex,
		Playing:    c.playing,
		Position:   c.position,
		Duration:   c.duration,
		Repeat:     c.repeat,
	}
	if c.current != nil {
		t := *c.current
		s.Track = &t
	}
	return s
}

func (c *Controller) playQueueLocked(index int) error {
	items := c.store.Load()
	if index < 0 || index >= len(items) {
		return ErrIndexOutOfRange
	}
	t := items[index].Track

	// Silence the superseded source now; the new one only starts once its
	// load finishes.
	c.out.Stop()
	c.source = broadcast.SourceQueue
	c.queueIndex = index
	c.direct = track.Descriptor{}
	c.setCurrentLocked(t)
	c.startLoadLocked(t)
	c.broadcastStateLocked()
	return nil
}

func (c *Controller) playDirectLocked(desc track.Descriptor) {
	c.out.Stop()
	c.source = broadcast.SourceDirect
	c.queueIndex = -1
	c.direct = desc
	c.setCurrentLocked(desc.Track)
	c.startLoadLocked(desc.Track)
	c.broadcastStateLocked()
}

func (c *Controller) setCurrentLocked(t track.Track) {
	c.current = &t
	c.playing = true
	c.position = 0
	c.duration = t.Duration
}

// startLoadLocked kicks off the asynchronous load of t. If the controller
// has moved on by the time the load finishes, the result is discarded.
func (c *Controller) startLoadLocked(t track.Track) {
	c.loadGen++
	gen := c.loadGen

	go func() {
		err := c.out.LoadAndPlay(c.ctx, t.AudioURL)

		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.loadGen {
			return // superseded while loading
		}
		if err == nil {
			return
		}

		zlog.Warn().Msgf("playback: cannot play %q (%s): %v", t.Title, t.ID, err)
		c.resetLocked()
		c.hub.Publish(broadcast.Message{
			Kind:   broadcast.KindPlaybackError,
			Reason: errorReason(err),
		})
		c.broadcastStateLocked()
	}()
}

// restartCurrentLocked rewinds the current track without any transition.
func (c *Controller) restartCurrentLocked() {
	if err := c.out.Seek(0); err != nil {
		zlog.Debug().Msgf("playback: restart seek failed: %v", err)
	}
	c.position = 0
	c.broadcastStateLocked()
}

// advanceQueueLocked moves a queue session forward one slot, ending the
// queue when there is nothing left.
func (c *Controller) advanceQueueLocked() {
	if c.queueIndex+1 < c.store.Len() {
		_ = c.playQueueLocked(c.queueIndex + 1)
		return
	}
	c.finishQueueLocked()
}

func (c *Controller) finishQueueLocked() {
	c.resetLocked()
	c.hub.Publish(broadcast.Message{Kind: broadcast.KindQueueFinished})
	c.broadcastStateLocked()
}

// resetLocked tears the session down to idle. Bumping the load generation
// cancels the effect of any in-flight load.
func (c *Controller) resetLocked() {
	c.loadGen++
	c.out.Stop()
	c.source = broadcast.SourceNone
	c.current = nil
	c.queueIndex = -1
	c.direct = track.Descriptor{}
	c.playing = false
	c.position = 0
	c.duration = 0
}

func (c *Controller) consumeEvents() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-c.out.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case output.EventTimeUpdate:
				c.onTimeUpdate(ev)
			case output.EventEnded:
				c.onTrackEnded()
			}
		}
	}
}

func (c *Controller) onTimeUpdate(ev output.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source == broadcast.SourceNone {
		return
	}
	c.position = ev.Position
	c.duration = ev.Duration
	if c.current != nil && c.current.Duration == 0 {
		c.current.Duration = ev.Duration
	}
	c.broadcastStateLocked()
}

// onTrackEnded handles the natural end of the loaded source.
func (c *Controller) onTrackEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.source {
	case broadcast.SourceQueue:
		c.advanceQueueLocked()

	case broadcast.SourceDirect:
		if c.repeat == RepeatOne {
			// Replay the same track from the start.
			t := *c.current
			c.position = 0
			c.playing = true
			c.startLoadLocked(t)
			c.broadcastStateLocked()
			return
		}
		d := c.direct
		if d.HasSiblings() && !d.AtEnd() {
			c.playDirectLocked(d.At(d.SiblingIndex + 1))
			return
		}
		if d.HasSiblings() && c.repeat == RepeatAll {
			c.playDirectLocked(d.At(0))
			return
		}
		// Exhausted with no loop.
		c.resetLocked()
		c.hub.Publish(broadcast.Message{Kind: broadcast.KindEnded})
		c.broadcastStateLocked()
	}
}

func (c *Controller) broadcastStateLocked() {
	st := &broadcast.State{
		Source:     c.source,
		QueueIndex: c.queueIndex,
		Playing:    c.playing,
		Position:   c.position,
		Duration:   c.duration,
	}
	if c.current != nil {
		t := *c.current
		st.Track = &t
	}
	c.hub.Publish(broadcast.Message{Kind: broadcast.KindStateChanged, State: st})
}

// errorReason maps output errors onto the user-visible reason strings
// carried by KindPlaybackError.
func errorReason(err error) string {
	switch {
	case errors.Is(err, output.ErrOutputBlocked):
		return "playback blocked by audio output"
	case errors.Is(err, output.ErrMedia):
		return "failed to play track"
	default:
		return err.Error()
	}
}
