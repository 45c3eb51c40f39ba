package playback

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundloft/tapedeck/internal/app/broadcast"
	"github.com/soundloft/tapedeck/internal/app/output"
	"github.com/soundloft/tapedeck/internal/app/queue"
	"github.com/soundloft/tapedeck/internal/domain/track"
)

// fakeOutput is a scripted Session for coordinator tests.
type fakeOutput struct {
	mu       sync.Mutex
	loaded   []string
	failWith map[string]error
	gateURL  string
	gate     chan error
	paused   bool
	stops    int
	seeks    []time.Duration
	volume   float64
	events   chan output.Event
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{
		failWith: make(map[string]error),
		events:   make(chan output.Event, 16),
	}
}

func (f *fakeOutput) LoadAndPlay(_ context.Context, url string) error {
	if f.gateURL == url {
		// Block until the test releases the load.
		err := <-f.gate
		f.mu.Lock()
		f.loaded = append(f.loaded, url)
		f.mu.Unlock()
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = append(f.loaded, url)
	if err, ok := f.failWith[url]; ok {
		return err
	}
	f.paused = false
	return nil
}

func (f *fakeOutput) Pause() { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeOutput) Resume() { f.mu.Lock(); f.paused = false; f.mu.Unlock() }

func (f *fakeOutput) Seek(pos time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, pos)
	return nil
}

func (f *fakeOutput) SetVolume(level float64) { f.mu.Lock(); f.volume = level; f.mu.Unlock() }
func (f *fakeOutput) Stop() { f.mu.Lock(); f.stops++; f.mu.Unlock() }
func (f *fakeOutput) Position() time.Duration { return 0 }
func (f *fakeOutput) Duration() time.Duration { return 0 }
func (f *fakeOutput) Events() <-chan output.Event { return f.events }
func (f *fakeOutput) Close() { close(f.events) }

func (f *fakeOutput) loadedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.loaded))
	copy(out, f.loaded)
	return out
}

func (f *fakeOutput) isPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeOutput) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func newTestController(t *testing.T, tracks ...track.Track) (*Controller, *fakeOutput, *broadcast.Hub) {
	t.Helper()
	hub := broadcast.NewHub()
	store := queue.NewStore(filepath.Join(t.TempDir(), "queue.json"), hub)
	out := newFakeOutput()
	c := NewController(store, out, hub, Config{RestartThreshold: 3 * time.Second})
	t.Cleanup(func() {
		c.Close()
		store.Close()
		hub.Close()
	})
	for _, tr := range tracks {
		require.True(t, store.Add(tr))
	}
	return c, out, hub
}

func qt(id string) track.Track {
	return track.Track{ID: id, Title: "Track " + id, AudioURL: "http://x/" + id + ".mp3"}
}

func waitMsg(t *testing.T, ch <-chan broadcast.Message, kind broadcast.Kind) broadcast.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-ch:
			if m.Kind == kind {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s broadcast", kind)
		}
	}
}

func waitLoaded(t *testing.T, out *fakeOutput, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(out.loadedURLs()) >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPlayQueue_StartsAtIndex(t *testing.T) {
	c, out, _ := newTestController(t, qt("t1"), qt("t2"))

	require.NoError(t, c.PlayQueue(1))
	waitLoaded(t, out, 1)

	st := c.Status()
	assert.Equal(t, broadcast.SourceQueue, st.Source)
	assert.Equal(t, 1, st.QueueIndex)
	assert.True(t, st.Playing)
	require.NotNil(t, st.Track)
	assert.Equal(t, "t2", st.Track.ID)
	assert.Equal(t, []string{"http://x/t2.mp3"}, out.loadedURLs())
}

func TestPlayQueue_IndexOutOfRange(t *testing.T) {
	c, _, _ := newTestController(t, qt("t1"))

	assert.ErrorIs(t, c.PlayQueue(1), ErrIndexOutOfRange)
	assert.ErrorIs(t, c.PlayQueue(-1), ErrIndexOutOfRange)
	assert.Equal(t, broadcast.SourceNone, c.Status().Source)
}

// Scenario: queue of three tracks plays through to the end, then goes idle
// with a queue-finished signal.
func TestQueuePlaysThroughAndFinishes(t *testing.T) {
	c, out, hub := newTestController(t, qt("t1"), qt("t2"), qt("t3"))
	_, ch := hub.Subscribe(32)

	require.NoError(t, c.PlayQueue(0))
	waitLoaded(t, out, 1)

	c.onTrackEnded()
	c.onTrackEnded()
	waitLoaded(t, out, 3)

	st := c.Status()
	assert.Equal(t, 2, st.QueueIndex)
	assert.Equal(t, "t3", st.Track.ID)
	assert.True(t, st.Playing)

	c.onTrackEnded()
	waitMsg(t, ch, broadcast.KindQueueFinished)

	st = c.Status()
	assert.Equal(t, broadcast.SourceNone, st.Source)
	assert.Nil(t, st.Track)
	assert.False(t, st.Playing)
	assert.Equal(t, -1, st.QueueIndex)
}

// Scenario: a direct play request pre-empts an active queue session
// silently, with exactly one state broadcast reflecting the new source.
func TestDirectPreemptsQueue(t *testing.T) {
	c, out, hub := newTestController(t, qt("t1"))

	require.NoError(t, c.PlayQueue(0))
	waitLoaded(t, out, 1)

	_, ch := hub.Subscribe(32)
	require.NoError(t, c.PlayDirect(track.Descriptor{Track: qt("x")}))
	waitLoaded(t, out, 2)

	m := waitMsg(t, ch, broadcast.KindStateChanged)
	require.NotNil(t, m.State)
	assert.Equal(t, broadcast.SourceDirect, m.State.Source)
	assert.Equal(t, -1, m.State.QueueIndex)
	assert.Equal(t, "x", m.State.Track.ID)

	// No second state broadcast: pre-emption has no "ended" semantics.
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra broadcast: %v", extra.Kind)
	default:
	}

	st := c.Status()
	assert.Equal(t, broadcast.SourceDirect, st.Source)
	assert.Equal(t, -1, st.QueueIndex)
}

// A descriptor whose sibling index does not point into its sibling list
// must be rejected up front: accepting it would make the natural track-end
// advance index outside the list.
func TestPlayDirect_RejectsInvalidSiblingIndex(t *testing.T) {
	sibs := []track.Track{qt("s1"), qt("s2")}
	c, out, _ := newTestController(t)

	err := c.PlayDirect(track.Descriptor{Track: qt("s1"), Siblings: sibs, SiblingIndex: -2})
	assert.ErrorIs(t, err, ErrBadDescriptor)

	err = c.PlayDirect(track.Descriptor{Track: qt("s2"), Siblings: sibs, SiblingIndex: 2})
	assert.ErrorIs(t, err, ErrBadDescriptor)

	assert.Equal(t, broadcast.SourceNone, c.Status().Source)
	assert.Empty(t, out.loadedURLs())

	// A track-end arriving now must be a no-op, not a crash.
	c.onTrackEnded()
	assert.Equal(t, broadcast.SourceNone, c.Status().Source)

	// Without siblings the index is meaningless and ignored.
	require.NoError(t, c.PlayDirect(track.Descriptor{Track: qt("lone"), SiblingIndex: 7}))
	waitLoaded(t, out, 1)
}

// Pre-emption must silence the superseded source immediately, even while
// the replacement is still loading.
func TestPreemptionSilencesSupersededSource(t *testing.T) {
	c, out, _ := newTestController(t, qt("slow"))
	out.gateURL = "http://x/slow.mp3"
	out.gate = make(chan error, 1)

	require.NoError(t, c.PlayQueue(0))
	before := out.stopCount()

	require.NoError(t, c.PlayDirect(track.Descriptor{Track: qt("fast")}))
	assert.Equal(t, before+1, out.stopCount(), "output silenced before the new load finishes")

	out.gate <- nil
	waitLoaded(t, out, 2)
	assert.Equal(t, "fast", c.Status().Track.ID)
}

func TestQueuePreemptsDirect(t *testing.T) {
	c, out, _ := newTestController(t, qt("t1"))

	require.NoError(t, c.PlayDirect(track.Descriptor{Track: qt("x")}))
	waitLoaded(t, out, 1)

	require.NoError(t, c.PlayQueue(0))
	waitLoaded(t, out, 2)

	st := c.Status()
	assert.Equal(t, broadcast.SourceQueue, st.Source)
	assert.Equal(t, 0, st.QueueIndex)
	assert.Equal(t, "t1", st.Track.ID)
}

func TestTogglePause(t *testing.T) {
	c, out, _ := newTestController(t, qt("t1"))

	assert.ErrorIs(t, c.TogglePause(), ErrNoTrack)

	require.NoError(t, c.PlayQueue(0))
	waitLoaded(t, out, 1)

	require.NoError(t, c.TogglePause())
	st := c.Status()
	assert.False(t, st.Playing)
	assert.True(t, out.isPaused())
	// Pausing does not change source or active track
	assert.Equal(t, broadcast.SourceQueue, st.Source)
	assert.Equal(t, 0, st.QueueIndex)

	require.NoError(t, c.TogglePause())
	assert.True(t, c.Status().Playing)
	assert.False(t, out.isPaused())
}

func TestRemoveCurrentlyPlayingAdvances(t *testing.T) {
	c, out, _ := newTestController(t, qt("a"), qt("b"), qt("c"))

	require.NoError(t, c.PlayQueue(1))
	waitLoaded(t, out, 1)

	c.RemoveFromQueue("b")
	waitLoaded(t, out, 2)

	st := c.Status()
	assert.Equal(t, 1, st.QueueIndex, "playback advances into the vacated slot")
	assert.Equal(t, "c", st.Track.ID)
	assert.True(t, st.Playing)
}

func TestRemoveOnlyItemWhilePlayingGoesIdle(t *testing.T) {
	c, out, _ := newTestController(t, qt("a"))

	require.NoError(t, c.PlayQueue(0))
	waitLoaded(t, out, 1)

	c.RemoveFromQueue("a")

	st := c.Status()
	assert.Equal(t, broadcast.SourceNone, st.Source)
	assert.Nil(t, st.Track)
}

func TestRemoveLastWhilePlayingItFinishesQueue(t *testing.T) {
	c, out, hub := newTestController(t, qt("a"), qt("b"))

	require.NoError(t, c.PlayQueue(1))
	waitLoaded(t, out, 1)

	_, ch := hub.Subscribe(32)
	c.RemoveFromQueue("b")

	waitMsg(t, ch, broadcast.KindQueueFinished)
	assert.Equal(t, broadcast.SourceNone, c.Status().Source)
}

func TestRemoveBeforeCurrentShiftsIndex(t *testing.T) {
	c, out, _ := newTestController(t, qt("a"), qt("b"), qt("c"))

	require.NoError(t, c.PlayQueue(2))
	waitLoaded(t, out, 1)

	c.RemoveFromQueue("a")

	st := c.Status()
	assert.Equal(t, 1, st.QueueIndex)
	assert.Equal(t, "c", st.Track.ID)
	// The active track keeps playing: no reload happened
	assert.Len(t, out.loadedURLs(), 1)
}

func TestRemoveAfterCurrentLeavesSessionAlone(t *testing.T) {
	c, out, _ := newTestController(t, qt("a"), qt("b"), qt("c"))

	require.NoError(t, c.PlayQueue(0))
	waitLoaded(t, out, 1)

	c.RemoveFromQueue("c")

	st := c.Status()
	assert.Equal(t, 0, st.QueueIndex)
	assert.Equal(t, "a", st.Track.ID)
	assert.Len(t, out.loadedURLs(), 1)
}

func TestPrevious_RestartsBeyondThreshold(t *testing.T) {
	c, out, _ := newTestController(t, qt("a"), qt("b"))

	require.NoError(t, c.PlayQueue(1))
	waitLoaded(t, out, 1)

	c.onTimeUpdate(output.Event{Type: output.EventTimeUpdate, Position: 10 * time.Second, Duration: time.Minute})

	require.NoError(t, c.Previous())

	st := c.Status()
	assert.Equal(t, 1, st.QueueIndex, "restart keeps the same track")
	assert.Equal(t, time.Duration(0), st.Position)
	assert.Contains(t, out.seeks, time.Duration(0))
	assert.Len(t, out.loadedURLs(), 1)
}

func TestPrevious_QueueStepsBackWithoutWrap(t *testing.T) {
	c, out, _ := newTestController(t, qt("a"), qt("b"))

	require.NoError(t, c.PlayQueue(1))
	waitLoaded(t, out, 1)

	require.NoError(t, c.Previous())
	waitLoaded(t, out, 2)
	assert.Equal(t, 0, c.Status().QueueIndex)

	// At index 0 with an early position: index stays put, no wraparound.
	require.NoError(t, c.Previous())
	assert.Equal(t, 0, c.Status().QueueIndex)
	assert.Len(t, out.loadedURLs(), 2)
}

func TestPrevious_DirectWrapsToLastSibling(t *testing.T) {
	sibs := []track.Track{qt("s1"), qt("s2"), qt("s3")}
	c, out, _ := newTestController(t)

	require.NoError(t, c.PlayDirect(track.Descriptor{Track: sibs[0], Siblings: sibs, SiblingIndex: 0}))
	waitLoaded(t, out, 1)

	require.NoError(t, c.Previous())
	waitLoaded(t, out, 2)

	st := c.Status()
	assert.Equal(t, "s3", st.Track.ID)
	assert.Equal(t, broadcast.SourceDirect, st.Source)
}

func TestNext_DirectAdvancesAndStopsAtEnd(t *testing.T) {
	sibs := []track.Track{qt("s1"), qt("s2")}
	c, out, _ := newTestController(t)

	require.NoError(t, c.PlayDirect(track.Descriptor{Track: sibs[0], Siblings: sibs, SiblingIndex: 0}))
	waitLoaded(t, out, 1)

	require.NoError(t, c.Next())
	waitLoaded(t, out, 2)
	assert.Equal(t, "s2", c.Status().Track.ID)

	// Manual next at the end does not wrap with repeat off
	require.NoError(t, c.Next())
	assert.Equal(t, "s2", c.Status().Track.ID)
	assert.Len(t, out.loadedURLs(), 2)
}

func TestNext_DirectWrapsWithRepeatAll(t *testing.T) {
	sibs := []track.Track{qt("s1"), qt("s2")}
	c, out, _ := newTestController(t)
	c.SetRepeat(RepeatAll)

	require.NoError(t, c.PlayDirect(track.Descriptor{Track: sibs[1], Siblings: sibs, SiblingIndex: 1}))
	waitLoaded(t, out, 1)

	require.NoError(t, c.Next())
	waitLoaded(t, out, 2)
	assert.Equal(t, "s1", c.Status().Track.ID)
}

func TestTrackEnded_DirectRepeatOneReplays(t *testing.T) {
	c, out, _ := newTestController(t)
	c.SetRepeat(RepeatOne)

	require.NoError(t, c.PlayDirect(track.Descriptor{Track: qt("x")}))
	waitLoaded(t, out, 1)

	c.onTrackEnded()
	waitLoaded(t, out, 2)

	st := c.Status()
	assert.Equal(t, "x", st.Track.ID)
	assert.True(t, st.Playing)
	assert.Equal(t, []string{"http://x/x.mp3", "http://x/x.mp3"}, out.loadedURLs())
}

func TestTrackEnded_DirectAdvancesSiblings(t *testing.T) {
	sibs := []track.Track{qt("s1"), qt("s2")}
	c, out, hub := newTestController(t)

	require.NoError(t, c.PlayDirect(track.Descriptor{Track: sibs[0], Siblings: sibs, SiblingIndex: 0}))
	waitLoaded(t, out, 1)

	c.onTrackEnded()
	waitLoaded(t, out, 2)
	assert.Equal(t, "s2", c.Status().Track.ID)

	_, ch := hub.Subscribe(32)
	c.onTrackEnded()

	waitMsg(t, ch, broadcast.KindEnded)
	assert.Equal(t, broadcast.SourceNone, c.Status().Source)
}

func TestTrackEnded_LoneDirectTrackGoesIdle(t *testing.T) {
	c, out, hub := newTestController(t)

	require.NoError(t, c.PlayDirect(track.Descriptor{Track: qt("x")}))
	waitLoaded(t, out, 1)

	_, ch := hub.Subscribe(32)
	c.onTrackEnded()

	waitMsg(t, ch, broadcast.KindEnded)
	assert.Nil(t, c.Status().Track)
}

func TestMediaErrorDuringAutoAdvanceLandsIdle(t *testing.T) {
	c, out, hub := newTestController(t, qt("good"), qt("bad"))
	out.failWith["http://x/bad.mp3"] = output.ErrMedia

	require.NoError(t, c.PlayQueue(0))
	waitLoaded(t, out, 1)

	_, ch := hub.Subscribe(32)
	c.onTrackEnded()

	m := waitMsg(t, ch, broadcast.KindPlaybackError)
	assert.Equal(t, "failed to play track", m.Reason)

	st := c.Status()
	assert.Equal(t, broadcast.SourceNone, st.Source)
	assert.False(t, st.Playing)
	// No retry loop: exactly one attempt on the bad URL
	assert.Len(t, out.loadedURLs(), 2)
}

func TestSupersededLoadResultIsDiscarded(t *testing.T) {
	c, out, hub := newTestController(t, qt("slow"))
	out.gateURL = "http://x/slow.mp3"
	out.gate = make(chan error, 1)

	require.NoError(t, c.PlayQueue(0))
	require.NoError(t, c.PlayDirect(track.Descriptor{Track: qt("fast")}))
	waitLoaded(t, out, 1) // the direct load

	_, ch := hub.Subscribe(32)

	// The old queue load now fails; its result must be ignored.
	out.gate <- output.ErrMedia
	waitLoaded(t, out, 2)

	st := c.Status()
	assert.Equal(t, broadcast.SourceDirect, st.Source)
	assert.Equal(t, "fast", st.Track.ID)
	assert.True(t, st.Playing)

	select {
	case m := <-ch:
		t.Fatalf("stale load must not broadcast, got %v", m.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClearQueueEndsQueueSession(t *testing.T) {
	c, out, _ := newTestController(t, qt("a"), qt("b"))

	require.NoError(t, c.PlayQueue(0))
	waitLoaded(t, out, 1)

	c.ClearQueue()

	st := c.Status()
	assert.Equal(t, broadcast.SourceNone, st.Source)
	assert.Empty(t, c.Queue())
}

func TestStopClearsSource(t *testing.T) {
	c, out, _ := newTestController(t, qt("a"))

	require.NoError(t, c.PlayQueue(0))
	waitLoaded(t, out, 1)

	c.Stop()

	st := c.Status()
	assert.Equal(t, broadcast.SourceNone, st.Source)
	assert.Nil(t, st.Track)
	assert.False(t, st.Playing)
}

func TestSeekUpdatesPosition(t *testing.T) {
	c, out, _ := newTestController(t, qt("a"))

	assert.ErrorIs(t, c.Seek(time.Second), ErrNoTrack)

	require.NoError(t, c.PlayQueue(0))
	waitLoaded(t, out, 1)

	require.NoError(t, c.Seek(42*time.Second))
	assert.Equal(t, 42*time.Second, c.Status().Position)
	assert.Contains(t, out.seeks, 42*time.Second)
}
