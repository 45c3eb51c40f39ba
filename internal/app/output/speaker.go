package output

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"
)

// speakerSampleRate is the fixed rate the device is opened with; sources
// with a different rate are resampled.
const speakerSampleRate = beep.SampleRate(44100)

// Speaker is the real Session implementation: it fetches the track over
// HTTP, decodes MP3 and plays through the system audio device.
type Speaker struct {
	mu sync.Mutex

	httpClient   *http.Client
	pollInterval time.Duration

	initialized bool
	streamer    beep.StreamSeekCloser
	format      beep.Format
	ctrl        *beep.Ctrl
	volume      *effects.Volume
	level       float64

	// gen invalidates the ended callback and poller of a replaced source.
	gen    uint64
	events chan Event
	done   chan struct{}
}

// SpeakerConfig holds speaker tuning.
type SpeakerConfig struct {
	PollInterval time.Duration // Time update cadence
	FetchTimeout time.Duration // HTTP fetch timeout for track data
	Volume       float64       // Initial gain, 0..1
}

// NewSpeaker creates a speaker-backed session. The audio device is opened
// lazily on the first LoadAndPlay.
func NewSpeaker(cfg SpeakerConfig) *Speaker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Speaker{
		httpClient:   &http.Client{Timeout: cfg.FetchTimeout},
		pollInterval: cfg.PollInterval,
		level:        clampLevel(cfg.Volume),
		events:       make(chan Event, 16),
		done:         make(chan struct{}),
	}
}

// LoadAndPlay implements Session.
func (s *Speaker) LoadAndPlay(ctx context.Context, url string) error {
	data, err := s.fetch(ctx, url)
	if err != nil {
		return err
	}

	streamer, format, err := mp3.Decode(nopCloser{bytes.NewReader(data)})
	if err != nil {
		return errors.Mark(err, ErrMedia)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		if err := speaker.Init(speakerSampleRate, speakerSampleRate.N(time.Second/10)); err != nil {
			_ = streamer.Close()
			return errors.Mark(err, ErrOutputBlocked)
		}
		s.initialized = true
	}

	// Detach the previous source before attaching the new one.
	s.detachLocked()

	s.gen++
	gen := s.gen
	s.streamer = streamer
	s.format = format

	resampled := beep.Resample(4, format.SampleRate, speakerSampleRate, streamer)
	s.ctrl = &beep.Ctrl{Streamer: resampled}
	s.volume = &effects.Volume{Streamer: s.ctrl, Base: 2}
	s.applyLevelLocked()

	speaker.Play(beep.Seq(s.volume, beep.Callback(func() {
		s.onSourceDone(gen)
	})))

	go s.poll(gen)
	return nil
}

// Pause implements Session.
func (s *Speaker) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return
	}
	speaker.Lock()
	s.ctrl.Paused = true
	speaker.Unlock()
}

// Resume implements Session.
func (s *Speaker) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return
	}
	speaker.Lock()
	s.ctrl.Paused = false
	speaker.Unlock()
}

// Seek implements Session.
func (s *Speaker) Seek(pos time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamer == nil {
		return nil
	}

	if pos < 0 {
		pos = 0
	}
	speaker.Lock()
	err := s.streamer.Seek(s.format.SampleRate.N(pos))
	speaker.Unlock()
	if err != nil {
		return errors.Mark(err, ErrMedia)
	}
	return nil
}

// SetVolume implements Session. The level survives source changes.
func (s *Speaker) SetVolume(level float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = clampLevel(level)
	if s.volume == nil {
		return
	}
	speaker.Lock()
	s.applyLevelLocked()
	speaker.Unlock()
}

// Stop implements Session: detaches the source without emitting Ended.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
}

// Position implements Session.
func (s *Speaker) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamer == nil {
		return 0
	}
	speaker.Lock()
	pos := s.streamer.Position()
	speaker.Unlock()
	return s.format.SampleRate.D(pos)
}

// Duration implements Session.
func (s *Speaker) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamer == nil {
		return 0
	}
	return s.format.SampleRate.D(s.streamer.Len())
}

// Events implements Session.
func (s *Speaker) Events() <-chan Event {
	return s.events
}

// Close implements Session.
func (s *Speaker) Close() {
	s.mu.Lock()
	s.detachLocked()
	s.mu.Unlock()
	close(s.done)
}

func (s *Speaker) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Mark(err, ErrMedia)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Mark(err, ErrMedia)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Mark(errors.Newf("fetching %s: status %d", url, resp.StatusCode), ErrMedia)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Mark(err, ErrMedia)
	}
	return data, nil
}

// detachLocked invalidates the current source. Must be called with s.mu held.
func (s *Speaker) detachLocked() {
	if s.streamer == nil {
		return
	}
	s.gen++
	speaker.Clear()
	if err := s.streamer.Close(); err != nil {
		zlog.Debug().Msgf("output: closing streamer: %v", err)
	}
	s.streamer = nil
	s.ctrl = nil
	s.volume = nil
}

// applyLevelLocked maps the linear 0..1 level onto the logarithmic volume
// effect. Zero is full silence, one is unity gain.
func (s *Speaker) applyLevelLocked() {
	s.volume.Silent = s.level == 0
	s.volume.Volume = (s.level - 1) * 5
}

// onSourceDone fires from the beep callback when the source drains. The
// callback runs on the audio goroutine with the speaker mutex held, while
// the poller takes s.mu before that same mutex, so taking s.mu inline here
// would deadlock. The work is handed off instead; it must never block the
// caller.
func (s *Speaker) onSourceDone(gen uint64) {
	go func() {
		s.mu.Lock()
		if gen != s.gen || s.streamer == nil {
			s.mu.Unlock()
			return
		}
		dur := s.format.SampleRate.D(s.streamer.Len())
		s.mu.Unlock()

		s.emit(Event{Type: EventEnded, Position: dur, Duration: dur})
	}()
}

// poll emits periodic time updates for the source identified by gen.
func (s *Speaker) poll(gen uint64) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if gen != s.gen || s.streamer == nil {
				s.mu.Unlock()
				return
			}
			paused := s.ctrl.Paused
			speaker.Lock()
			pos := s.format.SampleRate.D(s.streamer.Position())
			speaker.Unlock()
			dur := s.format.SampleRate.D(s.streamer.Len())
			s.mu.Unlock()

			if paused {
				continue
			}
			s.emit(Event{Type: EventTimeUpdate, Position: pos, Duration: dur})
		}
	}
}

// emit delivers an event without blocking; a stalled consumer loses time
// updates rather than wedging the audio callback path.
func (s *Speaker) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func clampLevel(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// nopCloser adapts the in-memory reader to the decoder's ReadCloser input.
type nopCloser struct {
	io.ReadSeeker
}

func (nopCloser) Close() error { return nil }
