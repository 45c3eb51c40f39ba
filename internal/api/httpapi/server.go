// Package httpapi exposes the coordinator to remote surfaces over JSON
// HTTP. It is a surface adapter like any other: stateless, intents in,
// broadcasts out (as a server-sent event stream).
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/soundloft/tapedeck/internal/app/broadcast"
	"github.com/soundloft/tapedeck/internal/app/playback"
	"github.com/soundloft/tapedeck/internal/domain/track"
)

// Server handles the remote surface endpoints.
type Server struct {
	ctrl *playback.Controller
	hub  *broadcast.Hub
}

// New creates the remote surface server.
func New(ctrl *playback.Controller, hub *broadcast.Hub) *Server {
	return &Server{ctrl: ctrl, hub: hub}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/queue", s.handleQueueList)
	mux.HandleFunc("POST /v1/queue", s.handleQueueAdd)
	mux.HandleFunc("DELETE /v1/queue", s.handleQueueClear)
	mux.HandleFunc("DELETE /v1/queue/{id}", s.handleQueueRemove)
	mux.HandleFunc("POST /v1/play/queue", s.handlePlayQueue)
	mux.HandleFunc("POST /v1/play/direct", s.handlePlayDirect)
	mux.HandleFunc("POST /v1/pause", s.handlePause)
	mux.HandleFunc("POST /v1/next", s.handleNext)
	mux.HandleFunc("POST /v1/previous", s.handlePrevious)
	mux.HandleFunc("POST /v1/stop", s.handleStop)
	mux.HandleFunc("POST /v1/seek", s.handleSeek)
	mux.HandleFunc("POST /v1/volume", s.handleVolume)
	mux.HandleFunc("POST /v1/repeat", s.handleRepeat)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return mux
}

// --- wire types ---

type trackJSON struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	ProjectTitle    string `json:"projectTitle,omitempty"`
	AudioURL        string `json:"audioUrl"`
	CoverURL        string `json:"coverUrl,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

type queueItemJSON struct {
	trackJSON
	AddedAt time.Time `json:"addedAt"`
}

type descriptorJSON struct {
	trackJSON
	Siblings     []trackJSON `json:"siblings,omitempty"`
	SiblingIndex int         `json:"siblingIndex,omitempty"`
}

type stateJSON struct {
	Source          string     `json:"source"`
	Track           *trackJSON `json:"track,omitempty"`
	QueueIndex      int        `json:"queueIndex"`
	Playing         bool       `json:"playing"`
	PositionSeconds float64    `json:"positionSeconds"`
	DurationSeconds float64    `json:"durationSeconds"`
	Repeat          string     `json:"repeat,omitempty"`
}

type eventJSON struct {
	Kind       string          `json:"kind"`
	SequenceNo uint64          `json:"sequenceNo"`
	State      *stateJSON      `json:"state,omitempty"`
	Queue      []queueItemJSON `json:"queue,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

func toTrackJSON(t track.Track) trackJSON {
	return trackJSON{
		ID:              t.ID,
		Title:           t.Title,
		ProjectTitle:    t.ProjectTitle,
		AudioURL:        t.AudioURL,
		CoverURL:        t.CoverURL,
		DurationSeconds: int(t.Duration / time.Second),
	}
}

func (j trackJSON) toTrack() track.Track {
	return track.Track{
		ID:           j.ID,
		Title:        j.Title,
		ProjectTitle: j.ProjectTitle,
		AudioURL:     j.AudioURL,
		CoverURL:     j.CoverURL,
		Duration:     time.Duration(j.DurationSeconds) * time.Second,
	}
}

func toStateJSON(st broadcast.State, repeat string) *stateJSON {
	out := &stateJSON{
		Source:          st.Source.String(),
		QueueIndex:      st.QueueIndex,
		Playing:         st.Playing,
		PositionSeconds: st.Position.Seconds(),
		DurationSeconds: st.Duration.Seconds(),
		Repeat:          repeat,
	}
	if st.Track != nil {
		tj := toTrackJSON(*st.Track)
		out.Track = &tj
	}
	return out
}

func toQueueJSON(items []track.QueueItem) []queueItemJSON {
	out := make([]queueItemJSON, 0, len(items))
	for _, it := range items {
		out = append(out, queueItemJSON{trackJSON: toTrackJSON(it.Track), AddedAt: it.AddedAt})
	}
	return out
}

// --- handlers ---

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	st := s.ctrl.Status()
	writeJSON(w, http.StatusOK, toStateJSON(broadcast.State{
		Source:     st.Source,
		Track:      st.Track,
		QueueIndex: st.QueueIndex,
		Playing:    st.Playing,
		Position:   st.Position,
		Duration:   st.Duration,
	}, st.Repeat.String()))
}

func (s *Server) handleQueueList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toQueueJSON(s.ctrl.Queue()))
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var body trackJSON
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ID == "" || body.AudioURL == "" {
		writeError(w, http.StatusBadRequest, "id and audioUrl are required")
		return
	}
	if !s.ctrl.AddToQueue(body.toTrack()) {
		writeError(w, http.StatusConflict, "track already queued")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleQueueClear(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.ClearQueue()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	s.ctrl.RemoveFromQueue(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlayQueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Index int `json:"index"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.ctrl.PlayQueue(body.Index); err != nil {
		writeIntentError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePlayDirect(w http.ResponseWriter, r *http.Request) {
	var body descriptorJSON
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.AudioURL == "" {
		writeError(w, http.StatusBadRequest, "audioUrl is required")
		return
	}
	desc := track.Descriptor{Track: body.toTrack(), SiblingIndex: body.SiblingIndex}
	for _, sj := range body.Siblings {
		desc.Siblings = append(desc.Siblings, sj.toTrack())
	}
	if err := s.ctrl.PlayDirect(desc); err != nil {
		writeIntentError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.TogglePause(); err != nil {
		writeIntentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNext(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Next(); err != nil {
		writeIntentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePrevious(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Previous(); err != nil {
		writeIntentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seconds float64 `json:"seconds"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Seconds < 0 {
		writeError(w, http.StatusBadRequest, "seconds must not be negative")
		return
	}
	if err := s.ctrl.Seek(time.Duration(body.Seconds * float64(time.Second))); err != nil {
		writeIntentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Level float64 `json:"level"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Level < 0 || body.Level > 1 {
		writeError(w, http.StatusBadRequest, "level must be within 0..1")
		return
	}
	s.ctrl.SetVolume(body.Level)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRepeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	switch body.Mode {
	case "off":
		s.ctrl.SetRepeat(playback.RepeatOff)
	case "one":
		s.ctrl.SetRepeat(playback.RepeatOne)
	case "all":
		s.ctrl.SetRepeat(playback.RepeatAll)
	default:
		writeError(w, http.StatusBadRequest, "mode must be off, one or all")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams hub broadcasts as server-sent events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	subID, ch := s.hub.Subscribe(64)
	defer s.hub.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			ev := eventJSON{
				Kind:       m.Kind.String(),
				SequenceNo: m.SequenceNo,
				Reason:     m.Reason,
			}
			if m.State != nil {
				ev.State = toStateJSON(*m.State, "")
			}
			if m.Kind == broadcast.KindQueueChanged {
				ev.Queue = toQueueJSON(m.Queue)
			}
			data, err := json.Marshal(ev)
			if err != nil {
				zlog.Warn().Msgf("httpapi: cannot encode event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zlog.Debug().Msgf("httpapi: response write failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeIntentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, playback.ErrIndexOutOfRange), errors.Is(err, playback.ErrBadDescriptor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, playback.ErrNoTrack):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
