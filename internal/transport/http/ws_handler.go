package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"testprep-attempt-service/internal/domain"
)

// watchEvent is what observers of an attempt receive: answer saves as they
// land and the final score when the attempt finishes. Mirror only; scoring
// never reads from this channel.
type watchEvent struct {
	Type      string               `json:"type"` // "answers" | "finished"
	AttemptID string               `json:"attemptId"`
	Answers   []domain.AnswerEntry `json:"answers,omitempty"`
	State     domain.AttemptState  `json:"state,omitempty"`
	Result    *domain.ScoreSummary `json:"result,omitempty"`
	At        time.Time            `json:"at"`
}

// WatchHub fans attempt progress out to websocket observers (the proctor
// view). It implements app.ProgressNotifier.
type WatchHub struct {
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[string]map[chan watchEvent]struct{}
}

func NewWatchHub() *WatchHub {
	return &WatchHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[string]map[chan watchEvent]struct{}),
	}
}

// AnswersSaved broadcasts saved entries to observers of the attempt.
func (h *WatchHub) AnswersSaved(attemptID string, entries []domain.AnswerEntry, savedAt time.Time) {
	h.broadcast(attemptID, watchEvent{
		Type:      "answers",
		AttemptID: attemptID,
		Answers:   entries,
		At:        savedAt,
	})
}

// AttemptFinished broadcasts the terminal state and score summary.
func (h *WatchHub) AttemptFinished(attemptID string, state domain.AttemptState, summary domain.ScoreSummary) {
	h.broadcast(attemptID, watchEvent{
		Type:      "finished",
		AttemptID: attemptID,
		State:     state,
		Result:    &summary,
		At:        time.Now(),
	})
}

func (h *WatchHub) broadcast(attemptID string, event watchEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[attemptID] {
		select {
		case ch <- event:
		default:
			// Drop the oldest queued event so a slow observer cannot block
			// the save path.
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}

func (h *WatchHub) subscribe(attemptID string) (chan watchEvent, func()) {
	ch := make(chan watchEvent, 16)

	h.mu.Lock()
	if h.subs[attemptID] == nil {
		h.subs[attemptID] = make(map[chan watchEvent]struct{})
	}
	h.subs[attemptID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[attemptID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, attemptID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// ServeWatch upgrades the connection and streams progress events for one
// attempt until the observer disconnects.
func (h *WatchHub) ServeWatch(w http.ResponseWriter, r *http.Request) {
	attemptID := r.URL.Query().Get("attemptId")
	if attemptID == "" {
		http.Error(w, "missing attemptId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := h.subscribe(attemptID)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Observers send nothing; the read loop only detects disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				log.Warn().Err(err).Str("attemptId", attemptID).Msg("ws write error")
				return
			}
		case <-done:
			return
		}
	}
}
