package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"testprep-attempt-service/internal/app"
	"testprep-attempt-service/internal/domain"
)

// Handler exposes the attempt lifecycle and leaderboard over HTTP. The
// server clock is stamped here at the edge; the core stays now-parameterized.
type Handler struct {
	service     *app.AttemptService
	leaderboard *app.LeaderboardAggregator
	clock       func() time.Time
}

func NewHandler(service *app.AttemptService, leaderboard *app.LeaderboardAggregator) *Handler {
	return &Handler{service: service, leaderboard: leaderboard, clock: time.Now}
}

// Register wires the routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /attempts/start", h.startAttempt)
	mux.HandleFunc("POST /attempts/{id}/answers", h.saveAnswers)
	mux.HandleFunc("POST /attempts/{id}/submit", h.submitAttempt)
	mux.HandleFunc("GET /attempts/{id}", h.getAttempt)
	mux.HandleFunc("GET /leaderboard", h.getLeaderboard)
}

type startRequest struct {
	UserID string `json:"userId"`
	TestID string `json:"testId"`
}

type startResponse struct {
	Attempt         domain.Attempt `json:"attempt"`
	TimeLeftSeconds int            `json:"timeLeftSeconds"`
	Resumed         bool           `json:"resumed"`
}

func (h *Handler) startAttempt(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.TestID == "" {
		writeError(w, http.StatusBadRequest, "userId and testId are required")
		return
	}

	result, err := h.service.Start(r.Context(), req.UserID, req.TestID, h.clock())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{
		Attempt:         result.Attempt,
		TimeLeftSeconds: int(result.TimeLeft.Seconds()),
		Resumed:         result.Resumed,
	})
}

type answerPayload struct {
	QuestionID      string     `json:"questionId"`
	Value           string     `json:"value"`
	MarkedForReview bool       `json:"markedForReview"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

type saveAnswersRequest struct {
	Answers []answerPayload `json:"answers"`
}

type saveAnswersResponse struct {
	Answers []domain.AnswerEntry `json:"answers"`
}

func (h *Handler) saveAnswers(w http.ResponseWriter, r *http.Request) {
	attemptID := r.PathValue("id")

	var req saveAnswersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Answers) == 0 {
		writeError(w, http.StatusBadRequest, "answers are required")
		return
	}

	now := h.clock()
	entries := make([]domain.AnswerEntry, 0, len(req.Answers))
	for _, a := range req.Answers {
		entry := domain.AnswerEntry{
			QuestionID:      a.QuestionID,
			Value:           a.Value,
			MarkedForReview: a.MarkedForReview,
			UpdatedAt:       now,
		}
		// Client timestamps are honored for last-write-wins ordering so
		// autosave and manual saves interleave safely.
		if a.UpdatedAt != nil {
			entry.UpdatedAt = *a.UpdatedAt
		}
		entries = append(entries, entry)
	}

	merged, err := h.service.SaveAnswers(r.Context(), attemptID, entries, now)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	list := make([]domain.AnswerEntry, 0, len(merged))
	for _, entry := range merged {
		list = append(list, entry)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].QuestionID < list[j].QuestionID })
	writeJSON(w, http.StatusOK, saveAnswersResponse{Answers: list})
}

type submitResponse struct {
	Attempt domain.Attempt     `json:"attempt"`
	Score   domain.ScoreResult `json:"score"`
}

func (h *Handler) submitAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID := r.PathValue("id")

	result, err := h.service.Submit(r.Context(), attemptID, h.clock())
	if errors.Is(err, domain.ErrAlreadySubmitted) {
		// Duplicate submit: return the existing result instead of an opaque
		// error so retrying clients see their score.
		attempt, getErr := h.service.GetAttempt(r.Context(), attemptID)
		if getErr != nil {
			h.writeDomainError(w, getErr)
			return
		}
		writeJSON(w, http.StatusOK, submitResponse{Attempt: attempt})
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Attempt: result.Attempt, Score: result.Score})
}

func (h *Handler) getAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.service.GetAttempt(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

type leaderboardResponse struct {
	SubjectID string                    `json:"subjectId,omitempty"`
	Entries   []domain.LeaderboardEntry `json:"entries"`
}

func (h *Handler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subjectId")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	entries, err := h.leaderboard.Leaderboard(r.Context(), subjectID, limit, offset)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{SubjectID: subjectID, Entries: entries})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTestNotFound), errors.Is(err, domain.ErrAttemptNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPaymentRequired):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrAttemptLimitExceeded), errors.Is(err, domain.ErrAlreadySubmitted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrAttemptExpired):
		writeError(w, http.StatusGone, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
		return v
	}
	return fallback
}
