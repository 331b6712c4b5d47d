package domain

import "time"

// QuestionKind selects the correctness rule applied by the scorer.
type QuestionKind string

const (
	// QuestionChoice is a single-choice question scored by exact match.
	QuestionChoice QuestionKind = "choice"
	// QuestionTrueFalse is scored by exact match against "true"/"false".
	QuestionTrueFalse QuestionKind = "truefalse"
	// QuestionText requires manual grading; the automatic scorer awards 0.
	QuestionText QuestionKind = "text"
)

// QuestionRef is one question of a test as the core sees it: identity,
// correct answer, and marks. Prompt and option text live in the content system.
type QuestionRef struct {
	ID            string       `json:"id"`
	Kind          QuestionKind `json:"kind"`
	CorrectAnswer string       `json:"correctAnswer"`
	Marks         int          `json:"marks"`
}

// TestDefinition is the read-only test catalog entry. It must not change
// while an attempt against it is open.
type TestDefinition struct {
	ID                    string        `json:"id"`
	SubjectID             string        `json:"subjectId"`
	DurationMinutes       int           `json:"durationMinutes"`
	PassingThreshold      int           `json:"passingThreshold"` // percent
	Questions             []QuestionRef `json:"questions"`
	AllowMultipleAttempts bool          `json:"allowMultipleAttempts"`
	RequiresPayment       bool          `json:"requiresPayment"`
}

// Duration returns the attempt window length.
func (t TestDefinition) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// AttemptState is the lifecycle state of an attempt. Terminal states are sinks.
type AttemptState string

const (
	AttemptInProgress AttemptState = "in_progress"
	AttemptSubmitted  AttemptState = "submitted"
	AttemptExpired    AttemptState = "expired"
)

// Terminal reports whether the state admits no further transitions.
func (s AttemptState) Terminal() bool {
	return s == AttemptSubmitted || s == AttemptExpired
}

// AnswerEntry is one saved answer, keyed by question within an attempt.
// Value is opaque to the core. UpdatedAt drives last-write-wins merging.
type AnswerEntry struct {
	QuestionID      string    `json:"questionId"`
	Value           string    `json:"value"`
	MarkedForReview bool      `json:"markedForReview,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Supersedes reports whether e should replace existing under the
// last-write-wins rule: an equal or newer timestamp wins, an older one loses.
func (e AnswerEntry) Supersedes(existing AnswerEntry) bool {
	return !e.UpdatedAt.Before(existing.UpdatedAt)
}

// MergeAnswers applies entries onto answers in place, last-write-wins per
// question, and returns the entries that were actually applied. Applying the
// same entry twice is a no-op.
func MergeAnswers(answers map[string]AnswerEntry, entries []AnswerEntry) []AnswerEntry {
	applied := make([]AnswerEntry, 0, len(entries))
	for _, entry := range entries {
		if existing, ok := answers[entry.QuestionID]; ok && !entry.Supersedes(existing) {
			continue
		}
		answers[entry.QuestionID] = entry
		applied = append(applied, entry)
	}
	return applied
}

// Attempt is one user's one run at one test.
type Attempt struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	TestID    string `json:"testId"`
	SubjectID string `json:"subjectId"`

	State      AttemptState `json:"state"`
	StartedAt  time.Time    `json:"startedAt"`
	Deadline   time.Time    `json:"deadline"` // StartedAt + test duration, fixed at creation
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
	LastSaved  time.Time    `json:"lastSavedAt"`

	Answers map[string]AnswerEntry `json:"answers"`
	// Result stays nil until the attempt reaches a terminal state; it is
	// written exactly once and never recomputed.
	Result *ScoreSummary `json:"result,omitempty"`
}

// Expired reports whether now is strictly past the deadline.
func (a Attempt) Expired(now time.Time) bool {
	return now.After(a.Deadline)
}

// TimeLeft returns the remaining window, clamped at zero.
func (a Attempt) TimeLeft(now time.Time) time.Duration {
	if left := a.Deadline.Sub(now); left > 0 {
		return left
	}
	return 0
}

// Clone deep-copies the attempt so stored state cannot be mutated by callers.
func (a Attempt) Clone() Attempt {
	out := a
	out.Answers = make(map[string]AnswerEntry, len(a.Answers))
	for id, entry := range a.Answers {
		out.Answers[id] = entry
	}
	if a.FinishedAt != nil {
		finished := *a.FinishedAt
		out.FinishedAt = &finished
	}
	if a.Result != nil {
		result := *a.Result
		out.Result = &result
	}
	return out
}

// OverallScope is the leaderboard scope aggregating across all subjects.
const OverallScope = ""

// LeaderboardEntry is one user's ranked total within a scope. Rank is
// derived at read time, never stored as ground truth.
type LeaderboardEntry struct {
	UserID      string    `json:"userId"`
	SubjectID   string    `json:"subjectId,omitempty"`
	TotalScore  int       `json:"totalScore"`
	LastUpdated time.Time `json:"lastUpdated"`
	Rank        int       `json:"rank"`
}
