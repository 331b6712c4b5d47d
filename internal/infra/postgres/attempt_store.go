package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"testprep-attempt-service/internal/domain"
)

// AttemptStore persists attempts in Postgres. The single-active-attempt rule
// is enforced by a partial unique index on (user_id, test_id) for
// in-progress rows, so the check-and-create race is settled by the database.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

const attemptColumns = `id, user_id, test_id, subject_id, state, started_at, deadline, finished_at, last_saved_at, score, max_score, percentage, passed`

func (s *AttemptStore) CreateActive(ctx context.Context, attempt domain.Attempt) (domain.Attempt, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO attempts (id, user_id, test_id, subject_id, state, started_at, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, test_id) WHERE state = 'in_progress' DO NOTHING`,
		attempt.ID, attempt.UserID, attempt.TestID, attempt.SubjectID,
		string(attempt.State), attempt.StartedAt, attempt.Deadline)
	if err != nil {
		return domain.Attempt{}, false, fmt.Errorf("create attempt: %w", err)
	}
	if tag.RowsAffected() == 1 {
		stored, err := s.Get(ctx, attempt.ID)
		return stored, true, err
	}

	// Lost the race; hand back the attempt the winner created.
	existing, ok, err := s.ActiveFor(ctx, attempt.UserID, attempt.TestID)
	if err != nil {
		return domain.Attempt{}, false, err
	}
	if !ok {
		return domain.Attempt{}, false, fmt.Errorf("create attempt: concurrent creation raced with finalize")
	}
	return existing, false, nil
}

func (s *AttemptStore) ActiveFor(ctx context.Context, userID, testID string) (domain.Attempt, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts
		WHERE user_id=$1 AND test_id=$2 AND state='in_progress'`, userID, testID)
	attempt, err := s.scanAttempt(ctx, row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, false, nil
	}
	if err != nil {
		return domain.Attempt{}, false, err
	}
	return attempt, true, nil
}

func (s *AttemptStore) HasTerminal(ctx context.Context, userID, testID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(
		SELECT 1 FROM attempts WHERE user_id=$1 AND test_id=$2 AND state <> 'in_progress')`,
		userID, testID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has terminal attempt: %w", err)
	}
	return exists, nil
}

func (s *AttemptStore) Get(ctx context.Context, attemptID string) (domain.Attempt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id=$1`, attemptID)
	attempt, err := s.scanAttempt(ctx, row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, err
}

func (s *AttemptStore) MergeAnswers(ctx context.Context, attemptID string, entries []domain.AnswerEntry, savedAt time.Time) (map[string]domain.AnswerEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("merge answers: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE attempts SET last_saved_at=$2 WHERE id=$1 AND state='in_progress'`,
		attemptID, savedAt)
	if err != nil {
		return nil, fmt.Errorf("merge answers: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, s.missingOrTerminal(ctx, attemptID)
	}

	for _, entry := range entries {
		// Last-write-wins is encoded in the upsert condition: an equal or
		// newer timestamp replaces, an older one is a no-op.
		_, err := tx.Exec(ctx, `
			INSERT INTO attempt_answers (attempt_id, question_id, value, marked_for_review, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (attempt_id, question_id) DO UPDATE
			SET value=EXCLUDED.value, marked_for_review=EXCLUDED.marked_for_review, updated_at=EXCLUDED.updated_at
			WHERE attempt_answers.updated_at <= EXCLUDED.updated_at`,
			attemptID, entry.QuestionID, entry.Value, entry.MarkedForReview, entry.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("upsert answer %s: %w", entry.QuestionID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("merge answers: %w", err)
	}
	return s.loadAnswers(ctx, attemptID)
}

func (s *AttemptStore) Finalize(ctx context.Context, attemptID string, state domain.AttemptState, summary domain.ScoreSummary, finishedAt time.Time) (domain.Attempt, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE attempts
		SET state=$2, finished_at=$3, score=$4, max_score=$5, percentage=$6, passed=$7
		WHERE id=$1 AND state='in_progress'`,
		attemptID, string(state), finishedAt,
		summary.Score, summary.MaxScore, summary.Percentage, summary.Passed)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("finalize attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Attempt{}, s.missingOrTerminal(ctx, attemptID)
	}
	return s.Get(ctx, attemptID)
}

// missingOrTerminal distinguishes an unknown attempt from one that already
// reached a terminal state.
func (s *AttemptStore) missingOrTerminal(ctx context.Context, attemptID string) error {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM attempts WHERE id=$1`, attemptID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAttemptNotFound
	}
	if err != nil {
		return fmt.Errorf("load attempt state: %w", err)
	}
	if domain.AttemptState(state).Terminal() {
		return domain.ErrAlreadySubmitted
	}
	return domain.ErrAttemptNotFound
}

func (s *AttemptStore) scanAttempt(ctx context.Context, row pgx.Row) (domain.Attempt, error) {
	var (
		attempt    domain.Attempt
		state      string
		finishedAt *time.Time
		lastSaved  *time.Time
		score      *int
		maxScore   *int
		percentage *int
		passed     *bool
	)
	err := row.Scan(&attempt.ID, &attempt.UserID, &attempt.TestID, &attempt.SubjectID,
		&state, &attempt.StartedAt, &attempt.Deadline, &finishedAt, &lastSaved,
		&score, &maxScore, &percentage, &passed)
	if err != nil {
		return domain.Attempt{}, err
	}
	attempt.State = domain.AttemptState(state)
	attempt.FinishedAt = finishedAt
	if lastSaved != nil {
		attempt.LastSaved = *lastSaved
	}
	if score != nil && maxScore != nil && percentage != nil && passed != nil {
		attempt.Result = &domain.ScoreSummary{
			Score:      *score,
			MaxScore:   *maxScore,
			Percentage: *percentage,
			Passed:     *passed,
		}
	}

	answers, err := s.loadAnswers(ctx, attempt.ID)
	if err != nil {
		return domain.Attempt{}, err
	}
	attempt.Answers = answers
	return attempt, nil
}

func (s *AttemptStore) loadAnswers(ctx context.Context, attemptID string) (map[string]domain.AnswerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT question_id, value, marked_for_review, updated_at
		FROM attempt_answers WHERE attempt_id=$1`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()

	answers := make(map[string]domain.AnswerEntry)
	for rows.Next() {
		entry := domain.AnswerEntry{}
		if err := rows.Scan(&entry.QuestionID, &entry.Value, &entry.MarkedForReview, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers[entry.QuestionID] = entry
	}
	return answers, rows.Err()
}
