package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"testprep-attempt-service/internal/domain"
)

// TestLoader loads test definition JSONB from Postgres.
type TestLoader struct {
	pool *pgxpool.Pool
}

func NewTestLoader(pool *pgxpool.Pool) *TestLoader {
	return &TestLoader{pool: pool}
}

func (l *TestLoader) LoadTest(ctx context.Context, testID string) (domain.TestDefinition, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM tests WHERE id=$1`, testID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TestDefinition{}, domain.ErrTestNotFound
	}
	if err != nil {
		return domain.TestDefinition{}, fmt.Errorf("load test: %w", err)
	}
	var def domain.TestDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return domain.TestDefinition{}, fmt.Errorf("unmarshal test: %w", err)
	}
	return def, nil
}
