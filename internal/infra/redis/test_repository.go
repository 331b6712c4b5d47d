package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"testprep-attempt-service/internal/domain"
)

// TestLoader fetches test definitions from a backing store (e.g., Postgres).
type TestLoader interface {
	LoadTest(ctx context.Context, testID string) (domain.TestDefinition, error)
}

// TestRepository caches test definitions in Redis and falls back to a loader
// on cache miss. The whole definition is stored as one JSON value:
// SET test:{testID}:def {json}. Question order and kinds must survive the
// cache because the scorer walks questions in definition order.
type TestRepository struct {
	client *redis.Client
	loader TestLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewTestRepository(client *redis.Client, loader TestLoader, ttl time.Duration) *TestRepository {
	return &TestRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *TestRepository) GetTest(ctx context.Context, testID string) (domain.TestDefinition, error) {
	key := r.defKey(testID)

	if raw, err := r.client.Get(ctx, key).Bytes(); err == nil {
		var def domain.TestDefinition
		if err := json.Unmarshal(raw, &def); err == nil {
			return def, nil
		}
		// fall through to reload on a corrupt cache value
	}

	result, err, _ := r.sf.Do(testID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := r.client.Get(ctx, key).Bytes(); err == nil {
			var def domain.TestDefinition
			if err := json.Unmarshal(raw, &def); err == nil {
				return def, nil
			}
		}

		def, err := r.loader.LoadTest(ctx, testID)
		if err != nil {
			return domain.TestDefinition{}, err
		}

		if raw, err := json.Marshal(def); err == nil {
			_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		}
		return def, nil
	})
	if err != nil {
		return domain.TestDefinition{}, err
	}
	return result.(domain.TestDefinition), nil
}

func (r *TestRepository) defKey(testID string) string {
	return "test:" + testID + ":def"
}

func (r *TestRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
