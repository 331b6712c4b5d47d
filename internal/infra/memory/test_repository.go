package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"testprep-attempt-service/internal/domain"
)

// TestLoader fetches test definitions from a backing store (e.g., the
// content database).
type TestLoader interface {
	LoadTest(ctx context.Context, testID string) (domain.TestDefinition, error)
}

// TestRepository caches test definitions with TTL to avoid repeated DB hits.
// Definitions are immutable while attempts are open, so a stale-until-TTL
// cache is safe.
type TestRepository struct {
	loader TestLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedTest
}

type cachedTest struct {
	def       domain.TestDefinition
	expiresAt time.Time
}

func NewTestRepository(loader TestLoader, ttl time.Duration) *TestRepository {
	return &TestRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedTest),
	}
}

func (r *TestRepository) GetTest(ctx context.Context, testID string) (domain.TestDefinition, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[testID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.def, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(testID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[testID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.def, nil
		}
		r.mu.RUnlock()

		def, err := r.loader.LoadTest(ctx, testID)
		if err != nil {
			return domain.TestDefinition{}, err
		}

		r.mu.Lock()
		r.cache[testID] = cachedTest{
			def:       def,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return def, nil
	})
	if err != nil {
		return domain.TestDefinition{}, err
	}
	return result.(domain.TestDefinition), nil
}

func (r *TestRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticTestLoader is a simple loader backed by an in-memory map (useful for
// tests/demos).
type StaticTestLoader struct {
	tests map[string]domain.TestDefinition
}

func NewStaticTestLoader(tests map[string]domain.TestDefinition) *StaticTestLoader {
	return &StaticTestLoader{tests: tests}
}

func (l *StaticTestLoader) LoadTest(_ context.Context, testID string) (domain.TestDefinition, error) {
	if def, ok := l.tests[testID]; ok {
		return def, nil
	}
	return domain.TestDefinition{}, domain.ErrTestNotFound
}
