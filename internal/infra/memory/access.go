package memory

import (
	"context"
	"sync"
)

// AccessChecker is an in-memory entitlement table. Real deployments swap in
// the payment system's client; this keeps demos and tests self-contained.
type AccessChecker struct {
	allowAll bool
	mu       sync.RWMutex
	grants   map[string]struct{}
}

// NewAllowAllAccess grants every user access to every test.
func NewAllowAllAccess() *AccessChecker {
	return &AccessChecker{allowAll: true, grants: make(map[string]struct{})}
}

// NewAccessChecker starts with no grants.
func NewAccessChecker() *AccessChecker {
	return &AccessChecker{grants: make(map[string]struct{})}
}

// Grant records that userID may take testID.
func (a *AccessChecker) Grant(userID, testID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.grants[userTestKey(userID, testID)] = struct{}{}
}

func (a *AccessChecker) HasAccess(_ context.Context, userID, testID string) (bool, error) {
	if a.allowAll {
		return true, nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.grants[userTestKey(userID, testID)]
	return ok, nil
}
