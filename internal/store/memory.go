package store

import (
	"context"
	"sync"
	"time"
)

// MemoryClaimStore はプロセス内で動作するClaimStore。
// 期限切れのキーはClaim時に遅延削除する。
type MemoryClaimStore struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

// NewMemoryClaimStore はMemoryClaimStoreを生成する。
func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Claim はキーが未取得または期限切れであれば取得してtrueを返す。
// ttlが0以下の場合は期限なしで保持する。
func (s *MemoryClaimStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.claims[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}

	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	s.claims[key] = exp
	return true, nil
}

// Release はキーを解放する。未取得のキーに対しては何もしない。
func (s *MemoryClaimStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, key)
	return nil
}

// Sweep は期限切れのキーを削除し、削除件数を返す。
func (s *MemoryClaimStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, exp := range s.claims {
		if !exp.IsZero() && !now.Before(exp) {
			delete(s.claims, k)
			n++
		}
	}
	return n
}

var _ ClaimStore = (*MemoryClaimStore)(nil)
