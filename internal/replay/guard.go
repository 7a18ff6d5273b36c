// Package replay is the process-wide defense against envelope replay. It
// remembers (user, nonce) pairs for as long as the timestamp window keeps
// them meaningful; anything older is unverifiable anyway and gets swept.
package replay

import (
	"fmt"
	"hash/crc32"
	"sync"

	"signet/internal/common"
	"signet/internal/models"
)

const shardCount = 16

type nonceKey struct {
	user  models.UserKey
	nonce uint64
}

type shard struct {
	mu   sync.Mutex
	seen map[nonceKey]int64
}

// Guard admits each (user, nonce) pair at most once per replay window.
// Sharded by user hash so admissions for different users rarely contend.
type Guard struct {
	maxSkew int64
	now     func() int64
	shards  [shardCount]*shard
}

// NewGuard starts empty. maxSkew is the accepted clock drift in seconds; now
// supplies unix time and is swapped for a fake in tests.
func NewGuard(maxSkew int64, now func() int64) *Guard {
	g := &Guard{maxSkew: maxSkew, now: now}
	for i := range g.shards {
		g.shards[i] = &shard{seen: make(map[nonceKey]int64)}
	}
	return g
}

func (g *Guard) shardFor(user models.UserKey) *shard {
	return g.shards[crc32.ChecksumIEEE([]byte(user))%shardCount]
}

// Admit accepts the pair or reports why not. Exactly one of N concurrent
// admissions of the same pair succeeds; the shard mutex makes the
// check-then-record step atomic.
func (g *Guard) Admit(user models.UserKey, nonce uint64, timestamp uint64) error {
	now := g.now()
	ts := int64(timestamp)
	if ts < now-g.maxSkew || ts > now+g.maxSkew {
		return fmt.Errorf("%w: timestamp %d outside %d±%d", common.ErrStaleTimestamp, ts, now, g.maxSkew)
	}

	key := nonceKey{user: user, nonce: nonce}
	s := g.shardFor(user)

	s.mu.Lock()
	defer s.mu.Unlock()
	// A record must live for as long as its timestamp stays admissible:
	// ts passes the window check while now <= ts+maxSkew == exp.
	if exp, ok := s.seen[key]; ok && exp >= now {
		return fmt.Errorf("%w: nonce %d for %s", common.ErrNonceReused, nonce, user)
	}
	s.seen[key] = ts + g.maxSkew
	return nil
}

// Sweep drops expired records and returns how many were removed.
func (g *Guard) Sweep() int {
	now := g.now()
	removed := 0
	for _, s := range g.shards {
		s.mu.Lock()
		for k, exp := range s.seen {
			if exp < now {
				delete(s.seen, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Size is the number of live records across all shards.
func (g *Guard) Size() int {
	total := 0
	for _, s := range g.shards {
		s.mu.Lock()
		total += len(s.seen)
		s.mu.Unlock()
	}
	return total
}
