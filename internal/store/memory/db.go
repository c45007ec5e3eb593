// Package memory implements the domain store interfaces over an in-process
// arena keyed by derived record addresses. All stores built from one DB share
// a single mutex, so multi-record updates (bet append, settlement start) are
// atomic exactly as the postgres transactions are.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// DB is the shared arena.
type DB struct {
	mu          sync.Mutex
	markets     map[string]domain.Market
	bets        map[string][]domain.BetLog
	jobs        map[string]domain.ResolutionJob
	marketJobs  map[string][]string
	settlements map[string]domain.Settlement
	audit       []domain.AuditEntry
	now         func() time.Time
}

// New creates an empty DB.
func New() *DB {
	return &DB{
		markets:     make(map[string]domain.Market),
		bets:        make(map[string][]domain.BetLog),
		jobs:        make(map[string]domain.ResolutionJob),
		marketJobs:  make(map[string][]string),
		settlements: make(map[string]domain.Settlement),
		now:         time.Now,
	}
}

func (db *DB) stamp() time.Time {
	return db.now().UTC()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneBet(b domain.BetLog) domain.BetLog {
	b.EncryptedBlob = cloneBytes(b.EncryptedBlob)
	return b
}

func cloneJob(j domain.ResolutionJob) domain.ResolutionJob {
	j.EncryptedOracle = cloneBytes(j.EncryptedOracle)
	return j
}

func cloneSettlement(s domain.Settlement) domain.Settlement {
	s.ResultBytes = cloneBytes(s.ResultBytes)
	s.Signature = cloneBytes(s.Signature)
	if s.Payouts != nil {
		s.Payouts = append([]domain.Payout(nil), s.Payouts...)
	}
	return s
}

// inWindow applies the Since/Until filters of opts to t.
func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

// page applies Offset and Limit to n items and returns the slice bounds.
func page(n int, opts domain.ListOpts) (int, int) {
	lo := opts.Offset
	if lo > n {
		lo = n
	}
	hi := n
	if opts.Limit > 0 && lo+opts.Limit < hi {
		hi = lo + opts.Limit
	}
	return lo, hi
}

func sortMarkets(ms []domain.Market) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.After(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}
