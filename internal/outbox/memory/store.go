// Package memory provides in-memory outbox.Store and outbox.UnitOfWork
// implementations for unit tests, mirroring the teacher's mutex-guarded
// test doubles for the spending repositories.
package memory

import (
	"context"
	"sync"
	"time"

	"aurum-outbox/internal/common/valueobjects"
	"aurum-outbox/internal/outbox"
)

// Store is an in-memory outbox.Store. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	records map[string]*outbox.Record
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[string]*outbox.Record)}
}

var _ outbox.Store = (*Store)(nil)

// Append stores a copy of record. If exec is the Executor bound to an
// in-memory transaction, the write is staged against that transaction
// instead of applied immediately, so a later Rollback discards it and a
// Commit makes it visible — matching how the postgres Store's Append
// participates in a real pgx.Tx. A nil or unrecognized exec (direct
// non-transactional use, as in most unit tests) writes straight through.
func (s *Store) Append(ctx context.Context, exec outbox.Executor, record *outbox.Record) error {
	cp := *record
	if tx, ok := exec.(*txExecutor); ok && tx != nil {
		tx.tx.stage(s, &cp)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID.String()] = &cp
	return nil
}

// commit makes a staged record visible. Called only by transaction.Commit.
func (s *Store) commit(record *outbox.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID.String()] = record
}

// FetchAndClaim returns up to limit unprocessed, unquarantined records
// ordered by OccurredAt whose claim has expired (or was never set),
// claiming each for claimedBy until claimUntil.
func (s *Store) FetchAndClaim(ctx context.Context, limit int, maxAttempts int, claimedBy string, claimUntil time.Time) ([]*outbox.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eligible := make([]*outbox.Record, 0, len(s.records))
	for _, r := range s.records {
		if r.IsProcessed() || r.IsQuarantined(maxAttempts) {
			continue
		}
		if r.ClaimedUntil != nil && r.ClaimedUntil.After(time.Now()) {
			continue
		}
		eligible = append(eligible, r)
	}
	sortByOccurredAt(eligible)

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]*outbox.Record, 0, len(eligible))
	for _, r := range eligible {
		r.ClaimedBy = claimedBy
		until := claimUntil
		r.ClaimedUntil = &until
		cp := *r
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// MarkProcessed marks id published, counting the successful attempt and
// clearing the last error. Idempotent.
func (s *Store) MarkProcessed(ctx context.Context, id valueobjects.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id.String()]
	if !ok {
		return outbox.ErrRecordNotFound
	}
	if r.IsProcessed() {
		return nil
	}
	now := time.Now()
	r.ProcessedAt = &now
	r.Attempts++
	r.LastError = ""
	r.ClaimedBy = ""
	r.ClaimedUntil = nil
	return nil
}

// MarkFailed increments id's attempt count and stores lastErr.
func (s *Store) MarkFailed(ctx context.Context, id valueobjects.EventID, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id.String()]
	if !ok {
		return outbox.ErrRecordNotFound
	}
	r.Attempts++
	r.LastError = lastErr
	r.ClaimedBy = ""
	r.ClaimedUntil = nil
	return nil
}

// MarkQuarantined sets attempts directly to maxAttempts, skipping the usual
// one-per-tick increment, for a failure that will never become retryable.
func (s *Store) MarkQuarantined(ctx context.Context, id valueobjects.EventID, maxAttempts int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id.String()]
	if !ok {
		return outbox.ErrRecordNotFound
	}
	r.Attempts = maxAttempts
	r.LastError = lastErr
	r.ClaimedBy = ""
	r.ClaimedUntil = nil
	return nil
}

// ListByTenant returns tenantID's most recent records, newest first.
func (s *Store) ListByTenant(ctx context.Context, tenantID valueobjects.TenantID, limit int) ([]*outbox.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matching := make([]*outbox.Record, 0, len(s.records))
	for _, r := range s.records {
		if r.TenantID == tenantID {
			cp := *r
			matching = append(matching, &cp)
		}
	}
	sortByOccurredAt(matching)
	reverse(matching)

	if len(matching) > limit {
		matching = matching[:limit]
	}
	return matching, nil
}

func reverse(records []*outbox.Record) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}

// All returns a snapshot of every stored record, for test assertions.
func (s *Store) All() []*outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*outbox.Record, 0, len(s.records))
	for _, r := range s.records {
		cp := *r
		out = append(out, &cp)
	}
	sortByOccurredAt(out)
	return out
}

func sortByOccurredAt(records []*outbox.Record) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].OccurredAt.Before(records[j-1].OccurredAt); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}
