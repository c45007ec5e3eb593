package memory

import (
	"context"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	db *DB
}

// NewAuditStore creates an AuditStore over db.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	d := make(map[string]any, len(detail))
	for k, v := range detail {
		d[k] = v
	}
	s.db.audit = append(s.db.audit, domain.AuditEntry{
		ID:        int64(len(s.db.audit) + 1),
		Event:     event,
		Detail:    d,
		CreatedAt: s.db.stamp(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.AuditEntry
	for i := len(s.db.audit) - 1; i >= 0; i-- {
		if inWindow(s.db.audit[i].CreatedAt, opts) {
			out = append(out, s.db.audit[i])
		}
	}
	lo, hi := page(len(out), opts)
	return out[lo:hi], nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
