package audit

import (
	"context"
	"fmt"

	"github.com/alphadose/haxmap"

	"github.com/casualjim/herald/pkg/uuidx"
)

// Entry is a stored record plus its outcome, once known.
type Entry struct {
	Record Record
	Update *Update
}

// MemoryStore keeps the audit trail in process memory. Useful for tests and
// for deployments that do not need the trail to survive a restart.
type MemoryStore struct {
	entries *haxmap.Map[string, *Entry]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: haxmap.New[string, *Entry]()}
}

func (s *MemoryStore) CreateRun(_ context.Context, record Record) (string, error) {
	id := uuidx.NewString()
	s.entries.Set(id, &Entry{Record: record})
	return id, nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, recordID string, update Update) error {
	entry, ok := s.entries.Get(recordID)
	if !ok {
		return fmt.Errorf("no audit record %q", recordID)
	}
	entry.Update = &update
	return nil
}

// Entry returns a stored entry by record identifier.
func (s *MemoryStore) Entry(recordID string) (*Entry, bool) {
	return s.entries.Get(recordID)
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	return int(s.entries.Len())
}
