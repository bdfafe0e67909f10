package consumer

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

// memoryStock applies updates to a copy and only keeps them when the test
// calls commit, mimicking a rolled back transaction otherwise.
type memoryStock struct {
	committed map[int64]int
	working   map[int64]int
}

func newMemoryStock(levels map[int64]int) *memoryStock {
	s := &memoryStock{committed: levels}
	s.begin()
	return s
}

func (s *memoryStock) begin() {
	s.working = make(map[int64]int, len(s.committed))
	for k, v := range s.committed {
		s.working[k] = v
	}
}

func (s *memoryStock) commit() {
	s.committed = s.working
	s.begin()
}

func (s *memoryStock) DecrementStock(_ context.Context, _ db.DBTX, id int64, qty int) (bool, error) {
	stock, ok := s.working[id]
	if !ok || stock < qty {
		return false, nil
	}
	s.working[id] = stock - qty
	return true, nil
}

func (s *memoryStock) IncrementStock(_ context.Context, _ db.DBTX, id int64, qty int) (bool, error) {
	if _, ok := s.working[id]; !ok {
		return false, nil
	}
	s.working[id] += qty
	return true, nil
}

func (s *memoryStock) Stock(_ context.Context, _ db.DBTX, id int64) (int, bool, error) {
	stock, ok := s.working[id]
	return stock, ok, nil
}

type publicationKey struct {
	eventID    uuid.UUID
	listenerID string
}

type memoryStatuses map[publicationKey]models.PublicationStatus

func (m memoryStatuses) set(eventID uuid.UUID, listenerID string, status models.PublicationStatus) {
	m[publicationKey{eventID, listenerID}] = status
}

func (m memoryStatuses) IsComplete(ctx context.Context, q db.DBTX, eventID uuid.UUID, listenerID string) (bool, error) {
	status, err := m.Status(ctx, q, eventID, listenerID)
	return status == models.PublicationCompleted, err
}

func (m memoryStatuses) Status(_ context.Context, _ db.DBTX, eventID uuid.UUID, listenerID string) (models.PublicationStatus, error) {
	if status, ok := m[publicationKey{eventID, listenerID}]; ok {
		return status, nil
	}
	return models.PublicationMissing, nil
}

type recordingEvictor struct {
	ids []int64
}

func (e *recordingEvictor) Evict(_ context.Context, ids ...int64) {
	e.ids = append(e.ids, ids...)
}

type recordingPublisher struct {
	events []models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ *sql.Tx, event models.Event) (uuid.UUID, error) {
	p.events = append(p.events, event)
	return uuid.New(), nil
}

func publication(t *testing.T, listenerID string, event models.Event) models.EventPublication {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return models.EventPublication{
		ID:              uuid.New(),
		EventID:         uuid.New(),
		EventType:       event.EventType(),
		ListenerID:      listenerID,
		SerializedEvent: string(payload),
	}
}
