package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

// HandlerFunc processes one publication inside tx. tx commits together with
// the completion mark, so every write should go through it.
type HandlerFunc func(ctx context.Context, tx *sql.Tx, pub models.EventPublication) error

// Listener subscribes a handler to one event type.
type Listener struct {
	ID        string
	EventType string
	// Lane groups listeners whose rows must run strictly in publication
	// order. Defaults to ID.
	Lane   string
	Handle HandlerFunc
	// AfterCommit, when set, runs after the handler's transaction commits.
	AfterCommit func(ctx context.Context, pub models.EventPublication)
}

// Registry is the explicit event type to listener table.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]Listener
	byType map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]Listener),
		byType: make(map[string][]string),
	}
}

func (r *Registry) Register(l Listener) error {
	switch {
	case l.ID == "":
		return errors.New("listener id is required")
	case l.EventType == "":
		return fmt.Errorf("listener %s: event type is required", l.ID)
	case l.Handle == nil:
		return fmt.Errorf("listener %s: handler is required", l.ID)
	}
	if l.Lane == "" {
		l.Lane = l.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[l.ID]; exists {
		return fmt.Errorf("listener %s already registered", l.ID)
	}
	r.byID[l.ID] = l
	r.byType[l.EventType] = append(r.byType[l.EventType], l.ID)
	return nil
}

// MustRegister panics on the first invalid listener. Meant for wiring at startup.
func (r *Registry) MustRegister(listeners ...Listener) {
	for _, l := range listeners {
		if err := r.Register(l); err != nil {
			panic(err)
		}
	}
}

// ListenerIDs returns the listeners of eventType in registration order.
func (r *Registry) ListenerIDs(eventType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byType[eventType]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func (r *Registry) Listener(id string) (Listener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byID[id]
	return l, ok
}

// Lane is one ordered delivery queue and the listeners feeding it.
type Lane struct {
	Name        string
	ListenerIDs []string
}

// Lanes returns every lane sorted by name, each with its listener ids sorted.
func (r *Registry) Lanes() []Lane {
	r.mu.RLock()
	byLane := make(map[string][]string)
	for id, l := range r.byID {
		byLane[l.Lane] = append(byLane[l.Lane], id)
	}
	r.mu.RUnlock()

	lanes := make([]Lane, 0, len(byLane))
	for name, ids := range byLane {
		sort.Strings(ids)
		lanes = append(lanes, Lane{Name: name, ListenerIDs: ids})
	}
	sort.Slice(lanes, func(i, j int) bool { return lanes[i].Name < lanes[j].Name })
	return lanes
}

// IDs returns every registered listener id, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
