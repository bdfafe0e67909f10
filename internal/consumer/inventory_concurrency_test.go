package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

// sharedStock applies each conditional update atomically, like a single
// row UPDATE ... WHERE stock >= $1 in Postgres.
type sharedStock struct {
	mu     sync.Mutex
	levels map[int64]int
}

func (s *sharedStock) DecrementStock(_ context.Context, _ db.DBTX, id int64, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stock, ok := s.levels[id]
	if !ok || stock < qty {
		return false, nil
	}
	s.levels[id] = stock - qty
	return true, nil
}

func (s *sharedStock) IncrementStock(_ context.Context, _ db.DBTX, id int64, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.levels[id]; !ok {
		return false, nil
	}
	s.levels[id] += qty
	return true, nil
}

func (s *sharedStock) Stock(_ context.Context, _ db.DBTX, id int64) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stock, ok := s.levels[id]
	return stock, ok, nil
}

func TestInventory_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	const (
		initial = 25
		buyers  = 40
		perBuy  = 2
	)
	stock := &sharedStock{levels: map[int64]int{5: initial}}
	c := NewInventoryConsumer(stock, memoryStatuses{}, nil, zap.NewNop())

	pubs := make([]models.EventPublication, buyers)
	for i := range pubs {
		pubs[i] = publication(t, InventoryReserveListener, checkout(models.CheckoutItem{ProductID: 5, Quantity: perBuy}))
	}

	var (
		g        errgroup.Group
		reserved atomic.Int64
		rejected atomic.Int64
	)
	for _, pub := range pubs {
		g.Go(func() error {
			err := c.OnCheckout(context.Background(), nil, pub)
			switch {
			case err == nil:
				reserved.Add(1)
			case apperrors.KindOf(err) == apperrors.KindInsufficientStock:
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	left, _, _ := stock.Stock(context.Background(), nil, 5)
	assert.GreaterOrEqual(t, left, 0)
	assert.Equal(t, int64(initial/perBuy), reserved.Load())
	assert.Equal(t, int64(buyers-initial/perBuy), rejected.Load())
	assert.Equal(t, initial-int(reserved.Load())*perBuy, left)
}
