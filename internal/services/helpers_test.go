package services

import (
	"database/sql/driver"
	"encoding/json"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/publisher"
)

var (
	cartColumns    = []string{"id", "user_id", "created_at", "updated_at"}
	productColumns = []string{"id", "name", "description", "price_amount", "stock", "created_at", "updated_at"}
	orderColumns   = []string{"id", "user_id", "cart_id", "checkout_event_id", "status", "payment_method", "total_amount", "created_at", "updated_at", "cancelled_at"}
	itemColumns    = []string{"id", "order_id", "product_id", "quantity", "unit_price_amount"}
)

func expect(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

type subscriptions map[string][]string

func (s subscriptions) ListenerIDs(eventType string) []string { return s[eventType] }

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify() { c.n.Add(1) }

// payload captures the serialized event passed to the outbox insert.
type payload struct{ raw string }

func (p *payload) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		p.raw = s
	}
	return ok
}

func (p *payload) decode(t *testing.T, dest any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(p.raw), dest))
}

type harness struct {
	mock     sqlmock.Sqlmock
	database *db.PostgresDB
	txm      *db.TxManager
	pub      *publisher.EventPublisher
	notifier *countingNotifier
	users    *UserService
	products *ProductService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	database := &db.PostgresDB{Conn: conn}
	subs := subscriptions{
		models.CheckoutEventType:       {"inventory.reserve-stock", "orders.create-order"},
		models.OrderCancelledEventType: {"inventory.restore-stock"},
	}
	return &harness{
		mock:     mock,
		database: database,
		txm:      db.NewTxManager(database),
		pub:      publisher.NewEventPublisher(db.NewOutboxRepository(database), subs, zap.NewNop()),
		notifier: &countingNotifier{},
		users:    NewUserService(db.NewUserRepository(database)),
		products: NewProductService(db.NewProductRepository(database), nil, zap.NewNop()),
	}
}

func (h *harness) expectUserExists(id int64, exists bool) {
	h.mock.ExpectQuery(expect("SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}
