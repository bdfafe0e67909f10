package app

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/consumer"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/dispatcher"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/handlers"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/publisher"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/services"
)

// Infra holds the optional collaborators. Nil fields switch the matching
// feature off.
type Infra struct {
	Cache  db.Cache
	Broker consumer.MessagePublisher

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// App is the wired shop core: repositories, listeners, the dispatcher and
// the services on top.
type App struct {
	Registry   *dispatcher.Registry
	Dispatcher *dispatcher.Dispatcher
	Outbox     *db.OutboxRepository
	Products   *db.ProductRepository

	Users    *services.UserService
	Catalog  *services.ProductService
	Carts    *services.CartService
	Checkout *services.CheckoutService
	Orders   *services.OrderService
	Admin    *services.OutboxService

	Router *gin.Engine
}

func New(cfg *config.Config, database *db.PostgresDB, infra Infra, log *zap.Logger) (*App, error) {
	txm := db.NewTxManager(database)
	outbox := db.NewOutboxRepository(database)
	products := db.NewProductRepository(database)
	orders := db.NewOrderRepository(database)
	carts := db.NewCartRepository(database)
	users := db.NewUserRepository(database)

	registry := dispatcher.NewRegistry()
	pub := publisher.NewEventPublisher(outbox, registry, log.Named("publisher"))

	var (
		catalogCache services.ProductCache
		evictor      consumer.CacheEvictor
	)
	if infra.Cache != nil {
		cached := db.NewCachedProductRepository(products, infra.Cache, log.Named("product-cache"))
		catalogCache = cached
		evictor = cached
	}

	inventory := consumer.NewInventoryConsumer(products, outbox, evictor, log.Named("inventory"))
	orderSaga := consumer.NewOrderConsumer(orders, pub, log.Named("orders"))
	listeners := append(inventory.Listeners(), orderSaga.Listeners()...)
	if infra.Broker != nil {
		relay := consumer.NewRelayConsumer(infra.Broker, cfg.RabbitMQ.Queue, log.Named("relay"))
		listeners = append(listeners, relay.Listeners()...)
	}
	for _, l := range listeners {
		if err := registry.Register(l); err != nil {
			return nil, fmt.Errorf("failed to register listener: %w", err)
		}
	}

	registerer := infra.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	d := dispatcher.New(outbox, txm, registry, dispatcher.OptionsFromConfig(cfg.Dispatcher),
		dispatcher.NewMetrics(registerer), log.Named("dispatcher"))

	userSvc := services.NewUserService(users)
	catalog := services.NewProductService(products, catalogCache, log.Named("products"))
	a := &App{
		Registry:   registry,
		Dispatcher: d,
		Outbox:     outbox,
		Products:   products,
		Users:      userSvc,
		Catalog:    catalog,
		Carts:      services.NewCartService(txm, carts, userSvc, catalog, log.Named("carts")),
		Checkout:   services.NewCheckoutService(txm, carts, userSvc, products, pub, d, log.Named("checkout")),
		Orders:     services.NewOrderService(txm, orders, userSvc, catalog, pub, d, log.Named("orders")),
		Admin:      services.NewOutboxService(outbox, orders, log.Named("outbox")),
	}

	a.Router = handlers.NewRouter(handlers.Handlers{
		Service:  cfg.ServiceName,
		DB:       database.Conn,
		Gatherer: infra.Gatherer,
		Orders:   handlers.NewOrderHandler(a.Orders),
		Carts:    handlers.NewCartHandler(a.Carts, a.Checkout),
		Products: handlers.NewProductHandler(a.Catalog),
		Outbox:   handlers.NewOutboxHandler(a.Admin, d),
	}, log.Named("http"))

	log.Info("application wired",
		zap.Int("listeners", len(listeners)),
		zap.Bool("cache", infra.Cache != nil),
		zap.Bool("relay", infra.Broker != nil),
	)
	return a, nil
}
