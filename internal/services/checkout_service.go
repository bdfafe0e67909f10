package services

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

type CheckoutResult struct {
	EventID uuid.UUID            `json:"event_id"`
	Event   models.CheckoutEvent `json:"event"`
}

// CheckoutService starts the order saga. Stock is not checked here: the
// inventory listener reserves it with a conditional update after commit.
type CheckoutService struct {
	txm       Transactor
	carts     CartStore
	users     *UserService
	products  ProductStore
	publisher EventPublisher
	notifier  Notifier
	log       *zap.Logger
}

func NewCheckoutService(txm Transactor, carts CartStore, users *UserService, products ProductStore, publisher EventPublisher, notifier Notifier, log *zap.Logger) *CheckoutService {
	return &CheckoutService{
		txm:       txm,
		carts:     carts,
		users:     users,
		products:  products,
		publisher: publisher,
		notifier:  notifier,
		log:       log,
	}
}

// Checkout snapshots the user's cart into a CheckoutEvent, records it and
// empties the cart in one transaction. Nothing is published and the cart is
// untouched when any step fails.
func (s *CheckoutService) Checkout(ctx context.Context, userID int64, paymentMethod string) (*CheckoutResult, error) {
	if paymentMethod == "" {
		paymentMethod = models.DefaultPaymentMethod
	}

	var result CheckoutResult
	err := s.txm.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.users.ValidateUserExists(ctx, tx, userID); err != nil {
			return err
		}

		cart, err := s.carts.LockByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cart.IsEmpty() {
			return apperrors.InvalidOperation("checkout", "cart is empty")
		}

		products, err := s.products.GetByIDs(ctx, tx, cart.ProductIDs())
		if err != nil {
			return err
		}
		prices := make(map[int64]int64, len(products))
		for _, p := range products {
			prices[p.ID] = p.PriceAmount
		}

		event := models.CheckoutEvent{
			CartID:        cart.ID,
			UserID:        userID,
			PaymentMethod: paymentMethod,
		}
		for _, item := range cart.Items {
			price, ok := prices[item.ProductID]
			if !ok {
				return apperrors.NotFound("Product", item.ProductID)
			}
			event.Items = append(event.Items, models.CheckoutItem{
				ProductID:       item.ProductID,
				Quantity:        item.Quantity,
				UnitPriceAmount: price,
			})
			event.TotalAmount += price * int64(item.Quantity)
		}

		eventID, err := s.publisher.Publish(ctx, tx, event)
		if err != nil {
			return err
		}
		if err := s.carts.Clear(ctx, tx, cart.ID); err != nil {
			return err
		}

		result = CheckoutResult{EventID: eventID, Event: event}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify()
	s.log.Info("checkout recorded",
		zap.Int64("user_id", userID),
		zap.Int64("cart_id", result.Event.CartID),
		zap.Stringer("event_id", result.EventID),
		zap.Int64("total_amount", result.Event.TotalAmount),
	)
	return &result, nil
}
