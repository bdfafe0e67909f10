package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/consumer"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

type PublicationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.EventPublication, error)
	FindFailed(ctx context.Context, limit int) ([]models.EventPublication, error)
	Requeue(ctx context.Context, id uuid.UUID) (bool, error)
}

type CheckoutOrderReader interface {
	StatusForCheckout(ctx context.Context, q db.DBTX, checkoutEventID uuid.UUID) (models.OrderStatus, bool, error)
}

// OutboxService is the operator view of dead-lettered publications.
type OutboxService struct {
	outbox PublicationStore
	orders CheckoutOrderReader
	log    *zap.Logger
}

func NewOutboxService(outbox PublicationStore, orders CheckoutOrderReader, log *zap.Logger) *OutboxService {
	return &OutboxService{outbox: outbox, orders: orders, log: log}
}

func (s *OutboxService) FindFailed(ctx context.Context, limit int) ([]models.EventPublication, error) {
	return s.outbox.FindFailed(ctx, limit)
}

// Requeue makes a dead-lettered publication pending again. It reports false
// when id is not a dead-lettered publication.
//
// A stock reservation is refused once its order is cancelled: the restore
// step already treated the reservation as never applied, so delivering it
// now would take stock that is never given back.
func (s *OutboxService) Requeue(ctx context.Context, id uuid.UUID) (bool, error) {
	pub, err := s.outbox.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if pub == nil || pub.Status() != models.PublicationFailed {
		return false, nil
	}

	if pub.ListenerID == consumer.InventoryReserveListener {
		status, found, err := s.orders.StatusForCheckout(ctx, nil, pub.EventID)
		if err != nil {
			return false, err
		}
		if found && status == models.OrderStatusCancelled {
			return false, apperrors.InvalidOperation("requeue publication",
				fmt.Sprintf("order for checkout %s is already %s", pub.EventID, status))
		}
	}

	ok, err := s.outbox.Requeue(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.log.Info("publication requeued",
			zap.Stringer("publication_id", id),
			zap.String("listener", pub.ListenerID),
		)
	}
	return ok, nil
}
