package services

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

// CartService mutates carts under the cart row lock, the same lock
// checkout takes, so an item is either in the checkout or stays in the cart.
type CartService struct {
	txm      Transactor
	carts    CartStore
	users    *UserService
	products *ProductService
	log      *zap.Logger
}

func NewCartService(txm Transactor, carts CartStore, users *UserService, products *ProductService, log *zap.Logger) *CartService {
	return &CartService{txm: txm, carts: carts, users: users, products: products, log: log}
}

// AddItem adds quantity of a product, creating the cart on first use. The
// stock check here is advisory; the reservation at checkout is binding.
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int) (*models.Cart, error) {
	if quantity <= 0 {
		return nil, apperrors.Validation("quantity", quantity, "must be positive")
	}

	var cart *models.Cart
	err := s.txm.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.users.ValidateUserExists(ctx, tx, userID); err != nil {
			return err
		}
		product, err := s.products.GetProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		current, err := s.carts.GetOrCreateForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		wanted := quantity + quantityOf(current, productID)
		if wanted > product.Stock {
			return apperrors.InsufficientStock(productID, wanted, product.Stock)
		}

		if err := s.carts.AddItem(ctx, tx, current.ID, productID, quantity); err != nil {
			return err
		}
		cart, err = s.carts.LockByUserID(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("item added to cart",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
	)
	return cart, nil
}

// SetItemQuantity replaces the quantity of a product already in the cart.
func (s *CartService) SetItemQuantity(ctx context.Context, userID, productID int64, quantity int) (*models.Cart, error) {
	if quantity <= 0 {
		return nil, apperrors.Validation("quantity", quantity, "must be positive")
	}
	return s.mutate(ctx, userID, func(tx *sql.Tx, cart *models.Cart) error {
		product, err := s.products.GetProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if quantity > product.Stock {
			return apperrors.InsufficientStock(productID, quantity, product.Stock)
		}
		ok, err := s.carts.SetItemQuantity(ctx, tx, cart.ID, productID, quantity)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.NotFound("Cart item", productID)
		}
		return nil
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID int64) (*models.Cart, error) {
	return s.mutate(ctx, userID, func(tx *sql.Tx, cart *models.Cart) error {
		ok, err := s.carts.RemoveItem(ctx, tx, cart.ID, productID)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.NotFound("Cart item", productID)
		}
		return nil
	})
}

// GetCart returns the user's cart. A user without a cart gets an empty one.
func (s *CartService) GetCart(ctx context.Context, userID int64) (*models.Cart, error) {
	if err := s.users.ValidateUserExists(ctx, nil, userID); err != nil {
		return nil, err
	}
	cart, err := s.carts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return &models.Cart{UserID: userID, Items: []models.CartItem{}}, nil
	}
	return cart, nil
}

func (s *CartService) mutate(ctx context.Context, userID int64, fn func(tx *sql.Tx, cart *models.Cart) error) (*models.Cart, error) {
	var cart *models.Cart
	err := s.txm.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := s.carts.LockByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current == nil {
			return apperrors.NotFound("Cart for user", userID)
		}
		if err := fn(tx, current); err != nil {
			return err
		}
		cart, err = s.carts.LockByUserID(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func quantityOf(cart *models.Cart, productID int64) int {
	for _, item := range cart.Items {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	return 0
}
