package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/cache"
	"github.com/eugener/goshop/internal/invalidate"
	"github.com/eugener/goshop/internal/pagination"
	"github.com/eugener/goshop/internal/storage"
)

// Refiller writes a fresh payload under a cache key.
type Refiller interface {
	Refill(ctx context.Context, key string, payload any, ttl time.Duration) error
}

// OrderStore is the storage behind carts and orders.
type OrderStore interface {
	storage.CartStore
	storage.OrderStore
}

// Orders manages carts and orders.
type Orders struct {
	store     OrderStore
	dispatch  invalidate.Dispatcher // nil = no invalidation
	refill    Refiller              // nil = no eager refill
	refillTTL time.Duration
}

// NewOrders returns an Orders. Placed orders are written to the cache for
// refillTTL when refill is non-nil.
func NewOrders(store OrderStore, dispatch invalidate.Dispatcher, refill Refiller, refillTTL time.Duration) *Orders {
	return &Orders{store: store, dispatch: dispatch, refill: refill, refillTTL: refillTTL}
}

// --- Cart ---

func (o *Orders) Cart(ctx context.Context, userID int64) (*shop.Cart, error) {
	return o.store.GetCart(ctx, userID)
}

func (o *Orders) AddToCart(ctx context.Context, userID, productID int64, quantity int) (*shop.Cart, error) {
	return o.cartChange(ctx, userID, func() (*shop.Cart, error) {
		return o.store.AddCartItem(ctx, userID, productID, quantity)
	})
}

func (o *Orders) UpdateCartItem(ctx context.Context, userID, productID int64, quantity int) (*shop.Cart, error) {
	return o.cartChange(ctx, userID, func() (*shop.Cart, error) {
		return o.store.UpdateCartItem(ctx, userID, productID, quantity)
	})
}

func (o *Orders) RemoveFromCart(ctx context.Context, userID, productID int64) (*shop.Cart, error) {
	return o.cartChange(ctx, userID, func() (*shop.Cart, error) {
		return o.store.RemoveCartItem(ctx, userID, productID)
	})
}

func (o *Orders) cartChange(ctx context.Context, userID int64, fn func() (*shop.Cart, error)) (*shop.Cart, error) {
	cart, err := fn()
	if err != nil {
		return nil, err
	}
	if o.dispatch != nil {
		o.dispatch.Dispatch(ctx, invalidate.Change{Kind: invalidate.CartChanged, UserID: userID})
	}
	return cart, nil
}

// --- Orders ---

func (o *Orders) Order(ctx context.Context, id int64) (*shop.Order, error) {
	return o.store.GetOrder(ctx, id)
}

func (o *Orders) List(ctx context.Context, userID int64, p pagination.Page) (shop.Page[*shop.Order], error) {
	return o.store.ListOrders(ctx, userID, p)
}

// Place records an order for the given lines. Stock is checked and
// decremented by the store; a short product fails the whole order with
// shop.ErrInsufficientStock. The new order is written to the cache so the
// first read of it hits.
func (o *Orders) Place(ctx context.Context, userID int64, lines []storage.OrderLine, method string) (*shop.Order, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: order has no items", shop.ErrBadRequest)
	}
	if !slices.Contains(shop.ValidPaymentMethods, method) {
		return nil, fmt.Errorf("%w: unknown payment method %q", shop.ErrBadRequest, method)
	}
	order, err := o.store.PlaceOrder(ctx, userID, lines, method)
	if err != nil {
		return nil, err
	}

	if o.dispatch != nil {
		related := make([]int64, len(order.Items))
		for i, it := range order.Items {
			related[i] = it.ProductID
		}
		o.dispatch.Dispatch(ctx, invalidate.Change{
			Kind:    invalidate.OrderPlaced,
			ID:      order.ID,
			UserID:  userID,
			Related: related,
		})
	}
	if o.refill != nil {
		// Refill with the stored form so a hit matches a fresh read.
		stored, err := o.store.GetOrder(ctx, order.ID)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "order re-read failed",
				slog.Int64("order_id", order.ID),
				slog.String("error", err.Error()),
			)
			return order, nil
		}
		order = stored
		key := cache.EntityKey(cache.TagOrder, order.ID)
		if err := o.refill.Refill(ctx, key, order, o.refillTTL); err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "order refill failed",
				slog.Int64("order_id", order.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return order, nil
}
