// Package storage defines persistence interfaces for the shop.
package storage

import (
	"context"
	"time"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/pagination"
)

// UserStore manages accounts and everything keyed one-to-one by user.
type UserStore interface {
	// CreateUser inserts the user and an empty cart, setting u.ID.
	CreateUser(ctx context.Context, u *shop.User) error
	GetUser(ctx context.Context, id int64) (*shop.User, error)
	GetUserByEmail(ctx context.Context, email string) (*shop.User, error)
	GetUserByUsername(ctx context.Context, username string) (*shop.User, error)
	GetUserByVerifyToken(ctx context.Context, tokenHash string) (*shop.User, error)
	ListUsers(ctx context.Context, p pagination.Page) (shop.Page[*shop.User], error)
	MarkEmailVerified(ctx context.Context, id int64) error
	SetRefreshTokenHash(ctx context.Context, id int64, hash string) error
	// PromoteUser makes the user a moderator with the given permissions.
	PromoteUser(ctx context.Context, id int64, perms shop.Permission) error
	// DemoteUser makes the user a plain user and drops their permissions.
	DemoteUser(ctx context.Context, id int64) error

	GetAddress(ctx context.Context, userID int64) (*shop.Address, error)
	SaveAddress(ctx context.Context, a *shop.Address) error

	GetPermissions(ctx context.Context, moderatorID int64) (*shop.ModeratorPermissions, error)
	UpdatePermissions(ctx context.Context, moderatorID int64, perms shop.Permission) error
}

// BanStore keeps the audit record of temporary bans.
type BanStore interface {
	CreateBan(ctx context.Context, b *shop.Ban) error
	// ActiveBan returns the latest ban of the user still in force at now.
	ActiveBan(ctx context.Context, userID int64, now time.Time) (*shop.Ban, error)
	ListActiveBans(ctx context.Context, now time.Time) ([]*shop.Ban, error)
}

// CatalogStore manages categories, products and reviews.
type CatalogStore interface {
	CreateCategory(ctx context.Context, c *shop.Category) error
	GetCategory(ctx context.Context, id int64) (*shop.Category, error)
	ListCategories(ctx context.Context, p pagination.Page) (shop.Page[*shop.Category], error)
	UpdateCategory(ctx context.Context, c *shop.Category) error
	DeleteCategory(ctx context.Context, id int64) error

	CreateProduct(ctx context.Context, p *shop.Product) error
	// GetProduct returns the product with its category and reviews.
	GetProduct(ctx context.Context, id int64) (*shop.Product, error)
	ListProducts(ctx context.Context, p pagination.Page) (shop.Page[*shop.Product], error)
	UpdateProduct(ctx context.Context, p *shop.Product) error
	DeleteProduct(ctx context.Context, id int64) error

	CreateReview(ctx context.Context, r *shop.Review) error
	ListReviews(ctx context.Context, productID int64) ([]*shop.Review, error)
	ListUserReviews(ctx context.Context, userID int64) ([]*shop.Review, error)
}

// CartStore manages shopping carts.
type CartStore interface {
	GetCart(ctx context.Context, userID int64) (*shop.Cart, error)
	// AddCartItem adds quantity of the product, merging with an existing line.
	AddCartItem(ctx context.Context, userID, productID int64, quantity int) (*shop.Cart, error)
	UpdateCartItem(ctx context.Context, userID, productID int64, quantity int) (*shop.Cart, error)
	RemoveCartItem(ctx context.Context, userID, productID int64) (*shop.Cart, error)
}

// OrderLine is one requested product line when placing an order.
type OrderLine struct {
	ProductID int64
	Quantity  int
}

// OrderStore manages orders.
type OrderStore interface {
	// PlaceOrder checks stock, decrements it and records the order with its
	// payment in one transaction. Fails with shop.ErrInsufficientStock.
	PlaceOrder(ctx context.Context, userID int64, lines []OrderLine, method string) (*shop.Order, error)
	GetOrder(ctx context.Context, id int64) (*shop.Order, error)
	ListOrders(ctx context.Context, userID int64, p pagination.Page) (shop.Page[*shop.Order], error)
}

// Store combines all storage interfaces.
type Store interface {
	UserStore
	BanStore
	CatalogStore
	CartStore
	OrderStore
	Ping(ctx context.Context) error
	Close() error
}
