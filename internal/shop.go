// Package shop defines domain types and interfaces for the GoShop backend.
// This package has no project imports -- it is the dependency root.
package shop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// --- Users ---

// Role is the coarse authorization level of a user.
type Role string

const (
	RoleUser      Role = "USER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

// User is a registered account. Secrets never leave the process.
type User struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	DisplayName   string    `json:"display_name"`
	PasswordHash  string    `json:"-"`
	Role          Role      `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	Banned        bool      `json:"banned"` // derived from the ban flag at read time, not persisted
	CreatedAt     time.Time `json:"created_at"`

	VerifyTokenHash   string     `json:"-"`
	VerifyTokenExpiry *time.Time `json:"-"`
	RefreshTokenHash  string     `json:"-"`
}

// Profile is the authenticated user's own view: the account plus everything hanging off it.
type Profile struct {
	*User
	Address     *Address              `json:"address,omitempty"`
	Cart        *Cart                 `json:"cart,omitempty"`
	Orders      []*Order              `json:"orders"`
	Reviews     []*Review             `json:"reviews"`
	Permissions *ModeratorPermissions `json:"permissions,omitempty"`
}

// Address is a user's shipping address (one per user).
type Address struct {
	UserID     int64  `json:"user_id"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Ban is the persisted record of a temporary ban.
type Ban struct {
	UserID    int64     `json:"user_id"`
	BannedBy  int64     `json:"banned_by"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Catalog ---

// Category groups products.
type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
}

// Product is a sellable item. Reads embed its category and, for single
// lookups, its reviews.
type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"product_name"`
	Description string    `json:"product_description"`
	Price       float64   `json:"product_price"`
	Offer       float64   `json:"product_offer"` // percent off
	Stock       int       `json:"product_stock"`
	CategoryID  int64     `json:"category_id"`
	IsDeleted   bool      `json:"is_deleted"`
	CreatedAt   time.Time `json:"created_at"`
	Category    *Category `json:"category,omitempty"`
	Reviews     []*Review `json:"reviews,omitempty"`
}

// DiscountedPrice returns the unit price after the offer is applied.
func (p *Product) DiscountedPrice() float64 {
	return p.Price * (1 - p.Offer/100)
}

// Review is a user's rating of a product. One per (user, product).
type Review struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Cart & orders ---

// Cart is a user's shopping cart (created at registration).
type Cart struct {
	ID     int64       `json:"id"`
	UserID int64       `json:"user_id"`
	Items  []*CartItem `json:"items"`
}

// CartItem is a product line in a cart.
type CartItem struct {
	CartID    int64    `json:"cart_id"`
	ProductID int64    `json:"product_id"`
	Quantity  int      `json:"quantity"`
	Product   *Product `json:"product,omitempty"`
}

// Order statuses.
const (
	OrderPending   = "PENDING"
	OrderConfirmed = "CONFIRMED"
	OrderShipped   = "SHIPPED"
	OrderDelivered = "DELIVERED"
	OrderCancelled = "CANCELLED"
)

// Payment statuses and methods.
const (
	PaymentInitiated = "INITIATED"

	PaymentCard = "CARD"
	PaymentUPI  = "UPI"
	PaymentCOD  = "COD"
)

// ValidPaymentMethods lists the accepted payment methods.
var ValidPaymentMethods = []string{PaymentCard, PaymentUPI, PaymentCOD}

// Order is a placed order.
type Order struct {
	ID        int64        `json:"id"`
	UserID    int64        `json:"user_id"`
	Total     float64      `json:"total"`
	Status    string       `json:"status"`
	Items     []*OrderItem `json:"items"`
	Payment   *Payment     `json:"payment,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// OrderItem is a product line in an order, priced at order time.
type OrderItem struct {
	OrderID   int64   `json:"order_id"`
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Payment is the payment attached to an order.
type Payment struct {
	OrderID int64   `json:"order_id"`
	Amount  float64 `json:"amount"`
	Method  string  `json:"method"`
	Status  string  `json:"status"`
}

// --- Pagination ---

// Page is one window of a cursor-paginated collection. NextCursor is nil
// when the collection is exhausted.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor *int64 `json:"next_cursor"`
}

// --- RBAC ---

// Permission is a bitmask of moderator capabilities.
type Permission uint32

const (
	PermViewProducts Permission = 1 << iota
	PermViewCategories
	PermViewPayments
	PermViewOrders
	PermViewUserInfo
	PermViewReview
	PermViewAdminDashboard
	PermManagePersonalCart
	PermPlaceOrders
	PermWriteReviews
	PermModerateReviews
	PermModerateProducts
	PermCrudProduct
	PermCrudCategory
	PermBanUser
	PermPromoteUser
)

// permissionNames maps wire names to permission bits.
var permissionNames = map[string]Permission{
	"can_view_products":            PermViewProducts,
	"can_view_categories":          PermViewCategories,
	"can_view_payments":            PermViewPayments,
	"can_view_orders":              PermViewOrders,
	"can_view_user_info":           PermViewUserInfo,
	"can_view_review":              PermViewReview,
	"can_view_admin_dashboard":     PermViewAdminDashboard,
	"can_manage_personal_cart":     PermManagePersonalCart,
	"can_place_orders":             PermPlaceOrders,
	"can_write_reviews":            PermWriteReviews,
	"can_moderate_reviews":         PermModerateReviews,
	"can_moderate_products":        PermModerateProducts,
	"can_perform_crud_on_product":  PermCrudProduct,
	"can_perform_crud_on_category": PermCrudCategory,
	"can_ban_user":                 PermBanUser,
	"can_promote_user":             PermPromoteUser,
}

// ParsePermissions folds a name->bool map into a bitmask. Unknown names are rejected.
func ParsePermissions(m map[string]bool) (Permission, error) {
	var p Permission
	for name, on := range m {
		bit, ok := permissionNames[name]
		if !ok {
			return 0, fmt.Errorf("%w: unknown permission %q", ErrBadRequest, name)
		}
		if on {
			p |= bit
		}
	}
	return p, nil
}

// Apply returns p with the bits named in m set or cleared.
func (p Permission) Apply(m map[string]bool) (Permission, error) {
	for name, on := range m {
		bit, ok := permissionNames[name]
		if !ok {
			return 0, fmt.Errorf("%w: unknown permission %q", ErrBadRequest, name)
		}
		if on {
			p |= bit
		} else {
			p &^= bit
		}
	}
	return p, nil
}

// Map expands the bitmask into a name->bool map covering every permission.
func (p Permission) Map() map[string]bool {
	out := make(map[string]bool, len(permissionNames))
	for name, bit := range permissionNames {
		out[name] = p&bit == bit
	}
	return out
}

// PermissionNames returns all permission names in sorted order.
func PermissionNames() []string {
	names := make([]string, 0, len(permissionNames))
	for name := range permissionNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModeratorPermissions is the persisted permission set of a moderator.
type ModeratorPermissions struct {
	ModeratorID int64
	Perms       Permission
	UpdatedAt   time.Time
}

// MarshalJSON renders the bitmask as named booleans.
func (m ModeratorPermissions) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(permissionNames)+2)
	for name, on := range m.Perms.Map() {
		out[name] = on
	}
	out["moderator_id"] = m.ModeratorID
	out["updated_at"] = m.UpdatedAt
	return json.Marshal(out)
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID   int64      `json:"user_id"`
	Email    string     `json:"email"`
	Username string     `json:"username"`
	Role     Role       `json:"role"`
	Perms    Permission `json:"-"`
}

// Can reports whether the identity holds p. Admins hold everything; plain
// users hold no moderator permission.
func (id *Identity) Can(p Permission) bool {
	switch id.Role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return id.Perms&p == p
	default:
		return false
	}
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// Identity is filled in later by the authenticate middleware by mutating the
// same pointer.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if
// present. Falls back to creating new metadata (e.g., in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Authenticator interface ---

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}
