package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/invalidate"
	"github.com/eugener/goshop/internal/pagination"
	"github.com/eugener/goshop/internal/storage"
)

// BanLookup reports which users currently carry a ban flag.
type BanLookup interface {
	Banned(ctx context.Context, userIDs ...int64) (map[int64]bool, error)
}

// ProfileStore is the storage a profile is assembled from.
type ProfileStore interface {
	storage.UserStore
	GetCart(ctx context.Context, userID int64) (*shop.Cart, error)
	ListOrders(ctx context.Context, userID int64, p pagination.Page) (shop.Page[*shop.Order], error)
	ListUserReviews(ctx context.Context, userID int64) ([]*shop.Review, error)
}

// Users serves account lookups and role administration.
type Users struct {
	store    ProfileStore
	bans     BanLookup             // nil = banned flag never set
	dispatch invalidate.Dispatcher // nil = no invalidation
}

// NewUsers returns a Users. bans and dispatch may be nil.
func NewUsers(store ProfileStore, bans BanLookup, dispatch invalidate.Dispatcher) *Users {
	return &Users{store: store, bans: bans, dispatch: dispatch}
}

// Me assembles the caller's profile: the account, address, cart, first page
// of orders, reviews and, for moderators, the permission set.
func (u *Users) Me(ctx context.Context, userID int64) (*shop.Profile, error) {
	user, err := u.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.markBanned(ctx, user)
	p := &shop.Profile{User: user}

	if p.Address, err = optional(u.store.GetAddress(ctx, userID)); err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}
	if p.Cart, err = optional(u.store.GetCart(ctx, userID)); err != nil {
		return nil, fmt.Errorf("cart: %w", err)
	}
	orders, err := u.store.ListOrders(ctx, userID, pagination.Page{Cursor: pagination.DefaultCursor, Limit: pagination.DefaultLimit})
	if err != nil {
		return nil, fmt.Errorf("orders: %w", err)
	}
	p.Orders = orders.Items
	if p.Reviews, err = u.store.ListUserReviews(ctx, userID); err != nil {
		return nil, fmt.Errorf("reviews: %w", err)
	}
	if user.Role == shop.RoleModerator {
		if p.Permissions, err = optional(u.store.GetPermissions(ctx, userID)); err != nil {
			return nil, fmt.Errorf("permissions: %w", err)
		}
	}

	if p.Orders == nil {
		p.Orders = []*shop.Order{}
	}
	if p.Reviews == nil {
		p.Reviews = []*shop.Review{}
	}
	return p, nil
}

// Get returns one user with the banned flag filled in.
func (u *Users) Get(ctx context.Context, id int64) (*shop.User, error) {
	user, err := u.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	u.markBanned(ctx, user)
	return user, nil
}

// List returns a page of users with banned flags filled in.
func (u *Users) List(ctx context.Context, p pagination.Page) (shop.Page[*shop.User], error) {
	page, err := u.store.ListUsers(ctx, p)
	if err != nil {
		return page, err
	}
	u.markBanned(ctx, page.Items...)
	return page, nil
}

// markBanned sets User.Banned from the ban flags. A flag store failure is
// logged and leaves the users unmarked.
func (u *Users) markBanned(ctx context.Context, users ...*shop.User) {
	if u.bans == nil || len(users) == 0 {
		return
	}
	ids := make([]int64, len(users))
	for i, user := range users {
		ids[i] = user.ID
	}
	banned, err := u.bans.Banned(ctx, ids...)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "ban flags unavailable",
			slog.Int("users", len(ids)),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, user := range users {
		user.Banned = banned[user.ID]
	}
}

// Promote makes a plain user a moderator holding the named permissions.
func (u *Users) Promote(ctx context.Context, id int64, perms map[string]bool) (*shop.ModeratorPermissions, error) {
	bits, err := shop.ParsePermissions(perms)
	if err != nil {
		return nil, err
	}
	if err := u.store.PromoteUser(ctx, id, bits); err != nil {
		return nil, err
	}
	u.changed(ctx, invalidate.RoleChanged, id)
	return u.store.GetPermissions(ctx, id)
}

// Demote makes a moderator a plain user again.
func (u *Users) Demote(ctx context.Context, id int64) error {
	if err := u.store.DemoteUser(ctx, id); err != nil {
		return err
	}
	u.changed(ctx, invalidate.RoleChanged, id)
	return nil
}

// Permissions returns a moderator's permission set.
func (u *Users) Permissions(ctx context.Context, moderatorID int64) (*shop.ModeratorPermissions, error) {
	return u.store.GetPermissions(ctx, moderatorID)
}

// UpdatePermissions sets or clears the named permissions of a moderator,
// leaving the others as they are.
func (u *Users) UpdatePermissions(ctx context.Context, moderatorID int64, updates map[string]bool) (*shop.ModeratorPermissions, error) {
	current, err := u.store.GetPermissions(ctx, moderatorID)
	if err != nil {
		return nil, err
	}
	next, err := current.Perms.Apply(updates)
	if err != nil {
		return nil, err
	}
	if err := u.store.UpdatePermissions(ctx, moderatorID, next); err != nil {
		return nil, err
	}
	u.changed(ctx, invalidate.PermissionUpdated, moderatorID)
	return u.store.GetPermissions(ctx, moderatorID)
}

func (u *Users) changed(ctx context.Context, kind invalidate.Kind, id int64) {
	if u.dispatch != nil {
		u.dispatch.Dispatch(ctx, invalidate.Change{Kind: kind, ID: id})
	}
}

// optional turns ErrNotFound into a nil result.
func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, shop.ErrNotFound) {
		return nil, nil
	}
	return v, err
}
