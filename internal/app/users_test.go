package app

import (
	"context"
	"errors"
	"slices"
	"testing"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/invalidate"
	"github.com/eugener/goshop/internal/pagination"
)

type fakeBanLookup struct {
	banned map[int64]bool
	err    error
}

func (f fakeBanLookup) Banned(_ context.Context, ids ...int64) (map[int64]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int64]bool)
	for _, id := range ids {
		if f.banned[id] {
			out[id] = true
		}
	}
	return out, nil
}

func TestMe(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	u := mustCreateUser(t, s, "ann", shop.RoleUser)

	cat := &shop.Category{Name: "books"}
	if err := s.CreateCategory(ctx, cat); err != nil {
		t.Fatal(err)
	}
	p := &shop.Product{Name: "Go", Price: 40, Stock: 5, CategoryID: cat.ID}
	if err := s.CreateProduct(ctx, p); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddCartItem(ctx, u.ID, p.ID, 2); err != nil {
		t.Fatal(err)
	}

	users := NewUsers(s, fakeBanLookup{banned: map[int64]bool{u.ID: true}}, nil)
	me, err := users.Me(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if me.ID != u.ID || !me.Banned {
		t.Errorf("user = %+v", me.User)
	}
	if me.Address != nil {
		t.Error("no address saved, want nil")
	}
	if me.Cart == nil || len(me.Cart.Items) != 1 || me.Cart.Items[0].Product.Name != "Go" {
		t.Errorf("cart = %+v", me.Cart)
	}
	if me.Orders == nil || me.Reviews == nil {
		t.Error("empty collections should be non-nil")
	}
	if me.Permissions != nil {
		t.Error("plain users carry no permissions")
	}

	if _, err := users.Me(ctx, 999); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("unknown user err = %v, want ErrNotFound", err)
	}
}

func TestList_MarksBanned(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a := mustCreateUser(t, s, "ann", shop.RoleUser)
	b := mustCreateUser(t, s, "bob", shop.RoleUser)

	users := NewUsers(s, fakeBanLookup{banned: map[int64]bool{b.ID: true}}, nil)
	page, err := users.List(context.Background(), pagination.Page{Cursor: 1, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextCursor != nil {
		t.Fatalf("page = %+v", page)
	}
	for _, u := range page.Items {
		if u.Banned != (u.ID == b.ID) {
			t.Errorf("user %d banned = %v", u.ID, u.Banned)
		}
	}

	// An unavailable flag store degrades to unmarked users.
	users = NewUsers(s, fakeBanLookup{err: errors.New("down")}, nil)
	got, err := users.Get(context.Background(), a.ID)
	if err != nil || got.Banned {
		t.Errorf("Get = %+v, %v", got, err)
	}
}

func TestPromoteDemote(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	u := mustCreateUser(t, s, "ann", shop.RoleUser)
	rec := &recorder{}
	users := NewUsers(s, nil, rec)

	perms, err := users.Promote(ctx, u.ID, map[string]bool{"can_ban_user": true})
	if err != nil {
		t.Fatal(err)
	}
	if perms.Perms != shop.PermBanUser {
		t.Errorf("perms = %b, want ban only", perms.Perms)
	}
	me, err := users.Me(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if me.Role != shop.RoleModerator || me.Permissions == nil {
		t.Errorf("profile after promote = %+v", me)
	}

	if _, err := users.Promote(ctx, u.ID, nil); !errors.Is(err, shop.ErrConflict) {
		t.Errorf("second promote err = %v, want ErrConflict", err)
	}
	if _, err := users.Promote(ctx, u.ID, map[string]bool{"can_fly": true}); !errors.Is(err, shop.ErrBadRequest) {
		t.Errorf("unknown permission err = %v, want ErrBadRequest", err)
	}

	if err := users.Demote(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := users.Permissions(ctx, u.ID); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("permissions after demote err = %v, want ErrNotFound", err)
	}

	want := []invalidate.Kind{invalidate.RoleChanged, invalidate.RoleChanged}
	if got := rec.kinds(); !slices.Equal(got, want) {
		t.Errorf("kinds = %v, want %v", got, want)
	}
}

func TestUpdatePermissions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	u := mustCreateUser(t, s, "mod", shop.RoleUser)
	rec := &recorder{}
	users := NewUsers(s, nil, rec)

	if _, err := users.Promote(ctx, u.ID, map[string]bool{"can_ban_user": true, "can_view_orders": true}); err != nil {
		t.Fatal(err)
	}
	perms, err := users.UpdatePermissions(ctx, u.ID, map[string]bool{"can_ban_user": false, "can_promote_user": true})
	if err != nil {
		t.Fatal(err)
	}
	if want := shop.PermViewOrders | shop.PermPromoteUser; perms.Perms != want {
		t.Errorf("perms = %b, want %b", perms.Perms, want)
	}
	if c := rec.last(); c.Kind != invalidate.PermissionUpdated || c.ID != u.ID {
		t.Errorf("change = %+v", c)
	}

	plain := mustCreateUser(t, s, "ann", shop.RoleUser)
	if _, err := users.UpdatePermissions(ctx, plain.ID, map[string]bool{"can_ban_user": true}); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("plain user err = %v, want ErrNotFound", err)
	}
}
