package shop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestIdentity_Can(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		id    Identity
		check Permission
		want  bool
	}{
		{name: "admin holds everything", id: Identity{Role: RoleAdmin}, check: PermBanUser, want: true},
		{name: "moderator with bit", id: Identity{Role: RoleModerator, Perms: PermBanUser | PermCrudProduct}, check: PermBanUser, want: true},
		{name: "moderator without bit", id: Identity{Role: RoleModerator, Perms: PermCrudProduct}, check: PermBanUser, want: false},
		{name: "moderator needs all bits", id: Identity{Role: RoleModerator, Perms: PermCrudProduct}, check: PermCrudProduct | PermCrudCategory, want: false},
		{name: "user never", id: Identity{Role: RoleUser, Perms: PermBanUser}, check: PermBanUser, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.id.Can(tt.check); got != tt.want {
				t.Errorf("Can() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePermissions(t *testing.T) {
	t.Parallel()

	p, err := ParsePermissions(map[string]bool{
		"can_ban_user":                true,
		"can_perform_crud_on_product": true,
		"can_promote_user":            false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p != PermBanUser|PermCrudProduct {
		t.Errorf("perms = %b, want %b", p, PermBanUser|PermCrudProduct)
	}

	_, err = ParsePermissions(map[string]bool{"can_fly": true})
	if !errors.Is(err, ErrBadRequest) {
		t.Errorf("unknown name err = %v, want ErrBadRequest", err)
	}
}

func TestPermission_Apply(t *testing.T) {
	t.Parallel()

	p := PermBanUser | PermCrudProduct
	got, err := p.Apply(map[string]bool{"can_ban_user": false, "can_write_reviews": true})
	if err != nil {
		t.Fatal(err)
	}
	want := PermCrudProduct | PermWriteReviews
	if got != want {
		t.Errorf("Apply = %b, want %b", got, want)
	}
}

func TestPermission_MapCoversAllNames(t *testing.T) {
	t.Parallel()

	m := PermBanUser.Map()
	if len(m) != len(PermissionNames()) {
		t.Fatalf("map has %d names, want %d", len(m), len(PermissionNames()))
	}
	if !m["can_ban_user"] {
		t.Error("can_ban_user should be true")
	}
	if m["can_promote_user"] {
		t.Error("can_promote_user should be false")
	}
}

func TestModeratorPermissions_MarshalJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(ModeratorPermissions{ModeratorID: 7, Perms: PermViewOrders})
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out["moderator_id"].(float64) != 7 {
		t.Errorf("moderator_id = %v, want 7", out["moderator_id"])
	}
	if out["can_view_orders"] != true {
		t.Errorf("can_view_orders = %v, want true", out["can_view_orders"])
	}
	if out["can_ban_user"] != false {
		t.Errorf("can_ban_user = %v, want false", out["can_ban_user"])
	}
}

func TestContextMeta(t *testing.T) {
	t.Parallel()

	ctx := ContextWithRequestID(context.Background(), "req-1")
	id := &Identity{UserID: 42}
	ctx2 := ContextWithIdentity(ctx, id)
	if ctx2 != ctx {
		t.Error("identity should be stored by mutation when meta exists")
	}
	if RequestIDFromContext(ctx2) != "req-1" {
		t.Errorf("request id = %q, want req-1", RequestIDFromContext(ctx2))
	}
	if IdentityFromContext(ctx2) != id {
		t.Error("identity not found in context")
	}

	bare := ContextWithIdentity(context.Background(), id)
	if IdentityFromContext(bare) != id {
		t.Error("identity not found in fresh context")
	}
}

func TestProduct_DiscountedPrice(t *testing.T) {
	t.Parallel()

	p := &Product{Price: 200, Offer: 25}
	if got := p.DiscountedPrice(); got != 150 {
		t.Errorf("DiscountedPrice = %v, want 150", got)
	}
}
