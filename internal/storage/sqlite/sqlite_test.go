package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/pagination"
	"github.com/eugener/goshop/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Use a unique file-based temp DB for each test to avoid shared :memory: races
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUser(t *testing.T, s *Store, email, username string) *shop.User {
	t.Helper()
	u := &shop.User{Email: email, Username: username, PasswordHash: "x"}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatal("create user:", err)
	}
	return u
}

func mustProduct(t *testing.T, s *Store, name string, price float64, stock int) *shop.Product {
	t.Helper()
	ctx := context.Background()
	c := &shop.Category{Name: "cat-" + name}
	if err := s.CreateCategory(ctx, c); err != nil {
		t.Fatal("create category:", err)
	}
	p := &shop.Product{Name: name, Price: price, Stock: stock, CategoryID: c.ID}
	if err := s.CreateProduct(ctx, p); err != nil {
		t.Fatal("create product:", err)
	}
	return p
}

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	u := mustUser(t, s, "ann@example.com", "ann")
	if u.ID == 0 {
		t.Fatal("id should be set")
	}

	got, err := s.GetUserByEmail(ctx, "ANN@example.com")
	if err != nil {
		t.Fatal("get by email:", err)
	}
	if got.ID != u.ID || got.Role != shop.RoleUser {
		t.Errorf("got %+v", got)
	}

	byName, err := s.GetUserByUsername(ctx, "Ann")
	if err != nil || byName.ID != u.ID {
		t.Fatalf("get by username = %v, %v", byName, err)
	}

	cart, err := s.GetCart(ctx, u.ID)
	if err != nil {
		t.Fatal("cart should be created with the user:", err)
	}
	if len(cart.Items) != 0 {
		t.Errorf("new cart has %d items", len(cart.Items))
	}

	dup := &shop.User{Email: "ann@example.com", Username: "other", PasswordHash: "x"}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, shop.ErrConflict) {
		t.Errorf("duplicate email err = %v, want ErrConflict", err)
	}

	if _, err := s.GetUser(ctx, 9999); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("missing user err = %v, want ErrNotFound", err)
	}
}

func TestVerifyAndRefreshToken(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	exp := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Second)
	u := &shop.User{Email: "b@example.com", Username: "b", PasswordHash: "x", VerifyTokenHash: "h1", VerifyTokenExpiry: &exp}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetUserByVerifyToken(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if got.VerifyTokenExpiry == nil || !got.VerifyTokenExpiry.Equal(exp) {
		t.Errorf("expiry = %v, want %v", got.VerifyTokenExpiry, exp)
	}

	if err := s.MarkEmailVerified(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if !got.EmailVerified || got.VerifyTokenHash != "" {
		t.Errorf("after verify: %+v", got)
	}

	if err := s.SetRefreshTokenHash(ctx, u.ID, "r1"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if got.RefreshTokenHash != "r1" {
		t.Errorf("refresh hash = %q", got.RefreshTokenHash)
	}
}

func TestListUsersCursor(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		mustUser(t, s, string(rune('a'+i))+"@example.com", string(rune('a'+i)))
	}

	page, err := s.ListUsers(ctx, pagination.Page{Cursor: 1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextCursor == nil || *page.NextCursor != 3 {
		t.Fatalf("first page: %d items, next %v", len(page.Items), page.NextCursor)
	}

	page, _ = s.ListUsers(ctx, pagination.Page{Cursor: *page.NextCursor, Limit: 2})
	if page.Items[0].ID != 3 {
		t.Errorf("second page starts at %d, want 3", page.Items[0].ID)
	}

	page, _ = s.ListUsers(ctx, pagination.Page{Cursor: 5, Limit: 2})
	if len(page.Items) != 1 || page.NextCursor != nil {
		t.Errorf("last page: %d items, next %v", len(page.Items), page.NextCursor)
	}
}

func TestPromoteDemote(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "m@example.com", "m")

	if err := s.DemoteUser(ctx, u.ID); !errors.Is(err, shop.ErrConflict) {
		t.Errorf("demote plain user err = %v, want ErrConflict", err)
	}
	if err := s.PromoteUser(ctx, u.ID, shop.PermBanUser); err != nil {
		t.Fatal(err)
	}
	if err := s.PromoteUser(ctx, u.ID, shop.PermBanUser); !errors.Is(err, shop.ErrConflict) {
		t.Errorf("double promote err = %v, want ErrConflict", err)
	}

	perms, err := s.GetPermissions(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if perms.Perms != shop.PermBanUser {
		t.Errorf("perms = %b", perms.Perms)
	}
	if err := s.UpdatePermissions(ctx, u.ID, shop.PermBanUser|shop.PermCrudProduct); err != nil {
		t.Fatal(err)
	}
	perms, _ = s.GetPermissions(ctx, u.ID)
	if perms.Perms != shop.PermBanUser|shop.PermCrudProduct {
		t.Errorf("updated perms = %b", perms.Perms)
	}

	if err := s.DemoteUser(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetPermissions(ctx, u.ID); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("permissions after demote err = %v, want ErrNotFound", err)
	}
	got, _ := s.GetUser(ctx, u.ID)
	if got.Role != shop.RoleUser {
		t.Errorf("role = %s, want USER", got.Role)
	}
}

func TestAddress(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "a@example.com", "a")

	if _, err := s.GetAddress(ctx, u.ID); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	a := &shop.Address{UserID: u.ID, Line1: "1 Main", City: "X", State: "Y", PostalCode: "1", Country: "Z"}
	if err := s.SaveAddress(ctx, a); err != nil {
		t.Fatal(err)
	}
	a.City = "W"
	if err := s.SaveAddress(ctx, a); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetAddress(ctx, u.ID)
	if got.City != "W" {
		t.Errorf("city = %q, want W", got.City)
	}
}

func TestBans(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "x@example.com", "x")
	now := time.Now().UTC().Truncate(time.Second)

	s.CreateBan(ctx, &shop.Ban{UserID: u.ID, BannedBy: 1, ExpiresAt: now.Add(-time.Minute)})
	if _, err := s.ActiveBan(ctx, u.ID, now); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("expired ban err = %v, want ErrNotFound", err)
	}

	s.CreateBan(ctx, &shop.Ban{UserID: u.ID, BannedBy: 1, ExpiresAt: now.Add(time.Minute)})
	s.CreateBan(ctx, &shop.Ban{UserID: u.ID, BannedBy: 1, ExpiresAt: now.Add(time.Hour), Reason: "spam"})
	b, err := s.ActiveBan(ctx, u.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if !b.ExpiresAt.Equal(now.Add(time.Hour)) || b.Reason != "spam" {
		t.Errorf("active ban = %+v, want the longest one", b)
	}

	bans, err := s.ListActiveBans(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(bans) != 1 || !bans[0].ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("active bans = %+v, want one per user", bans)
	}
}

func TestCatalog(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	p := mustProduct(t, s, "widget", 100, 5)
	got, err := s.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Category == nil || got.Category.ID != p.CategoryID {
		t.Errorf("category not embedded: %+v", got.Category)
	}

	dup := &shop.Category{Name: "CAT-WIDGET"}
	if err := s.CreateCategory(ctx, dup); !errors.Is(err, shop.ErrConflict) {
		t.Errorf("duplicate category err = %v, want ErrConflict", err)
	}

	u := mustUser(t, s, "r@example.com", "r")
	r := &shop.Review{UserID: u.ID, ProductID: p.ID, Rating: 4, Comment: "ok"}
	if err := s.CreateReview(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateReview(ctx, &shop.Review{UserID: u.ID, ProductID: p.ID, Rating: 5}); !errors.Is(err, shop.ErrConflict) {
		t.Errorf("second review err = %v, want ErrConflict", err)
	}
	got, _ = s.GetProduct(ctx, p.ID)
	if len(got.Reviews) != 1 {
		t.Errorf("reviews = %d, want 1", len(got.Reviews))
	}

	if err := s.DeleteProduct(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetProduct(ctx, p.ID); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("deleted product err = %v, want ErrNotFound", err)
	}
	page, _ := s.ListProducts(ctx, pagination.Page{Cursor: 1, Limit: 10})
	if len(page.Items) != 0 {
		t.Errorf("deleted product still listed")
	}

	if err := s.DeleteCategory(ctx, p.CategoryID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteCategory(ctx, p.CategoryID); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestCart(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "c@example.com", "c")
	p := mustProduct(t, s, "gadget", 10, 10)

	s.AddCartItem(ctx, u.ID, p.ID, 1)
	cart, err := s.AddCartItem(ctx, u.ID, p.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 3 {
		t.Fatalf("cart = %+v, want one line of 3", cart.Items)
	}
	if cart.Items[0].Product == nil || cart.Items[0].Product.Name != "gadget" {
		t.Error("product not embedded in cart line")
	}

	cart, _ = s.UpdateCartItem(ctx, u.ID, p.ID, 7)
	if cart.Items[0].Quantity != 7 {
		t.Errorf("quantity = %d, want 7", cart.Items[0].Quantity)
	}

	if _, err := s.AddCartItem(ctx, u.ID, 9999, 1); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("missing product err = %v, want ErrNotFound", err)
	}

	cart, _ = s.RemoveCartItem(ctx, u.ID, p.ID)
	if len(cart.Items) != 0 {
		t.Errorf("cart should be empty")
	}
	if _, err := s.RemoveCartItem(ctx, u.ID, p.ID); !errors.Is(err, shop.ErrNotFound) {
		t.Errorf("remove missing line err = %v, want ErrNotFound", err)
	}
}

func TestPlaceOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "o@example.com", "o")
	p := mustProduct(t, s, "thing", 100, 3)
	p.Offer = 10
	if err := s.UpdateProduct(ctx, p); err != nil {
		t.Fatal(err)
	}

	order, err := s.PlaceOrder(ctx, u.ID, []storage.OrderLine{{ProductID: p.ID, Quantity: 1}, {ProductID: p.ID, Quantity: 1}}, shop.PaymentCOD)
	if err != nil {
		t.Fatal(err)
	}
	if order.Total != 180 {
		t.Errorf("total = %v, want 180", order.Total)
	}
	if len(order.Items) != 1 || order.Items[0].Quantity != 2 {
		t.Errorf("items = %+v, want one merged line", order.Items)
	}
	if order.Payment == nil || order.Payment.Status != shop.PaymentInitiated {
		t.Errorf("payment = %+v", order.Payment)
	}

	got, _ := s.GetProduct(ctx, p.ID)
	if got.Stock != 1 {
		t.Errorf("stock = %d, want 1", got.Stock)
	}

	_, err = s.PlaceOrder(ctx, u.ID, []storage.OrderLine{{ProductID: p.ID, Quantity: 2}}, shop.PaymentCard)
	if !errors.Is(err, shop.ErrInsufficientStock) {
		t.Errorf("err = %v, want ErrInsufficientStock", err)
	}
	got, _ = s.GetProduct(ctx, p.ID)
	if got.Stock != 1 {
		t.Errorf("failed order must not touch stock: %d", got.Stock)
	}

	fetched, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.Payment == nil || len(fetched.Items) != 1 {
		t.Errorf("fetched order = %+v", fetched)
	}

	page, err := s.ListOrders(ctx, u.ID, pagination.Page{Cursor: 1, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.NextCursor != nil {
		t.Errorf("orders page = %d items, next %v", len(page.Items), page.NextCursor)
	}
}

func TestPlaceOrder_ItemsSortedByProduct(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "s@example.com", "s")
	p1 := mustProduct(t, s, "first", 10, 5)
	p2 := mustProduct(t, s, "second", 20, 5)

	order, err := s.PlaceOrder(ctx, u.ID, []storage.OrderLine{{ProductID: p2.ID, Quantity: 1}, {ProductID: p1.ID, Quantity: 3}}, shop.PaymentCOD)
	if err != nil {
		t.Fatal(err)
	}
	fetched, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(order.Items) != 2 || len(fetched.Items) != 2 {
		t.Fatalf("items = %d placed, %d fetched", len(order.Items), len(fetched.Items))
	}
	for i := range order.Items {
		if *order.Items[i] != *fetched.Items[i] {
			t.Errorf("item %d = %+v, fetched %+v", i, order.Items[i], fetched.Items[i])
		}
	}
	if order.Items[0].ProductID != p1.ID {
		t.Errorf("first item product = %d, want %d", order.Items[0].ProductID, p1.ID)
	}
}
