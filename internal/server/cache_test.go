package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/eugener/goshop/internal/cache"
)

func TestCached_ProductsFirstPage(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	p := e.product(t, "lamp", 5)
	e.product(t, "desk", 5)
	e.product(t, "chair", 5)

	rec := e.do(t, http.MethodGet, "/api/product", nil, "")
	expectStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("first X-Cache = %q, want MISS", got)
	}
	miss := decodeEnvelope(t, rec)
	if n := gjson.GetBytes(miss.Data, "items.#").Int(); n != 3 {
		t.Fatalf("items = %d, want 3", n)
	}
	if !e.cache.has(t, "products:1:10") {
		t.Fatal("products:1:10 not stored")
	}

	// Spelling out the defaults hits the same entry.
	rec = e.do(t, http.MethodGet, "/api/product?cursor=1&limit=10", nil, "")
	expectStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("second X-Cache = %q, want HIT", got)
	}
	hit := decodeEnvelope(t, rec)
	if !hit.Cached || !hit.Success || hit.Status != http.StatusOK {
		t.Errorf("hit envelope = %+v", hit)
	}
	if string(hit.Data) != string(miss.Data) {
		t.Errorf("hit data = %s, want %s", hit.Data, miss.Data)
	}
	if n := e.cache.fills("products:1:10"); n != 1 {
		t.Errorf("fills = %d, want 1", n)
	}

	// An update drops the listing; the next read sees the new name.
	body := fmt.Sprintf(`{"product_name":"desk lamp","product_price":60,"product_offer":0,"product_stock":5,"categoryId":%d}`, p.CategoryID)
	expectStatus(t, e.do(t, http.MethodPut, fmt.Sprintf("/api/product/%d", p.ID), e.admin, body), http.StatusOK)
	if e.cache.has(t, "products:1:10") {
		t.Fatal("products:1:10 survived the update")
	}
	rec = e.do(t, http.MethodGet, "/api/product", nil, "")
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("after update X-Cache = %q, want MISS", got)
	}
	if name := gjson.GetBytes(decodeEnvelope(t, rec).Data, "items.0.product_name").String(); name != "desk lamp" {
		t.Errorf("name = %q, want desk lamp", name)
	}
}

func TestCached_AtMostOneMiss(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	p := e.product(t, "lamp", 5)
	target := fmt.Sprintf("/api/product/%d", p.ID)

	for i := range 5 {
		rec := e.do(t, http.MethodGet, target, nil, "")
		expectStatus(t, rec, http.StatusOK)
		want := "HIT"
		if i == 0 {
			want = "MISS"
		}
		if got := rec.Header().Get("X-Cache"); got != want {
			t.Errorf("request %d: X-Cache = %q, want %q", i, got, want)
		}
	}
	if n := e.cache.fills(cache.EntityKey(cache.TagProduct, p.ID)); n != 1 {
		t.Errorf("fills = %d, want 1", n)
	}
}

func TestCached_ErrorsAreNotStored(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	for range 2 {
		rec := e.do(t, http.MethodGet, "/api/product/999", nil, "")
		expectStatus(t, rec, http.StatusNotFound)
		if got := rec.Header().Get("X-Cache"); got != "MISS" {
			t.Errorf("X-Cache = %q, want MISS", got)
		}
	}
	if n := e.cache.fills("product:999"); n != 0 {
		t.Errorf("fills = %d, want 0", n)
	}
}

func TestCached_MalformedParamsBypass(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	for _, target := range []string{"/api/product?limit=abc", "/api/product?cursor=0", "/api/product/abc"} {
		rec := e.do(t, http.MethodGet, target, nil, "")
		expectStatus(t, rec, http.StatusBadRequest)
		if got := rec.Header().Get("X-Cache"); got != "" {
			t.Errorf("%s: X-Cache = %q, want none", target, got)
		}
	}
}

func TestCached_CorruptEntryIsMiss(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	p := e.product(t, "lamp", 5)
	key := cache.EntityKey(cache.TagProduct, p.ID)
	if err := e.cache.Store.Set(context.Background(), key, []byte(`{"id":`), time.Minute); err != nil {
		t.Fatal(err)
	}

	rec := e.do(t, http.MethodGet, fmt.Sprintf("/api/product/%d", p.ID), nil, "")
	expectStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	data, _, err := e.cache.Store.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(data) || gjson.GetBytes(data, "id").Int() != p.ID {
		t.Errorf("entry not overwritten: %s", data)
	}
}

func TestCached_StoreFailuresDegrade(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	p := e.product(t, "lamp", 5)
	e.cache.fail(errors.New("connection refused"), errors.New("connection refused"))

	for range 2 {
		rec := e.do(t, http.MethodGet, fmt.Sprintf("/api/product/%d", p.ID), nil, "")
		expectStatus(t, rec, http.StatusOK)
		if got := rec.Header().Get("X-Cache"); got != "MISS" {
			t.Errorf("X-Cache = %q, want MISS", got)
		}
	}
}

func TestCached_PerUserKeys(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	expectStatus(t, e.do(t, http.MethodGet, "/api/user/me", e.alice, ""), http.StatusOK)
	rec := e.do(t, http.MethodGet, "/api/user/me", e.bob, "")
	expectStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("bob X-Cache = %q, want MISS", got)
	}
	if name := gjson.GetBytes(decodeEnvelope(t, rec).Data, "username").String(); name != "bob" {
		t.Errorf("bob saw %q", name)
	}
	for _, u := range []int64{e.alice.ID, e.bob.ID} {
		if !e.cache.has(t, cache.EntityKey(cache.TagMe, u)) {
			t.Errorf("me:%d not stored", u)
		}
	}
}

func TestCartChangeRefreshesProfile(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	p := e.product(t, "lamp", 5)

	expectStatus(t, e.do(t, http.MethodGet, "/api/user/me", e.alice, ""), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodGet, "/api/cart", e.alice, ""), http.StatusOK)
	if got := e.do(t, http.MethodGet, "/api/user/me", e.alice, "").Header().Get("X-Cache"); got != "HIT" {
		t.Fatalf("X-Cache = %q, want HIT", got)
	}

	expectStatus(t, e.do(t, http.MethodPost, "/api/cart/add", e.alice, fmt.Sprintf(`{"productId":%d,"quantity":2}`, p.ID)), http.StatusOK)

	for _, target := range []string{"/api/user/me", "/api/cart"} {
		rec := e.do(t, http.MethodGet, target, e.alice, "")
		expectStatus(t, rec, http.StatusOK)
		if got := rec.Header().Get("X-Cache"); got != "MISS" {
			t.Errorf("%s: X-Cache = %q, want MISS", target, got)
		}
	}
	rec := e.do(t, http.MethodGet, "/api/cart", e.alice, "")
	if qty := gjson.GetBytes(decodeEnvelope(t, rec).Data, "items.0.quantity").Int(); qty != 2 {
		t.Errorf("quantity = %d, want 2", qty)
	}
}

func TestPlaceOrder(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	p := e.product(t, "lamp", 5)

	// Warm the product so the order has something to invalidate.
	expectStatus(t, e.do(t, http.MethodGet, fmt.Sprintf("/api/product/%d", p.ID), nil, ""), http.StatusOK)

	rec := e.do(t, http.MethodPost, "/api/order", e.alice,
		fmt.Sprintf(`{"items":[{"productId":%d,"quantity":2}],"payment_method":"COD"}`, p.ID))
	expectStatus(t, rec, http.StatusCreated)
	orderID := gjson.GetBytes(decodeEnvelope(t, rec).Data, "id").Int()
	if orderID == 0 {
		t.Fatalf("no order id in %s", rec.Body.String())
	}

	if e.cache.has(t, cache.EntityKey(cache.TagProduct, p.ID)) {
		t.Error("product entry survived the order")
	}
	if stock := gjson.GetBytes(decodeEnvelope(t, e.do(t, http.MethodGet, fmt.Sprintf("/api/product/%d", p.ID), nil, "")).Data, "product_stock").Int(); stock != 3 {
		t.Errorf("stock = %d, want 3", stock)
	}

	// The order was written through, so the first read hits.
	target := fmt.Sprintf("/api/order/%d", orderID)
	rec = e.do(t, http.MethodGet, target, e.alice, "")
	expectStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("X-Cache = %q, want HIT", got)
	}

	// Other users cannot read it, from the cache or otherwise.
	expectStatus(t, e.do(t, http.MethodGet, target, e.bob, ""), http.StatusNotFound)
	expectStatus(t, e.do(t, http.MethodGet, target, e.admin, ""), http.StatusOK)

	rec = e.do(t, http.MethodGet, "/api/order", e.alice, "")
	expectStatus(t, rec, http.StatusOK)
	if n := gjson.GetBytes(decodeEnvelope(t, rec).Data, "items.#").Int(); n != 1 {
		t.Errorf("alice orders = %d, want 1", n)
	}
	rec = e.do(t, http.MethodGet, "/api/order", e.bob, "")
	if n := gjson.GetBytes(decodeEnvelope(t, rec).Data, "items.#").Int(); n != 0 {
		t.Errorf("bob orders = %d, want 0", n)
	}
}

// The written-through order must read the same as one loaded from the
// database.
func TestPlaceOrder_RefillMatchesRead(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	p1 := e.product(t, "lamp", 5)
	p2 := e.product(t, "desk", 5)

	rec := e.do(t, http.MethodPost, "/api/order", e.alice,
		fmt.Sprintf(`{"items":[{"productId":%d,"quantity":1},{"productId":%d,"quantity":2}],"payment_method":"COD"}`, p2.ID, p1.ID))
	expectStatus(t, rec, http.StatusCreated)
	orderID := gjson.GetBytes(decodeEnvelope(t, rec).Data, "id").Int()
	target := fmt.Sprintf("/api/order/%d", orderID)

	rec = e.do(t, http.MethodGet, target, e.alice, "")
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Fatalf("X-Cache = %q, want HIT", got)
	}
	hit := decodeEnvelope(t, rec).Data

	if _, err := e.cache.Delete(context.Background(), cache.EntityKey(cache.TagOrder, orderID)); err != nil {
		t.Fatal(err)
	}
	rec = e.do(t, http.MethodGet, target, e.alice, "")
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Fatalf("X-Cache = %q, want MISS", got)
	}
	fresh := decodeEnvelope(t, rec).Data

	if h, f := gjson.GetBytes(hit, "items").Raw, gjson.GetBytes(fresh, "items").Raw; h != f {
		t.Errorf("cached items = %s\nfresh items = %s", h, f)
	}
	if first := gjson.GetBytes(hit, "items.0.product_id").Int(); first != p1.ID {
		t.Errorf("first item product = %d, want %d", first, p1.ID)
	}
}

func TestPlaceOrder_Rejects(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	p := e.product(t, "lamp", 1)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"no items", `{"items":[],"payment_method":"COD"}`, http.StatusBadRequest},
		{"bad method", fmt.Sprintf(`{"items":[{"productId":%d,"quantity":1}],"payment_method":"CASH"}`, p.ID), http.StatusBadRequest},
		{"zero quantity", fmt.Sprintf(`{"items":[{"productId":%d,"quantity":0}],"payment_method":"COD"}`, p.ID), http.StatusBadRequest},
		{"short stock", fmt.Sprintf(`{"items":[{"productId":%d,"quantity":2}],"payment_method":"CARD"}`, p.ID), http.StatusConflict},
		{"unknown product", `{"items":[{"productId":999,"quantity":1}],"payment_method":"UPI"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, e.do(t, http.MethodPost, "/api/order", e.alice, tt.body), tt.want)
		})
	}
}

func TestReviewInvalidatesProduct(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	p := e.product(t, "lamp", 5)
	reviews := fmt.Sprintf("/api/review/%d", p.ID)

	expectStatus(t, e.do(t, http.MethodGet, reviews, nil, ""), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodGet, fmt.Sprintf("/api/product/%d", p.ID), nil, ""), http.StatusOK)

	body := fmt.Sprintf(`{"productId":%d,"rating":4,"comment":"bright"}`, p.ID)
	expectStatus(t, e.do(t, http.MethodPost, "/api/review", e.alice, body), http.StatusCreated)
	expectStatus(t, e.do(t, http.MethodPost, "/api/review", e.alice, body), http.StatusConflict)

	rec := e.do(t, http.MethodGet, reviews, nil, "")
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("reviews X-Cache = %q, want MISS", got)
	}
	if n := gjson.GetBytes(decodeEnvelope(t, rec).Data, "#").Int(); n != 1 {
		t.Errorf("reviews = %d, want 1", n)
	}
	rec = e.do(t, http.MethodGet, fmt.Sprintf("/api/product/%d", p.ID), nil, "")
	if n := gjson.GetBytes(decodeEnvelope(t, rec).Data, "reviews.#").Int(); n != 1 {
		t.Errorf("product reviews = %d, want 1", n)
	}

	expectStatus(t, e.do(t, http.MethodPost, "/api/review", e.bob, fmt.Sprintf(`{"productId":%d,"rating":6}`, p.ID)), http.StatusBadRequest)
}

func TestCategoryLifecycle(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/category", e.admin, `{"name":"Books"}`)
	expectStatus(t, rec, http.StatusCreated)
	id := gjson.GetBytes(decodeEnvelope(t, rec).Data, "id").Int()
	target := fmt.Sprintf("/api/category/%d", id)

	expectStatus(t, e.do(t, http.MethodGet, "/api/category", nil, ""), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodGet, target, nil, ""), http.StatusOK)

	expectStatus(t, e.do(t, http.MethodPut, target, e.admin, `{"name":"Novels"}`), http.StatusOK)
	rec = e.do(t, http.MethodGet, target, nil, "")
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	if name := gjson.GetBytes(decodeEnvelope(t, rec).Data, "name").String(); name != "Novels" {
		t.Errorf("name = %q", name)
	}

	expectStatus(t, e.do(t, http.MethodDelete, target, e.admin, ""), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodGet, target, nil, ""), http.StatusNotFound)
	if strings.Contains(e.do(t, http.MethodGet, "/api/category", nil, "").Body.String(), "Novels") {
		t.Error("deleted category still listed")
	}
}
