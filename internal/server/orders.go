package server

import (
	"net/http"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/pagination"
	"github.com/eugener/goshop/internal/storage"
)

type cartAddRequest struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"omitempty,gt=0"`
}

type cartUpdateRequest struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

type cartRemoveRequest struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
}

type orderLineRequest struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

type orderRequest struct {
	Items         []orderLineRequest `json:"items" validate:"required,min=1,dive"`
	PaymentMethod string             `json:"payment_method" validate:"required,oneof=CARD UPI COD"`
}

// --- Cart ---

func (s *server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	id := shop.IdentityFromContext(r.Context())
	cart, err := s.deps.Orders.Cart(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "cart fetched successfully", cart)
}

func (s *server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req cartAddRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	id := shop.IdentityFromContext(r.Context())
	cart, err := s.deps.Orders.AddToCart(r.Context(), id.UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "product added to cart successfully", cart)
}

func (s *server) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := shop.IdentityFromContext(r.Context())
	cart, err := s.deps.Orders.UpdateCartItem(r.Context(), id.UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "cart updated successfully", cart)
}

func (s *server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	var req cartRemoveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := shop.IdentityFromContext(r.Context())
	cart, err := s.deps.Orders.RemoveFromCart(r.Context(), id.UserID, req.ProductID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "product removed from cart successfully", cart)
}

// --- Orders ---

func (s *server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	p, err := pagination.Parse(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := shop.IdentityFromContext(r.Context())
	page, err := s.deps.Orders.List(r.Context(), id.UserID, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "orders fetched successfully", page)
}

// handleGetOrder answers 404 for orders of other users unless the caller may
// view all orders.
func (s *server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	oid, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid order id"))
		return
	}
	o, err := s.deps.Orders.Order(r.Context(), oid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := shop.IdentityFromContext(r.Context())
	if o.UserID != id.UserID && !id.Can(shop.PermViewOrders) {
		writeError(w, r, shop.ErrNotFound)
		return
	}
	writeData(w, http.StatusOK, "order fetched successfully", o)
}

func (s *server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lines := make([]storage.OrderLine, len(req.Items))
	for i, it := range req.Items {
		lines[i] = storage.OrderLine{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	id := shop.IdentityFromContext(r.Context())
	o, err := s.deps.Orders.Place(r.Context(), id.UserID, lines, req.PaymentMethod)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "order placed successfully", o)
}
