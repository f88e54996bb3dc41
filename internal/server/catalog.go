package server

import (
	"net/http"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/pagination"
)

type categoryRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type productRequest struct {
	Name        string   `json:"product_name" validate:"required,max=200"`
	Description string   `json:"product_description"`
	Price       float64  `json:"product_price" validate:"gt=0"`
	Offer       *float64 `json:"product_offer" validate:"required,gte=0,lte=100"`
	Stock       *int     `json:"product_stock" validate:"required,gte=0"`
	CategoryID  int64    `json:"categoryId" validate:"required,gt=0"`
}

func (req *productRequest) product(id int64) *shop.Product {
	return &shop.Product{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Offer:       *req.Offer,
		Stock:       *req.Stock,
		CategoryID:  req.CategoryID,
	}
}

type reviewRequest struct {
	ProductID int64  `json:"productId" validate:"required,gt=0"`
	Rating    int    `json:"rating" validate:"required,gte=1,lte=5"`
	Comment   string `json:"comment" validate:"max=2000"`
}

// --- Categories ---

func (s *server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	p, err := pagination.Parse(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := s.deps.Catalog.Categories(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "categories fetched successfully", page)
}

func (s *server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid category id"))
		return
	}
	c, err := s.deps.Catalog.Category(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "category fetched successfully", c)
}

func (s *server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.deps.Catalog.CreateCategory(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "category created successfully", c)
}

func (s *server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid category id"))
		return
	}
	var req categoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.deps.Catalog.RenameCategory(r.Context(), id, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "category updated successfully", c)
}

func (s *server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid category id"))
		return
	}
	if err := s.deps.Catalog.DeleteCategory(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "category deleted successfully", nil)
}

// --- Products ---

func (s *server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	p, err := pagination.Parse(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := s.deps.Catalog.Products(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "products fetched successfully", page)
}

func (s *server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid product id"))
		return
	}
	p, err := s.deps.Catalog.Product(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "product fetched successfully", p)
}

func (s *server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := s.deps.Catalog.CreateProduct(r.Context(), req.product(0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "product created successfully", p)
}

func (s *server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid product id"))
		return
	}
	var req productRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := s.deps.Catalog.UpdateProduct(r.Context(), req.product(id))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "product updated successfully", p)
}

func (s *server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid product id"))
		return
	}
	if err := s.deps.Catalog.DeleteProduct(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "product deleted successfully", nil)
}

// --- Reviews ---

// handleListReviews lists the reviews of the product named by id.
func (s *server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, badRequest("invalid product id"))
		return
	}
	reviews, err := s.deps.Catalog.Reviews(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reviews == nil {
		reviews = []*shop.Review{}
	}
	writeData(w, http.StatusOK, "reviews fetched successfully", reviews)
}

func (s *server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := shop.IdentityFromContext(r.Context())
	rv := &shop.Review{
		UserID:    id.UserID,
		ProductID: req.ProductID,
		Rating:    req.Rating,
		Comment:   req.Comment,
	}
	if err := s.deps.Catalog.Review(r.Context(), rv); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "review added successfully", rv)
}
