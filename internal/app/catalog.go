package app

import (
	"context"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/invalidate"
	"github.com/eugener/goshop/internal/pagination"
	"github.com/eugener/goshop/internal/storage"
)

// Catalog manages categories, products and reviews. Every committed write
// is followed by a dispatched cache invalidation.
type Catalog struct {
	store    storage.CatalogStore
	dispatch invalidate.Dispatcher // nil = no invalidation
}

// NewCatalog returns a Catalog. dispatch may be nil.
func NewCatalog(store storage.CatalogStore, dispatch invalidate.Dispatcher) *Catalog {
	return &Catalog{store: store, dispatch: dispatch}
}

func (c *Catalog) changed(ctx context.Context, ch invalidate.Change) {
	if c.dispatch != nil {
		c.dispatch.Dispatch(ctx, ch)
	}
}

// --- Categories ---

func (c *Catalog) Category(ctx context.Context, id int64) (*shop.Category, error) {
	return c.store.GetCategory(ctx, id)
}

func (c *Catalog) Categories(ctx context.Context, p pagination.Page) (shop.Page[*shop.Category], error) {
	return c.store.ListCategories(ctx, p)
}

func (c *Catalog) CreateCategory(ctx context.Context, name string) (*shop.Category, error) {
	cat := &shop.Category{Name: name}
	if err := c.store.CreateCategory(ctx, cat); err != nil {
		return nil, err
	}
	c.changed(ctx, invalidate.Change{Kind: invalidate.CategoryCreated, ID: cat.ID})
	return cat, nil
}

// RenameCategory renames a category and returns it as stored.
func (c *Catalog) RenameCategory(ctx context.Context, id int64, name string) (*shop.Category, error) {
	if err := c.store.UpdateCategory(ctx, &shop.Category{ID: id, Name: name}); err != nil {
		return nil, err
	}
	c.changed(ctx, invalidate.Change{Kind: invalidate.CategoryChanged, ID: id})
	return c.store.GetCategory(ctx, id)
}

// DeleteCategory soft-deletes a category.
func (c *Catalog) DeleteCategory(ctx context.Context, id int64) error {
	if err := c.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	c.changed(ctx, invalidate.Change{Kind: invalidate.CategoryChanged, ID: id})
	return nil
}

// --- Products ---

func (c *Catalog) Product(ctx context.Context, id int64) (*shop.Product, error) {
	return c.store.GetProduct(ctx, id)
}

func (c *Catalog) Products(ctx context.Context, p pagination.Page) (shop.Page[*shop.Product], error) {
	return c.store.ListProducts(ctx, p)
}

// CreateProduct inserts p and returns it with its category embedded.
func (c *Catalog) CreateProduct(ctx context.Context, p *shop.Product) (*shop.Product, error) {
	if err := c.store.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	c.changed(ctx, invalidate.Change{Kind: invalidate.ProductCreated, ID: p.ID})
	return c.store.GetProduct(ctx, p.ID)
}

// UpdateProduct replaces the mutable fields of p and returns it as stored.
func (c *Catalog) UpdateProduct(ctx context.Context, p *shop.Product) (*shop.Product, error) {
	if err := c.store.UpdateProduct(ctx, p); err != nil {
		return nil, err
	}
	c.changed(ctx, invalidate.Change{Kind: invalidate.ProductChanged, ID: p.ID})
	return c.store.GetProduct(ctx, p.ID)
}

// DeleteProduct soft-deletes a product.
func (c *Catalog) DeleteProduct(ctx context.Context, id int64) error {
	if err := c.store.DeleteProduct(ctx, id); err != nil {
		return err
	}
	c.changed(ctx, invalidate.Change{Kind: invalidate.ProductChanged, ID: id})
	return nil
}

// --- Reviews ---

func (c *Catalog) Reviews(ctx context.Context, productID int64) ([]*shop.Review, error) {
	return c.store.ListReviews(ctx, productID)
}

// Review records the user's single review of a product.
func (c *Catalog) Review(ctx context.Context, r *shop.Review) error {
	if err := c.store.CreateReview(ctx, r); err != nil {
		return err
	}
	c.changed(ctx, invalidate.Change{Kind: invalidate.ReviewCreated, ID: r.ProductID, UserID: r.UserID})
	return nil
}
