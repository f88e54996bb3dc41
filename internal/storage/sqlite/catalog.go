package sqlite

import (
	"context"
	"fmt"
	"time"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/pagination"
)

// --- Categories ---

// CreateCategory inserts a category, setting c.ID.
func (s *Store) CreateCategory(ctx context.Context, c *shop.Category) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	res, err := s.write.ExecContext(ctx,
		`INSERT INTO categories (name, created_at) VALUES (?, ?)`, c.Name, timeStr(c.CreatedAt))
	if err != nil {
		return constraintErr(err, "category")
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetCategory retrieves a live category by ID.
func (s *Store) GetCategory(ctx context.Context, id int64) (*shop.Category, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, name, is_deleted, created_at FROM categories WHERE id = ? AND is_deleted = 0`, id)
	return scanCategory(row)
}

// ListCategories returns one page of live categories ordered by ID.
func (s *Store) ListCategories(ctx context.Context, p pagination.Page) (shop.Page[*shop.Category], error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, name, is_deleted, created_at FROM categories
		 WHERE id >= ? AND is_deleted = 0 ORDER BY id LIMIT ?`,
		p.Cursor, p.Limit+1,
	)
	if err != nil {
		return shop.Page[*shop.Category]{}, err
	}
	defer rows.Close()

	cats := make([]*shop.Category, 0, p.Limit+1)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return shop.Page[*shop.Category]{}, err
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return shop.Page[*shop.Category]{}, err
	}
	items, next := pagination.Cut(cats, p.Limit, func(c *shop.Category) int64 { return c.ID })
	return shop.Page[*shop.Category]{Items: items, NextCursor: next}, nil
}

// UpdateCategory renames a live category.
func (s *Store) UpdateCategory(ctx context.Context, c *shop.Category) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE categories SET name = ? WHERE id = ? AND is_deleted = 0`, c.Name, c.ID)
	if err != nil {
		return constraintErr(err, "category")
	}
	return checkRowsAffected(res, "category")
}

// DeleteCategory soft-deletes a category.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE categories SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "category")
}

func scanCategory(s scanner) (*shop.Category, error) {
	var c shop.Category
	var deleted int
	var createdAt string
	if err := s.Scan(&c.ID, &c.Name, &deleted, &createdAt); err != nil {
		return nil, notFoundErr(err)
	}
	c.IsDeleted = deleted != 0
	c.CreatedAt = mustTime(createdAt)
	return &c, nil
}

// --- Products ---

const productSelect = `SELECT p.id, p.name, p.description, p.price, p.offer, p.stock, p.category_id,
	p.is_deleted, p.created_at, c.id, c.name, c.is_deleted, c.created_at
	FROM products p JOIN categories c ON c.id = p.category_id`

// CreateProduct inserts a product into a live category, setting p.ID.
func (s *Store) CreateProduct(ctx context.Context, p *shop.Product) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	if _, err := s.GetCategory(ctx, p.CategoryID); err != nil {
		return err
	}
	res, err := s.write.ExecContext(ctx,
		`INSERT INTO products (name, description, price, offer, stock, category_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.Price, p.Offer, p.Stock, p.CategoryID, timeStr(p.CreatedAt),
	)
	if err != nil {
		return constraintErr(err, "product")
	}
	p.ID, err = res.LastInsertId()
	return err
}

// GetProduct retrieves a live product with its category and reviews.
func (s *Store) GetProduct(ctx context.Context, id int64) (*shop.Product, error) {
	row := s.read.QueryRowContext(ctx, productSelect+` WHERE p.id = ? AND p.is_deleted = 0`, id)
	p, err := scanProduct(row)
	if err != nil {
		return nil, err
	}
	p.Reviews, err = s.ListReviews(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProducts returns one page of live products ordered by ID.
func (s *Store) ListProducts(ctx context.Context, pg pagination.Page) (shop.Page[*shop.Product], error) {
	rows, err := s.read.QueryContext(ctx,
		productSelect+` WHERE p.id >= ? AND p.is_deleted = 0 ORDER BY p.id LIMIT ?`,
		pg.Cursor, pg.Limit+1,
	)
	if err != nil {
		return shop.Page[*shop.Product]{}, err
	}
	defer rows.Close()

	products := make([]*shop.Product, 0, pg.Limit+1)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return shop.Page[*shop.Product]{}, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return shop.Page[*shop.Product]{}, err
	}
	items, next := pagination.Cut(products, pg.Limit, func(p *shop.Product) int64 { return p.ID })
	return shop.Page[*shop.Product]{Items: items, NextCursor: next}, nil
}

// UpdateProduct replaces the mutable fields of a live product.
func (s *Store) UpdateProduct(ctx context.Context, p *shop.Product) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE products SET name = ?, description = ?, price = ?, offer = ?, stock = ?, category_id = ?
		 WHERE id = ? AND is_deleted = 0`,
		p.Name, p.Description, p.Price, p.Offer, p.Stock, p.CategoryID, p.ID,
	)
	if err != nil {
		return constraintErr(err, "product")
	}
	return checkRowsAffected(res, "product")
}

// DeleteProduct soft-deletes a product.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE products SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "product")
}

func scanProduct(s scanner) (*shop.Product, error) {
	var p shop.Product
	var c shop.Category
	var pDeleted, cDeleted int
	var pCreated, cCreated string
	err := s.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.Offer, &p.Stock, &p.CategoryID,
		&pDeleted, &pCreated, &c.ID, &c.Name, &cDeleted, &cCreated,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}
	p.IsDeleted = pDeleted != 0
	p.CreatedAt = mustTime(pCreated)
	c.IsDeleted = cDeleted != 0
	c.CreatedAt = mustTime(cCreated)
	p.Category = &c
	return &p, nil
}

// --- Reviews ---

// CreateReview inserts a review of a live product, setting r.ID. A second
// review by the same user is a conflict.
func (s *Store) CreateReview(ctx context.Context, r *shop.Review) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	var live int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE id = ? AND is_deleted = 0`, r.ProductID).Scan(&live)
	if err != nil {
		return err
	}
	if live == 0 {
		return fmt.Errorf("product: %w", shop.ErrNotFound)
	}
	res, err := s.write.ExecContext(ctx,
		`INSERT INTO reviews (user_id, product_id, rating, comment, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.UserID, r.ProductID, r.Rating, r.Comment, timeStr(r.CreatedAt),
	)
	if err != nil {
		return constraintErr(err, "review")
	}
	r.ID, err = res.LastInsertId()
	return err
}

// ListReviews returns every review of a product, oldest first.
func (s *Store) ListReviews(ctx context.Context, productID int64) ([]*shop.Review, error) {
	return s.queryReviews(ctx, `WHERE product_id = ?`, productID)
}

// ListUserReviews returns every review written by a user, oldest first.
func (s *Store) ListUserReviews(ctx context.Context, userID int64) ([]*shop.Review, error) {
	return s.queryReviews(ctx, `WHERE user_id = ?`, userID)
}

func (s *Store) queryReviews(ctx context.Context, where string, arg int64) ([]*shop.Review, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, user_id, product_id, rating, comment, created_at FROM reviews `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := []*shop.Review{}
	for rows.Next() {
		var r shop.Review
		var createdAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.ProductID, &r.Rating, &r.Comment, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = mustTime(createdAt)
		reviews = append(reviews, &r)
	}
	return reviews, rows.Err()
}
