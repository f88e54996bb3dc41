package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/pagination"
	"github.com/eugener/goshop/internal/storage"
)

// --- Cart ---

// GetCart returns the user's cart with every line's live product.
func (s *Store) GetCart(ctx context.Context, userID int64) (*shop.Cart, error) {
	return getCart(ctx, s.read, userID)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getCart(ctx context.Context, q querier, userID int64) (*shop.Cart, error) {
	cart := shop.Cart{UserID: userID, Items: []*shop.CartItem{}}
	err := q.QueryRowContext(ctx, `SELECT id FROM carts WHERE user_id = ?`, userID).Scan(&cart.ID)
	if err != nil {
		return nil, fmt.Errorf("cart: %w", notFoundErr(err))
	}

	rows, err := q.QueryContext(ctx,
		`SELECT ci.cart_id, ci.product_id, ci.quantity,
		 p.id, p.name, p.description, p.price, p.offer, p.stock, p.category_id, p.is_deleted, p.created_at,
		 c.id, c.name, c.is_deleted, c.created_at
		 FROM cart_items ci
		 JOIN products p ON p.id = ci.product_id
		 JOIN categories c ON c.id = p.category_id
		 WHERE ci.cart_id = ? AND p.is_deleted = 0 ORDER BY ci.product_id`,
		cart.ID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var it shop.CartItem
		var p shop.Product
		var c shop.Category
		var pDeleted, cDeleted int
		var pCreated, cCreated string
		err := rows.Scan(&it.CartID, &it.ProductID, &it.Quantity,
			&p.ID, &p.Name, &p.Description, &p.Price, &p.Offer, &p.Stock, &p.CategoryID, &pDeleted, &pCreated,
			&c.ID, &c.Name, &cDeleted, &cCreated,
		)
		if err != nil {
			return nil, err
		}
		p.IsDeleted = pDeleted != 0
		p.CreatedAt = mustTime(pCreated)
		c.IsDeleted = cDeleted != 0
		c.CreatedAt = mustTime(cCreated)
		p.Category = &c
		it.Product = &p
		cart.Items = append(cart.Items, &it)
	}
	return &cart, rows.Err()
}

// AddCartItem adds quantity of a live product to the cart, merging with an existing line.
func (s *Store) AddCartItem(ctx context.Context, userID, productID int64, quantity int) (*shop.Cart, error) {
	var cart *shop.Cart
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cartID, err := cartIDTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		var live int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM products WHERE id = ? AND is_deleted = 0`, productID).Scan(&live); err != nil {
			return err
		}
		if live == 0 {
			return fmt.Errorf("product: %w", shop.ErrNotFound)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO cart_items (cart_id, product_id, quantity) VALUES (?, ?, ?)
			 ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = quantity + excluded.quantity`,
			cartID, productID, quantity,
		)
		if err != nil {
			return constraintErr(err, "cart item")
		}
		cart, err = getCart(ctx, tx, userID)
		return err
	})
	return cart, err
}

// UpdateCartItem sets the quantity of an existing cart line.
func (s *Store) UpdateCartItem(ctx context.Context, userID, productID int64, quantity int) (*shop.Cart, error) {
	var cart *shop.Cart
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cartID, err := cartIDTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE cart_items SET quantity = ? WHERE cart_id = ? AND product_id = ?`,
			quantity, cartID, productID,
		)
		if err != nil {
			return constraintErr(err, "cart item")
		}
		if err := checkRowsAffected(res, "cart item"); err != nil {
			return err
		}
		cart, err = getCart(ctx, tx, userID)
		return err
	})
	return cart, err
}

// RemoveCartItem deletes a cart line.
func (s *Store) RemoveCartItem(ctx context.Context, userID, productID int64) (*shop.Cart, error) {
	var cart *shop.Cart
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cartID, err := cartIDTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?`, cartID, productID)
		if err != nil {
			return err
		}
		if err := checkRowsAffected(res, "cart item"); err != nil {
			return err
		}
		cart, err = getCart(ctx, tx, userID)
		return err
	})
	return cart, err
}

func cartIDTx(ctx context.Context, tx *sql.Tx, userID int64) (int64, error) {
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM carts WHERE user_id = ?`, userID).Scan(&id); err != nil {
		return 0, fmt.Errorf("cart: %w", notFoundErr(err))
	}
	return id, nil
}

// --- Orders ---

// PlaceOrder prices the lines at the current discounted price, checks and
// decrements stock, and records the order with an initiated payment, all in
// one transaction. Duplicate product lines are merged and items are sorted
// by product.
func (s *Store) PlaceOrder(ctx context.Context, userID int64, lines []storage.OrderLine, method string) (*shop.Order, error) {
	merged := make([]storage.OrderLine, 0, len(lines))
	pos := make(map[int64]int, len(lines))
	for _, l := range lines {
		if i, ok := pos[l.ProductID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		pos[l.ProductID] = len(merged)
		merged = append(merged, l)
	}
	// Items are kept in product order, as GetOrder reads them back.
	slices.SortFunc(merged, func(a, b storage.OrderLine) int { return cmp.Compare(a.ProductID, b.ProductID) })

	order := &shop.Order{
		UserID:    userID,
		Status:    shop.OrderPending,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, l := range merged {
			var price, offer float64
			var stock int
			err := tx.QueryRowContext(ctx,
				`SELECT price, offer, stock FROM products WHERE id = ? AND is_deleted = 0`, l.ProductID,
			).Scan(&price, &offer, &stock)
			if err != nil {
				return fmt.Errorf("product %d: %w", l.ProductID, notFoundErr(err))
			}
			if stock < l.Quantity {
				return fmt.Errorf("product %d has %d left: %w", l.ProductID, stock, shop.ErrInsufficientStock)
			}
			unit := (&shop.Product{Price: price, Offer: offer}).DiscountedPrice()
			order.Total += unit * float64(l.Quantity)
			order.Items = append(order.Items, &shop.OrderItem{
				ProductID: l.ProductID,
				Quantity:  l.Quantity,
				Price:     price,
			})
			if _, err := tx.ExecContext(ctx,
				`UPDATE products SET stock = stock - ? WHERE id = ?`, l.Quantity, l.ProductID); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO orders (user_id, total, status, created_at) VALUES (?, ?, ?, ?)`,
			userID, order.Total, order.Status, timeStr(order.CreatedAt),
		)
		if err != nil {
			return constraintErr(err, "order")
		}
		if order.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, it := range order.Items {
			it.OrderID = order.ID
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, price) VALUES (?, ?, ?, ?)`,
				it.OrderID, it.ProductID, it.Quantity, it.Price); err != nil {
				return err
			}
		}
		order.Payment = &shop.Payment{
			OrderID: order.ID,
			Amount:  order.Total,
			Method:  method,
			Status:  shop.PaymentInitiated,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO payments (order_id, amount, method, status) VALUES (?, ?, ?, ?)`,
			order.ID, order.Payment.Amount, order.Payment.Method, order.Payment.Status,
		)
		return constraintErr(err, "payment")
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder retrieves an order with its items and payment.
func (s *Store) GetOrder(ctx context.Context, id int64) (*shop.Order, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, total, status, created_at FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadOrderDetails(ctx, []*shop.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrders returns one page of the user's orders ordered by ID.
func (s *Store) ListOrders(ctx context.Context, userID int64, p pagination.Page) (shop.Page[*shop.Order], error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, user_id, total, status, created_at FROM orders
		 WHERE user_id = ? AND id >= ? ORDER BY id LIMIT ?`,
		userID, p.Cursor, p.Limit+1,
	)
	if err != nil {
		return shop.Page[*shop.Order]{}, err
	}
	defer rows.Close()

	orders := make([]*shop.Order, 0, p.Limit+1)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return shop.Page[*shop.Order]{}, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return shop.Page[*shop.Order]{}, err
	}
	rows.Close()

	items, next := pagination.Cut(orders, p.Limit, func(o *shop.Order) int64 { return o.ID })
	if err := s.loadOrderDetails(ctx, items); err != nil {
		return shop.Page[*shop.Order]{}, err
	}
	return shop.Page[*shop.Order]{Items: items, NextCursor: next}, nil
}

// loadOrderDetails fills items and payment of each order.
func (s *Store) loadOrderDetails(ctx context.Context, orders []*shop.Order) error {
	for _, o := range orders {
		rows, err := s.read.QueryContext(ctx,
			`SELECT order_id, product_id, quantity, price FROM order_items WHERE order_id = ? ORDER BY product_id`,
			o.ID)
		if err != nil {
			return err
		}
		o.Items = []*shop.OrderItem{}
		for rows.Next() {
			var it shop.OrderItem
			if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Quantity, &it.Price); err != nil {
				rows.Close()
				return err
			}
			o.Items = append(o.Items, &it)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		var p shop.Payment
		err = s.read.QueryRowContext(ctx,
			`SELECT order_id, amount, method, status FROM payments WHERE order_id = ?`, o.ID,
		).Scan(&p.OrderID, &p.Amount, &p.Method, &p.Status)
		switch {
		case err == nil:
			o.Payment = &p
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
	}
	return nil
}

func scanOrder(s scanner) (*shop.Order, error) {
	var o shop.Order
	var createdAt string
	if err := s.Scan(&o.ID, &o.UserID, &o.Total, &o.Status, &createdAt); err != nil {
		return nil, notFoundErr(err)
	}
	o.CreatedAt = mustTime(createdAt)
	return &o, nil
}
