package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"procurement/model"
)

const (
	qLockBasket = `SELECT id, created_at FROM orders WHERE user_id = $1 AND status = 'basket' FOR UPDATE`

	// Lines come back sorted by (product_id, shop_id) so every checkout
	// locks inventory rows in the same global order. Overlapping checkouts
	// then queue on the first contended row instead of deadlocking.
	qCheckoutLines = `SELECT id, product_id, shop_id, quantity FROM order_items WHERE order_id = $1 ORDER BY product_id, shop_id`

	qLockInventory = `SELECT i.quantity, i.unit_price, i.unit_price_rec, s.accepting_orders, p.name, s.name FROM inventory i JOIN shops s ON s.id = i.shop_id JOIN products p ON p.id = i.product_id WHERE i.product_id = $1 AND i.shop_id = $2 FOR UPDATE OF i`

	qFreezeLine = `UPDATE order_items SET unit_price = $1, unit_price_rec = $2 WHERE id = $3`

	qDecrementStock = `UPDATE inventory SET quantity = quantity - $1 WHERE product_id = $2 AND shop_id = $3`

	qMarkOrderNew = `UPDATE orders SET status = 'new' WHERE id = $1`
)

// Checkout converts the user's open basket into a confirmed order in one
// transaction: lock the basket row, lock every referenced inventory row in
// ascending (product_id, shop_id) order, validate all lines, and only then
// freeze prices, decrement stock and flip the order status. Any validation
// failure rolls the whole transaction back, leaving basket and inventory
// untouched.
func (s *PostgresStore) Checkout(userID int64) (OrderRow, []OrderLineRow, error) {
	var order OrderRow

	unlock := s.lockForUser(userID)
	defer unlock()

	tx, err := s.DB.Begin()
	if err != nil {
		return order, nil, errors.Wrap(err, "begin checkout")
	}
	defer func() { _ = tx.Rollback() }()

	if s.LockTimeout > 0 {
		// SET LOCAL does not take bind parameters; the value is a duration
		// from config, not user input.
		q := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.LockTimeout.Milliseconds())
		if _, err := tx.Exec(q); err != nil {
			return order, nil, errors.Wrap(err, "set lock timeout")
		}
	}

	// Serialize double-submits from the same user on the basket row itself.
	var createdAt time.Time
	err = tx.QueryRow(qLockBasket, userID).Scan(&order.ID, &createdAt)
	if err == sql.ErrNoRows {
		return order, nil, ErrEmptyBasket
	}
	if err != nil {
		return order, nil, translateConflict(err)
	}

	lines, err := readCheckoutLines(tx, order.ID)
	if err != nil {
		return order, nil, err
	}
	if len(lines) == 0 {
		return order, nil, ErrEmptyBasket
	}

	// Phase one: lock and validate every line. No mutation may happen
	// until the whole basket has passed.
	for i := range lines {
		l := &lines[i]
		var available int
		var accepting bool
		err := tx.QueryRow(qLockInventory, l.ProductID, l.ShopID).
			Scan(&available, &l.UnitPrice, &l.UnitPriceRec, &accepting, &l.ProductName, &l.ShopName)
		if err == sql.ErrNoRows {
			return order, nil, ErrInventoryRecordMissing
		}
		if err != nil {
			return order, nil, translateConflict(err)
		}
		if !accepting {
			return order, nil, ErrShopDisabled
		}
		if available < l.Quantity {
			return order, nil, ErrInsufficientStock
		}
	}

	// Phase two: freeze prices and decrement stock.
	freeze, err := tx.Prepare(qFreezeLine)
	if err != nil {
		return order, nil, err
	}
	defer freeze.Close()
	for _, l := range lines {
		if _, err := freeze.Exec(l.UnitPrice, l.UnitPriceRec, l.ID); err != nil {
			return order, nil, err
		}
	}

	decrement, err := tx.Prepare(qDecrementStock)
	if err != nil {
		return order, nil, err
	}
	defer decrement.Close()
	for _, l := range lines {
		if _, err := decrement.Exec(l.Quantity, l.ProductID, l.ShopID); err != nil {
			return order, nil, err
		}
	}

	if _, err := tx.Exec(qMarkOrderNew, order.ID); err != nil {
		return order, nil, err
	}
	if err := tx.Commit(); err != nil {
		return order, nil, translateConflict(err)
	}

	order.UserID = userID
	order.Status = model.StatusNew
	order.CreatedAt = createdAt
	return order, lines, nil
}

func readCheckoutLines(tx *sql.Tx, orderID int64) ([]OrderLineRow, error) {
	rows, err := tx.Query(qCheckoutLines, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []OrderLineRow
	for rows.Next() {
		var l OrderLineRow
		if err := rows.Scan(&l.ID, &l.ProductID, &l.ShopID, &l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Total sums quantity x frozen unit price over order lines.
func Total(lines []OrderLineRow) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}
