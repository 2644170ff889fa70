package store

import (
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// InventoryUpsert is one position from an already-parsed supplier feed.
type InventoryUpsert struct {
	ExternalID   int64
	Category     string
	ProductName  string
	Quantity     int
	UnitPrice    decimal.Decimal
	UnitPriceRec decimal.NullDecimal
}

const (
	qCatalog = `SELECT i.id, i.product_id, i.shop_id, i.quantity, i.unit_price, i.unit_price_rec, s.accepting_orders, p.name, s.name FROM inventory i JOIN products p ON p.id = i.product_id JOIN shops s ON s.id = i.shop_id WHERE i.quantity > 0 AND s.accepting_orders ORDER BY p.name, s.name`

	qShopByName = `SELECT id, user_id FROM shops WHERE name = $1`

	qCreateShop = `INSERT INTO shops (name, url, user_id) VALUES ($1, $2, $3) RETURNING id`

	qClaimShop = `UPDATE shops SET user_id = $1, url = $2 WHERE id = $3`

	qUpsertProduct = `INSERT INTO products (category, name) VALUES ($1, $2) ON CONFLICT (category, name) DO UPDATE SET name = EXCLUDED.name RETURNING id`

	qUpsertInventory = `INSERT INTO inventory (product_id, shop_id, external_id, quantity, unit_price, unit_price_rec, updated_at) VALUES ($1, $2, $3, $4, $5, $6, now()) ON CONFLICT (shop_id, external_id) DO UPDATE SET product_id = EXCLUDED.product_id, quantity = EXCLUDED.quantity, unit_price = EXCLUDED.unit_price, unit_price_rec = EXCLUDED.unit_price_rec, updated_at = now()`

	qZeroAbsent = `UPDATE inventory SET quantity = 0, updated_at = now() WHERE shop_id = $1 AND NOT (external_id = ANY($2))`

	qSetShopState = `UPDATE shops SET accepting_orders = $1 WHERE user_id = $2`

	qShopOrders = `SELECT o.id, o.status, o.created_at, u.email, p.name, oi.quantity, oi.unit_price FROM order_items oi JOIN orders o ON o.id = oi.order_id JOIN users u ON u.id = o.user_id JOIN products p ON p.id = oi.product_id JOIN shops s ON s.id = oi.shop_id WHERE s.user_id = $1 AND o.status <> 'basket' ORDER BY o.id, oi.id`
)

// Catalog lists orderable positions: in stock, shop accepting orders.
func (s *PostgresStore) Catalog() ([]InventoryRow, error) {
	rows, err := s.DB.Query(qCatalog)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []InventoryRow{}
	for rows.Next() {
		var r InventoryRow
		if err := rows.Scan(&r.ID, &r.ProductID, &r.ShopID, &r.Quantity, &r.UnitPrice, &r.UnitPriceRec, &r.Accepting, &r.ProductName, &r.ShopName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceInventory applies a refreshed supplier feed in one transaction.
// The shop is created and bound to the supplier on first import; a feed
// against another supplier's shop is rejected. Positions absent from the
// feed get their quantity zeroed but are never deleted, so order history
// keeps valid references.
func (s *PostgresStore) ReplaceInventory(ownerID int64, shopName, feedURL string, items []InventoryUpsert) (int, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var shopID int64
	var shopOwner sql.NullInt64
	err = tx.QueryRow(qShopByName, shopName).Scan(&shopID, &shopOwner)
	switch {
	case err == sql.ErrNoRows:
		if err := tx.QueryRow(qCreateShop, shopName, feedURL, ownerID).Scan(&shopID); err != nil {
			return 0, errors.Wrap(err, "create shop")
		}
	case err != nil:
		return 0, err
	case !shopOwner.Valid:
		if _, err := tx.Exec(qClaimShop, ownerID, feedURL, shopID); err != nil {
			return 0, errors.Wrap(err, "claim shop")
		}
	case shopOwner.Int64 != ownerID:
		return 0, ErrNotAuthorized
	}

	externalIDs := make([]int64, 0, len(items))
	for _, it := range items {
		var productID int64
		if err := tx.QueryRow(qUpsertProduct, it.Category, it.ProductName).Scan(&productID); err != nil {
			return 0, errors.Wrapf(err, "upsert product %q", it.ProductName)
		}
		if _, err := tx.Exec(qUpsertInventory, productID, shopID, it.ExternalID, it.Quantity, it.UnitPrice, it.UnitPriceRec); err != nil {
			return 0, errors.Wrapf(err, "upsert inventory external_id=%d", it.ExternalID)
		}
		externalIDs = append(externalIDs, it.ExternalID)
	}

	if _, err := tx.Exec(qZeroAbsent, shopID, pq.Array(externalIDs)); err != nil {
		return 0, errors.Wrap(err, "zero absent positions")
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(items), nil
}

// SetShopState toggles whether the supplier's shop accepts new orders.
func (s *PostgresStore) SetShopState(ownerID int64, accepting bool) error {
	res, err := s.DB.Exec(qSetShopState, accepting, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrShopMissing
	}
	return nil
}

// ListShopOrders is the supplier-scoped view: every non-basket order line
// that targets the supplier's shop, with the customer contact.
func (s *PostgresStore) ListShopOrders(ownerID int64) ([]ShopOrderLineRow, error) {
	rows, err := s.DB.Query(qShopOrders, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ShopOrderLineRow{}
	for rows.Next() {
		var r ShopOrderLineRow
		if err := rows.Scan(&r.OrderID, &r.Status, &r.CreatedAt, &r.CustomerEmail, &r.ProductName, &r.Quantity, &r.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
