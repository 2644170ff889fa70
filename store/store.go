package store

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"procurement/model"
)

// Row structs mirror the tables they are scanned from.
type InventoryRow struct {
	ID           int64
	ProductID    int64
	ShopID       int64
	Quantity     int
	UnitPrice    decimal.Decimal
	UnitPriceRec decimal.NullDecimal
	Accepting    bool
	ProductName  string
	ShopName     string
}

type OrderRow struct {
	ID        int64
	UserID    int64
	Status    model.OrderStatus
	CreatedAt time.Time
}

// BasketLineRow carries no frozen price; UnitPrice is the live catalog price
// at read time and may be absent if the supplier dropped the position.
type BasketLineRow struct {
	ID          int64
	ProductID   int64
	ShopID      int64
	Quantity    int
	ProductName string
	ShopName    string
	UnitPrice   decimal.NullDecimal
}

// OrderLineRow carries the prices frozen at checkout.
type OrderLineRow struct {
	ID           int64
	ProductID    int64
	ShopID       int64
	Quantity     int
	UnitPrice    decimal.Decimal
	UnitPriceRec decimal.NullDecimal
	ProductName  string
	ShopName     string
}

type ShopOrderLineRow struct {
	OrderID       int64
	Status        model.OrderStatus
	CreatedAt     time.Time
	CustomerEmail string
	ProductName   string
	Quantity      int
	UnitPrice     decimal.NullDecimal
}

// PostgresStore is a Store backed by Postgres. LockTimeout, when set, bounds
// how long a checkout waits on contended inventory rows before aborting with
// ErrCheckoutConflict.
type PostgresStore struct {
	DB          *sql.DB
	LockTimeout time.Duration

	// per-user mutexes so goroutines in this process do not race on the
	// same basket before the row locks even come into play
	locks sync.Map // map[int64]*sync.Mutex
}

func NewPostgresStore(dsn string, lockTimeout time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &PostgresStore{DB: db, LockTimeout: lockTimeout}, nil
}

func (s *PostgresStore) Close() error { return s.DB.Close() }

// lockForUser acquires the process-local per-user lock and returns the
// unlock func.
func (s *PostgresStore) lockForUser(userID int64) func() {
	m := &sync.Mutex{}
	if actual, loaded := s.locks.LoadOrStore(userID, m); loaded {
		m = actual.(*sync.Mutex)
	}
	m.Lock()
	return m.Unlock
}

const (
	qEnsureBasket = `INSERT INTO orders (user_id, status) VALUES ($1, 'basket') ON CONFLICT (user_id) WHERE status = 'basket' DO NOTHING`

	qGetBasket = `SELECT id, created_at FROM orders WHERE user_id = $1 AND status = 'basket'`

	qBasketLines = `SELECT oi.id, oi.product_id, oi.shop_id, oi.quantity, p.name, s.name, i.unit_price FROM order_items oi JOIN products p ON p.id = oi.product_id JOIN shops s ON s.id = oi.shop_id LEFT JOIN inventory i ON i.product_id = oi.product_id AND i.shop_id = oi.shop_id WHERE oi.order_id = $1 ORDER BY oi.id`

	qAdvisoryStock = `SELECT i.quantity, s.accepting_orders FROM inventory i JOIN shops s ON s.id = i.shop_id WHERE i.product_id = $1 AND i.shop_id = $2`

	qUpsertLine = `INSERT INTO order_items (order_id, product_id, shop_id, quantity) VALUES ($1, $2, $3, $4) ON CONFLICT (order_id, product_id, shop_id) DO UPDATE SET quantity = order_items.quantity + EXCLUDED.quantity`

	qUpdateLine = `UPDATE order_items SET quantity = $1 WHERE id = $2 AND order_id = (SELECT id FROM orders WHERE user_id = $3 AND status = 'basket')`

	qDeleteLine = `DELETE FROM order_items WHERE id = $1 AND order_id = (SELECT id FROM orders WHERE user_id = $2 AND status = 'basket')`

	qListOrders = `SELECT id, user_id, status, created_at FROM orders WHERE user_id = $1 AND status <> 'basket' ORDER BY created_at DESC`

	qGetOrder = `SELECT id, user_id, status, created_at FROM orders WHERE id = $1 AND user_id = $2 AND status <> 'basket'`

	qOrderLines = `SELECT oi.id, oi.product_id, oi.shop_id, oi.quantity, oi.unit_price, oi.unit_price_rec, p.name, s.name FROM order_items oi JOIN products p ON p.id = oi.product_id JOIN shops s ON s.id = oi.shop_id WHERE oi.order_id = $1 ORDER BY oi.id`

	qLockOrderStatus = `SELECT status FROM orders WHERE id = $1 FOR UPDATE`

	qSetOrderStatus = `UPDATE orders SET status = $1 WHERE id = $2`

	qSyncUser = `INSERT INTO users (id, email, role) VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, role = EXCLUDED.role`

	qUserEmail = `SELECT email FROM users WHERE id = $1`
)

// GetBasket returns the caller's open basket, creating it if absent, with
// live catalog prices joined onto the lines.
func (s *PostgresStore) GetBasket(userID int64) (OrderRow, []BasketLineRow, error) {
	basket := OrderRow{UserID: userID, Status: model.StatusBasket}

	if _, err := s.DB.Exec(qEnsureBasket, userID); err != nil {
		return basket, nil, errors.Wrap(err, "ensure basket")
	}
	if err := s.DB.QueryRow(qGetBasket, userID).Scan(&basket.ID, &basket.CreatedAt); err != nil {
		return basket, nil, errors.Wrap(err, "read basket")
	}

	rows, err := s.DB.Query(qBasketLines, basket.ID)
	if err != nil {
		return basket, nil, errors.Wrap(err, "read basket lines")
	}
	defer rows.Close()

	lines := []BasketLineRow{}
	for rows.Next() {
		var l BasketLineRow
		if err := rows.Scan(&l.ID, &l.ProductID, &l.ShopID, &l.Quantity, &l.ProductName, &l.ShopName, &l.UnitPrice); err != nil {
			return basket, nil, err
		}
		lines = append(lines, l)
	}
	return basket, lines, rows.Err()
}

// AddItem validates the position against the live catalog (advisory only,
// no lock — the authoritative check happens at checkout) and upserts the
// basket line, adding quantities on repeat.
func (s *PostgresStore) AddItem(userID, productID, shopID int64, qty int) error {
	if qty < 1 {
		return errors.New("quantity must be >= 1")
	}

	unlock := s.lockForUser(userID)
	defer unlock()

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var available int
	var accepting bool
	err = tx.QueryRow(qAdvisoryStock, productID, shopID).Scan(&available, &accepting)
	if err == sql.ErrNoRows {
		return ErrInventoryRecordMissing
	}
	if err != nil {
		return err
	}
	if !accepting {
		return ErrShopDisabled
	}
	if available <= 0 {
		return ErrOutOfStock
	}

	if _, err := tx.Exec(qEnsureBasket, userID); err != nil {
		return err
	}
	var basketID int64
	var createdAt time.Time
	if err := tx.QueryRow(qGetBasket, userID).Scan(&basketID, &createdAt); err != nil {
		return err
	}
	if _, err := tx.Exec(qUpsertLine, basketID, productID, shopID, qty); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateItem changes a line's quantity. The subselect scopes the write to
// the caller's own open basket, so probing another user's line ids reports
// ErrItemNotFound just like a missing line.
func (s *PostgresStore) UpdateItem(userID, lineID int64, qty int) error {
	if qty < 1 {
		return errors.New("quantity must be >= 1")
	}
	res, err := s.DB.Exec(qUpdateLine, qty, lineID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (s *PostgresStore) RemoveItem(userID, lineID int64) error {
	res, err := s.DB.Exec(qDeleteLine, lineID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (s *PostgresStore) ListOrders(userID int64) ([]OrderRow, error) {
	rows, err := s.DB.Query(qListOrders, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []OrderRow{}
	for rows.Next() {
		var o OrderRow
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetOrder(userID, orderID int64) (OrderRow, []OrderLineRow, error) {
	var o OrderRow
	err := s.DB.QueryRow(qGetOrder, orderID, userID).Scan(&o.ID, &o.UserID, &o.Status, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, nil, ErrItemNotFound
	}
	if err != nil {
		return o, nil, err
	}
	lines, err := s.orderLines(o.ID)
	return o, lines, err
}

func (s *PostgresStore) orderLines(orderID int64) ([]OrderLineRow, error) {
	rows, err := s.DB.Query(qOrderLines, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []OrderLineRow{}
	for rows.Next() {
		var l OrderLineRow
		var price decimal.NullDecimal
		if err := rows.Scan(&l.ID, &l.ProductID, &l.ShopID, &l.Quantity, &price, &l.UnitPriceRec, &l.ProductName, &l.ShopName); err != nil {
			return nil, err
		}
		l.UnitPrice = price.Decimal
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetOrderStatus applies an administrative lifecycle transition. The status
// row is locked so concurrent admins cannot interleave transitions.
func (s *PostgresStore) SetOrderStatus(orderID int64, next model.OrderStatus) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current model.OrderStatus
	err = tx.QueryRow(qLockOrderStatus, orderID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrItemNotFound
	}
	if err != nil {
		return err
	}
	if !current.CanTransition(next) {
		return ErrBadTransition
	}
	if _, err := tx.Exec(qSetOrderStatus, string(next), orderID); err != nil {
		return err
	}
	return tx.Commit()
}

// SyncUser upserts the principal established by the upstream gateway so that
// basket and order rows have a user to reference.
func (s *PostgresStore) SyncUser(p model.Principal) error {
	_, err := s.DB.Exec(qSyncUser, p.ID, p.Email, string(p.Role))
	return errors.Wrap(err, "sync user")
}

func (s *PostgresStore) GetUserEmail(userID int64) (string, error) {
	var email string
	if err := s.DB.QueryRow(qUserEmail, userID).Scan(&email); err != nil {
		return "", err
	}
	return email, nil
}
