package service

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"procurement/model"
	"procurement/notify"
	"procurement/store"
)

type Service struct {
	store    store.Store
	notifier notify.Dispatcher
	log      *logrus.Logger
}

func NewService(s store.Store, n notify.Dispatcher, log *logrus.Logger) *Service {
	return &Service{store: s, notifier: n, log: log}
}

func (s *Service) Catalog() ([]CatalogItemDTO, error) {
	rows, err := s.store.Catalog()
	if err != nil {
		return nil, err
	}
	out := make([]CatalogItemDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, CatalogItemDTO{
			ProductID:    r.ProductID,
			ShopID:       r.ShopID,
			ProductName:  r.ProductName,
			ShopName:     r.ShopName,
			Quantity:     r.Quantity,
			UnitPrice:    r.UnitPrice,
			UnitPriceRec: nullDecimalPtr(r.UnitPriceRec),
		})
	}
	return out, nil
}

func (s *Service) GetBasket(p model.Principal) (BasketDTO, error) {
	if err := s.syncUser(p); err != nil {
		return BasketDTO{}, err
	}
	return s.basket(p)
}

func (s *Service) AddItem(p model.Principal, productID, shopID int64, qty int) (BasketDTO, error) {
	if qty < 1 {
		return BasketDTO{}, errors.New("quantity must be >= 1")
	}
	if err := s.syncUser(p); err != nil {
		return BasketDTO{}, err
	}
	if err := s.store.AddItem(p.ID, productID, shopID, qty); err != nil {
		return BasketDTO{}, err
	}
	return s.basket(p)
}

func (s *Service) UpdateItem(p model.Principal, lineID int64, qty int) (BasketDTO, error) {
	if qty < 1 {
		return BasketDTO{}, errors.New("quantity must be >= 1")
	}
	if err := s.store.UpdateItem(p.ID, lineID, qty); err != nil {
		return BasketDTO{}, err
	}
	return s.basket(p)
}

func (s *Service) RemoveItem(p model.Principal, lineID int64) (BasketDTO, error) {
	if err := s.store.RemoveItem(p.ID, lineID); err != nil {
		return BasketDTO{}, err
	}
	return s.basket(p)
}

// Checkout runs the transactional basket -> order conversion and, only after
// it committed, hands the confirmed order to the dispatcher. A notification
// problem is the dispatcher's to log; the checkout result is already final.
func (s *Service) Checkout(p model.Principal) (OrderDTO, error) {
	if err := s.syncUser(p); err != nil {
		return OrderDTO{}, err
	}
	order, lines, err := s.store.Checkout(p.ID)
	if err != nil {
		return OrderDTO{}, err
	}

	dto := orderDTO(order, lines)
	s.log.WithFields(logrus.Fields{
		"user_id":  p.ID,
		"order_id": order.ID,
		"lines":    len(lines),
		"total":    dto.Total,
	}).Info("checkout committed")

	s.notifier.OrderConfirmed(notify.Order{
		ID:            order.ID,
		Status:        string(order.Status),
		CreatedAt:     order.CreatedAt,
		CustomerEmail: s.customerEmail(p),
		Lines:         notifyLines(lines),
	})
	return dto, nil
}

func (s *Service) ListOrders(p model.Principal) ([]OrderSummaryDTO, error) {
	rows, err := s.store.ListOrders(p.ID)
	if err != nil {
		return nil, err
	}
	out := make([]OrderSummaryDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, OrderSummaryDTO{ID: r.ID, Status: string(r.Status), CreatedAt: r.CreatedAt})
	}
	return out, nil
}

func (s *Service) GetOrder(p model.Principal, orderID int64) (OrderDTO, error) {
	order, lines, err := s.store.GetOrder(p.ID, orderID)
	if err != nil {
		return OrderDTO{}, err
	}
	return orderDTO(order, lines), nil
}

func (s *Service) SetOrderStatus(p model.Principal, orderID int64, next model.OrderStatus) error {
	if p.Role != model.RoleAdmin {
		return store.ErrNotAuthorized
	}
	switch next {
	case model.StatusConfirmed, model.StatusProcessing, model.StatusDone, model.StatusCanceled:
	default:
		return errors.New("invalid target status")
	}
	return s.store.SetOrderStatus(orderID, next)
}

func (s *Service) ImportPriceList(p model.Principal, feed PriceListDTO) (int, error) {
	if p.Role != model.RoleSupplier {
		return 0, store.ErrNotAuthorized
	}
	if feed.ShopName == "" {
		return 0, errors.New("shop name required")
	}
	if err := s.syncUser(p); err != nil {
		return 0, err
	}
	items := make([]store.InventoryUpsert, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it.ProductName == "" {
			return 0, errors.New("product name required")
		}
		if it.Quantity < 0 {
			return 0, errors.New("quantity cannot be negative")
		}
		if it.UnitPrice.IsNegative() {
			return 0, errors.New("price cannot be negative")
		}
		items = append(items, store.InventoryUpsert{
			ExternalID:   it.ExternalID,
			Category:     it.Category,
			ProductName:  it.ProductName,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			UnitPriceRec: nullDecimal(it.UnitPriceRec),
		})
	}
	return s.store.ReplaceInventory(p.ID, feed.ShopName, feed.FeedURL, items)
}

func (s *Service) SetShopState(p model.Principal, accepting bool) error {
	if p.Role != model.RoleSupplier {
		return store.ErrNotAuthorized
	}
	return s.store.SetShopState(p.ID, accepting)
}

func (s *Service) ShopOrders(p model.Principal) ([]ShopOrderLineDTO, error) {
	if p.Role != model.RoleSupplier {
		return nil, store.ErrNotAuthorized
	}
	rows, err := s.store.ListShopOrders(p.ID)
	if err != nil {
		return nil, err
	}
	out := make([]ShopOrderLineDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, ShopOrderLineDTO{
			OrderID:       r.OrderID,
			Status:        string(r.Status),
			CreatedAt:     r.CreatedAt,
			CustomerEmail: r.CustomerEmail,
			ProductName:   r.ProductName,
			Quantity:      r.Quantity,
			UnitPrice:     nullDecimalPtr(r.UnitPrice),
		})
	}
	return out, nil
}

func (s *Service) syncUser(p model.Principal) error {
	if p.ID == 0 {
		return errors.New("user required")
	}
	return s.store.SyncUser(p)
}

func (s *Service) customerEmail(p model.Principal) string {
	if p.Email != "" {
		return p.Email
	}
	email, err := s.store.GetUserEmail(p.ID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", p.ID).Warn("customer email lookup failed")
		return ""
	}
	return email
}

func (s *Service) basket(p model.Principal) (BasketDTO, error) {
	basket, lines, err := s.store.GetBasket(p.ID)
	if err != nil {
		return BasketDTO{}, err
	}
	dto := BasketDTO{
		ID:     basket.ID,
		Status: string(basket.Status),
		Items:  make([]BasketLineDTO, 0, len(lines)),
	}
	for _, l := range lines {
		dto.Items = append(dto.Items, BasketLineDTO{
			ID:          l.ID,
			ProductID:   l.ProductID,
			ShopID:      l.ShopID,
			ProductName: l.ProductName,
			ShopName:    l.ShopName,
			Quantity:    l.Quantity,
			UnitPrice:   nullDecimalPtr(l.UnitPrice),
		})
	}
	return dto, nil
}

func orderDTO(order store.OrderRow, lines []store.OrderLineRow) OrderDTO {
	dto := OrderDTO{
		ID:        order.ID,
		Status:    string(order.Status),
		CreatedAt: order.CreatedAt,
		Items:     make([]OrderLineDTO, 0, len(lines)),
		Total:     store.Total(lines),
	}
	for _, l := range lines {
		dto.Items = append(dto.Items, OrderLineDTO{
			ID:           l.ID,
			ProductID:    l.ProductID,
			ShopID:       l.ShopID,
			ProductName:  l.ProductName,
			ShopName:     l.ShopName,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			UnitPriceRec: nullDecimalPtr(l.UnitPriceRec),
		})
	}
	return dto
}

func notifyLines(lines []store.OrderLineRow) []notify.Line {
	out := make([]notify.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, notify.Line{
			ProductName: l.ProductName,
			ShopName:    l.ShopName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	return out
}

func nullDecimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func nullDecimal(p *decimal.Decimal) decimal.NullDecimal {
	if p == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *p, Valid: true}
}

// DTOs

type CatalogItemDTO struct {
	ProductID    int64            `json:"product_id"`
	ShopID       int64            `json:"shop_id"`
	ProductName  string           `json:"product_name"`
	ShopName     string           `json:"shop_name"`
	Quantity     int              `json:"quantity"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	UnitPriceRec *decimal.Decimal `json:"unit_price_rec,omitempty"`
}

type BasketLineDTO struct {
	ID          int64            `json:"id"`
	ProductID   int64            `json:"product_id"`
	ShopID      int64            `json:"shop_id"`
	ProductName string           `json:"product_name"`
	ShopName    string           `json:"shop_name"`
	Quantity    int              `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
}

type BasketDTO struct {
	ID     int64           `json:"id"`
	Status string          `json:"status"`
	Items  []BasketLineDTO `json:"items"`
}

type OrderLineDTO struct {
	ID           int64            `json:"id"`
	ProductID    int64            `json:"product_id"`
	ShopID       int64            `json:"shop_id"`
	ProductName  string           `json:"product_name"`
	ShopName     string           `json:"shop_name"`
	Quantity     int              `json:"quantity"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	UnitPriceRec *decimal.Decimal `json:"unit_price_rec,omitempty"`
}

type OrderDTO struct {
	ID        int64           `json:"id"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Items     []OrderLineDTO  `json:"items"`
	Total     decimal.Decimal `json:"total"`
}

type OrderSummaryDTO struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type ShopOrderLineDTO struct {
	OrderID       int64            `json:"order_id"`
	Status        string           `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	CustomerEmail string           `json:"customer_email"`
	ProductName   string           `json:"product_name"`
	Quantity      int              `json:"quantity"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
}

type PriceListItemDTO struct {
	ExternalID   int64            `json:"id"`
	Category     string           `json:"category"`
	ProductName  string           `json:"name"`
	Quantity     int              `json:"quantity"`
	UnitPrice    decimal.Decimal  `json:"price"`
	UnitPriceRec *decimal.Decimal `json:"price_rec,omitempty"`
}

type PriceListDTO struct {
	ShopName string             `json:"shop"`
	FeedURL  string             `json:"url,omitempty"`
	Items    []PriceListItemDTO `json:"goods"`
}
