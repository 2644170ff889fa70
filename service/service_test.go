package service

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procurement/model"
	"procurement/notify"
	"procurement/store"
)

// ---- fakeStore implementing store.Store for tests ----
type fakeStore struct {
	CatalogFn          func() ([]store.InventoryRow, error)
	GetBasketFn        func(userID int64) (store.OrderRow, []store.BasketLineRow, error)
	AddItemFn          func(userID, productID, shopID int64, qty int) error
	UpdateItemFn       func(userID, lineID int64, qty int) error
	RemoveItemFn       func(userID, lineID int64) error
	CheckoutFn         func(userID int64) (store.OrderRow, []store.OrderLineRow, error)
	ListOrdersFn       func(userID int64) ([]store.OrderRow, error)
	GetOrderFn         func(userID, orderID int64) (store.OrderRow, []store.OrderLineRow, error)
	SetOrderStatusFn   func(orderID int64, next model.OrderStatus) error
	ReplaceInventoryFn func(ownerID int64, shopName, feedURL string, items []store.InventoryUpsert) (int, error)
	SetShopStateFn     func(ownerID int64, accepting bool) error
	ListShopOrdersFn   func(ownerID int64) ([]store.ShopOrderLineRow, error)
	SyncUserFn         func(p model.Principal) error
	GetUserEmailFn     func(userID int64) (string, error)
}

func (f *fakeStore) Catalog() ([]store.InventoryRow, error) { return f.CatalogFn() }
func (f *fakeStore) GetBasket(userID int64) (store.OrderRow, []store.BasketLineRow, error) {
	return f.GetBasketFn(userID)
}
func (f *fakeStore) AddItem(userID, productID, shopID int64, qty int) error {
	return f.AddItemFn(userID, productID, shopID, qty)
}
func (f *fakeStore) UpdateItem(userID, lineID int64, qty int) error {
	return f.UpdateItemFn(userID, lineID, qty)
}
func (f *fakeStore) RemoveItem(userID, lineID int64) error { return f.RemoveItemFn(userID, lineID) }
func (f *fakeStore) Checkout(userID int64) (store.OrderRow, []store.OrderLineRow, error) {
	return f.CheckoutFn(userID)
}
func (f *fakeStore) ListOrders(userID int64) ([]store.OrderRow, error) {
	return f.ListOrdersFn(userID)
}
func (f *fakeStore) GetOrder(userID, orderID int64) (store.OrderRow, []store.OrderLineRow, error) {
	return f.GetOrderFn(userID, orderID)
}
func (f *fakeStore) SetOrderStatus(orderID int64, next model.OrderStatus) error {
	return f.SetOrderStatusFn(orderID, next)
}
func (f *fakeStore) ReplaceInventory(ownerID int64, shopName, feedURL string, items []store.InventoryUpsert) (int, error) {
	return f.ReplaceInventoryFn(ownerID, shopName, feedURL, items)
}
func (f *fakeStore) SetShopState(ownerID int64, accepting bool) error {
	return f.SetShopStateFn(ownerID, accepting)
}
func (f *fakeStore) ListShopOrders(ownerID int64) ([]store.ShopOrderLineRow, error) {
	return f.ListShopOrdersFn(ownerID)
}
func (f *fakeStore) SyncUser(p model.Principal) error {
	if f.SyncUserFn != nil {
		return f.SyncUserFn(p)
	}
	return nil
}
func (f *fakeStore) GetUserEmail(userID int64) (string, error) {
	if f.GetUserEmailFn != nil {
		return f.GetUserEmailFn(userID)
	}
	return "", errors.New("no email")
}
func (f *fakeStore) Close() error { return nil }

// mockDispatcher records confirmations instead of sending anything.
type mockDispatcher struct {
	orders []notify.Order
}

func (m *mockDispatcher) OrderConfirmed(o notify.Order) { m.orders = append(m.orders, o) }

func newTestService(fs *fakeStore) (*Service, *mockDispatcher) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	d := &mockDispatcher{}
	return NewService(fs, d, log), d
}

func buyer() model.Principal {
	return model.Principal{ID: 9, Email: "buyer@example.com", Role: model.RoleBuyer}
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestCheckout_NotifiesAfterCommit(t *testing.T) {
	createdAt := time.Now()
	fs := &fakeStore{
		CheckoutFn: func(userID int64) (store.OrderRow, []store.OrderLineRow, error) {
			return store.OrderRow{ID: 42, UserID: userID, Status: model.StatusNew, CreatedAt: createdAt},
				[]store.OrderLineRow{{
					ID: 500, ProductID: 7, ShopID: 3, Quantity: 2,
					UnitPrice:   decimal.RequireFromString("100.00"),
					ProductName: "Widget", ShopName: "Acme Supplies",
				}}, nil
		},
	}
	svc, d := newTestService(fs)

	dto, err := svc.Checkout(buyer())
	require.NoError(t, err)
	assert.Equal(t, int64(42), dto.ID)
	assert.Equal(t, "new", dto.Status)
	assert.True(t, dto.Total.Equal(mustDec(t, "200.00")), "total %s", dto.Total)

	require.Len(t, d.orders, 1)
	assert.Equal(t, int64(42), d.orders[0].ID)
	assert.Equal(t, "buyer@example.com", d.orders[0].CustomerEmail)
	require.Len(t, d.orders[0].Lines, 1)
	assert.True(t, d.orders[0].Lines[0].UnitPrice.Equal(mustDec(t, "100.00")))
}

func TestCheckout_FailureDoesNotNotify(t *testing.T) {
	fs := &fakeStore{
		CheckoutFn: func(userID int64) (store.OrderRow, []store.OrderLineRow, error) {
			return store.OrderRow{}, nil, store.ErrInsufficientStock
		},
	}
	svc, d := newTestService(fs)

	_, err := svc.Checkout(buyer())
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Empty(t, d.orders)
}

func TestCheckout_EmailFallsBackToStore(t *testing.T) {
	fs := &fakeStore{
		CheckoutFn: func(userID int64) (store.OrderRow, []store.OrderLineRow, error) {
			return store.OrderRow{ID: 42, UserID: userID, Status: model.StatusNew}, nil, nil
		},
		GetUserEmailFn: func(userID int64) (string, error) { return "stored@example.com", nil },
	}
	svc, d := newTestService(fs)

	p := buyer()
	p.Email = ""
	_, err := svc.Checkout(p)
	require.NoError(t, err)
	require.Len(t, d.orders, 1)
	assert.Equal(t, "stored@example.com", d.orders[0].CustomerEmail)
}

func TestAddItem_ValidationAndForwarding(t *testing.T) {
	called := false
	fs := &fakeStore{
		AddItemFn: func(userID, productID, shopID int64, qty int) error {
			called = true
			assert.Equal(t, int64(9), userID)
			return nil
		},
		GetBasketFn: func(userID int64) (store.OrderRow, []store.BasketLineRow, error) {
			return store.OrderRow{ID: 42, UserID: userID, Status: model.StatusBasket}, nil, nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.AddItem(buyer(), 7, 3, 0)
	require.Error(t, err, "qty < 1 must fail before the store is touched")
	assert.False(t, called)

	basket, err := svc.AddItem(buyer(), 7, 3, 2)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, int64(42), basket.ID)
}

func TestAddItem_MissingUser(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	_, err := svc.AddItem(model.Principal{}, 7, 3, 1)
	require.Error(t, err)
}

func TestUpdateItem_ErrorPropagation(t *testing.T) {
	fs := &fakeStore{
		UpdateItemFn: func(userID, lineID int64, qty int) error { return store.ErrItemNotFound },
	}
	svc, _ := newTestService(fs)
	_, err := svc.UpdateItem(buyer(), 500, 3)
	require.ErrorIs(t, err, store.ErrItemNotFound)
}

func TestPartnerOps_RequireSupplierRole(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})

	_, err := svc.ImportPriceList(buyer(), PriceListDTO{ShopName: "Acme Supplies"})
	require.ErrorIs(t, err, store.ErrNotAuthorized)

	err = svc.SetShopState(buyer(), false)
	require.ErrorIs(t, err, store.ErrNotAuthorized)

	_, err = svc.ShopOrders(buyer())
	require.ErrorIs(t, err, store.ErrNotAuthorized)
}

func TestImportPriceList_MapsFeedItems(t *testing.T) {
	var got []store.InventoryUpsert
	fs := &fakeStore{
		ReplaceInventoryFn: func(ownerID int64, shopName, feedURL string, items []store.InventoryUpsert) (int, error) {
			got = items
			assert.Equal(t, int64(10), ownerID)
			assert.Equal(t, "Acme Supplies", shopName)
			return len(items), nil
		},
	}
	svc, _ := newTestService(fs)

	rec := mustDec(t, "120.00")
	supplier := model.Principal{ID: 10, Email: "acme@example.com", Role: model.RoleSupplier}
	n, err := svc.ImportPriceList(supplier, PriceListDTO{
		ShopName: "Acme Supplies",
		Items: []PriceListItemDTO{
			{ExternalID: 1001, Category: "Phones", ProductName: "Widget", Quantity: 5, UnitPrice: mustDec(t, "100.00"), UnitPriceRec: &rec},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.True(t, got[0].UnitPriceRec.Valid)
	assert.True(t, got[0].UnitPriceRec.Decimal.Equal(rec))
}

func TestImportPriceList_RejectsBadItems(t *testing.T) {
	supplier := model.Principal{ID: 10, Role: model.RoleSupplier}
	svc, _ := newTestService(&fakeStore{})

	_, err := svc.ImportPriceList(supplier, PriceListDTO{})
	require.Error(t, err, "shop name required")

	_, err = svc.ImportPriceList(supplier, PriceListDTO{
		ShopName: "Acme Supplies",
		Items:    []PriceListItemDTO{{ProductName: "Widget", Quantity: -1, UnitPrice: decimal.Zero}},
	})
	require.Error(t, err, "negative quantity")

	_, err = svc.ImportPriceList(supplier, PriceListDTO{
		ShopName: "Acme Supplies",
		Items:    []PriceListItemDTO{{ProductName: "Widget", UnitPrice: mustDec(t, "-1")}},
	})
	require.Error(t, err, "negative price")
}

func TestSetOrderStatus_AdminOnly(t *testing.T) {
	var gotNext model.OrderStatus
	fs := &fakeStore{
		SetOrderStatusFn: func(orderID int64, next model.OrderStatus) error {
			gotNext = next
			return nil
		},
	}
	svc, _ := newTestService(fs)

	err := svc.SetOrderStatus(buyer(), 42, model.StatusConfirmed)
	require.ErrorIs(t, err, store.ErrNotAuthorized)

	admin := model.Principal{ID: 1, Role: model.RoleAdmin}
	err = svc.SetOrderStatus(admin, 42, model.OrderStatus("garbage"))
	require.Error(t, err)

	err = svc.SetOrderStatus(admin, 42, model.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, gotNext)
}

func TestCatalog_Mapping(t *testing.T) {
	fs := &fakeStore{
		CatalogFn: func() ([]store.InventoryRow, error) {
			return []store.InventoryRow{{
				ProductID: 7, ShopID: 3, Quantity: 5,
				UnitPrice:   decimal.RequireFromString("100.00"),
				ProductName: "Widget", ShopName: "Acme Supplies", Accepting: true,
			}}, nil
		},
	}
	svc, _ := newTestService(fs)

	items, err := svc.Catalog()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Widget", items[0].ProductName)
	assert.Nil(t, items[0].UnitPriceRec)
}

func TestGetBasket_Mapping(t *testing.T) {
	price := decimal.RequireFromString("100.00")
	fs := &fakeStore{
		GetBasketFn: func(userID int64) (store.OrderRow, []store.BasketLineRow, error) {
			return store.OrderRow{ID: 42, UserID: userID, Status: model.StatusBasket},
				[]store.BasketLineRow{{
					ID: 500, ProductID: 7, ShopID: 3, Quantity: 2,
					ProductName: "Widget", ShopName: "Acme Supplies",
					UnitPrice: decimal.NullDecimal{Decimal: price, Valid: true},
				}}, nil
		},
	}
	svc, _ := newTestService(fs)

	basket, err := svc.GetBasket(buyer())
	require.NoError(t, err)
	assert.Equal(t, "basket", basket.Status)
	require.Len(t, basket.Items, 1)
	require.NotNil(t, basket.Items[0].UnitPrice)
	assert.True(t, basket.Items[0].UnitPrice.Equal(price))
}
