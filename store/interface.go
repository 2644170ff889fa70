package store

import "procurement/model"

// Store is the persistence surface the service layer depends on.
type Store interface {
	Catalog() ([]InventoryRow, error)

	GetBasket(userID int64) (OrderRow, []BasketLineRow, error)
	AddItem(userID, productID, shopID int64, qty int) error
	UpdateItem(userID, lineID int64, qty int) error
	RemoveItem(userID, lineID int64) error

	Checkout(userID int64) (OrderRow, []OrderLineRow, error)

	ListOrders(userID int64) ([]OrderRow, error)
	GetOrder(userID, orderID int64) (OrderRow, []OrderLineRow, error)
	SetOrderStatus(orderID int64, next model.OrderStatus) error

	ReplaceInventory(ownerID int64, shopName, feedURL string, items []InventoryUpsert) (int, error)
	SetShopState(ownerID int64, accepting bool) error
	ListShopOrders(ownerID int64) ([]ShopOrderLineRow, error)

	SyncUser(p model.Principal) error
	GetUserEmail(userID int64) (string, error)

	Close() error
}
