package service

import "procurement/model"

type ServiceInterface interface {
	Catalog() ([]CatalogItemDTO, error)

	GetBasket(p model.Principal) (BasketDTO, error)
	AddItem(p model.Principal, productID, shopID int64, qty int) (BasketDTO, error)
	UpdateItem(p model.Principal, lineID int64, qty int) (BasketDTO, error)
	RemoveItem(p model.Principal, lineID int64) (BasketDTO, error)

	Checkout(p model.Principal) (OrderDTO, error)

	ListOrders(p model.Principal) ([]OrderSummaryDTO, error)
	GetOrder(p model.Principal, orderID int64) (OrderDTO, error)
	SetOrderStatus(p model.Principal, orderID int64, next model.OrderStatus) error

	ImportPriceList(p model.Principal, feed PriceListDTO) (int, error)
	SetShopState(p model.Principal, accepting bool) error
	ShopOrders(p model.Principal) ([]ShopOrderLineDTO, error)
}
