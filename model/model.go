package model

// Order lifecycle. Checkout writes only the basket -> new transition;
// everything after that is administrative.
type OrderStatus string

const (
	StatusBasket     OrderStatus = "basket"
	StatusNew        OrderStatus = "new"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusDone       OrderStatus = "done"
	StatusCanceled   OrderStatus = "canceled"
)

// CanTransition reports whether moving from s to next is a legal
// administrative transition. Canceled is reachable from any non-terminal
// state; done and canceled are terminal.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == StatusDone || s == StatusCanceled {
		return false
	}
	if next == StatusCanceled {
		return true
	}
	switch s {
	case StatusNew:
		return next == StatusConfirmed
	case StatusConfirmed:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusDone
	}
	return false
}

type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSupplier Role = "supplier"
	RoleAdmin    Role = "admin"
)

// Principal is the authenticated caller as established by the upstream
// gateway. The role travels with the request instead of being read from
// ambient state.
type Principal struct {
	ID    int64
	Email string
	Role  Role
}
