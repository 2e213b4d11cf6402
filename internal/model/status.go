package model

// PaymentStatus is the normalized status every provider-native event type is
// mapped into before the reconciler sees it.
type PaymentStatus string

const (
	StatusApproved    PaymentStatus = "approved"
	StatusPending     PaymentStatus = "pending"
	StatusInProcess   PaymentStatus = "in_process"
	StatusRejected    PaymentStatus = "rejected"
	StatusCancelled   PaymentStatus = "cancelled"
	StatusRefunded    PaymentStatus = "refunded"
	StatusChargedBack PaymentStatus = "charged_back"
	StatusUnknown     PaymentStatus = "unknown"
)

// OrderStatus is the lifecycle state of an order in the ledger.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderShipped   OrderStatus = "shipped"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
)
