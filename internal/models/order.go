package models

import "time"

// OrderStatus is the lifecycle state of a placed order.
type OrderStatus string

const (
	// OrderPending has been submitted but not yet acknowledged filled.
	OrderPending OrderStatus = "PENDING"
	// OrderPartial has partial fills but remains open.
	OrderPartial OrderStatus = "PARTIAL"
	// OrderFilled is a terminal, successful state.
	OrderFilled OrderStatus = "FILLED"
	// OrderRejected is a terminal, unsuccessful state.
	OrderRejected OrderStatus = "REJECTED"
	// OrderCancelled is a terminal, unsuccessful state.
	OrderCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether the status will not change further.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderCancelled:
		return true
	default:
		return false
	}
}

// Order is an append-only record of a single order's lifecycle,
// identified by its idempotency key ClientID.
type Order struct {
	ClientID      string      `json:"client_id"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Shares        int         `json:"shares"`
	LimitPrice    float64     `json:"limit_price"`
	Status        OrderStatus `json:"status"`
	FilledShares  int         `json:"filled_shares"`
	AvgPrice      float64     `json:"avg_price,omitempty"`
	BrokerID      string      `json:"broker_id,omitempty"`
	RejectReason  string      `json:"reject_reason,omitempty"`
	CreatedEast   time.Time   `json:"created_eastern"`
	UpdatedEast   time.Time   `json:"updated_eastern"`
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}
