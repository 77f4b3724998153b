// Package risk scores external point-of-sale events and derives clip
// requests for those that cross the alert threshold.
package risk

import "time"

// EventKind classifies an external event. Values use the wire spelling of
// the event bus.
type EventKind string

const (
	KindDiscountApplied      EventKind = "discount_applied"
	KindVoidTransaction      EventKind = "void_transaction"
	KindPaymentCleared       EventKind = "payment_cleared"
	KindRefundIssued         EventKind = "refund_issued"
	KindPriceOverride        EventKind = "price_override"
	KindQuantityChanged      EventKind = "quantity_changed"
	KindHighValueTransaction EventKind = "high_value_transaction"
	KindNoSaleOpened         EventKind = "no_sale_opened"
	KindCashDrawerOpened     EventKind = "cash_drawer_opened"
	KindSuspiciousReturn     EventKind = "suspicious_return"
)

// BaseScore returns the intrinsic risk of the event kind before modifiers.
func (k EventKind) BaseScore() float64 {
	switch k {
	case KindVoidTransaction:
		return 0.4
	case KindRefundIssued:
		return 0.5
	case KindPriceOverride:
		return 0.3
	case KindNoSaleOpened:
		return 0.6
	case KindCashDrawerOpened:
		return 0.3
	case KindSuspiciousReturn:
		return 0.7
	case KindDiscountApplied:
		return 0.2
	default:
		return 0.1
	}
}

// ExternalEvent is one event received from the bus. Immutable once received;
// optional fields are nil when the event kind does not carry them.
type ExternalEvent struct {
	ID              string
	Timestamp       time.Time
	ActorID         string
	Kind            EventKind
	Amount          *float64
	DiscountPercent *float64
}
