package enums

import "fmt"

// OrderStatus is the canonical lifecycle state of a sale.
type OrderStatus string

const (
	OrderStatusCreated           OrderStatus = "created"
	OrderStatusPaid              OrderStatus = "paid"
	OrderStatusPickupScheduled   OrderStatus = "pickup_scheduled"
	OrderStatusPickedUp          OrderStatus = "picked_up"
	OrderStatusDeliveryScheduled OrderStatus = "delivery_scheduled"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusDisputed          OrderStatus = "disputed"
	OrderStatusCancelled         OrderStatus = "cancelled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusPaid,
	OrderStatusPickupScheduled,
	OrderStatusPickedUp,
	OrderStatusDeliveryScheduled,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusDisputed,
	OrderStatusCancelled,
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions may leave this status.
func (o OrderStatus) IsTerminal() bool {
	return o == OrderStatusCompleted || o == OrderStatusCancelled
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
