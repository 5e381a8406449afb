package enums

// OutboxEventType names a domain event persisted through the outbox.
type OutboxEventType string

const (
	EventOrderPaid              OutboxEventType = "order.paid"
	EventOrderPickupScheduled   OutboxEventType = "order.pickup_scheduled"
	EventOrderPickedUp          OutboxEventType = "order.picked_up"
	EventOrderDeliveryScheduled OutboxEventType = "order.delivery_scheduled"
	EventOrderDelivered         OutboxEventType = "order.delivered"
	EventOrderCompleted         OutboxEventType = "order.completed"
	EventOrderCancelled         OutboxEventType = "order.cancelled"
	EventOrderDisputed          OutboxEventType = "order.disputed"
	EventDisputeOpened          OutboxEventType = "dispute.opened"
	EventDisputeResolved        OutboxEventType = "dispute.resolved"
	EventDisputeClosed          OutboxEventType = "dispute.closed"
	EventPromotionActivated     OutboxEventType = "promotion.activated"
	EventPromotionExpired       OutboxEventType = "promotion.expired"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPaid,
	EventOrderPickupScheduled,
	EventOrderPickedUp,
	EventOrderDeliveryScheduled,
	EventOrderDelivered,
	EventOrderCompleted,
	EventOrderCancelled,
	EventOrderDisputed,
	EventDisputeOpened,
	EventDisputeResolved,
	EventDisputeClosed,
	EventPromotionActivated,
	EventPromotionExpired,
}

// String implements fmt.Stringer.
func (o OutboxEventType) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OutboxEventType.
func (o OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == o {
			return true
		}
	}
	return false
}
