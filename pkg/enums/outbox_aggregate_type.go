package enums

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder     OutboxAggregateType = "order"
	AggregateDispute   OutboxAggregateType = "dispute"
	AggregatePromotion OutboxAggregateType = "promotion"
)

var validOutboxAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateDispute,
	AggregatePromotion,
}

// String implements fmt.Stringer.
func (o OutboxAggregateType) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OutboxAggregateType.
func (o OutboxAggregateType) IsValid() bool {
	for _, candidate := range validOutboxAggregateTypes {
		if candidate == o {
			return true
		}
	}
	return false
}
