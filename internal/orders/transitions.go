package orders

import (
	"fmt"

	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	apperrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
)

// transitionSources maps each reachable status to the statuses a transition
// into it may start from. This table is the single authority on the order
// lifecycle; every status write goes through a compare-and-swap against one
// of these source sets.
var transitionSources = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPaid:              {enums.OrderStatusCreated},
	enums.OrderStatusPickupScheduled:   {enums.OrderStatusPaid},
	enums.OrderStatusPickedUp:          {enums.OrderStatusPickupScheduled},
	enums.OrderStatusDeliveryScheduled: {enums.OrderStatusPickedUp},
	enums.OrderStatusDelivered:         {enums.OrderStatusDeliveryScheduled},
	enums.OrderStatusCompleted:         {enums.OrderStatusDelivered, enums.OrderStatusDisputed},
	enums.OrderStatusCancelled:         {enums.OrderStatusCreated, enums.OrderStatusPaid, enums.OrderStatusDisputed},
	enums.OrderStatusDisputed: {
		enums.OrderStatusPaid,
		enums.OrderStatusPickupScheduled,
		enums.OrderStatusPickedUp,
		enums.OrderStatusDeliveryScheduled,
		enums.OrderStatusDelivered,
	},
}

// AllowedSources returns every status a transition into target may start
// from. The returned slice must not be mutated.
func AllowedSources(target enums.OrderStatus) []enums.OrderStatus {
	return transitionSources[target]
}

// CanTransition reports whether from -> to appears in the lifecycle table.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, source := range transitionSources[to] {
		if source == from {
			return true
		}
	}
	return false
}

// conflictError is returned to the loser of a transition race or to a caller
// whose view of the order was stale.
func conflictError(current, target enums.OrderStatus) error {
	return apperrors.New(apperrors.CodeStateConflict,
		fmt.Sprintf("order is %s, cannot move to %s", current, target))
}
