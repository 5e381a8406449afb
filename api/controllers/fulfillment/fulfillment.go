package fulfillment

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/tradeyard-app/tradeyard-backend/api/middleware"
	"github.com/tradeyard-app/tradeyard-backend/api/responses"
	"github.com/tradeyard-app/tradeyard-backend/api/validators"
	internalfulfillment "github.com/tradeyard-app/tradeyard-backend/internal/fulfillment"
	"github.com/tradeyard-app/tradeyard-backend/pkg/db/models"
	pkgerrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

type confirmRequest struct {
	Code string `json:"code" validate:"required,min=4,max=12"`
}

type scheduledResponse struct {
	Order any    `json:"order"`
	Code  string `json:"code"`
}

// SchedulePickup assigns the authenticated courier to the order and mints the
// pickup verification code. The code travels out-of-band to the seller.
func SchedulePickup(svc internalfulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		courierID, ok := middleware.ActorUUID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		orderID, err := validators.PathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, code, err := svc.SchedulePickup(r.Context(), orderID, courierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, scheduledResponse{Order: order, Code: code})
	}
}

// ConfirmPickup verifies the presented pickup code and advances the order.
func ConfirmPickup(svc internalfulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return confirmLeg(logg, svc.ConfirmPickup)
}

// ScheduleDelivery mints the delivery verification code for the final leg.
func ScheduleDelivery(svc internalfulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		courierID, ok := middleware.ActorUUID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		orderID, err := validators.PathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, code, err := svc.ScheduleDelivery(r.Context(), orderID, courierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, scheduledResponse{Order: order, Code: code})
	}
}

// ConfirmDelivery verifies the delivery code and marks the order delivered.
func ConfirmDelivery(svc internalfulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return confirmLeg(logg, svc.ConfirmDelivery)
}

func confirmLeg(logg *logger.Logger, confirm func(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		courierID, ok := middleware.ActorUUID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		orderID, err := validators.PathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req confirmRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := confirm(r.Context(), orderID, courierID, req.Code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
