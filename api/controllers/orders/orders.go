package orders

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tradeyard-app/tradeyard-backend/api/middleware"
	"github.com/tradeyard-app/tradeyard-backend/api/responses"
	"github.com/tradeyard-app/tradeyard-backend/api/validators"
	internalorders "github.com/tradeyard-app/tradeyard-backend/internal/orders"
	pkgerrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

type createRequest struct {
	ListingID  string `json:"listing_id" validate:"required,uuid"`
	SellerID   string `json:"seller_id" validate:"required,uuid"`
	TotalCents int    `json:"total_cents" validate:"required,min=1"`
}

type listResponse struct {
	Orders     any    `json:"orders"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Create opens an order for the authenticated buyer against a reserved
// listing. The fee is computed and frozen here; payment arrives later via
// webhook.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, ok := middleware.ActorUUID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}

		var req createRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		listingID, _ := uuid.Parse(req.ListingID)
		sellerID, _ := uuid.Parse(req.SellerID)

		order, err := svc.Create(r.Context(), internalorders.CreateInput{
			ListingID:  listingID,
			BuyerID:    buyerID,
			SellerID:   sellerID,
			TotalCents: req.TotalCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// Detail returns one order, visible only to its participants.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.ActorUUID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		orderID, err := validators.PathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetForUser(r.Context(), orderID, actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// List pages through the actor's orders, newest first.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.ActorUUID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, next, err := svc.ListForUser(r.Context(), actorID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, listResponse{Orders: rows, NextCursor: next})
	}
}

// Complete is the buyer's confirmation that releases escrow to the seller.
func Complete(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.ActorUUID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		orderID, err := validators.PathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Complete(r.Context(), orderID, actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Cancel withdraws an order before fulfillment; a paid order is refunded in
// full first.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.ActorUUID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		orderID, err := validators.PathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Cancel(r.Context(), orderID, actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
