package promotions

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tradeyard-app/tradeyard-backend/api/middleware"
	"github.com/tradeyard-app/tradeyard-backend/api/responses"
	"github.com/tradeyard-app/tradeyard-backend/api/validators"
	internalpromotions "github.com/tradeyard-app/tradeyard-backend/internal/promotions"
	pkgerrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

type createRequest struct {
	ListingID  string `json:"listing_id" validate:"required,uuid"`
	Plan       string `json:"plan" validate:"required,oneof=weekly monthly"`
	PriceCents int    `json:"price_cents" validate:"required,min=1"`
}

// Create registers a pending promotion awaiting payment confirmation.
func Create(svc internalpromotions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := middleware.ActorUUID(r.Context())
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

		promotion, err := svc.Create(r.Context(), internalpromotions.CreateInput{
			ListingID:  listingID,
			OwnerID:    ownerID,
			Plan:       req.Plan,
			PriceCents: req.PriceCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, promotion)
	}
}

// List returns the caller's promotions, newest first.
func List(svc internalpromotions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := middleware.ActorUUID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		promotions, err := svc.ListForOwner(r.Context(), ownerID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, promotions)
	}
}

// Detail returns one promotion owned by the caller.
func Detail(svc internalpromotions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := middleware.ActorUUID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		promotionID, err := validators.PathUUID(r, "promotionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		promotion, err := svc.GetForOwner(r.Context(), promotionID, ownerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, promotion)
	}
}

// Cancel abandons a promotion before payment confirms.
func Cancel(svc internalpromotions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := middleware.ActorUUID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		promotionID, err := validators.PathUUID(r, "promotionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		promotion, err := svc.Cancel(r.Context(), promotionID, ownerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, promotion)
	}
}
