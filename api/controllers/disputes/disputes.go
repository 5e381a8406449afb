package disputes

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tradeyard-app/tradeyard-backend/api/middleware"
	"github.com/tradeyard-app/tradeyard-backend/api/responses"
	"github.com/tradeyard-app/tradeyard-backend/api/validators"
	internaldisputes "github.com/tradeyard-app/tradeyard-backend/internal/disputes"
	"github.com/tradeyard-app/tradeyard-backend/pkg/enums"
	pkgerrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

type openRequest struct {
	OrderID     string `json:"order_id" validate:"required,uuid"`
	Type        string `json:"type" validate:"required"`
	Description string `json:"description" validate:"required,min=10,max=4000"`
}

type messageRequest struct {
	Body string `json:"body" validate:"required,min=1,max=4000"`
}

type evidenceRequest struct {
	FileRef string  `json:"file_ref" validate:"required"`
	Caption *string `json:"caption,omitempty" validate:"omitempty,max=500"`
}

type resolveRequest struct {
	Decision    string `json:"decision" validate:"required"`
	Resolution  string `json:"resolution" validate:"required,min=10,max=4000"`
	SellerCents int    `json:"seller_cents,omitempty" validate:"omitempty,min=1"`
}

type transcriptResponse struct {
	Dispute  any `json:"dispute"`
	Messages any `json:"messages"`
	Evidence any `json:"evidence"`
}

func actor(r *http.Request) (internaldisputes.Actor, bool) {
	id, ok := middleware.ActorUUID(r.Context())
	if !ok {
		return internaldisputes.Actor{}, false
	}
	return internaldisputes.Actor{
		UserID:   id,
		Resolver: middleware.RoleFromContext(r.Context()) == string(enums.ActorRoleAdmin),
	}, true
}

// Open freezes an order under a new dispute, or returns the existing active
// one for retried requests.
func Open(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		act, ok := actor(r)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		var req openRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, _ := uuid.Parse(req.OrderID)
		disputeType, err := enums.ParseDisputeType(req.Type)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid dispute type"))
			return
		}

		dispute, err := svc.Open(r.Context(), internaldisputes.OpenInput{
			OrderID:     orderID,
			ReporterID:  act.UserID,
			Type:        disputeType,
			Description: req.Description,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dispute)
	}
}

// Detail returns the dispute with its transcript for a participant or
// resolver.
func Detail(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		act, ok := actor(r)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		disputeID, err := validators.PathUUID(r, "disputeID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.GetForActor(r.Context(), disputeID, act)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		messages, evidence, err := svc.Transcript(r.Context(), disputeID, act)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, transcriptResponse{Dispute: dispute, Messages: messages, Evidence: evidence})
	}
}

// AddMessage appends to the dispute transcript while it is active.
func AddMessage(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		act, ok := actor(r)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		disputeID, err := validators.PathUUID(r, "disputeID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req messageRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		message, err := svc.AddMessage(r.Context(), disputeID, act, req.Body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, message)
	}
}

// AddEvidence attaches an uploaded file reference while the dispute is active.
func AddEvidence(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		act, ok := actor(r)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		disputeID, err := validators.PathUUID(r, "disputeID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req evidenceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		evidence, err := svc.AddEvidence(r.Context(), disputeID, act, req.FileRef, req.Caption)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, evidence)
	}
}

// Close withdraws a dispute; the order resumes its pre-dispute status.
func Close(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		act, ok := actor(r)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
			return
		}
		disputeID, err := validators.PathUUID(r, "disputeID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Close(r.Context(), disputeID, act)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

// ListActive returns open and investigating disputes for the resolver queue.
func ListActive(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputes, err := svc.ListActive(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, disputes)
	}
}

// StartInvestigation is the resolver acknowledging a case.
func StartInvestigation(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.PathUUID(r, "disputeID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dispute, err := svc.StartInvestigation(r.Context(), disputeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

// Resolve settles the dispute with a verdict and drives the frozen order to
// its terminal status.
func Resolve(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.PathUUID(r, "disputeID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req resolveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		decision, err := enums.ParseDisputeDecision(req.Decision)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid decision"))
			return
		}

		dispute, err := svc.Resolve(r.Context(), internaldisputes.ResolveInput{
			DisputeID:   disputeID,
			Decision:    decision,
			Resolution:  req.Resolution,
			SellerCents: req.SellerCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}
