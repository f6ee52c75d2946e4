package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ziswaf/revshare/revshare/pkg/allocation"
	"github.com/ziswaf/revshare/revshare/pkg/disbursement"
	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/party"
)

func (s *Server) handleCreateDisbursement(w http.ResponseWriter, r *http.Request) {
	var req disbursement.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	req.RequesterID = ActorFromContext(r.Context())

	d, err := s.cfg.Workflow.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDisbursements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := ParsePagination(r, DefaultLimit)
	f := disbursement.Filter{Limit: page.Limit, Offset: page.Offset}

	var err error
	if v := q.Get("status"); v != "" {
		if f.Status, err = disbursement.ParseStatus(v); err != nil {
			s.writeError(w, newBadRequest(err.Error()))
			return
		}
	}
	if v := q.Get("type"); v != "" {
		if f.Type, err = disbursement.ParseType(v); err != nil {
			s.writeError(w, newBadRequest(err.Error()))
			return
		}
	}
	if v := q.Get("party_type"); v != "" {
		if f.Party.Type, err = party.ParseType(v); err != nil {
			s.writeError(w, newBadRequest(err.Error()))
			return
		}
	}
	f.Party.ID = q.Get("party_id")

	list, err := s.cfg.Workflow.List(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, paginated(list, page))
}

// DisbursementResponse is a request with its audit trail and, once paid,
// the ledger shares it settled.
type DisbursementResponse struct {
	disbursement.Disbursement
	Events      []disbursement.Event `json:"events"`
	Allocations []allocation.Item    `json:"allocations"`
}

func (s *Server) handleGetDisbursement(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.cfg.Workflow.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	events, err := s.cfg.Workflow.Events(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	allocs, err := s.cfg.Workflow.Allocations(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []disbursement.Event{}
	}
	if allocs == nil {
		allocs = []allocation.Item{}
	}
	s.writeJSON(w, http.StatusOK, DisbursementResponse{Disbursement: d, Events: events, Allocations: allocs})
}

// ActionRequest is the body of POST /v1/disbursements/{id}/{action}. Each
// action reads only the fields it needs.
type ActionRequest struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
	// Amount is the paid amount for pay and the new requested amount for resubmit.
	Amount         money.Amount `json:"amount"`
	ProofReference string       `json:"proof_reference"`
	TransferDate   string       `json:"transfer_date"`
}

func (s *Server) handleDisbursementAction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	action, err := disbursement.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		s.writeError(w, newBadRequest(err.Error()))
		return
	}
	var req ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	ctx := r.Context()
	actor := ActorFromContext(ctx)
	var d disbursement.Disbursement
	status := http.StatusOK

	switch action {
	case disbursement.ActionSubmit:
		d, err = s.cfg.Workflow.Submit(ctx, id, actor)
	case disbursement.ActionApprove:
		d, err = s.cfg.Workflow.Approve(ctx, id, actor, req.Note)
	case disbursement.ActionReject:
		d, err = s.cfg.Workflow.Reject(ctx, id, actor, req.Reason)
	case disbursement.ActionPay:
		transferDate, perr := parseTime(req.TransferDate)
		if perr != nil {
			s.writeError(w, newBadRequest(perr.Error()))
			return
		}
		d, err = s.cfg.Workflow.Pay(ctx, id, actor, disbursement.PayRequest{
			ProofReference: req.ProofReference,
			TransferDate:   transferDate,
			Amount:         req.Amount,
			Note:           req.Note,
		})
	case disbursement.ActionRecall:
		d, err = s.cfg.Workflow.Recall(ctx, id, actor)
	case disbursement.ActionResubmit:
		d, err = s.cfg.Workflow.Resubmit(ctx, id, actor, req.Amount, req.Note)
		status = http.StatusCreated
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, status, d)
}
