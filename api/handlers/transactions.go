package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ziswaf/revshare/revshare/pkg/engine"
	"github.com/ziswaf/revshare/revshare/pkg/ledger"
	"github.com/ziswaf/revshare/revshare/pkg/split"
)

// Violation describes why a transaction was deferred.
type Violation struct {
	SnapshotVersion int64  `json:"snapshot_version"`
	Rule            string `json:"rule"`
	Detail          string `json:"detail"`
}

type TransactionPaidResponse struct {
	Status    engine.Status  `json:"status"`
	Record    *ledger.Record `json:"record,omitempty"`
	Violation *Violation     `json:"violation,omitempty"`
}

// handleTransactionPaid records the split of a confirmed payment. A
// redelivered event answers 200 with the stored record; a transaction the
// active settings cannot split is deferred and answers 202.
func (s *Server) handleTransactionPaid(w http.ResponseWriter, r *http.Request) {
	var tx split.Transaction
	if err := decodeJSON(r, &tx); err != nil {
		s.writeError(w, err)
		return
	}

	out, err := s.cfg.Engine.HandleTransactionPaid(r.Context(), tx)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := TransactionPaidResponse{Status: out.Status, Record: out.Record}
	status := http.StatusCreated
	switch out.Status {
	case engine.StatusDuplicate:
		status = http.StatusOK
	case engine.StatusDeferred:
		status = http.StatusAccepted
		if v := out.Violation; v != nil {
			resp.Violation = &Violation{SnapshotVersion: v.SnapshotVersion, Rule: v.Rule, Detail: v.Detail}
		}
	}
	s.writeJSON(w, status, resp)
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	txID := chi.URLParam(r, "transactionID")
	actor := ActorFromContext(r.Context())

	rec, err := s.cfg.Engine.Reverse(r.Context(), txID, strings.TrimSpace(req.Reason))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("api: transaction reversed", "transaction_id", txID, "actor", actor)
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListRevenueShares(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := parsePeriod(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	f := ledger.Filter{From: period.From, To: period.To}
	if pt := q.Get("product_type"); pt != "" {
		if f.ProductType, err = split.ParseProductType(pt); err != nil {
			s.writeError(w, newBadRequest(err.Error()))
			return
		}
	}
	switch k := ledger.Kind(q.Get("kind")); k {
	case "", ledger.KindOriginal, ledger.KindReversal:
		f.Kind = k
	default:
		s.writeError(w, newBadRequest("kind must be original or reversal"))
		return
	}
	page := ParsePagination(r, DefaultLimit)
	f.Limit, f.Offset = page.Limit, page.Offset

	recs, err := s.cfg.Engine.Ledger().List(r.Context(), s.cfg.DB, f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, paginated(recs, page))
}

type RevenueShareResponse struct {
	Record   ledger.Record  `json:"record"`
	Reversal *ledger.Record `json:"reversal,omitempty"`
}

func (s *Server) handleGetRevenueShare(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "transactionID")
	rec, err := s.cfg.Engine.Ledger().Get(r.Context(), s.cfg.DB, txID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := RevenueShareResponse{Record: rec}
	rev, err := s.cfg.Engine.Ledger().GetReversal(r.Context(), s.cfg.DB, txID)
	switch {
	case err == nil:
		resp.Reversal = &rev
	case !errors.Is(err, ledger.ErrNotFound):
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}
