package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ziswaf/revshare/revshare/pkg/balance"
	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/party"
)

// BalanceResponse is a party balance with its soft holds applied.
type BalanceResponse struct {
	balance.Balance
	Held      money.Amount `json:"held"`
	Available money.Amount `json:"available"`
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	ref, err := pathParty(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	balances := s.cfg.Engine.Balances()
	b, err := balances.Get(r.Context(), s.cfg.DB, ref)
	if err != nil {
		s.writeError(w, err)
		return
	}
	held, err := balances.Holds(r.Context(), s.cfg.DB, ref, uuid.Nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, BalanceResponse{Balance: b, Held: held, Available: b.CurrentBalance - held})
}

func (s *Server) handleListBalances(w http.ResponseWriter, r *http.Request) {
	var pt party.Type
	if v := r.URL.Query().Get("party_type"); v != "" {
		var err error
		if pt, err = party.ParseType(v); err != nil {
			s.writeError(w, newBadRequest(err.Error()))
			return
		}
	}
	list, err := s.cfg.Engine.Balances().List(r.Context(), s.cfg.DB, pt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []balance.Balance{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleListMovements(w http.ResponseWriter, r *http.Request) {
	ref, err := pathParty(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	page := ParsePagination(r, DefaultLimit)
	movements, err := s.cfg.Engine.Balances().Movements(r.Context(), s.cfg.DB, ref, page.Limit, page.Offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, paginated(movements, page))
}
