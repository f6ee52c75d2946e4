package handlers

import (
	"net/http"

	"github.com/ziswaf/revshare/revshare/pkg/disbursement"
	"github.com/ziswaf/revshare/revshare/pkg/report"
	"github.com/ziswaf/revshare/revshare/pkg/split"
)

func (s *Server) handleSummaryReport(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	f := report.SummaryFilter{Period: period}
	if pt := r.URL.Query().Get("product_type"); pt != "" {
		if f.ProductType, err = split.ParseProductType(pt); err != nil {
			s.writeError(w, newBadRequest(err.Error()))
			return
		}
	}
	summary, err := s.cfg.Reports.Summary(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDisbursementReport(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	f := report.DisbursementFilter{Period: period}
	if v := r.URL.Query().Get("type"); v != "" {
		t, err := disbursement.ParseType(v)
		if err != nil {
			s.writeError(w, newBadRequest(err.Error()))
			return
		}
		f.Type = string(t)
	}
	rows, err := s.cfg.Reports.Disbursements(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rows == nil {
		rows = []report.DisbursementRow{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handlePartyStatement(w http.ResponseWriter, r *http.Request) {
	ref, err := pathParty(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	period, err := parsePeriod(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	st, err := s.cfg.Reports.PartyStatement(r.Context(), ref, period)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}
