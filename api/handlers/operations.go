package handlers

import (
	"net/http"

	"github.com/ziswaf/revshare/revshare/pkg/engine"
)

func (s *Server) handleListDeferred(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Engine.ListDeferred(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []engine.Deferred{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleRetryDeferred(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Engine.RetryDeferred(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("api: deferred retry", "actor", ActorFromContext(r.Context()), "attempted", res.Attempted, "recorded", res.Recorded)
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	var status engine.FlagStatus
	switch v := engine.FlagStatus(r.URL.Query().Get("status")); v {
	case "", engine.FlagOpen, engine.FlagResolved:
		status = v
	default:
		s.writeError(w, newBadRequest("status must be open or resolved"))
		return
	}
	flags, err := s.cfg.Engine.ListFlags(r.Context(), status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if flags == nil {
		flags = []engine.Flag{}
	}
	s.writeJSON(w, http.StatusOK, flags)
}

type resolveFlagRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleResolveFlag(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req resolveFlagRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	f, err := s.cfg.Engine.ResolveFlag(r.Context(), id, ActorFromContext(r.Context()), req.Note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}
