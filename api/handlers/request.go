package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ziswaf/revshare/revshare/pkg/party"
	"github.com/ziswaf/revshare/revshare/pkg/report"
)

// ActorHeader carries the authenticated user id set by the gateway.
const ActorHeader = "X-Actor-ID"

const maxBodyBytes = 1 << 20

type actorContextKey struct{}

// ContextWithActor returns a new context carrying the acting user.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the acting user, or "" when none was set.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey{}).(string); ok {
		return actor
	}
	return ""
}

// RequireActor rejects requests without an actor header.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorResponse{
				Code:    CodeActorRequired,
				Title:   "Actor required",
				Message: ActorHeader + " header is required",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return newBadRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, newBadRequest(fmt.Sprintf("invalid %s: %v", name, err))
	}
	return id, nil
}

func pathParty(r *http.Request) (party.Ref, error) {
	pt, err := party.ParseType(chi.URLParam(r, "partyType"))
	if err != nil {
		return party.Ref{}, newBadRequest(err.Error())
	}
	ref := party.Ref{Type: pt, ID: chi.URLParam(r, "partyID")}
	if err := ref.Validate(); err != nil {
		return party.Ref{}, newBadRequest(err.Error())
	}
	return ref, nil
}

// parseTime accepts RFC 3339 timestamps and plain dates, read as UTC midnight.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

// parsePeriod reads the from/to query parameters.
func parsePeriod(r *http.Request) (report.Period, error) {
	var p report.Period
	var err error
	q := r.URL.Query()
	if p.From, err = parseTime(q.Get("from")); err != nil {
		return report.Period{}, newBadRequest(err.Error())
	}
	if p.To, err = parseTime(q.Get("to")); err != nil {
		return report.Period{}, newBadRequest(err.Error())
	}
	if err := p.Validate(); err != nil {
		return report.Period{}, newBadRequest(err.Error())
	}
	return p, nil
}
