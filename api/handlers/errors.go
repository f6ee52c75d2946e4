package handlers

import (
	"errors"
	"net/http"

	"github.com/ziswaf/revshare/revshare/pkg/allocation"
	"github.com/ziswaf/revshare/revshare/pkg/balance"
	"github.com/ziswaf/revshare/revshare/pkg/disbursement"
	"github.com/ziswaf/revshare/revshare/pkg/engine"
	"github.com/ziswaf/revshare/revshare/pkg/ledger"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
	"github.com/ziswaf/revshare/revshare/pkg/settings"
	"github.com/ziswaf/revshare/revshare/pkg/split"
)

// Business error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest         = "bad_request"
	CodeActorRequired      = "actor_required"
	CodeNotFound           = "not_found"
	CodeInvalidTransaction = "invalid_transaction"
	CodeInvalidRequest     = "invalid_request"
	CodeConfigViolation    = "config_invariant_violation"
	CodeAlreadyReversed    = "already_reversed"
	CodeAllocationConflict = "allocation_conflict"
	CodeOverAllocation     = "over_allocation"
	CodeInsufficientFunds  = "insufficient_balance"
	CodeInvalidTransition  = "invalid_transition"
	CodeGuardFailed        = "guard_failed"
	CodeFlagResolved       = "flag_resolved"
	CodeSettingsMissing    = "settings_unavailable"
	CodeStorageUnavailable = "storage_unavailable"
	CodeInternal           = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
	// Guard names the failed disbursement guard, when there is one.
	Guard string `json:"guard,omitempty"`
}

// errBadRequest marks malformed input caught by the handlers themselves.
var errBadRequest = errors.New("bad request")

type badRequest struct{ msg string }

func (e *badRequest) Error() string        { return e.msg }
func (e *badRequest) Is(target error) bool { return target == errBadRequest }

func newBadRequest(msg string) error { return &badRequest{msg: msg} }

// mapError turns a domain or storage error into a status and body. The
// order matters: a refused transition can wrap an insufficient balance.
func mapError(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, ErrorResponse{Code: CodeBadRequest, Title: "Bad request", Message: err.Error()}

	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, disbursement.ErrNotFound),
		errors.Is(err, engine.ErrFlagNotFound):
		return http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Title: "Not found", Message: err.Error()}

	case errors.Is(err, ledger.ErrAlreadyReversed):
		return http.StatusConflict, ErrorResponse{Code: CodeAlreadyReversed, Title: "Already reversed", Message: err.Error()}
	case errors.Is(err, ledger.ErrAllocationConflict):
		return http.StatusConflict, ErrorResponse{Code: CodeAllocationConflict, Title: "Allocated to a disbursement", Message: err.Error()}
	case errors.Is(err, engine.ErrFlagResolved):
		return http.StatusConflict, ErrorResponse{Code: CodeFlagResolved, Title: "Flag already resolved", Message: err.Error()}

	case errors.Is(err, balance.ErrInsufficientBalance):
		resp := ErrorResponse{Code: CodeInsufficientFunds, Title: "Insufficient balance", Message: err.Error()}
		if g, ok := disbursement.GuardOf(err); ok {
			resp.Guard = string(g)
		}
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, allocation.ErrOverAllocation):
		resp := ErrorResponse{Code: CodeOverAllocation, Title: "Over allocation", Message: err.Error()}
		if g, ok := disbursement.GuardOf(err); ok {
			resp.Guard = string(g)
		}
		return http.StatusConflict, resp
	case errors.Is(err, disbursement.ErrInvalidTransition):
		g, _ := disbursement.GuardOf(err)
		if g == disbursement.GuardState || g == disbursement.GuardSingleResubmission {
			return http.StatusConflict, ErrorResponse{Code: CodeInvalidTransition, Title: "Invalid transition", Message: err.Error(), Guard: string(g)}
		}
		return http.StatusUnprocessableEntity, ErrorResponse{Code: CodeGuardFailed, Title: "Guard failed", Message: err.Error(), Guard: string(g)}

	case errors.Is(err, split.ErrInvalidTransaction):
		return http.StatusUnprocessableEntity, ErrorResponse{Code: CodeInvalidTransaction, Title: "Invalid transaction", Message: err.Error()}
	case errors.Is(err, split.ErrConfigInvariantViolation):
		return http.StatusUnprocessableEntity, ErrorResponse{Code: CodeConfigViolation, Title: "Settings cannot split this transaction", Message: err.Error()}
	case errors.Is(err, disbursement.ErrInvalidRequest),
		errors.Is(err, engine.ErrReasonRequired),
		errors.Is(err, settings.ErrInvalidSettings):
		return http.StatusUnprocessableEntity, ErrorResponse{Code: CodeInvalidRequest, Title: "Invalid request", Message: err.Error()}

	case errors.Is(err, settings.ErrNoSnapshot):
		return http.StatusServiceUnavailable, ErrorResponse{Code: CodeSettingsMissing, Title: "Settings unavailable", Message: err.Error()}
	case pg.IsTransient(err):
		return http.StatusServiceUnavailable, ErrorResponse{Code: CodeStorageUnavailable, Title: "Storage unavailable", Message: pg.UserMessage(err)}
	}
	return http.StatusInternalServerError, ErrorResponse{Code: CodeInternal, Title: "Internal error", Message: "An internal error occurred."}
}
