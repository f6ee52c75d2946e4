package disbursement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/ziswaf/revshare/revshare/pkg/allocation"
	"github.com/ziswaf/revshare/revshare/pkg/balance"
	"github.com/ziswaf/revshare/revshare/pkg/metrics"
	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/outbox"
	"github.com/ziswaf/revshare/revshare/pkg/party"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
	"github.com/ziswaf/revshare/revshare/pkg/proof"
)

// ProofVerifier confirms that a payment proof reference exists.
type ProofVerifier interface {
	Verify(ctx context.Context, ref string) error
}

type WorkflowConfig struct {
	Logger      *slog.Logger
	Clock       clockwork.Clock
	DB          pg.DB
	Balances    *balance.Store
	Allocations *allocation.Store
	// Proofs is optional; without it any non-empty reference is accepted.
	Proofs ProofVerifier
}

func (cfg *WorkflowConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	if cfg.Balances == nil {
		return errors.New("balance store is required")
	}
	if cfg.Allocations == nil {
		return errors.New("allocation store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Workflow persists the state machine. Every action runs in one database
// transaction holding the request row lock, and for revenue-share requests
// also the party balance row lock.
type Workflow struct {
	log *slog.Logger
	cfg WorkflowConfig
}

func NewWorkflow(cfg WorkflowConfig) (*Workflow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Workflow{log: cfg.Logger, cfg: cfg}, nil
}

type CreateRequest struct {
	Type        Type         `json:"type"`
	Category    Category     `json:"category"`
	Party       party.Ref    `json:"party"`
	Recipient   string       `json:"recipient"`
	Amount      money.Amount `json:"amount"`
	RequesterID string       `json:"-"`
	Note        string       `json:"note"`
}

type PayRequest struct {
	ProofReference string       `json:"proof_reference"`
	TransferDate   time.Time    `json:"transfer_date"`
	Amount         money.Amount `json:"amount"`
	Note           string       `json:"note"`
}

// Create opens a draft.
func (w *Workflow) Create(ctx context.Context, req CreateRequest) (Disbursement, error) {
	t, err := ParseType(string(req.Type))
	if err != nil {
		return Disbursement{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.RequesterID) == "" {
		return Disbursement{}, fmt.Errorf("%w: requester is required", ErrInvalidRequest)
	}
	if req.Amount < 0 {
		return Disbursement{}, fmt.Errorf("%w: amount must not be negative", ErrInvalidRequest)
	}
	if t == TypeRevenueShare || req.Party != (party.Ref{}) {
		if err := req.Party.Validate(); err != nil {
			return Disbursement{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	category, err := ResolveCategory(t, req.Category, req.Party)
	if err != nil {
		return Disbursement{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := w.cfg.Clock.Now().UTC()
	d := Disbursement{
		ID:              uuid.New(),
		Type:            t,
		Category:        category,
		Party:           req.Party,
		Recipient:       strings.TrimSpace(req.Recipient),
		RequestedAmount: req.Amount,
		Status:          StatusDraft,
		RequesterID:     req.RequesterID,
		Note:            req.Note,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = pg.WithTx(ctx, w.cfg.DB, func(tx pgx.Tx) error {
		if err := insert(ctx, tx, d); err != nil {
			return err
		}
		return w.record(ctx, tx, d, ActionCreate, "", req.RequesterID, req.Note, now)
	})
	if err != nil {
		metrics.DisbursementTransitionsTotal.WithLabelValues(string(ActionCreate), "error").Inc()
		return Disbursement{}, err
	}
	metrics.DisbursementTransitionsTotal.WithLabelValues(string(ActionCreate), "ok").Inc()
	w.log.Info("disbursement: created", "disbursement_id", d.ID, "type", d.Type, "party", d.Party.String(), "amount", d.RequestedAmount)
	return d, nil
}

func (w *Workflow) Get(ctx context.Context, id uuid.UUID) (Disbursement, error) {
	return get(ctx, w.cfg.DB, id, false)
}

func (w *Workflow) List(ctx context.Context, f Filter) ([]Disbursement, error) {
	return list(ctx, w.cfg.DB, f)
}

// Events returns the audit trail, oldest first.
func (w *Workflow) Events(ctx context.Context, id uuid.UUID) ([]Event, error) {
	return events(ctx, w.cfg.DB, id)
}

// Allocations returns the ledger shares a paid request consumed.
func (w *Workflow) Allocations(ctx context.Context, id uuid.UUID) ([]allocation.Item, error) {
	return w.cfg.Allocations.ForDisbursement(ctx, w.cfg.DB, id)
}

func (w *Workflow) Submit(ctx context.Context, id uuid.UUID, actor string) (Disbursement, error) {
	return w.transition(ctx, id, ActionSubmit, Input{Actor: actor})
}

func (w *Workflow) Approve(ctx context.Context, id uuid.UUID, actor, note string) (Disbursement, error) {
	return w.transition(ctx, id, ActionApprove, Input{Actor: actor, Note: note})
}

func (w *Workflow) Reject(ctx context.Context, id uuid.UUID, actor, reason string) (Disbursement, error) {
	return w.transition(ctx, id, ActionReject, Input{Actor: actor, Reason: reason, Note: reason})
}

// Pay marks an approved request paid. For revenue-share requests it debits
// the party balance and allocates the payout to the party's oldest open
// shares in the same transaction.
func (w *Workflow) Pay(ctx context.Context, id uuid.UUID, actor string, req PayRequest) (Disbursement, error) {
	return w.transition(ctx, id, ActionPay, Input{
		Actor:          actor,
		Note:           req.Note,
		ProofReference: req.ProofReference,
		TransferDate:   req.TransferDate,
		PaidAmount:     req.Amount,
	})
}

// Recall pulls a submitted request back to draft, releasing its hold.
func (w *Workflow) Recall(ctx context.Context, id uuid.UUID, actor string) (Disbursement, error) {
	return w.transition(ctx, id, ActionRecall, Input{Actor: actor})
}

// Resubmit opens a new draft linked to a rejected request. amount replaces
// the original amount when positive.
func (w *Workflow) Resubmit(ctx context.Context, id uuid.UUID, actor string, amount money.Amount, note string) (Disbursement, error) {
	return w.transition(ctx, id, ActionResubmit, Input{Actor: actor, Amount: amount, Note: note})
}

func (w *Workflow) transition(ctx context.Context, id uuid.UUID, a Action, in Input) (out Disbursement, err error) {
	start := time.Now()
	defer func() {
		metrics.UnitOfWorkDuration.WithLabelValues("disbursement_" + string(a)).Observe(time.Since(start).Seconds())
		outcome := "ok"
		if g, ok := GuardOf(err); ok {
			outcome = string(g)
		} else if err != nil {
			outcome = "error"
		}
		metrics.DisbursementTransitionsTotal.WithLabelValues(string(a), outcome).Inc()
	}()

	if a == ActionPay {
		if err := w.verifyProof(ctx, id, in.ProofReference); err != nil {
			return Disbursement{}, err
		}
	}

	err = pg.WithTx(ctx, w.cfg.DB, func(tx pgx.Tx) error {
		now := w.cfg.Clock.Now().UTC()
		d, err := get(ctx, tx, id, true)
		if err != nil {
			return err
		}

		if d.IsRevenueShare() && (a == ActionSubmit || a == ActionApprove || a == ActionPay) && d.Status != StatusPaid {
			if err := w.cfg.Balances.Lock(ctx, tx, d.Party); err != nil {
				return err
			}
			avail, err := w.cfg.Balances.Available(ctx, tx, d.Party, d.ID)
			if err != nil {
				return err
			}
			in.Available = &avail
		}
		if a == ActionResubmit {
			if in.Resubmitted, err = hasSuccessor(ctx, tx, d.ID); err != nil {
				return err
			}
		}

		next, err := Apply(d, a, in, now)
		if err != nil {
			return err
		}

		if a == ActionResubmit {
			next.ID = uuid.New()
			if err := insert(ctx, tx, next); err != nil {
				if pg.IsUniqueViolation(err, "disbursements_previous_key") {
					return &TransitionError{Action: a, From: d.Status, Guard: GuardSingleResubmission, Reason: "request was already resubmitted", Err: err}
				}
				return err
			}
			if err := insertEvent(ctx, tx, Event{
				ID: uuid.New(), DisbursementID: d.ID, Action: ActionResubmit, From: d.Status, To: d.Status,
				ActorID: in.Actor, Note: "resubmitted as " + next.ID.String(), CreatedAt: now,
			}); err != nil {
				return err
			}
			out = next
			return w.record(ctx, tx, next, ActionCreate, "", in.Actor, "resubmission of "+d.ID.String(), now)
		}

		if a == ActionPay && d.IsRevenueShare() {
			if err := w.settle(ctx, tx, d); err != nil {
				return err
			}
		}

		if err := update(ctx, tx, next, d.Status); err != nil {
			return err
		}
		out = next
		return w.record(ctx, tx, next, a, d.Status, in.Actor, in.Note, now)
	})
	if err != nil {
		if _, ok := GuardOf(err); ok {
			w.log.Info("disbursement: transition refused", "disbursement_id", id, "action", a, "error", err)
		} else if !errors.Is(err, ErrNotFound) {
			w.log.Error("disbursement: transition failed", "disbursement_id", id, "action", a, "error", err)
		}
		return Disbursement{}, err
	}

	if a == ActionPay {
		metrics.DisbursementPaidAmountTotal.WithLabelValues(string(out.Type)).Add(float64(out.PaidAmount))
	}
	w.log.Info("disbursement: transitioned", "disbursement_id", out.ID, "action", a, "status", out.Status, "actor", in.Actor)
	return out, nil
}

// settle debits the party and ties the payout to ledger shares.
func (w *Workflow) settle(ctx context.Context, tx pgx.Tx, d Disbursement) error {
	if _, err := w.cfg.Balances.Debit(ctx, tx, d.Party, d.RequestedAmount, balance.ReasonDisbursement, d.ID.String()); err != nil {
		if errors.Is(err, balance.ErrInsufficientBalance) {
			return &TransitionError{Action: ActionPay, From: d.Status, Guard: GuardAvailableBalance, Reason: err.Error(), Err: err}
		}
		return err
	}
	if _, err := w.cfg.Allocations.AllocateFIFO(ctx, tx, d.ID, d.Party, d.RequestedAmount); err != nil {
		if errors.Is(err, allocation.ErrOverAllocation) {
			return &TransitionError{Action: ActionPay, From: d.Status, Guard: GuardAllocationAvailable, Reason: err.Error(), Err: err}
		}
		return err
	}
	return nil
}

// verifyProof checks the object store before any lock is taken. Requests that
// are not approved skip the check and fail on the state guard instead.
func (w *Workflow) verifyProof(ctx context.Context, id uuid.UUID, ref string) error {
	if w.cfg.Proofs == nil || strings.TrimSpace(ref) == "" {
		return nil
	}
	d, err := get(ctx, w.cfg.DB, id, false)
	if err != nil {
		return err
	}
	if d.Status != StatusApproved {
		return nil
	}
	if err := w.cfg.Proofs.Verify(ctx, ref); err != nil {
		if errors.Is(err, proof.ErrProofNotFound) || errors.Is(err, proof.ErrProofInvalid) {
			return &TransitionError{Action: ActionPay, From: d.Status, Guard: GuardProofExists, Reason: err.Error(), Err: err}
		}
		return fmt.Errorf("failed to verify payment proof: %w", err)
	}
	return nil
}

// record appends the audit event and the outbox notification.
func (w *Workflow) record(ctx context.Context, tx pgx.Tx, d Disbursement, a Action, from Status, actor, note string, now time.Time) error {
	if err := insertEvent(ctx, tx, Event{
		ID: uuid.New(), DisbursementID: d.ID, Action: a, From: from, To: d.Status,
		ActorID: actor, Note: note, CreatedAt: now,
	}); err != nil {
		return err
	}
	return outbox.Publish(ctx, tx, outbox.EventDisbursementTransitioned, d.ID.String(), outbox.DisbursementTransitioned{
		DisbursementID: d.ID.String(),
		Type:           string(d.Type),
		Category:       string(d.Category),
		PartyType:      string(d.Party.Type),
		PartyID:        d.Party.ID,
		Action:         string(a),
		From:           string(from),
		To:             string(d.Status),
		Actor:          actor,
		Amount:         int64(d.RequestedAmount),
		Note:           note,
	}, now)
}
