package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ziswaf/revshare/revshare/pkg/outbox"
)

type OperatorConfig struct {
	Logger *slog.Logger
	// Slack is optional; without it events are only logged and reported.
	Slack    *Slack
	Reporter *Reporter
}

func (cfg *OperatorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Reporter == nil {
		cfg.Reporter = &Reporter{}
	}
	return nil
}

// Operator turns outbox events into operator notifications.
type Operator struct {
	log *slog.Logger
	cfg OperatorConfig
}

func NewOperator(cfg OperatorConfig) (*Operator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Operator{log: cfg.Logger, cfg: cfg}, nil
}

// Register subscribes the operator to the events it handles.
func (o *Operator) Register(r *outbox.Registry) error {
	for eventType, h := range map[string]outbox.Handler{
		outbox.EventTransactionDeferred:      o.handleDeferred,
		outbox.EventReconciliationFlagged:    o.handleFlagged,
		outbox.EventDisbursementTransitioned: o.handleDisbursement,
	} {
		if err := r.Register(eventType, h); err != nil {
			return err
		}
	}
	return nil
}

func (o *Operator) handleDeferred(ctx context.Context, ev outbox.Event) error {
	var p outbox.TransactionDeferred
	if err := ev.Decode(&p); err != nil {
		return err
	}
	o.log.Warn("notify: transaction deferred", "transaction_id", p.TransactionID, "rule", p.Rule, "snapshot_version", p.SnapshotVersion)
	// Only the first deferral is reported; retries would flood Sentry.
	if p.Attempts <= 1 {
		o.cfg.Reporter.Report(fmt.Errorf("%w: transaction %s deferred by rule %s: %s", ErrOperatorAttention, p.TransactionID, p.Rule, p.Detail),
			map[string]string{"event": ev.Type, "rule": p.Rule, "transaction_id": p.TransactionID})
	}
	if o.cfg.Slack == nil {
		return nil
	}
	return o.cfg.Slack.Deferred(ctx, p)
}

func (o *Operator) handleFlagged(ctx context.Context, ev outbox.Event) error {
	var p outbox.ReconciliationFlagged
	if err := ev.Decode(&p); err != nil {
		return err
	}
	o.log.Warn("notify: reconciliation flagged", "transaction_id", p.TransactionID, "kind", p.Kind, "flag_id", p.FlagID)
	o.cfg.Reporter.Report(fmt.Errorf("%w: %s for transaction %s: %s", ErrOperatorAttention, p.Kind, p.TransactionID, p.Detail),
		map[string]string{"event": ev.Type, "kind": p.Kind, "transaction_id": p.TransactionID})
	if o.cfg.Slack == nil {
		return nil
	}
	return o.cfg.Slack.Flagged(ctx, p)
}

func (o *Operator) handleDisbursement(ctx context.Context, ev outbox.Event) error {
	var p outbox.DisbursementTransitioned
	if err := ev.Decode(&p); err != nil {
		return err
	}
	o.log.Info("notify: disbursement transitioned", "disbursement_id", p.DisbursementID, "action", p.Action, "to", p.To)
	if o.cfg.Slack == nil {
		return nil
	}
	return o.cfg.Slack.Disbursement(ctx, p)
}
