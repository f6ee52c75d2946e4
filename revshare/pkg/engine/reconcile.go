package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ziswaf/revshare/revshare/pkg/ledger"
	"github.com/ziswaf/revshare/revshare/pkg/money"
	"github.com/ziswaf/revshare/revshare/pkg/party"
)

const reconcilePageSize = 500

// Drift is a party whose running balance disagrees with its ledger shares
// and allocations.
type Drift struct {
	Party             party.Ref    `json:"party"`
	CurrentBalance    money.Amount `json:"current_balance"`
	ExpectedBalance   money.Amount `json:"expected_balance"`
	TotalEarned       money.Amount `json:"total_earned"`
	ExpectedEarned    money.Amount `json:"expected_earned"`
	TotalWithdrawn    money.Amount `json:"total_withdrawn"`
	ExpectedWithdrawn money.Amount `json:"expected_withdrawn"`
}

// RecordIssue is a stored record that fails a conservation check.
type RecordIssue struct {
	TransactionID string      `json:"transaction_id"`
	Kind          ledger.Kind `json:"kind"`
	Problem       string      `json:"problem"`
}

type ReconcileReport struct {
	PartiesChecked int           `json:"parties_checked"`
	RecordsChecked int           `json:"records_checked"`
	Drifts         []Drift       `json:"drifts"`
	Records        []RecordIssue `json:"records"`
}

func (r ReconcileReport) Clean() bool { return len(r.Drifts) == 0 && len(r.Records) == 0 }

// Reconcile recomputes every party balance from ledger shares and allocation
// items, and rechecks conservation of every stored record. It only reads.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	rows, err := e.cfg.DB.Query(ctx, `
		WITH earned AS (
			SELECT party_type, party_id, SUM(amount) AS amount
			FROM revenue_share_party_shares GROUP BY party_type, party_id
		), withdrawn AS (
			SELECT sh.party_type, sh.party_id, SUM(a.amount) AS amount
			FROM disbursement_allocation_items a
			JOIN revenue_share_party_shares sh ON sh.record_id = a.record_id AND sh.party_type = a.party_type
			GROUP BY sh.party_type, sh.party_id
		), parties AS (
			SELECT party_type, party_id FROM party_balances
			UNION SELECT party_type, party_id FROM earned
		)
		SELECT p.party_type, p.party_id,
			COALESCE(b.current_balance, 0), COALESCE(b.total_earned, 0), COALESCE(b.total_withdrawn, 0),
			COALESCE(e.amount, 0), COALESCE(w.amount, 0)
		FROM parties p
		LEFT JOIN party_balances b ON b.party_type = p.party_type AND b.party_id = p.party_id
		LEFT JOIN earned e ON e.party_type = p.party_type AND e.party_id = p.party_id
		LEFT JOIN withdrawn w ON w.party_type = p.party_type AND w.party_id = p.party_id
		ORDER BY p.party_type, p.party_id`)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("failed to reconcile balances: %w", err)
	}
	checked, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Drift, error) {
		var d Drift
		err := row.Scan(&d.Party.Type, &d.Party.ID, &d.CurrentBalance, &d.TotalEarned, &d.TotalWithdrawn,
			&d.ExpectedEarned, &d.ExpectedWithdrawn)
		d.ExpectedBalance = d.ExpectedEarned - d.ExpectedWithdrawn
		return d, err
	})
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("failed to scan balances: %w", err)
	}
	report.PartiesChecked = len(checked)
	for _, d := range checked {
		if d.CurrentBalance != d.ExpectedBalance || d.TotalEarned != d.ExpectedEarned || d.TotalWithdrawn != d.ExpectedWithdrawn {
			report.Drifts = append(report.Drifts, d)
		}
	}

	parties := e.ledger.Parties()
	for offset := 0; ; offset += reconcilePageSize {
		records, err := e.ledger.List(ctx, e.cfg.DB, ledger.Filter{Limit: reconcilePageSize, Offset: offset})
		if err != nil {
			return ReconcileReport{}, err
		}
		for _, rec := range records {
			report.RecordsChecked++
			if issue, ok := checkRecord(rec, parties); !ok {
				report.Records = append(report.Records, issue)
			}
		}
		if len(records) < reconcilePageSize {
			break
		}
	}

	if report.Clean() {
		e.log.Info("engine: reconcile clean", "parties", report.PartiesChecked, "records", report.RecordsChecked)
	} else {
		e.log.Warn("engine: reconcile found drift", "drifts", len(report.Drifts), "records", len(report.Records))
	}
	return report, nil
}

func checkRecord(rec ledger.Record, parties ledger.Parties) (RecordIssue, bool) {
	issue := RecordIssue{TransactionID: rec.Transaction.ID, Kind: rec.Kind}

	result := rec.Result
	sign := money.Amount(1)
	if rec.Kind == ledger.KindReversal {
		result = result.Negate()
		sign = -1
	}
	if !result.Conserved(rec.Transaction.Amount) {
		issue.Problem = fmt.Sprintf("formula %s does not account for amount %s", result.Formula, rec.Transaction.Amount)
		return issue, false
	}

	want := map[party.Ref]money.Amount{}
	for _, sh := range ledger.SharesFor(rec.Transaction, result, recordParties(rec, parties)) {
		want[sh.Party] += sign * sh.Amount
	}
	got := map[party.Ref]money.Amount{}
	for _, sh := range rec.Shares {
		got[sh.Party] += sh.Amount
	}
	if len(want) != len(got) {
		issue.Problem = fmt.Sprintf("stored %d party shares, expected %d", len(got), len(want))
		return issue, false
	}
	for ref, amount := range want {
		if got[ref] != amount {
			issue.Problem = fmt.Sprintf("share for %s is %s, expected %s", ref, got[ref], amount)
			return issue, false
		}
	}
	return RecordIssue{}, true
}

// recordParties returns the amil and developer accounts the record was
// credited to, so a later change of the configured ids is not drift.
func recordParties(rec ledger.Record, fallback ledger.Parties) ledger.Parties {
	p := fallback
	for _, sh := range rec.Shares {
		switch sh.Party.Type {
		case party.Amil:
			p.AmilID = sh.Party.ID
		case party.Developer:
			p.DeveloperID = sh.Party.ID
		}
	}
	return p
}
