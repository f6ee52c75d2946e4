package outbox

// Revenue-share events carry the ledger record as their payload.

type TransactionDeferred struct {
	TransactionID   string `json:"transaction_id"`
	Rule            string `json:"rule"`
	Detail          string `json:"detail"`
	SnapshotVersion int64  `json:"snapshot_version"`
	Attempts        int    `json:"attempts"`
}

type ReconciliationFlagged struct {
	FlagID        string `json:"flag_id"`
	TransactionID string `json:"transaction_id"`
	Kind          string `json:"kind"`
	Detail        string `json:"detail"`
}

type DisbursementTransitioned struct {
	DisbursementID string `json:"disbursement_id"`
	Type           string `json:"type"`
	Category       string `json:"category"`
	PartyType      string `json:"party_type,omitempty"`
	PartyID        string `json:"party_id,omitempty"`
	Action         string `json:"action"`
	From           string `json:"from_status,omitempty"`
	To             string `json:"to_status"`
	Actor          string `json:"actor_id"`
	Amount         int64  `json:"amount"`
	Note           string `json:"note,omitempty"`
}
