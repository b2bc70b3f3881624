package constants

// ReceiptStatus is the canonical processing status for rows in receipts.
type ReceiptStatus string

// Stable values (store these exact strings in DB).
const (
	StatusPending    ReceiptStatus = "pending"    // created, waiting for a pipeline run
	StatusProcessing ReceiptStatus = "processing" // owned by an orchestrator run
	StatusDone       ReceiptStatus = "done"       // terminal success
	StatusError      ReceiptStatus = "error"      // terminal failure (includes duplicates)
)

// IsTerminal reports whether no further automatic transition occurs.
func (s ReceiptStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// CanTransition reports whether the pipeline may move a receipt from one
// status to another. Transitions are one-directional; the only way back is
// an explicit reprocess, which resets a terminal status to pending.
func CanTransition(from, to ReceiptStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusDone || to == StatusError
	case StatusDone, StatusError:
		return to == StatusPending // reprocess reset only
	}
	return false
}
