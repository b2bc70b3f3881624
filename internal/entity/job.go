package entity

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Job is one pipeline invocation: created by the dispatch gateway, consumed
// exactly once by the orchestrator, discarded after the receipt reaches a
// terminal status. It carries no state beyond its creation payload.
type Job struct {
	ReceiptID  uuid.UUID         `json:"receipt_id"`
	StorageKey string            `json:"storage_key"`
	UserID     uuid.UUID         `json:"user_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Reprocess  bool              `json:"reprocess,omitempty"`
}

// Marshal serializes the job for the broker transport.
func (j Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// UnmarshalJob decodes a broker payload back into a Job. The payload must
// round-trip exactly through enqueue/dequeue.
func UnmarshalJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, err
	}
	return j, nil
}
