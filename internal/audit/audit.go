package audit

import (
	"encoding/json"
	"time"
)

// Record is the write-once projection of a terminal invocation. The gate
// emits exactly one record per invocation and retains nothing afterwards.
type Record struct {
	Timestamp     time.Time       `json:"timestamp"`
	InvocationID  string          `json:"invocation_id"`
	ExternalIDs   []string        `json:"external_ids,omitempty"`
	SessionID     string          `json:"session_id"`
	ModelID       string          `json:"model_id,omitempty"`
	Tool          string          `json:"tool"`
	Arguments     json.RawMessage `json:"arguments,omitempty"`
	Decision      string          `json:"decision"`
	Status        string          `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	ResolvedBy    string          `json:"resolved_by,omitempty"`
	SafetyVerdict string          `json:"safety_verdict,omitempty"`
	Duration      time.Duration   `json:"duration"`
}

// Filter narrows a Query.
type Filter struct {
	SessionID string
	Tool      string
	Status    string
	StartTime time.Time
	EndTime   time.Time
}
