// Package events defines sync constants and notification payloads for the Feedboard integration engine
package events

import "time"

// Integration kinds
const (
	IntegrationTypeNotion = "notion"
)

// Configured sync direction of an integration
const (
	SyncDirectionInbound       = "inbound"
	SyncDirectionOutbound      = "outbound"
	SyncDirectionBidirectional = "bidirectional"
)

// Origin direction of a mapping (which side created it)
const (
	OriginInbound  = "inbound"
	OriginOutbound = "outbound"
)

// Mapping sync status values
const (
	MappingStatusSynced   = "SYNCED"
	MappingStatusConflict = "CONFLICT"
	MappingStatusError    = "ERROR"
	MappingStatusSkipped  = "SKIPPED"
)

// Sync log direction values
const (
	LogDirectionInbound  = "INBOUND"
	LogDirectionOutbound = "OUTBOUND"
)

// Sync log status values
const (
	LogStatusSuccess  = "SUCCESS"
	LogStatusError    = "ERROR"
	LogStatusSkipped  = "SKIPPED"
	LogStatusConflict = "CONFLICT"
)

// Sync log entry kinds
const (
	LogKindItem = "item" // One per-entity attempt
	LogKindRun  = "run"  // One per executed pass
)

// Local entity types that can be mapped
const (
	LocalTypePost = "post"
)

// Conflict resolutions
const (
	ResolutionLocal  = "local"
	ResolutionRemote = "remote"
)

// Post approval states
const (
	ApprovalStatusApproved = "APPROVED"
	ApprovalStatusPending  = "PENDING"
)

// Notification types
const (
	TypeSyncCompleted = "integration.sync.completed"
)

// SyncCompletedPayload is published after a sync run finishes
type SyncCompletedPayload struct {
	Type          string    `json:"type"`
	IntegrationID string    `json:"integration_id"`
	TenantID      int64     `json:"tenant_id"`
	RunID         string    `json:"run_id"`
	Direction     string    `json:"direction"`
	Synced        int       `json:"synced"`
	Errors        int       `json:"errors"`
	Conflicts     int       `json:"conflicts"`
	Skipped       int       `json:"skipped"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// IntegrationSubject returns the NATS subject notifications for an integration are published on
func IntegrationSubject(integrationID string) string {
	return "notify.integration." + integrationID
}

// IsValidSyncDirection reports whether d is a configurable sync direction
func IsValidSyncDirection(d string) bool {
	switch d {
	case SyncDirectionInbound, SyncDirectionOutbound, SyncDirectionBidirectional:
		return true
	}
	return false
}
