package handlers

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/feedboard/backend/internal/repo"
)

// integrationView is the API shape of an integration. The stored API key never leaves the server.
type integrationView struct {
	ID                  uuid.UUID              `json:"id"`
	TenantID            int64                  `json:"tenantId"`
	Type                string                 `json:"type"`
	Name                string                 `json:"name"`
	Enabled             bool                   `json:"enabled"`
	Config              repo.IntegrationConfig `json:"config"`
	HasAPIKey           bool                   `json:"hasApiKey"`
	SyncIntervalMinutes *int32                 `json:"syncIntervalMinutes"`
	LastSyncAt          *time.Time             `json:"lastSyncAt"`
	CreatedAt           time.Time              `json:"createdAt"`
	UpdatedAt           time.Time              `json:"updatedAt"`
}

func newIntegrationView(integration repo.Integration) integrationView {
	config := integration.Config
	hasKey := config.APIKey != ""
	config.APIKey = ""

	view := integrationView{
		ID:         integration.ID,
		TenantID:   integration.TenantID,
		Type:       integration.Type,
		Name:       integration.Name,
		Enabled:    integration.Enabled,
		Config:     config,
		HasAPIKey:  hasKey,
		LastSyncAt: timePtr(integration.LastSyncAt),
		CreatedAt:  integration.CreatedAt,
		UpdatedAt:  integration.UpdatedAt,
	}
	if integration.SyncIntervalMinutes.Valid {
		minutes := integration.SyncIntervalMinutes.Int32
		view.SyncIntervalMinutes = &minutes
	}
	return view
}

type mappingView struct {
	ID              uuid.UUID  `json:"id"`
	IntegrationID   uuid.UUID  `json:"integrationId"`
	LocalType       string     `json:"localType"`
	LocalID         int64      `json:"localId"`
	RemoteID        string     `json:"remoteId"`
	RemoteURL       *string    `json:"remoteUrl"`
	SyncStatus      string     `json:"syncStatus"`
	OriginDirection string     `json:"originDirection"`
	LastSyncAt      *time.Time `json:"lastSyncAt"`
	LastError       *string    `json:"lastError"`
}

func newMappingView(mapping repo.IntegrationMapping) mappingView {
	return mappingView{
		ID:              mapping.ID,
		IntegrationID:   mapping.IntegrationID,
		LocalType:       mapping.LocalType,
		LocalID:         mapping.LocalID,
		RemoteID:        mapping.RemoteID,
		RemoteURL:       stringPtr(mapping.RemoteURL),
		SyncStatus:      mapping.SyncStatus,
		OriginDirection: mapping.OriginDirection,
		LastSyncAt:      timePtr(mapping.LastSyncAt),
		LastError:       stringPtr(mapping.LastError),
	}
}

type syncLogView struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"runId"`
	Kind      string    `json:"kind"`
	Direction string    `json:"direction"`
	Status    string    `json:"status"`
	LocalID   *int64    `json:"localId"`
	RemoteID  *string   `json:"remoteId"`
	Message   *string   `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

func newSyncLogView(entry repo.SyncLogEntry) syncLogView {
	view := syncLogView{
		ID:        entry.ID,
		RunID:     entry.RunID,
		Kind:      entry.Kind,
		Direction: entry.Direction,
		Status:    entry.Status,
		RemoteID:  stringPtr(entry.RemoteID),
		Message:   stringPtr(entry.Message),
		CreatedAt: entry.CreatedAt,
	}
	if entry.LocalID.Valid {
		id := entry.LocalID.Int64
		view.LocalID = &id
	}
	return view
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
