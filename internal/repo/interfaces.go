package repo

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrUniqueViolation is returned when an insert collides with a unique index
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// LocalRef points a remote select option at a local entity (board or post status)
type LocalRef struct {
	LocalID int64  `json:"localId"`
	Name    string `json:"name,omitempty"`
}

// OptionMapping maps remote option ids to local entities
type OptionMapping map[string]LocalRef

// First returns the entry with the smallest option id
func (m OptionMapping) First() (string, LocalRef, bool) {
	if len(m) == 0 {
		return "", LocalRef{}, false
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0], m[keys[0]], true
}

// LocalIDs returns the distinct local ids referenced by the mapping, in ascending order
func (m OptionMapping) LocalIDs() []int64 {
	seen := make(map[int64]bool, len(m))
	ids := make([]int64, 0, len(m))
	for _, ref := range m {
		if seen[ref.LocalID] {
			continue
		}
		seen[ref.LocalID] = true
		ids = append(ids, ref.LocalID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OptionFor returns the option id pointing at localID; the smallest wins when several do
func (m OptionMapping) OptionFor(localID int64) (string, bool) {
	found := ""
	for option, ref := range m {
		if ref.LocalID != localID {
			continue
		}
		if found == "" || option < found {
			found = option
		}
	}
	return found, found != ""
}

// PropertyMapping names the remote properties that local post fields are written to
type PropertyMapping struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	StatusType  string `json:"statusType,omitempty"` // "select" (default) or "status"
	Board       string `json:"board,omitempty"`
	Tags        string `json:"tags,omitempty"`
	URL         string `json:"url,omitempty"`
	Comments    string `json:"comments,omitempty"`
	Likes       string `json:"likes,omitempty"`
}

// IntegrationConfig is the JSON document stored with an integration
type IntegrationConfig struct {
	APIKey             string          `json:"apiKey"` // ciphertext at rest
	RemoteDatabaseID   string          `json:"remoteDatabaseId"`
	RemoteDatabaseName string          `json:"remoteDatabaseName,omitempty"`
	PropertyMapping    PropertyMapping `json:"propertyMapping"`
	StatusMapping      OptionMapping   `json:"statusMapping"`
	BoardMapping       OptionMapping   `json:"boardMapping"`
	SyncDirection      string          `json:"syncDirection"`
}

// Integration is one configured connection to a remote system for one tenant
type Integration struct {
	ID                  uuid.UUID         `json:"id"`
	TenantID            int64             `json:"tenant_id"`
	Type                string            `json:"type"`
	Name                string            `json:"name"`
	Enabled             bool              `json:"enabled"`
	Config              IntegrationConfig `json:"config"`
	SyncIntervalMinutes sql.NullInt32     `json:"sync_interval_minutes"`
	LastSyncAt          sql.NullTime      `json:"last_sync_at"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// IntegrationMapping links one local entity to one remote entity
type IntegrationMapping struct {
	ID              uuid.UUID      `json:"id"`
	IntegrationID   uuid.UUID      `json:"integration_id"`
	LocalType       string         `json:"local_type"`
	LocalID         int64          `json:"local_id"`
	RemoteID        string         `json:"remote_id"`
	RemoteURL       sql.NullString `json:"remote_url"`
	SyncStatus      string         `json:"sync_status"`
	OriginDirection string         `json:"origin_direction"`
	LastSyncAt      sql.NullTime   `json:"last_sync_at"`
	LastError       sql.NullString `json:"last_error"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// SyncLogEntry is an immutable record of one item attempt or one pass summary
type SyncLogEntry struct {
	ID            uuid.UUID      `json:"id"`
	IntegrationID uuid.UUID      `json:"integration_id"`
	RunID         uuid.UUID      `json:"run_id"`
	Kind          string         `json:"kind"`
	Direction     string         `json:"direction"`
	Status        string         `json:"status"`
	LocalID       sql.NullInt64  `json:"local_id"`
	RemoteID      sql.NullString `json:"remote_id"`
	Message       sql.NullString `json:"message"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Post is the content item owned by the board store
type Post struct {
	ID             int64         `json:"id"`
	TenantID       int64         `json:"tenant_id"`
	BoardID        int64         `json:"board_id"`
	PostStatusID   sql.NullInt64 `json:"post_status_id"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Tags           []string      `json:"tags"`
	ApprovalStatus string        `json:"approval_status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// PostCounts are read-only engagement counters of a post
type PostCounts struct {
	Comments int `json:"comments"`
	Likes    int `json:"likes"`
}

// Repository parameter types
type CreateIntegrationParams struct {
	TenantID            int64
	Type                string
	Name                string
	Enabled             bool
	Config              IntegrationConfig
	SyncIntervalMinutes sql.NullInt32
}

type UpdateIntegrationParams struct {
	ID                  uuid.UUID
	Name                string
	Enabled             bool
	Config              IntegrationConfig
	SyncIntervalMinutes sql.NullInt32
}

type CreateMappingParams struct {
	IntegrationID   uuid.UUID
	LocalType       string
	LocalID         int64
	RemoteID        string
	RemoteURL       sql.NullString
	SyncStatus      string
	OriginDirection string
	LastSyncAt      sql.NullTime
	LastError       sql.NullString
}

type UpdateMappingParams struct {
	ID         uuid.UUID
	RemoteID   string
	RemoteURL  sql.NullString
	SyncStatus string
	LastSyncAt sql.NullTime
	LastError  sql.NullString
}

type CreateSyncLogParams struct {
	IntegrationID uuid.UUID
	RunID         uuid.UUID
	Kind          string
	Direction     string
	Status        string
	LocalID       sql.NullInt64
	RemoteID      sql.NullString
	Message       sql.NullString
}

type CreatePostParams struct {
	TenantID       int64
	BoardID        int64
	PostStatusID   sql.NullInt64
	Title          string
	Description    string
	Tags           []string
	ApprovalStatus string
}

type UpdatePostParams struct {
	ID           int64
	TenantID     int64
	PostStatusID sql.NullInt64
	Title        string
	Description  string
	Tags         []string
}

// Repository interfaces
type IntegrationRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (Integration, error)
	FindAllForTenant(ctx context.Context, tenantID int64) ([]Integration, error)
	FindDue(ctx context.Context, now time.Time) ([]Integration, error)
	Create(ctx context.Context, params CreateIntegrationParams) (Integration, error)
	Update(ctx context.Context, params UpdateIntegrationParams) (Integration, error)
	UpdateLastSyncAt(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type IntegrationMappingRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (IntegrationMapping, error)
	FindByLocalEntity(ctx context.Context, integrationID uuid.UUID, localType string, localID int64) (IntegrationMapping, error)
	FindByRemoteID(ctx context.Context, integrationID uuid.UUID, remoteID string) (IntegrationMapping, error)
	FindInboundPostIDsForIntegration(ctx context.Context, integrationID uuid.UUID) ([]int64, error)
	FindByStatus(ctx context.Context, integrationID uuid.UUID, status string) ([]IntegrationMapping, error)
	Create(ctx context.Context, params CreateMappingParams) (IntegrationMapping, error)
	Update(ctx context.Context, params UpdateMappingParams) (IntegrationMapping, error)
}

type SyncLogRepository interface {
	Create(ctx context.Context, params CreateSyncLogParams) (SyncLogEntry, error)
	FindRecentForIntegration(ctx context.Context, integrationID uuid.UUID, limit int32) ([]SyncLogEntry, error)
	FindSyncRuns(ctx context.Context, integrationID uuid.UUID, limit int32) ([]SyncLogEntry, error)
}

type PostRepository interface {
	FindAllForBoards(ctx context.Context, tenantID int64, boardIDs []int64) ([]Post, error)
	FindByID(ctx context.Context, tenantID, id int64) (Post, error)
	Create(ctx context.Context, params CreatePostParams) (Post, error)
	Update(ctx context.Context, params UpdatePostParams) (Post, error)
	Delete(ctx context.Context, tenantID, id int64) error
	GetPostCounts(ctx context.Context, postID int64) (PostCounts, error)
}

// RunLocker serializes sync runs per integration
type RunLocker interface {
	TryLock(ctx context.Context, integrationID uuid.UUID) (unlock func(), acquired bool, err error)
}
