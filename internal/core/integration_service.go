package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedboard/backend/internal/provider"
	"github.com/feedboard/backend/internal/repo"
	"github.com/feedboard/backend/pkg/events"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// CreateIntegrationInput is a new integration with a plaintext API key
type CreateIntegrationInput struct {
	TenantID            int64                  `json:"-"`
	Type                string                 `json:"type"`
	Name                string                 `json:"name"`
	Enabled             *bool                  `json:"enabled"`
	Config              repo.IntegrationConfig `json:"config"`
	SyncIntervalMinutes *int32                 `json:"syncIntervalMinutes"`
}

// ConfigPatch carries the config sub-fields an update supplies
type ConfigPatch struct {
	APIKey             Field[string]               `json:"apiKey"`
	RemoteDatabaseID   Field[string]               `json:"remoteDatabaseId"`
	RemoteDatabaseName Field[string]               `json:"remoteDatabaseName"`
	PropertyMapping    Field[repo.PropertyMapping] `json:"propertyMapping"`
	StatusMapping      Field[repo.OptionMapping]   `json:"statusMapping"`
	BoardMapping       Field[repo.OptionMapping]   `json:"boardMapping"`
	SyncDirection      Field[string]               `json:"syncDirection"`
}

// UpdateIntegrationInput is a partial update; omitted fields keep their stored value
type UpdateIntegrationInput struct {
	Name                Field[string] `json:"name"`
	Enabled             Field[bool]   `json:"enabled"`
	SyncIntervalMinutes Field[*int32] `json:"syncIntervalMinutes"`
	Config              ConfigPatch   `json:"config"`
}

// DeleteResult reports what an integration delete removed
type DeleteResult struct {
	DeletedPostCount int `json:"deletedPostCount"`
}

// IntegrationService manages integration configurations
type IntegrationService struct {
	integrationRepo repo.IntegrationRepository
	mappingRepo     repo.IntegrationMappingRepository
	syncLogRepo     repo.SyncLogRepository
	postRepo        repo.PostRepository
	providers       ProviderFactory
	vault           CredentialVault
	validator       *ConfigValidator
	logger          *zap.Logger
}

// NewIntegrationService creates a new integration service
func NewIntegrationService(repos Repositories, providers ProviderFactory, vault CredentialVault, validator *ConfigValidator, logger *zap.Logger) *IntegrationService {
	return &IntegrationService{
		integrationRepo: repos.Integrations,
		mappingRepo:     repos.Mappings,
		syncLogRepo:     repos.SyncLogs,
		postRepo:        repos.Posts,
		providers:       providers,
		vault:           vault,
		validator:       validator,
		logger:          logger.Named("integration_service"),
	}
}

// CreateIntegration stores a new integration once its credentials pass a connection test
func (s *IntegrationService) CreateIntegration(ctx context.Context, input CreateIntegrationInput) (repo.Integration, error) {
	s.logger.Debug("Creating integration",
		zap.Int64("tenant_id", input.TenantID),
		zap.String("type", input.Type),
		zap.String("name", input.Name))

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return repo.Integration{}, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if err := validateInterval(input.SyncIntervalMinutes); err != nil {
		return repo.Integration{}, err
	}
	if err := s.validator.Validate(input.Config); err != nil {
		return repo.Integration{}, err
	}

	apiKey := input.Config.APIKey
	p, err := s.providers.New(input.Type, providerConfig(input.Config, apiKey))
	if err != nil {
		if errors.Is(err, provider.ErrUnknownProvider) {
			return repo.Integration{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return repo.Integration{}, fmt.Errorf("failed to create provider: %w", err)
	}

	test := p.TestConnection(ctx, apiKey)
	if !test.Success {
		s.logger.Info("Connection test failed",
			zap.Int64("tenant_id", input.TenantID),
			zap.String("type", input.Type),
			zap.String("reason", test.Error))
		return repo.Integration{}, &ConnectionTestError{Reason: test.Error}
	}

	cfg := input.Config
	cfg.APIKey, err = s.vault.Encrypt(apiKey)
	if err != nil {
		return repo.Integration{}, fmt.Errorf("failed to encrypt api key: %w", err)
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	integration, err := s.integrationRepo.Create(ctx, repo.CreateIntegrationParams{
		TenantID:            input.TenantID,
		Type:                input.Type,
		Name:                name,
		Enabled:             enabled,
		Config:              cfg,
		SyncIntervalMinutes: nullInt32(input.SyncIntervalMinutes),
	})
	if err != nil {
		s.logger.Error("Failed to create integration", zap.Error(err))
		return repo.Integration{}, fmt.Errorf("failed to create integration: %w", err)
	}

	s.logger.Info("Integration created",
		zap.String("integration_id", integration.ID.String()),
		zap.Int64("tenant_id", integration.TenantID),
		zap.String("identity", test.Identity))

	return integration, nil
}

// UpdateIntegration merges the supplied fields into the stored integration.
// A plaintext API key is encrypted; a value that already looks like ciphertext is stored as is.
func (s *IntegrationService) UpdateIntegration(ctx context.Context, id uuid.UUID, tenantID int64, input UpdateIntegrationInput) (repo.Integration, error) {
	existing, err := s.GetIntegration(ctx, id, tenantID)
	if err != nil {
		return repo.Integration{}, err
	}

	name := existing.Name
	if input.Name.Present {
		name = strings.TrimSpace(input.Name.Value)
		if name == "" {
			return repo.Integration{}, fmt.Errorf("%w: name is required", ErrInvalidConfig)
		}
	}

	interval := existing.SyncIntervalMinutes
	if input.SyncIntervalMinutes.Present {
		if err := validateInterval(input.SyncIntervalMinutes.Value); err != nil {
			return repo.Integration{}, err
		}
		interval = nullInt32(input.SyncIntervalMinutes.Value)
	}

	cfg, err := s.mergeConfig(existing.Config, input.Config)
	if err != nil {
		return repo.Integration{}, err
	}

	integration, err := s.integrationRepo.Update(ctx, repo.UpdateIntegrationParams{
		ID:                  id,
		Name:                name,
		Enabled:             input.Enabled.Or(existing.Enabled),
		Config:              cfg,
		SyncIntervalMinutes: interval,
	})
	if err != nil {
		s.logger.Error("Failed to update integration", zap.Error(err))
		return repo.Integration{}, fmt.Errorf("failed to update integration: %w", err)
	}

	s.logger.Info("Integration updated", zap.String("integration_id", id.String()))
	return integration, nil
}

func (s *IntegrationService) mergeConfig(cfg repo.IntegrationConfig, patch ConfigPatch) (repo.IntegrationConfig, error) {
	if patch.APIKey.Present {
		key := patch.APIKey.Value
		if !s.vault.LooksEncrypted(key) {
			if strings.TrimSpace(key) == "" {
				return repo.IntegrationConfig{}, fmt.Errorf("%w: apiKey must not be empty", ErrInvalidConfig)
			}
			encrypted, err := s.vault.Encrypt(key)
			if err != nil {
				return repo.IntegrationConfig{}, fmt.Errorf("failed to encrypt api key: %w", err)
			}
			key = encrypted
		}
		cfg.APIKey = key
	}
	cfg.RemoteDatabaseID = patch.RemoteDatabaseID.Or(cfg.RemoteDatabaseID)
	cfg.RemoteDatabaseName = patch.RemoteDatabaseName.Or(cfg.RemoteDatabaseName)
	cfg.PropertyMapping = patch.PropertyMapping.Or(cfg.PropertyMapping)
	cfg.StatusMapping = patch.StatusMapping.Or(cfg.StatusMapping)
	cfg.BoardMapping = patch.BoardMapping.Or(cfg.BoardMapping)
	cfg.SyncDirection = patch.SyncDirection.Or(cfg.SyncDirection)

	if err := s.validator.Validate(cfg); err != nil {
		return repo.IntegrationConfig{}, err
	}
	return cfg, nil
}

// DeleteIntegration removes the integration with its mappings and logs.
// With cleanupInboundPosts, posts created from the remote side are deleted first, each on a best-effort basis.
func (s *IntegrationService) DeleteIntegration(ctx context.Context, id uuid.UUID, tenantID int64, cleanupInboundPosts bool) (DeleteResult, error) {
	if _, err := s.GetIntegration(ctx, id, tenantID); err != nil {
		return DeleteResult{}, err
	}

	var result DeleteResult
	if cleanupInboundPosts {
		postIDs, err := s.mappingRepo.FindInboundPostIDsForIntegration(ctx, id)
		if err != nil {
			return DeleteResult{}, fmt.Errorf("failed to list inbound posts: %w", err)
		}
		for _, postID := range postIDs {
			if err := s.postRepo.Delete(ctx, tenantID, postID); err != nil {
				s.logger.Warn("Failed to delete inbound post",
					zap.String("integration_id", id.String()),
					zap.Int64("post_id", postID),
					zap.Error(err))
				continue
			}
			result.DeletedPostCount++
		}
	}

	if err := s.integrationRepo.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete integration", zap.Error(err))
		return result, fmt.Errorf("failed to delete integration: %w", err)
	}

	s.logger.Info("Integration deleted",
		zap.String("integration_id", id.String()),
		zap.Int("deleted_posts", result.DeletedPostCount))
	return result, nil
}

// GetIntegration retrieves one integration owned by the tenant
func (s *IntegrationService) GetIntegration(ctx context.Context, id uuid.UUID, tenantID int64) (repo.Integration, error) {
	integration, err := s.integrationRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.Integration{}, ErrIntegrationNotFound
		}
		return repo.Integration{}, fmt.Errorf("failed to get integration: %w", err)
	}
	if integration.TenantID != tenantID {
		return repo.Integration{}, ErrIntegrationNotFound
	}
	return integration, nil
}

// ListIntegrations retrieves all integrations of a tenant
func (s *IntegrationService) ListIntegrations(ctx context.Context, tenantID int64) ([]repo.Integration, error) {
	integrations, err := s.integrationRepo.FindAllForTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}

	s.logger.Debug("Retrieved integrations", zap.Int64("tenant_id", tenantID), zap.Int("count", len(integrations)))
	return integrations, nil
}

// TestConnection re-tests the stored credentials of an integration
func (s *IntegrationService) TestConnection(ctx context.Context, id uuid.UUID, tenantID int64) (provider.ConnectionResult, error) {
	integration, err := s.GetIntegration(ctx, id, tenantID)
	if err != nil {
		return provider.ConnectionResult{}, err
	}
	apiKey, err := s.vault.Decrypt(integration.Config.APIKey)
	if err != nil {
		return provider.ConnectionResult{}, fmt.Errorf("failed to decrypt api key: %w", err)
	}
	p, err := s.providers.New(integration.Type, providerConfig(integration.Config, apiKey))
	if err != nil {
		return provider.ConnectionResult{}, fmt.Errorf("failed to create provider: %w", err)
	}
	return p.TestConnection(ctx, apiKey), nil
}

// ListSyncLogs returns the most recent sync log entries of an integration
func (s *IntegrationService) ListSyncLogs(ctx context.Context, id uuid.UUID, tenantID int64, limit int32) ([]repo.SyncLogEntry, error) {
	if _, err := s.GetIntegration(ctx, id, tenantID); err != nil {
		return nil, err
	}
	entries, err := s.syncLogRepo.FindRecentForIntegration(ctx, id, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	return entries, nil
}

// ListSyncRuns returns the run summaries of an integration, newest first
func (s *IntegrationService) ListSyncRuns(ctx context.Context, id uuid.UUID, tenantID int64, limit int32) ([]repo.SyncLogEntry, error) {
	if _, err := s.GetIntegration(ctx, id, tenantID); err != nil {
		return nil, err
	}
	runs, err := s.syncLogRepo.FindSyncRuns(ctx, id, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	return runs, nil
}

// ListConflicts returns the mappings waiting for manual resolution
func (s *IntegrationService) ListConflicts(ctx context.Context, id uuid.UUID, tenantID int64) ([]repo.IntegrationMapping, error) {
	if _, err := s.GetIntegration(ctx, id, tenantID); err != nil {
		return nil, err
	}
	mappings, err := s.mappingRepo.FindByStatus(ctx, id, events.MappingStatusConflict)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	return mappings, nil
}

func validateInterval(minutes *int32) error {
	if minutes != nil && *minutes <= 0 {
		return fmt.Errorf("%w: syncIntervalMinutes must be positive", ErrInvalidConfig)
	}
	return nil
}

func clampLimit(limit int32) int32 {
	if limit <= 0 {
		return defaultLogLimit
	}
	if limit > maxLogLimit {
		return maxLogLimit
	}
	return limit
}

func nullInt32(v *int32) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: *v, Valid: true}
}
