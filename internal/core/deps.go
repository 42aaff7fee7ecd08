package core

import (
	"context"

	"github.com/feedboard/backend/internal/provider"
	"github.com/feedboard/backend/internal/repo"
	"github.com/feedboard/backend/pkg/events"
)

// CredentialVault encrypts remote API keys at rest
type CredentialVault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	LooksEncrypted(value string) bool
}

// ProviderFactory builds the provider for an integration type
type ProviderFactory interface {
	New(integrationType string, cfg provider.Config) (provider.Provider, error)
}

// Notifier announces finished sync runs
type Notifier interface {
	PublishSyncCompleted(ctx context.Context, payload events.SyncCompletedPayload) error
}

// Repositories groups the stores the sync engine reads and writes
type Repositories struct {
	Integrations repo.IntegrationRepository
	Mappings     repo.IntegrationMappingRepository
	SyncLogs     repo.SyncLogRepository
	Posts        repo.PostRepository
	RunLocker    repo.RunLocker
}
