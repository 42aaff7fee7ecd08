// Package provider defines the capability every remote system adapter implements.
// The sync engine only talks to remote systems through these types.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/feedboard/backend/internal/repo"
)

// ErrUnknownProvider is returned for an integration type with no registered factory
var ErrUnknownProvider = errors.New("unknown provider")

// Config is what a provider needs to talk to one remote database
type Config struct {
	APIKey             string
	RemoteDatabaseID   string
	RemoteDatabaseName string
	PropertyMapping    repo.PropertyMapping
	StatusMapping      repo.OptionMapping
	BoardMapping       repo.OptionMapping
}

// ConnectionResult is the outcome of a connection test
type ConnectionResult struct {
	Success  bool   `json:"success"`
	Identity string `json:"identity,omitempty"`
	Error    string `json:"error,omitempty"`
}

// LocalPost is a post prepared for pushing to a remote system
type LocalPost struct {
	ID             int64
	Title          string
	Description    string
	Tags           []string
	URL            string
	BoardOptionID  string
	StatusOptionID string
}

// OutboundResult is the outcome of creating or updating one remote record.
// Unavailable marks transport-level failures (the remote could not be reached at all).
type OutboundResult struct {
	Success     bool
	RemoteID    string
	RemoteURL   string
	Error       string
	Unavailable bool
}

// RemoteChange is one record changed on the remote side
type RemoteChange struct {
	RemoteID       string
	Title          string
	Description    string
	RemoteURL      string
	LastEditedTime time.Time
	BoardOptionID  string
	StatusOptionID string
	Tags           []string
}

// Provider is implemented once per remote system.
// Expected failures (auth, rate limit, not found) are reported in results, not as errors.
// SyncInbound returns an error only when the change feed cannot be read at all.
type Provider interface {
	TestConnection(ctx context.Context, apiKey string) ConnectionResult
	SyncOutbound(ctx context.Context, post LocalPost, existingRemoteID string) OutboundResult
	SyncInbound(ctx context.Context, since *time.Time) ([]RemoteChange, error)
}

// CounterUpdater is optionally implemented by providers that can mirror engagement counters
type CounterUpdater interface {
	UpdateCommentsField(ctx context.Context, remoteID string, count int) error
	UpdateLikesField(ctx context.Context, remoteID string, count int) error
}

// Factory builds a provider for one integration
type Factory func(cfg Config) (Provider, error)

// Registry selects a provider implementation by integration type
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for an integration type
func (r *Registry) Register(integrationType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[integrationType] = factory
}

// New builds the provider for an integration type
func (r *Registry) New(integrationType string, cfg Config) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[integrationType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (supported: %s)", ErrUnknownProvider, integrationType, strings.Join(r.Types(), ", "))
	}
	return factory(cfg)
}

// Types lists the registered integration types
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
