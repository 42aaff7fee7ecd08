package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedboard/backend/internal/provider"
	"github.com/feedboard/backend/internal/repo"
	"github.com/feedboard/backend/pkg/events"
)

// ResolveConflict forces one side's version of a single mapped post to win and marks the mapping synced.
// No other mapping is touched.
func (s *SyncService) ResolveConflict(ctx context.Context, mappingID uuid.UUID, resolution string, tenantID int64, tenantURL string) error {
	if resolution != events.ResolutionLocal && resolution != events.ResolutionRemote {
		return ErrInvalidResolution
	}

	mapping, err := s.mappingRepo.FindByID(ctx, mappingID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMappingNotFound
		}
		return fmt.Errorf("failed to load mapping: %w", err)
	}
	integration, err := s.loadIntegration(ctx, mapping.IntegrationID, tenantID)
	if err != nil {
		return err
	}

	p, err := s.providerFor(integration)
	if err != nil {
		return err
	}

	s.logger.Info("Resolving conflict",
		zap.String("mapping_id", mappingID.String()),
		zap.String("integration_id", integration.ID.String()),
		zap.String("resolution", resolution))

	if resolution == events.ResolutionLocal {
		return s.resolveWithLocal(ctx, integration, mapping, p, tenantURL)
	}
	return s.resolveWithRemote(ctx, integration, mapping, p)
}

func (s *SyncService) resolveWithLocal(ctx context.Context, integration repo.Integration, mapping repo.IntegrationMapping, p provider.Provider, tenantURL string) error {
	post, err := s.findPost(ctx, integration.TenantID, mapping.LocalID)
	if err != nil {
		return err
	}

	res := p.SyncOutbound(ctx, toLocalPost(post, integration.Config, tenantURL), mapping.RemoteID)
	if !res.Success {
		return &ProviderError{Message: res.Error, Unavailable: res.Unavailable}
	}

	remoteURL := mapping.RemoteURL
	if res.RemoteURL != "" {
		remoteURL = nullString(res.RemoteURL)
	}
	remoteID := mapping.RemoteID
	if res.RemoteID != "" {
		remoteID = res.RemoteID
	}
	if err := s.markResolved(ctx, mapping, remoteID, remoteURL, s.now()); err != nil {
		return err
	}

	s.writeLog(ctx, repo.CreateSyncLogParams{
		IntegrationID: integration.ID,
		RunID:         uuid.New(),
		Kind:          events.LogKindItem,
		Direction:     events.LogDirectionOutbound,
		Status:        events.LogStatusSuccess,
		LocalID:       sql.NullInt64{Int64: post.ID, Valid: true},
		RemoteID:      nullString(remoteID),
		Message:       nullString("conflict resolved with the local version"),
	})
	return nil
}

func (s *SyncService) resolveWithRemote(ctx context.Context, integration repo.Integration, mapping repo.IntegrationMapping, p provider.Provider) error {
	changes, err := p.SyncInbound(ctx, nil)
	if err != nil {
		return &ProviderError{Message: err.Error()}
	}

	var change *provider.RemoteChange
	for i := range changes {
		if changes[i].RemoteID == mapping.RemoteID {
			change = &changes[i]
			break
		}
	}
	if change == nil {
		return ErrRemotePageNotFound
	}

	post, err := s.findPost(ctx, integration.TenantID, mapping.LocalID)
	if err != nil {
		return err
	}
	updated, err := applyRemoteChange(ctx, s.postRepo, post, *change, integration.Config.StatusMapping)
	if err != nil {
		return err
	}

	remoteURL := mapping.RemoteURL
	if change.RemoteURL != "" {
		remoteURL = nullString(change.RemoteURL)
	}
	if err := s.markResolved(ctx, mapping, mapping.RemoteID, remoteURL, laterOf(s.now(), updated.UpdatedAt)); err != nil {
		return err
	}

	s.writeLog(ctx, repo.CreateSyncLogParams{
		IntegrationID: integration.ID,
		RunID:         uuid.New(),
		Kind:          events.LogKindItem,
		Direction:     events.LogDirectionInbound,
		Status:        events.LogStatusSuccess,
		LocalID:       sql.NullInt64{Int64: post.ID, Valid: true},
		RemoteID:      nullString(mapping.RemoteID),
		Message:       nullString("conflict resolved with the remote version"),
	})
	return nil
}

// markResolved is stamped after the write so the next guarded pass does not see our own edit as a local change
func (s *SyncService) markResolved(ctx context.Context, mapping repo.IntegrationMapping, remoteID string, remoteURL sql.NullString, syncedAt time.Time) error {
	_, err := s.mappingRepo.Update(ctx, repo.UpdateMappingParams{
		ID:         mapping.ID,
		RemoteID:   remoteID,
		RemoteURL:  remoteURL,
		SyncStatus: events.MappingStatusSynced,
		LastSyncAt: sql.NullTime{Time: syncedAt, Valid: true},
	})
	if err != nil {
		return fmt.Errorf("failed to update mapping: %w", err)
	}
	return nil
}

func (s *SyncService) findPost(ctx context.Context, tenantID, postID int64) (repo.Post, error) {
	post, err := s.postRepo.FindByID(ctx, tenantID, postID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.Post{}, ErrPostNotFound
		}
		return repo.Post{}, fmt.Errorf("failed to load post: %w", err)
	}
	return post, nil
}
