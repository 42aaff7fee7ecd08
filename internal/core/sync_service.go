package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedboard/backend/internal/provider"
	"github.com/feedboard/backend/internal/repo"
	"github.com/feedboard/backend/pkg/events"
)

// SyncResult tallies one sync run
type SyncResult struct {
	Synced    int `json:"synced"`
	Errors    int `json:"errors"`
	Conflicts int `json:"conflicts"`
	Skipped   int `json:"skipped"`
}

func (r *SyncResult) add(other SyncResult) {
	r.Synced += other.Synced
	r.Errors += other.Errors
	r.Conflicts += other.Conflicts
	r.Skipped += other.Skipped
}

func (r SyncResult) summary() string {
	return fmt.Sprintf("synced=%d errors=%d conflicts=%d skipped=%d", r.Synced, r.Errors, r.Conflicts, r.Skipped)
}

type itemOutcome int

const (
	outcomeSynced itemOutcome = iota
	outcomeSkipped
	outcomeConflict
	// outcomeOrphaned is a remote change with no local destination; it is logged as skipped but counted as an error
	outcomeOrphaned
)

var errRemoteUnavailable = errors.New("remote unavailable")

// SyncService runs sync passes between local posts and a remote provider
type SyncService struct {
	integrationRepo repo.IntegrationRepository
	mappingRepo     repo.IntegrationMappingRepository
	syncLogRepo     repo.SyncLogRepository
	postRepo        repo.PostRepository
	locker          repo.RunLocker
	providers       ProviderFactory
	vault           CredentialVault
	notifier        Notifier
	logger          *zap.Logger
	now             func() time.Time
}

// NewSyncService creates a new sync service. notifier may be nil.
func NewSyncService(repos Repositories, providers ProviderFactory, vault CredentialVault, notifier Notifier, logger *zap.Logger) *SyncService {
	return &SyncService{
		integrationRepo: repos.Integrations,
		mappingRepo:     repos.Mappings,
		syncLogRepo:     repos.SyncLogs,
		postRepo:        repos.Posts,
		locker:          repos.RunLocker,
		providers:       providers,
		vault:           vault,
		notifier:        notifier,
		logger:          logger.Named("sync_service"),
		now:             time.Now,
	}
}

// TriggerSync runs RunSync while holding the per-integration run lock
func (s *SyncService) TriggerSync(ctx context.Context, integrationID uuid.UUID, tenantID int64, tenantURL string) (SyncResult, error) {
	if s.locker == nil {
		return s.RunSync(ctx, integrationID, tenantID, tenantURL)
	}

	unlock, acquired, err := s.locker.TryLock(ctx, integrationID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !acquired {
		return SyncResult{}, ErrSyncInProgress
	}
	defer unlock()

	return s.RunSync(ctx, integrationID, tenantID, tenantURL)
}

// RunSync executes one full pass for the integration in its configured direction.
// Item failures are counted, not returned. An error means no pass completed and lastSyncAt was left alone.
func (s *SyncService) RunSync(ctx context.Context, integrationID uuid.UUID, tenantID int64, tenantURL string) (SyncResult, error) {
	integration, err := s.loadIntegration(ctx, integrationID, tenantID)
	if err != nil {
		return SyncResult{}, err
	}
	if !integration.Enabled {
		return SyncResult{}, ErrIntegrationDisabled
	}
	if strings.TrimSpace(integration.Config.PropertyMapping.Title) == "" {
		return SyncResult{}, ErrMissingTitleMapping
	}
	direction := integration.Config.SyncDirection
	if !events.IsValidSyncDirection(direction) {
		return SyncResult{}, fmt.Errorf("%w: unknown sync direction %q", ErrInvalidConfig, direction)
	}

	p, err := s.providerFor(integration)
	if err != nil {
		return SyncResult{}, err
	}

	run := &syncRun{
		service:     s,
		integration: integration,
		provider:    p,
		runID:       uuid.New(),
		tenantURL:   tenantURL,
	}
	startedAt := s.now()

	s.logger.Info("Starting sync run",
		zap.String("integration_id", integrationID.String()),
		zap.String("run_id", run.runID.String()),
		zap.String("direction", direction))

	var result SyncResult
	if direction == events.SyncDirectionInbound || direction == events.SyncDirectionBidirectional {
		passResult, err := run.inbound(ctx, direction == events.SyncDirectionBidirectional)
		result.add(passResult)
		if err != nil {
			return result, s.abortRun(run, err)
		}
	}
	if direction == events.SyncDirectionOutbound || direction == events.SyncDirectionBidirectional {
		passResult, err := run.outbound(ctx)
		result.add(passResult)
		if err != nil {
			return result, s.abortRun(run, err)
		}
	}

	if err := s.integrationRepo.UpdateLastSyncAt(ctx, integrationID, startedAt); err != nil {
		s.logger.Error("Failed to update last sync time", zap.Error(err))
		return result, fmt.Errorf("failed to update last sync time: %w", err)
	}

	finishedAt := s.now()
	s.logger.Info("Sync run finished",
		zap.String("integration_id", integrationID.String()),
		zap.String("run_id", run.runID.String()),
		zap.Int("synced", result.Synced),
		zap.Int("errors", result.Errors),
		zap.Int("conflicts", result.Conflicts),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", finishedAt.Sub(startedAt)))

	s.publishCompleted(ctx, integration, run.runID, result, startedAt, finishedAt)
	return result, nil
}

func (s *SyncService) abortRun(run *syncRun, err error) error {
	s.logger.Error("Sync run aborted",
		zap.String("integration_id", run.integration.ID.String()),
		zap.String("run_id", run.runID.String()),
		zap.Error(err))
	return err
}

func (s *SyncService) publishCompleted(ctx context.Context, integration repo.Integration, runID uuid.UUID, result SyncResult, startedAt, finishedAt time.Time) {
	if s.notifier == nil {
		return
	}
	payload := events.SyncCompletedPayload{
		Type:          events.TypeSyncCompleted,
		IntegrationID: integration.ID.String(),
		TenantID:      integration.TenantID,
		RunID:         runID.String(),
		Direction:     integration.Config.SyncDirection,
		Synced:        result.Synced,
		Errors:        result.Errors,
		Conflicts:     result.Conflicts,
		Skipped:       result.Skipped,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
	}
	if err := s.notifier.PublishSyncCompleted(ctx, payload); err != nil {
		// Don't fail the run if notification fails
		s.logger.Warn("Failed to publish sync notification", zap.Error(err))
	}
}

func (s *SyncService) loadIntegration(ctx context.Context, integrationID uuid.UUID, tenantID int64) (repo.Integration, error) {
	integration, err := s.integrationRepo.FindByID(ctx, integrationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.Integration{}, ErrIntegrationNotFound
		}
		return repo.Integration{}, fmt.Errorf("failed to load integration: %w", err)
	}
	if integration.TenantID != tenantID {
		return repo.Integration{}, ErrIntegrationNotFound
	}
	return integration, nil
}

func (s *SyncService) providerFor(integration repo.Integration) (provider.Provider, error) {
	apiKey, err := s.vault.Decrypt(integration.Config.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt api key: %w", err)
	}
	p, err := s.providers.New(integration.Type, providerConfig(integration.Config, apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return p, nil
}

func providerConfig(cfg repo.IntegrationConfig, apiKey string) provider.Config {
	return provider.Config{
		APIKey:             apiKey,
		RemoteDatabaseID:   cfg.RemoteDatabaseID,
		RemoteDatabaseName: cfg.RemoteDatabaseName,
		PropertyMapping:    cfg.PropertyMapping,
		StatusMapping:      cfg.StatusMapping,
		BoardMapping:       cfg.BoardMapping,
	}
}

// syncRun holds the state of one RunSync invocation
type syncRun struct {
	service       *SyncService
	integration   repo.Integration
	provider      provider.Provider
	runID         uuid.UUID
	tenantURL     string
	outboundCalls int
}

func (r *syncRun) outbound(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	cfg := r.integration.Config

	boardIDs := cfg.BoardMapping.LocalIDs()
	if len(boardIDs) == 0 {
		r.logItem(ctx, events.LogDirectionOutbound, events.LogStatusSkipped, 0, "", "no boards are mapped, nothing to push")
		result.Skipped++
		r.logRun(ctx, events.LogDirectionOutbound, result, nil)
		return result, nil
	}

	posts, err := r.service.postRepo.FindAllForBoards(ctx, r.integration.TenantID, boardIDs)
	if err != nil {
		err = fmt.Errorf("failed to load posts: %w", err)
		r.logRun(ctx, events.LogDirectionOutbound, result, err)
		return result, err
	}

	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			r.logRun(ctx, events.LogDirectionOutbound, result, err)
			return result, err
		}

		outcome, err := r.isolate(func() (itemOutcome, error) { return r.outboundItem(ctx, post) })
		if errors.Is(err, errRemoteUnavailable) {
			r.logRun(ctx, events.LogDirectionOutbound, result, err)
			var providerErr *ProviderError
			if errors.As(err, &providerErr) {
				return result, providerErr
			}
			return result, err
		}
		r.tally(&result, outcome, err)
		if err != nil {
			r.service.logger.Error("Failed to push post",
				zap.String("integration_id", r.integration.ID.String()),
				zap.Int64("post_id", post.ID),
				zap.Error(err))
			r.logItem(ctx, events.LogDirectionOutbound, events.LogStatusError, post.ID, "", err.Error())
		}
	}

	r.logRun(ctx, events.LogDirectionOutbound, result, nil)
	return result, nil
}

func (r *syncRun) outboundItem(ctx context.Context, post repo.Post) (itemOutcome, error) {
	s := r.service
	mapping, found, err := r.findByLocal(ctx, post.ID)
	if err != nil {
		return 0, err
	}

	if found && mapping.OriginDirection == events.OriginInbound {
		r.logItem(ctx, events.LogDirectionOutbound, events.LogStatusSkipped, post.ID, mapping.RemoteID, "post originated from the remote side")
		return outcomeSkipped, nil
	}
	if found && mapping.SyncStatus == events.MappingStatusConflict {
		r.logItem(ctx, events.LogDirectionOutbound, events.LogStatusSkipped, post.ID, mapping.RemoteID, "mapping awaits conflict resolution")
		return outcomeSkipped, nil
	}

	existingRemoteID := ""
	if found {
		existingRemoteID = mapping.RemoteID
	}

	r.outboundCalls++
	res := r.provider.SyncOutbound(ctx, r.localPost(post), existingRemoteID)
	if !res.Success {
		if res.Unavailable && r.outboundCalls == 1 {
			return 0, fmt.Errorf("%w: %w", errRemoteUnavailable, &ProviderError{Message: res.Error, Unavailable: true})
		}
		if found {
			r.markMappingError(ctx, mapping, res.Error)
		}
		return 0, &ProviderError{Message: res.Error, Unavailable: res.Unavailable}
	}

	syncedAt := s.now()
	params := repo.CreateMappingParams{
		IntegrationID:   r.integration.ID,
		LocalType:       events.LocalTypePost,
		LocalID:         post.ID,
		RemoteID:        res.RemoteID,
		RemoteURL:       nullString(res.RemoteURL),
		SyncStatus:      events.MappingStatusSynced,
		OriginDirection: events.OriginOutbound,
		LastSyncAt:      sql.NullTime{Time: syncedAt, Valid: true},
	}
	if found {
		err = r.updateMappingSynced(ctx, mapping, res.RemoteID, res.RemoteURL, syncedAt)
	} else {
		err = r.createMapping(ctx, params)
	}
	if err != nil {
		return 0, err
	}

	r.pushCounters(ctx, post.ID, res.RemoteID)
	r.logItem(ctx, events.LogDirectionOutbound, events.LogStatusSuccess, post.ID, res.RemoteID, "")
	s.logger.Debug("Post pushed",
		zap.Int64("post_id", post.ID),
		zap.String("remote_id", res.RemoteID))
	return outcomeSynced, nil
}

// createMapping inserts a mapping, updating the existing row when another writer got there first
func (r *syncRun) createMapping(ctx context.Context, params repo.CreateMappingParams) error {
	_, err := r.service.mappingRepo.Create(ctx, params)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrUniqueViolation) {
		return fmt.Errorf("failed to create mapping: %w", err)
	}

	existing, lookupErr := r.service.mappingRepo.FindByLocalEntity(ctx, params.IntegrationID, params.LocalType, params.LocalID)
	if lookupErr != nil {
		existing, lookupErr = r.service.mappingRepo.FindByRemoteID(ctx, params.IntegrationID, params.RemoteID)
	}
	if lookupErr != nil {
		return fmt.Errorf("failed to load conflicting mapping: %w", lookupErr)
	}
	return r.updateMappingSynced(ctx, existing, params.RemoteID, params.RemoteURL.String, params.LastSyncAt.Time)
}

func (r *syncRun) updateMappingSynced(ctx context.Context, mapping repo.IntegrationMapping, remoteID, remoteURL string, syncedAt time.Time) error {
	url := mapping.RemoteURL
	if remoteURL != "" {
		url = nullString(remoteURL)
	}
	_, err := r.service.mappingRepo.Update(ctx, repo.UpdateMappingParams{
		ID:         mapping.ID,
		RemoteID:   remoteID,
		RemoteURL:  url,
		SyncStatus: events.MappingStatusSynced,
		LastSyncAt: sql.NullTime{Time: syncedAt, Valid: true},
	})
	if err != nil {
		return fmt.Errorf("failed to update mapping: %w", err)
	}
	return nil
}

func (r *syncRun) markMappingError(ctx context.Context, mapping repo.IntegrationMapping, message string) {
	_, err := r.service.mappingRepo.Update(ctx, repo.UpdateMappingParams{
		ID:         mapping.ID,
		RemoteID:   mapping.RemoteID,
		RemoteURL:  mapping.RemoteURL,
		SyncStatus: events.MappingStatusError,
		LastSyncAt: mapping.LastSyncAt,
		LastError:  nullString(message),
	})
	if err != nil {
		r.service.logger.Warn("Failed to mark mapping as errored",
			zap.String("mapping_id", mapping.ID.String()),
			zap.Error(err))
	}
}

// pushCounters mirrors comment and like counts when the provider supports it; failures only warn
func (r *syncRun) pushCounters(ctx context.Context, postID int64, remoteID string) {
	updater, ok := r.provider.(provider.CounterUpdater)
	if !ok {
		return
	}
	mapping := r.integration.Config.PropertyMapping
	if mapping.Comments == "" && mapping.Likes == "" {
		return
	}

	logger := r.service.logger.With(zap.Int64("post_id", postID), zap.String("remote_id", remoteID))
	counts, err := r.service.postRepo.GetPostCounts(ctx, postID)
	if err != nil {
		logger.Warn("Failed to load post counts", zap.Error(err))
		return
	}
	if mapping.Comments != "" {
		if err := updater.UpdateCommentsField(ctx, remoteID, counts.Comments); err != nil {
			logger.Warn("Failed to push comment count", zap.Error(err))
		}
	}
	if mapping.Likes != "" {
		if err := updater.UpdateLikesField(ctx, remoteID, counts.Likes); err != nil {
			logger.Warn("Failed to push like count", zap.Error(err))
		}
	}
}

func (r *syncRun) inbound(ctx context.Context, guard bool) (SyncResult, error) {
	var result SyncResult

	var since *time.Time
	if r.integration.LastSyncAt.Valid {
		t := r.integration.LastSyncAt.Time
		since = &t
	}

	changes, err := r.provider.SyncInbound(ctx, since)
	if err != nil {
		providerErr := &ProviderError{Message: err.Error()}
		r.logRun(ctx, events.LogDirectionInbound, result, providerErr)
		return result, providerErr
	}

	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			r.logRun(ctx, events.LogDirectionInbound, result, err)
			return result, err
		}

		outcome, err := r.isolate(func() (itemOutcome, error) { return r.inboundItem(ctx, change, guard) })
		r.tally(&result, outcome, err)
		if err != nil {
			r.service.logger.Error("Failed to apply remote change",
				zap.String("integration_id", r.integration.ID.String()),
				zap.String("remote_id", change.RemoteID),
				zap.Error(err))
			r.logItem(ctx, events.LogDirectionInbound, events.LogStatusError, 0, change.RemoteID, err.Error())
		}
	}

	r.logRun(ctx, events.LogDirectionInbound, result, nil)
	return result, nil
}

func (r *syncRun) inboundItem(ctx context.Context, change provider.RemoteChange, guard bool) (itemOutcome, error) {
	s := r.service
	cfg := r.integration.Config

	boardID, ok := resolveBoard(cfg.BoardMapping, change.BoardOptionID)
	if !ok {
		r.logItem(ctx, events.LogDirectionInbound, events.LogStatusSkipped, 0, change.RemoteID, "no board mapping, remote change has no local destination")
		return outcomeOrphaned, nil
	}

	mapping, found, err := r.findByRemote(ctx, change.RemoteID)
	if err != nil {
		return 0, err
	}

	if !found {
		created, err := r.createInboundPost(ctx, change, boardID)
		if err != nil {
			return 0, err
		}
		if created {
			return outcomeSynced, nil
		}
		// Lost a race to another writer; continue on the mapping it created
		mapping, found, err = r.findByRemote(ctx, change.RemoteID)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, fmt.Errorf("mapping for remote %s vanished", change.RemoteID)
		}
	}

	if mapping.SyncStatus == events.MappingStatusConflict {
		r.logItem(ctx, events.LogDirectionInbound, events.LogStatusSkipped, mapping.LocalID, change.RemoteID, "mapping awaits conflict resolution")
		return outcomeSkipped, nil
	}

	post, err := s.postRepo.FindByID(ctx, r.integration.TenantID, mapping.LocalID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			err = fmt.Errorf("%w: %d", ErrPostNotFound, mapping.LocalID)
		} else {
			err = fmt.Errorf("failed to load post: %w", err)
		}
		r.markMappingError(ctx, mapping, err.Error())
		return 0, err
	}

	if guard && localChanged(post, mapping) {
		if !remoteChanged(change, mapping) {
			// Stale remote copy; the outbound pass pushes the local edit
			r.logItem(ctx, events.LogDirectionInbound, events.LogStatusSkipped, post.ID, change.RemoteID, "local edit is newer than the remote change")
			return outcomeSkipped, nil
		}
		_, err := s.mappingRepo.Update(ctx, repo.UpdateMappingParams{
			ID:         mapping.ID,
			RemoteID:   mapping.RemoteID,
			RemoteURL:  mapping.RemoteURL,
			SyncStatus: events.MappingStatusConflict,
			LastSyncAt: mapping.LastSyncAt,
			LastError:  nullString("local and remote both changed since the last sync"),
		})
		if err != nil {
			return 0, fmt.Errorf("failed to flag conflict: %w", err)
		}
		r.logItem(ctx, events.LogDirectionInbound, events.LogStatusConflict, post.ID, change.RemoteID, "local and remote both changed since the last sync")
		s.logger.Info("Sync conflict detected",
			zap.String("mapping_id", mapping.ID.String()),
			zap.Int64("post_id", post.ID),
			zap.String("remote_id", change.RemoteID))
		return outcomeConflict, nil
	}

	updated, err := applyRemoteChange(ctx, s.postRepo, post, change, cfg.StatusMapping)
	if err != nil {
		r.markMappingError(ctx, mapping, err.Error())
		return 0, err
	}

	if err := r.updateMappingSynced(ctx, mapping, mapping.RemoteID, change.RemoteURL, laterOf(s.now(), updated.UpdatedAt)); err != nil {
		return 0, err
	}
	r.logItem(ctx, events.LogDirectionInbound, events.LogStatusSuccess, post.ID, change.RemoteID, "")
	return outcomeSynced, nil
}

// createInboundPost creates the local post and its mapping. It reports false when a
// concurrent writer already mapped the remote record; the duplicate post is then removed.
func (r *syncRun) createInboundPost(ctx context.Context, change provider.RemoteChange, boardID int64) (bool, error) {
	s := r.service
	post, err := s.postRepo.Create(ctx, repo.CreatePostParams{
		TenantID:       r.integration.TenantID,
		BoardID:        boardID,
		PostStatusID:   resolveStatus(r.integration.Config.StatusMapping, change.StatusOptionID, sql.NullInt64{}),
		Title:          change.Title,
		Description:    change.Description,
		Tags:           change.Tags,
		ApprovalStatus: events.ApprovalStatusApproved,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create post: %w", err)
	}

	_, err = s.mappingRepo.Create(ctx, repo.CreateMappingParams{
		IntegrationID:   r.integration.ID,
		LocalType:       events.LocalTypePost,
		LocalID:         post.ID,
		RemoteID:        change.RemoteID,
		RemoteURL:       nullString(change.RemoteURL),
		SyncStatus:      events.MappingStatusSynced,
		OriginDirection: events.OriginInbound,
		LastSyncAt:      sql.NullTime{Time: laterOf(s.now(), post.UpdatedAt), Valid: true},
	})
	if err != nil {
		if deleteErr := s.postRepo.Delete(ctx, r.integration.TenantID, post.ID); deleteErr != nil {
			s.logger.Warn("Failed to remove unmapped post",
				zap.Int64("post_id", post.ID),
				zap.Error(deleteErr))
		}
		if errors.Is(err, repo.ErrUniqueViolation) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create mapping: %w", err)
	}

	r.logItem(ctx, events.LogDirectionInbound, events.LogStatusSuccess, post.ID, change.RemoteID, "")
	s.logger.Debug("Post created from remote",
		zap.Int64("post_id", post.ID),
		zap.String("remote_id", change.RemoteID))
	return true, nil
}

// isolate runs one item, turning a panic into an error so the batch continues
func (r *syncRun) isolate(fn func() (itemOutcome, error)) (outcome itemOutcome, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.service.logger.Error("Recovered from panic while syncing item", zap.Any("panic", recovered), zap.Stack("stack"))
			outcome, err = 0, fmt.Errorf("unexpected failure: %v", recovered)
		}
	}()
	return fn()
}

func (r *syncRun) tally(result *SyncResult, outcome itemOutcome, err error) {
	if err != nil {
		result.Errors++
		return
	}
	switch outcome {
	case outcomeSynced:
		result.Synced++
	case outcomeSkipped:
		result.Skipped++
	case outcomeConflict:
		result.Conflicts++
	case outcomeOrphaned:
		result.Errors++
	}
}

func (r *syncRun) findByLocal(ctx context.Context, postID int64) (repo.IntegrationMapping, bool, error) {
	mapping, err := r.service.mappingRepo.FindByLocalEntity(ctx, r.integration.ID, events.LocalTypePost, postID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.IntegrationMapping{}, false, nil
		}
		return repo.IntegrationMapping{}, false, fmt.Errorf("failed to look up mapping: %w", err)
	}
	return mapping, true, nil
}

func (r *syncRun) findByRemote(ctx context.Context, remoteID string) (repo.IntegrationMapping, bool, error) {
	mapping, err := r.service.mappingRepo.FindByRemoteID(ctx, r.integration.ID, remoteID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.IntegrationMapping{}, false, nil
		}
		return repo.IntegrationMapping{}, false, fmt.Errorf("failed to look up mapping: %w", err)
	}
	return mapping, true, nil
}

func (r *syncRun) localPost(post repo.Post) provider.LocalPost {
	return toLocalPost(post, r.integration.Config, r.tenantURL)
}

func (r *syncRun) logItem(ctx context.Context, direction, status string, localID int64, remoteID, message string) {
	params := repo.CreateSyncLogParams{
		IntegrationID: r.integration.ID,
		RunID:         r.runID,
		Kind:          events.LogKindItem,
		Direction:     direction,
		Status:        status,
		RemoteID:      nullString(remoteID),
		Message:       nullString(message),
	}
	if localID != 0 {
		params.LocalID = sql.NullInt64{Int64: localID, Valid: true}
	}
	r.service.writeLog(ctx, params)
}

func (r *syncRun) logRun(ctx context.Context, direction string, result SyncResult, failure error) {
	status := events.LogStatusSuccess
	message := result.summary()
	if failure != nil {
		status = events.LogStatusError
		message = message + ": " + failure.Error()
	} else if result.Errors > 0 {
		status = events.LogStatusError
	}
	r.service.writeLog(ctx, repo.CreateSyncLogParams{
		IntegrationID: r.integration.ID,
		RunID:         r.runID,
		Kind:          events.LogKindRun,
		Direction:     direction,
		Status:        status,
		Message:       nullString(message),
	})
}

// writeLog appends to the sync log; a failed write is reported but never fails the item
func (s *SyncService) writeLog(ctx context.Context, params repo.CreateSyncLogParams) {
	// Cancelled runs still record why they stopped
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if _, err := s.syncLogRepo.Create(ctx, params); err != nil {
		s.logger.Warn("Failed to write sync log entry",
			zap.String("integration_id", params.IntegrationID.String()),
			zap.String("status", params.Status),
			zap.Error(err))
	}
}

func toLocalPost(post repo.Post, cfg repo.IntegrationConfig, tenantURL string) provider.LocalPost {
	local := provider.LocalPost{
		ID:          post.ID,
		Title:       post.Title,
		Description: post.Description,
		Tags:        post.Tags,
		URL:         postURL(tenantURL, post.ID),
	}
	if option, ok := cfg.BoardMapping.OptionFor(post.BoardID); ok {
		local.BoardOptionID = option
	}
	if post.PostStatusID.Valid {
		if option, ok := cfg.StatusMapping.OptionFor(post.PostStatusID.Int64); ok {
			local.StatusOptionID = option
		}
	}
	return local
}

func postURL(tenantURL string, postID int64) string {
	tenantURL = strings.TrimRight(strings.TrimSpace(tenantURL), "/")
	if tenantURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/posts/%d", tenantURL, postID)
}

// applyRemoteChange overwrites the post's content fields with the remote version
func applyRemoteChange(ctx context.Context, posts repo.PostRepository, post repo.Post, change provider.RemoteChange, statusMapping repo.OptionMapping) (repo.Post, error) {
	updated, err := posts.Update(ctx, repo.UpdatePostParams{
		ID:           post.ID,
		TenantID:     post.TenantID,
		PostStatusID: resolveStatus(statusMapping, change.StatusOptionID, post.PostStatusID),
		Title:        change.Title,
		Description:  change.Description,
		Tags:         change.Tags,
	})
	if err != nil {
		return repo.Post{}, fmt.Errorf("failed to update post: %w", err)
	}
	return updated, nil
}

// resolveBoard maps a remote board option to a local board, falling back to the first mapped board
func resolveBoard(boards repo.OptionMapping, optionID string) (int64, bool) {
	if ref, ok := boards[optionID]; ok && optionID != "" {
		return ref.LocalID, true
	}
	if _, ref, ok := boards.First(); ok {
		return ref.LocalID, true
	}
	return 0, false
}

func resolveStatus(statuses repo.OptionMapping, optionID string, fallback sql.NullInt64) sql.NullInt64 {
	if ref, ok := statuses[optionID]; ok && optionID != "" {
		return sql.NullInt64{Int64: ref.LocalID, Valid: true}
	}
	return fallback
}

// localChanged reports a local edit after the last reconciliation. A mapping that never synced counts as changed.
func localChanged(post repo.Post, mapping repo.IntegrationMapping) bool {
	if !mapping.LastSyncAt.Valid {
		return true
	}
	return post.UpdatedAt.After(mapping.LastSyncAt.Time)
}

func remoteChanged(change provider.RemoteChange, mapping repo.IntegrationMapping) bool {
	if !mapping.LastSyncAt.Valid || change.LastEditedTime.IsZero() {
		return true
	}
	return change.LastEditedTime.After(mapping.LastSyncAt.Time)
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
