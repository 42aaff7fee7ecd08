package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/feedboard/backend/internal/repo"
)

// SyncWorkerConfig controls the interval scheduler
type SyncWorkerConfig struct {
	TickInterval time.Duration
	// TenantURLTemplate builds a tenant's public URL; "{tenant_id}" is replaced by the tenant id
	TenantURLTemplate string
	RunTimeout        time.Duration
}

// SyncWorker triggers integrations whose sync interval elapsed
type SyncWorker struct {
	syncService     *SyncService
	integrationRepo repo.IntegrationRepository
	scheduler       *gocron.Scheduler
	cfg             SyncWorkerConfig
	logger          *zap.Logger
	now             func() time.Time
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(syncService *SyncService, integrationRepo repo.IntegrationRepository, cfg SyncWorkerConfig, logger *zap.Logger) *SyncWorker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	return &SyncWorker{
		syncService:     syncService,
		integrationRepo: integrationRepo,
		scheduler:       gocron.NewScheduler(time.UTC),
		cfg:             cfg,
		logger:          logger.Named("sync_worker"),
		now:             time.Now,
	}
}

// Start schedules the due check and returns immediately
func (w *SyncWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting sync worker", zap.Duration("tick_interval", w.cfg.TickInterval))

	_, err := w.scheduler.Every(w.cfg.TickInterval).SingletonMode().Do(func() {
		w.RunDue(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sync worker: %w", err)
	}
	w.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler
func (w *SyncWorker) Stop() {
	w.scheduler.Stop()
	w.logger.Info("Sync worker stopped")
}

// RunDue syncs every due integration one after another and returns how many runs completed
func (w *SyncWorker) RunDue(ctx context.Context) int {
	due, err := w.integrationRepo.FindDue(ctx, w.now())
	if err != nil {
		w.logger.Error("Failed to find due integrations", zap.Error(err))
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	w.logger.Debug("Processing due integrations", zap.Int("count", len(due)))

	completed := 0
	for _, integration := range due {
		if ctx.Err() != nil {
			break
		}
		if w.runOne(ctx, integration) {
			completed++
		}
	}
	return completed
}

func (w *SyncWorker) runOne(ctx context.Context, integration repo.Integration) bool {
	runCtx, cancel := context.WithTimeout(ctx, w.cfg.RunTimeout)
	defer cancel()

	logger := w.logger.With(zap.String("integration_id", integration.ID.String()))
	result, err := w.syncService.TriggerSync(runCtx, integration.ID, integration.TenantID, w.TenantURL(integration.TenantID))
	if err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			logger.Debug("Sync already running, skipping")
			return false
		}
		logger.Error("Scheduled sync failed", zap.Error(err))
		return false
	}

	logger.Info("Scheduled sync completed",
		zap.Int("synced", result.Synced),
		zap.Int("errors", result.Errors),
		zap.Int("conflicts", result.Conflicts))
	return true
}

// TenantURL renders the configured template for a tenant
func (w *SyncWorker) TenantURL(tenantID int64) string {
	return strings.ReplaceAll(w.cfg.TenantURLTemplate, "{tenant_id}", strconv.FormatInt(tenantID, 10))
}
