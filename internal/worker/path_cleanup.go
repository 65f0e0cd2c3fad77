package worker

import (
	"context"
	"time"

	"github.com/ignite/campaign-journeys/internal/pkg/distlock"
	"github.com/ignite/campaign-journeys/internal/pkg/logger"
	"github.com/ignite/campaign-journeys/internal/service/maintenance"
)

// =============================================================================
// PATH CLEANUP WORKER - Prunes Stale Recipient Paths
// =============================================================================
// Path entries are a derived view over email events. This worker trims that
// view on a schedule; events are never deleted here, so any pruned path can
// be rebuilt.
//
// Retention policies (configurable):
//   - Recipients with no event for customer_retention_days
//   - Unclassified paths older than pending_retention_days
//   - Every path of an ignored merchant domain

const (
	// DefaultPathCleanupInterval is how often the cleanup cycle runs.
	DefaultPathCleanupInterval = 1 * time.Hour
)

// Cleaner is the maintenance surface the worker drives.
type Cleaner interface {
	CleanupOldCustomerPaths(ctx context.Context, cutoff time.Time) (*maintenance.CleanupResult, error)
	CleanupOldPendingData(ctx context.Context, cutoff time.Time) (*maintenance.CleanupResult, error)
	CleanupIgnoredMerchantData(ctx context.Context, domains []string) (*maintenance.CleanupResult, error)
}

// PathCleanupConfig sets the worker's schedule and retention windows. A zero
// retention disables that cleanup.
type PathCleanupConfig struct {
	Interval          time.Duration
	CustomerRetention time.Duration
	PendingRetention  time.Duration
	IgnoredDomains    []string
}

// PathCleanupWorker periodically prunes path entries.
type PathCleanupWorker struct {
	cleaner Cleaner
	cfg     PathCleanupConfig
	lock    distlock.DistLock
	now     func() time.Time
}

// NewPathCleanupWorker creates a cleanup worker.
func NewPathCleanupWorker(cleaner Cleaner, cfg PathCleanupConfig) *PathCleanupWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPathCleanupInterval
	}
	return &PathCleanupWorker{cleaner: cleaner, cfg: cfg, now: time.Now}
}

// SetLock makes each cycle run only on the replica holding l. A cycle that
// cannot take the lock is skipped.
func (w *PathCleanupWorker) SetLock(l distlock.DistLock) {
	w.lock = l
}

// Start begins the cleanup loop. It blocks until ctx is cancelled.
func (w *PathCleanupWorker) Start(ctx context.Context) {
	logger.Info("path cleanup worker starting",
		"interval", w.cfg.Interval,
		"customer_retention", w.cfg.CustomerRetention,
		"pending_retention", w.cfg.PendingRetention,
		"ignored_domains", len(w.cfg.IgnoredDomains),
	)

	// Run once immediately on start
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("path cleanup worker stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs every enabled cleanup. Failures are logged and do not stop
// the remaining cleanups.
func (w *PathCleanupWorker) RunOnce(ctx context.Context) {
	start := w.now()

	if w.lock != nil {
		ok, err := w.lock.Acquire(ctx)
		if err != nil {
			logger.Error("path cleanup lock failed", "error", err)
			return
		}
		if !ok {
			logger.Debug("path cleanup already running on another replica, skipping")
			return
		}
		defer func() {
			if err := w.lock.Release(context.Background()); err != nil {
				logger.Warn("path cleanup lock release failed", "error", err)
			}
		}()
	}

	if w.cfg.CustomerRetention > 0 {
		if _, err := w.cleaner.CleanupOldCustomerPaths(ctx, start.Add(-w.cfg.CustomerRetention)); err != nil {
			logger.Error("old customer path cleanup failed", "error", err)
		}
	}
	if w.cfg.PendingRetention > 0 {
		if _, err := w.cleaner.CleanupOldPendingData(ctx, start.Add(-w.cfg.PendingRetention)); err != nil {
			logger.Error("pending path cleanup failed", "error", err)
		}
	}
	if len(w.cfg.IgnoredDomains) > 0 {
		if _, err := w.cleaner.CleanupIgnoredMerchantData(ctx, w.cfg.IgnoredDomains); err != nil {
			logger.Error("ignored merchant cleanup failed", "error", err)
		}
	}

	logger.Debug("path cleanup cycle completed", "duration", time.Since(start).Round(time.Millisecond))
}
