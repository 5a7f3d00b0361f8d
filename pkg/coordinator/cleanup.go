package coordinator

import (
	"context"
	"time"

	"github.com/vantage6/vantage6-sub004/pkg/log"
)

// Start launches the background result data-lifecycle cleanup job: one
// goroutine, which exits when Stop closes stopCh or when ctx is
// canceled, whichever comes first.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.runCleanupLoop(ctx)
}

// Stop signals the cleanup loop to exit and waits for it to do so.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Coordinator) runCleanupLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.cleanupInterval())
	defer ticker.Stop()

	logger := log.WithComponent("coordinator-cleanup")
	for {
		select {
		case <-ticker.C:
			if err := c.runCleanupPass(ctx); err != nil {
				logger.Error().Err(err).Msg("cleanup pass failed")
			}
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

// runCleanupPass implements cleanup job: for every
// completed Run whose finished_at is older than RunsDataCleanupDays,
// scrub result (and optionally input), delete the remote blob if one was
// used, and stamp cleanup_at. log is left untouched.
func (c *Coordinator) runCleanupPass(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -c.cfg.RunsDataCleanupDays)

	runs, err := c.store.ListRunsForCleanup(ctx, cutoff)
	if err != nil {
		return err
	}

	logger := log.WithComponent("coordinator-cleanup")
	for _, run := range runs {
		if run.BlobStorageUsed {
			if err := c.blobs.DeleteBlob(ctx, run.Result); err != nil {
				logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to delete remote blob, leaving run uncleaned")
				continue
			}
		}

		run.Result = ""
		if c.cfg.CleanupDeleteInput {
			run.Input = ""
		}
		run.CleanupAt = time.Now()

		if err := c.store.UpdateRun(ctx, run); err != nil {
			logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to persist cleanup")
			continue
		}
	}
	return nil
}
