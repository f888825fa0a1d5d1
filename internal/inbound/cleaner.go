package inbound

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cleaner periodically prunes expired de-duplication keys
type Cleaner struct {
	store    *DedupStore
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewCleaner creates a new cleaner
func NewCleaner(store *DedupStore, ttl, interval time.Duration, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger.With("component", "dedup_cleaner"),
		done:     make(chan struct{}),
	}
}

// Start starts the cleanup loop
func (c *Cleaner) Start(ctx context.Context) {
	if c.ttl <= 0 || c.interval <= 0 {
		return
	}

	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.Info("cleaner started", "ttl", c.ttl, "interval", c.interval)
}

// Stop stops the cleaner and waits for the loop to exit
func (c *Cleaner) Stop() {
	close(c.done)
	c.wg.Wait()
}

func (c *Cleaner) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Run cleanup immediately on start
	c.run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.run(ctx)
		}
	}
}

func (c *Cleaner) run(ctx context.Context) {
	deleted, err := c.store.Prune(ctx, c.ttl, time.Now())
	if err != nil {
		c.logger.Error("failed to prune dedup keys", "error", err)
		return
	}

	if deleted > 0 {
		c.logger.Info("pruned dedup keys", "deleted", deleted)
	}
}
