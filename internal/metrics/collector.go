package metrics

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// QueueDepthProvider reports the number of queued send events
type QueueDepthProvider interface {
	CountQueued(ctx context.Context) (int, error)
}

// Collector periodically refreshes gauges that are sampled rather than
// counted: uptime, goroutines and queue depth.
type Collector struct {
	metrics   *Metrics
	queue     QueueDepthProvider
	interval  time.Duration
	startTime time.Time
	logger    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a gauge collector
func NewCollector(m *Metrics, queue QueueDepthProvider, interval time.Duration, logger *slog.Logger) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		metrics:   m,
		queue:     queue,
		interval:  interval,
		startTime: time.Now(),
		logger:    logger.With("component", "metrics_collector"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins periodic collection
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop stops collection and waits for the loop to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect samples all gauges once
func (c *Collector) Collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.queue != nil {
		n, err := c.queue.CountQueued(ctx)
		if err != nil {
			c.logger.Debug("failed to count queued events", "error", err)
			return
		}
		c.metrics.QueueSize.Set(float64(n))
	}
}
