// Package health runs the background probe loop that keeps a
// routetable.Table's healthy flags current.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rivetr/controlplane/internal/routetable"
)

// Checker fans out a concurrent GET to every routed Backend on each tick,
// de-duplicating overlapping probes of the same domain with a singleflight
// group so a slow backend does not accumulate stacked requests to itself.
type Checker struct {
	table     *routetable.Table
	logger    *slog.Logger
	client    *http.Client
	interval  time.Duration
	timeout   time.Duration
	threshold int

	group singleflight.Group
}

// New constructs a Checker. timeout bounds each individual probe request;
// interval is the tick period; threshold is the number of consecutive
// failures before a Backend flips unhealthy (see routetable.Table.UpdateHealth).
func New(table *routetable.Table, logger *slog.Logger, interval, timeout time.Duration, threshold int) *Checker {
	return &Checker{
		table:     table,
		logger:    logger,
		client:    &http.Client{Timeout: timeout},
		interval:  interval,
		timeout:   timeout,
		threshold: threshold,
	}
}

// Run blocks, ticking until ctx is cancelled. Intended to be launched as its
// own goroutine from main.go alongside the proxy listeners and ACME renewal
// loop.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("health checker started", "interval", c.interval.String(), "threshold", c.threshold)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("health checker stopped")
			return
		case <-ticker.C:
			c.probeAll(ctx)
		}
	}
}

// probeAll dispatches one probe per domain concurrently and does not wait
// past the tick for stragglers from a prior round: each probe's result is
// applied as it completes, and a slow probe in this round simply runs
// alongside the next tick's fresh dispatch.
func (c *Checker) probeAll(ctx context.Context) {
	for domain, backend := range c.table.AllBackends() {
		domain, backend := domain, backend
		go func() {
			_, _, _ = c.group.Do(domain, func() (interface{}, error) {
				passed := c.probe(ctx, backend.HealthURL())
				if flipped := c.table.UpdateHealth(domain, passed, c.threshold); flipped {
					if passed {
						c.logger.Info("backend became healthy", "domain", domain, "container_id", backend.ContainerID)
					} else {
						c.logger.Warn("backend became unhealthy", "domain", domain, "container_id", backend.ContainerID)
					}
				}
				return nil, nil
			})
		}()
	}
}

func (c *Checker) probe(ctx context.Context, url string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
