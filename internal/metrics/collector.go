package metrics

import (
	"context"
	"time"

	"github.com/catmosaic/catmosaic/internal/store"
)

// StoreStats is implemented by the image store.
type StoreStats interface {
	Stats() store.Stats
}

// PoolHealth summarizes one supervised worker pool.
type PoolHealth struct {
	Pool    string `json:"pool"`
	Workers int    `json:"workers"`
	Healthy int    `json:"healthy"`
}

// HealthReporter reports the health of supervised worker pools.
type HealthReporter interface {
	PoolHealth() []PoolHealth
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Store  StoreStats
	Health HealthReporter
}

// Collector periodically copies gauge values from the store and supervisors.
type Collector struct {
	metrics *Metrics
	store   StoreStats
	health  HealthReporter
}

// NewCollector creates a new metrics collector.
func NewCollector(m *Metrics, cfg CollectorConfig) *Collector {
	return &Collector{
		metrics: m,
		store:   cfg.Store,
		health:  cfg.Health,
	}
}

// Collect updates all gauges from the current state.
func (c *Collector) Collect() {
	c.collectStoreStats()
	c.collectPoolHealth()
}

func (c *Collector) collectStoreStats() {
	if c.store == nil {
		return
	}
	stats := c.store.Stats()
	c.metrics.StoreImages.Set(float64(stats.Size))
	c.metrics.StoreInFlight.Set(float64(stats.InFlight))
}

func (c *Collector) collectPoolHealth() {
	if c.health == nil {
		return
	}
	for _, p := range c.health.PoolHealth() {
		c.metrics.WorkersTotal.WithLabelValues(p.Pool).Set(float64(p.Workers))
		c.metrics.WorkersHealthy.WithLabelValues(p.Pool).Set(float64(p.Healthy))
	}
}

// Run collects on every tick until ctx is cancelled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	c.Collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}
