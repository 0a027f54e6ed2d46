package metrics

import (
	"context"
	"time"
)

// CatalogSource is the subset of pkg/catalog.Catalog the collector needs.
// Defined here (rather than imported) to avoid a dependency cycle between
// pkg/metrics and pkg/catalog.
type CatalogSource interface {
	CountBlocks(ctx context.Context) (int64, error)
	CountFilesets(ctx context.Context) (int64, error)
	WastedBytesByVolume(ctx context.Context) (map[string]int64, error)
}

// VolumeSource is the subset of pkg/volume.Manager the collector needs.
type VolumeSource interface {
	// StateCounts returns, for each (volume type, state) pair, the number
	// of remote volumes currently in that state.
	StateCounts(ctx context.Context) (map[[2]string]int, error)
}

// Collector periodically samples the catalog and volume manager and
// updates the gauges in metrics.go. It does not own either source; it
// just polls them.
type Collector struct {
	catalog CatalogSource
	volumes VolumeSource
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(catalog CatalogSource, volumes VolumeSource) *Collector {
	return &Collector{
		catalog: catalog,
		volumes: volumes,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectCatalogMetrics(ctx)
	c.collectVolumeMetrics(ctx)
}

func (c *Collector) collectCatalogMetrics(ctx context.Context) {
	if c.catalog == nil {
		return
	}

	if blocks, err := c.catalog.CountBlocks(ctx); err == nil {
		BlocksTotal.Set(float64(blocks))
	}

	if filesets, err := c.catalog.CountFilesets(ctx); err == nil {
		FilesetsTotal.Set(float64(filesets))
	}

	if wasted, err := c.catalog.WastedBytesByVolume(ctx); err == nil {
		for volume, bytes := range wasted {
			WastedBytes.WithLabelValues(volume).Set(float64(bytes))
		}
	}
}

func (c *Collector) collectVolumeMetrics(ctx context.Context) {
	if c.volumes == nil {
		return
	}

	counts, err := c.volumes.StateCounts(ctx)
	if err != nil {
		return
	}

	for typeState, count := range counts {
		VolumesByState.WithLabelValues(typeState[0], typeState[1]).Set(float64(count))
	}
}
