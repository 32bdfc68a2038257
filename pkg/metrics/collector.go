package metrics

import (
	"time"

	"github.com/cuemby/buildgraph/pkg/types"
)

// allNodeKinds lists every NodeKind so NodesActive is reset to zero for a
// kind with no active nodes, rather than leaving a stale last-seen value.
var allNodeKinds = []types.NodeKind{
	types.NodeKindInProcess,
	types.NodeKindOutOfProcess,
	types.NodeKindTaskHost,
}

// StatsSource is whatever a Collector polls. pkg/buildmanager.BuildManager
// satisfies it; the interface lives here (rather than importing
// buildmanager directly) because buildmanager already imports metrics.
type StatsSource interface {
	NodeCounts() map[types.NodeKind]int
	ConfigCacheSize() int
}

// Collector periodically samples a StatsSource into the package-level
// prometheus gauges that reflect a BuildManager's current state,
// overwriting whatever inline updates set them to in between.
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

// NewCollector creates a Collector over source.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins polling on a 15s ticker, matching the teacher's collector
// cadence, collecting once immediately so the first /metrics scrape isn't
// empty.
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

// Stop halts the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := c.source.NodeCounts()
	for _, kind := range allNodeKinds {
		NodesActive.WithLabelValues(kind.String()).Set(float64(counts[kind]))
	}
	ConfigCacheSize.Set(float64(c.source.ConfigCacheSize()))
}
