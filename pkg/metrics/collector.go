package metrics

import "time"

// StatsSource is implemented by anything that can report a snapshot of
// session-level gauges. A *dbsession.Session satisfies this so the
// collector never has to import the session package directly.
type StatsSource interface {
	OpenConnections() int
	LocksHeld() int
}

// Collector periodically samples a StatsSource into the package's gauges.
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector for the given source.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic collection on a background goroutine.
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

// Stop halts the collector's background goroutine.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.source == nil {
		return
	}
	DBConnectionsOpen.Set(float64(c.source.OpenConnections()))
	AdvisoryLocksHeld.Set(float64(c.source.LocksHeld()))
}
