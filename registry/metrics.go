package registry

import "github.com/ethereum/go-ethereum/metrics"

// metrics, grounded on the teacher's preconf/metrics.go convention of
// package-level NewRegistered* gauges/meters/timers.
var (
	metricLiveStates = metrics.NewRegisteredGauge("builder/registry/live_states", nil)
	metricGCWatermark = metrics.NewRegisteredGauge("builder/registry/gc_watermark", nil)
	metricBuiltTotal  = metrics.NewRegisteredCounter("builder/registry/built_total", nil)
	metricSweptTotal  = metrics.NewRegisteredCounter("builder/registry/swept_total", nil)
)
