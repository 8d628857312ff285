package builder

import (
	"errors"

	"github.com/ethereum/go-ethereum/metrics"
)

var errBuildTimeout = errors.New("builder: block build exceeded configured timeout")

var (
	metricMempoolSize = metrics.NewRegisteredGauge("builder/state/mempool_size", nil)
	metricBlocksBuilt = metrics.NewRegisteredCounter("builder/state/blocks_built", nil)
)
