// Package config holds the builder's static configuration, grounded
// on the teacher's preconf.MinerConfig: a plain struct with a
// DefaultXConfig value and a String() method for startup logging,
// rather than a flags-parsing struct.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/marketplace-builder/builder-core/coretypes"
)

// DefaultBuilderConfig mirrors the teacher's DefaultMinerConfig
// pattern: one package-level value callers start from and override.
var DefaultBuilderConfig = BuilderConfig{
	HotShotEventsURL:     "http://localhost:41000",
	SolverURL:            "http://localhost:41001/submit_bid",
	APIListenAddr:        ":41002",
	MaxAPIWaitingTime:    100 * time.Millisecond,
	BroadcastBufferSize:  32,
	AllowEmptyBlockPeriod: 3,
	MaxBlockSize:          1 << 20,
	BuildTimeout:          40 * time.Millisecond,
	SweepInterval:         time.Second,
}

// BuilderConfig is the full set of knobs spec §6 calls out.
type BuilderConfig struct {
	HotShotEventsURL string
	SolverURL        string
	APIListenAddr    string
	Namespace        *coretypes.NamespaceID
	BidConfigPath    string

	MaxAPIWaitingTime     time.Duration
	BroadcastBufferSize   int
	AllowEmptyBlockPeriod coretypes.View
	MaxBlockSize          uint64
	BuildTimeout          time.Duration
	SweepInterval         time.Duration
}

func (c *BuilderConfig) String() string {
	ns := "none"
	if c.Namespace != nil {
		ns = fmt.Sprintf("%d", *c.Namespace)
	}
	return fmt.Sprintf(
		"HotShotEventsURL: %s, SolverURL: %s, APIListenAddr: %s, Namespace: %s, MaxAPIWaitingTime: %s, BroadcastBufferSize: %d, AllowEmptyBlockPeriod: %d, MaxBlockSize: %d, BuildTimeout: %s, SweepInterval: %s",
		c.HotShotEventsURL, c.SolverURL, c.APIListenAddr, ns, c.MaxAPIWaitingTime, c.BroadcastBufferSize, c.AllowEmptyBlockPeriod, c.MaxBlockSize, c.BuildTimeout, c.SweepInterval,
	)
}

// LoadBidConfig reads the JSON bid configuration file spec §6
// describes (account_seed, account_index, bid_amount).
func LoadBidConfig(path string) (coretypes.BidConfig, error) {
	var cfg coretypes.BidConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read bid config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse bid config: %w", err)
	}
	if cfg.BidAmount == nil {
		return cfg, fmt.Errorf("config: bid config %s missing required bid_amount", path)
	}
	return cfg, nil
}
