package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace-builder/builder-core/coretypes"
)

func TestBuilderConfigStringIncludesKeyFields(t *testing.T) {
	cfg := DefaultBuilderConfig
	s := cfg.String()
	assert.Contains(t, s, cfg.HotShotEventsURL)
	assert.Contains(t, s, cfg.SolverURL)
	assert.Contains(t, s, "Namespace: none")
}

func TestLoadBidConfigRoundTrip(t *testing.T) {
	want := coretypes.BidConfig{AccountIndex: 2, BidAmount: uint256.NewInt(1000)}
	want.AccountSeed[0] = 0xAB

	data, err := json.Marshal(want)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bid.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	got, err := LoadBidConfig(path)
	require.NoError(t, err)
	assert.Equal(t, want.AccountIndex, got.AccountIndex)
	assert.Equal(t, want.AccountSeed, got.AccountSeed)
	assert.EqualValues(t, 1000, got.BidAmount.Uint64())
}

func TestLoadBidConfigMissingFile(t *testing.T) {
	_, err := LoadBidConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
