package auction

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace-builder/builder-core/coretypes"
	"github.com/marketplace-builder/builder-core/keys"
)

func TestOnViewFinishedPostsBidTargetingViewPlusThree(t *testing.T) {
	ks, err := keys.Generate()
	require.NoError(t, err)

	received := make(chan coretypes.BidTx, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var bid coretypes.BidTx
		require.NoError(t, json.NewDecoder(r.Body).Decode(&bid))
		received <- bid
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var seed [32]byte
	copy(seed[:], []byte("deterministic-account-seed-here"))
	cfg := coretypes.BidConfig{AccountSeed: seed, AccountIndex: 1, BidAmount: uint256.NewInt(500)}

	bidder := New(cfg, ks, coretypes.NamespaceID(3), srv.URL)
	bidder.OnViewFinished(coretypes.ViewFinishedEvent{View: 10})

	select {
	case bid := <-received:
		assert.Equal(t, coretypes.View(13), bid.View)
		assert.Equal(t, coretypes.NamespaceID(3), bid.Namespace)
		assert.Equal(t, uint64(500), bid.Amount.Uint64())
		assert.NotEmpty(t, bid.Signature)
	case <-time.After(2 * time.Second):
		t.Fatal("solver never received a bid")
	}
}
