package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace-builder/builder-core/coretypes"
	"github.com/marketplace-builder/builder-core/gateway"
	"github.com/marketplace-builder/builder-core/ingress"
	"github.com/marketplace-builder/builder-core/keys"
	"github.com/marketplace-builder/builder-core/registry"
)

func TestBuilderAddressReturnsHexEncodedKey(t *testing.T) {
	reg := registry.New(ingress.New(nil))
	ks, err := keys.Generate()
	require.NoError(t, err)
	gw := gateway.New(reg, ks, 50*time.Millisecond)
	srv := httptest.NewServer(NewServer(gw).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/builder_address")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "0x"+hex.EncodeToString(ks.PublicKey()), body["address"])
}

func TestAvailableBlocksReturns400OnBadSignature(t *testing.T) {
	reg := registry.New(ingress.New(nil))
	ks, err := keys.Generate()
	require.NoError(t, err)
	gw := gateway.New(reg, ks, 20*time.Millisecond)
	srv := httptest.NewServer(NewServer(gw).Router())
	defer srv.Close()

	var parent coretypes.PayloadCommitment
	url := srv.URL + "/available_blocks/" + hex.EncodeToString(parent[:]) + "/0/" + hex.EncodeToString(ks.PublicKey()) + "/00"
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAvailableBlocksReturnsJSONArrayOnSuccess(t *testing.T) {
	reg := registry.New(ingress.New(nil))
	ks, err := keys.Generate()
	require.NoError(t, err)
	gw := gateway.New(reg, ks, 50*time.Millisecond)
	srv := httptest.NewServer(NewServer(gw).Router())
	defer srv.Close()

	var parent coretypes.PayloadCommitment
	parent[0] = 3
	view := coretypes.View(1)
	anchor := coretypes.Anchor{Parent: parent, View: view}
	reg.RecordBuilt(coretypes.BlockInfo{Commitment: coretypes.BuilderCommitment{1}, BlockSize: 5}, anchor, coretypes.ResponseMessage{Commitment: coretypes.BuilderCommitment{1}, BlockSize: 5})

	sig, err := ks.Sign(parent[:])
	require.NoError(t, err)

	url := srv.URL + "/available_blocks/" + hex.EncodeToString(parent[:]) + "/1/" + hex.EncodeToString(ks.PublicKey()) + "/" + hex.EncodeToString(sig)
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body, 1, "available_blocks must return a JSON array of at most one block-info")
}

func TestSubmitTxnsReturnsCommitments(t *testing.T) {
	reg := registry.New(ingress.New(nil))
	ks, err := keys.Generate()
	require.NoError(t, err)
	gw := gateway.New(reg, ks, 20*time.Millisecond)
	srv := httptest.NewServer(NewServer(gw).Router())
	defer srv.Close()

	body := submitTxnsRequest{Transactions: []string{hex.EncodeToString([]byte("tx-one"))}}
	buf, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/submit_txns", "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out["commitments"], 1)
}
