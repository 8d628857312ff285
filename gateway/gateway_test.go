package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace-builder/builder-core/coretypes"
	"github.com/marketplace-builder/builder-core/ingress"
	"github.com/marketplace-builder/builder-core/keys"
	"github.com/marketplace-builder/builder-core/registry"
)

func TestAvailableBlocksRejectsInvalidSignature(t *testing.T) {
	reg := registry.New(ingress.New(nil))
	ks, err := keys.Generate()
	require.NoError(t, err)
	gw := New(reg, ks, 50*time.Millisecond)

	var parent coretypes.PayloadCommitment
	_, err = gw.AvailableBlocks(parent, 0, ks.PublicKey(), []byte("not-a-signature"))
	assert.ErrorIs(t, err, coretypes.ErrInvalidSignature)
}

func TestAvailableBlocksDispatchesToExactMatchAndSigns(t *testing.T) {
	reg := registry.New(ingress.New(nil))
	ks, err := keys.Generate()
	require.NoError(t, err)
	gw := New(reg, ks, 100*time.Millisecond)

	var parent coretypes.PayloadCommitment
	parent[0] = 7
	view := coretypes.View(1)

	reqCh := make(chan coretypes.RequestMessage, 1)
	reg.Register(coretypes.Anchor{Parent: parent, View: view}, reqCh)

	go func() {
		req := <-reqCh
		req.Reply <- coretypes.ResponseMessage{Commitment: coretypes.BuilderCommitment{1, 2, 3}, BlockSize: 42, OfferedFee: 42}
	}()

	sig, err := ks.Sign(parent[:])
	require.NoError(t, err)

	blocks, err := gw.AvailableBlocks(parent, view, ks.PublicKey(), sig)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	block := blocks[0]
	assert.EqualValues(t, 42, block.BlockSize)
	assert.True(t, ks.Verify(block.PubKey, summaryBytes(coretypes.ResponseMessage{Commitment: block.Commitment, BlockSize: block.BlockSize, OfferedFee: block.OfferedFee}), block.Signature))
}

func TestAvailableBlocksFallsBackToCacheOnTimeout(t *testing.T) {
	reg := registry.New(ingress.New(nil))
	ks, err := keys.Generate()
	require.NoError(t, err)
	gw := New(reg, ks, 30*time.Millisecond)

	var parent coretypes.PayloadCommitment
	parent[0] = 9
	view := coretypes.View(1)
	anchor := coretypes.Anchor{Parent: parent, View: view}

	reg.RecordBuilt(coretypes.BlockInfo{Commitment: coretypes.BuilderCommitment{5}, BlockSize: 7}, anchor, coretypes.ResponseMessage{Commitment: coretypes.BuilderCommitment{5}, BlockSize: 7})

	sig, err := ks.Sign(parent[:])
	require.NoError(t, err)

	blocks, err := gw.AvailableBlocks(parent, view, ks.PublicKey(), sig)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.EqualValues(t, 7, blocks[0].BlockSize)
}

func TestClaimBlockRoundTrip(t *testing.T) {
	reg := registry.New(ingress.New(nil))
	ks, err := keys.Generate()
	require.NoError(t, err)
	gw := New(reg, ks, 30*time.Millisecond)

	bc := coretypes.BuilderCommitment{4, 5, 6}
	view := coretypes.View(2)
	reg.RecordBuilt(coretypes.BlockInfo{Commitment: bc, Payload: []byte("payload"), OfferedFee: 11}, coretypes.Anchor{View: view}, coretypes.ResponseMessage{Commitment: bc})

	sig, err := ks.Sign(bc[:])
	require.NoError(t, err)

	claimed, err := gw.ClaimBlock(bc, view, ks.PublicKey(), sig)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), claimed.Payload)
	assert.True(t, ks.Verify(claimed.PubKey, bc[:], claimed.CommitmentSignature))
}

func TestClaimBlockNotFound(t *testing.T) {
	reg := registry.New(ingress.New(nil))
	ks, err := keys.Generate()
	require.NoError(t, err)
	gw := New(reg, ks, 30*time.Millisecond)

	bc := coretypes.BuilderCommitment{1}
	sig, err := ks.Sign(bc[:])
	require.NoError(t, err)

	_, err = gw.ClaimBlock(bc, 3, ks.PublicKey(), sig)
	assert.ErrorIs(t, err, coretypes.ErrBlockNotFound)
}
