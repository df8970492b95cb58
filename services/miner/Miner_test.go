package miner

import (
	"context"
	"testing"
	"time"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/services/blockassembly"
	"github.com/bsv-blockchain/powledger/services/blockchain"
	"github.com/bsv-blockchain/powledger/stores/utxo/memory"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/bsv-blockchain/powledger/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, owner string) (*Miner, *blockchain.Blockchain) {
	t.Helper()

	tSettings := test.CreateBaseTestSettings()
	tSettings.Miner.Owner = owner
	tSettings.Miner.CandidateInterval = time.Second

	logger := ulogger.TestLogger{}

	chain, err := blockchain.New(logger, tSettings, memory.New(logger))
	require.NoError(t, err)

	return New(logger, tSettings, blockassembly.New(logger, tSettings, chain), chain), chain
}

func TestInit(t *testing.T) {
	m, _ := setup(t, "not hex")
	require.ErrorIs(t, m.Init(context.Background()), errors.ErrConfiguration)
}

func TestMineBlocks(t *testing.T) {
	_, owner := test.NewKey(t)
	m, chain := setup(t, owner.String())
	require.NoError(t, m.Init(context.Background()))

	require.NoError(t, m.MineBlocks(context.Background(), 3))

	assert.Equal(t, uint32(3), chain.GetBestHeight())
	assert.Len(t, chain.UnspentByOwner(owner), 3)
}

func TestStart(t *testing.T) {
	_, owner := test.NewKey(t)
	m, chain := setup(t, owner.String())
	require.NoError(t, m.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	readyCh := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- m.Start(ctx, readyCh)
	}()

	<-readyCh

	require.Eventually(t, func() bool {
		return chain.GetBestHeight() >= 2
	}, 10*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
