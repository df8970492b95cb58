package blockassembly

import (
	"context"
	"testing"
	"time"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/blockchain"
	"github.com/bsv-blockchain/powledger/services/blockvalidation"
	"github.com/bsv-blockchain/powledger/stores/utxo/memory"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/bsv-blockchain/powledger/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*BlockAssembly, *blockchain.Blockchain) {
	t.Helper()

	tSettings := test.CreateBaseTestSettings()
	logger := ulogger.TestLogger{}

	chain, err := blockchain.New(logger, tSettings, memory.New(logger))
	require.NoError(t, err)

	return New(logger, tSettings, chain), chain
}

// solve finds a nonce for the candidate paid to owner.
func solve(t *testing.T, candidate *model.MiningCandidate, owner model.OwnerID) *model.MiningSolution {
	t.Helper()

	ts := candidate.MinTime + 1
	block := candidate.NewBlock(candidate.CreateCoinbaseTx(owner), ts, 0)
	test.Solve(t, block.Header)

	return &model.MiningSolution{
		ID:    candidate.ID,
		Owner: owner,
		Nonce: block.Header.Nonce,
		Time:  ts,
	}
}

func TestMiningRoundTrip(t *testing.T) {
	ba, chain := setup(t)
	ctx := context.Background()
	_, owner := test.NewKey(t)

	candidate, err := ba.GetMiningCandidate(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, candidate.ID)
	assert.Equal(t, uint32(1), candidate.Height)

	result, err := ba.SubmitMiningSolution(ctx, solve(t, candidate, owner))
	require.NoError(t, err)
	assert.Equal(t, blockvalidation.StatusAccepted, result.Status)
	assert.Equal(t, uint32(1), chain.GetBestHeight())
	assert.Len(t, chain.UnspentByOwner(owner), 1)

	// a candidate is used once
	_, err = ba.SubmitMiningSolution(ctx, solve(t, candidate, owner))
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestSubmitMiningSolution(t *testing.T) {
	t.Run("unknown candidate", func(t *testing.T) {
		ba, _ := setup(t)

		_, err := ba.SubmitMiningSolution(context.Background(), &model.MiningSolution{ID: "nope"})
		require.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("greedy coinbase", func(t *testing.T) {
		ba, chain := setup(t)
		_, owner := test.NewKey(t)

		candidate, err := ba.GetMiningCandidate(context.Background())
		require.NoError(t, err)

		coinbase := model.NewCoinbaseTransaction(candidate.Height, candidate.CoinbaseValue+1, owner)
		block := candidate.NewBlock(coinbase, candidate.MinTime+1, 0)
		test.Solve(t, block.Header)

		result, err := ba.SubmitMiningSolution(context.Background(), &model.MiningSolution{
			ID:       candidate.ID,
			Nonce:    block.Header.Nonce,
			Time:     candidate.MinTime + 1,
			Coinbase: coinbase,
		})
		require.NoError(t, err)
		assert.Equal(t, blockvalidation.StatusRejected, result.Status)
		require.ErrorIs(t, result.Err, errors.ErrBlockCoinbase)
		assert.Equal(t, uint32(0), chain.GetBestHeight())
	})

	t.Run("candidate includes mempool transactions", func(t *testing.T) {
		ba, chain := setup(t)
		key, owner := test.NewKey(t)

		candidate, err := ba.GetMiningCandidate(context.Background())
		require.NoError(t, err)

		_, err = ba.SubmitMiningSolution(context.Background(), solve(t, candidate, owner))
		require.NoError(t, err)

		b1, err := chain.GetBlockByHeight(1)
		require.NoError(t, err)

		value := b1.Transactions[0].Outputs[0].Value
		tx := test.Spend(t, key, []model.Outpoint{test.Outpoint(b1.Transactions[0], 0)}, test.Pay(owner, value-300))

		_, err = chain.SubmitTransaction(context.Background(), tx)
		require.NoError(t, err)

		candidate, err = ba.GetMiningCandidate(context.Background())
		require.NoError(t, err)
		require.Len(t, candidate.Transactions, 1)
		assert.Equal(t, uint64(300), candidate.Fees)

		result, err := ba.SubmitMiningSolution(context.Background(), solve(t, candidate, owner))
		require.NoError(t, err)
		assert.Equal(t, blockvalidation.StatusAccepted, result.Status)
		assert.Empty(t, chain.MempoolTransactions())
	})
}

func TestCandidatesInvalidatedOnTipChange(t *testing.T) {
	ba, chain := setup(t)
	_, owner := test.NewKey(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readyCh := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- ba.Start(ctx, readyCh)
	}()

	<-readyCh

	stale, err := ba.GetMiningCandidate(ctx)
	require.NoError(t, err)

	current, err := ba.GetMiningCandidate(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, current.ID)

	_, err = ba.SubmitMiningSolution(ctx, solve(t, current, owner))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ba.candidates.Len() == 0
	}, time.Second, 10*time.Millisecond)

	_, err = ba.SubmitMiningSolution(ctx, solve(t, stale, owner))
	require.ErrorIs(t, err, errors.ErrNotFound)
	assert.Equal(t, uint32(1), chain.GetBestHeight())

	cancel()
	require.NoError(t, <-done)
}
