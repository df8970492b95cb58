package blockchain

import (
	"context"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/blockvalidation"
	"github.com/bsv-blockchain/powledger/settings"
	"github.com/bsv-blockchain/powledger/stores/utxo/memory"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/bsv-blockchain/powledger/util/test"
	"github.com/libsv/go-bk/bec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlockchain(t *testing.T, opts ...func(*settings.Settings)) (*Blockchain, *chaincfg.Params) {
	t.Helper()

	tSettings := test.CreateBaseTestSettings()
	for _, opt := range opts {
		opt(tSettings)
	}

	logger := ulogger.TestLogger{}

	b, err := New(logger, tSettings, memory.New(logger))
	require.NoError(t, err)

	return b, tSettings.ChainCfgParams
}

func processAll(t *testing.T, b *Blockchain, blocks ...*model.Block) {
	t.Helper()

	for _, block := range blocks {
		result, err := b.ProcessBlock(context.Background(), block)
		require.NoError(t, err)
		require.Equal(t, blockvalidation.StatusAccepted, result.Status, "block %s: %v", block.Hash(), result.Err)
	}
}

func assertTip(t *testing.T, b *Blockchain, block *model.Block, height uint32) {
	t.Helper()

	header, h := b.GetBestBlockHeader()
	assert.Equal(t, block.Hash(), header.Hash())
	assert.Equal(t, height, h)
}

func TestNew(t *testing.T) {
	b, params := newTestBlockchain(t)

	header, height := b.GetBestBlockHeader()
	assert.Equal(t, params.GenesisHash, header.Hash())
	assert.Equal(t, uint32(0), height)
	assert.Equal(t, 1, b.BlockCount())
	assert.Equal(t, 0, b.UtxoCount())
	assert.Empty(t, b.CanonicalBlocks())

	t.Run("non empty store", func(t *testing.T) {
		tSettings := test.CreateBaseTestSettings()
		logger := ulogger.TestLogger{}
		store := memory.New(logger)

		_, owner := test.NewKey(t)
		b1 := test.MineBlock(t, params, params.GenesisBlock.Header, 1, owner, 0)
		_, err := store.Apply(context.Background(), b1, 1)
		require.NoError(t, err)

		_, err = New(logger, tSettings, store)
		require.Error(t, err)
	})
}

func TestProcessBlock(t *testing.T) {
	t.Run("extends the tip", func(t *testing.T) {
		b, params := newTestBlockchain(t)
		_, owner := test.NewKey(t)

		blocks := test.BuildChain(t, params, params.GenesisBlock.Header, 1, 3, owner)
		processAll(t, b, blocks...)

		assertTip(t, b, blocks[2], 3)
		assert.Equal(t, 3, b.UtxoCount())
		assert.Len(t, b.UnspentByOwner(owner), 3)
		assert.Equal(t, blocks, b.CanonicalBlocks())

		block, err := b.GetBlockByHeight(2)
		require.NoError(t, err)
		assert.Equal(t, blocks[1], block)

		_, err = b.GetBlockByHeight(4)
		require.ErrorIs(t, err, errors.ErrBlockNotFound)
	})

	t.Run("duplicate", func(t *testing.T) {
		b, params := newTestBlockchain(t)
		_, owner := test.NewKey(t)

		b1 := test.MineBlock(t, params, params.GenesisBlock.Header, 1, owner, 0)
		processAll(t, b, b1)

		result, err := b.ProcessBlock(context.Background(), b1)
		require.NoError(t, err)
		assert.Equal(t, blockvalidation.StatusRejected, result.Status)
		require.ErrorIs(t, result.Err, errors.ErrBlockExists)

		result, err = b.ProcessBlock(context.Background(), params.GenesisBlock)
		require.NoError(t, err)
		require.ErrorIs(t, result.Err, errors.ErrBlockExists)
	})

	t.Run("invalid block leaves the chain untouched", func(t *testing.T) {
		b, params := newTestBlockchain(t)
		_, owner := test.NewKey(t)

		b1 := test.MineBlock(t, params, params.GenesisBlock.Header, 1, owner, 0)
		b1.Transactions[0].Outputs[0].Value++
		b1.Header.HashMerkleRoot = hashPtr(b1.CalculateMerkleRoot())
		test.Solve(t, b1.Header)

		result, err := b.ProcessBlock(context.Background(), b1)
		require.NoError(t, err)
		assert.Equal(t, blockvalidation.StatusRejected, result.Status)
		require.ErrorIs(t, result.Err, errors.ErrBlockCoinbase)

		assert.False(t, b.GetBlockExists(b1.Hash()))
		assert.Equal(t, 0, b.UtxoCount())
	})
}

func hashPtr(h chainhash.Hash) *chainhash.Hash {
	return &h
}

func TestOrphans(t *testing.T) {
	t.Run("connected when the parent arrives", func(t *testing.T) {
		b, params := newTestBlockchain(t)
		_, owner := test.NewKey(t)

		blocks := test.BuildChain(t, params, params.GenesisBlock.Header, 1, 4, owner)

		// deliver 4, 2, 3 and finally 1
		for _, block := range []*model.Block{blocks[3], blocks[1], blocks[2]} {
			result, err := b.ProcessBlock(context.Background(), block)
			require.NoError(t, err)
			assert.Equal(t, blockvalidation.StatusOrphan, result.Status)
			require.ErrorIs(t, result.Err, errors.ErrBlockOrphan)
			assert.True(t, b.IsOrphan(block.Hash()))
		}

		assert.Equal(t, 3, b.OrphanCount())

		processAll(t, b, blocks[0])

		assertTip(t, b, blocks[3], 4)
		assert.Equal(t, 0, b.OrphanCount())
		assert.Equal(t, 4, b.UtxoCount())
	})

	t.Run("resubmitted orphan", func(t *testing.T) {
		b, params := newTestBlockchain(t)
		_, owner := test.NewKey(t)

		blocks := test.BuildChain(t, params, params.GenesisBlock.Header, 1, 2, owner)

		_, err := b.ProcessBlock(context.Background(), blocks[1])
		require.NoError(t, err)

		result, err := b.ProcessBlock(context.Background(), blocks[1])
		require.NoError(t, err)
		assert.Equal(t, blockvalidation.StatusOrphan, result.Status)
		assert.Equal(t, 1, b.OrphanCount())
	})

	t.Run("invalid orphan is rejected", func(t *testing.T) {
		b, params := newTestBlockchain(t)
		_, owner := test.NewKey(t)

		blocks := test.BuildChain(t, params, params.GenesisBlock.Header, 1, 2, owner)
		blocks[1].Header.HashMerkleRoot = &chainhash.Hash{}
		test.Solve(t, blocks[1].Header)

		result, err := b.ProcessBlock(context.Background(), blocks[1])
		require.NoError(t, err)
		assert.Equal(t, blockvalidation.StatusRejected, result.Status)
		assert.Equal(t, 0, b.OrphanCount())
	})

	t.Run("mutated copy does not shadow the valid block", func(t *testing.T) {
		b, params := newTestBlockchain(t)
		key, owner := test.NewKey(t)

		b1 := test.MineBlock(t, params, params.GenesisBlock.Header, 1, owner, 0)
		b2 := test.MineBlock(t, params, b1.Header, 2, owner, 0)

		value := params.BlockSubsidy(1)
		first := test.Spend(t, key, []model.Outpoint{test.Outpoint(b1.Transactions[0], 0)}, test.Pay(owner, value-100))
		second := test.Spend(t, key, []model.Outpoint{test.Outpoint(first, 0)}, test.Pay(owner, value-300))
		b3 := test.MineBlock(t, params, b2.Header, 3, owner, 300, first, second)

		mutated := &model.Block{
			Header:       b3.Header,
			Transactions: []*model.Transaction{b3.Transactions[0], first, second, second},
		}
		require.Equal(t, b3.Hash(), mutated.Hash())

		processAll(t, b, b1)

		result, err := b.ProcessBlock(context.Background(), mutated)
		require.NoError(t, err)
		assert.Equal(t, blockvalidation.StatusRejected, result.Status)
		require.ErrorIs(t, result.Err, errors.ErrBlockStructure)
		assert.False(t, b.IsOrphan(b3.Hash()))

		result, err = b.ProcessBlock(context.Background(), b3)
		require.NoError(t, err)
		assert.Equal(t, blockvalidation.StatusOrphan, result.Status)

		processAll(t, b, b2)

		assertTip(t, b, b3, 3)
		assert.True(t, b.GetBlockExists(b3.Hash()))
		assert.Equal(t, 0, b.OrphanCount())
	})

	t.Run("orphan pool is bounded", func(t *testing.T) {
		b, params := newTestBlockchain(t, func(s *settings.Settings) {
			s.BlockChain.MaxOrphanBlocks = 2
		})
		_, owner := test.NewKey(t)

		blocks := test.BuildChain(t, params, params.GenesisBlock.Header, 1, 5, owner)

		for _, block := range blocks[1:] {
			_, err := b.ProcessBlock(context.Background(), block)
			require.NoError(t, err)
		}

		assert.Equal(t, 2, b.OrphanCount())
	})
}

// reorgFixture has a shared first block c1 paying key, a branch A of two blocks whose second spends the
// c1 coinbase, and a longer branch B of three blocks from c1.
type reorgFixture struct {
	b      *Blockchain
	params *chaincfg.Params
	key    *bec.PrivateKey
	c1     *model.Block
	spend  *model.Transaction
	a      []*model.Block
	bb     []*model.Block
}

func newReorgFixture(t *testing.T, opts ...func(*settings.Settings)) *reorgFixture {
	t.Helper()

	b, params := newTestBlockchain(t, opts...)
	key, owner := test.NewKey(t)
	_, ownerA := test.NewKey(t)
	_, ownerB := test.NewKey(t)

	c1 := test.MineBlock(t, params, params.GenesisBlock.Header, 1, owner, 0)

	value := c1.Transactions[0].Outputs[0].Value
	spend := test.Spend(t, key, []model.Outpoint{test.Outpoint(c1.Transactions[0], 0)}, test.Pay(ownerA, value-1_000))

	a2 := test.MineBlock(t, params, c1.Header, 2, ownerA, 1_000, spend)
	a3 := test.MineBlock(t, params, a2.Header, 3, ownerA, 0)

	return &reorgFixture{
		b:      b,
		params: params,
		key:    key,
		c1:     c1,
		spend:  spend,
		a:      []*model.Block{a2, a3},
		bb:     test.BuildChain(t, params, c1.Header, 2, 3, ownerB),
	}
}

func TestReorg(t *testing.T) {
	t.Run("heavier branch becomes canonical", func(t *testing.T) {
		f := newReorgFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		notifications := f.b.Subscribe(ctx, "test")

		processAll(t, f.b, f.c1)
		processAll(t, f.b, f.a...)
		assertTip(t, f.b, f.a[1], 3)

		// equal work does not move the tip
		processAll(t, f.b, f.bb[0], f.bb[1])
		assertTip(t, f.b, f.a[1], 3)
		assert.False(t, f.b.IsCanonical(f.bb[1].Hash()))

		processAll(t, f.b, f.bb[2])
		assertTip(t, f.b, f.bb[2], 4)
		assert.True(t, f.b.IsCanonical(f.bb[0].Hash()))
		assert.False(t, f.b.IsCanonical(f.a[0].Hash()))

		// side blocks stay retrievable
		block, err := f.b.GetBlock(f.a[0].Hash())
		require.NoError(t, err)
		assert.Equal(t, f.a[0], block)

		// the unspent set equals a direct application of the new chain
		expected := memory.New(ulogger.TestLogger{})

		for i, block := range append([]*model.Block{f.c1}, f.bb...) {
			_, err = expected.Apply(context.Background(), block, uint32(i+1)) //nolint:gosec // test heights
			require.NoError(t, err)
		}

		assert.Equal(t, expected.Snapshot(), f.b.utxoStore.Snapshot())

		// the spend of the abandoned branch is back in the mempool
		assert.Len(t, f.b.MempoolTransactions(), 1)

		spendID := f.spend.TxID()
		tx, ok := f.b.GetMempoolTransaction(&spendID)
		require.True(t, ok)
		assert.Equal(t, spendID, tx.TxID())

		var last *model.Notification

		for i := 0; i < 4; i++ {
			last = <-notifications
			assert.Equal(t, model.NotificationTypeBlock, last.Type)
		}

		assert.Equal(t, f.bb[2].Hash(), last.Hash)
		assert.Equal(t, uint32(4), last.Height)
		assert.True(t, last.Reorg)
	})

	t.Run("conflicting side branch", func(t *testing.T) {
		f := newReorgFixture(t)
		_, other := test.NewKey(t)

		processAll(t, f.b, f.c1)
		processAll(t, f.b, f.a...)

		// a side branch spending the c1 coinbase differently is valid on its own branch
		value := f.c1.Transactions[0].Outputs[0].Value
		conflict := test.Spend(t, f.key, []model.Outpoint{test.Outpoint(f.c1.Transactions[0], 0)}, test.Pay(other, value-500))

		s2 := test.MineBlock(t, f.params, f.c1.Header, 2, other, 500, conflict)
		s3 := test.MineBlock(t, f.params, s2.Header, 3, other, 0)
		processAll(t, f.b, s2, s3)
		assertTip(t, f.b, f.a[1], 3)

		s4 := test.MineBlock(t, f.params, s3.Header, 4, other, 0)
		processAll(t, f.b, s4)
		assertTip(t, f.b, s4, 4)

		// the abandoned spend now conflicts with the chain
		assert.Empty(t, f.b.MempoolTransactions())

		entry, ok := f.b.GetUtxo(test.Outpoint(conflict, 0))
		require.True(t, ok)
		assert.Equal(t, value-500, entry.Value)

		_, ok = f.b.GetUtxo(test.Outpoint(f.spend, 0))
		assert.False(t, ok)
	})

	t.Run("side branch spending a missing output", func(t *testing.T) {
		f := newReorgFixture(t)
		_, other := test.NewKey(t)

		processAll(t, f.b, f.c1)
		processAll(t, f.b, f.a...)

		// a3's coinbase does not exist on a branch forking at c1
		bogus := test.Spend(t, f.key, []model.Outpoint{test.Outpoint(f.a[1].Transactions[0], 0)}, test.Pay(other, 1))
		s2 := test.MineBlock(t, f.params, f.c1.Header, 2, other, 0, bogus)

		result, err := f.b.ProcessBlock(context.Background(), s2)
		require.NoError(t, err)
		assert.Equal(t, blockvalidation.StatusRejected, result.Status)
		require.ErrorIs(t, result.Err, errors.ErrTxMissingInput)
		assertTip(t, f.b, f.a[1], 3)
	})

	t.Run("too deep", func(t *testing.T) {
		b, params := newTestBlockchain(t, func(s *settings.Settings) {
			s.BlockChain.MaxReorgDepth = 2
		})
		_, owner := test.NewKey(t)
		_, other := test.NewKey(t)

		processAll(t, b, test.BuildChain(t, params, params.GenesisBlock.Header, 1, 4, owner)...)

		side := test.MineBlock(t, params, params.GenesisBlock.Header, 1, other, 0)

		result, err := b.ProcessBlock(context.Background(), side)
		require.NoError(t, err)
		assert.Equal(t, blockvalidation.StatusRejected, result.Status)
		require.ErrorIs(t, result.Err, errors.ErrBlockReorgTooDeep)
		assert.False(t, b.GetBlockExists(side.Hash()))
	})
}

func TestLocator(t *testing.T) {
	b, params := newTestBlockchain(t)
	_, owner := test.NewKey(t)

	blocks := test.BuildChain(t, params, params.GenesisBlock.Header, 1, 30, owner)
	processAll(t, b, blocks...)

	locator := b.GetBlockLocator()
	require.NotEmpty(t, locator)
	assert.Equal(t, *blocks[29].Hash(), locator[0])
	assert.Equal(t, *params.GenesisHash, locator[len(locator)-1])

	// ten dense entries then doubling steps: 30..21, 19, 15, 7, genesis
	assert.Len(t, locator, 14)
	assert.Equal(t, *blocks[18].Hash(), locator[10])

	t.Run("locate after a known block", func(t *testing.T) {
		hashes := b.LocateBlocks([]chainhash.Hash{*blocks[4].Hash()}, nil, 500)
		require.Len(t, hashes, 25)
		assert.Equal(t, *blocks[5].Hash(), hashes[0])
	})

	t.Run("limit and stop", func(t *testing.T) {
		assert.Len(t, b.LocateBlocks([]chainhash.Hash{*params.GenesisHash}, nil, 10), 10)

		hashes := b.LocateBlocks([]chainhash.Hash{*params.GenesisHash}, blocks[2].Hash(), 500)
		assert.Len(t, hashes, 3)
	})

	t.Run("unknown locator starts at genesis", func(t *testing.T) {
		headers := b.LocateHeaders([]chainhash.Hash{{0x01}}, nil, 5)
		require.Len(t, headers, 5)
		assert.Equal(t, blocks[0].Header.Hash(), headers[0].Hash())
	})

	t.Run("peer at the tip", func(t *testing.T) {
		assert.Empty(t, b.LocateBlocks(locator, nil, 500))
	})
}

func TestMiningCandidate(t *testing.T) {
	b, params := newTestBlockchain(t)
	key, owner := test.NewKey(t)
	_, miner := test.NewKey(t)

	b1 := test.MineBlock(t, params, params.GenesisBlock.Header, 1, owner, 0)
	processAll(t, b, b1)

	value := b1.Transactions[0].Outputs[0].Value
	tx := test.Spend(t, key, []model.Outpoint{test.Outpoint(b1.Transactions[0], 0)}, test.Pay(owner, value-2_000))

	entry, err := b.SubmitTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000), entry.Fee)

	_, err = b.SubmitTransaction(context.Background(), tx)
	require.ErrorIs(t, err, errors.ErrTxExists)

	candidate, err := b.GetMiningCandidate(10)
	require.NoError(t, err)
	assert.Equal(t, b1.Hash(), candidate.PreviousHash)
	assert.Equal(t, uint32(2), candidate.Height)
	assert.Equal(t, uint64(2_000), candidate.Fees)
	assert.Equal(t, params.BlockSubsidy(2)+2_000, candidate.CoinbaseValue)
	require.Len(t, candidate.Transactions, 1)

	block := candidate.NewBlock(candidate.CreateCoinbaseTx(miner), candidate.MinTime+1, 0)
	test.Solve(t, block.Header)

	processAll(t, b, block)
	assert.Empty(t, b.MempoolTransactions())
	assert.Len(t, b.UnspentByOwner(miner), 1)
}

func TestMiningCandidateRewardOverflow(t *testing.T) {
	b, params := newTestBlockchain(t, func(s *settings.Settings) {
		s.ChainCfgParams.InitialSubsidy = math.MaxUint64
	})
	key, owner := test.NewKey(t)

	b1 := test.MineBlock(t, params, params.GenesisBlock.Header, 1, owner, 0)
	processAll(t, b, b1)

	tx := test.Spend(t, key, []model.Outpoint{test.Outpoint(b1.Transactions[0], 0)}, test.Pay(owner, math.MaxUint64-2_000))

	_, err := b.SubmitTransaction(context.Background(), tx)
	require.NoError(t, err)

	_, err = b.GetMiningCandidate(10)
	require.ErrorIs(t, err, errors.ErrTxValueOverflow)
}

func TestMempoolReadersWaitForProcessing(t *testing.T) {
	b, params := newTestBlockchain(t)
	key, owner := test.NewKey(t)

	b1 := test.MineBlock(t, params, params.GenesisBlock.Header, 1, owner, 0)
	processAll(t, b, b1)

	tx := test.Spend(t, key, []model.Outpoint{test.Outpoint(b1.Transactions[0], 0)}, test.Pay(owner, 1_000))

	_, err := b.SubmitTransaction(context.Background(), tx)
	require.NoError(t, err)

	// a writer in the middle of processing a block
	b.mu.Lock()

	done := make(chan int, 1)

	go func() {
		_, _ = b.GetMempoolTransaction(tx.TxIDChainHash())
		done <- len(b.MempoolTransactions())
	}()

	select {
	case <-done:
		t.Fatal("mempool read while the chain was being mutated")
	case <-time.After(50 * time.Millisecond):
	}

	b.mu.Unlock()

	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		t.Fatal("mempool read did not complete")
	}
}

func TestSubscribe(t *testing.T) {
	b, params := newTestBlockchain(t)
	key, owner := test.NewKey(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx, "test")

	b1 := test.MineBlock(t, params, params.GenesisBlock.Header, 1, owner, 0)
	processAll(t, b, b1)

	tx := test.Spend(t, key, []model.Outpoint{test.Outpoint(b1.Transactions[0], 0)}, test.Pay(owner, 1))
	_, err := b.SubmitTransaction(context.Background(), tx)
	require.NoError(t, err)

	n := <-ch
	assert.Equal(t, model.NotificationTypeBlock, n.Type)
	assert.Equal(t, b1.Hash(), n.Hash)
	assert.False(t, n.Reorg)

	n = <-ch
	assert.Equal(t, model.NotificationTypeTransaction, n.Type)
	assert.Equal(t, tx.TxIDChainHash(), n.Hash)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestFiniteStateMachine(t *testing.T) {
	b, _ := newTestBlockchain(t)
	ctx := context.Background()

	assert.Equal(t, FSMStateIdle, b.GetFSMCurrentState())

	status, _, err := b.Health(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	require.NoError(t, b.Run(ctx))
	assert.Equal(t, FSMStateRunning, b.GetFSMCurrentState())

	require.NoError(t, b.CatchUpBlocks(ctx))
	assert.True(t, b.IsCatchingUp())

	// repeated events are ignored
	require.NoError(t, b.CatchUpBlocks(ctx))

	require.NoError(t, b.Run(ctx))
	assert.Equal(t, FSMStateRunning, b.GetFSMCurrentState())

	require.NoError(t, b.Stop(ctx))
	assert.Equal(t, FSMStateStopped, b.GetFSMCurrentState())

	// a stopped node cannot be restarted
	require.NoError(t, b.Run(ctx))
	assert.Equal(t, FSMStateStopped, b.GetFSMCurrentState())
}

func TestStartStop(t *testing.T) {
	b, _ := newTestBlockchain(t)

	ctx, cancel := context.WithCancel(context.Background())
	readyCh := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- b.Start(ctx, readyCh)
	}()

	<-readyCh

	status, _, err := b.Health(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, b.Stop(context.Background()))
}
