// Package tests holds the behaviour every utxo.Store implementation must show.
package tests

import (
	"context"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/stores/utxo"
	"github.com/bsv-blockchain/powledger/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(txs ...*model.Transaction) *model.Block {
	return model.NewBlock(&chainhash.Hash{}, 1, model.NewNBitFromUint32(0x207fffff), txs)
}

// ApplyRevert checks that Revert restores exactly what Apply changed.
func ApplyRevert(t *testing.T, store utxo.Store) {
	ctx := context.Background()
	key, owner := test.NewKey(t)
	_, other := test.NewKey(t)

	cb1 := model.NewCoinbaseTransaction(1, 5_000, owner)
	b1 := block(cb1)

	_, err := store.Apply(ctx, b1, 1)
	require.NoError(t, err)
	require.Equal(t, 1, store.Count())

	entry, ok := store.Get(test.Outpoint(cb1, 0))
	require.True(t, ok)
	assert.Equal(t, utxo.Entry{Value: 5_000, Owner: owner, Height: 1, Coinbase: true}, *entry)

	before := store.Snapshot()

	spend := test.Spend(t, key, []model.Outpoint{test.Outpoint(cb1, 0)}, test.Pay(other, 3_000), test.Pay(owner, 1_900))
	// a transaction spending an output created earlier in the same block
	chained := test.Spend(t, key, []model.Outpoint{test.Outpoint(spend, 1)}, test.Pay(other, 1_800))
	cb2 := model.NewCoinbaseTransaction(2, 5_200, owner)
	b2 := block(cb2, spend, chained)

	undo, err := store.Apply(ctx, b2, 2)
	require.NoError(t, err)
	require.Len(t, undo.Spent, 2)

	_, ok = store.Get(test.Outpoint(cb1, 0))
	assert.False(t, ok)
	_, ok = store.Get(test.Outpoint(spend, 1))
	assert.False(t, ok)
	assert.Equal(t, 3, store.Count())

	require.NoError(t, store.Revert(ctx, b2, undo))
	assert.Equal(t, before, store.Snapshot())
}

// NoDoubleRemoval checks that a block spending an output that is not unspent changes nothing.
func NoDoubleRemoval(t *testing.T, store utxo.Store) {
	ctx := context.Background()
	key, owner := test.NewKey(t)

	cb1 := model.NewCoinbaseTransaction(1, 5_000, owner)
	_, err := store.Apply(ctx, block(cb1), 1)
	require.NoError(t, err)

	spend := test.Spend(t, key, []model.Outpoint{test.Outpoint(cb1, 0)}, test.Pay(owner, 4_000))

	_, err = store.Apply(ctx, block(model.NewCoinbaseTransaction(2, 1, owner), spend), 2)
	require.NoError(t, err)

	before := store.Snapshot()

	again := test.Spend(t, key, []model.Outpoint{test.Outpoint(cb1, 0)}, test.Pay(owner, 3_000))

	_, err = store.Apply(ctx, block(model.NewCoinbaseTransaction(3, 1, owner), again), 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUtxoInvariant))
	assert.Equal(t, before, store.Snapshot())

	// two spends of the same live output inside one block
	first := test.Spend(t, key, []model.Outpoint{test.Outpoint(spend, 0)}, test.Pay(owner, 1_000))
	second := test.Spend(t, key, []model.Outpoint{test.Outpoint(spend, 0)}, test.Pay(owner, 2_000))

	_, err = store.Apply(ctx, block(model.NewCoinbaseTransaction(3, 1, owner), first, second), 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUtxoInvariant))
	assert.Equal(t, before, store.Snapshot())
}

// CommitView checks that staged changes land in one step and stale views are refused.
func CommitView(t *testing.T, store utxo.Store) {
	ctx := context.Background()
	key, owner := test.NewKey(t)

	cb1 := model.NewCoinbaseTransaction(1, 5_000, owner)
	_, err := store.Apply(ctx, block(cb1), 1)
	require.NoError(t, err)

	view := utxo.NewView(store)
	spend := test.Spend(t, key, []model.Outpoint{test.Outpoint(cb1, 0)}, test.Pay(owner, 4_000))

	_, err = view.ApplyTx(spend, 2)
	require.NoError(t, err)

	// nothing visible before the commit
	_, ok := store.Get(test.Outpoint(cb1, 0))
	require.True(t, ok)

	require.NoError(t, store.Commit(ctx, view))

	_, ok = store.Get(test.Outpoint(cb1, 0))
	assert.False(t, ok)
	_, ok = store.Get(test.Outpoint(spend, 0))
	assert.True(t, ok)

	// committing the same changes again would remove an output twice
	err = store.Commit(ctx, view)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUtxoInvariant))

	// a view over another view cannot be committed directly
	err = store.Commit(ctx, utxo.NewView(utxo.NewView(store)))
	require.Error(t, err)
}

// UnspentByOwner checks the wallet query.
func UnspentByOwner(t *testing.T, store utxo.Store) {
	ctx := context.Background()
	_, alice := test.NewKey(t)
	_, bob := test.NewKey(t)

	for height := uint32(1); height <= 3; height++ {
		_, err := store.Apply(ctx, block(model.NewCoinbaseTransaction(height, uint64(height), alice)), height)
		require.NoError(t, err)
	}

	_, err := store.Apply(ctx, block(model.NewCoinbaseTransaction(4, 4, bob)), 4)
	require.NoError(t, err)

	unspent := store.UnspentByOwner(alice)
	require.Len(t, unspent, 3)

	var total uint64
	for _, u := range unspent {
		assert.Equal(t, alice, u.Entry.Owner)
		total += u.Entry.Value
	}

	assert.Equal(t, uint64(6), total)
	assert.Len(t, store.UnspentByOwner(bob), 1)
	assert.Empty(t, store.UnspentByOwner(model.OwnerID{}))
}
