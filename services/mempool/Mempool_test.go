package mempool

import (
	"context"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/validator"
	"github.com/bsv-blockchain/powledger/stores/utxo/memory"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/bsv-blockchain/powledger/util/test"
	"github.com/libsv/go-bk/bec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fundValue = 10_000

type fixture struct {
	pool  *Mempool
	store *memory.Memory
	key   *bec.PrivateKey
	owner model.OwnerID
	funds []model.Outpoint
}

// setup funds owner with n outputs of fundValue in the store.
func setup(t *testing.T, n int) *fixture {
	t.Helper()

	tSettings := test.CreateBaseTestSettings()
	logger := ulogger.TestLogger{}
	store := memory.New(logger)
	key, owner := test.NewKey(t)

	cb := model.NewCoinbaseTransaction(1, fundValue, owner)
	for i := 1; i < n; i++ {
		cb.Outputs = append(cb.Outputs, test.Pay(owner, fundValue))
	}

	_, err := store.Apply(context.Background(), model.NewBlock(&chainhash.Hash{}, 1, model.NBit{}, []*model.Transaction{cb}), 1)
	require.NoError(t, err)

	funds := make([]model.Outpoint, n)
	for i := range funds {
		funds[i] = test.Outpoint(cb, uint32(i)) //nolint:gosec // small test counts
	}

	return &fixture{
		pool:  New(logger, tSettings, validator.New(logger, tSettings)),
		store: store,
		key:   key,
		owner: owner,
		funds: funds,
	}
}

// spend pays fee out of the given funding output.
func (f *fixture) spend(t *testing.T, op model.Outpoint, value, fee uint64) *model.Transaction {
	t.Helper()

	return test.Spend(t, f.key, []model.Outpoint{op}, test.Pay(f.owner, value-fee))
}

func (f *fixture) add(t *testing.T, tx *model.Transaction) *Entry {
	t.Helper()

	entry, err := f.pool.Add(tx, f.store, 1)
	require.NoError(t, err)

	return entry
}

func txIDs(entries []*Entry) []chainhash.Hash {
	ids := make([]chainhash.Hash, len(entries))
	for i, e := range entries {
		ids[i] = e.TxID
	}

	return ids
}

func TestAdd(t *testing.T) {
	t.Run("admits a valid spend", func(t *testing.T) {
		f := setup(t, 1)
		tx := f.spend(t, f.funds[0], fundValue, 250)

		entry := f.add(t, tx)
		assert.Equal(t, uint64(250), entry.Fee)
		assert.Equal(t, tx.Size(), entry.Size)
		assert.Equal(t, 1, f.pool.Count())
		assert.True(t, f.pool.Has(tx.TxID()))

		got, ok := f.pool.Get(tx.TxID())
		require.True(t, ok)
		assert.Same(t, entry, got)

		// the store is untouched
		_, ok = f.store.Get(f.funds[0])
		assert.True(t, ok)
	})

	t.Run("duplicate", func(t *testing.T) {
		f := setup(t, 1)
		tx := f.spend(t, f.funds[0], fundValue, 250)
		f.add(t, tx)

		_, err := f.pool.Add(tx, f.store, 1)
		require.ErrorIs(t, err, errors.ErrTxExists)
	})

	t.Run("conflicting spend", func(t *testing.T) {
		f := setup(t, 1)
		first := f.spend(t, f.funds[0], fundValue, 250)
		f.add(t, first)

		second := f.spend(t, f.funds[0], fundValue, 900)
		_, err := f.pool.Add(second, f.store, 1)
		require.ErrorIs(t, err, errors.ErrTxDoubleSpend)

		assert.Equal(t, []chainhash.Hash{first.TxID()}, txIDs(f.pool.Entries()))
	})

	t.Run("coinbase", func(t *testing.T) {
		f := setup(t, 1)

		_, err := f.pool.Add(model.NewCoinbaseTransaction(2, 1, f.owner), f.store, 1)
		require.ErrorIs(t, err, errors.ErrTxCoinbase)
	})

	t.Run("invalid", func(t *testing.T) {
		f := setup(t, 1)
		missing := model.Outpoint{TxID: chainhash.DoubleHashH([]byte("missing"))}
		tx := test.Spend(t, f.key, []model.Outpoint{missing}, test.Pay(f.owner, 1))

		_, err := f.pool.Add(tx, f.store, 1)
		require.ErrorIs(t, err, errors.ErrTxMissingInput)
		assert.Zero(t, f.pool.Count())
	})

	t.Run("chained spends", func(t *testing.T) {
		f := setup(t, 1)
		parent := f.spend(t, f.funds[0], fundValue, 100)
		f.add(t, parent)

		child := f.spend(t, test.Outpoint(parent, 0), fundValue-100, 100)
		f.add(t, child)

		view := f.pool.View(f.store)

		_, ok := view.Get(test.Outpoint(parent, 0))
		assert.False(t, ok)

		_, ok = view.Get(test.Outpoint(child, 0))
		assert.True(t, ok)

		_, ok = view.Get(f.funds[0])
		assert.False(t, ok)
	})
}

func TestFeeRateOrdering(t *testing.T) {
	cheap := &Entry{Fee: 100, Size: 200, seq: 0}
	rich := &Entry{Fee: 300, Size: 200, seq: 1}
	sameRate := &Entry{Fee: 150, Size: 100, seq: 2}
	sameRateLater := &Entry{Fee: 600, Size: 400, seq: 3}

	assert.True(t, rich.FeeRateHigher(cheap))
	assert.False(t, cheap.FeeRateHigher(rich))
	assert.False(t, rich.FeeRateHigher(sameRate))
	assert.False(t, sameRate.FeeRateHigher(rich))

	// equal rates fall back to arrival order
	assert.True(t, sameRate.before(sameRateLater))
	assert.False(t, sameRateLater.before(sameRate))
	assert.True(t, rich.before(sameRate))

	// no overflow on large fees
	huge := &Entry{Fee: ^uint64(0), Size: 1 << 20}
	hugeButLarger := &Entry{Fee: ^uint64(0), Size: 1 << 21}
	assert.True(t, huge.FeeRateHigher(hugeButLarger))
}

func TestSelectTransactions(t *testing.T) {
	t.Run("descending fee rate", func(t *testing.T) {
		f := setup(t, 3)
		low := f.spend(t, f.funds[0], fundValue, 100)
		high := f.spend(t, f.funds[1], fundValue, 3_000)
		mid := f.spend(t, f.funds[2], fundValue, 2_000)

		f.add(t, low)
		f.add(t, high)
		f.add(t, mid)

		assert.Equal(t, []chainhash.Hash{high.TxID(), mid.TxID(), low.TxID()}, txIDs(f.pool.SelectTransactions(10)))
		assert.Equal(t, []chainhash.Hash{high.TxID(), mid.TxID()}, txIDs(f.pool.SelectTransactions(2)))
		assert.Empty(t, f.pool.SelectTransactions(0))
	})

	t.Run("parents before children", func(t *testing.T) {
		f := setup(t, 2)
		parent := f.spend(t, f.funds[0], fundValue, 10)
		child := f.spend(t, test.Outpoint(parent, 0), fundValue-10, 5_000)
		other := f.spend(t, f.funds[1], fundValue, 1_000)

		f.add(t, parent)
		f.add(t, child)
		f.add(t, other)

		assert.Equal(t, []chainhash.Hash{other.TxID(), parent.TxID(), child.TxID()}, txIDs(f.pool.SelectTransactions(10)))

		// a child is never selected without its parent
		assert.Equal(t, []chainhash.Hash{other.TxID()}, txIDs(f.pool.SelectTransactions(1)))
	})
}

func TestBlockConnected(t *testing.T) {
	f := setup(t, 3)

	included := f.spend(t, f.funds[0], fundValue, 100)
	loser := f.spend(t, f.funds[1], fundValue, 100)
	loserChild := f.spend(t, test.Outpoint(loser, 0), fundValue-100, 100)
	bystander := f.spend(t, f.funds[2], fundValue, 100)

	f.add(t, included)
	f.add(t, loser)
	f.add(t, loserChild)
	f.add(t, bystander)

	// a block confirms included and a different spend of loser's input
	winner := f.spend(t, f.funds[1], fundValue, 700)
	block := model.NewBlock(&chainhash.Hash{}, 2, model.NBit{}, []*model.Transaction{
		model.NewCoinbaseTransaction(2, 1, f.owner), included, winner,
	})

	_, err := f.store.Apply(context.Background(), block, 2)
	require.NoError(t, err)

	confirmed, conflicted := f.pool.BlockConnected(block)
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 2, conflicted)

	assert.Equal(t, []chainhash.Hash{bystander.TxID()}, txIDs(f.pool.Entries()))

	// the pool keeps accepting against the new set
	next := f.spend(t, test.Outpoint(included, 0), fundValue-100, 100)
	f.add(t, next)
}

func TestReadmit(t *testing.T) {
	f := setup(t, 2)
	ctx := context.Background()

	// t1 is confirmed by a block that is later abandoned
	t1 := f.spend(t, f.funds[0], fundValue, 400)
	abandoned := model.NewBlock(&chainhash.Hash{}, 2, model.NBit{}, []*model.Transaction{
		model.NewCoinbaseTransaction(2, 1, f.owner), t1,
	})

	undo, err := f.store.Apply(ctx, abandoned, 2)
	require.NoError(t, err)

	// while it was confirmed the pool admitted a spend of its output and an unrelated spend
	dependent := f.spend(t, test.Outpoint(t1, 0), fundValue-400, 100)
	unrelated := f.spend(t, f.funds[1], fundValue, 100)
	f.add(t, dependent)
	f.add(t, unrelated)

	require.NoError(t, f.store.Revert(ctx, abandoned, undo))

	readmitted := f.pool.Readmit(abandoned.Transactions, f.store, 1)
	assert.Equal(t, 1, readmitted)

	// t1 comes back first, so its dependent survives
	assert.Equal(t, []chainhash.Hash{t1.TxID(), dependent.TxID(), unrelated.TxID()}, txIDs(f.pool.Entries()))

	t.Run("no longer valid transactions are dropped", func(t *testing.T) {
		rival := f.spend(t, f.funds[0], fundValue, 900)
		block := model.NewBlock(&chainhash.Hash{}, 3, model.NBit{}, []*model.Transaction{
			model.NewCoinbaseTransaction(3, 1, f.owner), rival,
		})

		_, err := f.store.Apply(ctx, block, 2)
		require.NoError(t, err)

		assert.Zero(t, f.pool.Readmit(abandoned.Transactions, f.store, 2))
		assert.Equal(t, []chainhash.Hash{unrelated.TxID()}, txIDs(f.pool.Entries()))
	})
}

func TestExpire(t *testing.T) {
	f := setup(t, 2)
	start := time.Unix(1_700_000_000, 0)

	f.pool.now = func() time.Time { return start }
	old := f.spend(t, f.funds[0], fundValue, 100)
	oldChild := f.spend(t, test.Outpoint(old, 0), fundValue-100, 100)
	f.add(t, old)

	f.pool.now = func() time.Time { return start.Add(5 * time.Minute) }
	f.add(t, oldChild)

	fresh := f.spend(t, f.funds[1], fundValue, 100)
	f.add(t, fresh)

	maxAge := f.pool.settings.Mempool.MaxTxAge

	assert.Zero(t, f.pool.Expire(start.Add(maxAge)))

	// the child is young but goes with its parent
	assert.Equal(t, 2, f.pool.Expire(start.Add(maxAge+time.Second)))
	assert.Equal(t, []chainhash.Hash{fresh.TxID()}, txIDs(f.pool.Entries()))
}

func TestFullPool(t *testing.T) {
	t.Run("evicts the cheapest for a better payer", func(t *testing.T) {
		f := setup(t, 4)
		f.pool.settings.Mempool.MaxTransactions = 2

		cheap := f.spend(t, f.funds[0], fundValue, 100)
		mid := f.spend(t, f.funds[1], fundValue, 1_000)
		f.add(t, cheap)
		f.add(t, mid)

		rich := f.spend(t, f.funds[2], fundValue, 5_000)
		f.add(t, rich)
		assert.False(t, f.pool.Has(cheap.TxID()))
		assert.Equal(t, 2, f.pool.Count())

		poor := f.spend(t, f.funds[3], fundValue, 10)
		_, err := f.pool.Add(poor, f.store, 1)
		require.ErrorIs(t, err, errors.ErrMempoolFull)
	})

	t.Run("never evicts an ancestor of the newcomer", func(t *testing.T) {
		f := setup(t, 2)
		f.pool.settings.Mempool.MaxTransactions = 2

		parent := f.spend(t, f.funds[0], fundValue, 100)
		other := f.spend(t, f.funds[1], fundValue, 1_000)
		f.add(t, parent)
		f.add(t, other)

		child := f.spend(t, test.Outpoint(parent, 0), fundValue-100, 5_000)
		f.add(t, child)

		assert.Equal(t, []chainhash.Hash{parent.TxID(), child.TxID()}, txIDs(f.pool.Entries()))
	})
}

func TestClear(t *testing.T) {
	f := setup(t, 1)
	tx := f.spend(t, f.funds[0], fundValue, 100)
	f.add(t, tx)

	f.pool.Clear()
	assert.Zero(t, f.pool.Count())

	// the spend is admissible again
	f.add(t, tx)
}
