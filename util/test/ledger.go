package test

import (
	"testing"

	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/libsv/go-bk/bec"
	"github.com/stretchr/testify/require"
)

const maxNonceAttempts = 1 << 20

// NewKey returns a fresh key and the owner id it spends for.
func NewKey(t testing.TB) (*bec.PrivateKey, model.OwnerID) {
	t.Helper()

	key, err := model.NewPrivateKey()
	require.NoError(t, err)

	return key, model.OwnerIDFromPrivateKey(key)
}

func Pay(owner model.OwnerID, value uint64) *model.Output {
	return &model.Output{Value: value, Owner: owner}
}

// Spend builds a transaction consuming inputs and signs every input with key.
func Spend(t testing.TB, key *bec.PrivateKey, inputs []model.Outpoint, outputs ...*model.Output) *model.Transaction {
	t.Helper()

	tx := &model.Transaction{Outputs: outputs}

	for _, op := range inputs {
		tx.Inputs = append(tx.Inputs, &model.Input{PreviousTxID: op.TxID, PreviousIndex: op.Index})
	}

	require.NoError(t, tx.Sign(key))

	return tx
}

// Outpoint is output index of tx.
func Outpoint(tx *model.Transaction, index uint32) model.Outpoint {
	return model.Outpoint{TxID: tx.TxID(), Index: index}
}

// Solve searches for a nonce meeting the header's own target.
func Solve(t testing.TB, header *model.BlockHeader) {
	t.Helper()

	for header.Nonce = 0; header.Nonce < maxNonceAttempts; header.Nonce++ {
		if header.HasMetTargetDifficulty() {
			return
		}
	}

	t.Fatalf("no nonce below target %s", header.Bits)
}

// MineBlock builds a valid block on prev at height using the network limit as target, paying the
// subsidy plus fees to owner, and solves it.
func MineBlock(t testing.TB, params *chaincfg.Params, prev *model.BlockHeader, height uint32, owner model.OwnerID, fees uint64, txs ...*model.Transaction) *model.Block {
	t.Helper()

	coinbase := model.NewCoinbaseTransaction(height, params.BlockSubsidy(height)+fees, owner)

	all := make([]*model.Transaction, 0, len(txs)+1)
	all = append(all, coinbase)
	all = append(all, txs...)

	block := model.NewBlock(prev.Hash(), prev.Timestamp+1, model.NewNBitFromUint32(params.PowLimitBits), all)
	Solve(t, block.Header)

	return block
}

// BuildChain mines n coinbase-only blocks on prev starting at height. Different owners give different
// branches from the same parent.
func BuildChain(t testing.TB, params *chaincfg.Params, prev *model.BlockHeader, height uint32, n int, owner model.OwnerID) []*model.Block {
	t.Helper()

	blocks := make([]*model.Block, 0, n)

	for i := 0; i < n; i++ {
		block := MineBlock(t, params, prev, height+uint32(i), owner, 0) //nolint:gosec // small test counts
		blocks = append(blocks, block)
		prev = block.Header
	}

	return blocks
}
