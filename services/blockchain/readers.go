package blockchain

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/mempool"
	"github.com/bsv-blockchain/powledger/stores/utxo"
)

// maxLocatorDense is the number of most recent blocks listed one by one in a locator before the
// steps start doubling.
const maxLocatorDense = 10

func (b *Blockchain) GetBestBlockHeader() (*model.BlockHeader, uint32) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tip := b.tip()

	return tip.block.Header, tip.height
}

func (b *Blockchain) GetBestHeight() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.tip().height
}

// GetBlock returns any block in the tree, canonical or not.
func (b *Blockchain) GetBlock(hash *chainhash.Hash) (*model.Block, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n, ok := b.nodes[*hash]
	if !ok {
		return nil, errors.NewBlockNotFoundError("[GetBlock] block %s not found", hash)
	}

	return n.block, nil
}

func (b *Blockchain) GetBlockHeader(hash *chainhash.Hash) (*model.BlockHeader, uint32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n, ok := b.nodes[*hash]
	if !ok {
		return nil, 0, errors.NewBlockNotFoundError("[GetBlockHeader] block %s not found", hash)
	}

	return n.block.Header, n.height, nil
}

// GetBlockByHeight returns the canonical block at height.
func (b *Blockchain) GetBlockByHeight(height uint32) (*model.Block, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if int(height) >= len(b.canonical) {
		return nil, errors.NewBlockNotFoundError("[GetBlockByHeight] no block at height %d, tip is at %d", height, b.tip().height)
	}

	return b.nodes[b.canonical[height]].block, nil
}

func (b *Blockchain) GetBlockExists(hash *chainhash.Hash) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.nodes[*hash]

	return ok
}

// IsCanonical reports whether hash is on the canonical chain.
func (b *Blockchain) IsCanonical(hash *chainhash.Hash) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n, ok := b.nodes[*hash]

	return ok && b.isCanonical(n)
}

func (b *Blockchain) IsOrphan(hash *chainhash.Hash) bool {
	return b.orphans.Has(*hash)
}

func (b *Blockchain) OrphanCount() int {
	return b.orphans.Len()
}

// BlockCount is the number of blocks in the tree, genesis included.
func (b *Blockchain) BlockCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.nodes)
}

// CanonicalBlocks returns the canonical chain after genesis, in height order.
func (b *Blockchain) CanonicalBlocks() []*model.Block {
	b.mu.RLock()
	defer b.mu.RUnlock()

	blocks := make([]*model.Block, 0, len(b.canonical)-1)
	for _, hash := range b.canonical[1:] {
		blocks = append(blocks, b.nodes[hash].block)
	}

	return blocks
}

// GetBlockLocator lists canonical hashes from the tip back to genesis, dense for the most recent
// blocks and exponentially sparser after that.
func (b *Blockchain) GetBlockLocator() []chainhash.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()

	locator := make([]chainhash.Hash, 0, maxLocatorDense+32)
	step := int64(1)

	for h := int64(b.tip().height); h > 0; h -= step {
		locator = append(locator, b.canonical[h])

		if len(locator) >= maxLocatorDense {
			step *= 2
		}
	}

	return append(locator, b.canonical[0])
}

// locateFork returns the height of the first locator entry on the canonical chain, or 0.
func (b *Blockchain) locateFork(locator []chainhash.Hash) uint32 {
	for _, hash := range locator {
		if n, ok := b.nodes[hash]; ok && b.isCanonical(n) {
			return n.height
		}
	}

	return 0
}

// LocateBlocks returns up to limit canonical hashes following the fork point described by locator,
// stopping after stop when it is reached.
func (b *Blockchain) LocateBlocks(locator []chainhash.Hash, stop *chainhash.Hash, limit int) []chainhash.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var hashes []chainhash.Hash

	for h := int(b.locateFork(locator)) + 1; h < len(b.canonical) && len(hashes) < limit; h++ {
		hashes = append(hashes, b.canonical[h])

		if stop != nil && b.canonical[h].IsEqual(stop) {
			break
		}
	}

	return hashes
}

// LocateHeaders is LocateBlocks returning headers.
func (b *Blockchain) LocateHeaders(locator []chainhash.Hash, stop *chainhash.Hash, limit int) []*model.BlockHeader {
	hashes := b.LocateBlocks(locator, stop, limit)

	b.mu.RLock()
	defer b.mu.RUnlock()

	headers := make([]*model.BlockHeader, 0, len(hashes))

	for _, hash := range hashes {
		// the chain may have moved since LocateBlocks released the lock
		if n, ok := b.nodes[hash]; ok {
			headers = append(headers, n.block.Header)
		}
	}

	return headers
}

func (b *Blockchain) GetUtxo(op model.Outpoint) (*utxo.Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.utxoStore.Get(op)
}

// UnspentByOwner returns the canonical unspent outputs paying owner.
func (b *Blockchain) UnspentByOwner(owner model.OwnerID) []utxo.Unspent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.utxoStore.UnspentByOwner(owner)
}

// UtxoCount is the size of the canonical unspent set.
func (b *Blockchain) UtxoCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.utxoStore.Count()
}

func (b *Blockchain) GetMempoolTransaction(txID *chainhash.Hash) (*model.Transaction, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.mempool.Get(*txID)
	if !ok {
		return nil, false
	}

	return entry.Tx, true
}

// MempoolTransactions returns the mempool entries in arrival order.
func (b *Blockchain) MempoolTransactions() []*mempool.Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.mempool.Entries()
}

// NextWorkRequired returns the tip and the bits a block on top of it must carry.
func (b *Blockchain) NextWorkRequired() (*model.BlockHeader, uint32, model.NBit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tip := b.tip()

	bits, err := b.difficulty.CalcNextWorkRequired(tip.block.Header, tip.height, b.ancestorFunc(tip))
	if err != nil {
		return nil, 0, model.NBit{}, err
	}

	return tip.block.Header, tip.height, bits, nil
}

// GetMiningCandidate assembles a block template on the tip from the best paying mempool
// transactions, at most limit of them. The candidate ID is left for the caller to assign.
func (b *Blockchain) GetMiningCandidate(limit int) (*model.MiningCandidate, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tip := b.tip()

	bits, err := b.difficulty.CalcNextWorkRequired(tip.block.Header, tip.height, b.ancestorFunc(tip))
	if err != nil {
		return nil, err
	}

	entries := b.mempool.SelectTransactions(limit)
	txs := make([]*model.Transaction, 0, len(entries))

	var fees uint64

	for _, e := range entries {
		if fees+e.Fee < fees {
			return nil, errors.NewTxValueOverflowError("[GetMiningCandidate] fees of %d transactions overflow", len(txs))
		}

		txs = append(txs, e.Tx)
		fees += e.Fee
	}

	height := tip.height + 1
	prevHash := tip.hash

	subsidy := b.chainParams.BlockSubsidy(height)
	if subsidy+fees < subsidy {
		return nil, errors.NewTxValueOverflowError("[GetMiningCandidate] reward at height %d overflows", height)
	}

	return &model.MiningCandidate{
		PreviousHash:  &prevHash,
		Height:        height,
		NBits:         bits,
		MinTime:       tip.block.Header.Timestamp,
		CoinbaseValue: subsidy + fees,
		Fees:          fees,
		Transactions:  txs,
	}, nil
}
