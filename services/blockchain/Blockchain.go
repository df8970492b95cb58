// Package blockchain is the chain manager: the single owner of the block tree, the canonical unspent
// set, the mempool and the orphan pool.
//
// Blocks are kept in an arena indexed by hash. A node refers to its parent and children by hash, and
// the canonical chain is an index of hashes by height. Every mutation happens under one write lock, so
// readers always observe the state either fully before or fully after a block is processed. Changes to
// the unspent set are staged in a utxo.View and committed in one step.
package blockchain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/blockchain/work"
	"github.com/bsv-blockchain/powledger/services/blockvalidation"
	"github.com/bsv-blockchain/powledger/services/mempool"
	"github.com/bsv-blockchain/powledger/services/validator"
	"github.com/bsv-blockchain/powledger/settings"
	"github.com/bsv-blockchain/powledger/stores/utxo"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/jellydator/ttlcache/v3"
	"github.com/looplab/fsm"
	"github.com/prometheus/client_golang/prometheus"
)

type blockNode struct {
	hash     chainhash.Hash
	parent   chainhash.Hash
	height   uint32
	block    *model.Block
	work     *big.Int // cumulative, genesis included
	seq      uint64   // local arrival order
	children []chainhash.Hash
}

type Blockchain struct {
	logger      ulogger.Logger
	settings    *settings.Settings
	chainParams *chaincfg.Params

	mu        sync.RWMutex
	nodes     map[chainhash.Hash]*blockNode
	canonical []chainhash.Hash
	undo      map[chainhash.Hash]*utxo.Undo
	nextSeq   uint64

	utxoStore       utxo.Store
	mempool         *mempool.Mempool
	orphans         *ttlcache.Cache[chainhash.Hash, *model.Block]
	blockValidation *blockvalidation.BlockValidation
	difficulty      *Difficulty

	subscribersMu sync.Mutex
	subscribers   map[*subscriber]struct{}

	finiteStateMachine *fsm.FSM
	fatalErr           chan error
}

// New creates a chain holding only the genesis block of the configured network over utxoStore,
// which must be empty.
func New(logger ulogger.Logger, tSettings *settings.Settings, utxoStore utxo.Store) (*Blockchain, error) {
	initPrometheusMetrics()

	if utxoStore.Count() != 0 {
		return nil, errors.NewInvalidArgumentError("[Blockchain] utxo store must start empty, it holds %d outputs", utxoStore.Count())
	}

	params := tSettings.ChainCfgParams
	txValidator := validator.New(logger, tSettings)

	b := &Blockchain{
		logger:          logger,
		settings:        tSettings,
		chainParams:     params,
		nodes:           make(map[chainhash.Hash]*blockNode),
		undo:            make(map[chainhash.Hash]*utxo.Undo),
		utxoStore:       utxoStore,
		mempool:         mempool.New(logger, tSettings, txValidator),
		blockValidation: blockvalidation.NewBlockValidation(logger, tSettings, txValidator),
		difficulty:      NewDifficulty(logger, params),
		subscribers:     make(map[*subscriber]struct{}),
		fatalErr:        make(chan error, 1),
		orphans: ttlcache.New[chainhash.Hash, *model.Block](
			ttlcache.WithTTL[chainhash.Hash, *model.Block](tSettings.BlockChain.OrphanTTL),
			ttlcache.WithCapacity[chainhash.Hash, *model.Block](uint64(tSettings.BlockChain.MaxOrphanBlocks)), //nolint:gosec // positive setting
		),
	}

	b.finiteStateMachine = b.NewFiniteStateMachine()

	// the genesis block is fixed by the network and never validated; its outputs are not spendable
	genesis := &blockNode{
		hash:   *params.GenesisHash,
		height: 0,
		block:  params.GenesisBlock,
		work:   work.CalcBlockWork(params.GenesisBlock.Header.Bits),
		seq:    b.nextSeq,
	}
	b.nextSeq++

	b.nodes[genesis.hash] = genesis
	b.canonical = []chainhash.Hash{genesis.hash}

	prometheusBlockchainHeight.Set(0)

	return b, nil
}

// ProcessBlock validates block against the context of its parent and attaches it to the tree, holds it
// as an orphan or discards it. The outcome is in the returned result; a non-nil error means the chain
// state is inconsistent and the node must stop.
//
// A newly attached block becomes the tip when its branch has strictly more cumulative work than the
// current tip, reorganizing if it is not a child of the tip. Orphans waiting for the block are then
// processed in turn.
func (b *Blockchain) ProcessBlock(ctx context.Context, block *model.Block) (blockvalidation.Result, error) {
	timer := prometheus.NewTimer(prometheusBlockchainProcessBlock)
	defer timer.ObserveDuration()

	b.mu.Lock()
	defer b.mu.Unlock()

	result, err := b.processBlock(ctx, block)
	if err == nil && result.Status == blockvalidation.StatusAccepted {
		err = b.processOrphans(ctx, *block.Hash())
	}

	if err != nil {
		b.fail(err)
	}

	prometheusBlockchainOrphans.Set(float64(b.orphans.Len()))

	return result, err
}

func (b *Blockchain) processBlock(ctx context.Context, block *model.Block) (blockvalidation.Result, error) {
	hash := *block.Hash()

	if _, ok := b.nodes[hash]; ok {
		return blockvalidation.Result{
			Status: blockvalidation.StatusRejected,
			Err:    errors.NewBlockExistsError("[ProcessBlock][%s] block already known", hash),
		}, nil
	}

	if b.orphans.Has(hash) {
		return blockvalidation.Result{
			Status: blockvalidation.StatusOrphan,
			Err:    errors.NewBlockOrphanError("[ProcessBlock][%s] already held as an orphan", hash),
		}, nil
	}

	parent, ok := b.nodes[*block.Header.HashPrevBlock]
	if !ok {
		result := b.blockValidation.ValidateBlock(ctx, block, nil)
		if result.Status == blockvalidation.StatusOrphan {
			b.orphans.Set(hash, block, ttlcache.DefaultTTL)
			b.logger.Infof("[ProcessBlock][%s] parent %s unknown, holding as orphan (%d held)", hash, block.Header.HashPrevBlock, b.orphans.Len())
		}

		return result, nil
	}

	parentContext, err := b.parentContext(parent)
	if err != nil {
		if errors.Is(err, errors.ErrBlockReorgTooDeep) {
			return blockvalidation.Result{Status: blockvalidation.StatusRejected, Err: err}, nil
		}

		return blockvalidation.Result{}, err
	}

	result := b.blockValidation.ValidateBlock(ctx, block, parentContext)
	if result.Status != blockvalidation.StatusAccepted {
		return result, nil
	}

	node := b.attach(hash, parent, block)

	b.logger.Infof("[ProcessBlock][%s] accepted at height %d with %d transactions", hash, node.height, len(block.Transactions))

	if node.work.Cmp(b.tip().work) > 0 {
		if err = b.setTip(ctx, node); err != nil {
			return result, err
		}
	}

	return result, nil
}

// processOrphans submits, breadth first, every orphan descending from the block just attached.
func (b *Blockchain) processOrphans(ctx context.Context, parent chainhash.Hash) error {
	queue := []chainhash.Hash{parent}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, orphan := range b.orphansOf(current) {
			hash := *orphan.Hash()
			b.orphans.Delete(hash)

			result, err := b.processBlock(ctx, orphan)
			if err != nil {
				return err
			}

			b.logger.Infof("[processOrphans][%s] orphan %s", hash, result.Status)

			if result.Status == blockvalidation.StatusAccepted {
				queue = append(queue, hash)
			}
		}
	}

	return nil
}

func (b *Blockchain) orphansOf(parent chainhash.Hash) []*model.Block {
	var children []*model.Block

	b.orphans.Range(func(item *ttlcache.Item[chainhash.Hash, *model.Block]) bool {
		if block := item.Value(); block.Header.HashPrevBlock.IsEqual(&parent) {
			children = append(children, block)
		}

		return true
	})

	return children
}

func (b *Blockchain) attach(hash chainhash.Hash, parent *blockNode, block *model.Block) *blockNode {
	node := &blockNode{
		hash:   hash,
		parent: parent.hash,
		height: parent.height + 1,
		block:  block,
		work:   work.CalculateWork(parent.work, block.Header.Bits),
		seq:    b.nextSeq,
	}
	b.nextSeq++

	b.nodes[hash] = node
	parent.children = append(parent.children, hash)

	return node
}

func (b *Blockchain) tip() *blockNode {
	return b.nodes[b.canonical[len(b.canonical)-1]]
}

func (b *Blockchain) isCanonical(n *blockNode) bool {
	return int(n.height) < len(b.canonical) && b.canonical[n.height] == n.hash
}

// ancestor returns the block at height on the branch ending in n.
func (b *Blockchain) ancestor(n *blockNode, height uint32) *blockNode {
	if height > n.height {
		return nil
	}

	for n != nil && n.height > height {
		if b.isCanonical(n) {
			return b.nodes[b.canonical[height]]
		}

		n = b.nodes[n.parent]
	}

	return n
}

func (b *Blockchain) ancestorFunc(n *blockNode) AncestorFunc {
	return func(height uint32) (*model.BlockHeader, bool) {
		a := b.ancestor(n, height)
		if a == nil {
			return nil, false
		}

		return a.block.Header, true
	}
}

// findFork returns the last block n shares with the canonical chain.
func (b *Blockchain) findFork(n *blockNode) *blockNode {
	for !b.isCanonical(n) {
		n = b.nodes[n.parent]
	}

	return n
}

// branch returns the blocks after fork up to and including target, parent first.
func (b *Blockchain) branch(fork, target *blockNode) []*blockNode {
	path := make([]*blockNode, 0, target.height-fork.height)

	for n := target; n.hash != fork.hash; n = b.nodes[n.parent] {
		path = append(path, n)
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	return path
}

func (b *Blockchain) parentContext(parent *blockNode) (*blockvalidation.ParentContext, error) {
	bits, err := b.difficulty.CalcNextWorkRequired(parent.block.Header, parent.height, b.ancestorFunc(parent))
	if err != nil {
		return nil, err
	}

	utxos, err := b.utxoViewAt(parent)
	if err != nil {
		return nil, err
	}

	return &blockvalidation.ParentContext{
		Header:   parent.block.Header,
		Height:   parent.height,
		NextBits: bits,
		Utxos:    utxos,
	}, nil
}

// utxoViewAt returns the unspent set as it stood after n was applied. For a block off the tip the
// canonical chain is reverted to the fork point inside a view and the branch re-applied on top.
func (b *Blockchain) utxoViewAt(n *blockNode) (utxo.Reader, error) {
	tip := b.tip()
	if n.hash == tip.hash {
		return b.utxoStore, nil
	}

	fork := b.findFork(n)
	view := utxo.NewView(b.utxoStore)

	if _, err := b.revertTo(view, fork); err != nil {
		return nil, err
	}

	for _, node := range b.branch(fork, n) {
		if _, err := view.ApplyBlock(node.block, node.height); err != nil {
			return nil, errors.NewProcessingError("[utxoViewAt] cannot re-apply %s at height %d", node.hash, node.height, err)
		}
	}

	return view, nil
}

// revertTo reverts the canonical chain down to fork inside view and returns the reverted blocks, tip
// first.
func (b *Blockchain) revertTo(view *utxo.View, fork *blockNode) ([]*blockNode, error) {
	tip := b.tip()
	reverted := make([]*blockNode, 0, tip.height-fork.height)

	for h := tip.height; h > fork.height; h-- {
		n := b.nodes[b.canonical[h]]

		undo, ok := b.undo[n.hash]
		if !ok {
			return nil, errors.NewBlockReorgTooDeepError("[revertTo] fork at height %d is more than %d blocks below the tip at %d", fork.height, b.settings.BlockChain.MaxReorgDepth, tip.height)
		}

		if err := view.RevertBlock(n.block, undo); err != nil {
			return nil, errors.NewProcessingError("[revertTo] cannot revert %s at height %d", n.hash, n.height, err)
		}

		reverted = append(reverted, n)
	}

	return reverted, nil
}

// setTip makes newTip the canonical tip. The reverts and applications are staged in one view and
// committed together, so the unspent set moves from the old tip to the new one in a single step.
func (b *Blockchain) setTip(ctx context.Context, newTip *blockNode) error {
	oldTip := b.tip()
	fork := b.findFork(newTip)
	view := utxo.NewView(b.utxoStore)

	abandoned, err := b.revertTo(view, fork)
	if err != nil {
		return err
	}

	connected := b.branch(fork, newTip)
	undos := make([]*utxo.Undo, len(connected))

	for i, n := range connected {
		if undos[i], err = view.ApplyBlock(n.block, n.height); err != nil {
			return errors.NewProcessingError("[setTip] validated block %s does not apply at height %d", n.hash, n.height, err)
		}
	}

	if err = b.utxoStore.Commit(ctx, view); err != nil {
		return err
	}

	b.canonical = b.canonical[:fork.height+1]

	for _, n := range abandoned {
		delete(b.undo, n.hash)
	}

	for i, n := range connected {
		b.canonical = append(b.canonical, n.hash)
		b.undo[n.hash] = undos[i]
	}

	b.pruneUndo()

	reorg := len(abandoned) > 0

	if reorg {
		readmitted := b.mempool.Readmit(abandonedTransactions(abandoned, connected), b.utxoStore, newTip.height)

		prometheusBlockchainReorgs.Inc()
		b.logger.Warnf("[setTip] reorganized from %s (height %d) to %s (height %d), fork at %d, %d transactions readmitted",
			oldTip.hash, oldTip.height, newTip.hash, newTip.height, fork.height, readmitted)
	} else {
		for _, n := range connected {
			b.mempool.BlockConnected(n.block)
		}
	}

	prometheusBlockchainHeight.Set(float64(newTip.height))

	hash := newTip.hash
	b.notify(&model.Notification{
		Type:   model.NotificationTypeBlock,
		Hash:   &hash,
		Height: newTip.height,
		Reorg:  reorg,
	})

	return nil
}

// pruneUndo drops undo records of canonical blocks deeper than the reorg limit.
func (b *Blockchain) pruneUndo() {
	tipHeight := b.tip().height
	depth := b.settings.BlockChain.MaxReorgDepth

	for hash := range b.undo {
		if n := b.nodes[hash]; n.height+depth <= tipHeight {
			delete(b.undo, hash)
		}
	}
}

// abandonedTransactions returns the non-coinbase transactions of the reverted blocks, in chain order,
// that the newly connected blocks do not confirm.
func abandonedTransactions(abandoned, connected []*blockNode) []*model.Transaction {
	confirmed := make(map[chainhash.Hash]struct{})

	for _, n := range connected {
		for _, tx := range n.block.Transactions {
			confirmed[tx.TxID()] = struct{}{}
		}
	}

	var txs []*model.Transaction

	for i := len(abandoned) - 1; i >= 0; i-- {
		for _, tx := range abandoned[i].block.Transactions[1:] {
			if _, ok := confirmed[tx.TxID()]; !ok {
				txs = append(txs, tx)
			}
		}
	}

	return txs
}

// SubmitTransaction admits tx to the mempool against the canonical set.
func (b *Blockchain) SubmitTransaction(ctx context.Context, tx *model.Transaction) (*mempool.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, errors.NewContextCanceledError("[SubmitTransaction] context done", err)
	}

	entry, err := b.mempool.Add(tx, b.utxoStore, b.tip().height)
	if err != nil {
		b.logger.Debugf("[SubmitTransaction][%s] rejected: %v", tx.TxID(), err)
		return nil, err
	}

	b.notify(&model.Notification{
		Type:   model.NotificationTypeTransaction,
		Hash:   tx.TxIDChainHash(),
		Height: b.tip().height,
	})

	return entry, nil
}

// ExpireMempool drops mempool entries that have waited longer than the configured age.
func (b *Blockchain) ExpireMempool(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.mempool.Expire(now)
}

// fail records a fatal error for Start to return.
func (b *Blockchain) fail(err error) {
	b.logger.Errorf("[Blockchain] fatal: %v", err)

	select {
	case b.fatalErr <- err:
	default:
	}
}
