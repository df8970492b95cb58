package p2p

import (
	"context"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/blockvalidation"
	"github.com/bsv-blockchain/powledger/services/mempool"
	"github.com/bsv-blockchain/powledger/stores/utxo"
)

// ChainClient is the part of the chain manager the peer server reads from and submits to.
type ChainClient interface {
	GetBestBlockHeader() (*model.BlockHeader, uint32)
	GetBestHeight() uint32
	GetBlock(hash *chainhash.Hash) (*model.Block, error)
	GetBlockHeader(hash *chainhash.Hash) (*model.BlockHeader, uint32, error)
	GetBlockExists(hash *chainhash.Hash) bool
	IsOrphan(hash *chainhash.Hash) bool
	GetBlockLocator() []chainhash.Hash
	LocateBlocks(locator []chainhash.Hash, stop *chainhash.Hash, limit int) []chainhash.Hash
	LocateHeaders(locator []chainhash.Hash, stop *chainhash.Hash, limit int) []*model.BlockHeader
	GetMempoolTransaction(txID *chainhash.Hash) (*model.Transaction, bool)
	UnspentByOwner(owner model.OwnerID) []utxo.Unspent

	ProcessBlock(ctx context.Context, block *model.Block) (blockvalidation.Result, error)
	SubmitTransaction(ctx context.Context, tx *model.Transaction) (*mempool.Entry, error)
	Subscribe(ctx context.Context, source string) <-chan *model.Notification

	Run(ctx context.Context) error
	CatchUpBlocks(ctx context.Context) error
	IsCatchingUp() bool
}
