package blockpersister

import (
	"context"

	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/blockvalidation"
)

// ChainClient is the part of the blockchain service the persister replays into and saves from.
type ChainClient interface {
	ProcessBlock(ctx context.Context, block *model.Block) (blockvalidation.Result, error)
	CanonicalBlocks() []*model.Block
	GetBestBlockHeader() (*model.BlockHeader, uint32)
}
