package blockassembly

import (
	"context"

	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/blockvalidation"
)

// ChainClient is the part of the chain manager block assembly depends on.
type ChainClient interface {
	GetMiningCandidate(limit int) (*model.MiningCandidate, error)
	ProcessBlock(ctx context.Context, block *model.Block) (blockvalidation.Result, error)
	Subscribe(ctx context.Context, source string) <-chan *model.Notification
}

// Interface is what a miner sees of block assembly.
type Interface interface {
	GetMiningCandidate(ctx context.Context) (*model.MiningCandidate, error)
	SubmitMiningSolution(ctx context.Context, solution *model.MiningSolution) (blockvalidation.Result, error)
}
