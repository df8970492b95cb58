// Package blockchain persists the canonical chain between runs of the node.
package blockchain

import (
	"context"

	"github.com/bsv-blockchain/powledger/model"
)

// Store holds the canonical blocks after genesis, in height order. A store belongs to one network:
// loading blocks saved for another network or another genesis block fails with a storage error.
type Store interface {
	// Load returns the saved blocks, or nil when nothing has been saved yet.
	Load(ctx context.Context) ([]*model.Block, error)

	// Save replaces the saved chain with blocks.
	Save(ctx context.Context, blocks []*model.Block) error

	Close() error
}
