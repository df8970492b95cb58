// Package utxo defines the unspent output set and the copy-on-write views used to stage changes to it.
package utxo

import (
	"context"

	"github.com/bsv-blockchain/powledger/model"
)

// Entry is an unspent output together with where it was created.
type Entry struct {
	Value    uint64
	Owner    model.OwnerID
	Height   uint32
	Coinbase bool
}

// Unspent pairs an entry with its outpoint, as returned to wallets.
type Unspent struct {
	Outpoint model.Outpoint
	Entry    Entry
}

// Undo holds the entries a block consumed, in the order its inputs spent them. It is all that is needed
// to revert the block.
type Undo struct {
	Spent []Unspent
}

// Reader is the read side shared by stores and views.
type Reader interface {
	Get(op model.Outpoint) (*Entry, bool)
}

// Store is the unspent output set of the canonical chain.
type Store interface {
	Reader
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
	// Apply removes every output consumed by the block and inserts every output it creates. A missing
	// input fails with ERR_UTXO_INVARIANT and leaves the set untouched.
	Apply(ctx context.Context, block *model.Block, height uint32) (*Undo, error)
	// Revert is the exact inverse of Apply given the undo record Apply returned.
	Revert(ctx context.Context, block *model.Block, undo *Undo) error
	// Commit writes the changes staged in a view created directly over this store in one step.
	Commit(ctx context.Context, view *View) error
	UnspentByOwner(owner model.OwnerID) []Unspent
	Count() int
	Snapshot() map[model.Outpoint]Entry
}
