// Package memory is the in-process unspent output set.
package memory

import (
	"bytes"
	"context"
	"net/http"
	"slices"
	"sync"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/stores/utxo"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/dolthub/swiss"
)

const initialCapacity = 64 * 1024

type Memory struct {
	logger ulogger.Logger
	mu     sync.RWMutex
	m      *swiss.Map[model.Outpoint, utxo.Entry]
}

func New(logger ulogger.Logger) *Memory {
	return &Memory{
		logger: logger,
		m:      swiss.NewMap[model.Outpoint, utxo.Entry](initialCapacity),
	}
}

func (m *Memory) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "Memory Store available", nil
}

func (m *Memory) Get(op model.Outpoint) (*utxo.Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lockedReader{m}.Get(op)
}

// lockedReader reads the map while the caller holds the lock.
type lockedReader struct {
	m *Memory
}

func (r lockedReader) Get(op model.Outpoint) (*utxo.Entry, bool) {
	entry, ok := r.m.m.Get(op)
	if !ok {
		return nil, false
	}

	return &entry, true
}

func (m *Memory) Apply(_ context.Context, block *model.Block, height uint32) (*utxo.Undo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	view := utxo.NewView(lockedReader{m})

	undo, err := view.ApplyBlock(block, height)
	if err != nil {
		return nil, err
	}

	m.write(view)

	m.logger.Debugf("[Memory][Apply] block %s at height %d, %d utxos", block.Hash(), height, m.m.Count())

	return undo, nil
}

func (m *Memory) Revert(_ context.Context, block *model.Block, undo *utxo.Undo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	view := utxo.NewView(lockedReader{m})

	if err := view.RevertBlock(block, undo); err != nil {
		return err
	}

	m.write(view)

	m.logger.Debugf("[Memory][Revert] block %s, %d utxos", block.Hash(), m.m.Count())

	return nil
}

func (m *Memory) Commit(_ context.Context, view *utxo.View) error {
	if view.Base() != utxo.Reader(m) {
		return errors.NewUtxoInvariantError("view is not based on this store")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	spent, added := view.Changes()

	removed := make(map[model.Outpoint]struct{}, len(spent))

	for _, op := range spent {
		if !m.m.Has(op) {
			return errors.NewUtxoInvariantError("staged spend of %s which is not unspent", op)
		}

		removed[op] = struct{}{}
	}

	for op := range added {
		if _, ok := removed[op]; !ok && m.m.Has(op) {
			return errors.NewUtxoInvariantError("staged output %s is already unspent", op)
		}
	}

	m.write(view)

	return nil
}

func (m *Memory) write(view *utxo.View) {
	spent, added := view.Changes()

	for _, op := range spent {
		m.m.Delete(op)
	}

	for op, entry := range added {
		m.m.Put(op, entry)
	}
}

func (m *Memory) UnspentByOwner(owner model.OwnerID) []utxo.Unspent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	unspent := make([]utxo.Unspent, 0)

	m.m.Iter(func(op model.Outpoint, entry utxo.Entry) bool {
		if entry.Owner == owner {
			unspent = append(unspent, utxo.Unspent{Outpoint: op, Entry: entry})
		}

		return false
	})

	slices.SortFunc(unspent, func(a, b utxo.Unspent) int {
		if c := bytes.Compare(a.Outpoint.TxID[:], b.Outpoint.TxID[:]); c != 0 {
			return c
		}

		return int(a.Outpoint.Index) - int(b.Outpoint.Index)
	})

	return unspent
}

func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.m.Count()
}

func (m *Memory) Snapshot() map[model.Outpoint]utxo.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[model.Outpoint]utxo.Entry, m.m.Count())

	m.m.Iter(func(op model.Outpoint, entry utxo.Entry) bool {
		snapshot[op] = entry
		return false
	})

	return snapshot
}
