package utxo

import (
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
)

// View overlays provisional changes on a Reader without touching it. Views stack: the mempool view sits
// on the canonical store, a side branch view on a view of the fork point.
type View struct {
	base  Reader
	added map[model.Outpoint]Entry
	spent map[model.Outpoint]struct{}
}

func NewView(base Reader) *View {
	return &View{
		base:  base,
		added: make(map[model.Outpoint]Entry),
		spent: make(map[model.Outpoint]struct{}),
	}
}

func (v *View) Base() Reader {
	return v.base
}

func (v *View) Get(op model.Outpoint) (*Entry, bool) {
	if entry, ok := v.added[op]; ok {
		return &entry, true
	}

	if _, ok := v.spent[op]; ok {
		return nil, false
	}

	return v.base.Get(op)
}

// Spend removes op from the view and returns the entry it held.
func (v *View) Spend(op model.Outpoint) (Entry, bool) {
	entry, ok := v.Get(op)
	if !ok {
		return Entry{}, false
	}

	delete(v.added, op)

	if _, inBase := v.base.Get(op); inBase {
		v.spent[op] = struct{}{}
	}

	return *entry, true
}

// Add makes op unspent in the view. Adding an outpoint that is already unspent is an invariant
// violation.
func (v *View) Add(op model.Outpoint, entry Entry) error {
	if _, ok := v.Get(op); ok {
		return errors.NewUtxoInvariantError("output %s already unspent", op)
	}

	v.added[op] = entry

	return nil
}

// ApplyTx spends the inputs of tx and adds its outputs. It returns the spent entries in input order.
func (v *View) ApplyTx(tx *model.Transaction, height uint32) ([]Unspent, error) {
	txID := tx.TxID()
	coinbase := tx.IsCoinbase()

	var spent []Unspent

	if !coinbase {
		spent = make([]Unspent, 0, len(tx.Inputs))

		for _, in := range tx.Inputs {
			op := in.Outpoint()

			entry, ok := v.Spend(op)
			if !ok {
				// undo what this transaction already did so the view is left as it was
				for i := len(spent) - 1; i >= 0; i-- {
					v.restore(spent[i].Outpoint, spent[i].Entry)
				}

				return nil, errors.NewUtxoInvariantError("input %s of tx %s is not unspent", op, txID)
			}

			spent = append(spent, Unspent{Outpoint: op, Entry: entry})
		}
	}

	for i, out := range tx.Outputs {
		op := model.Outpoint{TxID: txID, Index: uint32(i)} //nolint:gosec // output count is bounded by decoding

		if err := v.Add(op, Entry{Value: out.Value, Owner: out.Owner, Height: height, Coinbase: coinbase}); err != nil {
			for j := 0; j < i; j++ {
				v.Spend(model.Outpoint{TxID: txID, Index: uint32(j)}) //nolint:gosec // as above
			}

			for k := len(spent) - 1; k >= 0; k-- {
				v.restore(spent[k].Outpoint, spent[k].Entry)
			}

			return nil, err
		}
	}

	return spent, nil
}

// ApplyBlock applies every transaction of block in order. On error the view holds a partial
// application and must be discarded.
func (v *View) ApplyBlock(block *model.Block, height uint32) (*Undo, error) {
	undo := &Undo{}

	for _, tx := range block.Transactions {
		spent, err := v.ApplyTx(tx, height)
		if err != nil {
			return nil, err
		}

		undo.Spent = append(undo.Spent, spent...)
	}

	return undo, nil
}

// RevertBlock walks the block backwards removing created outputs and restoring consumed ones from undo.
// On error the view must be discarded.
func (v *View) RevertBlock(block *model.Block, undo *Undo) error {
	if undo == nil {
		return errors.NewUtxoInvariantError("no undo record for block %s", block.Hash())
	}

	idx := len(undo.Spent)

	for i := len(block.Transactions) - 1; i >= 0; i-- {
		tx := block.Transactions[i]
		txID := tx.TxID()

		for j := range tx.Outputs {
			op := model.Outpoint{TxID: txID, Index: uint32(j)} //nolint:gosec // output count is bounded by decoding
			if _, ok := v.Spend(op); !ok {
				return errors.NewUtxoInvariantError("output %s of block %s is not unspent", op, block.Hash())
			}
		}

		if tx.IsCoinbase() {
			continue
		}

		for j := len(tx.Inputs) - 1; j >= 0; j-- {
			idx--
			if idx < 0 {
				return errors.NewUtxoInvariantError("undo record too short for block %s", block.Hash())
			}

			s := undo.Spent[idx]
			if s.Outpoint != tx.Inputs[j].Outpoint() {
				return errors.NewUtxoInvariantError("undo record does not match input %s", tx.Inputs[j].Outpoint())
			}

			if err := v.Add(s.Outpoint, s.Entry); err != nil {
				return err
			}
		}
	}

	if idx != 0 {
		return errors.NewUtxoInvariantError("undo record for block %s has %d extra entries", block.Hash(), idx)
	}

	return nil
}

// Changes returns the outpoints removed from the base and the entries added on top of it. An outpoint
// can appear in both when it was spent and created again with a different entry.
func (v *View) Changes() (spent []model.Outpoint, added map[model.Outpoint]Entry) {
	spent = make([]model.Outpoint, 0, len(v.spent))
	for op := range v.spent {
		spent = append(spent, op)
	}

	return spent, v.added
}

// Size is the number of staged changes.
func (v *View) Size() int {
	return len(v.spent) + len(v.added)
}

func (v *View) restore(op model.Outpoint, entry Entry) {
	if base, ok := v.base.Get(op); ok {
		if *base == entry {
			delete(v.spent, op)
			return
		}

		v.spent[op] = struct{}{}
	}

	v.added[op] = entry
}
