/*
Package validator implements the transaction rules.

A transaction is checked against a utxo.Reader, which is either the canonical set or a view stacking
provisional spends on top of it (the mempool, or the block being validated). The validator never
mutates what it reads; callers apply accepted transactions to their own view.
*/
package validator

import (
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/stores/utxo"
)

// Interface defines the transaction rules used by the mempool and the block validator.
type Interface interface {
	// ValidateTransaction checks a non-coinbase transaction against view and returns its fee.
	ValidateTransaction(tx *model.Transaction, view utxo.Reader) (uint64, error)

	// ValidateCoinbase checks the coinbase of a block at height whose other transactions pay fees.
	ValidateCoinbase(tx *model.Transaction, height uint32, fees uint64) error
}

var _ Interface = (*Validator)(nil)
