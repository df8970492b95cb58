package validator

import (
	"time"

	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/settings"
	"github.com/bsv-blockchain/powledger/stores/utxo"
	"github.com/bsv-blockchain/powledger/ulogger"
)

type Validator struct {
	logger    ulogger.Logger
	params    *chaincfg.Params
	maxTxSize int
}

func New(logger ulogger.Logger, tSettings *settings.Settings) *Validator {
	initPrometheusMetrics()

	maxTxSize := tSettings.ChainCfgParams.MaxTxSize
	if tSettings.Policy != nil && tSettings.Policy.MaxTxSizePolicy > 0 && tSettings.Policy.MaxTxSizePolicy < maxTxSize {
		maxTxSize = tSettings.Policy.MaxTxSizePolicy
	}

	return &Validator{
		logger:    logger,
		params:    tSettings.ChainCfgParams,
		maxTxSize: maxTxSize,
	}
}

// ValidateTransaction checks, in order: structure and size, duplicate inputs, that every input is
// unspent in view, the owner and signature of every input, and that the outputs do not exceed the
// inputs. The difference is the fee.
func (v *Validator) ValidateTransaction(tx *model.Transaction, view utxo.Reader) (fee uint64, err error) {
	start := time.Now()

	defer func() {
		prometheusValidateTransaction.Observe(time.Since(start).Seconds())

		if err != nil {
			prometheusInvalidTransactions.Inc()
			v.logger.Debugf("[Validator][ValidateTransaction] %s rejected: %v", tx.TxID(), err)
		}
	}()

	if tx.IsCoinbase() {
		return 0, errors.NewTxCoinbaseError("coinbase %s outside of the first block position", tx.TxID())
	}

	if err = v.checkStructure(tx); err != nil {
		return 0, err
	}

	if err = checkDuplicateInputs(tx); err != nil {
		return 0, err
	}

	entries := make([]*utxo.Entry, len(tx.Inputs))

	for i, in := range tx.Inputs {
		entry, ok := view.Get(in.Outpoint())
		if !ok {
			return 0, errors.NewTxMissingInputError("input %d of %s spends %s which is not unspent", i, tx.TxID(), in.Outpoint())
		}

		entries[i] = entry
	}

	if err = checkSignatures(tx, entries); err != nil {
		return 0, err
	}

	return checkValues(tx, entries)
}

func (v *Validator) checkStructure(tx *model.Transaction) error {
	if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
		return errors.NewTxEmptyError("tx %s has %d inputs and %d outputs", tx.TxID(), len(tx.Inputs), len(tx.Outputs))
	}

	// only a coinbase commits to a height
	if tx.Height != 0 {
		return errors.NewTxInvalidError("tx %s carries height %d", tx.TxID(), tx.Height)
	}

	size := tx.Size()
	prometheusTransactionSize.Observe(float64(size))

	if size > v.maxTxSize {
		return errors.NewTxTooLargeError("tx %s is %d bytes, limit %d", tx.TxID(), size, v.maxTxSize)
	}

	return nil
}

func checkDuplicateInputs(tx *model.Transaction) error {
	seen := make(map[model.Outpoint]struct{}, len(tx.Inputs))

	for _, in := range tx.Inputs {
		op := in.Outpoint()
		if _, ok := seen[op]; ok {
			return errors.NewTxDuplicateInputError("tx %s spends %s more than once", tx.TxID(), op)
		}

		seen[op] = struct{}{}
	}

	return nil
}

func checkSignatures(tx *model.Transaction, entries []*utxo.Entry) error {
	digest := tx.SigHash()

	for i, in := range tx.Inputs {
		if model.NewOwnerID(in.PublicKey) != entries[i].Owner {
			return errors.NewTxInvalidSignatureError("input %d of %s is not signed by the owner of %s", i, tx.TxID(), in.Outpoint())
		}

		if !model.VerifySignature(in.PublicKey, in.Signature, digest[:]) {
			return errors.NewTxInvalidSignatureError("input %d of %s has an invalid signature", i, tx.TxID())
		}
	}

	return nil
}

func checkValues(tx *model.Transaction, entries []*utxo.Entry) (uint64, error) {
	var in uint64

	for _, entry := range entries {
		if in+entry.Value < in {
			return 0, errors.NewTxValueOverflowError("input values of %s overflow", tx.TxID())
		}

		in += entry.Value
	}

	out, ok := tx.TotalOutputValue()
	if !ok {
		return 0, errors.NewTxValueOverflowError("output values of %s overflow", tx.TxID())
	}

	if out > in {
		return 0, errors.NewTxInsufficientFundsError("tx %s spends %d but only has %d", tx.TxID(), out, in)
	}

	return in - out, nil
}

// ValidateCoinbase checks the coinbase has a single output, commits to height and pays exactly the
// subsidy at height plus fees.
func (v *Validator) ValidateCoinbase(tx *model.Transaction, height uint32, fees uint64) error {
	if !tx.IsCoinbase() {
		return errors.NewBlockCoinbaseError("first transaction %s is not a coinbase", tx.TxID())
	}

	if len(tx.Outputs) != 1 {
		return errors.NewBlockCoinbaseError("coinbase %s has %d outputs, expected 1", tx.TxID(), len(tx.Outputs))
	}

	if tx.Height != height {
		return errors.NewBlockCoinbaseError("coinbase %s commits to height %d, block is at %d", tx.TxID(), tx.Height, height)
	}

	subsidy := v.params.BlockSubsidy(height)
	if subsidy+fees < subsidy {
		return errors.NewTxValueOverflowError("reward at height %d overflows", height)
	}

	if tx.Outputs[0].Value != subsidy+fees {
		return errors.NewBlockCoinbaseError("coinbase %s pays %d, expected subsidy %d plus fees %d", tx.TxID(), tx.Outputs[0].Value, subsidy, fees)
	}

	return nil
}
