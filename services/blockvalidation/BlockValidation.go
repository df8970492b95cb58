// Package blockvalidation checks blocks before they are attached to the block tree.
//
// A block is checked against the context of its parent: the parent header and height, the bits the
// difficulty schedule expects on top of it, and the unspent output set as it stood after the parent
// was applied. The parent need not be the canonical tip, which is how blocks on competing branches are
// validated. Without a parent the block can only be checked as far as it stands alone and is reported
// as an orphan.
package blockvalidation

import (
	"context"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/validator"
	"github.com/bsv-blockchain/powledger/settings"
	"github.com/bsv-blockchain/powledger/stores/utxo"
	"github.com/bsv-blockchain/powledger/ulogger"
)

// Status is the outcome of validating a block.
type Status int

const (
	StatusAccepted Status = iota
	StatusRejected
	StatusOrphan
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusOrphan:
		return "orphan"
	default:
		return "unknown"
	}
}

// Result carries the status of a block and, when rejected, the reason. Fees is the sum of the fees of
// the non-coinbase transactions of an accepted block.
type Result struct {
	Status Status
	Err    error
	Fees   uint64
}

func accepted(fees uint64) Result {
	return Result{Status: StatusAccepted, Fees: fees}
}

func rejected(err error) Result {
	return Result{Status: StatusRejected, Err: err}
}

// ParentContext is the chain state a block is validated on top of.
type ParentContext struct {
	Header *model.BlockHeader
	Height uint32
	// NextBits is the difficulty a child of Header must carry.
	NextBits model.NBit
	// Utxos is the unspent output set after Header was applied.
	Utxos utxo.Reader
}

type BlockValidation struct {
	logger       ulogger.Logger
	settings     *settings.Settings
	chainParams  *chaincfg.Params
	validator    validator.Interface
	maxBlockSize int
	now          func() time.Time
}

func NewBlockValidation(logger ulogger.Logger, tSettings *settings.Settings, txValidator validator.Interface) *BlockValidation {
	initPrometheusMetrics()

	return &BlockValidation{
		logger:       logger,
		settings:     tSettings,
		chainParams:  tSettings.ChainCfgParams,
		validator:    txValidator,
		maxBlockSize: tSettings.ChainCfgParams.MaxBlockSize,
		now:          time.Now,
	}
}

// ValidateBlock runs the block checks in order and stops at the first failure. parent is nil when the
// previous block is unknown, in which case a block passing every parent independent check is an
// orphan. The validator never mutates parent.Utxos.
func (u *BlockValidation) ValidateBlock(ctx context.Context, block *model.Block, parent *ParentContext) (result Result) {
	start := time.Now()

	defer func() {
		prometheusBlockValidationValidateBlock.Observe(time.Since(start).Seconds())
		prometheusBlockValidationBlocks.WithLabelValues(result.Status.String()).Inc()

		if result.Status == StatusRejected {
			u.logger.Warnf("[ValidateBlock][%s] rejected: %v", block.Hash(), result.Err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return rejected(errors.NewContextCanceledError("[ValidateBlock][%s] context done", block.Hash(), err))
	}

	if err := u.checkStructure(block); err != nil {
		return rejected(err)
	}

	if err := u.checkProofOfWork(block.Header); err != nil {
		return rejected(err)
	}

	if parent != nil {
		if block.Header.Bits != parent.NextBits {
			return rejected(errors.NewBlockDifficultyError("[ValidateBlock][%s] bits %s, expected %s at height %d", block.Hash(), block.Header.Bits, parent.NextBits, parent.Height+1))
		}

		if block.Header.Timestamp < parent.Header.Timestamp {
			return rejected(errors.NewBlockTimestampError("[ValidateBlock][%s] timestamp %d is before parent timestamp %d", block.Hash(), block.Header.Timestamp, parent.Header.Timestamp))
		}
	}

	maxTime := u.now().Add(u.chainParams.MaxFutureBlockTime)
	if block.Header.Time().After(maxTime) {
		return rejected(errors.NewBlockTimestampError("[ValidateBlock][%s] timestamp %s is too far in the future", block.Hash(), block.Header.Time().UTC()))
	}

	if err := block.CheckMerkleRoot(); err != nil {
		return rejected(err)
	}

	if parent == nil {
		return Result{Status: StatusOrphan, Err: errors.NewBlockOrphanError("[ValidateBlock][%s] parent %s unknown", block.Hash(), block.Header.HashPrevBlock)}
	}

	height := parent.Height + 1

	fees, err := u.checkTransactions(block, parent.Utxos)
	if err != nil {
		return rejected(err)
	}

	if err = u.validator.ValidateCoinbase(block.CoinbaseTx(), height, fees); err != nil {
		return rejected(err)
	}

	return accepted(fees)
}

func (u *BlockValidation) checkStructure(block *model.Block) error {
	if len(block.Transactions) == 0 {
		return errors.NewBlockStructureError("[ValidateBlock][%s] block has no transactions", block.Hash())
	}

	if size := block.SizeInBytes(); size > u.maxBlockSize {
		return errors.NewBlockStructureError("[ValidateBlock][%s] block is %d bytes, limit %d", block.Hash(), size, u.maxBlockSize)
	}

	if !block.Transactions[0].IsCoinbase() {
		return errors.NewBlockCoinbaseError("[ValidateBlock][%s] first transaction is not a coinbase", block.Hash())
	}

	for i, tx := range block.Transactions[1:] {
		if tx.IsCoinbase() {
			return errors.NewBlockStructureError("[ValidateBlock][%s] transaction %d is a second coinbase", block.Hash(), i+1)
		}
	}

	// a repeated transaction leaves the merkle root unchanged, so the mutated block would share the
	// hash of the valid one
	txIDs := make(map[chainhash.Hash]struct{}, len(block.Transactions))

	for i, tx := range block.Transactions {
		txID := tx.TxID()
		if _, ok := txIDs[txID]; ok {
			return errors.NewBlockStructureError("[ValidateBlock][%s] transaction %d repeats %s", block.Hash(), i, txID)
		}

		txIDs[txID] = struct{}{}
	}

	return nil
}

func (u *BlockValidation) checkProofOfWork(header *model.BlockHeader) error {
	target := header.Bits.CalculateTarget()

	if target.Sign() <= 0 || target.Cmp(u.chainParams.PowLimit) > 0 {
		return errors.NewBlockDifficultyError("[ValidateBlock][%s] target %s outside the network range", header.Hash(), header.Bits)
	}

	if !header.HasMetTargetDifficulty() {
		return errors.NewBlockPoWError("[ValidateBlock][%s] hash is above target %s", header.Hash(), header.Bits)
	}

	return nil
}

// checkTransactions validates every non-coinbase transaction in block order against a view over
// utxos, applying each to the view so later transactions may spend earlier ones but never the same
// output twice. The coinbase output is not spendable inside its own block.
func (u *BlockValidation) checkTransactions(block *model.Block, utxos utxo.Reader) (uint64, error) {
	view := utxo.NewView(utxos)

	var fees uint64

	for _, tx := range block.Transactions[1:] {
		fee, err := u.validator.ValidateTransaction(tx, view)
		if err != nil {
			return 0, errors.NewBlockInvalidError("[ValidateBlock][%s] transaction %s invalid", block.Hash(), tx.TxID(), err)
		}

		if fees+fee < fees {
			return 0, errors.NewTxValueOverflowError("[ValidateBlock][%s] fees overflow", block.Hash())
		}

		fees += fee

		// the validator has just confirmed every input exists
		if _, err = view.ApplyTx(tx, 0); err != nil {
			return 0, errors.NewBlockInvalidError("[ValidateBlock][%s] transaction %s conflicts inside the block", block.Hash(), tx.TxID(), err)
		}
	}

	return fees, nil
}
