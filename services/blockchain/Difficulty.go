package blockchain

import (
	"math/big"

	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/ulogger"
)

// AncestorFunc returns the header at height on the branch being extended.
type AncestorFunc func(height uint32) (*model.BlockHeader, bool)

type Difficulty struct {
	logger        ulogger.Logger
	chainParams   *chaincfg.Params
	powLimitnBits model.NBit
}

func NewDifficulty(logger ulogger.Logger, params *chaincfg.Params) *Difficulty {
	return &Difficulty{
		logger:        logger,
		chainParams:   params,
		powLimitnBits: model.NewNBitFromUint32(params.PowLimitBits),
	}
}

// CalcNextWorkRequired returns the bits a block built on parent at parentHeight must carry.
//
// The target only moves on blocks whose height is a multiple of the retarget interval. It is scaled by
// the time the last interval actually took over the time it should have taken, with the ratio clamped
// to the adjustment factor in either direction and the result capped at the network limit.
func (d *Difficulty) CalcNextWorkRequired(parent *model.BlockHeader, parentHeight uint32, ancestor AncestorFunc) (model.NBit, error) {
	if d.chainParams.NoDifficultyAdjustment {
		return parent.Bits, nil
	}

	interval := d.chainParams.RetargetInterval
	height := parentHeight + 1

	if interval == 0 || height%interval != 0 {
		return parent.Bits, nil
	}

	first, ok := ancestor(height - interval)
	if !ok {
		return model.NBit{}, errors.NewProcessingError("[CalcNextWorkRequired] no ancestor at height %d for retarget at %d", height-interval, height)
	}

	expected := int64(d.chainParams.TargetTimespan().Seconds())
	actual := int64(parent.Timestamp) - int64(first.Timestamp)

	factor := d.chainParams.RetargetAdjustmentFactor
	if factor < 1 {
		factor = 1
	}

	minTimespan := expected / factor
	maxTimespan := expected * factor

	if actual < minTimespan {
		actual = minTimespan
	} else if actual > maxTimespan {
		actual = maxTimespan
	}

	target := parent.Bits.CalculateTarget()
	target.Mul(target, big.NewInt(actual))
	target.Div(target, big.NewInt(expected))

	if target.Cmp(d.chainParams.PowLimit) > 0 {
		return d.powLimitnBits, nil
	}

	next := model.NewNBitFromTarget(target)

	d.logger.Debugf("[CalcNextWorkRequired] retarget at height %d: timespan %ds (expected %ds), %s -> %s", height, actual, expected, parent.Bits, next)

	return next, nil
}
