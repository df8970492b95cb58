// Package work provides utilities for calculating proof-of-work values.
//
// The work of a block is the expected number of hash operations needed to find a header hash at or
// below its target. Cumulative work decides which branch of the block tree is canonical.
package work

import (
	"math/big"

	"github.com/bsv-blockchain/powledger/model"
)

// CalcBlockWork returns 2^256 / (target + 1) for the compact target bits, or zero when the target is
// not positive.
func CalcBlockWork(bits model.NBit) *big.Int {
	return bits.CalculateWork()
}

// CalculateWork adds the work of a block with the given bits to the cumulative work of its parent.
func CalculateWork(prevWork *big.Int, bits model.NBit) *big.Int {
	total := new(big.Int).Set(CalcBlockWork(bits))

	if prevWork != nil {
		total.Add(total, prevWork)
	}

	return total
}
