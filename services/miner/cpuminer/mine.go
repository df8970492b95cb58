package cpuminer

import (
	"context"
	"time"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
)

// nonces tried between context checks
const checkInterval = 1 << 12

// Mine searches for a nonce that puts the candidate block, paid to owner, below its target. The block
// time is the later of now and the candidate minimum time; the search stops when ctx is done.
func Mine(ctx context.Context, candidate *model.MiningCandidate, owner model.OwnerID) (*model.MiningSolution, error) {
	timestamp := uint32(time.Now().Unix()) //nolint:gosec // unix seconds fit until 2106
	if timestamp < candidate.MinTime {
		timestamp = candidate.MinTime
	}

	coinbase := candidate.CreateCoinbaseTx(owner)
	header := candidate.NewBlock(coinbase, timestamp, 0).Header

	for nonce := uint64(0); ; nonce++ {
		if nonce%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.NewContextCanceledError("[Mine] stopped mining %s after %d nonces", candidate.ID, nonce, err)
			}
		}

		header.Nonce = nonce

		if header.HasMetTargetDifficulty() {
			return &model.MiningSolution{
				ID:       candidate.ID,
				Owner:    owner,
				Nonce:    nonce,
				Time:     timestamp,
				Coinbase: coinbase,
			}, nil
		}
	}
}
