package blockchain

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bsv-blockchain/powledger/errors"
)

func (b *Blockchain) Health(_ context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	if state := b.GetFSMCurrentState(); state == FSMStateIdle || state == FSMStateStopped {
		return http.StatusServiceUnavailable, fmt.Sprintf(`{"resource": "blockchain", "status": "%s"}`, state), nil
	}

	header, height := b.GetBestBlockHeader()

	return http.StatusOK, fmt.Sprintf(`{"resource": "blockchain", "status": "%s", "height": %d, "tip": "%s", "mempool": %d, "orphans": %d}`,
		b.GetFSMCurrentState(), height, header.Hash(), b.mempool.Count(), b.OrphanCount()), nil
}

func (b *Blockchain) Init(_ context.Context) error {
	return nil
}

// Start runs the orphan expiry and the periodic mempool cleanup until ctx is done. It returns the first
// fatal error hit while processing a block, which stops the node.
func (b *Blockchain) Start(ctx context.Context, readyCh chan<- struct{}) error {
	go b.orphans.Start()
	defer b.orphans.Stop()

	if err := b.Run(ctx); err != nil {
		return err
	}

	close(readyCh)

	ticker := time.NewTicker(b.settings.Mempool.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-b.fatalErr:
			return errors.NewProcessingError("[Blockchain] chain state is inconsistent", err)

		case now := <-ticker.C:
			b.ExpireMempool(now)
		}
	}
}

func (b *Blockchain) Stop(ctx context.Context) error {
	if err := b.SendFSMEvent(ctx, FSMEventStop); err != nil {
		b.logger.Warnf("[Blockchain][Stop] %v", err)
	}

	b.closeSubscriptions()

	return nil
}
