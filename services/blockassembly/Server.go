// Package blockassembly hands block templates to miners and turns their solutions into blocks.
//
// Every candidate gets a random id and is held until it expires or the tip moves, so a solution can
// only be submitted for work on the current tip.
package blockassembly

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/blockvalidation"
	"github.com/bsv-blockchain/powledger/settings"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

type BlockAssembly struct {
	logger     ulogger.Logger
	settings   *settings.Settings
	chain      ChainClient
	candidates *ttlcache.Cache[string, *model.MiningCandidate]
}

func New(logger ulogger.Logger, tSettings *settings.Settings, chain ChainClient) *BlockAssembly {
	initPrometheusMetrics()

	return &BlockAssembly{
		logger:   logger,
		settings: tSettings,
		chain:    chain,
		candidates: ttlcache.New[string, *model.MiningCandidate](
			ttlcache.WithTTL[string, *model.MiningCandidate](tSettings.BlockAssembly.CandidateTTL),
		),
	}
}

func (ba *BlockAssembly) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, fmt.Sprintf(`{"resource": "blockassembly", "candidates": %d}`, ba.candidates.Len()), nil
}

func (ba *BlockAssembly) Init(_ context.Context) error {
	return nil
}

// Start drops every outstanding candidate whenever the tip changes.
func (ba *BlockAssembly) Start(ctx context.Context, readyCh chan<- struct{}) error {
	go ba.candidates.Start()
	defer ba.candidates.Stop()

	notifications := ba.chain.Subscribe(ctx, "blockassembly")

	close(readyCh)

	for {
		select {
		case <-ctx.Done():
			return nil

		case notification, ok := <-notifications:
			if !ok {
				return nil
			}

			if notification.Type == model.NotificationTypeBlock {
				ba.invalidateCandidates(notification)
			}
		}
	}
}

func (ba *BlockAssembly) Stop(_ context.Context) error {
	ba.candidates.DeleteAll()
	return nil
}

func (ba *BlockAssembly) invalidateCandidates(notification *model.Notification) {
	if n := ba.candidates.Len(); n > 0 {
		ba.logger.Debugf("[BlockAssembly] tip moved to %s at %d, dropping %d candidates", notification.Hash, notification.Height, n)
	}

	ba.candidates.DeleteAll()
}

// GetMiningCandidate returns a template on the current tip holding the best paying mempool
// transactions.
func (ba *BlockAssembly) GetMiningCandidate(ctx context.Context) (*model.MiningCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewContextCanceledError("[GetMiningCandidate] context done", err)
	}

	candidate, err := ba.chain.GetMiningCandidate(ba.settings.BlockAssembly.MaxBlockTransactions)
	if err != nil {
		return nil, errors.NewServiceError("[GetMiningCandidate] cannot build candidate", err)
	}

	candidate.ID = uuid.NewString()
	ba.candidates.Set(candidate.ID, candidate, ttlcache.DefaultTTL)

	prometheusBlockAssemblyCandidates.Inc()

	ba.logger.Debugf("[GetMiningCandidate][%s] height %d on %s with %d transactions, coinbase value %d",
		candidate.ID, candidate.Height, candidate.PreviousHash, len(candidate.Transactions), candidate.CoinbaseValue)

	return candidate, nil
}

// SubmitMiningSolution assembles the block for a candidate and hands it to the chain manager. A
// solution without a coinbase gets one paying the whole candidate value to solution.Owner.
func (ba *BlockAssembly) SubmitMiningSolution(ctx context.Context, solution *model.MiningSolution) (blockvalidation.Result, error) {
	item := ba.candidates.Get(solution.ID)
	if item == nil {
		return blockvalidation.Result{}, errors.NewNotFoundError("[SubmitMiningSolution][%s] candidate unknown, expired or stale", solution.ID)
	}

	candidate := item.Value()

	coinbase := solution.Coinbase
	if coinbase == nil {
		coinbase = candidate.CreateCoinbaseTx(solution.Owner)
	}

	block := candidate.NewBlock(coinbase, solution.Time, solution.Nonce)

	result, err := ba.chain.ProcessBlock(ctx, block)
	if err != nil {
		return result, err
	}

	prometheusBlockAssemblySolutions.WithLabelValues(result.Status.String()).Inc()

	if result.Status == blockvalidation.StatusAccepted {
		ba.logger.Infof("[SubmitMiningSolution][%s] block %s accepted at height %d", solution.ID, block.Hash(), candidate.Height)
		ba.candidates.Delete(solution.ID)
	} else {
		ba.logger.Warnf("[SubmitMiningSolution][%s] block %s %s: %v", solution.ID, block.Hash(), result.Status, result.Err)
	}

	return result, nil
}
