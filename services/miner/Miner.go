// Package miner is a CPU miner working against block assembly. It exists so a single node can extend
// a development chain; it is off by default.
package miner

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/blockassembly"
	"github.com/bsv-blockchain/powledger/services/blockvalidation"
	"github.com/bsv-blockchain/powledger/services/miner/cpuminer"
	"github.com/bsv-blockchain/powledger/settings"
	"github.com/bsv-blockchain/powledger/ulogger"
)

// TipSubscriber delivers tip changes so stale work is abandoned at once.
type TipSubscriber interface {
	Subscribe(ctx context.Context, source string) <-chan *model.Notification
}

type Miner struct {
	logger        ulogger.Logger
	settings      *settings.Settings
	blockAssembly blockassembly.Interface
	subscriber    TipSubscriber
	owner         model.OwnerID
	wg            sync.WaitGroup
}

func New(logger ulogger.Logger, tSettings *settings.Settings, blockAssembly blockassembly.Interface, subscriber TipSubscriber) *Miner {
	initPrometheusMetrics()

	return &Miner{
		logger:        logger,
		settings:      tSettings,
		blockAssembly: blockAssembly,
		subscriber:    subscriber,
	}
}

func (m *Miner) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "OK", nil
}

func (m *Miner) Init(_ context.Context) error {
	owner, err := model.NewOwnerIDFromString(m.settings.Miner.Owner)
	if err != nil {
		return errors.NewConfigurationError("[Miner] miner_owner %q is not a valid owner id", m.settings.Miner.Owner, err)
	}

	m.owner = owner

	return nil
}

// Start mines continuously. A new candidate is fetched whenever a block is found, the tip changes or
// the candidate interval passes, which also picks up newly arrived transactions.
func (m *Miner) Start(ctx context.Context, readyCh chan<- struct{}) error {
	notifications := m.subscriber.Subscribe(ctx, "miner")

	close(readyCh)

	m.logger.Infof("[Miner] mining to %s, new candidate every %s", m.owner, m.settings.Miner.CandidateInterval)

	ticker := time.NewTicker(m.settings.Miner.CandidateInterval)
	defer ticker.Stop()

	found := make(chan struct{}, 1)

	cancel := m.startMining(ctx, found)

	for {
		select {
		case <-ctx.Done():
			cancel()
			m.wg.Wait()

			return nil

		case notification, ok := <-notifications:
			if !ok {
				cancel()
				m.wg.Wait()

				return nil
			}

			if notification.Type != model.NotificationTypeBlock {
				continue
			}

		case <-found:
		case <-ticker.C:
		}

		cancel()

		cancel = m.startMining(ctx, found)
	}
}

func (m *Miner) Stop(_ context.Context) error {
	return nil
}

// startMining mines one candidate in the background and signals found when its block was accepted.
func (m *Miner) startMining(ctx context.Context, found chan<- struct{}) context.CancelFunc {
	miningCtx, cancel := context.WithCancel(ctx)

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		accepted, err := m.mine(miningCtx)
		if err != nil {
			if !errors.Is(err, errors.ErrContextCanceled) {
				m.logger.Warnf("[Miner] %v", err)
			}

			return
		}

		if accepted {
			select {
			case found <- struct{}{}:
			default:
			}
		}
	}()

	return cancel
}

func (m *Miner) mine(ctx context.Context) (bool, error) {
	start := time.Now()

	candidate, err := m.blockAssembly.GetMiningCandidate(ctx)
	if err != nil {
		return false, err
	}

	solution, err := cpuminer.Mine(ctx, candidate, m.owner)
	if err != nil {
		return false, err
	}

	result, err := m.blockAssembly.SubmitMiningSolution(ctx, solution)
	if err != nil {
		return false, errors.NewServiceError("[Miner] submitting solution for %s", candidate.ID, err)
	}

	if result.Status != blockvalidation.StatusAccepted {
		return false, errors.NewProcessingError("[Miner] block at height %d %s", candidate.Height, result.Status, result.Err)
	}

	prometheusBlockMined.Observe(time.Since(start).Seconds())

	m.logger.Infof("[Miner] mined block at height %d with %d transactions in %s", candidate.Height, len(candidate.Transactions), time.Since(start))

	return true, nil
}

// MineBlocks mines n blocks one after the other on whatever the tip is.
func (m *Miner) MineBlocks(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if _, err := m.mine(ctx); err != nil {
			return err
		}
	}

	return nil
}
