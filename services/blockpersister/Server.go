// Package blockpersister restores the canonical chain at startup and saves it while the node runs.
package blockpersister

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/services/blockvalidation"
	"github.com/bsv-blockchain/powledger/settings"
	"github.com/bsv-blockchain/powledger/stores/blockchain"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/prometheus/client_golang/prometheus"
)

type Server struct {
	logger   ulogger.Logger
	settings *settings.Settings
	chain    ChainClient
	store    blockchain.Store

	// mu serializes saves; savedTip is the tip of the last successful save
	mu          sync.Mutex
	initialized bool
	savedTip    chainhash.Hash
	lastErr     error
}

func New(logger ulogger.Logger, tSettings *settings.Settings, chain ChainClient, store blockchain.Store) *Server {
	initPrometheusMetrics()

	return &Server{
		logger:   logger,
		settings: tSettings,
		chain:    chain,
		store:    store,
	}
}

func (s *Server) Health(_ context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastErr != nil {
		return http.StatusServiceUnavailable, fmt.Sprintf(`{"resource": "blockpersister", "error": %q}`, s.lastErr.Error()), nil
	}

	return http.StatusOK, fmt.Sprintf(`{"resource": "blockpersister", "tip": "%s"}`, s.savedTip), nil
}

// Init replays the saved chain into the blockchain service. Every saved block must be accepted: a store
// that cannot be read, or that holds a chain the node rejects, stops the node rather than starting it
// from genesis.
func (s *Server) Init(ctx context.Context) error {
	blocks, err := s.store.Load(ctx)
	if err != nil {
		return errors.NewStorageError("[BlockPersister] failed to load chain", err)
	}

	if len(blocks) == 0 {
		s.logger.Infof("[BlockPersister] no saved chain, starting from genesis")
		s.savedTip = *s.settings.ChainCfgParams.GenesisHash
		s.initialized = true

		return nil
	}

	start := time.Now()

	for i, block := range blocks {
		result, err := s.chain.ProcessBlock(ctx, block)
		if err != nil {
			return errors.NewStorageError("[BlockPersister] failed to replay block %s", block.Hash(), err)
		}

		if result.Status != blockvalidation.StatusAccepted {
			return errors.NewStorageError("[BlockPersister] saved block %s at height %d was not accepted", block.Hash(), i+1, result.Err)
		}
	}

	header, height := s.chain.GetBestBlockHeader()
	s.savedTip = *header.Hash()
	s.initialized = true

	prometheusBlockPersisterHeight.Set(float64(height))

	s.logger.Infof("[BlockPersister] replayed %d blocks in %s, tip %s at height %d", len(blocks), time.Since(start), header.Hash(), height)

	return nil
}

// Start saves the chain every SaveInterval until ctx is done. A failed save is logged and tried again
// on the next tick.
func (s *Server) Start(ctx context.Context, readyCh chan<- struct{}) error {
	ticker := time.NewTicker(s.settings.BlockPersister.SaveInterval)
	defer ticker.Stop()

	close(readyCh)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := s.Save(ctx); err != nil {
				s.logger.Errorf("[BlockPersister] %v", err)
			}
		}
	}
}

// Stop saves the chain one last time and closes the store.
func (s *Server) Stop(ctx context.Context) error {
	err := s.Save(ctx)

	if closeErr := s.store.Close(); closeErr != nil {
		s.logger.Warnf("[BlockPersister] failed to close store: %v", closeErr)
	}

	return err
}

// Save writes the canonical chain to the store unless its tip is the one last saved. Nothing is written
// before Init has restored the saved chain, so a failed startup never overwrites it.
func (s *Server) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}

	header, _ := s.chain.GetBestBlockHeader()
	if header.Hash().IsEqual(&s.savedTip) {
		return nil
	}

	timer := prometheus.NewTimer(prometheusBlockPersisterSave)
	defer timer.ObserveDuration()

	// the chain may move on while the blocks are written; the next save catches up
	blocks := s.chain.CanonicalBlocks()

	if err := s.store.Save(ctx, blocks); err != nil {
		prometheusBlockPersisterSaveErrors.Inc()

		s.lastErr = errors.NewStorageError("failed to save chain of %d blocks", len(blocks), err)

		return s.lastErr
	}

	s.savedTip = *s.settings.ChainCfgParams.GenesisHash
	if len(blocks) > 0 {
		s.savedTip = *blocks[len(blocks)-1].Hash()
	}

	s.lastErr = nil

	prometheusBlockPersisterHeight.Set(float64(len(blocks)))

	s.logger.Debugf("[BlockPersister] saved %d blocks", len(blocks))

	return nil
}
