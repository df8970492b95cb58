// Package sql stores the canonical chain in a sqlite database, one row per block.
package sql

import (
	"bytes"
	"context"
	"database/sql"
	"net/url"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/settings"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/bsv-blockchain/powledger/util"
	"github.com/bsv-blockchain/powledger/util/usql"
)

type SQL struct {
	db     *usql.DB
	logger ulogger.Logger
	params *chaincfg.Params
}

func New(logger ulogger.Logger, tSettings *settings.Settings, storeURL *url.URL) (*SQL, error) {
	db, err := util.InitSQLiteDB(logger, storeURL, tSettings.DataFolder)
	if err != nil {
		return nil, errors.NewStorageError("failed to init sql db", err)
	}

	s := &SQL{
		db:     db,
		logger: logger,
		params: tSettings.ChainCfgParams,
	}

	if err = s.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQL) createTables(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS state (
		 key  TEXT PRIMARY KEY
		,data BLOB NOT NULL
		);
	`); err != nil {
		return errors.NewStorageError("could not create state table", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS blocks (
		 height INTEGER PRIMARY KEY
		,hash   BLOB NOT NULL
		,data   BLOB NOT NULL
		);
	`); err != nil {
		return errors.NewStorageError("could not create blocks table", err)
	}

	return nil
}

func (s *SQL) Load(ctx context.Context) ([]*model.Block, error) {
	if err := s.checkNetwork(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT height, hash, data FROM blocks ORDER BY height`)
	if err != nil {
		return nil, errors.NewStorageError("failed to query blocks", err)
	}
	defer rows.Close()

	var blocks []*model.Block

	for rows.Next() {
		var (
			height uint32
			hash   []byte
			data   []byte
		)

		if err = rows.Scan(&height, &hash, &data); err != nil {
			return nil, errors.NewStorageError("failed to scan block", err)
		}

		if int(height) != len(blocks)+1 {
			return nil, errors.NewStorageError("block at height %d missing", len(blocks)+1)
		}

		block, err := model.NewBlockFromBytes(data)
		if err != nil {
			return nil, errors.NewStorageError("block at height %d is corrupt", height, err)
		}

		if !bytes.Equal(block.Hash().CloneBytes(), hash) {
			return nil, errors.NewStorageError("block at height %d does not match its hash", height)
		}

		blocks = append(blocks, block)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to read blocks", err)
	}

	if len(blocks) > 0 {
		s.logger.Infof("[SQL] loaded %d blocks", len(blocks))
	}

	return blocks, nil
}

// checkNetwork fails when the database was written for another network or genesis block.
func (s *SQL) checkNetwork(ctx context.Context) error {
	var genesis []byte

	err := s.db.QueryRowContext(ctx, `SELECT data FROM state WHERE key = 'genesis'`).Scan(&genesis)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}

		return errors.NewStorageError("failed to read genesis", err)
	}

	if !bytes.Equal(genesis, s.params.GenesisHash.CloneBytes()) {
		return errors.NewStorageError("database genesis does not match %s", s.params.Name)
	}

	return nil
}

// Save writes the rows whose block changed and removes the rows above the new tip, all in one
// transaction.
func (s *SQL) Save(ctx context.Context, blocks []*model.Block) error {
	saved, err := s.savedHashes(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("failed to begin transaction", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO state (key, data) VALUES ('genesis', $1)`, s.params.GenesisHash.CloneBytes()); err != nil {
		return errors.NewStorageError("failed to write genesis", err)
	}

	for i, block := range blocks {
		height := uint32(i + 1) //nolint:gosec // chain height fits in uint32
		hash := block.Hash()

		if savedHash, ok := saved[height]; ok && savedHash.IsEqual(hash) {
			continue
		}

		if _, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO blocks (height, hash, data) VALUES ($1, $2, $3)`,
			height, hash.CloneBytes(), block.Bytes()); err != nil {
			return errors.NewStorageError("failed to write block %s", hash, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM blocks WHERE height > $1`, len(blocks)); err != nil {
		return errors.NewStorageError("failed to delete stale blocks", err)
	}

	if err = tx.Commit(); err != nil {
		return errors.NewStorageError("failed to commit blocks", err)
	}

	return nil
}

func (s *SQL) savedHashes(ctx context.Context) (map[uint32]chainhash.Hash, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT height, hash FROM blocks`)
	if err != nil {
		return nil, errors.NewStorageError("failed to query block hashes", err)
	}
	defer rows.Close()

	saved := make(map[uint32]chainhash.Hash)

	for rows.Next() {
		var (
			height uint32
			hash   []byte
		)

		if err = rows.Scan(&height, &hash); err != nil {
			return nil, errors.NewStorageError("failed to scan block hash", err)
		}

		h, err := chainhash.NewHash(hash)
		if err != nil {
			// rewritten below
			continue
		}

		saved[height] = *h
	}

	if err = rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to read block hashes", err)
	}

	return saved, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}
