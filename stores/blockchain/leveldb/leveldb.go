// Package leveldb stores the canonical chain in a goleveldb database keyed by block height.
package leveldb

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/url"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/btcsuite/goleveldb/leveldb"
	"github.com/btcsuite/goleveldb/leveldb/opt"
	"github.com/btcsuite/goleveldb/leveldb/util"
)

// Keys: 'b' + big-endian height -> block hash + canonical block bytes, so an iterator over the
// prefix visits blocks in height order. 'g' holds the genesis hash of the chain.
const (
	blockPrefix = 'b'
	genesisKey  = "g"
)

type LevelDB struct {
	db     *leveldb.DB
	logger ulogger.Logger
	params *chaincfg.Params
}

func New(logger ulogger.Logger, params *chaincfg.Params, storeURL *url.URL) (*LevelDB, error) {
	path := storeURL.Host + storeURL.Path
	if path == "" {
		return nil, errors.NewConfigurationError("leveldb store url %s names no folder", storeURL)
	}

	logger.Infof("Opening LevelDB at %s", path)

	db, err := leveldb.OpenFile(path, &opt.Options{
		Compression: opt.NoCompression,
	})
	if err != nil {
		return nil, errors.NewStorageError("couldn't open LevelDB at %s", path, err)
	}

	return &LevelDB{
		db:     db,
		logger: logger,
		params: params,
	}, nil
}

func blockKey(height uint32) []byte {
	key := make([]byte, 5)
	key[0] = blockPrefix
	binary.BigEndian.PutUint32(key[1:], height)

	return key
}

func (l *LevelDB) Load(_ context.Context) ([]*model.Block, error) {
	genesis, err := l.db.Get([]byte(genesisKey), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}

		return nil, errors.NewStorageError("failed to read genesis", err)
	}

	if !bytes.Equal(genesis, l.params.GenesisHash.CloneBytes()) {
		return nil, errors.NewStorageError("database genesis does not match %s", l.params.Name)
	}

	iter := l.db.NewIterator(util.BytesPrefix([]byte{blockPrefix}), nil)
	defer iter.Release()

	blocks := make([]*model.Block, 0)

	for iter.Next() {
		key := iter.Key()
		value := iter.Value()

		height := uint32(len(blocks) + 1) //nolint:gosec // chain height fits in uint32
		if len(key) != 5 || binary.BigEndian.Uint32(key[1:]) != height {
			return nil, errors.NewStorageError("block at height %d missing", height)
		}

		if len(value) < chainhash.HashSize {
			return nil, errors.NewStorageError("block at height %d is truncated", height)
		}

		// the iterator reuses its buffers
		data := bytes.Clone(value[chainhash.HashSize:])

		block, err := model.NewBlockFromBytes(data)
		if err != nil {
			return nil, errors.NewStorageError("block at height %d is corrupt", height, err)
		}

		if !bytes.Equal(block.Hash().CloneBytes(), value[:chainhash.HashSize]) {
			return nil, errors.NewStorageError("block at height %d does not match its hash", height)
		}

		blocks = append(blocks, block)
	}

	if err = iter.Error(); err != nil {
		return nil, errors.NewStorageError("failed to iterate blocks", err)
	}

	l.logger.Infof("[LevelDB] loaded %d blocks", len(blocks))

	return blocks, nil
}

// Save writes the changed heights and deletes those above the new tip in one batch.
func (l *LevelDB) Save(_ context.Context, blocks []*model.Block) error {
	batch := new(leveldb.Batch)
	batch.Put([]byte(genesisKey), l.params.GenesisHash.CloneBytes())

	for i, block := range blocks {
		height := uint32(i + 1) //nolint:gosec // chain height fits in uint32
		hash := block.Hash()

		saved, err := l.db.Get(blockKey(height), nil)
		if err == nil && len(saved) >= chainhash.HashSize && bytes.Equal(saved[:chainhash.HashSize], hash.CloneBytes()) {
			continue
		}

		if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
			return errors.NewStorageError("failed to read block at height %d", height, err)
		}

		value := make([]byte, 0, chainhash.HashSize+block.SizeInBytes())
		value = append(value, hash.CloneBytes()...)
		value = append(value, block.Bytes()...)

		batch.Put(blockKey(height), value)
	}

	iter := l.db.NewIterator(&util.Range{Start: blockKey(uint32(len(blocks) + 1)), Limit: []byte{blockPrefix + 1}}, nil) //nolint:gosec // chain height fits in uint32
	for iter.Next() {
		batch.Delete(bytes.Clone(iter.Key()))
	}

	iter.Release()

	if err := iter.Error(); err != nil {
		return errors.NewStorageError("failed to iterate stale blocks", err)
	}

	if err := l.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return errors.NewStorageError("failed to write blocks", err)
	}

	return nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
