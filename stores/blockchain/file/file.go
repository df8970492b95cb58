// Package file stores the canonical chain as a single CBOR snapshot file.
package file

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"path/filepath"

	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/ulogger"
)

type File struct {
	logger   ulogger.Logger
	params   *chaincfg.Params
	filename string
}

func New(logger ulogger.Logger, params *chaincfg.Params, storeURL *url.URL) (*File, error) {
	filename := storeURL.Host + storeURL.Path
	if filename == "" {
		return nil, errors.NewConfigurationError("file store url %s names no file", storeURL)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, errors.NewStorageError("[File] failed to create folder for %s", filename, err)
	}

	return &File{
		logger:   logger,
		params:   params,
		filename: filename,
	}, nil
}

func (f *File) Load(_ context.Context) ([]*model.Block, error) {
	b, err := os.ReadFile(f.filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, errors.NewStorageError("[File] failed to read %s", f.filename, err)
	}

	snapshot, err := DecodeSnapshot(b)
	if err != nil {
		return nil, errors.NewStorageError("[File] %s is corrupt", f.filename, err)
	}

	blocks, err := snapshot.DecodeBlocks(f.params)
	if err != nil {
		return nil, errors.NewStorageError("[File] %s", f.filename, err)
	}

	f.logger.Infof("[File] loaded %d blocks from %s", len(blocks), f.filename)

	return blocks, nil
}

// Save writes the snapshot to a temporary file and renames it over the previous one, so a crash
// leaves either the old or the new snapshot in place.
func (f *File) Save(_ context.Context, blocks []*model.Block) error {
	b, err := EncodeSnapshot(NewSnapshot(f.params, blocks))
	if err != nil {
		return err
	}

	randNum, err := rand.Int(rand.Reader, big.NewInt(1<<63-1))
	if err != nil {
		return errors.NewStorageError("[File] failed to generate random number", err)
	}

	tmpFilename := fmt.Sprintf("%s.%d.tmp", f.filename, randNum)

	if err = os.WriteFile(tmpFilename, b, 0o644); err != nil {
		_ = os.Remove(tmpFilename)
		return errors.NewStorageError("[File] failed to write %s", tmpFilename, err)
	}

	if err = os.Rename(tmpFilename, f.filename); err != nil {
		_ = os.Remove(tmpFilename)
		return errors.NewStorageError("[File] failed to rename %s", tmpFilename, err)
	}

	return nil
}

func (f *File) Close() error {
	return nil
}
