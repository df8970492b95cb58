package blockchain

import (
	"net/url"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/settings"
	"github.com/bsv-blockchain/powledger/stores/blockchain/file"
	"github.com/bsv-blockchain/powledger/stores/blockchain/leveldb"
	"github.com/bsv-blockchain/powledger/stores/blockchain/sql"
	"github.com/bsv-blockchain/powledger/ulogger"
)

func NewStore(logger ulogger.Logger, tSettings *settings.Settings, storeURL *url.URL) (Store, error) {
	if storeURL == nil {
		return nil, errors.NewConfigurationError("no block store configured")
	}

	switch storeURL.Scheme {
	case "file":
		return file.New(logger, tSettings.ChainCfgParams, storeURL)
	case "sqlite", "sqlitememory":
		return sql.New(logger, tSettings, storeURL)
	case "leveldb":
		return leveldb.New(logger, tSettings.ChainCfgParams, storeURL)
	}

	return nil, errors.NewStorageError("unknown scheme: %s", storeURL.Scheme)
}
