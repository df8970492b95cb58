package util

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/bsv-blockchain/powledger/util/usql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver
)

type SQLEngine string

const (
	Sqlite       SQLEngine = "sqlite"
	SqliteMemory SQLEngine = "sqlitememory"
)

// InitSQLiteDB opens the sqlite database named by storeURL. sqlite://name opens name.db in
// dataFolder; sqlitememory:// opens a private in-memory database.
func InitSQLiteDB(logger ulogger.Logger, storeURL *url.URL, dataFolder string) (*usql.DB, error) {
	var filename string

	switch SQLEngine(storeURL.Scheme) {
	case SqliteMemory:
		filename = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())

	case Sqlite:
		if err := os.MkdirAll(dataFolder, 0o755); err != nil {
			return nil, errors.NewStorageError("failed to create data folder %s", dataFolder, err)
		}

		name := filepath.Base(storeURL.Host + storeURL.Path)
		if name == "." || name == "/" {
			return nil, errors.NewConfigurationError("sqlite store url %s names no database", storeURL)
		}

		path, err := filepath.Abs(filepath.Join(dataFolder, name+".db"))
		if err != nil {
			return nil, errors.NewStorageError("failed to get absolute path for sqlite DB", err)
		}

		// fail fast on a locked database rather than hiding contention behind a long busy timeout
		filename = fmt.Sprintf("%s?_pragma=busy_timeout=5000&_pragma=journal_mode=WAL", path)

	default:
		return nil, errors.NewConfigurationError("db: unknown scheme: %s", storeURL.Scheme)
	}

	logger.Infof("Using sqlite DB: %s", filename)

	db, err := usql.Open("sqlite", filename)
	if err != nil {
		return nil, errors.NewStorageError("failed to open sqlite DB", err)
	}

	// an in-memory database lives as long as its last connection
	db.SetMaxOpenConns(1)

	return db, nil
}
