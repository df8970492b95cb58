package blockchain

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/bsv-blockchain/powledger/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	dir := t.TempDir()

	tSettings := test.CreateBaseTestSettings()
	tSettings.DataFolder = dir

	tests := []struct {
		name string
		url  string
	}{
		{"file", "file://" + filepath.Join(dir, "chain.cbor")},
		{"sqlite", "sqlite:///chain"},
		{"sqlitememory", "sqlitememory:///chain"},
		{"leveldb", "leveldb://" + filepath.Join(dir, "chain.ldb")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			require.NoError(t, err)

			store, err := NewStore(ulogger.TestLogger{}, tSettings, u)
			require.NoError(t, err)

			defer store.Close()

			blocks, err := store.Load(context.Background())
			require.NoError(t, err)
			assert.Nil(t, blocks)
		})
	}

	t.Run("unknown scheme", func(t *testing.T) {
		u, err := url.Parse("postgres://localhost/chain")
		require.NoError(t, err)

		_, err = NewStore(ulogger.TestLogger{}, tSettings, u)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrStorageError))
	})
}
