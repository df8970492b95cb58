package file

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/bsv-blockchain/powledger/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, params *chaincfg.Params) (*File, string) {
	t.Helper()

	filename := filepath.Join(t.TempDir(), "chain", "blockchain.cbor")

	u, err := url.Parse("file://" + filename)
	require.NoError(t, err)

	f, err := New(ulogger.TestLogger{}, params, u)
	require.NoError(t, err)

	return f, filename
}

func testChain(t *testing.T, params *chaincfg.Params, n int) []*model.Block {
	t.Helper()

	_, owner := test.NewKey(t)

	return test.BuildChain(t, params, params.GenesisBlock.Header, 1, n, owner)
}

func TestLoadMissing(t *testing.T) {
	params := chaincfg.RegressionNetParams
	f, _ := newTestStore(t, &params)

	blocks, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, blocks)
}

func TestSaveLoad(t *testing.T) {
	params := chaincfg.RegressionNetParams
	f, filename := newTestStore(t, &params)
	ctx := context.Background()

	chain := testChain(t, &params, 5)
	require.NoError(t, f.Save(ctx, chain))

	loaded, err := f.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 5)

	for i := range chain {
		assert.Equal(t, chain[i].Hash(), loaded[i].Hash())
		assert.Equal(t, chain[i].Bytes(), loaded[i].Bytes())
	}

	// a shorter chain replaces the longer one
	require.NoError(t, f.Save(ctx, chain[:2]))

	loaded, err = f.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	// no temporary files are left behind
	entries, err := os.ReadDir(filepath.Dir(filename))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSnapshotRoundTrip(t *testing.T) {
	params := chaincfg.RegressionNetParams

	b, err := EncodeSnapshot(NewSnapshot(&params, testChain(t, &params, 3)))
	require.NoError(t, err)

	snapshot, err := DecodeSnapshot(b)
	require.NoError(t, err)

	again, err := EncodeSnapshot(snapshot)
	require.NoError(t, err)
	assert.Equal(t, b, again)

	// decoding the blocks and capturing them again gives the same bytes
	blocks, err := snapshot.DecodeBlocks(&params)
	require.NoError(t, err)

	recaptured, err := EncodeSnapshot(NewSnapshot(&params, blocks))
	require.NoError(t, err)
	assert.Equal(t, b, recaptured)
}

func TestLoadRejects(t *testing.T) {
	params := chaincfg.RegressionNetParams
	chain := testChain(t, &params, 2)

	tests := []struct {
		name  string
		write func(t *testing.T) []byte
	}{
		{"garbage", func(t *testing.T) []byte {
			return []byte("not a snapshot")
		}},
		{"truncated", func(t *testing.T) []byte {
			b, err := EncodeSnapshot(NewSnapshot(&params, chain))
			require.NoError(t, err)

			return b[:len(b)/2]
		}},
		{"other network", func(t *testing.T) []byte {
			s := NewSnapshot(&params, chain)
			s.Network = uint32(chaincfg.MainNet)

			b, err := EncodeSnapshot(s)
			require.NoError(t, err)

			return b
		}},
		{"other genesis", func(t *testing.T) []byte {
			s := NewSnapshot(&params, chain)
			s.Genesis = make([]byte, 32)

			b, err := EncodeSnapshot(s)
			require.NoError(t, err)

			return b
		}},
		{"future version", func(t *testing.T) []byte {
			s := NewSnapshot(&params, chain)
			s.Version = snapshotVersion + 1

			b, err := EncodeSnapshot(s)
			require.NoError(t, err)

			return b
		}},
		{"corrupt block", func(t *testing.T) []byte {
			s := NewSnapshot(&params, chain)
			s.Blocks[1] = s.Blocks[1][:10]

			b, err := EncodeSnapshot(s)
			require.NoError(t, err)

			return b
		}},
		{"unknown field", func(t *testing.T) []byte {
			b, err := encMode.Marshal(map[string]interface{}{
				"version": snapshotVersion,
				"network": uint32(params.Net),
				"genesis": params.GenesisHash.CloneBytes(),
				"blocks":  [][]byte{},
				"utxos":   []byte{1},
			})
			require.NoError(t, err)

			return b
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, filename := newTestStore(t, &params)
			require.NoError(t, os.WriteFile(filename, tt.write(t), 0o600))

			_, err := f.Load(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrStorageError))
		})
	}
}
