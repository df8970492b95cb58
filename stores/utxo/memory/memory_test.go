package memory

import (
	"context"
	"net/http"
	"testing"

	"github.com/bsv-blockchain/powledger/stores/utxo/tests"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	t.Run("memory apply revert", func(t *testing.T) {
		tests.ApplyRevert(t, New(ulogger.TestLogger{}))
	})

	t.Run("memory no double removal", func(t *testing.T) {
		tests.NoDoubleRemoval(t, New(ulogger.TestLogger{}))
	})

	t.Run("memory commit view", func(t *testing.T) {
		tests.CommitView(t, New(ulogger.TestLogger{}))
	})

	t.Run("memory unspent by owner", func(t *testing.T) {
		tests.UnspentByOwner(t, New(ulogger.TestLogger{}))
	})
}

func TestHealth(t *testing.T) {
	status, _, err := New(ulogger.TestLogger{}).Health(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
}
