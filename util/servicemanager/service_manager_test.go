package servicemanager

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockService records its lifecycle calls into a shared journal.
type mockService struct {
	name     string
	journal  *journal
	initErr  error
	startErr error
	healthy  bool
	noReady  bool
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	return append([]string(nil), j.entries...)
}

func (m *mockService) Health(_ context.Context, _ bool) (int, string, error) {
	if !m.healthy {
		return http.StatusServiceUnavailable, `{"resource": "mock"}`, nil
	}

	return http.StatusOK, "OK", nil
}

func (m *mockService) Init(_ context.Context) error {
	m.journal.add("init " + m.name)
	return m.initErr
}

func (m *mockService) Start(ctx context.Context, readyCh chan<- struct{}) error {
	m.journal.add("start " + m.name)

	if m.startErr != nil {
		return m.startErr
	}

	if !m.noReady {
		close(readyCh)
	}

	<-ctx.Done()

	return nil
}

func (m *mockService) Stop(_ context.Context) error {
	m.journal.add("stop " + m.name)
	return nil
}

func TestStartOrderAndShutdown(t *testing.T) {
	j := &journal{}
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{})

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, sm.AddService(name, &mockService{name: name, journal: j, healthy: true}))
	}

	sm.WaitForServiceToBeReady()
	assert.Empty(t, sm.ServicesNotReady())

	sm.ForceShutdown()
	require.NoError(t, sm.Wait())

	assert.Equal(t, []string{"start a", "start b", "start c"}, filter(j.list(), "start "))
	assert.Equal(t, []string{"stop c", "stop b", "stop a"}, j.list()[6:])
}

func filter(entries []string, prefix string) []string {
	var matched []string

	for _, e := range entries {
		if strings.HasPrefix(e, prefix) {
			matched = append(matched, e)
		}
	}

	return matched
}

func TestServiceWaitsForPreviousToBeReady(t *testing.T) {
	j := &journal{}
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{})

	require.NoError(t, sm.AddService("slow", &mockService{name: "slow", journal: j, noReady: true}))
	require.NoError(t, sm.AddService("next", &mockService{name: "next", journal: j}))

	time.Sleep(50 * time.Millisecond)
	assert.NotContains(t, j.list(), "start next")
	assert.Equal(t, []string{"slow", "next"}, sm.ServicesNotReady())

	sm.ForceShutdown()
	require.NoError(t, sm.Wait())
}

func TestInitFailure(t *testing.T) {
	j := &journal{}
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{})

	err := sm.AddService("broken", &mockService{name: "broken", journal: j, initErr: errors.NewStorageError("corrupt")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageError))
}

func TestStartFailureStopsEverything(t *testing.T) {
	j := &journal{}
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{})

	require.NoError(t, sm.AddService("a", &mockService{name: "a", journal: j}))
	require.NoError(t, sm.AddService("b", &mockService{name: "b", journal: j, startErr: errors.NewProcessingError("invariant broken")}))

	err := sm.Wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProcessing))
	assert.Contains(t, j.list(), "stop a")
}

func TestHealthHandler(t *testing.T) {
	j := &journal{}
	sm := NewServiceManager(context.Background(), ulogger.TestLogger{})

	require.NoError(t, sm.AddService("up", &mockService{name: "up", journal: j, healthy: true}))

	status, body, err := sm.HealthHandler(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"service": "up"`)

	require.NoError(t, sm.AddService("down", &mockService{name: "down", journal: j}))

	status, body, err = sm.HealthHandler(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, `"resource": "mock"`)

	sm.ForceShutdown()
	require.NoError(t, sm.Wait())
}

func TestListenerInfos(t *testing.T) {
	mu.Lock()
	listeners = nil
	mu.Unlock()

	AddListenerInfo("p2p 127.0.0.1:18444")
	AddListenerInfo("health :8000")

	assert.Equal(t, []string{"health :8000", "p2p 127.0.0.1:18444"}, GetListenerInfos())
}
