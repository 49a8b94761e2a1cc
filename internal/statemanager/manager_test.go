package statemanager

import (
	"dca-bot-go/internal/models"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockStateRepository is a mock implementation of the StateRepository interface for testing.
type mockStateRepository struct {
	sync.Mutex
	states       map[string]models.BotRunState
	saveCount    int
	archiveCount int
	loadError    error
	saveError    error
}

func newMockStateRepository() *mockStateRepository {
	return &mockStateRepository{states: make(map[string]models.BotRunState)}
}

func (m *mockStateRepository) SaveState(state *models.BotRunState) error {
	m.Lock()
	defer m.Unlock()
	m.saveCount++
	if m.saveError != nil {
		return m.saveError
	}
	m.states[state.BotID] = *state
	return nil
}

func (m *mockStateRepository) LoadState(botID string) (*models.BotRunState, error) {
	m.Lock()
	defer m.Unlock()
	if m.loadError != nil {
		return nil, m.loadError
	}
	s, ok := m.states[botID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *mockStateRepository) ArchiveState(botID string) error {
	m.Lock()
	defer m.Unlock()
	m.archiveCount++
	delete(m.states, botID)
	return nil
}

func (m *mockStateRepository) Close() error {
	return nil
}

func (m *mockStateRepository) saved(botID string) (models.BotRunState, bool) {
	m.Lock()
	defer m.Unlock()
	s, ok := m.states[botID]
	return s, ok
}

// TestNewStateManagerFresh verifies that a missing state is initialized and persisted.
func TestNewStateManagerFresh(t *testing.T) {
	repo := newMockStateRepository()

	sm, err := NewStateManager(repo, "test-bot", "btc_jpy", zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, sm)

	snapshot := sm.Snapshot()
	assert.Equal(t, "test-bot", snapshot.BotID)
	assert.Equal(t, models.StatusRunning, snapshot.Status)
	assert.True(t, snapshot.TotalBuyOrderAmount.IsZero())
	assert.Equal(t, models.StateVersion, snapshot.Version)

	saved, ok := repo.saved("test-bot")
	require.True(t, ok, "initial state should be persisted")
	assert.Equal(t, models.StatusRunning, saved.Status)
}

// TestNewStateManagerResumes verifies that a persisted state is picked up unchanged.
func TestNewStateManagerResumes(t *testing.T) {
	repo := newMockStateRepository()
	existing := models.NewBotRunState("test-bot", "btc_jpy", time.Now())
	existing.TickCount = 4
	existing.TotalBuyOrderAmount = decimal.NewFromInt(40000)
	repo.states["test-bot"] = existing

	sm, err := NewStateManager(repo, "test-bot", "btc_jpy", zap.NewNop())
	require.NoError(t, err)

	snapshot := sm.Snapshot()
	assert.Equal(t, int64(4), snapshot.TickCount)
	assert.Equal(t, "40000", snapshot.TotalBuyOrderAmount.String())
	assert.Equal(t, 0, repo.saveCount, "resuming must not rewrite the state")
}

func TestNewStateManagerLoadError(t *testing.T) {
	repo := newMockStateRepository()
	repo.loadError = errors.New("corrupt")

	_, err := NewStateManager(repo, "test-bot", "btc_jpy", zap.NewNop())
	require.Error(t, err)
}

// TestCommitPersistsBeforeSwap tests that a committed state is saved and becomes current.
func TestCommitPersistsBeforeSwap(t *testing.T) {
	repo := newMockStateRepository()
	sm, err := NewStateManager(repo, "test-bot", "btc_jpy", zap.NewNop())
	require.NoError(t, err)

	next := sm.Snapshot()
	next.TickCount = 1
	next.TotalBuyOrderAmount = decimal.NewFromInt(10000)
	require.NoError(t, sm.Commit(next))

	assert.Equal(t, int64(1), sm.Snapshot().TickCount)
	saved, ok := repo.saved("test-bot")
	require.True(t, ok)
	assert.Equal(t, "10000", saved.TotalBuyOrderAmount.String())
}

// TestCommitSaveFailureKeepsPreviousState tests that a failed save leaves the old state current.
func TestCommitSaveFailureKeepsPreviousState(t *testing.T) {
	repo := newMockStateRepository()
	sm, err := NewStateManager(repo, "test-bot", "btc_jpy", zap.NewNop())
	require.NoError(t, err)

	repo.saveError = errors.New("disk full")
	next := sm.Snapshot()
	next.TickCount = 1

	err = sm.Commit(next)
	require.Error(t, err)
	assert.Equal(t, int64(0), sm.Snapshot().TickCount)
}

func TestCommitRejectsForeignState(t *testing.T) {
	sm, err := NewStateManager(newMockStateRepository(), "test-bot", "btc_jpy", zap.NewNop())
	require.NoError(t, err)

	other := models.NewBotRunState("other-bot", "btc_jpy", time.Now())
	err = sm.Commit(other)
	assert.True(t, errors.Is(err, ErrBotIDMismatch))
}

func TestReset(t *testing.T) {
	repo := newMockStateRepository()
	sm, err := NewStateManager(repo, "test-bot", "btc_jpy", zap.NewNop())
	require.NoError(t, err)

	stopped := sm.Snapshot()
	stopped.Status = models.StatusStoppedBudgetExceeded
	stopped.TotalBuyOrderAmount = decimal.NewFromInt(100000)
	require.NoError(t, sm.Commit(stopped))

	fresh, err := sm.Reset()
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, fresh.Status)
	assert.True(t, fresh.TotalBuyOrderAmount.IsZero())
	assert.Equal(t, "btc_jpy", fresh.Pair)
	assert.Equal(t, 1, repo.archiveCount)
	assert.Equal(t, fresh, sm.Snapshot())
}

// TestConcurrentSnapshots verifies that readers never block on or race with commits.
func TestConcurrentSnapshots(t *testing.T) {
	sm, err := NewStateManager(newMockStateRepository(), "test-bot", "btc_jpy", zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 100; i++ {
			s := sm.Snapshot()
			s.TickCount = int64(i)
			_ = sm.Commit(s)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = sm.Snapshot()
		}
	}()
	wg.Wait()

	assert.Equal(t, int64(100), sm.Snapshot().TickCount)
}
