package statemanager

import (
	"dca-bot-go/internal/models"
	"dca-bot-go/internal/persistence"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrBotIDMismatch is returned when a committed state belongs to another bot.
var ErrBotIDMismatch = errors.New("state bot id does not match manager")

// StateManager is the single owner of a bot's run state.
// Every change goes through Commit, which persists the state before it
// becomes visible, so readers never observe a state that is not durable.
type StateManager struct {
	mu     sync.RWMutex
	botID  string
	state  models.BotRunState
	repo   persistence.StateRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewStateManager loads the persisted state of botID, or starts a fresh
// running state for pair when none exists. A fresh state is saved at once.
func NewStateManager(repo persistence.StateRepository, botID, pair string, logger *zap.Logger) (*StateManager, error) {
	sm := &StateManager{
		botID:  botID,
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
	if err := sm.load(pair); err != nil {
		return nil, err
	}
	return sm, nil
}

func (sm *StateManager) load(pair string) error {
	loaded, err := sm.repo.LoadState(sm.botID)
	if err != nil {
		return fmt.Errorf("load state for bot %s: %w", sm.botID, err)
	}
	if loaded != nil {
		if loaded.Pair != pair {
			sm.logger.Warn("persisted state was created for a different pair",
				zap.String("persisted", loaded.Pair), zap.String("configured", pair))
		}
		sm.state = *loaded
		sm.logger.Info("resumed bot state",
			zap.String("bot", sm.botID),
			zap.String("status", string(loaded.Status)),
			zap.Int64("ticks", loaded.TickCount),
			zap.String("totalBuyOrderAmount", loaded.TotalBuyOrderAmount.String()))
		return nil
	}

	fresh := models.NewBotRunState(sm.botID, pair, sm.now())
	if err := sm.repo.SaveState(&fresh); err != nil {
		return fmt.Errorf("save initial state for bot %s: %w", sm.botID, err)
	}
	sm.state = fresh
	sm.logger.Info("no saved state found, starting a new run", zap.String("bot", sm.botID))
	return nil
}

// Snapshot returns a copy of the current state for safe, concurrent reading.
func (sm *StateManager) Snapshot() models.BotRunState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Commit persists state and then makes it current. On a save error the
// previous state stays current and the error is returned.
func (sm *StateManager) Commit(state models.BotRunState) error {
	if state.BotID != sm.botID {
		return fmt.Errorf("%w: got %q, want %q", ErrBotIDMismatch, state.BotID, sm.botID)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if state.Version == 0 {
		state.Version = models.StateVersion
	}
	if err := sm.repo.SaveState(&state); err != nil {
		sm.logger.Error("CRITICAL: failed to save state", zap.String("bot", sm.botID), zap.Error(err))
		return fmt.Errorf("save state: %w", err)
	}
	sm.state = state
	return nil
}

// Reset archives the current state and replaces it with a fresh running one.
func (sm *StateManager) Reset() (models.BotRunState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.repo.ArchiveState(sm.botID); err != nil {
		return sm.state, fmt.Errorf("archive state: %w", err)
	}
	fresh := models.NewBotRunState(sm.botID, sm.state.Pair, sm.now())
	if err := sm.repo.SaveState(&fresh); err != nil {
		return sm.state, fmt.Errorf("save state: %w", err)
	}
	sm.state = fresh
	sm.logger.Info("state has been reset", zap.String("bot", sm.botID))
	return fresh, nil
}
