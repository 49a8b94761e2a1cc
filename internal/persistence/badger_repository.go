package persistence

import (
	"dca-bot-go/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const (
	statePrefix   = "bot_state/"
	archivePrefix = "bot_state_archive/"
)

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
// An empty dbPath opens an in-memory database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	// Badger's own logging is disabled to keep the application's logs clean.
	// Errors are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{db: db, now: time.Now}, nil
}

func stateKey(botID string) []byte {
	return []byte(statePrefix + botID)
}

// SaveState marshals the state to JSON and writes it in a single transaction.
func (r *badgerRepository) SaveState(state *models.BotRunState) error {
	if state == nil || state.BotID == "" {
		return errors.New("cannot save state without bot id")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(state.BotID), data)
	})
}

// LoadState loads the bot state from storage.
// If the state key is not found, it returns (nil, nil) to indicate no state is present.
func (r *badgerRepository) LoadState(botID string) (*models.BotRunState, error) {
	var state models.BotRunState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(botID))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// ArchiveState copies the active state to a timestamped archive key and
// deletes the active key in the same transaction.
func (r *badgerRepository) ArchiveState(botID string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(botID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		archiveKey := fmt.Sprintf("%s%s/%d", archivePrefix, botID, r.now().UnixNano())
		if err := txn.Set([]byte(archiveKey), val); err != nil {
			return err
		}
		return txn.Delete(stateKey(botID))
	})
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
