package persistence

import "dca-bot-go/internal/models"

// StateRepository defines the interface for state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically saves the entire bot state under its BotID.
	SaveState(state *models.BotRunState) error

	// LoadState loads the state of the given bot.
	// If no state is found, it should return (nil, nil).
	LoadState(botID string) (*models.BotRunState, error)

	// ArchiveState moves the state of a permanently stopped bot out of the
	// active keyspace. Archiving a bot without state is a no-op.
	ArchiveState(botID string) error

	// Close gracefully closes the connection to the database.
	Close() error
}
