package storage

import (
	"context"
	"database/sql"
	"dca-bot-go/internal/models"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
	"github.com/shopspring/decimal"
)

// Ledger is an append-mostly audit trail of every order result the bot
// received. The run state in the state repository stays authoritative; the
// ledger is what the status report and operators read.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens the sqlite database and creates the tables if needed.
func OpenLedger(dataSourceName string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer; one connection keeps ":memory:" usable too.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Ledger{db: db}, nil
}

// createTables creates the fills table if it doesn't exist.
// Decimal amounts are stored as TEXT to keep them exact.
func createTables(db *sql.DB) error {
	createFillsTableSQL := `
	CREATE TABLE IF NOT EXISTS fills (
		client_order_id TEXT PRIMARY KEY,
		bot_id TEXT NOT NULL,
		exchange_order_id TEXT NOT NULL,
		pair TEXT NOT NULL,
		side TEXT NOT NULL,
		tick INTEGER NOT NULL,
		limit_price TEXT NOT NULL,
		requested_qty TEXT NOT NULL,
		filled_qty TEXT NOT NULL,
		filled_quote TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createFillsTableSQL); err != nil {
		return err
	}

	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_fills_bot_tick ON fills(bot_id, tick);`)
	return err
}

// RecordFill inserts a fill, or updates it when the same client order id was
// already recorded (a retried tick reports the same order again).
func (l *Ledger) RecordFill(ctx context.Context, f models.Fill) error {
	query := `
	INSERT INTO fills (client_order_id, bot_id, exchange_order_id, pair, side, tick, limit_price, requested_qty, filled_qty, filled_quote, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(client_order_id) DO UPDATE SET
		exchange_order_id = excluded.exchange_order_id,
		filled_qty = excluded.filled_qty,
		filled_quote = excluded.filled_quote,
		status = excluded.status;`

	_, err := l.db.ExecContext(ctx, query,
		f.ClientOrderID, f.BotID, f.OrderID, f.Pair, string(f.Side), f.Tick,
		f.LimitPrice.String(), f.RequestedQty.String(), f.FilledQuantity.String(), f.FilledQuote.String(),
		f.Status, f.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record fill %s: %w", f.ClientOrderID, err)
	}
	return nil
}

// RecentFills returns the latest fills of a bot, newest first.
func (l *Ledger) RecentFills(ctx context.Context, botID string, limit int) ([]models.Fill, error) {
	query := `
	SELECT client_order_id, bot_id, exchange_order_id, pair, side, tick, limit_price, requested_qty, filled_qty, filled_quote, status, created_at
	FROM fills
	WHERE bot_id = ?
	ORDER BY tick DESC, created_at DESC
	LIMIT ?`

	rows, err := l.db.QueryContext(ctx, query, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var fills []models.Fill
	for rows.Next() {
		var (
			f                                       models.Fill
			side                                    string
			limitPrice, reqQty, filledQty, quoteAmt string
			createdAt                               int64
		)
		if err := rows.Scan(&f.ClientOrderID, &f.BotID, &f.OrderID, &f.Pair, &side, &f.Tick,
			&limitPrice, &reqQty, &filledQty, &quoteAmt, &f.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan fill row: %w", err)
		}
		f.Side = models.Side(side)
		if f.LimitPrice, err = decimal.NewFromString(limitPrice); err != nil {
			return nil, err
		}
		if f.RequestedQty, err = decimal.NewFromString(reqQty); err != nil {
			return nil, err
		}
		if f.FilledQuantity, err = decimal.NewFromString(filledQty); err != nil {
			return nil, err
		}
		if f.FilledQuote, err = decimal.NewFromString(quoteAmt); err != nil {
			return nil, err
		}
		f.CreatedAt = time.UnixMilli(createdAt)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// TotalFilledQuote sums the quote a bot spent on fills recorded at or after since.
func (l *Ledger) TotalFilledQuote(ctx context.Context, botID string, since time.Time) (decimal.Decimal, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT filled_quote FROM fills WHERE bot_id = ? AND created_at >= ?`, botID, since.UnixMilli())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, err
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return total, rows.Err()
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
