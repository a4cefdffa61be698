package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RichardoC/creditchat/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL UNIQUE,
    customer_id TEXT NOT NULL,
    sender_id TEXT NOT NULL,
    input_channel TEXT NOT NULL,
    prompt_tokens INTEGER NOT NULL,
    completion_tokens INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS usage_entries_customer
    ON usage_entries (customer_id, created_at);`

// Database is the local usage ledger. Conversations themselves are never
// stored; only the token counts of completed turns.
type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; this also keeps ":memory:" databases
	// on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (db *Database) RecordUsage(ctx context.Context, entry *models.UsageEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := db.db.ExecContext(ctx, `
		INSERT INTO usage_entries (request_id, customer_id, sender_id, input_channel, prompt_tokens, completion_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.RequestID, entry.CustomerID, entry.SenderID, entry.InputChannel,
		entry.PromptTokens, entry.CompletionTokens, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read usage id: %w", err)
	}
	entry.ID = id
	return nil
}

func (db *Database) UsageSummary(ctx context.Context, customerID string) (models.UsageSummary, error) {
	query := `
        SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
        FROM usage_entries
        WHERE customer_id = ?`

	var summary models.UsageSummary
	err := db.db.QueryRowContext(ctx, query, customerID).
		Scan(&summary.Turns, &summary.PromptTokens, &summary.CompletionTokens)
	if err != nil {
		return models.UsageSummary{}, fmt.Errorf("failed to summarize usage: %w", err)
	}
	summary.TotalTokens = summary.PromptTokens + summary.CompletionTokens
	return summary, nil
}

func (db *Database) RecentUsage(ctx context.Context, customerID string, limit int) ([]models.UsageEntry, error) {
	query := `
        SELECT id, request_id, customer_id, sender_id, input_channel, prompt_tokens, completion_tokens, created_at
        FROM usage_entries
        WHERE customer_id = ?
        ORDER BY id DESC
        LIMIT ?`

	rows, err := db.db.QueryContext(ctx, query, customerID, limit)
	if err != nil {
		return []models.UsageEntry{}, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	entries := make([]models.UsageEntry, 0)
	for rows.Next() {
		var entry models.UsageEntry
		err := rows.Scan(&entry.ID, &entry.RequestID, &entry.CustomerID, &entry.SenderID,
			&entry.InputChannel, &entry.PromptTokens, &entry.CompletionTokens, &entry.CreatedAt)
		if err != nil {
			return []models.UsageEntry{}, fmt.Errorf("failed to scan usage entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (db *Database) Close() error {
	return db.db.Close()
}
