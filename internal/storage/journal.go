package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const defaultJournalLimit = 100

// AppendJournal records one card operation.
func (p *PostgresClient) AppendJournal(ctx context.Context, entry JournalEntry) error {
	changed := entry.Changed
	if changed == nil {
		changed = []JournalChange{}
	}
	changedJSON, err := json.Marshal(changed)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	// Zero timestamps fall back to the database clock.
	var createdAt *time.Time
	if !entry.CreatedAt.IsZero() {
		createdAt = &entry.CreatedAt
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO output_journal (card_name, operation, on_channels, off_channels, changed, frames, clusters, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9::timestamptz, NOW()))
	`, entry.CardName, entry.Operation, nonNil(entry.OnChannels), nonNil(entry.OffChannels),
		changedJSON, entry.Frames, entry.Clusters, entry.Error, createdAt)
	if err != nil {
		return fmt.Errorf("failed to append journal: %w", err)
	}
	return nil
}

// ListJournal returns the newest entries of a card, newest first.
func (p *PostgresClient) ListJournal(ctx context.Context, cardName string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = defaultJournalLimit
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, card_name, operation, on_channels, off_channels, changed, frames, clusters, error, created_at
		FROM output_journal
		WHERE card_name = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, cardName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	entries := make([]JournalEntry, 0)
	for rows.Next() {
		var e JournalEntry
		var changedJSON []byte

		err := rows.Scan(&e.ID, &e.CardName, &e.Operation, &e.OnChannels, &e.OffChannels,
			&changedJSON, &e.Frames, &e.Clusters, &e.Error, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if err := json.Unmarshal(changedJSON, &e.Changed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func nonNil(chs []int32) []int32 {
	if chs == nil {
		return []int32{}
	}
	return chs
}
