package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/OpenDO96/internal/types"
	"github.com/google/uuid"
)

// SaveCard inserts or updates a card registration by name.
func (p *PostgresClient) SaveCard(ctx context.Context, def types.CardDefinition) (uuid.UUID, error) {
	mapping := def.IOMapping
	if mapping == nil {
		mapping = map[string]int{}
	}
	ioMappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal io_mapping: %w", err)
	}

	var cardID uuid.UUID
	err = p.pool.QueryRow(ctx, `
		INSERT INTO cards (card_name, port, profile, io_mapping, reset_on_close, auto_init, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (card_name)
		DO UPDATE SET
			port = EXCLUDED.port,
			profile = EXCLUDED.profile,
			io_mapping = EXCLUDED.io_mapping,
			reset_on_close = EXCLUDED.reset_on_close,
			auto_init = EXCLUDED.auto_init,
			enabled = TRUE,
			updated_at = NOW()
		RETURNING id
	`, def.Name, def.Port, def.Profile, ioMappingJSON, def.ResetOnClose, def.AutoInit).Scan(&cardID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert card: %w", err)
	}

	return cardID, nil
}

// LoadCards returns all enabled card registrations.
func (p *PostgresClient) LoadCards(ctx context.Context) ([]types.CardDefinition, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT card_name, port, profile, io_mapping, reset_on_close, auto_init
		FROM cards
		WHERE enabled = TRUE
		ORDER BY card_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []types.CardDefinition
	for rows.Next() {
		var def types.CardDefinition
		var ioMappingJSON []byte

		if err := rows.Scan(&def.Name, &def.Port, &def.Profile, &ioMappingJSON, &def.ResetOnClose, &def.AutoInit); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		if err := json.Unmarshal(ioMappingJSON, &def.IOMapping); err != nil {
			return nil, fmt.Errorf("failed to unmarshal io_mapping of %s: %w", def.Name, err)
		}

		cards = append(cards, def)
	}

	return cards, rows.Err()
}

// DeleteCard removes a card registration.
func (p *PostgresClient) DeleteCard(ctx context.Context, name string) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM cards WHERE card_name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("card %s %w", name, ErrNotFound)
	}

	return nil
}
