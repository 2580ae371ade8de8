package taxonomy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/FACorreiaa/statement-import-engine/pkg/db"
)

// PostgresStore implements Store. The insert and the lookup run as one
// statement so concurrent first uses converge on a single row.
type PostgresStore struct {
	pool db.Pool
}

func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetOrCreateCategory(ctx context.Context, userID uuid.UUID, name string) (*Category, error) {
	c := Category{UserID: userID}
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO categories (user_id, name) VALUES ($1, $2)
			ON CONFLICT (user_id, lower(name)) DO NOTHING
			RETURNING id, name
		)
		SELECT id, name FROM ins
		UNION ALL
		SELECT id, name FROM categories WHERE user_id = $1 AND lower(name) = lower($2)
		LIMIT 1`,
		userID, name,
	).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve category %q: %w", name, err)
	}
	return &c, nil
}

func (s *PostgresStore) GetOrCreateTag(ctx context.Context, userID uuid.UUID, name, color string) (*Tag, error) {
	t := Tag{UserID: userID}
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO tags (user_id, name, color) VALUES ($1, $2, $3)
			ON CONFLICT (user_id, lower(name)) DO NOTHING
			RETURNING id, name, color
		)
		SELECT id, name, color FROM ins
		UNION ALL
		SELECT id, name, color FROM tags WHERE user_id = $1 AND lower(name) = lower($2)
		LIMIT 1`,
		userID, name, color,
	).Scan(&t.ID, &t.Name, &t.Color)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tag %q: %w", name, err)
	}
	return &t, nil
}
