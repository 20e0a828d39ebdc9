package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"swap-service/internal/client"
	"swap-service/internal/model"
)

// ItemRepository persists item listings.
type ItemRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewItemRepository(pg *client.PostgresClient, logger *zap.Logger) *ItemRepository {
	return &ItemRepository{db: pg.DB, logger: logger}
}

const itemColumns = `id, name, description, owner_id, is_available, created_at, updated_at`

func (r *ItemRepository) CreateItem(ctx context.Context, item *model.Item) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO items (id, name, description, owner_id, is_available)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		item.ID, item.Name, item.Description, item.OwnerID, item.IsAvailable,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

func (r *ItemRepository) GetItemByID(ctx context.Context, id string) (*model.Item, error) {
	var item model.Item
	err := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id,
	).Scan(
		&item.ID, &item.Name, &item.Description, &item.OwnerID,
		&item.IsAvailable, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

func (r *ItemRepository) ListItems(ctx context.Context) ([]*model.Item, error) {
	return r.listItems(ctx, `SELECT `+itemColumns+` FROM items ORDER BY created_at DESC`)
}

func (r *ItemRepository) ListItemsByOwner(ctx context.Context, ownerID string) ([]*model.Item, error) {
	return r.listItems(ctx,
		`SELECT `+itemColumns+` FROM items WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID)
}

func (r *ItemRepository) listItems(ctx context.Context, query string, args ...interface{}) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*model.Item
	for rows.Next() {
		var item model.Item
		if err := rows.Scan(
			&item.ID, &item.Name, &item.Description, &item.OwnerID,
			&item.IsAvailable, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

func (r *ItemRepository) UpdateItem(ctx context.Context, item *model.Item) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE items
		 SET name = $2, description = $3, is_available = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		item.ID, item.Name, item.Description, item.IsAvailable,
	).Scan(&item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update item: %w", err)
	}
	return nil
}

func (r *ItemRepository) DeleteItem(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	r.logger.Debug("item deleted", zap.String("item_id", id))
	return nil
}
