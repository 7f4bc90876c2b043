package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const menuItemColumns = `id, shop_id, name, description, base_price, is_available,
	size_enabled, size_options, option_groups, is_active, created_at, updated_at`

func scanMenuItem(row interface{ Scan(...any) error }) (MenuItem, error) {
	var m MenuItem
	err := row.Scan(&m.ID, &m.ShopID, &m.Name, &m.Description, &m.BasePrice,
		&m.IsAvailable, &m.SizeEnabled, &m.SizeOptions, &m.OptionGroups,
		&m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// ListMenuItemsParams filters the public/staff menu listing.
type ListMenuItemsParams struct {
	ShopID        uuid.UUID
	AvailableOnly bool
}

func (q *Queries) ListMenuItems(ctx context.Context, arg ListMenuItemsParams) ([]MenuItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+menuItemColumns+`
		FROM menu_items
		WHERE shop_id = $1 AND is_active
		  AND (NOT $2::boolean OR is_available)
		ORDER BY name`, arg.ShopID, arg.AvailableOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []MenuItem
	for rows.Next() {
		m, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

type GetMenuItemParams struct {
	ID     uuid.UUID
	ShopID uuid.UUID
}

func (q *Queries) GetMenuItem(ctx context.Context, arg GetMenuItemParams) (MenuItem, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+menuItemColumns+`
		FROM menu_items
		WHERE id = $1 AND shop_id = $2 AND is_active`, arg.ID, arg.ShopID)
	return scanMenuItem(row)
}

// GetMenuItemForOrder is the submission-time availability check. Unlike
// GetMenuItem it also returns soft-deleted rows so the caller can distinguish
// "deleted" from "never existed".
func (q *Queries) GetMenuItemForOrder(ctx context.Context, arg GetMenuItemParams) (MenuItem, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+menuItemColumns+`
		FROM menu_items
		WHERE id = $1 AND shop_id = $2`, arg.ID, arg.ShopID)
	return scanMenuItem(row)
}

type CreateMenuItemParams struct {
	ShopID       uuid.UUID
	Name         string
	Description  pgtype.Text
	BasePrice    pgtype.Numeric
	IsAvailable  bool
	SizeEnabled  bool
	SizeOptions  []byte
	OptionGroups []byte
}

func (q *Queries) CreateMenuItem(ctx context.Context, arg CreateMenuItemParams) (MenuItem, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO menu_items (shop_id, name, description, base_price, is_available,
			size_enabled, size_options, option_groups)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+menuItemColumns,
		arg.ShopID, arg.Name, arg.Description, arg.BasePrice, arg.IsAvailable,
		arg.SizeEnabled, arg.SizeOptions, arg.OptionGroups)
	return scanMenuItem(row)
}

type UpdateMenuItemParams struct {
	ID           uuid.UUID
	ShopID       uuid.UUID
	Name         string
	Description  pgtype.Text
	BasePrice    pgtype.Numeric
	IsAvailable  bool
	SizeEnabled  bool
	SizeOptions  []byte
	OptionGroups []byte
}

func (q *Queries) UpdateMenuItem(ctx context.Context, arg UpdateMenuItemParams) (MenuItem, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE menu_items
		SET name = $3, description = $4, base_price = $5, is_available = $6,
			size_enabled = $7, size_options = $8, option_groups = $9, updated_at = now()
		WHERE id = $1 AND shop_id = $2 AND is_active
		RETURNING `+menuItemColumns,
		arg.ID, arg.ShopID, arg.Name, arg.Description, arg.BasePrice,
		arg.IsAvailable, arg.SizeEnabled, arg.SizeOptions, arg.OptionGroups)
	return scanMenuItem(row)
}

type SetMenuItemAvailabilityParams struct {
	ID          uuid.UUID
	ShopID      uuid.UUID
	IsAvailable bool
}

func (q *Queries) SetMenuItemAvailability(ctx context.Context, arg SetMenuItemAvailabilityParams) (MenuItem, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE menu_items
		SET is_available = $3, updated_at = now()
		WHERE id = $1 AND shop_id = $2 AND is_active
		RETURNING `+menuItemColumns, arg.ID, arg.ShopID, arg.IsAvailable)
	return scanMenuItem(row)
}

type SoftDeleteMenuItemParams struct {
	ID     uuid.UUID
	ShopID uuid.UUID
}

func (q *Queries) SoftDeleteMenuItem(ctx context.Context, arg SoftDeleteMenuItemParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, `
		UPDATE menu_items
		SET is_active = FALSE, is_available = FALSE, updated_at = now()
		WHERE id = $1 AND shop_id = $2 AND is_active
		RETURNING id`, arg.ID, arg.ShopID).Scan(&id)
	return id, err
}
