package database

import (
	"context"

	"github.com/google/uuid"
)

func (q *Queries) GetShop(ctx context.Context, id uuid.UUID) (Shop, error) {
	var s Shop
	err := q.db.QueryRow(ctx, `
		SELECT id, name, slug, is_active, created_at
		FROM shops WHERE id = $1 AND is_active`, id).
		Scan(&s.ID, &s.Name, &s.Slug, &s.IsActive, &s.CreatedAt)
	return s, err
}

func (q *Queries) GetShopBySlug(ctx context.Context, slug string) (Shop, error) {
	var s Shop
	err := q.db.QueryRow(ctx, `
		SELECT id, name, slug, is_active, created_at
		FROM shops WHERE slug = $1 AND is_active`, slug).
		Scan(&s.ID, &s.Name, &s.Slug, &s.IsActive, &s.CreatedAt)
	return s, err
}

// GetTableByQRSlug resolves a scanned QR code to its table.
func (q *Queries) GetTableByQRSlug(ctx context.Context, qrSlug string) (Table, error) {
	var t Table
	err := q.db.QueryRow(ctx, `
		SELECT id, shop_id, number, qr_slug, is_active
		FROM tables WHERE qr_slug = $1 AND is_active`, qrSlug).
		Scan(&t.ID, &t.ShopID, &t.Number, &t.QRSlug, &t.IsActive)
	return t, err
}

type GetTableParams struct {
	ID     uuid.UUID
	ShopID uuid.UUID
}

func (q *Queries) GetTable(ctx context.Context, arg GetTableParams) (Table, error) {
	var t Table
	err := q.db.QueryRow(ctx, `
		SELECT id, shop_id, number, qr_slug, is_active
		FROM tables WHERE id = $1 AND shop_id = $2 AND is_active`, arg.ID, arg.ShopID).
		Scan(&t.ID, &t.ShopID, &t.Number, &t.QRSlug, &t.IsActive)
	return t, err
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, `
		SELECT id, shop_id, email, name, password_hash, role, is_active, created_at
		FROM users WHERE email = $1 AND is_active`, email).
		Scan(&u.ID, &u.ShopID, &u.Email, &u.Name, &u.PasswordHash, &u.Role,
			&u.IsActive, &u.CreatedAt)
	return u, err
}
