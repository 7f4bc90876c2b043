package database

import (
	"context"

	"github.com/google/uuid"
)

const sessionColumns = `id, shop_id, table_id, status, opened_at, closed_at`

func scanSession(row interface{ Scan(...any) error }) (TableSession, error) {
	var s TableSession
	err := row.Scan(&s.ID, &s.ShopID, &s.TableID, &s.Status, &s.OpenedAt, &s.ClosedAt)
	return s, err
}

// GetOpenSessionForTable returns the table's single open session, if any.
func (q *Queries) GetOpenSessionForTable(ctx context.Context, tableID uuid.UUID) (TableSession, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM table_sessions
		WHERE table_id = $1 AND status = 'OPEN'`, tableID)
	return scanSession(row)
}

type CreateTableSessionParams struct {
	ShopID  uuid.UUID
	TableID uuid.UUID
}

func (q *Queries) CreateTableSession(ctx context.Context, arg CreateTableSessionParams) (TableSession, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO table_sessions (shop_id, table_id)
		VALUES ($1, $2)
		RETURNING `+sessionColumns, arg.ShopID, arg.TableID)
	return scanSession(row)
}

type GetTableSessionParams struct {
	ID     uuid.UUID
	ShopID uuid.UUID
}

func (q *Queries) GetTableSession(ctx context.Context, arg GetTableSessionParams) (TableSession, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM table_sessions
		WHERE id = $1 AND shop_id = $2`, arg.ID, arg.ShopID)
	return scanSession(row)
}

type CloseTableSessionParams struct {
	ID     uuid.UUID
	ShopID uuid.UUID
}

// CloseTableSession marks a session PAID. The WHERE clause enforces the
// precondition atomically: only an OPEN session can be closed, so a second
// payment attempt comes back with no rows.
func (q *Queries) CloseTableSession(ctx context.Context, arg CloseTableSessionParams) (TableSession, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE table_sessions
		SET status = 'PAID', closed_at = now()
		WHERE id = $1 AND shop_id = $2 AND status = 'OPEN'
		RETURNING `+sessionColumns, arg.ID, arg.ShopID)
	return scanSession(row)
}
