package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tably/api/internal/enum"
)

// Shop is one tenant of the platform.
type Shop struct {
	ID        uuid.UUID
	Name      string
	Slug      string
	IsActive  bool
	CreatedAt time.Time
}

// Table is a physical table of a shop; its QR slug is what a customer scans.
type Table struct {
	ID       uuid.UUID
	ShopID   uuid.UUID
	Number   string
	QRSlug   string
	IsActive bool
}

// User is a staff account.
type User struct {
	ID           uuid.UUID
	ShopID       uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
}

// MenuItem is a sellable item. SizeOptions and OptionGroups are jsonb blobs
// decoded into pricing types at the service boundary.
type MenuItem struct {
	ID           uuid.UUID
	ShopID       uuid.UUID
	Name         string
	Description  pgtype.Text
	BasePrice    pgtype.Numeric
	IsAvailable  bool
	SizeEnabled  bool
	SizeOptions  []byte
	OptionGroups []byte
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Order is one submission-created order. OrderToken is the opaque credential
// the originating device must present on every read or append.
type Order struct {
	ID            uuid.UUID
	ShopID        uuid.UUID
	SessionID     pgtype.UUID
	TableNumber   pgtype.Text
	Status        enum.OrderStatus
	CustomerNotes pgtype.Text
	Total         pgtype.Numeric
	OrderToken    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderItem is one physical unit of a dish. Name, price, and snapshot are
// frozen at insert; only Status ever changes. BatchID marks the submission
// round the item arrived in.
type OrderItem struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	MenuItemID     uuid.UUID
	BatchID        uuid.UUID
	Name           string
	UnitPrice      pgtype.Numeric
	SelectionsKey  string
	PriceSnapshot  []byte
	SpecialRequest pgtype.Text
	Status         enum.ItemStatus
	CreatedAt      time.Time
}

// TableSession aggregates the orders of one continuous table occupation.
type TableSession struct {
	ID       uuid.UUID
	ShopID   uuid.UUID
	TableID  uuid.UUID
	Status   enum.SessionStatus
	OpenedAt time.Time
	ClosedAt pgtype.Timestamptz
}
