package cart

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrCartNotFound is returned by repositories for unknown keys.
var ErrCartNotFound = errors.New("cart not found")

// Key scopes a stored cart to one device at one table of one shop. Cart data
// never leaks across tenants: a cart loaded for a different shop id than the
// key's is discarded.
type Key struct {
	ShopID   uuid.UUID
	TableID  uuid.UUID
	DeviceID string
}

// Repository persists carts between visits. The production server uses the
// in-memory implementation; tests inject their own.
type Repository interface {
	Load(ctx context.Context, key Key) (*Cart, error)
	Save(ctx context.Context, key Key, c *Cart) error
	Delete(ctx context.Context, key Key) error
}

// MemoryRepository is a map-backed Repository.
type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[Key]*Cart
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[Key]*Cart)}
}

func (r *MemoryRepository) Load(_ context.Context, key Key) (*Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.carts[key]
	if !ok {
		return nil, ErrCartNotFound
	}
	return c.Clone(), nil
}

func (r *MemoryRepository) Save(_ context.Context, key Key, c *Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[key] = c.Clone()
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, key)
	return nil
}

// Store serializes cart mutations and persists the result of each one. Every
// update is atomic with respect to the in-memory cart: no caller ever
// observes a half-applied mutation, and the last write of a synchronous batch
// is the one the repository holds.
type Store struct {
	mu   sync.Mutex
	repo Repository
}

// NewStore creates a Store over the given repository.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// Get loads the cart for a key, returning a fresh empty cart when none is
// stored or when the stored cart belongs to a different shop.
func (s *Store) Get(ctx context.Context, key Key) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, key)
}

// Update loads (or creates) the cart for a key, applies fn, and persists the
// result. If fn returns an error the stored cart is left untouched.
func (s *Store) Update(ctx context.Context, key Key, fn func(*Cart) error) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, key, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Clear empties the cart and erases the persisted copy.
func (s *Store) Clear(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Delete(ctx, key)
}

func (s *Store) load(ctx context.Context, key Key) (*Cart, error) {
	c, err := s.repo.Load(ctx, key)
	if errors.Is(err, ErrCartNotFound) {
		return &Cart{ShopID: key.ShopID, TableID: key.TableID}, nil
	}
	if err != nil {
		return nil, err
	}
	// Tenant guard: a stale cart stored under a reused key for another shop
	// is discarded rather than surfaced.
	if c.ShopID != key.ShopID {
		return &Cart{ShopID: key.ShopID, TableID: key.TableID}, nil
	}
	return c, nil
}
