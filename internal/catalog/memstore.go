package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process catalog with the same atomicity as PGStore:
// every Reserve/Release runs under one lock, so a hold either fully applies
// or not at all.
type MemoryStore struct {
	mu       sync.Mutex
	products map[string]Product
	holds    map[string]*memHold
}

type memHold struct {
	Hold
	status string
}

func NewMemoryStore(products ...Product) *MemoryStore {
	s := &MemoryStore{
		products: make(map[string]Product, len(products)),
		holds:    make(map[string]*memHold),
	}
	for _, p := range products {
		_ = s.Put(context.Background(), p)
	}
	return s
}

func (s *MemoryStore) Put(_ context.Context, p Product) error {
	if p.Stock < 0 {
		return fmt.Errorf("product %s: negative stock", p.ID)
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.products[p.ID]; ok {
		p.CreatedAt = old.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.products[p.ID] = p.clone()
	return nil
}

func (s *MemoryStore) Reserve(ctx context.Context, h Hold) (Product, error) {
	if err := ctx.Err(); err != nil {
		return Product{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[h.ProductID]
	if !ok || !p.IsActive || p.Stock < h.Quantity {
		return Product{}, ErrNotReserved
	}
	p.Stock -= h.Quantity
	p.SoldCount += h.Quantity
	p.UpdatedAt = time.Now().UTC()
	s.products[p.ID] = p
	s.holds[h.ID] = &memHold{Hold: h, status: holdReserved}
	return p.clone(), nil
}

func (s *MemoryStore) Release(ctx context.Context, holdID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[holdID]
	if !ok || h.status != holdReserved {
		return nil
	}
	s.restock(h)
	return nil
}

func (s *MemoryStore) ReleaseOrder(ctx context.Context, orderID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	units := 0
	for _, h := range s.holds {
		if h.OrderID == orderID && h.status == holdReserved {
			s.restock(h)
			units += h.Quantity
		}
	}
	return units, nil
}

// restock must be called with mu held.
func (s *MemoryStore) restock(h *memHold) {
	h.status = holdReleased
	p, ok := s.products[h.ProductID]
	if !ok {
		return
	}
	p.Stock += h.Quantity
	p.SoldCount -= h.Quantity
	p.UpdatedAt = time.Now().UTC()
	s.products[p.ID] = p
}

func (s *MemoryStore) Get(_ context.Context, id string) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p.clone(), nil
}

func (s *MemoryStore) List(_ context.Context, activeOnly bool) ([]Product, error) {
	s.mu.Lock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p.clone())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LoadSeed reads a JSON array of products.
func LoadSeed(path string) ([]Product, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var ps []Product
	if err := json.Unmarshal(b, &ps); err != nil {
		return nil, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return ps, nil
}
