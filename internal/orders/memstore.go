package orders

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a Store for tests and STORE=memory dev runs. Transactions
// are serialized by a single mutex and buffer their writes until commit.
type MemoryStore struct {
	mu       sync.Mutex
	products map[string]Product
	orders   map[string]*Order
	byKey    map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(products ...Product) *MemoryStore {
	s := &MemoryStore{
		products: map[string]Product{},
		orders:   map[string]*Order{},
		byKey:    map[string]string{},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// PutProduct inserts or replaces a catalog row.
func (s *MemoryStore) PutProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *MemoryStore) Product(id string) (Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

func (s *MemoryStore) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:        s,
		products: map[string]Product{},
		status:   map[string]memStatus{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return classify(err)
	}

	for id, p := range tx.products {
		s.products[id] = p
	}
	for _, o := range tx.inserted {
		s.orders[o.ID] = o
		if o.IdempotencyKey != "" {
			s.byKey[o.IdempotencyKey] = o.ID
		}
	}
	for id, st := range tx.status {
		o := s.orders[id]
		o.Status = st.status
		o.UpdatedAt = st.at
	}
	return nil
}

type memStatus struct {
	status Status
	at     time.Time
}

type memTx struct {
	s        *MemoryStore
	products map[string]Product
	inserted []*Order
	status   map[string]memStatus
}

func (t *memTx) product(id string) (Product, bool) {
	if p, ok := t.products[id]; ok {
		return p, true
	}
	p, ok := t.s.products[id]
	return p, ok
}

func (t *memTx) LockProducts(_ context.Context, ids []string) (map[string]Product, error) {
	out := map[string]Product{}
	for _, id := range ids {
		if p, ok := t.product(id); ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) DecrementStock(_ context.Context, productID string, qty int) (int, error) {
	p, ok := t.product(productID)
	if !ok {
		return 0, &Error{Kind: KindNotFound, Msg: "product " + productID + " not found"}
	}
	if p.Stock < qty {
		return 0, outOfStock(productID, p.Stock, qty)
	}
	p.Stock -= qty
	t.products[productID] = p
	return p.Stock, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	if o.IdempotencyKey != "" {
		if _, taken := t.s.byKey[o.IdempotencyKey]; taken {
			return ErrDuplicateKey
		}
		for _, pending := range t.inserted {
			if pending.IdempotencyKey == o.IdempotencyKey {
				return ErrDuplicateKey
			}
		}
	}
	cp := *o
	cp.Lines = append([]OrderLine(nil), o.Lines...)
	t.inserted = append(t.inserted, &cp)
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (*Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Msg: "order " + id + " not found"}
	}
	cp := *o
	if st, ok := t.status[id]; ok {
		cp.Status, cp.UpdatedAt = st.status, st.at
	}
	return &cp, nil
}

func (t *memTx) UpdateStatus(_ context.Context, id string, s Status, at time.Time) error {
	if _, ok := t.s.orders[id]; !ok {
		return &Error{Kind: KindNotFound, Msg: "order " + id + " not found"}
	}
	t.status[id] = memStatus{status: s, at: at}
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Msg: "order " + id + " not found"}
	}
	cp := *o
	cp.Lines = append([]OrderLine(nil), o.Lines...)
	return &cp, nil
}

func (s *MemoryStore) FindByIdempotencyKey(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return "", &Error{Kind: KindNotFound, Msg: "no order for key"}
	}
	return id, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) GetProducts(_ context.Context, ids []string) (map[string]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]Product{}
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
