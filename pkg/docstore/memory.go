package docstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Memory is an in-process Store. It backs tests and local runs, and mirrors
// the hosted store's ordering rules: documents missing the order field are
// excluded and ties are broken by id.
type Memory struct {
	collections map[string]map[string]Record
	clock       clockwork.Clock
	failErr     error
	mu          sync.RWMutex
	queries     int
	counts      int
}

// NewMemory creates an empty store. A nil clock uses the real clock.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		collections: make(map[string]map[string]Record),
		clock:       clock,
	}
}

// Fail makes every subsequent call return err until Fail(nil).
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Calls reports how many Query and Count calls reached the store.
func (m *Memory) Calls() (queries, counts int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queries, m.counts
}

// Len returns the number of documents in a collection.
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.failErr
}

// Query implements Store.
func (m *Memory) Query(ctx context.Context, collection string, q Query) (Result, error) {
	m.mu.Lock()
	m.queries++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return Result{}, err
	}
	for _, c := range q.Where {
		if err := c.validate(); err != nil {
			return Result{}, err
		}
	}

	docs := m.collections[collection]
	var selected []Record
	for _, r := range docs {
		if q.OrderBy != "" {
			if _, ok := r.Value(q.OrderBy); !ok {
				continue
			}
		}
		if matches(r, q.Where) {
			selected = append(selected, r)
		}
	}

	less := ordering(q.OrderBy, q.Direction)
	sort.SliceStable(selected, func(i, j int) bool { return less(selected[i], selected[j]) })

	if q.StartAfter != "" {
		id, err := decodeMemoryCursor(q.StartAfter)
		if err != nil {
			return Result{}, err
		}
		pos, ok := docs[id]
		if !ok {
			return Result{}, fmt.Errorf("%w: document %q no longer exists", ErrInvalidCursor, id)
		}
		start := sort.Search(len(selected), func(i int) bool { return less(pos, selected[i]) })
		selected = selected[start:]
	}

	if q.Limit > 0 && len(selected) > q.Limit {
		selected = selected[:q.Limit]
	}

	res := Result{Records: make([]Record, len(selected))}
	for i, r := range selected {
		res.Records[i] = r.Clone()
	}
	if n := len(selected); n > 0 {
		res.Next = encodeMemoryCursor(selected[n-1].ID())
	}
	return res, nil
}

// Count implements Store.
func (m *Memory) Count(ctx context.Context, collection string, where ...Condition) (int, error) {
	m.mu.Lock()
	m.counts++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range m.collections[collection] {
		if matches(r, where) {
			n++
		}
	}
	return n, nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, collection, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	r, ok := m.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return r.Clone(), nil
}

// Add implements Store.
func (m *Memory) Add(ctx context.Context, collection string, fields Record) (string, error) {
	id := uuid.New().String()
	if err := m.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, collection, id string, fields Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	doc := resolve(fields, m.clock.Now().UTC())
	doc["id"] = id
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]Record)
	}
	m.collections[collection][id] = doc
	return nil
}

// Update implements Store.
func (m *Memory) Update(ctx context.Context, collection, id string, fields Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	doc, ok := m.collections[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	merged := doc.Clone()
	for k, v := range resolve(fields, m.clock.Now().UTC()) {
		merged[k] = v
	}
	merged["id"] = id
	m.collections[collection][id] = merged
	return nil
}

// ordering returns the strict order used for field (ties by id).
func ordering(field string, dir Direction) func(a, b Record) bool {
	return func(a, b Record) bool {
		cmp := 0
		if field != "" {
			av, _ := a.Value(field)
			bv, _ := b.Value(field)
			cmp, _ = compareValues(av, bv)
		}
		if cmp == 0 {
			cmp = strings.Compare(a.ID(), b.ID())
		}
		if dir == Desc {
			return cmp > 0
		}
		return cmp < 0
	}
}

const memoryCursorPrefix = "mem:"

func encodeMemoryCursor(id string) Cursor {
	return Cursor(base64.RawURLEncoding.EncodeToString([]byte(memoryCursorPrefix + id)))
}

func decodeMemoryCursor(c Cursor) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil || !strings.HasPrefix(string(raw), memoryCursorPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCursor, c)
	}
	return strings.TrimPrefix(string(raw), memoryCursorPrefix), nil
}
