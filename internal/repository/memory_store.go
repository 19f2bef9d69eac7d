package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"userhub/internal/domain"
	"userhub/internal/query"
)

// UniqueIndex declara una restriccion de unicidad para MemoryTable.
type UniqueIndex[T any] struct {
	Name string
	Key  func(T) string
}

// MemoryTable guarda filas en memoria del proceso. Es el backend del driver
// "memory" y el doble de pruebas de los servicios.
type MemoryTable[T any] struct {
	mu      sync.RWMutex
	rows    map[string]T
	keyOf   func(T) string
	schema  query.Schema[T]
	indexes []UniqueIndex[T]
	// unique[indice][valor] = clave primaria
	unique map[string]map[string]string
}

func NewMemoryTable[T any](schema query.Schema[T], keyOf func(T) string, indexes ...UniqueIndex[T]) *MemoryTable[T] {
	return &MemoryTable[T]{
		rows:    make(map[string]T),
		keyOf:   keyOf,
		schema:  schema,
		indexes: indexes,
		unique:  buildUnique(map[string]T{}, indexes),
	}
}

func buildUnique[T any](rows map[string]T, indexes []UniqueIndex[T]) map[string]map[string]string {
	out := make(map[string]map[string]string, len(indexes))
	for _, idx := range indexes {
		out[idx.Name] = make(map[string]string, len(rows))
	}
	return out
}

// snapshot copia las filas ordenadas por clave.
func (t *MemoryTable[T]) snapshot() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.rows[k])
	}
	return out
}

func (t *MemoryTable[T]) get(id string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	return row, ok
}

// lookup resuelve una fila por un indice unico sin recorrer la tabla.
func (t *MemoryTable[T]) lookup(index, value string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var zero T
	key, ok := t.unique[index][value]
	if !ok {
		return zero, false
	}
	row, ok := t.rows[key]
	return row, ok
}

// apply aplica todas las mutaciones o ninguna.
func (t *MemoryTable[T]) apply(pending []mutation[T]) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]T, len(t.rows)+len(pending))
	for k, v := range t.rows {
		next[k] = v
	}
	for _, m := range pending {
		key := t.keyOf(m.entity)
		switch m.kind {
		case mutationInsert:
			if _, exists := next[key]; exists {
				return fmt.Errorf("%w: primary key", domain.ErrConstraintViolation)
			}
			next[key] = m.entity
		case mutationUpdate:
			if _, exists := next[key]; !exists {
				return ErrRowMissing
			}
			next[key] = m.entity
		case mutationDelete:
			if _, exists := next[key]; !exists {
				return ErrRowMissing
			}
			delete(next, key)
		}
	}
	unique := buildUnique(next, t.indexes)
	for _, idx := range t.indexes {
		seen := unique[idx.Name]
		for key, row := range next {
			v := idx.Key(row)
			if _, dup := seen[v]; dup {
				return fmt.Errorf("%w: %s", domain.ErrConstraintViolation, idx.Name)
			}
			seen[v] = key
		}
	}
	t.rows = next
	t.unique = unique
	return nil
}

// MemoryStore es una unidad de trabajo sobre una MemoryTable.
type MemoryStore[T any] struct {
	table   *MemoryTable[T]
	pending []mutation[T]
}

func NewMemoryStore[T any](table *MemoryTable[T]) *MemoryStore[T] {
	return &MemoryStore[T]{table: table}
}

func (s *MemoryStore[T]) GetByID(ctx context.Context, id string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row, ok := s.table.get(id)
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *MemoryStore[T]) GetAll(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.table.snapshot(), nil
}

func (s *MemoryStore[T]) Query() query.Queryable[T] {
	return query.FromSlice(s.table.schema, s.table.snapshot())
}

// Snapshot usa una copia de las filas, que ya es consistente.
func (s *MemoryStore[T]) Snapshot(ctx context.Context, fn func(q query.Queryable[T]) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s.Query())
}

func (s *MemoryStore[T]) Add(entity T) {
	s.pending = append(s.pending, mutation[T]{kind: mutationInsert, entity: entity})
}

func (s *MemoryStore[T]) Update(entity T) {
	s.pending = append(s.pending, mutation[T]{kind: mutationUpdate, entity: entity})
}

func (s *MemoryStore[T]) Delete(entity T) {
	s.pending = append(s.pending, mutation[T]{kind: mutationDelete, entity: entity})
}

func (s *MemoryStore[T]) SaveChanges(ctx context.Context) error {
	pending := s.pending
	s.pending = nil
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	return s.table.apply(pending)
}

const userEmailIndex = "users_email_key"

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewMemoryUserTable crea la tabla de usuarios con email unico.
func NewMemoryUserTable() *MemoryTable[domain.User] {
	return NewMemoryTable(UserSchema,
		func(u domain.User) string { return u.ID },
		UniqueIndex[domain.User]{Name: userEmailIndex, Key: func(u domain.User) string { return emailKey(u.Email) }},
	)
}

// MemoryUserStore implementa UserStore en memoria.
type MemoryUserStore struct {
	*MemoryStore[domain.User]
}

func NewMemoryUserStoreFactory(table *MemoryTable[domain.User]) UserStoreFactory {
	return func() UserStore { return &MemoryUserStore{MemoryStore: NewMemoryStore(table)} }
}

func (s *MemoryUserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, ok := s.table.lookup(userEmailIndex, emailKey(email))
	if !ok {
		return nil, nil
	}
	return &u, nil
}
