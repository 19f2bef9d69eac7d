package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"userhub/internal/domain"
	"userhub/internal/query"
)

// DB es la parte de pgxpool.Pool que usan los stores (tambien la implementa pgxmock).
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Table describe como T se guarda en Postgres. Columns[0] es la clave y
// Values devuelve los valores en el mismo orden que Columns.
type Table[T any] struct {
	Name    string
	Columns []string
	Schema  query.Schema[T]
	Scan    func(row pgx.Row) (T, error)
	Values  func(entity T) []any
}

func (t Table[T]) key() string { return t.Columns[0] }

func (t Table[T]) selectList() string { return strings.Join(t.Columns, ", ") }

// PgStore implementa Store[T] sobre Postgres.
type PgStore[T any] struct {
	db      DB
	table   Table[T]
	pending []mutation[T]
}

func NewPgStore[T any](db DB, table Table[T]) *PgStore[T] {
	return &PgStore[T]{db: db, table: table}
}

func (s *PgStore[T]) GetByID(ctx context.Context, id string) (*T, error) {
	return s.findOne(ctx, s.table.key(), id)
}

func (s *PgStore[T]) findOne(ctx context.Context, column string, value any) (*T, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", s.table.selectList(), s.table.Name, column)
	entity, err := s.table.Scan(s.db.QueryRow(ctx, sql, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entity, nil
}

func (s *PgStore[T]) GetAll(ctx context.Context) ([]T, error) {
	return s.Query().List(ctx)
}

func (s *PgStore[T]) Query() query.Queryable[T] {
	return newPgQueryable(s.db, s.table)
}

// Snapshot corre fn dentro de una transaccion REPEATABLE READ de solo lectura,
// asi el total y la pagina salen de la misma foto de la tabla.
func (s *PgStore[T]) Snapshot(ctx context.Context, fn func(q query.Queryable[T]) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("repository: begin snapshot: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(newPgQueryable(tx, s.table)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: commit snapshot: %w", err)
	}
	return nil
}

func (s *PgStore[T]) Add(entity T) {
	s.pending = append(s.pending, mutation[T]{kind: mutationInsert, entity: entity})
}

func (s *PgStore[T]) Update(entity T) {
	s.pending = append(s.pending, mutation[T]{kind: mutationUpdate, entity: entity})
}

func (s *PgStore[T]) Delete(entity T) {
	s.pending = append(s.pending, mutation[T]{kind: mutationDelete, entity: entity})
}

// SaveChanges aplica los cambios pendientes en una transaccion. Los cambios
// pendientes se descartan siempre, haya error o no.
func (s *PgStore[T]) SaveChanges(ctx context.Context) error {
	pending := s.pending
	s.pending = nil
	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("repository: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, m := range pending {
		sql, args := s.mutationSQL(m)
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return classify(err)
		}
		if m.kind != mutationInsert && tag.RowsAffected() == 0 {
			return ErrRowMissing
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (s *PgStore[T]) mutationSQL(m mutation[T]) (string, []any) {
	values := s.table.Values(m.entity)
	switch m.kind {
	case mutationInsert:
		placeholders := make([]string, len(s.table.Columns))
		for i := range placeholders {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			s.table.Name, s.table.selectList(), strings.Join(placeholders, ", ")), values
	case mutationUpdate:
		sets := make([]string, 0, len(s.table.Columns)-1)
		for i, col := range s.table.Columns[1:] {
			sets = append(sets, fmt.Sprintf("%s = $%d", col, i+2))
		}
		return fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1",
			s.table.Name, strings.Join(sets, ", "), s.table.key()), values
	default:
		return fmt.Sprintf("DELETE FROM %s WHERE %s = $1", s.table.Name, s.table.key()), values[:1]
	}
}

// classify traduce violaciones de unicidad a ErrConstraintViolation.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrConstraintViolation, pgErr.ConstraintName)
	}
	return err
}

// pgQueryable compila filtros, orden y paginacion a SQL parametrizado.
// Solo se interpolan nombres de columnas declarados en el schema.
type pgQueryable[T any] struct {
	q       querier
	table   Table[T]
	filters []query.Filter
	sorts   []query.Sort
	offset  int
	limit   int
}

func newPgQueryable[T any](q querier, table Table[T]) *pgQueryable[T] {
	return &pgQueryable[T]{q: q, table: table, limit: -1}
}

func (v *pgQueryable[T]) clone() *pgQueryable[T] {
	c := *v
	c.filters = append([]query.Filter(nil), v.filters...)
	c.sorts = append([]query.Sort(nil), v.sorts...)
	return &c
}

func (v *pgQueryable[T]) Schema() query.Schema[T] { return v.table.Schema }

func (v *pgQueryable[T]) Where(f query.Filter) query.Queryable[T] {
	c := v.clone()
	c.filters = append(c.filters, f)
	return c
}

func (v *pgQueryable[T]) OrderBy(o query.Sort) query.Queryable[T] {
	c := v.clone()
	c.sorts = append(c.sorts, o)
	return c
}

func (v *pgQueryable[T]) Skip(n int) query.Queryable[T] {
	c := v.clone()
	if n > 0 {
		if c.offset > math.MaxInt-n {
			c.offset = math.MaxInt
		} else {
			c.offset += n
		}
	}
	return c
}

func (v *pgQueryable[T]) Take(n int) query.Queryable[T] {
	c := v.clone()
	if n >= 0 {
		c.limit = n
	}
	return c
}

func (v *pgQueryable[T]) Count(ctx context.Context) (int, error) {
	where, args, err := v.where()
	if err != nil {
		return 0, err
	}
	var sql string
	if v.limit < 0 && v.offset == 0 {
		sql = fmt.Sprintf("SELECT COUNT(*) FROM %s%s", v.table.Name, where)
	} else {
		inner, innerArgs := v.paginate(fmt.Sprintf("SELECT 1 FROM %s%s", v.table.Name, where), args)
		sql = fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS page", inner)
		args = innerArgs
	}
	var n int
	if err := v.q.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (v *pgQueryable[T]) List(ctx context.Context) ([]T, error) {
	where, args, err := v.where()
	if err != nil {
		return nil, err
	}
	orderBy, err := v.orderBy()
	if err != nil {
		return nil, err
	}
	sql, args := v.paginate(fmt.Sprintf("SELECT %s FROM %s%s%s", v.table.selectList(), v.table.Name, where, orderBy), args)

	rows, err := v.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		item, err := v.table.Scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (v *pgQueryable[T]) where() (string, []any, error) {
	if len(v.filters) == 0 {
		return "", nil, nil
	}
	conditions := make([]string, 0, len(v.filters))
	args := make([]any, 0, len(v.filters))
	for _, f := range v.filters {
		field, value, err := query.Resolve(v.table.Schema, f)
		if err != nil {
			return "", nil, err
		}
		args = append(args, value)
		pos := len(args)
		col := field.Column
		switch f.Op {
		case query.OpContains:
			args[pos-1] = "%" + escapeLike(value.(string)) + "%"
			conditions = append(conditions, fmt.Sprintf("%s ILIKE $%d", col, pos))
		case query.OpStartsWith:
			args[pos-1] = escapeLike(value.(string)) + "%"
			conditions = append(conditions, fmt.Sprintf("%s ILIKE $%d", col, pos))
		case query.OpEquals:
			conditions = append(conditions, fmt.Sprintf("%s = $%d", col, pos))
		case query.OpNotEquals:
			conditions = append(conditions, fmt.Sprintf("%s <> $%d", col, pos))
		default:
			conditions = append(conditions, fmt.Sprintf("%s %s $%d", orderedColumn(field), f.Op, pos))
		}
	}
	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

func (v *pgQueryable[T]) orderBy() (string, error) {
	if len(v.sorts) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(v.sorts))
	for _, o := range v.sorts {
		field, err := query.ResolveSort(v.table.Schema, o)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, orderedColumn(field)+" "+dir)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func (v *pgQueryable[T]) paginate(sql string, args []any) (string, []any) {
	if v.limit >= 0 {
		args = append(args, v.limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if v.offset > 0 {
		args = append(args, v.offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return sql, args
}

// orderedColumn fija la collation "C" en texto para que orden y rangos sean
// por bytes, igual que en el store en memoria.
func orderedColumn[T any](f query.Field[T]) string {
	if f.Kind == query.KindString {
		return f.Column + ` COLLATE "C"`
	}
	return f.Column
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
