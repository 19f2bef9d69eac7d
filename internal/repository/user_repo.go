package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"userhub/internal/domain"
)

var userTable = Table[domain.User]{
	Name:    "users",
	Columns: []string{"id", "first_name", "last_name", "email", "password_hash", "created_at"},
	Schema:  UserSchema,
	Scan: func(row pgx.Row) (domain.User, error) {
		var u domain.User
		err := row.Scan(
			&u.ID,
			&u.FirstName,
			&u.LastName,
			&u.Email,
			&u.PasswordHash,
			&u.CreatedAt,
		)
		return u, err
	},
	Values: func(u domain.User) []any {
		return []any{u.ID, u.FirstName, u.LastName, u.Email, u.PasswordHash, u.CreatedAt}
	},
}

// PgUserStore implementa UserStore sobre la tabla users.
type PgUserStore struct {
	*PgStore[domain.User]
}

func NewPgUserStore(db DB) *PgUserStore {
	return &PgUserStore{PgStore: NewPgStore(db, userTable)}
}

// NewPgUserStoreFactory devuelve una fabrica de unidades de trabajo sobre db.
func NewPgUserStoreFactory(db DB) UserStoreFactory {
	return func() UserStore { return NewPgUserStore(db) }
}

func (s *PgUserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findOne(ctx, "email", email)
}
