package repository

import (
	"context"
	"errors"

	"userhub/internal/domain"
	"userhub/internal/query"
)

// Store es el contrato generico de persistencia para una entidad con id string.
// Add, Update y Delete solo registran el cambio; SaveChanges los aplica todos
// en una transaccion o ninguno.
type Store[T any] interface {
	// GetByID devuelve nil, nil cuando no existe.
	GetByID(ctx context.Context, id string) (*T, error)
	GetAll(ctx context.Context) ([]T, error)
	Query() query.Queryable[T]
	// Snapshot ejecuta fn contra una vista de lectura consistente.
	Snapshot(ctx context.Context, fn func(q query.Queryable[T]) error) error
	Add(entity T)
	Update(entity T)
	Delete(entity T)
	SaveChanges(ctx context.Context) error
}

// UserStore agrega la busqueda por email, usada solo por el login.
type UserStore interface {
	Store[domain.User]
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// ErrRowMissing indica que un Update o Delete no encontro la fila, por
// ejemplo porque otra operacion la borro antes del SaveChanges.
var ErrRowMissing = errors.New("repository: row no longer exists")

// UserStoreFactory crea una unidad de trabajo nueva por operacion.
type UserStoreFactory func() UserStore

type mutationKind int

const (
	mutationInsert mutationKind = iota
	mutationUpdate
	mutationDelete
)

type mutation[T any] struct {
	kind   mutationKind
	entity T
}

// UserSchema declara los campos filtrables y ordenables de User.
// password_hash no se expone.
var UserSchema = query.NewSchema("id",
	query.Field[domain.User]{Name: "id", Column: "id", Kind: query.KindString, Value: func(u domain.User) any { return u.ID }},
	query.Field[domain.User]{Name: "firstName", Column: "first_name", Kind: query.KindString, Value: func(u domain.User) any { return u.FirstName }},
	query.Field[domain.User]{Name: "lastName", Column: "last_name", Kind: query.KindString, Value: func(u domain.User) any { return u.LastName }},
	query.Field[domain.User]{Name: "email", Column: "email", Kind: query.KindString, Value: func(u domain.User) any { return u.Email }},
	query.Field[domain.User]{Name: "createdAt", Column: "created_at", Kind: query.KindTime, Value: func(u domain.User) any { return u.CreatedAt }},
)
