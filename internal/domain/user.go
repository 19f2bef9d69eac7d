package domain

import "time"

// User es la entidad persistida. PasswordHash nunca sale del servicio.
type User struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserView es la representacion externa de un usuario.
type UserView struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// View mapea la entidad a su forma externa.
func (u User) View() UserView {
	return UserView{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

type CreateUserInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// UpdateUserInput usa punteros: nil significa "no enviado".
type UpdateUserInput struct {
	FirstName *string
	LastName  *string
	Email     *string
	Password  *string
}

type LoginInput struct {
	Email    string
	Password string
}

// AuthResponse es el resultado de un login exitoso.
type AuthResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

const TokenTypeBearer = "Bearer"
