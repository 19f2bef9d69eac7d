package service

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"userhub/internal/domain"
)

const DefaultBcryptCost = 12

// PasswordService hashea y verifica passwords con bcrypt.
type PasswordService struct {
	cost int
}

func NewPasswordService(cost int) (*PasswordService, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: bcrypt cost must be between %d and %d", domain.ErrConfiguration, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &PasswordService{cost: cost}, nil
}

// Hash genera un digest con sal nueva en cada llamada.
func (s *PasswordService) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password exceeds 72 bytes", domain.ErrInvalidArgument)
		}
		return "", err
	}
	return string(hash), nil
}

// Verify nunca falla: un digest mal formado simplemente no coincide.
func (s *PasswordService) Verify(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
