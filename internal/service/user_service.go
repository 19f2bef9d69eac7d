package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"userhub/internal/domain"
	"userhub/internal/query"
	"userhub/internal/repository"
)

// PasswordHasher abstrae el hashing de credenciales.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// TokenIssuer emite access tokens para un usuario autenticado.
type TokenIssuer interface {
	Issue(user domain.User) (string, time.Time, error)
}

// UserService coordina reglas de negocio para usuarios. No guarda estado
// entre llamadas: cada operacion abre su propia unidad de trabajo.
type UserService struct {
	logger    *zap.Logger
	newStore  repository.UserStoreFactory
	hasher    PasswordHasher
	issuer    TokenIssuer
	limiter   LoginRateLimiter
	processor query.Processor
	validate  *validator.Validate
	now       func() time.Time

	decoyOnce sync.Once
	decoyHash string
}

func NewUserService(
	logger *zap.Logger,
	newStore repository.UserStoreFactory,
	hasher PasswordHasher,
	issuer TokenIssuer,
	limiter LoginRateLimiter,
	processor query.Processor,
) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		logger:    logger,
		newStore:  newStore,
		hasher:    hasher,
		issuer:    issuer,
		limiter:   limiter,
		processor: processor,
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// userShape son las reglas de forma compartidas por alta y modificacion.
type userShape struct {
	FirstName string `validate:"required,max=100"`
	LastName  string `validate:"required,max=100"`
	Email     string `validate:"required,email,max=200"`
}

func (s *UserService) checkShape(u domain.User) error {
	err := s.validate.Struct(userShape{FirstName: u.FirstName, LastName: u.LastName, Email: u.Email})
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("%w: %s failed %q", domain.ErrInvalidArgument, strings.ToLower(fe.Field()), fe.Tag())
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
}

// GetByID devuelve nil cuando el id esta vacio o no existe.
func (s *UserService) GetByID(ctx context.Context, id string) (*domain.UserView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	user, err := s.newStore().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	view := user.View()
	return &view, nil
}

// GetAll lista usuarios filtrados, ordenados y paginados. El total y la
// pagina se leen de la misma foto del store.
func (s *UserService) GetAll(ctx context.Context, spec *query.Spec) (query.PagedResult[domain.UserView], error) {
	var result query.PagedResult[domain.UserView]
	err := s.newStore().Snapshot(ctx, func(q query.Queryable[domain.User]) error {
		var err error
		result, err = query.Execute(ctx, s.processor, spec, q, domain.User.View)
		return err
	})
	if err != nil {
		return query.PagedResult[domain.UserView]{}, err
	}
	return result, nil
}

func (s *UserService) Create(ctx context.Context, input domain.CreateUserInput) (domain.UserView, error) {
	if strings.TrimSpace(input.Password) == "" {
		return domain.UserView{}, fmt.Errorf("%w: password is required", domain.ErrInvalidArgument)
	}

	user := domain.User{
		ID:        uuid.NewString(),
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Email:     normalizeEmail(input.Email),
		// Misma precision que timestamptz.
		CreatedAt: s.now().Truncate(time.Microsecond),
	}
	if err := s.checkShape(user); err != nil {
		return domain.UserView{}, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return domain.UserView{}, err
	}
	user.PasswordHash = hash

	store := s.newStore()
	store.Add(user)
	if err := store.SaveChanges(ctx); err != nil {
		if errors.Is(err, domain.ErrConstraintViolation) {
			s.logger.Info("create user rejected", zap.Error(err))
		}
		return domain.UserView{}, err
	}

	s.logger.Info("user created", zap.String("user_id", user.ID))
	return user.View(), nil
}

// Update aplica solo los campos enviados. Devuelve nil si el usuario no existe.
func (s *UserService) Update(ctx context.Context, id string, input domain.UpdateUserInput) (*domain.UserView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}

	store := s.newStore()
	existing, err := store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	user := *existing
	if input.FirstName != nil {
		user.FirstName = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		user.LastName = strings.TrimSpace(*input.LastName)
	}
	if input.Email != nil {
		user.Email = normalizeEmail(*input.Email)
	}
	if err := s.checkShape(user); err != nil {
		return nil, err
	}

	if input.Password != nil {
		if strings.TrimSpace(*input.Password) == "" {
			return nil, fmt.Errorf("%w: password cannot be empty when provided", domain.ErrInvalidArgument)
		}
		hash, err := s.hasher.Hash(*input.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}

	store.Update(user)
	if err := store.SaveChanges(ctx); err != nil {
		if errors.Is(err, repository.ErrRowMissing) {
			return nil, nil
		}
		return nil, err
	}

	view := user.View()
	return &view, nil
}

// Delete devuelve false cuando el usuario no existe.
func (s *UserService) Delete(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}

	store := s.newStore()
	existing, err := store.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	store.Delete(*existing)
	if err := store.SaveChanges(ctx); err != nil {
		if errors.Is(err, repository.ErrRowMissing) {
			return false, nil
		}
		return false, err
	}
	s.logger.Info("user deleted", zap.String("user_id", id))
	return true, nil
}

// Login devuelve nil ante cualquier credencial invalida, sin distinguir si el
// email no existe o el password no coincide.
func (s *UserService) Login(ctx context.Context, input domain.LoginInput) (*domain.AuthResponse, error) {
	email := normalizeEmail(input.Email)
	if email == "" || strings.TrimSpace(input.Password) == "" {
		return nil, nil
	}

	if s.limiter != nil && !s.limiter.Allow(email) {
		return nil, domain.ErrRateLimited
	}

	user, err := s.newStore().GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Igualar el costo de un password incorrecto.
		s.hasher.Verify(input.Password, s.decoy())
		return nil, nil
	}
	if !s.hasher.Verify(input.Password, user.PasswordHash) {
		return nil, nil
	}

	token, expiresAt, err := s.issuer.Issue(*user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return &domain.AuthResponse{
		AccessToken:      token,
		TokenType:        domain.TokenTypeBearer,
		ExpiresInSeconds: int64(expiresAt.Sub(s.now()) / time.Second),
	}, nil
}

func (s *UserService) decoy() string {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash(uuid.NewString())
		if err != nil {
			s.logger.Warn("decoy hash failed", zap.Error(err))
		}
		s.decoyHash = hash
	})
	return s.decoyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
