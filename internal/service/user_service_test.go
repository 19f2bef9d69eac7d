package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"userhub/internal/domain"
	"userhub/internal/query"
	"userhub/internal/repository"
)

type userServiceFixture struct {
	svc      *UserService
	table    *repository.MemoryTable[domain.User]
	newStore repository.UserStoreFactory
	jwt      *JWTService
}

func newUserServiceFixture(t *testing.T, limiter LoginRateLimiter) userServiceFixture {
	t.Helper()
	table := repository.NewMemoryUserTable()
	newStore := repository.NewMemoryUserStoreFactory(table)
	jwtSvc := newTestJWTService(t)
	svc := NewUserService(zap.NewNop(), newStore, newTestPasswordService(t), jwtSvc, limiter, query.NewProcessor(20, 100))
	return userServiceFixture{svc: svc, table: table, newStore: newStore, jwt: jwtSvc}
}

func (f userServiceFixture) create(t *testing.T, first, email, password string) domain.UserView {
	t.Helper()
	view, err := f.svc.Create(context.Background(), domain.CreateUserInput{
		FirstName: first,
		LastName:  "Tester",
		Email:     email,
		Password:  password,
	})
	if err != nil {
		t.Fatalf("create %s: %v", email, err)
	}
	return view
}

func (f userServiceFixture) stored(t *testing.T, id string) domain.User {
	t.Helper()
	u, err := f.newStore().GetByID(context.Background(), id)
	if err != nil || u == nil {
		t.Fatalf("load %s: %v %v", id, u, err)
	}
	return *u
}

func strPtr(s string) *string { return &s }

func TestUserService_CreateHashesAndNormalizes(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	view := f.create(t, " Ada ", " Ada@Example.COM ", "s3cret")

	if view.ID == "" || view.Email != "ada@example.com" || view.FirstName != "Ada" {
		t.Fatalf("unexpected view: %+v", view)
	}
	stored := f.stored(t, view.ID)
	if stored.PasswordHash == "" || stored.PasswordHash == "s3cret" {
		t.Fatalf("expected bcrypt hash, got %q", stored.PasswordHash)
	}
	if stored.CreatedAt.IsZero() {
		t.Fatalf("expected created_at")
	}
}

func TestUserService_CreateValidation(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	tests := []struct {
		name  string
		input domain.CreateUserInput
	}{
		{"missing password", domain.CreateUserInput{FirstName: "A", LastName: "B", Email: "a@x.com"}},
		{"blank password", domain.CreateUserInput{FirstName: "A", LastName: "B", Email: "a@x.com", Password: "  "}},
		{"missing first name", domain.CreateUserInput{LastName: "B", Email: "a@x.com", Password: "p"}},
		{"bad email", domain.CreateUserInput{FirstName: "A", LastName: "B", Email: "not-an-email", Password: "p"}},
		{"long last name", domain.CreateUserInput{FirstName: "A", LastName: strings.Repeat("b", 101), Email: "a@x.com", Password: "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tt.input)
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestUserService_DuplicateEmailScenario(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	f.create(t, "A", "a@x.com", "pa")
	f.create(t, "B", "b@x.com", "pb")

	_, err := f.svc.Create(context.Background(), domain.CreateUserInput{
		FirstName: "C", LastName: "C", Email: "A@x.com", Password: "pc",
	})
	if !errors.Is(err, domain.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}

	res, err := f.svc.GetAll(context.Background(), &query.Spec{PageSize: 10})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if res.TotalCount != 2 || len(res.Items) != 2 {
		t.Fatalf("expected 2 users after failed create, got %+v", res)
	}
}

func TestUserService_PartialUpdate(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	view := f.create(t, "Ada", "ada@x.com", "pw")
	before := f.stored(t, view.ID)

	updated, err := f.svc.Update(context.Background(), view.ID, domain.UpdateUserInput{LastName: strPtr("X")})
	if err != nil || updated == nil {
		t.Fatalf("update: %v %v", updated, err)
	}
	after := f.stored(t, view.ID)
	if after.LastName != "X" {
		t.Fatalf("expected last name X, got %q", after.LastName)
	}
	if after.FirstName != before.FirstName || after.Email != before.Email || after.PasswordHash != before.PasswordHash || after.ID != before.ID {
		t.Fatalf("unexpected changes: before %+v after %+v", before, after)
	}
}

func TestUserService_UpdatePassword(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	view := f.create(t, "Ada", "ada@x.com", "old")

	if _, err := f.svc.Update(context.Background(), view.ID, domain.UpdateUserInput{Password: strPtr("")}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty password, got %v", err)
	}
	if _, err := f.svc.Update(context.Background(), view.ID, domain.UpdateUserInput{Password: strPtr("new")}); err != nil {
		t.Fatalf("update password: %v", err)
	}

	ctx := context.Background()
	if res, _ := f.svc.Login(ctx, domain.LoginInput{Email: "ada@x.com", Password: "old"}); res != nil {
		t.Fatalf("old password must stop working")
	}
	if res, err := f.svc.Login(ctx, domain.LoginInput{Email: "ada@x.com", Password: "new"}); err != nil || res == nil {
		t.Fatalf("new password must work: %v %v", res, err)
	}
}

func TestUserService_UpdateMissingAndDuplicate(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	a := f.create(t, "A", "a@x.com", "pa")
	f.create(t, "B", "b@x.com", "pb")

	got, err := f.svc.Update(context.Background(), "missing", domain.UpdateUserInput{LastName: strPtr("X")})
	if err != nil || got != nil {
		t.Fatalf("expected nil,nil for missing user, got %v %v", got, err)
	}
	got, err = f.svc.Update(context.Background(), " ", domain.UpdateUserInput{})
	if err != nil || got != nil {
		t.Fatalf("expected nil,nil for blank id, got %v %v", got, err)
	}
	if _, err := f.svc.Update(context.Background(), a.ID, domain.UpdateUserInput{Email: strPtr("B@x.com")}); !errors.Is(err, domain.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
	if f.stored(t, a.ID).Email != "a@x.com" {
		t.Fatalf("failed update must not change email")
	}
}

func TestUserService_GetAndDelete(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	ctx := context.Background()
	view := f.create(t, "Ada", "ada@x.com", "pw")

	if got, err := f.svc.GetByID(ctx, ""); err != nil || got != nil {
		t.Fatalf("blank id should be absent, got %v %v", got, err)
	}
	if got, err := f.svc.GetByID(ctx, view.ID); err != nil || got == nil || got.Email != "ada@x.com" {
		t.Fatalf("expected user, got %v %v", got, err)
	}

	if ok, err := f.svc.Delete(ctx, "nope"); err != nil || ok {
		t.Fatalf("expected false for missing id, got %v %v", ok, err)
	}
	if ok, err := f.svc.Delete(ctx, view.ID); err != nil || !ok {
		t.Fatalf("expected true, got %v %v", ok, err)
	}
	if got, err := f.svc.GetByID(ctx, view.ID); err != nil || got != nil {
		t.Fatalf("expected absent after delete, got %v %v", got, err)
	}
}

func TestUserService_GetAllSecondPage(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	ids := []string{
		f.create(t, "A", "a@x.com", "p").ID,
		f.create(t, "B", "b@x.com", "p").ID,
		f.create(t, "C", "c@x.com", "p").ID,
	}
	// El orden por defecto es id ascendente.
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}

	res, err := f.svc.GetAll(context.Background(), &query.Spec{Page: 2, PageSize: 1})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].ID != ids[1] {
		t.Fatalf("expected second user by id %s, got %+v", ids[1], res.Items)
	}
	if res.TotalCount != 3 || res.Page != 2 || res.PageSize != 1 {
		t.Fatalf("unexpected paging: %+v", res)
	}
}

func TestUserService_GetAllFilterAndBadField(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	f.create(t, "Joanna", "j@x.com", "p")
	f.create(t, "Bob", "b@x.com", "p")

	res, err := f.svc.GetAll(context.Background(), &query.Spec{
		Filters: []query.Filter{{Field: "firstName", Op: query.OpContains, Value: "jo"}},
	})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if res.TotalCount != 1 || len(res.Items) != 1 || res.Items[0].FirstName != "Joanna" {
		t.Fatalf("unexpected result: %+v", res)
	}

	_, err = f.svc.GetAll(context.Background(), &query.Spec{
		Filters: []query.Filter{{Field: "passwordHash", Op: query.OpEquals, Value: "x"}},
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestUserService_Login(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	view := f.create(t, "Ada", "ada@x.com", "right")
	ctx := context.Background()

	res, err := f.svc.Login(ctx, domain.LoginInput{Email: " ADA@x.com ", Password: "right"})
	if err != nil || res == nil {
		t.Fatalf("expected login success, got %v %v", res, err)
	}
	if res.TokenType != "Bearer" || res.AccessToken == "" {
		t.Fatalf("unexpected response: %+v", res)
	}
	if res.ExpiresInSeconds <= 0 || res.ExpiresInSeconds > int64((15*time.Minute).Seconds()) {
		t.Fatalf("unexpected expires_in: %d", res.ExpiresInSeconds)
	}
	claims, err := f.jwt.Verify(res.AccessToken)
	if err != nil || claims.Subject != view.ID || claims.Email != "ada@x.com" {
		t.Fatalf("unexpected claims %+v %v", claims, err)
	}
}

func TestUserService_LoginFailuresAreIndistinguishable(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	f.create(t, "Ada", "ada@x.com", "right")
	ctx := context.Background()

	inputs := []domain.LoginInput{
		{Email: "ada@x.com", Password: "wrong"},
		{Email: "ghost@x.com", Password: "right"},
		{Email: "", Password: "right"},
		{Email: "ada@x.com", Password: ""},
	}
	for _, in := range inputs {
		res, err := f.svc.Login(ctx, in)
		if err != nil || res != nil {
			t.Fatalf("expected nil,nil for %+v, got %v %v", in, res, err)
		}
	}
}

func TestUserService_LoginRateLimited(t *testing.T) {
	f := newUserServiceFixture(t, NewLoginRateLimiter(time.Minute, 2))
	f.create(t, "Ada", "ada@x.com", "right")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Login(ctx, domain.LoginInput{Email: "ada@x.com", Password: "wrong"}); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := f.svc.Login(ctx, domain.LoginInput{Email: "ADA@x.com", Password: "right"}); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

type failingIssuer struct{}

func (failingIssuer) Issue(domain.User) (string, time.Time, error) {
	return "", time.Time{}, errors.New("boom")
}

func TestUserService_LoginIssuerError(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	f.create(t, "Ada", "ada@x.com", "right")
	f.svc.issuer = failingIssuer{}
	if _, err := f.svc.Login(context.Background(), domain.LoginInput{Email: "ada@x.com", Password: "right"}); err == nil {
		t.Fatalf("expected issuer error")
	}
}

// vanishingStore borra la fila apenas se lee, como si otra peticion la
// hubiera eliminado entre la lectura y el SaveChanges.
type vanishingStore struct {
	repository.UserStore
	newStore repository.UserStoreFactory
}

func (s vanishingStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.UserStore.GetByID(ctx, id)
	if err != nil || u == nil {
		return u, err
	}
	other := s.newStore()
	other.Delete(*u)
	if err := other.SaveChanges(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

func TestUserService_ConcurrentDeleteReportsMissing(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	ctx := context.Background()

	for _, op := range []string{"update", "delete"} {
		view := f.create(t, "Ada", op+"@x.com", "pw")
		f.svc.newStore = func() repository.UserStore {
			return vanishingStore{UserStore: f.newStore(), newStore: f.newStore}
		}

		switch op {
		case "update":
			got, err := f.svc.Update(ctx, view.ID, domain.UpdateUserInput{LastName: strPtr("X")})
			if err != nil || got != nil {
				t.Fatalf("update of vanished user: expected nil,nil, got %v %v", got, err)
			}
		case "delete":
			ok, err := f.svc.Delete(ctx, view.ID)
			if err != nil || ok {
				t.Fatalf("delete of vanished user: expected false,nil, got %v %v", ok, err)
			}
		}
		f.svc.newStore = f.newStore

		if got, _ := f.svc.GetByID(ctx, view.ID); got != nil {
			t.Fatalf("%s must not resurrect the user, got %+v", op, got)
		}
	}
}

func TestUserService_CreatedAtHasMicrosecondPrecision(t *testing.T) {
	f := newUserServiceFixture(t, nil)
	f.svc.now = func() time.Time { return time.Date(2025, 1, 1, 10, 0, 0, 123456789, time.UTC) }
	view := f.create(t, "Ada", "ada@x.com", "pw")

	want := time.Date(2025, 1, 1, 10, 0, 0, 123456000, time.UTC)
	if !view.CreatedAt.Equal(want) {
		t.Fatalf("expected %v, got %v", want, view.CreatedAt)
	}

	res, err := f.svc.GetAll(context.Background(), &query.Spec{
		Filters: []query.Filter{{Field: "createdAt", Op: query.OpEquals, Value: want.Format(time.RFC3339Nano)}},
	})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if res.TotalCount != 1 {
		t.Fatalf("expected exact timestamp match, got %+v", res)
	}
}
