package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"userhub/internal/domain"
)

// MinSecretBytes es el largo minimo de la clave HMAC (256 bits).
const MinSecretBytes = 32

// JWTOptions es la configuracion inmutable de firma, construida una vez al arrancar.
type JWTOptions struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// JWTService emite y valida access tokens JWT.
type JWTService struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

type Claims struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	jwt.RegisteredClaims
}

var (
	ErrJWTInvalid = errors.New("jwt invalid")
	ErrJWTExpired = errors.New("jwt expired")
)

// NewJWTService valida la configuracion de firma; un error aqui debe abortar el arranque.
func NewJWTService(opts JWTOptions) (*JWTService, error) {
	if len(opts.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("%w: jwt secret must be at least %d bytes", domain.ErrConfiguration, MinSecretBytes)
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("%w: jwt lifetime must be positive", domain.ErrConfiguration)
	}
	if strings.TrimSpace(opts.Issuer) == "" || strings.TrimSpace(opts.Audience) == "" {
		return nil, fmt.Errorf("%w: jwt issuer and audience are required", domain.ErrConfiguration)
	}
	return &JWTService{
		secret:   []byte(opts.Secret),
		issuer:   opts.Issuer,
		audience: opts.Audience,
		ttl:      opts.TTL,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Issue firma un token para el usuario y devuelve su instante de expiracion.
func (s *JWTService) Issue(user domain.User) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		Email:      user.Email,
		GivenName:  user.FirstName,
		FamilyName: user.LastName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify valida firma, algoritmo, issuer, audience y ventana [nbf, exp).
func (s *JWTService) Verify(tokenString string) (Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Claims{}, ErrJWTInvalid
	}
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrJWTExpired
		}
		return Claims{}, ErrJWTInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrJWTInvalid
	}
	return claims, nil
}
