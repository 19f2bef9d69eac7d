package domain

import "errors"

var (
	// ErrInvalidArgument indica input mal formado del llamador.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConstraintViolation indica un conflicto de unicidad reportado por el store.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrConfiguration es fatal y solo ocurre al arrancar.
	ErrConfiguration = errors.New("configuration error")
	ErrRateLimited   = errors.New("rate limited")
)
