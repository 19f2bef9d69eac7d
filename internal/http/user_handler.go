package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"userhub/internal/domain"
	"userhub/internal/query"
	"userhub/internal/service"
)

// UserHandler mantiene dependencias para endpoints de usuarios.
type UserHandler struct {
	logger   *zap.Logger
	userServ *service.UserService
}

// NewUserHandler crea una instancia de UserHandler con dependencias necesarias.
func NewUserHandler(logger *zap.Logger, userServ *service.UserService) *UserHandler {
	return &UserHandler{
		logger:   logger,
		userServ: userServ,
	}
}

type createUserRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type updateUserRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
	Password  *string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login maneja POST /api/users/login.
func (h *UserHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	res, err := h.userServ.Login(c.Request.Context(), domain.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		h.writeError(c, "login failed", err)
		return
	}
	if res == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// CreateUser maneja POST /api/users.
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create user request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, err := h.userServ.Create(c.Request.Context(), domain.CreateUserInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		h.writeError(c, "create user failed", err)
		return
	}

	c.Header("Location", "/api/users/"+user.ID)
	c.JSON(http.StatusCreated, user)
}

// ListUsers maneja GET /api/users?filters=&sorts=&page=&pageSize=.
func (h *UserHandler) ListUsers(c *gin.Context) {
	spec, err := specFromQuery(c)
	if err != nil {
		h.writeError(c, "list users failed", err)
		return
	}

	result, err := h.userServ.GetAll(c.Request.Context(), spec)
	if err != nil {
		h.writeError(c, "list users failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetUser maneja GET /api/users/:id.
func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.userServ.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "get user failed", err)
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateUser maneja PUT /api/users/:id.
func (h *UserHandler) UpdateUser(c *gin.Context) {
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid update user request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, err := h.userServ.Update(c.Request.Context(), c.Param("id"), domain.UpdateUserInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		h.writeError(c, "update user failed", err)
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// DeleteUser maneja DELETE /api/users/:id.
func (h *UserHandler) DeleteUser(c *gin.Context) {
	deleted, err := h.userServ.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "delete user failed", err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// writeError traduce errores del servicio a respuestas HTTP.
func (h *UserHandler) writeError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConstraintViolation):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
	case errors.Is(err, domain.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func specFromQuery(c *gin.Context) (*query.Spec, error) {
	filters, err := query.ParseFilters(c.Query("filters"))
	if err != nil {
		return nil, err
	}
	page, err := intParam(c, "page")
	if err != nil {
		return nil, err
	}
	pageSize, err := intParam(c, "pageSize")
	if err != nil {
		return nil, err
	}
	return &query.Spec{
		Filters:  filters,
		Sorts:    query.ParseSorts(c.Query("sorts")),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func intParam(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidArgument, name)
	}
	return n, nil
}
