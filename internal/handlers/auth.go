package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"fitalerts/internal/auth"
	"fitalerts/internal/db"
)

type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash, name, role string) (*db.User, error)
	GetUserByEmail(ctx context.Context, email string) (*db.User, error)
}

type TokenIssuer interface {
	GenerateToken(userID, role string) (string, error)
}

type AuthHandler struct {
	users  UserStore
	tokens TokenIssuer
}

func NewAuthHandler(users UserStore, tokens TokenIssuer) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens}
}

type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,password"`
	Name     string `json:"name" validate:"required,max=255"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string   `json:"token"`
	User  *db.User `json:"user"`
}

// Signup always creates members; elevated roles are granted out of band.
func (h *AuthHandler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}

	if err := auth.ValidateEmail(req.Email); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if err := auth.Validate.Var(req.Password, "password"); err != nil {
		return errorJSON(c, http.StatusBadRequest,
			"Password must be at least 8 characters long and contain uppercase, lowercase, number, and special character")
	}
	if err := c.Validate(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Name is required")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "Failed to create user")
	}

	user, err := h.users.CreateUser(c.Request().Context(), req.Email, hash, req.Name, db.RoleMember)
	if errors.Is(err, db.ErrEmailTaken) {
		return errorJSON(c, http.StatusConflict, "Email already registered")
	}
	if err != nil {
		slog.Error("Failed to create user", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to create user")
	}

	return c.JSON(http.StatusCreated, user)
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}
	if err := c.Validate(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid email format")
	}

	user, err := h.users.GetUserByEmail(c.Request().Context(), req.Email)
	if err != nil {
		if !errors.Is(err, db.ErrUserNotFound) {
			slog.Error("Failed to look up user", "error", err)
		}
		return errorJSON(c, http.StatusUnauthorized, "Invalid credentials")
	}

	if err := auth.VerifyPassword(user.Password, req.Password); err != nil {
		return errorJSON(c, http.StatusUnauthorized, "Invalid credentials")
	}

	token, err := h.tokens.GenerateToken(user.ID, user.Role)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "Failed to generate token")
	}

	return c.JSON(http.StatusOK, LoginResponse{Token: token, User: user})
}
