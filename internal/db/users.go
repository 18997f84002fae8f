package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	RoleAdmin   = "admin"
	RoleMember  = "member"
	RoleTrainer = "trainer"
	// RoleService is for backend callers that emit domain events.
	RoleService = "service"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Password  string    `db:"password" json:"-"`
	Name      string    `db:"name" json:"name"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleMember, RoleTrainer, RoleService:
		return true
	}
	return false
}

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser expects an already hashed password.
func (r *UserRepository) CreateUser(ctx context.Context, email, passwordHash, name, role string) (*User, error) {
	user := &User{
		Email:    strings.ToLower(email),
		Password: passwordHash,
		Name:     name,
		Role:     role,
	}

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO users (email, password, name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, user.Email, user.Password, user.Name, user.Role).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "SELECT id, email, password, name, role, created_at FROM users WHERE email = $1", strings.ToLower(email))
}

func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "SELECT id, email, password, name, role, created_at FROM users WHERE id = $1", id)
}

func (r *UserRepository) getUser(ctx context.Context, query string, arg string) (*User, error) {
	user := &User{}
	err := r.db.GetContext(ctx, user, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// AdminIDs lists everyone who holds the admin role right now.
func (r *UserRepository) AdminIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, "SELECT id FROM users WHERE role = $1 ORDER BY id", RoleAdmin); err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	return ids, nil
}
