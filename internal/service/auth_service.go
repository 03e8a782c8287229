package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockledger/internal/auth"
	"stockledger/internal/model"
	"stockledger/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials hides whether the user or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid email or password")

// DTOs
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Principal *auth.Principal `json:"principal"`
}

type CreateUserRequest struct {
	TenantID uuid.UUID
	Username string
	Email    string
	Password string
	Role     string
}

// AuthService verifies credentials and issues capability tokens.
type AuthService interface {
	Login(ctx context.Context, req LoginRequest) (*TokenResponse, error)
	CreateUser(ctx context.Context, req CreateUserRequest) (*model.User, error)
}

type authService struct {
	users  repository.UserRepository
	roles  RoleService
	issuer *auth.TokenIssuer
}

func NewAuthService(users repository.UserRepository, roles RoleService, issuer *auth.TokenIssuer) AuthService {
	return &authService{users: users, roles: roles, issuer: issuer}
}

// Login accepts either the email or the username in Email.
func (s *authService) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	login := strings.TrimSpace(req.Email)
	var (
		user *model.User
		err  error
	)
	if strings.Contains(login, "@") {
		user, err = s.users.GetByEmail(ctx, strings.ToLower(login))
	} else {
		user, err = s.users.GetByUsername(ctx, login)
	}
	if err != nil || !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	perms, levels, err := s.roles.Capabilities(ctx, user.TenantID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("resolve role %q: %w", user.Role, err)
	}
	p := &auth.Principal{
		User:        user.ID,
		Tenant:      user.TenantID,
		Username:    user.Username,
		Role:        user.Role,
		Permissions: perms,
		Levels:      levels,
	}
	token, expires, err := s.issuer.Issue(p)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &TokenResponse{Token: token, ExpiresAt: expires, Principal: p}, nil
}

func (s *authService) CreateUser(ctx context.Context, req CreateUserRequest) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, invalid("email", "already registered")
	}
	if _, err := s.users.GetByUsername(ctx, req.Username); err == nil {
		return nil, invalid("username", "already taken")
	}
	if len(req.Password) < 6 {
		return nil, invalid("password", "must be at least 6 characters")
	}
	if _, _, err := s.roles.Capabilities(ctx, req.TenantID, req.Role); err != nil {
		return nil, invalid("role", "unknown role %q", req.Role)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &model.User{
		TenantID: req.TenantID,
		Username: req.Username,
		Email:    email,
		Password: string(hashed),
		Role:     req.Role,
		IsActive: true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}
