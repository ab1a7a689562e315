package users

import (
	"context"
	stderrors "errors"
	"regexp"
	"strings"

	"github.com/R3E-Network/agentchat/internal/app/auth"
	"github.com/R3E-Network/agentchat/internal/app/domain/user"
	"github.com/R3E-Network/agentchat/internal/app/storage"
	"github.com/R3E-Network/agentchat/internal/errors"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

const minPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Service registers, authenticates and manages users.
type Service struct {
	store  storage.UserStore
	tokens *auth.TokenIssuer
	log    *logger.Logger
}

// New constructs a user service. tokens may be nil, in which case Login
// returns no token.
func New(store storage.UserStore, tokens *auth.TokenIssuer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, tokens: tokens, log: log}
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Register validates the input and creates the user with a hashed password.
func (s *Service) Register(ctx context.Context, in RegisterInput) (user.User, error) {
	email := strings.TrimSpace(in.Email)
	fullName := strings.TrimSpace(in.FullName)

	if email == "" || fullName == "" || in.Password == "" {
		return user.User{}, errors.InvalidInput("Email, full name, and password are required")
	}
	if !emailPattern.MatchString(email) {
		return user.User{}, errors.InvalidInput("Invalid email format")
	}
	if len(in.Password) < minPasswordLength {
		return user.User{}, errors.InvalidInput("Password must be at least 6 characters long")
	}
	role, err := normalizeRole(in.Role)
	if err != nil {
		return user.User{}, err
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return user.User{}, errors.Conflict("Email already registered")
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return user.User{}, errors.Internal("Failed to register user", err)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return user.User{}, errors.Internal("Failed to register user", err)
	}

	created, err := s.store.CreateUser(ctx, user.User{
		FullName:     fullName,
		Email:        email,
		Role:         role,
		PasswordHash: hash,
	})
	if err != nil {
		return user.User{}, translate(err, "Failed to register user")
	}

	s.log.WithContext(ctx).
		WithField("user_id", created.ID).
		WithField("role", created.Role).
		Info("user registered")
	return created, nil
}

// Login checks the credentials. Unknown email and wrong password produce the
// same error.
func (s *Service) Login(ctx context.Context, email, password string) (user.User, string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return user.User{}, "", errors.InvalidInput("Email and password are required")
	}

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return user.User{}, "", errors.Unauthorized("Invalid email or password")
		}
		return user.User{}, "", errors.Internal("Login failed", err)
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		s.log.WithContext(ctx).WithField("user_id", u.ID).Warn("login rejected")
		return user.User{}, "", errors.Unauthorized("Invalid email or password")
	}

	var token string
	if s.tokens != nil {
		token, err = s.tokens.Issue(u)
		if err != nil {
			return user.User{}, "", errors.Internal("Login failed", err)
		}
	}
	return u, token, nil
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id int64) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, translate(err, "User not found")
	}
	return u, nil
}

// List returns every user.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, errors.Internal("Failed to list users", err)
	}
	return users, nil
}

// Update applies patch to the user identified by id.
func (s *Service) Update(ctx context.Context, id int64, patch user.Patch) (user.User, error) {
	if patch.Empty() {
		return user.User{}, errors.InvalidInput("No fields to update")
	}

	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, translate(err, "User not found")
	}

	if patch.FullName != nil {
		name := strings.TrimSpace(*patch.FullName)
		if name == "" {
			return user.User{}, errors.InvalidInput("Full name cannot be empty")
		}
		u.FullName = name
	}
	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		if !emailPattern.MatchString(email) {
			return user.User{}, errors.InvalidInput("Invalid email format")
		}
		if !strings.EqualFold(email, u.Email) {
			existing, err := s.store.GetUserByEmail(ctx, email)
			if err == nil && existing.ID != u.ID {
				return user.User{}, errors.Conflict("Email already registered")
			}
			if err != nil && !stderrors.Is(err, storage.ErrNotFound) {
				return user.User{}, errors.Internal("Failed to update user", err)
			}
		}
		u.Email = email
	}
	if patch.Role != nil {
		role, err := normalizeRole(*patch.Role)
		if err != nil {
			return user.User{}, err
		}
		u.Role = role
	}
	if patch.Password != nil {
		if len(*patch.Password) < minPasswordLength {
			return user.User{}, errors.InvalidInput("Password must be at least 6 characters long")
		}
		hash, err := auth.HashPassword(*patch.Password)
		if err != nil {
			return user.User{}, errors.Internal("Failed to update user", err)
		}
		u.PasswordHash = hash
	}

	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, translate(err, "Failed to update user")
	}
	s.log.WithContext(ctx).WithField("user_id", id).Info("user updated")
	return updated, nil
}

// Delete removes the user and the user's chat histories.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return translate(err, "User not found")
	}
	s.log.WithContext(ctx).WithField("user_id", id).Info("user deleted")
	return nil
}

func normalizeRole(role string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "", user.RoleUser:
		return user.RoleUser, nil
	case user.RoleAdmin:
		return user.RoleAdmin, nil
	default:
		return "", errors.InvalidInput("Invalid role")
	}
}

func translate(err error, message string) error {
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		return errors.NotFound("User not found")
	case stderrors.Is(err, storage.ErrConflict):
		return errors.Conflict("Email already registered")
	default:
		return errors.Internal(message, err)
	}
}
