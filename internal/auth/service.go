package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"freelance-erp/internal/log"
	"freelance-erp/internal/storage"
)

var (
	ErrMissingAPIKey      = errors.New("missing API key")
	ErrUnknownAPIKey      = errors.New("unknown API key")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// RoleAdmin is given to the seeded user.
const RoleAdmin = "admin"

// UserStore is the user side of the repository.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash, email, role string) (storage.User, error)
	GetUserByUsername(ctx context.Context, username string) (storage.User, error)
	GetUserByID(ctx context.Context, id int64) (storage.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	CountUsers(ctx context.Context) (int, error)
}

// APIKeys is the allow-list of tenant keys.
type APIKeys struct {
	keys []string
}

func NewAPIKeys(keys []string) *APIKeys {
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	return &APIKeys{keys: clean}
}

// Check returns ErrMissingAPIKey for an empty key and ErrUnknownAPIKey for
// one outside the list.
func (a *APIKeys) Check(key string) error {
	if key == "" {
		return ErrMissingAPIKey
	}
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return nil
		}
	}
	return ErrUnknownAPIKey
}

func (a *APIKeys) Len() int { return len(a.keys) }

// TenantForUser is the document key of a web user.
func TenantForUser(id int64) string {
	return "user_" + strconv.FormatInt(id, 10)
}

// Service signs users in and manages their passwords.
type Service struct {
	users  UserStore
	tokens *Tokens
	logger *log.Logger
}

func NewService(users UserStore, tokens *Tokens, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Service{users: users, tokens: tokens, logger: logger.WithComponent(log.ComponentAuth)}
}

func (s *Service) Tokens() *Tokens { return s.tokens }

// Session is what a successful login hands back to the transport.
type Session struct {
	User    storage.User
	Token   string
	Expires int64
}

// Login checks credentials and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, storage.ErrUserNotFound) {
		s.logger.WarnContext(ctx, "Login failed", log.FieldUser, username)
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(user.PasswordHash, password) {
		s.logger.WarnContext(ctx, "Login failed", log.FieldUser, username)
		return Session{}, ErrInvalidCredentials
	}
	token, expires, err := s.tokens.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		return Session{}, err
	}
	s.logger.InfoContext(ctx, "User logged in", log.FieldUser, user.Username)
	return Session{User: user, Token: token, Expires: expires.Unix()}, nil
}

// Authenticate resolves a session token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (storage.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return storage.User{}, err
	}
	id, _ := claims.UserID()
	user, err := s.users.GetUserByID(ctx, id)
	if errors.Is(err, storage.ErrUserNotFound) {
		return storage.User{}, fmt.Errorf("%w: user %d no longer exists", ErrInvalidToken, id)
	}
	return user, err
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if err := validateNewPassword(next); err != nil {
		return err
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.logger.InfoContext(ctx, "Password changed", log.FieldUser, user.Username)
	return nil
}

// CreateUser hashes password and stores a new user.
func (s *Service) CreateUser(ctx context.Context, username, password, email, role string) (storage.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return storage.User{}, errors.New("username is required")
	}
	if err := validateNewPassword(password); err != nil {
		return storage.User{}, err
	}
	if role == "" {
		role = "user"
	}
	hash, err := HashPassword(password)
	if err != nil {
		return storage.User{}, err
	}
	return s.users.CreateUser(ctx, username, hash, email, role)
}

// SeedAdmin creates the default admin when no user exists yet. It reports
// whether a user was created.
func (s *Service) SeedAdmin(ctx context.Context, username, password, email string) (bool, error) {
	n, err := s.users.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	if _, err := s.users.CreateUser(ctx, username, hash, email, RoleAdmin); err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	s.logger.WarnContext(ctx, "Default admin user created, change its password", log.FieldUser, username)
	return true, nil
}
