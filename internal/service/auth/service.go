package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/creditledger/internal/domain"
	"github.com/splax/creditledger/internal/repository"
	"github.com/splax/creditledger/pkg/config"
	"github.com/splax/creditledger/pkg/crypto"
	jwtpkg "github.com/splax/creditledger/pkg/jwt"
)

// ErrTokenRequired is returned when Authorize receives an empty token.
var ErrTokenRequired = errors.New("token required")

const (
	minPasswordLength = 8
	// bcrypt only accepts inputs up to 72 bytes.
	maxPasswordLength = 72
)

// Service handles registration, login and bearer-token checks.
type Service struct {
	accounts repository.AccountRepository
	logger   *slog.Logger
	cfg      config.APIConfig
}

// New constructs a Service.
func New(accounts repository.AccountRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{accounts: accounts, logger: logger, cfg: cfg}
}

// Session is the result of a successful signup or login.
type Session struct {
	Account   *domain.Account
	Token     string
	ExpiresIn time.Duration
}

// Signup registers a new account with a zero credit balance.
func (s Service) Signup(ctx context.Context, name, email, password string) (*Session, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || password == "" {
		return nil, domain.ErrMissingParameters
	}
	if !strings.Contains(email, "@") {
		return nil, &domain.Error{Kind: domain.KindMissingParameters, Msg: "Enter a valid email"}
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return nil, &domain.Error{Kind: domain.KindMissingParameters, Msg: "Enter a strong password"}
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	account := &domain.Account{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, domain.ErrEmailTaken
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	session, err := s.issue(account)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account registered", "account_id", account.ID)
	return session, nil
}

// Login authenticates an account by email and password.
func (s Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, domain.ErrMissingParameters
	}
	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if err := crypto.ComparePassword(account.PasswordHash, password); err != nil {
		if errors.Is(err, crypto.ErrPasswordMismatch) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("compare password: %w", err)
	}
	session, err := s.issue(account)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account logged in", "account_id", account.ID)
	return session, nil
}

// Authorize validates a bearer token and returns the associated account and claims.
func (s Service) Authorize(ctx context.Context, token string) (*domain.Account, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, ErrTokenRequired
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, nil, err
	}
	account, err := s.accounts.GetAccountByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	return account, claims, nil
}

func (s Service) issue(account *domain.Account) (*Session, error) {
	token, err := jwtpkg.GenerateToken(account.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Account: account, Token: token, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}
