package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/users"
	"go.uber.org/zap"
)

// TokenTypeBearer is the token_type reported to clients.
const TokenTypeBearer = "bearer"

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password alike.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	errMissingCredentialStore = errors.New("credential store dependency required")
	errMissingTokenIssuer     = errors.New("token issuer dependency required")
)

// CredentialStore is the subset of the user store needed to log in.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
	RejectPassword(raw string) error
}

// Token is the result of a successful login.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64
}

// AuthenticatorConfig wires the authenticator dependencies.
type AuthenticatorConfig struct {
	Credentials CredentialStore
	Tokens      *TokenIssuer
	Logger      *zap.Logger
}

// Authenticator verifies credentials and bearer tokens.
type Authenticator struct {
	credentials CredentialStore
	tokens      *TokenIssuer
	logger      *zap.Logger
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(cfg AuthenticatorConfig) (*Authenticator, error) {
	if cfg.Credentials == nil {
		return nil, errMissingCredentialStore
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{credentials: cfg.Credentials, tokens: cfg.Tokens, logger: logger}, nil
}

// Login checks email and password and issues a bearer token.
func (a *Authenticator) Login(ctx context.Context, email, rawPassword string) (Token, error) {
	user, err := a.credentials.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrUserNotFound) {
		_ = a.credentials.RejectPassword(rawPassword)
		return Token{}, ErrInvalidCredentials
	}
	if err != nil {
		return Token{}, fmt.Errorf("auth: credential lookup: %w", err)
	}
	if err := users.CheckPassword(user.PasswordHash, rawPassword); err != nil {
		return Token{}, ErrInvalidCredentials
	}

	accessToken, expiresIn, err := a.tokens.IssueToken(ctx, Identity{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	})
	if err != nil {
		a.logger.Error("failed to issue token", zap.Int64("user_id", user.ID), zap.Error(err))
		return Token{}, fmt.Errorf("auth: issue token: %w", err)
	}
	return Token{AccessToken: accessToken, TokenType: TokenTypeBearer, ExpiresIn: expiresIn}, nil
}

// Authenticate validates a bearer token and returns its claims.
func (a *Authenticator) Authenticate(token string) (Claims, error) {
	return a.tokens.ValidateToken(token)
}
