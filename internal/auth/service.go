package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/config"
)

type Permission string

const (
	PermOperator   Permission = "operator"
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
)

const (
	maxFailedAttempts = 5
	lockoutDuration   = 5 * time.Minute
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
)

// Identity is the caller behind a validated token.
type Identity struct {
	Username    string       `json:"username"`
	Role        string       `json:"role"`
	Permissions []Permission `json:"permissions"`
}

type lockout struct {
	failures    int
	lockedUntil time.Time
}

// AuthService authenticates the operators listed in the configuration.
type AuthService struct {
	enabled        bool
	operators      map[string]config.OperatorConfig
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	logger         *zap.Logger

	mu       sync.Mutex
	failures map[string]*lockout
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) (*AuthService, error) {
	operators := make(map[string]config.OperatorConfig, len(cfg.Operators))
	for _, op := range cfg.Operators {
		switch Permission(op.Role) {
		case PermOperator, PermTechnician, PermAdmin:
		default:
			return nil, fmt.Errorf("operator %q: unknown role %q", op.Username, op.Role)
		}
		if op.Username == "" || op.PasswordHash == "" {
			return nil, fmt.Errorf("operator %q: username and password_hash are required", op.Username)
		}
		operators[op.Username] = op
	}

	if cfg.Enabled && !cfg.IsProductionReady() {
		logger.Warn("Using development JWT secret", zap.String("env", cfg.JWTSecretEnv))
	}

	return &AuthService{
		enabled:        cfg.Enabled,
		operators:      operators,
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(),
		logger:         logger,
		failures:       make(map[string]*lockout),
	}, nil
}

// Enabled reports whether requests must carry a token.
func (a *AuthService) Enabled() bool {
	return a != nil && a.enabled
}

// Login checks the password and issues an access token.
func (a *AuthService) Login(username, password, ipAddress string) (string, time.Time, error) {
	if until, locked := a.lockedUntil(username); locked {
		a.logger.Warn("Login refused, account locked",
			zap.String("username", username),
			zap.String("ip", ipAddress))
		return "", time.Time{}, fmt.Errorf("%w until %s", ErrAccountLocked, until.Format(time.RFC3339))
	}

	op, ok := a.operators[username]
	if !ok {
		a.logger.Warn("Login failed", zap.String("username", username), zap.String("ip", ipAddress), zap.String("reason", "unknown operator"))
		return "", time.Time{}, ErrInvalidCredentials
	}

	valid, err := a.passwordHasher.VerifyPassword(password, op.PasswordHash)
	if err != nil || !valid {
		a.recordFailure(username)
		a.logger.Warn("Login failed", zap.String("username", username), zap.String("ip", ipAddress), zap.String("reason", "invalid password"))
		return "", time.Time{}, ErrInvalidCredentials
	}
	a.resetFailures(username)
	if a.passwordHasher.NeedsRehash(op.PasswordHash) {
		a.logger.Warn("Operator password hash is below the current cost, regenerate it with hashpw",
			zap.String("username", username))
	}

	token, expires, err := a.jwtHandler.GenerateAccessToken(op.Username, op.Role)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logger.Info("Operator logged in", zap.String("username", username), zap.String("role", op.Role))
	return token, expires, nil
}

// ValidateToken returns the identity of a valid token. Tokens of operators
// removed from the configuration are refused.
func (a *AuthService) ValidateToken(token string) (*Identity, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	op, ok := a.operators[claims.Username]
	if !ok || op.Role != claims.Role {
		return nil, ErrInvalidCredentials
	}
	return &Identity{
		Username:    claims.Username,
		Role:        claims.Role,
		Permissions: RoleToPermissions(claims.Role),
	}, nil
}

func RoleToPermissions(role string) []Permission {
	switch Permission(role) {
	case PermAdmin:
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case PermTechnician:
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

func (a *AuthService) lockedUntil(username string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.failures[username]
	if !ok || time.Now().After(l.lockedUntil) {
		return time.Time{}, false
	}
	return l.lockedUntil, true
}

func (a *AuthService) recordFailure(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.failures[username]
	if !ok {
		l = &lockout{}
		a.failures[username] = l
	}
	l.failures++
	if l.failures >= maxFailedAttempts {
		l.lockedUntil = time.Now().Add(lockoutDuration)
		l.failures = 0
	}
}

func (a *AuthService) resetFailures(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.failures, username)
}
