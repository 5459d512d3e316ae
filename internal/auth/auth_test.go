package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/config"
)

func cheapHash(t *testing.T, password string) string {
	t.Helper()
	h, err := NewPasswordHasherWithCost(8*1024, 1).HashPassword(password)
	require.NoError(t, err)
	return h
}

func newService(t *testing.T, enabled bool) *AuthService {
	t.Helper()
	svc, err := NewAuthService(config.AuthConfig{
		Enabled:        enabled,
		AccessTokenTTL: time.Hour,
		Operators: []config.OperatorConfig{
			{Username: "alice", PasswordHash: cheapHash(t, "s3cret"), Role: "technician"},
			{Username: "bob", PasswordHash: cheapHash(t, "hunter2"), Role: "operator"},
		},
	}, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestPasswordRoundTrip(t *testing.T) {
	h := NewPasswordHasherWithCost(8*1024, 1)
	encoded, err := h.HashPassword("pa55")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$")

	ok, err := h.VerifyPassword("pa55", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyPassword("wrong", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.VerifyPassword("pa55", "$bcrypt$x")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = h.VerifyPassword("pa55", strings.Replace(encoded, "v=19", "v=16", 1))
	assert.ErrorIs(t, err, ErrHashVersion)
}

func TestNeedsRehash(t *testing.T) {
	cheap, err := NewPasswordHasherWithCost(8*1024, 1).HashPassword("pa55")
	require.NoError(t, err)

	assert.True(t, NewPasswordHasher().NeedsRehash(cheap))
	assert.False(t, NewPasswordHasherWithCost(8*1024, 1).NeedsRehash(cheap))
	assert.True(t, NewPasswordHasher().NeedsRehash("garbage"))
}

func TestLoginAndValidate(t *testing.T) {
	svc := newService(t, true)

	token, expires, err := svc.Login("alice", "s3cret", "127.0.0.1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	id, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, []Permission{PermOperator, PermTechnician}, id.Permissions)

	_, _, err = svc.Login("alice", "nope", "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login("mallory", "s3cret", "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.ValidateToken(token + "x")
	assert.Error(t, err)
}

func TestTokenFromOtherSecretRejected(t *testing.T) {
	svc := newService(t, true)
	forged, _, err := NewJWTHandler("another-secret-another-secret-32b", time.Hour).GenerateAccessToken("alice", "admin")
	require.NoError(t, err)

	_, err = svc.ValidateToken(forged)
	assert.Error(t, err)
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	svc := newService(t, true)
	for i := 0; i < maxFailedAttempts; i++ {
		_, _, err := svc.Login("bob", "wrong", "10.0.0.1")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, _, err := svc.Login("bob", "hunter2", "10.0.0.1")
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestUnknownRoleRejected(t *testing.T) {
	_, err := NewAuthService(config.AuthConfig{
		Operators: []config.OperatorConfig{{Username: "x", PasswordHash: "h", Role: "root"}},
	}, zap.NewNop())
	assert.Error(t, err)
}

func router(svc *AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/run", svc.AuthMiddleware(), RequirePermission(PermTechnician), func(c *gin.Context) {
		c.String(http.StatusOK, Username(c))
	})
	return r
}

func TestMiddleware(t *testing.T) {
	svc := newService(t, true)
	r := router(svc)

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/run", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do("").Code)
	assert.Equal(t, http.StatusUnauthorized, do("Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, do("Bearer abc").Code)

	bobToken, _, err := svc.Login("bob", "hunter2", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do("Bearer "+bobToken).Code)

	aliceToken, _, err := svc.Login("alice", "s3cret", "")
	require.NoError(t, err)
	w := do("Bearer " + aliceToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
}

func TestMiddlewareDisabled(t *testing.T) {
	r := router(newService(t, false))
	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
