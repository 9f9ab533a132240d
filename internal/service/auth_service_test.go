package service

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/fix-delete-modules/internal/models"
	appErrors "github.com/noah-isme/fix-delete-modules/pkg/errors"
)

func newAuthServiceForTest() *AuthService {
	return NewAuthService(validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret: "test-secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "fixdeletemodules",
	})
}

func TestAuthServiceIssueAndValidate(t *testing.T) {
	svc := newAuthServiceForTest()

	resp, err := svc.IssueToken(models.TokenRequest{Subject: "ops", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.WithinDuration(t, resp.IssuedAt.Add(time.Hour), resp.ExpiresAt, time.Second)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestAuthServiceIssueTokenValidation(t *testing.T) {
	svc := newAuthServiceForTest()

	_, err := svc.IssueToken(models.TokenRequest{Subject: "ops", Role: "root"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.IssueToken(models.TokenRequest{Role: models.RoleViewer})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthServiceRejectsForeignTokens(t *testing.T) {
	svc := newAuthServiceForTest()
	other := NewAuthService(nil, nil, AuthConfig{AccessTokenSecret: "another-secret", Issuer: "fixdeletemodules"})

	resp, err := other.IssueToken(models.TokenRequest{Subject: "ops", Role: models.RoleAdmin})
	require.NoError(t, err)

	_, err = svc.ValidateToken(resp.AccessToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceRejectsExpiredTokens(t *testing.T) {
	svc := newAuthServiceForTest()
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	resp, err := svc.IssueToken(models.TokenRequest{Subject: "ops", Role: models.RoleViewer})
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(resp.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
