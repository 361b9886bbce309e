package account_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sita/internal/service/account"
	"sita/internal/store/memory"
	"sita/pkg/rbac"
	"sita/pkg/util"
)

const secret = "test-secret"

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := account.NewService(memory.New(), secret, time.Hour, zap.NewNop())

	u, err := svc.Register(ctx, " ada@example.com ", "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, rbac.RoleUser, u.Role)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	_, err = svc.Register(ctx, "ADA@example.com", "another password")
	assert.ErrorIs(t, err, account.ErrEmailTaken)

	token, err := svc.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	claims, err := util.ParseJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, rbac.RoleUser, claims.Role)

	_, err = svc.Login(ctx, "ada@example.com", "wrong password")
	assert.ErrorIs(t, err, account.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, account.ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	svc := account.NewService(memory.New(), secret, time.Hour, zap.NewNop())

	_, err := svc.Register(context.Background(), "not-an-email", "long enough")
	assert.ErrorIs(t, err, account.ErrInvalidInput)
	_, err = svc.Register(context.Background(), "bob@example.com", "short")
	assert.ErrorIs(t, err, account.ErrInvalidInput)
}
