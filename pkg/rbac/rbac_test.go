package rbac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission("", PermissionExecuteTask))
	assert.True(t, HasPermission(RoleUser, PermissionWriteHabit))
	assert.False(t, HasPermission(RoleUser, PermissionReplayOutbox))
	assert.True(t, HasPermission(RoleAdmin, PermissionReplayOutbox))
	assert.True(t, HasPermission(RoleAdmin, PermissionRunWorkflow))
	assert.False(t, HasPermission("guest", PermissionReadTask))
}

func TestCheckPermission(t *testing.T) {
	err := CheckPermission("u1", RoleUser, PermissionReplayOutbox)
	var denied *PermissionDeniedError
	if assert.True(t, errors.As(err, &denied)) {
		assert.Equal(t, "u1", denied.UserID)
		assert.Equal(t, PermissionReplayOutbox, denied.Permission)
	}
	assert.NoError(t, CheckPermission("u1", RoleAdmin, PermissionReplayOutbox))
}
