package rbac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckPermission(t *testing.T) {
	assert.NoError(t, CheckPermission(RoleViewer, PermissionReadTimeline))
	assert.NoError(t, CheckPermission("", PermissionUpdateTimeline), "missing role defaults to member")
	assert.NoError(t, CheckPermission(RoleAdmin, PermissionDeleteTimeline))

	err := CheckPermission(RoleMember, PermissionDeleteTimeline)
	var denied *PermissionDeniedError
	if assert.True(t, errors.As(err, &denied)) {
		assert.Equal(t, RoleMember, denied.Role)
		assert.Equal(t, PermissionDeleteTimeline, denied.Permission)
	}

	assert.False(t, HasPermission(RoleViewer, PermissionUpdateTimeline))
}
