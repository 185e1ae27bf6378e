package rbac

// 权限常量
const (
	PermissionReadTimeline   = "timeline:read"
	PermissionUpdateTimeline = "timeline:update"
	PermissionDeleteTimeline = "timeline:delete"
)

// 角色常量
const (
	RoleViewer = "viewer"
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleViewer: {
		PermissionReadTimeline,
	},
	RoleMember: {
		PermissionReadTimeline,
		PermissionUpdateTimeline,
	},
	RoleAdmin: {
		PermissionReadTimeline,
		PermissionUpdateTimeline,
		PermissionDeleteTimeline,
	},
}

// NormalizeRole token 中没有角色或角色未知时按 member 处理
func NormalizeRole(role string) string {
	if _, ok := rolePermissions[role]; ok {
		return role
	}
	return RoleMember
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[NormalizeRole(role)] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       NormalizeRole(role),
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission
}
