package rbac

// 权限常量
const (
	PermissionExecuteTask   = "task:execute"
	PermissionQueueTask     = "task:queue"
	PermissionReadTask      = "task:read"
	PermissionCancelTask    = "task:cancel"
	PermissionDeleteTask    = "task:delete"
	PermissionRunWorkflow   = "workflow:run"
	PermissionWriteWorkflow = "workflow:write"
	PermissionReadHabit     = "habit:read"
	PermissionWriteHabit    = "habit:write"

	// 管理员权限
	PermissionReplayOutbox = "admin:outbox"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var userPermissions = []string{
	PermissionExecuteTask,
	PermissionQueueTask,
	PermissionReadTask,
	PermissionCancelTask,
	PermissionDeleteTask,
	PermissionRunWorkflow,
	PermissionWriteWorkflow,
	PermissionReadHabit,
	PermissionWriteHabit,
}

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUser:  userPermissions,
	RoleAdmin: append(append([]string{}, userPermissions...), PermissionReplayOutbox),
}

// NormalizeRole 空角色视为普通用户
func NormalizeRole(role string) string {
	if role == "" {
		return RoleUser
	}
	return role
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	permissions, ok := rolePermissions[NormalizeRole(role)]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查权限（返回错误而不是布尔值，便于处理）
func CheckPermission(userID, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission
}
