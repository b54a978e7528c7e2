package api

type (
	// Permission is the access level granted to an admin user
	Permission string

	// User is an authenticated admin API identity
	User struct {
		Username    string     `json:"username"`
		Permissions Permission `json:"permissions"`
	}
)

const (
	PermissionRead Permission = "read"
	PermissionAll  Permission = "*"
)

// Anonymous is the identity of every caller when admin auth is not
// configured
var Anonymous = &User{Permissions: PermissionAll}

// IsValid reports whether the permission is one of the known grants
func (p Permission) IsValid() bool {
	return p == PermissionRead || p == PermissionAll
}

// CanWrite reports whether the user may perform mutating operations
func (u *User) CanWrite() bool {
	return u != nil && u.Permissions == PermissionAll
}

// CanRead reports whether the user may perform read-only operations
func (u *User) CanRead() bool {
	return u != nil && u.Permissions.IsValid()
}
