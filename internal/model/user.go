package model

import "time"

type Role string

const (
	RoleUser       Role = "user"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Identity is who is calling, as supplied by the auth layer.
type Identity struct {
	UserID int64
	Role   Role
}

func (i Identity) Privileged() bool {
	return i.Role == RoleAdmin
}
