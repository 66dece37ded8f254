package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleDriver  Role = "driver"
)

// DefaultRole is cached for users whose document carries no role.
const DefaultRole = RoleDriver

// Permission actions checked by HasPermission.
const (
	ActionViewFleet      = "view_fleet"
	ActionManageFleet    = "manage_fleet"
	ActionRecordTracking = "record_tracking"
	ActionFileReport     = "file_report"
	ActionManageUsers    = "manage_users"
)

// User represents an account holder. UID is the account identifier every
// fleet record is scoped by.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UID          string             `bson:"uid" json:"uid"`
	Name         string             `bson:"name" json:"name"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"passwordHash,omitempty" json:"-"`
	Role         Role               `bson:"role" json:"role"`
	PhotoURL     string             `bson:"photoURL,omitempty" json:"photoURL,omitempty"`
	IsActive     bool               `bson:"isActive" json:"isActive"`
	LastLogin    *time.Time         `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// SignupRequest represents an email/password sign-up form
type SignupRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Role            Role   `json:"role"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by sign-up, login and refresh
type LoginResponse struct {
	Token string `json:"token"`
	Role  Role   `json:"role"`
	User  *User  `json:"user,omitempty"`
}

// Claims represents JWT claims
type Claims struct {
	ID     string `json:"jti,omitempty"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Exp    int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleDriver:
		return true
	default:
		return false
	}
}

// HasPermission checks if a user has permission for a specific action
func (u *User) HasPermission(action string) bool {
	return RoleAllows(u.Role, action)
}

// RoleAllows checks a role against an action without a user document.
func RoleAllows(role Role, action string) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action != ActionManageUsers
	case RoleDriver:
		return action == ActionViewFleet || action == ActionRecordTracking ||
			action == ActionFileReport
	default:
		return false
	}
}
