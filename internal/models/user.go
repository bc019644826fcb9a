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
	RoleOwner   Role = "owner"
	RoleDevice  Role = "device"
	RoleViewer  Role = "viewer"
)

// Actions checked by the permission middleware.
const (
	ActionIngestTelemetry  = "ingest_telemetry"
	ActionViewTelemetry    = "view_telemetry"
	ActionViewStatistics   = "view_statistics"
	ActionViewAlerts       = "view_alerts"
	ActionViewThresholds   = "view_thresholds"
	ActionManageThresholds = "manage_thresholds"
	ActionManageVehicles   = "manage_vehicles"
	ActionManageUsers      = "manage_users"
)

// User represents a user in the system. Vehicle owners receive the alerts
// raised for their vehicles.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username     string             `bson:"username" json:"username"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	Role         Role               `bson:"role" json:"role"`
	FirstName    string             `bson:"first_name" json:"first_name"`
	LastName     string             `bson:"last_name" json:"last_name"`
	IsActive     bool               `bson:"is_active" json:"is_active"`
	LastLogin    *time.Time         `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `json:"role"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Claims represents JWT claims. DeviceID is only set for device tokens.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	DeviceID string `json:"device_id,omitempty"`
	Exp      int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleOwner, RoleDevice, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role may perform an action
func (r Role) HasPermission(action string) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleManager:
		return action != ActionManageUsers
	case RoleOwner:
		return action == ActionIngestTelemetry || action == ActionViewTelemetry ||
			action == ActionViewStatistics || action == ActionViewAlerts ||
			action == ActionViewThresholds || action == ActionManageVehicles
	case RoleDevice:
		return action == ActionIngestTelemetry
	case RoleViewer:
		return action == ActionViewTelemetry || action == ActionViewStatistics ||
			action == ActionViewThresholds
	default:
		return false
	}
}

// HasPermission checks if a user has permission for a specific action
func (u *User) HasPermission(action string) bool {
	return u.Role.HasPermission(action)
}
