package models

import "time"

// ===== Auth =====

// LoginRequest is the login payload
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest carries a refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenResponse is returned by login and refresh
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// ChangePasswordRequest is the self-service password change payload
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// ===== Users =====

// CreateUserRequest is the admin user-creation payload
type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role" binding:"omitempty,oneof=admin user"`
}

// UpdateUserRequest is the admin user-update payload; nil fields are untouched
type UpdateUserRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	Role     *string `json:"role" binding:"omitempty,oneof=admin user"`
}

// UserResponse is the public view of a user
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserWithInstances adds the IDs of the instances granted to the user
type UserWithInstances struct {
	UserResponse
	InstanceIDs []string `json:"instance_ids"`
}

// ===== Instances =====

// CreateInstanceRequest is the admin instance-creation payload
type CreateInstanceRequest struct {
	Name        string  `json:"name" binding:"required"`
	URL         *string `json:"url"`
	Description *string `json:"description"`
}

// UpdateInstanceRequest is the admin instance-update payload; nil fields are untouched
type UpdateInstanceRequest struct {
	Name        *string `json:"name"`
	URL         *string `json:"url"`
	Description *string `json:"description"`
}

// InstanceResponse is the full view of an instance
type InstanceResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	URL             *string    `json:"url"`
	Description     *string    `json:"description"`
	ContainerID     *string    `json:"container_id"`
	ContainerName   *string    `json:"container_name"`
	ConfigPath      *string    `json:"config_path"`
	HostPort        *int       `json:"host_port"`
	ContainerStatus string     `json:"container_status"`
	HealthStatus    string     `json:"health_status"`
	LastHealthCheck *time.Time `json:"last_health_check"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AssignInstancesRequest replaces a user's full instance grant set
type AssignInstancesRequest struct {
	InstanceIDs []string `json:"instance_ids" binding:"required"`
}

// ===== Containers =====

// DeployResponse is returned by a successful deploy
type DeployResponse struct {
	InstanceID    string  `json:"instance_id"`
	ContainerID   string  `json:"container_id"`
	ContainerName string  `json:"container_name"`
	ConfigPath    string  `json:"config_path"`
	HostPort      int     `json:"host_port"`
	URL           *string `json:"url"`
}

// ContainerStatusResponse is the live engine view of an instance's container
type ContainerStatusResponse struct {
	InstanceID   string `json:"instance_id"`
	HasContainer bool   `json:"has_container"`
	ContainerID  string `json:"container_id,omitempty"`
	Status       string `json:"status,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	Message      string `json:"message,omitempty"`
}

// UpdateConfigRequest carries raw deploy.yaml content
type UpdateConfigRequest struct {
	Content string `json:"content" binding:"required"`
}

// NewUserResponse converts a User to its public view
func NewUserResponse(u *User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// NewInstanceResponse converts an Instance to its API view
func NewInstanceResponse(i *Instance) InstanceResponse {
	return InstanceResponse{
		ID:              i.ID,
		Name:            i.Name,
		URL:             i.URL,
		Description:     i.Description,
		ContainerID:     i.ContainerID,
		ContainerName:   i.ContainerName,
		ConfigPath:      i.ConfigPath,
		HostPort:        i.HostPort,
		ContainerStatus: i.ContainerStatus,
		HealthStatus:    i.HealthStatus,
		LastHealthCheck: i.LastHealthCheck,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
	}
}
