package models

import "time"

// Container status constants (mirror the engine's reported state)
const (
	ContainerStatusCreated = "created"
	ContainerStatusRunning = "running"
	ContainerStatusStopped = "stopped"
	ContainerStatusRemoved = "removed"
)

// Health status constants (written only by the health sweep)
const (
	HealthUnknown   = "unknown"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// Instance pairs a logical name/URL with an optional backing container.
//
// ContainerID, ContainerName, ConfigPath and HostPort are set and cleared
// together: either the instance has a deployed container and all four are
// non-nil, or it has none and all four are nil. URL may exist independently
// of a container (it can be set manually before a deploy).
type Instance struct {
	ID          string
	Name        string
	URL         *string
	Description *string

	ContainerID     *string
	ContainerName   *string
	ConfigPath      *string
	HostPort        *int
	ContainerStatus string

	HealthStatus    string
	LastHealthCheck *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Deployed reports whether the instance has a backing container.
func (i *Instance) Deployed() bool {
	return i.ContainerID != nil && *i.ContainerID != ""
}

// ContainerInfo carries the container fields produced by a deploy.
type ContainerInfo struct {
	ContainerID   string
	ContainerName string
	ConfigPath    string
	HostPort      int
	Status        string
}

// HealthResult is one instance's verdict from a sweep.
type HealthResult struct {
	InstanceID string
	Status     string
	CheckedAt  time.Time
}

// AuditEntry is one row of an instance's operation trail.
type AuditEntry struct {
	ID         string
	InstanceID string
	Action     string
	Status     string
	Message    string
	CreatedAt  time.Time
}
