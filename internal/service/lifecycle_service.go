package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/nerolab/alas-console/internal/config"
	"github.com/nerolab/alas-console/internal/deployconf"
	"github.com/nerolab/alas-console/internal/docker"
	"github.com/nerolab/alas-console/internal/models"
)

var (
	ErrAlreadyDeployed = errors.New("instance already has a container")
	ErrNotDeployed     = errors.New("instance has no container")
)

// ContainerDriver is the engine surface the orchestrator needs.
type ContainerDriver interface {
	Create(ctx context.Context, opts docker.CreateOptions) (string, int, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	Remove(ctx context.Context, id string, purgeVolumes bool) error
	Inspect(ctx context.Context, id string) (*docker.ContainerState, error)
}

// URLNegotiator obtains a public address for an instance's config directory.
type URLNegotiator interface {
	RemoteURL(configPath string) (string, error)
}

// InstanceStore is the persistence surface the orchestrator writes through.
// The orchestrator is the sole writer of the container fields.
type InstanceStore interface {
	GetByID(ctx context.Context, id string) (*models.Instance, error)
	SetContainer(ctx context.Context, id string, info *models.ContainerInfo) error
	ClearContainer(ctx context.Context, id string) error
	UpdateContainerStatus(ctx context.Context, id, status string) error
	UpdateURL(ctx context.Context, id, url string) error
}

// ActionLog records an instance's operation trail.
type ActionLog interface {
	LogAction(ctx context.Context, instanceID, action, status, message string)
}

// LifecycleService sequences container provisioning, config seeding, tunnel
// negotiation and restart-to-apply for instances. Administrative callers
// are expected to issue one action per instance at a time; there is no
// per-instance lock.
type LifecycleService struct {
	cfg        *config.Config
	instances  InstanceStore
	driver     ContainerDriver
	negotiator URLNegotiator
	audit      ActionLog
}

func NewLifecycleService(
	cfg *config.Config,
	instances InstanceStore,
	driver ContainerDriver,
	negotiator URLNegotiator,
	audit ActionLog,
) *LifecycleService {
	return &LifecycleService{
		cfg:        cfg,
		instances:  instances,
		driver:     driver,
		negotiator: negotiator,
		audit:      audit,
	}
}

// Deploy provisions a container for an undeployed instance.
//
// Container creation failure is fatal: the just-created config directory is
// removed and the error surfaces to the caller. Tunnel negotiation failure
// is not: the container existing outweighs the URL being pending, so the
// deploy still succeeds with the URL unset.
func (s *LifecycleService) Deploy(ctx context.Context, instanceID string) (*models.DeployResponse, error) {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Deployed() {
		return nil, ErrAlreadyDeployed
	}

	containerName := fmt.Sprintf("%s_%d", s.cfg.Docker.ContainerPrefix, time.Now().Unix())
	instanceDir := filepath.Join(s.cfg.Docker.BasePath, containerName)
	configPath := filepath.Join(instanceDir, "config")

	if err := os.MkdirAll(configPath, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	if err := deployconf.EnsureSeeded(configPath, s.cfg.Tunnel.TemplatePath, s.cfg.Tunnel.UserPrefix); err != nil {
		// Seeding is a head start, not a requirement; the negotiator can
		// still resolve or generate the identity later.
		log.Printf("[lifecycle] Pre-seeding %s failed: %v", configPath, err)
	}

	log.Printf("[lifecycle] Deploying instance %s as %s", instanceID, containerName)
	containerID, hostPort, err := s.driver.Create(ctx, docker.CreateOptions{
		Name:         containerName,
		Image:        s.cfg.Docker.Image,
		InternalPort: s.cfg.Docker.InternalPort,
		Binds: []string{
			configPath + ":" + s.cfg.Docker.ConfigMount + ":rw",
			"/etc/localtime:/etc/localtime:ro",
		},
	})
	if err != nil {
		if rmErr := os.RemoveAll(instanceDir); rmErr != nil {
			log.Printf("[lifecycle] Could not clean up %s: %v", instanceDir, rmErr)
		}
		s.audit.LogAction(ctx, instanceID, "deploy", "failed", err.Error())
		return nil, err
	}

	info := &models.ContainerInfo{
		ContainerID:   containerID,
		ContainerName: containerName,
		ConfigPath:    configPath,
		HostPort:      hostPort,
		Status:        models.ContainerStatusRunning,
	}
	if err := s.instances.SetContainer(ctx, instanceID, info); err != nil {
		return nil, fmt.Errorf("persist container fields: %w", err)
	}
	s.audit.LogAction(ctx, instanceID, "deploy", "succeeded",
		fmt.Sprintf("Container %s created on host port %d", containerName, hostPort))

	resp := &models.DeployResponse{
		InstanceID:    instanceID,
		ContainerID:   containerID,
		ContainerName: containerName,
		ConfigPath:    configPath,
		HostPort:      hostPort,
	}

	url, err := s.negotiateAndApply(ctx, instanceID, containerID, configPath)
	if err != nil {
		log.Printf("[lifecycle] URL pending for instance %s: %v", instanceID, err)
		s.audit.LogAction(ctx, instanceID, "tunnel", "failed", err.Error())
		return resp, nil
	}
	resp.URL = &url

	return resp, nil
}

// Start starts an instance's container.
func (s *LifecycleService) Start(ctx context.Context, instanceID string) error {
	inst, err := s.deployed(ctx, instanceID)
	if err != nil {
		return err
	}
	if err := s.driver.Start(ctx, *inst.ContainerID); err != nil {
		s.audit.LogAction(ctx, instanceID, "start", "failed", err.Error())
		return err
	}
	s.audit.LogAction(ctx, instanceID, "start", "succeeded", "")
	return s.instances.UpdateContainerStatus(ctx, instanceID, models.ContainerStatusRunning)
}

// Stop stops an instance's container.
func (s *LifecycleService) Stop(ctx context.Context, instanceID string) error {
	inst, err := s.deployed(ctx, instanceID)
	if err != nil {
		return err
	}
	if err := s.driver.Stop(ctx, *inst.ContainerID); err != nil {
		s.audit.LogAction(ctx, instanceID, "stop", "failed", err.Error())
		return err
	}
	s.audit.LogAction(ctx, instanceID, "stop", "succeeded", "")
	return s.instances.UpdateContainerStatus(ctx, instanceID, models.ContainerStatusStopped)
}

// Restart restarts an instance's container.
func (s *LifecycleService) Restart(ctx context.Context, instanceID string) error {
	inst, err := s.deployed(ctx, instanceID)
	if err != nil {
		return err
	}
	if err := s.driver.Restart(ctx, *inst.ContainerID); err != nil {
		s.audit.LogAction(ctx, instanceID, "restart", "failed", err.Error())
		return err
	}
	s.audit.LogAction(ctx, instanceID, "restart", "succeeded", "")
	return s.instances.UpdateContainerStatus(ctx, instanceID, models.ContainerStatusRunning)
}

// Remove removes an instance's container and clears its container fields.
// A driver failure leaves all fields untouched.
func (s *LifecycleService) Remove(ctx context.Context, instanceID string, purgeVolumes bool) error {
	inst, err := s.deployed(ctx, instanceID)
	if err != nil {
		return err
	}

	if err := s.driver.Remove(ctx, *inst.ContainerID, purgeVolumes); err != nil {
		s.audit.LogAction(ctx, instanceID, "remove", "failed", err.Error())
		return err
	}

	if err := s.instances.ClearContainer(ctx, instanceID); err != nil {
		return fmt.Errorf("clear container fields: %w", err)
	}
	s.audit.LogAction(ctx, instanceID, "remove", "succeeded", "")

	if s.cfg.Docker.RemoveConfigDir && inst.ConfigPath != nil {
		instanceDir := filepath.Dir(*inst.ConfigPath)
		if err := os.RemoveAll(instanceDir); err != nil {
			log.Printf("[lifecycle] Could not remove config directory %s: %v", instanceDir, err)
		}
	}
	return nil
}

// UpdateURL re-negotiates the instance's public URL. A container restart
// is issued afterwards so the applied identity takes effect; restart
// failure does not fail the operation, the URL is already persisted.
func (s *LifecycleService) UpdateURL(ctx context.Context, instanceID string) (string, error) {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if inst.ConfigPath == nil || *inst.ConfigPath == "" {
		return "", ErrNotDeployed
	}

	url, err := s.negotiator.RemoteURL(*inst.ConfigPath)
	if err != nil {
		s.audit.LogAction(ctx, instanceID, "update_url", "failed", err.Error())
		return "", err
	}

	if err := s.instances.UpdateURL(ctx, instanceID, url); err != nil {
		return "", fmt.Errorf("persist url: %w", err)
	}
	s.audit.LogAction(ctx, instanceID, "update_url", "succeeded", url)

	if inst.Deployed() {
		if err := s.driver.Restart(ctx, *inst.ContainerID); err != nil {
			log.Printf("[lifecycle] Restart after URL update failed for %s: %v", instanceID, err)
		}
	}
	return url, nil
}

// Status inspects the live container and mirrors the engine-reported state
// into storage.
func (s *LifecycleService) Status(ctx context.Context, instanceID string) (*models.ContainerStatusResponse, error) {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !inst.Deployed() {
		return &models.ContainerStatusResponse{
			InstanceID:   instanceID,
			HasContainer: false,
			Message:      "instance has no container",
		}, nil
	}

	state, err := s.driver.Inspect(ctx, *inst.ContainerID)
	if err != nil {
		return nil, err
	}

	if err := s.instances.UpdateContainerStatus(ctx, instanceID, state.Status); err != nil {
		log.Printf("[lifecycle] Could not persist status for %s: %v", instanceID, err)
	}

	return &models.ContainerStatusResponse{
		InstanceID:   instanceID,
		HasContainer: true,
		ContainerID:  state.ID,
		Status:       state.Status,
		CreatedAt:    state.Created,
	}, nil
}

func (s *LifecycleService) negotiateAndApply(ctx context.Context, instanceID, containerID, configPath string) (string, error) {
	url, err := s.negotiator.RemoteURL(configPath)
	if err != nil {
		return "", err
	}

	if err := s.instances.UpdateURL(ctx, instanceID, url); err != nil {
		return "", fmt.Errorf("persist url: %w", err)
	}
	s.audit.LogAction(ctx, instanceID, "tunnel", "succeeded", url)

	// Restart so the container picks up the negotiated identity.
	log.Printf("[lifecycle] URL acquired (%s), restarting container %s", url, containerID)
	if err := s.driver.Restart(ctx, containerID); err != nil {
		log.Printf("[lifecycle] Restart after deploy failed for %s: %v", instanceID, err)
	}
	return url, nil
}

func (s *LifecycleService) deployed(ctx context.Context, instanceID string) (*models.Instance, error) {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !inst.Deployed() {
		return nil, ErrNotDeployed
	}
	return inst, nil
}
