package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/nerolab/alas-console/internal/models"
	"github.com/nerolab/alas-console/internal/repository"
)

// InstanceService handles instance CRUD; the lifecycle service owns
// everything container-related.
type InstanceService struct {
	instances *repository.InstanceRepository
	lifecycle *LifecycleService
}

func NewInstanceService(instances *repository.InstanceRepository, lifecycle *LifecycleService) *InstanceService {
	return &InstanceService{instances: instances, lifecycle: lifecycle}
}

// List returns instances in creation order.
func (s *InstanceService) List(ctx context.Context, offset, limit int) ([]*models.Instance, error) {
	return s.instances.List(ctx, offset, limit)
}

// ListForUser returns the instances granted to a user.
func (s *InstanceService) ListForUser(ctx context.Context, userID string) ([]*models.Instance, error) {
	return s.instances.ListByUser(ctx, userID)
}

// Get returns one instance.
func (s *InstanceService) Get(ctx context.Context, id string) (*models.Instance, error) {
	return s.instances.GetByID(ctx, id)
}

// Create registers a new instance. With autoDeploy a container is
// provisioned immediately; a deploy failure fails the call but keeps the
// created instance row.
func (s *InstanceService) Create(ctx context.Context, req *models.CreateInstanceRequest, autoDeploy bool) (*models.Instance, error) {
	inst := &models.Instance{
		ID:          uuid.New().String(),
		Name:        req.Name,
		URL:         req.URL,
		Description: req.Description,
	}
	if err := s.instances.Create(ctx, inst); err != nil {
		return nil, err
	}

	if autoDeploy {
		if _, err := s.lifecycle.Deploy(ctx, inst.ID); err != nil {
			return nil, fmt.Errorf("auto deploy: %w", err)
		}
		log.Printf("[instance] Auto-deployed instance %s", inst.ID)
	}

	return s.instances.GetByID(ctx, inst.ID)
}

// Update applies the non-nil fields of the request.
func (s *InstanceService) Update(ctx context.Context, id string, req *models.UpdateInstanceRequest) (*models.Instance, error) {
	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		inst.Name = *req.Name
	}
	if req.URL != nil {
		inst.URL = req.URL
	}
	if req.Description != nil {
		inst.Description = req.Description
	}

	if err := s.instances.Update(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Delete removes the instance row. The backing container, if any, must be
// removed first through the lifecycle service.
func (s *InstanceService) Delete(ctx context.Context, id string) error {
	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if inst.Deployed() {
		return ErrAlreadyDeployed
	}
	return s.instances.Delete(ctx, id)
}

var _ InstanceStore = (*repository.InstanceRepository)(nil)
