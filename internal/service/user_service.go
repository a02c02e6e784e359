package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nerolab/alas-console/internal/models"
	"github.com/nerolab/alas-console/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken   = errors.New("username already exists")
	ErrSelfDelete      = errors.New("cannot delete own account")
	ErrUnknownInstance = errors.New("one or more instance ids do not exist")
)

// UserService handles account management and instance grants.
type UserService struct {
	users  *repository.UserRepository
	grants *repository.GrantRepository
}

func NewUserService(users *repository.UserRepository, grants *repository.GrantRepository) *UserService {
	return &UserService{users: users, grants: grants}
}

// List returns users together with their granted instance IDs.
func (s *UserService) List(ctx context.Context, offset, limit int) ([]models.UserWithInstances, error) {
	users, err := s.users.List(ctx, offset, limit)
	if err != nil {
		return nil, err
	}

	result := []models.UserWithInstances{}
	for _, u := range users {
		ids, err := s.grants.ListInstanceIDs(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, models.UserWithInstances{
			UserResponse: models.NewUserResponse(u),
			InstanceIDs:  ids,
		})
	}
	return result, nil
}

// Get returns one user with granted instance IDs.
func (s *UserService) Get(ctx context.Context, id string) (*models.UserWithInstances, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ids, err := s.grants.ListInstanceIDs(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &models.UserWithInstances{
		UserResponse: models.NewUserResponse(u),
		InstanceIDs:  ids,
	}, nil
}

// Create adds a user with a hashed password.
func (s *UserService) Create(ctx context.Context, req *models.CreateUserRequest) (*models.User, error) {
	if _, err := s.users.GetByUsername(ctx, req.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := req.Role
	if role == "" {
		role = models.RoleUser
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Update applies the non-nil fields of the request.
func (s *UserService) Update(ctx context.Context, id string, req *models.UpdateUserRequest) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Username != nil && *req.Username != user.Username {
		if existing, err := s.users.GetByUsername(ctx, *req.Username); err == nil && existing.ID != id {
			return nil, ErrUsernameTaken
		} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		user.Username = *req.Username
	}
	if req.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	}
	if req.Role != nil {
		user.Role = *req.Role
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Delete removes a user; admins cannot delete themselves.
func (s *UserService) Delete(ctx context.Context, id, callerID string) error {
	if id == callerID {
		return ErrSelfDelete
	}
	return s.users.Delete(ctx, id)
}

// AssignInstances replaces the user's grant set after validating that
// every instance ID exists.
func (s *UserService) AssignInstances(ctx context.Context, userID string, instanceIDs []string) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}

	if len(instanceIDs) > 0 {
		count, err := s.grants.CountExisting(ctx, instanceIDs)
		if err != nil {
			return err
		}
		if count != len(instanceIDs) {
			return ErrUnknownInstance
		}
	}

	return s.grants.Replace(ctx, userID, instanceIDs)
}

// RevokeInstance removes a single grant.
func (s *UserService) RevokeInstance(ctx context.Context, userID, instanceID string) error {
	return s.grants.Revoke(ctx, userID, instanceID)
}
