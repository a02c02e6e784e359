package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nerolab/alas-console/internal/models"
	"github.com/nerolab/alas-console/internal/repository"
	"github.com/nerolab/alas-console/internal/service"
)

// AdminHandler serves the admin-only management API: user accounts,
// instance records, and instance grants.
type AdminHandler struct {
	userService     *service.UserService
	instanceService *service.InstanceService
	auditRepo       *repository.AuditRepository
}

func NewAdminHandler(userService *service.UserService, instanceService *service.InstanceService, auditRepo *repository.AuditRepository) *AdminHandler {
	return &AdminHandler{
		userService:     userService,
		instanceService: instanceService,
		auditRepo:       auditRepo,
	}
}

func pageParams(c *gin.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	if offset < 0 {
		offset = 0
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return offset, limit
}

// ==================== User Management ====================

// ListUsers returns all users with their granted instance IDs
func (h *AdminHandler) ListUsers(c *gin.Context) {
	offset, limit := pageParams(c)

	users, err := h.userService.List(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

// GetUser returns one user with granted instance IDs
func (h *AdminHandler) GetUser(c *gin.Context) {
	user, err := h.userService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, user)
}

// CreateUser creates a new account
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userService.Create(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, models.NewUserResponse(user))
}

// UpdateUser applies a partial update to an account
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	var req models.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userService.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		case errors.Is(err, service.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, models.NewUserResponse(user))
}

// DeleteUser removes an account. Self-deletion is rejected.
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	err := h.userService.Delete(c.Request.Context(), c.Param("id"), c.GetString("userID"))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		case errors.Is(err, service.ErrSelfDelete):
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete your own account"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// AssignInstances replaces a user's full instance grant set
func (h *AdminHandler) AssignInstances(c *gin.Context) {
	var req models.AssignInstancesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.userService.AssignInstances(c.Request.Context(), c.Param("id"), req.InstanceIDs)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		case errors.Is(err, service.ErrUnknownInstance):
			c.JSON(http.StatusBadRequest, gin.H{"error": "one or more instance ids do not exist"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RevokeInstance removes a single grant
func (h *AdminHandler) RevokeInstance(c *gin.Context) {
	err := h.userService.RevokeInstance(c.Request.Context(), c.Param("id"), c.Param("instance_id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "grant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ==================== Instance Management ====================

// ListInstances returns all instances
func (h *AdminHandler) ListInstances(c *gin.Context) {
	offset, limit := pageParams(c)

	instances, err := h.instanceService.List(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]models.InstanceResponse, 0, len(instances))
	for _, inst := range instances {
		resp = append(resp, models.NewInstanceResponse(inst))
	}

	c.JSON(http.StatusOK, gin.H{"instances": resp})
}

// GetInstance returns one instance
func (h *AdminHandler) GetInstance(c *gin.Context) {
	inst, err := h.instanceService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.NewInstanceResponse(inst))
}

// CreateInstance registers an instance; ?auto_deploy=true provisions a
// container in the same call
func (h *AdminHandler) CreateInstance(c *gin.Context) {
	var req models.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	autoDeploy := c.DefaultQuery("auto_deploy", "false") == "true"

	inst, err := h.instanceService.Create(c.Request.Context(), &req, autoDeploy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, models.NewInstanceResponse(inst))
}

// UpdateInstance applies a partial update to an instance
func (h *AdminHandler) UpdateInstance(c *gin.Context) {
	var req models.UpdateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := h.instanceService.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.NewInstanceResponse(inst))
}

// DeleteInstance removes an instance record. The container must be
// removed first.
func (h *AdminHandler) DeleteInstance(c *gin.Context) {
	err := h.instanceService.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		case errors.Is(err, service.ErrAlreadyDeployed):
			c.JSON(http.StatusConflict, gin.H{"error": "instance still has a container, remove it first"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetInstanceAudit returns recent container actions for an instance
func (h *AdminHandler) GetInstanceAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	entries, err := h.auditRepo.ListByInstance(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
