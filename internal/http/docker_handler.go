package http

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/nerolab/alas-console/internal/deployconf"
	"github.com/nerolab/alas-console/internal/docker"
	"github.com/nerolab/alas-console/internal/models"
	"github.com/nerolab/alas-console/internal/repository"
	"github.com/nerolab/alas-console/internal/service"
)

// DockerHandler serves container lifecycle and deploy config endpoints
// for the admin API.
type DockerHandler struct {
	lifecycle       *service.LifecycleService
	instanceService *service.InstanceService
}

func NewDockerHandler(lifecycle *service.LifecycleService, instanceService *service.InstanceService) *DockerHandler {
	return &DockerHandler{lifecycle: lifecycle, instanceService: instanceService}
}

// lifecycleError maps service/driver sentinel errors to HTTP status codes
func lifecycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
	case errors.Is(err, service.ErrAlreadyDeployed):
		c.JSON(http.StatusConflict, gin.H{"error": "instance already has a container"})
	case errors.Is(err, service.ErrNotDeployed):
		c.JSON(http.StatusConflict, gin.H{"error": "instance has no container"})
	case errors.Is(err, docker.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "container no longer exists"})
	case errors.Is(err, docker.ErrEngineUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "docker engine unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Deploy provisions a container for the instance
func (h *DockerHandler) Deploy(c *gin.Context) {
	resp, err := h.lifecycle.Deploy(c.Request.Context(), c.Param("id"))
	if err != nil {
		lifecycleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Start starts the instance's container
func (h *DockerHandler) Start(c *gin.Context) {
	if err := h.lifecycle.Start(c.Request.Context(), c.Param("id")); err != nil {
		lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Stop stops the instance's container
func (h *DockerHandler) Stop(c *gin.Context) {
	if err := h.lifecycle.Stop(c.Request.Context(), c.Param("id")); err != nil {
		lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Restart restarts the instance's container
func (h *DockerHandler) Restart(c *gin.Context) {
	if err := h.lifecycle.Restart(c.Request.Context(), c.Param("id")); err != nil {
		lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Remove deletes the instance's container; ?purge=true also removes
// anonymous volumes
func (h *DockerHandler) Remove(c *gin.Context) {
	purge := c.DefaultQuery("purge", "false") == "true"

	if err := h.lifecycle.Remove(c.Request.Context(), c.Param("id"), purge); err != nil {
		lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports the live engine state of the instance's container
func (h *DockerHandler) Status(c *gin.Context) {
	resp, err := h.lifecycle.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		lifecycleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// UpdateURL renegotiates the instance's remote URL over the tunnel
func (h *DockerHandler) UpdateURL(c *gin.Context) {
	url, err := h.lifecycle.UpdateURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		lifecycleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"instance_id": c.Param("id"), "url": url})
}

// ==================== Deploy Config ====================

// GetConfig returns the raw deploy config file of a deployed instance
func (h *DockerHandler) GetConfig(c *gin.Context) {
	inst, err := h.instanceService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		lifecycleError(c, err)
		return
	}
	if inst.ConfigPath == nil || *inst.ConfigPath == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "instance has no container"})
		return
	}

	content, err := os.ReadFile(deployconf.Path(*inst.ConfigPath))
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "deploy config not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"instance_id": inst.ID, "content": string(content)})
}

// UpdateConfig replaces the deploy config file. Content must be valid
// YAML; the old file is kept on validation failure.
func (h *DockerHandler) UpdateConfig(c *gin.Context) {
	var req models.UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := h.instanceService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		lifecycleError(c, err)
		return
	}
	if inst.ConfigPath == nil || *inst.ConfigPath == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "instance has no container"})
		return
	}

	if err := deployconf.Write(*inst.ConfigPath, []byte(req.Content)); err != nil {
		if errors.Is(err, deployconf.ErrInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is not valid yaml"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
