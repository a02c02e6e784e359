package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nerolab/alas-console/internal/config"
	"github.com/nerolab/alas-console/internal/db"
	"github.com/nerolab/alas-console/internal/docker"
	"github.com/nerolab/alas-console/internal/health"
	"github.com/nerolab/alas-console/internal/http"
	"github.com/nerolab/alas-console/internal/models"
	"github.com/nerolab/alas-console/internal/repository"
	"github.com/nerolab/alas-console/internal/service"
	"github.com/nerolab/alas-console/internal/tunnel"
)

func main() {
	log.Println("Starting ALAS Console...")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize database
	pool, err := db.NewPool(cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(pool)
	instanceRepo := repository.NewInstanceRepository(pool)
	grantRepo := repository.NewGrantRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)

	if err := bootstrapAdmin(ctx, cfg, userRepo); err != nil {
		log.Fatalf("Failed to bootstrap admin account: %v", err)
	}

	// Initialize docker driver and tunnel negotiator
	driver, err := docker.NewDriver()
	if err != nil {
		log.Fatalf("Failed to connect to docker engine: %v", err)
	}

	negotiator := tunnel.NewNegotiator(tunnel.Options{
		Server:       cfg.Tunnel.SSHServer,
		SSHCommand:   cfg.Tunnel.SSHCommand,
		UserPrefix:   cfg.Tunnel.UserPrefix,
		InternalPort: cfg.Docker.InternalPort,
		WaitAttempts: cfg.Tunnel.WaitAttempts,
		WaitInterval: cfg.Tunnel.WaitInterval,
		SettleDelay:  cfg.Tunnel.SettleDelay,
	})

	// Initialize services
	authService := service.NewAuthService(cfg, userRepo)
	userService := service.NewUserService(userRepo, grantRepo)
	lifecycleService := service.NewLifecycleService(cfg, instanceRepo, driver, negotiator, auditRepo)
	instanceService := service.NewInstanceService(instanceRepo, lifecycleService)

	// Background health sweep
	checker := health.NewChecker(instanceRepo, cfg.Health.Interval, cfg.Health.ProbeTimeout)
	checker.Start()

	// Initialize HTTP server
	handler := http.NewHandler(authService, userService, instanceService)
	adminHandler := http.NewAdminHandler(userService, instanceService, auditRepo)
	dockerHandler := http.NewDockerHandler(lifecycleService, instanceService)
	server := http.NewServer(cfg, pool, handler, adminHandler, dockerHandler)

	// Start server in goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("Server starting on %s", addr)
		if err := server.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	checker.Stop()

	_, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Println("Server exited")
}

// bootstrapAdmin creates the default admin account on first start.
// 账号已存在时跳过，不会覆盖密码
func bootstrapAdmin(ctx context.Context, cfg *config.Config, users *repository.UserRepository) error {
	_, err := users.GetByUsername(ctx, cfg.Admin.Username)
	if err == nil {
		return nil
	}
	if err != repository.ErrNotFound {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &models.User{
		ID:           uuid.New().String(),
		Username:     cfg.Admin.Username,
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
	}
	if err := users.Create(ctx, admin); err != nil {
		return err
	}

	log.Printf("[Bootstrap] Created default admin account %q", cfg.Admin.Username)
	return nil
}
