package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nerolab/alas-console/internal/config"
)

type Server struct {
	router        *gin.Engine
	handler       *Handler
	adminHandler  *AdminHandler
	dockerHandler *DockerHandler
	cfg           *config.Config
	db            *pgxpool.Pool
}

// 登录速率限制器: 每 IP 每分钟最多 10 次（防止撞库）
var loginRateLimiter = NewRateLimiter(10, time.Minute)

// 用户 API 速率限制器: 每用户每分钟最多 60 次请求
var userRateLimiter = NewRateLimiter(60, time.Minute)

// 容器操作速率限制器: 每用户每分钟最多 10 次
// 说明: deploy/remove 会触发镜像拉取和隧道协商，代价高
var containerRateLimiter = NewRateLimiter(10, time.Minute)

func NewServer(cfg *config.Config, db *pgxpool.Pool, handler *Handler, adminHandler *AdminHandler, dockerHandler *DockerHandler) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:        router,
		handler:       handler,
		adminHandler:  adminHandler,
		dockerHandler: dockerHandler,
		cfg:           cfg,
		db:            db,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "alas-console",
		})
	})

	// Auth API - public
	auth := s.router.Group("/api/auth")
	{
		auth.POST("/login", RateLimitMiddleware(loginRateLimiter), s.handler.Login)
		auth.POST("/refresh", s.handler.Refresh)
	}

	// User API - requires JWT authentication
	user := s.router.Group("/api/user")
	user.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	user.Use(RateLimitMiddleware(userRateLimiter))
	{
		user.GET("/profile", s.handler.GetProfile)
		user.GET("/instances", s.handler.GetMyInstances)
		user.PUT("/password", s.handler.ChangePassword)
	}

	// Admin API - requires JWT + admin role
	admin := s.router.Group("/api/admin")
	admin.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	admin.Use(AdminRequired())
	{
		// User management
		admin.GET("/users", s.adminHandler.ListUsers)
		admin.POST("/users", s.adminHandler.CreateUser)
		admin.GET("/users/:id", s.adminHandler.GetUser)
		admin.PUT("/users/:id", s.adminHandler.UpdateUser)
		admin.DELETE("/users/:id", s.adminHandler.DeleteUser)

		// Instance grants
		admin.PUT("/users/:id/instances", s.adminHandler.AssignInstances)
		admin.DELETE("/users/:id/instances/:instance_id", s.adminHandler.RevokeInstance)

		// Instance management
		admin.GET("/instances", s.adminHandler.ListInstances)
		admin.POST("/instances", s.adminHandler.CreateInstance)
		admin.GET("/instances/:id", s.adminHandler.GetInstance)
		admin.PUT("/instances/:id", s.adminHandler.UpdateInstance)
		admin.DELETE("/instances/:id", s.adminHandler.DeleteInstance)
		admin.GET("/instances/:id/audit", s.adminHandler.GetInstanceAudit)

		// Container lifecycle
		docker := admin.Group("/docker")
		docker.Use(RateLimitMiddleware(containerRateLimiter))
		{
			docker.POST("/:id/deploy", s.dockerHandler.Deploy)
			docker.POST("/:id/start", s.dockerHandler.Start)
			docker.POST("/:id/stop", s.dockerHandler.Stop)
			docker.POST("/:id/restart", s.dockerHandler.Restart)
			docker.DELETE("/:id", s.dockerHandler.Remove)
			docker.GET("/:id/status", s.dockerHandler.Status)
			docker.POST("/:id/update-url", s.dockerHandler.UpdateURL)
			docker.GET("/:id/config", s.dockerHandler.GetConfig)
			docker.PUT("/:id/config", s.dockerHandler.UpdateConfig)
		}

		// DB Browser API (通用数据库浏览)
		dbAdminHandler := NewDBAdminHandler(s.db, "public")
		dbAdmin := admin.Group("/db")
		{
			dbAdmin.GET("/tables", dbAdminHandler.ListTables)
			dbAdmin.GET("/tables/:table/schema", dbAdminHandler.GetTableSchema)
			dbAdmin.GET("/tables/:table/rows", dbAdminHandler.QueryRows)
		}
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Engine exposes the underlying router, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.router
}
