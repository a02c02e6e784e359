package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// 不安全的默认值列表 (生产环境不应使用)
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"change-me": true,
	"":          true,
}

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Admin    AdminConfig
	Docker   DockerConfig
	Tunnel   TunnelConfig
	Health   HealthConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AdminConfig drives the default administrator bootstrap at startup.
type AdminConfig struct {
	Username string
	Password string
}

type DockerConfig struct {
	Image           string
	BasePath        string // root for per-instance config directories
	ContainerPrefix string
	InternalPort    int    // service port inside the container
	ConfigMount     string // mount target of the config directory
	// RemoveConfigDir controls whether the per-instance config directory on
	// disk is deleted when the container is removed. Off by default to keep
	// the instance's history.
	RemoveConfigDir bool
}

type TunnelConfig struct {
	SSHServer    string // relay host[:port], port defaults to 22
	SSHCommand   string
	UserPrefix   string
	TemplatePath string // deploy.yaml template seeded on first deploy
	WaitAttempts int
	WaitInterval time.Duration
	SettleDelay  time.Duration
}

type HealthConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8000"),
			Mode: getEnv("GIN_MODE", "release"), // 默认为 release 模式
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "alas_user"),
			Password: getEnv("DB_PASSWORD", "alas_pass"),
			DBName:   getEnv("DB_NAME", "alas_console"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey:  getEnv("JWT_SECRET_KEY", ""),
			AccessTTL:  time.Duration(getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 30)) * time.Minute,
			RefreshTTL: time.Duration(getEnvInt("REFRESH_TOKEN_TTL_DAYS", 7)) * 24 * time.Hour,
		},
		Admin: AdminConfig{
			Username: getEnv("ADMIN_USERNAME", "admin"),
			Password: getEnv("ADMIN_PASSWORD", "admin123"),
		},
		Docker: DockerConfig{
			Image:           getEnv("DOCKER_IMAGE", "hajiming/azurlaneautoscript:latest"),
			BasePath:        getEnv("DOCKER_BASE_PATH", "/home/nero/alas"),
			ContainerPrefix: getEnv("DOCKER_CONTAINER_PREFIX", "alas"),
			InternalPort:    getEnvInt("DOCKER_INTERNAL_PORT", 22267),
			ConfigMount:     getEnv("DOCKER_CONFIG_MOUNT", "/app/AzurLaneAutoScript/config"),
			RemoveConfigDir: getEnvBool("REMOVE_CONFIG_DIR", false),
		},
		Tunnel: TunnelConfig{
			SSHServer:    getEnv("DOCKER_SSH_SERVER", "app.hk1.azurlane.cloud:10022"),
			SSHCommand:   getEnv("TUNNEL_SSH_COMMAND", "ssh"),
			UserPrefix:   getEnv("SSH_USER_PREFIX", "alas"),
			TemplatePath: getEnv("DEPLOY_TEMPLATE_PATH", "./templates/deploy.yaml"),
			WaitAttempts: getEnvInt("TUNNEL_WAIT_ATTEMPTS", 30),
			WaitInterval: getEnvDuration("TUNNEL_WAIT_INTERVAL", time.Second),
			SettleDelay:  getEnvDuration("TUNNEL_SETTLE_DELAY", 5*time.Second),
		},
		Health: HealthConfig{
			Interval:     getEnvDuration("HEALTH_CHECK_INTERVAL", time.Minute),
			ProbeTimeout: getEnvDuration("HEALTH_PROBE_TIMEOUT", 5*time.Second),
		},
	}

	// 日志脱敏: 不记录敏感配置
	log.Printf("[config] ALAS Console loaded: port=%s db=%s/%s image=%s relay=%s",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName, cfg.Docker.Image, cfg.Tunnel.SSHServer)

	return cfg
}

// Validate 验证配置有效性，生产环境必须设置安全的密钥
func (c *Config) Validate() error {
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}
	if c.Docker.InternalPort <= 0 || c.Docker.InternalPort > 65535 {
		return fmt.Errorf("DOCKER_INTERNAL_PORT must be a valid port, got %d", c.Docker.InternalPort)
	}
	if c.Tunnel.SSHServer == "" {
		return fmt.Errorf("DOCKER_SSH_SERVER must be set")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
