package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/namedfs/namedfs/internal/circuit"
	"github.com/namedfs/namedfs/pkg/retry"
	"github.com/namedfs/namedfs/pkg/types"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Provider   ProviderConfig   `yaml:"provider"`
	Registry   RegistryConfig   `yaml:"registry"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Connection ConnectionConfig `yaml:"connection"`
	Storage    StorageConfig    `yaml:"storage"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// ProviderConfig lists the schemes the provider claims.
type ProviderConfig struct {
	Schemes     []SchemeConfig `yaml:"schemes"`
	DefaultShim string         `yaml:"default_shim"`
}

// SchemeConfig describes one URI scheme.
type SchemeConfig struct {
	Name        string              `yaml:"name"`
	Variant     types.SchemeVariant `yaml:"variant"`
	DefaultPort int                 `yaml:"default_port"`
}

// RegistryConfig selects and configures the cluster registry store.
type RegistryConfig struct {
	// Driver is one of memory, file, postgres, redis, zookeeper.
	Driver string `yaml:"driver"`

	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	ZKServers        []string      `yaml:"zk_servers"`
	ZKRoot           string        `yaml:"zk_root"`
	ZKSessionTimeout time.Duration `yaml:"zk_session_timeout"`

	KeyPrefix string        `yaml:"key_prefix"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	AdHocTTL  time.Duration `yaml:"adhoc_ttl"`
	SecretKey string        `yaml:"secret_key"`

	// Retry governs reopening a store that reports itself unavailable.
	Retry retry.Config `yaml:"retry"`

	Template types.NamedCluster `yaml:"template"`
}

// ResolverConfig controls cluster resolution.
type ResolverConfig struct {
	DegradeOnDiscoveryFailure bool          `yaml:"degrade_on_discovery_failure"`
	Timeout                   time.Duration `yaml:"timeout"`
}

// ConnectionConfig controls the connection factory.
type ConnectionConfig struct {
	CacheEnabled   bool           `yaml:"cache_enabled"`
	ConnectTimeout time.Duration  `yaml:"connect_timeout"`
	Breaker        circuit.Config `yaml:"breaker"`
}

// StorageConfig holds backend family settings.
type StorageConfig struct {
	LocalRoot string     `yaml:"local_root"`
	HDFS      HDFSConfig `yaml:"hdfs"`
	S3        S3Config   `yaml:"s3"`
}

// HDFSConfig holds hdfs family settings.
type HDFSConfig struct {
	User string `yaml:"user"`
}

// S3Config holds s3 family settings. Cluster properties override them.
type S3Config struct {
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	Bucket         string `yaml:"bucket"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	UseCargoship   bool   `yaml:"use_cargoship"`
	Concurrency    int    `yaml:"concurrency"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// HealthChecksConfig represents connectivity check settings
type HealthChecksConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

var validDrivers = []string{"memory", "file", "postgres", "redis", "zookeeper"}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Provider: ProviderConfig{
			Schemes: []SchemeConfig{
				{Name: "hdfs", Variant: types.VariantStandard, DefaultPort: 8020},
				{Name: "maprfs", Variant: types.VariantNativeClient, DefaultPort: 7222},
			},
			DefaultShim: "hdfs",
		},
		Registry: RegistryConfig{
			Driver:           "file",
			Path:             defaultRegistryPath(),
			ZKRoot:           "/namedfs/clusters",
			ZKSessionTimeout: 10 * time.Second,
			KeyPrefix:        "namedfs",
			CacheTTL:         30 * time.Second,
			AdHocTTL:         10 * time.Minute,
			Retry:            retry.DefaultConfig(),
			Template: types.NamedCluster{
				Port:       8020,
				Properties: map[string]string{},
			},
		},
		Resolver: ResolverConfig{
			Timeout: 30 * time.Second,
		},
		Connection: ConnectionConfig{
			CacheEnabled:   true,
			ConnectTimeout: 15 * time.Second,
			Breaker: circuit.Config{
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Storage: StorageConfig{
			S3: S3Config{
				Region:      "us-east-1",
				Concurrency: 4,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   false,
				Port:      9102,
				Path:      "/metrics",
				Namespace: "namedfs",
			},
			HealthChecks: HealthChecksConfig{
				Timeout: 5 * time.Second,
			},
		},
	}
}

func defaultRegistryPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "namedfs", "clusters.yaml")
	}
	return "clusters.yaml"
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from NAMEDFS_* environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("NAMEDFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("NAMEDFS_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("NAMEDFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	if val := os.Getenv("NAMEDFS_DEFAULT_SHIM"); val != "" {
		c.Provider.DefaultShim = val
	}

	// Registry settings
	if val := os.Getenv("NAMEDFS_REGISTRY_DRIVER"); val != "" {
		c.Registry.Driver = val
	}
	if val := os.Getenv("NAMEDFS_REGISTRY_PATH"); val != "" {
		c.Registry.Path = val
	}
	if val := os.Getenv("NAMEDFS_REGISTRY_DSN"); val != "" {
		c.Registry.DSN = val
	}
	if val := os.Getenv("NAMEDFS_REDIS_ADDR"); val != "" {
		c.Registry.RedisAddr = val
	}
	if val := os.Getenv("NAMEDFS_REDIS_PASSWORD"); val != "" {
		c.Registry.RedisPassword = val
	}
	if val := os.Getenv("NAMEDFS_REDIS_DB"); val != "" {
		db, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid NAMEDFS_REDIS_DB: %w", err)
		}
		c.Registry.RedisDB = db
	}
	if val := os.Getenv("NAMEDFS_ZK_SERVERS"); val != "" {
		c.Registry.ZKServers = splitList(val)
	}
	if val := os.Getenv("NAMEDFS_REGISTRY_SECRET_KEY"); val != "" {
		c.Registry.SecretKey = val
	}
	if val := os.Getenv("NAMEDFS_REGISTRY_CACHE_TTL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid NAMEDFS_REGISTRY_CACHE_TTL: %w", err)
		}
		c.Registry.CacheTTL = d
	}

	// Resolution and connections
	if val := os.Getenv("NAMEDFS_DEGRADE_ON_DISCOVERY_FAILURE"); val != "" {
		c.Resolver.DegradeOnDiscoveryFailure = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("NAMEDFS_CONNECTION_CACHE"); val != "" {
		c.Connection.CacheEnabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("NAMEDFS_CONNECT_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid NAMEDFS_CONNECT_TIMEOUT: %w", err)
		}
		c.Connection.ConnectTimeout = d
	}

	// Storage
	if val := os.Getenv("NAMEDFS_LOCAL_ROOT"); val != "" {
		c.Storage.LocalRoot = val
	}
	if val := os.Getenv("NAMEDFS_HDFS_USER"); val != "" {
		c.Storage.HDFS.User = val
	}
	if val := os.Getenv("NAMEDFS_S3_ENDPOINT"); val != "" {
		c.Storage.S3.Endpoint = val
	}
	if val := os.Getenv("NAMEDFS_S3_REGION"); val != "" {
		c.Storage.S3.Region = val
	}
	if val := os.Getenv("NAMEDFS_S3_BUCKET"); val != "" {
		c.Storage.S3.Bucket = val
	}

	// Metrics
	if val := os.Getenv("NAMEDFS_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("NAMEDFS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Monitoring.Metrics.Port = port
		}
	}

	return nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.Global.LogLevel)) {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if f := strings.ToLower(c.Global.LogFormat); f != "" && f != "text" && f != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if len(c.Provider.Schemes) == 0 {
		return fmt.Errorf("provider.schemes must not be empty")
	}
	seen := make(map[string]bool, len(c.Provider.Schemes))
	for _, s := range c.Provider.Schemes {
		name := strings.ToLower(s.Name)
		if name == "" {
			return fmt.Errorf("provider scheme name must not be empty")
		}
		if seen[name] {
			return fmt.Errorf("provider scheme %q declared twice", s.Name)
		}
		seen[name] = true
		if s.DefaultPort < 0 || s.DefaultPort > 65535 {
			return fmt.Errorf("provider scheme %q has invalid default_port %d", s.Name, s.DefaultPort)
		}
	}
	if c.Provider.DefaultShim == "" {
		return fmt.Errorf("provider.default_shim must not be empty")
	}

	if err := c.Registry.Validate(); err != nil {
		return err
	}

	if c.Connection.ConnectTimeout < 0 {
		return fmt.Errorf("connection.connect_timeout must not be negative")
	}
	if c.Resolver.Timeout < 0 {
		return fmt.Errorf("resolver.timeout must not be negative")
	}

	if c.Monitoring.Metrics.Enabled {
		if c.Monitoring.Metrics.Port <= 0 || c.Monitoring.Metrics.Port > 65535 {
			return fmt.Errorf("metrics port must be between 1 and 65535")
		}
	}

	return nil
}

// Validate checks the driver-specific registry settings.
func (r RegistryConfig) Validate() error {
	if !contains(validDrivers, r.Driver) {
		return fmt.Errorf("invalid registry driver: %s (must be one of: %s)",
			r.Driver, strings.Join(validDrivers, ", "))
	}
	switch r.Driver {
	case "file":
		if r.Path == "" {
			return fmt.Errorf("registry.path is required for the file driver")
		}
	case "postgres":
		if r.DSN == "" {
			return fmt.Errorf("registry.dsn is required for the postgres driver")
		}
	case "redis":
		if r.RedisAddr == "" {
			return fmt.Errorf("registry.redis_addr is required for the redis driver")
		}
	case "zookeeper":
		if len(r.ZKServers) == 0 {
			return fmt.Errorf("registry.zk_servers is required for the zookeeper driver")
		}
		if !strings.HasPrefix(r.ZKRoot, "/") {
			return fmt.Errorf("registry.zk_root must be an absolute znode path")
		}
	}
	if r.CacheTTL < 0 {
		return fmt.Errorf("registry.cache_ttl must not be negative")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
