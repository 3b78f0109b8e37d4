package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileName is the configuration file every process looks for, walking
// from the working directory toward the filesystem root.
const FileName = "Config.toml"

// Config is the main configuration struct combining all sections.
type Config struct {
	Server     ServerConfig          `mapstructure:"server"`
	TasksDir   string                `mapstructure:"tasks_dir"`
	Ports      PortsConfig           `mapstructure:"ports"`
	Database   DatabaseConfig        `mapstructure:"database"`
	Redis      RedisConfig           `mapstructure:"redis"`
	Captcha    CaptchaConfig         `mapstructure:"captcha"`
	Scheduler  SchedulerConfig       `mapstructure:"scheduler"`
	Sessions   SessionsConfig        `mapstructure:"sessions"`
	Routing    RoutingConfig         `mapstructure:"routing"`
	Tasks      map[string]TaskConfig `mapstructure:"tasks" validate:"required"`
	Containers ContainersConfig      `mapstructure:"containers"`
}

// ServerConfig holds the gateway listener settings.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
}

// PortsConfig describes the host port pool and instance TTLs.
type PortsConfig struct {
	Min            int   `mapstructure:"min" validate:"required,min=1,max=65535"`
	Max            int   `mapstructure:"max" validate:"required,min=1,max=65535,gtefield=Min"`
	Default        int   `mapstructure:"default"`
	DefaultTTLSecs int64 `mapstructure:"default_ttl_secs" validate:"min=1"`
	ExtendTimeSecs int64 `mapstructure:"extend_time_secs" validate:"min=1"`
}

// DatabaseConfig holds the SQL store connection string. Postgres URLs
// and sqlite paths (sqlite://... or file:...) are both accepted.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// RedisConfig holds the shared key-value store used by the port
// allocator.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// CaptchaConfig configures the /deploy human check. Provider "none"
// disables verification (local development, tests).
type CaptchaConfig struct {
	Provider  string `mapstructure:"provider" validate:"required,oneof=recaptcha turnstile none"`
	SiteKey   string `mapstructure:"site_key"`
	SecretKey string `mapstructure:"secret_key"`
	VerifyURL string `mapstructure:"verify_url"`
}

// SchedulerConfig drives the reaper loop.
type SchedulerConfig struct {
	PollIntervalSecs int64 `mapstructure:"poll_interval_secs" validate:"min=1"`
}

// SessionsConfig controls token lifetime and per-user quotas.
type SessionsConfig struct {
	TTLHours        int `mapstructure:"ttl_hours" validate:"min=1"`
	MaxInstances    int `mapstructure:"max_instances" validate:"min=1"`
	TokenRatePerMin int `mapstructure:"token_rate_per_min" validate:"min=0"`
}

// RoutingConfig selects how instances are exposed. Variant is a closed
// enum; anything but "port" or "traefik" fails startup.
type RoutingConfig struct {
	Variant       string         `mapstructure:"variant" validate:"required,oneof=port traefik"`
	Domain        string         `mapstructure:"domain"`
	TraefikDomain string         `mapstructure:"traefik_domain"`
	HTTPEntry     string         `mapstructure:"http_entry"`
	TCPEntry      string         `mapstructure:"tcp_entry"`
	EntryPorts    map[string]int `mapstructure:"entry_ports"`
}

// TaskConfig describes how clients reach one task. The "_default"
// entry is required and backs every task without its own section.
type TaskConfig struct {
	Protocol      string `mapstructure:"protocol" validate:"omitempty,oneof=http tcp"`
	ContainerPort int    `mapstructure:"container_port" validate:"omitempty,min=1,max=65535"`
}

// ContainersConfig is the hardening policy applied to every instance
// container. Byte sizes accept human-readable strings ("256m", "1g").
type ContainersConfig struct {
	MemoryLimit           string   `mapstructure:"memory_limit"`
	SwapLimit             string   `mapstructure:"swap_limit"`
	CPUQuota              float64  `mapstructure:"cpu_quota" validate:"min=0"`
	PidsLimit             int64    `mapstructure:"pids_limit" validate:"min=0"`
	ReadOnlyRootfs        bool     `mapstructure:"read_only_rootfs"`
	DropAllCapabilities   bool     `mapstructure:"drop_all_capabilities"`
	AddCapabilities       []string `mapstructure:"add_capabilities"`
	EnableNoNewPrivileges bool     `mapstructure:"enable_no_new_privileges"`
	EnableTmpfs           bool     `mapstructure:"enable_tmpfs"`
	TmpfsSize             string   `mapstructure:"tmpfs_size"`
}

// Load reads configuration with priority: environment variables over
// the config file over built-in defaults. An empty path triggers the
// Config.toml walk from the working directory toward the root.
func Load(configPath string) (*Config, error) {
	// Load .env if present (missing is fine).
	_ = godotenv.Load()

	v := viper.New()

	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		configPath, err = FindConfigFile(wd)
		if err != nil {
			return nil, err
		}
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	v.SetEnvPrefix("SPAWNPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	normalizeTasks(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration and panics on error (for use in main).
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// FindConfigFile walks from start toward the filesystem root and
// returns the first Config.toml it encounters.
func FindConfigFile(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found in %s or any parent directory", FileName, start)
		}
		dir = parent
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("tasks_dir", "./tasks")
	v.SetDefault("ports.default", 3000)
	v.SetDefault("ports.default_ttl_secs", 1800)
	v.SetDefault("ports.extend_time_secs", 600)
	v.SetDefault("captcha.provider", "none")
	v.SetDefault("scheduler.poll_interval_secs", 30)
	v.SetDefault("sessions.ttl_hours", 12)
	v.SetDefault("sessions.max_instances", 2)
	v.SetDefault("sessions.token_rate_per_min", 60)
	v.SetDefault("routing.http_entry", "web")
	v.SetDefault("routing.tcp_entry", "tcp")
}

// normalizeTasks fills per-task defaults so lookups never hand back
// zero values.
func normalizeTasks(cfg *Config) {
	for name, tc := range cfg.Tasks {
		if tc.Protocol == "" {
			tc.Protocol = "http"
		}
		if tc.ContainerPort == 0 {
			tc.ContainerPort = 3000
		}
		cfg.Tasks[name] = tc
	}
}

// TaskConfig resolves the routing entry for a task, falling back to
// the required "_default" entry for tasks without their own section.
func (c *Config) TaskConfig(name string) TaskConfig {
	if tc, ok := c.Tasks[name]; ok {
		return tc
	}
	return c.Tasks["_default"]
}

// TCPEntryPort resolves the client-facing port for TCP instances
// behind traefik: the entry_ports mapping for the configured tcp
// entry point, with 9000 as the historical fallback.
func (c *Config) TCPEntryPort() int {
	if p, ok := c.Routing.EntryPorts[c.Routing.TCPEntry]; ok && p > 0 {
		return p
	}
	return 9000
}

// DefaultTTL is the instance lifetime granted at deploy.
func (c *Config) DefaultTTL() time.Duration {
	return time.Duration(c.Ports.DefaultTTLSecs) * time.Second
}

// ExtendTime is the lifetime added by a successful /extend.
func (c *Config) ExtendTime() time.Duration {
	return time.Duration(c.Ports.ExtendTimeSecs) * time.Second
}

// SessionTTL is the bearer token lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLHours) * time.Hour
}

// PollInterval is the reaper sweep period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalSecs) * time.Second
}

// MemoryBytes parses the configured memory limit; empty means
// unlimited (0).
func (c *ContainersConfig) MemoryBytes() (int64, error) {
	return parseSize(c.MemoryLimit)
}

// SwapBytes parses the configured memory+swap limit; empty means
// unlimited (0).
func (c *ContainersConfig) SwapBytes() (int64, error) {
	return parseSize(c.SwapLimit)
}

// TmpfsBytes parses the configured /tmp tmpfs size; empty means the
// engine default (0).
func (c *ContainersConfig) TmpfsBytes() (int64, error) {
	return parseSize(c.TmpfsSize)
}

func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	return n, nil
}
