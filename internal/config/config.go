package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"mirrorctl/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const namespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

type APIServer struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
	CA    string `mapstructure:"ca"`
}

type Manager struct {
	Name  string `mapstructure:"name"`
	Port  int    `mapstructure:"port"`
	Image string `mapstructure:"image"`
}

// API is the base URL the workers and this service use to reach the manager.
func (m Manager) API() string {
	return fmt.Sprintf("http://%s:%d", m.Name, m.Port)
}

type Front struct {
	Name             string `mapstructure:"name"`
	Image            string `mapstructure:"image"`
	ImagePullSecrets string `mapstructure:"image_pull_secrets"`
}

func (f Front) Enabled() bool {
	return f.Name != ""
}

type Config struct {
	Listen           string        `mapstructure:"listen"`
	Server           string        `mapstructure:"server"`
	Namespace        string        `mapstructure:"namespace"`
	StorageClass     string        `mapstructure:"storage_class"`
	Node             string        `mapstructure:"node"`
	ImagePullSecrets string        `mapstructure:"image_pull_secrets"`
	APIServer        APIServer     `mapstructure:"api_server"`
	Manager          Manager       `mapstructure:"manager"`
	Front            Front         `mapstructure:"front"`
	LogRoot          string        `mapstructure:"log_root"`
	Timeout          time.Duration `mapstructure:"timeout"`
	DBPath           string        `mapstructure:"db_path"`
}

var Default = Config{
	Listen:  ":8080",
	Server:  "http://localhost:8080",
	Manager: Manager{Name: "tunasync-manager", Port: 14242, Image: "ztelliot/tunasync_manager:latest"},
	LogRoot: "/var/lib/tunasync",
	Timeout: 3 * time.Second,
	DBPath:  "mirrorctl.db",
}

func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mirrorctl")
	}

	v.SetDefault("listen", Default.Listen)
	v.SetDefault("server", Default.Server)
	v.SetDefault("manager.name", Default.Manager.Name)
	v.SetDefault("manager.port", Default.Manager.Port)
	v.SetDefault("manager.image", Default.Manager.Image)
	v.SetDefault("log_root", Default.LogRoot)
	v.SetDefault("timeout", Default.Timeout)
	v.SetDefault("db_path", Default.DBPath)

	v.SetEnvPrefix("MIRRORCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := errors.AsType[viper.ConfigFileNotFoundError](err); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			logger.Log.Warn("config file changed, restart to apply",
				zap.String("file", e.Name),
				zap.String("op", e.Op.String()))
		})
		v.WatchConfig()
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "default"
		if data, err := os.ReadFile(namespaceFile); err == nil {
			c.Namespace = strings.TrimSpace(string(data))
		}
	}

	if c.Front.ImagePullSecrets == "" {
		c.Front.ImagePullSecrets = c.ImagePullSecrets
	}

	if c.Timeout <= 0 {
		c.Timeout = Default.Timeout
	}
}
