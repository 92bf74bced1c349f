package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the fleet control plane's process-wide configuration.
type Config struct {
	Server struct {
		Port     int    `mapstructure:"port"`
		Host     string `mapstructure:"host"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // json, text
		Output string `mapstructure:"output"` // stdout, stderr, or file path
	} `mapstructure:"logging"`
	Discovery struct {
		Networks        []string `mapstructure:"networks"`
		Timeout         int      `mapstructure:"timeout"` // seconds, mDNS listening window; the per-host HTTP probe timeout is fixed and does not read it
		EnableMDNS      bool     `mapstructure:"enable_mdns"`
		EnableHTTPScan  bool     `mapstructure:"enable_http_scan"`
		ConcurrentScans int      `mapstructure:"concurrent_scans"`
		ChunkSize       int      `mapstructure:"chunk_size"`
	} `mapstructure:"discovery"`
	Catalogue struct {
		// Dir holds device_capabilities/*.yaml and parameter_mappings.yaml.
		Dir string `mapstructure:"dir"`
	} `mapstructure:"catalogue"`
	Registry struct {
		// Dir holds one YAML record per known device.
		Dir string `mapstructure:"dir"`
	} `mapstructure:"registry"`
	Groups struct {
		// Dir holds one YAML record per group; overridden by SHELLY_GROUPS_DIR.
		Dir string `mapstructure:"dir"`
	} `mapstructure:"groups"`
	Executor struct {
		Concurrency       int `mapstructure:"concurrency"`
		PerDeviceTimeout  int `mapstructure:"per_device_timeout"` // seconds
		RebootGraceSeconds int `mapstructure:"reboot_grace_seconds"`
	} `mapstructure:"executor"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Security struct {
		UseProxyHeaders bool     `mapstructure:"use_proxy_headers"`
		TrustedProxies  []string `mapstructure:"trusted_proxies"`
		CORS            struct {
			AllowedOrigins []string `mapstructure:"allowed_origins"`
			AllowedMethods []string `mapstructure:"allowed_methods"`
			AllowedHeaders []string `mapstructure:"allowed_headers"`
			MaxAge         int      `mapstructure:"max_age"`
		} `mapstructure:"cors"`
		// AdminAPIKey, when set, is required (Authorization: Bearer or
		// X-API-Key header) for the mutating API routes: discover, device
		// delete, group create/rename/delete, group operate, parameter set.
		AdminAPIKey string `mapstructure:"admin_api_key"`
	} `mapstructure:"security"`
}

// Load loads configuration from file.
func Load(configFile string) (*Config, error) {
	return LoadWithName(configFile, "shelly-fleetctl")
}

// LoadWithName loads configuration from file with a specific config name.
func LoadWithName(configFile string, configName string) (*Config, error) {
	// Reset viper state to prevent interference between config loads.
	viper.Reset()

	// Environment variable overrides: SHELLY_ prefix, nested keys with underscores.
	viper.SetEnvPrefix("SHELLY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")

		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.shelly-fleetctl")
		viper.AddConfigPath("/etc/shelly-fleetctl")

		if _, filename, _, ok := runtime.Caller(0); ok {
			configDir := filepath.Dir(filepath.Dir(filepath.Dir(filename))) // up to project root
			viper.AddConfigPath(filepath.Join(configDir, "configs"))
		}
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if configFile != "" {
			return nil, fmt.Errorf("failed to read config file at '%s': %w", configFile, err)
		}
		return nil, fmt.Errorf("failed to read config file (searched paths: %s): %w",
			"./configs, ., $HOME/.shelly-fleetctl, /etc/shelly-fleetctl", err)
	}

	configFilePath := viper.ConfigFileUsed()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from '%s': %w", configFilePath, err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.log_level", "info")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stdout")

	viper.SetDefault("discovery.networks", []string{"192.168.1.0/24"})
	viper.SetDefault("discovery.timeout", 2)
	viper.SetDefault("discovery.enable_mdns", true)
	viper.SetDefault("discovery.enable_http_scan", true)
	viper.SetDefault("discovery.concurrent_scans", 20)
	viper.SetDefault("discovery.chunk_size", 32)

	viper.SetDefault("catalogue.dir", "configs/catalogue")
	viper.SetDefault("registry.dir", "data/registry")
	viper.SetDefault("groups.dir", "data/groups")

	viper.SetDefault("executor.concurrency", 16)
	viper.SetDefault("executor.per_device_timeout", 10)
	viper.SetDefault("executor.reboot_grace_seconds", 10)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("security.use_proxy_headers", false)
	viper.SetDefault("security.trusted_proxies", []string{})
	viper.SetDefault("security.cors.allowed_origins", []string{}) // empty => *
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"Content-Type", "Authorization", "X-Requested-With"})
	viper.SetDefault("security.cors.max_age", 86400)
	viper.SetDefault("security.admin_api_key", "")
}
