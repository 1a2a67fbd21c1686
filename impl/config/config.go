package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AuthConfig holds credentials for registry access. Either user/password
// (basic) or token (bearer).
type AuthConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

// TlsConfig holds TLS configuration for registry access
type TlsConfig struct {
	Cert               string `yaml:"cert"`
	Key                string `yaml:"key"`
	CA                 string `yaml:"ca"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

// RegistryConfig combines AuthConfig and TlsConfig and configures access
// to one registry, keyed by registry host name
type RegistryConfig struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Auth        AuthConfig `yaml:"auth"`
	Tls         TlsConfig  `yaml:"tls"`
	Scheme      string     `yaml:"scheme"`
}

// ServerTlsConfig configures TLS for the REST API server. ClientAuth is
// "none" or "verify" (mTLS).
type ServerTlsConfig struct {
	Cert       string `yaml:"cert"`
	Key        string `yaml:"key"`
	CA         string `yaml:"ca"`
	ClientAuth string `yaml:"clientAuth"`
}

// QueueConfig configures the blob transfer work queue
type QueueConfig struct {
	MaxSize      int64 `yaml:"maxSize"`
	Concurrency  int64 `yaml:"concurrency"`
	MemThreshold int64 `yaml:"memThreshold"`
}

// Configuration represents the totality of configuration knobs and dials
// for the replicator.
type Configuration struct {
	LogLevel     string           `yaml:"logLevel"`
	LogFile      string           `yaml:"logFile"`
	ConfigFile   string           `yaml:"configFile"`
	Port         int64            `yaml:"port"`
	MetricsPort  int64            `yaml:"metricsPort"`
	Mode         string           `yaml:"mode"`
	MaxBlobSize  int64            `yaml:"maxBlobSize"`
	TempDir      string           `yaml:"tempDir"`
	ImageFile    string           `yaml:"imageFile"`
	Queue        QueueConfig      `yaml:"queue"`
	ServerTlsCfg ServerTlsConfig  `yaml:"serverTlsConfig"`
	Registries   []RegistryConfig `yaml:"registries"`
}

// FromCmdLine has a flag for every command-line option. The parsing code
// sets the flag to true if the option was explicitly provided on the command
// line by the user.
type FromCmdLine struct {
	Command     string
	Args        []string
	Format      string
	LogLevel    bool
	LogFile     bool
	ConfigFile  bool
	Port        bool
	MetricsPort bool
	Mode        bool
	MaxBlobSize bool
	TempDir     bool
	ImageFile   bool
	Queue       bool
}

var config Configuration

func GetLogLevel() string {
	return config.LogLevel
}

func GetLogFile() string {
	return config.LogFile
}

func GetConfigFile() string {
	return config.ConfigFile
}

func GetPort() int64 {
	return config.Port
}

func GetMetricsPort() int64 {
	return config.MetricsPort
}

func GetMode() string {
	return config.Mode
}

func GetMaxBlobSize() int64 {
	return config.MaxBlobSize
}

func GetTempDir() string {
	return config.TempDir
}

func GetImageFile() string {
	return config.ImageFile
}

func GetQueue() QueueConfig {
	return config.Queue
}

func GetServerTlsCfg() ServerTlsConfig {
	return config.ServerTlsCfg
}

func GetRegistries() []RegistryConfig {
	return config.Registries
}

// RegistryFor returns the config section for the passed registry host, or
// a zero-value section if the host is not configured (meaning: anonymous
// https access).
func RegistryFor(registry string) RegistryConfig {
	for _, rc := range config.Registries {
		if rc.Name == registry {
			return rc
		}
	}
	return RegistryConfig{}
}

// Load loads the passed configuration file into the configuration struct
func Load(configFile string) error {
	if _, err := os.Stat(configFile); err != nil {
		return fmt.Errorf("unable to stat configuration file: %s", configFile)
	}
	if contents, err := os.ReadFile(configFile); err != nil {
		return fmt.Errorf("error reading configuration file: %s", configFile)
	} else if err := SetConfigFromStr(contents); err != nil {
		return fmt.Errorf("error parsing configuration file: %s, the error was: %s", configFile, err)
	}
	return nil
}

// SetConfigFromStr parses the passed yaml into the configuration struct
func SetConfigFromStr(contents []byte) error {
	newConfig := Configuration{}
	if err := yaml.Unmarshal(contents, &newConfig); err != nil {
		return err
	}
	newConfig.ConfigFile = config.ConfigFile
	config = newConfig
	return nil
}

// Get gets the current configuration
func Get() Configuration {
	return config
}

// Set replaces the configuration with the passed configuration
func Set(cfg Configuration) {
	config = cfg
}
