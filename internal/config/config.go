package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vango-dev/hmr/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "hmr.json"

	// DefaultPort is the default development server port.
	DefaultPort = 3000

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"

	// DefaultManifest is the default module manifest path.
	DefaultManifest = "dist/hmr-manifest.json"

	// DefaultPoll is the default manifest poll interval.
	DefaultPoll = 250 * time.Millisecond

	// DefaultHistoryLimit is the default number of retained update batches.
	DefaultHistoryLimit = 500
)

// History backends.
const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendS3     = "s3"
)

// Config represents the complete hmr.json configuration.
type Config struct {
	// Name is the project name.
	Name string `json:"name,omitempty"`

	// Dev contains development server configuration.
	Dev DevConfig `json:"dev,omitempty"`

	// Runtime seeds the runtime configuration record sent to clients.
	Runtime RuntimeConfig `json:"runtime,omitempty"`

	// History configures update history retention.
	History HistoryConfig `json:"history,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// DevConfig contains development server settings.
type DevConfig struct {
	// Host is the host to bind to.
	Host string `json:"host,omitempty"`

	// Port is the port to run the dev server on.
	Port int `json:"port,omitempty"`

	// Manifest is the module manifest written by the compiler.
	Manifest string `json:"manifest,omitempty"`

	// Poll is how often the manifest is checked, as a duration string.
	Poll string `json:"poll,omitempty"`
}

// RuntimeConfig contains the fields of the runtime configuration record
// that do not come from the manifest.
type RuntimeConfig struct {
	// Version is the configuration key clients must match. Empty means
	// derive it from the manifest.
	Version string `json:"version,omitempty"`

	// Refresh names the UI framework's refresh runtime module.
	Refresh string `json:"refresh,omitempty"`

	// Console forwards dev server console output to clients.
	Console bool `json:"console,omitempty"`

	SeparateSSRGraph bool `json:"separateSSRGraph,omitempty"`
}

// HistoryConfig configures the update history.
type HistoryConfig struct {
	// Backend is memory, disk or s3.
	Backend string `json:"backend,omitempty"`

	// Dir is the disk backend's directory.
	Dir string `json:"dir,omitempty"`

	// Bucket, Prefix, Region and Endpoint configure the s3 backend.
	Bucket   string `json:"bucket,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`

	// Limit caps the retained batches.
	Limit int `json:"limit,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Dev: DevConfig{
			Host:     DefaultHost,
			Port:     DefaultPort,
			Manifest: DefaultManifest,
			Poll:     DefaultPoll.String(),
		},
		History: HistoryConfig{
			Backend: BackendMemory,
			Dir:     ".hmr/history",
			Prefix:  "hmr/",
			Limit:   DefaultHistoryLimit,
		},
	}
}

// Load reads hmr.json from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E141").
				WithDetail("No hmr.json found in " + filepath.Dir(path)).
				WithSuggestion("Create hmr.json or pass --manifest to run without one")
		}
		return nil, errors.New("E120").Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E120").
			WithDetail("Failed to parse hmr.json: " + err.Error()).
			WithSuggestion("Check that hmr.json is valid JSON")
	}

	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E120").Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E120").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Dev.Port == 0 {
		c.Dev.Port = DefaultPort
	}
	if c.Dev.Host == "" {
		c.Dev.Host = DefaultHost
	}
	if c.Dev.Manifest == "" {
		c.Dev.Manifest = DefaultManifest
	}
	if c.Dev.Poll == "" {
		c.Dev.Poll = DefaultPoll.String()
	}
	if c.History.Backend == "" {
		c.History.Backend = BackendMemory
	}
	if c.History.Dir == "" {
		c.History.Dir = ".hmr/history"
	}
	if c.History.Limit == 0 {
		c.History.Limit = DefaultHistoryLimit
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Dev.Port < 0 || c.Dev.Port > 65535 {
		return errors.New("E122").
			WithDetail("Port must be between 0 and 65535")
	}
	if d, err := time.ParseDuration(c.Dev.Poll); err != nil || d <= 0 {
		return errors.New("E120").
			WithDetail("dev.poll must be a positive duration such as \"250ms\"")
	}
	switch c.History.Backend {
	case BackendMemory, BackendDisk:
	case BackendS3:
		if c.History.Bucket == "" {
			return errors.New("E121").
				WithDetail("history.bucket is required for the s3 backend")
		}
	default:
		return errors.New("E123").
			WithDetail("Unknown history backend " + strconv.Quote(c.History.Backend))
	}
	if c.History.Limit < 0 {
		return errors.New("E120").
			WithDetail("history.limit must not be negative")
	}
	return nil
}

// DevAddress returns the address string for the dev server.
func (c *Config) DevAddress() string {
	return c.Dev.Host + ":" + strconv.Itoa(c.Dev.Port)
}

// PollInterval returns the parsed poll interval, or DefaultPoll.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Dev.Poll)
	if err != nil || d <= 0 {
		return DefaultPoll
	}
	return d
}

// ManifestPath returns the absolute path to the module manifest.
func (c *Config) ManifestPath() string {
	return c.resolve(c.Dev.Manifest)
}

// HistoryDir returns the absolute path to the disk history directory.
func (c *Config) HistoryDir() string {
	return c.resolve(c.History.Dir)
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir(), path)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindProjectRoot walks up directories to find the project root.
// Returns the directory containing hmr.json, or an error if not found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("E141").
				WithDetail("No hmr.json found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads configuration from the current working directory.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, err := FindProjectRoot(wd)
	if err != nil {
		return nil, err
	}

	return Load(root)
}
