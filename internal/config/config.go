// Package config provides configuration loading and management for the composer.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/telemetry"
)

// EnvPrefix is the prefix of environment variables read by the composer
const EnvPrefix = "COMPOSER"

const (
	// StorageTypeFile keeps composes and updates in a JSON file
	StorageTypeFile = "file"

	// StorageTypeDatabase keeps composes and updates in PostgreSQL
	StorageTypeDatabase = "database"
)

const (
	// NotificationsLog writes lifecycle events to the log
	NotificationsLog = "log"

	// NotificationsRedis publishes lifecycle events on a Redis channel
	NotificationsRedis = "redis"
)

const (
	defaultMaxConcurrentComposes = 3
	defaultKeepOldComposes       = 10
	defaultSignaturePollInterval = 5 * time.Minute
	defaultMirrorPollInterval    = 200 * time.Second
	defaultStartupGrace          = 3 * time.Second
	defaultTaskPollInterval      = 15 * time.Second
	defaultWatchInterval         = 30 * time.Second
	defaultComposeToolCommand    = "pungi-koji"
	defaultContainerToolCommand  = "skopeo"
	defaultLabelType             = "Update"
	defaultAPIAddress            = ":8080"
)

// appName names the composer's directories under the XDG base directories
const appName = "composer"

// DefaultConfigFile is searched for under the XDG config directories when
// no --config is given.
var DefaultConfigFile = filepath.Join(appName, "config.yaml")

// FindConfigFile returns the first DefaultConfigFile found in
// $XDG_CONFIG_HOME or $XDG_CONFIG_DIRS.
func FindConfigFile() (string, error) {
	path, err := xdg.SearchConfigFile(DefaultConfigFile)
	if err != nil {
		return "", fmt.Errorf("no configuration file given and none found: %w", err)
	}
	return path, nil
}

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks; this also cleans the path.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// ComposeDir is where the compose tool writes its output trees
	ComposeDir string `yaml:"composeDir"`

	// StageDir receives a symlink per finished compose
	StageDir string `yaml:"stageDir,omitempty"`

	// MaxConcurrentComposes caps how many composes run at once
	MaxConcurrentComposes int `yaml:"maxConcurrentComposes,omitempty"`

	// CleanOldComposes removes old compose trees after a successful push
	CleanOldComposes bool `yaml:"cleanOldComposes,omitempty"`

	// KeepOldComposes is how many trees per compose series survive cleaning
	KeepOldComposes int `yaml:"keepOldComposes,omitempty"`

	// WaitForRepoSignature blocks until repomd.xml.asc files appear
	WaitForRepoSignature bool `yaml:"waitForRepoSignature,omitempty"`

	// SignaturePollInterval is how often signatures are checked (e.g., "5m")
	SignaturePollInterval string `yaml:"signaturePollInterval,omitempty"`

	ComposeTool   ComposeToolConfig    `yaml:"composeTool"`
	ContainerTool *ContainerToolConfig `yaml:"containerTool,omitempty"`
	Mirror        *MirrorConfig        `yaml:"mirror,omitempty"`
	BuildSystem   BuildSystemConfig    `yaml:"buildSystem"`
	Storage       *StorageConfig       `yaml:"storage,omitempty"`
	Database      *DatabaseConfig      `yaml:"database,omitempty"`
	Notifications *NotificationsConfig `yaml:"notifications,omitempty"`
	Mail          *MailConfig          `yaml:"mail,omitempty"`
	Gating        *GatingConfig        `yaml:"gating,omitempty"`
	API           *APIConfig           `yaml:"api,omitempty"`
	Telemetry     *telemetry.Config    `yaml:"telemetry,omitempty"`

	// Releases seeds the release table of the store at startup
	Releases []models.Release `yaml:"releases,omitempty"`
}

// ComposeToolConfig defines how the external repository compose tool is run
type ComposeToolConfig struct {
	// Command is the compose tool executable
	Command string `yaml:"command,omitempty"`

	// TemplateDir holds the configuration and variants templates
	TemplateDir string `yaml:"templateDir"`

	// RPMTemplate and ModuleTemplate name the configuration templates per content type
	RPMTemplate    string `yaml:"rpmTemplate,omitempty"`
	ModuleTemplate string `yaml:"moduleTemplate,omitempty"`

	// RPMVariants and ModuleVariants name the variants templates per content type
	RPMVariants    string `yaml:"rpmVariants,omitempty"`
	ModuleVariants string `yaml:"moduleVariants,omitempty"`

	// LabelType prefixes the compose label, e.g. "Update" gives "Update-20240501.1200"
	LabelType string `yaml:"labelType,omitempty"`

	// ExtraArgs are appended to the command line
	ExtraArgs []string `yaml:"extraArgs,omitempty"`

	// StartupGrace is how long to watch for an early exit (e.g., "3s")
	StartupGrace string `yaml:"startupGrace,omitempty"`
}

// ContainerToolConfig defines the image copy tool used for container and flatpak composes
type ContainerToolConfig struct {
	Command             string   `yaml:"command,omitempty"`
	ExtraArgs           []string `yaml:"extraArgs,omitempty"`
	SourceRegistry      string   `yaml:"sourceRegistry"`
	DestinationRegistry string   `yaml:"destinationRegistry"`
}

// MirrorConfig defines how to wait for the master mirror
type MirrorConfig struct {
	// PollInterval is the delay between checks (e.g., "200s")
	PollInterval string `yaml:"pollInterval,omitempty"`

	// Repomd maps "<prefix>_<version>_<request>" or "<prefix>_<request>" keys to
	// repomd.xml URL templates. "{version}" and "{arch}" are substituted.
	Repomd map[string]string `yaml:"repomd,omitempty"`

	// AltRepomd is used instead of Repomd for non-primary architectures
	AltRepomd map[string]string `yaml:"altRepomd,omitempty"`

	// PrimaryArches maps "<prefix>_<version>" to the primary architectures
	PrimaryArches map[string][]string `yaml:"primaryArches,omitempty"`
}

// BuildSystemConfig defines the build system connection
type BuildSystemConfig struct {
	// URL is the XML-RPC hub endpoint; "dev" selects the in-memory build system
	URL string `yaml:"url"`

	// TaskPollInterval is how often tagging tasks are checked (e.g., "15s")
	TaskPollInterval string `yaml:"taskPollInterval,omitempty"`
}

// StorageConfig defines where composes and updates are stored
type StorageConfig struct {
	// Type is "file" or "database"
	Type string `yaml:"type"`

	// DataDir holds the state file when Type is "file"
	DataDir string `yaml:"dataDir,omitempty"`

	// WatchInterval is how often serve looks for requested composes (e.g., "30s")
	WatchInterval string `yaml:"watchInterval,omitempty"`
}

// NotificationsConfig defines where lifecycle events go
type NotificationsConfig struct {
	// Backend is "log" or "redis"
	Backend string `yaml:"backend"`

	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig defines the Redis event bus
type RedisConfig struct {
	Address      string `yaml:"address"`
	PasswordFile string `yaml:"passwordFile,omitempty"`
	DB           int    `yaml:"db,omitempty"`
	Channel      string `yaml:"channel,omitempty"`
}

// MailConfig defines outbound mail for announcements and digests
type MailConfig struct {
	// SMTPAddress is host:port of the relay; empty logs messages instead
	SMTPAddress string `yaml:"smtpAddress,omitempty"`
	From        string `yaml:"from"`

	// TestAnnounceLists maps a release prefix (e.g. "fedora") to the testing digest list
	TestAnnounceLists map[string]string `yaml:"testAnnounceLists,omitempty"`

	// StableAnnounceLists maps a release prefix to the stable announcement list
	StableAnnounceLists map[string]string `yaml:"stableAnnounceLists,omitempty"`
}

// GatingConfig defines requirements checked before stable pushes
type GatingConfig struct {
	// RequireTestGating ejects stable updates whose required tests did not pass
	RequireTestGating bool `yaml:"requireTestGating,omitempty"`

	// RequireCritpathApproval ejects unapproved critical path updates
	RequireCritpathApproval bool `yaml:"requireCritpathApproval,omitempty"`
}

// APIConfig defines the status API listener
type APIConfig struct {
	Address string `yaml:"address,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from COMPOSER_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(d.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv("COMPOSER_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or COMPOSER_DATABASE_PASSWORD environment variable",
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

// GetPassword returns the Redis password from PasswordFile or COMPOSER_REDIS_PASSWORD.
// An empty password is valid.
func (r *RedisConfig) GetPassword() (string, error) {
	if r.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(r.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read redis password from file %s: %w", r.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return os.Getenv("COMPOSER_REDIS_PASSWORD"), nil
}

// GetChannel returns the channel events are published on
func (r *RedisConfig) GetChannel() string {
	if r.Channel == "" {
		return "composer.events"
	}
	return r.Channel
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetMaxConcurrentComposes returns the concurrency cap, defaulting to 3
func (c *Config) GetMaxConcurrentComposes() int {
	if c.MaxConcurrentComposes <= 0 {
		return defaultMaxConcurrentComposes
	}
	return c.MaxConcurrentComposes
}

// GetKeepOldComposes returns how many old composes to keep, defaulting to 10
func (c *Config) GetKeepOldComposes() int {
	if c.KeepOldComposes <= 0 {
		return defaultKeepOldComposes
	}
	return c.KeepOldComposes
}

// GetStageDir returns the staging directory, defaulting to <composeDir>/stage
func (c *Config) GetStageDir() string {
	if c.StageDir == "" {
		return filepath.Join(c.ComposeDir, "stage")
	}
	return c.StageDir
}

// GetSignaturePollInterval returns the signature poll interval
func (c *Config) GetSignaturePollInterval() time.Duration {
	return durationOr(c.SignaturePollInterval, defaultSignaturePollInterval)
}

// GetStorageType returns the storage backend, defaulting to file
func (c *Config) GetStorageType() string {
	if c.Storage == nil || c.Storage.Type == "" {
		return StorageTypeFile
	}
	return c.Storage.Type
}

// GetDataDir returns the file store directory, defaulting to
// $XDG_STATE_HOME/composer
func (c *Config) GetDataDir() string {
	if c.Storage == nil || c.Storage.DataDir == "" {
		return filepath.Join(xdg.StateHome, appName)
	}
	return c.Storage.DataDir
}

// GetWatchInterval returns how often serve polls for requested composes
func (c *Config) GetWatchInterval() time.Duration {
	if c.Storage == nil {
		return defaultWatchInterval
	}
	return durationOr(c.Storage.WatchInterval, defaultWatchInterval)
}

// GetNotificationsBackend returns the event backend, defaulting to log
func (c *Config) GetNotificationsBackend() string {
	if c.Notifications == nil || c.Notifications.Backend == "" {
		return NotificationsLog
	}
	return c.Notifications.Backend
}

// GetAPIAddress returns the status API listen address
func (c *Config) GetAPIAddress() string {
	if c.API == nil || c.API.Address == "" {
		return defaultAPIAddress
	}
	return c.API.Address
}

// GetMirrorPollInterval returns the mirror poll interval
func (c *Config) GetMirrorPollInterval() time.Duration {
	if c.Mirror == nil {
		return defaultMirrorPollInterval
	}
	return durationOr(c.Mirror.PollInterval, defaultMirrorPollInterval)
}

// GetTaskPollInterval returns how often build system tasks are polled
func (b *BuildSystemConfig) GetTaskPollInterval() time.Duration {
	return durationOr(b.TaskPollInterval, defaultTaskPollInterval)
}

// GetCommand returns the compose tool executable
func (t *ComposeToolConfig) GetCommand() string {
	if t.Command == "" {
		return defaultComposeToolCommand
	}
	return t.Command
}

// GetLabelType returns the compose label prefix
func (t *ComposeToolConfig) GetLabelType() string {
	if t.LabelType == "" {
		return defaultLabelType
	}
	return t.LabelType
}

// GetStartupGrace returns how long to watch for an early exit
func (t *ComposeToolConfig) GetStartupGrace() time.Duration {
	return durationOr(t.StartupGrace, defaultStartupGrace)
}

// GetTemplate returns the configuration template for a content type
func (t *ComposeToolConfig) GetTemplate(ct models.ContentType) string {
	if ct == models.ContentModule {
		return stringOr(t.ModuleTemplate, "pungi.module.conf")
	}
	return stringOr(t.RPMTemplate, "pungi.rpm.conf")
}

// GetVariantsTemplate returns the variants template for a content type
func (t *ComposeToolConfig) GetVariantsTemplate(ct models.ContentType) string {
	if ct == models.ContentModule {
		return stringOr(t.ModuleVariants, "variants.module.xml")
	}
	return stringOr(t.RPMVariants, "variants.rpm.xml")
}

// GetCommand returns the image copy executable
func (t *ContainerToolConfig) GetCommand() string {
	if t.Command == "" {
		return defaultContainerToolCommand
	}
	return t.Command
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.ComposeDir == "" {
		return fmt.Errorf("composeDir is required")
	}

	if c.BuildSystem.URL == "" {
		return fmt.Errorf("buildSystem.url is required")
	}

	durations := map[string]string{
		"signaturePollInterval":        c.SignaturePollInterval,
		"composeTool.startupGrace":     c.ComposeTool.StartupGrace,
		"buildSystem.taskPollInterval": c.BuildSystem.TaskPollInterval,
	}
	if c.Mirror != nil {
		durations["mirror.pollInterval"] = c.Mirror.PollInterval
	}
	if c.Storage != nil {
		durations["storage.watchInterval"] = c.Storage.WatchInterval
	}
	for name, value := range durations {
		if err := validateDuration(name, value); err != nil {
			return err
		}
	}

	switch c.GetStorageType() {
	case StorageTypeFile:
	case StorageTypeDatabase:
		if c.Database == nil {
			return fmt.Errorf("storage.type %q requires a database section", StorageTypeDatabase)
		}
	default:
		return fmt.Errorf("storage.type must be %q or %q, got %q", StorageTypeFile, StorageTypeDatabase, c.Storage.Type)
	}

	switch c.GetNotificationsBackend() {
	case NotificationsLog:
	case NotificationsRedis:
		if c.Notifications.Redis == nil || c.Notifications.Redis.Address == "" {
			return fmt.Errorf("notifications.redis.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("notifications.backend must be %q or %q, got %q",
			NotificationsLog, NotificationsRedis, c.Notifications.Backend)
	}

	seen := make(map[string]bool)
	for i, r := range c.Releases {
		if r.Name == "" {
			return fmt.Errorf("releases[%d]: name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("releases[%d]: duplicate release name '%s'", i, r.Name)
		}
		seen[r.Name] = true
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

func validateDuration(name, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '5m'): %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}
