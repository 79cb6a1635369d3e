package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/c2h5oh/datasize"
)

// Config represents the main configuration for trd.
type Config struct {
	InstanceID string           `toml:"instance_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Database   DatabaseConfig   `toml:"database"`
	Engine     EngineConfig     `toml:"engine"`
	Outbound   OutboundConfig   `toml:"outbound"`
	Encryption EncryptionConfig `toml:"encryption"`
	Limits     LimitsConfig     `toml:"limits"`
	Selection  SelectionConfig  `toml:"selection"`
	Reconcile  ReconcileConfig  `toml:"reconcile"`
	Delivery   DeliveryConfig   `toml:"delivery"`
	API        APIConfig        `toml:"api"`
	Watch      WatchConfig      `toml:"watch"`
}

// Duration wraps time.Duration so it can be written as "60s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// DatabaseConfig represents configuration for the registry database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "postgres" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// EngineConfig represents configuration for the external download engine.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type EngineConfig struct {
	Type string `toml:"type"` // "qbittorrent", "embedded" or "memory"

	// qBittorrent Web API fields (only used when Type == "qbittorrent")
	Host          string `toml:"host,omitempty"`
	Username      string `toml:"username,omitempty"`
	Password      string `toml:"password,omitempty"`
	TLSSkipVerify bool   `toml:"tls_skip_verify,omitempty"`
	Timeout       int    `toml:"timeout,omitempty"` // seconds

	// SavePath is where the engine writes data, as seen by the engine.
	SavePath string `toml:"save_path"`
	// HostSavePath is the same directory as seen by this process. The
	// embedded engine runs in this process and downloads straight into it.
	HostSavePath string `toml:"host_save_path"`

	MetadataAttempts int      `toml:"metadata_attempts"`
	MetadataDelay    Duration `toml:"metadata_delay"`
	PriorityAttempts int      `toml:"priority_attempts"`
}

// OutboundConfig represents configuration for the delivery channel.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type OutboundConfig struct {
	Type string `toml:"type"` // "filesystem", "s3" or "memory"

	// Filesystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`

	// S3Endpoint points at an S3-compatible service such as MinIO.
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// Encrypt seals every delivered artifact with the configured encryptor.
	Encrypt bool `toml:"encrypt"`
}

// EncryptionConfig holds paths to the age key pair used to seal deliveries.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// LimitsConfig holds admission and size policy.
type LimitsConfig struct {
	MaxTorrentSize    datasize.ByteSize `toml:"max_torrent_size"`
	MaxActiveTorrents int               `toml:"max_active_torrents"`
}

type SelectionConfig struct {
	FilesPerPage int `toml:"files_per_page"`
}

type ReconcileConfig struct {
	Interval Duration `toml:"interval"`
}

// DeliveryConfig controls the delivery workers.
type DeliveryConfig struct {
	Workers       int      `toml:"workers"`
	ArchiveDir    string   `toml:"archive_dir"`
	MaxAttempts   int      `toml:"max_attempts"`
	RetryBackoff  Duration `toml:"retry_backoff"`
	RatePerMinute int      `toml:"rate_per_minute"` // negative for unlimited
	PollInterval  Duration `toml:"poll_interval"`
}

type APIConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// WatchConfig configures the drop folder. An empty Dir disables it.
type WatchConfig struct {
	Dir string `toml:"dir"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(instanceID, baseDir string) *Config {
	cfg := &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Engine: EngineConfig{
			Type:         "qbittorrent",
			Host:         "http://localhost:8080",
			Username:     "admin",
			SavePath:     "/downloads",
			HostSavePath: filepath.Join(baseDir, "downloads"),
		},
		Outbound: OutboundConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "outbox"),
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "trd.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "trd.key"),
		},
		Delivery: DeliveryConfig{
			ArchiveDir: filepath.Join(baseDir, "archives"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued settings with their defaults.
func (c *Config) ApplyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.Engine.MetadataAttempts <= 0 {
		c.Engine.MetadataAttempts = 12
	}
	if c.Engine.MetadataDelay.Duration <= 0 {
		c.Engine.MetadataDelay.Duration = 5 * time.Second
	}
	if c.Engine.PriorityAttempts <= 0 {
		c.Engine.PriorityAttempts = 5
	}
	if c.Engine.Timeout <= 0 {
		c.Engine.Timeout = 30
	}
	if c.Limits.MaxTorrentSize == 0 {
		c.Limits.MaxTorrentSize = 2 * datasize.GB
	}
	if c.Limits.MaxActiveTorrents <= 0 {
		c.Limits.MaxActiveTorrents = 3
	}
	if c.Selection.FilesPerPage <= 0 {
		c.Selection.FilesPerPage = 10
	}
	if c.Reconcile.Interval.Duration <= 0 {
		c.Reconcile.Interval.Duration = 60 * time.Second
	}
	if c.Delivery.Workers <= 0 {
		c.Delivery.Workers = 2
	}
	if c.Delivery.ArchiveDir == "" {
		c.Delivery.ArchiveDir = os.TempDir()
	}
	if c.Delivery.MaxAttempts <= 0 {
		c.Delivery.MaxAttempts = 5
	}
	if c.Delivery.RetryBackoff.Duration <= 0 {
		c.Delivery.RetryBackoff.Duration = time.Minute
	}
	if c.Delivery.RatePerMinute == 0 {
		c.Delivery.RatePerMinute = 20
	}
	if c.Delivery.PollInterval.Duration <= 0 {
		c.Delivery.PollInterval.Duration = 5 * time.Second
	}
	if c.API.Addr == "" {
		c.API.Addr = "127.0.0.1:8099"
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Defaults are applied to
// anything the file leaves unset.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
