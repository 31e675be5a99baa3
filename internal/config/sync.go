package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/banshee-data/spaceshare/internal/fsutil"
)

// DefaultConfigPath is the path to the canonical sync defaults file.
const DefaultConfigPath = "config/spaceshare.defaults.json"

// Roles a device may take in the sharing protocol.
const (
	RolePublisher  = "publisher"
	RoleSubscriber = "subscriber"
	RoleBoth       = "both"
)

// SyncConfig is the root configuration for a device and the relay.
// Every field is optional; the Get* accessors supply defaults for anything
// left unset so partial files are safe.
type SyncConfig struct {
	// Device identity and role
	DeviceID *string `json:"device_id,omitempty" toml:"device_id"`
	Role     *string `json:"role,omitempty" toml:"role"`

	// Relay endpoints
	PublishURL *string `json:"publish_url,omitempty" toml:"publish_url"`
	PollURL    *string `json:"poll_url,omitempty" toml:"poll_url"`

	// Timing (duration strings like "500ms")
	PollInterval   *string `json:"poll_interval,omitempty" toml:"poll_interval"`
	FetchTimeout   *string `json:"fetch_timeout,omitempty" toml:"fetch_timeout"`
	PublishTimeout *string `json:"publish_timeout,omitempty" toml:"publish_timeout"`

	// CacheBust appends t=<unix seconds> to every poll URL.
	CacheBust *bool `json:"cache_bust,omitempty" toml:"cache_bust"`

	// Relay server
	RelayListen  *string `json:"relay_listen,omitempty" toml:"relay_listen"`
	RelayDB      *string `json:"relay_db,omitempty" toml:"relay_db"`
	HistoryLimit *int    `json:"history_limit,omitempty" toml:"history_limit"`

	// DebugListen is the address of the device's debug HTTP server; empty disables it.
	DebugListen *string `json:"debug_listen,omitempty" toml:"debug_listen"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptySyncConfig returns a SyncConfig with all fields set to nil.
func EmptySyncConfig() *SyncConfig {
	return &SyncConfig{}
}

// LoadSyncConfig loads a SyncConfig from a .json or .toml file on disk.
func LoadSyncConfig(path string) (*SyncConfig, error) {
	return LoadSyncConfigFS(fsutil.OSFileSystem{}, path)
}

// LoadSyncConfigFS loads a SyncConfig from fsys.
// The file is validated to ensure it has a supported extension and is under
// the max file size.
func LoadSyncConfigFS(fsys fsutil.FileSystem, path string) (*SyncConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySyncConfig()
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *SyncConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	fsys := fsutil.OSFileSystem{}
	for _, path := range candidates {
		if !fsys.Exists(path) {
			continue
		}
		cfg, err := LoadSyncConfigFS(fsys, path)
		if err != nil {
			panic(fmt.Sprintf("invalid %s: %v", path, err))
		}
		return cfg
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *SyncConfig) Validate() error {
	if c.Role != nil {
		switch *c.Role {
		case RolePublisher, RoleSubscriber, RoleBoth:
		default:
			return fmt.Errorf("role must be one of %q, %q, %q, got %q", RolePublisher, RoleSubscriber, RoleBoth, *c.Role)
		}
	}

	for name, v := range map[string]*string{"publish_url": c.PublishURL, "poll_url": c.PollURL} {
		if v == nil || *v == "" {
			continue
		}
		u, err := url.Parse(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s must be an http(s) URL, got '%s'", name, *v)
		}
	}

	for name, v := range map[string]*string{
		"poll_interval":   c.PollInterval,
		"fetch_timeout":   c.FetchTimeout,
		"publish_timeout": c.PublishTimeout,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.HistoryLimit != nil && *c.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must be non-negative, got %d", *c.HistoryLimit)
	}

	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetDeviceID returns the configured device ID or a fresh random one.
func (c *SyncConfig) GetDeviceID() string {
	if c.DeviceID == nil || *c.DeviceID == "" {
		id := uuid.NewString()
		c.DeviceID = &id
	}
	return *c.DeviceID
}

// GetRole returns the configured role or RoleBoth.
func (c *SyncConfig) GetRole() string {
	if c.Role == nil || *c.Role == "" {
		return RoleBoth
	}
	return *c.Role
}

// GetPublishURL returns the publish endpoint.
func (c *SyncConfig) GetPublishURL() string {
	if c.PublishURL == nil || *c.PublishURL == "" {
		return "http://localhost:8086/spaces/default"
	}
	return *c.PublishURL
}

// GetPollURL returns the poll endpoint, defaulting to the publish endpoint.
func (c *SyncConfig) GetPollURL() string {
	if c.PollURL == nil || *c.PollURL == "" {
		return c.GetPublishURL()
	}
	return *c.PollURL
}

// GetPollInterval returns the subscriber poll cadence.
func (c *SyncConfig) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, 500*time.Millisecond)
}

// GetFetchTimeout returns the bound on a single poll request.
func (c *SyncConfig) GetFetchTimeout() time.Duration {
	return parseDurationOr(c.FetchTimeout, 5*time.Second)
}

// GetPublishTimeout returns the bound on a single publish request.
func (c *SyncConfig) GetPublishTimeout() time.Duration {
	return parseDurationOr(c.PublishTimeout, 5*time.Second)
}

// GetCacheBust returns the cache_bust value or the default.
func (c *SyncConfig) GetCacheBust() bool {
	if c.CacheBust == nil {
		return true
	}
	return *c.CacheBust
}

// GetRelayListen returns the relay listen address.
func (c *SyncConfig) GetRelayListen() string {
	if c.RelayListen == nil || *c.RelayListen == "" {
		return ":8086"
	}
	return *c.RelayListen
}

// GetRelayDB returns the relay sqlite path; empty selects the in-memory store.
func (c *SyncConfig) GetRelayDB() string {
	if c.RelayDB == nil {
		return ""
	}
	return *c.RelayDB
}

// GetHistoryLimit returns how many past payloads the relay keeps per room.
func (c *SyncConfig) GetHistoryLimit() int {
	if c.HistoryLimit == nil {
		return 50
	}
	return *c.HistoryLimit
}

// GetDebugListen returns the device debug listen address.
func (c *SyncConfig) GetDebugListen() string {
	if c.DebugListen == nil {
		return ""
	}
	return *c.DebugListen
}
