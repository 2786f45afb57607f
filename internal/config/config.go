// Package config loads meshrouter node configuration from a file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
)

// EnvPrefix prefixes every environment override, e.g. MESHROUTER_LOG_LEVEL=debug
const EnvPrefix = "MESHROUTER"

const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

var (
	// ErrEmptyNodeID is returned when node_id is empty
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
	// ErrInvalidStoreBackend is returned for an unknown store.backend
	ErrInvalidStoreBackend = errors.New("store backend must be memory or badger")
	// ErrMissingStorePath is returned when the badger backend has no path
	ErrMissingStorePath = errors.New("store path is required for the badger backend")
	// ErrMissingIncomingAddress is returned when parents are configured without an incoming address
	ErrMissingIncomingAddress = errors.New("routing.incoming_address is required when a parent is configured")
	// ErrMissingParentAddress is returned when parents are configured without a parent address
	ErrMissingParentAddress = errors.New("routing.parent_address is required when a parent is configured")
	// ErrMissingAdminSecret is returned when the admin API is enabled with auth but no secret
	ErrMissingAdminSecret = errors.New("admin.secret_key is required unless admin.no_auth is set")
)

// Config is the root node configuration.
type Config struct {
	// NodeID names this node in logs and health output
	NodeID string `mapstructure:"node_id"`

	// InstanceID prefixes persistent store keys; defaults to NodeID
	InstanceID string `mapstructure:"instance_id"`

	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// StoreConfig selects the persistent address store
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// RoutingConfig holds the router and parent link settings.
type RoutingConfig struct {
	// GRPCListen is where this node serves the routing service to child routers.
	// Empty disables the service.
	GRPCListen string `mapstructure:"grpc_listen"`

	// ParentEndpoints are candidate host:port addresses of the parent routing service.
	// Empty makes this node the root of the topology.
	ParentEndpoints []string `mapstructure:"parent_endpoints"`

	// SecretKey signs tokens between child and parent routers. Empty disables auth.
	SecretKey string `mapstructure:"secret_key"`

	// IncomingAddress is how the parent reaches this node, e.g. wsclient:leaf-1
	IncomingAddress string `mapstructure:"incoming_address"`

	// ParentAddress is how this node reaches its parent, e.g. ws://hub:4242/ws
	ParentAddress string `mapstructure:"parent_address"`

	// ReplyToAddress is the serialized address stamped on outgoing requests.
	// When empty it is fetched from the parent.
	ReplyToAddress string `mapstructure:"reply_to_address"`

	MulticastFanout   int           `mapstructure:"multicast_fanout"`
	ParentCallTimeout time.Duration `mapstructure:"parent_call_timeout"`
	AttachBackoff     time.Duration `mapstructure:"attach_backoff"`
	AttachBackoffMax  time.Duration `mapstructure:"attach_backoff_max"`

	Queue QueueConfig `mapstructure:"queue"`
}

// QueueConfig bounds the queue of messages for not yet known participants
type QueueConfig struct {
	MaxPerParticipant int           `mapstructure:"max_per_participant"`
	PurgeInterval     time.Duration `mapstructure:"purge_interval"`
}

// WebSocketConfig configures the websocket server for connecting clients.
type WebSocketConfig struct {
	// Listen is host:port; empty disables the server
	Listen string `mapstructure:"listen"`
	Path   string `mapstructure:"path"`
}

// AdminConfig configures the admin HTTP API.
type AdminConfig struct {
	// Listen is host:port; empty disables the API
	Listen    string `mapstructure:"listen"`
	SecretKey string `mapstructure:"secret_key"`
	NoAuth    bool   `mapstructure:"no_auth"`
}

// MetricsConfig toggles prometheus collection
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default returns a Config for a standalone root node.
func Default() *Config {
	return &Config{
		NodeID: "meshrouter-1",
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Store: StoreConfig{Backend: StoreMemory},
		Routing: RoutingConfig{
			MulticastFanout:   16,
			ParentCallTimeout: 30 * time.Second,
			AttachBackoff:     500 * time.Millisecond,
			AttachBackoffMax:  30 * time.Second,
			Queue: QueueConfig{
				MaxPerParticipant: 1000,
				PurgeInterval:     time.Minute,
			},
		},
		WebSocket: WebSocketConfig{Path: "/ws"},
		Metrics:   MetricsConfig{Enabled: true},
	}
}

// Load reads configuration from path, or from meshrouter.yaml in the usual locations
// when path is empty, and applies MESHROUTER_ environment overrides.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("meshrouter")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".meshrouter"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Comma separated env values arrive as a single element
	if len(cfg.Routing.ParentEndpoints) == 1 && strings.Contains(cfg.Routing.ParentEndpoints[0], ",") {
		cfg.Routing.ParentEndpoints = splitList(cfg.Routing.ParentEndpoints[0])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seeds every key so env-only configs work
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("node_id", cfg.NodeID)
	v.SetDefault("instance_id", cfg.InstanceID)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.path", cfg.Store.Path)

	v.SetDefault("routing.grpc_listen", cfg.Routing.GRPCListen)
	v.SetDefault("routing.parent_endpoints", cfg.Routing.ParentEndpoints)
	v.SetDefault("routing.secret_key", cfg.Routing.SecretKey)
	v.SetDefault("routing.incoming_address", cfg.Routing.IncomingAddress)
	v.SetDefault("routing.parent_address", cfg.Routing.ParentAddress)
	v.SetDefault("routing.reply_to_address", cfg.Routing.ReplyToAddress)
	v.SetDefault("routing.multicast_fanout", cfg.Routing.MulticastFanout)
	v.SetDefault("routing.parent_call_timeout", cfg.Routing.ParentCallTimeout)
	v.SetDefault("routing.attach_backoff", cfg.Routing.AttachBackoff)
	v.SetDefault("routing.attach_backoff_max", cfg.Routing.AttachBackoffMax)
	v.SetDefault("routing.queue.max_per_participant", cfg.Routing.Queue.MaxPerParticipant)
	v.SetDefault("routing.queue.purge_interval", cfg.Routing.Queue.PurgeInterval)

	v.SetDefault("websocket.listen", cfg.WebSocket.Listen)
	v.SetDefault("websocket.path", cfg.WebSocket.Path)

	v.SetDefault("admin.listen", cfg.Admin.Listen)
	v.SetDefault("admin.secret_key", cfg.Admin.SecretKey)
	v.SetDefault("admin.no_auth", cfg.Admin.NoAuth)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
}

// Validate checks the configuration and fills in derived defaults.
func (c *Config) Validate() error {
	c.NodeID = strings.TrimSpace(c.NodeID)
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if strings.TrimSpace(c.InstanceID) == "" {
		c.InstanceID = c.NodeID
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case "":
		c.Store.Backend = StoreMemory
	case StoreMemory:
	case StoreBadger:
		if c.Store.Path == "" {
			return ErrMissingStorePath
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStoreBackend, c.Store.Backend)
	}

	if c.Routing.MulticastFanout < 1 {
		c.Routing.MulticastFanout = 1
	}
	if c.Routing.Queue.MaxPerParticipant < 0 {
		return fmt.Errorf("invalid routing.queue.max_per_participant: %d", c.Routing.Queue.MaxPerParticipant)
	}

	if c.HasParent() {
		if c.Routing.IncomingAddress == "" {
			return ErrMissingIncomingAddress
		}
		if c.Routing.ParentAddress == "" {
			return ErrMissingParentAddress
		}
	}
	if c.Routing.IncomingAddress != "" {
		if _, err := address.Parse(c.Routing.IncomingAddress); err != nil {
			return fmt.Errorf("invalid routing.incoming_address: %w", err)
		}
	}
	if c.Routing.ParentAddress != "" {
		if _, err := address.Parse(c.Routing.ParentAddress); err != nil {
			return fmt.Errorf("invalid routing.parent_address: %w", err)
		}
	}

	if c.WebSocket.Path == "" {
		c.WebSocket.Path = "/ws"
	}
	if c.Admin.Listen != "" && !c.Admin.NoAuth && c.Admin.SecretKey == "" {
		return ErrMissingAdminSecret
	}
	return nil
}

// HasParent reports whether parent endpoints are configured
func (c *Config) HasParent() bool {
	return len(c.Routing.ParentEndpoints) > 0
}

// IncomingAddress returns the parsed routing.incoming_address, or nil when unset.
func (c *Config) IncomingAddress() (address.Address, error) {
	if c.Routing.IncomingAddress == "" {
		return nil, nil
	}
	return address.Parse(c.Routing.IncomingAddress)
}

// ParentAddress returns the parsed routing.parent_address, or nil when unset.
func (c *Config) ParentAddress() (address.Address, error) {
	if c.Routing.ParentAddress == "" {
		return nil, nil
	}
	return address.Parse(c.Routing.ParentAddress)
}

// WithNodeID sets the node id
func (c *Config) WithNodeID(nodeID string) *Config {
	c.NodeID = nodeID
	return c
}

// WithStore sets the store backend and path
func (c *Config) WithStore(backend, path string) *Config {
	c.Store = StoreConfig{Backend: backend, Path: path}
	return c
}

// WithParent makes this node a child of the routing service at endpoints.
func (c *Config) WithParent(incoming, parent string, endpoints ...string) *Config {
	c.Routing.IncomingAddress = incoming
	c.Routing.ParentAddress = parent
	c.Routing.ParentEndpoints = endpoints
	return c
}

// WithGRPCListen enables the routing service for child routers
func (c *Config) WithGRPCListen(listen string) *Config {
	c.Routing.GRPCListen = listen
	return c
}

// WithWebSocket enables the websocket server
func (c *Config) WithWebSocket(listen, path string) *Config {
	c.WebSocket = WebSocketConfig{Listen: listen, Path: path}
	return c
}

// WithAdmin enables the admin API. An empty secret disables authentication.
func (c *Config) WithAdmin(listen, secretKey string) *Config {
	c.Admin = AdminConfig{Listen: listen, SecretKey: secretKey, NoAuth: secretKey == ""}
	return c
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
