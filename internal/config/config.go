package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "sketchroomd.cfg.json"

// MemoryConfig holds in-memory storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// FileConfig holds settings of the one-file-per-room backend.
type FileConfig struct {
	Dir string `json:"dir" mapstructure:"dir"`
}

// SQLiteConfig holds SQLite backend settings. An empty Path keeps the
// database in memory and dumps it to DumpPath every DumpInterval.
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig holds the connection settings of the Postgres backend.
type PostgresConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	SSLMode  string
}

// DSN builds a libpq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=%s`,
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// RemoteConfig points the remote backend at a sketchroomd API.
type RemoteConfig struct {
	ServerURL string
	APIKey    string
	Timeout   time.Duration
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Type         string
	PollInterval time.Duration
	Memory       MemoryConfig
	File         FileConfig
	SQLite       SQLiteConfig
	Postgres     PostgresConfig
	Remote       RemoteConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Listen          string
	ShutdownTimeout time.Duration
	MailboxSize     int
}

// CanvasConfig sets the logical canvas size used for server-side rendering.
type CanvasConfig struct {
	Width         int
	Height        int
	ThumbnailSize int
}

// SessionConfig tunes per-participant whiteboard sessions.
type SessionConfig struct {
	SaveDebounce    time.Duration
	OrderBySequence bool
	QueueSize       int
	CursorThrottle  time.Duration
	CursorTTL       time.Duration
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// InfluxConfig holds InfluxDB settings for relay statistics.
type InfluxConfig struct {
	Enabled  bool
	Protocol string
	Host     string
	Port     string
	Token    string
	Org      string
	Interval time.Duration
}

// URL returns the InfluxDB base URL.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// DiscoveryConfig controls LAN advertisement of the relay.
type DiscoveryConfig struct {
	Enabled  bool
	Instance string
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.shutdownTimeout", "10s")
	viper.SetDefault("server.mailboxSize", 256)

	viper.SetDefault("api.serverUrl", "http://localhost:8080")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.timeout", "15s")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "sketchroom")
	viper.SetDefault("db.sslmode", "disable")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.pollInterval", "2s")
	viper.SetDefault("storage.memory.outputDir", "")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.file.dir", "./rooms")
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpPath", "./sketchroom.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("canvas.width", 1280)
	viper.SetDefault("canvas.height", 720)
	viper.SetDefault("canvas.thumbnailSize", 256)

	viper.SetDefault("session.saveDebounce", "0s")
	viper.SetDefault("session.orderBySequence", false)
	viper.SetDefault("session.queueSize", 1024)
	viper.SetDefault("session.cursorThrottle", "0s")
	viper.SetDefault("session.cursorTTL", "30s")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "sketchroomd")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "sketchroom")
	viper.SetDefault("influx.interval", "10s")

	viper.SetDefault("discovery.enabled", false)
	viper.SetDefault("discovery.instance", "")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStorageConfig returns the persistence settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:         viper.GetString("storage.type"),
		PollInterval: viper.GetDuration("storage.pollInterval"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		File: FileConfig{
			Dir: viper.GetString("storage.file.dir"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
			SSLMode:  viper.GetString("db.sslmode"),
		},
		Remote: RemoteConfig{
			ServerURL: viper.GetString("api.serverUrl"),
			APIKey:    viper.GetString("api.apiKey"),
			Timeout:   viper.GetDuration("api.timeout"),
		},
	}
}

// GetServerConfig returns the HTTP listener settings.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Listen:          viper.GetString("server.listen"),
		ShutdownTimeout: viper.GetDuration("server.shutdownTimeout"),
		MailboxSize:     viper.GetInt("server.mailboxSize"),
	}
}

// GetCanvasConfig returns the render size settings.
func GetCanvasConfig() CanvasConfig {
	return CanvasConfig{
		Width:         viper.GetInt("canvas.width"),
		Height:        viper.GetInt("canvas.height"),
		ThumbnailSize: viper.GetInt("canvas.thumbnailSize"),
	}
}

// GetSessionConfig returns the per-session tuning.
func GetSessionConfig() SessionConfig {
	return SessionConfig{
		SaveDebounce:    viper.GetDuration("session.saveDebounce"),
		OrderBySequence: viper.GetBool("session.orderBySequence"),
		QueueSize:       viper.GetInt("session.queueSize"),
		CursorThrottle:  viper.GetDuration("session.cursorThrottle"),
		CursorTTL:       viper.GetDuration("session.cursorTTL"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Interval: viper.GetDuration("influx.interval"),
	}
}

// GetDiscoveryConfig returns the mDNS settings.
func GetDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Enabled:  viper.GetBool("discovery.enabled"),
		Instance: viper.GetString("discovery.instance"),
	}
}
