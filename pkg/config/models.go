package config

import "time"

type Config struct {
	Server     ServerConfig
	Transport  TransportConfig
	Presence   PresenceConfig
	Supervisor SupervisorConfig
	Catalog    CatalogConfig
	LogLevel   string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
	// MaxConnections caps the registry size; 0 means unlimited.
	MaxConnections int `mapstructure:"maxConnections"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout   time.Duration `mapstructure:"readTimeout"`
	SendQueueSize int           `mapstructure:"sendQueueSize"`
}

type PresenceConfig struct {
	// EditorTTL is how long an editor stays visible on a cell after their
	// last edit or heartbeat.
	EditorTTL time.Duration `mapstructure:"editorTTL"`
}

type SupervisorConfig struct {
	TickInterval      time.Duration `mapstructure:"tickInterval"`
	ConnectionTimeout time.Duration `mapstructure:"connectionTimeout"`
}

type CatalogConfig struct {
	// BaseURL of the persistence API used to resolve key ownership.
	BaseURL        string        `mapstructure:"baseURL"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
}
