package core

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to any of the
// Dalang server components.
type Config struct {
	// Hostname or IP address on which the servers will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Port on which the WebSocket server will listen.
	Port int `mapstructure:"port"`
	// Maximum number of concurrent connections the server will allow.
	MaxConnections int `mapstructure:"max_connections"`

	Logging struct {
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"logging"`

	Database struct {
		// Backing engine for the server's own storage: sqlite or postgres.
		Engine string `mapstructure:"engine"`
		// Path to the SQLite database file (engine = sqlite).
		File string `mapstructure:"file"`
		// Connection parameters for the Postgres instance (engine = postgres).
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Name     string `mapstructure:"name"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Auth struct {
		// Which Authenticator implementation to use: local or remote.
		Backend string `mapstructure:"backend"`
		// Base URL of the credential service (backend = remote).
		RemoteAddress string `mapstructure:"remote_address"`
		// Whether new accounts may be registered through this server.
		AllowRegistration bool `mapstructure:"allow_registration"`
	} `mapstructure:"auth"`

	AuthService struct {
		// Port on which the credential service will listen.
		Port int `mapstructure:"port"`
	} `mapstructure:"auth_service"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		Enabled bool `mapstructure:"enabled"`
		// Port on which a pprof/metrics server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Log decoded packets to stdout.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "DALANG"

// LoadConfig initializes Viper with the contents of the config file under configPath.
func LoadConfig(configPath string) (*Config, error) {
	viper.AddConfigPath(configPath)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envVarPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file in path %s: %w", configPath, err)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: DALANG_DATABASE_HOST
	for _, k := range viper.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := viper.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	return config, nil
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a Postgres DSN generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// ListenAddress returns the address on which the WebSocket server listens.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

// AuthServiceAddress returns the address on which the credential service listens.
func (c *Config) AuthServiceAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.AuthService.Port)
}
