package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Microscope  MicroscopeConfig  `mapstructure:"microscope"`
	Hardware    HardwareConfig    `mapstructure:"hardware"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Display     DisplayConfig     `mapstructure:"display"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Database       string        `mapstructure:"database"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	MaxConnections int           `mapstructure:"max_connections"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Auth Configuration
type AuthConfig struct {
	Enabled        bool             `mapstructure:"enabled"`
	JWTSecretEnv   string           `mapstructure:"jwt_secret_env"`
	AccessTokenTTL time.Duration    `mapstructure:"access_token_ttl"`
	Operators      []OperatorConfig `mapstructure:"operators"`
}

// OperatorConfig is a login allowed to drive the microscope. PasswordHash is
// an argon2id encoded hash as produced by cmd/hashpw.
type OperatorConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// MicroscopeConfig carries the startup values and the allowed option sets
// and ranges of every state parameter.
type MicroscopeConfig struct {
	Parameters     map[string]ParamConfig `mapstructure:"parameters"`
	LoadPosition   float64                `mapstructure:"load_position"`
	UnloadPosition float64                `mapstructure:"unload_position"`
}

// ParamConfig describes one state parameter. Type is one of float, int,
// string, enum, bool.
type ParamConfig struct {
	Type    string   `mapstructure:"type"`
	Default any      `mapstructure:"default"`
	Options []string `mapstructure:"options"`
	Min     *float64 `mapstructure:"min"`
	Max     *float64 `mapstructure:"max"`
}

type HardwareConfig struct {
	Sim      SimConfig     `mapstructure:"sim"`
	Shutters ShutterConfig `mapstructure:"shutters"`
}

type SimConfig struct {
	// StageSpeed in length units per second, 0 moves instantly
	StageSpeed  float64       `mapstructure:"stage_speed"`
	FrameWidth  int           `mapstructure:"frame_width"`
	FrameHeight int           `mapstructure:"frame_height"`
	CaptureTime time.Duration `mapstructure:"capture_time"`
}

// ShutterConfig configures the Modbus/TCP coupler driving the shutter lines.
type ShutterConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	Address        string            `mapstructure:"address"`
	UnitID         int               `mapstructure:"unit_id"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	ConnectTimeout time.Duration     `mapstructure:"connect_timeout"`
	Coils          map[string]uint16 `mapstructure:"coils"`
}

type AcquisitionConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	ListPath  string `mapstructure:"list_path"`
}

type DisplayConfig struct {
	MaxFPS float64 `mapstructure:"max_fps"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 4)
	v.SetDefault("database.connect_timeout", "10s")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "SPIM_JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "12h")

	v.SetDefault("microscope.load_position", 0.0)
	v.SetDefault("microscope.unload_position", 40000.0)

	v.SetDefault("hardware.sim.stage_speed", 0.0)
	v.SetDefault("hardware.sim.frame_width", 64)
	v.SetDefault("hardware.sim.frame_height", 64)
	v.SetDefault("hardware.sim.capture_time", "0s")
	v.SetDefault("hardware.shutters.enabled", false)
	v.SetDefault("hardware.shutters.unit_id", 1)
	v.SetDefault("hardware.shutters.timeout", "1s")
	v.SetDefault("hardware.shutters.connect_timeout", "5s")

	v.SetDefault("acquisition.output_dir", "")
	v.SetDefault("display.max_fps", 20.0)
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("SPIM") // SPIM_SERVER_HTTP_PORT etc.

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return decode(v)
}

// Default returns the bench configuration used when no config file is given:
// simulated hardware, no database, no auth.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// defaults are static, a decode failure is a programming error
		panic(err)
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Microscope.Parameters = mergeParameters(config.Microscope.Parameters)
	return &config, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// GetJWTSecret loads the signing secret from the configured environment variable.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "SPIM_JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}
