package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Mode           string        `mapstructure:"mode" validate:"oneof=debug release test"`
	Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
	StaticPath     string        `mapstructure:"static_path"`
	ReadLimit      int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod     time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	Secret         string        `mapstructure:"secret" validate:"required"`
	LogLevel       string        `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	ICEServers     []string      `mapstructure:"ice_servers"`
	ICELoopback    bool          `mapstructure:"ice_loopback"`
	JoinRateLimit  int           `mapstructure:"join_rate_limit" validate:"gt=0"`
	JoinRateWindow time.Duration `mapstructure:"join_rate_window" validate:"gt=0"`
	Client         ClientConfig  `mapstructure:"client"`
}

// ClientConfig configures cmd/client.
type ClientConfig struct {
	SignalURL    string         `mapstructure:"signal_url" validate:"required,url"`
	Room         string         `mapstructure:"room" validate:"max=36"`
	Name         string         `mapstructure:"name" validate:"max=36"`
	RoomMode     string         `mapstructure:"room_mode" validate:"oneof=mesh sfu"`
	DeviceSource string         `mapstructure:"device_source" validate:"oneof=static devfs"`
	DevfsRoot    string         `mapstructure:"devfs_root"`
	Devices      []DeviceConfig `mapstructure:"devices" validate:"dive"`
}

type DeviceConfig struct {
	ID    string `mapstructure:"id" validate:"required"`
	Label string `mapstructure:"label"`
	Kind  string `mapstructure:"kind" validate:"oneof=video audio"`
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"port":          "port",
	"log-level":     "log_level",
	"room":          "client.room",
	"name":          "client.name",
	"mode":          "client.room_mode",
	"signal-url":    "client.signal_url",
	"device-source": "client.device_source",
}

// NewFlagSet declares the flags Load understands.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Int("port", 0, "HTTP listen port")
	fs.String("log-level", "", "log level (trace, debug, info, warn, error)")
	fs.String("room", "", "room to join")
	fs.String("name", "", "display name in the room")
	fs.String("mode", "", "room mode (mesh, sfu)")
	fs.String("signal-url", "", "signaling websocket url")
	fs.String("device-source", "", "capture device source (static, devfs)")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice_loopback", false)
	v.SetDefault("join_rate_limit", 5)
	v.SetDefault("join_rate_window", "10s")
	v.SetDefault("client.signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("client.room", "")
	v.SetDefault("client.name", "")
	v.SetDefault("client.room_mode", "sfu")
	v.SetDefault("client.device_source", "static")
	v.SetDefault("client.devfs_root", "/")
	v.SetDefault("client.devices", []map[string]string{
		{"id": "video0", "label": "Synthetic camera", "kind": "video"},
		{"id": "audio0", "label": "Synthetic microphone", "kind": "audio"},
	})
}

// Load reads config/config.<CONFIG_ENV>.yaml, then CONF_* environment
// variables, then flags that were set on fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)
	v.SetEnvPrefix("CONF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

// Level returns the zerolog level named by LogLevel.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
