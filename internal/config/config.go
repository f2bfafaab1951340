package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "HUB"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	SendBuffer int           `mapstructure:"send_buffer"`
	RateLimit  int           `mapstructure:"rate_limit"`

	ICEServers    []string      `mapstructure:"ice_servers"`
	PLIInterval   time.Duration `mapstructure:"pli_interval"`
	OffsetTimeout time.Duration `mapstructure:"offset_timeout"`

	GpuPort         int           `mapstructure:"gpu_port"`
	GpuURL          string        `mapstructure:"gpu_url"`
	GpuTimeout      time.Duration `mapstructure:"gpu_timeout"`
	GpuRetries      int           `mapstructure:"gpu_retries"`
	GpuRetryBackoff time.Duration `mapstructure:"gpu_retry_backoff"`
	PushWorkers     int           `mapstructure:"push_workers"`

	v *viper.Viper
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"config":    "config",
	"mode":      "mode",
	"port":      "port",
	"gpu-port":  "gpu_port",
	"gpu-url":   "gpu_url",
	"static":    "static_path",
	"log-level": "log_level",
}

// AddFlags registers the command-line overrides on fs.
func AddFlags(fs *pflag.FlagSet) *pflag.FlagSet {
	fs.String("config", "", "Config file (default config/config.<CONFIG_ENV>.yaml)")
	fs.String("mode", "release", "Server mode: debug or release")
	fs.Int("port", 3000, "Client HTTP/WebSocket port")
	fs.Int("gpu-port", 3001, "Port the GPU WebSocket connects to")
	fs.String("gpu-url", "http://localhost:5000", "GPU control endpoint")
	fs.String("static", "./web", "Static UI directory")
	fs.String("log-level", "info", "Log level")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3000)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("rate_limit", 200)

	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("pli_interval", "2s")
	v.SetDefault("offset_timeout", "5s")

	v.SetDefault("gpu_port", 3001)
	v.SetDefault("gpu_url", "http://localhost:5000")
	v.SetDefault("gpu_timeout", "10s")
	v.SetDefault("gpu_retries", 0)
	v.SetDefault("gpu_retry_backoff", "500ms")
	v.SetDefault("push_workers", 4)
}

// Load reads defaults, the config file, HUB_* environment variables and the
// flags in fs, in increasing order of precedence. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for flag, key := range flagKeys {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	fileName := v.GetString("config")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Int("gpu_port", cfg.GpuPort).Str("gpu_url", cfg.GpuURL).Msg("config ready")
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Port == cfg.GpuPort {
		return nil, fmt.Errorf("port and gpu_port are both %d", cfg.Port)
	}
	cfg.v = v
	return &cfg, nil
}

// Level is the parsed log level, info when unset or invalid.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Watch calls onChange with the re-read config whenever the config file
// changes. Only settings read through the callback take effect live.
func (c *Config) Watch(onChange func(*Config)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	var mu sync.Mutex
	c.v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()
		next, err := decode(c.v)
		if err != nil {
			log.Warn().Err(err).Str("module", "config").Str("file", e.Name).Msg("config reload rejected")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Str("op", e.Op.String()).Msg("config changed")
		onChange(next)
	})
	c.v.WatchConfig()
}
