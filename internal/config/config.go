package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "YEETTALK"

type RateLimit struct {
	Events   int           `mapstructure:"events"`
	Interval time.Duration `mapstructure:"interval"`
}

type Moderation struct {
	CensoredWords []string `mapstructure:"censored_words"`
	Replacement   string   `mapstructure:"replacement"`
}

type OTel struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode      string `mapstructure:"mode"`
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	Secret    string `mapstructure:"secret"`
	JWTSecret string `mapstructure:"jwt_secret"`
	StorePath string `mapstructure:"store_path"`

	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	PongWait    time.Duration `mapstructure:"pong_wait"`
	WriteWait   time.Duration `mapstructure:"write_wait"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	AuthTimeout time.Duration `mapstructure:"auth_timeout"`

	SaveTimeout      time.Duration `mapstructure:"save_timeout"`
	SinkTimeout      time.Duration `mapstructure:"sink_timeout"`
	MaxContentLength int           `mapstructure:"max_content_length"`
	TypingTimeout    time.Duration `mapstructure:"typing_timeout"`
	Backpressure     string        `mapstructure:"backpressure"`
	RateLimit        RateLimit     `mapstructure:"rate_limit"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`
	Moderation Moderation  `mapstructure:"moderation"`
	OTel       OTel        `mapstructure:"otel"`
}

// Load reads path, or config/config.<CONFIG_ENV>.yaml when path is empty.
// A missing file falls back to defaults; environment variables prefixed
// with YEETTALK_ override both.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("reading .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Warn().Str("module", "config").Str("file", path).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", path).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.StorePath).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "change-me")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("store_path", "./data")

	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("auth_timeout", "10s")

	v.SetDefault("save_timeout", "5s")
	v.SetDefault("sink_timeout", "5s")
	v.SetDefault("max_content_length", 2000)
	v.SetDefault("typing_timeout", "8s")
	v.SetDefault("backpressure", "kick")
	v.SetDefault("rate_limit.events", 30)
	v.SetDefault("rate_limit.interval", "1s")

	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("moderation.censored_words", []string{})
	v.SetDefault("moderation.replacement", "*")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.service_name", "yeettalk")
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.PingPeriod >= c.PongWait {
		errs = append(errs, errors.New("ping_period must be shorter than pong_wait"))
	}
	switch c.Backpressure {
	case "kick", "drop":
	default:
		errs = append(errs, fmt.Errorf("backpressure %q must be kick or drop", c.Backpressure))
	}
	if c.MaxContentLength <= 0 {
		errs = append(errs, errors.New("max_content_length must be positive"))
	}
	if len([]rune(c.Moderation.Replacement)) != 1 {
		errs = append(errs, errors.New("moderation.replacement must be a single character"))
	}
	return errors.Join(errs...)
}
