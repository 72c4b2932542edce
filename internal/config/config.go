package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds instance-level configuration for the service.
type Config struct {
	ListenAddr            string `mapstructure:"listen_addr"`
	HTTPAddr              string `mapstructure:"http_addr"`
	MaxReceiveMessageSize int    `mapstructure:"max_receive_message_size"`

	FlushInterval time.Duration `mapstructure:"flush_interval"`
	DrainInterval time.Duration `mapstructure:"drain_interval"`
	UploadDelay   time.Duration `mapstructure:"upload_delay"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
	RateWindow    time.Duration `mapstructure:"rate_window"`

	SinkURL   string `mapstructure:"sink_url"`
	StorePath string `mapstructure:"store_path"`

	AutoStart  bool          `mapstructure:"auto_start"`
	StartDelay time.Duration `mapstructure:"start_delay"`

	LogFormat       string        `mapstructure:"log_format"`
	LogLevel        string        `mapstructure:"log_level"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`

	ConfigFile string `mapstructure:"-"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		ListenAddr:            "localhost:4317",
		HTTPAddr:              "localhost:8080",
		MaxReceiveMessageSize: 16 * 1024 * 1024,
		FlushInterval:         30 * time.Second,
		DrainInterval:         15 * time.Second,
		UploadDelay:           5 * time.Second,
		UploadTimeout:         30 * time.Second,
		RateWindow:            5 * time.Second,
		AutoStart:             true,
		StartDelay:            20 * time.Second,
		LogFormat:             "otel",
		LogLevel:              "info",
		GracefulTimeout:       10 * time.Second,
	}
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"listenAddr":            "listen_addr",
	"httpAddr":              "http_addr",
	"maxReceiveMessageSize": "max_receive_message_size",
	"flushInterval":         "flush_interval",
	"drainInterval":         "drain_interval",
	"uploadDelay":           "upload_delay",
	"uploadTimeout":         "upload_timeout",
	"rateWindow":            "rate_window",
	"sinkURL":               "sink_url",
	"storePath":             "store_path",
	"autoStart":             "auto_start",
	"startDelay":            "start_delay",
	"logFormat":             "log_format",
	"logLevel":              "log_level",
	"gracefulTimeout":       "graceful_timeout",
}

// RegisterFlags registers CLI flags and returns a reader that captures them after flag.Parse().
func RegisterFlags() func() Config {
	d := Defaults()

	listenAddr := flag.String("listenAddr", d.ListenAddr, "The gRPC listen address")
	httpAddr := flag.String("httpAddr", d.HTTPAddr, "The HTTP control surface listen address")
	maxRecv := flag.Int("maxReceiveMessageSize", d.MaxReceiveMessageSize, "The max message size in bytes the server can receive")

	flushInterval := flag.Duration("flushInterval", d.FlushInterval, "How often the ingest buffer is merged into the store")
	drainInterval := flag.Duration("drainInterval", d.DrainInterval, "How often the drain scheduler uploads the oldest window")
	uploadDelay := flag.Duration("uploadDelay", d.UploadDelay, "Delay before every upload attempt")
	uploadTimeout := flag.Duration("uploadTimeout", d.UploadTimeout, "Timeout for one upload request")
	rateWindow := flag.Duration("rateWindow", d.RateWindow, "Trailing window of the arrival rate meter")

	sinkURL := flag.String("sinkURL", d.SinkURL, "Upload endpoint; empty writes uploads to stdout")
	storePath := flag.String("storePath", d.StorePath, "SQLite file for the window store; empty keeps windows in memory")

	autoStart := flag.Bool("autoStart", d.AutoStart, "Start the drain scheduler after startDelay")
	startDelay := flag.Duration("startDelay", d.StartDelay, "Delay before the drain scheduler auto-starts")

	logFormat := flag.String("logFormat", d.LogFormat, "Log format: otel|text|json")
	logLevel := flag.String("logLevel", d.LogLevel, "Log level: debug|info|warn|error")
	graceful := flag.Duration("gracefulTimeout", d.GracefulTimeout, "Graceful shutdown timeout")

	configFile := flag.String("config", "", "Optional config file (yaml, json or toml)")

	return func() Config {
		return Config{
			ListenAddr:            *listenAddr,
			HTTPAddr:              *httpAddr,
			MaxReceiveMessageSize: *maxRecv,
			FlushInterval:         *flushInterval,
			DrainInterval:         *drainInterval,
			UploadDelay:           *uploadDelay,
			UploadTimeout:         *uploadTimeout,
			RateWindow:            *rateWindow,
			SinkURL:               *sinkURL,
			StorePath:             *storePath,
			AutoStart:             *autoStart,
			StartDelay:            *startDelay,
			LogFormat:             *logFormat,
			LogLevel:              *logLevel,
			GracefulTimeout:       *graceful,
			ConfigFile:            *configFile,
		}
	}
}

// Load layers configuration as defaults < file < WINDOWDRAIN_* environment <
// flags explicitly set on fs. path and fs may be empty/nil.
func Load(path string, fs *flag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("windowdrain")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if fs != nil {
		fs.Visit(func(f *flag.Flag) {
			if key, ok := flagKeys[f.Name]; ok {
				v.Set(key, f.Value.String())
			}
		})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ConfigFile = path

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("max_receive_message_size", d.MaxReceiveMessageSize)
	v.SetDefault("flush_interval", d.FlushInterval)
	v.SetDefault("drain_interval", d.DrainInterval)
	v.SetDefault("upload_delay", d.UploadDelay)
	v.SetDefault("upload_timeout", d.UploadTimeout)
	v.SetDefault("rate_window", d.RateWindow)
	v.SetDefault("sink_url", d.SinkURL)
	v.SetDefault("store_path", d.StorePath)
	v.SetDefault("auto_start", d.AutoStart)
	v.SetDefault("start_delay", d.StartDelay)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("graceful_timeout", d.GracefulTimeout)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	if c.MaxReceiveMessageSize <= 0 {
		errs = append(errs, errors.New("max_receive_message_size must be positive"))
	}

	for name, d := range map[string]time.Duration{
		"flush_interval":   c.FlushInterval,
		"drain_interval":   c.DrainInterval,
		"upload_timeout":   c.UploadTimeout,
		"rate_window":      c.RateWindow,
		"graceful_timeout": c.GracefulTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	if c.UploadDelay < 0 {
		errs = append(errs, fmt.Errorf("upload_delay must not be negative, got %s", c.UploadDelay))
	}

	if c.StartDelay < 0 {
		errs = append(errs, fmt.Errorf("start_delay must not be negative, got %s", c.StartDelay))
	}

	switch c.LogFormat {
	case "otel", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be otel, text or json, got %q", c.LogFormat))
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	if c.SinkURL != "" {
		if u, err := url.Parse(c.SinkURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("sink_url must be an absolute URL, got %q", c.SinkURL))
		}
	}

	return errors.Join(errs...)
}
