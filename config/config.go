package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jaywantadh/ChunkStream/internal/block"
)

// EnvPrefix prefixes environment overrides, e.g. CHUNKSTREAM_PORT.
const EnvPrefix = "CHUNKSTREAM"

// AppConfig holds the application-level configuration
type AppConfig struct {
	NodeID            string        `mapstructure:"node_id"`
	Port              int           `mapstructure:"port"`
	DownloadFile      string        `mapstructure:"download_file"`
	UploadDir         string        `mapstructure:"upload_dir"`
	StoragePath       string        `mapstructure:"storage_path"`
	LedgerPath        string        `mapstructure:"ledger_path"`
	BlockSize         int           `mapstructure:"block_size"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	MaxSessions       int           `mapstructure:"max_sessions"`
	MaxUploadBytes    int64         `mapstructure:"max_upload_bytes"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	Debug             bool          `mapstructure:"debug"`
}

// Config is the configuration most recently loaded by LoadConfig.
var Config *AppConfig

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", "chunkstream-default-node")
	v.SetDefault("port", 8080)
	v.SetDefault("download_file", "./data/large-file.bin")
	v.SetDefault("upload_dir", os.TempDir())
	v.SetDefault("storage_path", "./data/files")
	v.SetDefault("ledger_path", "./data/ledger")
	v.SetDefault("block_size", block.DefaultSize)
	v.SetDefault("queue_depth", 8)
	v.SetDefault("max_sessions", 16)
	v.SetDefault("max_upload_bytes", 0)
	v.SetDefault("read_header_timeout", 10*time.Second)
	// read_timeout and write_timeout span whole bodies, so they cap how long
	// an upload or download may run; zero leaves them unbounded
	v.SetDefault("read_timeout", 0)
	v.SetDefault("write_timeout", 0)
	v.SetDefault("idle_timeout", 120*time.Second)
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("debug", false)
}

// LoadConfig reads config.yaml from path, applies CHUNKSTREAM_* environment
// overrides and defaults, and validates the result. A missing config file is
// not an error.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "could not read config file")
		}
	}

	var appConfig AppConfig
	if err := v.Unmarshal(&appConfig); err != nil {
		return nil, errors.Wrap(err, "unable to decode config into struct")
	}
	if err := appConfig.Validate(); err != nil {
		return nil, err
	}

	Config = &appConfig
	return &appConfig, nil
}

// Validate rejects settings the server cannot run with.
func (c *AppConfig) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return errors.Errorf("invalid port %d", c.Port)
	case c.BlockSize <= 0:
		return errors.Errorf("block_size must be positive, got %d", c.BlockSize)
	case c.QueueDepth <= 0:
		return errors.Errorf("queue_depth must be positive, got %d", c.QueueDepth)
	case c.MaxSessions <= 0:
		return errors.Errorf("max_sessions must be positive, got %d", c.MaxSessions)
	case c.MaxUploadBytes < 0:
		return errors.Errorf("max_upload_bytes must not be negative, got %d", c.MaxUploadBytes)
	case c.UploadDir == "":
		return errors.New("upload_dir must be set")
	case c.StoragePath == "":
		return errors.New("storage_path must be set")
	}
	return nil
}
