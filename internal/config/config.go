// Package config loads metagraph settings from metagraph.yaml and METAGRAPH_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// METAGRAPH_STORAGE_DRIVER.
const EnvPrefix = "METAGRAPH"

// Config is the root configuration.
type Config struct {
	Storage Storage `mapstructure:"storage"`
	Blob    Blob    `mapstructure:"blob"`
	Log     Log     `mapstructure:"log"`
	Graph   Graph   `mapstructure:"graph"`
	Observe Observe `mapstructure:"observe"`
}

// Storage selects the document persistence backend.
type Storage struct {
	Driver      string `mapstructure:"driver" validate:"oneof=memory sqlite postgres badger redis"`
	SQLitePath  string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	PostgresDSN string `mapstructure:"postgres_dsn" validate:"required_if=Driver postgres"`
	BadgerDir   string `mapstructure:"badger_dir"`
	RedisAddr   string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisKey    string `mapstructure:"redis_key" validate:"required_if=Driver redis"`
}

// Blob selects where archived documents are written.
type Blob struct {
	Driver string `mapstructure:"driver" validate:"oneof=fs s3 memory"`
	FSRoot string `mapstructure:"fs_root" validate:"required_if=Driver fs"`
	S3     S3     `mapstructure:"s3"`
}

// S3 configures the S3 or MinIO archive.
type S3 struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint" validate:"omitempty,url"`
	Prefix    string `mapstructure:"prefix"`
	PathStyle bool   `mapstructure:"path_style"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// Graph tunes the graph service.
type Graph struct {
	WalkLimit int `mapstructure:"walk_limit" validate:"gte=1"`
	CacheSize int `mapstructure:"cache_size" validate:"gte=1"`
}

// Observe selects the operation metrics recorder and the tracer.
type Observe struct {
	Metrics   string `mapstructure:"metrics" validate:"oneof=expvar prometheus"`
	// Tracing "json" and "otel" write spans to TraceFile, or stderr when empty.
	Tracing   string `mapstructure:"tracing" validate:"oneof=none json otel"`
	TraceFile string `mapstructure:"trace_file"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Storage: Storage{Driver: "memory", SQLitePath: "./metagraph.db", BadgerDir: "", RedisKey: "metagraph:document"},
		Blob:    Blob{Driver: "fs", FSRoot: "./metagraph-archive", S3: S3{Region: "us-east-1"}},
		Log:     Log{Level: "info", Format: "console"},
		Graph:   Graph{WalkLimit: 4000, CacheSize: 4096},
		Observe: Observe{Metrics: "expvar", Tracing: "none"},
	}
}

// Load reads configuration from file (when non-empty), otherwise from a
// metagraph.yaml found in the working directory, then applies environment
// overrides and validates the result.
func Load(file string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("metagraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		return fmt.Errorf("invalid config: blob.s3.bucket required for s3 driver")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.badger_dir", d.Storage.BadgerDir)
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_key", d.Storage.RedisKey)
	v.SetDefault("blob.driver", d.Blob.Driver)
	v.SetDefault("blob.fs_root", d.Blob.FSRoot)
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", d.Blob.S3.Region)
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("graph.walk_limit", d.Graph.WalkLimit)
	v.SetDefault("graph.cache_size", d.Graph.CacheSize)
	v.SetDefault("observe.metrics", d.Observe.Metrics)
	v.SetDefault("observe.tracing", d.Observe.Tracing)
	v.SetDefault("observe.trace_file", "")
}
