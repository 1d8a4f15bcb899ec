// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config loads process configuration and resolves scoped settings.
//
// Config is the static, process-level configuration read once at startup
// from a YAML file plus CONDA_STORE_* environment overrides. Settings are
// runtime tunables resolved per (namespace, environment) through the
// key-value store.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the static process configuration.
type Config struct {
	// DatabaseURL is the sqlite DSN, e.g. "file:conda-store.db".
	DatabaseURL string `mapstructure:"database_url"`
	// RedisURL is the broker address, e.g. "localhost:6379".
	RedisURL      string `mapstructure:"redis_url"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// StoreDirectory is the root for build prefixes and the local storage
	// backend.
	StoreDirectory string `mapstructure:"store_directory"`
	// EnvironmentDirectory, when set, is a template for a stable symlink to
	// the current prefix: {namespace} and {name} are substituted.
	EnvironmentDirectory string `mapstructure:"environment_directory"`

	StoragePlugin string   `mapstructure:"storage_plugin"`
	S3            S3Config `mapstructure:"s3"`

	LogLevel string `mapstructure:"log_level"`

	MetricsBindAddress string `mapstructure:"metrics_bind_address"`

	// WorkerConcurrency is the number of builds a worker processes at once.
	WorkerConcurrency int `mapstructure:"worker_concurrency"`
}

// S3Config configures the s3 storage plugin. The internal endpoint serves
// server-side I/O; presigned URLs are built against the external endpoint.
type S3Config struct {
	InternalEndpoint string `mapstructure:"internal_endpoint"`
	ExternalEndpoint string `mapstructure:"external_endpoint"`
	AccessKey        string `mapstructure:"access_key"`
	SecretKey        string `mapstructure:"secret_key"`
	Region           string `mapstructure:"region"`
	BucketName       string `mapstructure:"bucket_name"`
	InternalSecure   bool   `mapstructure:"internal_secure"`
	ExternalSecure   bool   `mapstructure:"external_secure"`
}

// Load reads configuration from the given YAML file (optional) and from
// CONDA_STORE_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONDA_STORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database_url", "file:conda-store.db")
	v.SetDefault("redis_url", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("store_directory", "/opt/conda-store")
	v.SetDefault("storage_plugin", "local")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_bind_address", "localhost:9090")
	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket_name", "conda-store")
	v.SetDefault("s3.internal_secure", true)
	v.SetDefault("s3.external_secure", true)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}
