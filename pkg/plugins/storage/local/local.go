// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package local stores artifacts on the filesystem under a root directory.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/conda-store/conda-store-server/pkg/plugins"
)

const pluginName = "local"

// Storage writes artifact blobs under StoragePath/<key>.
type Storage struct {
	StoragePath string

	// URLTemplate renders get_url results; %s is replaced by the key.
	URLTemplate string
}

// New returns a Storage rooted at path.
func New(path string) *Storage {
	return &Storage{StoragePath: path, URLTemplate: "file://" + path + "/%s"}
}

// Name implements plugins.Plugin.
func (s *Storage) Name() string { return pluginName }

// Synopsis implements plugins.Plugin.
func (s *Storage) Synopsis() string { return "store artifacts on the local filesystem" }

func (s *Storage) path(key string) string {
	return filepath.Join(s.StoragePath, filepath.FromSlash(key))
}

// Set implements plugins.StoragePlugin. The write goes through a temp file
// and a rename so concurrent readers never see partial contents.
func (s *Storage) Set(ctx context.Context, key string, value []byte, contentType string) error {
	destination := s.path(key)
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(destination), ".set-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), destination)
}

// FSet implements plugins.StoragePlugin.
func (s *Storage) FSet(ctx context.Context, key, filename, contentType string) error {
	source, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer source.Close()

	destination := s.path(key)
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(destination), ".fset-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, source); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), destination)
}

// Get implements plugins.StoragePlugin.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("key %q: %w", key, plugins.ErrNotFound)
	}
	return value, err
}

// GetURL implements plugins.StoragePlugin.
func (s *Storage) GetURL(ctx context.Context, key string) (string, error) {
	return fmt.Sprintf(s.URLTemplate, key), nil
}

// Delete implements plugins.StoragePlugin.
func (s *Storage) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return fmt.Errorf("key %q: %w", key, plugins.ErrNotFound)
	}
	return err
}

// ConfigFields implements plugins.TraitConfigPlugin.
func (s *Storage) ConfigFields() []plugins.ConfigField {
	return []plugins.ConfigField{
		{Name: "storage_path", Help: "root directory artifacts are stored under", Default: "/opt/conda-store/storage"},
	}
}
