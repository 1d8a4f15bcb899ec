// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package plugins defines the plugin families of the build pipeline and the
// registry they are looked up from.
//
// Three families exist: lock plugins solve a specification into a lockfile,
// storage plugins persist opaque artifact blobs, and trait-config plugins
// expose per-backend tunables. A single type may implement more than one
// family; Register sorts it into every family it satisfies.
package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/conda-store/conda-store-server/pkg/schema"
)

// Plugin is the common surface of all plugin families.
type Plugin interface {
	// Name identifies the plugin; lookup is case-insensitive.
	Name() string
	// Synopsis is a one-line description shown in listings.
	Synopsis() string
}

// LockPlugin solves a specification into a lockfile document.
type LockPlugin interface {
	Plugin

	// LockEnvironment returns the solved lockfile for the specification on
	// the given platforms. Output of any subprocesses is streamed through
	// the action context.
	LockEnvironment(ctx context.Context, actx *ActionContext, spec *schema.CondaSpecification, platforms []string) (map[string]interface{}, error)
}

// StoragePlugin persists artifact blobs under opaque keys.
type StoragePlugin interface {
	Plugin

	// Set writes value under key.
	Set(ctx context.Context, key string, value []byte, contentType string) error
	// FSet uploads the file at filename under key. The write is atomic: a
	// concurrent Get observes either the previous value or the whole file.
	FSet(ctx context.Context, key, filename, contentType string) error
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetURL returns a URL from which clients can fetch the key.
	GetURL(ctx context.Context, key string) (string, error)
	// Delete removes the value stored under key.
	Delete(ctx context.Context, key string) error
}

// ErrNotFound is returned by StoragePlugin.Get for missing keys.
var ErrNotFound = fmt.Errorf("storage key not found")

// ConfigField documents one tunable of a trait-config plugin.
type ConfigField struct {
	Name    string
	Help    string
	Default interface{}
}

// TraitConfigPlugin exposes the configurable fields of a backend.
type TraitConfigPlugin interface {
	Plugin

	ConfigFields() []ConfigField
}

// PluginNotFoundError is returned when a registry lookup fails. The message
// lists the available plugin names of the requested family.
type PluginNotFoundError struct {
	Kind      string
	Name      string
	Available []string
}

func (e *PluginNotFoundError) Error() string {
	available := append([]string{}, e.Available...)
	sort.Strings(available)
	return fmt.Sprintf("%s plugin %q not found, available plugins: [%s]",
		e.Kind, e.Name, strings.Join(available, ", "))
}
