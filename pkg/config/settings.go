// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/conda-store/conda-store-server/pkg/database"
)

// Settings are the runtime tunables of the build pipeline. Every field can
// be overridden globally, per namespace, or per (namespace, environment)
// through the key-value store; the JSON tag is the override key.
type Settings struct {
	DefaultNamespace    string `json:"default_namespace"`
	FilesystemNamespace string `json:"filesystem_namespace"`

	CondaCommand      string   `json:"conda_command"`
	CondaChannelAlias string   `json:"conda_channel_alias"`
	CondaPlatforms    []string `json:"conda_platforms"`

	CondaDefaultChannels []string `json:"conda_default_channels"`
	CondaAllowedChannels []string `json:"conda_allowed_channels"`

	CondaDefaultPackages  []string `json:"conda_default_packages"`
	CondaIncludedPackages []string `json:"conda_included_packages"`
	CondaRequiredPackages []string `json:"conda_required_packages"`

	PypiDefaultPackages  []string `json:"pypi_default_packages"`
	PypiIncludedPackages []string `json:"pypi_included_packages"`
	PypiRequiredPackages []string `json:"pypi_required_packages"`

	LockerPluginName string `json:"locker_plugin_name"`

	// BuildArtifacts lists the artifact producers dispatched after a build
	// completes.
	BuildArtifacts []string `json:"build_artifacts"`
	// BuildArtifactsKeptOnDeletion survive build deletion.
	BuildArtifactsKeptOnDeletion []string `json:"build_artifacts_kept_on_deletion"`

	DefaultUID         *int   `json:"default_uid"`
	DefaultGID         *int   `json:"default_gid"`
	DefaultPermissions string `json:"default_permissions"`

	// StorageThreshold is the minimum free bytes required on the store
	// volume before a build starts. Zero disables the check.
	StorageThreshold int64 `json:"storage_threshold"`
}

// DefaultSettings returns the baseline settings applied before overrides.
func DefaultSettings() *Settings {
	return &Settings{
		DefaultNamespace:             "default",
		FilesystemNamespace:          "filesystem",
		CondaCommand:                 "mamba",
		CondaChannelAlias:            "https://conda.anaconda.org",
		CondaPlatforms:               []string{"noarch", "linux-64"},
		CondaDefaultChannels:         []string{"conda-forge"},
		LockerPluginName:             "conda-lock",
		BuildArtifacts:               []string{"YAML", "CONDA_PACK", "CONSTRUCTOR_INSTALLER"},
		BuildArtifactsKeptOnDeletion: []string{"LOGS", "LOCKFILE", "YAML"},
	}
}

const (
	globalSettingsPrefix = "setting/"

	settingsCacheTTL = 10 * time.Second
)

// SettingsProvider resolves settings through the key-value store. Overrides
// stack global -> namespace -> namespace/environment; resolved snapshots
// are memoized briefly so a build does not hammer the database.
type SettingsProvider struct {
	store    *database.Store
	defaults *Settings
	cache    *cache.Cache
}

// NewSettingsProvider builds a provider over the given store. defaults may
// be nil, in which case DefaultSettings is used.
func NewSettingsProvider(store *database.Store, defaults *Settings) *SettingsProvider {
	if defaults == nil {
		defaults = DefaultSettings()
	}
	return &SettingsProvider{
		store:    store,
		defaults: defaults,
		cache:    cache.New(settingsCacheTTL, time.Minute),
	}
}

// prefixes returns the override prefixes for a scope, least specific first.
func prefixes(namespace, environment string) []string {
	out := []string{globalSettingsPrefix}
	if namespace != "" {
		out = append(out, globalSettingsPrefix+namespace+"/")
		if environment != "" {
			out = append(out, globalSettingsPrefix+namespace+"/"+environment+"/")
		}
	}
	return out
}

// Get resolves the settings snapshot for a (namespace, environment) scope.
// Empty strings widen the scope: ("", "") resolves global settings only.
func (p *SettingsProvider) Get(namespace, environment string) (*Settings, error) {
	cacheKey := namespace + "\x00" + environment
	if cached, ok := p.cache.Get(cacheKey); ok {
		return cached.(*Settings), nil
	}

	// Start from the defaults as a JSON field map, then overlay each
	// prefix's raw values in order. Unmarshaling the merged map back into
	// the struct validates override types.
	raw, err := json.Marshal(p.defaults)
	if err != nil {
		return nil, err
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}

	for _, prefix := range prefixes(namespace, environment) {
		values, err := p.store.GetKeyValues(prefix)
		if err != nil {
			return nil, fmt.Errorf("resolving settings under %s: %w", prefix, err)
		}
		for key, value := range values {
			merged[key] = json.RawMessage(value)
		}
	}

	raw, err = json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var settings Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("settings for %s/%s are malformed: %w", namespace, environment, err)
	}

	p.cache.Set(cacheKey, &settings, cache.DefaultExpiration)
	return &settings, nil
}

// Set writes setting overrides at a scope. Values must be JSON-encoded and
// keys must name known settings fields.
func (p *SettingsProvider) Set(namespace, environment string, values map[string]string) error {
	known := knownSettingsFields()
	for key, value := range values {
		if !known[key] {
			return fmt.Errorf("unknown setting %q", key)
		}
		if !json.Valid([]byte(value)) {
			return fmt.Errorf("setting %q: value is not valid JSON", key)
		}
	}

	scoped := prefixes(namespace, environment)
	prefix := scoped[len(scoped)-1]
	if err := p.store.SetKeyValues(prefix, values); err != nil {
		return err
	}
	p.cache.Flush()
	return nil
}

// knownSettingsFields returns the set of override keys, derived from the
// Settings JSON encoding so the two cannot drift apart.
func knownSettingsFields() map[string]bool {
	raw, _ := json.Marshal(&Settings{})
	fields := map[string]json.RawMessage{}
	_ = json.Unmarshal(raw, &fields)

	known := make(map[string]bool, len(fields))
	for key := range fields {
		known[key] = true
	}
	return known
}
