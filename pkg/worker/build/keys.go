// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package build

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/conda-store/conda-store-server/pkg/database"
	"github.com/conda-store/conda-store-server/pkg/util/filesystem"
)

// Key derives the stable identity of a build used in artifact keys and
// install paths: a hash prefix for uniqueness, the build id for ordering,
// and the specification name for readability.
func Key(build *database.Build, spec *database.Specification) string {
	return fmt.Sprintf("%s-%d-%s", spec.Sha256[:8], build.ID, spec.Name)
}

// Artifact keys, all derived from the build key. Storage treats them as
// opaque strings.
func LogKey(buildKey string) string       { return "logs/" + buildKey + ".log" }
func CondaLockKey(buildKey string) string { return "lockfile/" + buildKey + ".yml" }
func EnvExportKey(buildKey string) string { return "yaml/" + buildKey + ".yml" }
func CondaPackKey(buildKey string) string { return "archive/" + buildKey + ".tar.gz" }

// ConstructorInstallerKey returns the installer key; ext depends on the
// target platform (sh on Linux and macOS, exe on Windows).
func ConstructorInstallerKey(buildKey, ext string) string {
	return "installer/" + buildKey + "." + ext
}

// Path returns the install prefix for a build and validates it against
// filesystem limits.
func Path(storeDirectory, namespace, buildKey string) (string, error) {
	path := filepath.Join(storeDirectory, namespace, buildKey)
	if err := filesystem.CheckBuildPath(path); err != nil {
		return "", err
	}
	return path, nil
}

// EnvironmentPath renders the stable symlink path for an environment from
// the configured template. An empty template disables the symlink.
func EnvironmentPath(template, namespace, name string) string {
	if template == "" {
		return ""
	}
	path := strings.ReplaceAll(template, "{namespace}", namespace)
	return strings.ReplaceAll(path, "{name}", name)
}
