// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package environment

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/conda-store/conda-store-server/pkg/schema"
	"github.com/conda-store/conda-store-server/pkg/util/log"
)

// isEnvironmentFile reports whether the path names a YAML file whose
// contents parse as a valid conda specification.
func isEnvironmentFile(path string) bool {
	if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
		return false
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warnf("skipping unreadable environment file %s: %v", path, err)
		return false
	}
	_, err = schema.ParseCondaSpecificationYAML(raw)
	return err == nil
}

// Discover walks the given paths and returns every file containing a valid
// environment specification. Directories are scanned one level deep.
func Discover(paths []string) ([]string, error) {
	var environments []string
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			log.Warnf("skipping watch path %s: %v", abs, err)
			continue
		}

		if !info.IsDir() {
			if isEnvironmentFile(abs) {
				environments = append(environments, abs)
			}
			continue
		}

		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			child := filepath.Join(abs, entry.Name())
			if !entry.IsDir() && isEnvironmentFile(child) {
				environments = append(environments, child)
			}
		}
	}
	return environments, nil
}
