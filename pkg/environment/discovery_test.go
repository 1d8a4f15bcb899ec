// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package environment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validEnvironmentYAML = `name: discovered
channels:
  - conda-forge
dependencies:
  - python
`

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(valid, []byte(validEnvironmentYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not yaml"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("{ not: [valid"), 0o644))

	// Nested directories are not descended into.
	nested := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "deep.yaml"), []byte(validEnvironmentYAML), 0o644))

	found, err := Discover([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{valid}, found)
}

func TestDiscoverDirectFileAndMissingPath(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "direct.yml")
	require.NoError(t, os.WriteFile(valid, []byte(validEnvironmentYAML), 0o644))

	found, err := Discover([]string{valid, filepath.Join(dir, "does-not-exist")})
	require.NoError(t, err)
	assert.Equal(t, []string{valid}, found)
}
