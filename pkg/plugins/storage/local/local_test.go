// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conda-store/conda-store-server/pkg/plugins"
)

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	require.NoError(t, s.Set(ctx, "logs/build-1.log", []byte("line one\n"), "text/plain"))

	value, err := s.Get(ctx, "logs/build-1.log")
	require.NoError(t, err)
	assert.Equal(t, []byte("line one\n"), value)

	// Overwrite replaces the previous value.
	require.NoError(t, s.Set(ctx, "logs/build-1.log", []byte("line one\nline two\n"), "text/plain"))
	value, err = s.Get(ctx, "logs/build-1.log")
	require.NoError(t, err)
	assert.Equal(t, []byte("line one\nline two\n"), value)

	require.NoError(t, s.Delete(ctx, "logs/build-1.log"))
	_, err = s.Get(ctx, "logs/build-1.log")
	assert.ErrorIs(t, err, plugins.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "logs/build-1.log"), plugins.ErrNotFound)
}

func TestGetMissingKey(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Get(context.Background(), "never/written")
	assert.ErrorIs(t, err, plugins.ErrNotFound)
}

func TestFSet(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	source := filepath.Join(t.TempDir(), "environment.tar.gz")
	require.NoError(t, os.WriteFile(source, []byte("tarball bytes"), 0o644))

	require.NoError(t, s.FSet(ctx, "archive/build-1.tar.gz", source, "application/gzip"))
	value, err := s.Get(ctx, "archive/build-1.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, []byte("tarball bytes"), value)
}

func TestSetLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := New(root)

	require.NoError(t, s.Set(ctx, "yaml/build-1.yml", []byte("name: test\n"), "text/yaml"))

	entries, err := os.ReadDir(filepath.Join(root, "yaml"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "build-1.yml", entries[0].Name())
}

func TestGetURL(t *testing.T) {
	s := New("/srv/storage")
	url, err := s.GetURL(context.Background(), "logs/build-1.log")
	require.NoError(t, err)
	assert.Equal(t, "file:///srv/storage/logs/build-1.log", url)
}
