// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package filesystem implements the filesystem primitives needed by the
// build pipeline: disk accounting for install prefixes, atomic symlink
// replacement, and recursive ownership and permission fixups.
package filesystem

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// MaxPrefixLength is the longest install prefix the service will accept.
// Conda tooling rejects prefixes past 255 characters, so longer paths
// would fail midway through the install.
const MaxPrefixLength = 255

// BuildPathError is returned when a computed install path exceeds
// filesystem limits. Its message is safe to surface to users.
type BuildPathError struct {
	Path string
}

func (e *BuildPathError) Error() string {
	return fmt.Sprintf("build path too long (%d > %d characters): %s", len(e.Path), MaxPrefixLength, e.Path)
}

// CheckBuildPath validates that the given install prefix is usable.
func CheckBuildPath(path string) error {
	if len(path) > MaxPrefixLength {
		return &BuildPathError{Path: path}
	}
	return nil
}

// LowDiskSpaceError is returned when the store volume has less free space
// than the configured threshold. Its message is safe to surface to users.
type LowDiskSpaceError struct {
	Path      string
	Free      int64
	Threshold int64
}

func (e *LowDiskSpaceError) Error() string {
	return fmt.Sprintf("not enough free space on %s (%d bytes free, %d required)",
		e.Path, e.Free, e.Threshold)
}

// DiskUsage returns the total size in bytes of all regular files below path.
func DiskUsage(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("computing disk usage of %s: %w", path, err)
	}
	return total, nil
}

// Symlink points link at target, replacing any existing link atomically by
// creating a temporary link and renaming it over the destination.
func Symlink(target, link string) error {
	tmp := link + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("creating symlink %s -> %s: %w", link, target, err)
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing symlink %s: %w", link, err)
	}
	return nil
}

// Chmod applies mode to path and everything below it.
func Chmod(path string, mode os.FileMode) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		return os.Chmod(p, mode)
	})
}
