// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build windows

package filesystem

import "golang.org/x/sys/windows"

// DiskFree reports the bytes available to the calling user on the volume
// holding path.
func DiskFree(path string) (int64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	var free uint64
	if err := windows.GetDiskFreeSpaceEx(p, &free, nil, nil); err != nil {
		return 0, err
	}
	return int64(free), nil
}

// Chown is a no-op on Windows; ownership fixups only apply to unix
// installs.
func Chown(path string, uid, gid int) error {
	return nil
}
