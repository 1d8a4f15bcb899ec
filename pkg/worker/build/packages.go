// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package build

import (
	"fmt"
	"strings"

	"github.com/conda-store/conda-store-server/pkg/database"
)

// LockedPackage is one conda entry of a conda-lock document, reduced to
// the fields the package index stores.
type LockedPackage struct {
	Name     string
	Version  string
	Channel  string
	Subdir   string
	Build    string
	Sha256   string
	Md5      string
	URL      string
	Manager  string
	Platform string
}

// ParseLockfilePackages extracts the conda packages of a lockfile
// document. Pip entries are skipped; the index only tracks conda binaries.
func ParseLockfilePackages(lockfile map[string]interface{}) ([]LockedPackage, error) {
	rawPackages, ok := lockfile["package"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("lockfile has no package list")
	}

	packages := make([]LockedPackage, 0, len(rawPackages))
	for i, raw := range rawPackages {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("lockfile package %d is not a mapping", i)
		}
		pkg := LockedPackage{
			Name:     asString(entry["name"]),
			Version:  asString(entry["version"]),
			Manager:  asString(entry["manager"]),
			Platform: asString(entry["platform"]),
			URL:      asString(entry["url"]),
		}
		if pkg.Manager != "conda" {
			continue
		}
		if hash, ok := entry["hash"].(map[string]interface{}); ok {
			pkg.Sha256 = asString(hash["sha256"])
			pkg.Md5 = asString(hash["md5"])
		}
		pkg.Channel, pkg.Subdir, pkg.Build = splitPackageURL(pkg.URL, pkg.Name, pkg.Version)
		if pkg.Subdir == "" {
			pkg.Subdir = pkg.Platform
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

// splitPackageURL decomposes a conda package URL of the form
// <channel>/<subdir>/<name>-<version>-<build>.<ext> into its parts.
func splitPackageURL(url, name, version string) (channel, subdir, build string) {
	parts := strings.Split(url, "/")
	if len(parts) < 3 {
		return "", "", ""
	}
	filename := parts[len(parts)-1]
	subdir = parts[len(parts)-2]
	channel = strings.Join(parts[:len(parts)-2], "/")

	for _, ext := range []string{".conda", ".tar.bz2"} {
		filename = strings.TrimSuffix(filename, ext)
	}
	build = strings.TrimPrefix(filename, name+"-"+version+"-")
	return channel, subdir, build
}

// AddLockfilePackages upserts the lockfile's conda packages into the index
// and, when buildID is non-zero, attaches them to the build. Upserts are
// idempotent so re-indexing after a retry cannot duplicate rows.
func AddLockfilePackages(db *database.Store, lockfile map[string]interface{}, buildID int64) error {
	packages, err := ParseLockfilePackages(lockfile)
	if err != nil {
		return err
	}

	for _, pkg := range packages {
		channel, err := db.EnsureCondaChannel(pkg.Channel)
		if err != nil {
			return err
		}
		row, err := db.EnsureCondaPackage(&database.CondaPackage{
			ChannelID: channel.ID,
			Name:      pkg.Name,
			Version:   pkg.Version,
		})
		if err != nil {
			return err
		}
		packageBuild, err := db.EnsureCondaPackageBuild(&database.CondaPackageBuild{
			PackageID: row.ID,
			Build:     pkg.Build,
			Subdir:    pkg.Subdir,
			Sha256:    pkg.Sha256,
			Md5:       pkg.Md5,
		})
		if err != nil {
			return err
		}
		if buildID != 0 {
			if err := db.AttachBuildPackage(buildID, packageBuild.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
