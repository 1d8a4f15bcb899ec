// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EnsureCondaChannel returns the channel row for a name, creating it when
// absent. Channel names are stored as given; callers normalize URLs first.
func (s *Store) EnsureCondaChannel(name string) (*CondaChannel, error) {
	_, err := s.db.Exec(
		`INSERT INTO conda_channel (name) VALUES (?) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return nil, fmt.Errorf("ensuring conda channel %q: %w", name, err)
	}

	var channel CondaChannel
	if err := s.db.Get(&channel, `SELECT * FROM conda_channel WHERE name = ?`, name); err != nil {
		return nil, err
	}
	return &channel, nil
}

// TouchCondaChannel records when the channel's package index was last walked.
func (s *Store) TouchCondaChannel(id int64) error {
	_, err := s.db.Exec(
		`UPDATE conda_channel SET last_update = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// ListCondaChannels returns all known channels.
func (s *Store) ListCondaChannels() ([]CondaChannel, error) {
	var channels []CondaChannel
	if err := s.db.Select(&channels, `SELECT * FROM conda_channel ORDER BY name`); err != nil {
		return nil, err
	}
	return channels, nil
}

// EnsureCondaPackage upserts a (channel, name, version) package row. Package
// metadata comes from the first lockfile that mentions it; later mentions do
// not overwrite.
func (s *Store) EnsureCondaPackage(pkg *CondaPackage) (*CondaPackage, error) {
	_, err := s.db.Exec(
		`INSERT INTO conda_package (channel_id, name, version, license, license_family, summary, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (channel_id, name, version) DO NOTHING`,
		pkg.ChannelID, pkg.Name, pkg.Version, pkg.License, pkg.LicenseFamily, pkg.Summary, pkg.Description)
	if err != nil {
		return nil, fmt.Errorf("ensuring conda package %s=%s: %w", pkg.Name, pkg.Version, err)
	}

	var row CondaPackage
	err = s.db.Get(&row,
		`SELECT * FROM conda_package WHERE channel_id = ? AND name = ? AND version = ?`,
		pkg.ChannelID, pkg.Name, pkg.Version)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// EnsureCondaPackageBuild upserts a concrete (package, subdir, build) binary.
func (s *Store) EnsureCondaPackageBuild(build *CondaPackageBuild) (*CondaPackageBuild, error) {
	_, err := s.db.Exec(
		`INSERT INTO conda_package_build
		 (package_id, build, build_number, subdir, sha256, md5, size, depends, constrains, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (package_id, subdir, build) DO NOTHING`,
		build.PackageID, build.Build, build.BuildNumber, build.Subdir,
		build.Sha256, build.Md5, build.Size, build.Depends, build.Constrains, build.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("ensuring conda package build %q: %w", build.Build, err)
	}

	var row CondaPackageBuild
	err = s.db.Get(&row,
		`SELECT * FROM conda_package_build WHERE package_id = ? AND subdir = ? AND build = ?`,
		build.PackageID, build.Subdir, build.Build)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// AttachBuildPackage links a package build to an environment build. The link
// is idempotent so lockfile re-indexing cannot duplicate rows.
func (s *Store) AttachBuildPackage(buildID, condaPackageBuildID int64) error {
	_, err := s.db.Exec(
		`INSERT INTO build_conda_package_build (build_id, conda_package_build_id)
		 VALUES (?, ?) ON CONFLICT (build_id, conda_package_build_id) DO NOTHING`,
		buildID, condaPackageBuildID)
	return err
}

// ListBuildPackages returns the packages installed by a build, sorted by name.
func (s *Store) ListBuildPackages(buildID int64) ([]CondaPackage, error) {
	var packages []CondaPackage
	err := s.db.Select(&packages,
		`SELECT DISTINCT cp.* FROM conda_package cp
		 JOIN conda_package_build cpb ON cpb.package_id = cp.id
		 JOIN build_conda_package_build bcpb ON bcpb.conda_package_build_id = cpb.id
		 WHERE bcpb.build_id = ?
		 ORDER BY cp.name, cp.version`, buildID)
	if err != nil {
		return nil, err
	}
	return packages, nil
}

type explicitLockfileRow struct {
	Channel string `db:"channel"`
	Subdir  string `db:"subdir"`
	Name    string `db:"name"`
	Version string `db:"version"`
	Build   string `db:"build"`
	Md5     string `db:"md5"`
}

// RenderExplicitLockfile renders a build's indexed packages in the legacy
// explicit transaction format understood by `conda create --file`.
func (s *Store) RenderExplicitLockfile(buildID int64, platform string) (string, error) {
	var rows []explicitLockfileRow
	err := s.db.Select(&rows,
		`SELECT cc.name AS channel, cpb.subdir, cp.name, cp.version, cpb.build, cpb.md5
		 FROM conda_package_build cpb
		 JOIN conda_package cp ON cp.id = cpb.package_id
		 JOIN conda_channel cc ON cc.id = cp.channel_id
		 JOIN build_conda_package_build bcpb ON bcpb.conda_package_build_id = cpb.id
		 WHERE bcpb.build_id = ?
		 ORDER BY cp.name, cp.version`, buildID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "#platform: %s\n@EXPLICIT\n", platform)
	for _, row := range rows {
		fmt.Fprintf(&out, "%s/%s/%s-%s-%s.tar.bz2#%s\n",
			row.Channel, row.Subdir, row.Name, row.Version, row.Build, row.Md5)
	}
	return out.String(), nil
}

// CondaPackageFilter narrows SearchCondaPackages.
type CondaPackageFilter struct {
	Channel string
	Name    string
	Search  string
}

// condaPackageOrderings declares the sort keys accepted by SearchCondaPackages.
var condaPackageOrderings = []Ordering[CondaPackage]{
	{Name: "name", Column: "cp.name", Value: func(p CondaPackage) interface{} { return p.Name }},
	{Name: "version", Column: "cp.version", Value: func(p CondaPackage) interface{} { return p.Version }},
}

// SearchCondaPackages returns a page of indexed packages matching the filter.
func (s *Store) SearchCondaPackages(filter CondaPackageFilter, page PageRequest) ([]CondaPackage, *Cursor, error) {
	query := `SELECT cp.* FROM conda_package cp
		JOIN conda_channel cc ON cc.id = cp.channel_id`
	where := []string{"1 = 1"}
	var args []interface{}

	if filter.Channel != "" {
		where = append(where, "cc.name = ?")
		args = append(args, filter.Channel)
	}
	if filter.Name != "" {
		where = append(where, "cp.name = ?")
		args = append(args, filter.Name)
	}
	if filter.Search != "" {
		where = append(where, "cp.name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}

	query += ` WHERE ` + strings.Join(where, " AND ")

	return paginate(s.db, query, args,
		func(p CondaPackage) int64 { return p.ID }, "cp.id",
		condaPackageOrderings, page)
}

// GetCondaPackage looks a package up by id.
func (s *Store) GetCondaPackage(id int64) (*CondaPackage, error) {
	var pkg CondaPackage
	err := s.db.Get(&pkg, `SELECT * FROM conda_package WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conda package %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}
