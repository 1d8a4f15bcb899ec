// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCondaPackageBuild(t *testing.T, s *Store, channel, name, version, build string) *CondaPackageBuild {
	t.Helper()
	ch, err := s.EnsureCondaChannel(channel)
	require.NoError(t, err)
	pkg, err := s.EnsureCondaPackage(&CondaPackage{ChannelID: ch.ID, Name: name, Version: version})
	require.NoError(t, err)
	pkgBuild, err := s.EnsureCondaPackageBuild(&CondaPackageBuild{
		PackageID: pkg.ID, Build: build, Subdir: "linux-64",
	})
	require.NoError(t, err)
	return pkgBuild
}

func TestEnsureCondaChannelIdempotent(t *testing.T) {
	s := newTestStore(t)

	first, err := s.EnsureCondaChannel("https://conda.anaconda.org/conda-forge")
	require.NoError(t, err)
	second, err := s.EnsureCondaChannel("https://conda.anaconda.org/conda-forge")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	channels, err := s.ListCondaChannels()
	require.NoError(t, err)
	assert.Len(t, channels, 1)
}

func TestBuildPackageAttachment(t *testing.T) {
	s := newTestStore(t)
	env := seedEnvironment(t, s, "default", "test")
	spec := seedSpecification(t, s, "test")
	build, err := s.CreateBuild(env.ID, spec.ID)
	require.NoError(t, err)

	numpy := seedCondaPackageBuild(t, s, "conda-forge", "numpy", "1.26.4", "py311h64a7726_0")
	python := seedCondaPackageBuild(t, s, "conda-forge", "python", "3.11.8", "hab00c5b_0_cpython")

	require.NoError(t, s.AttachBuildPackage(build.ID, numpy.ID))
	require.NoError(t, s.AttachBuildPackage(build.ID, numpy.ID))
	require.NoError(t, s.AttachBuildPackage(build.ID, python.ID))

	packages, err := s.ListBuildPackages(build.ID)
	require.NoError(t, err)
	require.Len(t, packages, 2)
	assert.Equal(t, "numpy", packages[0].Name)
	assert.Equal(t, "python", packages[1].Name)
}

func TestRenderExplicitLockfile(t *testing.T) {
	s := newTestStore(t)
	env := seedEnvironment(t, s, "default", "test")
	spec := seedSpecification(t, s, "test")
	build, err := s.CreateBuild(env.ID, spec.ID)
	require.NoError(t, err)

	ch, err := s.EnsureCondaChannel("https://conda.anaconda.org/conda-forge")
	require.NoError(t, err)
	pkg, err := s.EnsureCondaPackage(&CondaPackage{ChannelID: ch.ID, Name: "zlib", Version: "1.2.13"})
	require.NoError(t, err)
	pkgBuild, err := s.EnsureCondaPackageBuild(&CondaPackageBuild{
		PackageID: pkg.ID, Build: "h166bdaf_4", Subdir: "linux-64", Md5: "abc123",
	})
	require.NoError(t, err)
	require.NoError(t, s.AttachBuildPackage(build.ID, pkgBuild.ID))

	rendered, err := s.RenderExplicitLockfile(build.ID, "linux-64")
	require.NoError(t, err)
	assert.Equal(t,
		"#platform: linux-64\n@EXPLICIT\n"+
			"https://conda.anaconda.org/conda-forge/linux-64/zlib-1.2.13-h166bdaf_4.tar.bz2#abc123\n",
		rendered)
}

func TestSearchCondaPackages(t *testing.T) {
	s := newTestStore(t)
	seedCondaPackageBuild(t, s, "conda-forge", "numpy", "1.26.4", "a")
	seedCondaPackageBuild(t, s, "conda-forge", "numpy", "2.0.0", "b")
	seedCondaPackageBuild(t, s, "conda-forge", "pandas", "2.2.1", "c")
	seedCondaPackageBuild(t, s, "bioconda", "samtools", "1.19", "d")

	page := PageRequest{SortBy: []string{"name", "version"}}

	packages, _, err := s.SearchCondaPackages(CondaPackageFilter{Channel: "conda-forge"}, page)
	require.NoError(t, err)
	assert.Len(t, packages, 3)

	packages, _, err = s.SearchCondaPackages(CondaPackageFilter{Name: "numpy"}, page)
	require.NoError(t, err)
	require.Len(t, packages, 2)
	assert.Equal(t, "1.26.4", packages[0].Version)
	assert.Equal(t, "2.0.0", packages[1].Version)

	packages, _, err = s.SearchCondaPackages(CondaPackageFilter{Search: "pan"}, page)
	require.NoError(t, err)
	require.Len(t, packages, 1)
	assert.Equal(t, "pandas", packages[0].Name)
}
