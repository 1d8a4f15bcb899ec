// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conda-store/conda-store-server/pkg/config"
	"github.com/conda-store/conda-store-server/pkg/schema"
)

func condaDeps(specs ...string) []schema.Dependency {
	out := make([]schema.Dependency, 0, len(specs))
	for _, s := range specs {
		out = append(out, schema.Dependency{MatchSpec: s})
	}
	return out
}

func TestNormalizeChannelName(t *testing.T) {
	alias := "https://conda.anaconda.org"
	assert.Equal(t, "https://conda.anaconda.org/conda-forge", NormalizeChannelName(alias, "conda-forge"))
	assert.Equal(t, "https://conda.anaconda.org/conda-forge", NormalizeChannelName(alias+"/", "conda-forge"))
	assert.Equal(t, "https://repo.example.com/custom", NormalizeChannelName(alias, "https://repo.example.com/custom"))
}

func TestValidateChannelsAllowed(t *testing.T) {
	spec := &schema.CondaSpecification{
		Name:     "test",
		Channels: []string{"conda-forge"},
	}
	settings := &config.Settings{
		CondaChannelAlias:    "https://conda.anaconda.org",
		CondaAllowedChannels: []string{"conda-forge", "defaults"},
	}
	assert.NoError(t, ValidateChannels(spec, settings))
}

func TestValidateChannelsDenied(t *testing.T) {
	spec := &schema.CondaSpecification{
		Name:     "test",
		Channels: []string{"nodefaults", "conda-forge"},
	}
	settings := &config.Settings{
		CondaChannelAlias:    "https://conda.anaconda.org",
		CondaAllowedChannels: []string{"conda-forge", "defaults"},
	}

	err := ValidateChannels(spec, settings)
	var denied *ChannelNotAllowedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, []string{"https://conda.anaconda.org/nodefaults"}, denied.Channels)
}

func TestValidateChannelsSubstitutesDefaults(t *testing.T) {
	spec := &schema.CondaSpecification{Name: "test"}
	settings := &config.Settings{
		CondaChannelAlias:    "https://conda.anaconda.org",
		CondaDefaultChannels: []string{"conda-forge"},
		CondaAllowedChannels: []string{"conda-forge"},
	}
	require.NoError(t, ValidateChannels(spec, settings))
	assert.Equal(t, []string{"conda-forge"}, spec.Channels)
}

func TestValidateChannelsAliasEquivalence(t *testing.T) {
	// A fully-qualified URL and its bare name are the same channel.
	spec := &schema.CondaSpecification{
		Name:     "test",
		Channels: []string{"https://conda.anaconda.org/conda-forge"},
	}
	settings := &config.Settings{
		CondaChannelAlias:    "https://conda.anaconda.org",
		CondaAllowedChannels: []string{"conda-forge"},
	}
	assert.NoError(t, ValidateChannels(spec, settings))
}

func TestValidateCondaPackagesIncluded(t *testing.T) {
	spec := &schema.CondaSpecification{
		Name:         "test",
		Dependencies: condaDeps("numpy=1.26"),
	}
	settings := &config.Settings{CondaIncludedPackages: []string{"pip", "numpy"}}

	require.NoError(t, ValidateCondaPackages(spec, settings))
	// pip is appended; numpy is already present and stays as requested.
	require.Len(t, spec.Dependencies, 2)
	assert.Equal(t, "numpy=1.26", spec.Dependencies[0].MatchSpec)
	assert.Equal(t, "pip", spec.Dependencies[1].MatchSpec)
}

func TestValidateCondaPackagesRequiredMissing(t *testing.T) {
	spec := &schema.CondaSpecification{
		Name:         "test",
		Dependencies: condaDeps("numpy"),
	}
	settings := &config.Settings{CondaRequiredPackages: []string{"python>=3.10", "pip"}}

	err := ValidateCondaPackages(spec, settings)
	var missing *PackageRequiredError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "conda", missing.Ecosystem)
	assert.Equal(t, []string{"pip", "python"}, missing.Packages)
}

func TestValidateCondaPackagesRequiredSatisfiedByVersionedSpec(t *testing.T) {
	// "python=3.11" satisfies the required package "python>=3.10": the
	// requirement is on the name, not the constraint.
	spec := &schema.CondaSpecification{
		Name:         "test",
		Dependencies: condaDeps("python=3.11"),
	}
	settings := &config.Settings{CondaRequiredPackages: []string{"python>=3.10"}}
	assert.NoError(t, ValidateCondaPackages(spec, settings))
}

func TestValidateCondaPackagesDefaults(t *testing.T) {
	spec := &schema.CondaSpecification{Name: "test"}
	settings := &config.Settings{CondaDefaultPackages: []string{"python", "pip"}}

	require.NoError(t, ValidateCondaPackages(spec, settings))
	assert.Equal(t, condaDeps("python", "pip"), spec.Dependencies)
}

func TestValidatePipPackagesFlagsPassThrough(t *testing.T) {
	spec := &schema.CondaSpecification{
		Name: "test",
		Dependencies: []schema.Dependency{
			{MatchSpec: "python"},
			{Pip: &schema.PipDependencies{Pip: []string{"--index-url https://example.com/simple", "flask"}}},
		},
	}
	settings := &config.Settings{PypiRequiredPackages: []string{"flask"}}

	require.NoError(t, ValidatePipPackages(spec, settings))
	assert.Equal(t, []string{"--index-url https://example.com/simple", "flask"}, spec.PipPackages())
}

func TestValidatePipPackagesRequiredMissing(t *testing.T) {
	spec := &schema.CondaSpecification{
		Name:         "test",
		Dependencies: condaDeps("python"),
	}
	settings := &config.Settings{PypiRequiredPackages: []string{"Safety"}}

	err := ValidatePipPackages(spec, settings)
	var missing *PackageRequiredError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "pypi", missing.Ecosystem)
	assert.Equal(t, []string{"safety"}, missing.Packages)
}

func TestValidatePipPackagesIncluded(t *testing.T) {
	spec := &schema.CondaSpecification{
		Name:         "test",
		Dependencies: condaDeps("python"),
	}
	settings := &config.Settings{PypiIncludedPackages: []string{"nothing"}}

	require.NoError(t, ValidatePipPackages(spec, settings))
	assert.Equal(t, []string{"nothing"}, spec.PipPackages())
}

func TestValidateChain(t *testing.T) {
	spec := &schema.CondaSpecification{
		Name:         "complete",
		Channels:     []string{"conda-forge"},
		Dependencies: condaDeps("python=3.11"),
	}
	settings := &config.Settings{
		CondaChannelAlias:     "https://conda.anaconda.org",
		CondaAllowedChannels:  []string{"conda-forge"},
		CondaRequiredPackages: []string{"python"},
	}
	assert.NoError(t, Validate(spec, settings))
}

func TestCondaPlatform(t *testing.T) {
	assert.Regexp(t, `^(linux|osx|win)-(32|64|arm64|aarch64)$`, CondaPlatform())
}
