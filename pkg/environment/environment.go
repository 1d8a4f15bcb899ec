// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package environment enforces the policies applied to submitted
// specifications before they are hashed and stored: channel allow-lists,
// included and required package sets, and defaults substitution.
package environment

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/conda-store/conda-store-server/pkg/config"
	"github.com/conda-store/conda-store-server/pkg/schema"
)

// ChannelNotAllowedError reports channels outside the allow-list. The
// message names the offending channels in normalized form.
type ChannelNotAllowedError struct {
	Channels []string
}

func (e *ChannelNotAllowedError) Error() string {
	return fmt.Sprintf("conda channels %v not allowed in specification", e.Channels)
}

// PackageRequiredError reports required packages absent after policy
// expansion.
type PackageRequiredError struct {
	Ecosystem string
	Packages  []string
}

func (e *PackageRequiredError) Error() string {
	return fmt.Sprintf("%s packages %v required and missing from specification", e.Ecosystem, e.Packages)
}

// NormalizeChannelName expands a bare channel name to its fully-qualified
// form using the configured alias. URLs pass through untouched.
func NormalizeChannelName(channelAlias, channel string) string {
	if strings.Contains(channel, "://") {
		return channel
	}
	return strings.TrimSuffix(channelAlias, "/") + "/" + channel
}

// ValidateChannels substitutes default channels when none are requested and
// enforces the allow-list. Comparison happens on normalized names so
// "conda-forge" and its aliased URL are the same channel.
func ValidateChannels(spec *schema.CondaSpecification, settings *config.Settings) error {
	if len(spec.Channels) == 0 {
		spec.Channels = append([]string{}, settings.CondaDefaultChannels...)
	}
	if len(settings.CondaAllowedChannels) == 0 {
		return nil
	}

	normalize := func(channel string, _ int) string {
		return NormalizeChannelName(settings.CondaChannelAlias, channel)
	}
	requested := lo.Map(spec.Channels, normalize)
	allowed := lo.Map(settings.CondaAllowedChannels, normalize)

	denied, _ := lo.Difference(lo.Uniq(requested), allowed)
	if len(denied) > 0 {
		sort.Strings(denied)
		return &ChannelNotAllowedError{Channels: denied}
	}
	return nil
}

// ValidateCondaPackages substitutes default dependencies when none are
// requested, appends missing included packages, and requires the required
// set to be present.
func ValidateCondaPackages(spec *schema.CondaSpecification, settings *config.Settings) error {
	if len(spec.Dependencies) == 0 {
		for _, dep := range settings.CondaDefaultPackages {
			spec.Dependencies = append(spec.Dependencies, schema.Dependency{MatchSpec: dep})
		}
	}

	names := func() map[string]bool {
		out := map[string]bool{}
		for _, dep := range spec.Dependencies {
			if dep.Pip == nil {
				out[schema.MatchSpecName(dep.MatchSpec)] = true
			}
		}
		return out
	}

	present := names()
	for _, included := range settings.CondaIncludedPackages {
		if !present[schema.MatchSpecName(included)] {
			spec.Dependencies = append(spec.Dependencies, schema.Dependency{MatchSpec: included})
		}
	}

	present = names()
	var missing []string
	for _, required := range settings.CondaRequiredPackages {
		if !present[schema.MatchSpecName(required)] {
			missing = append(missing, schema.MatchSpecName(required))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &PackageRequiredError{Ecosystem: "conda", Packages: missing}
	}
	return nil
}

// ValidatePipPackages applies the same policy to the nested pip block.
// Flag tokens (starting with "--") pass through without requirement
// parsing.
func ValidatePipPackages(spec *schema.CondaSpecification, settings *config.Settings) error {
	if len(spec.PipPackages()) == 0 && len(settings.PypiDefaultPackages) != 0 {
		spec.AppendPipPackages(settings.PypiDefaultPackages)
	}

	names := func() map[string]bool {
		out := map[string]bool{}
		for _, pkg := range spec.PipPackages() {
			out[schema.RequirementName(pkg)] = true
		}
		return out
	}

	present := names()
	for _, included := range settings.PypiIncludedPackages {
		if !present[schema.RequirementName(included)] {
			spec.AppendPipPackages([]string{included})
		}
	}

	present = names()
	var missing []string
	for _, required := range settings.PypiRequiredPackages {
		if !present[schema.RequirementName(required)] {
			missing = append(missing, schema.RequirementName(required))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &PackageRequiredError{Ecosystem: "pypi", Packages: missing}
	}
	return nil
}

// CondaPlatform returns the conda subdir name for the current host, for
// example "linux-64" or "osx-arm64".
func CondaPlatform() string {
	operating := map[string]string{
		"linux":   "linux",
		"darwin":  "osx",
		"windows": "win",
	}[runtime.GOOS]
	arch := map[string]string{
		"amd64": "64",
		"386":   "32",
		"arm64": "arm64",
	}[runtime.GOARCH]
	if operating == "" || arch == "" {
		return fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
	}
	if operating == "linux" && arch == "arm64" {
		arch = "aarch64"
	}
	return operating + "-" + arch
}

// Validate runs the full policy chain over a parsed specification,
// mutating it in place with defaults and included packages.
func Validate(spec *schema.CondaSpecification, settings *config.Settings) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := ValidateChannels(spec, settings); err != nil {
		return err
	}
	if err := ValidateCondaPackages(spec, settings); err != nil {
		return err
	}
	return ValidatePipPackages(spec, settings)
}
