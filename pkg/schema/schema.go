// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package schema declares the wire-level types shared by the server and the
// worker: environment specifications, build lifecycle enums, artifact types,
// and the role-binding grammar.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// BuildStatus is the lifecycle state of a build.
type BuildStatus string

// Build lifecycle states. QUEUED builds are picked up by workers; terminal
// states (COMPLETED, FAILED, CANCELED) set ended_on and never change again.
const (
	BuildQueued    BuildStatus = "QUEUED"
	BuildBuilding  BuildStatus = "BUILDING"
	BuildCompleted BuildStatus = "COMPLETED"
	BuildFailed    BuildStatus = "FAILED"
	BuildCanceled  BuildStatus = "CANCELED"
)

// Terminal reports whether the status is a final state.
func (s BuildStatus) Terminal() bool {
	switch s {
	case BuildCompleted, BuildFailed, BuildCanceled:
		return true
	}
	return false
}

// BuildArtifactType identifies what kind of blob an artifact key points at.
type BuildArtifactType string

// Artifact types produced by the build pipeline.
const (
	ArtifactDirectory            BuildArtifactType = "DIRECTORY"
	ArtifactLockfile             BuildArtifactType = "LOCKFILE"
	ArtifactLogs                 BuildArtifactType = "LOGS"
	ArtifactYaml                 BuildArtifactType = "YAML"
	ArtifactCondaPack            BuildArtifactType = "CONDA_PACK"
	ArtifactConstructorInstaller BuildArtifactType = "CONSTRUCTOR_INSTALLER"
	ArtifactDockerManifest       BuildArtifactType = "DOCKER_MANIFEST"
	ArtifactContainerRegistry    BuildArtifactType = "CONTAINER_REGISTRY"
)

// AllowedCharacters is the set of characters permitted in namespace and
// environment names.
const AllowedCharacters = `A-Za-z0-9\-+_@$&?^~.`

var (
	// NameRegex validates namespace and environment names.
	NameRegex = regexp.MustCompile(`^[` + AllowedCharacters + `]+$`)

	// ARNAllowedRegex validates role-binding entities of the form
	// <namespace-glob>/<environment-glob> where * matches any run of
	// allowed characters.
	ARNAllowedRegex = regexp.MustCompile(
		`^([` + AllowedCharacters + `*]+)/([` + AllowedCharacters + `*]+)$`)
)

// RoleBindings maps a namespace/environment glob to the roles granted on
// the matching objects.
type RoleBindings map[string][]string

// NormalizeRole maps legacy role names onto their canonical form.
func NormalizeRole(role string) string {
	role = strings.ToLower(role)
	if role == "editor" {
		return "developer"
	}
	return role
}

// CompileArnSQLLike splits a role-binding entity into its namespace and
// environment globs and translates them to SQL LIKE patterns: * becomes %
// and ? becomes _.
func CompileArnSQLLike(arn string) (namespace string, environment string, err error) {
	match := ARNAllowedRegex.FindStringSubmatch(arn)
	if match == nil {
		return "", "", fmt.Errorf("invalid arn %q: must match %s", arn, ARNAllowedRegex)
	}

	translate := func(glob string) string {
		s := strings.ReplaceAll(glob, "*", "%")
		return strings.ReplaceAll(s, "?", "_")
	}
	return translate(match[1]), translate(match[2]), nil
}
