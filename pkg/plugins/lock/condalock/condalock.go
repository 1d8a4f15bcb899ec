// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package condalock solves specifications with the external conda-lock
// tool.
package condalock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/conda-store/conda-store-server/pkg/plugins"
	"github.com/conda-store/conda-store-server/pkg/schema"
)

const pluginName = "conda-lock"

// defaultCondaFlags is passed to the solver through the CONDA_FLAGS
// environment variable; conda-lock honors it from the environment only.
const defaultCondaFlags = "--strict-channel-priority"

// Locker runs conda-lock against a specification.
type Locker struct {
	// CondaCommand is the conda executable handed to conda-lock, usually
	// mamba.
	CondaCommand string
	// CondaFlags overrides defaultCondaFlags when non-empty.
	CondaFlags string
}

// New returns a Locker using the given conda command.
func New(condaCommand string) *Locker {
	if condaCommand == "" {
		condaCommand = "mamba"
	}
	return &Locker{CondaCommand: condaCommand}
}

// Name implements plugins.Plugin.
func (l *Locker) Name() string { return pluginName }

// Synopsis implements plugins.Plugin.
func (l *Locker) Synopsis() string { return "solve environments with conda-lock" }

// LockEnvironment implements plugins.LockPlugin. The specification is
// written as an environment file into a scratch directory, conda-lock is
// invoked with CONDA_FLAGS exported for its solver, and the produced
// lockfile is parsed back.
func (l *Locker) LockEnvironment(ctx context.Context, actx *plugins.ActionContext, spec *schema.CondaSpecification, platforms []string) (map[string]interface{}, error) {
	workdir, err := os.MkdirTemp("", "conda-lock-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workdir)

	environmentFile := filepath.Join(workdir, "environment.yaml")
	lockfileFile := filepath.Join(workdir, "conda-lock.yaml")

	// JSON is a YAML subset, so the canonical encoding doubles as the
	// environment file.
	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(environmentFile, raw, 0o644); err != nil {
		return nil, err
	}

	condaFlags := l.CondaFlags
	if condaFlags == "" {
		condaFlags = defaultCondaFlags
	}
	actx.Printf("Overridden settings: CONDA_FLAGS=%s", condaFlags)

	actx.Dir = workdir
	actx.Env = append(actx.Env, "CONDA_FLAGS="+condaFlags)
	if cuda := spec.Variables["CONDA_OVERRIDE_CUDA"]; cuda != "" {
		actx.Env = append(actx.Env, "CONDA_OVERRIDE_CUDA="+cuda)
	}

	// mamba understands info; config is conda-only. Failures here are
	// diagnostics only and do not abort the solve.
	_ = actx.RunCommand(ctx, l.CondaCommand, "info")
	_ = actx.RunCommand(ctx, "conda", "config", "--show-sources")

	args := []string{
		"--file", environmentFile,
		"--lockfile", lockfileFile,
		"--conda", l.CondaCommand,
	}
	for _, platform := range platforms {
		args = append(args, "--platform", platform)
	}
	if err := actx.RunCommand(ctx, "conda-lock", args...); err != nil {
		return nil, fmt.Errorf("conda-lock failed: %w", err)
	}

	rawLock, err := os.ReadFile(lockfileFile)
	if err != nil {
		return nil, fmt.Errorf("reading lockfile: %w", err)
	}
	var lockfile map[string]interface{}
	if err := yaml.Unmarshal(rawLock, &lockfile); err != nil {
		return nil, fmt.Errorf("parsing lockfile: %w", err)
	}
	return lockfile, nil
}

// ConfigFields implements plugins.TraitConfigPlugin.
func (l *Locker) ConfigFields() []plugins.ConfigField {
	return []plugins.ConfigField{
		{Name: "conda_command", Help: "conda executable handed to conda-lock", Default: "mamba"},
		{Name: "conda_flags", Help: "flags exported as CONDA_FLAGS for the solver", Default: defaultCondaFlags},
	}
}
