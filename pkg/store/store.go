// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package store ties the pieces together: the CondaStore handle owns the
// database, the plugin registry, the settings provider, and the broker, and
// implements the registration pipeline turning submitted specifications
// into queued builds.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/conda-store/conda-store-server/pkg/config"
	"github.com/conda-store/conda-store-server/pkg/database"
	"github.com/conda-store/conda-store-server/pkg/environment"
	"github.com/conda-store/conda-store-server/pkg/plugins"
	"github.com/conda-store/conda-store-server/pkg/schema"
	"github.com/conda-store/conda-store-server/pkg/util/log"
)

// CondaStore is the explicit handle passed through the call graph instead
// of process-wide singletons.
type CondaStore struct {
	Config   *config.Config
	DB       *database.Store
	Registry *plugins.Registry
	Settings *config.SettingsProvider
	Broker   Broker
}

// Storage returns the active storage plugin.
func (c *CondaStore) Storage() (plugins.StoragePlugin, error) {
	return c.Registry.StoragePlugin(c.Config.StoragePlugin)
}

// RegisterEnvironment runs the full registration pipeline for a JSON
// specification: parse, policy validation, canonicalize and hash, dedupe,
// and build creation. The returned build is in QUEUED state with its task
// already enqueued.
func (c *CondaStore) RegisterEnvironment(ctx context.Context, raw []byte, namespace string) (*database.Build, error) {
	spec, err := schema.ParseCondaSpecification(raw)
	if err != nil {
		return nil, err
	}

	if namespace == "" {
		global, err := c.Settings.Get("", "")
		if err != nil {
			return nil, err
		}
		namespace = global.DefaultNamespace
	}

	settings, err := c.Settings.Get(namespace, spec.Name)
	if err != nil {
		return nil, err
	}
	if err := environment.Validate(spec, settings); err != nil {
		return nil, err
	}

	return c.registerBuild(ctx, namespace, spec.Name, spec, false)
}

// RegisterLockfileEnvironment registers a pre-solved lockfile
// specification; the build installs it without solving.
func (c *CondaStore) RegisterLockfileEnvironment(ctx context.Context, raw []byte, namespace string) (*database.Build, error) {
	var spec schema.LockfileSpecification
	if err := parseJSONStrict(raw, &spec); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if namespace == "" {
		global, err := c.Settings.Get("", "")
		if err != nil {
			return nil, err
		}
		namespace = global.DefaultNamespace
	}
	return c.registerBuild(ctx, namespace, spec.Name, &spec, true)
}

// registerBuild persists the canonical specification and creates the
// QUEUED build for it.
func (c *CondaStore) registerBuild(ctx context.Context, namespace, name string, spec interface{}, isLockfile bool) (*database.Build, error) {
	canonical, err := schema.CanonicalJSON(spec)
	if err != nil {
		return nil, err
	}
	sha256, err := schema.Hash(spec)
	if err != nil {
		return nil, err
	}

	ns, err := c.DB.EnsureNamespace(namespace)
	if err != nil {
		return nil, err
	}
	env, err := c.DB.EnsureEnvironment(ns.ID, name, "")
	if err != nil {
		return nil, err
	}
	specification, err := c.DB.EnsureSpecification(name, sha256, string(canonical), isLockfile)
	if err != nil {
		return nil, err
	}

	build, err := c.DB.CreateBuild(env.ID, specification.ID)
	if err != nil {
		return nil, err
	}

	if err := c.Broker.Enqueue(ctx, NewBuildTask(TaskBuildEnvironment, build.ID)); err != nil {
		return nil, fmt.Errorf("enqueuing build %d: %w", build.ID, err)
	}
	log.Infof("registered environment %s/%s sha256=%s build=%d", namespace, name, sha256, build.ID)
	return build, nil
}

func parseJSONStrict(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &schema.InvalidSpecificationError{Reason: err.Error()}
	}
	return nil
}

// RegisterSolve queues a solve-only run of a specification.
func (c *CondaStore) RegisterSolve(ctx context.Context, specificationID int64) (*database.Solve, error) {
	solve, err := c.DB.CreateSolve(specificationID)
	if err != nil {
		return nil, err
	}
	task := NewTask(TaskSolveEnvironment, map[string]string{"solve_id": strconv.FormatInt(solve.ID, 10)})
	if err := c.Broker.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueuing solve %d: %w", solve.ID, err)
	}
	return solve, nil
}

// CancelBuild asks the worker fleet to reap the build as canceled.
func (c *CondaStore) CancelBuild(ctx context.Context, buildID int64) error {
	task := NewTask(TaskCleanupBuilds, map[string]string{
		"build_ids":   strconv.FormatInt(buildID, 10),
		"is_canceled": "true",
	})
	return c.Broker.Enqueue(ctx, task)
}

// DeleteBuild queues removal of a terminal build's artifacts.
func (c *CondaStore) DeleteBuild(ctx context.Context, buildID int64) error {
	build, err := c.DB.GetBuild(buildID)
	if err != nil {
		return err
	}
	if !build.Status.Terminal() {
		return fmt.Errorf("build %d is %s; only terminal builds can be deleted", buildID, build.Status)
	}
	return c.Broker.Enqueue(ctx, NewBuildTask(TaskDeleteBuild, buildID))
}

// DeleteEnvironment soft-deletes the environment and queues artifact
// cleanup of its builds.
func (c *CondaStore) DeleteEnvironment(ctx context.Context, namespace, name string) error {
	ns, err := c.DB.GetNamespace(namespace)
	if err != nil {
		return err
	}
	env, err := c.DB.GetEnvironment(ns.ID, name)
	if err != nil {
		return err
	}
	if err := c.DB.SoftDeleteEnvironment(env.ID); err != nil {
		return err
	}
	return c.Broker.Enqueue(ctx, NewTask(TaskDeleteEnvironment, map[string]string{
		"namespace":   namespace,
		"environment": name,
	}))
}

// DeleteNamespace soft-deletes the namespace and queues cleanup of every
// environment it owns.
func (c *CondaStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if _, err := c.DB.GetNamespace(namespace); err != nil {
		return err
	}
	if err := c.DB.SoftDeleteNamespace(namespace); err != nil {
		return err
	}
	return c.Broker.Enqueue(ctx, NewTask(TaskDeleteNamespace, map[string]string{
		"namespace": namespace,
	}))
}
