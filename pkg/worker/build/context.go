// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package build implements the worker-side build pipeline: the scoped
// build context, the log-append path, the environment build sequence, and
// the artifact producers dispatched after completion.
package build

import (
	"context"

	"github.com/conda-store/conda-store-server/pkg/config"
	"github.com/conda-store/conda-store-server/pkg/database"
	"github.com/conda-store/conda-store-server/pkg/plugins"
	"github.com/conda-store/conda-store-server/pkg/plugins/lock/condalock"
	"github.com/conda-store/conda-store-server/pkg/store"
)

// Context is the per-task view of a build: the database rows, the resolved
// settings snapshot, the derived keys and paths, and the plugins scoped to
// the task's lifetime.
type Context struct {
	Store       *store.CondaStore
	Build       *database.Build
	Environment *database.Environment
	Spec        *database.Specification
	Settings    *config.Settings

	BuildKey  string
	BuildPath string
	LogKey    string

	registry *plugins.Registry
	storage  plugins.StoragePlugin
	release  func()
}

// NewContext loads the build and resolves its scope. Build-time plugins
// (the active locker) are registered on a child registry so concurrent
// tasks never collide on shared names; Close undoes the registration and
// must run on every exit path.
func NewContext(ctx context.Context, cs *store.CondaStore, buildID int64) (*Context, error) {
	build, err := cs.DB.GetBuild(buildID)
	if err != nil {
		return nil, err
	}
	env, err := cs.DB.GetEnvironmentByID(build.EnvironmentID)
	if err != nil {
		return nil, err
	}
	spec, err := cs.DB.GetSpecificationByID(build.SpecificationID)
	if err != nil {
		return nil, err
	}
	settings, err := cs.Settings.Get(env.Namespace.Name, env.Name)
	if err != nil {
		return nil, err
	}

	storage, err := cs.Storage()
	if err != nil {
		return nil, err
	}

	buildKey := Key(build, spec)
	buildPath, err := Path(cs.Config.StoreDirectory, env.Namespace.Name, buildKey)
	if err != nil {
		return nil, err
	}

	registry := cs.Registry.Child()
	release, err := registry.Scoped(condalock.New(settings.CondaCommand))
	if err != nil {
		return nil, err
	}

	return &Context{
		Store:       cs,
		Build:       build,
		Environment: env,
		Spec:        spec,
		Settings:    settings,
		BuildKey:    buildKey,
		BuildPath:   buildPath,
		LogKey:      LogKey(buildKey),
		registry:    registry,
		storage:     storage,
		release:     release,
	}, nil
}

// Close releases the task-scoped plugin registrations. Safe to call more
// than once.
func (b *Context) Close() {
	if b.release != nil {
		b.release()
	}
}

// Locker returns the lock plugin selected by the settings snapshot.
func (b *Context) Locker() (plugins.LockPlugin, error) {
	return b.registry.LockPlugin(b.Settings.LockerPluginName)
}

// EnvironmentPath returns the stable symlink path for this build's
// environment, or "" when symlinking is disabled.
func (b *Context) EnvironmentPath() string {
	return EnvironmentPath(b.Store.Config.EnvironmentDirectory, b.Environment.Namespace.Name, b.Environment.Name)
}
