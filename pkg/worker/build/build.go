// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conda-store/conda-store-server/pkg/environment"
	"github.com/conda-store/conda-store-server/pkg/metrics"
	"github.com/conda-store/conda-store-server/pkg/plugins"
	"github.com/conda-store/conda-store-server/pkg/plugins/lock/condalock"
	"github.com/conda-store/conda-store-server/pkg/schema"
	"github.com/conda-store/conda-store-server/pkg/store"
	"github.com/conda-store/conda-store-server/pkg/util/filesystem"
	"github.com/conda-store/conda-store-server/pkg/util/log"
)

// RunBuild executes the full build sequence for a queued build. Any error
// transitions the build to FAILED before returning, so database state is
// consistent even if the task runner dies afterwards. Only messages of
// errors declared safe (build path, low disk space) are forwarded into
// the user-visible status_info.
func RunBuild(ctx context.Context, cs *store.CondaStore, buildID int64) error {
	bctx, err := NewContext(ctx, cs, buildID)
	if err != nil {
		failBuild(cs, buildID, err)
		return err
	}
	defer bctx.Close()

	if err := bctx.buildEnvironment(ctx); err != nil {
		// The log gets the full error; status_info only what is safe.
		_ = bctx.AppendToLogs(ctx, fmt.Sprintf("build failed: %v\n", err))
		failBuild(cs, buildID, err)
		return err
	}

	bctx.enqueueArtifactTasks(ctx)
	return nil
}

// failBuild records the FAILED transition, exposing the message only for
// errors declared safe.
func failBuild(cs *store.CondaStore, buildID int64, err error) {
	statusInfo := ""
	var pathErr *filesystem.BuildPathError
	var diskErr *filesystem.LowDiskSpaceError
	switch {
	case errors.As(err, &pathErr):
		statusInfo = pathErr.Error()
	case errors.As(err, &diskErr):
		statusInfo = diskErr.Error()
	}
	if dbErr := cs.DB.SetBuildFailed(buildID, statusInfo); dbErr != nil {
		log.Errorf("marking build %d failed: %v", buildID, dbErr)
		return
	}
	metrics.BuildTransitions.WithLabelValues(string(schema.BuildFailed)).Inc()
}

func (b *Context) buildEnvironment(ctx context.Context) error {
	if err := b.Store.DB.SetBuildStarted(b.Build.ID); err != nil {
		return err
	}
	metrics.BuildTransitions.WithLabelValues(string(schema.BuildBuilding)).Inc()
	if err := b.AppendToLogs(ctx, fmt.Sprintf(
		"starting build of conda environment %s UTC\n", time.Now().UTC().Format(time.RFC3339))); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(b.BuildPath), 0o755); err != nil {
		return err
	}
	if err := b.checkStorageThreshold(ctx); err != nil {
		return err
	}
	if envPath := b.EnvironmentPath(); envPath != "" {
		if err := os.MkdirAll(filepath.Dir(envPath), 0o755); err != nil {
			return err
		}
	}

	lockfile, err := b.solveLockfile(ctx)
	if err != nil {
		return err
	}
	if err := b.storeLockfile(ctx, lockfile); err != nil {
		return err
	}
	if err := b.installLockfile(ctx, lockfile); err != nil {
		return err
	}

	if envPath := b.EnvironmentPath(); envPath != "" {
		if err := filesystem.Symlink(b.BuildPath, envPath); err != nil {
			return err
		}
	}
	if err := b.applyPermissions(ctx); err != nil {
		return err
	}

	if err := AddLockfilePackages(b.Store.DB, lockfile, b.Build.ID); err != nil {
		return err
	}

	size, err := filesystem.DiskUsage(b.BuildPath)
	if err != nil {
		return err
	}
	if err := b.Store.DB.SetBuildSize(b.Build.ID, size); err != nil {
		return err
	}

	if err := b.Store.DB.SetBuildCompleted(b.Build.ID, b.BuildPath); err != nil {
		return err
	}
	metrics.BuildTransitions.WithLabelValues(string(schema.BuildCompleted)).Inc()
	return nil
}

// checkStorageThreshold fails the build before any solve work when the
// store volume has less free space than the configured minimum. A zero
// threshold disables the check.
func (b *Context) checkStorageThreshold(ctx context.Context) error {
	if b.Settings.StorageThreshold <= 0 {
		return nil
	}
	dir := filepath.Dir(b.BuildPath)
	free, err := filesystem.DiskFree(dir)
	if err != nil {
		return err
	}
	if free < b.Settings.StorageThreshold {
		err := &filesystem.LowDiskSpaceError{Path: dir, Free: free, Threshold: b.Settings.StorageThreshold}
		_ = b.AppendToLogs(ctx, fmt.Sprintf("check_storage: %v\n", err))
		return err
	}
	return nil
}

// solveLockfile produces the lockfile document: lockfile specifications
// are saved as-is, everything else goes through the active locker plugin.
func (b *Context) solveLockfile(ctx context.Context) (map[string]interface{}, error) {
	if b.Spec.IsLockfile {
		spec, err := b.Spec.LockfileSpecification()
		if err != nil {
			return nil, err
		}
		_ = b.AppendToLogs(ctx, "save_lockfile: using lockfile from specification\n")
		return spec.Lockfile, nil
	}

	spec, err := b.Spec.CondaSpecification()
	if err != nil {
		return nil, err
	}
	locker, err := b.Locker()
	if err != nil {
		return nil, err
	}

	actx := plugins.NewActionContext(b.NewLogWriter(ctx, "lock_environment: "))
	return locker.LockEnvironment(ctx, actx, spec, b.Settings.CondaPlatforms)
}

// storeLockfile persists the solved lockfile as the LOCKFILE artifact.
// The key carries a .yml suffix for compatibility; the content is JSON.
func (b *Context) storeLockfile(ctx context.Context, lockfile map[string]interface{}) error {
	raw, err := json.MarshalIndent(lockfile, "", "    ")
	if err != nil {
		return err
	}
	key := CondaLockKey(b.BuildKey)
	if err := b.storage.Set(ctx, key, raw, "application/json"); err != nil {
		return err
	}
	metrics.ArtifactBytes.WithLabelValues(string(schema.ArtifactLockfile)).Add(float64(len(raw)))
	return b.Store.DB.EnsureBuildArtifact(b.Build.ID, schema.ArtifactLockfile, key)
}

// installLockfile materializes the lockfile into the build prefix.
// conda-lock install fetches packages into the shared cache and installs
// them; its output streams into the build log.
func (b *Context) installLockfile(ctx context.Context, lockfile map[string]interface{}) error {
	workdir, err := os.MkdirTemp("", "conda-store-install-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workdir)

	lockfilePath := filepath.Join(workdir, "conda-lock.yaml")
	raw, err := yaml.Marshal(lockfile)
	if err != nil {
		return err
	}
	if err := os.WriteFile(lockfilePath, raw, 0o644); err != nil {
		return err
	}

	actx := plugins.NewActionContext(b.NewLogWriter(ctx, "install_lockfile: "))
	return actx.RunCommand(ctx, "conda-lock", "install",
		"--conda", b.Settings.CondaCommand,
		"--prefix", b.BuildPath,
		lockfilePath)
}

// applyPermissions sets ownership and mode on the installed prefix per the
// settings snapshot.
func (b *Context) applyPermissions(ctx context.Context) error {
	if b.Settings.DefaultPermissions != "" {
		mode, err := strconv.ParseUint(b.Settings.DefaultPermissions, 8, 32)
		if err != nil {
			return fmt.Errorf("invalid default_permissions %q: %w", b.Settings.DefaultPermissions, err)
		}
		_ = b.AppendToLogs(ctx, fmt.Sprintf("set_permissions: chmod %s on %s\n", b.Settings.DefaultPermissions, b.BuildPath))
		if err := filesystem.Chmod(b.BuildPath, os.FileMode(mode)); err != nil {
			return err
		}
	}
	if b.Settings.DefaultUID != nil && b.Settings.DefaultGID != nil {
		_ = b.AppendToLogs(ctx, fmt.Sprintf("set_permissions: chown %d:%d on %s\n", *b.Settings.DefaultUID, *b.Settings.DefaultGID, b.BuildPath))
		if err := filesystem.Chown(b.BuildPath, *b.Settings.DefaultUID, *b.Settings.DefaultGID); err != nil {
			return err
		}
	}
	return nil
}

// enqueueArtifactTasks dispatches the artifact producers configured for
// this scope. Failures only log; the build itself already completed.
func (b *Context) enqueueArtifactTasks(ctx context.Context) {
	producers := map[string]string{
		string(schema.ArtifactYaml):                 store.TaskBuildEnvExport,
		string(schema.ArtifactCondaPack):            store.TaskBuildCondaPack,
		string(schema.ArtifactConstructorInstaller): store.TaskBuildConstructor,
		string(schema.ArtifactDockerManifest):       store.TaskBuildDocker,
	}
	for _, artifact := range b.Settings.BuildArtifacts {
		name, ok := producers[artifact]
		if !ok {
			continue
		}
		if err := b.Store.Broker.Enqueue(ctx, store.NewBuildTask(name, b.Build.ID)); err != nil {
			log.Errorf("enqueuing %s for build %d: %v", name, b.Build.ID, err)
		}
	}
}

// RunSolve executes a solve-only task: run the locker and index the
// resulting packages without installing anything.
func RunSolve(ctx context.Context, cs *store.CondaStore, solveID int64) error {
	solve, err := cs.DB.GetSolve(solveID)
	if err != nil {
		return err
	}
	specification, err := cs.DB.GetSpecificationByID(solve.SpecificationID)
	if err != nil {
		return err
	}
	spec, err := specification.CondaSpecification()
	if err != nil {
		return err
	}
	settings, err := cs.Settings.Get("", "")
	if err != nil {
		return err
	}

	registry := cs.Registry.Child()
	release, err := registry.Scoped(condalock.New(settings.CondaCommand))
	if err != nil {
		return err
	}
	defer release()

	if err := cs.DB.SetSolveStarted(solveID); err != nil {
		return err
	}

	locker, err := registry.LockPlugin(settings.LockerPluginName)
	if err != nil {
		return err
	}
	// Solves preview what the current host would install, so only the
	// host platform is locked.
	lockfile, err := locker.LockEnvironment(ctx, plugins.NewActionContext(nil), spec,
		[]string{environment.CondaPlatform()})
	if err != nil {
		return err
	}
	if err := AddLockfilePackages(cs.DB, lockfile, 0); err != nil {
		return err
	}
	return cs.DB.SetSolveEnded(solveID)
}
