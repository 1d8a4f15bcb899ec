// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Task names understood by the worker.
const (
	TaskBuildEnvironment     = "build_conda_environment"
	TaskSolveEnvironment     = "solve_conda_environment"
	TaskBuildEnvExport       = "build_conda_env_export"
	TaskBuildCondaPack       = "build_conda_pack"
	TaskBuildConstructor     = "build_constructor_installer"
	TaskBuildDocker          = "build_conda_docker"
	TaskDeleteBuild          = "delete_build"
	TaskDeleteEnvironment    = "delete_environment"
	TaskDeleteNamespace      = "delete_namespace"
	TaskCleanupBuilds        = "cleanup_builds"
	TaskWatchPaths           = "watch_paths"
)

// Task is one unit of worker work. ID follows the build-<id>-<suffix>
// convention so the reaper can attribute live tasks to builds.
type Task struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	BuildID int64             `json:"build_id,omitempty"`
	Args    map[string]string `json:"args,omitempty"`
}

// NewBuildTask names a task after the build it operates on.
func NewBuildTask(name string, buildID int64) Task {
	return Task{
		ID:      fmt.Sprintf("build-%d-%s", buildID, uuid.NewString()),
		Name:    name,
		BuildID: buildID,
	}
}

// NewTask names a task unrelated to any single build.
func NewTask(name string, args map[string]string) Task {
	return Task{ID: fmt.Sprintf("%s-%s", name, uuid.NewString()), Name: name, Args: args}
}

// Broker hands tasks between the server and the workers and exposes the
// live-task inventory the reaper inspects.
type Broker interface {
	// Enqueue submits a task.
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task is available or the context ends.
	Dequeue(ctx context.Context) (*Task, error)
	// TaskStarted records the task in the live inventory under the worker.
	// Inventory entries expire unless refreshed, so workers call it again
	// periodically while the task runs; a worker that dies hard stops
	// refreshing and its entries age out.
	TaskStarted(ctx context.Context, task Task, workerName string) error
	// TaskFinished removes the task from the live inventory.
	TaskFinished(ctx context.Context, task Task) error
	// ActiveTasks enumerates unexpired task ids grouped by worker name. A
	// broker that cannot inspect returns an error; callers treat that as a
	// no-op.
	ActiveTasks(ctx context.Context) (map[string][]string, error)
	// QueueLength reports the number of queued tasks.
	QueueLength(ctx context.Context) (int64, error)
}
