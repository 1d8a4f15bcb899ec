// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package worker runs the task side of conda-store: it consumes tasks from
// the broker, executes builds and artifact producers, reaps stuck builds,
// and performs deletions.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/conda-store/conda-store-server/pkg/environment"
	"github.com/conda-store/conda-store-server/pkg/metrics"
	"github.com/conda-store/conda-store-server/pkg/schema"
	"github.com/conda-store/conda-store-server/pkg/store"
	"github.com/conda-store/conda-store-server/pkg/util/log"
	buildpkg "github.com/conda-store/conda-store-server/pkg/worker/build"
)

// reapInterval is how often the periodic stuck-build sweep runs.
const reapInterval = time.Minute

// heartbeatInterval refreshes a running task's live-inventory entry well
// inside the broker's expiry, so only dead workers' entries age out.
const heartbeatInterval = 30 * time.Second

// Worker consumes and executes tasks.
type Worker struct {
	Store *store.CondaStore
	// Name identifies this worker in the live-task inventory.
	Name string
	// Concurrency is the number of tasks processed in parallel.
	Concurrency int

	inflight atomic.Int64
}

// Inflight reports the number of tasks currently being processed.
func (w *Worker) Inflight() int64 {
	return w.inflight.Load()
}

// New builds a worker with a unique name.
func New(cs *store.CondaStore, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	hostname, _ := os.Hostname()
	return &Worker{
		Store:       cs,
		Name:        fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		Concurrency: concurrency,
	}
}

// Run processes tasks until the context ends. The periodic reaper runs
// alongside the task loops.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Store.DB.EnsureWorkerInitialized(); err != nil {
		return err
	}
	log.Infof("worker %s starting with concurrency %d", w.Name, w.Concurrency)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reapLoop(ctx)
	}()

	for i := 0; i < w.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.taskLoop(ctx)
		}()
	}

	wg.Wait()
	log.Infof("worker %s stopping with %d tasks in flight", w.Name, w.Inflight())
	return ctx.Err()
}

func (w *Worker) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := BuildCleanup(ctx, w.Store, nil, "", false); err != nil {
				log.Errorf("stuck-build sweep failed: %v", err)
			}
			if depth, err := w.Store.Broker.QueueLength(ctx); err == nil {
				metrics.QueuedBuilds.Set(float64(depth))
			}
		}
	}
}

func (w *Worker) taskLoop(ctx context.Context) {
	for {
		task, err := w.Store.Broker.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("dequeue failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		if err := w.Store.Broker.TaskStarted(ctx, *task, w.Name); err != nil {
			log.Errorf("recording task %s start: %v", task.ID, err)
		}
		w.inflight.Inc()
		hbCtx, stopHeartbeat := context.WithCancel(ctx)
		go w.heartbeat(hbCtx, *task)
		err = w.dispatch(ctx, *task)
		stopHeartbeat()
		w.inflight.Dec()
		if finishErr := w.Store.Broker.TaskFinished(ctx, *task); finishErr != nil {
			log.Errorf("recording task %s finish: %v", task.ID, finishErr)
		}

		outcome := "success"
		if err != nil {
			outcome = "failure"
			log.Errorf("task %s (%s) failed: %v", task.ID, task.Name, err)
		}
		metrics.TasksProcessed.WithLabelValues(task.Name, outcome).Inc()
	}
}

// heartbeat keeps a running task's live-inventory entry from expiring.
// Without it the reaper would mistake a long build for an abandoned one.
func (w *Worker) heartbeat(ctx context.Context, task store.Task) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Store.Broker.TaskStarted(ctx, task, w.Name); err != nil {
				log.Warnf("refreshing live entry for task %s: %v", task.ID, err)
			}
		}
	}
}

// dispatch routes a task to its implementation.
func (w *Worker) dispatch(ctx context.Context, task store.Task) error {
	switch task.Name {
	case store.TaskBuildEnvironment:
		return buildpkg.RunBuild(ctx, w.Store, task.BuildID)
	case store.TaskSolveEnvironment:
		solveID, err := strconv.ParseInt(task.Args["solve_id"], 10, 64)
		if err != nil {
			return fmt.Errorf("task %s: bad solve_id: %w", task.ID, err)
		}
		return buildpkg.RunSolve(ctx, w.Store, solveID)
	case store.TaskBuildEnvExport:
		return buildpkg.RunCondaEnvExport(ctx, w.Store, task.BuildID)
	case store.TaskBuildCondaPack:
		return buildpkg.RunCondaPack(ctx, w.Store, task.BuildID)
	case store.TaskBuildConstructor:
		return buildpkg.RunConstructorInstaller(ctx, w.Store, task.BuildID)
	case store.TaskBuildDocker:
		return buildpkg.RunCondaDocker(ctx, w.Store, task.BuildID)
	case store.TaskDeleteBuild:
		return DeleteBuild(ctx, w.Store, task.BuildID)
	case store.TaskDeleteEnvironment:
		return DeleteEnvironment(ctx, w.Store, task.Args["namespace"], task.Args["environment"])
	case store.TaskDeleteNamespace:
		return DeleteNamespace(ctx, w.Store, task.Args["namespace"])
	case store.TaskCleanupBuilds:
		buildIDs, err := parseBuildIDs(task.Args["build_ids"])
		if err != nil {
			return fmt.Errorf("task %s: %w", task.ID, err)
		}
		return BuildCleanup(ctx, w.Store, buildIDs, "", task.Args["is_canceled"] == "true")
	case store.TaskWatchPaths:
		return WatchPaths(ctx, w.Store, strings.Split(task.Args["paths"], ","))
	default:
		return fmt.Errorf("unknown task %q", task.Name)
	}
}

func parseBuildIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad build id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// WatchPaths registers every valid environment file found under the watch
// paths into the filesystem namespace. Specifications that have not
// changed dedupe on their content hash; new content queues a build.
func WatchPaths(ctx context.Context, cs *store.CondaStore, paths []string) error {
	settings, err := cs.Settings.Get("", "")
	if err != nil {
		return err
	}

	files, err := environment.Discover(paths)
	if err != nil {
		return err
	}
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			log.Warnf("skipping unreadable environment file %s: %v", file, err)
			continue
		}
		spec, err := schema.ParseCondaSpecificationYAML(raw)
		if err != nil {
			log.Warnf("skipping invalid environment file %s: %v", file, err)
			continue
		}
		encoded, err := json.Marshal(spec)
		if err != nil {
			return err
		}
		if _, err := cs.RegisterEnvironment(ctx, encoded, settings.FilesystemNamespace); err != nil {
			log.Errorf("registering %s: %v", file, err)
		}
	}
	return nil
}
