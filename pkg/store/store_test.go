// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conda-store/conda-store-server/pkg/config"
	"github.com/conda-store/conda-store-server/pkg/database"
	"github.com/conda-store/conda-store-server/pkg/environment"
	"github.com/conda-store/conda-store-server/pkg/plugins"
	"github.com/conda-store/conda-store-server/pkg/plugins/storage/local"
	"github.com/conda-store/conda-store-server/pkg/schema"
)

// recordingBroker captures enqueued tasks in memory.
type recordingBroker struct {
	mu    sync.Mutex
	tasks []Task
}

func (b *recordingBroker) Enqueue(_ context.Context, task Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append(b.tasks, task)
	return nil
}

func (b *recordingBroker) Dequeue(ctx context.Context) (*Task, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *recordingBroker) TaskStarted(context.Context, Task, string) error { return nil }
func (b *recordingBroker) TaskFinished(context.Context, Task) error        { return nil }
func (b *recordingBroker) ActiveTasks(context.Context) (map[string][]string, error) {
	return map[string][]string{}, nil
}
func (b *recordingBroker) QueueLength(context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.tasks)), nil
}

func (b *recordingBroker) enqueued() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Task(nil), b.tasks...)
}

func newTestStore(t *testing.T) (*CondaStore, *recordingBroker) {
	t.Helper()

	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := plugins.NewRegistry()
	require.NoError(t, registry.Register(local.New(t.TempDir())))

	broker := &recordingBroker{}
	cs := &CondaStore{
		Config: &config.Config{
			StoreDirectory: t.TempDir(),
			StoragePlugin:  "local",
		},
		DB:       db,
		Registry: registry,
		Settings: config.NewSettingsProvider(db, nil),
		Broker:   broker,
	}
	return cs, broker
}

func TestRegisterEnvironment(t *testing.T) {
	ctx := context.Background()
	cs, broker := newTestStore(t)

	build, err := cs.RegisterEnvironment(ctx, []byte(
		`{"name": "test", "channels": ["conda-forge"], "dependencies": ["python"]}`), "team")
	require.NoError(t, err)
	assert.Equal(t, schema.BuildQueued, build.Status)

	env, err := cs.DB.GetEnvironmentByID(build.EnvironmentID)
	require.NoError(t, err)
	assert.Equal(t, "test", env.Name)
	assert.Equal(t, "team", env.Namespace.Name)

	tasks := broker.enqueued()
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskBuildEnvironment, tasks[0].Name)
	assert.Equal(t, build.ID, tasks[0].BuildID)
	assert.True(t, strings.HasPrefix(tasks[0].ID, "build-"))
}

func TestRegisterEnvironmentDefaultNamespace(t *testing.T) {
	ctx := context.Background()
	cs, _ := newTestStore(t)

	build, err := cs.RegisterEnvironment(ctx, []byte(
		`{"name": "test", "channels": ["conda-forge"], "dependencies": ["python"]}`), "")
	require.NoError(t, err)

	env, err := cs.DB.GetEnvironmentByID(build.EnvironmentID)
	require.NoError(t, err)
	assert.Equal(t, "default", env.Namespace.Name)
}

func TestRegisterEnvironmentDeduplicatesSpecification(t *testing.T) {
	ctx := context.Background()
	cs, broker := newTestStore(t)

	// Same content with reordered lists: one specification row, two builds.
	first, err := cs.RegisterEnvironment(ctx, []byte(
		`{"name": "test", "channels": ["conda-forge", "defaults"], "dependencies": ["python", "numpy"]}`), "default")
	require.NoError(t, err)
	second, err := cs.RegisterEnvironment(ctx, []byte(
		`{"name": "test", "channels": ["defaults", "conda-forge"], "dependencies": ["numpy", "python"]}`), "default")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.SpecificationID, second.SpecificationID)

	specs, err := cs.DB.ListSpecifications()
	require.NoError(t, err)
	assert.Len(t, specs, 1)
	assert.Len(t, broker.enqueued(), 2)
}

func TestRegisterEnvironmentPolicyRejection(t *testing.T) {
	ctx := context.Background()
	cs, broker := newTestStore(t)

	require.NoError(t, cs.Settings.Set("", "", map[string]string{
		"conda_allowed_channels": `["conda-forge"]`,
	}))

	_, err := cs.RegisterEnvironment(ctx, []byte(
		`{"name": "test", "channels": ["nodefaults"], "dependencies": ["python"]}`), "default")
	var denied *environment.ChannelNotAllowedError
	require.ErrorAs(t, err, &denied)

	// Nothing was persisted or enqueued.
	specs, err := cs.DB.ListSpecifications()
	require.NoError(t, err)
	assert.Empty(t, specs)
	assert.Empty(t, broker.enqueued())
}

func TestRegisterEnvironmentInvalidSpec(t *testing.T) {
	ctx := context.Background()
	cs, _ := newTestStore(t)

	_, err := cs.RegisterEnvironment(ctx, []byte(`{"name": "", "channels": []}`), "default")
	var invalid *schema.InvalidSpecificationError
	assert.ErrorAs(t, err, &invalid)
}

func TestRegisterLockfileEnvironment(t *testing.T) {
	ctx := context.Background()
	cs, broker := newTestStore(t)

	build, err := cs.RegisterLockfileEnvironment(ctx, []byte(
		`{"name": "locked", "lockfile": {"version": 1, "package": []}}`), "default")
	require.NoError(t, err)

	spec, err := cs.DB.GetSpecificationByID(build.SpecificationID)
	require.NoError(t, err)
	assert.True(t, spec.IsLockfile)
	assert.Len(t, broker.enqueued(), 1)

	// Unknown fields are rejected rather than silently dropped.
	_, err = cs.RegisterLockfileEnvironment(ctx, []byte(
		`{"name": "locked", "lockfile": {"version": 1}, "extra": true}`), "default")
	var invalid *schema.InvalidSpecificationError
	assert.ErrorAs(t, err, &invalid)
}

func TestRegisterSolve(t *testing.T) {
	ctx := context.Background()
	cs, broker := newTestStore(t)

	spec, err := cs.DB.EnsureSpecification("test",
		"dddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd",
		`{"name": "test", "channels": [], "dependencies": []}`, false)
	require.NoError(t, err)

	solve, err := cs.RegisterSolve(ctx, spec.ID)
	require.NoError(t, err)

	tasks := broker.enqueued()
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskSolveEnvironment, tasks[0].Name)
	assert.NotEmpty(t, tasks[0].Args["solve_id"])
	assert.NotZero(t, solve.ID)
}

func TestDeleteBuildRequiresTerminalStatus(t *testing.T) {
	ctx := context.Background()
	cs, broker := newTestStore(t)

	build, err := cs.RegisterEnvironment(ctx, []byte(
		`{"name": "test", "channels": ["conda-forge"], "dependencies": ["python"]}`), "default")
	require.NoError(t, err)

	err = cs.DeleteBuild(ctx, build.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only terminal builds")

	require.NoError(t, cs.DB.SetBuildFailed(build.ID, ""))
	require.NoError(t, cs.DeleteBuild(ctx, build.ID))

	tasks := broker.enqueued()
	assert.Equal(t, TaskDeleteBuild, tasks[len(tasks)-1].Name)
}

func TestDeleteEnvironmentSoftDeletesAndQueues(t *testing.T) {
	ctx := context.Background()
	cs, broker := newTestStore(t)

	build, err := cs.RegisterEnvironment(ctx, []byte(
		`{"name": "test", "channels": ["conda-forge"], "dependencies": ["python"]}`), "default")
	require.NoError(t, err)

	require.NoError(t, cs.DeleteEnvironment(ctx, "default", "test"))

	env, err := cs.DB.GetEnvironmentByID(build.EnvironmentID)
	require.NoError(t, err)
	assert.True(t, env.DeletedOn.Valid)

	tasks := broker.enqueued()
	last := tasks[len(tasks)-1]
	assert.Equal(t, TaskDeleteEnvironment, last.Name)
	assert.Equal(t, "default", last.Args["namespace"])
	assert.Equal(t, "test", last.Args["environment"])
}
