// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conda-store/conda-store-server/pkg/database"
	"github.com/conda-store/conda-store-server/pkg/schema"
	"github.com/conda-store/conda-store-server/pkg/store"
)

// seedBuild creates a build with the full namespace/environment chain.
func seedBuild(t *testing.T, cs *store.CondaStore, name string) *database.Build {
	t.Helper()
	ns, err := cs.DB.EnsureNamespace("default")
	require.NoError(t, err)
	env, err := cs.DB.EnsureEnvironment(ns.ID, name, "")
	require.NoError(t, err)
	sha, err := schema.Hash(name)
	require.NoError(t, err)
	spec, err := cs.DB.EnsureSpecification(name, sha,
		`{"name": "`+name+`", "channels": ["conda-forge"], "dependencies": ["python"]}`, false)
	require.NoError(t, err)
	build, err := cs.DB.CreateBuild(env.ID, spec.ID)
	require.NoError(t, err)
	return build
}

// backdateBuildStart moves started_on into the past, past the settle window.
func backdateBuildStart(t *testing.T, cs *store.CondaStore, buildID int64, age time.Duration) {
	t.Helper()
	require.NoError(t, cs.DB.SetBuildStarted(buildID))
	_, err := cs.DB.DB().Exec(
		`UPDATE build SET started_on = ? WHERE id = ?`, time.Now().UTC().Add(-age), buildID)
	require.NoError(t, err)
}

func TestBuildCleanupReapsStuckBuild(t *testing.T) {
	ctx := context.Background()
	cs := newTestCondaStore(t)

	build := seedBuild(t, cs, "stuck")
	backdateBuildStart(t, cs, build.ID, 10*time.Second)

	require.NoError(t, BuildCleanup(ctx, cs, nil, "", false))

	reaped, err := cs.DB.GetBuild(build.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.BuildFailed, reaped.Status)
	assert.True(t, reaped.EndedOn.Valid)

	// The transition is explained in the build log.
	types, err := cs.DB.GetBuildArtifactTypes(build.ID)
	require.NoError(t, err)
	assert.Contains(t, types, schema.ArtifactLogs)
}

func TestBuildCleanupRespectsSettleWindow(t *testing.T) {
	ctx := context.Background()
	cs := newTestCondaStore(t)

	build := seedBuild(t, cs, "fresh")
	backdateBuildStart(t, cs, build.ID, 2*time.Second)

	require.NoError(t, BuildCleanup(ctx, cs, nil, "", false))

	kept, err := cs.DB.GetBuild(build.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.BuildBuilding, kept.Status)
}

func TestBuildCleanupSkipsLiveBuilds(t *testing.T) {
	ctx := context.Background()
	cs := newTestCondaStore(t)

	build := seedBuild(t, cs, "live")
	backdateBuildStart(t, cs, build.ID, time.Minute)

	// The build's task is present in the live inventory.
	task := store.NewBuildTask(store.TaskBuildEnvironment, build.ID)
	require.NoError(t, cs.Broker.TaskStarted(ctx, task, "worker-1"))

	require.NoError(t, BuildCleanup(ctx, cs, nil, "", false))

	kept, err := cs.DB.GetBuild(build.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.BuildBuilding, kept.Status)
}

func TestBuildCleanupReapsBuildOfDeadWorker(t *testing.T) {
	ctx := context.Background()
	cs, mr := newTestCondaStoreWithRedis(t)

	build := seedBuild(t, cs, "orphaned")
	backdateBuildStart(t, cs, build.ID, time.Hour)

	// A worker killed hard records the task start but never finishes or
	// refreshes it; the inventory entry must age out so the build is not
	// considered live forever.
	task := store.NewBuildTask(store.TaskBuildEnvironment, build.ID)
	require.NoError(t, cs.Broker.TaskStarted(ctx, task, "dead-worker"))
	mr.FastForward(2 * activeTaskTTL)

	require.NoError(t, BuildCleanup(ctx, cs, nil, "", false))

	reaped, err := cs.DB.GetBuild(build.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.BuildFailed, reaped.Status)
	assert.True(t, reaped.EndedOn.Valid)
}

func TestBuildCleanupCancel(t *testing.T) {
	ctx := context.Background()
	cs := newTestCondaStore(t)

	build := seedBuild(t, cs, "canceled")
	backdateBuildStart(t, cs, build.ID, 10*time.Second)

	require.NoError(t, BuildCleanup(ctx, cs, []int64{build.ID}, "", true))

	reaped, err := cs.DB.GetBuild(build.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.BuildCanceled, reaped.Status)
	assert.True(t, reaped.EndedOn.Valid)
}

func TestBuildCleanupIgnoresNonBuildingBuilds(t *testing.T) {
	ctx := context.Background()
	cs := newTestCondaStore(t)

	build := seedBuild(t, cs, "queued")

	require.NoError(t, BuildCleanup(ctx, cs, []int64{build.ID}, "", false))

	kept, err := cs.DB.GetBuild(build.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.BuildQueued, kept.Status)
}
