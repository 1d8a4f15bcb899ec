// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conda-store/conda-store-server/pkg/plugins"
	"github.com/conda-store/conda-store-server/pkg/schema"
)

func TestDeleteBuildKeepsConfiguredArtifacts(t *testing.T) {
	ctx := context.Background()
	cs := newTestCondaStore(t)
	build := seedBuild(t, cs, "doomed")

	storage, err := cs.Storage()
	require.NoError(t, err)
	require.NoError(t, storage.Set(ctx, "logs/doomed.log", []byte("log"), "text/plain"))
	require.NoError(t, storage.Set(ctx, "archive/doomed.tar.gz", []byte("pack"), "application/gzip"))
	require.NoError(t, cs.DB.EnsureBuildArtifact(build.ID, schema.ArtifactLogs, "logs/doomed.log"))
	require.NoError(t, cs.DB.EnsureBuildArtifact(build.ID, schema.ArtifactCondaPack, "archive/doomed.tar.gz"))
	require.NoError(t, cs.DB.SetBuildSize(build.ID, 1000))

	require.NoError(t, DeleteBuild(ctx, cs, build.ID))

	// Logs survive per the default kept-on-deletion set; the pack does not.
	_, err = storage.Get(ctx, "logs/doomed.log")
	require.NoError(t, err)
	_, err = storage.Get(ctx, "archive/doomed.tar.gz")
	assert.ErrorIs(t, err, plugins.ErrNotFound)

	types, err := cs.DB.GetBuildArtifactTypes(build.ID)
	require.NoError(t, err)
	assert.Equal(t, []schema.BuildArtifactType{schema.ArtifactLogs}, types)

	deleted, err := cs.DB.GetBuild(build.ID)
	require.NoError(t, err)
	assert.True(t, deleted.DeletedOn.Valid)
	assert.Zero(t, deleted.Size)
}

func TestDeleteEnvironmentRemovesAllArtifacts(t *testing.T) {
	ctx := context.Background()
	cs := newTestCondaStore(t)
	build := seedBuild(t, cs, "whole-env")

	storage, err := cs.Storage()
	require.NoError(t, err)
	require.NoError(t, storage.Set(ctx, "logs/whole-env.log", []byte("log"), "text/plain"))
	require.NoError(t, cs.DB.EnsureBuildArtifact(build.ID, schema.ArtifactLogs, "logs/whole-env.log"))

	require.NoError(t, DeleteEnvironment(ctx, cs, "default", "whole-env"))

	// Environment deletion keeps nothing.
	_, err = storage.Get(ctx, "logs/whole-env.log")
	assert.ErrorIs(t, err, plugins.ErrNotFound)

	env, err := cs.DB.GetEnvironmentByID(build.EnvironmentID)
	assert.Error(t, err)
	assert.Nil(t, env)
}
