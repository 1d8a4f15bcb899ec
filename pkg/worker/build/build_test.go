// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package build

import (
	"context"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conda-store/conda-store-server/pkg/schema"
	"github.com/conda-store/conda-store-server/pkg/util/filesystem"
)

func TestRunBuildFailsBelowStorageThreshold(t *testing.T) {
	ctx := context.Background()
	bctx := newTestContext(t)
	cs := bctx.Store

	// No volume satisfies this threshold, so the build fails before any
	// solve work starts.
	require.NoError(t, cs.Settings.Set("", "", map[string]string{
		"storage_threshold": strconv.FormatInt(math.MaxInt64, 10),
	}))

	err := RunBuild(ctx, cs, bctx.Build.ID)
	var diskErr *filesystem.LowDiskSpaceError
	require.ErrorAs(t, err, &diskErr)

	// The failure is recorded with a user-visible explanation.
	build, err := cs.DB.GetBuild(bctx.Build.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.BuildFailed, build.Status)
	assert.True(t, build.EndedOn.Valid)
	require.True(t, build.StatusInfo.Valid)
	assert.Contains(t, build.StatusInfo.String, "not enough free space")
}

func TestStorageThresholdZeroDisablesCheck(t *testing.T) {
	ctx := context.Background()
	bctx := newTestContext(t)

	bctx.Settings.StorageThreshold = 0
	assert.NoError(t, bctx.checkStorageThreshold(ctx))
}
