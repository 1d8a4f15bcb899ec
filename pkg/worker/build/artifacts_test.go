// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build !windows

package build

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conda-store/conda-store-server/pkg/metrics"
	"github.com/conda-store/conda-store-server/pkg/schema"
)

func TestRunCondaEnvExportRecordsArtifactAndBytes(t *testing.T) {
	ctx := context.Background()
	bctx := newTestContext(t)
	cs := bctx.Store

	// Stand-in conda binary that answers "env export --json".
	fake := filepath.Join(t.TempDir(), "conda")
	script := "#!/bin/sh\n" +
		`echo '{"name": "test", "channels": ["conda-forge"], "dependencies": ["python=3.11.8"]}'` + "\n"
	require.NoError(t, os.WriteFile(fake, []byte(script), 0o755))
	require.NoError(t, cs.Settings.Set("", "", map[string]string{
		"conda_command": strconv.Quote(fake),
	}))

	before := testutil.ToFloat64(metrics.ArtifactBytes.WithLabelValues(string(schema.ArtifactYaml)))

	require.NoError(t, RunCondaEnvExport(ctx, cs, bctx.Build.ID))

	types, err := cs.DB.GetBuildArtifactTypes(bctx.Build.ID)
	require.NoError(t, err)
	assert.Contains(t, types, schema.ArtifactYaml)

	// The export's size is accounted against the YAML artifact type.
	after := testutil.ToFloat64(metrics.ArtifactBytes.WithLabelValues(string(schema.ArtifactYaml)))
	assert.Greater(t, after, before)
}
