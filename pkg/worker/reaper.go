// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package worker

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/conda-store/conda-store-server/pkg/database"
	"github.com/conda-store/conda-store-server/pkg/metrics"
	"github.com/conda-store/conda-store-server/pkg/schema"
	"github.com/conda-store/conda-store-server/pkg/store"
	"github.com/conda-store/conda-store-server/pkg/util/log"
	buildpkg "github.com/conda-store/conda-store-server/pkg/worker/build"
)

// buildTaskID extracts the build id out of build-<id>-<suffix> task names.
var buildTaskID = regexp.MustCompile(`^build-(\d+)-(.*)$`)

// settleWindow protects builds that transitioned to BUILDING moments ago
// but have not shown up in the live-task inventory yet.
const settleWindow = 5 * time.Second

// BuildCleanup reaps builds stuck in BUILDING: any build absent from the
// brokers' live-task inventory whose start is older than the settle window
// is transitioned to FAILED, or CANCELED when invoked as a cancel. An
// empty buildIDs slice sweeps every BUILDING build.
func BuildCleanup(ctx context.Context, cs *store.CondaStore, buildIDs []int64, reason string, isCanceled bool) error {
	status := schema.BuildFailed
	if isCanceled {
		status = schema.BuildCanceled
	}
	if reason == "" {
		reason = fmt.Sprintf(
			"Build marked as %s on cleanup due to being stuck in BUILDING state "+
				"and not present on workers. This happens for several reasons: build is "+
				"canceled, a worker crash from out of memory errors, worker was killed, "+
				"or error in conda-store\n", status)
	}

	active, err := cs.Broker.ActiveTasks(ctx)
	if err != nil {
		log.Warnf("build cleanup failed: broker does not support inspect: %v", err)
		return nil
	}

	liveBuilds := map[int64]bool{}
	for _, taskIDs := range active {
		for _, taskID := range taskIDs {
			if match := buildTaskID.FindStringSubmatch(taskID); match != nil {
				id, _ := strconv.ParseInt(match[1], 10, 64)
				liveBuilds[id] = true
			}
		}
	}

	var builds []database.Build
	if len(buildIDs) > 0 {
		for _, id := range buildIDs {
			build, err := cs.DB.GetBuild(id)
			if err != nil {
				return err
			}
			builds = append(builds, *build)
		}
	} else {
		builds, err = cs.DB.ListBuilds(database.BuildFilter{Status: schema.BuildBuilding})
		if err != nil {
			return err
		}
	}

	cutoff := time.Now().UTC().Add(-settleWindow)
	for i := range builds {
		build := &builds[i]
		if build.Status != schema.BuildBuilding || liveBuilds[build.ID] {
			continue
		}
		if !build.StartedOn.Valid || !build.StartedOn.Time.Before(cutoff) {
			continue
		}

		log.Warnf("marking build %d as %s since stuck in BUILDING state and not present on workers", build.ID, status)
		appendReapLog(ctx, cs, build.ID, reason)

		if isCanceled {
			err = cs.DB.SetBuildCanceled(build.ID, "")
		} else {
			err = cs.DB.SetBuildFailed(build.ID, "")
		}
		if err != nil {
			return err
		}
		metrics.BuildTransitions.WithLabelValues(string(status)).Inc()
	}
	return nil
}

// appendReapLog explains the transition in the build log. A failure here
// only logs; the state transition still happens.
func appendReapLog(ctx context.Context, cs *store.CondaStore, buildID int64, reason string) {
	bctx, err := buildpkg.NewContext(ctx, cs, buildID)
	if err != nil {
		log.Warnf("cannot append cleanup log for build %d: %v", buildID, err)
		return
	}
	defer bctx.Close()
	if err := bctx.AppendToLogs(ctx, reason); err != nil {
		log.Warnf("cannot append cleanup log for build %d: %v", buildID, err)
	}
}
