// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package worker

import (
	"context"
	"errors"
	"os"

	"github.com/samber/lo"

	"github.com/conda-store/conda-store-server/pkg/database"
	"github.com/conda-store/conda-store-server/pkg/plugins"
	"github.com/conda-store/conda-store-server/pkg/schema"
	"github.com/conda-store/conda-store-server/pkg/store"
	"github.com/conda-store/conda-store-server/pkg/util/log"
)

// DeleteBuild removes a build's artifacts except those configured to
// survive deletion, zeroes its size, and marks the row deleted.
func DeleteBuild(ctx context.Context, cs *store.CondaStore, buildID int64) error {
	build, err := cs.DB.GetBuild(buildID)
	if err != nil {
		return err
	}
	env, err := cs.DB.GetEnvironmentByID(build.EnvironmentID)
	if err != nil {
		return err
	}
	settings, err := cs.Settings.Get(env.Namespace.Name, env.Name)
	if err != nil {
		return err
	}

	kept := lo.Map(settings.BuildArtifactsKeptOnDeletion, func(t string, _ int) schema.BuildArtifactType {
		return schema.BuildArtifactType(t)
	})
	if err := deleteBuildArtifacts(ctx, cs, buildID, kept); err != nil {
		return err
	}
	return cs.DB.SoftDeleteBuild(buildID)
}

// deleteBuildArtifacts removes blob and row for every artifact not in the
// kept set. DIRECTORY artifacts are install prefixes on disk rather than
// storage keys.
func deleteBuildArtifacts(ctx context.Context, cs *store.CondaStore, buildID int64, kept []schema.BuildArtifactType) error {
	storage, err := cs.Storage()
	if err != nil {
		return err
	}
	artifacts, err := cs.DB.ListBuildArtifacts(buildID, kept)
	if err != nil {
		return err
	}

	for _, artifact := range artifacts {
		switch artifact.ArtifactType {
		case schema.ArtifactDirectory:
			if err := os.RemoveAll(artifact.Key); err != nil {
				return err
			}
		case schema.ArtifactContainerRegistry, schema.ArtifactDockerManifest:
			// External registries hold these; nothing to remove here.
		default:
			if err := storage.Delete(ctx, artifact.Key); err != nil && !errors.Is(err, plugins.ErrNotFound) {
				return err
			}
		}
		if err := cs.DB.DeleteBuildArtifact(buildID, artifact.Key); err != nil {
			return err
		}
	}
	return nil
}

// DeleteEnvironment removes the artifacts of every build of the
// environment and hard-deletes the environment row.
func DeleteEnvironment(ctx context.Context, cs *store.CondaStore, namespace, name string) error {
	ns, err := cs.DB.GetNamespace(namespace)
	if err != nil {
		return err
	}
	env, err := cs.DB.GetEnvironment(ns.ID, name)
	if err != nil {
		return err
	}

	builds, err := cs.DB.ListBuilds(database.BuildFilter{EnvironmentID: env.ID, ShowSoftDeleted: true})
	if err != nil {
		return err
	}
	for _, build := range builds {
		if err := deleteBuildArtifacts(ctx, cs, build.ID, nil); err != nil {
			return err
		}
	}

	log.Infof("deleting environment %s/%s with %d builds", namespace, name, len(builds))
	return cs.DB.DeleteEnvironment(env.ID)
}

// DeleteNamespace cascades environment deletion over the namespace and
// hard-deletes the namespace row.
func DeleteNamespace(ctx context.Context, cs *store.CondaStore, namespace string) error {
	ns, err := cs.DB.GetNamespace(namespace)
	if err != nil {
		return err
	}

	builds, err := cs.DB.ListBuilds(database.BuildFilter{Namespace: ns.Name, ShowSoftDeleted: true})
	if err != nil {
		return err
	}
	for _, build := range builds {
		if err := deleteBuildArtifacts(ctx, cs, build.ID, nil); err != nil {
			return err
		}
	}

	log.Infof("deleting namespace %s with %d builds", namespace, len(builds))
	return cs.DB.DeleteNamespace(ns.Name)
}
