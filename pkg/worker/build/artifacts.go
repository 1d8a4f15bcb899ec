// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package build

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conda-store/conda-store-server/pkg/metrics"
	"github.com/conda-store/conda-store-server/pkg/plugins"
	"github.com/conda-store/conda-store-server/pkg/schema"
	"github.com/conda-store/conda-store-server/pkg/store"
	"github.com/conda-store/conda-store-server/pkg/util/log"
)

// RunCondaEnvExport produces the YAML artifact: the installed prefix
// exported through "<conda> env export" and re-encoded as YAML.
func RunCondaEnvExport(ctx context.Context, cs *store.CondaStore, buildID int64) error {
	bctx, err := NewContext(ctx, cs, buildID)
	if err != nil {
		return err
	}
	defer bctx.Close()

	cmd := exec.CommandContext(ctx, bctx.Settings.CondaCommand,
		"env", "export", "--prefix", bctx.BuildPath, "--json")
	cmd.Stderr = bctx.NewLogWriter(ctx, "conda_env_export: ")
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("conda env export failed: %w", err)
	}

	// Re-encode as YAML, the shape users feed back into conda.
	var export map[string]interface{}
	if err := json.Unmarshal(out, &export); err != nil {
		return fmt.Errorf("parsing conda env export: %w", err)
	}
	encoded, err := yaml.Marshal(export)
	if err != nil {
		return err
	}

	key := EnvExportKey(bctx.BuildKey)
	if err := bctx.storage.Set(ctx, key, encoded, "text/yaml"); err != nil {
		return err
	}
	metrics.ArtifactBytes.WithLabelValues(string(schema.ArtifactYaml)).Add(float64(len(encoded)))
	return cs.DB.EnsureBuildArtifact(buildID, schema.ArtifactYaml, key)
}

// RunCondaPack produces the CONDA_PACK artifact: a relocatable tarball of
// the prefix assembled in a scratch directory and uploaded atomically.
func RunCondaPack(ctx context.Context, cs *store.CondaStore, buildID int64) error {
	bctx, err := NewContext(ctx, cs, buildID)
	if err != nil {
		return err
	}
	defer bctx.Close()

	scratch, err := os.MkdirTemp("", "conda-pack-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	archive := filepath.Join(scratch, "environment.tar.gz")
	actx := plugins.NewActionContext(bctx.NewLogWriter(ctx, "conda_pack: "))
	if err := actx.RunCommand(ctx, "conda-pack",
		"--prefix", bctx.BuildPath, "--output", archive); err != nil {
		return err
	}

	key := CondaPackKey(bctx.BuildKey)
	if err := bctx.storage.FSet(ctx, key, archive, "application/gzip"); err != nil {
		return err
	}
	if info, err := os.Stat(archive); err == nil {
		metrics.ArtifactBytes.WithLabelValues(string(schema.ArtifactCondaPack)).Add(float64(info.Size()))
	}
	return cs.DB.EnsureBuildArtifact(buildID, schema.ArtifactCondaPack, key)
}

// RunConstructorInstaller produces a standalone installer. The persisted
// lockfile is preferred over the raw specification because it carries
// pinned dependencies; when it cannot be fetched or parsed, the
// specification is used instead.
func RunConstructorInstaller(ctx context.Context, cs *store.CondaStore, buildID int64) error {
	bctx, err := NewContext(ctx, cs, buildID)
	if err != nil {
		return err
	}
	defer bctx.Close()

	channels, specs, err := bctx.installerInputs(ctx)
	if err != nil {
		return err
	}

	scratch, err := os.MkdirTemp("", "constructor-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	construct := map[string]interface{}{
		"name":     bctx.Spec.Name,
		"version":  bctx.BuildKey,
		"channels": channels,
		"specs":    specs,
	}
	raw, err := yaml.Marshal(construct)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(scratch, "construct.yaml"), raw, 0o644); err != nil {
		return err
	}

	actx := plugins.NewActionContext(bctx.NewLogWriter(ctx, "constructor: "))
	if err := actx.RunCommand(ctx, "constructor", scratch, "--output-dir", scratch); err != nil {
		return err
	}

	ext := "sh"
	if runtime.GOOS == "windows" {
		ext = "exe"
	}
	installer, err := findInstaller(scratch, ext)
	if err != nil {
		return err
	}

	key := ConstructorInstallerKey(bctx.BuildKey, ext)
	if err := bctx.storage.FSet(ctx, key, installer, "application/octet-stream"); err != nil {
		return err
	}
	if info, err := os.Stat(installer); err == nil {
		metrics.ArtifactBytes.WithLabelValues(string(schema.ArtifactConstructorInstaller)).Add(float64(info.Size()))
	}
	return cs.DB.EnsureBuildArtifact(buildID, schema.ArtifactConstructorInstaller, key)
}

// installerInputs returns the channels and pinned specs the installer is
// built from, preferring the stored lockfile.
func (b *Context) installerInputs(ctx context.Context) (channels, specs []string, err error) {
	if raw, getErr := b.storage.Get(ctx, CondaLockKey(b.BuildKey)); getErr == nil {
		var lockfile map[string]interface{}
		if jsonErr := json.Unmarshal(raw, &lockfile); jsonErr == nil {
			if packages, parseErr := ParseLockfilePackages(lockfile); parseErr == nil {
				seen := map[string]bool{}
				for _, pkg := range packages {
					if !seen[pkg.Channel] {
						seen[pkg.Channel] = true
						channels = append(channels, pkg.Channel)
					}
					specs = append(specs, fmt.Sprintf("%s=%s=%s", pkg.Name, pkg.Version, pkg.Build))
				}
				return channels, specs, nil
			}
		}
		log.Warnf("build %d: stored lockfile unusable, falling back to specification", b.Build.ID)
	}

	spec, err := b.Spec.CondaSpecification()
	if err != nil {
		return nil, nil, err
	}
	for _, dep := range spec.Dependencies {
		if !dep.IsPip() {
			specs = append(specs, dep.MatchSpec)
		}
	}
	return spec.Channels, specs, nil
}

// findInstaller locates the produced installer binary in the scratch dir.
func findInstaller(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), "."+ext) {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("constructor produced no .%s installer in %s", ext, dir)
}

// RunCondaDocker is a stub: docker image generation is not supported. The
// artifact types stay defined so stored rows from older deployments remain
// readable.
func RunCondaDocker(ctx context.Context, cs *store.CondaStore, buildID int64) error {
	log.Warnf("build %d: generating docker images is not supported", buildID)
	return nil
}
