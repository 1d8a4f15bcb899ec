// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conda-store/conda-store-server/pkg/schema"
)

// CreateBuild inserts a QUEUED build for an (environment, specification)
// pair.
func (s *Store) CreateBuild(environmentID, specificationID int64) (*Build, error) {
	res, err := s.db.Exec(
		`INSERT INTO build (environment_id, specification_id, status) VALUES (?, ?, ?)`,
		environmentID, specificationID, schema.BuildQueued)
	if err != nil {
		return nil, fmt.Errorf("creating build: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetBuild(id)
}

// GetBuild looks a build up by id.
func (s *Store) GetBuild(id int64) (*Build, error) {
	var build Build
	err := s.db.Get(&build, `SELECT * FROM build WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("build %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &build, nil
}

// BuildFilter narrows ListBuilds.
type BuildFilter struct {
	Status          schema.BuildStatus
	EnvironmentID   int64
	Name            string
	Namespace       string
	Artifact        schema.BuildArtifactType
	ShowSoftDeleted bool
}

// ListBuilds returns builds matching the filter, oldest first.
func (s *Store) ListBuilds(filter BuildFilter) ([]Build, error) {
	query := `SELECT b.* FROM build b
		JOIN environment e ON e.id = b.environment_id
		JOIN namespace n ON n.id = e.namespace_id`
	where := []string{"1 = 1"}
	var args []interface{}

	if filter.Artifact != "" {
		query += ` JOIN build_artifact ba ON ba.build_id = b.id`
		where = append(where, "ba.artifact_type = ?")
		args = append(args, filter.Artifact)
	}
	if filter.Status != "" {
		where = append(where, "b.status = ?")
		args = append(args, filter.Status)
	}
	if filter.EnvironmentID != 0 {
		where = append(where, "b.environment_id = ?")
		args = append(args, filter.EnvironmentID)
	}
	if filter.Name != "" {
		where = append(where, "e.name = ?")
		args = append(args, filter.Name)
	}
	if filter.Namespace != "" {
		where = append(where, "n.name = ?")
		args = append(args, filter.Namespace)
	}
	if !filter.ShowSoftDeleted {
		where = append(where, "b.deleted_on IS NULL")
	}

	query += ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY b.id`

	var builds []Build
	if err := s.db.Select(&builds, query, args...); err != nil {
		return nil, err
	}
	return builds, nil
}

// SetBuildStarted transitions the build to BUILDING and records the start
// time.
func (s *Store) SetBuildStarted(id int64) error {
	_, err := s.db.Exec(
		`UPDATE build SET status = ?, started_on = ? WHERE id = ?`,
		schema.BuildBuilding, time.Now().UTC(), id)
	return err
}

// SetBuildFailed transitions the build to FAILED. statusInfo is stored only
// when the failure is safe to expose to users.
func (s *Store) SetBuildFailed(id int64, statusInfo string) error {
	return s.setBuildTerminal(id, schema.BuildFailed, statusInfo)
}

// SetBuildCanceled transitions the build to CANCELED.
func (s *Store) SetBuildCanceled(id int64, statusInfo string) error {
	return s.setBuildTerminal(id, schema.BuildCanceled, statusInfo)
}

func (s *Store) setBuildTerminal(id int64, status schema.BuildStatus, statusInfo string) error {
	info := sql.NullString{String: statusInfo, Valid: statusInfo != ""}
	_, err := s.db.Exec(
		`UPDATE build SET status = ?, status_info = ?, ended_on = ? WHERE id = ?`,
		status, info, time.Now().UTC(), id)
	return err
}

// SetBuildCompleted transitions the build to COMPLETED, records the
// DIRECTORY artifact for its prefix, and advances the environment's
// current build and specification.
func (s *Store) SetBuildCompleted(id int64, prefix string) error {
	build, err := s.GetBuild(id)
	if err != nil {
		return err
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE build SET status = ?, ended_on = ? WHERE id = ?`,
		schema.BuildCompleted, time.Now().UTC(), id); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO build_artifact (build_id, artifact_type, key)
		 VALUES (?, ?, ?) ON CONFLICT (build_id, key, artifact_type) DO NOTHING`,
		id, schema.ArtifactDirectory, prefix); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`UPDATE environment SET current_build_id = ?, specification_id = ? WHERE id = ?`,
		id, build.SpecificationID, build.EnvironmentID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetBuildSize records the disk usage of the installed prefix.
func (s *Store) SetBuildSize(id, size int64) error {
	_, err := s.db.Exec(`UPDATE build SET size = ? WHERE id = ?`, size, id)
	return err
}

// SoftDeleteBuild marks the build deleted and zeroes its size.
func (s *Store) SoftDeleteBuild(id int64) error {
	_, err := s.db.Exec(
		`UPDATE build SET deleted_on = ?, size = 0 WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// EnsureBuildArtifact registers an artifact key for a build. The
// (build_id, key, artifact_type) triple is unique; duplicate registrations
// are ignored so log appends can reuse their key.
func (s *Store) EnsureBuildArtifact(buildID int64, artifactType schema.BuildArtifactType, key string) error {
	_, err := s.db.Exec(
		`INSERT INTO build_artifact (build_id, artifact_type, key)
		 VALUES (?, ?, ?) ON CONFLICT (build_id, key, artifact_type) DO NOTHING`,
		buildID, artifactType, key)
	return err
}

// GetBuildArtifact looks an artifact up by (build, key).
func (s *Store) GetBuildArtifact(buildID int64, key string) (*BuildArtifact, error) {
	var artifact BuildArtifact
	err := s.db.Get(&artifact,
		`SELECT * FROM build_artifact WHERE build_id = ? AND key = ?`, buildID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %d/%s: %w", buildID, key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// DeleteBuildArtifact removes an artifact row.
func (s *Store) DeleteBuildArtifact(buildID int64, key string) error {
	_, err := s.db.Exec(
		`DELETE FROM build_artifact WHERE build_id = ? AND key = ?`, buildID, key)
	return err
}

// ListBuildArtifacts returns artifact rows for a build, optionally
// restricted by type.
func (s *Store) ListBuildArtifacts(buildID int64, excluded []schema.BuildArtifactType) ([]BuildArtifact, error) {
	query := `SELECT * FROM build_artifact WHERE build_id = ?`
	args := []interface{}{buildID}
	if len(excluded) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(excluded)), ",")
		query += ` AND artifact_type NOT IN (` + placeholders + `)`
		for _, t := range excluded {
			args = append(args, t)
		}
	}
	query += ` ORDER BY id`

	var artifacts []BuildArtifact
	if err := s.db.Select(&artifacts, query, args...); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// GetBuildArtifactTypes returns the distinct artifact types of a build.
func (s *Store) GetBuildArtifactTypes(buildID int64) ([]schema.BuildArtifactType, error) {
	var types []schema.BuildArtifactType
	err := s.db.Select(&types,
		`SELECT DISTINCT artifact_type FROM build_artifact WHERE build_id = ?`, buildID)
	if err != nil {
		return nil, err
	}
	return types, nil
}

// BuildStatusCounts returns the number of builds per status.
func (s *Store) BuildStatusCounts() (map[schema.BuildStatus]int64, error) {
	rows, err := s.db.Queryx(`SELECT status, COUNT(*) FROM build GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[schema.BuildStatus]int64{}
	for rows.Next() {
		var status schema.BuildStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
