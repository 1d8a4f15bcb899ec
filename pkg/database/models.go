// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conda-store/conda-store-server/pkg/schema"
)

// JSONMap stores an arbitrary JSON object in a TEXT column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), m)
	case []byte:
		return json.Unmarshal(v, m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
}

// Namespace owns a set of environments. Soft deletion hides it from
// listings without removing history.
type Namespace struct {
	ID        int64        `db:"id"`
	Name      string       `db:"name"`
	Metadata  JSONMap      `db:"metadata"`
	DeletedOn sql.NullTime `db:"deleted_on"`
}

// Environment is a named pointer within a namespace tracking the latest
// completed build.
type Environment struct {
	ID              int64         `db:"id"`
	NamespaceID     int64         `db:"namespace_id"`
	Name            string        `db:"name"`
	Description     string        `db:"description"`
	CurrentBuildID  sql.NullInt64 `db:"current_build_id"`
	SpecificationID sql.NullInt64 `db:"specification_id"`
	DeletedOn       sql.NullTime  `db:"deleted_on"`

	// Populated on joined queries.
	Namespace Namespace `db:"namespace"`
}

// Specification is an immutable, content-addressed environment request.
type Specification struct {
	ID         int64     `db:"id"`
	Name       string    `db:"name"`
	Sha256     string    `db:"sha256"`
	Spec       string    `db:"spec"`
	IsLockfile bool      `db:"is_lockfile"`
	CreatedOn  time.Time `db:"created_on"`
}

// CondaSpecification decodes the stored canonical spec.
func (s *Specification) CondaSpecification() (*schema.CondaSpecification, error) {
	var spec schema.CondaSpecification
	if err := json.Unmarshal([]byte(s.Spec), &spec); err != nil {
		return nil, fmt.Errorf("decoding specification %d: %w", s.ID, err)
	}
	return &spec, nil
}

// LockfileSpecification decodes the stored spec as a lockfile shape.
func (s *Specification) LockfileSpecification() (*schema.LockfileSpecification, error) {
	var spec schema.LockfileSpecification
	if err := json.Unmarshal([]byte(s.Spec), &spec); err != nil {
		return nil, fmt.Errorf("decoding lockfile specification %d: %w", s.ID, err)
	}
	return &spec, nil
}

// Build is one attempt to realize a specification on disk.
type Build struct {
	ID              int64              `db:"id"`
	EnvironmentID   int64              `db:"environment_id"`
	SpecificationID int64              `db:"specification_id"`
	Status          schema.BuildStatus `db:"status"`
	StatusInfo      sql.NullString     `db:"status_info"`
	Size            int64              `db:"size"`
	ScheduledOn     time.Time          `db:"scheduled_on"`
	StartedOn       sql.NullTime       `db:"started_on"`
	EndedOn         sql.NullTime       `db:"ended_on"`
	DeletedOn       sql.NullTime       `db:"deleted_on"`
}

// BuildArtifact points an artifact type at an opaque storage key.
type BuildArtifact struct {
	ID           int64                    `db:"id"`
	BuildID      int64                    `db:"build_id"`
	ArtifactType schema.BuildArtifactType `db:"artifact_type"`
	Key          string                   `db:"key"`
}

// Solve is a solve-only request: run the locker without installing.
type Solve struct {
	ID              int64        `db:"id"`
	SpecificationID int64        `db:"specification_id"`
	ScheduledOn     time.Time    `db:"scheduled_on"`
	StartedOn       sql.NullTime `db:"started_on"`
	EndedOn         sql.NullTime `db:"ended_on"`
}

// CondaChannel is a package channel observed in lockfiles or repodata.
type CondaChannel struct {
	ID         int64        `db:"id"`
	Name       string       `db:"name"`
	LastUpdate sql.NullTime `db:"last_update"`
}

// CondaPackage is a (channel, name, version) tuple.
type CondaPackage struct {
	ID            int64  `db:"id"`
	ChannelID     int64  `db:"channel_id"`
	Name          string `db:"name"`
	Version       string `db:"version"`
	License       string `db:"license"`
	LicenseFamily string `db:"license_family"`
	Summary       string `db:"summary"`
	Description   string `db:"description"`
}

// CondaPackageBuild is a concrete binary build of a package.
type CondaPackageBuild struct {
	ID          int64  `db:"id"`
	PackageID   int64  `db:"package_id"`
	Build       string `db:"build"`
	BuildNumber int64  `db:"build_number"`
	Subdir      string `db:"subdir"`
	Sha256      string `db:"sha256"`
	Md5         string `db:"md5"`
	Size        int64  `db:"size"`
	Depends     string `db:"depends"`
	Constrains  string `db:"constrains"`
	Timestamp   int64  `db:"timestamp"`
}

// NamespaceRoleMapping grants a role to an entity glob on objects inside
// a namespace (v1 API).
type NamespaceRoleMapping struct {
	ID          int64  `db:"id"`
	NamespaceID int64  `db:"namespace_id"`
	Entity      string `db:"entity"`
	Role        string `db:"role"`
}

// NamespaceRoleMappingV2 grants a role on a namespace to another namespace.
type NamespaceRoleMappingV2 struct {
	ID               int64  `db:"id"`
	NamespaceID      int64  `db:"namespace_id"`
	OtherNamespaceID int64  `db:"other_namespace_id"`
	Role             string `db:"role"`
}

// KeyValue is a per-setting override scoped by prefix.
type KeyValue struct {
	ID     int64  `db:"id"`
	Prefix string `db:"prefix"`
	Key    string `db:"key"`
	Value  string `db:"value"`
}
