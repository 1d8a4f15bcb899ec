// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conda-store/conda-store-server/pkg/schema"
)

// CreateNamespace inserts a namespace after validating its name.
func (s *Store) CreateNamespace(name string) (*Namespace, error) {
	if !schema.NameRegex.MatchString(name) {
		return nil, fmt.Errorf("namespace %q is not valid: does not match regex %s", name, schema.NameRegex)
	}

	res, err := s.db.Exec(`INSERT INTO namespace (name, metadata) VALUES (?, '{}')`, name)
	if err != nil {
		return nil, fmt.Errorf("creating namespace %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetNamespaceByID(id)
}

// EnsureNamespace returns the namespace with the given name, creating it
// when absent.
func (s *Store) EnsureNamespace(name string) (*Namespace, error) {
	ns, err := s.GetNamespace(name)
	if errors.Is(err, ErrNotFound) {
		return s.CreateNamespace(name)
	}
	return ns, err
}

// GetNamespace looks a namespace up by name, including soft-deleted rows.
func (s *Store) GetNamespace(name string) (*Namespace, error) {
	var ns Namespace
	err := s.db.Get(&ns, `SELECT * FROM namespace WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("namespace %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ns, nil
}

// GetNamespaceByID looks a namespace up by id.
func (s *Store) GetNamespaceByID(id int64) (*Namespace, error) {
	var ns Namespace
	err := s.db.Get(&ns, `SELECT * FROM namespace WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("namespace %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ns, nil
}

// ListNamespaces returns namespaces, hiding soft-deleted rows unless asked.
func (s *Store) ListNamespaces(showSoftDeleted bool) ([]Namespace, error) {
	query := `SELECT * FROM namespace`
	if !showSoftDeleted {
		query += ` WHERE deleted_on IS NULL`
	}
	query += ` ORDER BY name`

	var namespaces []Namespace
	if err := s.db.Select(&namespaces, query); err != nil {
		return nil, err
	}
	return namespaces, nil
}

// UpdateNamespaceMetadata replaces the metadata object of a namespace.
func (s *Store) UpdateNamespaceMetadata(name string, metadata JSONMap) error {
	res, err := s.db.Exec(`UPDATE namespace SET metadata = ? WHERE name = ?`, metadata, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("namespace %q: %w", name, ErrNotFound)
	}
	return nil
}

// SoftDeleteNamespace marks the namespace deleted without removing rows.
func (s *Store) SoftDeleteNamespace(name string) error {
	_, err := s.db.Exec(`UPDATE namespace SET deleted_on = ? WHERE name = ?`, time.Now().UTC(), name)
	return err
}

// NamespaceMetric is a per-namespace usage rollup.
type NamespaceMetric struct {
	Namespace        string `db:"namespace"`
	EnvironmentCount int64  `db:"environment_count"`
	BuildCount       int64  `db:"build_count"`
	TotalSize        int64  `db:"total_size"`
}

// NamespaceMetrics rolls up environment count, build count, and on-disk
// size per namespace. Namespaces without builds are omitted.
func (s *Store) NamespaceMetrics() ([]NamespaceMetric, error) {
	var metrics []NamespaceMetric
	err := s.db.Select(&metrics,
		`SELECT n.name AS namespace,
		        COUNT(DISTINCT e.id) AS environment_count,
		        COUNT(DISTINCT b.id) AS build_count,
		        COALESCE(SUM(b.size), 0) AS total_size
		 FROM namespace n
		 JOIN environment e ON e.namespace_id = n.id
		 JOIN build b ON b.environment_id = e.id
		 GROUP BY n.name
		 ORDER BY n.name`)
	if err != nil {
		return nil, err
	}
	return metrics, nil
}

// DeleteNamespace hard-deletes a namespace; owned environments cascade.
func (s *Store) DeleteNamespace(name string) error {
	_, err := s.db.Exec(`DELETE FROM namespace WHERE name = ?`, name)
	return err
}
