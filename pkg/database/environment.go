// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/conda-store/conda-store-server/pkg/schema"
)

const environmentColumns = `
	e.id, e.namespace_id, e.name, e.description, e.current_build_id,
	e.specification_id, e.deleted_on,
	n.id AS "namespace.id", n.name AS "namespace.name",
	n.metadata AS "namespace.metadata", n.deleted_on AS "namespace.deleted_on"`

// CreateEnvironment inserts an environment in the given namespace.
func (s *Store) CreateEnvironment(namespaceID int64, name, description string) (*Environment, error) {
	res, err := s.db.Exec(
		`INSERT INTO environment (namespace_id, name, description) VALUES (?, ?, ?)`,
		namespaceID, name, description)
	if err != nil {
		return nil, fmt.Errorf("creating environment %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetEnvironmentByID(id)
}

// EnsureEnvironment returns the environment, creating it when absent and
// refreshing its description otherwise.
func (s *Store) EnsureEnvironment(namespaceID int64, name, description string) (*Environment, error) {
	env, err := s.GetEnvironment(namespaceID, name)
	if errors.Is(err, ErrNotFound) {
		return s.CreateEnvironment(namespaceID, name, description)
	}
	if err != nil {
		return nil, err
	}
	if description != "" && description != env.Description {
		if _, err := s.db.Exec(`UPDATE environment SET description = ? WHERE id = ?`, description, env.ID); err != nil {
			return nil, err
		}
		env.Description = description
	}
	return env, nil
}

// GetEnvironment looks an environment up by (namespace id, name).
func (s *Store) GetEnvironment(namespaceID int64, name string) (*Environment, error) {
	var env Environment
	err := s.db.Get(&env, `SELECT `+environmentColumns+`
		FROM environment e JOIN namespace n ON n.id = e.namespace_id
		WHERE e.namespace_id = ? AND e.name = ?`, namespaceID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("environment %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// GetEnvironmentByID looks an environment up by id.
func (s *Store) GetEnvironmentByID(id int64) (*Environment, error) {
	var env Environment
	err := s.db.Get(&env, `SELECT `+environmentColumns+`
		FROM environment e JOIN namespace n ON n.id = e.namespace_id
		WHERE e.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("environment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// SetEnvironmentCurrentBuild points the environment at a completed build
// and aligns its specification with the build's.
func (s *Store) SetEnvironmentCurrentBuild(environmentID, buildID, specificationID int64) error {
	_, err := s.db.Exec(
		`UPDATE environment SET current_build_id = ?, specification_id = ? WHERE id = ?`,
		buildID, specificationID, environmentID)
	return err
}

// SoftDeleteEnvironment marks the environment deleted.
func (s *Store) SoftDeleteEnvironment(id int64) error {
	_, err := s.db.Exec(`UPDATE environment SET deleted_on = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// DeleteEnvironment hard-deletes an environment row. Builds are kept for
// history; their artifacts are removed by the deletion task beforehand.
func (s *Store) DeleteEnvironment(id int64) error {
	_, err := s.db.Exec(`DELETE FROM environment WHERE id = ?`, id)
	return err
}

// EnvironmentFilter narrows ListEnvironments.
type EnvironmentFilter struct {
	Namespace       string
	Name            string
	Search          string
	Status          schema.BuildStatus
	Artifact        schema.BuildArtifactType
	Packages        []string
	ShowSoftDeleted bool

	// RoleBindings, when non-nil, restricts results to environments the
	// bindings grant visibility on. Empty bindings expose nothing.
	RoleBindings schema.RoleBindings
}

// environmentOrderings declares the sort keys accepted by ListEnvironments.
var environmentOrderings = []Ordering[Environment]{
	{Name: "namespace", Column: "n.name", Value: func(e Environment) interface{} { return e.Namespace.Name }},
	{Name: "name", Column: "e.name", Value: func(e Environment) interface{} { return e.Name }},
}

// ListEnvironments returns a page of environments matching the filter,
// ordered per the page request, together with the cursor for the next page.
func (s *Store) ListEnvironments(filter EnvironmentFilter, page PageRequest) ([]Environment, *Cursor, error) {
	query := `SELECT ` + environmentColumns + `
		FROM environment e JOIN namespace n ON n.id = e.namespace_id`
	where := []string{"1 = 1"}
	var args []interface{}

	if filter.Status != "" || filter.Artifact != "" || len(filter.Packages) > 0 {
		query += ` JOIN build b ON b.id = e.current_build_id`
	}
	if filter.Artifact != "" {
		query += ` JOIN build_artifact ba ON ba.build_id = b.id`
		where = append(where, "ba.artifact_type = ?")
		args = append(args, filter.Artifact)
	}
	if len(filter.Packages) > 0 {
		query += ` JOIN build_conda_package_build bcpb ON bcpb.build_id = b.id
			JOIN conda_package_build cpb ON cpb.id = bcpb.conda_package_build_id
			JOIN conda_package cp ON cp.id = cpb.package_id`
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Packages)), ",")
		where = append(where, "cp.name IN ("+placeholders+")")
		for _, p := range filter.Packages {
			args = append(args, p)
		}
	}
	if filter.Status != "" {
		where = append(where, "b.status = ?")
		args = append(args, filter.Status)
	}
	if filter.Namespace != "" {
		where = append(where, "n.name = ?")
		args = append(args, filter.Namespace)
	}
	if filter.Name != "" {
		where = append(where, "e.name = ?")
		args = append(args, filter.Name)
	}
	if filter.Search != "" {
		where = append(where, "(n.name LIKE ? ESCAPE '\\' OR e.name LIKE ? ESCAPE '\\')")
		pattern := "%" + escapeLike(filter.Search) + "%"
		args = append(args, pattern, pattern)
	}
	if !filter.ShowSoftDeleted {
		where = append(where, "e.deleted_on IS NULL")
	}
	if filter.RoleBindings != nil {
		predicate, predicateArgs, err := roleBindingsPredicate(filter.RoleBindings)
		if err != nil {
			return nil, nil, err
		}
		where = append(where, predicate)
		args = append(args, predicateArgs...)
	}

	query += ` WHERE ` + strings.Join(where, " AND ")
	if len(filter.Packages) > 0 {
		query += fmt.Sprintf(
			` GROUP BY e.id HAVING COUNT(DISTINCT cp.name) = %d`, len(filter.Packages))
	}

	return paginate(s.db, query, args,
		func(e Environment) int64 { return e.ID }, "e.id",
		environmentOrderings, page)
}

// roleBindingsPredicate compiles role bindings into a SQL predicate over
// the joined (environment, namespace) rows. Any binding grants visibility;
// role values are enforced by the caller.
func roleBindingsPredicate(bindings schema.RoleBindings) (string, []interface{}, error) {
	if len(bindings) == 0 {
		return "1 = 0", nil, nil
	}

	// Deterministic clause order keeps queries stable across calls.
	arns := make([]string, 0, len(bindings))
	for arn := range bindings {
		arns = append(arns, arn)
	}
	sort.Strings(arns)

	clauses := make([]string, 0, len(arns))
	var args []interface{}
	for _, arn := range arns {
		namespace, environment, err := schema.CompileArnSQLLike(arn)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "(n.name LIKE ? AND e.name LIKE ?)")
		args = append(args, namespace, environment)
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}

// escapeLike escapes SQL LIKE metacharacters in a user-supplied search term.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
