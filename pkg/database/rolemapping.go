// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package database

import (
	"fmt"

	"github.com/conda-store/conda-store-server/pkg/schema"
)

// validRole normalizes a role name and rejects anything outside the known
// set. Legacy "editor" is accepted and stored as "developer".
func validRole(role string) (string, error) {
	role = schema.NormalizeRole(role)
	switch role {
	case "admin", "developer", "viewer":
		return role, nil
	}
	return "", fmt.Errorf("invalid role %q: must be one of [admin, developer, viewer]", role)
}

// CreateNamespaceRoleMapping grants a role to an entity glob inside a
// namespace (v1 API). The entity must be a valid namespace/name pattern.
func (s *Store) CreateNamespaceRoleMapping(namespaceID int64, entity, role string) (*NamespaceRoleMapping, error) {
	if _, _, err := schema.CompileArnSQLLike(entity); err != nil {
		return nil, err
	}
	role, err := validRole(role)
	if err != nil {
		return nil, err
	}

	res, err := s.db.Exec(
		`INSERT INTO namespace_role_mapping (namespace_id, entity, role) VALUES (?, ?, ?)`,
		namespaceID, entity, role)
	if err != nil {
		return nil, fmt.Errorf("creating role mapping %q: %w", entity, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	var mapping NamespaceRoleMapping
	if err := s.db.Get(&mapping, `SELECT * FROM namespace_role_mapping WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// ListNamespaceRoleMappings returns the v1 role mappings of a namespace.
func (s *Store) ListNamespaceRoleMappings(namespaceID int64) ([]NamespaceRoleMapping, error) {
	var mappings []NamespaceRoleMapping
	err := s.db.Select(&mappings,
		`SELECT * FROM namespace_role_mapping WHERE namespace_id = ? ORDER BY id`, namespaceID)
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

// DeleteNamespaceRoleMapping removes a v1 role mapping by id.
func (s *Store) DeleteNamespaceRoleMapping(id int64) error {
	res, err := s.db.Exec(`DELETE FROM namespace_role_mapping WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("role mapping %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetNamespaceRole grants otherNamespace a role on namespace (v2 API). An
// existing grant for the pair is replaced.
func (s *Store) SetNamespaceRole(namespace, otherNamespace, role string) error {
	role, err := validRole(role)
	if err != nil {
		return err
	}
	ns, err := s.GetNamespace(namespace)
	if err != nil {
		return err
	}
	other, err := s.GetNamespace(otherNamespace)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO namespace_role_mapping_v2 (namespace_id, other_namespace_id, role)
		 VALUES (?, ?, ?)
		 ON CONFLICT (namespace_id, other_namespace_id) DO UPDATE SET role = excluded.role`,
		ns.ID, other.ID, role)
	return err
}

// NamespaceRole is a resolved v2 grant with namespace names attached.
type NamespaceRole struct {
	ID             int64  `db:"id"`
	Namespace      string `db:"namespace"`
	OtherNamespace string `db:"other_namespace"`
	Role           string `db:"role"`
}

// GetNamespaceRoles returns all v2 roles granted on a namespace.
func (s *Store) GetNamespaceRoles(namespace string) ([]NamespaceRole, error) {
	var roles []NamespaceRole
	err := s.db.Select(&roles,
		`SELECT m.id, n.name AS namespace, o.name AS other_namespace, m.role
		 FROM namespace_role_mapping_v2 m
		 JOIN namespace n ON n.id = m.namespace_id
		 JOIN namespace o ON o.id = m.other_namespace_id
		 WHERE n.name = ? ORDER BY o.name`, namespace)
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// GetOtherNamespaceRoles returns the v2 roles a namespace holds on others.
func (s *Store) GetOtherNamespaceRoles(otherNamespace string) ([]NamespaceRole, error) {
	var roles []NamespaceRole
	err := s.db.Select(&roles,
		`SELECT m.id, n.name AS namespace, o.name AS other_namespace, m.role
		 FROM namespace_role_mapping_v2 m
		 JOIN namespace n ON n.id = m.namespace_id
		 JOIN namespace o ON o.id = m.other_namespace_id
		 WHERE o.name = ? ORDER BY n.name`, otherNamespace)
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// DeleteNamespaceRole revokes the v2 role otherNamespace holds on namespace.
func (s *Store) DeleteNamespaceRole(namespace, otherNamespace string) error {
	res, err := s.db.Exec(
		`DELETE FROM namespace_role_mapping_v2
		 WHERE namespace_id = (SELECT id FROM namespace WHERE name = ?)
		   AND other_namespace_id = (SELECT id FROM namespace WHERE name = ?)`,
		namespace, otherNamespace)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("role mapping %s -> %s: %w", namespace, otherNamespace, ErrNotFound)
	}
	return nil
}
