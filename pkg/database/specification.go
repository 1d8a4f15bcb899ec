// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// EnsureSpecification deduplicates a canonicalized specification by its
// sha256. The insert is idempotent under concurrent duplicate submissions:
// a conflicting insert falls back to reading the winner's row.
func (s *Store) EnsureSpecification(name, sha256, canonical string, isLockfile bool) (*Specification, error) {
	spec, err := s.GetSpecification(sha256)
	if err == nil {
		return spec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	_, err = s.db.Exec(
		`INSERT INTO specification (name, sha256, spec, is_lockfile)
		 VALUES (?, ?, ?, ?) ON CONFLICT (sha256) DO NOTHING`,
		name, sha256, canonical, isLockfile)
	if err != nil {
		return nil, fmt.Errorf("inserting specification %s: %w", sha256, err)
	}
	return s.GetSpecification(sha256)
}

// GetSpecification looks a specification up by content hash.
func (s *Store) GetSpecification(sha256 string) (*Specification, error) {
	var spec Specification
	err := s.db.Get(&spec, `SELECT * FROM specification WHERE sha256 = ?`, sha256)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("specification %s: %w", sha256, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// GetSpecificationByID looks a specification up by id.
func (s *Store) GetSpecificationByID(id int64) (*Specification, error) {
	var spec Specification
	err := s.db.Get(&spec, `SELECT * FROM specification WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("specification %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// ListSpecifications returns all specifications.
func (s *Store) ListSpecifications() ([]Specification, error) {
	var specs []Specification
	if err := s.db.Select(&specs, `SELECT * FROM specification ORDER BY id`); err != nil {
		return nil, err
	}
	return specs, nil
}

// CreateSolve inserts a solve-only request for a specification.
func (s *Store) CreateSolve(specificationID int64) (*Solve, error) {
	res, err := s.db.Exec(`INSERT INTO solve (specification_id) VALUES (?)`, specificationID)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetSolve(id)
}

// GetSolve looks a solve up by id.
func (s *Store) GetSolve(id int64) (*Solve, error) {
	var solve Solve
	err := s.db.Get(&solve, `SELECT * FROM solve WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("solve %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &solve, nil
}

// SetSolveStarted records the solve start time.
func (s *Store) SetSolveStarted(id int64) error {
	_, err := s.db.Exec(`UPDATE solve SET started_on = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// SetSolveEnded records the solve end time.
func (s *Store) SetSolveEnded(id int64) error {
	_, err := s.db.Exec(`UPDATE solve SET ended_on = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}
