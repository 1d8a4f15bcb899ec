// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package database is the typed data access layer of conda-store. It wraps
// a sqlx handle over the relational metadata store and exposes a query
// facade for namespaces, environments, specifications, builds, artifacts,
// solves, indexed conda packages, role mappings, and the key-value store.
package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned by Get* methods when no row matches.
var ErrNotFound = errors.New("not found")

// Store is the query facade over the metadata database.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database identified by url and applies pending
// migrations. The url is a driver DSN, e.g. "file:conda-store.db" or
// ":memory:" for tests.
func Open(url string) (*Store, error) {
	db, err := sqlx.Open("sqlite", url)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", url, err)
	}

	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// between the api server session and worker sessions in tests.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for migrations tooling.
func (s *Store) DB() *sqlx.DB {
	return s.db
}
