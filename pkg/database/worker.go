// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package database

// EnsureWorkerInitialized records that a worker process has come up and
// finished its first-run setup. The row doubles as a liveness marker for
// deployments that cannot reach the broker.
func (s *Store) EnsureWorkerInitialized() error {
	var count int64
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM worker WHERE initialized`); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := s.db.Exec(`INSERT INTO worker (initialized) VALUES (TRUE)`)
	return err
}

// WorkerInitialized reports whether any worker has completed startup.
func (s *Store) WorkerInitialized() (bool, error) {
	var count int64
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM worker WHERE initialized`); err != nil {
		return false, err
	}
	return count > 0, nil
}
