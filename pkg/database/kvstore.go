// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package database

// GetKeyValues returns all settings stored under a prefix as a key to raw
// JSON value map.
func (s *Store) GetKeyValues(prefix string) (map[string]string, error) {
	var rows []KeyValue
	err := s.db.Select(&rows,
		`SELECT * FROM keyvaluestore WHERE prefix = ? ORDER BY key`, prefix)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return values, nil
}

// SetKeyValues writes settings under a prefix, overwriting existing keys.
func (s *Store) SetKeyValues(prefix string, values map[string]string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, value := range values {
		_, err := tx.Exec(
			`INSERT INTO keyvaluestore (prefix, key, value) VALUES (?, ?, ?)
			 ON CONFLICT (prefix, key) DO UPDATE SET value = excluded.value`,
			prefix, key, value)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteKeyValues removes all settings stored under a prefix.
func (s *Store) DeleteKeyValues(prefix string) error {
	_, err := s.db.Exec(`DELETE FROM keyvaluestore WHERE prefix = ?`, prefix)
	return err
}
