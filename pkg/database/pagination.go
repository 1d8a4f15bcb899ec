// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package database

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// maxCursorSize caps client-supplied cursors; anything larger is rejected
// before decoding.
const maxCursorSize = 4096

// DefaultPageLimit is used when a page request does not set a limit.
const DefaultPageLimit = 100

// InvalidArgumentError reports a malformed paging parameter; the message is
// safe to surface to the client.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid query parameter: %s", e.Reason)
}

func invalidArgument(format string, args ...interface{}) error {
	return &InvalidArgumentError{Reason: fmt.Sprintf(format, args...)}
}

// Cursor carries everything required to seek the next page: the previous
// row's id and ordered attribute values, plus a total-count hint.
type Cursor struct {
	LastID    int64                  `json:"last_id"`
	LastValue map[string]interface{} `json:"last_value"`
	Count     int64                  `json:"count"`
}

// Encode serializes the cursor as base64url(JSON).
func (c *Cursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.URLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a client-supplied cursor. Decoding is strict: the
// payload is size-limited, must be valid base64url(JSON), and must carry
// last_id and last_value. Unknown fields are tolerated.
func DecodeCursor(data string) (*Cursor, error) {
	if data == "" {
		return nil, nil
	}
	if len(data) > maxCursorSize {
		return nil, invalidArgument("cursor exceeds %d bytes", maxCursorSize)
	}

	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return nil, invalidArgument("cursor is not valid base64: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, invalidArgument("cursor is not valid JSON: %v", err)
	}
	if _, ok := fields["last_id"]; !ok {
		return nil, invalidArgument("cursor is missing last_id")
	}
	if _, ok := fields["last_value"]; !ok {
		return nil, invalidArgument("cursor is missing last_value")
	}

	var cursor Cursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return nil, invalidArgument("cursor is malformed: %v", err)
	}
	return &cursor, nil
}

// Ordering maps a client-facing sort name to a queryable column expression
// and an extractor producing the cursor value from a result row.
type Ordering[T any] struct {
	Name   string
	Column string
	Value  func(T) interface{}
}

// PageRequest describes one page of an ordered listing.
type PageRequest struct {
	// SortBy lists requested order names; comma-separated entries are
	// accepted and flattened.
	SortBy []string
	Order  string
	Limit  int
	Cursor *Cursor
}

// paginate runs cursor-based pagination over the filtered query. The query
// must already contain its WHERE clause; paginate appends the seek
// predicate, the ORDER BY tuple with the id tie-breaker, and the limit.
func paginate[T any](
	db *sqlx.DB,
	query string,
	args []interface{},
	id func(T) int64,
	idColumn string,
	orderings []Ordering[T],
	page PageRequest,
) ([]T, *Cursor, error) {
	var comparison, direction string
	switch page.Order {
	case "", "asc":
		comparison, direction = ">", "ASC"
	case "desc":
		comparison, direction = "<", "DESC"
	default:
		return nil, nil, invalidArgument("order = %q; must be one of ['asc', 'desc']", page.Order)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	sortBy := splitSortBy(page.SortBy)
	requested := make([]Ordering[T], 0, len(sortBy))
	for _, name := range sortBy {
		ordering, ok := findOrdering(orderings, name)
		if !ok {
			return nil, nil, invalidArgument("sort_by = %q; must be one of %v", name, orderingNames(orderings))
		}
		requested = append(requested, ordering)
	}

	columns := make([]string, 0, len(requested)+1)
	for _, o := range requested {
		columns = append(columns, o.Column)
	}
	columns = append(columns, idColumn)

	// The grouped form needs a subselect for a correct total count.
	countQuery := "SELECT COUNT(*) FROM (" + query + ")"
	countArgs := args

	if page.Cursor != nil {
		seekArgs := make([]interface{}, 0, len(requested)+1)
		for _, o := range requested {
			value, ok := page.Cursor.LastValue[o.Name]
			if !ok {
				return nil, nil, invalidArgument("cursor is missing value for %q", o.Name)
			}
			seekArgs = append(seekArgs, value)
		}
		seekArgs = append(seekArgs, page.Cursor.LastID)

		// Tuple comparison, not column-wise ANDs: ties on non-id columns
		// are broken by the id element. The predicate extends either the
		// WHERE clause or, for grouped queries, the HAVING clause.
		query += fmt.Sprintf(" AND (%s) %s (%s)",
			strings.Join(columns, ", "), comparison,
			strings.TrimSuffix(strings.Repeat("?, ", len(seekArgs)), ", "))
		args = append(append([]interface{}{}, args...), seekArgs...)
	}

	orderBy := make([]string, 0, len(columns))
	for _, col := range columns {
		orderBy = append(orderBy, col+" "+direction)
	}
	query += " ORDER BY " + strings.Join(orderBy, ", ") + fmt.Sprintf(" LIMIT %d", limit)

	var rows []T
	if err := db.Select(&rows, query, args...); err != nil {
		return nil, nil, fmt.Errorf("paginating: %w", err)
	}
	if len(rows) == 0 {
		return rows, nil, nil
	}

	var count int64
	if err := db.Get(&count, countQuery, countArgs...); err != nil {
		return nil, nil, fmt.Errorf("counting page total: %w", err)
	}

	last := rows[len(rows)-1]
	lastValue := make(map[string]interface{}, len(requested))
	for _, o := range requested {
		lastValue[o.Name] = o.Value(last)
	}

	return rows, &Cursor{LastID: id(last), LastValue: lastValue, Count: count}, nil
}

// splitSortBy flattens comma-separated sort_by entries.
func splitSortBy(sortBy []string) []string {
	var out []string
	for _, entry := range sortBy {
		for _, name := range strings.Split(entry, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

func findOrdering[T any](orderings []Ordering[T], name string) (Ordering[T], bool) {
	for _, o := range orderings {
		if o.Name == name {
			return o, true
		}
	}
	return Ordering[T]{}, false
}

func orderingNames[T any](orderings []Ordering[T]) []string {
	names := make([]string, 0, len(orderings))
	for _, o := range orderings {
		names = append(names, o.Name)
	}
	return names
}
