// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package database

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEnvironments(t *testing.T, s *Store, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		seedEnvironment(t, s, "default", fmt.Sprintf("env-%02d", i))
	}
}

func TestListEnvironmentsPagination(t *testing.T) {
	s := newTestStore(t)
	seedEnvironments(t, s, 25)

	page := PageRequest{SortBy: []string{"name"}, Limit: 10}

	first, cursor, err := s.ListEnvironments(EnvironmentFilter{}, page)
	require.NoError(t, err)
	require.Len(t, first, 10)
	require.NotNil(t, cursor)
	assert.Equal(t, "env-00", first[0].Name)
	assert.Equal(t, "env-09", first[9].Name)
	assert.Equal(t, int64(25), cursor.Count)

	page.Cursor = cursor
	second, cursor, err := s.ListEnvironments(EnvironmentFilter{}, page)
	require.NoError(t, err)
	require.Len(t, second, 10)
	require.NotNil(t, cursor)
	assert.Equal(t, "env-10", second[0].Name)
	assert.Equal(t, "env-19", second[9].Name)

	page.Cursor = cursor
	third, cursor, err := s.ListEnvironments(EnvironmentFilter{}, page)
	require.NoError(t, err)
	require.Len(t, third, 5)
	require.NotNil(t, cursor)
	assert.Equal(t, "env-20", third[0].Name)
	assert.Equal(t, "env-24", third[4].Name)

	page.Cursor = cursor
	fourth, cursor, err := s.ListEnvironments(EnvironmentFilter{}, page)
	require.NoError(t, err)
	assert.Empty(t, fourth)
	assert.Nil(t, cursor)
}

func TestListEnvironmentsPaginationDescending(t *testing.T) {
	s := newTestStore(t)
	seedEnvironments(t, s, 5)

	page := PageRequest{SortBy: []string{"name"}, Order: "desc", Limit: 3}
	first, cursor, err := s.ListEnvironments(EnvironmentFilter{}, page)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "env-04", first[0].Name)

	page.Cursor = cursor
	second, _, err := s.ListEnvironments(EnvironmentFilter{}, page)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "env-01", second[0].Name)
	assert.Equal(t, "env-00", second[1].Name)
}

func TestListEnvironmentsPaginationTieBreaker(t *testing.T) {
	// Same environment name across namespaces: the id element of the sort
	// tuple keeps the traversal total.
	s := newTestStore(t)
	for _, ns := range []string{"ns-a", "ns-b", "ns-c", "ns-d"} {
		seedEnvironment(t, s, ns, "shared")
	}

	page := PageRequest{SortBy: []string{"name"}, Limit: 3}
	first, cursor, err := s.ListEnvironments(EnvironmentFilter{}, page)
	require.NoError(t, err)
	require.Len(t, first, 3)

	page.Cursor = cursor
	second, _, err := s.ListEnvironments(EnvironmentFilter{}, page)
	require.NoError(t, err)
	require.Len(t, second, 1)

	seen := map[int64]bool{}
	for _, env := range append(first, second...) {
		assert.False(t, seen[env.ID])
		seen[env.ID] = true
	}
}

func TestListEnvironmentsRejectsUnknownSort(t *testing.T) {
	s := newTestStore(t)
	seedEnvironments(t, s, 1)

	_, _, err := s.ListEnvironments(EnvironmentFilter{}, PageRequest{SortBy: []string{"nope"}})
	var invalid *InvalidArgumentError
	assert.ErrorAs(t, err, &invalid)

	_, _, err = s.ListEnvironments(EnvironmentFilter{}, PageRequest{Order: "sideways"})
	assert.ErrorAs(t, err, &invalid)
}

func TestCursorEncodeDecode(t *testing.T) {
	cursor := &Cursor{LastID: 42, LastValue: map[string]interface{}{"name": "env-09"}, Count: 25}

	decoded, err := DecodeCursor(cursor.Encode())
	require.NoError(t, err)
	assert.Equal(t, cursor.LastID, decoded.LastID)
	assert.Equal(t, "env-09", decoded.LastValue["name"])
	assert.Equal(t, cursor.Count, decoded.Count)
}

func TestDecodeCursorStrict(t *testing.T) {
	var invalid *InvalidArgumentError

	empty, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = DecodeCursor("!!not-base64!!")
	assert.ErrorAs(t, err, &invalid)

	_, err = DecodeCursor(base64.URLEncoding.EncodeToString([]byte("not json")))
	assert.ErrorAs(t, err, &invalid)

	_, err = DecodeCursor(base64.URLEncoding.EncodeToString([]byte(`{"last_id": 1}`)))
	assert.ErrorAs(t, err, &invalid)

	_, err = DecodeCursor(base64.URLEncoding.EncodeToString([]byte(`{"last_value": {}}`)))
	assert.ErrorAs(t, err, &invalid)

	_, err = DecodeCursor(strings.Repeat("A", maxCursorSize+1))
	assert.ErrorAs(t, err, &invalid)
}

func TestSplitSortBy(t *testing.T) {
	assert.Equal(t, []string{"namespace", "name"}, splitSortBy([]string{"namespace,name"}))
	assert.Equal(t, []string{"name"}, splitSortBy([]string{" name "}))
	assert.Nil(t, splitSortBy([]string{"", ","}))
}
