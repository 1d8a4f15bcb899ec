// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conda-store/conda-store-server/pkg/schema"
)

func environmentNames(envs []Environment) []string {
	names := make([]string, 0, len(envs))
	for _, env := range envs {
		names = append(names, env.Namespace.Name+"/"+env.Name)
	}
	return names
}

func TestListEnvironmentsRoleBindings(t *testing.T) {
	s := newTestStore(t)
	seedEnvironment(t, s, "default", "web")
	seedEnvironment(t, s, "default", "data")
	seedEnvironment(t, s, "team-a", "web")
	seedEnvironment(t, s, "team-b", "ml")

	page := PageRequest{SortBy: []string{"namespace", "name"}}

	// A namespace glob exposes everything in that namespace.
	envs, _, err := s.ListEnvironments(EnvironmentFilter{
		RoleBindings: schema.RoleBindings{"default/*": {"viewer"}},
	}, page)
	require.NoError(t, err)
	assert.Equal(t, []string{"default/data", "default/web"}, environmentNames(envs))

	// Multiple bindings union their matches.
	envs, _, err = s.ListEnvironments(EnvironmentFilter{
		RoleBindings: schema.RoleBindings{
			"default/web": {"viewer"},
			"team-*/*":    {"developer"},
		},
	}, page)
	require.NoError(t, err)
	assert.Equal(t, []string{"default/web", "team-a/web", "team-b/ml"}, environmentNames(envs))

	// Empty bindings expose nothing.
	envs, _, err = s.ListEnvironments(EnvironmentFilter{
		RoleBindings: schema.RoleBindings{},
	}, page)
	require.NoError(t, err)
	assert.Empty(t, envs)

	// Nil bindings apply no restriction.
	envs, _, err = s.ListEnvironments(EnvironmentFilter{}, page)
	require.NoError(t, err)
	assert.Len(t, envs, 4)
}

func TestListEnvironmentsSearch(t *testing.T) {
	s := newTestStore(t)
	seedEnvironment(t, s, "default", "data-science")
	seedEnvironment(t, s, "default", "web")
	seedEnvironment(t, s, "datalake", "etl")

	envs, _, err := s.ListEnvironments(EnvironmentFilter{Search: "data"}, PageRequest{SortBy: []string{"name"}})
	require.NoError(t, err)
	assert.Len(t, envs, 2)

	// LIKE metacharacters in the search term are literals.
	envs, _, err = s.ListEnvironments(EnvironmentFilter{Search: "%"}, PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestListEnvironmentsByStatus(t *testing.T) {
	s := newTestStore(t)
	env := seedEnvironment(t, s, "default", "ready")
	seedEnvironment(t, s, "default", "pending")
	spec := seedSpecification(t, s, "ready")

	build, err := s.CreateBuild(env.ID, spec.ID)
	require.NoError(t, err)
	require.NoError(t, s.SetBuildCompleted(build.ID, "/prefix/ready"))

	envs, _, err := s.ListEnvironments(EnvironmentFilter{Status: schema.BuildCompleted}, PageRequest{})
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "ready", envs[0].Name)
}

func TestSoftDeleteEnvironmentHidesFromListing(t *testing.T) {
	s := newTestStore(t)
	env := seedEnvironment(t, s, "default", "doomed")
	seedEnvironment(t, s, "default", "kept")

	require.NoError(t, s.SoftDeleteEnvironment(env.ID))

	envs, _, err := s.ListEnvironments(EnvironmentFilter{}, PageRequest{})
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "kept", envs[0].Name)

	all, _, err := s.ListEnvironments(EnvironmentFilter{ShowSoftDeleted: true}, PageRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEnsureEnvironmentRefreshesDescription(t *testing.T) {
	s := newTestStore(t)
	ns, err := s.EnsureNamespace("default")
	require.NoError(t, err)

	env, err := s.EnsureEnvironment(ns.ID, "test", "first")
	require.NoError(t, err)
	assert.Equal(t, "first", env.Description)

	again, err := s.EnsureEnvironment(ns.ID, "test", "second")
	require.NoError(t, err)
	assert.Equal(t, env.ID, again.ID)
	assert.Equal(t, "second", again.Description)
}

func TestCreateNamespaceRejectsInvalidName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateNamespace("bad name")
	assert.Error(t, err)
}
