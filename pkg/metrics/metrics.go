// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package metrics exposes Prometheus instrumentation for the build
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BuildTransitions counts build state transitions by resulting status.
	BuildTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conda_store",
		Name:      "build_transitions_total",
		Help:      "Build state transitions by resulting status.",
	}, []string{"status"})

	// ArtifactBytes tracks artifact payload sizes written to storage.
	ArtifactBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conda_store",
		Name:      "artifact_bytes_total",
		Help:      "Bytes written to artifact storage by artifact type.",
	}, []string{"artifact_type"})

	// TasksProcessed counts worker task executions by task name and outcome.
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conda_store",
		Name:      "tasks_processed_total",
		Help:      "Worker task executions by task name and outcome.",
	}, []string{"task", "outcome"})

	// QueuedBuilds reports the current queue depth observed by the worker.
	QueuedBuilds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "conda_store",
		Name:      "queued_builds",
		Help:      "Builds currently waiting in the broker queue.",
	})
)
