// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

// Package metrics exposes Prometheus instrumentation for the tracking core:
// report throughput, zone transitions, risk tiers, alert dispatch outcomes
// and evaluation latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReportsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geosentry_reports_processed_total",
			Help: "Total number of location reports accepted and evaluated",
		},
	)

	ReportsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geosentry_reports_rejected_total",
			Help: "Total number of location reports rejected before evaluation",
		},
		[]string{"reason"}, // "invalid_fix", "invalid_report"
	)

	ZoneEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geosentry_zone_events_total",
			Help: "Total number of geofence containment transitions",
		},
		[]string{"type"}, // "entry", "exit"
	)

	RiskAssessments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geosentry_risk_assessments_total",
			Help: "Total number of risk assessments by resulting tier",
		},
		[]string{"tier"},
	)

	AlertsAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geosentry_alerts_admitted_total",
			Help: "Total number of notifications admitted for delivery",
		},
		[]string{"category"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geosentry_alerts_suppressed_total",
			Help: "Total number of notifications dropped by the dispatcher",
		},
		[]string{"reason"}, // "duplicate", "rate_limited"
	)

	LockCommands = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geosentry_lock_commands_total",
			Help: "Total number of remote lock commands issued",
		},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geosentry_evaluation_duration_seconds",
			Help:    "End-to-end duration of one location report evaluation",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)

	TrackedDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geosentry_tracked_devices",
			Help: "Current number of devices with buffered location history",
		},
	)
)

// ObserveEvaluation records one evaluation's wall time.
func ObserveEvaluation(start time.Time) {
	EvaluationDuration.Observe(time.Since(start).Seconds())
}
