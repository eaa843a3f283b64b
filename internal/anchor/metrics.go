package anchor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamware/sharedorigin/internal/metrics"
)

const namespace = "anchor"

var (
	broadcasts = metrics.NewCounter(
		"broadcasts",
		namespace,
		"number of anchor instructions broadcast by the host",
		[]string{"kind"},
	)
	broadcastReset    = broadcasts.WithLabelValues("reset")
	broadcastLocate   = broadcasts.WithLabelValues("locate")
	broadcastRelocate = broadcasts.WithLabelValues("relocate")
	broadcastOrigin   = broadcasts.WithLabelValues("reset_origin")

	attempts = metrics.NewCounter(
		"locate_attempts",
		namespace,
		"number of locate attempts started",
		[]string{"kind"},
	)
	firstAttempt    = attempts.WithLabelValues("first")
	relocateAttempt = attempts.WithLabelValues("relocate")

	relocateDropped = metrics.NewCounter(
		"relocate_dropped",
		namespace,
		"relocate instructions dropped because a locate attempt was in flight",
		[]string{},
	).WithLabelValues()

	resolutions = metrics.NewCounter(
		"locate_events",
		namespace,
		"locate resolution events by status",
		[]string{"status"},
	)

	backendErrors = metrics.NewCounter(
		"backend_errors",
		namespace,
		"failed backend calls",
		[]string{"op"},
	)
	sessionErrors = backendErrors.WithLabelValues("session")
	createErrors  = backendErrors.WithLabelValues("create")
	watchErrors   = backendErrors.WithLabelValues("watch")
	deleteErrors  = backendErrors.WithLabelValues("delete")

	captureProgress = metrics.NewGauge(
		"capture_progress",
		namespace,
		"environment capture progress reported while creating an anchor",
		[]string{},
	).WithLabelValues()

	createLatency = metrics.NewHistogramWithBuckets(
		"create_seconds",
		namespace,
		"time from CreateAnchor to a saved anchor",
		[]string{},
		prometheus.ExponentialBuckets(0.5, 2, 10),
	).WithLabelValues()
)
